package crawler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter はドメインごとのレートリミッターとアクセス時刻を保持する。
type hostLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// LimiterRegistry はドメインごとの送信レート制限を管理する。
// burstは1に固定しており、同一ドメインへのリクエストは
// 最低 1/rate 秒の間隔が保証される。
// Waitはロックを保持せずにブロックするため、あるドメインの待機が
// 他のドメインのリクエストを妨げることはない。
type LimiterRegistry struct {
	requestsPerSec float64

	mu       sync.RWMutex
	limiters map[string]*hostLimiter

	stopCh    chan struct{}
	closeOnce sync.Once
}

// cleanupTTL は未使用リミッターエントリを破棄するまでの時間。
const cleanupTTL = 30 * time.Minute

// NewLimiterRegistry は新しいLimiterRegistryを生成する。
// requestsPerSecが0以下の場合は1を使用する。
// バックグラウンドで未使用エントリのクリーンアップを開始する。
func NewLimiterRegistry(requestsPerSec float64) *LimiterRegistry {
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}
	r := &LimiterRegistry{
		requestsPerSec: requestsPerSec,
		limiters:       make(map[string]*hostLimiter),
		stopCh:         make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (r *LimiterRegistry) Stop() {
	r.closeOnce.Do(func() { close(r.stopCh) })
}

// Wait は指定URLのドメインのレート制限に従ってブロックする。
// コンテキストがキャンセルされた場合は即座にエラーを返す。
func (r *LimiterRegistry) Wait(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("レート制限対象URLのパースに失敗しました: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("レート制限対象URLにホストがありません: %s", rawURL)
	}

	limiter := r.getOrCreate(host)

	// ここでのブロック中はmapロックを保持しない
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("レート制限の待機が中断されました: %w", err)
	}
	return nil
}

// Size は現在管理されているリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (r *LimiterRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// getOrCreate はドメインのリミッターを取得または作成する。
func (r *LimiterRegistry) getOrCreate(host string) *rate.Limiter {
	r.mu.RLock()
	hl, exists := r.limiters[host]
	r.mu.RUnlock()

	if exists {
		r.mu.Lock()
		hl.lastAccess = time.Now()
		r.mu.Unlock()
		return hl.limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// ダブルチェック
	if hl, exists := r.limiters[host]; exists {
		hl.lastAccess = time.Now()
		return hl.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(r.requestsPerSec), 1)
	r.limiters[host] = &hostLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで未使用エントリを定期的にクリーンアップする。
func (r *LimiterRegistry) cleanupLoop() {
	ticker := time.NewTicker(cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからcleanupTTLを超えたエントリを削除する。
func (r *LimiterRegistry) cleanup() {
	now := time.Now()

	r.mu.Lock()
	for host, hl := range r.limiters {
		if now.Sub(hl.lastAccess) > cleanupTTL {
			delete(r.limiters, host)
		}
	}
	r.mu.Unlock()
}
