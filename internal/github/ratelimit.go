package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/cookfed/internal/metrics"
)

// minQuotaFloor は閾値計算の下限。レート上限がどれほど小さくても
// 最低この分は残量を確保する。
const minQuotaFloor = 5

// QuotaLimiter はGitHub APIのレートリミット残量を追跡し、
// 枯渇しそうな場合はリセット時刻まで待機する。
// レスポンスヘッダからの状態更新と待機判定は排他制御する。
type QuotaLimiter struct {
	mu        sync.RWMutex
	limit     int
	remaining int
	resetAt   time.Time

	buffer    int
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewQuotaLimiter は残量バッファ付きのリミッターを生成する。
// collectorがnilの場合は計測しない。
func NewQuotaLimiter(buffer int, collector metrics.MetricsCollector, logger *slog.Logger) *QuotaLimiter {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &QuotaLimiter{
		buffer:    buffer,
		collector: collector,
		logger:    logger,
	}
}

// UpdateFromHeaders はGitHub APIレスポンスのレートリミットヘッダで内部状態を更新する。
// ヘッダが欠けている場合は該当フィールドを変更しない。
func (q *QuotaLimiter) UpdateFromHeaders(h http.Header) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if v := h.Get("x-ratelimit-limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.limit = n
		}
	}
	if v := h.Get("x-ratelimit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.remaining = n
			q.collector.SetGitHubQuotaRemaining(n)
		}
	}
	if v := h.Get("x-ratelimit-reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			q.resetAt = time.Unix(sec, 0)
		}
	}
}

// threshold は待機に入る残量の閾値を返す。
// min(buffer, max(limit/10, 5)) とし、上限の1割を基本としつつ
// 設定バッファを超えない。呼び出し側でロックを握っていること。
func (q *QuotaLimiter) threshold() int {
	t := q.limit / 10
	if t < minQuotaFloor {
		t = minQuotaFloor
	}
	if q.buffer < t {
		t = q.buffer
	}
	return t
}

// WaitIfNeeded は残量が閾値以下の場合、リセット時刻まで待機する。
// コンテキストがキャンセルされた場合はその理由を返す。
// まだ一度もヘッダを観測していない場合(limit==0)は待機しない。
func (q *QuotaLimiter) WaitIfNeeded(ctx context.Context) error {
	q.mu.RLock()
	limit := q.limit
	remaining := q.remaining
	resetAt := q.resetAt
	threshold := q.threshold()
	q.mu.RUnlock()

	if limit == 0 || remaining > threshold {
		return nil
	}

	wait := time.Until(resetAt) + time.Second
	if wait <= 0 {
		return nil
	}

	q.logger.Warn("GitHub APIのレートリミット残量が閾値を下回ったため待機します",
		"remaining", remaining,
		"threshold", threshold,
		"reset_at", resetAt,
		"wait", wait.String(),
	)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("レートリミット待機中にキャンセルされました: %w", ctx.Err())
	case <-timer.C:
	}

	// リセット後は残量が回復したものとして扱う
	q.mu.Lock()
	if !q.resetAt.After(time.Now()) {
		q.remaining = q.limit
	}
	q.mu.Unlock()
	return nil
}

// Snapshot は現在のリミット状態を返す。主にテストと診断用。
func (q *QuotaLimiter) Snapshot() (limit, remaining int, resetAt time.Time) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.limit, q.remaining, q.resetAt
}
