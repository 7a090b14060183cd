package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/cookfed/internal/metrics"
	"github.com/hitoshi/cookfed/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// RateWaiter はドメイン別レート制限の待機インターフェース。
type RateWaiter interface {
	Wait(ctx context.Context, rawURL string) error
}

const (
	// maxAttempts は一時障害に対する最大試行回数（初回含む）。
	maxAttempts = 3
	// initialRetryDelay はリトライの初回遅延。試行ごとに2倍になる。
	initialRetryDelay = 1 * time.Second
)

// allowedContentTypes はフィードとして期待するContent-Type。
// 一致しない場合も処理は継続し、警告ログのみ出力する
// （Content-Typeの設定ミスが多いサイトの実態に合わせる）。
var allowedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/xml",
	"text/xml",
	"text/plain",
	"text/html",
}

// FetchRequest は1回のHTTPフェッチの入力。
// ETag/LastModifiedが設定されている場合は条件付きGETを行う。
// MaxSizeが正の場合、フェッチャーの既定上限の代わりに適用される
// （フィード本体とレシピ本文で上限が異なるため）。
type FetchRequest struct {
	URL          string
	ETag         string
	LastModified *time.Time
	Accept       string
	MaxSize      int64
}

// FetchResult は1回のHTTPフェッチの結果。
// NotModifiedがtrueの場合、Bodyは空でキャッシュトークンも更新されない。
type FetchResult struct {
	NotModified  bool
	Body         []byte
	ETag         string
	LastModified *time.Time
	ContentType  string
	StatusCode   int
}

// Fetcher は条件付きGET・リトライ・サイズ上限・レート制限を備えた
// HTTPフェッチャー。フィード本体とレシピマークアップの両方の取得に使用する。
type Fetcher struct {
	client    *http.Client
	ssrfGuard SSRFValidator
	limiter   RateWaiter
	collector metrics.MetricsCollector
	logger    *slog.Logger
	userAgent string
	maxSize   int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// HTTPクライアントはssrfGuardが生成するSSRF防止付きクライアントを使用する。
func NewFetcher(
	ssrfGuard SSRFValidator,
	limiter RateWaiter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	userAgent string,
	maxSize int64,
) *Fetcher {
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Fetcher{
		client:    ssrfGuard.NewSafeClient(timeout),
		ssrfGuard: ssrfGuard,
		limiter:   limiter,
		collector: collector,
		logger:    logger,
		userAgent: userAgent,
		maxSize:   maxSize,
	}
}

// Fetch はURLをフェッチする。
// 一時障害（ネットワークエラー、429、5xx）は最大maxAttempts回まで
// 1秒から始まる指数バックオフでリトライする。
// 304はNotModified=trueの結果として正常に返す。
// その他の4xxはリトライせずに分類付きエラーを返す。
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if err := f.ssrfGuard.ValidateURL(req.URL); err != nil {
		return nil, model.WrapError(model.ErrKindValidation, "URL検証に失敗", err)
	}

	var lastErr error
	delay := initialRetryDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			f.logger.Warn("フェッチをリトライします",
				slog.String("url", req.URL),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, model.WrapError(model.ErrKindTransient, "リトライ待機が中断されました", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		result, err := f.fetchOnce(ctx, req)
		if err == nil {
			return result, nil
		}
		if !model.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, model.WrapError(model.ErrKindTransient,
		fmt.Sprintf("%d回の試行がすべて失敗しました", maxAttempts), lastErr)
}

// fetchOnce は1回のHTTPリクエストを実行する。
func (f *Fetcher) fetchOnce(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	// 同一ドメインへの送信間隔を保証する
	if err := f.limiter.Wait(ctx, req.URL); err != nil {
		return nil, model.WrapError(model.ErrKindTransient, "レート制限待機に失敗", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, model.WrapError(model.ErrKindValidation, "リクエスト作成に失敗", err)
	}

	httpReq.Header.Set("User-Agent", f.userAgent)
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != nil {
		httpReq.Header.Set("If-Modified-Since", req.LastModified.UTC().Format(http.TimeFormat))
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, model.WrapError(model.ErrKindTransient, "HTTPリクエスト失敗", err)
	}
	defer resp.Body.Close()

	f.collector.RecordFetchLatency(time.Since(start))
	f.collector.RecordHTTPStatus(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &FetchResult{NotModified: true, StatusCode: resp.StatusCode}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// リトライ前にボディを読み捨ててコネクションを再利用可能にする
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, model.NewError(model.ErrKindTransient,
			fmt.Sprintf("HTTPステータス %d", resp.StatusCode))

	case resp.StatusCode >= 400:
		return nil, model.NewError(model.ErrKindPermanentHTTP,
			fmt.Sprintf("HTTPステータス %d", resp.StatusCode))

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, model.NewError(model.ErrKindPermanentHTTP,
			fmt.Sprintf("予期しないHTTPステータス %d", resp.StatusCode))
	}

	maxSize := f.maxSize
	if req.MaxSize > 0 {
		maxSize = req.MaxSize
	}

	// 宣言サイズの事前チェック
	if resp.ContentLength > maxSize {
		return nil, model.NewError(model.ErrKindSizeViolation,
			fmt.Sprintf("宣言されたサイズが上限を超過: %d > %d", resp.ContentLength, maxSize))
	}

	// 実サイズのチェック: 上限+1バイトまで読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, model.WrapError(model.ErrKindTransient, "レスポンス読み取り失敗", err)
	}
	if int64(len(body)) > maxSize {
		return nil, model.NewError(model.ErrKindSizeViolation,
			fmt.Sprintf("レスポンスサイズが上限を超過: > %d", maxSize))
	}

	contentType := resp.Header.Get("Content-Type")
	if !isAllowedContentType(contentType) {
		// 警告のみで処理は継続する
		f.logger.Warn("予期しないContent-Type",
			slog.String("url", req.URL),
			slog.String("content_type", contentType),
		)
	}

	result := &FetchResult{
		Body:        body,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		ETag:        resp.Header.Get("ETag"),
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		if t, err := http.ParseTime(lastMod); err == nil {
			result.LastModified = &t
		}
	}

	return result, nil
}

// isAllowedContentType はContent-Typeが期待される種類かを返す。
func isAllowedContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType := strings.TrimSpace(strings.ToLower(strings.SplitN(contentType, ";", 2)[0]))
	for _, allowed := range allowedContentTypes {
		if mediaType == allowed {
			return true
		}
	}
	return false
}
