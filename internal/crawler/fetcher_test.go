package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/cookfed/internal/model"
)

// allowAllGuard はテスト用のSSRF検証スタブ。
// httptestのループバックアドレスを許可するため、素のHTTPクライアントを返す。
type allowAllGuard struct{}

func (allowAllGuard) ValidateURL(rawURL string) error { return nil }

func (allowAllGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// denyAllGuard は常に検証失敗するSSRF検証スタブ。
type denyAllGuard struct{}

func (denyAllGuard) ValidateURL(rawURL string) error {
	return fmt.Errorf("blocked host")
}

func (denyAllGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// noopWaiter はレート制限なしのスタブ。
type noopWaiter struct{}

func (noopWaiter) Wait(ctx context.Context, rawURL string) error { return nil }

func newTestFetcher(guard SSRFValidator, maxSize int64) *Fetcher {
	return NewFetcher(
		guard,
		noopWaiter{},
		nil,
		slog.New(slog.DiscardHandler),
		5*time.Second,
		"Cookfed/1.0 Test",
		maxSize,
	)
}

func TestFetch_Success(t *testing.T) {
	const body = `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title></channel></rss>`
	lastMod := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "Cookfed/1.0 Test" {
			t.Errorf("User-Agentが不正: %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", lastMod.Format(http.TimeFormat))
		w.Write([]byte(body))
	}))
	defer server.Close()

	f := newTestFetcher(allowAllGuard{}, 1<<20)

	res, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("Fetchに失敗: %v", err)
	}
	if res.NotModified {
		t.Error("NotModifiedがtrueです")
	}
	if string(res.Body) != body {
		t.Errorf("本文が不正: %q", res.Body)
	}
	if res.ETag != `"v1"` {
		t.Errorf("ETagが不正: %q", res.ETag)
	}
	if res.LastModified == nil || !res.LastModified.Equal(lastMod) {
		t.Errorf("Last-Modifiedが不正: %v", res.LastModified)
	}
}

func TestFetch_ConditionalGET(t *testing.T) {
	lastMod := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("If-None-Matchが不正: %q", r.Header.Get("If-None-Match"))
		}
		if r.Header.Get("If-Modified-Since") == "" {
			t.Error("If-Modified-Sinceが設定されていません")
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	f := newTestFetcher(allowAllGuard{}, 1<<20)

	res, err := f.Fetch(context.Background(), FetchRequest{
		URL:          server.URL,
		ETag:         `"v1"`,
		LastModified: &lastMod,
	})
	if err != nil {
		t.Fatalf("Fetchに失敗: %v", err)
	}
	if !res.NotModified {
		t.Error("304がNotModifiedとして扱われていません")
	}
	if len(res.Body) != 0 {
		t.Errorf("304で本文が返されています: %d bytes", len(res.Body))
	}
}

func TestFetch_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(allowAllGuard{}, 1<<20)

	start := time.Now()
	res, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL})
	if err != nil {
		t.Fatalf("リトライ後のFetchに失敗: %v", err)
	}
	if string(res.Body) != "ok" {
		t.Errorf("本文が不正: %q", res.Body)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("試行回数が不正: got %d, want 3", got)
	}
	// 1秒 + 2秒のバックオフが入る
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("バックオフ遅延が不足しています: %v", elapsed)
	}
}

func TestFetch_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := newTestFetcher(allowAllGuard{}, 1<<20)

	_, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL})
	if err == nil {
		t.Fatal("全試行失敗でエラーが返されませんでした")
	}
	if got := calls.Load(); got != maxAttempts {
		t.Errorf("試行回数が不正: got %d, want %d", got, maxAttempts)
	}
	if kind := model.KindOf(err); kind != model.ErrKindTransient {
		t.Errorf("エラー分類が不正: got %s, want %s", kind, model.ErrKindTransient)
	}
}

func TestFetch_PermanentErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(allowAllGuard{}, 1<<20)

	_, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL})
	if err == nil {
		t.Fatal("404でエラーが返されませんでした")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xxがリトライされています: 試行回数 %d", got)
	}
	if kind := model.KindOf(err); kind != model.ErrKindPermanentHTTP {
		t.Errorf("エラー分類が不正: got %s, want %s", kind, model.ErrKindPermanentHTTP)
	}
}

func TestFetch_SizeCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	f := newTestFetcher(allowAllGuard{}, 1024)

	_, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL})
	if err == nil {
		t.Fatal("サイズ超過でエラーが返されませんでした")
	}
	if kind := model.KindOf(err); kind != model.ErrKindSizeViolation {
		t.Errorf("エラー分類が不正: got %s, want %s", kind, model.ErrKindSizeViolation)
	}
}

func TestFetch_PerRequestSizeCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer server.Close()

	// 既定上限は十分大きいが、リクエスト側の上限が優先される
	f := newTestFetcher(allowAllGuard{}, 1<<20)

	_, err := f.Fetch(context.Background(), FetchRequest{URL: server.URL, MaxSize: 1024})
	if err == nil {
		t.Fatal("リクエスト側のサイズ上限が適用されていません")
	}
	if kind := model.KindOf(err); kind != model.ErrKindSizeViolation {
		t.Errorf("エラー分類が不正: got %s, want %s", kind, model.ErrKindSizeViolation)
	}

	// 上限内の応答は既定上限に関係なく成功する
	small := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer small.Close()

	res, err := f.Fetch(context.Background(), FetchRequest{URL: small.URL, MaxSize: 1024})
	if err != nil {
		t.Fatalf("Fetchに失敗: %v", err)
	}
	if string(res.Body) != "ok" {
		t.Errorf("本文が不正: %q", res.Body)
	}
}

func TestFetch_SSRFValidationFailure(t *testing.T) {
	f := newTestFetcher(denyAllGuard{}, 1<<20)

	_, err := f.Fetch(context.Background(), FetchRequest{URL: "http://10.0.0.1/feed.xml"})
	if err == nil {
		t.Fatal("SSRF検証失敗でエラーが返されませんでした")
	}
	if kind := model.KindOf(err); kind != model.ErrKindValidation {
		t.Errorf("エラー分類が不正: got %s, want %s", kind, model.ErrKindValidation)
	}
}

func TestIsAllowedContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/rss+xml", true},
		{"application/rss+xml; charset=utf-8", true},
		{"TEXT/XML", true},
		{"text/html", true},
		{"application/json", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAllowedContentType(tt.contentType); got != tt.want {
			t.Errorf("isAllowedContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
