package github

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func newTestLimiter(buffer int) *QuotaLimiter {
	return NewQuotaLimiter(buffer, nil, slog.New(slog.DiscardHandler))
}

func headersFor(limit, remaining int, resetAt time.Time) http.Header {
	h := http.Header{}
	h.Set("x-ratelimit-limit", strconv.Itoa(limit))
	h.Set("x-ratelimit-remaining", strconv.Itoa(remaining))
	h.Set("x-ratelimit-reset", strconv.FormatInt(resetAt.Unix(), 10))
	return h
}

func TestQuotaLimiter_UpdateFromHeaders(t *testing.T) {
	q := newTestLimiter(100)
	resetAt := time.Now().Add(time.Hour)
	q.UpdateFromHeaders(headersFor(5000, 4321, resetAt))

	limit, remaining, gotReset := q.Snapshot()
	if limit != 5000 {
		t.Errorf("limitが期待と異なります: got=%d want=5000", limit)
	}
	if remaining != 4321 {
		t.Errorf("remainingが期待と異なります: got=%d want=4321", remaining)
	}
	if gotReset.Unix() != resetAt.Unix() {
		t.Errorf("resetAtが期待と異なります: got=%v want=%v", gotReset, resetAt)
	}
}

func TestQuotaLimiter_UpdateFromHeaders_MissingHeadersKeepState(t *testing.T) {
	q := newTestLimiter(100)
	q.UpdateFromHeaders(headersFor(5000, 1000, time.Now().Add(time.Hour)))
	q.UpdateFromHeaders(http.Header{})

	limit, remaining, _ := q.Snapshot()
	if limit != 5000 || remaining != 1000 {
		t.Errorf("ヘッダ欠落時に状態が変わってはいけません: limit=%d remaining=%d", limit, remaining)
	}
}

func TestQuotaLimiter_Threshold(t *testing.T) {
	tests := []struct {
		name   string
		buffer int
		limit  int
		want   int
	}{
		{name: "上限の1割を採用する", buffer: 1000, limit: 5000, want: 500},
		{name: "バッファが小さい場合はバッファを採用する", buffer: 100, limit: 5000, want: 100},
		{name: "小さい上限では下限5を採用する", buffer: 100, limit: 30, want: 5},
		{name: "バッファが下限より小さい場合はバッファ", buffer: 3, limit: 30, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestLimiter(tt.buffer)
			q.UpdateFromHeaders(headersFor(tt.limit, tt.limit, time.Now()))
			q.mu.RLock()
			got := q.threshold()
			q.mu.RUnlock()
			if got != tt.want {
				t.Errorf("閾値が期待と異なります: got=%d want=%d", got, tt.want)
			}
		})
	}
}

func TestQuotaLimiter_WaitIfNeeded_NoWaitBeforeFirstObservation(t *testing.T) {
	q := newTestLimiter(100)
	start := time.Now()
	if err := q.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("初回観測前は待機すべきではありません: %v", elapsed)
	}
}

func TestQuotaLimiter_WaitIfNeeded_NoWaitAboveThreshold(t *testing.T) {
	q := newTestLimiter(100)
	q.UpdateFromHeaders(headersFor(5000, 4000, time.Now().Add(time.Hour)))
	start := time.Now()
	if err := q.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("残量十分なら待機すべきではありません: %v", elapsed)
	}
}

func TestQuotaLimiter_WaitIfNeeded_WaitsUntilReset(t *testing.T) {
	q := newTestLimiter(100)
	// 残量が閾値以下かつリセットが1秒後
	q.UpdateFromHeaders(headersFor(5000, 10, time.Now().Add(1*time.Second)))

	start := time.Now()
	if err := q.WaitIfNeeded(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("リセット時刻まで待機すべきです: %v", elapsed)
	}

	// リセット経過後は残量回復とみなす
	_, remaining, _ := q.Snapshot()
	if remaining != 5000 {
		t.Errorf("リセット後は残量が回復すべきです: got=%d", remaining)
	}
}

func TestQuotaLimiter_WaitIfNeeded_ContextCancel(t *testing.T) {
	q := newTestLimiter(100)
	q.UpdateFromHeaders(headersFor(5000, 0, time.Now().Add(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := q.WaitIfNeeded(ctx); err == nil {
		t.Fatal("キャンセル時はエラーが返るべきです")
	}
}
