package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/cookfed/internal/metrics"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) PingContext(_ context.Context) error { return p.err }

func TestOpsRouter_HealthOK(t *testing.T) {
	router := NewOpsRouter(&fakePinger{}, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコードが期待と異なります: got=%d want=200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("ボディが期待と異なります: %s", rec.Body.String())
	}
}

func TestOpsRouter_HealthUnavailableWhenDBDown(t *testing.T) {
	router := NewOpsRouter(&fakePinger{err: errors.New("connection refused")}, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ステータスコードが期待と異なります: got=%d want=503", rec.Code)
	}
}

func TestOpsRouter_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.RecordCrawlSuccess()
	collector.RecordFetchLatency(250 * time.Millisecond)

	router := NewOpsRouter(&fakePinger{}, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが期待と異なります: got=%d want=200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "cookfed_crawl_success_total") {
		t.Errorf("クロール成功カウンタが露出されるべきです:\n%s", body)
	}
}

func TestOpsRouter_UnknownPathReturns404(t *testing.T) {
	router := NewOpsRouter(&fakePinger{}, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("ステータスコードが期待と異なります: got=%d want=404", rec.Code)
	}
}
