// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// クローラー・インデクサ・ワーカー層から利用する。
type MetricsCollector interface {
	RecordCrawlSuccess()
	RecordCrawlFailure(reason string)
	RecordRecipes(created, updated, skipped int)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordIndexCommit(docs int)
	SetGitHubQuotaRemaining(remaining int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	crawlSuccess    prometheus.Counter
	crawlFail       *prometheus.CounterVec
	recipes         *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	indexCommits    prometheus.Counter
	indexDocs       prometheus.Counter
	githubRemaining prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		crawlSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cookfed_crawl_success_total",
			Help: "フィードクロール成功の合計数",
		}),
		crawlFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookfed_crawl_fail_total",
			Help: "フィードクロール失敗の合計数（理由別）",
		}, []string{"reason"}),
		recipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookfed_recipes_total",
			Help: "クロールで処理されたレシピの合計数（結果別）",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cookfed_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cookfed_fetch_latency_seconds",
			Help:    "HTTPフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		indexCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cookfed_index_commits_total",
			Help: "検索インデックスへのバッチコミット回数",
		}),
		indexDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cookfed_index_documents_total",
			Help: "検索インデックスに投入されたドキュメントの合計数",
		}),
		githubRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cookfed_github_quota_remaining",
			Help: "GitHub APIレート制限の残回数",
		}),
	}

	reg.MustRegister(
		c.crawlSuccess,
		c.crawlFail,
		c.recipes,
		c.httpStatus,
		c.fetchLatency,
		c.indexCommits,
		c.indexDocs,
		c.githubRemaining,
	)

	return c
}

// RecordCrawlSuccess はクロール成功を記録する。
func (c *Collector) RecordCrawlSuccess() {
	c.crawlSuccess.Inc()
}

// RecordCrawlFailure はクロール失敗を理由別に記録する。
func (c *Collector) RecordCrawlFailure(reason string) {
	c.crawlFail.WithLabelValues(reason).Inc()
}

// RecordRecipes はクロール結果のレシピ件数を結果別に記録する。
func (c *Collector) RecordRecipes(created, updated, skipped int) {
	c.recipes.WithLabelValues("created").Add(float64(created))
	c.recipes.WithLabelValues("updated").Add(float64(updated))
	c.recipes.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordIndexCommit は検索インデックスへのバッチコミットを記録する。
func (c *Collector) RecordIndexCommit(docs int) {
	c.indexCommits.Inc()
	c.indexDocs.Add(float64(docs))
}

// SetGitHubQuotaRemaining はGitHub APIレート制限の残回数を記録する。
func (c *Collector) SetGitHubQuotaRemaining(remaining int) {
	c.githubRemaining.Set(float64(remaining))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector。テストおよび未配線時に使用する。
type Noop struct{}

func (Noop) RecordCrawlSuccess()                       {}
func (Noop) RecordCrawlFailure(string)                 {}
func (Noop) RecordRecipes(int, int, int)               {}
func (Noop) RecordHTTPStatus(int)                      {}
func (Noop) RecordFetchLatency(time.Duration)          {}
func (Noop) RecordIndexCommit(int)                     {}
func (Noop) SetGitHubQuotaRemaining(int)               {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
