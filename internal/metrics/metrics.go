// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/pubadmin/internal/policy"
)

// Collector はPrometheusメトリクスを収集する実装。
// 認証サービスのログイン結果と、各サービスの権限拒否も受け取る。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	logins       *prometheus.CounterVec
	denials      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubadmin_http_requests_total",
			Help: "ルート・メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pubadmin_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubadmin_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pubadmin_permission_denied_total",
			Help: "リソース種別・操作別の権限拒否数",
		}, []string{"resource", "action"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.logins,
		c.denials,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの結果と処理時間を記録する。
// routeにはパスパラメータを含まないルートパターンを渡す。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveLogin はログイン結果を記録する。
func (c *Collector) ObserveLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordDenial は権限拒否を記録する。
func (c *Collector) RecordDenial(kind policy.ResourceKind, action policy.Action) {
	c.denials.WithLabelValues(string(kind), string(action)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ policy.DenialRecorder = (*Collector)(nil)
