package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有记录方法都允许在 nil 接收者上调用，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 业务指标
	AliasesCreated     *prometheus.CounterVec // mode: custom | random
	AliasesDeleted     prometheus.Counter
	ContactsCreated    prometheus.Counter
	ActivitiesRecorded *prometheus.CounterVec // kind: forward | reply | block
	UsersRegistered    prometheus.Counter
	IngestProcessed    *prometheus.CounterVec // source: smtp | mq, result
	IngestDuration     *prometheus.HistogramVec
	WebsocketClients   prometheus.Gauge

	// 错误与限流
	ErrorsTotal     *prometheus.CounterVec
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 在独立的注册表上创建监控指标，并附带 Go 运行时与进程指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaymail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaymail_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		AliasesCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymail_aliases_created_total",
				Help: "Total number of aliases created",
			},
			[]string{"mode"},
		),
		AliasesDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "relaymail_aliases_deleted_total",
				Help: "Total number of aliases deleted",
			},
		),
		ContactsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "relaymail_contacts_created_total",
				Help: "Total number of contacts created",
			},
		),
		ActivitiesRecorded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymail_activities_recorded_total",
				Help: "Total number of email activities recorded",
			},
			[]string{"kind"},
		),
		UsersRegistered: f.NewCounter(
			prometheus.CounterOpts{
				Name: "relaymail_users_registered_total",
				Help: "Total number of users registered",
			},
		),
		IngestProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymail_ingest_processed_total",
				Help: "Total number of mail events processed by ingestion adapters",
			},
			[]string{"source", "result"},
		),
		IngestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relaymail_ingest_duration_seconds",
				Help:    "Mail event processing time in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		WebsocketClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "relaymail_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),

		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymail_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),
		PanicsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "relaymail_panics_total",
				Help: "Total number of recovered panics",
			},
		),
		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relaymail_rate_limit_blocks_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	if responseSize >= 0 {
		m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
	}
}

// RecordAliasCreated 记录别名创建
func (m *Metrics) RecordAliasCreated(mode string) {
	if m == nil {
		return
	}
	m.AliasesCreated.WithLabelValues(mode).Inc()
}

// RecordAliasDeleted 记录别名删除
func (m *Metrics) RecordAliasDeleted() {
	if m == nil {
		return
	}
	m.AliasesDeleted.Inc()
}

// RecordContactCreated 记录联系人创建
func (m *Metrics) RecordContactCreated() {
	if m == nil {
		return
	}
	m.ContactsCreated.Inc()
}

// RecordActivity 记录一次邮件活动
func (m *Metrics) RecordActivity(kind string) {
	if m == nil {
		return
	}
	m.ActivitiesRecorded.WithLabelValues(kind).Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

// RecordIngest 记录一次收信事件的处理结果与耗时
func (m *Metrics) RecordIngest(source, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IngestProcessed.WithLabelValues(source, result).Inc()
	m.IngestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// SetWebsocketClients 更新在线 websocket 连接数
func (m *Metrics) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Set(float64(n))
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(scope string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// Registry 返回底层注册表，供测试采集指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
