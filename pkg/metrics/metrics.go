// Package metrics はPrometheus形式のサービスメトリクスを提供する。
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msghub"

var (
	// MessagesSent は送信されたダイレクトメッセージの数。
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Number of direct messages persisted.",
	})

	// RepliesSent は追加された返信の数。
	RepliesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replies_sent_total",
		Help:      "Number of replies appended to messages.",
	})

	// BroadcastRecipients は一斉送信の宛先ごとの結果（sent / failed）。
	BroadcastRecipients = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_recipients_total",
		Help:      "Number of broadcast recipients by result.",
	}, []string{"result"})

	// NotificationsCreated は作成された通知の種類別の数。
	NotificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_created_total",
		Help:      "Number of notifications created by type.",
	}, []string{"type"})

	// EmailsSent はメール送信の結果（sent / failed）。
	EmailsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_total",
		Help:      "Number of email deliveries by result.",
	}, []string{"result"})

	// RealtimeEvents はリアルタイムイベントの配信結果（delivered / dropped）。
	RealtimeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_events_total",
		Help:      "Number of realtime events by delivery result.",
	}, []string{"result"})

	// RealtimeConnections は現在開いているWebSocket接続の数。
	RealtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_connections",
		Help:      "Number of open realtime connections.",
	})

	// HTTPRequestDuration はHTTPリクエストの処理時間。
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		MessagesSent,
		RepliesSent,
		BroadcastRecipients,
		NotificationsCreated,
		EmailsSent,
		RealtimeEvents,
		RealtimeConnections,
		HTTPRequestDuration,
	)
}

// Handler はメトリクスを公開するGinハンドラを返す。
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware はリクエストの処理時間を記録するGinミドルウェアを返す。
// ルートが一致しないリクエストは "unmatched" として集計する。
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
