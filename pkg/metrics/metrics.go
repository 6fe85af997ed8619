package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_messages_sent_total",
		Help: "Total number of messages accepted by the SMTP server",
	}, []string{"host"})
	MessagesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_messages_failed_total",
		Help: "Total number of recipients skipped because the send failed",
	}, []string{"host"})
	BatchPauses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_batch_pauses_total",
		Help: "Total number of forced pauses taken at a batch boundary",
	}, []string{"host"})
	SessionRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_session_recoveries_total",
		Help: "Reconnects after a failed send, by result",
	}, []string{"host", "result"})

	// SMTP connection metrics. result is one of success, auth_error, error.
	ConnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_smtp_connect_attempts_total",
		Help: "Total number of SMTP connect attempts, by result",
	}, []string{"host", "result"})
	SessionsClosed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_smtp_sessions_closed_total",
		Help: "Total number of SMTP sessions closed, by result",
	}, []string{"host", "result"})

	// Digest metrics
	DigestSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bulkmail_digest_sends_total",
		Help: "Total number of log digest runs, by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesFailed)
	prometheus.MustRegister(BatchPauses)
	prometheus.MustRegister(SessionRecoveries)
	prometheus.MustRegister(ConnectAttempts)
	prometheus.MustRegister(SessionsClosed)
	prometheus.MustRegister(DigestSends)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
