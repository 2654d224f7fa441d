package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsAccepted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_submissions_accepted_total", Help: "Jobs admitted into the pipeline"})
	SubmissionsRejected  = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_submissions_rejected_total", Help: "Submissions rejected by validation"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	NotificationsSent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_notifications_sent_total", Help: "Completion emails sent and marked"})
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_notification_failures_total", Help: "Completion emails that failed and will be retried"})
	DownloadsServed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_downloads_served_total", Help: "Artifacts served to authors"})
	WorkerClaims         = prometheus.NewCounter(prometheus.CounterOpts{Name: "docs_worker_claims_total", Help: "Pending jobs claimed by conversion workers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsAccepted,
			SubmissionsRejected,
			RateLimitRejects,
			NotificationsSent,
			NotificationFailures,
			DownloadsServed,
			WorkerClaims,
		)
	})
	return promhttp.Handler()
}
