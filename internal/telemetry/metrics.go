package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	TaskSuccess          = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_tasks_succeeded_total", Help: "Tasks that finished successfully"})
	TaskFailures         = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_tasks_failed_total", Help: "Tasks that exhausted their attempts"})
	TaskAttempts         = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_task_attempts_total", Help: "Task attempts started"})
	TaskRetries          = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_task_retries_total", Help: "Failed attempts followed by a retry"})
	HealthChecks         = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "batch_health_checks_total", Help: "Artifact health checks by status"}, []string{"status"})
	NotificationsSent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_alerts_sent_total", Help: "Alerts delivered"})
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_alerts_failed_total", Help: "Alerts that could not be delivered"})
	RunsSkipped          = prometheus.NewCounter(prometheus.CounterOpts{Name: "batch_runs_skipped_total", Help: "Runs skipped because another run held the lock"})
	LastRunFailedTasks   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "batch_last_run_failed_tasks", Help: "Failed tasks in the most recent run"})
	LastRunUnhealthy     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "batch_last_run_unhealthy_services", Help: "Non-ok health records in the most recent run"})
	LastRunCompleted     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "batch_last_run_completed_timestamp_seconds", Help: "Unix time the most recent run finished"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "healthboard_rate_limit_rejects_total", Help: "Live health checks rejected by the rate limiter"})
)

func register() {
	once.Do(func() {
		registry.MustRegister(
			TaskSuccess,
			TaskFailures,
			TaskAttempts,
			TaskRetries,
			HealthChecks,
			NotificationsSent,
			NotificationFailures,
			RunsSkipped,
			LastRunFailedTasks,
			LastRunUnhealthy,
			LastRunCompleted,
			RateLimitRejects,
		)
	})
}

// Handler exposes /metrics for the batch registry.
func Handler() http.Handler {
	register()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Push sends the current batch metrics to a Pushgateway, replacing the job's previous group.
func Push(ctx context.Context, url, job string) error {
	register()
	return push.New(url, job).Gatherer(registry).PushContext(ctx)
}
