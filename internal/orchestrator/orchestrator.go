// Package orchestrator composes the nightly run: guard, tasks with inline
// artifact checks, then the summary and at most one alert.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auction-batch/internal/artifact"
	"auction-batch/internal/guard"
	"auction-batch/internal/health"
	"auction-batch/internal/models"
	"auction-batch/internal/report"
	"auction-batch/internal/runner"
	"auction-batch/internal/telemetry"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitTaskFailed = 1
	ExitConfig     = 2
)

// Archiver persists a finished run.
type Archiver interface {
	Archive(ctx context.Context, s models.RunSummary) (string, error)
}

// Deps are the collaborators of a run. Guard, Verifier and Reporter are
// required; the rest are optional.
type Deps struct {
	Guard    *guard.Guard
	Verifier *health.Verifier
	Reporter *report.Reporter
	Logger   *zap.Logger

	// LogStore receives each task's log after the task finishes.
	LogStore       artifact.Store
	Archive        Archiver
	PushgatewayURL string

	RunnerOptions []runner.Option
	Handlers      map[string]runner.Handler
}

type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: d, logger: logger}
}

// Result is what a run hands back to main.
type Result struct {
	Summary  models.RunSummary
	Skipped  bool
	Notified bool
	ExitCode int
}

// Nightly runs tasks for runDate under the guard. Only task failures make the
// exit code non-zero; a busy guard is a clean skip.
func (o *Orchestrator) Nightly(ctx context.Context, tasks []models.Task, runDate time.Time) Result {
	runDate = models.Day(runDate)

	h, err := o.deps.Guard.Acquire()
	if errors.Is(err, guard.ErrBusy) {
		telemetry.RunsSkipped.Inc()
		o.logger.Info("another run holds the lock, skipping", zap.String("lock", o.deps.Guard.Path()))
		return Result{Skipped: true, ExitCode: ExitOK}
	}
	if err != nil {
		o.logger.Error("acquire run lock", zap.Error(err))
		return Result{ExitCode: ExitConfig}
	}
	defer func() {
		if err := h.Release(); err != nil {
			o.logger.Warn("release run lock", zap.Error(err))
		}
	}()

	rc := runner.RunContext{
		RunID:    uuid.NewString(),
		RunDate:  runDate,
		DataDate: models.DataDate(runDate),
	}
	logger := o.logger.With(zap.String("run_id", rc.RunID), zap.String("run_date", models.FormatDate(runDate)))
	logger.Info("nightly run started", zap.Int("tasks", len(tasks)))

	var mu sync.Mutex
	var checked []models.HealthRecord
	after := func(ctx context.Context, task models.Task, outcome models.TaskOutcome) {
		rec := o.deps.Verifier.Check(ctx, task.ServiceName(), runDate)
		mu.Lock()
		checked = append(checked, rec)
		mu.Unlock()
		o.uploadTaskLog(ctx, logger, task, outcome, rc.DataDate)
	}

	opts := append([]runner.Option{}, o.deps.RunnerOptions...)
	opts = append(opts, runner.WithAfterTask(after))
	r := runner.New(logger, rc, opts...)
	for kind, handler := range o.deps.Handlers {
		r.RegisterHandler(kind, handler)
	}
	partial := r.RunAll(ctx, tasks)

	res := o.finish(ctx, logger, runDate, partial, checked)
	if partial.HasTaskFailures() {
		res.ExitCode = ExitTaskFailed
	}
	return res
}

// CheckOnly verifies services for runDate and reports without running tasks.
// Data-level failures alert but never change the exit code.
func (o *Orchestrator) CheckOnly(ctx context.Context, services []string, runDate time.Time) Result {
	runDate = models.Day(runDate)
	partial := models.RunSummary{RunID: uuid.NewString(), RunDate: models.FormatDate(runDate)}
	logger := o.logger.With(zap.String("run_id", partial.RunID), zap.String("run_date", partial.RunDate))
	logger.Info("check-only run started", zap.Strings("services", services))

	recs := o.deps.Verifier.CheckAll(ctx, services, runDate)
	return o.finish(ctx, logger, runDate, partial, recs)
}

func (o *Orchestrator) finish(ctx context.Context, logger *zap.Logger, runDate time.Time, partial models.RunSummary, checked []models.HealthRecord) Result {
	summary, err := o.deps.Reporter.Summarize(ctx, runDate, partial)
	if err != nil {
		logger.Warn("health log unreadable, reporting this run's checks only", zap.Error(err))
	}
	summary.Health = mergeChecked(summary.Health, checked)

	logger.Info("run summary\n" + report.Render(summary))
	notified := o.deps.Reporter.NotifyIfNeeded(ctx, summary)

	if o.deps.Archive != nil {
		// Earlier runs on the same date are already archived under their own ids.
		archived := summary
		archived.Health = checked
		if id, err := o.deps.Archive.Archive(ctx, archived); err != nil {
			logger.Error("archive run", zap.Error(err))
		} else {
			logger.Debug("run archived", zap.String("archive_id", id))
		}
	}

	telemetry.LastRunFailedTasks.Set(float64(len(summary.Failed)))
	telemetry.LastRunUnhealthy.Set(float64(len(summary.UnhealthyRecords())))
	telemetry.LastRunCompleted.SetToCurrentTime()
	if o.deps.PushgatewayURL != "" {
		if err := telemetry.Push(ctx, o.deps.PushgatewayURL, "auction_batch"); err != nil {
			logger.Warn("push metrics", zap.Error(err))
		}
	}

	logger.Info("run finished",
		zap.Strings("succeeded", summary.Succeeded),
		zap.Strings("failed", summary.Failed),
		zap.Int("unhealthy", len(summary.UnhealthyRecords())),
		zap.Bool("notified", notified),
	)
	return Result{Summary: summary, Notified: notified, ExitCode: ExitOK}
}

// mergeChecked appends this run's checks that the health log did not return,
// e.g. because their append failed.
func mergeChecked(logged, checked []models.HealthRecord) []models.HealthRecord {
	seen := make(map[string]bool, len(logged))
	for _, r := range logged {
		seen[recordKey(r)] = true
	}
	out := logged
	for _, r := range checked {
		if !seen[recordKey(r)] {
			out = append(out, r)
		}
	}
	return out
}

func recordKey(r models.HealthRecord) string {
	return r.Service + "|" + r.Status + "|" + r.CheckedAt.UTC().Format(time.RFC3339Nano)
}

// TaskLogKey is where a task's log is uploaded for dataDate.
func TaskLogKey(task string, dataDate time.Time) string {
	return fmt.Sprintf("logs/%s/%s/crawl_%s.log", task, models.FormatDate(dataDate), dataDate.Format("20060102"))
}

func (o *Orchestrator) uploadTaskLog(ctx context.Context, logger *zap.Logger, task models.Task, outcome models.TaskOutcome, dataDate time.Time) {
	if o.deps.LogStore == nil || outcome.LogPath == "" {
		return
	}
	body, err := os.ReadFile(outcome.LogPath)
	if err != nil {
		logger.Warn("read task log for upload", zap.String("task", task.Name), zap.Error(err))
		return
	}
	loc, err := o.deps.LogStore.Put(ctx, TaskLogKey(task.Name, dataDate), body, "text/plain; charset=utf-8")
	if err != nil {
		logger.Warn("upload task log", zap.String("task", task.Name), zap.Error(err))
		return
	}
	logger.Debug("task log uploaded", zap.String("task", task.Name), zap.String("location", loc))
}
