// Package runner executes batch tasks with a fixed retry backoff, appending
// every attempt's output to the task's own log.
package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auction-batch/internal/logging"
	"auction-batch/internal/models"
	"auction-batch/internal/telemetry"
)

// retryHorizon stands in for "no elapsed-time limit" on the retry loop; the
// attempt budget is what ends it.
const retryHorizon = 100 * 365 * 24 * time.Hour

// RunContext carries run-scoped values handed to every unit of work.
type RunContext struct {
	RunID    string
	RunDate  time.Time
	DataDate time.Time
}

// Handler invokes a task's unit of work once, writing its output to out.
// A nil error is the zero-exit completion signal.
type Handler func(ctx context.Context, task models.Task, rc RunContext, out io.Writer) error

// AfterTaskFunc observes each finished task, e.g. to verify its artifact.
type AfterTaskFunc func(ctx context.Context, task models.Task, outcome models.TaskOutcome)

// Runner executes tasks independently of one another.
type Runner struct {
	handlers    map[string]Handler
	logger      *zap.Logger
	rc          RunContext
	parallelism int
	logMaxMB    int
	afterTask   AfterTaskFunc
	httpClient  *http.Client
	now         func() time.Time
}

type Option func(*Runner)

// WithParallelism bounds how many tasks run at once; 1 (the default) runs them in order.
func WithParallelism(n int) Option {
	return func(r *Runner) { r.parallelism = n }
}

func WithAfterTask(fn AfterTaskFunc) Option {
	return func(r *Runner) { r.afterTask = fn }
}

func WithLogMaxMB(mb int) Option {
	return func(r *Runner) { r.logMaxMB = mb }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.httpClient = c }
}

// New creates a runner with the command, container and http handlers registered.
func New(logger *zap.Logger, rc RunContext, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		handlers:    make(map[string]Handler),
		logger:      logger,
		rc:          rc,
		parallelism: 1,
		logMaxMB:    100,
		httpClient:  &http.Client{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.RegisterHandler(models.HandleCommand, runCommand)
	r.RegisterHandler(models.HandleContainer, runContainer)
	r.RegisterHandler(models.HandleHTTP, r.callHTTP)
	return r
}

// RegisterHandler binds a handler to a handle kind.
func (r *Runner) RegisterHandler(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	r.handlers[kind] = handler
}

// Run executes task until it succeeds or its attempts are used up. It never
// panics and never returns an error: failure is reported in the outcome.
func (r *Runner) Run(ctx context.Context, task models.Task) models.TaskOutcome {
	outcome := r.run(ctx, task)
	if outcome.Succeeded() {
		telemetry.TaskSuccess.Inc()
		r.logger.Info("task succeeded", zap.String("task", task.Name), zap.Int("attempts", outcome.Attempts))
	} else {
		telemetry.TaskFailures.Inc()
		r.logger.Error("task failed",
			zap.String("task", task.Name),
			zap.Int("attempts", outcome.Attempts),
			zap.String("error", outcome.LastError),
			zap.String("log", outcome.LogPath),
		)
	}
	if r.afterTask != nil {
		r.safeAfterTask(ctx, task, outcome)
	}
	return outcome
}

func (r *Runner) run(ctx context.Context, task models.Task) models.TaskOutcome {
	outcome := models.TaskOutcome{
		Task:      task.Name,
		Status:    models.StatusFailed,
		LogPath:   task.LogPath,
		StartedAt: r.now().UTC(),
	}
	finish := func(err error) models.TaskOutcome {
		outcome.FinishedAt = r.now().UTC()
		if err == nil {
			outcome.Status = models.StatusSucceeded
			outcome.LastError = ""
		} else {
			outcome.LastError = err.Error()
		}
		return outcome
	}

	sink, err := logging.OpenTaskSink(task.LogPath, r.logMaxMB)
	if err != nil {
		return finish(fmt.Errorf("open task log: %w", err))
	}
	defer sink.Close()
	tlog := sink.Log.With(zap.String("task", task.Name), zap.String("run_id", r.rc.RunID))

	handler, ok := r.handlers[task.Handle.Kind]
	if !ok {
		err := fmt.Errorf("no handler registered for kind %q", task.Handle.Kind)
		tlog.Error("task failed", zap.Error(err))
		return finish(err)
	}

	maxAttempts := task.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	op := func() (struct{}, error) {
		outcome.Attempts++
		telemetry.TaskAttempts.Inc()
		tlog.Info("attempt started", zap.Int("attempt", outcome.Attempts), zap.Int("max_attempts", maxAttempts))
		if err := r.invoke(ctx, handler, task, sink); err != nil {
			tlog.Warn("attempt failed", zap.Int("attempt", outcome.Attempts), zap.Error(err))
			return struct{}{}, err
		}
		tlog.Info("attempt succeeded", zap.Int("attempt", outcome.Attempts))
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(task.Backoff)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(retryHorizon),
		backoff.WithNotify(func(err error, wait time.Duration) {
			telemetry.TaskRetries.Inc()
			r.logger.Warn("retrying task",
				zap.String("task", task.Name),
				zap.Int("attempt", outcome.Attempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		tlog.Error("task failed", zap.Int("attempts", outcome.Attempts), zap.Error(err))
		return finish(err)
	}
	tlog.Info("task succeeded", zap.Int("attempts", outcome.Attempts))
	return finish(nil)
}

func (r *Runner) invoke(ctx context.Context, h Handler, task models.Task, out io.Writer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return h(ctx, task, r.rc, out)
}

func (r *Runner) safeAfterTask(ctx context.Context, task models.Task, outcome models.TaskOutcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("after-task hook panicked", zap.String("task", task.Name), zap.Any("panic", p))
		}
	}()
	r.afterTask(ctx, task, outcome)
}

// RunAll runs every task and returns their outcomes in declaration order. A
// failed task never keeps later tasks from running.
func (r *Runner) RunAll(ctx context.Context, tasks []models.Task) models.RunSummary {
	outcomes := make([]models.TaskOutcome, len(tasks))
	if r.parallelism <= 1 {
		for i, t := range tasks {
			outcomes[i] = r.Run(ctx, t)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.parallelism)
		for i, t := range tasks {
			g.Go(func() error {
				outcomes[i] = r.Run(ctx, t)
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := models.RunSummary{
		RunID:    r.rc.RunID,
		RunDate:  models.FormatDate(r.rc.RunDate),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			summary.Succeeded = append(summary.Succeeded, o.Task)
		} else {
			summary.Failed = append(summary.Failed, o.Task)
		}
	}
	return summary
}
