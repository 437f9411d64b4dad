// Package report aggregates task outcomes and health records into a run
// summary and decides whether the run warrants an alert.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"auction-batch/internal/healthlog"
	"auction-batch/internal/models"
	"auction-batch/internal/telemetry"
)

// Reporter reads the health log back and alerts through an injected channel.
type Reporter struct {
	log      healthlog.Log
	notifier Notifier
	logger   *zap.Logger
}

// New builds a reporter; notifier may be nil when no channel is configured.
func New(hlog healthlog.Log, notifier Notifier, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{log: hlog, notifier: notifier, logger: logger}
}

// Summarize combines the in-process task outcomes with every health record
// logged for runDate. The log is cumulative, so a later call sees a superset.
// On a read error the returned summary carries the outcomes and no records.
func (r *Reporter) Summarize(ctx context.Context, runDate time.Time, partial models.RunSummary) (models.RunSummary, error) {
	s := models.RunSummary{
		RunID:     partial.RunID,
		RunDate:   models.FormatDate(runDate),
		Succeeded: append([]string(nil), partial.Succeeded...),
		Failed:    append([]string(nil), partial.Failed...),
		Outcomes:  append([]models.TaskOutcome(nil), partial.Outcomes...),
	}
	if r.log == nil {
		return s, nil
	}
	recs, err := r.log.Records(ctx, s.RunDate)
	if err != nil {
		return s, fmt.Errorf("read health log for %s: %w", s.RunDate, err)
	}
	s.Health = recs
	return s, nil
}

// Render formats the summary one line per task and per health record.
func Render(s models.RunSummary) string {
	var b strings.Builder
	dataDate := ""
	if d, err := models.ParseDate(s.RunDate); err == nil {
		dataDate = models.FormatDate(models.DataDate(d))
	}
	fmt.Fprintf(&b, "run %s (data %s) id=%s: %d succeeded, %d failed, %d/%d health records ok\n",
		s.RunDate, dataDate, s.RunID, len(s.Succeeded), len(s.Failed),
		len(s.Health)-len(s.UnhealthyRecords()), len(s.Health))
	for _, o := range s.Outcomes {
		fmt.Fprintf(&b, "task    %-16s %-9s attempts=%d log=%s", o.Task, o.Status, o.Attempts, o.LogPath)
		if o.LastError != "" {
			fmt.Fprintf(&b, " error=%q", o.LastError)
		}
		b.WriteByte('\n')
	}
	for _, h := range s.Health {
		fmt.Fprintf(&b, "service %-16s %-9s bytes=%d location=%s", h.Service, h.Status, h.Bytes, h.Location)
		if h.Note != "" {
			fmt.Fprintf(&b, " note=%s", h.Note)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// NotifyIfNeeded dispatches one alert when any task failed or any health
// record is not ok. Delivery errors are logged and dropped. It reports whether
// an alert was attempted.
func (r *Reporter) NotifyIfNeeded(ctx context.Context, s models.RunSummary) bool {
	if !s.NeedsAttention() {
		return false
	}
	if r.notifier == nil {
		r.logger.Warn("run needs attention but no notification channel is configured", zap.String("run_date", s.RunDate))
		return false
	}

	alert := Alert{
		RunID:     s.RunID,
		RunDate:   s.RunDate,
		Text:      Render(s),
		Failed:    s.Failed,
		Unhealthy: s.UnhealthyRecords(),
	}
	if err := r.send(ctx, alert); err != nil {
		telemetry.NotificationFailures.Inc()
		r.logger.Warn("alert not delivered", zap.String("run_date", s.RunDate), zap.Error(err))
		return true
	}
	telemetry.NotificationsSent.Inc()
	r.logger.Info("alert sent", zap.String("run_date", s.RunDate), zap.Strings("failed_tasks", s.Failed))
	return true
}

func (r *Reporter) send(ctx context.Context, alert Alert) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notifier panicked: %v", p)
		}
	}()
	return r.notifier.Notify(ctx, alert)
}
