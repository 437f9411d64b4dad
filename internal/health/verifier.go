// Package health confirms that each service's dated output artifact exists and is non-empty,
// independently of whether the task that should have produced it exited cleanly.
package health

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"auction-batch/internal/artifact"
	"auction-batch/internal/healthlog"
	"auction-batch/internal/models"
	"auction-batch/internal/telemetry"
)

// lineProbeBytes bounds how much of an artifact is read to count lines.
const lineProbeBytes = 1024 * 1024

// Verifier checks artifacts and appends every result to the health log.
type Verifier struct {
	registry *Registry
	stores   map[string]artifact.Store
	log      healthlog.Log
	logger   *zap.Logger
	now      func() time.Time
}

// NewVerifier builds a verifier. stores is keyed by backend name; a missing
// backend yields backend_not_configured records rather than an error. hlog may be nil.
func NewVerifier(registry *Registry, stores map[string]artifact.Store, hlog healthlog.Log, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		registry: registry,
		stores:   stores,
		log:      hlog,
		logger:   logger,
		now:      time.Now,
	}
}

func (v *Verifier) Registry() *Registry {
	return v.registry
}

// Check evaluates service for runDate and appends the record to the health log.
// Failures are returned as data; a log append failure is only logged.
func (v *Verifier) Check(ctx context.Context, service string, runDate time.Time) models.HealthRecord {
	rec := v.Evaluate(ctx, service, runDate)
	telemetry.HealthChecks.WithLabelValues(rec.Status).Inc()

	fields := []zap.Field{
		zap.String("service", rec.Service),
		zap.String("data_date", rec.DataDate),
		zap.String("status", rec.Status),
		zap.Int64("bytes", rec.Bytes),
		zap.String("location", rec.Location),
	}
	if rec.OK() {
		v.logger.Info("health check passed", fields...)
	} else {
		v.logger.Warn("health check failed", append(fields, zap.String("note", rec.Note))...)
	}

	if v.log != nil {
		if err := v.log.Append(ctx, rec); err != nil {
			v.logger.Error("append health record", zap.String("service", service), zap.Error(err))
		}
	}
	return rec
}

// CheckAll runs Check for each service in order; one service's failure never stops the others.
func (v *Verifier) CheckAll(ctx context.Context, services []string, runDate time.Time) []models.HealthRecord {
	out := make([]models.HealthRecord, 0, len(services))
	for _, s := range services {
		out = append(out, v.Check(ctx, s, runDate))
	}
	return out
}

// Evaluate computes the record without touching the health log.
func (v *Verifier) Evaluate(ctx context.Context, service string, runDate time.Time) models.HealthRecord {
	dataDate := models.DataDate(runDate)
	rec := models.HealthRecord{
		Service:   service,
		RunDate:   models.FormatDate(runDate),
		DataDate:  models.FormatDate(dataDate),
		Bytes:     -1,
		CheckedAt: v.now().UTC(),
	}

	svc, ok := v.registry.Lookup(service)
	if !ok {
		rec.Status = models.HealthUnknown
		rec.Note = models.NoteUnsupportedService
		return rec
	}

	key, err := v.registry.Resolve(service, dataDate)
	if err != nil {
		rec.Status = models.HealthFail
		rec.Note = models.NoteBadTemplate
		return rec
	}
	rec.Location = key

	store := v.stores[svc.Backend]
	if store == nil {
		rec.Status = models.HealthFail
		rec.Note = models.NoteBackendNotConfigured
		return rec
	}
	rec.Location = store.Location(key)

	info, err := store.Stat(ctx, key)
	if err != nil {
		rec.Status = models.HealthFail
		rec.Note = noteFor(err)
		return rec
	}
	rec.Bytes = info.Size
	if info.Location != "" {
		rec.Location = info.Location
	}

	switch {
	case info.Size == 0:
		rec.Status = models.HealthFail
		rec.Note = models.NoteZeroBytes
		return rec
	case info.Size < svc.MinBytes:
		rec.Status = models.HealthFail
		rec.Note = models.NoteBelowMinBytes
		return rec
	}

	if svc.MinLines > 0 {
		prefix, err := store.ReadPrefix(ctx, key, lineProbeBytes)
		if err != nil {
			rec.Status = models.HealthFail
			rec.Note = noteFor(err)
			return rec
		}
		if countLines(prefix) < svc.MinLines {
			rec.Status = models.HealthFail
			rec.Note = models.NoteTooFewLines
			return rec
		}
	}

	rec.Status = models.HealthOK
	return rec
}

func noteFor(err error) string {
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		return models.NoteNotFound
	case errors.Is(err, artifact.ErrNoCredentials):
		return models.NoteMissingCredential
	case errors.Is(err, artifact.ErrAccessDenied):
		return models.NoteAccessDenied
	default:
		return models.NoteBackendUnavailable
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// countLines counts non-blank lines, ignoring a UTF-8 byte order mark.
func countLines(b []byte) int {
	b = bytes.TrimPrefix(b, utf8BOM)
	n := 0
	for _, line := range bytes.Split(b, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}
