package models

import (
	"fmt"
	"time"
)

// Health record statuses.
const (
	HealthOK      = "ok"
	HealthFail    = "fail"
	HealthUnknown = "unknown"
)

// Note codes explaining a non-ok health record.
const (
	NoteZeroBytes            = "zero_bytes"
	NoteBelowMinBytes        = "below_min_bytes"
	NoteTooFewLines          = "too_few_lines"
	NoteNotFound             = "not_found"
	NoteMissingCredential    = "missing_credential"
	NoteAccessDenied         = "access_denied"
	NoteBackendUnavailable   = "backend_unavailable"
	NoteBackendNotConfigured = "backend_not_configured"
	NoteBadTemplate          = "bad_location_template"
	NoteUnsupportedService   = "unsupported_service"
)

// DateLayout is the calendar date format used for run and data dates.
const DateLayout = "2006-01-02"

// HealthRecord asserts whether a service's expected artifact exists and is non-empty.
// Records are appended to the per-run-date health log and never mutated.
type HealthRecord struct {
	Service   string    `json:"service"`
	RunDate   string    `json:"run_date"`
	DataDate  string    `json:"data_date"`
	Status    string    `json:"status"`
	Bytes     int64     `json:"bytes"`
	Location  string    `json:"location"`
	Note      string    `json:"note"`
	CheckedAt time.Time `json:"checked_at"`
}

func (r HealthRecord) OK() bool {
	return r.Status == HealthOK
}

// Day truncates t to its calendar date in t's location and returns it as midnight UTC,
// so date arithmetic is free of DST effects.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// DataDate is the business date covered by a run: one day before the run date.
func DataDate(runDate time.Time) time.Time {
	return Day(runDate).AddDate(0, 0, -1)
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return Day(t).Format(DateLayout)
}
