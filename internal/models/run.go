package models

// RunSummary aggregates a run's task outcomes and the health records logged for its run date.
type RunSummary struct {
	RunID     string         `json:"run_id"`
	RunDate   string         `json:"run_date"`
	Succeeded []string       `json:"succeeded"`
	Failed    []string       `json:"failed"`
	Outcomes  []TaskOutcome  `json:"outcomes"`
	Health    []HealthRecord `json:"health"`
}

// HasTaskFailures reports process-level trouble: at least one task exhausted its attempts.
func (s RunSummary) HasTaskFailures() bool {
	return len(s.Failed) > 0
}

// UnhealthyRecords returns the health records whose status is not ok.
func (s RunSummary) UnhealthyRecords() []HealthRecord {
	var out []HealthRecord
	for _, r := range s.Health {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// NeedsAttention is true when either the process-level or the data-level signal reports trouble.
func (s RunSummary) NeedsAttention() bool {
	return s.HasTaskFailures() || len(s.UnhealthyRecords()) > 0
}
