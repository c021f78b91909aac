// Package report renders the summary of one run.
package report

import "time"

const (
	RowWritten = "written"
	RowSkipped = "skipped"
	// RowUnwritten marks a row whose calls finished but whose write was not
	// attempted or did not succeed.
	RowUnwritten = "unwritten"
)

type RowOutcome struct {
	RecordID     string   `json:"record_id"`
	Status       string   `json:"status"`
	SkipReason   string   `json:"skip_reason,omitempty"`
	Fields       []string `json:"fields,omitempty"`
	FailedFields []string `json:"failed_fields,omitempty"`
}

type RunReport struct {
	RunID       string         `json:"run_id"`
	Table       string         `json:"table"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Mode        string         `json:"mode"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	TotalRows   int            `json:"total_rows"`
	Processed   int            `json:"processed"`
	Written     int            `json:"written"`
	FieldErrors int            `json:"field_errors"`
	Skipped     map[string]int `json:"skipped"`
	Rows        []RowOutcome   `json:"rows"`
	Error       string         `json:"error,omitempty"`
}

func (r RunReport) Succeeded() bool { return r.Error == "" }

func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
