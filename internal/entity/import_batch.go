package entity

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ImportStatus tracks where an import batch sits in its lifecycle.
type ImportStatus string

// Import batch lifecycle states, in order. Transitions only move forward.
const (
	ImportUploaded   ImportStatus = "uploaded"
	ImportMapping    ImportStatus = "mapping"
	ImportValidating ImportStatus = "validating"
	ImportImporting  ImportStatus = "importing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
)

var importStatusRank = map[ImportStatus]int{
	ImportUploaded:   0,
	ImportMapping:    1,
	ImportValidating: 2,
	ImportImporting:  3,
	ImportCompleted:  4,
	ImportFailed:     4,
}

// Valid reports whether the status is one of the known states.
func (s ImportStatus) Valid() bool {
	_, ok := importStatusRank[s]
	return ok
}

// Terminal reports whether the batch can no longer change state.
func (s ImportStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed
}

// CanTransitionTo enforces the forward-only state machine.
func (s ImportStatus) CanTransitionTo(next ImportStatus) bool {
	from, okFrom := importStatusRank[s]
	to, okTo := importStatusRank[next]
	if !okFrom || !okTo {
		return false
	}
	return !s.Terminal() && to > from
}

// ImportAction is the outcome of processing one CSV row.
type ImportAction string

// Row outcomes tallied on the batch counters.
const (
	ActionCreated ImportAction = "created"
	ActionUpdated ImportAction = "updated"
	ActionSkipped ImportAction = "skipped"
	ActionError   ImportAction = "error"
)

// ImportOptions control how an import run treats existing contacts and
// which defaults are stamped onto each mapped row.
type ImportOptions struct {
	UpdateExisting   bool     `json:"update_existing"`
	OverrideExisting bool     `json:"override_existing"`
	DefaultConsent   string   `json:"default_consent,omitempty"`
	DefaultTags      []string `json:"default_tags,omitempty"`
	DefaultSource    string   `json:"default_source,omitempty"`
}

// ImportError is one durable entry in a batch's error log.
type ImportError struct {
	Row       int      `json:"row"`
	Errors    []string `json:"errors"`
	Timestamp string   `json:"timestamp"`
}

// ImportBatch is one CSV upload-to-completion lifecycle with its own
// status, counters and error log. It owns no foreign keys to contacts;
// it only tallies outcomes.
type ImportBatch struct {
	ID               uuid.UUID         `json:"id"`
	UserID           uuid.UUID         `json:"user_id"`
	Status           ImportStatus      `json:"status"`
	Filename         string            `json:"filename"`
	OriginalFilename string            `json:"original_filename"`
	TotalRows        int               `json:"total_rows"`
	ImportedCount    int               `json:"imported_count"`
	UpdatedCount     int               `json:"updated_count"`
	SkippedCount     int               `json:"skipped_count"`
	ErrorCount       int               `json:"error_count"`
	ColumnMapping    map[string]string `json:"column_mapping"`
	Options          ImportOptions     `json:"options"`
	ErrorLog         []ImportError     `json:"error_log"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	FinishedAt       *time.Time        `json:"finished_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Processed sums every counter; the invariant Processed() <= TotalRows
// holds at all times during a run.
func (b *ImportBatch) Processed() int {
	return b.ImportedCount + b.UpdatedCount + b.SkippedCount + b.ErrorCount
}

// ProgressPercentage reports processed rows as a percentage rounded to one
// decimal place. Zero when no rows were counted.
func (b *ImportBatch) ProgressPercentage() float64 {
	if b.TotalRows == 0 {
		return 0
	}
	return math.Round(float64(b.Processed())/float64(b.TotalRows)*1000) / 10
}

// SuccessRate reports created+updated rows as a percentage rounded to one
// decimal place.
func (b *ImportBatch) SuccessRate() float64 {
	if b.TotalRows == 0 {
		return 0
	}
	successful := b.ImportedCount + b.UpdatedCount
	return math.Round(float64(successful)/float64(b.TotalRows)*1000) / 10
}

// Completed reports whether the batch reached a terminal state.
func (b *ImportBatch) Completed() bool {
	return b.Status.Terminal()
}

// Processing reports whether the batch is between upload and completion.
func (b *ImportBatch) Processing() bool {
	switch b.Status {
	case ImportMapping, ImportValidating, ImportImporting:
		return true
	}
	return false
}

// Duration formats the elapsed run time as HH:MM:SS, or nil when the batch
// has not both started and finished.
func (b *ImportBatch) Duration() *string {
	if b.StartedAt == nil || b.FinishedAt == nil {
		return nil
	}
	elapsed := b.FinishedAt.Sub(*b.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	total := int(elapsed.Seconds())
	formatted := fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	return &formatted
}
