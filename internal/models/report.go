package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleReport accumulates the outcome of one pipeline run. Per-candidate
// failures are recorded here instead of escaping to the scheduler.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time

	EmailsFound       int
	EmailsProcessed   int
	ArchivesExtracted int
	PaymentsExtracted int
	PaymentsDelivered int
	PaymentsDuplicate int
	RowsSkipped       int
	WebhookSent       bool

	FailureCounts map[string]int
	Errors        []string
}

// NewCycleReport starts a report for a cycle beginning now.
func NewCycleReport(now time.Time) *CycleReport {
	return &CycleReport{
		CycleID:       uuid.NewString(),
		StartedAt:     now,
		FailureCounts: make(map[string]int),
	}
}

// RecordFailure counts an error under its taxonomy bucket and keeps its
// message for the cycle summary.
func (r *CycleReport) RecordFailure(bucket string, err error) {
	r.FailureCounts[bucket]++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", bucket, err))
}

// Succeeded reports whether the cycle finished without recorded failures.
func (r *CycleReport) Succeeded() bool {
	return len(r.Errors) == 0
}

// Summary renders the headline counts for logging.
func (r *CycleReport) Summary() string {
	return fmt.Sprintf(
		"cycle %s: emails=%d processed=%d archives=%d extracted=%d delivered=%d duplicates=%d rows_skipped=%d failures=%d",
		r.CycleID, r.EmailsFound, r.EmailsProcessed, r.ArchivesExtracted,
		r.PaymentsExtracted, r.PaymentsDelivered, r.PaymentsDuplicate,
		r.RowsSkipped, len(r.Errors),
	)
}
