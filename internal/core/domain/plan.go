package domain

import "time"

type PlanEntryStatus string

const (
	PlanEntryStatusPending     PlanEntryStatus = "pending"
	PlanEntryStatusResubmitted PlanEntryStatus = "resubmitted"
)

// RecoveryPlanEntry is a durable record of an item that could not be
// processed, kept for later manual or automated re-attempt. Entries are
// never auto-deleted.
type RecoveryPlanEntry struct {
	ID              string          `json:"id"`
	JobID           string          `json:"job_id"`
	ItemID          string          `json:"item_id"`
	Reason          string          `json:"reason"`
	Status          PlanEntryStatus `json:"status"`
	FirstDetectedAt time.Time       `json:"first_detected_at"`
	RetryAfter      time.Time       `json:"retry_after,omitempty"`
}
