package model

import "time"

// Apply outcomes recorded in the journal.
const (
	OutcomeApplied  = "applied"
	OutcomeFallback = "fallback"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// ApplyRecord is one journal row written by the reconciliation loop.
type ApplyRecord struct {
	TreeHash   string    `json:"treeHash"`
	LimitsHash string    `json:"limitsHash"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}
