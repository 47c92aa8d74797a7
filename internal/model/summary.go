package model

import "time"

// RunSummary is the run-level rollup handed to external reporting.
type RunSummary struct {
	RunID           string         `json:"run_id"`
	TargetsTotal    int            `json:"targets_total"`
	Resolved        int            `json:"resolved"`
	LowConfidence   int            `json:"low_confidence"`
	TierAttempts    map[string]int `json:"tier_attempts"`
	NetworkAttempts int            `json:"network_attempts"`
	NetworkSkipped  int            `json:"network_skipped"`
	PairsScored     int            `json:"pairs_scored"`
	PairsMatched    int            `json:"pairs_matched"`
	PairsReview     int            `json:"pairs_review"`
	Merged          int            `json:"merged"`
	ReviewEnqueued  int            `json:"review_enqueued"`
	DomainsCooled   int            `json:"domains_cooled"`
	PermitsDenied   int            `json:"permits_denied"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}
