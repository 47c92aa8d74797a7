package model

import "time"

// Tier identifies one stage of the enrichment fallback chain.
type Tier int

const (
	TierManual   Tier = 0 // operator override from a review decision
	TierLocal    Tier = 1 // authority datasets and prior runs, always offline
	TierDerive   Tier = 2 // deterministic derivation from known fields
	TierNetwork  Tier = 3 // gated network fetch
	TierBackfill Tier = 4 // relaxed-floor re-attempt of tiers 1-3
)

// String returns the tier's wire name.
func (t Tier) String() string {
	switch t {
	case TierManual:
		return "manual"
	case TierLocal:
		return "local"
	case TierDerive:
		return "derive"
	case TierNetwork:
		return "network"
	case TierBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// AttemptOutcome is the result class of a single strategy attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
	OutcomeSkipped AttemptOutcome = "skipped"
)

// Attempt failure/skip reasons surfaced in low-confidence results.
const (
	ReasonNoSource         = "no_source"
	ReasonNetworkDisabled  = "network_disabled"
	ReasonBudgetExhausted  = "budget_exhausted"
	ReasonPolitenessDenied = "politeness_denied"
	ReasonCancelled        = "cancelled"
	ReasonBelowFloor       = "below_floor"
)

// FetchAttempt records one execution of a strategy against a target/field.
// Immutable once recorded.
type FetchAttempt struct {
	ID          string         `json:"id"`
	EntityID    string         `json:"entity_id"`
	FieldKey    string         `json:"field_key"`
	Tier        Tier           `json:"tier"`
	Source      string         `json:"source"`
	Outcome     AttemptOutcome `json:"outcome"`
	Value       string         `json:"value,omitempty"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason,omitempty"`
	NetworkUsed bool           `json:"network_used"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Succeeded reports whether the attempt produced a usable value.
func (a FetchAttempt) Succeeded() bool {
	return a.Outcome == OutcomeSuccess
}
