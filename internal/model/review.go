package model

import "time"

// ReviewKind distinguishes what a review item adjudicates.
type ReviewKind string

const (
	ReviewKindMatch ReviewKind = "match"
	ReviewKindField ReviewKind = "field"
)

// ReviewStatus is the lifecycle of a review item.
type ReviewStatus string

const (
	ReviewPending ReviewStatus = "pending"
	ReviewDecided ReviewStatus = "decided"
)

// Decision is a human adjudication outcome.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionOverride Decision = "override"
)

// ReviewItem is a match pair or low-confidence field value awaiting a human
// decision. Decided items are not re-queued unless the underlying evidence
// changes.
type ReviewItem struct {
	ID     string       `json:"id"`
	Kind   ReviewKind   `json:"kind"`
	Status ReviewStatus `json:"status"`

	// Match adjudication.
	MatchPairID string `json:"match_pair_id,omitempty"`
	EntityA     string `json:"entity_a,omitempty"`
	EntityB     string `json:"entity_b,omitempty"`

	// Field adjudication.
	EntityID   string  `json:"entity_id,omitempty"`
	FieldKey   string  `json:"field_key,omitempty"`
	Value      string  `json:"value,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DecidedItem is a review item with its human decision attached, delivered
// asynchronously by the review feed.
type DecidedItem struct {
	ItemID        string    `json:"item_id"`
	Decision      Decision  `json:"decision"`
	OverrideValue string    `json:"override_value,omitempty"`
	DecidedBy     string    `json:"decided_by,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}
