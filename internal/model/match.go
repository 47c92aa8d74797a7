package model

import "time"

// Classification is the threshold decision for a scored pair.
type Classification string

const (
	ClassCandidate Classification = "candidate"
	ClassMatch     Classification = "match"
	ClassReview    Classification = "review"
	ClassReject    Classification = "reject"
)

// FeatureScore is one component of a pair's comparison vector.
type FeatureScore struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
	// Compared is false when either side lacked the field; the feature is
	// then excluded from the weighted sum.
	Compared bool `json:"compared"`
}

// MatchPair is a scored, classified candidate pair. Immutable after
// classification; reclassification creates a new version referencing the
// prior via PrevID.
type MatchPair struct {
	ID          string         `json:"id"`
	EntityA     string         `json:"entity_a"`
	EntityB     string         `json:"entity_b"`
	Probability float64        `json:"probability"`
	Class       Classification `json:"class"`
	Vector      []FeatureScore `json:"vector"`
	PrevID      string         `json:"prev_id,omitempty"`
	ScoredAt    time.Time      `json:"scored_at"`
}

// EdgeType labels a relationship edge in the identity graph.
type EdgeType string

const (
	EdgeDuplicate     EdgeType = "duplicate"
	EdgeAffiliate     EdgeType = "affiliate"
	EdgeSharedIdent   EdgeType = "shared_identifier"
	EdgeRejectedMatch EdgeType = "rejected_match"
)
