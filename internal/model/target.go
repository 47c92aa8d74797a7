package model

import "time"

// TargetState tracks a research target through the enrichment plan.
type TargetState string

const (
	TargetPending       TargetState = "pending"
	TargetLocal         TargetState = "local"
	TargetDeterministic TargetState = "deterministic"
	TargetNetwork       TargetState = "network"
	TargetBackfill      TargetState = "backfill"
	TargetResolved      TargetState = "resolved"
	TargetLowConfidence TargetState = "low_confidence"
)

// Terminal reports whether the state ends a target's plan.
func (s TargetState) Terminal() bool {
	return s == TargetResolved || s == TargetLowConfidence
}

// ResearchTarget is one entity requiring enrichment. The orchestrator owns
// its lifecycle: created when a record enters enrichment, mutated as fields
// fill, discarded at a terminal state.
type ResearchTarget struct {
	EntityID string            `json:"entity_id"`
	Known    map[string]string `json:"known"`
	Required []string          `json:"required"`
	// Floors holds per-field confidence floors; fields absent here use the
	// profile default.
	Floors map[string]float64 `json:"floors,omitempty"`
	// AllowNetwork is the per-request network gate. Network strategies run
	// only when this, the feature flag, and the runtime flag all agree.
	AllowNetwork bool        `json:"allow_network"`
	State        TargetState `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Floor returns the confidence floor for a field, falling back to def.
func (t *ResearchTarget) Floor(field string, def float64) float64 {
	if f, ok := t.Floors[field]; ok && f > 0 {
		return f
	}
	return def
}

// TargetResult is the outcome reported for a target at terminal state.
type TargetResult struct {
	EntityID string            `json:"entity_id"`
	State    TargetState       `json:"state"`
	Fields   map[string]string `json:"fields"`
	// Unresolved maps each required field that missed its floor to the
	// specific reason it could not be resolved.
	Unresolved map[string]string            `json:"unresolved,omitempty"`
	Provenance map[string]*ProvenanceRecord `json:"provenance,omitempty"`
	ClusterID  string                       `json:"cluster_id,omitempty"`
}
