package model

import "time"

// ProvenanceRecord is the per (entity, field) audit trail: the currently
// accepted value's origin plus the full ordered attempt history. The ledger
// is its single writer; history is append-only.
type ProvenanceRecord struct {
	EntityID    string         `json:"entity_id"`
	FieldKey    string         `json:"field_key"`
	Value       string         `json:"value"`
	Source      string         `json:"source"`
	Confidence  float64        `json:"confidence"`
	Tier        Tier           `json:"tier"`
	NetworkUsed bool           `json:"network_used"`
	RecordedAt  time.Time      `json:"recorded_at"`
	Attempts    []FetchAttempt `json:"attempts"`
}

// MeetsFloor reports whether the accepted value clears the given floor.
func (p *ProvenanceRecord) MeetsFloor(floor float64) bool {
	return p != nil && p.Value != "" && p.Confidence >= floor
}
