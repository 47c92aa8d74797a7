// Package ledger is the append-only provenance store: per (entity, field)
// attempt history and the currently accepted value.
package ledger

import (
	"sort"
	"sync"

	"github.com/sells-group/consolidate-cli/internal/model"
)

type key struct {
	entity string
	field  string
}

// cell holds one (entity, field) record behind its own lock, so writers for
// distinct keys never contend.
type cell struct {
	mu   sync.Mutex
	rec  model.ProvenanceRecord
	seen map[string]struct{}
}

// Ledger is the single writer of provenance history. Record is idempotent
// per attempt id; Current always reflects the highest-confidence successful
// attempt seen so far, ties broken by most-recent timestamp.
type Ledger struct {
	mu    sync.RWMutex
	cells map[key]*cell
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{cells: make(map[key]*cell)}
}

func (l *Ledger) cell(entity, field string) *cell {
	k := key{entity: entity, field: field}

	l.mu.RLock()
	c, ok := l.cells[k]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok = l.cells[k]; ok {
		return c
	}
	c = &cell{
		rec: model.ProvenanceRecord{
			EntityID: entity,
			FieldKey: field,
		},
		seen: make(map[string]struct{}),
	}
	l.cells[k] = c
	return c
}

// Record appends an attempt to the (entity, field) history and returns a
// snapshot of the resulting record. Re-recording an attempt id is a no-op.
func (l *Ledger) Record(entity, field string, attempt model.FetchAttempt) model.ProvenanceRecord {
	c := l.cell(entity, field)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.seen[attempt.ID]; dup {
		return snapshot(c.rec)
	}
	c.seen[attempt.ID] = struct{}{}
	c.rec.Attempts = append(c.rec.Attempts, attempt)

	if attempt.Succeeded() && betterThan(attempt, c.rec) {
		c.rec.Value = attempt.Value
		c.rec.Source = attempt.Source
		c.rec.Confidence = attempt.Confidence
		c.rec.Tier = attempt.Tier
		c.rec.NetworkUsed = attempt.NetworkUsed
		c.rec.RecordedAt = attempt.Timestamp
	}

	return snapshot(c.rec)
}

// betterThan reports whether the attempt should displace the current value.
func betterThan(a model.FetchAttempt, cur model.ProvenanceRecord) bool {
	if cur.Value == "" && cur.RecordedAt.IsZero() {
		return true
	}
	if a.Confidence != cur.Confidence {
		return a.Confidence > cur.Confidence
	}
	return a.Timestamp.After(cur.RecordedAt)
}

// Current returns the accepted record for (entity, field), or nil when no
// successful attempt has been recorded.
func (l *Ledger) Current(entity, field string) *model.ProvenanceRecord {
	k := key{entity: entity, field: field}

	l.mu.RLock()
	c, ok := l.cells[k]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rec.Value == "" {
		return nil
	}
	rec := snapshot(c.rec)
	return &rec
}

// History returns the ordered attempt history for (entity, field).
func (l *Ledger) History(entity, field string) []model.FetchAttempt {
	k := key{entity: entity, field: field}

	l.mu.RLock()
	c, ok := l.cells[k]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.FetchAttempt, len(c.rec.Attempts))
	copy(out, c.rec.Attempts)
	return out
}

// Fields returns the field keys with any recorded history for an entity,
// sorted for stable iteration.
func (l *Ledger) Fields(entity string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var fields []string
	for k := range l.cells {
		if k.entity == entity {
			fields = append(fields, k.field)
		}
	}
	sort.Strings(fields)
	return fields
}

func snapshot(rec model.ProvenanceRecord) model.ProvenanceRecord {
	out := rec
	out.Attempts = make([]model.FetchAttempt, len(rec.Attempts))
	copy(out.Attempts, rec.Attempts)
	return out
}
