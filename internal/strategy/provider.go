// Package strategy implements the tiered enrichment chain: local authority
// lookups, deterministic derivation, gated network fetches, and the
// relaxed-floor backfill pass.
package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// Provider is a single enrichment strategy. Attempt never returns an error:
// every execution, including denials and skips, is expressed as a
// FetchAttempt so the ledger records a complete history.
type Provider interface {
	// Name identifies the provider in provenance records.
	Name() string
	// Tier is the chain stage this provider belongs to.
	Tier() model.Tier
	// CanProvide reports whether the provider can supply a field at all.
	CanProvide(field string) bool
	// Attempt tries to produce a value for one target field.
	Attempt(ctx context.Context, target *model.ResearchTarget, field string) model.FetchAttempt
}

// Registry holds providers ordered by tier. Providers within a tier run in
// registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider, keeping the tier ordering stable.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Tier() < r.providers[j].Tier()
	})
}

// ForTier returns the providers registered at a tier.
func (r *Registry) ForTier(tier model.Tier) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, p := range r.providers {
		if p.Tier() == tier {
			out = append(out, p)
		}
	}
	return out
}

// All returns every provider in tier order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

func newAttempt(target *model.ResearchTarget, field, source string, tier model.Tier) model.FetchAttempt {
	return model.FetchAttempt{
		ID:        uuid.NewString(),
		EntityID:  target.EntityID,
		FieldKey:  field,
		Tier:      tier,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

func success(a model.FetchAttempt, value string, confidence float64) model.FetchAttempt {
	a.Outcome = model.OutcomeSuccess
	a.Value = value
	a.Confidence = confidence
	return a
}

func failure(a model.FetchAttempt, reason string) model.FetchAttempt {
	a.Outcome = model.OutcomeFailure
	a.Reason = reason
	return a
}

func skipped(a model.FetchAttempt, reason string) model.FetchAttempt {
	a.Outcome = model.OutcomeSkipped
	a.Reason = reason
	return a
}
