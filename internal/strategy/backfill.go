package strategy

import (
	"context"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// BackfillProvider is the final relaxed pass: it re-runs the earlier tiers
// and surfaces their best answer so the orchestrator can accept it against a
// scaled-down floor. It introduces no new sources of its own.
type BackfillProvider struct {
	inner []Provider
}

// NewBackfillProvider wraps the tier 1-3 providers for the relaxed pass.
func NewBackfillProvider(inner ...Provider) *BackfillProvider {
	return &BackfillProvider{inner: inner}
}

func (p *BackfillProvider) Name() string     { return "backfill" }
func (p *BackfillProvider) Tier() model.Tier { return model.TierBackfill }

func (p *BackfillProvider) CanProvide(field string) bool {
	for _, inner := range p.inner {
		if inner.CanProvide(field) {
			return true
		}
	}
	return false
}

func (p *BackfillProvider) Attempt(ctx context.Context, target *model.ResearchTarget, field string) model.FetchAttempt {
	attempt := newAttempt(target, field, p.Name(), model.TierBackfill)

	var best *model.FetchAttempt
	lastReason := model.ReasonNoSource
	for _, inner := range p.inner {
		if !inner.CanProvide(field) {
			continue
		}
		got := inner.Attempt(ctx, target, field)
		attempt.NetworkUsed = attempt.NetworkUsed || got.NetworkUsed
		if got.Succeeded() {
			if best == nil || got.Confidence > best.Confidence {
				best = &got
			}
			continue
		}
		if got.Reason != "" {
			lastReason = got.Reason
		}
		if got.Reason == model.ReasonCancelled {
			break
		}
	}

	if best == nil {
		return failure(attempt, lastReason)
	}
	attempt.Source = best.Source
	return success(attempt, best.Value, best.Confidence)
}
