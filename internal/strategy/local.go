package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/resolve"
	"github.com/sells-group/consolidate-cli/internal/store"
)

// AuthorityProvider answers fields from configured authority datasets and
// prior-run provenance. Always offline, never consumes network budget.
type AuthorityProvider struct {
	store store.Store
}

// NewAuthorityProvider builds the tier-1 provider.
func NewAuthorityProvider(st store.Store) *AuthorityProvider {
	return &AuthorityProvider{store: st}
}

func (p *AuthorityProvider) Name() string     { return "authority" }
func (p *AuthorityProvider) Tier() model.Tier { return model.TierLocal }

func (p *AuthorityProvider) CanProvide(field string) bool {
	// Authority datasets are keyed by name, so the name itself never comes
	// from them.
	return field != model.FieldName
}

func (p *AuthorityProvider) Attempt(ctx context.Context, target *model.ResearchTarget, field string) model.FetchAttempt {
	attempt := newAttempt(target, field, p.Name(), model.TierLocal)

	name := target.Known[model.FieldName]
	if name == "" {
		return failure(attempt, model.ReasonNoSource)
	}

	av, err := p.store.LookupAuthority(ctx, resolve.NormalizeName(name), target.Known[model.FieldState], field)
	if err != nil {
		zap.L().Warn("authority lookup failed",
			zap.String("entity_id", target.EntityID),
			zap.String("field", field),
			zap.Error(err))
		return failure(attempt, model.ReasonNoSource)
	}
	if av == nil {
		return failure(attempt, model.ReasonNoSource)
	}
	attempt.Source = av.Source
	return success(attempt, av.Value, av.Confidence)
}

// PriorRunProvider replays values accepted in earlier runs so re-enriching a
// known entity stays offline.
type PriorRunProvider struct {
	store store.Store
}

// NewPriorRunProvider builds the tier-1 prior-provenance provider.
func NewPriorRunProvider(st store.Store) *PriorRunProvider {
	return &PriorRunProvider{store: st}
}

func (p *PriorRunProvider) Name() string           { return "prior_run" }
func (p *PriorRunProvider) Tier() model.Tier       { return model.TierLocal }
func (p *PriorRunProvider) CanProvide(string) bool { return true }

func (p *PriorRunProvider) Attempt(ctx context.Context, target *model.ResearchTarget, field string) model.FetchAttempt {
	attempt := newAttempt(target, field, p.Name(), model.TierLocal)

	rec, err := p.store.GetProvenance(ctx, target.EntityID, field)
	if err != nil {
		zap.L().Warn("prior provenance lookup failed",
			zap.String("entity_id", target.EntityID),
			zap.String("field", field),
			zap.Error(err))
		return failure(attempt, model.ReasonNoSource)
	}
	if rec == nil || rec.Value == "" {
		return failure(attempt, model.ReasonNoSource)
	}
	attempt.Source = rec.Source
	return success(attempt, rec.Value, rec.Confidence)
}
