// Package review bridges the enrichment core and human adjudication. The
// queue is external: enqueue is fire-and-forget and decisions arrive
// asynchronously through polling or the serve webhook.
package review

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/store"
)

// Gateway is the orchestrator's view of the review system.
type Gateway interface {
	// EnqueueMatch parks a borderline match pair for adjudication and
	// returns the queue reference. The run continues without waiting.
	EnqueueMatch(ctx context.Context, pair model.MatchPair, reason string) (string, error)
	// EnqueueField parks a low-confidence field value.
	EnqueueField(ctx context.Context, entityID, field, value string, confidence float64, reason string) (string, error)
	// Decisions returns decisions made since the last call.
	Decisions(ctx context.Context) ([]model.DecidedItem, error)
}

// StoreGateway implements Gateway on the persistence layer.
type StoreGateway struct {
	store store.Store
	now   func() time.Time
}

// NewGateway builds a store-backed gateway.
func NewGateway(st store.Store) *StoreGateway {
	return &StoreGateway{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow fixes the clock. Used by tests.
func (g *StoreGateway) WithNow(now func() time.Time) *StoreGateway {
	g.now = now
	return g
}

func (g *StoreGateway) EnqueueMatch(ctx context.Context, pair model.MatchPair, reason string) (string, error) {
	item := model.ReviewItem{
		ID:          uuid.NewString(),
		Kind:        model.ReviewKindMatch,
		Status:      model.ReviewPending,
		MatchPairID: pair.ID,
		EntityA:     pair.EntityA,
		EntityB:     pair.EntityB,
		Confidence:  pair.Probability,
		Reason:      reason,
		EnqueuedAt:  g.now(),
	}
	if err := g.store.EnqueueReview(ctx, item); err != nil {
		return "", err
	}
	zap.L().Info("match queued for review",
		zap.String("item_id", item.ID),
		zap.String("pair_id", pair.ID),
		zap.Float64("probability", pair.Probability))
	return item.ID, nil
}

func (g *StoreGateway) EnqueueField(ctx context.Context, entityID, field, value string, confidence float64, reason string) (string, error) {
	item := model.ReviewItem{
		ID:         uuid.NewString(),
		Kind:       model.ReviewKindField,
		Status:     model.ReviewPending,
		EntityID:   entityID,
		FieldKey:   field,
		Value:      value,
		Confidence: confidence,
		Reason:     reason,
		EnqueuedAt: g.now(),
	}
	if err := g.store.EnqueueReview(ctx, item); err != nil {
		return "", err
	}
	zap.L().Info("field queued for review",
		zap.String("item_id", item.ID),
		zap.String("entity_id", entityID),
		zap.String("field", field))
	return item.ID, nil
}

func (g *StoreGateway) Decisions(ctx context.Context) ([]model.DecidedItem, error) {
	return g.store.PollDecisions(ctx)
}
