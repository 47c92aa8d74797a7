package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// pollDecisions applies review decisions as they land, until ctx ends.
func (o *Orchestrator) pollDecisions(ctx context.Context) {
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.applyDecisions(ctx)
		}
	}
}

func (o *Orchestrator) applyDecisions(ctx context.Context) {
	decided, err := o.gateway.Decisions(ctx)
	if err != nil {
		zap.L().Warn("decision poll failed", zap.Error(err))
		return
	}
	for _, d := range decided {
		o.ApplyDecision(ctx, d)
	}
}

// ApplyDecision applies one human adjudication. Unknown item ids are logged
// and skipped; decisions are terminal, so re-delivery of an applied item
// changes nothing.
func (o *Orchestrator) ApplyDecision(ctx context.Context, d model.DecidedItem) {
	o.mu.Lock()
	ref, ok := o.items[d.ItemID]
	delete(o.items, d.ItemID)
	o.mu.Unlock()

	if !ok {
		zap.L().Warn("decision for unknown review item", zap.String("item_id", d.ItemID))
		return
	}

	switch ref.kind {
	case model.ReviewKindMatch:
		o.applyMatchDecision(ref.pairID, d)
	case model.ReviewKindField:
		o.applyFieldDecision(ctx, ref, d)
	}
}

func (o *Orchestrator) applyMatchDecision(pairID string, d model.DecidedItem) {
	switch d.Decision {
	case model.DecisionApprove:
		merged := o.engine.ApproveMatch(pairID)
		zap.L().Info("match approved",
			zap.String("pair_id", pairID),
			zap.Bool("merged", merged))
		if merged {
			o.mu.Lock()
			o.summary.Merged++
			o.mu.Unlock()
		}
	case model.DecisionReject:
		o.engine.RejectMatch(pairID)
		zap.L().Info("match rejected", zap.String("pair_id", pairID))
	default:
		zap.L().Warn("unsupported match decision",
			zap.String("pair_id", pairID),
			zap.String("decision", string(d.Decision)))
	}
}

// applyFieldDecision records the human outcome as a manual-tier attempt.
// Human confirmation is authoritative: approved and overridden values enter
// the ledger at full confidence, which no automated attempt can displace.
func (o *Orchestrator) applyFieldDecision(ctx context.Context, ref reviewRef, d model.DecidedItem) {
	var value string
	switch d.Decision {
	case model.DecisionApprove:
		if cur := o.ledger.Current(ref.entityID, ref.field); cur != nil {
			value = cur.Value
		}
	case model.DecisionOverride:
		value = d.OverrideValue
	case model.DecisionReject:
		zap.L().Info("field value rejected",
			zap.String("entity_id", ref.entityID),
			zap.String("field", ref.field))
		return
	}
	if value == "" {
		return
	}

	decidedAt := d.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	rec := o.ledger.Record(ref.entityID, ref.field, model.FetchAttempt{
		ID:         uuid.NewString(),
		EntityID:   ref.entityID,
		FieldKey:   ref.field,
		Tier:       model.TierManual,
		Source:     "manual_review",
		Outcome:    model.OutcomeSuccess,
		Value:      value,
		Confidence: 1.0,
		Timestamp:  decidedAt,
	})
	if o.store != nil {
		if err := o.store.SaveProvenance(context.WithoutCancel(ctx), rec); err != nil {
			zap.L().Warn("manual provenance save failed",
				zap.String("entity_id", ref.entityID),
				zap.String("field", ref.field),
				zap.Error(err))
		}
	}
	zap.L().Info("field decision applied",
		zap.String("entity_id", ref.entityID),
		zap.String("field", ref.field),
		zap.String("decision", string(d.Decision)))
}
