// Package orchestrator drives research targets through the tiered
// enrichment plan, keeps the identity graph and resolution engine current as
// evidence arrives, and routes borderline outcomes to human review.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/identity"
	"github.com/sells-group/consolidate-cli/internal/ledger"
	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/ratelimit"
	"github.com/sells-group/consolidate-cli/internal/resolve"
	"github.com/sells-group/consolidate-cli/internal/review"
	"github.com/sells-group/consolidate-cli/internal/store"
	"github.com/sells-group/consolidate-cli/internal/strategy"
)

// stage maps a target state to the tier attempted in that state.
type stage struct {
	state model.TargetState
	tier  model.Tier
}

var stages = []stage{
	{model.TargetLocal, model.TierLocal},
	{model.TargetDeterministic, model.TierDerive},
	{model.TargetNetwork, model.TierNetwork},
	{model.TargetBackfill, model.TierBackfill},
}

// Options configure a run.
type Options struct {
	Workers      int
	Deadline     time.Duration
	PollInterval time.Duration
}

// Orchestrator owns one enrichment run end to end.
type Orchestrator struct {
	profile  *config.Profile
	registry *strategy.Registry
	ledger   *ledger.Ledger
	graph    *identity.Graph
	engine   *resolve.Engine
	gateway  review.Gateway
	store    store.Store
	limiter  *ratelimit.Manager
	opts     Options

	mu sync.Mutex
	// queued maps match-pair id to review item id so a pair is enqueued once.
	queued map[string]string
	// items maps review item id back to what it adjudicates.
	items   map[string]reviewRef
	summary model.RunSummary
}

type reviewRef struct {
	kind     model.ReviewKind
	pairID   string
	entityID string
	field    string
}

// New wires an orchestrator around shared run state.
func New(profile *config.Profile, registry *strategy.Registry, led *ledger.Ledger, graph *identity.Graph, engine *resolve.Engine, gateway review.Gateway, st store.Store, limiter *ratelimit.Manager, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Orchestrator{
		profile:  profile,
		registry: registry,
		ledger:   led,
		graph:    graph,
		engine:   engine,
		gateway:  gateway,
		store:    st,
		limiter:  limiter,
		opts:     opts,
		queued:   make(map[string]string),
		items:    make(map[string]reviewRef),
	}
}

// Run processes all targets to a terminal state and returns their results
// with the run summary. Decisions arriving during the run are applied as
// they land; pairs still pending review at the end stay parked for the next
// run.
func (o *Orchestrator) Run(ctx context.Context, targets []*model.ResearchTarget) ([]model.TargetResult, model.RunSummary, error) {
	started := time.Now().UTC()
	o.mu.Lock()
	o.summary = model.RunSummary{
		RunID:        uuid.NewString(),
		TargetsTotal: len(targets),
		TierAttempts: make(map[string]int),
		StartedAt:    started,
	}
	runID := o.summary.RunID
	o.mu.Unlock()

	if o.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Deadline)
		defer cancel()
	}

	zap.L().Info("run started",
		zap.String("run_id", runID),
		zap.Int("targets", len(targets)),
		zap.Int("workers", o.opts.Workers))

	// Register every target up front so blocking candidates exist even for
	// targets a worker has not reached yet.
	for _, t := range targets {
		o.engine.UpsertRecord(resolve.BuildRecord(t.EntityID, t.Known,
			o.profile.Resolution.IdentifierFields, o.profile.Resolution.BlockPrefixLen))
	}

	results := make([]model.TargetResult, len(targets))

	workCtx, stopPolling := context.WithCancel(ctx)
	var pollWG sync.WaitGroup
	pollWG.Add(1)
	go func() {
		defer pollWG.Done()
		o.pollDecisions(workCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = o.process(gctx, t)
			return nil
		})
	}
	err := g.Wait()

	stopPolling()
	pollWG.Wait()
	// One final drain so decisions submitted while workers were finishing
	// are not lost to the next run.
	o.applyDecisions(context.WithoutCancel(ctx))

	summary := o.buildSummary(results)
	if o.store != nil {
		if saveErr := o.store.SaveRunSummary(context.WithoutCancel(ctx), summary); saveErr != nil {
			zap.L().Warn("run summary save failed", zap.Error(saveErr))
		}
	}

	zap.L().Info("run finished",
		zap.String("run_id", runID),
		zap.Int("resolved", summary.Resolved),
		zap.Int("low_confidence", summary.LowConfidence),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))
	return results, summary, err
}

// process walks one target through the stages until every required field
// clears its floor or the plan is exhausted.
func (o *Orchestrator) process(ctx context.Context, t *model.ResearchTarget) model.TargetResult {
	if t.Known == nil {
		t.Known = make(map[string]string)
	}
	if len(t.Required) == 0 {
		t.Required = o.profile.RequiredFields
	}

	reasons := make(map[string]string)

	// Score the target against the fields it arrived with; targets that need
	// no enrichment still participate in resolution.
	o.resolveTarget(ctx, t)

	for _, st := range stages {
		t.State = st.state
		floorScale := 1.0
		if st.tier == model.TierBackfill {
			floorScale = o.profile.Backfill.FloorFactor
		}

		changed := false
		for _, field := range t.Required {
			if o.fieldResolved(t, field, floorScale) {
				continue
			}
			if ctx.Err() != nil {
				reasons[field] = model.ReasonCancelled
				continue
			}
			if o.propagate(t, field, st.tier, floorScale) {
				changed = true
				delete(reasons, field)
				continue
			}
			if o.attemptField(ctx, t, field, st.tier, floorScale, reasons) {
				changed = true
			}
		}

		if changed {
			o.resolveTarget(ctx, t)
		}
		if o.allResolved(t, 1.0) {
			break
		}
	}

	return o.finish(ctx, t, reasons)
}

// attemptField runs the tier's providers for one field until the scaled
// floor is met. Reports whether the accepted value changed.
func (o *Orchestrator) attemptField(ctx context.Context, t *model.ResearchTarget, field string, tier model.Tier, floorScale float64, reasons map[string]string) bool {
	before := o.ledger.Current(t.EntityID, field)
	floor := t.Floor(field, o.profile.Floor(field)) * floorScale

	for _, provider := range o.registry.ForTier(tier) {
		if !provider.CanProvide(field) {
			continue
		}
		attempt := provider.Attempt(ctx, t, field)
		rec := o.ledger.Record(t.EntityID, field, attempt)
		o.countAttempt(attempt)

		if attempt.Succeeded() {
			t.Known[field] = rec.Value
		}
		switch {
		case rec.MeetsFloor(floor):
			delete(reasons, field)
		case attempt.Reason != "":
			reasons[field] = attempt.Reason
		}
		if rec.MeetsFloor(floor) {
			break
		}
	}

	after := o.ledger.Current(t.EntityID, field)
	if after == nil {
		return false
	}
	return before == nil || after.Value != before.Value || after.Confidence != before.Confidence
}

// propagate applies neighbour-evidence boosts ahead of fresh attempts so
// corroborated values can clear the floor without spending budget.
func (o *Orchestrator) propagate(t *model.ResearchTarget, field string, tier model.Tier, floorScale float64) bool {
	adj := o.graph.Propagate(t.EntityID, field)
	if adj == nil {
		return false
	}

	attempt := model.FetchAttempt{
		ID:         uuid.NewString(),
		EntityID:   t.EntityID,
		FieldKey:   field,
		Tier:       tier,
		Source:     "propagation",
		Outcome:    model.OutcomeSuccess,
		Value:      adj.Value,
		Confidence: adj.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	rec := o.ledger.Record(t.EntityID, field, attempt)
	t.Known[field] = rec.Value

	floor := t.Floor(field, o.profile.Floor(field)) * floorScale
	return rec.MeetsFloor(floor)
}

func (o *Orchestrator) fieldResolved(t *model.ResearchTarget, field string, floorScale float64) bool {
	floor := t.Floor(field, o.profile.Floor(field)) * floorScale
	return o.ledger.Current(t.EntityID, field).MeetsFloor(floor)
}

func (o *Orchestrator) allResolved(t *model.ResearchTarget, floorScale float64) bool {
	for _, field := range t.Required {
		if !o.fieldResolved(t, field, floorScale) {
			return false
		}
	}
	return true
}

// resolveTarget rebuilds the comparison record from the target's accepted
// values and reruns pairwise resolution, queueing any review-band pairs.
func (o *Orchestrator) resolveTarget(ctx context.Context, t *model.ResearchTarget) {
	fields := make(map[string]string, len(t.Known))
	for k, v := range t.Known {
		fields[k] = v
	}
	for _, field := range o.ledger.Fields(t.EntityID) {
		if cur := o.ledger.Current(t.EntityID, field); cur != nil {
			fields[field] = cur.Value
		}
	}

	o.engine.UpsertRecord(resolve.BuildRecord(t.EntityID, fields,
		o.profile.Resolution.IdentifierFields, o.profile.Resolution.BlockPrefixLen))
	outcome := o.engine.Resolve(t.EntityID)

	o.mu.Lock()
	o.summary.Merged += outcome.Merged
	o.mu.Unlock()

	for _, pair := range outcome.Review {
		o.enqueuePair(ctx, pair)
	}
}

// enqueuePair parks a pair for adjudication exactly once per pair version.
func (o *Orchestrator) enqueuePair(ctx context.Context, pair model.MatchPair) {
	o.mu.Lock()
	if _, dup := o.queued[pair.ID]; dup {
		o.mu.Unlock()
		return
	}
	o.queued[pair.ID] = ""
	o.mu.Unlock()

	itemID, err := o.gateway.EnqueueMatch(ctx, pair, "probability in review band")
	if err != nil {
		zap.L().Warn("review enqueue failed",
			zap.String("pair_id", pair.ID),
			zap.Error(err))
		return
	}

	o.mu.Lock()
	o.queued[pair.ID] = itemID
	o.items[itemID] = reviewRef{kind: model.ReviewKindMatch, pairID: pair.ID}
	o.summary.ReviewEnqueued++
	o.mu.Unlock()
}

// finish assigns the terminal state, persists provenance, and queues
// low-confidence field values for review.
func (o *Orchestrator) finish(ctx context.Context, t *model.ResearchTarget, reasons map[string]string) model.TargetResult {
	result := model.TargetResult{
		EntityID:   t.EntityID,
		Fields:     make(map[string]string),
		Unresolved: make(map[string]string),
		Provenance: make(map[string]*model.ProvenanceRecord),
		ClusterID:  o.graph.Find(t.EntityID),
	}

	for _, field := range t.Required {
		cur := o.ledger.Current(t.EntityID, field)
		floor := t.Floor(field, o.profile.Floor(field))

		if cur != nil {
			result.Fields[field] = cur.Value
			result.Provenance[field] = cur
			if o.store != nil {
				if err := o.store.SaveProvenance(context.WithoutCancel(ctx), *cur); err != nil {
					zap.L().Warn("provenance save failed",
						zap.String("entity_id", t.EntityID),
						zap.String("field", field),
						zap.Error(err))
				}
			}
		}

		if cur.MeetsFloor(floor) {
			continue
		}
		result.Unresolved[field] = o.unresolvedReason(t, field, cur, reasons)
		if cur != nil && cur.Value != "" {
			o.enqueueField(ctx, t.EntityID, field, cur)
		}
	}

	if len(result.Unresolved) == 0 {
		t.State = model.TargetResolved
		result.Unresolved = nil
	} else {
		t.State = model.TargetLowConfidence
	}
	result.State = t.State
	return result
}

// unresolvedReason picks the most specific explanation for a field that
// missed its floor.
func (o *Orchestrator) unresolvedReason(t *model.ResearchTarget, field string, cur *model.ProvenanceRecord, reasons map[string]string) string {
	if r, ok := reasons[field]; ok && r != "" {
		return r
	}
	if cur != nil && cur.Value != "" {
		return model.ReasonBelowFloor
	}
	history := o.ledger.History(t.EntityID, field)
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Reason != "" {
			return history[i].Reason
		}
	}
	return model.ReasonNoSource
}

func (o *Orchestrator) enqueueField(ctx context.Context, entityID, field string, cur *model.ProvenanceRecord) {
	itemID, err := o.gateway.EnqueueField(ctx, entityID, field, cur.Value, cur.Confidence, model.ReasonBelowFloor)
	if err != nil {
		zap.L().Warn("field review enqueue failed",
			zap.String("entity_id", entityID),
			zap.String("field", field),
			zap.Error(err))
		return
	}
	o.mu.Lock()
	o.items[itemID] = reviewRef{kind: model.ReviewKindField, entityID: entityID, field: field}
	o.summary.ReviewEnqueued++
	o.mu.Unlock()
}

func (o *Orchestrator) countAttempt(a model.FetchAttempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary.TierAttempts[a.Tier.String()]++
	if a.NetworkUsed {
		o.summary.NetworkAttempts++
	}
	if a.Outcome == model.OutcomeSkipped {
		switch a.Reason {
		case model.ReasonNetworkDisabled, model.ReasonPolitenessDenied, model.ReasonBudgetExhausted:
			o.summary.NetworkSkipped++
		}
	}
}

func (o *Orchestrator) buildSummary(results []model.TargetResult) model.RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, r := range results {
		switch r.State {
		case model.TargetResolved:
			o.summary.Resolved++
		case model.TargetLowConfidence:
			o.summary.LowConfidence++
		}
	}
	o.summary.PairsScored, o.summary.PairsMatched, o.summary.PairsReview = o.engine.Stats()
	if o.limiter != nil {
		o.summary.PermitsDenied, o.summary.DomainsCooled = o.limiter.Stats()
	}
	o.summary.FinishedAt = time.Now().UTC()
	return o.summary
}
