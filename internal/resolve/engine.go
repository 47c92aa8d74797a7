package resolve

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/identity"
	"github.com/sells-group/consolidate-cli/internal/model"
)

type pairKey struct {
	a, b string
}

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Outcome reports what one resolution pass did for an entity.
type Outcome struct {
	// Pairs are the newly scored-and-classified pairs from this pass.
	Pairs []model.MatchPair
	// Review holds pairs needing human adjudication, including matches
	// whose merge was blocked by a reject edge.
	Review []model.MatchPair
	// Merged counts cluster merges performed.
	Merged int
}

// Engine owns MatchPair lifecycles and graph mutation. Pairs move
// CANDIDATE -> SCORED -> {MATCH, REVIEW, REJECT}; reclassification creates a
// new pair version referencing the prior one.
type Engine struct {
	mu      sync.Mutex
	cfg     config.ResolutionProfile
	scorer  *Scorer
	graph   *identity.Graph
	records map[string]*model.EntityRecord
	blocks  map[string]map[string]struct{}
	pairs   map[string]model.MatchPair
	latest  map[pairKey]string
	rejects map[pairKey]struct{}

	pairsScored  int
	pairsMatched int
	pairsReview  int
}

// NewEngine creates a resolution engine persisting confirmed links to graph.
func NewEngine(cfg config.ResolutionProfile, graph *identity.Graph) *Engine {
	return &Engine{
		cfg:     cfg,
		scorer:  NewScorer(cfg),
		graph:   graph,
		records: make(map[string]*model.EntityRecord),
		blocks:  make(map[string]map[string]struct{}),
		pairs:   make(map[string]model.MatchPair),
		latest:  make(map[pairKey]string),
		rejects: make(map[pairKey]struct{}),
	}
}

// UpsertRecord registers or regenerates an entity's comparison record and
// re-indexes its blocking keys.
func (e *Engine) UpsertRecord(rec *model.EntityRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old, ok := e.records[rec.EntityID]; ok {
		for _, k := range old.BlockKeys {
			delete(e.blocks[k], rec.EntityID)
		}
	}
	e.records[rec.EntityID] = rec
	for _, k := range rec.BlockKeys {
		if e.blocks[k] == nil {
			e.blocks[k] = make(map[string]struct{})
		}
		e.blocks[k][rec.EntityID] = struct{}{}
	}
	e.graph.UpsertNode(rec.EntityID)
}

// Record returns the registered comparison record for an entity, if any.
func (e *Engine) Record(entityID string) *model.EntityRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records[entityID]
}

// candidates returns entity ids sharing at least one blocking key.
func (e *Engine) candidates(rec *model.EntityRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range rec.BlockKeys {
		for id := range e.blocks[k] {
			if id == rec.EntityID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Resolve scores the entity against all blocking candidates, classifies each
// pair, and applies the result: MATCH merges clusters (unless blocked by a
// reject edge, which escalates to review), REVIEW is handed back for
// queueing, REJECT retains a low-weight edge without merging.
func (e *Engine) Resolve(entityID string) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out Outcome
	rec, ok := e.records[entityID]
	if !ok {
		return out
	}

	for _, otherID := range e.candidates(rec) {
		other := e.records[otherID]
		pair := e.scorer.Classify(e.scorer.Score(rec, other))

		k := keyFor(entityID, otherID)
		if prevID, scored := e.latest[k]; scored {
			prev := e.pairs[prevID]
			if prev.Probability == pair.Probability {
				if prev.Class == pair.Class {
					continue // evidence unchanged
				}
				// A match whose merge is still blocked would re-escalate to
				// the same review version it already produced; treat it as
				// unchanged rather than minting duplicates.
				if pair.Class == model.ClassMatch && prev.Class == model.ClassReview {
					if blocked, _ := e.mergeBlocked(entityID, otherID); blocked {
						continue
					}
				}
			}
			pair.PrevID = prevID
		}
		e.storePair(k, pair)
		out.Pairs = append(out.Pairs, pair)
		e.pairsScored++

		switch pair.Class {
		case model.ClassMatch:
			if blocked, via := e.mergeBlocked(entityID, otherID); blocked {
				escalated := pair
				escalated.ID = uuid.NewString()
				escalated.PrevID = pair.ID
				escalated.Class = model.ClassReview
				e.storePair(k, escalated)
				e.graph.AddEdge(pair.EntityA, pair.EntityB, model.EdgeAffiliate, pair.Probability*0.5, escalated.ID)
				out.Review = append(out.Review, escalated)
				e.pairsReview++
				zap.L().Info("resolve: merge blocked by reject edge, escalating",
					zap.String("entity_a", pair.EntityA),
					zap.String("entity_b", pair.EntityB),
					zap.String("reject_via", via),
				)
				continue
			}
			e.graph.AddEdge(pair.EntityA, pair.EntityB, model.EdgeDuplicate, pair.Probability, pair.ID)
			e.graph.Merge(pair.EntityA, pair.EntityB)
			out.Merged++
			e.pairsMatched++

		case model.ClassReview:
			e.graph.AddEdge(pair.EntityA, pair.EntityB, e.reviewEdgeType(pair), pair.Probability, pair.ID)
			out.Review = append(out.Review, pair)
			e.pairsReview++

		case model.ClassReject:
			e.rejects[k] = struct{}{}
			e.graph.AddEdge(pair.EntityA, pair.EntityB, model.EdgeRejectedMatch, pair.Probability, pair.ID)
		}
	}

	return out
}

// reviewEdgeType labels a review-band edge: shared-identifier when an
// identifier field matched exactly, affiliate otherwise.
func (e *Engine) reviewEdgeType(pair model.MatchPair) model.EdgeType {
	for _, f := range pair.Vector {
		if f.Feature == "name" || f.Feature == "geo" {
			continue
		}
		if f.Compared && f.Score == 1.0 {
			return model.EdgeSharedIdent
		}
	}
	return model.EdgeAffiliate
}

func (e *Engine) storePair(k pairKey, pair model.MatchPair) {
	e.pairs[pair.ID] = pair
	e.latest[k] = pair.ID
}

// mergeBlocked reports whether joining the two clusters would bridge a
// REJECT-classified pair between any of their members.
func (e *Engine) mergeBlocked(a, b string) (bool, string) {
	membersA := e.graph.Members(a)
	membersB := e.graph.Members(b)
	for _, ma := range membersA {
		for _, mb := range membersB {
			if _, rejected := e.rejects[keyFor(ma, mb)]; rejected {
				return true, ma + "/" + mb
			}
		}
	}
	return false, ""
}

// ApproveMatch applies a human approve decision: the pair is reclassified as
// MATCH in a new version and the merge happens exactly once.
func (e *Engine) ApproveMatch(pairID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, ok := e.pairs[pairID]
	if !ok {
		return false
	}
	k := keyFor(pair.EntityA, pair.EntityB)
	if e.latest[k] != pairID {
		return false // superseded by newer evidence
	}

	approved := pair
	approved.ID = uuid.NewString()
	approved.PrevID = pair.ID
	approved.Class = model.ClassMatch
	e.storePair(k, approved)
	delete(e.rejects, k)

	if e.graph.SameCluster(pair.EntityA, pair.EntityB) {
		return false
	}
	e.graph.AddEdge(pair.EntityA, pair.EntityB, model.EdgeDuplicate, pair.Probability, approved.ID)
	e.graph.Merge(pair.EntityA, pair.EntityB)
	e.pairsMatched++
	return true
}

// RejectMatch applies a human reject decision: a new REJECT version is
// recorded and the pair joins the reject index; evidence is kept.
func (e *Engine) RejectMatch(pairID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pair, ok := e.pairs[pairID]
	if !ok {
		return
	}
	k := keyFor(pair.EntityA, pair.EntityB)

	rejected := pair
	rejected.ID = uuid.NewString()
	rejected.PrevID = pair.ID
	rejected.Class = model.ClassReject
	e.storePair(k, rejected)
	e.rejects[k] = struct{}{}
}

// Pair returns a stored pair version by id.
func (e *Engine) Pair(pairID string) (model.MatchPair, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pairs[pairID]
	return p, ok
}

// Stats reports scoring counters for the run summary.
func (e *Engine) Stats() (scored, matched, review int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairsScored, e.pairsMatched, e.pairsReview
}
