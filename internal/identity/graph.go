// Package identity maintains the in-memory graph of resolved entities:
// union-find cluster membership, weighted relationship edges, and
// neighbour-evidence confidence propagation.
package identity

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/ledger"
	"github.com/sells-group/consolidate-cli/internal/model"
)

// Edge is a relationship between two entities, kept even for review/reject
// pairs at low weight so future re-scoring needs no re-fetch.
type Edge struct {
	From        string
	To          string
	Type        model.EdgeType
	Weight      float64
	MatchPairID string
}

// Graph is an arena of entity nodes addressed by stable string ids, with an
// adjacency map and union-find cluster membership. The zero graph is not
// usable; construct with New.
type Graph struct {
	// mu guards the arena. Merges take the write lock, so two workers
	// racing to merge the same pair converge to one winner and edge
	// de-duplication by match-pair id prevents doubles.
	mu      sync.RWMutex
	parent  map[string]string
	size    map[string]int
	members map[string][]string
	adj     map[string][]Edge
	edgeIDs map[string]struct{}

	ledger *ledger.Ledger
	cfg    config.PropagationProfile
}

// New creates an empty graph reading field evidence from led.
func New(led *ledger.Ledger, cfg config.PropagationProfile) *Graph {
	return &Graph{
		parent:  make(map[string]string),
		size:    make(map[string]int),
		members: make(map[string][]string),
		adj:     make(map[string][]Edge),
		edgeIDs: make(map[string]struct{}),
		ledger:  led,
		cfg:     cfg,
	}
}

// UpsertNode ensures an entity node exists.
func (g *Graph) UpsertNode(entityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(entityID)
}

func (g *Graph) upsertLocked(entityID string) {
	if _, ok := g.parent[entityID]; ok {
		return
	}
	g.parent[entityID] = entityID
	g.size[entityID] = 1
	g.members[entityID] = []string{entityID}
}

func (g *Graph) findLocked(id string) string {
	root := id
	for g.parent[root] != root {
		root = g.parent[root]
	}
	// Path compression.
	for g.parent[id] != root {
		id, g.parent[id] = g.parent[id], root
	}
	return root
}

// Find returns the cluster root for an entity, creating the node if needed.
func (g *Graph) Find(entityID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(entityID)
	return g.findLocked(entityID)
}

// SameCluster reports whether two entities share a cluster.
func (g *Graph) SameCluster(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(a)
	g.upsertLocked(b)
	return g.findLocked(a) == g.findLocked(b)
}

// Members returns the entities in the cluster containing entityID.
func (g *Graph) Members(entityID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(entityID)
	root := g.findLocked(entityID)
	out := make([]string, len(g.members[root]))
	copy(out, g.members[root])
	return out
}

// Merge unions the clusters of a and b. Idempotent: merging entities already
// clustered together is a no-op.
func (g *Graph) Merge(a, b string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(a)
	g.upsertLocked(b)

	ra, rb := g.findLocked(a), g.findLocked(b)
	if ra == rb {
		return
	}
	// Union by size.
	if g.size[ra] < g.size[rb] {
		ra, rb = rb, ra
	}
	g.parent[rb] = ra
	g.size[ra] += g.size[rb]
	g.members[ra] = append(g.members[ra], g.members[rb]...)
	delete(g.members, rb)
	delete(g.size, rb)

	zap.L().Debug("identity: clusters merged",
		zap.String("winner_root", ra),
		zap.String("absorbed_root", rb),
	)
}

// AddEdge records an undirected relationship edge. Edges are de-duplicated
// by originating match-pair id.
func (g *Graph) AddEdge(a, b string, edgeType model.EdgeType, weight float64, matchPairID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upsertLocked(a)
	g.upsertLocked(b)

	if _, dup := g.edgeIDs[matchPairID]; dup && matchPairID != "" {
		return
	}
	if matchPairID != "" {
		g.edgeIDs[matchPairID] = struct{}{}
	}

	g.adj[a] = append(g.adj[a], Edge{From: a, To: b, Type: edgeType, Weight: weight, MatchPairID: matchPairID})
	g.adj[b] = append(g.adj[b], Edge{From: b, To: a, Type: edgeType, Weight: weight, MatchPairID: matchPairID})
}

// Neighbors returns the entity's direct edges.
func (g *Graph) Neighbors(entityID string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, len(g.adj[entityID]))
	copy(out, g.adj[entityID])
	return out
}

// Adjustment is the result of neighbour-evidence propagation for one field.
type Adjustment struct {
	FieldKey   string
	Value      string
	Confidence float64
	Supporters int
}

// Propagate scans an entity's direct neighbours for agreeing evidence on a
// field. When at least MinAgreeingNeighbors independent neighbours (distinct
// clusters, edge weight >= EdgeThreshold) agree on a value, the entity's
// confidence for that field is raised by a bounded increment, capped so it
// never exceeds the agreeing neighbours' own fetch confidence. Disagreement
// withholds the boost; it never lowers confidence. Returns nil when no
// boost applies.
func (g *Graph) Propagate(entityID, field string) *Adjustment {
	cur := g.ledger.Current(entityID, field)

	base := 0.0
	selfValue := ""
	if cur != nil {
		base = cur.Confidence
		selfValue = cur.Value
	}

	type support struct {
		count   int
		minConf float64
	}
	byValue := make(map[string]*support)

	g.mu.Lock()
	edges := make([]Edge, len(g.adj[entityID]))
	copy(edges, g.adj[entityID])
	selfRoot := func() string { g.upsertLocked(entityID); return g.findLocked(entityID) }()
	// One vote per neighbour cluster: entities already merged are not
	// independent witnesses.
	seenClusters := map[string]struct{}{selfRoot: {}}
	type neighbour struct{ id string }
	var independent []neighbour
	for _, e := range edges {
		if e.Weight < g.cfg.EdgeThreshold {
			continue
		}
		g.upsertLocked(e.To)
		root := g.findLocked(e.To)
		if _, seen := seenClusters[root]; seen {
			continue
		}
		seenClusters[root] = struct{}{}
		independent = append(independent, neighbour{id: e.To})
	}
	g.mu.Unlock()

	for _, n := range independent {
		rec := g.ledger.Current(n.id, field)
		if rec == nil || rec.Value == "" {
			continue
		}
		s, ok := byValue[rec.Value]
		if !ok {
			s = &support{minConf: rec.Confidence}
			byValue[rec.Value] = s
		}
		s.count++
		if rec.Confidence < s.minConf {
			s.minConf = rec.Confidence
		}
	}

	var bestValue string
	var best *support
	qualifying := 0
	for v, s := range byValue {
		if s.count >= g.cfg.MinAgreeingNeighbors {
			qualifying++
			if best == nil || s.count > best.count {
				bestValue, best = v, s
			}
		}
	}
	// More than one qualifying value is disagreement: withhold the boost.
	if best == nil || qualifying > 1 {
		return nil
	}
	// A differing local value is also conflicting evidence.
	if selfValue != "" && selfValue != bestValue {
		return nil
	}

	adjusted := base + g.cfg.MaxBoost
	if adjusted > best.minConf {
		adjusted = best.minConf
	}
	if adjusted <= base {
		return nil
	}

	return &Adjustment{
		FieldKey:   field,
		Value:      bestValue,
		Confidence: adjusted,
		Supporters: best.count,
	}
}
