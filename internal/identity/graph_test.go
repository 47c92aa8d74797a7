package identity

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/ledger"
	"github.com/sells-group/consolidate-cli/internal/model"
)

func propCfg() config.PropagationProfile {
	return config.PropagationProfile{
		MinAgreeingNeighbors: 2,
		EdgeThreshold:        0.75,
		MaxBoost:             0.15,
	}
}

func record(led *ledger.Ledger, entity, field, value string, conf float64) {
	led.Record(entity, field, model.FetchAttempt{
		ID:         fmt.Sprintf("%s-%s-%s", entity, field, value),
		EntityID:   entity,
		FieldKey:   field,
		Tier:       model.TierLocal,
		Source:     "authority",
		Outcome:    model.OutcomeSuccess,
		Value:      value,
		Confidence: conf,
		Timestamp:  time.Now(),
	})
}

func TestMergeAndMembers(t *testing.T) {
	t.Parallel()

	g := New(ledger.New(), propCfg())
	g.Merge("a", "b")
	g.Merge("b", "c")

	assert.True(t, g.SameCluster("a", "c"))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, g.Members("a"))
	assert.False(t, g.SameCluster("a", "d"))
}

func TestMergeIdempotentUnderRace(t *testing.T) {
	t.Parallel()

	g := New(ledger.New(), propCfg())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Merge("x", "y")
			g.AddEdge("x", "y", model.EdgeDuplicate, 0.95, "pair-xy")
		}()
	}
	wg.Wait()

	assert.True(t, g.SameCluster("x", "y"))
	assert.ElementsMatch(t, []string{"x", "y"}, g.Members("x"))
	// Racing AddEdge calls for the same pair leave exactly one edge.
	assert.Len(t, g.Neighbors("x"), 1)
}

func TestPropagateBoostsOnAgreement(t *testing.T) {
	t.Parallel()

	led := ledger.New()
	g := New(led, propCfg())

	record(led, "n1", "phone", "+15551234567", 0.9)
	record(led, "n2", "phone", "+15551234567", 0.85)
	record(led, "e1", "phone", "+15551234567", 0.5)

	g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
	g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.8, "p2")

	adj := g.Propagate("e1", "phone")
	require.NotNil(t, adj)
	assert.Equal(t, "+15551234567", adj.Value)
	assert.InDelta(t, 0.65, adj.Confidence, 1e-9) // base 0.5 + max boost 0.15
	assert.Equal(t, 2, adj.Supporters)
}

func TestPropagateCapAtNeighbourConfidence(t *testing.T) {
	t.Parallel()

	led := ledger.New()
	g := New(led, propCfg())

	record(led, "n1", "phone", "+15550000000", 0.62)
	record(led, "n2", "phone", "+15550000000", 0.7)
	record(led, "e1", "phone", "+15550000000", 0.55)

	g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
	g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.9, "p2")

	adj := g.Propagate("e1", "phone")
	require.NotNil(t, adj)
	// Capped at the weakest agreeing neighbour's own fetch confidence.
	assert.InDelta(t, 0.62, adj.Confidence, 1e-9)
}

func TestPropagateFillsMissingField(t *testing.T) {
	t.Parallel()

	led := ledger.New()
	g := New(led, propCfg())

	record(led, "n1", "website", "https://abc.example.com", 0.9)
	record(led, "n2", "website", "https://abc.example.com", 0.9)

	g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
	g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.9, "p2")

	adj := g.Propagate("e1", "website")
	require.NotNil(t, adj)
	assert.Equal(t, "https://abc.example.com", adj.Value)
	assert.InDelta(t, 0.15, adj.Confidence, 1e-9)
}

func TestPropagateWithheldCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(led *ledger.Ledger, g *Graph)
	}{
		{
			name: "only one agreeing neighbour",
			setup: func(led *ledger.Ledger, g *Graph) {
				record(led, "n1", "phone", "+15551111111", 0.9)
				g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
			},
		},
		{
			name: "neighbours disagree",
			setup: func(led *ledger.Ledger, g *Graph) {
				record(led, "n1", "phone", "+15551111111", 0.9)
				record(led, "n2", "phone", "+15551111111", 0.9)
				record(led, "n3", "phone", "+15552222222", 0.9)
				record(led, "n4", "phone", "+15552222222", 0.9)
				g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
				g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.9, "p2")
				g.AddEdge("e1", "n3", model.EdgeDuplicate, 0.9, "p3")
				g.AddEdge("e1", "n4", model.EdgeDuplicate, 0.9, "p4")
			},
		},
		{
			name: "edges below threshold",
			setup: func(led *ledger.Ledger, g *Graph) {
				record(led, "n1", "phone", "+15551111111", 0.9)
				record(led, "n2", "phone", "+15551111111", 0.9)
				g.AddEdge("e1", "n1", model.EdgeRejectedMatch, 0.3, "p1")
				g.AddEdge("e1", "n2", model.EdgeRejectedMatch, 0.3, "p2")
			},
		},
		{
			name: "neighbours in one cluster count once",
			setup: func(led *ledger.Ledger, g *Graph) {
				record(led, "n1", "phone", "+15551111111", 0.9)
				record(led, "n2", "phone", "+15551111111", 0.9)
				g.Merge("n1", "n2")
				g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
				g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.9, "p2")
			},
		},
		{
			name: "conflicts with own value",
			setup: func(led *ledger.Ledger, g *Graph) {
				record(led, "e1", "phone", "+15559999999", 0.5)
				record(led, "n1", "phone", "+15551111111", 0.9)
				record(led, "n2", "phone", "+15551111111", 0.9)
				g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
				g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.9, "p2")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			led := ledger.New()
			g := New(led, propCfg())
			tt.setup(led, g)
			assert.Nil(t, g.Propagate("e1", "phone"))
		})
	}
}

func TestPropagateMonotonic(t *testing.T) {
	t.Parallel()

	led := ledger.New()
	g := New(led, propCfg())

	// Self already at higher confidence than any boost could reach.
	record(led, "e1", "phone", "+15551111111", 0.95)
	record(led, "n1", "phone", "+15551111111", 0.8)
	record(led, "n2", "phone", "+15551111111", 0.8)
	g.AddEdge("e1", "n1", model.EdgeDuplicate, 0.9, "p1")
	g.AddEdge("e1", "n2", model.EdgeDuplicate, 0.9, "p2")

	assert.Nil(t, g.Propagate("e1", "phone"))
}
