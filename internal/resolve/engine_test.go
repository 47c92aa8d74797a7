package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/identity"
	"github.com/sells-group/consolidate-cli/internal/ledger"
	"github.com/sells-group/consolidate-cli/internal/model"
)

func newTestEngine() (*Engine, *identity.Graph) {
	g := identity.New(ledger.New(), config.PropagationProfile{
		MinAgreeingNeighbors: 2, EdgeThreshold: 0.75, MaxBoost: 0.15,
	})
	return NewEngine(scoringProfile(), g), g
}

func upsert(e *Engine, id string, fields map[string]string) {
	e.UpsertRecord(recordFor(id, fields))
}

func TestResolveMergesNearIdenticalNames(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()
	upsert(e, "e1", map[string]string{
		model.FieldName: "ABC Flying School", model.FieldState: "CO", model.FieldLicense: "L-100",
	})
	upsert(e, "e2", map[string]string{
		model.FieldName: "ABC Flying Sch.", model.FieldState: "CO", model.FieldLicense: "L-100",
	})

	out := e.Resolve("e2")
	require.Len(t, out.Pairs, 1)
	assert.Equal(t, model.ClassMatch, out.Pairs[0].Class)
	assert.Equal(t, 1, out.Merged)
	assert.True(t, g.SameCluster("e1", "e2"))
	assert.ElementsMatch(t, []string{"e1", "e2"}, g.Members("e1"))
}

func TestResolveOnlyComparesWithinBlocks(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	upsert(e, "e1", map[string]string{model.FieldName: "ABC Flying School", model.FieldState: "CO"})
	upsert(e, "e2", map[string]string{model.FieldName: "Zenith Gliders", model.FieldState: "NY"})

	out := e.Resolve("e1")
	assert.Empty(t, out.Pairs, "records sharing no blocking key must not be scored")
}

func TestResolveReviewBand(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()
	// Same block, similar-but-not-equal names, no identifiers: lands between
	// the review and match thresholds.
	upsert(e, "e1", map[string]string{model.FieldName: "Aurora Catering Group", model.FieldState: "CO"})
	upsert(e, "e2", map[string]string{model.FieldName: "Aurora Catering Supply", model.FieldState: "CO"})

	out := e.Resolve("e2")
	require.Len(t, out.Pairs, 1)
	pair := out.Pairs[0]
	require.Equal(t, model.ClassReview, pair.Class, "probability was %v", pair.Probability)
	assert.Len(t, out.Review, 1)
	assert.False(t, g.SameCluster("e1", "e2"))

	// The review edge persists for later re-scoring.
	assert.NotEmpty(t, g.Neighbors("e1"))
}

func TestResolveRejectKeepsLowWeightEdge(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()
	upsert(e, "e1", map[string]string{model.FieldName: "Aurora Catering", model.FieldState: "CO", model.FieldLicense: "L-1"})
	upsert(e, "e2", map[string]string{model.FieldName: "Aurora Cadence Partners", model.FieldState: "CO", model.FieldLicense: "L-2"})

	out := e.Resolve("e2")
	require.Len(t, out.Pairs, 1)
	require.Equal(t, model.ClassReject, out.Pairs[0].Class, "probability was %v", out.Pairs[0].Probability)
	assert.False(t, g.SameCluster("e1", "e2"))

	edges := g.Neighbors("e1")
	require.Len(t, edges, 1)
	assert.Equal(t, model.EdgeRejectedMatch, edges[0].Type)
}

func TestMergeBlockedByTransitiveReject(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()

	// e1 and e2 merge; e3 is rejected against e2; e3 later matches e1.
	upsert(e, "e1", map[string]string{model.FieldName: "ABC Flying School", model.FieldState: "CO", model.FieldLicense: "L-100"})
	upsert(e, "e2", map[string]string{model.FieldName: "ABC Flying Sch.", model.FieldState: "CO", model.FieldLicense: "L-100"})
	out := e.Resolve("e2")
	require.Equal(t, 1, out.Merged)

	// Force a reject between e3 and the cluster members.
	upsert(e, "e3", map[string]string{model.FieldName: "ABC Flying Trapeze Arts", model.FieldState: "CO"})
	out = e.Resolve("e3")
	require.Len(t, out.Pairs, 2)
	for _, p := range out.Pairs {
		require.Equal(t, model.ClassReject, p.Class, "probability was %v", p.Probability)
	}

	// Now e3's record gains the shared license, scoring a match against the
	// cluster -- but the standing reject must block the merge.
	upsert(e, "e3", map[string]string{model.FieldName: "ABC Flying School", model.FieldState: "CO", model.FieldLicense: "L-100"})
	out = e.Resolve("e3")

	assert.Zero(t, out.Merged)
	assert.NotEmpty(t, out.Review, "blocked merge must escalate to review")
	assert.False(t, g.SameCluster("e1", "e3"))
	assert.False(t, g.SameCluster("e2", "e3"))
}

func TestBlockedMergeNotRequeuedOnRescore(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()
	upsert(e, "e1", map[string]string{model.FieldName: "ABC Flying School", model.FieldState: "CO", model.FieldLicense: "L-100"})
	upsert(e, "e2", map[string]string{model.FieldName: "ABC Flying Sch.", model.FieldState: "CO", model.FieldLicense: "L-100"})
	e.Resolve("e2")

	upsert(e, "e3", map[string]string{model.FieldName: "ABC Flying Trapeze Arts", model.FieldState: "CO"})
	e.Resolve("e3")

	upsert(e, "e3", map[string]string{model.FieldName: "ABC Flying School", model.FieldState: "CO", model.FieldLicense: "L-100"})
	first := e.Resolve("e3")
	require.NotEmpty(t, first.Review, "blocked merge must escalate to review")

	// Re-resolving with unchanged evidence must be a no-op: the standing
	// escalated review version already covers the blocked match.
	for i := 0; i < 3; i++ {
		again := e.Resolve("e3")
		assert.Empty(t, again.Pairs, "pass %d minted a new pair version", i)
		assert.Empty(t, again.Review, "pass %d re-enqueued the blocked pair", i)
	}
	assert.False(t, g.SameCluster("e1", "e3"))
}

func TestResolveUnchangedEvidenceNotRescored(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	fields1 := map[string]string{model.FieldName: "ABC Flying School", model.FieldState: "CO", model.FieldLicense: "L-100"}
	fields2 := map[string]string{model.FieldName: "ABC Flying Sch.", model.FieldState: "CO", model.FieldLicense: "L-100"}
	upsert(e, "e1", fields1)
	upsert(e, "e2", fields2)

	first := e.Resolve("e2")
	require.Len(t, first.Pairs, 1)

	second := e.Resolve("e2")
	assert.Empty(t, second.Pairs, "identical evidence must not produce a new pair version")
}

func TestReclassificationVersioning(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine()
	upsert(e, "e1", map[string]string{model.FieldName: "Aurora Catering Group", model.FieldState: "CO"})
	upsert(e, "e2", map[string]string{model.FieldName: "Aurora Catering Supply", model.FieldState: "CO"})

	out := e.Resolve("e2")
	require.Len(t, out.Pairs, 1)
	require.Equal(t, model.ClassReview, out.Pairs[0].Class)
	firstID := out.Pairs[0].ID

	// New evidence: the corrected name pushes the pair into the match band.
	upsert(e, "e2", map[string]string{model.FieldName: "Aurora Catering Group", model.FieldState: "CO"})
	out = e.Resolve("e2")
	require.Len(t, out.Pairs, 1)
	assert.Equal(t, model.ClassMatch, out.Pairs[0].Class)
	assert.Equal(t, firstID, out.Pairs[0].PrevID, "reclassification must reference the prior version")
}

func TestApproveMatchMergesExactlyOnce(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()
	upsert(e, "e1", map[string]string{model.FieldName: "Aurora Catering Group", model.FieldState: "CO"})
	upsert(e, "e2", map[string]string{model.FieldName: "Aurora Catering Supply", model.FieldState: "CO"})

	out := e.Resolve("e2")
	require.Len(t, out.Review, 1)
	pairID := out.Review[0].ID
	assert.False(t, g.SameCluster("e1", "e2"), "no merge before the decision arrives")

	assert.True(t, e.ApproveMatch(pairID))
	assert.True(t, g.SameCluster("e1", "e2"))

	// Re-applying the decision must not merge or mutate again.
	assert.False(t, e.ApproveMatch(pairID))
}

func TestRejectMatchDecision(t *testing.T) {
	t.Parallel()

	e, g := newTestEngine()
	upsert(e, "e1", map[string]string{model.FieldName: "Aurora Catering Group", model.FieldState: "CO"})
	upsert(e, "e2", map[string]string{model.FieldName: "Aurora Catering Supply", model.FieldState: "CO"})

	out := e.Resolve("e2")
	require.Len(t, out.Review, 1)

	e.RejectMatch(out.Review[0].ID)
	assert.False(t, g.SameCluster("e1", "e2"))

	// Evidence is retained.
	assert.NotEmpty(t, g.Neighbors("e1"))

	scored, matched, review := e.Stats()
	assert.Equal(t, 1, scored)
	assert.Zero(t, matched)
	assert.Equal(t, 1, review)
}
