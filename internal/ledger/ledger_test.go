package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consolidate-cli/internal/model"
)

func attempt(id, value string, conf float64, ts time.Time) model.FetchAttempt {
	return model.FetchAttempt{
		ID:         id,
		EntityID:   "e1",
		FieldKey:   "email",
		Tier:       model.TierLocal,
		Source:     "authority",
		Outcome:    model.OutcomeSuccess,
		Value:      value,
		Confidence: conf,
		Timestamp:  ts,
	}
}

func TestRecordHighestConfidenceWins(t *testing.T) {
	t.Parallel()

	l := New()
	base := time.Now()

	l.Record("e1", "email", attempt("a1", "low@example.com", 0.6, base))
	l.Record("e1", "email", attempt("a2", "high@example.com", 0.9, base.Add(time.Second)))
	l.Record("e1", "email", attempt("a3", "mid@example.com", 0.7, base.Add(2*time.Second)))

	cur := l.Current("e1", "email")
	require.NotNil(t, cur)
	assert.Equal(t, "high@example.com", cur.Value)
	assert.Equal(t, 0.9, cur.Confidence)
	assert.Len(t, l.History("e1", "email"), 3)
}

func TestRecordTieBrokenByRecency(t *testing.T) {
	t.Parallel()

	l := New()
	base := time.Now()

	l.Record("e1", "email", attempt("a1", "older@example.com", 0.8, base))
	l.Record("e1", "email", attempt("a2", "newer@example.com", 0.8, base.Add(time.Minute)))

	cur := l.Current("e1", "email")
	require.NotNil(t, cur)
	assert.Equal(t, "newer@example.com", cur.Value)
}

func TestRecordIdempotentByAttemptID(t *testing.T) {
	t.Parallel()

	l := New()
	a := attempt("dup", "v@example.com", 0.8, time.Now())

	l.Record("e1", "email", a)
	l.Record("e1", "email", a)
	l.Record("e1", "email", a)

	assert.Len(t, l.History("e1", "email"), 1)
}

func TestFailedAttemptsNeverBecomeCurrent(t *testing.T) {
	t.Parallel()

	l := New()
	fail := attempt("f1", "", 0, time.Now())
	fail.Outcome = model.OutcomeFailure
	fail.Reason = model.ReasonNoSource

	l.Record("e1", "email", fail)

	assert.Nil(t, l.Current("e1", "email"))
	assert.Len(t, l.History("e1", "email"), 1)
}

func TestSkippedAttemptsKeepHistory(t *testing.T) {
	t.Parallel()

	l := New()
	skip := attempt("s1", "", 0, time.Now())
	skip.Outcome = model.OutcomeSkipped
	skip.Reason = model.ReasonNetworkDisabled
	l.Record("e1", "email", skip)

	ok := attempt("a1", "v@example.com", 0.8, time.Now())
	l.Record("e1", "email", ok)

	cur := l.Current("e1", "email")
	require.NotNil(t, cur)
	assert.Equal(t, "v@example.com", cur.Value)

	hist := l.History("e1", "email")
	require.Len(t, hist, 2)
	assert.Equal(t, model.ReasonNetworkDisabled, hist[0].Reason)
}

func TestConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()

	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entity := fmt.Sprintf("e%d", i%10)
			field := fmt.Sprintf("f%d", i%5)
			a := attempt(fmt.Sprintf("a%d", i), "v", 0.8, time.Now())
			a.EntityID = entity
			a.FieldKey = field
			l.Record(entity, field, a)
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, l.Fields("e1"))
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()

	l := New()
	l.Record("e1", "email", attempt("a1", "v@example.com", 0.8, time.Now()))

	cur := l.Current("e1", "email")
	require.NotNil(t, cur)
	cur.Attempts[0].Value = "mutated"

	assert.Equal(t, "v@example.com", l.History("e1", "email")[0].Value)
}
