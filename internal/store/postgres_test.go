package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consolidate-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS authority_values").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupAuthority(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT value, confidence, source FROM authority_values").
		WithArgs("acme plumbing", "CO", model.FieldPhone).
		WillReturnRows(pgxmock.NewRows([]string{"value", "confidence", "source"}).
			AddRow("+13035550100", 0.92, "state_registry"))

	av, err := s.LookupAuthority(context.Background(), "acme plumbing", "CO", model.FieldPhone)
	require.NoError(t, err)
	require.NotNil(t, av)
	assert.Equal(t, "+13035550100", av.Value)
	assert.InDelta(t, 0.92, av.Confidence, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupAuthorityMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT value, confidence, source FROM authority_values").
		WithArgs("nonesuch llc", "CO", model.FieldPhone).
		WillReturnRows(pgxmock.NewRows([]string{"value", "confidence", "source"}))

	av, err := s.LookupAuthority(context.Background(), "nonesuch llc", "CO", model.FieldPhone)
	require.NoError(t, err)
	assert.Nil(t, av)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveProvenance(t *testing.T) {
	s, mock := newMockStore(t)

	rec := model.ProvenanceRecord{
		EntityID:    "ent-1",
		FieldKey:    model.FieldEmail,
		Value:       "info@acme.example",
		Source:      "website_scrape",
		Confidence:  0.78,
		Tier:        model.TierNetwork,
		NetworkUsed: true,
		RecordedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO provenance").
		WithArgs(rec.EntityID, rec.FieldKey, rec.Value, rec.Source, rec.Confidence,
			int(rec.Tier), rec.NetworkUsed, rec.RecordedAt, []byte("null")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveProvenance(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubmitDecisionRequiresPending(t *testing.T) {
	s, mock := newMockStore(t)

	d := model.DecidedItem{
		ItemID:    "rev-1",
		Decision:  model.DecisionApprove,
		DecidedBy: "analyst",
		DecidedAt: time.Now().UTC(),
	}

	mock.ExpectExec("UPDATE review_items").
		WithArgs(string(d.Decision), d.OverrideValue, d.DecidedBy, d.DecidedAt, d.ItemID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SubmitDecision(context.Background(), d)
	assert.ErrorContains(t, err, "no pending review item")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPollDecisionsMarksDelivered(t *testing.T) {
	s, mock := newMockStore(t)

	decidedAt := time.Now().UTC()
	mock.ExpectQuery("UPDATE review_items SET delivered = TRUE").
		WillReturnRows(pgxmock.NewRows([]string{"id", "decision", "override_value", "decided_by", "decided_at"}).
			AddRow("rev-1", "approve", "", "analyst", decidedAt).
			AddRow("rev-2", "override", "+13035550100", "analyst", decidedAt))

	decided, err := s.PollDecisions(context.Background())
	require.NoError(t, err)
	require.Len(t, decided, 2)
	assert.Equal(t, model.DecisionApprove, decided[0].Decision)
	assert.Equal(t, "+13035550100", decided[1].OverrideValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}
