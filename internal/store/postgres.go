package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres connects to the given database URL and verifies the connection.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS authority_values (
	name_norm  TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '',
	field_key  TEXT NOT NULL,
	value      TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	source     TEXT NOT NULL,
	PRIMARY KEY (name_norm, state, field_key, source)
);

CREATE TABLE IF NOT EXISTS provenance (
	entity_id    TEXT NOT NULL,
	field_key    TEXT NOT NULL,
	value        TEXT NOT NULL,
	source       TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	tier         INTEGER NOT NULL,
	network_used BOOLEAN NOT NULL DEFAULT FALSE,
	recorded_at  TIMESTAMPTZ NOT NULL,
	attempts     JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (entity_id, field_key)
);

CREATE TABLE IF NOT EXISTS content_cache (
	domain     TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_items (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	payload     JSONB NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL,
	decision       TEXT,
	override_value TEXT,
	decided_by     TEXT,
	decided_at     TIMESTAMPTZ,
	delivered      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id     TEXT PRIMARY KEY,
	summary    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// LookupAuthority returns the highest-confidence authority value for a
// (name, state, field), or nil when no dataset has it.
func (s *PostgresStore) LookupAuthority(ctx context.Context, nameNorm, state, field string) (*AuthorityValue, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT value, confidence, source FROM authority_values
		WHERE name_norm = $1 AND (state = $2 OR state = '') AND field_key = $3
		ORDER BY confidence DESC LIMIT 1`,
		nameNorm, state, field)

	var av AuthorityValue
	if err := row.Scan(&av.Value, &av.Confidence, &av.Source); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: lookup authority")
	}
	return &av, nil
}

// PutAuthority loads authority dataset rows, replacing duplicates.
func (s *PostgresStore) PutAuthority(ctx context.Context, rows []AuthorityRow) error {
	for _, r := range rows {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO authority_values
			(name_norm, state, field_key, value, confidence, source)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (name_norm, state, field_key, source)
			DO UPDATE SET value = EXCLUDED.value, confidence = EXCLUDED.confidence`,
			r.NameNorm, r.State, r.FieldKey, r.Value, r.Confidence, r.Source); err != nil {
			return eris.Wrap(err, "postgres: insert authority row")
		}
	}
	return nil
}

// GetProvenance returns the persisted record for (entity, field), or nil.
func (s *PostgresStore) GetProvenance(ctx context.Context, entityID, field string) (*model.ProvenanceRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT value, source, confidence, tier, network_used, recorded_at, attempts
		FROM provenance WHERE entity_id = $1 AND field_key = $2`,
		entityID, field)

	rec := model.ProvenanceRecord{EntityID: entityID, FieldKey: field}
	var attempts []byte
	if err := row.Scan(&rec.Value, &rec.Source, &rec.Confidence, &rec.Tier, &rec.NetworkUsed, &rec.RecordedAt, &attempts); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get provenance")
	}
	if err := json.Unmarshal(attempts, &rec.Attempts); err != nil {
		return nil, eris.Wrap(err, "postgres: decode attempts")
	}
	return &rec, nil
}

// SaveProvenance upserts the record for (entity, field).
func (s *PostgresStore) SaveProvenance(ctx context.Context, rec model.ProvenanceRecord) error {
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return eris.Wrap(err, "postgres: encode attempts")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO provenance
		(entity_id, field_key, value, source, confidence, tier, network_used, recorded_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_id, field_key) DO UPDATE SET
			value = EXCLUDED.value, source = EXCLUDED.source,
			confidence = EXCLUDED.confidence, tier = EXCLUDED.tier,
			network_used = EXCLUDED.network_used, recorded_at = EXCLUDED.recorded_at,
			attempts = EXCLUDED.attempts`,
		rec.EntityID, rec.FieldKey, rec.Value, rec.Source, rec.Confidence,
		int(rec.Tier), rec.NetworkUsed, rec.RecordedAt, attempts)
	return eris.Wrap(err, "postgres: save provenance")
}

// GetCachedContent returns unexpired cached content for a domain.
func (s *PostgresStore) GetCachedContent(ctx context.Context, domain string) (string, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT content FROM content_cache
		WHERE domain = $1 AND expires_at > now()`,
		domain)

	var content string
	if err := row.Scan(&content); err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", eris.Wrap(err, "postgres: get cached content")
	}
	return content, nil
}

// SetCachedContent stores fetched content with a TTL.
func (s *PostgresStore) SetCachedContent(ctx context.Context, domain, content string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO content_cache (domain, content, fetched_at, expires_at)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (domain) DO UPDATE SET
			content = EXCLUDED.content, fetched_at = now(), expires_at = EXCLUDED.expires_at`,
		domain, content, time.Now().UTC().Add(ttl))
	return eris.Wrap(err, "postgres: set cached content")
}

// EnqueueReview inserts a pending review item. Re-enqueueing an id is a
// no-op.
func (s *PostgresStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "postgres: encode review item")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO review_items (id, kind, status, payload, enqueued_at)
		VALUES ($1, $2, 'pending', $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, string(item.Kind), payload, item.EnqueuedAt)
	return eris.Wrap(err, "postgres: enqueue review")
}

// PendingReviews lists undecided review items, oldest first.
func (s *PostgresStore) PendingReviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM review_items
		WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending reviews")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		var item model.ReviewItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, eris.Wrap(err, "postgres: decode review item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SubmitDecision records a human decision against a pending item.
func (s *PostgresStore) SubmitDecision(ctx context.Context, d model.DecidedItem) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE review_items
		SET status = 'decided', decision = $1, override_value = $2, decided_by = $3, decided_at = $4
		WHERE id = $5 AND status = 'pending'`,
		string(d.Decision), d.OverrideValue, d.DecidedBy, d.DecidedAt, d.ItemID)
	if err != nil {
		return eris.Wrap(err, "postgres: submit decision")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: no pending review item %s", d.ItemID)
	}
	return nil
}

// PollDecisions returns undelivered decisions and marks them delivered.
func (s *PostgresStore) PollDecisions(ctx context.Context) ([]model.DecidedItem, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE review_items SET delivered = TRUE
		WHERE status = 'decided' AND delivered = FALSE
		RETURNING id, decision, COALESCE(override_value, ''), COALESCE(decided_by, ''), decided_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: poll decisions")
	}
	defer rows.Close()

	var decided []model.DecidedItem
	for rows.Next() {
		var (
			d        model.DecidedItem
			decision string
		)
		if err := rows.Scan(&d.ItemID, &decision, &d.OverrideValue, &d.DecidedBy, &d.DecidedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		d.Decision = model.Decision(decision)
		decided = append(decided, d)
	}
	return decided, rows.Err()
}

// SaveRunSummary persists the run-level rollup.
func (s *PostgresStore) SaveRunSummary(ctx context.Context, sum model.RunSummary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "postgres: encode summary")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_summaries (run_id, summary)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET summary = EXCLUDED.summary`,
		sum.RunID, payload)
	return eris.Wrap(err, "postgres: save summary")
}

// ListRunSummaries returns recent run summaries, newest first.
func (s *PostgresStore) ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT summary FROM run_summaries ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list summaries")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		var sum model.RunSummary
		if err := json.Unmarshal(payload, &sum); err != nil {
			return nil, eris.Wrap(err, "postgres: decode summary")
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
