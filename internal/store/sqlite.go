package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS authority_values (
	name_norm  TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT '',
	field_key  TEXT NOT NULL,
	value      TEXT NOT NULL,
	confidence REAL NOT NULL,
	source     TEXT NOT NULL,
	PRIMARY KEY (name_norm, state, field_key, source)
);

CREATE TABLE IF NOT EXISTS provenance (
	entity_id    TEXT NOT NULL,
	field_key    TEXT NOT NULL,
	value        TEXT NOT NULL,
	source       TEXT NOT NULL,
	confidence   REAL NOT NULL,
	tier         INTEGER NOT NULL,
	network_used INTEGER NOT NULL DEFAULT 0,
	recorded_at  DATETIME NOT NULL,
	attempts     TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (entity_id, field_key)
);

CREATE TABLE IF NOT EXISTS content_cache (
	domain     TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_items (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	payload     TEXT NOT NULL,
	enqueued_at DATETIME NOT NULL,
	decision       TEXT,
	override_value TEXT,
	decided_by     TEXT,
	decided_at     DATETIME,
	delivered      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id     TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LookupAuthority returns the highest-confidence authority value for a
// (name, state, field), or nil when no dataset has it.
func (s *SQLiteStore) LookupAuthority(ctx context.Context, nameNorm, state, field string) (*AuthorityValue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, confidence, source FROM authority_values
		WHERE name_norm = ? AND (state = ? OR state = '') AND field_key = ?
		ORDER BY confidence DESC LIMIT 1`,
		nameNorm, state, field)

	var av AuthorityValue
	if err := row.Scan(&av.Value, &av.Confidence, &av.Source); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: lookup authority")
	}
	return &av, nil
}

// PutAuthority loads authority dataset rows, replacing duplicates.
func (s *SQLiteStore) PutAuthority(ctx context.Context, rows []AuthorityRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin authority load")
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO authority_values
			(name_norm, state, field_key, value, confidence, source)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.NameNorm, r.State, r.FieldKey, r.Value, r.Confidence, r.Source); err != nil {
			return eris.Wrap(err, "sqlite: insert authority row")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit authority load")
}

// GetProvenance returns the persisted record for (entity, field), or nil.
func (s *SQLiteStore) GetProvenance(ctx context.Context, entityID, field string) (*model.ProvenanceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, source, confidence, tier, network_used, recorded_at, attempts
		FROM provenance WHERE entity_id = ? AND field_key = ?`,
		entityID, field)

	rec := model.ProvenanceRecord{EntityID: entityID, FieldKey: field}
	var networkUsed int
	var attempts string
	if err := row.Scan(&rec.Value, &rec.Source, &rec.Confidence, &rec.Tier, &networkUsed, &rec.RecordedAt, &attempts); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get provenance")
	}
	rec.NetworkUsed = networkUsed != 0
	if err := json.Unmarshal([]byte(attempts), &rec.Attempts); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode attempts")
	}
	return &rec, nil
}

// SaveProvenance upserts the record for (entity, field).
func (s *SQLiteStore) SaveProvenance(ctx context.Context, rec model.ProvenanceRecord) error {
	attempts, err := json.Marshal(rec.Attempts)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode attempts")
	}
	networkUsed := 0
	if rec.NetworkUsed {
		networkUsed = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO provenance
		(entity_id, field_key, value, source, confidence, tier, network_used, recorded_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityID, rec.FieldKey, rec.Value, rec.Source, rec.Confidence,
		int(rec.Tier), networkUsed, rec.RecordedAt, string(attempts))
	return eris.Wrap(err, "sqlite: save provenance")
}

// GetCachedContent returns unexpired cached content for a domain.
func (s *SQLiteStore) GetCachedContent(ctx context.Context, domain string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content FROM content_cache
		WHERE domain = ? AND expires_at > datetime('now')`,
		domain)

	var content string
	if err := row.Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", eris.Wrap(err, "sqlite: get cached content")
	}
	return content, nil
}

// SetCachedContent stores fetched content with a TTL.
func (s *SQLiteStore) SetCachedContent(ctx context.Context, domain, content string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO content_cache (domain, content, fetched_at, expires_at)
		VALUES (?, ?, datetime('now'), ?)`,
		domain, content, time.Now().UTC().Add(ttl))
	return eris.Wrap(err, "sqlite: set cached content")
}

// EnqueueReview inserts a pending review item. Re-enqueueing an id is a
// no-op so decided items are never re-queued.
func (s *SQLiteStore) EnqueueReview(ctx context.Context, item model.ReviewItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode review item")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO review_items (id, kind, status, payload, enqueued_at)
		VALUES (?, ?, 'pending', ?, ?)`,
		item.ID, string(item.Kind), string(payload), item.EnqueuedAt)
	return eris.Wrap(err, "sqlite: enqueue review")
}

// PendingReviews lists undecided review items, oldest first.
func (s *SQLiteStore) PendingReviews(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM review_items
		WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending reviews")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		var item model.ReviewItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode review item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SubmitDecision records a human decision against a pending item.
func (s *SQLiteStore) SubmitDecision(ctx context.Context, d model.DecidedItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_items
		SET status = 'decided', decision = ?, override_value = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(d.Decision), d.OverrideValue, d.DecidedBy, d.DecidedAt, d.ItemID)
	if err != nil {
		return eris.Wrap(err, "sqlite: submit decision")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: decision rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: no pending review item %s", d.ItemID)
	}
	return nil
}

// PollDecisions returns undelivered decisions and marks them delivered.
func (s *SQLiteStore) PollDecisions(ctx context.Context) ([]model.DecidedItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin poll")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, decision, COALESCE(override_value, ''), COALESCE(decided_by, ''), decided_at
		FROM review_items
		WHERE status = 'decided' AND delivered = 0
		ORDER BY decided_at ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: poll decisions")
	}

	var decided []model.DecidedItem
	for rows.Next() {
		var (
			d        model.DecidedItem
			decision string
		)
		if err := rows.Scan(&d.ItemID, &decision, &d.OverrideValue, &d.DecidedBy, &d.DecidedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		d.Decision = model.Decision(decision)
		decided = append(decided, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, eris.Wrap(err, "sqlite: poll decisions rows")
	}
	rows.Close()

	for _, d := range decided {
		if _, err := tx.ExecContext(ctx,
			`UPDATE review_items SET delivered = 1 WHERE id = ?`, d.ItemID); err != nil {
			return nil, eris.Wrap(err, "sqlite: mark delivered")
		}
	}
	return decided, eris.Wrap(tx.Commit(), "sqlite: commit poll")
}

// SaveRunSummary persists the run-level rollup.
func (s *SQLiteStore) SaveRunSummary(ctx context.Context, sum model.RunSummary) error {
	payload, err := json.Marshal(sum)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode summary")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_summaries (run_id, summary, created_at)
		VALUES (?, ?, datetime('now'))`,
		sum.RunID, string(payload))
	return eris.Wrap(err, "sqlite: save summary")
}

// ListRunSummaries returns recent run summaries, newest first.
func (s *SQLiteStore) ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM run_summaries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list summaries")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan summary")
		}
		var sum model.RunSummary
		if err := json.Unmarshal([]byte(payload), &sum); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode summary")
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
