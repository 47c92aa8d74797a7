// Package store persists authority datasets, provenance history, fetched
// content, the review queue, and run summaries.
package store

import (
	"context"
	"time"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// AuthorityValue is one field value from a configured authority dataset.
type AuthorityValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// AuthorityRow is a loadable authority dataset entry keyed by normalized
// name and state.
type AuthorityRow struct {
	NameNorm   string  `json:"name_norm"`
	State      string  `json:"state"`
	FieldKey   string  `json:"field_key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Store defines the persistence interface for the consolidation core.
type Store interface {
	// Authority datasets (tier 1).
	LookupAuthority(ctx context.Context, nameNorm, state, field string) (*AuthorityValue, error)
	PutAuthority(ctx context.Context, rows []AuthorityRow) error

	// Provenance persistence across runs.
	GetProvenance(ctx context.Context, entityID, field string) (*model.ProvenanceRecord, error)
	SaveProvenance(ctx context.Context, rec model.ProvenanceRecord) error

	// Fetched-content cache (tier 2 derivation input).
	GetCachedContent(ctx context.Context, domain string) (string, error)
	SetCachedContent(ctx context.Context, domain, content string, ttl time.Duration) error

	// Review queue.
	EnqueueReview(ctx context.Context, item model.ReviewItem) error
	PendingReviews(ctx context.Context, limit int) ([]model.ReviewItem, error)
	SubmitDecision(ctx context.Context, d model.DecidedItem) error
	// PollDecisions returns decisions not yet delivered to the orchestrator
	// and marks them delivered.
	PollDecisions(ctx context.Context) ([]model.DecidedItem, error)

	// Run summaries.
	SaveRunSummary(ctx context.Context, s model.RunSummary) error
	ListRunSummaries(ctx context.Context, limit int) ([]model.RunSummary, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
