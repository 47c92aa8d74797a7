package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/store"
)

// fakeStore is an in-memory store.Store for strategy tests.
type fakeStore struct {
	mu         sync.Mutex
	authority  map[string]store.AuthorityValue // name|state|field
	provenance map[string]model.ProvenanceRecord
	content    map[string]string
	reviews    []model.ReviewItem
	decisions  []model.DecidedItem
	summaries  []model.RunSummary
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		authority:  make(map[string]store.AuthorityValue),
		provenance: make(map[string]model.ProvenanceRecord),
		content:    make(map[string]string),
	}
}

func (f *fakeStore) addAuthority(nameNorm, state, field string, av store.AuthorityValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authority[nameNorm+"|"+state+"|"+field] = av
}

func (f *fakeStore) LookupAuthority(_ context.Context, nameNorm, state, field string) (*store.AuthorityValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if av, ok := f.authority[nameNorm+"|"+state+"|"+field]; ok {
		return &av, nil
	}
	if av, ok := f.authority[nameNorm+"||"+field]; ok {
		return &av, nil
	}
	return nil, nil
}

func (f *fakeStore) PutAuthority(_ context.Context, rows []store.AuthorityRow) error {
	for _, r := range rows {
		f.addAuthority(r.NameNorm, r.State, r.FieldKey, store.AuthorityValue{Value: r.Value, Confidence: r.Confidence, Source: r.Source})
	}
	return nil
}

func (f *fakeStore) GetProvenance(_ context.Context, entityID, field string) (*model.ProvenanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.provenance[entityID+"|"+field]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeStore) SaveProvenance(_ context.Context, rec model.ProvenanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provenance[rec.EntityID+"|"+rec.FieldKey] = rec
	return nil
}

func (f *fakeStore) GetCachedContent(_ context.Context, domain string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[domain], nil
}

func (f *fakeStore) SetCachedContent(_ context.Context, domain, content string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[domain] = content
	return nil
}

func (f *fakeStore) EnqueueReview(_ context.Context, item model.ReviewItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.reviews {
		if existing.ID == item.ID {
			return nil
		}
	}
	f.reviews = append(f.reviews, item)
	return nil
}

func (f *fakeStore) PendingReviews(_ context.Context, _ int) ([]model.ReviewItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ReviewItem, len(f.reviews))
	copy(out, f.reviews)
	return out, nil
}

func (f *fakeStore) SubmitDecision(_ context.Context, d model.DecidedItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeStore) PollDecisions(_ context.Context) ([]model.DecidedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.decisions
	f.decisions = nil
	return out, nil
}

func (f *fakeStore) SaveRunSummary(_ context.Context, s model.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeStore) ListRunSummaries(_ context.Context, _ int) ([]model.RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.RunSummary, len(f.summaries))
	copy(out, f.summaries)
	return out, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }
