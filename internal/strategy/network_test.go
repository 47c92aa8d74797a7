package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/ratelimit"
)

func testProfile(sources ...config.NetworkSource) *config.Profile {
	return &config.Profile{
		DefaultFloor: 0.7,
		Politeness: config.PolitenessProfile{
			Default: config.DomainLimit{
				RatePerSec:    1000,
				Burst:         100,
				MaxConcurrent: 8,
				AcquireMillis: 200,
				CooldownSecs:  60,
			},
		},
		Retry:   config.RetryProfile{MaxAttempts: 3, InitialBackoff: 1},
		Sources: sources,
	}
}

func networkSource(serverURL, name string, fields ...string) config.NetworkSource {
	u, _ := url.Parse(serverURL)
	return config.NetworkSource{
		Name:       name,
		Domain:     u.Host,
		URL:        serverURL + "?name={name}&state={state}",
		Fields:     fields,
		Confidence: 0.8,
	}
}

func allowedTarget(known map[string]string) *model.ResearchTarget {
	target := newTarget(known)
	target.AllowNetwork = true
	return target
}

func TestNetworkGatesAllRequired(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"email":"info@acme.example"}`))
	}))
	defer srv.Close()

	profile := testProfile(networkSource(srv.URL, "directory_api", model.FieldEmail))

	tests := []struct {
		name    string
		gates   Gates
		allowed bool
	}{
		{"feature off", Gates{Feature: false, Runtime: true}, true},
		{"runtime off", Gates{Feature: true, Runtime: false}, true},
		{"call gate off", Gates{Feature: true, Runtime: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewNetworkProvider(tt.gates, profile, ratelimit.New(profile), nil)
			target := newTarget(map[string]string{model.FieldName: "Acme"})
			target.AllowNetwork = tt.allowed

			got := p.Attempt(context.Background(), target, model.FieldEmail)
			assert.Equal(t, model.OutcomeSkipped, got.Outcome)
			assert.Equal(t, model.ReasonNetworkDisabled, got.Reason)
			assert.False(t, got.NetworkUsed)
		})
	}
	assert.Zero(t, hits.Load(), "no request leaves the process with a gate closed")
}

func TestNetworkFetchSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Acme Plumbing", r.URL.Query().Get("name"))
		w.Write([]byte(`{"email":"info@acme.example","phone":"+13035550100"}`))
	}))
	defer srv.Close()

	profile := testProfile(networkSource(srv.URL, "directory_api", model.FieldEmail, model.FieldPhone))
	st := newFakeStore()
	p := NewNetworkProvider(Gates{Feature: true, Runtime: true}, profile, ratelimit.New(profile), st)

	got := p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Acme Plumbing",
	}), model.FieldEmail)

	require.True(t, got.Succeeded())
	assert.Equal(t, "info@acme.example", got.Value)
	assert.Equal(t, "directory_api", got.Source)
	assert.True(t, got.NetworkUsed)

	// Fetched content lands in the cache for the derive tier.
	u, _ := url.Parse(srv.URL)
	cached, err := st.GetCachedContent(context.Background(), u.Host)
	require.NoError(t, err)
	assert.Contains(t, cached, "info@acme.example")
}

func TestNetworkRetriesTransient(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"email":"info@acme.example"}`))
	}))
	defer srv.Close()

	profile := testProfile(networkSource(srv.URL, "directory_api", model.FieldEmail))
	p := NewNetworkProvider(Gates{Feature: true, Runtime: true}, profile, ratelimit.New(profile), nil)

	got := p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Acme",
	}), model.FieldEmail)

	require.True(t, got.Succeeded())
	assert.Equal(t, int64(2), hits.Load())
}

func TestNetwork429CoolsDomain(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	profile := testProfile(networkSource(srv.URL, "directory_api", model.FieldEmail))
	limiter := ratelimit.New(profile)
	p := NewNetworkProvider(Gates{Feature: true, Runtime: true}, profile, limiter, nil)

	got := p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Acme",
	}), model.FieldEmail)
	assert.Equal(t, model.OutcomeSkipped, got.Outcome)
	assert.Equal(t, model.ReasonPolitenessDenied, got.Reason)
	assert.Equal(t, int64(1), hits.Load(), "a politeness denial is never retried")

	// The cooldown is sticky: a later target is denied before any request.
	got = p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Other Co",
	}), model.FieldEmail)
	assert.Equal(t, model.OutcomeSkipped, got.Outcome)
	assert.Equal(t, model.ReasonPolitenessDenied, got.Reason)
	assert.Equal(t, int64(1), hits.Load())
}

func TestNetworkBudgetDenialRecordedAsSkip(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"email":"info@acme.example"}`))
	}))
	defer srv.Close()

	profile := testProfile(networkSource(srv.URL, "directory_api", model.FieldEmail))
	// One token and no refill within the acquire window: the second attempt
	// exhausts the budget.
	profile.Politeness.Default.RatePerSec = 0.001
	profile.Politeness.Default.Burst = 1
	profile.Politeness.Default.AcquireMillis = 1
	p := NewNetworkProvider(Gates{Feature: true, Runtime: true}, profile, ratelimit.New(profile), nil)

	got := p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Acme",
	}), model.FieldEmail)
	require.True(t, got.Succeeded())

	got = p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Other Co",
	}), model.FieldEmail)
	assert.Equal(t, model.OutcomeSkipped, got.Outcome)
	assert.Equal(t, model.ReasonBudgetExhausted, got.Reason)
	assert.Equal(t, int64(1), hits.Load(), "an exhausted budget stands down without a request")
}

func TestNetworkCrawlDisallowIsSticky(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	profile := testProfile(networkSource(srv.URL, "directory_api", model.FieldEmail))
	limiter := ratelimit.New(profile)
	p := NewNetworkProvider(Gates{Feature: true, Runtime: true}, profile, limiter, nil)

	for i := 0; i < 3; i++ {
		got := p.Attempt(context.Background(), allowedTarget(map[string]string{
			model.FieldName: "Acme",
		}), model.FieldEmail)
		assert.Equal(t, model.OutcomeSkipped, got.Outcome)
		assert.Equal(t, model.ReasonPolitenessDenied, got.Reason)
	}
	assert.Equal(t, int64(1), hits.Load(), "disallow never expires within a run")
}

func TestNetworkSourceFallback(t *testing.T) {
	t.Parallel()
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer empty.Close()
	full := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"email":"info@acme.example"}`))
	}))
	defer full.Close()

	profile := testProfile(
		networkSource(empty.URL, "sparse_api", model.FieldEmail),
		networkSource(full.URL, "directory_api", model.FieldEmail),
	)
	p := NewNetworkProvider(Gates{Feature: true, Runtime: true}, profile, ratelimit.New(profile), nil)

	got := p.Attempt(context.Background(), allowedTarget(map[string]string{
		model.FieldName: "Acme",
	}), model.FieldEmail)

	require.True(t, got.Succeeded())
	assert.Equal(t, "directory_api", got.Source)
}
