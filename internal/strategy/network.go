package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/ratelimit"
	"github.com/sells-group/consolidate-cli/internal/resilience"
	"github.com/sells-group/consolidate-cli/internal/store"
)

// Gates are the static halves of the network enablement check. The third
// gate is the target's own AllowNetwork flag; all three must be true for any
// request to leave the process.
type Gates struct {
	Feature bool
	Runtime bool
}

// Enabled reports whether the static gates permit network use at all.
func (g Gates) Enabled() bool { return g.Feature && g.Runtime }

// NetworkProvider queries configured remote sources under politeness
// control. Off by default: with any gate closed it records a skipped attempt
// and touches nothing.
type NetworkProvider struct {
	gates   Gates
	sources []config.NetworkSource
	limiter *ratelimit.Manager
	retry   resilience.RetryConfig
	client  *http.Client
	store   store.Store

	fields map[string][]config.NetworkSource
}

// NewNetworkProvider builds the tier-3 provider from profile sources.
func NewNetworkProvider(gates Gates, profile *config.Profile, limiter *ratelimit.Manager, st store.Store) *NetworkProvider {
	p := &NetworkProvider{
		gates:   gates,
		sources: profile.Sources,
		limiter: limiter,
		retry: resilience.RetryConfig{
			MaxAttempts:    profile.Retry.MaxAttempts,
			InitialBackoff: time.Duration(profile.Retry.InitialBackoff) * time.Millisecond,
		},
		client: &http.Client{Timeout: 15 * time.Second},
		store:  st,
		fields: make(map[string][]config.NetworkSource),
	}
	for _, src := range profile.Sources {
		for _, f := range src.Fields {
			p.fields[f] = append(p.fields[f], src)
		}
	}
	return p
}

// WithClient overrides the HTTP client. Used by tests.
func (p *NetworkProvider) WithClient(c *http.Client) *NetworkProvider {
	p.client = c
	return p
}

func (p *NetworkProvider) Name() string     { return "network" }
func (p *NetworkProvider) Tier() model.Tier { return model.TierNetwork }

func (p *NetworkProvider) CanProvide(field string) bool {
	return len(p.fields[field]) > 0
}

func (p *NetworkProvider) Attempt(ctx context.Context, target *model.ResearchTarget, field string) model.FetchAttempt {
	attempt := newAttempt(target, field, p.Name(), model.TierNetwork)

	if !p.gates.Enabled() || !target.AllowNetwork {
		return skipped(attempt, model.ReasonNetworkDisabled)
	}

	sources := p.fields[field]
	if len(sources) == 0 {
		return failure(attempt, model.ReasonNoSource)
	}

	lastReason := model.ReasonNoSource
	for _, src := range sources {
		value, err := p.query(ctx, src, target, field)
		if err == nil && value != "" {
			attempt.Source = src.Name
			attempt.NetworkUsed = true
			return success(attempt, value, src.Confidence)
		}

		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			attempt.NetworkUsed = true
			return failure(attempt, model.ReasonCancelled)
		case resilience.IsPoliteness(err):
			lastReason = model.ReasonPolitenessDenied
		case resilience.IsBudget(err):
			lastReason = model.ReasonBudgetExhausted
		case err != nil:
			attempt.NetworkUsed = true
			lastReason = model.ReasonNoSource
			zap.L().Debug("network source failed",
				zap.String("source", src.Name),
				zap.String("entity_id", target.EntityID),
				zap.String("field", field),
				zap.Error(err))
		default:
			// Reached the source but it had nothing for this entity.
			attempt.NetworkUsed = true
		}
	}

	// Politeness and budget denials mean the strategy stood down before the
	// work happened; record a skip, not a failure.
	switch lastReason {
	case model.ReasonPolitenessDenied, model.ReasonBudgetExhausted:
		return skipped(attempt, lastReason)
	}
	return failure(attempt, lastReason)
}

// query fetches one source under a politeness permit, retrying transient
// failures in-tier. Politeness denials are terminal for the domain and are
// never retried.
func (p *NetworkProvider) query(ctx context.Context, src config.NetworkSource, target *model.ResearchTarget, field string) (string, error) {
	permit, err := p.limiter.Acquire(ctx, src.Domain)
	if err != nil {
		var deny *ratelimit.DenyError
		if errors.As(err, &deny) {
			if deny.Reason == ratelimit.DenyCoolingDown || deny.Reason == ratelimit.DenyDisallowed {
				return "", &resilience.PolitenessError{Domain: src.Domain, Signal: string(deny.Reason)}
			}
			return "", &resilience.BudgetError{Domain: src.Domain, Reason: string(deny.Reason)}
		}
		return "", err
	}
	defer permit.Release()

	cfg := p.retry
	cfg.OnRetry = resilience.RetryLogger(src.Name, field)

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (string, error) {
		return p.fetch(ctx, src, target, field)
	})
}

func (p *NetworkProvider) fetch(ctx context.Context, src config.NetworkSource, target *model.ResearchTarget, field string) (string, error) {
	endpoint := expandURL(src.URL, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", resilience.NewTransientError(err, 0)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		p.limiter.ReportDenial(src.Domain, ratelimit.SignalHTTP429)
		return "", &resilience.PolitenessError{Domain: src.Domain, Signal: ratelimit.SignalHTTP429}
	case resp.StatusCode == http.StatusForbidden:
		p.limiter.ReportDenial(src.Domain, ratelimit.SignalCrawlDisallow)
		return "", &resilience.PolitenessError{Domain: src.Domain, Signal: ratelimit.SignalCrawlDisallow}
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return "", resilience.NewTransientError(errors.New(resp.Status), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", errors.New("unexpected status " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", resilience.NewTransientError(err, 0)
	}

	if p.store != nil {
		if cacheErr := p.store.SetCachedContent(ctx, src.Domain, string(body), src.CacheTTL()); cacheErr != nil {
			zap.L().Warn("content cache write failed",
				zap.String("domain", src.Domain),
				zap.Error(cacheErr))
		}
	}

	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	return payload[field], nil
}

func expandURL(template string, target *model.ResearchTarget) string {
	r := strings.NewReplacer(
		"{name}", url.QueryEscape(target.Known[model.FieldName]),
		"{state}", url.QueryEscape(target.Known[model.FieldState]),
	)
	return r.Replace(template)
}
