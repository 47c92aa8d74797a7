// Package ratelimit enforces per-domain politeness: token buckets,
// concurrency ceilings, and sticky cool-downs on denial signals.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/consolidate-cli/internal/config"
)

// DenyReason explains why a permit was refused.
type DenyReason string

const (
	DenyBudgetExhausted DenyReason = "budget_exhausted"
	DenyCoolingDown     DenyReason = "cooling_down"
	DenyDisallowed      DenyReason = "disallowed"
	DenyShutdown        DenyReason = "shutdown"
)

// Denial signals reported by fetchers.
const (
	SignalHTTP429       = "http_429"
	SignalCrawlDisallow = "crawl_disallow"
)

// DenyError is returned by Acquire when no permit is granted.
type DenyError struct {
	Domain string
	Reason DenyReason
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("ratelimit: %s denied (%s)", e.Domain, e.Reason)
}

// Permit grants one in-flight fetch against a domain. Release exactly once.
type Permit struct {
	release func()
	once    sync.Once
}

// Release returns the permit's concurrency slot.
func (p *Permit) Release() {
	p.once.Do(p.release)
}

type domainState struct {
	mu            sync.Mutex
	limit         config.DomainLimit
	bucket        *rate.Limiter
	sem           chan struct{}
	cooldownUntil time.Time
	disallowed    bool
	denials       int
}

// Manager is the run-scoped politeness service. Construct one per run with
// New, share it across workers, and Shutdown when the run ends; tests get
// isolated instances.
type Manager struct {
	mu       sync.Mutex
	limitFor func(domain string) config.DomainLimit
	domains  map[string]*domainState
	closed   bool
	now      func() time.Time

	statsMu       sync.Mutex
	permitsDenied int
	domainsCooled map[string]struct{}
}

// New creates a Manager resolving per-domain limits through the profile.
func New(profile *config.Profile) *Manager {
	return &Manager{
		limitFor:      profile.Limit,
		domains:       make(map[string]*domainState),
		now:           time.Now,
		domainsCooled: make(map[string]struct{}),
	}
}

// WithNow sets a fixed clock for testing.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) state(domain string) *domainState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.domains[domain]
	if !ok {
		limit := m.limitFor(domain)
		s = &domainState{
			limit:  limit,
			bucket: rate.NewLimiter(rate.Limit(limit.RatePerSec), limit.Burst),
			sem:    make(chan struct{}, limit.MaxConcurrent),
		}
		m.domains[domain] = s
	}
	return s
}

// Acquire grants a permit for one fetch against domain, or returns a
// DenyError. Callers never block longer than the domain's configured
// acquire timeout.
func (m *Manager) Acquire(ctx context.Context, domain string) (*Permit, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, m.deny(domain, DenyShutdown)
	}
	m.mu.Unlock()

	s := m.state(domain)

	s.mu.Lock()
	if s.disallowed {
		s.mu.Unlock()
		return nil, m.deny(domain, DenyDisallowed)
	}
	if until := s.cooldownUntil; m.now().Before(until) {
		s.mu.Unlock()
		return nil, m.deny(domain, DenyCoolingDown)
	}
	s.mu.Unlock()

	timeout := s.limit.AcquireTimeout()
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Concurrency ceiling first, then the token bucket; both bounded by the
	// acquire timeout.
	select {
	case s.sem <- struct{}{}:
	case <-acquireCtx.Done():
		return nil, m.deny(domain, DenyBudgetExhausted)
	}

	if err := s.bucket.Wait(acquireCtx); err != nil {
		<-s.sem
		return nil, m.deny(domain, DenyBudgetExhausted)
	}

	return &Permit{release: func() { <-s.sem }}, nil
}

// ReportDenial records a politeness signal for a domain: the token bucket is
// emptied and the domain cools down. A crawl-disallow signal is sticky for
// the rest of the run; repeated 429s double the cool-down window.
func (m *Manager) ReportDenial(domain, signal string) {
	s := m.state(domain)

	s.mu.Lock()
	s.denials++
	cooldown := s.limit.Cooldown()
	for i := 1; i < s.denials && cooldown < time.Hour; i++ {
		cooldown *= 2
	}
	s.cooldownUntil = m.now().Add(cooldown)
	if signal == SignalCrawlDisallow {
		s.disallowed = true
	}
	// Drain outstanding tokens so the window starts empty.
	s.bucket.AllowN(m.now(), s.limit.Burst)
	s.mu.Unlock()

	m.statsMu.Lock()
	m.domainsCooled[domain] = struct{}{}
	m.statsMu.Unlock()

	zap.L().Warn("ratelimit: denial signal, cooling down",
		zap.String("domain", domain),
		zap.String("signal", signal),
		zap.Duration("cooldown", cooldown),
	)
}

// Shutdown stops granting permits. In-flight permits stay valid until
// released.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) deny(domain string, reason DenyReason) *DenyError {
	m.statsMu.Lock()
	m.permitsDenied++
	m.statsMu.Unlock()
	return &DenyError{Domain: domain, Reason: reason}
}

// Stats reports denial counters for the run summary.
func (m *Manager) Stats() (permitsDenied, domainsCooled int) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.permitsDenied, len(m.domainsCooled)
}
