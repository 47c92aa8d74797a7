package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ConfigurationError is fatal at startup: the run aborts before any target
// is processed.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("profile: %s: %s", e.Field, e.Msg)
}

// Profile is the industry-profile configuration consumed by the core:
// confidence floors, resolution thresholds, blocking and scoring setup,
// propagation parameters, and politeness limits.
type Profile struct {
	DefaultFloor float64            `yaml:"default_floor"`
	FieldFloors  map[string]float64 `yaml:"field_floors,omitempty"`
	// RequiredFields is the default required-field list for targets that do
	// not carry their own.
	RequiredFields []string `yaml:"required_fields"`

	Resolution  ResolutionProfile  `yaml:"resolution"`
	Propagation PropagationProfile `yaml:"propagation"`
	Backfill    BackfillProfile    `yaml:"backfill"`
	Politeness  PolitenessProfile  `yaml:"politeness"`
	Retry       RetryProfile       `yaml:"retry"`
	Sources     []NetworkSource    `yaml:"sources,omitempty"`
}

// NetworkSource is one remote lookup endpoint for the network tier.
type NetworkSource struct {
	Name   string `yaml:"name"`
	Domain string `yaml:"domain"`
	// URL is an endpoint template; {name} and {state} are replaced with the
	// target's query-escaped values.
	URL    string   `yaml:"url"`
	Fields []string `yaml:"fields"`
	// Confidence is assigned to values this source returns.
	Confidence float64 `yaml:"confidence"`
	// CacheTTLSecs bounds how long fetched content stays reusable offline.
	CacheTTLSecs int `yaml:"cache_ttl_secs,omitempty"`
}

// CacheTTL returns the content-cache lifetime for this source.
func (s NetworkSource) CacheTTL() time.Duration {
	if s.CacheTTLSecs <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.CacheTTLSecs) * time.Second
}

// ResolutionProfile configures blocking, scoring, and classification.
type ResolutionProfile struct {
	MatchThreshold  float64 `yaml:"match_threshold"`
	ReviewThreshold float64 `yaml:"review_threshold"`
	// BlockPrefixLen is the length of the normalized-name prefix used as a
	// blocking fingerprint.
	BlockPrefixLen int `yaml:"block_prefix_len"`
	// Weights maps comparison features to their scoring weight. Feature
	// names: "name", one per identifier field key, and "geo".
	Weights map[string]float64 `yaml:"weights"`
	// IdentifierFields lists field keys compared by exact normalized match.
	IdentifierFields []string `yaml:"identifier_fields"`
	// GeoMaxKm is the distance bound for the geo feature; pairs farther
	// apart score zero on it.
	GeoMaxKm float64 `yaml:"geo_max_km"`
}

// PropagationProfile configures neighbour confidence propagation. Both knobs
// are profile-level pending product sign-off on final values.
type PropagationProfile struct {
	// MinAgreeingNeighbors is how many independent neighbours must agree on
	// a value before the boost applies.
	MinAgreeingNeighbors int `yaml:"min_agreeing_neighbors"`
	// EdgeThreshold is the minimum edge weight for a neighbour to count.
	EdgeThreshold float64 `yaml:"edge_threshold"`
	// MaxBoost caps the confidence increment from propagation.
	MaxBoost float64 `yaml:"max_boost"`
}

// BackfillProfile configures the relaxed final pass.
type BackfillProfile struct {
	// FloorFactor scales field floors during backfill (e.g. 0.8).
	FloorFactor float64 `yaml:"floor_factor"`
}

// PolitenessProfile configures per-domain rate limits.
type PolitenessProfile struct {
	Default DomainLimit            `yaml:"default"`
	Domains map[string]DomainLimit `yaml:"domains,omitempty"`
}

// DomainLimit is one domain's token bucket and concurrency ceiling.
type DomainLimit struct {
	RatePerSec    float64 `yaml:"rate_per_sec"`
	Burst         int     `yaml:"burst"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	AcquireMillis int     `yaml:"acquire_millis"`
	CooldownSecs  int     `yaml:"cooldown_secs"`
}

// AcquireTimeout returns the maximum time a caller may block in Acquire.
func (d DomainLimit) AcquireTimeout() time.Duration {
	return time.Duration(d.AcquireMillis) * time.Millisecond
}

// Cooldown returns the post-denial cool-down window.
func (d DomainLimit) Cooldown() time.Duration {
	return time.Duration(d.CooldownSecs) * time.Second
}

// RetryProfile bounds in-tier retries of transient network failures.
type RetryProfile struct {
	MaxAttempts    int `yaml:"max_attempts"`
	InitialBackoff int `yaml:"initial_backoff_millis"`
}

// LoadProfile reads and validates a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "profile: read %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "profile: parse")
	}

	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Resolution.BlockPrefixLen == 0 {
		p.Resolution.BlockPrefixLen = 6
	}
	if p.Propagation.MinAgreeingNeighbors == 0 {
		p.Propagation.MinAgreeingNeighbors = 2
	}
	if p.Propagation.EdgeThreshold == 0 {
		p.Propagation.EdgeThreshold = 0.75
	}
	if p.Propagation.MaxBoost == 0 {
		p.Propagation.MaxBoost = 0.15
	}
	if p.Backfill.FloorFactor == 0 {
		p.Backfill.FloorFactor = 0.8
	}
	if p.Resolution.GeoMaxKm == 0 {
		p.Resolution.GeoMaxKm = 25
	}
	if p.Retry.MaxAttempts == 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.InitialBackoff == 0 {
		p.Retry.InitialBackoff = 500
	}
	if p.Politeness.Default.RatePerSec == 0 {
		p.Politeness.Default.RatePerSec = 1
	}
	if p.Politeness.Default.Burst == 0 {
		p.Politeness.Default.Burst = 2
	}
	if p.Politeness.Default.MaxConcurrent == 0 {
		p.Politeness.Default.MaxConcurrent = 2
	}
	if p.Politeness.Default.AcquireMillis == 0 {
		p.Politeness.Default.AcquireMillis = 2000
	}
	if p.Politeness.Default.CooldownSecs == 0 {
		p.Politeness.Default.CooldownSecs = 300
	}

	// Per-domain overrides inherit anything they leave unset; a partial
	// entry must never zero out the bucket or the acquire window.
	for domain, l := range p.Politeness.Domains {
		if l.RatePerSec == 0 {
			l.RatePerSec = p.Politeness.Default.RatePerSec
		}
		if l.Burst == 0 {
			l.Burst = p.Politeness.Default.Burst
		}
		if l.MaxConcurrent == 0 {
			l.MaxConcurrent = p.Politeness.Default.MaxConcurrent
		}
		if l.AcquireMillis == 0 {
			l.AcquireMillis = p.Politeness.Default.AcquireMillis
		}
		if l.CooldownSecs == 0 {
			l.CooldownSecs = p.Politeness.Default.CooldownSecs
		}
		p.Politeness.Domains[domain] = l
	}
}

// Validate checks the profile for the settings the core cannot run without.
func (p *Profile) Validate() error {
	if p.DefaultFloor <= 0 || p.DefaultFloor > 1 {
		return &ConfigurationError{Field: "default_floor", Msg: "must be in (0, 1]"}
	}
	if p.Resolution.MatchThreshold <= 0 || p.Resolution.MatchThreshold > 1 {
		return &ConfigurationError{Field: "resolution.match_threshold", Msg: "must be in (0, 1]"}
	}
	if p.Resolution.ReviewThreshold <= 0 || p.Resolution.ReviewThreshold >= p.Resolution.MatchThreshold {
		return &ConfigurationError{Field: "resolution.review_threshold", Msg: "must be positive and below match_threshold"}
	}
	if len(p.Resolution.Weights) == 0 {
		return &ConfigurationError{Field: "resolution.weights", Msg: "at least one comparison weight is required"}
	}
	for feature, w := range p.Resolution.Weights {
		if w < 0 {
			return &ConfigurationError{Field: "resolution.weights." + feature, Msg: "must be non-negative"}
		}
	}
	for field, f := range p.FieldFloors {
		if f <= 0 || f > 1 {
			return &ConfigurationError{Field: "field_floors." + field, Msg: "must be in (0, 1]"}
		}
	}
	if p.Backfill.FloorFactor <= 0 || p.Backfill.FloorFactor > 1 {
		return &ConfigurationError{Field: "backfill.floor_factor", Msg: "must be in (0, 1]"}
	}
	for domain, l := range p.Politeness.Domains {
		if l.RatePerSec <= 0 || l.Burst <= 0 || l.MaxConcurrent <= 0 || l.AcquireMillis <= 0 {
			return &ConfigurationError{
				Field: "politeness.domains." + domain,
				Msg:   "rate_per_sec, burst, max_concurrent, and acquire_millis must be positive",
			}
		}
	}
	for i, src := range p.Sources {
		if src.Name == "" || src.Domain == "" || src.URL == "" {
			return &ConfigurationError{Field: fmt.Sprintf("sources[%d]", i), Msg: "name, domain, and url are required"}
		}
		if src.Confidence <= 0 || src.Confidence > 1 {
			return &ConfigurationError{Field: fmt.Sprintf("sources[%d].confidence", i), Msg: "must be in (0, 1]"}
		}
	}
	return nil
}

// Floor returns the configured floor for a field.
func (p *Profile) Floor(field string) float64 {
	if f, ok := p.FieldFloors[field]; ok {
		return f
	}
	return p.DefaultFloor
}

// Limit returns the politeness limit for a domain.
func (p *Profile) Limit(domain string) DomainLimit {
	if l, ok := p.Politeness.Domains[domain]; ok {
		return l
	}
	return p.Politeness.Default
}
