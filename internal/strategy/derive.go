package strategy

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/consolidate-cli/internal/model"
	"github.com/sells-group/consolidate-cli/internal/store"
)

// Derivation confidences. Derived values are deterministic but inherit the
// uncertainty of their inputs, so they score below direct authority hits.
const (
	confWebsiteFromEmail = 0.85
	confCountryFromState = 0.95
	confNormalized       = 0.90
	confExtracted        = 0.65
)

var freeMailDomains = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"hotmail.com": true,
	"outlook.com": true,
	"aol.com":     true,
	"icloud.com":  true,
}

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true,
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[\s.\-(]*\d{3}[\s.\-)]*\d{3}[\s.\-]*\d{4}`)
	digitRe = regexp.MustCompile(`\d`)
)

// DeriveProvider computes fields deterministically from fields the target
// already has, plus cached page content from earlier network fetches. It is
// offline and repeatable: the same inputs always derive the same value.
type DeriveProvider struct {
	store store.Store
}

// NewDeriveProvider builds the tier-2 provider. The store is optional; with
// a nil store cached-content extraction is skipped.
func NewDeriveProvider(st store.Store) *DeriveProvider {
	return &DeriveProvider{store: st}
}

func (p *DeriveProvider) Name() string     { return "derive" }
func (p *DeriveProvider) Tier() model.Tier { return model.TierDerive }

func (p *DeriveProvider) CanProvide(field string) bool {
	switch field {
	case model.FieldWebsite, model.FieldEmail, model.FieldPhone, model.FieldPostal, model.FieldCountry:
		return true
	}
	return false
}

func (p *DeriveProvider) Attempt(ctx context.Context, target *model.ResearchTarget, field string) model.FetchAttempt {
	attempt := newAttempt(target, field, p.Name(), model.TierDerive)

	switch field {
	case model.FieldWebsite:
		if site, ok := websiteFromEmail(target.Known[model.FieldEmail]); ok {
			return success(attempt, site, confWebsiteFromEmail)
		}
	case model.FieldCountry:
		if usStates[strings.ToUpper(strings.TrimSpace(target.Known[model.FieldState]))] {
			return success(attempt, "US", confCountryFromState)
		}
	case model.FieldPhone:
		if normalized, ok := normalizePhone(target.Known[model.FieldPhone]); ok {
			if normalized != target.Known[model.FieldPhone] {
				return success(attempt, normalized, confNormalized)
			}
		}
		return p.extractFromCache(ctx, target, attempt, extractPhone)
	case model.FieldPostal:
		if normalized, ok := normalizePostal(target.Known[model.FieldPostal]); ok {
			return success(attempt, normalized, confNormalized)
		}
	case model.FieldEmail:
		return p.extractFromCache(ctx, target, attempt, func(content, domain string) (string, bool) {
			return extractEmail(content, domain)
		})
	}
	return failure(attempt, model.ReasonNoSource)
}

// extractFromCache scans previously fetched page content for the target's
// website domain. No network is used: absent cache means no source.
func (p *DeriveProvider) extractFromCache(ctx context.Context, target *model.ResearchTarget, attempt model.FetchAttempt, extract func(content, domain string) (string, bool)) model.FetchAttempt {
	domain := websiteDomain(target.Known[model.FieldWebsite])
	if p.store == nil || domain == "" {
		return failure(attempt, model.ReasonNoSource)
	}
	content, err := p.store.GetCachedContent(ctx, domain)
	if err != nil || content == "" {
		return failure(attempt, model.ReasonNoSource)
	}
	value, ok := extract(content, domain)
	if !ok {
		return failure(attempt, model.ReasonNoSource)
	}
	attempt.Source = "cached_content"
	return success(attempt, value, confExtracted)
}

func websiteFromEmail(email string) (string, bool) {
	at := strings.LastIndexByte(email, '@')
	if at < 1 || at == len(email)-1 {
		return "", false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" || freeMailDomains[domain] {
		return "", false
	}
	return domain, true
}

// websiteDomain strips scheme, path, and a leading www from a website value.
func websiteDomain(site string) string {
	site = strings.TrimSpace(strings.ToLower(site))
	if site == "" {
		return ""
	}
	if strings.Contains(site, "://") {
		if u, err := url.Parse(site); err == nil && u.Host != "" {
			site = u.Host
		}
	}
	site = strings.TrimPrefix(site, "www.")
	if i := strings.IndexByte(site, '/'); i >= 0 {
		site = site[:i]
	}
	return site
}

// normalizePhone canonicalizes North American numbers to E.164.
func normalizePhone(raw string) (string, bool) {
	digits := strings.Join(digitRe.FindAllString(raw, -1), "")
	switch len(digits) {
	case 10:
		return "+1" + digits, true
	case 11:
		if digits[0] == '1' {
			return "+" + digits, true
		}
	}
	return "", false
}

func normalizePostal(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 10 && raw[5] == '-' {
		raw = raw[:5]
	}
	if len(raw) != 5 {
		return "", false
	}
	for i := 0; i < 5; i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", false
		}
	}
	return raw, true
}

// extractEmail prefers addresses on the entity's own domain.
func extractEmail(content, domain string) (string, bool) {
	matches := emailRe.FindAllString(content, -1)
	for _, m := range matches {
		if strings.HasSuffix(strings.ToLower(m), "@"+domain) {
			return strings.ToLower(m), true
		}
	}
	if len(matches) > 0 {
		return strings.ToLower(matches[0]), true
	}
	return "", false
}

func extractPhone(content, _ string) (string, bool) {
	m := phoneRe.FindString(content)
	if m == "" {
		return "", false
	}
	return normalizePhone(m)
}
