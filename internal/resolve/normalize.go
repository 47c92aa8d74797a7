// Package resolve implements probabilistic entity resolution: blocking,
// pairwise scoring, threshold classification, and reject-aware clustering.
package resolve

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/twpayne/go-geom"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/consolidate-cli/internal/model"
)

// legalSuffixes are organisational name tokens dropped before fingerprinting.
var legalSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "llc": {}, "llp": {}, "ltd": {},
	"limited": {}, "corp": {}, "corporation": {}, "co": {}, "company": {},
	"gmbh": {}, "sa": {}, "plc": {}, "pty": {}, "pc": {},
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, strips diacritics and punctuation, and removes
// legal suffixes, producing the comparison form of an organisation name.
func NormalizeName(name string) string {
	s, _, err := transform.String(deaccent, name)
	if err != nil {
		s = name
	}
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '/' || r == '&':
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, legal := legalSuffixes[tok]; legal {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		kept = tokens
	}
	return strings.Join(kept, " ")
}

// normalizeIdent strips separators and case from identifier values so
// "LIC-1234 56" and "lic123456" compare equal.
func normalizeIdent(v string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(v) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BuildRecord derives the comparison representation of a target from its
// current field values. Deterministic: identical fields yield an identical
// record.
func BuildRecord(entityID string, fields map[string]string, identifierFields []string, blockPrefixLen int) *model.EntityRecord {
	rec := &model.EntityRecord{
		EntityID:    entityID,
		NameNorm:    NormalizeName(fields[model.FieldName]),
		Identifiers: make(map[string]string),
		City:        strings.ToLower(strings.TrimSpace(fields[model.FieldCity])),
		State:       strings.ToLower(strings.TrimSpace(fields[model.FieldState])),
		Country:     strings.ToLower(strings.TrimSpace(fields[model.FieldCountry])),
	}

	for _, key := range identifierFields {
		if v := normalizeIdent(fields[key]); v != "" {
			rec.Identifiers[key] = v
		}
	}

	if lat, err := strconv.ParseFloat(fields[model.FieldLat], 64); err == nil {
		if lon, err := strconv.ParseFloat(fields[model.FieldLon], 64); err == nil {
			rec.Geo = geom.NewPointFlat(geom.XY, []float64{lon, lat})
		}
	}

	rec.BlockKeys = blockKeys(rec, blockPrefixLen)
	return rec
}

// blockKeys computes the cheap fingerprints that bound pairwise comparison:
// a normalized-name prefix combined with the locale, and one key per
// identifier value.
func blockKeys(rec *model.EntityRecord, prefixLen int) []string {
	var keys []string

	name := strings.ReplaceAll(rec.NameNorm, " ", "")
	if name != "" {
		if len(name) > prefixLen {
			name = name[:prefixLen]
		}
		locale := rec.State
		if locale == "" {
			locale = rec.Country
		}
		keys = append(keys, "name:"+name+"|"+locale)
	}

	idFields := make([]string, 0, len(rec.Identifiers))
	for field := range rec.Identifiers {
		idFields = append(idFields, field)
	}
	sort.Strings(idFields)
	for _, field := range idFields {
		keys = append(keys, "id:"+field+":"+rec.Identifiers[field])
	}
	return keys
}
