package resolve

import (
	"math"
	"sort"
	"time"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/consolidate-cli/internal/config"
	"github.com/sells-group/consolidate-cli/internal/model"
)

const earthRadiusKm = 6371.0

// Scorer computes the weighted pairwise match probability for entity
// records. Scoring is symmetric: Score(a, b) == Score(b, a).
type Scorer struct {
	cfg config.ResolutionProfile
	lev *levenshtein.Params
	now func() time.Time
}

// NewScorer creates a scorer from the profile's resolution settings.
func NewScorer(cfg config.ResolutionProfile) *Scorer {
	return &Scorer{
		cfg: cfg,
		lev: levenshtein.NewParams(),
		now: time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (s *Scorer) WithNow(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score produces a classified-as-candidate MatchPair for two records. Only
// features present on both sides enter the weighted sum; a pair with no
// comparable feature scores zero.
func (s *Scorer) Score(a, b *model.EntityRecord) model.MatchPair {
	// Canonical ordering keeps the pair id and vector stable regardless of
	// argument order.
	if a.EntityID > b.EntityID {
		a, b = b, a
	}

	var vector []model.FeatureScore
	var weightedSum, weightTotal float64

	add := func(feature string, score float64, compared bool) {
		w := s.cfg.Weights[feature]
		vector = append(vector, model.FeatureScore{
			Feature:  feature,
			Score:    score,
			Weight:   w,
			Compared: compared,
		})
		if compared && w > 0 {
			weightedSum += w * score
			weightTotal += w
		}
	}

	// Name similarity.
	if a.NameNorm != "" && b.NameNorm != "" {
		add("name", levenshtein.Similarity(a.NameNorm, b.NameNorm, s.lev), true)
	} else {
		add("name", 0, false)
	}

	// Identifier fields: exact normalized equality.
	idFields := make([]string, 0, len(s.cfg.IdentifierFields))
	idFields = append(idFields, s.cfg.IdentifierFields...)
	sort.Strings(idFields)
	for _, field := range idFields {
		va, okA := a.Identifiers[field]
		vb, okB := b.Identifiers[field]
		if !okA || !okB {
			add(field, 0, false)
			continue
		}
		score := 0.0
		if va == vb {
			score = 1.0
		}
		add(field, score, true)
	}

	// Geo: distance-bounded, linear falloff to the configured bound.
	if a.Geo != nil && b.Geo != nil {
		km := haversineKm(a.Geo, b.Geo)
		score := 0.0
		if km < s.cfg.GeoMaxKm {
			score = 1 - km/s.cfg.GeoMaxKm
		}
		add("geo", score, true)
	} else {
		add("geo", 0, false)
	}

	prob := 0.0
	if weightTotal > 0 {
		prob = weightedSum / weightTotal
	}

	return model.MatchPair{
		ID:          uuid.NewString(),
		EntityA:     a.EntityID,
		EntityB:     b.EntityID,
		Probability: prob,
		Class:       model.ClassCandidate,
		Vector:      vector,
		ScoredAt:    s.now(),
	}
}

// Classify applies the profile thresholds to a scored pair, returning a new
// pair value in its final classification. Exact agreement on a configured
// identifier is decisive: a pair whose weighted sum lands in the review band
// is promoted to MATCH when an identifier field matched exactly, so minor
// name variants ("ABC Flying School" vs "ABC Flying Sch.") with the same
// license still merge.
func (s *Scorer) Classify(pair model.MatchPair) model.MatchPair {
	switch {
	case pair.Probability >= s.cfg.MatchThreshold:
		pair.Class = model.ClassMatch
	case pair.Probability >= s.cfg.ReviewThreshold:
		if s.identifierExact(pair) {
			pair.Class = model.ClassMatch
		} else {
			pair.Class = model.ClassReview
		}
	default:
		pair.Class = model.ClassReject
	}
	return pair
}

// identifierExact reports whether any configured identifier field was
// compared on both sides and matched exactly.
func (s *Scorer) identifierExact(pair model.MatchPair) bool {
	for _, f := range pair.Vector {
		for _, field := range s.cfg.IdentifierFields {
			if f.Feature == field && f.Compared && f.Score == 1.0 {
				return true
			}
		}
	}
	return false
}

// haversineKm returns the great-circle distance between two lon/lat points.
func haversineKm(p1, p2 *geom.Point) float64 {
	lat1 := p1.Y() * math.Pi / 180
	lat2 := p2.Y() * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (p2.X() - p1.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
