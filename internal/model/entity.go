package model

import "github.com/twpayne/go-geom"

// Well-known field keys used across the comparison vector and derivations.
const (
	FieldName    = "name"
	FieldEmail   = "email"
	FieldPhone   = "phone"
	FieldWebsite = "website"
	FieldCity    = "city"
	FieldState   = "state"
	FieldCountry = "country"
	FieldPostal  = "postal_code"
	FieldLicense = "license_number"
	FieldTaxID   = "tax_id"
	FieldLat     = "latitude"
	FieldLon     = "longitude"
)

// EntityRecord is the normalized comparison representation of a target,
// derived deterministically from its current field values and regenerated
// whenever they change.
type EntityRecord struct {
	EntityID string `json:"entity_id"`
	// BlockKeys are cheap fingerprints; pairs are only generated between
	// records sharing at least one.
	BlockKeys []string `json:"block_keys"`
	// NameNorm is the normalized name used for similarity scoring.
	NameNorm string `json:"name_norm"`
	// Identifiers maps identifier field keys to normalized values.
	Identifiers map[string]string `json:"identifiers,omitempty"`
	City        string            `json:"city,omitempty"`
	State       string            `json:"state,omitempty"`
	Country     string            `json:"country,omitempty"`
	// Geo is the record's location as a lon/lat point, nil when the target
	// carries no usable coordinates.
	Geo *geom.Point `json:"-"`
}

// SharesBlock reports whether two records share at least one blocking key.
func (e *EntityRecord) SharesBlock(other *EntityRecord) bool {
	for _, a := range e.BlockKeys {
		for _, b := range other.BlockKeys {
			if a == b {
				return true
			}
		}
	}
	return false
}
