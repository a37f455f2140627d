package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// AreaCode is an opaque delivery-area token loaded from reference data.
type AreaCode string

// ZoneKind distinguishes how an area code is matched.
type ZoneKind string

const (
	ZoneKindRadius   ZoneKind = "radius"    // reference point + own distance threshold
	ZoneKindCityWide ZoneKind = "city_wide" // whole city or ward, no distance test
)

// Coordinate is a WGS 84 point.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether the coordinate lies within WGS 84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Zone describes one area code.
type Zone struct {
	Code        AreaCode   `json:"code" yaml:"code"`
	Kind        ZoneKind   `json:"kind" yaml:"kind"`
	City        string     `json:"city,omitempty" yaml:"city"`
	Reference   Coordinate `json:"reference,omitempty" yaml:"reference"`
	ThresholdKM float64    `json:"threshold_km,omitempty" yaml:"threshold_km"`
	Order       int        `json:"order" yaml:"order"`
}

// RegionMapping maps a named sub-region (and school district) to its area codes.
// Every record of a city is expected to carry that city's catch-all code.
type RegionMapping struct {
	City           string     `json:"city" yaml:"city"`
	Region         string     `json:"region" yaml:"region"`
	SchoolDistrict string     `json:"school_district,omitempty" yaml:"school_district"`
	Codes          []AreaCode `json:"area_codes" yaml:"area_codes"`
}

// Key returns the (city, region, school_district) identity of the mapping.
// Same-named regions in different cities are distinct records.
func (m RegionMapping) Key() string {
	return m.City + "\x00" + m.Region + "\x00" + m.SchoolDistrict
}

// CodeSet is a set of area codes.
type CodeSet map[AreaCode]struct{}

// NewCodeSet builds a set from the given codes, skipping empty tokens.
func NewCodeSet(codes ...AreaCode) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		s.Add(c)
	}
	return s
}

// Add inserts a code. Empty codes are ignored.
func (s CodeSet) Add(c AreaCode) {
	if strings.TrimSpace(string(c)) == "" {
		return
	}
	s[c] = struct{}{}
}

// Has reports membership.
func (s CodeSet) Has(c AreaCode) bool {
	_, ok := s[c]
	return ok
}

// Len returns the number of codes.
func (s CodeSet) Len() int { return len(s) }

// Union returns a new set containing the codes of both sets.
func (s CodeSet) Union(other CodeSet) CodeSet {
	out := make(CodeSet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Intersects reports whether the sets share at least one code.
func (s CodeSet) Intersects(other CodeSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for c := range small {
		if large.Has(c) {
			return true
		}
	}
	return false
}

// Slice returns the codes sorted by token. Use areacode.Registry.Sort for
// the canonical render order.
func (s CodeSet) Slice() []AreaCode {
	out := make([]AreaCode, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as an array sorted by token.
func (s CodeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array of codes.
func (s *CodeSet) UnmarshalJSON(data []byte) error {
	var codes []AreaCode
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewCodeSet(codes...)
	return nil
}
