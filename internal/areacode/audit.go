package areacode

import (
	"sort"

	"github.com/sells-group/areamatch/internal/model"
)

// GapKind classifies a reference-data defect.
type GapKind string

const (
	// GapMissingCityWide: a region record lacks its city's catch-all code.
	GapMissingCityWide GapKind = "missing_city_wide_code"
	// GapNoCityWideZone: a city has region records but no catch-all zone.
	GapNoCityWideZone GapKind = "no_city_wide_zone"
	// GapUnknownCode: a region record references a code with no zone definition.
	GapUnknownCode GapKind = "unknown_code"
)

// Gap is one reference-data defect found by Audit.
type Gap struct {
	Kind           GapKind        `json:"kind"`
	City           string         `json:"city"`
	Region         string         `json:"region,omitempty"`
	SchoolDistrict string         `json:"school_district,omitempty"`
	Code           model.AreaCode `json:"code,omitempty"`
}

// Audit scans the region mappings for consistency defects. Defects are
// reported, never fixed; corrections go through SetMapping.
func (r *Registry) Audit() []Gap {
	var gaps []Gap
	noZone := make(map[string]bool)

	for _, e := range r.entries {
		m := e.mapping
		for _, c := range m.Codes {
			if _, ok := r.zones[c]; !ok {
				gaps = append(gaps, Gap{
					Kind: GapUnknownCode, City: m.City, Region: m.Region,
					SchoolDistrict: m.SchoolDistrict, Code: c,
				})
			}
		}

		if e.city == "" {
			continue
		}
		catchAll, ok := r.cityWide[e.city]
		if !ok {
			if !noZone[e.city] {
				noZone[e.city] = true
				gaps = append(gaps, Gap{Kind: GapNoCityWideZone, City: m.City})
			}
			continue
		}
		if !model.NewCodeSet(m.Codes...).Has(catchAll) {
			gaps = append(gaps, Gap{
				Kind: GapMissingCityWide, City: m.City, Region: m.Region,
				SchoolDistrict: m.SchoolDistrict, Code: catchAll,
			})
		}
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.City != b.City {
			return a.City < b.City
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.SchoolDistrict != b.SchoolDistrict {
			return a.SchoolDistrict < b.SchoolDistrict
		}
		return a.Code < b.Code
	})
	return gaps
}
