// Package areacode resolves addresses to delivery-area codes using an
// in-memory gazetteer of region mappings and zone definitions.
package areacode

import (
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/model"
)

// ErrUnknownCity is returned when a city has no catch-all area code.
var ErrUnknownCity = eris.New("areacode: unknown city")

// ReferenceData is the raw input a Registry is built from.
type ReferenceData struct {
	Prefixes []string              `json:"prefixes" yaml:"prefixes"`
	Zones    []model.Zone          `json:"zones" yaml:"zones"`
	Regions  []model.RegionMapping `json:"regions" yaml:"regions"`
}

// Match is the outcome of an address lookup.
type Match struct {
	Region string
	City   string
	Codes  model.CodeSet
}

type entry struct {
	mapping   model.RegionMapping
	key       string // folded region name with prefixes stripped
	keyLen    int
	city      string // folded city
	cityLevel bool   // region name is itself a known city
}

// Registry is an immutable snapshot of reference data. Build it once per
// batch and pass it explicitly; use SetMapping or a Holder for edits.
type Registry struct {
	ref      ReferenceData
	entries  []entry
	prefixes prefixSet
	cityWide map[string]model.AreaCode // folded city -> catch-all code
	zones    map[model.AreaCode]model.Zone
	radius   []model.Zone
}

// NewRegistry validates reference data and builds a snapshot.
func NewRegistry(ref ReferenceData) (*Registry, error) {
	r := &Registry{
		cityWide: make(map[string]model.AreaCode),
		zones:    make(map[model.AreaCode]model.Zone, len(ref.Zones)),
	}

	cities := make(map[string]string)
	for _, z := range ref.Zones {
		if strings.TrimSpace(string(z.Code)) == "" {
			return nil, eris.New("areacode: zone with empty code")
		}
		if _, dup := r.zones[z.Code]; dup {
			return nil, eris.Errorf("areacode: duplicate zone %q", z.Code)
		}

		switch z.Kind {
		case model.ZoneKindRadius:
			if z.ThresholdKM <= 0 {
				return nil, eris.Errorf("areacode: radius zone %q needs a positive threshold", z.Code)
			}
			if !z.Reference.Valid() {
				return nil, eris.Errorf("areacode: radius zone %q has an invalid reference point", z.Code)
			}
			r.radius = append(r.radius, z)
		case model.ZoneKindCityWide:
			city := fold(z.City)
			if city == "" {
				return nil, eris.Errorf("areacode: city-wide zone %q has no city", z.Code)
			}
			if prev, dup := r.cityWide[city]; dup {
				return nil, eris.Errorf("areacode: city %q has two catch-all codes (%q, %q)", z.City, prev, z.Code)
			}
			r.cityWide[city] = z.Code
			cities[city] = z.City
		default:
			return nil, eris.Errorf("areacode: zone %q has unknown kind %q", z.Code, z.Kind)
		}
		r.zones[z.Code] = z
	}

	// Later records with the same (city, region, school_district) replace
	// earlier ones.
	byKey := make(map[string]int, len(ref.Regions))
	var regions []model.RegionMapping
	for _, m := range ref.Regions {
		if strings.TrimSpace(m.Region) == "" {
			return nil, eris.New("areacode: region mapping with empty region name")
		}
		if i, dup := byKey[m.Key()]; dup {
			zap.L().Warn("areacode: duplicate region mapping replaced",
				zap.String("city", m.City),
				zap.String("region", m.Region),
				zap.String("school_district", m.SchoolDistrict),
			)
			regions[i] = m
			continue
		}
		byKey[m.Key()] = len(regions)
		regions = append(regions, m)
		if c := fold(m.City); c != "" {
			if _, ok := cities[c]; !ok {
				cities[c] = m.City
			}
		}
	}

	r.prefixes = newPrefixSet(ref.Prefixes, cities)
	r.entries = make([]entry, 0, len(regions))
	for _, m := range regions {
		folded := fold(m.Region)
		key, _ := r.prefixes.strip(folded)
		_, isCity := cities[key]
		r.entries = append(r.entries, entry{
			mapping:   m,
			key:       key,
			keyLen:    utf8.RuneCountInString(key),
			city:      fold(m.City),
			cityLevel: isCity,
		})
	}

	sort.Slice(r.radius, func(i, j int) bool { return r.radius[i].Code < r.radius[j].Code })

	r.ref = ReferenceData{
		Prefixes: append([]string(nil), ref.Prefixes...),
		Zones:    append([]model.Zone(nil), ref.Zones...),
		Regions:  regions,
	}
	return r, nil
}

// Lookup returns the area codes of the most specific region named in the
// address. An address naming a known city is scoped to that city. No match
// yields an empty set.
func (r *Registry) Lookup(address string) model.CodeSet {
	m, _ := r.LookupMatch(address)
	return m.Codes
}

// LookupMatch is Lookup that also reports which region matched.
func (r *Registry) LookupMatch(address string) (Match, bool) {
	rest, city := r.prefixes.strip(fold(address))
	return r.match(rest, city)
}

// LookupInCity is LookupMatch restricted to an explicit city. An empty city
// falls back to the city named in the address.
func (r *Registry) LookupInCity(city, address string) (Match, bool) {
	rest, detected := r.prefixes.strip(fold(address))
	if c := fold(city); c != "" {
		detected = c
	}
	return r.match(rest, detected)
}

func (r *Registry) match(rest, city string) (Match, bool) {
	best := -1
	bestLen := -1
	for i, e := range r.entries {
		if city != "" && e.city != "" && e.city != city {
			continue
		}

		l := -1
		switch {
		case e.key != "" && strings.Contains(rest, e.key):
			l = e.keyLen
		case e.cityLevel && e.key == city:
			l = 0
		}
		if l < 0 {
			continue
		}

		if l > bestLen || (l == bestLen && less(e, r.entries[best])) {
			best, bestLen = i, l
		}
	}

	if best < 0 {
		return Match{Codes: model.NewCodeSet()}, false
	}

	winner := r.entries[best]
	codes := model.NewCodeSet()
	for _, e := range r.entries {
		if e.key == winner.key && e.city == winner.city {
			for _, c := range e.mapping.Codes {
				codes.Add(c)
			}
		}
	}
	return Match{Region: winner.mapping.Region, City: winner.mapping.City, Codes: codes}, true
}

func less(a, b entry) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.city < b.city
}

// ResolveCityWideCode returns the catch-all code for a city. A city without
// one is a configuration error.
func (r *Registry) ResolveCityWideCode(city string) (model.AreaCode, error) {
	code, ok := r.cityWide[fold(city)]
	if !ok {
		return "", eris.Wrapf(ErrUnknownCity, "city %q", city)
	}
	return code, nil
}

// RadiusZones returns the radius zones sorted by code.
func (r *Registry) RadiusZones() []model.Zone {
	return append([]model.Zone(nil), r.radius...)
}

// Zone returns the definition of a code.
func (r *Registry) Zone(code model.AreaCode) (model.Zone, bool) {
	z, ok := r.zones[code]
	return z, ok
}

// Sort renders a set in canonical order: zone Order for known codes, then
// unknown codes by token.
func (r *Registry) Sort(codes model.CodeSet) []model.AreaCode {
	out := codes.Slice()
	sort.SliceStable(out, func(i, j int) bool {
		zi, iok := r.zones[out[i]]
		zj, jok := r.zones[out[j]]
		switch {
		case iok && jok:
			if zi.Order != zj.Order {
				return zi.Order < zj.Order
			}
			return out[i] < out[j]
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Reference returns a copy of the data the snapshot was built from.
func (r *Registry) Reference() ReferenceData {
	return ReferenceData{
		Prefixes: append([]string(nil), r.ref.Prefixes...),
		Zones:    append([]model.Zone(nil), r.ref.Zones...),
		Regions:  append([]model.RegionMapping(nil), r.ref.Regions...),
	}
}

// ScopeMapping fills in the city of a mapping given without one, taken from
// the existing records of the same region and school district. A region
// name shared by several cities must be given its city explicitly.
func (r *Registry) ScopeMapping(m model.RegionMapping) (model.RegionMapping, error) {
	if strings.TrimSpace(m.City) != "" {
		return m, nil
	}
	var cities []string
	for _, e := range r.ref.Regions {
		if e.Region == m.Region && e.SchoolDistrict == m.SchoolDistrict && e.City != "" && !slices.Contains(cities, e.City) {
			cities = append(cities, e.City)
		}
	}
	switch len(cities) {
	case 0:
		return m, nil
	case 1:
		m.City = cities[0]
		return m, nil
	default:
		return m, eris.Errorf("areacode: region %q exists in %s; name the city", m.Region, strings.Join(cities, ", "))
	}
}

// SetMapping upserts one region mapping and returns a new snapshot. The
// receiver is left unchanged.
func (r *Registry) SetMapping(m model.RegionMapping) (*Registry, error) {
	m, err := r.ScopeMapping(m)
	if err != nil {
		return nil, err
	}
	ref := r.Reference()
	replaced := false
	for i := range ref.Regions {
		if ref.Regions[i].Key() == m.Key() {
			ref.Regions[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		ref.Regions = append(ref.Regions, m)
	}
	return NewRegistry(ref)
}
