// Package distribution derives a property's delivery-area codes from its
// address and map link.
package distribution

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/areacode"
	"github.com/sells-group/areamatch/internal/geo"
	"github.com/sells-group/areamatch/internal/metrics"
	"github.com/sells-group/areamatch/internal/model"
	"github.com/sells-group/areamatch/pkg/maplink"
)

// DefaultSeparator joins codes in Areas.Formatted.
const DefaultSeparator = ","

// GapKind names a reference-data gap seen while calculating.
type GapKind string

const (
	// GapUnmappedRegion: no region mapping matched the address.
	GapUnmappedRegion GapKind = "unmapped_region"
	// GapMissingCityWide: the matched region lacks its city's catch-all code.
	GapMissingCityWide GapKind = "missing_city_wide_code"
)

// Gap is a data-quality defect attached to one calculation.
type Gap struct {
	Kind   GapKind `json:"kind"`
	City   string  `json:"city,omitempty"`
	Region string  `json:"region,omitempty"`
}

// Areas is the result of one calculation.
type Areas struct {
	Codes       []model.AreaCode  `json:"area_codes"`
	Formatted   string            `json:"formatted"`
	ViaRadius   model.CodeSet     `json:"matched_via_radius"`
	ViaCityWide model.CodeSet     `json:"matched_via_city_wide"`
	Coordinate  *model.Coordinate `json:"coordinate,omitempty"`
	Region      string            `json:"region,omitempty"`
	Resolution  maplink.Result    `json:"resolution"`
	Gaps        []Gap             `json:"gaps,omitempty"`
}

// CoordinateResolver turns a map link into a coordinate.
type CoordinateResolver interface {
	Resolve(ctx context.Context, link string) maplink.Result
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithSeparator sets the separator used by Areas.Formatted.
func WithSeparator(sep string) Option {
	return func(c *Calculator) {
		c.separator = sep
	}
}

// WithMetrics records resolver outcomes and gaps.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Calculator) {
		c.metrics = m
	}
}

// Calculator composes radius and address matches over one registry
// snapshot.
type Calculator struct {
	registry  *areacode.Registry
	resolver  CoordinateResolver
	separator string
	metrics   *metrics.Metrics
}

// NewCalculator creates a Calculator bound to a registry snapshot. A nil
// resolver disables coordinate resolution.
func NewCalculator(registry *areacode.Registry, resolver CoordinateResolver, opts ...Option) *Calculator {
	c := &Calculator{
		registry:  registry,
		resolver:  resolver,
		separator: DefaultSeparator,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate derives the area codes for one property. The address lookup
// always runs; radius matches are added when the map link resolves. An
// unknown non-empty cityName is returned as areacode.ErrUnknownCity.
func (c *Calculator) Calculate(ctx context.Context, mapLink, cityName, address string) (*Areas, error) {
	log := zap.L().With(zap.String("address", address))

	cityName = strings.TrimSpace(cityName)
	var catchAll model.AreaCode
	if cityName != "" {
		code, err := c.registry.ResolveCityWideCode(cityName)
		if err != nil {
			return nil, eris.Wrap(err, "distribution: calculate")
		}
		catchAll = code
	}

	out := &Areas{ViaRadius: model.NewCodeSet()}

	out.Resolution = c.resolve(ctx, mapLink)
	c.metrics.ObserveResolver(out.Resolution.Label())
	if out.Resolution.Resolved {
		coord := out.Resolution.Coordinate
		out.Coordinate = &coord
		out.ViaRadius = geo.MatchRadiusAreas(coord, c.registry.RadiusZones())
	} else if out.Resolution.Reason != maplink.ReasonEmptyLink {
		log.Warn("distribution: map link unresolvable, using address match only",
			zap.String("map_link", mapLink),
			zap.String("reason", string(out.Resolution.Reason)),
		)
	}

	match, ok := c.registry.LookupInCity(cityName, address)
	out.ViaCityWide = match.Codes
	out.Region = match.Region
	if !ok {
		c.gap(log, out, Gap{Kind: GapUnmappedRegion, City: cityName})
	} else {
		city := cityName
		if city == "" {
			city = match.City
		}
		if catchAll == "" && city != "" {
			catchAll, _ = c.registry.ResolveCityWideCode(city)
		}
		if catchAll != "" && !match.Codes.Has(catchAll) {
			c.gap(log, out, Gap{Kind: GapMissingCityWide, City: city, Region: match.Region})
		}
	}

	out.Codes = c.registry.Sort(out.ViaRadius.Union(out.ViaCityWide))
	out.Formatted = c.Format(out.Codes)
	return out, nil
}

// Format renders codes with the configured separator.
func (c *Calculator) Format(codes []model.AreaCode) string {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = string(code)
	}
	return strings.Join(parts, c.separator)
}

// Refresh recomputes p's derived areas when its address, city or map link
// changed since the last calculation.
func (c *Calculator) Refresh(ctx context.Context, p *model.Property) (bool, error) {
	key := p.InputsKey()
	if p.AreasKey == key {
		return false, nil
	}

	areas, err := c.Calculate(ctx, p.MapLink, p.City, p.Address)
	if err != nil {
		return false, eris.Wrapf(err, "distribution: refresh %s", p.Ref)
	}
	p.DistributionAreas = areas.Codes
	p.Coordinate = areas.Coordinate
	p.AreasKey = key
	return true, nil
}

func (c *Calculator) resolve(ctx context.Context, link string) maplink.Result {
	if c.resolver == nil || strings.TrimSpace(link) == "" {
		return maplink.Unresolvable(maplink.ReasonEmptyLink)
	}
	return c.resolver.Resolve(ctx, link)
}

func (c *Calculator) gap(log *zap.Logger, out *Areas, g Gap) {
	out.Gaps = append(out.Gaps, g)
	c.metrics.ObserveGap(string(g.Kind))
	log.Warn("distribution: reference data gap",
		zap.String("kind", string(g.Kind)),
		zap.String("city", g.City),
		zap.String("region", g.Region),
	)
}
