// Package maplink turns map links into coordinates. Coordinates are read
// from the link text itself, following redirects (short links) when the
// link does not carry them.
package maplink

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/areamatch/internal/model"
)

// Extractor reads a coordinate out of a URL string.
type Extractor interface {
	// Name identifies the pattern in logs and results.
	Name() string
	// Extract returns the coordinate embedded in rawURL, if any.
	Extract(rawURL string) (model.Coordinate, bool)
}

const number = `(-?\d{1,3}(?:\.\d+)?)`

// patternExtractor matches one of several regexps whose first two groups
// are latitude and longitude.
type patternExtractor struct {
	name     string
	patterns []*regexp.Regexp
}

func (p *patternExtractor) Name() string { return p.name }

func (p *patternExtractor) Extract(rawURL string) (model.Coordinate, bool) {
	s := unescape(rawURL)
	for _, re := range p.patterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if c, ok := parseCoordinate(m[1], m[2]); ok {
			return c, true
		}
	}
	return model.Coordinate{}, false
}

// SearchPoint matches search links: /maps/search/LAT,LNG and the q, ll and
// query parameters.
func SearchPoint() Extractor {
	return &patternExtractor{
		name: "search_point",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/maps/search/` + number + `,\s*` + number),
			regexp.MustCompile(`[?&](?:q|ll|query)=` + number + `,\s*` + number + `(?:[&#]|$)`),
		},
	}
}

// AtZoom matches the viewport marker @LAT,LNG,ZOOMz (or a metre altitude
// such as 500m).
func AtZoom() Extractor {
	return &patternExtractor{
		name: "at_zoom",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`@` + number + `,` + number + `,\d+(?:\.\d+)?[zm]`),
		},
	}
}

// Place matches place links: /place/.../@LAT,LNG, with any number of path
// segments before the marker.
func Place() Extractor {
	return &patternExtractor{
		name: "place",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`/place/(?:[^@]*/)?@` + number + `,` + number),
		},
	}
}

// DataPoint matches the !3dLAT!4dLNG pin encoded in the data parameter.
func DataPoint() Extractor {
	return &patternExtractor{
		name: "data_point",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`!3d` + number + `!4d` + number),
		},
	}
}

// DefaultExtractors returns the built-in patterns in match order.
func DefaultExtractors() []Extractor {
	return []Extractor{SearchPoint(), AtZoom(), Place(), DataPoint()}
}

// Extract runs extractors in order and returns the first match.
func Extract(rawURL string, extractors []Extractor) (model.Coordinate, string, bool) {
	for _, e := range extractors {
		if c, ok := e.Extract(rawURL); ok {
			return c, e.Name(), true
		}
	}
	return model.Coordinate{}, "", false
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return strings.ReplaceAll(s, "%2C", ",")
}

func parseCoordinate(lat, lng string) (model.Coordinate, bool) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return model.Coordinate{}, false
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return model.Coordinate{}, false
	}
	c := model.Coordinate{Lat: la, Lng: ln}
	return c, c.Valid()
}
