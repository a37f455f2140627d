package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Property is a listing to distribute. DistributionAreas, Coordinate and
// AreasKey are derived and recomputed when Address, City or MapLink change.
type Property struct {
	Ref     string   `json:"ref"`
	Address string   `json:"address"`
	City    string   `json:"city,omitempty"`
	MapLink string   `json:"map_link,omitempty"`
	Price   *float64 `json:"price,omitempty"`

	DistributionAreas []AreaCode  `json:"distribution_area_codes,omitempty"`
	Coordinate        *Coordinate `json:"coordinate,omitempty"`
	AreasKey          string      `json:"-"`
}

// InputsKey fingerprints the fields that drive area derivation.
func (p Property) InputsKey() string {
	return strings.Join([]string{
		strings.TrimSpace(p.Address),
		strings.TrimSpace(p.City),
		strings.TrimSpace(p.MapLink),
	}, "\x1f")
}

// Inquiry is one past inquiry by a buyer about a property at a location.
type Inquiry struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Date        time.Time `json:"date"`
	PropertyRef string    `json:"property_ref,omitempty"`
}

// UnmarshalJSON accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func (i *Inquiry) UnmarshalJSON(data []byte) error {
	type plain Inquiry
	var raw struct {
		plain
		Date string `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Inquiry(raw.plain)
	if raw.Date == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw.Date); err == nil {
			i.Date = t
			return nil
		}
	}
	return eris.Errorf("model: inquiry date %q is neither RFC 3339 nor YYYY-MM-DD", raw.Date)
}

// Coordinate returns the inquiry location.
func (i Inquiry) Coordinate() Coordinate {
	return Coordinate{Lat: i.Lat, Lng: i.Lng}
}

// Buyer is a prospective buyer record. The same person may appear under
// several records sharing an email.
type Buyer struct {
	ID           string     `json:"id,omitempty"`
	DesiredAreas []AreaCode `json:"desired_areas"`
	Inquiries    []Inquiry  `json:"inquiry_history"`
	Status       string     `json:"status"`
	PriceMin     *float64   `json:"price_min"`
	PriceMax     *float64   `json:"price_max"`
	OptIn        bool       `json:"distribution_opt_in"`
	Email        string     `json:"email"`

	// Defect is set at load time when the record could not be decoded in
	// full or lacks a required field.
	Defect BuyerDefect `json:"-"`
}

// BuyerDefect names why a loaded buyer record is unusable.
type BuyerDefect string

const (
	DefectUndecodable   BuyerDefect = "undecodable"
	DefectMissingStatus BuyerDefect = "missing_status"
	DefectMissingOptIn  BuyerDefect = "missing_opt_in"
)

// UnmarshalJSON flags records missing status or distribution_opt_in.
func (b *Buyer) UnmarshalJSON(data []byte) error {
	type plain Buyer
	var raw struct {
		plain
		Status *string `json:"status"`
		OptIn  *bool   `json:"distribution_opt_in"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Buyer(raw.plain)
	if raw.Status != nil {
		b.Status = *raw.Status
	}
	if raw.OptIn != nil {
		b.OptIn = *raw.OptIn
	}
	switch {
	case raw.Status == nil:
		b.Defect = DefectMissingStatus
	case raw.OptIn == nil:
		b.Defect = DefectMissingOptIn
	}
	return nil
}

// NormalizedEmail is the dedup key for a buyer.
func (b Buyer) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(b.Email))
}

// MatchType explains why a buyer's geography check passed.
type MatchType string

const (
	MatchArea    MatchType = "area"
	MatchInquiry MatchType = "inquiry"
	MatchBoth    MatchType = "both"
)

// Merge combines evidence from two match types.
func (m MatchType) Merge(other MatchType) MatchType {
	switch {
	case m == "":
		return other
	case other == "" || m == other:
		return m
	default:
		return MatchBoth
	}
}

// QualifiedBuyer is one entry of a property's distribution list.
type QualifiedBuyer struct {
	Email     string    `json:"email"`
	MatchType MatchType `json:"match_type"`
	BuyerIDs  []string  `json:"buyer_ids,omitempty"`
}
