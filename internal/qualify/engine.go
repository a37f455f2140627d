// Package qualify decides which buyers receive a property's distribution.
package qualify

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/areamatch/internal/geo"
	"github.com/sells-group/areamatch/internal/metrics"
	"github.com/sells-group/areamatch/internal/model"
)

// DefaultInquiryThresholdKM is the inquiry proximity used when none is set.
const DefaultInquiryThresholdKM = 3.0

// Predicate names one eligibility check.
type Predicate string

const (
	PredicateGeography Predicate = "geography"
	PredicateOptIn     Predicate = "opt_in"
	PredicateStatus    Predicate = "status"
	PredicatePrice     Predicate = "price"
)

// SkipReason explains why a buyer record was excluded before evaluation.
type SkipReason string

const (
	SkipMissingEmail       SkipReason = "missing_email"
	SkipInvalidEmail       SkipReason = "invalid_email"
	SkipInvertedPriceRange SkipReason = "inverted_price_range"
	SkipUndecodable        SkipReason = SkipReason(model.DefectUndecodable)
	SkipMissingStatus      SkipReason = SkipReason(model.DefectMissingStatus)
	SkipMissingOptIn       SkipReason = SkipReason(model.DefectMissingOptIn)
)

// Decision labels used for metrics.
const (
	DecisionQualified = "qualified"
	DecisionRejected  = "rejected"
	DecisionSkipped   = "skipped"
)

// Config holds the engine's tunables.
type Config struct {
	InquiryThresholdKM    float64  `mapstructure:"inquiry_threshold_km"`
	DisqualifyingStatuses []string `mapstructure:"disqualifying_statuses"`
}

// Skip records a malformed buyer record. Record is its position in the
// buyer list.
type Skip struct {
	Record  int        `json:"record"`
	BuyerID string     `json:"buyer_id,omitempty"`
	Email   string     `json:"email,omitempty"`
	Reason  SkipReason `json:"reason"`
}

// Rejection records every predicate a buyer failed.
type Rejection struct {
	BuyerID string      `json:"buyer_id,omitempty"`
	Email   string      `json:"email"`
	Failed  []Predicate `json:"failed"`
}

// Evaluation is the outcome of running all predicates for one buyer.
type Evaluation struct {
	MatchType model.MatchType
	Failed    []Predicate
}

// Passed reports whether every predicate held.
func (e Evaluation) Passed() bool { return len(e.Failed) == 0 }

// Result is the distribution list for one property.
type Result struct {
	PropertyRef string                 `json:"property_ref"`
	Qualified   []model.QualifiedBuyer `json:"qualified"`
	Rejected    []Rejection            `json:"rejected,omitempty"`
	Skipped     []Skip                 `json:"skipped,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records one decision per buyer record.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine filters buyers for a property. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	thresholdKM   float64
	disqualifying map[string]struct{}
	metrics       *metrics.Metrics
}

// NewEngine creates an Engine. Statuses not listed in
// cfg.DisqualifyingStatuses pass.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		thresholdKM:   cfg.InquiryThresholdKM,
		disqualifying: make(map[string]struct{}, len(cfg.DisqualifyingStatuses)),
	}
	if e.thresholdKM <= 0 {
		e.thresholdKM = DefaultInquiryThresholdKM
	}
	for _, s := range cfg.DisqualifyingStatuses {
		if s = normalizeStatus(s); s != "" {
			e.disqualifying[s] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Qualify returns the deduplicated buyers eligible for p, in order of first
// appearance. Records sharing an email collapse into one entry carrying the
// union of their match evidence.
func (e *Engine) Qualify(p model.Property, buyers []model.Buyer) Result {
	res := Result{PropertyRef: p.Ref}
	areas := model.NewCodeSet(p.DistributionAreas...)
	byEmail := make(map[string]int)

	for i, b := range buyers {
		email := b.NormalizedEmail()
		if reason, bad := malformed(b); bad {
			res.Skipped = append(res.Skipped, Skip{Record: i, BuyerID: b.ID, Email: email, Reason: reason})
			e.metrics.ObserveDecision(DecisionSkipped)
			zap.L().Debug("qualify: buyer record skipped",
				zap.String("property", p.Ref),
				zap.String("buyer_id", b.ID),
				zap.String("reason", string(reason)),
			)
			continue
		}

		ev := e.evaluate(p, areas, b)
		if !ev.Passed() {
			res.Rejected = append(res.Rejected, Rejection{BuyerID: b.ID, Email: email, Failed: ev.Failed})
			e.metrics.ObserveDecision(DecisionRejected)
			continue
		}
		e.metrics.ObserveDecision(DecisionQualified)

		if j, dup := byEmail[email]; dup {
			q := &res.Qualified[j]
			q.MatchType = q.MatchType.Merge(ev.MatchType)
			if b.ID != "" {
				q.BuyerIDs = append(q.BuyerIDs, b.ID)
			}
			continue
		}
		byEmail[email] = len(res.Qualified)
		q := model.QualifiedBuyer{Email: email, MatchType: ev.MatchType}
		if b.ID != "" {
			q.BuyerIDs = []string{b.ID}
		}
		res.Qualified = append(res.Qualified, q)
	}
	return res
}

// Evaluate runs every predicate for one buyer against p.
func (e *Engine) Evaluate(p model.Property, b model.Buyer) Evaluation {
	return e.evaluate(p, model.NewCodeSet(p.DistributionAreas...), b)
}

func (e *Engine) evaluate(p model.Property, areas model.CodeSet, b model.Buyer) Evaluation {
	var ev Evaluation

	ev.MatchType = e.geography(p, areas, b)
	if ev.MatchType == "" {
		ev.Failed = append(ev.Failed, PredicateGeography)
	}
	if !b.OptIn {
		ev.Failed = append(ev.Failed, PredicateOptIn)
	}
	if _, ok := e.disqualifying[normalizeStatus(b.Status)]; ok {
		ev.Failed = append(ev.Failed, PredicateStatus)
	}
	if !inPriceRange(p.Price, b.PriceMin, b.PriceMax) {
		ev.Failed = append(ev.Failed, PredicatePrice)
	}
	return ev
}

// geography returns the branch that matched, or "" if neither did.
func (e *Engine) geography(p model.Property, areas model.CodeSet, b model.Buyer) model.MatchType {
	var mt model.MatchType
	if areas.Intersects(model.NewCodeSet(b.DesiredAreas...)) {
		mt = model.MatchArea
	}
	if p.Coordinate == nil || len(b.Inquiries) == 0 {
		return mt
	}
	points := make([]model.Coordinate, 0, len(b.Inquiries))
	for _, inq := range b.Inquiries {
		if c := inq.Coordinate(); c.Valid() {
			points = append(points, c)
		}
	}
	if d, _ := geo.Nearest(*p.Coordinate, points); d <= e.thresholdKM {
		mt = mt.Merge(model.MatchInquiry)
	}
	return mt
}

func inPriceRange(price, lo, hi *float64) bool {
	if price == nil {
		return true
	}
	if lo != nil && *price < *lo {
		return false
	}
	if hi != nil && *price > *hi {
		return false
	}
	return true
}

func malformed(b model.Buyer) (SkipReason, bool) {
	email := b.NormalizedEmail()
	switch {
	case b.Defect != "":
		return SkipReason(b.Defect), true
	case email == "":
		return SkipMissingEmail, true
	case !strings.Contains(email, "@"):
		return SkipInvalidEmail, true
	case b.PriceMin != nil && b.PriceMax != nil && *b.PriceMin > *b.PriceMax:
		return SkipInvertedPriceRange, true
	}
	return "", false
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
