package maplink

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/areamatch/internal/model"
)

// Reason explains why a link could not be resolved.
type Reason string

const (
	ReasonEmptyLink        Reason = "empty_link"
	ReasonMalformedLink    Reason = "malformed_link"
	ReasonUnreachable      Reason = "unreachable"
	ReasonTimeout          Reason = "timeout"
	ReasonTooManyRedirects Reason = "too_many_redirects"
	ReasonNoPattern        Reason = "no_pattern"
	ReasonRateLimited      Reason = "rate_limited"
)

// Result is the outcome of resolving a map link. A zero Coordinate with
// Resolved=false is never a valid location.
type Result struct {
	Coordinate   model.Coordinate `json:"coordinate"`
	Resolved     bool             `json:"resolved"`
	CanonicalURL string           `json:"canonical_url,omitempty"`
	Extractor    string           `json:"extractor,omitempty"`
	Reason       Reason           `json:"reason,omitempty"`
	Hops         int              `json:"hops"`
}

// Unresolvable builds a failed result.
func Unresolvable(reason Reason) Result {
	return Result{Reason: reason}
}

// Label returns "resolved" or the failure reason.
func (r Result) Label() string {
	if r.Resolved {
		return "resolved"
	}
	return string(r.Reason)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the HTTP client. Its CheckRedirect is replaced so the
// resolver sees every hop.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) {
		c := *hc
		r.client = &c
	}
}

// WithTimeout bounds the whole redirect chain.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxHops bounds the number of redirects followed.
func WithMaxHops(n int) Option {
	return func(r *Resolver) {
		if n >= 0 {
			r.maxHops = n
		}
	}
}

// WithRateLimit sets the requests-per-second limit for network lookups.
// Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(r *Resolver) {
		if rps <= 0 {
			r.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache enables result caching.
func WithCache(c *Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithExtractors replaces the extractor list.
func WithExtractors(ex ...Extractor) Option {
	return func(r *Resolver) {
		r.extractors = ex
	}
}

// WithUserAgent sets the User-Agent header for redirect requests.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		r.userAgent = ua
	}
}

// Resolver resolves map links to coordinates.
type Resolver struct {
	client     *http.Client
	extractors []Extractor
	timeout    time.Duration
	maxHops    int
	userAgent  string
	limiter    *rate.Limiter
	cache      *Cache
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:     &http.Client{},
		extractors: DefaultExtractors(),
		timeout:    5 * time.Second,
		maxHops:    5,
		userAgent:  "areamatch/1.0",
	}
	for _, opt := range opts {
		opt(r)
	}
	r.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return r
}

// Resolve returns the coordinate a map link points to. Failures are
// reported in the result; Resolve never returns an error.
func (r *Resolver) Resolve(ctx context.Context, link string) Result {
	link = strings.TrimSpace(link)
	if link == "" {
		return Unresolvable(ReasonEmptyLink)
	}

	if c, name, ok := Extract(link, r.extractors); ok {
		return Result{Coordinate: c, Resolved: true, CanonicalURL: link, Extractor: name}
	}

	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Unresolvable(ReasonMalformedLink)
	}

	if r.cache != nil {
		if res, ok := r.cache.Get(link); ok {
			return res
		}
	}

	res := r.follow(ctx, u.String())
	if r.cache != nil && cacheable(res) {
		r.cache.Put(link, res)
	}
	return res
}

// follow walks the redirect chain, trying extraction on every Location.
func (r *Resolver) follow(ctx context.Context, current string) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := zap.L().With(zap.String("link", current))
	hops := 0
	for {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return Unresolvable(ReasonTimeout)
				}
				return Unresolvable(ReasonRateLimited)
			}
		}

		status, location, err := r.fetch(ctx, current)
		if err != nil {
			reason := classify(ctx, err)
			log.Debug("maplink: request failed",
				zap.Int("hop", hops),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
			return Unresolvable(reason)
		}

		if status < 300 || status >= 400 || location == "" {
			log.Debug("maplink: chain ended",
				zap.Int("hop", hops),
				zap.Int("status", status),
			)
			if status >= 400 {
				return Unresolvable(ReasonUnreachable)
			}
			return Unresolvable(ReasonNoPattern)
		}

		next, err := resolveLocation(current, location)
		if err != nil {
			return Unresolvable(ReasonMalformedLink)
		}
		hops++
		if hops > r.maxHops {
			return Unresolvable(ReasonTooManyRedirects)
		}
		log.Debug("maplink: redirect", zap.Int("hop", hops), zap.String("location", next))

		if c, name, ok := Extract(next, r.extractors); ok {
			return Result{Coordinate: c, Resolved: true, CanonicalURL: next, Extractor: name, Hops: hops}
		}
		current = next
	}
}

func (r *Resolver) fetch(ctx context.Context, target string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, "", err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func resolveLocation(base, location string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	l, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(l).String(), nil
}

// classify maps a transport error to a reason.
func classify(ctx context.Context, err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}

// cacheable reports whether a result is stable enough to reuse. Transient
// failures are retried on the next call.
func cacheable(r Result) bool {
	switch {
	case r.Resolved:
		return true
	case r.Reason == ReasonNoPattern, r.Reason == ReasonTooManyRedirects:
		return true
	default:
		return false
	}
}
