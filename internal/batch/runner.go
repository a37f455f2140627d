// Package batch runs distribution matching over many properties against
// one reference-data snapshot.
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/areamatch/internal/areacode"
	"github.com/sells-group/areamatch/internal/distribution"
	"github.com/sells-group/areamatch/internal/metrics"
	"github.com/sells-group/areamatch/internal/model"
	"github.com/sells-group/areamatch/internal/qualify"
)

// DefaultConcurrency is the number of properties processed in parallel.
const DefaultConcurrency = 8

// PropertyResult is the outcome for one property. A non-nil Err affects
// only this property.
type PropertyResult struct {
	Property      model.Property  `json:"property"`
	Refreshed     bool            `json:"refreshed"`
	Qualification *qualify.Result `json:"qualification,omitempty"`
	Err           error           `json:"-"`
	Error         string          `json:"error,omitempty"`
}

// Report summarizes one batch.
type Report struct {
	BatchID   string           `json:"batch_id"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration_ns"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []PropertyResult `json:"results"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets how many properties run in parallel.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithSeparator sets the Formatted separator passed to the calculator.
func WithSeparator(sep string) Option {
	return func(r *Runner) {
		r.separator = sep
	}
}

// WithMetrics records batch, resolver, gap and decision metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// Runner fans a batch of properties out across workers.
type Runner struct {
	holder      *areacode.Holder
	resolver    distribution.CoordinateResolver
	engine      *qualify.Engine
	concurrency int
	separator   string
	metrics     *metrics.Metrics
}

// NewRunner creates a Runner. The engine may be nil to compute areas only.
func NewRunner(holder *areacode.Holder, resolver distribution.CoordinateResolver, engine *qualify.Engine, opts ...Option) *Runner {
	r := &Runner{
		holder:      holder,
		resolver:    resolver,
		engine:      engine,
		concurrency: DefaultConcurrency,
		separator:   distribution.DefaultSeparator,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run refreshes each property's areas and qualifies buyers for it. The
// registry snapshot is taken once, so edits published during the run are
// not seen until the next one. Per-property failures are reported in the
// results; Run itself fails only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, properties []model.Property, buyers []model.Buyer) (*Report, error) {
	report := &Report{
		BatchID:   uuid.New().String(),
		StartedAt: time.Now(),
		Results:   make([]PropertyResult, len(properties)),
	}
	log := zap.L().With(zap.String("batch_id", report.BatchID))

	calc := distribution.NewCalculator(r.holder.Snapshot(), r.resolver,
		distribution.WithSeparator(r.separator),
		distribution.WithMetrics(r.metrics),
	)

	log.Info("batch: processing",
		zap.Int("properties", len(properties)),
		zap.Int("buyers", len(buyers)),
		zap.Int("concurrency", r.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var succeeded, failed atomic.Int64
	for i := range properties {
		p := properties[i]
		g.Go(func() error {
			res := r.process(gctx, calc, p, buyers)
			if res.Err != nil {
				failed.Add(1)
				res.Error = res.Err.Error()
				log.Error("batch: property failed", zap.String("property", p.Ref), zap.Error(res.Err))
			} else {
				succeeded.Add(1)
			}
			report.Results[i] = res
			return nil // one property never aborts the batch
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)
	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	r.metrics.ObserveBatch(report.Duration)

	log.Info("batch: complete",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)

	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "batch: run")
	}
	return report, nil
}

func (r *Runner) process(ctx context.Context, calc *distribution.Calculator, p model.Property, buyers []model.Buyer) PropertyResult {
	res := PropertyResult{Property: p}

	changed, err := calc.Refresh(ctx, &res.Property)
	if err != nil {
		res.Err = err
		return res
	}
	res.Refreshed = changed

	if r.engine != nil {
		q := r.engine.Qualify(res.Property, buyers)
		res.Qualification = &q
	}
	return res
}
