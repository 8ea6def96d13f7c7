// Package search fans a query out to every registered provider and merges
// the outcomes into one ranked result list.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fastzet/metastream/internal/metrics"
	"github.com/fastzet/metastream/internal/providers"
	"github.com/fastzet/metastream/internal/ranking"
	"github.com/fastzet/metastream/internal/tracing"
)

// DefaultProviderTimeout bounds a single provider call.
const DefaultProviderTimeout = 15 * time.Second

// Result is the merged outcome of one fan-out.
type Result struct {
	// Records are ranked, highest score first.
	Records []providers.Record
	// Failed names the providers whose outcome was excluded.
	Failed []string
	// Queried is the number of providers invoked.
	Queried int
}

// RankFunc orders merged records for a query.
type RankFunc func(ctx context.Context, records []providers.Record, query string) []providers.Record

// Dispatcher queries all providers of a registry concurrently.
type Dispatcher struct {
	registry *providers.Registry
	timeout  time.Duration
	rank     RankFunc
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the per-provider timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithMetrics records provider calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// WithRankFunc replaces ranking.Rank.
func WithRankFunc(fn RankFunc) Option {
	return func(dp *Dispatcher) { dp.rank = fn }
}

// WithTracer replaces the global module tracer.
func WithTracer(t trace.Tracer) Option {
	return func(dp *Dispatcher) { dp.tracer = t }
}

// New creates a dispatcher over registry.
func New(registry *providers.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultProviderTimeout,
		rank:     ranking.Rank,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = tracing.Tracer()
	}
	return d
}

// Timeout returns the per-provider timeout.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Providers returns the registered provider names in order.
func (d *Dispatcher) Providers() []string {
	return d.registry.Names()
}

type outcome struct {
	records []providers.Record
	failed  bool
}

// Fetch queries every provider for page of query and returns the ranked
// aggregate. A provider that errors, times out, panics or returns a record
// that fails validation is excluded and listed in Result.Failed; the others
// are unaffected. Fetch never fails as a whole.
func (d *Dispatcher) Fetch(ctx context.Context, query string, page int, scratch *providers.Scratch) Result {
	ps := d.registry.Providers()
	if len(ps) == 0 {
		return Result{Records: []providers.Record{}}
	}

	// Indexed slots keep registration order regardless of completion order.
	outcomes := make([]outcome, len(ps))
	var wg sync.WaitGroup
	for i, p := range ps {
		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()
			outcomes[i] = d.call(ctx, p, query, page, scratch)
		}(i, p)
	}
	wg.Wait()

	merged := []providers.Record{}
	var failed []string
	for i, o := range outcomes {
		if o.failed {
			failed = append(failed, ps[i].Name())
			continue
		}
		merged = append(merged, o.records...)
	}

	return Result{
		Records: d.rank(ctx, merged, query),
		Failed:  failed,
		Queried: len(ps),
	}
}

type reply struct {
	records []providers.Record
	err     error
}

func (d *Dispatcher) call(ctx context.Context, p providers.Provider, query string, page int, scratch *providers.Scratch) outcome {
	name := p.Name()
	ctx = slogctx.Append(ctx, "provider", name)
	ctx, span := d.tracer.Start(ctx, "provider.search", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.Int("page", page),
	))

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	out, err := d.invoke(callCtx, p, query, page, scratch)

	result := metrics.OutcomeOK
	switch {
	case errors.Is(err, providers.ErrMalformedRecord):
		result = metrics.OutcomeMalformed
		slogctx.Warn(ctx, "Provider returned malformed record, discarding its results", "error", err)
	case err != nil:
		result = metrics.OutcomeError
		slogctx.Error(ctx, "Provider failed", "error", err)
	default:
		slogctx.Debug(ctx, "Provider succeeded", "results", len(out.records))
	}
	d.metrics.ObserveProvider(name, result, time.Since(start), len(out.records))
	span.SetAttributes(attribute.Int("results", len(out.records)))
	tracing.End(span, err)
	return out
}

// invoke runs the provider in its own goroutine so that a provider ignoring
// its context cannot hold the join past the timeout.
func (d *Dispatcher) invoke(ctx context.Context, p providers.Provider, query string, page int, scratch *providers.Scratch) (outcome, error) {
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		records, err := p.Search(ctx, query, page, scratch)
		ch <- reply{records: records, err: err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-ctx.Done():
		return outcome{failed: true}, fmt.Errorf("no response within %s: %w", d.timeout, ctx.Err())
	}
	if r.err != nil {
		return outcome{failed: true}, r.err
	}

	for i := range r.records {
		if err := r.records[i].Validate(); err != nil {
			return outcome{failed: true}, fmt.Errorf("record %d: %w", i, err)
		}
	}
	if r.records == nil {
		r.records = []providers.Record{}
	}
	return outcome{records: r.records}, nil
}
