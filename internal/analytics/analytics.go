// Package analytics computes sales, order, customer, inventory, campaign,
// market, refund and traffic reports from a point-in-time snapshot of orders.
//
// Every report reads one snapshot, delegates bucketing to timebucket and
// classification to segment, and returns a fully populated structure. A
// cancelled context discards the partial result.
package analytics

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/xenking/oolio-orderflow/internal/analytics/segment"
	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

// Store reads a consistent view of orders and products. Orders created at or
// after createdBefore are left out; the rest are returned as deep copies
// sorted by creation time. Both slices must come from the same instant.
type Store interface {
	Snapshot(ctx context.Context, createdBefore time.Time) ([]order.Order, []product.Product, error)
}

// Snapshot is the immutable input of one report computation.
type Snapshot struct {
	AsOf     time.Time
	Range    timebucket.Range
	Orders   []order.Order
	Products []product.Product
}

// Config holds the reporting policy.
type Config struct {
	Segments segment.Config
	// Location aligns buckets and dashboard periods. Nil means UTC.
	Location *time.Location
	Currency currency.Unit
}

// DefaultConfig returns the default reporting policy.
func DefaultConfig() Config {
	return Config{
		Segments: segment.DefaultConfig(),
		Location: time.UTC,
		Currency: currency.INR,
	}
}

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Query selects the data of a report. A nil From means the first order in the
// snapshot and a nil To means the snapshot time.
type Query struct {
	From    *time.Time
	To      *time.Time
	GroupBy timebucket.Granularity
	// Sort is validated per report.
	Sort       string
	Limit      int
	Category   string
	Market     string
	CampaignID string
	// IncludeCancelled counts cancelled orders toward revenue and order totals.
	IncludeCancelled bool
}

// Validate rejects inverted ranges and unknown enum values.
func (q Query) Validate() error {
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return apperr.Validation("from", "%s is after to %s", q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	if !q.GroupBy.Valid() {
		return apperr.Validation("group_by", "unknown granularity %d", uint8(q.GroupBy))
	}
	if q.Limit < 0 {
		return apperr.Validation("limit", "must not be negative, got %d", q.Limit)
	}
	return nil
}

func (q Query) limit(def int) int {
	switch {
	case q.Limit <= 0:
		return def
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}

// counts reports whether o contributes to totals under the query policy.
func (q Query) counts(o *order.Order) bool {
	return q.IncludeCancelled || o.CountsAsRevenue()
}

// match applies the category, market and campaign filters.
func (q Query) match(o *order.Order) bool {
	if q.Market != "" && o.Market() != q.Market {
		return false
	}
	if q.CampaignID != "" && campaignKey(o) != q.CampaignID {
		return false
	}
	if q.Category != "" && !slices.ContainsFunc(o.Items, func(i order.Item) bool { return i.Category == q.Category }) {
		return false
	}
	return true
}

func campaignKey(o *order.Order) string {
	if o.CampaignID != "" {
		return o.CampaignID
	}
	return o.DiscountCode
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTrafficSource sets the provider of external traffic metrics.
func WithTrafficSource(src TrafficSource) Option {
	return func(a *Aggregator) { a.traffic = src }
}

// WithClock sets the time source used as snapshot time.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithTracerProvider sets the tracer provider for report spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Aggregator) { a.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider for report counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(a *Aggregator) { a.meter = mp }
}

const instrumentationName = "github.com/xenking/oolio-orderflow/internal/analytics"

// Aggregator computes reports. It is safe for concurrent use.
type Aggregator struct {
	store   Store
	traffic TrafficSource
	cfg     Config
	now     func() time.Time

	tracer  trace.Tracer
	meter   metric.MeterProvider
	reports metric.Int64Counter
}

// NewAggregator creates an Aggregator reading from store.
func NewAggregator(store Store, cfg Config, opts ...Option) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	a := &Aggregator{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(a)
	}
	reports, err := a.meter.Meter(instrumentationName).Int64Counter("orderflow.analytics.reports",
		metric.WithDescription("Computed analytics reports"),
	)
	if err != nil {
		reports = metricnoop.Int64Counter{}
	}
	a.reports = reports
	return a
}

// Snapshot loads the data for q. It validates the query and resolves the
// open ends of the range.
func (a *Aggregator) Snapshot(ctx context.Context, q Query) (*Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	asOf := a.now().UTC()
	to := asOf
	if q.To != nil {
		to = *q.To
	}
	if q.From != nil && q.From.After(to) {
		return nil, apperr.Validation("from", "%s is after snapshot time %s", q.From.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	// Segments are evaluated as of asOf, so history runs past a range that
	// ends earlier.
	orders, products, err := a.store.Snapshot(ctx, later(asOf, to))
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	slices.SortStableFunc(orders, func(x, y order.Order) int { return x.CreatedAt.Compare(y.CreatedAt) })

	from := to
	switch {
	case q.From != nil:
		from = *q.From
	case len(orders) > 0:
		from = timebucket.Floor(orders[0].CreatedAt, timebucket.Day, a.cfg.Location)
		if from.After(to) {
			from = to
		}
	}

	return &Snapshot{
		AsOf:     asOf,
		Range:    timebucket.Range{From: from, To: to},
		Orders:   orders,
		Products: products,
	}, nil
}

func later(x, y time.Time) time.Time {
	if x.After(y) {
		return x
	}
	return y
}

// inRange returns the orders of snap created in r that match the filters.
func inRange(snap *Snapshot, q Query, r timebucket.Range) []order.Order {
	// Orders are sorted, so the range is a contiguous window.
	start := sortSearch(snap.Orders, r.From)
	end := sortSearch(snap.Orders, r.To)
	out := make([]order.Order, 0, end-start)
	for i := start; i < end; i++ {
		if q.match(&snap.Orders[i]) {
			out = append(out, snap.Orders[i])
		}
	}
	return out
}

// history returns all orders of snap that match the filters.
func history(snap *Snapshot, q Query) []order.Order {
	out := make([]order.Order, 0, len(snap.Orders))
	for i := range snap.Orders {
		if q.match(&snap.Orders[i]) {
			out = append(out, snap.Orders[i])
		}
	}
	return out
}

func sortSearch(orders []order.Order, t time.Time) int {
	i, _ := slices.BinarySearchFunc(orders, t, func(o order.Order, t time.Time) int {
		if c := o.CreatedAt.Compare(t); c != 0 {
			return c
		}
		// Land on the first order created at t.
		return 1
	})
	return i
}

// report runs compute against a fresh snapshot inside a span.
func report[T any](ctx context.Context, a *Aggregator, name string, q Query, compute func(context.Context, *Snapshot, Query) (T, error)) (T, error) {
	ctx, span := a.tracer.Start(ctx, "analytics."+name, trace.WithAttributes(attribute.String("report", name)))
	defer span.End()

	out, err := func() (T, error) {
		var zero T
		snap, err := a.Snapshot(ctx, q)
		if err != nil {
			return zero, err
		}
		span.SetAttributes(attribute.Int("orders", len(snap.Orders)))
		out, err := compute(ctx, snap, q)
		if err != nil {
			return zero, err
		}
		// A result computed while the caller gave up is discarded.
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrap(err, name)
		}
		return out, nil
	}()

	a.reports.Add(ctx, 1, metric.WithAttributes(
		attribute.String("report", name),
		attribute.Bool("ok", err == nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if apperr.KindOf(err) == apperr.KindInternal {
			zctx.From(ctx).Error("Report failed", zap.String("report", name), zap.Error(err))
		}
		var zero T
		return zero, err
	}
	return out, nil
}
