package analytics

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

// TrafficPoint is one day of site traffic as reported by an external source.
type TrafficPoint struct {
	Date     time.Time
	Sessions int64
	Visitors int64
	// PageViews may be zero when the source does not report it.
	PageViews int64
	// BounceRate is a fraction in [0, 1].
	BounceRate decimal.Decimal
}

// TrafficSource provides daily traffic totals. The values are opaque to the
// aggregator; it only sums and buckets them.
type TrafficSource interface {
	Traffic(ctx context.Context, r timebucket.Range) ([]TrafficPoint, error)
}

// TrafficReport joins external traffic with orders placed in the same range.
type TrafficReport struct {
	Range timebucket.Range `json:"range"`
	// Available is false when no traffic source is configured.
	Available bool  `json:"available"`
	Sessions  int64 `json:"sessions"`
	Visitors  int64 `json:"visitors"`
	PageViews int64 `json:"page_views"`
	// BounceRate is the session-weighted bounce rate in percent.
	BounceRate decimal.Decimal `json:"bounce_rate"`
	Orders     int             `json:"orders"`
	// ConversionRate is orders per session in percent, nil without sessions.
	ConversionRate *decimal.Decimal `json:"conversion_rate"`
	Series         []TrafficBucket  `json:"series"`
}

// TrafficBucket is one bucket of the traffic series.
type TrafficBucket struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Sessions  int64     `json:"sessions"`
	Visitors  int64     `json:"visitors"`
	PageViews int64     `json:"page_views"`
	Orders    int       `json:"orders"`
}

// Traffic reports sessions, visitors and conversion. Without a configured
// source the report is returned with Available unset and zero traffic.
func (a *Aggregator) Traffic(ctx context.Context, q Query) (*TrafficReport, error) {
	return report(ctx, a, "traffic", q, a.trafficReport)
}

type trafficTotals struct {
	sessions  int64
	visitors  int64
	pageViews int64
}

func (a *Aggregator) trafficReport(ctx context.Context, snap *Snapshot, q Query) (*TrafficReport, error) {
	var points []TrafficPoint
	if a.traffic != nil && !snap.Range.Empty() {
		var err error
		points, err = a.traffic.Traffic(ctx, snap.Range)
		if err != nil {
			return nil, errors.Wrap(err, "traffic source")
		}
	}

	out := &TrafficReport{
		Range:      snap.Range,
		Available:  a.traffic != nil,
		BounceRate: decimal.Zero,
	}
	bounced := decimal.Zero
	for _, p := range points {
		if !snap.Range.Contains(p.Date) {
			continue
		}
		out.Sessions += p.Sessions
		out.Visitors += p.Visitors
		out.PageViews += p.PageViews
		bounced = bounced.Add(p.BounceRate.Mul(decimal.NewFromInt(p.Sessions)))
	}

	orders := inRange(snap, q, snap.Range)
	out.Orders = sumOrders(orders, q).orders
	if out.Sessions > 0 {
		sessions := decimal.NewFromInt(out.Sessions)
		out.BounceRate = bounced.Div(sessions).Mul(hundred).Round(2)
		conv := decimal.NewFromInt(int64(out.Orders)).Div(sessions).Mul(hundred).Round(2)
		out.ConversionRate = &conv
	}

	traffic, err := timebucket.Fill(ctx, points, snap.Range, q.GroupBy, a.cfg.Location,
		func(p TrafficPoint) time.Time { return p.Date },
		func(v *trafficTotals, p TrafficPoint) {
			v.sessions += p.Sessions
			v.visitors += p.Visitors
			v.pageViews += p.PageViews
		},
	)
	if err != nil {
		return nil, err
	}
	counted, err := timebucket.Fill(ctx, orders, snap.Range, q.GroupBy, a.cfg.Location,
		func(o order.Order) time.Time { return o.CreatedAt },
		func(v *int, o order.Order) {
			if q.counts(&o) {
				*v++
			}
		},
	)
	if err != nil {
		return nil, err
	}

	out.Series = make([]TrafficBucket, len(traffic))
	for i, s := range traffic {
		out.Series[i] = TrafficBucket{
			Start:     s.Start,
			End:       s.End,
			Sessions:  s.Value.sessions,
			Visitors:  s.Value.visitors,
			PageViews: s.Value.pageViews,
			Orders:    counted[i].Value,
		}
	}
	return out, nil
}
