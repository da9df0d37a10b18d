package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orderflow/internal/analytics/timebucket"
)

// Dashboard compares the current day, week and month with the previous ones.
type Dashboard struct {
	AsOf     time.Time          `json:"as_of"`
	Currency string             `json:"currency"`
	Periods  []PeriodComparison `json:"periods"`
}

// PeriodComparison is one calendar period next to the period before it.
type PeriodComparison struct {
	Period             timebucket.Granularity `json:"period"`
	Current            timebucket.Range       `json:"current"`
	Previous           timebucket.Range       `json:"previous"`
	Revenue            Comparison             `json:"revenue"`
	Orders             Comparison             `json:"orders"`
	AverageOrderValue  Comparison             `json:"average_order_value"`
	Units              int                    `json:"units"`
	CancellationRate   decimal.Decimal        `json:"cancellation_rate"`
	StatusDistribution []Share                `json:"status_distribution"`
}

var dashboardPeriods = []timebucket.Granularity{timebucket.Day, timebucket.Week, timebucket.Month}

// Dashboard computes today against yesterday, this week against last week
// and this month against last month from a single snapshot. The range of q
// is ignored; the filters apply.
func (a *Aggregator) Dashboard(ctx context.Context, q Query) (*Dashboard, error) {
	now := a.now()
	type period struct {
		g         timebucket.Granularity
		cur, prev timebucket.Range
	}
	periods := make([]period, len(dashboardPeriods))
	from, to := now, now
	for i, g := range dashboardPeriods {
		start := timebucket.Floor(now, g, a.cfg.Location)
		end := timebucket.Next(start, g)
		prevStart := timebucket.Floor(start.Add(-time.Nanosecond), g, a.cfg.Location)
		periods[i] = period{
			g:    g,
			cur:  timebucket.Range{From: start, To: end},
			prev: timebucket.Range{From: prevStart, To: start},
		}
		if prevStart.Before(from) {
			from = prevStart
		}
		if end.After(to) {
			to = end
		}
	}
	q.From, q.To = &from, &to
	q.GroupBy = timebucket.Day

	return report(ctx, a, "dashboard", q, func(ctx context.Context, snap *Snapshot, q Query) (*Dashboard, error) {
		out := &Dashboard{
			AsOf:     snap.AsOf,
			Currency: a.cfg.Currency.String(),
			Periods:  make([]PeriodComparison, len(periods)),
		}
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range periods {
			g.Go(func() error {
				sales, err := a.sales(gctx, snap, q, p.cur, p.prev)
				if err != nil {
					return err
				}
				orders, err := a.orderInsights(gctx, snap, q, p.cur)
				if err != nil {
					return err
				}
				out.Periods[i] = PeriodComparison{
					Period:             p.g,
					Current:            p.cur,
					Previous:           p.prev,
					Revenue:            sales.Revenue,
					Orders:             sales.Orders,
					AverageOrderValue:  sales.AverageOrderValue,
					Units:              sales.Units,
					CancellationRate:   orders.CancellationRate,
					StatusDistribution: orders.StatusDistribution,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	})
}
