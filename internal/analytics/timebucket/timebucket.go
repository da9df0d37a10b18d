// Package timebucket groups time-stamped records into contiguous calendar
// buckets. Buckets are aligned to the start of the calendar unit in the
// configured location; weeks start on Monday.
package timebucket

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

// Granularity is the size of a bucket.
type Granularity uint8

const (
	Day Granularity = iota
	Week
	Month
	Year

	granularityCount
)

var granularityNames = [granularityCount]string{
	Day:   "day",
	Week:  "week",
	Month: "month",
	Year:  "year",
}

// Granularities returns all granularities from finest to coarsest.
func Granularities() []Granularity {
	return []Granularity{Day, Week, Month, Year}
}

// Parse converts a granularity name.
func Parse(s string) (Granularity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range granularityNames {
		if name == s {
			return Granularity(i), nil
		}
	}
	return 0, apperr.Validation("group_by", "unknown granularity %q", s)
}

func (g Granularity) String() string {
	if g >= granularityCount {
		return "unknown"
	}
	return granularityNames[g]
}

// Valid reports whether g is a declared granularity.
func (g Granularity) Valid() bool { return g < granularityCount }

// MarshalText implements encoding.TextMarshaler.
func (g Granularity) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, apperr.Validation("group_by", "unknown granularity %d", uint8(g))
	}
	return []byte(g.String()), nil
}

// Range is a half-open interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Validate rejects unset bounds and inverted ranges.
func (r Range) Validate() error {
	if r.From.IsZero() {
		return apperr.Validation("from", "required")
	}
	if r.To.IsZero() {
		return apperr.Validation("to", "required")
	}
	if r.From.After(r.To) {
		return apperr.Validation("from", "%s is after to %s", r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return nil
}

// Empty reports whether the range contains no instant.
func (r Range) Empty() bool { return !r.From.Before(r.To) }

// Contains reports whether t is inside [From, To).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Previous returns the range of equal length ending at r.From.
func (r Range) Previous() Range {
	return Range{From: r.From.Add(-r.To.Sub(r.From)), To: r.From}
}

// Floor returns the start of the bucket containing t.
func Floor(t time.Time, g Granularity, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	switch g {
	case Week:
		// Monday 00:00; Go weekdays start at Sunday = 0.
		daysBack := (int(t.Weekday()) + 6) % 7
		return time.Date(t.Year(), t.Month(), t.Day()-daysBack, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// Next returns the start of the bucket after the one starting at start.
func Next(start time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Units returns the number of calendar units fully or partially inside r.
func Units(r Range, g Granularity, loc *time.Location) int {
	n := 0
	if r.Empty() {
		return 0
	}
	for cur := Floor(r.From, g, loc); cur.Before(r.To); cur = Next(cur, g) {
		n++
	}
	return n
}

// Slot is a bucket carrying an arbitrary aggregated value.
type Slot[V any] struct {
	Start time.Time
	End   time.Time
	Value V
}

// checkEvery is how many records are folded between cancellation checks.
const checkEvery = 1024

// Fill buckets records into contiguous slots over r. Records outside r are
// ignored. Empty slots keep the zero value of V.
func Fill[T, V any](
	ctx context.Context,
	records []T,
	r Range,
	g Granularity,
	loc *time.Location,
	at func(T) time.Time,
	add func(v *V, rec T),
) ([]Slot[V], error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !g.Valid() {
		return nil, apperr.Validation("group_by", "unknown granularity %d", uint8(g))
	}

	slots := []Slot[V]{}
	if r.Empty() {
		return slots, nil
	}
	for cur := Floor(r.From, g, loc); cur.Before(r.To); {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "fill buckets")
		}
		next := Next(cur, g)
		slots = append(slots, Slot[V]{Start: cur, End: next})
		cur = next
	}

	for i, rec := range records {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "fill buckets")
			}
		}
		t := at(rec)
		if !r.Contains(t) {
			continue
		}
		idx := sort.Search(len(slots), func(j int) bool { return slots[j].End.After(t) })
		if idx == len(slots) {
			continue
		}
		add(&slots[idx].Value, rec)
	}
	return slots, nil
}

// Options controls which orders count toward a bucket.
type Options struct {
	// IncludeCancelled counts cancelled orders toward revenue. Count always
	// covers every order.
	IncludeCancelled bool
	// Location aligns bucket boundaries. Nil means UTC.
	Location *time.Location
}

// Totals is the order count and revenue of a bucket. RevenueCount is the
// number of orders that contributed to Revenue.
type Totals struct {
	Count        int
	RevenueCount int
	Revenue      decimal.Decimal
}

// Bucket is one time bucket of an order series. Count covers every order
// created in the bucket; RevenueOrders counts those summed into Revenue.
type Bucket struct {
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	Granularity   Granularity     `json:"granularity"`
	Count         int             `json:"count"`
	RevenueOrders int             `json:"revenue_orders"`
	Revenue       decimal.Decimal `json:"revenue"`
}

// Orders buckets orders by creation time. Every order is counted; cancelled
// orders are left out of revenue unless opts.IncludeCancelled is set.
func Orders(ctx context.Context, orders []order.Order, r Range, g Granularity, opts Options) ([]Bucket, error) {
	slots, err := Fill(ctx, orders, r, g, opts.Location,
		func(o order.Order) time.Time { return o.CreatedAt },
		func(v *Totals, o order.Order) {
			v.Count++
			if o.Status == order.StatusCancelled && !opts.IncludeCancelled {
				return
			}
			v.RevenueCount++
			v.Revenue = v.Revenue.Add(o.Total)
		},
	)
	if err != nil {
		return nil, err
	}

	out := make([]Bucket, len(slots))
	for i, s := range slots {
		out[i] = Bucket{
			Start:       s.Start,
			End:         s.End,
			Granularity: g,
			Count:         s.Value.Count,
			RevenueOrders: s.Value.RevenueCount,
			Revenue:       s.Value.Revenue,
		}
	}
	return out, nil
}
