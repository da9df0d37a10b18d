package timebucket

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newOrder(at time.Time, total string, status order.Status) order.Order {
	return order.Order{
		ID:        at.Format(time.RFC3339Nano),
		Status:    status,
		Total:     decimal.RequireFromString(total),
		CreatedAt: at,
	}
}

func TestFloor(t *testing.T) {
	// Wednesday.
	ts := time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC)

	tests := []struct {
		g    Granularity
		want time.Time
	}{
		{Day, date(2024, 5, 15)},
		{Week, date(2024, 5, 13)},
		{Month, date(2024, 5, 1)},
		{Year, date(2024, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.g.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Floor(ts, tt.g, time.UTC))
		})
	}

	// Sunday belongs to the week that started the previous Monday.
	assert.Equal(t, date(2024, 5, 13), Floor(date(2024, 5, 19), Week, nil))
	assert.Equal(t, date(2024, 5, 20), Floor(date(2024, 5, 20), Week, nil))
}

func TestFloor_Location(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC is already the next day in IST.
	ts := time.Date(2024, 5, 15, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 16, 0, 0, 0, 0, loc), Floor(ts, Day, loc))
}

func TestUnits(t *testing.T) {
	tests := []struct {
		name string
		r    Range
		g    Granularity
		want int
	}{
		{"three days", Range{date(2024, 1, 1), date(2024, 1, 4)}, Day, 3},
		{"partial day", Range{date(2024, 1, 1).Add(6 * time.Hour), date(2024, 1, 2).Add(time.Hour)}, Day, 2},
		{"empty", Range{date(2024, 1, 1), date(2024, 1, 1)}, Day, 0},
		{"empty mid-day", Range{date(2024, 1, 1).Add(5 * time.Hour), date(2024, 1, 1).Add(5 * time.Hour)}, Week, 0},
		{"weeks spanning", Range{date(2024, 1, 3), date(2024, 1, 16)}, Week, 3},
		{"leap february", Range{date(2024, 1, 31), date(2024, 3, 1)}, Month, 2},
		{"years", Range{date(2022, 6, 1), date(2024, 2, 1)}, Year, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Units(tt.r, tt.g, time.UTC))
		})
	}
}

func TestParse(t *testing.T) {
	for _, g := range Granularities() {
		got, err := Parse(g.String())
		require.NoError(t, err)
		assert.Equal(t, g, got)
	}
	got, err := Parse(" Week ")
	require.NoError(t, err)
	assert.Equal(t, Week, got)

	_, err = Parse("hour")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRange(t *testing.T) {
	r := Range{From: date(2024, 1, 10), To: date(2024, 1, 17)}
	require.NoError(t, r.Validate())
	assert.True(t, r.Contains(date(2024, 1, 10)))
	assert.False(t, r.Contains(date(2024, 1, 17)))
	assert.Equal(t, Range{From: date(2024, 1, 3), To: date(2024, 1, 10)}, r.Previous())

	err := Range{From: date(2024, 2, 1), To: date(2024, 1, 1)}.Validate()
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Error(t, Range{To: date(2024, 1, 1)}.Validate())
}

func TestOrders_SparseDays(t *testing.T) {
	orders := []order.Order{
		newOrder(date(2024, 3, 1).Add(9*time.Hour), "100", order.StatusDelivered),
		newOrder(date(2024, 3, 1).Add(15*time.Hour), "50", order.StatusPending),
		newOrder(date(2024, 3, 3).Add(time.Hour), "75.5", order.StatusShipped),
	}
	r := Range{From: date(2024, 3, 1), To: date(2024, 3, 4)}

	buckets, err := Orders(context.Background(), orders, r, Day, Options{})
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.Equal(t, date(2024, 3, 1), buckets[0].Start)
	assert.Equal(t, 2, buckets[0].Count)
	assert.True(t, decimal.RequireFromString("150").Equal(buckets[0].Revenue))

	assert.Equal(t, date(2024, 3, 2), buckets[1].Start)
	assert.Equal(t, 0, buckets[1].Count)
	assert.True(t, buckets[1].Revenue.IsZero())

	assert.Equal(t, 1, buckets[2].Count)
	assert.True(t, decimal.RequireFromString("75.5").Equal(buckets[2].Revenue))
}

func TestOrders_CancelledPolicy(t *testing.T) {
	orders := []order.Order{
		newOrder(date(2024, 3, 1).Add(time.Hour), "100", order.StatusConfirmed),
		newOrder(date(2024, 3, 1).Add(2*time.Hour), "40", order.StatusCancelled),
	}
	r := Range{From: date(2024, 3, 1), To: date(2024, 3, 2)}

	excluded, err := Orders(context.Background(), orders, r, Day, Options{})
	require.NoError(t, err)
	require.Len(t, excluded, 1)
	assert.Equal(t, 2, excluded[0].Count)
	assert.Equal(t, 1, excluded[0].RevenueOrders)
	assert.True(t, decimal.RequireFromString("100").Equal(excluded[0].Revenue))

	included, err := Orders(context.Background(), orders, r, Day, Options{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Equal(t, 2, included[0].Count)
	assert.Equal(t, 2, included[0].RevenueOrders)
	assert.True(t, decimal.RequireFromString("140").Equal(included[0].Revenue))
}

func TestOrders_RoundTrip(t *testing.T) {
	faker := gofakeit.New(42)
	rng := rand.New(rand.NewPCG(1, 2))
	from := date(2023, 11, 20)
	to := date(2024, 2, 10).Add(7 * time.Hour)
	r := Range{From: from, To: to}

	var orders []order.Order
	inRange := 0
	for range 500 {
		at := faker.DateRange(from.AddDate(0, -1, 0), to.AddDate(0, 1, 0)).UTC()
		status := order.Statuses()[rng.IntN(len(order.Statuses()))]
		orders = append(orders, newOrder(at, "10", status))
		if r.Contains(at) {
			inRange++
		}
	}

	for _, g := range Granularities() {
		t.Run(g.String(), func(t *testing.T) {
			buckets, err := Orders(context.Background(), orders, r, g, Options{})
			require.NoError(t, err)
			require.Len(t, buckets, Units(r, g, time.UTC))

			total := 0
			for i, b := range buckets {
				total += b.Count
				assert.Equal(t, g, b.Granularity)
				if i > 0 {
					assert.Equal(t, buckets[i-1].End, b.Start, "gap before bucket %d", i)
				}
			}
			assert.Equal(t, inRange, total)
			assert.False(t, buckets[0].Start.After(from))
			assert.False(t, buckets[len(buckets)-1].End.Before(to))
		})
	}
}

func TestOrders_Errors(t *testing.T) {
	r := Range{From: date(2024, 3, 2), To: date(2024, 3, 1)}
	_, err := Orders(context.Background(), nil, r, Day, Options{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	r = Range{From: date(2024, 3, 1), To: date(2024, 3, 2)}
	_, err = Orders(context.Background(), nil, r, Granularity(9), Options{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Orders(ctx, nil, r, Day, Options{})
	require.ErrorIs(t, err, context.Canceled)

	buckets, err := Orders(context.Background(), nil, Range{From: r.From, To: r.From}, Day, Options{})
	require.NoError(t, err)
	assert.Empty(t, buckets)
}
