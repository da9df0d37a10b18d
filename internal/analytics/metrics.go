package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

var hundred = decimal.NewFromInt(100)

// Growth returns (current − prior) / prior × 100 rounded to cents, or nil when
// prior is zero.
func Growth(current, prior decimal.Decimal) *decimal.Decimal {
	if prior.IsZero() {
		return nil
	}
	g := current.Sub(prior).Div(prior).Mul(hundred).Round(2)
	return &g
}

// Comparison is a metric next to its value in the comparable prior period.
type Comparison struct {
	Value    decimal.Decimal  `json:"value"`
	Previous decimal.Decimal  `json:"previous"`
	Growth   *decimal.Decimal `json:"growth"`
}

func compare(current, previous decimal.Decimal) Comparison {
	return Comparison{Value: current, Previous: previous, Growth: Growth(current, previous)}
}

func compareInt(current, previous int) Comparison {
	return compare(decimal.NewFromInt(int64(current)), decimal.NewFromInt(int64(previous)))
}

// Share is one slice of a distribution.
type Share struct {
	Key        string          `json:"key"`
	Count      int             `json:"count"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Distribute converts weights into percentages rounded half up to two
// decimals that sum to exactly 100. The rounding residual goes to the largest
// weight, the first one on ties. All zeros yields all zeros.
func Distribute(weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	total := decimal.Zero
	largest := -1
	for i, w := range weights {
		total = total.Add(w)
		if largest < 0 || w.GreaterThan(weights[largest]) {
			largest = i
		}
	}
	if total.IsZero() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}

	sum := decimal.Zero
	for i, w := range weights {
		out[i] = w.Div(total).Mul(hundred).Round(2)
		sum = sum.Add(out[i])
	}
	out[largest] = out[largest].Add(hundred.Sub(sum))
	return out
}

// shares builds a distribution over keys in the given order.
func shares(keys []string, counts map[string]int, amounts map[string]decimal.Decimal) []Share {
	weights := make([]decimal.Decimal, len(keys))
	for i, k := range keys {
		weights[i] = decimal.NewFromInt(int64(counts[k]))
	}
	pct := Distribute(weights)
	out := make([]Share, len(keys))
	for i, k := range keys {
		amount := decimal.Zero
		if amounts != nil {
			amount = amounts[k]
		}
		out[i] = Share{Key: k, Count: counts[k], Amount: amount, Percentage: pct[i]}
	}
	return out
}

// average divides sum by n rounded to cents; zero when n is zero.
func average(sum decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n))).Round(2)
}

// percent is part / whole × 100 rounded to cents; zero when whole is zero.
func percent(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Div(decimal.NewFromInt(int64(whole))).Mul(hundred).Round(2)
}

// totals is the order count, revenue and units of a set of orders.
type totals struct {
	orders  int
	revenue decimal.Decimal
	units   int
}

func sumOrders(orders []order.Order, q Query) totals {
	var t totals
	for i := range orders {
		o := &orders[i]
		if !q.counts(o) {
			continue
		}
		t.orders++
		t.revenue = t.revenue.Add(o.Total)
		t.units += o.Units()
	}
	return t
}

// SeriesPoint is one bucket of a generic time series.
type SeriesPoint struct {
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

type point struct {
	count int
	value decimal.Decimal
}
