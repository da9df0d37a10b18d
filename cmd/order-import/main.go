package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	batchSize     = 500
	progressEvery = 100_000
	maxLineBytes  = 4 << 20
)

// record is one line of an export file.
type record struct {
	ID            string                `json:"id"`
	CustomerID    string                `json:"customer_id"`
	Status        string                `json:"status"`
	Items         []order.Item          `json:"items"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	DiscountCode  string                `json:"discount_code"`
	CampaignID    string                `json:"campaign_id"`
	DiscountValue decimal.Decimal       `json:"discount_value"`
	Total         decimal.Decimal       `json:"total"`
	Shipping      order.ShippingAddress `json:"shipping"`
	Payment       struct {
		Method        string          `json:"method"`
		Status        string          `json:"status"`
		TransactionID string          `json:"transaction_id"`
		Amount        decimal.Decimal `json:"amount"`
		Attempts      int             `json:"attempts"`
		PaidAt        *time.Time      `json:"paid_at"`
	} `json:"payment"`
	Refunds []struct {
		ID        string          `json:"id"`
		Amount    decimal.Decimal `json:"amount"`
		Reason    string          `json:"reason"`
		CreatedAt time.Time       `json:"created_at"`
	} `json:"refunds"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// toOrder validates the record and converts it.
func (r *record) toOrder() (order.Order, error) {
	if r.ID == "" || r.CustomerID == "" {
		return order.Order{}, errors.New("id and customer_id are required")
	}
	if r.CreatedAt.IsZero() {
		return order.Order{}, errors.New("created_at is required")
	}
	status, err := order.ParseStatus(r.Status)
	if err != nil {
		return order.Order{}, err
	}
	method, err := order.ParsePaymentMethod(r.Payment.Method)
	if err != nil {
		return order.Order{}, err
	}
	payStatus := order.PaymentPending
	if r.Payment.Status != "" {
		if payStatus, err = order.ParsePaymentStatus(r.Payment.Status); err != nil {
			return order.Order{}, err
		}
	}

	o := order.Order{
		ID:            r.ID,
		CustomerID:    r.CustomerID,
		Status:        status,
		Items:         r.Items,
		Subtotal:      r.Subtotal,
		DiscountCode:  r.DiscountCode,
		CampaignID:    r.CampaignID,
		DiscountValue: r.DiscountValue,
		Total:         r.Total,
		Shipping:      r.Shipping,
		Payment: order.Payment{
			Method:        method,
			Status:        payStatus,
			TransactionID: r.Payment.TransactionID,
			Amount:        r.Payment.Amount,
			Attempts:      r.Payment.Attempts,
			PaidAt:        r.Payment.PaidAt,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.CreatedAt.UTC(),
	}
	if r.UpdatedAt != nil {
		o.UpdatedAt = r.UpdatedAt.UTC()
	}
	for _, rf := range r.Refunds {
		reason, err := order.ParseRefundReason(rf.Reason)
		if err != nil {
			return order.Order{}, err
		}
		o.Refunds = append(o.Refunds, order.Refund{ID: rf.ID, Amount: rf.Amount, Reason: reason, CreatedAt: rf.CreatedAt.UTC()})
	}
	if len(o.Items) == 0 {
		return order.Order{}, order.ErrEmptyItems
	}
	if o.Subtotal.IsZero() {
		o.Subtotal = o.ItemsSubtotal()
	}
	if err := o.CheckTotal(); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

// dedup drops ids already seen in any file. The bloom filter answers most
// lookups; only probable hits go to the exact set.
type dedup struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

func newDedup() *dedup {
	return &dedup{filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR), seen: make(map[string]struct{})}
}

// first reports whether id has not been offered before.
func (d *dedup) first(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.filter.TestString(id) {
		if _, ok := d.seen[id]; ok {
			return false
		}
	}
	d.filter.AddString(id)
	d.seen[id] = struct{}{}
	return true
}

type stats struct {
	read, invalid, duplicate, imported int
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing order export files")
	flag.StringVar(&pattern, "pattern", "orders*.ndjson.gz", "glob of gzip-compressed NDJSON files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL); err != nil {
		slog.Error("order import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("order import completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "glob input files")
	}
	if len(files) == 0 {
		slog.Info("no input files", slog.String("dir", dataDir), slog.String("pattern", pattern))
		return nil
	}
	sort.Strings(files)

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	repo := postgres.New(pool).Orders()

	ids := newDedup()
	results := make([]stats, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(importFile(ctx, i, f, repo, ids, &results[i]))
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var total stats
	for _, s := range results {
		total.read += s.read
		total.invalid += s.invalid
		total.duplicate += s.duplicate
		total.imported += s.imported
	}
	slog.Info("import summary",
		slog.Int("files", len(files)),
		slog.Int("read", total.read),
		slog.Int("invalid", total.invalid),
		slog.Int("duplicate", total.duplicate),
		slog.Int("imported", total.imported),
	)
	return nil
}

func importFile(ctx context.Context, idx int, path string, repo *postgres.OrderRepository, ids *dedup, st *stats) func() error {
	return func() error {
		batch := make([]order.Order, 0, batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := repo.Import(ctx, batch)
			if err != nil {
				return err
			}
			st.imported += n
			st.duplicate += len(batch) - n
			batch = batch[:0]
			return nil
		}

		line := 0
		if err := streamGzFile(ctx, path, func(raw []byte) error {
			line++
			st.read++
			if st.read%progressEvery == 0 {
				slog.Info("import progress", slog.Int("file", idx+1), slog.Int("read", st.read))
			}

			var r record
			if err := json.Unmarshal(raw, &r); err != nil {
				st.invalid++
				slog.Warn("skipping malformed line", slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
				return nil
			}
			o, err := r.toOrder()
			if err != nil {
				st.invalid++
				slog.Warn("skipping invalid order", slog.String("file", path), slog.Int("line", line), slog.String("id", r.ID), slog.String("error", err.Error()))
				return nil
			}
			if !ids.first(o.ID) {
				st.duplicate++
				return nil
			}
			batch = append(batch, o)
			if len(batch) == batchSize {
				return flush()
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "import file %d", idx+1)
		}
		if err := flush(); err != nil {
			return errors.Wrapf(err, "import file %d", idx+1)
		}

		slog.Info("file complete",
			slog.Int("file", idx+1),
			slog.Int("read", st.read),
			slog.Int("imported", st.imported),
		)
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
