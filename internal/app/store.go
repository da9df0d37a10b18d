package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
	"github.com/xenking/oolio-orderflow/internal/storage/memory"
	"github.com/xenking/oolio-orderflow/internal/storage/postgres"
	"github.com/xenking/oolio-orderflow/pkg/health"
)

// backend is the set of repositories one storage implementation provides.
type backend struct {
	name      string
	products  product.Repository
	coupons   coupon.Repository
	orders    order.Repository
	apikeys   auth.Repository
	snapshots analytics.Store
	pinger    health.Pinger
	close     func()
}

// openBackend connects to PostgreSQL and applies migrations, or falls back
// to the in-memory store when no database URL is configured.
func openBackend(ctx context.Context, databaseURL string) (*backend, error) {
	if databaseURL == "" {
		zctx.From(ctx).Warn("No database configured, using in-memory store")
		s := memory.New()
		return &backend{
			name:      "memory",
			products:  s.Products(),
			coupons:   s.Coupons(),
			orders:    s.Orders(),
			apikeys:   s.APIKeys(),
			snapshots: s,
			pinger:    s,
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	s := postgres.New(pool)
	return &backend{
		name:      "postgres",
		products:  s.Products(),
		coupons:   s.Coupons(),
		orders:    s.Orders(),
		apikeys:   s.APIKeys(),
		snapshots: s,
		pinger:    s,
		close:     pool.Close,
	}, nil
}
