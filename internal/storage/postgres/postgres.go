// Package postgres implements the entity stores on PostgreSQL via pgx.
//
// Order creation and updates run in a single transaction each: stock
// decrements and coupon redemption use conditional UPDATEs, and order writes
// are guarded by the version column.
package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-orderflow/db"
	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}
	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// Store groups the repositories sharing one pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ analytics.Store = (*Store)(nil)

// New returns a Store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Orders returns the order repository.
func (s *Store) Orders() *OrderRepository { return NewOrderRepository(s.pool) }

// Products returns the product repository.
func (s *Store) Products() *ProductRepository { return NewProductRepository(s.pool) }

// Coupons returns the coupon repository.
func (s *Store) Coupons() *CouponRepository { return NewCouponRepository(s.pool) }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() *APIKeyRepository { return NewAPIKeyRepository(s.pool) }

var snapshotTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// Snapshot reads orders created before createdBefore together with the
// catalog inside one repeatable-read transaction, so both reflect the same
// instant.
func (s *Store) Snapshot(ctx context.Context, createdBefore time.Time) ([]order.Order, []product.Product, error) {
	type result struct {
		orders   []order.Order
		products []product.Product
	}
	res, err := withTx(ctx, s.pool, snapshotTxOptions, func(tx pgx.Tx) (result, error) {
		orders, err := listOrders(ctx, tx, order.Filter{CreatedTo: &createdBefore})
		if err != nil {
			return result{}, err
		}
		products, err := listProducts(ctx, tx, nil)
		if err != nil {
			return result{}, err
		}
		return result{orders: orders, products: products}, nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "snapshot")
	}
	return res.orders, res.products, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn in a transaction and commits when it returns nil. The
// transaction is rolled back otherwise.
func withTx[T any](ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(tx pgx.Tx) (T, error)) (_ T, txErr error) {
	var zero T

	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return zero, errors.Wrap(err, "begin")
	}
	defer func() {
		if txErr != nil {
			rollbackErr := tx.Rollback(ctx)
			if rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				txErr = errors.Wrapf(txErr, "rollback: %v", rollbackErr)
			}
		}
	}()

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, errors.Wrap(err, "commit")
	}
	return result, nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
