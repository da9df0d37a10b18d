package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

const orderColumns = `id, customer_id, status, items, subtotal, discount_code, campaign_id,
	discount_value, total, shipping, payment_method, payment_status, payment_tx_id,
	payment_amount, payment_attempts, paid_at, version, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	insertOrderIgnoreSQL = insertOrderSQL + ` ON CONFLICT (id) DO NOTHING`

	updateOrderSQL = `UPDATE orders SET
	status = $3, items = $4, subtotal = $5, discount_code = $6, campaign_id = $7,
	discount_value = $8, total = $9, shipping = $10, payment_method = $11,
	payment_status = $12, payment_tx_id = $13, payment_amount = $14,
	payment_attempts = $15, paid_at = $16, updated_at = $17, version = version + 1
	WHERE id = $1 AND version = $2
	RETURNING version`

	orderVersionSQL = `SELECT version FROM orders WHERE id = $1`

	insertRefundSQL = `INSERT INTO order_refunds (id, order_id, amount, reason, created_at)
	VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`

	listRefundsSQL = `SELECT order_id, id, amount, reason, created_at
	FROM order_refunds WHERE order_id = ANY($1) ORDER BY created_at, id`

	takeProductStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	takeVariantStockSQL = `UPDATE product_variants SET stock = stock - $3
	WHERE product_id = $1 AND id = $2 AND stock >= $3`
	putProductStockSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`
	putVariantStockSQL = `UPDATE product_variants SET stock = stock + $3 WHERE product_id = $1 AND id = $2`

	productStockSQL = `SELECT stock FROM products WHERE id = $1`
	variantStockSQL = `SELECT stock FROM product_variants WHERE product_id = $1 AND id = $2`

	redeemCouponSQL = `UPDATE coupons SET uses = uses + 1
	WHERE UPPER(code) = UPPER($1) AND active AND (max_uses = 0 OR uses < max_uses)`
	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE UPPER(code) = UPPER($1) AND active)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get returns the order with its refunds.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	orders, err := queryOrders(ctx, r.pool, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	if len(orders) == 0 {
		return nil, errors.Wrapf(order.ErrNotFound, "order %s", id)
	}
	return &orders[0], nil
}

// Create inserts o at version 1, decrements stock for every item and redeems
// the discount code in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := withTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) (struct{}, error) {
		for _, d := range aggregateItems(o.Items) {
			if err := takeStock(ctx, tx, d); err != nil {
				return struct{}{}, err
			}
		}
		if o.DiscountCode != "" {
			if err := redeemCoupon(ctx, tx, o.DiscountCode); err != nil {
				return struct{}{}, err
			}
		}
		o.Version = 1
		if err := insertOrder(ctx, tx, o); err != nil {
			if isUniqueViolation(err) {
				return struct{}{}, errors.Errorf("order %s already exists", o.ID)
			}
			return struct{}{}, err
		}
		return struct{}{}, insertRefunds(ctx, tx, o)
	})
	if err != nil {
		o.Version = 0
		return errors.Wrapf(err, "create order %s", o.ID)
	}
	return nil
}

// Update writes u.Order when the stored version equals u.ExpectedVersion,
// appends new refunds and puts u.Restock back on the shelf.
func (r *OrderRepository) Update(ctx context.Context, u order.Update) error {
	o := u.Order
	version, err := withTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) (int64, error) {
		args, err := orderArgs(o)
		if err != nil {
			return 0, err
		}
		// id, customer_id and created_at are immutable.
		var version int64
		err = tx.QueryRow(ctx, updateOrderSQL,
			o.ID, u.ExpectedVersion,
			args[2], args[3], args[4], args[5], args[6], args[7], args[8], args[9],
			args[10], args[11], args[12], args[13], args[14], args[15], args[18],
		).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, versionConflict(ctx, tx, o.ID, u.ExpectedVersion)
		}
		if err != nil {
			return 0, err
		}
		if err := insertRefunds(ctx, tx, o); err != nil {
			return 0, err
		}
		for _, d := range u.Restock {
			if err := putStock(ctx, tx, d); err != nil {
				return 0, err
			}
		}
		return version, nil
	})
	if err != nil {
		return errors.Wrapf(err, "update order %s", o.ID)
	}
	o.Version = version
	return nil
}

func versionConflict(ctx context.Context, tx pgx.Tx, id string, expected int64) error {
	var current int64
	err := tx.QueryRow(ctx, orderVersionSQL, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(order.ErrNotFound, "order %s", id)
	}
	if err != nil {
		return err
	}
	return errors.Wrapf(order.ErrConcurrentModification,
		"order %s at version %d, expected %d", id, current, expected)
}

// List returns matching orders sorted by creation time.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	orders, err := listOrders(ctx, r.pool, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Import inserts historical orders as they are, without touching stock or
// coupons. Orders whose id already exists are skipped.
func (r *OrderRepository) Import(ctx context.Context, orders []order.Order) (int, error) {
	n, err := withTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) (int, error) {
		n := 0
		for i := range orders {
			o := orders[i].Clone()
			if o.Version == 0 {
				o.Version = 1
			}
			args, err := orderArgs(&o)
			if err != nil {
				return 0, err
			}
			tag, err := tx.Exec(ctx, insertOrderIgnoreSQL, args...)
			if err != nil {
				return 0, errors.Wrapf(err, "insert order %s", o.ID)
			}
			if tag.RowsAffected() == 0 {
				continue
			}
			if err := insertRefunds(ctx, tx, &o); err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "import orders")
	}
	return n, nil
}

func aggregateItems(items []order.Item) []order.StockDelta {
	var out []order.StockDelta
	index := make(map[[2]string]int, len(items))
	for _, item := range items {
		key := [2]string{item.ProductID, item.VariantID}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, order.StockDelta{ProductID: item.ProductID, VariantID: item.VariantID})
		}
		out[i].Quantity += item.Quantity
	}
	return out
}

func takeStock(ctx context.Context, tx pgx.Tx, d order.StockDelta) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if d.VariantID == "" {
		tag, err = tx.Exec(ctx, takeProductStockSQL, d.ProductID, d.Quantity)
	} else {
		tag, err = tx.Exec(ctx, takeVariantStockSQL, d.ProductID, d.VariantID, d.Quantity)
	}
	if err != nil {
		return errors.Wrapf(err, "take stock of %s", d.ProductID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available int
	if d.VariantID == "" {
		err = tx.QueryRow(ctx, productStockSQL, d.ProductID).Scan(&available)
	} else {
		err = tx.QueryRow(ctx, variantStockSQL, d.ProductID, d.VariantID).Scan(&available)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &order.ProductNotFoundError{ProductID: d.ProductID, VariantID: d.VariantID}
	}
	if err != nil {
		return errors.Wrapf(err, "read stock of %s", d.ProductID)
	}
	return &order.InsufficientStockError{
		ProductID: d.ProductID,
		VariantID: d.VariantID,
		Requested: d.Quantity,
		Available: available,
	}
}

func putStock(ctx context.Context, tx pgx.Tx, d order.StockDelta) error {
	var err error
	if d.VariantID == "" {
		_, err = tx.Exec(ctx, putProductStockSQL, d.ProductID, d.Quantity)
	} else {
		_, err = tx.Exec(ctx, putVariantStockSQL, d.ProductID, d.VariantID, d.Quantity)
	}
	if err != nil {
		return errors.Wrapf(err, "restock %s", d.ProductID)
	}
	return nil
}

func redeemCoupon(ctx context.Context, tx pgx.Tx, code string) error {
	tag, err := tx.Exec(ctx, redeemCouponSQL, code)
	if err != nil {
		return errors.Wrapf(err, "redeem coupon %q", code)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := tx.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check coupon %q", code)
	}
	if !exists {
		return coupon.ErrInvalidCoupon
	}
	return coupon.ErrCouponUsageLimitReached
}

func orderArgs(o *order.Order) ([]any, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal items")
	}
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return nil, errors.Wrap(err, "marshal shipping")
	}
	return []any{
		o.ID, o.CustomerID, o.Status.String(), items, o.Subtotal,
		o.DiscountCode, o.CampaignID, o.DiscountValue, o.Total, shipping,
		string(o.Payment.Method), string(o.Payment.Status), o.Payment.TransactionID,
		o.Payment.Amount, o.Payment.Attempts, o.Payment.PaidAt,
		o.Version, o.CreatedAt, o.UpdatedAt,
	}, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertOrderSQL, args...)
	return err
}

func insertRefunds(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	for _, rf := range o.Refunds {
		if _, err := tx.Exec(ctx, insertRefundSQL, rf.ID, o.ID, rf.Amount, string(rf.Reason), rf.CreatedAt); err != nil {
			return errors.Wrapf(err, "insert refund %s", rf.ID)
		}
	}
	return nil
}

func listOrders(ctx context.Context, q querier, f order.Filter) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.CustomerID != "" {
		where = append(where, "customer_id = "+arg(f.CustomerID))
	}
	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			names[i] = s.String()
		}
		where = append(where, "status = ANY("+arg(names)+")")
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= "+arg(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at < "+arg(*f.CreatedTo))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, id`
	return queryOrders(ctx, q, sql, args...)
}

func queryOrders(ctx context.Context, q querier, sql string, args ...any) ([]order.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = i
	}
	rows, err = q.Query(ctx, listRefundsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "list refunds")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			orderID string
			rf      order.Refund
			reason  string
		)
		if err := rows.Scan(&orderID, &rf.ID, &rf.Amount, &reason, &rf.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan refund")
		}
		rf.Reason = order.RefundReason(reason)
		i := byID[orderID]
		orders[i].Refunds = append(orders[i].Refunds, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list refunds")
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		status            string
		items, shipping   []byte
		method, payStatus string
		paidAt            *time.Time
		amount            decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &status, &items, &o.Subtotal, &o.DiscountCode, &o.CampaignID,
		&o.DiscountValue, &o.Total, &shipping, &method, &payStatus, &o.Payment.TransactionID,
		&amount, &o.Payment.Attempts, &paidAt, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, errors.Wrap(err, "scan order")
	}
	if o.Status, err = order.ParseStatus(status); err != nil {
		return o, errors.Wrapf(err, "order %s", o.ID)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrapf(err, "order %s items", o.ID)
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return o, errors.Wrapf(err, "order %s shipping", o.ID)
	}
	o.Payment.Method = order.PaymentMethod(method)
	o.Payment.Status = order.PaymentStatus(payStatus)
	o.Payment.Amount = amount
	o.Payment.PaidAt = paidAt
	return o, nil
}
