package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, name, price, category, stock, min_threshold FROM products`
	listVariantsSQL = `SELECT product_id, id, name, price, stock FROM product_variants`

	upsertProductSQL = `INSERT INTO products (id, name, price, category, stock, min_threshold)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
	category = EXCLUDED.category, stock = EXCLUDED.stock, min_threshold = EXCLUDED.min_threshold`
	deleteVariantsSQL = `DELETE FROM product_variants WHERE product_id = $1`
	insertVariantSQL  = `INSERT INTO product_variants (product_id, id, name, price, stock)
	VALUES ($1, $2, $3, $4, $5)`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	products, err := listProducts(ctx, r.pool, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return products, nil
}

// GetByIDs returns the products matching the given IDs. Unknown ids are
// skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return []product.Product{}, nil
	}
	products, err := listProducts(ctx, r.pool, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return products, nil
}

// Upsert inserts or replaces p and its variants.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	_, err := withTx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Category, p.Stock, p.MinThreshold); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.Exec(ctx, deleteVariantsSQL, p.ID); err != nil {
			return struct{}{}, err
		}
		for _, v := range p.Variants {
			price := decimal.NullDecimal{}
			if v.Price != nil {
				price = decimal.NewNullDecimal(*v.Price)
			}
			if _, err := tx.Exec(ctx, insertVariantSQL, p.ID, v.ID, v.Name, price, v.Stock); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return errors.Wrapf(err, "upsert product %s", p.ID)
	}
	return nil
}

// listProducts loads products and their variants. A nil ids loads the whole
// catalog.
func listProducts(ctx context.Context, q querier, ids []string) ([]product.Product, error) {
	productSQL, variantSQL := listProductsSQL, listVariantsSQL
	var args []any
	if ids != nil {
		productSQL += ` WHERE id = ANY($1)`
		variantSQL += ` WHERE product_id = ANY($1)`
		args = append(args, ids)
	}

	rows, err := q.Query(ctx, productSQL+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var p product.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.Stock, &p.MinThreshold)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}

	index := make(map[string]int, len(products))
	for i, p := range products {
		index[p.ID] = i
	}

	rows, err = q.Query(ctx, variantSQL+` ORDER BY product_id, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			productID string
			v         product.Variant
			price     decimal.NullDecimal
		)
		if err := rows.Scan(&productID, &v.ID, &v.Name, &price, &v.Stock); err != nil {
			return nil, errors.Wrap(err, "scan variant")
		}
		if price.Valid {
			v.Price = &price.Decimal
		}
		if i, ok := index[productID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list variants")
	}
	return products, nil
}
