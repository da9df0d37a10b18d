package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, campaign_id, discount_type, value, min_items, description,
	valid_from, valid_until, max_uses, uses, max_discount, product_ids, categories
	FROM coupons WHERE UPPER(code) = UPPER($1) AND active`

	upsertCouponSQL = `INSERT INTO coupons (code, campaign_id, discount_type, value, min_items,
	description, valid_from, valid_until, max_uses, max_discount, product_ids, categories)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (code) DO UPDATE SET campaign_id = EXCLUDED.campaign_id,
	discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
	min_items = EXCLUDED.min_items, description = EXCLUDED.description,
	valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
	max_uses = EXCLUDED.max_uses, max_discount = EXCLUDED.max_discount,
	product_ids = EXCLUDED.product_ids, categories = EXCLUDED.categories, active = TRUE`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code, ignoring case.
// Returns coupon.ErrInvalidCoupon when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	rule, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (coupon.Rule, error) {
		var (
			rule         coupon.Rule
			discountType string
		)
		err := row.Scan(&rule.Code, &rule.CampaignID, &discountType, &rule.Value, &rule.MinItems,
			&rule.Description, &rule.ValidFrom, &rule.ValidUntil, &rule.MaxUses, &rule.Uses,
			&rule.MaxDiscount, &rule.ProductIDs, &rule.Categories)
		rule.DiscountType = coupon.DiscountType(discountType)
		return rule, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &rule, nil
}

// Upsert inserts or replaces a coupon rule and reactivates it. The use count
// of an existing code is preserved.
func (r *CouponRepository) Upsert(ctx context.Context, rule coupon.Rule) error {
	productIDs, categories := rule.ProductIDs, rule.Categories
	if productIDs == nil {
		productIDs = []string{}
	}
	if categories == nil {
		categories = []string{}
	}
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		rule.Code, rule.CampaignID, string(rule.DiscountType), rule.Value, rule.MinItems,
		rule.Description, rule.ValidFrom, rule.ValidUntil, rule.MaxUses, rule.MaxDiscount,
		productIDs, categories,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", rule.Code)
	}
	return nil
}
