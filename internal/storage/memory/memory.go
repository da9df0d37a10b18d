// Package memory is an in-process entity store with the same contracts as
// the postgres store. A single lock guards all entities so that order
// creation can decrement stock and redeem a coupon atomically.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

// Store holds orders, products, coupons and API keys in memory.
type Store struct {
	mu       sync.RWMutex
	orders   map[string]*order.Order
	products map[string]*product.Product
	coupons  map[string]*coupon.Rule
	apikeys  map[string]*auth.APIKeyInfo
}

var _ analytics.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		orders:   make(map[string]*order.Order),
		products: make(map[string]*product.Product),
		coupons:  make(map[string]*coupon.Rule),
		apikeys:  make(map[string]*auth.APIKeyInfo),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := p.Clone()
	s.products[p.ID] = &c
}

// PutCoupon inserts or replaces a coupon rule. Codes are case-insensitive.
func (s *Store) PutCoupon(r coupon.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := r
	s.coupons[couponKey(r.Code)] = &c
}

// PutAPIKey inserts or replaces an API key by hash.
func (s *Store) PutAPIKey(k auth.APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := k
	s.apikeys[k.KeyHash] = &c
}

func couponKey(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// Snapshot returns deep copies of every order created before createdBefore,
// sorted by creation time, and of every product.
func (s *Store) Snapshot(ctx context.Context, createdBefore time.Time) ([]order.Order, []product.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.CreatedAt.Before(createdBefore) {
			orders = append(orders, o.Clone())
		}
	}
	sortOrders(orders)
	return orders, s.listProducts(), nil
}

func sortOrders(orders []order.Order) {
	slices.SortFunc(orders, func(a, b order.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (s *Store) listProducts() []product.Product {
	out := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Orders returns the order repository view.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Products returns the product repository view.
func (s *Store) Products() *Products { return &Products{s: s} }

// Coupons returns the coupon repository view.
func (s *Store) Coupons() *Coupons { return &Coupons{s: s} }

// APIKeys returns the API key repository view.
func (s *Store) APIKeys() *APIKeys { return &APIKeys{s: s} }

// Orders implements order.Repository.
type Orders struct{ s *Store }

var _ order.Repository = (*Orders)(nil)

// Get returns a copy of the order.
func (r *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, errors.Wrapf(order.ErrNotFound, "order %s", id)
	}
	c := o.Clone()
	return &c, nil
}

// Create stores o at version 1 after decrementing stock and redeeming the
// discount code. Nothing changes when any step fails.
func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}

	// Validate everything before mutating.
	type take struct {
		p       *product.Product
		variant string
		qty     int
	}
	need := make(map[[2]string]*take, len(o.Items))
	var takes []*take
	for _, item := range o.Items {
		key := [2]string{item.ProductID, item.VariantID}
		t, ok := need[key]
		if !ok {
			p, found := s.products[item.ProductID]
			if !found {
				return &order.ProductNotFoundError{ProductID: item.ProductID}
			}
			t = &take{p: p, variant: item.VariantID}
			need[key] = t
			takes = append(takes, t)
		}
		t.qty += item.Quantity
	}
	for _, t := range takes {
		available, ok := t.p.Available(t.variant)
		if !ok {
			return &order.ProductNotFoundError{ProductID: t.p.ID, VariantID: t.variant}
		}
		if available < t.qty {
			return &order.InsufficientStockError{ProductID: t.p.ID, VariantID: t.variant, Requested: t.qty, Available: available}
		}
	}
	var rule *coupon.Rule
	if o.DiscountCode != "" {
		rule = s.coupons[couponKey(o.DiscountCode)]
		if rule == nil {
			return coupon.ErrInvalidCoupon
		}
		if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
			return coupon.ErrCouponUsageLimitReached
		}
	}

	for _, t := range takes {
		adjustStock(t.p, t.variant, -t.qty)
	}
	if rule != nil {
		rule.Uses++
	}
	o.Version = 1
	c := o.Clone()
	s.orders[o.ID] = &c
	return nil
}

// Update writes u.Order if the stored version equals u.ExpectedVersion and
// applies u.Restock.
func (r *Orders) Update(ctx context.Context, u order.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[u.Order.ID]
	if !ok {
		return errors.Wrapf(order.ErrNotFound, "order %s", u.Order.ID)
	}
	if current.Version != u.ExpectedVersion {
		return errors.Wrapf(order.ErrConcurrentModification,
			"order %s at version %d, expected %d", u.Order.ID, current.Version, u.ExpectedVersion)
	}
	for _, d := range u.Restock {
		if p, ok := s.products[d.ProductID]; ok {
			adjustStock(p, d.VariantID, d.Quantity)
		}
	}
	u.Order.Version = u.ExpectedVersion + 1
	c := u.Order.Clone()
	s.orders[c.ID] = &c
	return nil
}

// List returns copies of matching orders sorted by creation time.
func (r *Orders) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []order.Order
	for _, o := range r.s.orders {
		if f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	sortOrders(out)
	return out, nil
}

// Import inserts historical orders as they are, without touching stock or
// coupons. Orders whose id already exists are skipped.
func (r *Orders) Import(ctx context.Context, orders []order.Order) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range orders {
		if _, ok := r.s.orders[o.ID]; ok {
			continue
		}
		c := o.Clone()
		if c.Version == 0 {
			c.Version = 1
		}
		r.s.orders[c.ID] = &c
		n++
	}
	return n, nil
}

func adjustStock(p *product.Product, variantID string, delta int) {
	if variantID == "" {
		p.Stock += delta
		return
	}
	if v, ok := p.Variant(variantID); ok {
		v.Stock += delta
	}
}

// Products implements product.Repository.
type Products struct{ s *Store }

var _ product.Repository = (*Products)(nil)

// List returns all products ordered by id.
func (r *Products) List(ctx context.Context) ([]product.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.listProducts(), nil
}

// GetByIDs returns the products with the given ids. Unknown ids are skipped.
func (r *Products) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// Upsert inserts or replaces p.
func (r *Products) Upsert(ctx context.Context, p product.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.PutProduct(p)
	return nil
}

// Coupons implements coupon.Repository.
type Coupons struct{ s *Store }

var _ coupon.Repository = (*Coupons)(nil)

// FindByCode returns a copy of the rule, or coupon.ErrInvalidCoupon.
func (r *Coupons) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rule, ok := r.s.coupons[couponKey(code)]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	c := *rule
	return &c, nil
}

// Upsert inserts or replaces rule, keeping the use count of an existing code.
func (r *Coupons) Upsert(ctx context.Context, rule coupon.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := rule
	if old, ok := r.s.coupons[couponKey(rule.Code)]; ok {
		c.Uses = old.Uses
	}
	r.s.coupons[couponKey(rule.Code)] = &c
	return nil
}

// APIKeys implements auth.Repository.
type APIKeys struct{ s *Store }

var _ auth.Repository = (*APIKeys)(nil)

// FindByHash returns the key with the given hash.
func (r *APIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	k, ok := r.s.apikeys[hash]
	if !ok {
		return nil, errors.New("api key not found")
	}
	c := *k
	return &c, nil
}

// Upsert stores an API key by hash.
func (r *APIKeys) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.PutAPIKey(k)
	return nil
}
