//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

type storeSuite struct {
	suite.Suite

	container testcontainers.Container
	pool      *pgxpool.Pool
	store     *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(storeSuite))
}

func (s *storeSuite) SetupSuite() {
	ctx := s.T().Context()

	ctr, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("orderflow"),
		tcpostgres.WithUsername("orderflow"),
		tcpostgres.WithPassword("orderflow"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = ctr

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = NewPool(ctx, connStr)
	s.Require().NoError(err)
	s.Require().NoError(RunMigrations(ctx, s.pool))
	// Migrations are idempotent.
	s.Require().NoError(RunMigrations(ctx, s.pool))

	s.store = New(s.pool)
}

func (s *storeSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// fakeProduct stores a product with a random id so tests do not share rows.
func (s *storeSuite) fakeProduct(stock int, variants ...product.Variant) product.Product {
	p := product.Product{
		ID:       uuid.NewString(),
		Name:     gofakeit.ProductName(),
		Price:    d("12.50"),
		Category: gofakeit.ProductCategory(),
		Stock:    stock,
		Variants: variants,
	}
	s.Require().NoError(s.store.Products().Upsert(s.T().Context(), p))
	return p
}

func fakeOrder(at time.Time, items ...order.Item) *order.Order {
	o := &order.Order{
		ID:         uuid.NewString(),
		CustomerID: gofakeit.UUID(),
		Status:     order.StatusPending,
		Items:      items,
		Shipping: order.ShippingAddress{
			Name:    gofakeit.Name(),
			Phone:   gofakeit.Phone(),
			Address: gofakeit.Street(),
			Pincode: gofakeit.Zip(),
			Country: "IN",
		},
		Payment:   order.Payment{Method: order.MethodCard, Status: order.PaymentPending},
		CreatedAt: at,
		UpdatedAt: at,
	}
	o.Subtotal = o.ItemsSubtotal()
	o.Total = o.Subtotal
	return o
}

func (s *storeSuite) stock(id string) product.Product {
	ps, err := s.store.Products().GetByIDs(s.T().Context(), []string{id})
	s.Require().NoError(err)
	s.Require().Len(ps, 1)
	return ps[0]
}

func (s *storeSuite) TestCreateAndGet() {
	ctx := s.T().Context()
	small := d("9.99")
	p := s.fakeProduct(10, product.Variant{ID: "s", Name: "Small", Price: &small, Stock: 3})

	at := time.Now().UTC().Truncate(time.Microsecond)
	o := fakeOrder(at,
		order.Item{ProductID: p.ID, Quantity: 2, Price: p.Price, Category: p.Category},
		order.Item{ProductID: p.ID, VariantID: "s", Quantity: 1, Price: small},
	)
	s.Require().NoError(s.store.Orders().Create(ctx, o))
	s.EqualValues(1, o.Version)

	got, err := s.store.Orders().Get(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(o.CustomerID, got.CustomerID)
	s.Equal(order.StatusPending, got.Status)
	s.Require().Len(got.Items, 2)
	s.True(got.Items[1].Price.Equal(small))
	s.True(got.Total.Equal(d("34.99")))
	s.Equal("IN", got.Shipping.Country)
	s.True(got.CreatedAt.Equal(at))

	after := s.stock(p.ID)
	s.Equal(8, after.Stock)
	s.Require().Len(after.Variants, 1)
	s.Equal(2, after.Variants[0].Stock)
	s.True(after.Variants[0].Price.Equal(small))

	_, err = s.store.Orders().Get(ctx, uuid.NewString())
	s.ErrorIs(err, order.ErrNotFound)
}

func (s *storeSuite) TestCreateIsAtomic() {
	ctx := s.T().Context()
	plenty := s.fakeProduct(10)
	scarce := s.fakeProduct(1)

	o := fakeOrder(time.Now(),
		order.Item{ProductID: plenty.ID, Quantity: 5, Price: plenty.Price},
		order.Item{ProductID: scarce.ID, Quantity: 2, Price: scarce.Price},
	)
	err := s.store.Orders().Create(ctx, o)
	var stockErr *order.InsufficientStockError
	s.Require().ErrorAs(err, &stockErr)
	s.Equal(scarce.ID, stockErr.ProductID)
	s.Equal(1, stockErr.Available)

	s.Equal(10, s.stock(plenty.ID).Stock)
	_, err = s.store.Orders().Get(ctx, o.ID)
	s.ErrorIs(err, order.ErrNotFound)

	missing := fakeOrder(time.Now(), order.Item{ProductID: uuid.NewString(), Quantity: 1, Price: d("1")})
	var notFound *order.ProductNotFoundError
	s.ErrorAs(s.store.Orders().Create(ctx, missing), &notFound)
}

func (s *storeSuite) TestCouponRedemption() {
	ctx := s.T().Context()
	p := s.fakeProduct(10)
	code := "ONCE-" + gofakeit.LetterN(6)
	s.Require().NoError(s.store.Coupons().Upsert(ctx, coupon.Rule{
		Code: code, CampaignID: "spring", DiscountType: coupon.DiscountFixed, Value: d("1"), MaxUses: 1,
	}))

	rule, err := s.store.Coupons().FindByCode(ctx, code)
	s.Require().NoError(err)
	s.Equal("spring", rule.CampaignID)
	s.Zero(rule.Uses)

	first := fakeOrder(time.Now(), order.Item{ProductID: p.ID, Quantity: 1, Price: p.Price})
	first.DiscountCode = code
	s.Require().NoError(s.store.Orders().Create(ctx, first))

	second := fakeOrder(time.Now(), order.Item{ProductID: p.ID, Quantity: 1, Price: p.Price})
	second.DiscountCode = code
	s.ErrorIs(s.store.Orders().Create(ctx, second), coupon.ErrCouponUsageLimitReached)
	s.Equal(9, s.stock(p.ID).Stock)

	_, err = s.store.Coupons().FindByCode(ctx, "missing-"+code)
	s.ErrorIs(err, coupon.ErrInvalidCoupon)
}

func (s *storeSuite) TestUpdateVersioned() {
	ctx := s.T().Context()
	p := s.fakeProduct(5)
	o := fakeOrder(time.Now(), order.Item{ProductID: p.ID, Quantity: 2, Price: p.Price})
	s.Require().NoError(s.store.Orders().Create(ctx, o))

	next := o.Clone()
	next.Status = order.StatusCancelled
	next.Refunds = []order.Refund{{ID: uuid.NewString(), Amount: d("5"), Reason: order.ReasonCancelled, CreatedAt: time.Now()}}
	s.Require().NoError(s.store.Orders().Update(ctx, order.Update{
		Order:           &next,
		ExpectedVersion: 1,
		Restock:         []order.StockDelta{{ProductID: p.ID, Quantity: 2}},
	}))
	s.EqualValues(2, next.Version)
	s.Equal(5, s.stock(p.ID).Stock)

	got, err := s.store.Orders().Get(ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(order.StatusCancelled, got.Status)
	s.Require().Len(got.Refunds, 1)
	s.Equal(order.ReasonCancelled, got.Refunds[0].Reason)

	stale := o.Clone()
	s.ErrorIs(s.store.Orders().Update(ctx, order.Update{Order: &stale, ExpectedVersion: 1}), order.ErrConcurrentModification)

	missing := order.Order{ID: uuid.NewString()}
	s.ErrorIs(s.store.Orders().Update(ctx, order.Update{Order: &missing, ExpectedVersion: 1}), order.ErrNotFound)
}

func (s *storeSuite) TestConcurrentUpdateOneWins() {
	ctx := s.T().Context()
	p := s.fakeProduct(5)
	o := fakeOrder(time.Now(), order.Item{ProductID: p.ID, Quantity: 1, Price: p.Price})
	s.Require().NoError(s.store.Orders().Create(ctx, o))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := o.Clone()
			next.Status = order.StatusConfirmed
			err := s.store.Orders().Update(ctx, order.Update{Order: &next, ExpectedVersion: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, order.ErrConcurrentModification):
				conflicts++
			}
		}()
	}
	wg.Wait()
	s.Equal(1, wins)
	s.Equal(7, conflicts)
}

func (s *storeSuite) TestListSnapshotAndImport() {
	ctx := s.T().Context()
	p := s.fakeProduct(100)
	customer := gofakeit.UUID()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	var batch []order.Order
	for i := range 3 {
		o := fakeOrder(base.Add(time.Duration(i)*time.Hour), order.Item{ProductID: p.ID, Quantity: 1, Price: p.Price})
		o.CustomerID = customer
		batch = append(batch, *o)
	}
	n, err := s.store.Orders().Import(ctx, batch)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal(100, s.stock(p.ID).Stock)

	n, err = s.store.Orders().Import(ctx, batch)
	s.Require().NoError(err)
	s.Zero(n)

	to := base.Add(2 * time.Hour)
	listed, err := s.store.Orders().List(ctx, order.Filter{CustomerID: customer, CreatedTo: &to})
	s.Require().NoError(err)
	s.Require().Len(listed, 2)
	s.Equal(batch[0].ID, listed[0].ID)

	listed, err = s.store.Orders().List(ctx, order.Filter{CustomerID: customer, Statuses: []order.Status{order.StatusDelivered}})
	s.Require().NoError(err)
	s.Empty(listed)

	orders, products, err := s.store.Snapshot(ctx, base.Add(90*time.Minute))
	s.Require().NoError(err)
	var ours int
	for _, o := range orders {
		if o.CustomerID == customer {
			ours++
		}
	}
	s.Equal(2, ours)
	s.NotEmpty(products)
}

func (s *storeSuite) TestAPIKeys() {
	ctx := s.T().Context()
	hash := auth.HashKey([]byte("pepper"), gofakeit.Password(true, true, true, false, false, 32))
	s.Require().NoError(s.store.APIKeys().Upsert(ctx, auth.APIKeyInfo{ID: uuid.NewString(), KeyHash: hash, Name: "ops", Role: auth.RoleStaff}))

	info, err := s.store.APIKeys().FindByHash(ctx, hash)
	s.Require().NoError(err)
	s.Equal(auth.RoleStaff, info.Role)

	_, err = s.store.APIKeys().FindByHash(ctx, "nope")
	s.Error(err)

	s.NoError(s.store.Ping(ctx))
}
