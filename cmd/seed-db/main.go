package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
	"github.com/xenking/oolio-orderflow/internal/storage/postgres"
)

type options struct {
	databaseURL string
	pepper      string
	products    int
	orders      int
	days        int
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or ORDERFLOW_AUTH_PEPPER env)")
	flag.IntVar(&opts.products, "products", 40, "number of catalog products to generate")
	flag.IntVar(&opts.orders, "orders", 500, "number of orders to place")
	flag.IntVar(&opts.days, "days", 120, "spread order creation over this many past days")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("ORDERFLOW_AUTH_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.New(pool)

	catalog, err := seedProducts(ctx, store.Products(), opts.products)
	if err != nil {
		return errors.Wrap(err, "seed products")
	}
	codes, err := seedCoupons(ctx, store.Coupons())
	if err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKeys(ctx, store.APIKeys(), opts.pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}
	if err := seedOrders(ctx, store, catalog, codes, opts); err != nil {
		return errors.Wrap(err, "seed orders")
	}

	return nil
}

var categories = []string{"Waffle", "Creme Brulee", "Macaron", "Tiramisu", "Baklava", "Pie", "Cake", "Brownie", "Panna Cotta"}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, n int) ([]product.Product, error) {
	slog.Info("upserting products", slog.Int("count", n))

	catalog := make([]product.Product, 0, n)
	for i := range n {
		p := product.Product{
			ID:       fmt.Sprintf("prod-%03d", i+1),
			Name:     gofakeit.ProductName(),
			Price:    decimal.NewFromFloat(gofakeit.Price(2, 60)).Round(2),
			Category: gofakeit.RandomString(categories),
			Stock:    gofakeit.Number(0, 400),
		}
		// Every fifth product comes in sizes with their own stock.
		if i%5 == 0 {
			large := p.Price.Mul(decimal.RequireFromString("1.5")).Round(2)
			p.Variants = []product.Variant{
				{ID: "regular", Name: "Regular", Stock: gofakeit.Number(20, 200)},
				{ID: "large", Name: "Large", Price: &large, Stock: gofakeit.Number(0, 100)},
			}
		}
		if i%7 == 0 {
			threshold := 25
			p.MinThreshold = &threshold
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return nil, errors.Wrapf(err, "upsert product %s", p.ID)
		}
		catalog = append(catalog, p)
	}

	return catalog, nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) ([]string, error) {
	slog.Info("seeding coupons")

	rules := []coupon.Rule{
		{
			Code:         "HAPPYHOURS",
			CampaignID:   "happy-hours",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(18),
			Description:  "Happy Hours: 18% off entire order",
		},
		{
			Code:         "BUYGETONE",
			CampaignID:   "bogo",
			DiscountType: coupon.DiscountFreeLowest,
			MinItems:     2,
			Description:  "Buy one get one: lowest priced item free",
		},
		{
			Code:         "WELCOME50",
			CampaignID:   "welcome",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(50),
			MaxDiscount:  decimal.NewFromInt(50),
			MaxUses:      1000,
			Description:  "Flat 50 off for new customers",
		},
	}

	codes := make([]string, 0, len(rules))
	for _, r := range rules {
		if err := repo.Upsert(ctx, r); err != nil {
			return nil, errors.Wrapf(err, "upsert coupon %s", r.Code)
		}
		codes = append(codes, r.Code)
		slog.Info("upserted coupon", slog.String("code", r.Code), slog.String("description", r.Description))
	}

	return codes, nil
}

// seedAPIKeys creates one key per role and prints the raw keys once.
func seedAPIKeys(ctx context.Context, repo *postgres.APIKeyRepository, pepper string) error {
	slog.Info("seeding API keys")

	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleManager, auth.RoleStaff, auth.RoleAnalyst} {
		raw := "of_" + gofakeit.Password(true, true, true, false, false, 32)
		info := auth.APIKeyInfo{
			ID:      "seed-" + string(role),
			KeyHash: auth.HashKey([]byte(pepper), raw),
			Name:    "Seeded " + string(role) + " key",
			Role:    role,
		}
		if err := repo.Upsert(ctx, info); err != nil {
			return errors.Wrapf(err, "upsert api key %s", info.ID)
		}
		slog.Info("upserted API key", slog.String("id", info.ID), slog.String("role", string(role)), slog.String("key", raw))
	}

	return nil
}

// seedOrders places orders through the lifecycle service with a clock that
// walks forward through the past, then advances a share of them.
func seedOrders(ctx context.Context, store *postgres.Store, catalog []product.Product, codes []string, opts options) error {
	if len(catalog) == 0 || opts.orders <= 0 {
		return nil
	}
	slog.Info("placing orders", slog.Int("count", opts.orders), slog.Int("days", opts.days))

	start := time.Now().UTC().AddDate(0, 0, -opts.days)
	step := time.Duration(opts.days) * 24 * time.Hour / time.Duration(opts.orders)
	now := start
	clock := func() time.Time { return now }

	svc := order.NewService(store.Products(), coupon.NewRepoValidator(store.Coupons()), store.Orders(),
		order.WithClock(clock),
	)

	customers := make([]string, max(opts.orders/4, 1))
	for i := range customers {
		customers[i] = uuid.NewString()
	}

	var placed, skipped int
	for i := range opts.orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		now = start.Add(time.Duration(i) * step)

		req := order.CreateRequest{
			CustomerID: gofakeit.RandomString(customers),
			Shipping: order.ShippingAddress{
				Name:    gofakeit.Name(),
				Phone:   gofakeit.Phone(),
				Address: gofakeit.Street(),
				Pincode: gofakeit.Zip(),
				City:    gofakeit.City(),
				State:   gofakeit.State(),
				Country: gofakeit.RandomString([]string{"IN", "IN", "IN", "US", "GB", "AE", "SG"}),
			},
			PaymentMethod: order.PaymentMethods()[gofakeit.Number(0, len(order.PaymentMethods())-1)],
		}
		for range gofakeit.Number(1, 4) {
			p := catalog[gofakeit.Number(0, len(catalog)-1)]
			item := order.ItemRequest{ProductID: p.ID, Quantity: gofakeit.Number(1, 3)}
			if len(p.Variants) > 0 {
				item.VariantID = p.Variants[gofakeit.Number(0, len(p.Variants)-1)].ID
			}
			req.Items = append(req.Items, item)
		}
		if gofakeit.Number(0, 3) == 0 {
			req.DiscountCode = gofakeit.RandomString(codes)
		}

		o, err := svc.CreateOrder(ctx, req)
		if err != nil {
			// Stock runs out and coupons stop applying as the catalog drains.
			skipped++
			continue
		}
		placed++
		if err := advance(ctx, svc, o, func(d time.Duration) { now = now.Add(d) }); err != nil {
			return errors.Wrapf(err, "advance order %s", o.ID)
		}
	}

	slog.Info("orders placed", slog.Int("placed", placed), slog.Int("skipped", skipped))
	return nil
}

// advance walks o through a random prefix of the lifecycle.
func advance(ctx context.Context, svc *order.Service, o *order.Order, tick func(time.Duration)) error {
	tick(time.Duration(gofakeit.Number(5, 90)) * time.Minute)
	if gofakeit.Number(0, 9) == 0 {
		_, err := svc.RecordPayment(ctx, order.PaymentRequest{OrderID: o.ID, Status: order.PaymentFailed, TransactionID: gofakeit.UUID()})
		return err
	}
	if _, err := svc.RecordPayment(ctx, order.PaymentRequest{
		OrderID:       o.ID,
		Status:        order.PaymentPaid,
		TransactionID: gofakeit.UUID(),
		Amount:        o.Total,
	}); err != nil {
		return err
	}

	path := []order.Status{order.StatusConfirmed, order.StatusShipped, order.StatusDelivered}
	steps := gofakeit.Number(0, len(path))
	for _, target := range path[:steps] {
		tick(time.Duration(gofakeit.Number(1, 48)) * time.Hour)
		if _, err := svc.AdvanceStatus(ctx, order.AdvanceRequest{OrderID: o.ID, Target: target}); err != nil {
			return err
		}
	}

	switch {
	case steps == len(path) && gofakeit.Number(0, 9) == 0:
		tick(time.Duration(gofakeit.Number(24, 240)) * time.Hour)
		reason := []order.RefundReason{order.ReasonDefective, order.ReasonWrongItem, order.ReasonNotAsDescribed, order.ReasonReturned}
		_, err := svc.RecordRefund(ctx, order.RefundRequest{OrderID: o.ID, Reason: reason[gofakeit.Number(0, len(reason)-1)]})
		return err
	case steps < 2 && gofakeit.Number(0, 6) == 0:
		tick(time.Duration(gofakeit.Number(1, 12)) * time.Hour)
		_, err := svc.AdvanceStatus(ctx, order.AdvanceRequest{OrderID: o.ID, Target: order.StatusCancelled})
		return err
	}
	return nil
}
