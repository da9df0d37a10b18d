package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orderflow/internal/domain/apperr"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
)

// ItemRequest is one requested line of a new order.
type ItemRequest struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID    string
	Items         []ItemRequest
	Shipping      ShippingAddress
	DiscountCode  string
	PaymentMethod PaymentMethod
}

// AdvanceRequest moves an order to Target. When ExpectedVersion is set the
// call fails with ErrConcurrentModification unless it matches the stored
// version. Reason overrides the refund reason derived from the target.
type AdvanceRequest struct {
	OrderID         string
	Target          Status
	ExpectedVersion *int64
	Reason          RefundReason
}

// PaymentRequest reports the outcome of a payment attempt.
type PaymentRequest struct {
	OrderID         string
	Status          PaymentStatus
	TransactionID   string
	Amount          decimal.Decimal
	ExpectedVersion *int64
}

// RefundRequest asks for the order to be refunded through the lifecycle.
type RefundRequest struct {
	OrderID         string
	Reason          RefundReason
	ExpectedVersion *int64
}

// Service is the order lifecycle manager. It owns the status state machine and
// reconciles payments, discounts and refunds. Every mutation is a single
// conditional write; conflicts are reported, never retried.
type Service struct {
	products product.Repository
	coupons  coupon.Validator
	orders   Repository

	now   func() time.Time
	newID func() string

	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	now   func() time.Time
	newID func() string
	meter metric.MeterProvider
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithIDGenerator sets the generator of order and refund ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *serviceOptions) { o.newID = fn }
}

// WithMeterProvider sets the meter provider used for lifecycle counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.meter = mp }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	coupons coupon.Validator,
	orders Repository,
	opts ...Option,
) *Service {
	o := serviceOptions{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		meter: noop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meter.Meter("github.com/xenking/oolio-orderflow/internal/domain/order")
	transitions, err := meter.Int64Counter("orderflow.order.transitions",
		metric.WithDescription("Applied order status transitions"),
	)
	if err != nil {
		transitions = noop.Int64Counter{}
	}
	conflicts, err := meter.Int64Counter("orderflow.order.conflicts",
		metric.WithDescription("Order writes rejected by the version check"),
	)
	if err != nil {
		conflicts = noop.Int64Counter{}
	}

	return &Service{
		products:    products,
		coupons:     coupons,
		orders:      orders,
		now:         o.now,
		newID:       o.newID,
		transitions: transitions,
		conflicts:   conflicts,
	}
}

// GetOrder returns the order with the given id.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	if id == "" {
		return nil, apperr.Validation("order_id", "required")
	}
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// CreateOrder validates items and stock, snapshots unit prices, applies the
// discount and persists the order in pending state with a pending payment.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*Order, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	type stockKey struct{ product, variant string }
	requested := make(map[stockKey]int, len(req.Items))
	items := make([]Item, len(req.Items))
	couponItems := make([]coupon.Item, len(req.Items))

	for i, ri := range req.Items {
		p, ok := byID[ri.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: ri.ProductID}
		}
		if len(p.Variants) > 0 && ri.VariantID == "" {
			return nil, apperr.Validation("variant_id", "product %s requires a variant", ri.ProductID)
		}
		available, ok := p.Available(ri.VariantID)
		if !ok {
			return nil, &ProductNotFoundError{ProductID: ri.ProductID, VariantID: ri.VariantID}
		}

		key := stockKey{ri.ProductID, ri.VariantID}
		requested[key] += ri.Quantity
		if requested[key] > available {
			return nil, &InsufficientStockError{
				ProductID: ri.ProductID,
				VariantID: ri.VariantID,
				Requested: requested[key],
				Available: available,
			}
		}

		price := p.UnitPrice(ri.VariantID)
		items[i] = Item{
			ProductID: ri.ProductID,
			VariantID: ri.VariantID,
			Category:  p.Category,
			Quantity:  ri.Quantity,
			Price:     price,
		}
		couponItems[i] = coupon.Item{
			ProductID: ri.ProductID,
			Category:  p.Category,
			Price:     price,
			Quantity:  ri.Quantity,
		}
	}

	now := s.now().UTC()
	o := &Order{
		ID:         s.newID(),
		CustomerID: req.CustomerID,
		Status:     StatusPending,
		Items:      items,
		Shipping:   req.Shipping,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.Subtotal = o.ItemsSubtotal()
	o.DiscountValue = decimal.Zero

	if req.DiscountCode != "" {
		discount, err := s.coupons.Validate(ctx, req.DiscountCode, couponItems)
		if err != nil {
			return nil, errors.Wrap(err, "validate discount")
		}
		o.DiscountCode = discount.Code
		o.CampaignID = discount.CampaignID
		o.DiscountValue = decimal.Min(discount.Amount, o.Subtotal)
	}

	o.Total = o.Subtotal.Sub(o.DiscountValue)
	o.Payment = Payment{
		Method: req.PaymentMethod,
		Status: PaymentPending,
		Amount: o.Total,
	}
	if err := o.CheckTotal(); err != nil {
		return nil, err
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Stringer("total", o.Total),
		zap.String("discount_code", o.DiscountCode),
	)
	return o, nil
}

func validateCreate(req CreateRequest) error {
	if req.CustomerID == "" {
		return apperr.Validation("customer_id", "required")
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return apperr.Validation("product_id", "required")
		}
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	switch {
	case req.Shipping.Name == "":
		return apperr.Validation("shipping.name", "required")
	case req.Shipping.Phone == "":
		return apperr.Validation("shipping.phone", "required")
	case req.Shipping.Address == "":
		return apperr.Validation("shipping.address", "required")
	case req.Shipping.Pincode == "":
		return apperr.Validation("shipping.pincode", "required")
	}
	if _, err := ParsePaymentMethod(string(req.PaymentMethod)); err != nil {
		return err
	}
	return nil
}

// AdvanceStatus applies one transition of the lifecycle. Cancelling or
// returning a paid order refunds the captured amount in the same write, and
// cancelled or returned items go back to stock.
func (s *Service) AdvanceStatus(ctx context.Context, req AdvanceRequest) (*Order, error) {
	if !req.Target.Valid() {
		return nil, apperr.Validation("status", "unknown order status %d", uint8(req.Target))
	}
	if _, err := ParseRefundReason(string(req.Reason)); err != nil {
		return nil, err
	}

	current, err := s.load(ctx, req.OrderID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(req.Target) {
		return nil, &InvalidTransitionError{From: current.Status, To: req.Target}
	}

	next := current.Clone()
	var restock []StockDelta

	switch req.Target {
	case StatusDelivered:
		if next.Payment.Status != PaymentPaid {
			if next.Payment.Method != MethodCOD {
				return nil, &InvalidTransitionError{
					From:   current.Status,
					To:     req.Target,
					Reason: "payment not captured",
				}
			}
			// Cash is collected by the courier on delivery.
			s.capture(&next, next.Total, "")
		}
	case StatusCancelled, StatusReturned:
		restock = make([]StockDelta, len(next.Items))
		for i, item := range next.Items {
			restock[i] = StockDelta{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity}
		}
		if next.Payment.Status == PaymentPaid {
			reason := req.Reason
			if reason == "" {
				reason = defaultRefundReason(req.Target)
			}
			s.refund(&next, reason)
		}
	}

	next.Status = req.Target
	if err := s.write(ctx, current, &next, restock); err != nil {
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", current.Status.String()),
		attribute.String("to", next.Status.String()),
	))
	zctx.From(ctx).Info("Order status advanced",
		zap.String("order_id", next.ID),
		zap.Stringer("from", current.Status),
		zap.Stringer("to", next.Status),
		zap.String("payment_status", string(next.Payment.Status)),
		zap.Int64("version", next.Version),
	)
	return &next, nil
}

// RecordPayment applies a payment result to the order. A paid result must
// match the order total. Money captured after the order was cancelled or
// returned is refunded immediately.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if req.Status != PaymentPaid && req.Status != PaymentFailed {
		return nil, apperr.Validation("status", "payment result must be %q or %q", PaymentPaid, PaymentFailed)
	}

	current, err := s.load(ctx, req.OrderID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if !current.Payment.Status.CanBecome(req.Status) {
		return nil, &InvalidPaymentTransitionError{From: current.Payment.Status, To: req.Status}
	}

	next := current.Clone()
	switch req.Status {
	case PaymentFailed:
		next.Payment.Status = PaymentFailed
		next.Payment.Attempts++
		if req.TransactionID != "" {
			next.Payment.TransactionID = req.TransactionID
		}
	case PaymentPaid:
		if !req.Amount.Equal(next.Total) {
			return nil, apperr.Validation("amount", "payment amount %s does not match order total %s", req.Amount, next.Total)
		}
		s.capture(&next, req.Amount, req.TransactionID)
		if next.Status == StatusCancelled || next.Status == StatusReturned {
			s.refund(&next, defaultRefundReason(next.Status))
		}
	}

	if err := s.write(ctx, current, &next, nil); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Payment recorded",
		zap.String("order_id", next.ID),
		zap.String("result", string(req.Status)),
		zap.String("payment_status", string(next.Payment.Status)),
		zap.Int("attempts", next.Payment.Attempts),
	)
	payment := next.Payment
	return &payment, nil
}

// RecordRefund refunds an order by moving it to the refunding state allowed
// from its current status: returned after delivery, cancelled before shipping.
func (s *Service) RecordRefund(ctx context.Context, req RefundRequest) (*Order, error) {
	if _, err := ParseRefundReason(string(req.Reason)); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, req.OrderID, req.ExpectedVersion)
	if err != nil {
		return nil, err
	}

	var target Status
	switch current.Status {
	case StatusDelivered:
		target = StatusReturned
	case StatusPending, StatusConfirmed:
		target = StatusCancelled
	default:
		return nil, &InvalidTransitionError{
			From:   current.Status,
			To:     StatusReturned,
			Reason: "order cannot be refunded in its current state",
		}
	}

	version := current.Version
	return s.AdvanceStatus(ctx, AdvanceRequest{
		OrderID:         current.ID,
		Target:          target,
		ExpectedVersion: &version,
		Reason:          req.Reason,
	})
}

func (s *Service) load(ctx context.Context, id string, expected *int64) (*Order, error) {
	if id == "" {
		return nil, apperr.Validation("order_id", "required")
	}
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if expected != nil && *expected != o.Version {
		s.conflicts.Add(ctx, 1)
		return nil, errors.Wrapf(ErrConcurrentModification, "order %s at version %d, expected %d", id, o.Version, *expected)
	}
	return o, nil
}

// write persists next conditionally on the version of current.
func (s *Service) write(ctx context.Context, current, next *Order, restock []StockDelta) error {
	next.UpdatedAt = s.stamp(current.UpdatedAt)
	if err := next.CheckTotal(); err != nil {
		return err
	}
	err := s.orders.Update(ctx, Update{
		Order:           next,
		ExpectedVersion: current.Version,
		Restock:         restock,
	})
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			s.conflicts.Add(ctx, 1)
		}
		return errors.Wrap(err, "update order")
	}
	return nil
}

func (s *Service) capture(o *Order, amount decimal.Decimal, txID string) {
	paidAt := s.now().UTC()
	o.Payment.Status = PaymentPaid
	o.Payment.Amount = amount
	o.Payment.Attempts++
	o.Payment.PaidAt = &paidAt
	if txID != "" {
		o.Payment.TransactionID = txID
	}
}

func (s *Service) refund(o *Order, reason RefundReason) {
	o.Refunds = append(o.Refunds, Refund{
		ID:        s.newID(),
		Amount:    o.Payment.Amount,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	})
	o.Payment.Status = PaymentRefunded
}

// stamp returns the next UpdatedAt, never earlier than prev.
func (s *Service) stamp(prev time.Time) time.Time {
	now := s.now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

func defaultRefundReason(target Status) RefundReason {
	if target == StatusReturned {
		return ReasonReturned
	}
	return ReasonCancelled
}
