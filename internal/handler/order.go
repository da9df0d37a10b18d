package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orderflow/internal/domain/order"
)

type itemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID    string                `json:"customer_id"`
	Items         []itemRequest         `json:"items"`
	Shipping      order.ShippingAddress `json:"shipping"`
	DiscountCode  string                `json:"discount_code"`
	PaymentMethod string                `json:"payment_method"`
}

type advanceRequest struct {
	Status          string `json:"status"`
	ExpectedVersion *int64 `json:"expected_version"`
	Reason          string `json:"reason"`
}

type paymentRequest struct {
	Status          string          `json:"status"`
	TransactionID   string          `json:"transaction_id"`
	Amount          decimal.Decimal `json:"amount"`
	ExpectedVersion *int64          `json:"expected_version"`
}

type refundRequest struct {
	Reason          string `json:"reason"`
	ExpectedVersion *int64 `json:"expected_version"`
}

type paymentResponse struct {
	Method        order.PaymentMethod `json:"method"`
	Status        order.PaymentStatus `json:"status"`
	TransactionID string              `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Attempts      int                 `json:"attempts"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
}

type refundResponse struct {
	ID        string             `json:"id"`
	Amount    decimal.Decimal    `json:"amount"`
	Reason    order.RefundReason `json:"reason"`
	CreatedAt time.Time          `json:"created_at"`
}

type orderResponse struct {
	ID            string                `json:"id"`
	CustomerID    string                `json:"customer_id"`
	Status        order.Status          `json:"status"`
	Items         []order.Item          `json:"items"`
	Subtotal      decimal.Decimal       `json:"subtotal"`
	DiscountCode  string                `json:"discount_code,omitempty"`
	CampaignID    string                `json:"campaign_id,omitempty"`
	DiscountValue decimal.Decimal       `json:"discount_value"`
	Total         decimal.Decimal       `json:"total"`
	Shipping      order.ShippingAddress `json:"shipping"`
	Payment       paymentResponse       `json:"payment"`
	Refunds       []refundResponse      `json:"refunds"`
	Version       int64                 `json:"version"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func toPayment(p order.Payment) paymentResponse {
	return paymentResponse{
		Method:        p.Method,
		Status:        p.Status,
		TransactionID: p.TransactionID,
		Amount:        p.Amount,
		Attempts:      p.Attempts,
		PaidAt:        p.PaidAt,
	}
}

func toOrder(o *order.Order) orderResponse {
	refunds := make([]refundResponse, len(o.Refunds))
	for i, rf := range o.Refunds {
		refunds[i] = refundResponse{ID: rf.ID, Amount: rf.Amount, Reason: rf.Reason, CreatedAt: rf.CreatedAt}
	}
	return orderResponse{
		ID:            o.ID,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		Items:         o.Items,
		Subtotal:      o.Subtotal,
		DiscountCode:  o.DiscountCode,
		CampaignID:    o.CampaignID,
		DiscountValue: o.DiscountValue,
		Total:         o.Total,
		Shipping:      o.Shipping,
		Payment:       toPayment(o.Payment),
		Refunds:       refunds,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity}
	}

	o, err := h.orders.CreateOrder(r.Context(), order.CreateRequest{
		CustomerID:    req.CustomerID,
		Items:         items,
		Shipping:      req.Shipping,
		DiscountCode:  req.DiscountCode,
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, r, http.StatusCreated, toOrder(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrder(o))
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	reason, err := order.ParseRefundReason(req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}

	var o *order.Order
	err = h.retryConflicts(r.Context(), req.ExpectedVersion != nil, func() (err error) {
		o, err = h.orders.AdvanceStatus(r.Context(), order.AdvanceRequest{
			OrderID:         chi.URLParam(r, "id"),
			Target:          target,
			ExpectedVersion: req.ExpectedVersion,
			Reason:          reason,
		})
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrder(o))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	status, err := order.ParsePaymentStatus(req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}

	var p *order.Payment
	err = h.retryConflicts(r.Context(), req.ExpectedVersion != nil, func() (err error) {
		p, err = h.orders.RecordPayment(r.Context(), order.PaymentRequest{
			OrderID:         chi.URLParam(r, "id"),
			Status:          status,
			TransactionID:   req.TransactionID,
			Amount:          req.Amount,
			ExpectedVersion: req.ExpectedVersion,
		})
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toPayment(*p))
}

func (h *Handler) recordRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	var o *order.Order
	err := h.retryConflicts(r.Context(), req.ExpectedVersion != nil, func() (err error) {
		o, err = h.orders.RecordRefund(r.Context(), order.RefundRequest{
			OrderID:         chi.URLParam(r, "id"),
			Reason:          order.RefundReason(req.Reason),
			ExpectedVersion: req.ExpectedVersion,
		})
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrder(o))
}

// retryConflicts reruns fn while it loses version races, up to
// ConflictRetries times. A caller that pinned a version gets the conflict.
func (h *Handler) retryConflicts(ctx context.Context, pinned bool, fn func() error) error {
	if pinned || h.cfg.ConflictRetries <= 0 {
		return fn()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(h.cfg.ConflictRetries)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || errors.Is(err, order.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
