package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/domain/product"
	"github.com/xenking/oolio-orderflow/internal/export"
	"github.com/xenking/oolio-orderflow/internal/storage/memory"
)

var (
	pepper = []byte("test-pepper")
	epoch  = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
)

const (
	adminKey   = "admin-key"
	staffKey   = "staff-key"
	analystKey = "analyst-key"
)

// conflictingOrders loses the first n version races it is asked to write.
type conflictingOrders struct {
	*memory.Orders
	remaining atomic.Int32
}

func (c *conflictingOrders) Update(ctx context.Context, u order.Update) error {
	if c.remaining.Add(-1) >= 0 {
		return order.ErrConcurrentModification
	}
	return c.Orders.Update(ctx, u)
}

type fixture struct {
	store  *memory.Store
	orders *conflictingOrders
	h      http.Handler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store := memory.New()
	store.PutProduct(product.Product{ID: "tea", Name: "Green Tea", Price: decimal.NewFromInt(10), Category: "drinks", Stock: 5})
	store.PutCoupon(coupon.Rule{Code: "TENOFF", CampaignID: "launch", DiscountType: coupon.DiscountFixed, Value: decimal.NewFromInt(2)})
	for id, k := range map[string]struct {
		key  string
		role auth.Role
	}{
		"k-admin":   {adminKey, auth.RoleAdmin},
		"k-staff":   {staffKey, auth.RoleStaff},
		"k-analyst": {analystKey, auth.RoleAnalyst},
	} {
		store.PutAPIKey(auth.APIKeyInfo{ID: id, KeyHash: auth.HashKey(pepper, k.key), Name: id, Role: k.role})
	}

	orders := &conflictingOrders{Orders: store.Orders()}
	svc := order.NewService(store.Products(), coupon.NewRepoValidator(store.Coupons()), orders,
		order.WithClock(func() time.Time { return epoch }),
	)
	agg := analytics.NewAggregator(store, analytics.DefaultConfig(),
		analytics.WithClock(func() time.Time { return epoch.Add(time.Hour) }),
	)
	h := New(cfg, svc, agg, export.New(), auth.NewAuthenticator(store.APIKeys(), pepper), nil)
	return &fixture{store: store, orders: orders, h: h.Routes()}
}

func (f *fixture) do(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(DefaultAPIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const createBody = `{
	"customer_id": "c1",
	"items": [{"product_id": "tea", "quantity": 2}],
	"shipping": {"name": "Asha", "phone": "+91 98450 00000", "address": "1 MG Road", "pincode": "560001", "country": "IN"},
	"discount_code": "tenoff",
	"payment_method": "upi"
}`

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/orders", staffKey, createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)["id"].(string)
}

func TestCreateAndGetOrder(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/api/orders", staffKey, createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	id := body["id"].(string)
	assert.Equal(t, "/api/orders/"+id, rec.Header().Get("Location"))
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "20", body["subtotal"])
	assert.Equal(t, "2", body["discount_value"])
	assert.Equal(t, "18", body["total"])
	assert.Equal(t, "launch", body["campaign_id"])
	assert.EqualValues(t, 1, body["version"])

	rec = f.do(t, http.MethodGet, "/api/orders/"+id, analystKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decodeBody(t, rec)["id"])

	rec = f.do(t, http.MethodGet, "/api/orders/missing", analystKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["kind"])
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   string
		status int
		kind   string
	}{
		{name: "MissingKey", method: http.MethodGet, path: "/api/orders/x", status: http.StatusUnauthorized, kind: "unauthorized"},
		{name: "UnknownKey", method: http.MethodGet, path: "/api/orders/x", key: "nope", status: http.StatusUnauthorized, kind: "unauthorized"},
		{name: "StaffReadsAnalytics", method: http.MethodGet, path: "/api/analytics/sales", key: staffKey, status: http.StatusForbidden, kind: "forbidden"},
		{name: "AnalystCreatesOrder", method: http.MethodPost, path: "/api/orders", key: analystKey, body: createBody, status: http.StatusForbidden, kind: "forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.key, tt.body)
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.kind, decodeBody(t, rec)["kind"])
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	f := newFixture(t, Config{AuthDisabled: true})
	rec := f.do(t, http.MethodGet, "/api/analytics/sales", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateOrderErrors(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{
			name:   "OutOfStock",
			body:   strings.Replace(createBody, `"quantity": 2`, `"quantity": 6`, 1),
			status: http.StatusUnprocessableEntity,
			kind:   "insufficient_stock",
		},
		{
			name:   "UnknownProduct",
			body:   strings.Replace(createBody, `"tea"`, `"coffee"`, 1),
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "UnknownCoupon",
			body:   strings.Replace(createBody, `"tenoff"`, `"nope"`, 1),
			status: http.StatusUnprocessableEntity,
			kind:   "invalid_discount",
		},
		{
			name:   "UnknownField",
			body:   `{"customer": "c1"}`,
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "MissingItems",
			body:   `{"customer_id": "c1", "items": []}`,
			status: http.StatusBadRequest,
			kind:   "validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/orders", staffKey, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeBody(t, rec)["kind"])
		})
	}
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	id := f.create(t)
	base := "/api/orders/" + id

	rec := f.do(t, http.MethodPost, base+"/status", staffKey, `{"status": "delivered"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeBody(t, rec)["kind"])

	rec = f.do(t, http.MethodPost, base+"/payments", staffKey, `{"status": "paid", "amount": "17"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/payments", staffKey, `{"status": "paid", "amount": "18", "transaction_id": "tx-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodPost, base+"/status", staffKey, `{"status": "confirmed", "expected_version": 1}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decodeBody(t, rec)["kind"])

	rec = f.do(t, http.MethodPost, base+"/status", staffKey, `{"status": "confirmed", "expected_version": 2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 3, decodeBody(t, rec)["version"])

	rec = f.do(t, http.MethodPost, base+"/refunds", staffKey, `{"reason": "other"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "cancelled", body["status"])
	refunds := body["refunds"].([]any)
	require.Len(t, refunds, 1)
	assert.Equal(t, "18", refunds[0].(map[string]any)["amount"])

	ps, err := f.store.Products().GetByIDs(t.Context(), []string{"tea"})
	require.NoError(t, err)
	assert.Equal(t, 5, ps[0].Stock)
}

func TestConflictRetries(t *testing.T) {
	f := newFixture(t, Config{ConflictRetries: 3})
	id := f.create(t)

	f.orders.remaining.Store(2)
	rec := f.do(t, http.MethodPost, "/api/orders/"+id+"/status", staffKey, `{"status": "confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["version"])

	// A pinned version is never retried.
	f.orders.remaining.Store(1)
	rec = f.do(t, http.MethodPost, "/api/orders/"+id+"/status", staffKey, `{"status": "shipped", "expected_version": 2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReports(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t)

	rec := f.do(t, http.MethodGet, "/api/analytics/sales?group_by=day", analystKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "INR", body["currency"])
	assert.Equal(t, "18", body["revenue"].(map[string]any)["value"])

	tests := []struct {
		name  string
		query string
	}{
		{name: "UnknownReport", query: "/api/analytics/weather"},
		{name: "BadGranularity", query: "/api/analytics/sales?group_by=fortnight"},
		{name: "BadDate", query: "/api/analytics/sales?from=yesterday"},
		{name: "InvertedRange", query: "/api/analytics/sales?from=2024-05-10&to=2024-05-01"},
		{name: "BadLimit", query: "/api/analytics/products?limit=many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.query, analystKey, "")
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation", decodeBody(t, rec)["kind"])
		})
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t, Config{})
	f.create(t)

	rec := f.do(t, http.MethodGet, "/api/analytics/export?report=markets&format=csv", analystKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="markets-`)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Contains(t, lines[1], "IN")

	rec = f.do(t, http.MethodGet, "/api/analytics/export?report=sales&format=xlsx", analystKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/analytics/export?report=sales", staffKey, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
