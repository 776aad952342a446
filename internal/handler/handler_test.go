package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-gateway/internal/apperr"
	"github.com/xenking/checkout-gateway/internal/domain/checkout"
)

type mockCheckout struct {
	product *checkout.Product
	receipt *checkout.Receipt
	result  *checkout.WebhookResult
	err     error

	gotProductID int64
	gotBody      string
	gotSignature string
	calls        int
}

func (m *mockCheckout) GetProduct(_ context.Context, id int64) (*checkout.Product, error) {
	m.calls++
	m.gotProductID = id
	return m.product, m.err
}

func (m *mockCheckout) CreateOrder(_ context.Context, raw []byte) (*checkout.Receipt, error) {
	m.calls++
	m.gotBody = string(raw)
	return m.receipt, m.err
}

func (m *mockCheckout) HandleWebhook(_ context.Context, raw []byte, signature string) (*checkout.WebhookResult, error) {
	m.calls++
	m.gotBody = string(raw)
	m.gotSignature = signature
	return m.result, m.err
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) (int, envelope) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestHandler_Dispatch(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		wantCode int
	}{
		{name: "put", method: http.MethodPut, target: "/api?action=getProduct&id=1", wantCode: http.StatusMethodNotAllowed},
		{name: "delete", method: http.MethodDelete, target: "/api", wantCode: http.StatusMethodNotAllowed},
		{name: "missing action", method: http.MethodGet, target: "/api", wantCode: http.StatusBadRequest},
		{name: "empty action", method: http.MethodGet, target: "/api?action=", wantCode: http.StatusBadRequest},
		{name: "unknown action", method: http.MethodGet, target: "/api?action=refund", wantCode: http.StatusBadRequest},
		{name: "createOrder via GET", method: http.MethodGet, target: "/api?action=createOrder", wantCode: http.StatusMethodNotAllowed},
		{name: "webhook via GET", method: http.MethodGet, target: "/api?action=webhook", wantCode: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCheckout{}
			h := New(Config{}, svc)

			code, env := do(t, h, tt.method, tt.target, "", nil)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, "error", env.Status)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.NotEmpty(t, env.Message)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestHandler_GetProduct(t *testing.T) {
	svc := &mockCheckout{product: &checkout.Product{
		ID:           15,
		Name:         "Capulana",
		Price:        decimal.RequireFromString("100.50"),
		RegularPrice: decimal.RequireFromString("120"),
		Image:        "https://shop.example/a.jpg",
		Description:  "Hand made",
	}}
	h := New(Config{}, svc)

	code, env := do(t, h, http.MethodGet, "/api?action=getProduct&id=15", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, int64(15), svc.gotProductID)
	assert.JSONEq(t, `{
		"id": 15,
		"name": "Capulana",
		"price": "100.5",
		"regular_price": "120",
		"image": "https://shop.example/a.jpg",
		"description": "Hand made"
	}`, string(env.Data))
}

func TestHandler_GetProduct_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		svcErr   error
		wantCode int
	}{
		{name: "missing id", target: "/api?action=getProduct", wantCode: http.StatusBadRequest},
		{name: "non-numeric id", target: "/api?action=getProduct&id=abc", wantCode: http.StatusBadRequest},
		{name: "negative id", target: "/api?action=getProduct&id=-3", wantCode: http.StatusBadRequest},
		{name: "not found", target: "/api?action=getProduct&id=9", svcErr: apperr.New(apperr.NotFound, "product not found"), wantCode: http.StatusNotFound},
		{name: "upstream", target: "/api?action=getProduct&id=9", svcErr: apperr.Upstream(errors.New("dial tcp"), "failed to fetch product"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCheckout{err: tt.svcErr}
			h := New(Config{}, svc)

			code, env := do(t, h, http.MethodGet, tt.target, "", nil)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.Equal(t, "error", env.Status)
		})
	}
}

func TestHandler_CreateOrder(t *testing.T) {
	svc := &mockCheckout{receipt: &checkout.Receipt{OrderID: 482, OrderKey: "wc_order_abc"}}
	h := New(Config{}, svc)

	body := `{"product_id":15,"name":"Ana","email":"ana@example.co.mz","phone":"841234567","payment_method":"mpesa"}`
	code, env := do(t, h, http.MethodPost, "/api?action=createOrder", body, nil)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "Payment initiated. Await SMS confirmation.", env.Message)
	assert.JSONEq(t, `{"order_id":482,"order_key":"wc_order_abc"}`, string(env.Data))
	assert.Equal(t, body, svc.gotBody)
}

func TestHandler_CreateOrder_ErrorVerbosity(t *testing.T) {
	cause := apperr.Upstream(errors.New("connection reset by peer"), "failed to initiate payment")

	t.Run("production", func(t *testing.T) {
		h := New(Config{}, &mockCheckout{err: cause})
		code, env := do(t, h, http.MethodPost, "/api?action=createOrder", `{"a":1}`, nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "failed to initiate payment", env.Message)
	})

	t.Run("debug", func(t *testing.T) {
		h := New(Config{Debug: true}, &mockCheckout{err: cause})
		code, env := do(t, h, http.MethodPost, "/api?action=createOrder", `{"a":1}`, nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Contains(t, env.Message, "connection reset by peer")
	})

	t.Run("unclassified error", func(t *testing.T) {
		h := New(Config{}, &mockCheckout{err: errors.New("boom")})
		code, env := do(t, h, http.MethodPost, "/api?action=createOrder", `{"a":1}`, nil)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, "internal error", env.Message)
	})

	t.Run("client error is not expanded in debug", func(t *testing.T) {
		h := New(Config{Debug: true}, &mockCheckout{err: apperr.Invalid("phone", "invalid phone number")})
		code, env := do(t, h, http.MethodPost, "/api?action=createOrder", `{"a":1}`, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "invalid phone number", env.Message)
	})
}

func TestHandler_CreateOrder_BodyTooLarge(t *testing.T) {
	svc := &mockCheckout{}
	h := New(Config{MaxBodyBytes: 16}, svc)

	code, env := do(t, h, http.MethodPost, "/api?action=createOrder", `{"name":"`+strings.Repeat("a", 64)+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "request body too large", env.Message)
	assert.Zero(t, svc.calls)
}

func TestHandler_Webhook(t *testing.T) {
	tests := []struct {
		name    string
		result  *checkout.WebhookResult
		wantMsg string
	}{
		{
			name:    "applied",
			result:  &checkout.WebhookResult{Applied: true, OrderID: 482, Status: checkout.StatusCompleted, Reference: "ORDER_482"},
			wantMsg: "Webhook processed",
		},
		{
			name:    "acknowledged",
			result:  &checkout.WebhookResult{Reference: "INV-1"},
			wantMsg: "Webhook acknowledged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCheckout{result: tt.result}
			h := New(Config{}, svc)

			body := `{"reference":"ORDER_482","status":"success"}`
			code, env := do(t, h, http.MethodPost, "/api.php?action=webhook", body, http.Header{
				"X-E2payments-Signature": []string{"sha256=abc"},
			})
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, "success", env.Status)
			assert.Equal(t, tt.wantMsg, env.Message)
			assert.Equal(t, "sha256=abc", svc.gotSignature)
			assert.Equal(t, body, svc.gotBody)
		})
	}
}

func TestHandler_Webhook_CustomHeader(t *testing.T) {
	svc := &mockCheckout{result: &checkout.WebhookResult{}}
	h := New(Config{SignatureHeader: "X-Signature"}, svc)

	_, _ = do(t, h, http.MethodPost, "/api?action=webhook", `{}`, http.Header{
		"X-Signature": []string{"deadbeef"},
	})
	assert.Equal(t, "deadbeef", svc.gotSignature)
}

func TestHandler_Webhook_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "bad signature", err: apperr.New(apperr.Unauthorized, "invalid signature"), wantCode: http.StatusUnauthorized},
		{name: "malformed", err: apperr.New(apperr.MalformedPayload, "invalid JSON payload"), wantCode: http.StatusBadRequest},
		{name: "backend down", err: apperr.Upstream(errors.New("502"), "failed to update order"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{}, &mockCheckout{err: tt.err})
			code, env := do(t, h, http.MethodPost, "/api?action=webhook", `{}`, nil)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantCode, env.Code)
		})
	}
}
