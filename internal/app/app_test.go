package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/internal/webhook"
	"github.com/xenking/checkout-gateway/pkg/health"
	"github.com/xenking/checkout-gateway/pkg/ratelimit"
)

// upstreams fakes the WooCommerce REST API and the e2Payments API and
// records what the gateway sent them.
type upstreams struct {
	mu       sync.Mutex
	statuses []string
	charges  []map[string]any

	shop     *httptest.Server
	provider *httptest.Server
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}

	shop := http.NewServeMux()
	shop.HandleFunc("GET /wp-json/wc/v3/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "15" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"woocommerce_rest_product_invalid_id"}`)
			return
		}
		_, _ = io.WriteString(w, `{
			"id": 15,
			"name": "Capulana",
			"price": "100",
			"regular_price": "",
			"description": "<p>Hand <b>made</b></p>",
			"images": [{"src": "https://shop.example/a.jpg"}]
		}`)
	})
	shop.HandleFunc("POST /wp-json/wc/v3/orders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":482,"order_key":"wc_order_abc","status":"pending"}`)
	})
	shop.HandleFunc("PUT /wp-json/wc/v3/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Status != "" {
			u.mu.Lock()
			u.statuses = append(u.statuses, body.Status)
			u.mu.Unlock()
		}
		_, _ = io.WriteString(w, `{"id":482,"status":"pending"}`)
	})
	u.shop = httptest.NewServer(shop)
	t.Cleanup(u.shop.Close)

	provider := http.NewServeMux()
	provider.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	provider.HandleFunc("POST /v1/c2b/mpesa-payment/{wallet}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		u.mu.Lock()
		u.charges = append(u.charges, body)
		u.mu.Unlock()
		_, _ = io.WriteString(w, `{"success":"Payment request sent"}`)
	})
	u.provider = httptest.NewServer(provider)
	t.Cleanup(u.provider.Close)

	return u
}

func (u *upstreams) config() *Config {
	cfg := validConfig()
	cfg.WooCommerce.APIURL = u.shop.URL + "/wp-json/wc/v3/"
	cfg.E2Payments.APIURL = u.provider.URL + "/v1"
	cfg.E2Payments.AuthURL = u.provider.URL
	cfg.E2Payments.SignatureHeader = webhook.DefaultSignatureHeader
	cfg.Upstream = UpstreamConfig{Timeout: 5 * time.Second, ConnectTimeout: time.Second}
	return &cfg
}

func newTestGateway(t *testing.T, cfg *Config, limit int) (http.Handler, *health.Health) {
	t.Helper()
	healthSvc := health.New()
	store := ratelimit.NewMemory(ratelimit.Config{Max: limit, Window: time.Minute})

	h, httpClient, err := newHandler(zap.NewNop(), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg, store, healthSvc)
	require.NoError(t, err)
	t.Cleanup(httpClient.CloseIdleConnections)
	return h, healthSvc
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestGateway_GetProduct(t *testing.T) {
	u := newUpstreams(t)
	h, _ := newTestGateway(t, u.config(), 100)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api.php?action=getProduct&id=15", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"status": "success",
		"data": {
			"id": 15,
			"name": "Capulana",
			"price": "100",
			"regular_price": "100",
			"image": "https://shop.example/a.jpg",
			"description": "Hand made"
		}
	}`, w.Body.String())

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api?action=getProduct&id=16", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateway_CheckoutAndWebhook(t *testing.T) {
	u := newUpstreams(t)
	cfg := u.config()
	h, _ := newTestGateway(t, cfg, 100)

	body := `{"product_id":"15","quantity":"2","name":"Ana","email":"ana@example.co.mz","phone":"84 123 4567","payment_method":"mpesa"}`
	w := serve(h, httptest.NewRequest(http.MethodPost, "/api?action=createOrder", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{
		"status": "success",
		"message": "Payment initiated. Await SMS confirmation.",
		"data": {"order_id": 482, "order_key": "wc_order_abc"}
	}`, w.Body.String())

	u.mu.Lock()
	require.Len(t, u.charges, 1)
	assert.Equal(t, "ORDER_482", u.charges[0]["reference"])
	assert.Equal(t, float64(200), u.charges[0]["amount"])
	u.mu.Unlock()

	event := []byte(`{"reference":"ORDER_482","status":"success","transaction_id":"TX1"}`)
	sig := webhook.NewVerifier(cfg.E2Payments.WebhookSecret).Sign(event)

	t.Run("unsigned", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api?action=webhook", strings.NewReader(string(event)))
		w := serve(h, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("signed empty payload", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api?action=webhook", strings.NewReader(`{}`))
		r.Header.Set(webhook.DefaultSignatureHeader, webhook.NewVerifier(cfg.E2Payments.WebhookSecret).Sign([]byte(`{}`)))
		w := serve(h, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("signed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api?action=webhook", strings.NewReader(string(event)))
		r.Header.Set(webhook.DefaultSignatureHeader, "sha256="+sig)
		w := serve(h, r)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "Webhook processed")
	})

	u.mu.Lock()
	defer u.mu.Unlock()
	assert.Equal(t, []string{"completed"}, u.statuses)
}

func TestGateway_RateLimit(t *testing.T) {
	u := newUpstreams(t)
	h, _ := newTestGateway(t, u.config(), 2)

	// A fresh X-Forwarded-For per request does not buy a fresh budget.
	get := func(i int) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api?action=getProduct&id=15", nil)
		r.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		return serve(h, r)
	}
	for i := range 2 {
		w := get(i)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := get(2)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Probes are not counted against the client.
	w = serve(h, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateway_Health(t *testing.T) {
	u := newUpstreams(t)
	h, healthSvc := newTestGateway(t, u.config(), 100)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	healthSvc.SetReady(true)
	w = serve(h, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGateway_RequestID(t *testing.T) {
	u := newUpstreams(t)
	h, _ := newTestGateway(t, u.config(), 100)

	w := serve(h, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/livez", nil)
	r.Header.Set("X-Request-ID", "custom-request-id-12345")
	w = serve(h, r)
	assert.Equal(t, "custom-request-id-12345", w.Header().Get("X-Request-ID"))
}

func TestGateway_CORSPreflight(t *testing.T) {
	u := newUpstreams(t)
	h, _ := newTestGateway(t, u.config(), 100)

	r := httptest.NewRequest(http.MethodOptions, "/api?action=createOrder", nil)
	r.Header.Set("Origin", "https://shop.example")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := serve(h, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), webhook.DefaultSignatureHeader)
}
