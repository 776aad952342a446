// Package handler serves the gateway's action-dispatch endpoint.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/checkout-gateway/internal/domain/checkout"
	"github.com/xenking/checkout-gateway/internal/webhook"
)

// Actions accepted in the action query parameter.
const (
	ActionGetProduct  = "getProduct"
	ActionCreateOrder = "createOrder"
	ActionWebhook     = "webhook"
)

// DefaultMaxBodyBytes caps inbound request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Checkout is the workflow surface the handler delegates to.
type Checkout interface {
	GetProduct(ctx context.Context, id int64) (*checkout.Product, error)
	CreateOrder(ctx context.Context, raw []byte) (*checkout.Receipt, error)
	HandleWebhook(ctx context.Context, raw []byte, signature string) (*checkout.WebhookResult, error)
}

var _ Checkout = (*checkout.Service)(nil)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Debug includes the underlying cause in 500 responses.
	Debug bool
	// SignatureHeader names the webhook signature header.
	SignatureHeader string
	// MaxBodyBytes caps request bodies; DefaultMaxBodyBytes when zero.
	MaxBodyBytes int64
}

// Handler dispatches /api requests on the action query parameter.
type Handler struct {
	checkout        Checkout
	debug           bool
	signatureHeader string
	maxBodyBytes    int64
}

// New constructs a Handler.
func New(cfg Config, svc Checkout) *Handler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = webhook.DefaultSignatureHeader
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		checkout:        svc,
		debug:           cfg.Debug,
		signatureHeader: cfg.SignatureHeader,
		maxBodyBytes:    cfg.MaxBodyBytes,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		h.fail(w, r, errMethodNotAllowed)
		return
	}

	action := r.URL.Query().Get("action")
	if action == "" {
		h.fail(w, r, errMissingAction)
		return
	}

	switch action {
	case ActionGetProduct:
		h.getProduct(w, r)
	case ActionCreateOrder:
		if !requirePost(w, r) {
			h.fail(w, r, errMethodNotAllowed)
			return
		}
		h.createOrder(w, r)
	case ActionWebhook:
		if !requirePost(w, r) {
			h.fail(w, r, errMethodNotAllowed)
			return
		}
		h.webhook(w, r)
	default:
		h.fail(w, r, errUnknownAction)
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", http.MethodPost)
	return false
}
