// Package e2payments is the payment-provider client for e2Payments M-Pesa
// C2B charges.
package e2payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/internal/apperr"
	"github.com/xenking/checkout-gateway/internal/domain/checkout"
	"github.com/xenking/checkout-gateway/internal/upstream"
	"github.com/xenking/checkout-gateway/internal/validation"
)

// Config holds the provider endpoints and credentials.
type Config struct {
	APIURL       string
	AuthURL      string
	ClientID     string
	ClientSecret string
	WalletID     string
}

// Client implements checkout.PaymentProvider.
type Client struct {
	paymentURL string
	clientID   string
	tokens     *TokenSource
	http       *upstream.Client
	lg         *zap.Logger
}

var _ checkout.PaymentProvider = (*Client)(nil)

// New creates a Client with its own token cache.
func New(cfg Config, httpClient *http.Client, lg *zap.Logger) *Client {
	if lg == nil {
		lg = zap.NewNop()
	}
	hc := upstream.NewClient("e2payments", httpClient, lg)
	return &Client{
		paymentURL: fmt.Sprintf("%s/c2b/mpesa-payment/%s",
			strings.TrimRight(cfg.APIURL, "/"), url.PathEscape(cfg.WalletID)),
		clientID: cfg.ClientID,
		tokens:   NewTokenSource(cfg.AuthURL, cfg.ClientID, cfg.ClientSecret, hc, lg),
		http:     hc,
		lg:       lg,
	}
}

type paymentRequest struct {
	ClientID  string      `json:"client_id"`
	Amount    json.Number `json:"amount"`
	Phone     string      `json:"phone"`
	Reference string      `json:"reference"`
}

// CreatePayment requests an M-Pesa charge. The returned reference is the
// provider's when it supplies one, otherwise the request reference.
func (c *Client) CreatePayment(ctx context.Context, req checkout.PaymentRequest) (*checkout.Payment, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, apperr.Upstream(err, "failed to authenticate with payment provider")
	}

	var raw map[string]any
	err = c.http.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    c.paymentURL,
		Header: http.Header{"Authorization": []string{token}},
		Body: paymentRequest{
			ClientID:  c.clientID,
			Amount:    json.Number(req.Amount.String()),
			Phone:     req.Phone,
			Reference: req.Reference,
		},
	}, &raw)
	if err != nil {
		if upstream.StatusCode(err) == http.StatusUnauthorized {
			// Token revoked early; the next payment fetches a fresh one.
			c.tokens.Invalidate()
		}
		return nil, apperr.Upstream(err, "failed to initiate payment")
	}

	p := &checkout.Payment{Reference: req.Reference, Raw: raw}
	if ref, ok := raw["reference"].(string); ok && ref != "" {
		p.Reference = ref
	}
	c.lg.Info("Payment initiated",
		zap.String("reference", p.Reference),
		zap.String("phone", validation.MaskPhone(req.Phone)),
		zap.Stringer("amount", req.Amount),
	)
	return p, nil
}
