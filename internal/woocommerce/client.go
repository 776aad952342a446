// Package woocommerce is the order-backend client for the WooCommerce REST
// API (v3). It authenticates with the consumer key/secret pair and maps
// resources onto the checkout domain types.
package woocommerce

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/internal/apperr"
	"github.com/xenking/checkout-gateway/internal/domain/checkout"
	"github.com/xenking/checkout-gateway/internal/upstream"
)

// Config holds the WooCommerce API location and credentials.
type Config struct {
	// APIURL is the REST base, e.g. https://shop.example/wp-json/wc/v3.
	APIURL         string
	ConsumerKey    string
	ConsumerSecret string
}

// Client implements checkout.OrderBackend.
type Client struct {
	base   string
	key    string
	secret string
	http   *upstream.Client
	lg     *zap.Logger
}

var _ checkout.OrderBackend = (*Client)(nil)

// New creates a Client over the given HTTP client.
func New(cfg Config, httpClient *http.Client, lg *zap.Logger) *Client {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(cfg.APIURL, "/"),
		key:    cfg.ConsumerKey,
		secret: cfg.ConsumerSecret,
		http:   upstream.NewClient("woocommerce", httpClient, lg),
		lg:     lg,
	}
}

type productResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Price        string `json:"price"`
	RegularPrice string `json:"regular_price"`
	Description  string `json:"description"`
	Images       []struct {
		Src string `json:"src"`
	} `json:"images"`
}

// GetProduct fetches a product by id.
func (c *Client) GetProduct(ctx context.Context, id int64) (*checkout.Product, error) {
	var resp productResponse
	if err := c.do(ctx, http.MethodGet, "/products/"+strconv.FormatInt(id, 10), nil, &resp); err != nil {
		if upstream.StatusCode(err) == http.StatusNotFound {
			return nil, apperr.Wrap(err, apperr.NotFound, "product not found")
		}
		return nil, apperr.Upstream(err, "failed to fetch product")
	}
	if resp.ID == 0 {
		return nil, apperr.New(apperr.NotFound, "product not found")
	}

	price := parsePrice(resp.Price)
	regular := parsePrice(resp.RegularPrice)
	if regular.IsZero() {
		regular = price
	}

	p := &checkout.Product{
		ID:           resp.ID,
		Name:         resp.Name,
		Price:        price,
		RegularPrice: regular,
		Description:  stripTags(resp.Description),
	}
	if len(resp.Images) > 0 {
		p.Image = resp.Images[0].Src
	}
	return p, nil
}

type orderRequest struct {
	PaymentMethod      string     `json:"payment_method"`
	PaymentMethodTitle string     `json:"payment_method_title"`
	SetPaid            bool       `json:"set_paid"`
	Status             string     `json:"status"`
	CustomerID         int64      `json:"customer_id"`
	Billing            billing    `json:"billing"`
	LineItems          []lineItem `json:"line_items"`
}

type billing struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type lineItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type metaDataRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type orderResponse struct {
	ID       int64  `json:"id"`
	OrderKey string `json:"order_key"`
	Status   string `json:"status"`
}

// CreateOrder creates a pending, unpaid guest order with a single line item.
func (c *Client) CreateOrder(ctx context.Context, o checkout.NewOrder) (*checkout.Order, error) {
	req := orderRequest{
		PaymentMethod:      o.PaymentMethod,
		PaymentMethodTitle: o.PaymentMethodTitle,
		SetPaid:            false,
		Status:             string(checkout.StatusPending),
		CustomerID:         0,
		Billing: billing{
			FirstName: o.Billing.FirstName,
			Email:     o.Billing.Email,
			Phone:     o.Billing.Phone,
		},
		LineItems: []lineItem{{
			ProductID: o.Item.ProductID,
			Quantity:  o.Item.Quantity,
			Price:     o.Item.Price.String(),
		}},
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		return nil, apperr.Upstream(err, "failed to create order")
	}
	if resp.ID == 0 {
		c.lg.Error("Order created without id", zap.String("endpoint", c.base+"/orders"))
		return nil, apperr.New(apperr.UpstreamFailure, "failed to create order")
	}

	status := checkout.OrderStatus(resp.Status)
	if status == "" {
		status = checkout.StatusPending
	}
	return &checkout.Order{ID: resp.ID, Key: resp.OrderKey, Status: status}, nil
}

// UpdateOrderStatus sets the order status.
func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status checkout.OrderStatus) error {
	body := struct {
		Status string `json:"status"`
	}{Status: string(status)}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPut, orderPath(id), body, &resp); err != nil {
		return apperr.Upstream(err, "failed to update order")
	}
	if resp.ID == 0 {
		return apperr.New(apperr.UpstreamFailure, "failed to update order")
	}
	return nil
}

// UpdateOrderMeta writes metadata entries onto the order in the given order.
func (c *Client) UpdateOrderMeta(ctx context.Context, id int64, meta []checkout.MetaEntry) error {
	rows := make([]metaDataRow, len(meta))
	for i, m := range meta {
		rows[i] = metaDataRow(m)
	}
	body := struct {
		MetaData []metaDataRow `json:"meta_data"`
	}{MetaData: rows}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPut, orderPath(id), body, &resp); err != nil {
		return apperr.Upstream(err, "failed to update order metadata")
	}
	if resp.ID == 0 {
		return apperr.New(apperr.UpstreamFailure, "failed to update order metadata")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.http.Do(ctx, upstream.Request{
		Method:   method,
		URL:      c.base + path,
		Body:     body,
		Username: c.key,
		Password: c.secret,
	}, out)
}

func orderPath(id int64) string {
	return "/orders/" + strconv.FormatInt(id, 10)
}

func parsePrice(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
