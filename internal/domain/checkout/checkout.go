// Package checkout orchestrates a single-product checkout across the order
// backend and the mobile-money payment provider, and reconciles payment
// notifications back onto orders.
package checkout

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is a snapshot of a backend product, fetched per request.
type Product struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Image        string          `json:"image"`
	Description  string          `json:"description"`
	RegularPrice decimal.Decimal `json:"regular_price"`
}

// OrderStatus is the subset of backend order statuses this gateway sets.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFailed    OrderStatus = "failed"
	StatusCompleted OrderStatus = "completed"
)

// Billing is the customer data attached to an order.
type Billing struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// LineItem is the single product line of an order.
type LineItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// NewOrder is what the gateway asks the backend to create.
type NewOrder struct {
	PaymentMethod      string
	PaymentMethodTitle string
	Billing            Billing
	Item               LineItem
}

// Order is the backend's view of a created order.
type Order struct {
	ID     int64
	Key    string
	Status OrderStatus
}

// MetaEntry is one order metadata pair. The backend models metadata as an
// ordered list, not a map.
type MetaEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata keys written on orders.
const (
	MetaPaymentReference = "_e2payments_reference"
	MetaPaymentStatus    = "_e2payments_status"
	MetaPaymentCreatedAt = "_e2payments_created_at"
	MetaPaymentUpdatedAt = "_e2payments_updated_at"
)

// MetaTimeLayout formats metadata timestamps.
const MetaTimeLayout = "2006-01-02 15:04:05"

// PaymentRequest is a charge request tied to an order.
type PaymentRequest struct {
	Amount    decimal.Decimal
	Phone     string
	Reference string
}

// Payment is the provider's answer to a charge request.
type Payment struct {
	Reference string
	Raw       map[string]any
}

// Receipt is returned to the shopper after a successful checkout. It never
// carries the full backend order.
type Receipt struct {
	OrderID  int64  `json:"order_id"`
	OrderKey string `json:"order_key"`
}

// WebhookResult reports what a payment notification did.
type WebhookResult struct {
	// Applied is false when the notification was acknowledged without
	// touching any order.
	Applied   bool        `json:"applied"`
	OrderID   int64       `json:"order_id,omitempty"`
	Status    OrderStatus `json:"status,omitempty"`
	Reference string      `json:"reference,omitempty"`
}

// OrderBackend is the external system of record for products and orders.
type OrderBackend interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
	CreateOrder(ctx context.Context, o NewOrder) (*Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error
	UpdateOrderMeta(ctx context.Context, id int64, meta []MetaEntry) error
}

// PaymentProvider initiates mobile-money charges.
type PaymentProvider interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error)
}
