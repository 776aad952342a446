package checkout

import (
	"context"
	"strings"
	"time"
	_ "time/tzdata" // metadata timestamps need Africa/Maputo on minimal images
	"unicode"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/internal/apperr"
	"github.com/xenking/checkout-gateway/internal/validation"
	"github.com/xenking/checkout-gateway/internal/webhook"
)

// PaymentInitiatedMessage is shown to the shopper after a successful checkout.
const PaymentInitiatedMessage = "Payment initiated. Await SMS confirmation."

// DefaultTimezone is used for metadata timestamps.
const DefaultTimezone = "Africa/Maputo"

const instrumentationName = "github.com/xenking/checkout-gateway/internal/domain/checkout"

// SignatureVerifier authenticates raw notification bodies.
type SignatureVerifier interface {
	ValidateSignature(raw []byte, signature string) error
}

// Service runs the checkout and reconciliation workflows.
type Service struct {
	backend  OrderBackend
	payments PaymentProvider
	verifier SignatureVerifier

	lg  *zap.Logger
	now func() time.Time
	loc *time.Location

	tracer          trace.Tracer
	meter           metric.MeterProvider
	ordersCreated   metric.Int64Counter
	paymentFailures metric.Int64Counter
	webhooks        metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Service) { s.lg = lg }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone of metadata timestamps.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithTracerProvider enables tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider enables metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp }
}

// NewService creates a Service. All three collaborators are required.
func NewService(backend OrderBackend, payments PaymentProvider, verifier SignatureVerifier, opts ...Option) (*Service, error) {
	s := &Service{
		backend:  backend,
		payments: payments,
		verifier: verifier,
		lg:       zap.NewNop(),
		now:      time.Now,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		loc, err := time.LoadLocation(DefaultTimezone)
		if err != nil {
			return nil, errors.Wrap(err, "load default timezone")
		}
		s.loc = loc
	}
	if s.meter == nil {
		s.meter = metricnoop.NewMeterProvider()
	}

	m := s.meter.Meter(instrumentationName)
	var err error
	if s.ordersCreated, err = m.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders created in the order backend"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if s.paymentFailures, err = m.Int64Counter("checkout.payments.failed",
		metric.WithDescription("Payment initiations that failed and marked the order failed"),
	); err != nil {
		return nil, errors.Wrap(err, "payment failures counter")
	}
	if s.webhooks, err = m.Int64Counter("checkout.webhooks",
		metric.WithDescription("Payment notifications by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "webhooks counter")
	}
	return s, nil
}

// GetProduct fetches a product for display.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.GetProduct",
		trace.WithAttributes(attribute.Int64("product.id", id)),
	)
	defer span.End()

	p, err := s.backend.GetProduct(ctx, id)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return p, nil
}

// orderInput is a validated createOrder payload.
type orderInput struct {
	productID     int64
	quantity      int
	name          string
	email         string
	phone         string
	paymentMethod string
}

func parseOrderInput(raw []byte) (*orderInput, error) {
	fields, err := validation.Payload(raw)
	if err != nil {
		return nil, err
	}
	if err := validation.Required(fields); err != nil {
		return nil, err
	}

	var in orderInput
	if in.productID, err = validation.ProductID(fields[validation.FieldProductID]); err != nil {
		return nil, err
	}
	if in.quantity, err = validation.Quantity(fields.Get(validation.FieldQuantity, "1")); err != nil {
		return nil, err
	}
	if in.email, err = validation.Email(fields[validation.FieldEmail]); err != nil {
		return nil, err
	}
	if in.phone, err = validation.Phone(fields[validation.FieldPhone]); err != nil {
		return nil, err
	}
	in.name = validation.Name(fields[validation.FieldName])
	in.paymentMethod = strings.TrimSpace(fields[validation.FieldPaymentMethod])
	return &in, nil
}

// CreateOrder validates the raw payload, creates a pending order for a single
// product and initiates the mobile-money charge for it. Once an order exists,
// a failed charge leaves it marked failed.
func (s *Service) CreateOrder(ctx context.Context, raw []byte) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.CreateOrder")
	defer span.End()

	in, err := parseOrderInput(raw)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("product.id", in.productID),
		attribute.Int("quantity", in.quantity),
		attribute.String("payment.method", in.paymentMethod),
	)

	product, err := s.backend.GetProduct(ctx, in.productID)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	price, err := validation.Price(product.Price.String())
	if err != nil {
		s.lg.Warn("Product has no usable price",
			zap.Int64("product_id", product.ID),
			zap.Stringer("price", product.Price),
		)
		recordError(span, err)
		return nil, err
	}

	order, err := s.backend.CreateOrder(ctx, NewOrder{
		PaymentMethod:      in.paymentMethod,
		PaymentMethodTitle: capitalize(in.paymentMethod),
		Billing: Billing{
			FirstName: in.name,
			Email:     in.email,
			Phone:     in.phone,
		},
		Item: LineItem{
			ProductID: product.ID,
			Quantity:  in.quantity,
			Price:     price,
		},
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	s.ordersCreated.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	lg := s.lg.With(zap.Int64("order_id", order.ID))
	amount := price.Mul(decimal.NewFromInt(int64(in.quantity)))
	payment, err := s.payments.CreatePayment(ctx, PaymentRequest{
		Amount:    amount,
		Phone:     in.phone,
		Reference: webhook.FormatReference(order.ID),
	})
	if err != nil {
		lg.Error("Payment initiation failed",
			zap.String("phone", validation.MaskPhone(in.phone)),
			zap.Stringer("amount", amount),
			zap.Error(err),
		)
		s.paymentFailures.Add(ctx, 1)
		s.markFailed(ctx, lg, order.ID)
		recordError(span, err)
		return nil, err
	}

	meta := []MetaEntry{
		{Key: MetaPaymentReference, Value: payment.Reference},
		{Key: MetaPaymentStatus, Value: string(StatusPending)},
		{Key: MetaPaymentCreatedAt, Value: s.now().In(s.loc).Format(MetaTimeLayout)},
	}
	if err := s.backend.UpdateOrderMeta(ctx, order.ID, meta); err != nil {
		lg.Warn("Failed to attach payment metadata", zap.Error(err))
	}

	lg.Info("Checkout completed",
		zap.String("reference", payment.Reference),
		zap.Stringer("amount", amount),
	)
	return &Receipt{OrderID: order.ID, OrderKey: order.Key}, nil
}

// markFailed is the compensating step after a failed charge. It runs even if
// the inbound request was cancelled.
func (s *Service) markFailed(ctx context.Context, lg *zap.Logger, orderID int64) {
	ctx = context.WithoutCancel(ctx)
	if err := s.backend.UpdateOrderStatus(ctx, orderID, StatusFailed); err != nil {
		lg.Error("Failed to mark order failed", zap.Error(err))
	}
}

// HandleWebhook authenticates a payment notification and applies the
// reported status to the referenced order. Notifications that cannot be
// matched to an order or carry an unknown status are acknowledged without
// changes.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte, signature string) (*WebhookResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.HandleWebhook")
	defer span.End()

	if err := s.verifier.ValidateSignature(raw, signature); err != nil {
		s.lg.Warn("Webhook signature rejected")
		s.countWebhook(ctx, "unauthorized")
		recordError(span, err)
		return nil, err
	}

	ev, err := webhook.Parse(raw)
	if err != nil {
		s.countWebhook(ctx, "malformed")
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment.reference", ev.Reference),
		attribute.String("payment.status", ev.Status),
	)
	lg := s.lg.With(zap.String("reference", ev.Reference), zap.String("provider_status", ev.Status))

	orderID, err := webhook.ResolveOrderID(ev.Reference)
	if err != nil {
		lg.Warn("Webhook reference does not match an order")
		s.countWebhook(ctx, "unresolved")
		return &WebhookResult{Reference: ev.Reference}, nil
	}
	mapped, err := webhook.MapStatus(ev.Status)
	if err != nil {
		lg.Warn("Webhook carries unknown payment status", zap.Int64("order_id", orderID))
		s.countWebhook(ctx, "unknown_status")
		return &WebhookResult{OrderID: orderID, Reference: ev.Reference}, nil
	}
	status := OrderStatus(mapped)
	lg = lg.With(zap.Int64("order_id", orderID))

	if err := s.backend.UpdateOrderStatus(ctx, orderID, status); err != nil {
		lg.Error("Failed to apply webhook status", zap.Error(err))
		s.countWebhook(ctx, "backend_error")
		recordError(span, err)
		return nil, err
	}

	meta := []MetaEntry{
		{Key: MetaPaymentStatus, Value: string(status)},
		{Key: MetaPaymentUpdatedAt, Value: s.now().In(s.loc).Format(MetaTimeLayout)},
	}
	if err := s.backend.UpdateOrderMeta(ctx, orderID, meta); err != nil {
		lg.Warn("Failed to record webhook metadata", zap.Error(err))
	}

	lg.Info("Webhook applied", zap.String("status", string(status)))
	s.countWebhook(ctx, "applied")
	return &WebhookResult{
		Applied:   true,
		OrderID:   orderID,
		Status:    status,
		Reference: ev.Reference,
	}, nil
}

func (s *Service) countWebhook(ctx context.Context, outcome string) {
	s.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.KindOf(err).String())
}

// capitalize upper-cases the first letter, "mpesa" becomes "Mpesa".
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
