package webhook

import (
	"strconv"
	"strings"

	"github.com/xenking/checkout-gateway/internal/apperr"
)

// Order statuses a notification can move an order to.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

var statuses = map[string]string{
	"success":    StatusCompleted,
	"successful": StatusCompleted,
	"completed":  StatusCompleted,
	"complete":   StatusCompleted,
	"paid":       StatusCompleted,

	"failed":    StatusFailed,
	"failure":   StatusFailed,
	"cancelled": StatusFailed,
	"canceled":  StatusFailed,
	"rejected":  StatusFailed,
	"expired":   StatusFailed,
	"declined":  StatusFailed,

	"pending":    StatusPending,
	"processing": StatusPending,
}

// MapStatus translates a provider payment status into an order status.
// Matching is case-insensitive.
func MapStatus(status string) (string, error) {
	s, ok := statuses[strings.ToLower(strings.TrimSpace(status))]
	if !ok {
		return "", apperr.New(apperr.UnresolvedReference, "unknown payment status")
	}
	return s, nil
}

const referencePrefix = "ORDER_"

// FormatReference returns the payment reference for an order id.
func FormatReference(orderID int64) string {
	return referencePrefix + strconv.FormatInt(orderID, 10)
}

// ResolveOrderID maps an ORDER_<id> reference back to the order id.
func ResolveOrderID(reference string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(reference), referencePrefix)
	if !ok || rest == "" || strings.TrimLeft(rest, "0123456789") != "" {
		return 0, apperr.New(apperr.UnresolvedReference, "unresolvable payment reference")
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.UnresolvedReference, "unresolvable payment reference")
	}
	return id, nil
}
