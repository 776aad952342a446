// Package webhook authenticates and decodes payment-status notifications
// sent by the payment provider.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/xenking/checkout-gateway/internal/apperr"
	"github.com/xenking/checkout-gateway/internal/validation"
)

// DefaultSignatureHeader carries the hex HMAC-SHA256 of the raw body.
const DefaultSignatureHeader = "X-E2Payments-Signature"

const signaturePrefix = "sha256="

// Verifier checks notification signatures with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex signature of raw.
func (v *Verifier) Sign(raw []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks header against the HMAC of the exact raw bytes.
// A "sha256=" prefix is accepted. It never inspects the payload itself.
func (v *Verifier) ValidateSignature(raw []byte, header string) error {
	sig := strings.TrimSpace(header)
	if len(sig) >= len(signaturePrefix) && strings.EqualFold(sig[:len(signaturePrefix)], signaturePrefix) {
		sig = sig[len(signaturePrefix):]
	}
	if sig == "" || len(v.secret) == 0 {
		return apperr.New(apperr.Unauthorized, "invalid signature")
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return apperr.New(apperr.Unauthorized, "invalid signature")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(raw)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.New(apperr.Unauthorized, "invalid signature")
	}
	return nil
}

// Event is a decoded notification.
type Event struct {
	Reference string
	Status    string
	// TransactionID is the provider's transaction id when present.
	TransactionID string
}

// Parse decodes reference and status from a non-empty JSON object in any
// field order. Unknown fields are ignored.
func Parse(raw []byte) (*Event, error) {
	fields, err := validation.Payload(raw)
	if err != nil {
		return nil, err
	}
	return &Event{
		Reference:     fields["reference"],
		Status:        fields["status"],
		TransactionID: fields.Get("transaction_id", fields["transactionId"]),
	}, nil
}
