// Package validation checks and normalizes untrusted checkout input.
//
// Every function is pure: it takes a single raw value and returns either the
// normalized value or an *apperr.Error of kind InvalidInput naming the field.
package validation

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-gateway/internal/apperr"
)

// Field names as they appear in the createOrder payload.
const (
	FieldProductID     = "product_id"
	FieldQuantity      = "quantity"
	FieldName          = "name"
	FieldEmail         = "email"
	FieldPhone         = "phone"
	FieldPaymentMethod = "payment_method"
	FieldPrice         = "price"
)

// Quantity bounds, inclusive.
const (
	MinQuantity = 1
	MaxQuantity = 100
)

// RequiredOrderFields lists the payload fields that must be present and
// non-blank, in the order they are checked.
var RequiredOrderFields = []string{
	FieldProductID,
	FieldName,
	FieldEmail,
	FieldPhone,
	FieldPaymentMethod,
}

// mpesaPhone matches Vodacom M-Pesa numbers: 84 to 87 followed by seven digits.
var mpesaPhone = regexp.MustCompile(`^8[4-7][0-9]{7}$`)

// Email trims the address, drops characters that cannot appear in an address
// and checks the remainder is a single bare address with a dotted domain.
func Email(raw string) (string, error) {
	email := sanitizeEmail(strings.TrimSpace(raw))
	if email == "" {
		return "", apperr.Invalid(FieldEmail, "invalid email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", apperr.Invalid(FieldEmail, "invalid email")
	}
	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", apperr.Invalid(FieldEmail, "invalid email")
	}
	return email, nil
}

func sanitizeEmail(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("!#$%&'*+-=?^_`{|}~@.[]", r):
			return r
		}
		return -1
	}, s)
}

// Phone strips every non-digit and checks the result against the M-Pesa
// numbering plan. "84 123 4567" normalizes to "841234567".
func Phone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if !mpesaPhone.MatchString(digits) {
		return "", apperr.Invalid(FieldPhone, "invalid phone number")
	}
	return digits, nil
}

// MaskPhone hides all but the last three digits of a phone number for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 3 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-3) + phone[len(phone)-3:]
}

// ProductID parses a positive product identifier.
func ProductID(raw string) (int64, error) {
	id, err := parseInt(raw)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(FieldProductID, "invalid product id")
	}
	return id, nil
}

// Quantity parses a quantity in [MinQuantity, MaxQuantity].
func Quantity(raw string) (int, error) {
	q, err := parseInt(raw)
	if err != nil || q < MinQuantity || q > MaxQuantity {
		return 0, apperr.Invalid(FieldQuantity, "invalid quantity")
	}
	return int(q), nil
}

// Price parses a strictly positive price.
func Price(raw string) (decimal.Decimal, error) {
	p, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !p.IsPositive() {
		return decimal.Zero, apperr.Invalid(FieldPrice, "invalid price")
	}
	return p, nil
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

// Name trims the customer name and escapes markup-significant characters so
// the order backend can render it verbatim.
func Name(raw string) string {
	return htmlEscaper.Replace(strings.TrimSpace(raw))
}

// Required returns an InvalidInput error naming the first field of
// RequiredOrderFields that is missing or blank in f.
func Required(f Fields) error {
	for _, name := range RequiredOrderFields {
		if strings.TrimSpace(f[name]) == "" {
			return apperr.Invalid(name, "missing required field: "+name)
		}
	}
	return nil
}

func parseInt(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}
