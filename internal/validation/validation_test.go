package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/checkout-gateway/internal/apperr"
)

func requireInvalid(t *testing.T, err error, field string) {
	t.Helper()
	require.Error(t, err)
	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apperr.InvalidInput, e.Kind)
	assert.Equal(t, field, e.Field)
	assert.Equal(t, 400, e.Kind.HTTPStatus())
}

func TestPhone(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "spaced 84", in: "84 123 4567", want: "841234567", ok: true},
		{name: "plain 85", in: "851234567", want: "851234567", ok: true},
		{name: "dashed 86", in: "86-123-4567", want: "861234567", ok: true},
		{name: "parenthesized 87", in: "(87) 1234567", want: "871234567", ok: true},
		{name: "prefix 82 rejected", in: "821234567"},
		{name: "prefix 88 rejected", in: "881234567"},
		{name: "too short", in: "84123456"},
		{name: "too long", in: "8412345678"},
		{name: "country code rejected", in: "+258 84 123 4567"},
		{name: "empty", in: ""},
		{name: "letters only", in: "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Phone(tt.in)
			if !tt.ok {
				requireInvalid(t, err, FieldPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhone_EveryPrefix(t *testing.T) {
	for first := '0'; first <= '9'; first++ {
		for second := '0'; second <= '9'; second++ {
			in := string([]rune{first, second}) + "1234567"
			_, err := Phone(in)
			if first == '8' && second >= '4' && second <= '7' {
				assert.NoError(t, err, in)
			} else {
				assert.Error(t, err, in)
			}
		}
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "******567", MaskPhone("841234567"))
	assert.Equal(t, "**", MaskPhone("84"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{in: "0"},
		{in: "101"},
		{in: "-1"},
		{in: "1.5"},
		{in: "abc"},
		{in: ""},
		{in: "1", want: 1, ok: true},
		{in: "100", want: 100, ok: true},
		{in: " 42 ", want: 42, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Quantity(tt.in)
			if !tt.ok {
				requireInvalid(t, err, FieldQuantity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProductID(t *testing.T) {
	id, err := ProductID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, in := range []string{"0", "-3", "x", "", "4.2"} {
		_, err := ProductID(in)
		requireInvalid(t, err, FieldProductID)
	}
}

func TestPrice(t *testing.T) {
	p, err := Price("100.00")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(p))

	p, err = Price("1e2")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(p))

	for _, in := range []string{"0", "-1", "", "free"} {
		_, err := Price(in)
		requireInvalid(t, err, FieldPrice)
	}
}

func TestEmail(t *testing.T) {
	got, err := Email("  jane.doe@example.co.mz ")
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@example.co.mz", got)

	got, err = Email("jane doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "janedoe@example.com", got)

	for _, in := range []string{"", "jane", "jane@", "@example.com", "jane@example", "a@b@c.com", "jane@.com"} {
		_, err := Email(in)
		requireInvalid(t, err, FieldEmail)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "Jane", Name("  Jane "))
	assert.Equal(t, "&lt;b&gt;Tom &amp; Jerry&lt;/b&gt;", Name("<b>Tom & Jerry</b>"))
	assert.Equal(t, "O&#039;Neil &quot;Jr&quot;", Name(`O'Neil "Jr"`))
}

func TestPayload(t *testing.T) {
	f, err := Payload([]byte(`{"product_id": 12, "name": "Jane", "quantity": "2", "gift": true, "note": null, "extra": {"a": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, "12", f["product_id"])
	assert.Equal(t, "Jane", f["name"])
	assert.Equal(t, "2", f["quantity"])
	assert.Equal(t, "1", f["gift"])
	assert.Equal(t, "", f["note"])
	assert.JSONEq(t, `{"a": 1}`, f["extra"])
	assert.Equal(t, "1", f.Get("missing", "1"))
}

func TestPayload_Malformed(t *testing.T) {
	for _, in := range []string{``, `{`, `{}`, `[]`, `[1,2]`, `"text"`, `42`, `null`, `{"a":1} trailing`} {
		t.Run(in, func(t *testing.T) {
			_, err := Payload([]byte(in))
			require.Error(t, err)
			assert.Equal(t, apperr.MalformedPayload, apperr.KindOf(err))
		})
	}
}

func TestRequired(t *testing.T) {
	full := Fields{
		FieldProductID:     "1",
		FieldName:          "Jane",
		FieldEmail:         "jane@example.com",
		FieldPhone:         "841234567",
		FieldPaymentMethod: "mpesa",
	}
	require.NoError(t, Required(full))

	for _, field := range RequiredOrderFields {
		t.Run(field, func(t *testing.T) {
			f := Fields{}
			for k, v := range full {
				f[k] = v
			}
			f[field] = "   "
			err := Required(f)
			requireInvalid(t, err, field)
			assert.Contains(t, err.Error(), field)
		})
	}

	err := Required(Fields{FieldName: "Jane"})
	requireInvalid(t, err, FieldProductID)
}
