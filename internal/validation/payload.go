package validation

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/checkout-gateway/internal/apperr"
)

// Fields is a decoded top-level JSON object with scalar values rendered as
// strings. Nested objects and arrays are kept as their raw JSON text.
type Fields map[string]string

// Get returns the value of key, or def when the key is absent.
func (f Fields) Get(key, def string) string {
	if v, ok := f[key]; ok {
		return v
	}
	return def
}

// Payload decodes raw into Fields. Anything other than a non-empty JSON
// object fails with MalformedPayload.
func Payload(raw []byte) (Fields, error) {
	if !jx.Valid(raw) {
		return nil, apperr.New(apperr.MalformedPayload, "invalid JSON")
	}
	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Object {
		return nil, apperr.New(apperr.MalformedPayload, "payload must be a JSON object")
	}

	out := Fields{}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		v, err := scalar(d)
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		out[string(key)] = v
		return nil
	}); err != nil {
		return nil, apperr.Wrap(err, apperr.MalformedPayload, "invalid JSON")
	}
	if len(out) == 0 {
		return nil, apperr.New(apperr.MalformedPayload, "empty payload")
	}
	return out, nil
}

// scalar reads the next value as a string.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", err
		}
		if b {
			return "1", nil
		}
		return "", nil
	case jx.Null:
		return "", d.Null()
	default:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
