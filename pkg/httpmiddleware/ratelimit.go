package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/pkg/ratelimit"
)

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	// Store counts requests. Required.
	Store ratelimit.Store
	// KeyFunc extracts the rate limit key from a request.
	// If nil, ForwardedClientIP(TrustedProxies) is used.
	KeyFunc func(*http.Request) string
	// TrustedProxies lists the networks of reverse proxies whose
	// X-Forwarded-For entries are believed. Empty means only the connection
	// peer address counts.
	TrustedProxies []netip.Prefix
}

// RateLimit returns a middleware that rejects clients exceeding the store's
// budget with 429 and the gateway error envelope. Every response includes
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset headers.
//
// When the store itself fails (e.g. Redis is unreachable) the request is let
// through and the failure is logged.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ForwardedClientIP(cfg.TrustedProxies)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			d, err := cfg.Store.Allow(r.Context(), key)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit store failed, allowing request",
					zap.String("key", key),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(time.Until(d.ResetAt), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "too many requests, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host of the connection peer address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedClientIP returns a key function that starts from the peer address
// and, only while the current hop is a trusted proxy, walks X-Forwarded-For
// from right to left. The first untrusted hop is the client. Headers sent by
// untrusted peers are ignored.
func ForwardedClientIP(trusted []netip.Prefix) func(*http.Request) string {
	return func(r *http.Request) string {
		client := ClientIP(r)
		if len(trusted) == 0 || !isTrusted(client, trusted) {
			return client
		}
		hops := r.Header.Values("X-Forwarded-For")
		for i := len(hops) - 1; i >= 0; i-- {
			parts := strings.Split(hops[i], ",")
			for j := len(parts) - 1; j >= 0; j-- {
				hop := strings.TrimSpace(parts[j])
				if _, err := netip.ParseAddr(hop); err != nil {
					// Garbage from the client side of the chain.
					return client
				}
				client = hop
				if !isTrusted(hop, trusted) {
					return client
				}
			}
		}
		return client
	}
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses CIDR prefixes or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, errors.Wrapf(err, "trusted proxy %q", v)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, errors.Wrapf(err, "trusted proxy %q", v)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
