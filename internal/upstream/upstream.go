// Package upstream implements the transport shared by the order-backend and
// payment-provider clients: hard timeouts, mandatory TLS verification,
// JSON request/response handling and uniform failure reporting.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Default limits for every external call.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Config configures the HTTP client.
type Config struct {
	// Timeout bounds a whole call including reading the body.
	Timeout time.Duration
	// ConnectTimeout bounds TCP connect and the TLS handshake.
	ConnectTimeout time.Duration
	// RootCAs overrides the system trust store. Tests use it to trust an
	// httptest TLS server; verification is never disabled.
	RootCAs *x509.CertPool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewHTTPClient builds an *http.Client with the gateway's transport rules.
func NewHTTPClient(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    cfg.RootCAs,
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(base, opts...),
	}
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Endpoint, e.StatusCode)
}

// Request describes a single JSON call.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     any
	Username string
	Password string
}

// Client performs JSON calls against one upstream system and logs every
// failure with the endpoint and status code.
type Client struct {
	name string
	http *http.Client
	lg   *zap.Logger
}

// NewClient creates a Client. name labels log lines, e.g. "woocommerce".
func NewClient(name string, httpClient *http.Client, lg *zap.Logger) *Client {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{
		name: name,
		http: httpClient,
		lg:   lg.With(zap.String("upstream", name)),
	}
}

// Do sends req and decodes a 2xx JSON response into out (when non-nil).
// Transport errors are wrapped; non-2xx responses return *StatusError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Username != "" || req.Password != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	endpoint := redactQuery(httpReq)
	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.lg.Error("Upstream request failed",
			zap.String("method", req.Method),
			zap.String("endpoint", endpoint),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return errors.Wrapf(err, "%s %s", req.Method, endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.lg.Error("Upstream response read failed",
			zap.String("method", req.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.Error(err),
		)
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.lg.Error("Upstream returned error status",
			zap.String("method", req.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", time.Since(start)),
			zap.ByteString("body", truncate(data, 512)),
		)
		return &StatusError{
			Method:     req.Method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(truncate(data, 512)),
		}
	}

	c.lg.Debug("Upstream request completed",
		zap.String("method", req.Method),
		zap.String("endpoint", endpoint),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.lg.Error("Upstream returned invalid JSON",
			zap.String("method", req.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status_code", resp.StatusCode),
			zap.Error(err),
		)
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// redactQuery returns the request URL without its query string, which may
// carry credentials.
func redactQuery(r *http.Request) string {
	u := *r.URL
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
