package app

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/checkout-gateway/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr     string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Debug    bool   `default:"false" usage:"Include failure causes in 500 responses"`
	Timezone string `default:"Africa/Maputo" usage:"Zone of order metadata timestamps"`
	// SiteURL is the storefront origin. It is added to the allowed CORS
	// origins when they are restricted.
	SiteURL string `default:"" usage:"Storefront URL" flag:"site-url"`

	WooCommerce WooCommerceConfig `env:"WOOCOMMERCE" flag:"woocommerce" yaml:"woocommerce"`
	E2Payments  E2PaymentsConfig  `env:"E2PAYMENTS" flag:"e2payments" yaml:"e2payments"`
	Upstream    UpstreamConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// WooCommerceConfig holds the order-backend location and credentials.
type WooCommerceConfig struct {
	APIURL         string `env:"API_URL" flag:"api-url" yaml:"api_url" usage:"WooCommerce REST base, e.g. https://shop/wp-json/wc/v3/"`
	ConsumerKey    string `env:"CONSUMER_KEY" flag:"consumer-key" yaml:"consumer_key" usage:"WooCommerce consumer key"`
	ConsumerSecret string `env:"CONSUMER_SECRET" flag:"consumer-secret" yaml:"consumer_secret" usage:"WooCommerce consumer secret"`
}

// E2PaymentsConfig holds the payment-provider endpoints and credentials.
type E2PaymentsConfig struct {
	APIURL          string `env:"API_URL" flag:"api-url" yaml:"api_url" usage:"e2Payments API base"`
	AuthURL         string `env:"AUTH_URL" flag:"auth-url" yaml:"auth_url" usage:"e2Payments OAuth base"`
	ClientID        string `env:"CLIENT_ID" flag:"client-id" yaml:"client_id" usage:"OAuth client id"`
	ClientSecret    string `env:"CLIENT_SECRET" flag:"client-secret" yaml:"client_secret" usage:"OAuth client secret"`
	WalletID        string `env:"WALLET_ID" flag:"wallet-id" yaml:"wallet_id" usage:"M-Pesa wallet id"`
	WebhookSecret   string `env:"WEBHOOK_SECRET" flag:"webhook-secret" yaml:"webhook_secret" usage:"Shared secret for webhook signatures"`
	SignatureHeader string `env:"SIGNATURE_HEADER" flag:"signature-header" yaml:"signature_header" default:"X-E2Payments-Signature" usage:"Webhook signature header"`
}

// UpstreamConfig bounds calls to both external systems.
type UpstreamConfig struct {
	Timeout        time.Duration `default:"30s" usage:"Total timeout of an upstream call"`
	ConnectTimeout time.Duration `default:"10s" usage:"TCP connect and TLS handshake timeout" flag:"connect-timeout"`
}

// RateLimitConfig controls the per-client fixed window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"10" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`

	// TrustedProxies are CIDRs or addresses of reverse proxies allowed to
	// report the client address in X-Forwarded-For.
	TrustedProxies []string `usage:"Reverse proxy CIDRs whose X-Forwarded-For is trusted" flag:"trusted-proxies"`
	Redis          RedisConfig
}

// RedisConfig enables the shared rate limit store when Addr is set.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address; in-memory limiter when empty"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database"`
	Prefix   string `default:"checkout:ratelimit:" usage:"Key prefix for rate limit counters"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and flags, then applies the legacy deployment variables and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyLegacyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyLegacyEnv fills unset values from the unprefixed variable names of
// the original deployment (WOOCOMMERCE_API_URL, DEBUG, ...) and the
// platform-provided PORT.
func (c *Config) applyLegacyEnv(getenv func(string) string) {
	fallback := func(dst *string, name string) {
		if *dst == "" {
			*dst = getenv(name)
		}
	}
	fallback(&c.WooCommerce.APIURL, "WOOCOMMERCE_API_URL")
	fallback(&c.WooCommerce.ConsumerKey, "WOOCOMMERCE_CONSUMER_KEY")
	fallback(&c.WooCommerce.ConsumerSecret, "WOOCOMMERCE_CONSUMER_SECRET")
	fallback(&c.E2Payments.APIURL, "E2PAYMENTS_API_URL")
	fallback(&c.E2Payments.AuthURL, "E2PAYMENTS_AUTH_URL")
	fallback(&c.E2Payments.ClientID, "E2PAYMENTS_CLIENT_ID")
	fallback(&c.E2Payments.ClientSecret, "E2PAYMENTS_CLIENT_SECRET")
	fallback(&c.E2Payments.WalletID, "E2PAYMENTS_WALLET_ID")
	fallback(&c.E2Payments.WebhookSecret, "E2PAYMENTS_WEBHOOK_SECRET")
	fallback(&c.SiteURL, "SITE_URL")

	if !c.Debug {
		if v, err := strconv.ParseBool(getenv("DEBUG")); err == nil {
			c.Debug = v
		}
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate reports every missing credential at once and rejects unusable
// values.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"WOOCOMMERCE_API_URL", c.WooCommerce.APIURL},
		{"WOOCOMMERCE_CONSUMER_KEY", c.WooCommerce.ConsumerKey},
		{"WOOCOMMERCE_CONSUMER_SECRET", c.WooCommerce.ConsumerSecret},
		{"E2PAYMENTS_API_URL", c.E2Payments.APIURL},
		{"E2PAYMENTS_AUTH_URL", c.E2Payments.AuthURL},
		{"E2PAYMENTS_CLIENT_ID", c.E2Payments.ClientID},
		{"E2PAYMENTS_CLIENT_SECRET", c.E2Payments.ClientSecret},
		{"E2PAYMENTS_WALLET_ID", c.E2Payments.WalletID},
		{"E2PAYMENTS_WEBHOOK_SECRET", c.E2Payments.WebhookSecret},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	for _, u := range []struct{ name, value string }{
		{"woocommerce api url", c.WooCommerce.APIURL},
		{"e2payments api url", c.E2Payments.APIURL},
		{"e2payments auth url", c.E2Payments.AuthURL},
	} {
		// Credentials travel in every upstream call, so TLS is mandatory.
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
			return errors.Errorf("%s must be an https URL", u.name)
		}
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "invalid timezone %q", c.Timezone)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if _, err := httpmiddleware.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		return errors.Wrap(err, "rate limit")
	}
	return nil
}

// AllowedOrigins returns the CORS origins, including SiteURL when origins
// are restricted.
func (c *Config) AllowedOrigins() []string {
	origins := c.CORS.Origins
	if c.SiteURL == "" {
		return origins
	}
	for _, o := range origins {
		if o == "*" || o == strings.TrimRight(c.SiteURL, "/") {
			return origins
		}
	}
	return append(append([]string(nil), origins...), strings.TrimRight(c.SiteURL, "/"))
}
