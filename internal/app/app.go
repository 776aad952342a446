package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/checkout-gateway/internal/domain/checkout"
	"github.com/xenking/checkout-gateway/internal/e2payments"
	"github.com/xenking/checkout-gateway/internal/handler"
	"github.com/xenking/checkout-gateway/internal/upstream"
	"github.com/xenking/checkout-gateway/internal/webhook"
	"github.com/xenking/checkout-gateway/internal/woocommerce"
	"github.com/xenking/checkout-gateway/pkg/health"
	"github.com/xenking/checkout-gateway/pkg/httpmiddleware"
	"github.com/xenking/checkout-gateway/pkg/ratelimit"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Bool("debug", cfg.Debug),
		zap.String("timezone", cfg.Timezone),
	)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Rate limit store: Redis when configured so that replicas share one
	// budget per client, otherwise process memory.
	limits := ratelimit.Config{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}
	var store ratelimit.Store
	if cfg.RateLimit.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return errors.Wrap(err, "ping redis")
		}
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		store = ratelimit.NewRedis(rdb, cfg.RateLimit.Redis.Prefix, limits)
		lg.Info("Using Redis rate limit store", zap.String("redis_addr", cfg.RateLimit.Redis.Addr))
	} else {
		mem := ratelimit.NewMemory(limits)
		mem.StartSweeper(ctx)
		store = mem
	}

	h, httpClient, err := newHandler(zctx.From(ctx), m.TracerProvider(), m.MeterProvider(), cfg, store, healthSvc)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       10 * time.Second,
		// Checkout makes up to four sequential upstream calls.
		WriteTimeout:   2*cfg.Upstream.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        h,
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		httpClient.CloseIdleConnections()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler builds the outbound clients and the checkout workflow and
// returns the complete HTTP handler, middleware included. The returned
// client owns the upstream connection pool.
func newHandler(
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	cfg *Config,
	store ratelimit.Store,
	healthSvc *health.Health,
) (http.Handler, *http.Client, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load timezone")
	}

	// Outbound clients share one transport.
	httpClient := upstream.NewHTTPClient(upstream.Config{
		Timeout:        cfg.Upstream.Timeout,
		ConnectTimeout: cfg.Upstream.ConnectTimeout,
		TracerProvider: tp,
		MeterProvider:  mp,
	})
	backend := woocommerce.New(woocommerce.Config{
		APIURL:         cfg.WooCommerce.APIURL,
		ConsumerKey:    cfg.WooCommerce.ConsumerKey,
		ConsumerSecret: cfg.WooCommerce.ConsumerSecret,
	}, httpClient, lg.Named("woocommerce"))
	payments := e2payments.New(e2payments.Config{
		APIURL:       cfg.E2Payments.APIURL,
		AuthURL:      cfg.E2Payments.AuthURL,
		ClientID:     cfg.E2Payments.ClientID,
		ClientSecret: cfg.E2Payments.ClientSecret,
		WalletID:     cfg.E2Payments.WalletID,
	}, httpClient, lg.Named("e2payments"))

	svc, err := checkout.NewService(backend, payments, webhook.NewVerifier(cfg.E2Payments.WebhookSecret),
		checkout.WithLogger(lg.Named("checkout")),
		checkout.WithLocation(loc),
		checkout.WithTracerProvider(tp),
		checkout.WithMeterProvider(mp),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create checkout service")
	}

	trusted, err := httpmiddleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse trusted proxies")
	}

	api := handler.New(handler.Config{
		Debug:           cfg.Debug,
		SignatureHeader: cfg.E2Payments.SignatureHeader,
	}, svc)

	r := chi.NewRouter()
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Store:          store,
			TrustedProxies: trusted,
		}))
		r.Handle("/api", api)
		r.Handle("/api.php", api)
	})

	return httpmiddleware.Wrap(r,
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.AllowedOrigins(),
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID", cfg.E2Payments.SignatureHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.Instrument("checkout-gateway", tp, mp),
		httpmiddleware.LogRequests(),
	), httpClient, nil
}
