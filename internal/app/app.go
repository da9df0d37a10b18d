package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orderflow/internal/analytics"
	"github.com/xenking/oolio-orderflow/internal/domain/auth"
	"github.com/xenking/oolio-orderflow/internal/domain/coupon"
	"github.com/xenking/oolio-orderflow/internal/domain/order"
	"github.com/xenking/oolio-orderflow/internal/export"
	"github.com/xenking/oolio-orderflow/internal/handler"
	"github.com/xenking/oolio-orderflow/internal/traffic/ga4"
	"github.com/xenking/oolio-orderflow/pkg/health"
	"github.com/xenking/oolio-orderflow/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	analyticsCfg, err := cfg.Analytics.Build()
	if err != nil {
		return errors.Wrap(err, "analytics config")
	}
	policy, err := auth.ParsePolicy(cfg.Auth.Roles)
	if err != nil {
		return errors.Wrap(err, "auth roles")
	}

	store, err := openBackend(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.close()
	lg.Info("Storage ready", zap.String("backend", store.name))

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadiness(health.Check{Name: store.name, Timeout: 5 * time.Second, Func: health.PingCheck(store.pinger)})
	healthSvc.AddLiveness(health.Check{Name: "goroutines", Func: health.GoroutineCountCheck(10000)})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	orderService := order.NewService(store.products, coupon.NewRepoValidator(store.coupons), store.orders,
		order.WithMeterProvider(m.MeterProvider()),
	)
	aggOpts := []analytics.Option{
		analytics.WithTracerProvider(m.TracerProvider()),
		analytics.WithMeterProvider(m.MeterProvider()),
	}
	traffic, err := ga4.NewClient(ctx, cfg.GA4, analyticsCfg.Location)
	if err != nil {
		return errors.Wrap(err, "create ga4 client")
	}
	if traffic != nil {
		aggOpts = append(aggOpts, analytics.WithTrafficSource(traffic))
	}
	aggregator := analytics.NewAggregator(store.snapshots, analyticsCfg, aggOpts...)

	if cfg.Auth.Disabled {
		lg.Warn("Authentication disabled, every caller is admin")
	}
	h := handler.New(
		handler.Config{
			APIKeyHeader:    cfg.Auth.Header,
			AuthDisabled:    cfg.Auth.Disabled,
			ConflictRetries: cfg.Auth.ConflictRetries,
			Location:        analyticsCfg.Location,
		},
		orderService,
		aggregator,
		export.New(),
		auth.NewAuthenticator(store.apikeys, []byte(cfg.Auth.Pepper)),
		policy,
	)

	// Router: health endpoints + API routes on one server.
	r := chi.NewRouter()
	// Inside the router so that access logs carry the matched route.
	r.Use(httpmiddleware.LogRequests())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", cfg.Auth.Header, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{"Content-Disposition", httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithEviction(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.CallerKey(cfg.Auth.Header),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("orderflow-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

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
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
