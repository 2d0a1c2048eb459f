package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-invoice/internal/auth"
	"github.com/noah-isme/backend-invoice/internal/common"
	"github.com/noah-isme/backend-invoice/internal/config"
	"github.com/noah-isme/backend-invoice/internal/feetype"
	"github.com/noah-isme/backend-invoice/internal/health"
	"github.com/noah-isme/backend-invoice/internal/invoice"
	"github.com/noah-isme/backend-invoice/internal/lock"
	"github.com/noah-isme/backend-invoice/internal/obs"
	"github.com/noah-isme/backend-invoice/internal/ratelimit"
	"github.com/noah-isme/backend-invoice/internal/resilience"
	"github.com/noah-isme/backend-invoice/internal/security"
	"github.com/noah-isme/backend-invoice/internal/upstream"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "invoice-api",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	var domainMetrics *obs.DomainMetrics
	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnableProm {
		domainMetrics = obs.NewDomainMetrics(cfg.Obs.MetricsNS, nil)
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNS, nil, nil)
		resilience.RegisterMetrics(nil)
	}

	redisClient := mustInitRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	breaker := resilience.NewBreaker(10, 0.5, 30*time.Second).
		WithTarget("invoicing").
		WithLogger(logger)

	backend := &upstream.Client{
		BaseURL: cfg.UpstreamBaseURL,
		HTTP: resilience.HTTPClient{
			Client:      upstream.NewHTTPClient(cfg.UpstreamTimeout),
			Breaker:     breaker,
			BaseBackoff: cfg.UpstreamBackoff,
			MaxAttempts: cfg.UpstreamMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.UpstreamTimeout,
		},
		Metrics: domainMetrics,
	}

	feeTypeService, err := feetype.NewService(feetype.ServiceConfig{
		Source:  backend,
		Cache:   feetype.NewCache(redisClient, cfg.FeeTypeCacheTTL),
		Lock:    &lock.Locker{R: redisClient, MaxWait: 2 * time.Second},
		Metrics: domainMetrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise fee type service")
	}
	feeTypeHandler := feetype.NewHandler(feetype.HandlerConfig{Service: feeTypeService})

	invoiceService, err := invoice.NewService(invoice.ServiceConfig{
		Submitter: backend,
		Catalog:   feeTypeService,
		Metrics:   domainMetrics,
		Currency:  cfg.CurrencyCode,
		Precision: cfg.CurrencyPrecision,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise invoice service")
	}
	invoiceHandler := invoice.NewHandler(invoice.HandlerConfig{Service: invoiceService})

	verifier, err := auth.NewVerifier(auth.Config{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	submitLimiter, err := ratelimit.New(cfg.SubmitRateLimit, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise submit rate limiter")
	}
	limit := ratelimit.Handler{
		Limiter: submitLimiter,
		Key:     ratelimit.KeyByUser,
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter store unavailable")
		},
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	healthHandler := health.Handler{
		Checker:         health.Deps{Upstream: backend, Redis: redisClient},
		Breaker:         breaker,
		UpstreamTimeout: time.Second,
		RedisTimeout:    300 * time.Millisecond,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{Enable: true, EnableHSTS: cfg.IsProduction(), HSTSMaxAge: 31536000}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	if cfg.Obs.EnableProm {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.RequireAuth)
		v.Get("/fee-types", feeTypeHandler.List)
		v.Get("/fee-types/{id}", feeTypeHandler.Get)
		v.Post("/invoices/preview", invoiceHandler.Preview)
		v.With(limit.Middleware, idem.Middleware).Post("/invoices", invoiceHandler.Submit)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("upstream", cfg.UpstreamBaseURL).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

// mustInitRedis connects to Redis when REDIS_URL is set. Without it the
// service runs with in-memory rate limits, no idempotency locks and an
// uncached fee type catalog.
func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, running without redis")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnableProm {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
