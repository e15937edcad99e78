package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/balkolux/storefront-api/internal/config"
	"github.com/balkolux/storefront-api/internal/health"
	"github.com/balkolux/storefront-api/internal/obs"
	"github.com/balkolux/storefront-api/internal/orders"
	"github.com/balkolux/storefront-api/internal/payment"
	"github.com/balkolux/storefront-api/internal/payment/iyzico"
	"github.com/balkolux/storefront-api/internal/ratelimit"
	"github.com/balkolux/storefront-api/internal/resilience"
	"github.com/balkolux/storefront-api/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "storefront")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	resilience.MustRegisterMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", false)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "storefront-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			Insecure:      envBool("OBS_OTLP_INSECURE", false),
			Headers:       obs.ParseHeadersCSV(envOrDefault("OBS_OTLP_HEADERS", "")),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
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

	if !cfg.PaymentConfigured() {
		logger.Warn().Msg("iyzico credentials missing; payment requests will fail until configured")
	}
	location, err := cfg.Location()
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to local timezone for buyer dates")
	}

	redisClient := initRedis(cfg, metricsEnabled, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	var recorder payment.OrderRecorder = orders.NopRecorder{}
	if cfg.RedisURL != "" {
		connOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("parse queue redis url; order hand-off disabled")
		} else {
			queueClient := asynq.NewClient(connOpt)
			defer func() {
				if err := queueClient.Close(); err != nil {
					logger.Error().Err(err).Msg("close queue client")
				}
			}()
			recorder = orders.Publisher{Client: queueClient, Queue: cfg.OrderQueue, MaxRetry: cfg.OrderHandoffRetry}
		}
	}

	gateway := &iyzico.Client{
		HTTP: &resilience.HTTPClient{
			Client:      resilience.NewTracedClient(cfg.IyzicoTimeout),
			Breaker:     resilience.NewBreaker(cfg.CircuitPaymentMinReq, cfg.CircuitPaymentFailureRate, cfg.CircuitPaymentOpenFor).WithTarget("iyzico").WithLogger(logger),
			MaxAttempts: 1,
			Timeout:     cfg.IyzicoTimeout,
		},
		BaseURL:   cfg.IyzicoBaseURL,
		APIKey:    cfg.IyzicoAPIKey,
		SecretKey: cfg.IyzicoSecretKey,
	}
	paymentSvc, err := payment.NewService(payment.ServiceConfig{
		Gateway: gateway,
		Builder: iyzico.Builder{Locale: cfg.IyzicoLocale, Location: location},
		Orders:  recorder,
		Logger:  logger.With().Str("component", "payment").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise payment service")
	}
	paymentHandler := &payment.Handler{Svc: paymentSvc, Debug: cfg.IsDevelopment()}

	var limiter ratelimit.Limiter = ratelimit.NewMemory("payment")
	if redisClient != nil {
		limiter = ratelimit.SlidingWindow{Client: redisClient, Prefix: "ratelimit:"}
	}
	paymentLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("payment"),
			Window: cfg.PaymentRateLimitWindow,
			Max:    cfg.PaymentRateLimitMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS, HSTSIncludeSubdomains: true}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{Probes: readinessProbes(cfg, redisClient)}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/payment", func(p chi.Router) {
		p.Use(security.BodyLimit{Max: cfg.BodyLimitBytes, RequireJSON: true}.Middleware)
		p.With(paymentLimit.Middleware).Post("/", paymentHandler.Create)
		p.Get("/installments", paymentHandler.Installments)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// the vendor call alone may take IYZICO_TIMEOUT
		WriteTimeout: cfg.IyzicoTimeout + 15*time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	grace := envDurationMillis("SHUTDOWN_GRACE_MS", 20000)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	logger.Info().Dur("grace", grace).Msg("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func initRedis(cfg *config.Config, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Info().Msg("redis not configured; using in-memory rate limiting and no order hand-off")
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
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error().Err(err).Msg("ping redis")
	}
	return client
}

func readinessProbes(cfg *config.Config, redisClient *redis.Client) []health.Probe {
	return []health.Probe{
		{
			Name:     "redis",
			Critical: true,
			Timeout:  envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
			Check: func(ctx context.Context) error {
				if redisClient == nil {
					return health.ErrDisabled
				}
				return redisClient.Ping(ctx).Err()
			},
		},
		{
			Name: "payment",
			Check: func(context.Context) error {
				if !cfg.PaymentConfigured() {
					return errors.New("not_configured")
				}
				return nil
			},
		},
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(fallback) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
