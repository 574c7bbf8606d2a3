package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Carrie-PLH/plus/internal/access"
	"github.com/Carrie-PLH/plus/internal/billing"
	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/circuitbreaker"
	"github.com/Carrie-PLH/plus/internal/config"
	"github.com/Carrie-PLH/plus/internal/handler"
	"github.com/Carrie-PLH/plus/internal/healthcheck"
	"github.com/Carrie-PLH/plus/internal/llm"
	"github.com/Carrie-PLH/plus/internal/loadbalancer"
	"github.com/Carrie-PLH/plus/internal/middleware"
	"github.com/Carrie-PLH/plus/internal/pipeline"
	"github.com/Carrie-PLH/plus/internal/ratelimit"
	"github.com/Carrie-PLH/plus/internal/repository"
	"github.com/Carrie-PLH/plus/internal/service"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/Carrie-PLH/plus/internal/tools"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const Version = "1.0.0"

// Backends are the optional external stores. Nil fields fall back to
// in-process implementations.
type Backends struct {
	Redis    *storage.RedisClient
	Postgres *storage.Postgres
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *zap.Logger
	backends   Backends
	catalog    *catalog.Catalog
	checker    *healthcheck.Checker
	recorder   *service.UsageRecorder
	usage      *repository.UsageEventRepository
	httpServer *http.Server
	stop       chan struct{}
	pruned     chan struct{}
}

func New(ctx context.Context, cfg *config.Config, c *catalog.Catalog, backends Backends, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var docs storage.DocumentStore = storage.NewMemoryDocumentStore()
	if backends.Postgres != nil {
		docs = storage.NewGormDocumentStore(backends.Postgres)
	}

	resolver := access.NewResolver(c, access.NewDocumentSource(docs), cfg.Access.FailOpen, logger.Named("access"))
	store := ratelimit.NewStore(backends.Redis, cfg.Access.MemoryCounters, cfg.Access.MemoryTTL)
	limiter := ratelimit.NewLimiter(store, cfg.Access.LimiterFailOpen, logger.Named("ratelimit"))

	generator, breakers, err := buildGenerator(ctx, cfg.LLM, logger.Named("llm"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:   gin.New(),
		config:   cfg,
		logger:   logger,
		backends: backends,
		catalog:  c,
		stop:     make(chan struct{}),
		pruned:   make(chan struct{}),
	}

	var recorder pipeline.Recorder
	var events service.UsageEventReader
	if backends.Postgres != nil {
		s.usage = repository.NewUsageEventRepository(backends.Postgres)
		s.recorder = service.NewUsageRecorder(s.usage, service.RecorderConfig{
			BufferSize:    cfg.Usage.BufferSize,
			BatchSize:     cfg.Usage.BatchSize,
			FlushInterval: cfg.Usage.FlushInterval,
		}, logger.Named("usage"))
		recorder = s.recorder
		events = s.usage
	}

	p := pipeline.New(c, resolver, limiter, tools.Default(), generator, recorder, pipeline.Config{
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
	}, logger.Named("pipeline"))

	s.checker = healthcheck.NewChecker(&healthcheck.Config{
		Probes: s.probes(breakers),
		Logger: logger.Named("health"),
	})

	auth := service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours)

	var keys middleware.KeyValidator
	var apiKeyHandler *handler.APIKeyHandler
	if backends.Postgres != nil {
		keyService := service.NewAPIKeyService(repository.NewAPIKeyRepository(backends.Postgres), backends.Redis, c, logger.Named("apikeys"))
		keys = keyService
		apiKeyHandler = handler.NewAPIKeyHandler(keyService, resolver, logger)
	}

	var provider billing.Provider
	if cfg.Billing.SecretKey != "" {
		provider = billing.NewStripeProvider(cfg.Billing.SecretKey)
	}
	billingService := billing.NewService(provider, docs, c, billing.Config{
		SecretKey:     cfg.Billing.SecretKey,
		WebhookSecret: cfg.Billing.WebhookSecret,
		Prices:        cfg.Billing.Prices,
		SuccessURL:    cfg.Billing.SuccessURL,
		CancelURL:     cfg.Billing.CancelURL,
		ReturnURL:     cfg.Billing.ReturnURL,
	}, logger.Named("billing"))

	s.setupMiddleware(auth, keys)
	s.setupRoutes(routes{
		system:    handler.NewSystemHandler(s.checker, breakers, Version),
		access:    handler.NewAccessHandler(c, resolver, limiter, logger),
		tools:     handler.NewToolHandler(p, logger),
		billing:   handler.NewBillingHandler(billingService, logger),
		analytics: handler.NewAnalyticsHandler(service.NewAnalyticsService(c, resolver, limiter, events, logger.Named("analytics")), logger),
		apiKeys:   apiKeyHandler,
		records:   handler.NewRecordsHandler(docs, logger),
	})

	return s, nil
}

// buildGenerator wraps every configured provider in its own breaker and
// retries transient faults across the pool.
func buildGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (llm.Generator, map[string]func() circuitbreaker.Metrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy, err := loadbalancer.NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, nil, err
	}

	breakers := make(map[string]func() circuitbreaker.Metrics)
	var providers []llm.Provider
	for _, name := range cfg.Providers {
		var gen llm.Generator
		switch name {
		case llm.ProviderAnthropic:
			if cfg.AnthropicAPIKey == "" {
				logger.Warn("anthropic provider has no API key, skipping")
				continue
			}
			gen = llm.NewAnthropicClient(llm.AnthropicConfig{
				APIKey:  cfg.AnthropicAPIKey,
				BaseURL: cfg.AnthropicURL,
				Model:   cfg.AnthropicModel,
				Timeout: cfg.Timeout,
			}, logger)
		case llm.ProviderGemini:
			if cfg.GeminiAPIKey == "" {
				logger.Warn("gemini provider has no API key, skipping")
				continue
			}
			client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
			if err != nil {
				return nil, nil, err
			}
			gen = client
		default:
			return nil, nil, fmt.Errorf("unknown llm provider %q", name)
		}

		breaker := llm.NewBreaker(name, gen, circuitbreaker.Config{
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerCooldown,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logger.Warn("provider circuit changed", zap.String("provider", name), zap.Stringer("from", from), zap.Stringer("to", to))
			},
		})
		breakers[name] = breaker.Metrics
		providers = append(providers, llm.Provider{Name: name, Generator: breaker})
	}

	if len(providers) == 0 {
		logger.Warn("no generative provider configured, every tool call will use its fallback")
		return llm.GeneratorFunc(func(context.Context, string, llm.Options) (string, error) {
			return "", llm.Transient("none", errors.New("no provider configured"))
		}), breakers, nil
	}

	pool, err := llm.NewPool(strategy, logger, providers...)
	if err != nil {
		return nil, nil, err
	}
	return llm.NewRetrying(pool, llm.RetryConfig{
		Attempts: cfg.Attempts,
		Delay:    cfg.RetryDelay,
		Timeout:  cfg.Timeout,
	}, logger), breakers, nil
}

func (s *Server) probes(breakers map[string]func() circuitbreaker.Metrics) map[string]healthcheck.Probe {
	probes := make(map[string]healthcheck.Probe)
	if s.backends.Redis != nil {
		probes["redis"] = s.backends.Redis.Ping
	}
	if s.backends.Postgres != nil {
		probes["database"] = s.backends.Postgres.Ping
	}
	for name, metrics := range breakers {
		probes["llm:"+name] = healthcheck.BreakerProbe(metrics)
	}
	return probes
}

func (s *Server) setupMiddleware(auth *service.AuthService, keys middleware.KeyValidator) {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger.Named("http")))
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))
	s.router.Use(middleware.Identify(auth, keys))
}

type routes struct {
	system    *handler.SystemHandler
	access    *handler.AccessHandler
	tools     *handler.ToolHandler
	billing   *handler.BillingHandler
	analytics *handler.AnalyticsHandler
	apiKeys   *handler.APIKeyHandler
	records   *handler.RecordsHandler
}

func (s *Server) setupRoutes(h routes) {
	s.router.GET("/health", h.system.Health)
	s.router.POST("/copilot/ingest", h.records.CopilotIngest)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/tiers", h.access.Tiers)
		v1.GET("/tiers/compare", h.access.Compare)
		v1.POST("/access/check", h.access.Check)
		v1.GET("/subscription", h.access.Subscription)
		v1.POST("/tools/:toolId", h.tools.Run)
		v1.POST("/billing/webhook", h.billing.Webhook)
		v1.POST("/vault/episodes", h.records.VaultSave)
	}

	user := v1.Group("", middleware.RequireUser())
	{
		user.POST("/billing/checkout", h.billing.Checkout)
		user.POST("/billing/portal", h.billing.Portal)
		user.GET("/me/usage", h.analytics.Usage)
		user.GET("/me/usage/history", h.analytics.History)
		user.GET("/me/usage/chart", h.analytics.Chart)
		user.GET("/me/dashboard", h.analytics.Dashboard)
	}

	if h.apiKeys != nil {
		user.POST("/me/keys", h.apiKeys.Create)
		user.GET("/me/keys", h.apiKeys.List)
		user.DELETE("/me/keys/:id", h.apiKeys.Delete)
	}
}

// Run starts background work and serves until Shutdown.
func (s *Server) Run(addr string) error {
	s.checker.Start()
	go s.pruneUsage()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server",
		zap.String("addr", addr),
		zap.String("environment", s.config.Server.Environment),
		zap.Int("tiers", len(s.catalog.Tiers)),
		zap.Bool("redis", s.backends.Redis != nil),
		zap.Bool("database", s.backends.Postgres != nil),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP requests, then flushes pending usage events.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(ctx))
		close(s.stop)
		<-s.pruned
	}
	s.checker.Stop()
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close(ctx))
	}
	return errors.Join(errs...)
}

// pruneUsage deletes usage events older than the retention period once a
// day.
func (s *Server) pruneUsage() {
	defer close(s.pruned)
	if s.usage == nil || s.config.Usage.Retention <= 0 {
		<-s.stop
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := s.usage.DeleteOlderThan(ctx, time.Now().Add(-s.config.Usage.Retention))
		cancel()
		if err != nil {
			s.logger.Warn("usage pruning failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Info("pruned usage events", zap.Int64("deleted", n))
		}

		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
