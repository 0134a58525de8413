package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/api/router"
	appconfig "github.com/wolfman30/voice-orchestrator/internal/config"
	"github.com/wolfman30/voice-orchestrator/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-orchestrator/internal/http/middleware"
	"github.com/wolfman30/voice-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/voice-orchestrator/internal/orchestrator"
	"github.com/wolfman30/voice-orchestrator/internal/provisioning"
	"github.com/wolfman30/voice-orchestrator/internal/voice"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

const (
	shutdownTimeout       = 30 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	writeTimeoutMargin    = 5 * time.Second
	limiterCleanupEvery   = 5 * time.Minute
	limiterIdleAfter      = 10 * time.Minute
	defaultRebuildTimeout = 2 * time.Minute
)

// Deps are the external clients an App runs against. All are optional; a
// nil Creator means the provider web-call client is built from config.
type Deps struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Dynamo     *dynamodb.Client
	Creator    provisioning.CallCreator
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// App is the fully wired voice orchestration service.
type App struct {
	cfg        *appconfig.Config
	logger     *logging.Logger
	Directory  *agents.Directory
	Registry   *voice.Registry
	Aggregator *analytics.Aggregator
	Journal    *analytics.Journal
	RecordLog  analytics.RecordLog
	Service    *orchestrator.Service
	Handler    http.Handler
	limiter    *httpmiddleware.RateLimiter
}

// NewApp wires every component. It fails when no usable agent is configured
// or the record log backend cannot be built.
func NewApp(cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	directory, err := BuildDirectory(cfg)
	if err != nil {
		return nil, err
	}
	loc, err := LoadLocation(cfg)
	if err != nil {
		return nil, err
	}
	recordLog, err := BuildRecordLog(cfg, RecordLogDeps{Pool: deps.Pool, Dynamo: deps.Dynamo}, logger)
	if err != nil {
		return nil, err
	}

	registerer := deps.Registerer
	gatherer := deps.Gatherer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
		gatherer = prometheus.DefaultGatherer
	}
	voiceMetrics := metrics.NewVoiceMetrics(registerer)

	journal := analytics.NewJournal(recordLog, logger.With("component", "journal")).
		WithMaxAttempts(cfg.RecordRetryMaxAttempts).
		WithBaseDelay(cfg.RecordRetryBaseDelay).
		WithMaxDelay(cfg.RecordRetryMaxDelay).
		WithMetrics(voiceMetrics)
	aggregator := analytics.NewAggregator(analytics.AggregatorConfig{
		Location:  loc,
		Retention: cfg.AnalyticsRetention,
		Journal:   journal,
		Metrics:   voiceMetrics,
		Logger:    logger.With("component", "analytics"),
	})

	creator := deps.Creator
	if creator == nil {
		client, err := provisioning.NewWebCallClient(provisioning.WebCallClientConfig{
			APIKey:  cfg.VoiceProviderAPIKey,
			BaseURL: cfg.VoiceProviderBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		creator = client
	}
	provisioner := provisioning.NewProvisioner(provisioning.ProvisionerConfig{
		Creator:  creator,
		Versions: directory,
		Timeout:  cfg.ProvisionTimeout,
		Metrics:  voiceMetrics,
		Logger:   logger.With("component", "provisioning"),
	})

	registryCfg := voice.RegistryConfig{
		Provisioner:       provisioner,
		Records:           aggregator,
		Metrics:           voiceMetrics,
		Logger:            logger.With("component", "sessions"),
		IdleTimeout:       cfg.SessionIdleTimeout,
		TerminalRetention: cfg.SessionTerminalRetention,
	}
	if mirror := voice.NewRedisMirror(deps.Redis, cfg.SessionMirrorTTL); mirror != nil {
		registryCfg.Mirror = mirror
	}
	registry := voice.NewRegistry(registryCfg)

	service := orchestrator.NewService(directory, registry, analytics.NewReportGenerator(aggregator), logger)

	checks := map[string]handlers.HealthCheck{}
	if deps.Pool != nil {
		checks["postgres"] = deps.Pool.Ping
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		Conversations:      handlers.NewConversationHandler(service, logger),
		Health:             handlers.NewHealthHandler(checks),
		MetricsHandler:     promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		InitializeLimiter:  limiter,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		Directory:  directory,
		Registry:   registry,
		Aggregator: aggregator,
		Journal:    journal,
		RecordLog:  recordLog,
		Service:    service,
		Handler:    handler,
		limiter:    limiter,
	}, nil
}

// Rebuild replays the durable record log into fresh analytics windows.
func (a *App) Rebuild(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRebuildTimeout)
	defer cancel()
	if _, err := a.Aggregator.Rebuild(ctx, a.RecordLog); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// newServer sizes WriteTimeout so an initialize request can wait out a full
// provisioning attempt.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	writeTimeout := defaultWriteTimeout
	if t := cfg.ProvisionTimeout + writeTimeoutMargin; t > writeTimeout {
		writeTimeout = t
	}
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// Run serves HTTP and the background loops until ctx is cancelled. On
// shutdown it drains the server, waits for every loop to stop, and then
// flushes pending call records, so records emitted by a last sweep are kept.
func (a *App) Run(ctx context.Context) error {
	srv := newServer(a.cfg, a.Handler)

	loopsCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()

	var loops errgroup.Group
	loops.Go(func() error {
		a.Journal.Run(loopsCtx)
		return nil
	})
	loops.Go(func() error {
		a.Registry.RunSweeper(loopsCtx, a.cfg.SessionSweepInterval)
		return nil
	})
	loops.Go(func() error {
		a.Aggregator.RunRetention(loopsCtx, a.cfg.AnalyticsPruneInterval)
		return nil
	})
	if a.limiter != nil {
		loops.Go(func() error {
			a.limiter.RunCleanup(loopsCtx, limiterCleanupEvery, limiterIdleAfter)
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bootstrap: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stopLoops()
		_ = loops.Wait()
		if flushErr := a.Journal.Flush(shutdownCtx); flushErr != nil {
			a.logger.Error("call records left unflushed", "pending", a.Journal.Pending(), "error", flushErr)
		}
		return err
	})

	err := g.Wait()
	a.logger.Info("server stopped", "live_sessions", a.Registry.Len())
	return err
}
