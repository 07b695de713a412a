package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/evoloop/evoloop/api/handlers"
	"github.com/evoloop/evoloop/config"
	"github.com/evoloop/evoloop/evolution"
	"github.com/evoloop/evoloop/internal/cache"
	"github.com/evoloop/evoloop/internal/database"
	"github.com/evoloop/evoloop/internal/metrics"
	"github.com/evoloop/evoloop/internal/server"
	"github.com/evoloop/evoloop/internal/telemetry"
)

// auditPruneInterval is how often retained evolution log entries are checked
// against the retention window.
const auditPruneInterval = time.Hour

// Server wires the engine, stores, and HTTP surface together.
type Server struct {
	// cfgMu guards cfg, which the reload callback replaces while background
	// goroutines read it.
	cfgMu      sync.RWMutex
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	db         *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector    *metrics.Collector
	pool         *database.Pool
	cacheManager *cache.Manager
	archiver     *evolution.MongoArchiver
	store        evolution.Store
	audit        *evolution.AuditLog
	events       *evolution.Publisher
	engine       *evolution.Engine

	otelProviders *telemetry.Providers
	reloader      *config.Reloader

	backgroundCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a server instance. The configPath enables hot reload when
// non-empty.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, db *gorm.DB, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		configPath:    configPath,
		logger:        logger,
		db:            db,
		otelProviders: otelProviders,
	}
}

// Start brings up the engine and both HTTP listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("evoloop", s.logger)

	backgroundCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel

	if err := s.initStore(backgroundCtx); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	s.initEngine()

	if err := s.startHTTPServer(backgroundCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.startAuditPruner(backgroundCtx)

	// Last, so a reload can never race server startup.
	if err := s.initReloader(backgroundCtx); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)
	return nil
}

// initStore builds the connection pool, the relational store, and the optional
// cache and archive backends.
func (s *Server) initStore(ctx context.Context) error {
	pool, err := database.NewPool(s.db, database.PoolConfig{
		MaxIdleConns:        s.cfg.Database.MaxIdleConns,
		MaxOpenConns:        s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	store := evolution.NewGormStore(pool, s.logger)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.store = store

	if s.cfg.Redis.Enabled {
		manager, err := cache.NewManager(cache.Config{
			Addr:                s.cfg.Redis.Addr,
			Password:            s.cfg.Redis.Password,
			DB:                  s.cfg.Redis.DB,
			DefaultTTL:          s.cfg.Redis.DefaultTTL,
			MaxRetries:          3,
			PoolSize:            s.cfg.Redis.PoolSize,
			MinIdleConns:        s.cfg.Redis.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
		}, s.logger)
		if err != nil {
			s.logger.Warn("cache unavailable, aggregates served from the store", zap.Error(err))
		} else {
			s.cacheManager = manager
		}
	}

	if s.cfg.Archive.Enabled {
		archiver, err := evolution.NewMongoArchiver(ctx,
			s.cfg.Archive.MongoURI, s.cfg.Archive.Database, s.cfg.Archive.Collection, s.logger)
		if err != nil {
			return fmt.Errorf("archive backend unavailable: %w", err)
		}
		s.archiver = archiver
	}

	return nil
}

// initEngine assembles the evolution engine from the configured policy.
func (s *Server) initEngine() {
	analyzer := evolution.NewAnalyzer(s.store, s.cacheManager, s.logger)

	var archiver evolution.Archiver
	if s.archiver != nil {
		archiver = s.archiver
	}
	s.audit = evolution.NewAuditLog(s.store, archiver, s.logger)
	s.events = evolution.NewPublisher(s.logger)

	s.engine = evolution.NewEngine(s.store, analyzer, s.audit, s.events, nil,
		s.collector, engineOptions(s.cfg.Engine), s.logger)
}

// engineOptions maps the engine config section onto engine options.
func engineOptions(cfg config.EngineConfig) evolution.Options {
	opts := evolution.Options{
		Thresholds: evolution.Thresholds{
			MinEpisodes:     cfg.MinEpisodes,
			SaveRateFloor:   cfg.SaveRateFloor,
			FollowupCeiling: cfg.FollowupCeiling,
			WindowSize:      cfg.WindowSize,
		},
		CandidateRollout: cfg.CandidateRollout,
		AutoPromote:      cfg.AutoPromote,
		CheckBurst:       cfg.CheckBurst,
	}
	if cfg.CheckInterval > 0 {
		opts.CheckRate = rate.Every(cfg.CheckInterval)
	}
	return opts
}

// initReloader starts watching the config file when a path was given.
func (s *Server) initReloader(ctx context.Context) error {
	if s.configPath == "" {
		return nil
	}

	reloader, err := config.NewReloader(s.configPath, s.cfg, s.logger)
	if err != nil {
		return err
	}
	reloader.OnReload(func(old, new *config.Config) {
		s.cfgMu.Lock()
		s.cfg = new
		s.cfgMu.Unlock()

		s.engine.SetThresholds(engineOptions(new.Engine).Thresholds)
		s.logger.Info("configuration reloaded, policy thresholds applied",
			zap.Int("min_episodes", new.Engine.MinEpisodes),
			zap.Float64("save_rate_floor", new.Engine.SaveRateFloor),
			zap.Float64("followup_ceiling", new.Engine.FollowupCeiling),
			zap.Int("window_size", new.Engine.WindowSize),
		)
	})
	if err := reloader.Start(ctx); err != nil {
		return err
	}
	s.reloader = reloader
	return nil
}

func (s *Server) startHTTPServer(ctx context.Context) error {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.cacheManager != nil {
		health.RegisterCheck(handlers.NewPingCheck("cache", s.cacheManager.Ping))
	}

	topics := handlers.NewTopicsHandler(s.engine, s.store, s.logger)
	episodes := handlers.NewEpisodesHandler(s.engine, s.logger)
	watch := handlers.NewWatchHandler(s.events, s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("GET /api/v1/topics", topics.HandleList)
	mux.HandleFunc("POST /api/v1/topics", topics.HandleCreate)
	mux.HandleFunc("GET /api/v1/topics/{id}", topics.HandleGet)
	mux.HandleFunc("DELETE /api/v1/topics/{id}", topics.HandleDelete)
	mux.HandleFunc("POST /api/v1/topics/{id}/versions/{version}/promote", topics.HandlePromote)
	mux.HandleFunc("POST /api/v1/topics/{id}/versions/{version}/archive", topics.HandleArchive)
	mux.HandleFunc("PUT /api/v1/topics/{id}/versions/{version}/rollout", topics.HandleRollout)
	mux.HandleFunc("POST /api/v1/topics/{id}/episodes", episodes.HandleReport)
	mux.HandleFunc("POST /api/v1/topics/{id}/episodes/run", episodes.HandleRun)
	mux.HandleFunc("GET /api/v1/episodes/{id}/analysis", episodes.HandleAnalysis)
	mux.HandleFunc("GET /api/v1/watch", watch.HandleWatch)

	skipAuthPaths := []string{"/healthz", "/readyz", "/version", "/metrics"}

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.Server.RateLimit > 0 {
		middlewares = append(middlewares,
			RateLimiter(ctx, s.cfg.Server.RateLimit, s.cfg.Server.RateBurst, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// currentConfig returns the latest configuration snapshot.
func (s *Server) currentConfig() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// startAuditPruner periodically moves evolution log entries past the retention
// window into the archive. Retention is re-read each tick, so a reload can
// change or disable it without a restart.
func (s *Server) startAuditPruner(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(auditPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				retention := s.currentConfig().Engine.AuditRetention
				if retention <= 0 {
					continue
				}
				pruned, err := s.audit.Prune(ctx, retention)
				if err != nil {
					s.logger.Error("audit prune failed", zap.Error(err))
					continue
				}
				if pruned > 0 {
					s.logger.Info("audit entries pruned", zap.Int("count", pruned))
				}
			}
		}
	}()
}

// WaitForShutdown blocks until a shutdown signal arrives, then cleans up.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops all servers and background work in dependency order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}
	if s.reloader != nil {
		s.reloader.Stop()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("cache shutdown error", zap.Error(err))
		}
	}
	if s.archiver != nil {
		if err := s.archiver.Close(ctx); err != nil {
			s.logger.Error("archive shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database shutdown error", zap.Error(err))
		}
	}
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown completed")
}
