package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trading_scheduler/config"
	"trading_scheduler/metrics"
	"trading_scheduler/middleware"
	"trading_scheduler/models"
	"trading_scheduler/routes"
	"trading_scheduler/scheduler"
	"trading_scheduler/services/calendar"
	"trading_scheduler/services/decision"
	"trading_scheduler/services/pricecache"
	"trading_scheduler/services/quote"
	"trading_scheduler/services/reporting"
	"trading_scheduler/services/trading"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// closer releases one resource during shutdown
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func run() error {
	cfg, err := config.Load(os.Getenv("APP_CONFIG_DIR"))
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("==============================================")
	logger.Info("  Trading Scheduler - Starting...",
		zap.String("environment", cfg.Server.Environment),
		zap.String("timezone", cfg.Market.Timezone))
	logger.Info("==============================================")

	db, err := config.InitDB(cfg.Database, cfg.Server.Environment, logger)
	if err != nil {
		return err
	}
	logger.Info("Running database migrations...")
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	cal, err := newCalendar(cfg.Market)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var closers []closer

	store, storeClose, err := newQuoteStore(cfg, db)
	if err != nil {
		return err
	}
	if storeClose != nil {
		closers = append(closers, closer{"quote store", storeClose})
	}

	cache := pricecache.New(store, newGateway(cfg.Quote), cal, pricecache.Options{
		TTL:         cfg.Cache.TTL,
		Suffix:      cfg.Market.SymbolSuffix,
		Concurrency: cfg.Cache.FetchConcurrency,
		Metrics:     m,
		Logger:      logger,
	})

	hub := reporting.NewHub(logger)
	sinks := []reporting.Sink{reporting.NewLogSink(logger), hub}
	extra, extraClosers, err := newSinks(cfg, logger)
	if err != nil {
		return err
	}
	sinks = append(sinks, extra...)
	closers = append(closers, extraClosers...)

	runner := trading.NewRunner(trading.NewGormStore(db), logger,
		trading.WithPublisher(reporting.Multi(sinks...)),
		trading.WithMetrics(m),
		trading.WithLocks(trading.NewEntityLocks()),
		trading.WithClock(cal.Now),
	)

	engine := decision.NewHTTPEngine(cfg.Decision.BaseURL, cfg.Decision.Timeout)

	schedule, err := newSchedule(cfg.Jobs, cfg.Market)
	if err != nil {
		return err
	}
	jobScheduler := scheduler.New(cal, m, logger)
	scheduler.NewTradingJobs(runner, engine, cache, cal, logger).Register(jobScheduler, schedule)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(logger))
	setupReadiness(router, db)
	routes.SetupRoutes(router, routes.Deps{
		Scheduler: jobScheduler,
		Quotes:    cache,
		Batches:   hub,
		Gatherer:  registry,
		Limiter:   middleware.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst, 10*time.Minute),
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logger,
	})
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty, manual job triggers are unauthenticated")
	}

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	jobScheduler.Start()
	logger.Info("Application fully initialized")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("Server error", zap.Error(err))
	}

	return gracefulShutdown(cfg.Server.ShutdownTimeout, logger, server, jobScheduler, cancel, db, closers)
}

// gracefulShutdown stops the scheduler first so no batch publishes into closed
// sinks, then the HTTP server, then the stores.
func gracefulShutdown(timeout time.Duration, logger *zap.Logger, server *http.Server, s *scheduler.Scheduler,
	stopHub context.CancelFunc, db *gorm.DB, closers []closer) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := s.Stop(ctx); err != nil {
		logger.Error("Scheduler did not stop in time", zap.Error(err))
		errs = append(errs, err)
	}
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	stopHub()

	for _, c := range closers {
		if err := c.fn(ctx); err != nil {
			logger.Warn("Close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info("Server exited")
	return errors.Join(errs...)
}

// setupReadiness adds the readiness probe, which pings the database
func setupReadiness(router *gin.Engine, db *gorm.DB) {
	router.GET("/ready", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
}

func newCalendar(cfg config.MarketConfig) (*calendar.Calendar, error) {
	days, err := config.ParseWeekdays(cfg.Weekdays)
	if err != nil {
		return nil, err
	}
	return calendar.New(calendar.Config{
		Timezone: cfg.Timezone,
		Open:     cfg.Open,
		Close:    cfg.Close,
		Holidays: cfg.Holidays,
		Weekdays: days,
	})
}

func newSchedule(jobs config.JobsConfig, market config.MarketConfig) (scheduler.Schedule, error) {
	days, err := config.ParseWeekdays(market.Weekdays)
	if err != nil {
		return scheduler.Schedule{}, err
	}
	clock := func(s string) calendar.TimeOfDay {
		// already checked by Config.Validate
		h, m, _ := config.ParseClock(s)
		return calendar.TimeOfDay{Hour: h, Minute: m}
	}
	return scheduler.Schedule{
		Premarket:       clock(jobs.Premarket),
		Afternoon:       clock(jobs.Afternoon),
		EndOfDay:        clock(jobs.EndOfDay),
		Weekdays:        days,
		RefreshInterval: jobs.RefreshInterval,
	}, nil
}

func newGateway(cfg config.QuoteConfig) quote.Gateway {
	guard := func(name string, g quote.Gateway) quote.Gateway {
		return quote.Guard(g, quote.GuardConfig{
			Name:            name,
			RatePerSecond:   cfg.RatePerSecond,
			Burst:           cfg.Burst,
			BreakerFailures: cfg.BreakerFailures,
			BreakerCooldown: cfg.BreakerCooldown,
		})
	}
	primary := guard("yahoo", quote.NewYahooGateway(cfg.BaseURL, cfg.Timeout))
	if cfg.FallbackURL == "" {
		return primary
	}
	return quote.Chain(primary, guard("yahoo-fallback", quote.NewYahooGateway(cfg.FallbackURL, cfg.Timeout).Named("yahoo-fallback")))
}

func newQuoteStore(cfg *config.Config, db *gorm.DB) (pricecache.Store, func(context.Context) error, error) {
	switch cfg.Cache.Store {
	case "database":
		return pricecache.NewGormStore(db), nil, nil
	case "redis":
		if cfg.Redis.URL == "" {
			return nil, nil, errors.New("cache.store is redis but redis.url is empty")
		}
		rs, err := pricecache.NewRedisStoreFromURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		return rs, func(context.Context) error { return rs.Close() }, nil
	default:
		return pricecache.NewMemoryStore(), nil, nil
	}
}

// newSinks builds the optional batch result sinks that have a configured backend
func newSinks(cfg *config.Config, logger *zap.Logger) ([]reporting.Sink, []closer, error) {
	var (
		sinks   []reporting.Sink
		closers []closer
	)
	if cfg.Mongo.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ms, err := reporting.NewMongoSink(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("MongoDB batch sink enabled", zap.String("collection", cfg.Mongo.Collection))
		sinks = append(sinks, ms)
		closers = append(closers, closer{"mongo sink", ms.Close})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := reporting.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info("Kafka batch sink enabled", zap.String("topic", cfg.Kafka.Topic))
		sinks = append(sinks, ks)
		closers = append(closers, closer{"kafka sink", func(context.Context) error { return ks.Close() }})
	}
	return sinks, closers, nil
}
