package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/investlink/internal/marketdata/application"
	"github.com/wyfcoding/investlink/internal/marketdata/domain"
	"github.com/wyfcoding/investlink/internal/marketdata/infrastructure/messaging"
	"github.com/wyfcoding/investlink/internal/marketdata/infrastructure/persistence/postgres"
	"github.com/wyfcoding/investlink/internal/marketdata/infrastructure/upstream/polygon"
	httpserver "github.com/wyfcoding/investlink/internal/marketdata/interfaces/http"
	"github.com/wyfcoding/investlink/pkg/cache"
	"github.com/wyfcoding/investlink/pkg/config"
	"github.com/wyfcoding/investlink/pkg/db"
	"github.com/wyfcoding/investlink/pkg/logger"
	"github.com/wyfcoding/investlink/pkg/metrics"
	"github.com/wyfcoding/investlink/pkg/middleware"
	"github.com/wyfcoding/investlink/pkg/mq"
	"github.com/wyfcoding/investlink/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/marketdata/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log := logger.Get().With("service", cfg.ServiceName, "version", cfg.Version)
	slog.SetDefault(log)

	// 3. Metrics
	metricsImpl := metrics.New(cfg.ServiceName)

	// 4. Infrastructure
	database, err := db.Init(cfg.Database, cfg.Database.MaxOpenConns)
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// 后台刷新使用独立连接池，不与请求争用
	schedulerDB, err := db.Init(cfg.Database, cfg.Database.SchedulerMaxOpenConns)
	if err != nil {
		slog.Error("failed to connect scheduler database", "error", err)
		os.Exit(1)
	}
	defer schedulerDB.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(context.Background(), database, cfg.Database.Timescale); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	redisCache := cache.New(cfg.Redis)
	defer redisCache.Close()

	var publisher domain.EventPublisher = messaging.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(cfg.Kafka)
		if err != nil {
			slog.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaPublisher(producer)
	}

	// 5. Repository & Application
	queryRepo := postgres.NewBarRepository(database, cfg.Database.Timescale, metricsImpl)
	schedulerRepo := postgres.NewBarRepository(schedulerDB, cfg.Database.Timescale, metricsImpl)

	queryService := application.NewMarketDataQueryService(queryRepo, redisCache, metricsImpl, application.QueryOptions{
		CacheTTL:    cfg.Market.CacheTTL(),
		FrequentTTL: cfg.Market.FrequentTTL(),
	})

	scheduler := application.NewRefreshScheduler(
		schedulerRepo,
		polygon.NewClient(cfg.Polygon, metricsImpl),
		redisCache,
		publisher,
		metricsImpl,
		log.With("component", "refresh_scheduler"),
		application.SchedulerOptions{
			Tickers:      cfg.Market.Tickers,
			Interval:     cfg.Market.UpdateInterval(),
			RetryBackoff: cfg.Market.RetryBackoff(),
			SnapshotTTL:  cfg.Market.SnapshotRefreshTTL(),
			IngestMode:   cfg.Market.IngestMode,
			Topic:        cfg.Kafka.IngestTopic,
		},
	)
	// 与进程同生命周期
	go scheduler.Start(context.Background())

	// 6. Interfaces
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(metricsImpl),
		middleware.GinCORSMiddleware(),
		middleware.RateLimitMiddleware(ratelimit.NewRedisRateLimiter(redisCache.Client()), cfg.RateLimit),
	)

	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{"status": "ok", "database": "ok", "redis": "ok"}
		code := http.StatusOK
		if sqlDB, err := database.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status["database"], status["status"], code = "unavailable", "degraded", http.StatusServiceUnavailable
		}
		if err := redisCache.Ping(ctx); err != nil {
			status["redis"] = "unavailable"
		}
		c.JSON(code, status)
	})

	httpHandler := httpserver.NewMarketDataHandler(queryService, cfg.Market.Tickers)
	httpHandler.RegisterRoutes(r.Group(cfg.HTTP.APIPrefix))

	// 7. Start
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metricsImpl.NewServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			slog.Info("metrics server starting", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}
