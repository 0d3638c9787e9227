package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"milestone-tracker/config"
	"milestone-tracker/internal/api"
	"milestone-tracker/internal/cache"
	"milestone-tracker/internal/httpserver"
	"milestone-tracker/internal/repository"
	"milestone-tracker/internal/service"
	"milestone-tracker/internal/workflow"
	"milestone-tracker/pkg/db"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/mq"
	"milestone-tracker/pkg/otel"
	"milestone-tracker/pkg/outbox"
	redisclient "milestone-tracker/pkg/redis"

	"github.com/gin-gonic/gin"
)

const tokenSweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Server.Mode == gin.DebugMode)
	defer log.Sync()
	gin.SetMode(cfg.Server.Mode)

	log.Info("Starting milestone-tracker server...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn, log); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}

	catalogRepo := repository.NewCatalogRepository(dbConn, log)
	if cfg.Workflow.SeedCatalog {
		if err := catalogRepo.Seed(ctx, cfg.Workflow); err != nil {
			log.Fatal("Failed to seed catalog", zap.Error(err))
		}
	}

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redisclient.Ping(ctx, rdb); err != nil {
		// 缓存不可用时照常服务，直接读库
		log.Warn("Redis not reachable, caches will fall through to the database", zap.Error(err))
	}
	readCache := cache.New(rdb, cfg.Cache.CatalogTTL, cfg.Cache.DashboardTTL, log)
	if cfg.Workflow.SeedCatalog {
		if err := readCache.InvalidateCatalog(ctx); err != nil {
			log.Warn("Failed to invalidate catalog cache", zap.Error(err))
		}
	}

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories
	userRepo := repository.NewUserRepository(dbConn)
	tokenRepo := repository.NewTokenRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn, log)
	reportRepo := repository.NewReportRepository(dbConn)
	activityRepo := repository.NewActivityRepository(dbConn)
	outboxRepo := outbox.NewRepository(dbConn)

	// Engine + services
	engine := workflow.NewEngine(
		repository.NewWorkflowStore(dbConn, log),
		workflow.NewPolicy(cfg.Workflow.GatingMilestones, cfg.Workflow.TerminalMilestones),
		log,
	)
	authService := service.NewAuthService(userRepo, tokenRepo, cfg.JWT, log)
	projectService := service.NewProjectService(projectRepo, userRepo, catalogRepo, reportRepo, activityRepo, readCache, engine, log)
	replayService := outbox.NewReplayService(outboxRepo, log)

	router := httpserver.NewRouter(httpserver.Deps{
		Auth:       api.NewAuthHandler(authService, log),
		Projects:   api.NewProjectHandler(projectService, log),
		Workflow:   api.NewWorkflowHandler(engine, log),
		Admin:      api.NewAdminHandler(replayService, log),
		Identifier: authService,
		Authorizer: projectService,
		DB:         dbConn,
		Publisher:  publisher,
		Logger:     log,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return dispatcher.Start(gctx)
	})

	g.Go(func() error {
		sweepExpiredTokens(gctx, tokenRepo, log)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("milestone-tracker server is running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Server stopped with error", zap.Error(err))
	}
	log.Info("milestone-tracker server shutdown complete")
}

type expiredTokenSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

func sweepExpiredTokens(ctx context.Context, tokens expiredTokenSweeper, log *zap.Logger) {
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.DeleteExpired(ctx)
			if err != nil {
				log.Warn("Failed to delete expired refresh tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("Deleted expired refresh tokens", zap.Int64("count", n))
			}
		}
	}
}
