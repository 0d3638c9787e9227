package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqcontracts "milestone-tracker/contracts/mq"
	"milestone-tracker/config"
	"milestone-tracker/internal/cache"
	"milestone-tracker/internal/mqhandler"
	"milestone-tracker/internal/repository"
	"milestone-tracker/pkg/db"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/mq"
	"milestone-tracker/pkg/otel"
	redisclient "milestone-tracker/pkg/redis"
	"milestone-tracker/pkg/util"
)

const (
	activityQueue = "project.activity.q"
	healthAddr    = ":8085"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Server.Mode == gin.DebugMode)
	defer log.Sync()

	log.Info("Starting worker...", zap.String("queue", activityQueue))

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
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redisclient.Ping(ctx, rdb); err != nil {
		log.Warn("Redis not reachable, dedup falls back to the unique constraint", zap.Error(err))
	}

	// 死信只需要发布能力
	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()

	handler := mqhandler.NewActivityHandler(
		repository.NewActivityRepository(dbConn),
		cache.New(rdb, cfg.Cache.CatalogTTL, cfg.Cache.DashboardTTL, log),
		util.NewDeduper(rdb, cfg.Worker.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Worker.DedupTTL),
		dlqPublisher,
		cfg.Worker.MaxRetries,
		log,
	)

	router := mq.NewRouter(log).
		Register(mqcontracts.RoutingMilestoneAdvanced, handler.Handle).
		Register(mqcontracts.RoutingDependencyAttached, handler.Handle).
		Register(mqcontracts.RoutingDependencyCleared, handler.Handle)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, activityQueue, router.RoutingKeys(), log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(router.Handle)

	// HTTP server (health checks + metrics)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := dbConn.Ping(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		if !consumer.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	srv := &http.Server{Addr: healthAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.StartConsuming(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("Worker is ready to process messages")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Worker stopped with error", zap.Error(err))
	}
	log.Info("Worker shutdown complete")
}
