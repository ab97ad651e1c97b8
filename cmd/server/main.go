package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"branch-ops-service/config"
	"branch-ops-service/internal/aggregator"
	"branch-ops-service/internal/api"
	"branch-ops-service/internal/broker"
	"branch-ops-service/internal/redisclient"
	"branch-ops-service/internal/service"
	"branch-ops-service/internal/store"
	"branch-ops-service/internal/util"
	"branch-ops-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	serviceName      = "branch-ops-service"
	settingsCacheTTL = 10 * time.Minute
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting branch ops service")

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBranchEvents)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	defaults := aggregator.BranchDefaults{
		TotalTables:           cfg.Branch.DefaultTotalTables,
		TotalEmployees:        cfg.Branch.DefaultTotalEmployees,
		KitchenTargetMinutes:  cfg.Branch.KitchenTargetMinutes,
		ServiceTargetMinutes:  cfg.Branch.ServiceTargetMinutes,
		DeliveryTargetMinutes: cfg.Branch.DeliveryTargetMinutes,
	}
	branchConfig := service.NewBranchConfigClient(db, redisClient, settingsCacheTTL, defaults)

	ctx := context.Background()
	if err := branchConfig.Warm(ctx); err != nil {
		log.Printf("Failed to warm branch settings: %v", err)
	}

	agg, err := aggregator.NewAggregator(aggregator.Options{
		Lookup:            branchConfig,
		BreachLogCapacity: cfg.Branch.BreachLogCapacity,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("Failed to build aggregator: %v", err)
	}
	branchConfig.OnUpdate(agg.Configure)

	var emitter service.EventEmitter
	if cfg.Sync.EmitBranchEvents {
		emitter = broker.NewEventPublisher(producer)
	}
	txTimeout := time.Duration(cfg.Sync.TxTimeoutSeconds) * time.Second
	syncService := service.NewSyncService(db, emitter, txTimeout)
	reservationService := service.NewReservationService(db, emitter, txTimeout)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	eventConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBranchEvents, cfg.Kafka.ConsumerGroup)
	eventWorker := worker.NewBranchEventWorker(eventConsumer, agg, redisClient,
		time.Duration(cfg.Redis.DedupeTTLSeconds)*time.Second)
	go func() {
		if err := eventWorker.Start(workerCtx); err != nil {
			log.Printf("Branch event worker error: %v", err)
		}
	}()

	var broadcaster worker.SnapshotBroadcaster
	if cfg.NATS.URL != "" {
		natsBroadcaster, err := broker.NewSnapshotBroadcaster(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			logger.Warn("NATS unavailable, snapshot broadcast disabled", zap.Error(err))
		} else {
			defer natsBroadcaster.Close()
			broadcaster = natsBroadcaster
			log.Println("NATS connected")
		}
	}

	mirrorWorker := worker.NewSnapshotMirrorWorker(agg, redisClient, broadcaster,
		time.Duration(cfg.Redis.SnapshotTTLSeconds)*time.Second)
	go func() {
		if err := mirrorWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Snapshot mirror worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(agg, syncService, reservationService, redisClient)
	handler.UseSnapshotMirror(redisClient)
	handler.AddReadinessCheck("postgres", db.Ping)
	handler.AddReadinessCheck("redis", redisClient.Ping)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	eventWorker.Stop()

	log.Println("Server exited")
}
