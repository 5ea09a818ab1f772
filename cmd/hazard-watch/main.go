package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-hazard-watch/internal/api"
	"github.com/mr1hm/go-hazard-watch/internal/config"
	"github.com/mr1hm/go-hazard-watch/internal/engine"
	"github.com/mr1hm/go-hazard-watch/internal/geocode"
	"github.com/mr1hm/go-hazard-watch/internal/geofence"
	internalgrpc "github.com/mr1hm/go-hazard-watch/internal/grpc"
	"github.com/mr1hm/go-hazard-watch/internal/ingestion"
	"github.com/mr1hm/go-hazard-watch/internal/logging"
	"github.com/mr1hm/go-hazard-watch/internal/notify"
	"github.com/mr1hm/go-hazard-watch/internal/observability"
	"github.com/mr1hm/go-hazard-watch/internal/realtime"
	"github.com/mr1hm/go-hazard-watch/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger := slog.Default()

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	client := ingestion.NewClient(cfg.Remote.BaseURL, cfg.Remote.AuthToken, cfg.Remote.Timeout, clock, metrics, logger.With("component", "remote"))
	coord := ingestion.NewCoordinator(client, db, ingestion.CoordinatorConfig{
		FetchTimeout: cfg.Sync.FetchTimeout,
		PruneMissing: cfg.Sync.PruneMissing,
	}, clock, metrics, logger.With("component", "sync"))

	if cfg.Cache.PruneOnStartup {
		removed, err := coord.PruneOlderThan(ctx, cfg.Cache.MaxAge)
		if err != nil {
			slog.Error("startup cache prune failed", "error", err)
		} else {
			slog.Info("startup cache prune", "removed", removed)
		}
	}

	opts := engine.Options{
		Evaluator:       geofence.New(cfg.Geofence.IncludeBoundary),
		Realtime:        realtime.Config{URL: cfg.Realtime.URL, Backoff: cfg.Realtime.Backoff, MaxAttempts: cfg.Realtime.MaxAttempts},
		LabelTimeout:    cfg.Geocode.Timeout,
		RefreshInterval: cfg.Sync.RefreshInterval,
		WorkerBuffer:    cfg.Worker.BufferSize,
	}
	if cfg.Realtime.Enabled {
		opts.Dialer = realtime.NewWebsocketDialer(cfg.Remote.AuthToken, cfg.Remote.Timeout)
	}

	var rc *redis.Client
	if cfg.Geocode.Enabled() {
		if cfg.Geocode.RedisAddr != "" {
			rc = redis.NewClient(&redis.Options{Addr: cfg.Geocode.RedisAddr})
			defer rc.Close()
		}
		mapbox := geocode.NewMapboxClient(cfg.Geocode.MapboxToken, cfg.Geocode.Language, cfg.Geocode.Timeout, metrics, logger.With("component", "geocode"))
		labeler, err := geocode.NewCachedLabeler(mapbox, cfg.Geocode.CacheSize, rc, cfg.Geocode.RedisTTL, metrics, logger.With("component", "geocode"))
		if err != nil {
			logging.Fatalf("Failed to initialize geocoder: %v", err)
		}
		opts.Labeler = labeler
	}

	eng := engine.New(coord, client, opts, clock, metrics, logger.With("component", "engine"))

	// Banner transitions go out to whichever sinks are configured.
	var publishers []notify.Publisher
	if len(cfg.Notify.KafkaBrokers) > 0 {
		publishers = append(publishers, notify.NewKafkaPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic))
	}
	if cfg.Notify.MQTTBroker != "" {
		mqttPub, err := notify.NewMQTTPublisher(cfg.Notify.MQTTBroker, cfg.Notify.MQTTClientID, cfg.Notify.MQTTTopic, cfg.Remote.Timeout)
		if err != nil {
			logging.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		publishers = append(publishers, mqttPub)
	}
	notifier := notify.NewNotifier(publishers, cfg.Worker.BufferSize, clock, metrics, logger.With("component", "notify"))
	notifier.Start(ctx)
	unsubscribeNotifier := eng.Subscribe(notifier.Observe)

	// Create broadcaster for gRPC streaming
	broadcaster := internalgrpc.NewBroadcaster(cfg.Worker.BufferSize, metrics)
	unsubscribeBroadcaster := eng.Subscribe(broadcaster.Broadcast)

	grpcServer := internalgrpc.NewServer(eng, broadcaster, logger.With("component", "grpc"))
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	if err := eng.StartSync(ctx); err != nil {
		slog.Warn("initial sync failed", "error", err)
	}
	eng.StartRealtime(ctx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit))

	handler := api.NewHandler(eng, logger.With("component", "api"))
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	grpcServer.Stop()

	eng.Stop()
	unsubscribeBroadcaster()
	unsubscribeNotifier()
	if err := notifier.Stop(); err != nil {
		slog.Error("notifier shutdown error", "error", err)
	}
	cancel()

	slog.Info("shutdown complete")
}
