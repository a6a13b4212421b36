package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"liveclass/internal/core/ports"
	"liveclass/internal/core/services"
	handlers "liveclass/internal/handlers/http"
	"liveclass/internal/infrastructure/engine"
	"liveclass/internal/infrastructure/middleware"
	"liveclass/internal/infrastructure/monitoring"
	"liveclass/internal/infrastructure/presence"
	"liveclass/internal/infrastructure/recorder"
	sigserver "liveclass/internal/infrastructure/signal"
	"liveclass/pkg/config"
	"liveclass/pkg/logger"
	"liveclass/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("LIVECLASS_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", configPath, "error", err)
	}

	zlog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zlog.Sync()
	log := zlog.Sugar()
	log.Infow("starting liveclass orchestrator", "config", configPath)

	shutdownTracing := func(context.Context) error { return nil }
	if cfg.Monitoring.TracingEnabled {
		shutdownTracing, err = tracing.Init("liveclass", cfg.Monitoring.JaegerEndpoint)
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
	}

	var metrics ports.Metrics = monitoring.NopCollector{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pres ports.Presence = presence.Nop{}
	var redisPresence *presence.RedisPresence
	if cfg.Presence.Enabled {
		redisPresence = presence.NewRedisPresence(cfg.Presence.Address, cfg.Presence.Password,
			cfg.Presence.DB, cfg.Presence.KeyTTL, zlog)
		if err := redisPresence.Ping(ctx); err != nil {
			log.Warnw("presence redis unreachable, continuing without mirror", "error", err)
		} else {
			pres = redisPresence
		}
	}

	mediaEngine := engine.New(engine.Config{
		ListenIP:    cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		MinPort:     cfg.Media.PortRange.Min,
		MaxPort:     cfg.Media.PortRange.Max,
	}, zlog)

	workers := make([]ports.Worker, 0, cfg.Media.Workers)
	for i := 0; i < cfg.Media.Workers; i++ {
		w, err := mediaEngine.CreateWorker(ctx)
		if err != nil {
			log.Fatalw("failed to create media worker", "index", i, "error", err)
		}
		w.OnDied(func(err error) {
			// A dead worker invalidates every session pinned to it.
			log.Fatalw("media worker died", "worker_id", w.ID(), "error", err)
		})
		workers = append(workers, w)
	}

	pool, err := services.NewWorkerPool(workers, zlog)
	if err != nil {
		log.Fatalw("failed to build worker pool", "error", err)
	}

	signalServer := sigserver.NewServer(sigserver.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSizeBytes,
		MessagesPerSec: cfg.Signal.MessagesPerSecond,
		MessageBurst:   cfg.Signal.MessageBurst,
	}, zlog)

	listen := ports.ListenConfig{
		IP:          cfg.Media.ListenIP,
		AnnouncedIP: cfg.Media.AnnouncedIP,
		MinPort:     cfg.Media.PortRange.Min,
		MaxPort:     cfg.Media.PortRange.Max,
	}

	registry := services.NewRegistry(pool, signalServer, pres, metrics, listen, zlog)

	var recorderClient ports.RecorderClient = recorder.Disabled{}
	if cfg.Recorder.Enabled {
		recorderClient = recorder.NewHTTPClient(cfg.Recorder.BaseURL, cfg.Recorder.MaxRetries, zlog)
	}
	recording := services.NewRecordingController(registry, recorderClient, metrics, cfg.Recorder.RequestTimeout, zlog)
	registry.SetRecording(recording)

	speak := services.NewSpeakArbiter(registry, signalServer, metrics, zlog)
	media := services.NewMediaManager(registry, signalServer, metrics, zlog)
	media.SetRecording(recording)
	signalServer.Bind(registry, speak, media)

	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", signalServer.HandleWebSocket)
	signalSrv := &http.Server{Addr: cfg.Signal.Address, Handler: signalMux}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log), middleware.ErrorHandlerMiddleware(log))
	if cfg.Monitoring.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
	}
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	admin := handlers.NewAdminHandler(registry, recording, recorderClient, signalServer)
	admin.SetupRoutes(router, middleware.AdminAuthMiddleware(cfg.Auth.JWTSecret))

	adminSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infow("signaling server listening", "address", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("signaling server failed", "error", err)
		}
	}()
	go func() {
		log.Infow("admin server listening", "address", cfg.Server.Address)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("admin server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := signalSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("signaling server shutdown failed", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("admin server shutdown failed", "error", err)
	}

	registry.Teardown(shutdownCtx)

	for _, w := range workers {
		if err := w.Close(); err != nil {
			log.Warnw("worker close failed", "worker_id", w.ID(), "error", err)
		}
	}
	_ = mediaEngine.Close()

	if redisPresence != nil {
		_ = redisPresence.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warnw("tracing shutdown failed", "error", err)
	}
	log.Infow("orchestrator stopped")
}
