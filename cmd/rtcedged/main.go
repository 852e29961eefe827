package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rillnet-labs/rtcedge/internal/core/domain"
	"github.com/rillnet-labs/rtcedge/internal/core/services"
	httphandlers "github.com/rillnet-labs/rtcedge/internal/handlers/http"
	"github.com/rillnet-labs/rtcedge/internal/infrastructure/middleware"
	"github.com/rillnet-labs/rtcedge/internal/infrastructure/monitoring"
	repositories "github.com/rillnet-labs/rtcedge/internal/infrastructure/repositories"
	redisrepo "github.com/rillnet-labs/rtcedge/internal/infrastructure/repositories/redis"
	"github.com/rillnet-labs/rtcedge/internal/infrastructure/reliability"
	"github.com/rillnet-labs/rtcedge/internal/infrastructure/streaming"
	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	rtcserver "github.com/rillnet-labs/rtcedge/internal/rtc/server"
	"github.com/rillnet-labs/rtcedge/pkg/circuitbreaker"
	"github.com/rillnet-labs/rtcedge/pkg/config"
	"github.com/rillnet-labs/rtcedge/pkg/logger"
	"github.com/rillnet-labs/rtcedge/pkg/retry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// rtcedged is the server-side media session core: it terminates
// ICE-lite/DTLS/SRTP for publish and play offers and moves RTP/RTCP
// between them, independent of the signaling-and-mesh server in
// cmd/ingest.
func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	streamRepo := repoFactory.CreateStreamRepository()
	peerRepo := repoFactory.CreatePeerRepository()
	meshRepo := repoFactory.CreateMeshRepository()

	metricsService := services.NewMetricsService()
	// Mesh membership calls go through the same repository factory as
	// everything else, so a degraded backing store (Redis/Postgres)
	// under load must not turn every publish/play request into a
	// hung mesh lookup -- wrap with retry+circuit-breaker (the signaling
	// and ingest servers use the unwrapped mesh service).
	meshService := reliability.NewMeshServiceWrapper(
		services.NewMeshService(peerRepo, meshRepo),
		retry.DefaultConfig(),
		circuitbreaker.DefaultConfig(),
		log,
	)
	streamService := services.NewStreamService(streamRepo, peerRepo, meshRepo, meshService, metricsService)
	authService := services.NewAuthService(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
		streamService,
	)

	var registry bus.Registry
	if cfg.Redis.Enabled {
		redisClient, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		instanceID := uuid.NewString()
		registry = streaming.NewRedisRegistry(redisClient, instanceID, log)
		log.Infow("rtc source registry backed by redis for multi-instance presence", "instance_id", instanceID)
	} else {
		registry = bus.NewMemoryRegistry()
	}

	prometheusCollector := monitoring.NewPrometheusCollector()
	rtcHijacker := monitoring.NewRTCHijacker(prometheusCollector)

	rtcServer := rtcserver.New(log, rtcserver.Config{ListenAddr: cfg.RTC.ListenAddress}, registry)
	rtcServer.SetHijacker(rtcHijacker)

	rtcHandler, err := httphandlers.NewRTCHandler(log, cfg, rtcServer, registry)
	if err != nil {
		log.Fatalw("failed to initialize rtc handler", "error", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	{
		api.POST("/streams/:id/rtc/publish", middleware.StreamPermissionMiddleware(authService, domain.RoleOwner), rtcHandler.Publish)
		api.POST("/streams/:id/rtc/play", middleware.StreamPermissionMiddleware(authService, domain.RoleViewer), rtcHandler.Play)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{"status": "not_ready", "timestamp": time.Now(), "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready", "timestamp": time.Now()})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	rtcErr := make(chan error, 1)
	go func() {
		log.Infow("starting rtc udp listener", "addr", cfg.RTC.ListenAddress)
		if err := rtcServer.Listen(); err != nil {
			rtcErr <- err
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting rtcedged http server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("http server failed", "error", err)
	case err := <-rtcErr:
		log.Fatalw("rtc udp listener failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down rtcedged...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during http server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing http server", "error", closeErr)
		}
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}

	log.Info("rtcedged stopped")
}
