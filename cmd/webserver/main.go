package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ebs-gateway/configs"
	"ebs-gateway/internal/cache"
	"ebs-gateway/internal/database"
	"ebs-gateway/internal/gateway"
	"ebs-gateway/internal/handlers"
	"ebs-gateway/internal/logger"
	"ebs-gateway/internal/metrics"
	"ebs-gateway/internal/middleware"
	"ebs-gateway/internal/scheduler"
	"ebs-gateway/internal/scope"
	"ebs-gateway/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// @title EBS Gateway API
// @version 1.0
// @description Authenticated, rate-limited and scoped access to event-based surveillance data

// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-client-key

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		logger.New(false).Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)

	// Databases: surveillance data and the credential/policy/user store.
	dataDB, err := database.Open(cfg.DatabaseType, cfg.DatabaseURL, cfg.ReadReplicaURLs, cfg.Debug, log)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	apiDB := dataDB
	if cfg.APIDatabaseURL != cfg.DatabaseURL {
		apiDB, err = database.Open(cfg.DatabaseType, cfg.APIDatabaseURL, nil, cfg.Debug, log)
		if err != nil {
			log.Error("Error initializing API database", "error", err)
			os.Exit(1)
		}
	}
	if cfg.AutoMigrate {
		if err := apiDB.MigrateAPI(); err != nil {
			log.Error("Error migrating API tables", "error", err)
			os.Exit(1)
		}
		if err := dataDB.MigrateEbs(); err != nil {
			log.Error("Error migrating EBS tables", "error", err)
			os.Exit(1)
		}
	}

	table, err := scope.LoadTable(cfg.ScopeTablePath)
	if err != nil {
		log.Error("Error loading scope table", "path", cfg.ScopeTablePath, "error", err)
		os.Exit(1)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	store := services.NewStore(apiDB)
	tasks := gateway.NewTaskRunner(4, 1024, 5*time.Second, log, m)
	resolver := scope.NewResolver(table, store, cfg.ScopeCacheTTL)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var (
		redisClient *redis.Client
		stats       *cache.StatsRecorder
		observers   []gateway.Observer
	)
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn("Redis unavailable, invalidations stay local", "error", err)
		} else {
			stats = cache.NewStatsRecorder(redisClient, tasks, 24*time.Hour)
			observers = append(observers, stats)
		}
	}

	var wsHandler *handlers.WebSocketHandler
	if cfg.EnableWebSocket && cfg.AdminEnabled() {
		wsHandler = handlers.NewWebSocketHandler(log)
		observers = append(observers, wsHandler)
		go wsHandler.RunHub(ctx)
	}

	gw := gateway.New(gateway.Config{
		CredentialTTL:    cfg.CredentialCacheTTL,
		PolicyTTL:        cfg.PolicyCacheTTL,
		DefaultPerMinute: cfg.DefaultRatePerMinute,
		CounterGrace:     cfg.CounterGrace,
	}, store, store, resolver, tasks,
		gateway.WithLogger(log),
		gateway.WithMetrics(m),
		gateway.WithObservers(observers...),
	)

	var invalidator services.Invalidator = services.InvalidatorFunc(func(_ context.Context, id int64) error {
		gw.Forget(id)
		return nil
	})
	var bus *cache.Bus
	if redisClient != nil {
		bus, err = cache.NewBus(ctx, redisClient, gw.Forget, log)
		if err != nil {
			log.Warn("Invalidation bus unavailable, invalidations stay local", "error", err)
		} else {
			invalidator = bus
		}
	}

	sched := scheduler.NewScheduler(gw, cfg.SweepSchedule, log)
	if err := sched.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}
	log.Info("Scheduler started", "sweep", cfg.SweepSchedule)

	authService := services.NewAuthService(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret, cfg.JWTTTL)
	adminService := services.NewAdminService(apiDB, invalidator)

	var statsReader handlers.StatsReader
	if stats != nil {
		statsReader = stats
	}
	credentialHandler := handlers.NewCredentialHandler(adminService, authService, statsReader, log)
	ebsHandler := handlers.NewEbsHandler(dataDB, table)

	checks := map[string]handlers.Pinger{"database": dataDB, "redis": nil}
	if apiDB != dataDB {
		checks["api_database"] = apiDB
	}
	if redisClient != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthHandler := handlers.NewHealthHandler(checks)

	if os.Getenv("GIN_MODE") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	router.Use(middleware.Recovery(log))
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	var guard *middleware.IPGuard
	if cfg.GuardRPS > 0 {
		guard = middleware.NewIPGuard(cfg.GuardRPS, cfg.GuardBurst, 3*time.Minute, time.Minute, log)
		router.Use(guard.Middleware())
	}

	router.GET("/health", healthHandler.Health)
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	api.Use(middleware.GatewayMiddleware(gw, middleware.GatewayOptions{
		ClientHeader:     cfg.ClientHeader,
		SecretHeader:     cfg.SecretHeader,
		APIKeyHeader:     cfg.APIKeyHeader,
		AllowQueryParams: cfg.AllowQueryCredentials,
	}))
	api.GET("/:source", ebsHandler.ListEvents)

	if cfg.AdminEnabled() {
		router.POST("/admin/login", middleware.ValidationMiddleware(), credentialHandler.Login)
		admin := router.Group("/admin")
		admin.Use(middleware.AdminAuth(authService))
		admin.Use(middleware.ValidationMiddleware())
		admin.POST("/credentials", credentialHandler.CreateCredential)
		admin.GET("/credentials/:id", credentialHandler.GetCredential)
		admin.PATCH("/credentials/:id", credentialHandler.UpdateCredential)
		admin.PUT("/credentials/:id/limits", credentialHandler.ReplaceLimits)
		admin.PUT("/credentials/:id/ips", credentialHandler.ReplaceIPs)
		admin.GET("/stats", credentialHandler.GetStats)
		if wsHandler != nil {
			admin.GET("/ws", wsHandler.HandleConnections)
		}
	} else {
		log.Warn("ADMIN_PASSWORD_HASH not set, admin API disabled")
	}

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	sched.Stop()
	if guard != nil {
		guard.Stop()
	}
	if bus != nil {
		bus.Close()
	}
	stop()
	tasks.Close()
	if redisClient != nil {
		redisClient.Close()
	}
	if err := dataDB.Close(); err != nil {
		log.Warn("Error closing database", "error", err)
	}
	if apiDB != dataDB {
		apiDB.Close()
	}

	log.Info("Server exiting")
}
