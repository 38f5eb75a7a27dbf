package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/thoughtswap/thoughtswap/internal/v1/audit"
	"github.com/thoughtswap/thoughtswap/internal/v1/auth"
	"github.com/thoughtswap/thoughtswap/internal/v1/config"
	"github.com/thoughtswap/thoughtswap/internal/v1/health"
	"github.com/thoughtswap/thoughtswap/internal/v1/lms"
	"github.com/thoughtswap/thoughtswap/internal/v1/logging"
	"github.com/thoughtswap/thoughtswap/internal/v1/middleware"
	"github.com/thoughtswap/thoughtswap/internal/v1/ratelimit"
	"github.com/thoughtswap/thoughtswap/internal/v1/room"
	"github.com/thoughtswap/thoughtswap/internal/v1/store"
	"github.com/thoughtswap/thoughtswap/internal/v1/store/postgres"
	"github.com/thoughtswap/thoughtswap/internal/v1/tracing"
	"github.com/thoughtswap/thoughtswap/internal/v1/transport"
	"github.com/thoughtswap/thoughtswap/internal/v1/types"
)

const serviceName = "thoughtswap-session"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	ctx := context.Background()

	// --- Tracing (Optional) ---
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OTelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OTelCollectorAddr)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("Tracing initialized", "collector", cfg.OTelCollectorAddr)
			tracerProvider = tp
		}
	}

	// --- Session Store ---
	// Postgres when DATABASE_URL is set; the in-memory store otherwise
	// (dev mode only, state dies with the process).
	var st store.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := postgres.New(ctx, cfg.DatabaseURL, cfg.MigrateOnStart)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		st = pgStore
		slog.Info("Postgres store initialized", "migrate_on_start", cfg.MigrateOnStart)
	} else {
		st = store.NewMemoryStore()
		slog.Warn("DATABASE_URL not set, using in-memory store; all state is lost on restart")
	}

	// --- Redis (Optional) ---
	// Backs the rate limiter when enabled.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, continuing in single-instance mode", "error", err)
			redisClient = nil
		} else {
			slog.Info("Redis connected", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	rateLimiter, err := ratelimit.New(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Login Surface ---
	// The LMS is the identity authority; dev mode without a tenant falls back
	// to a static teacher profile so the OAuth flow stays exercisable.
	var authenticator lms.Authenticator
	if cfg.LMSDomain != "" {
		lmsClient, err := lms.New(ctx, lms.Config{
			Domain:       cfg.LMSDomain,
			ClientID:     cfg.LMSClientID,
			ClientSecret: cfg.LMSClientSecret,
			RedirectURL:  cfg.LMSRedirectURL,
		})
		if err != nil {
			slog.Error("Failed to initialize LMS client", "error", err)
			os.Exit(1)
		}
		authenticator = lmsClient
		slog.Info("LMS authenticator initialized", "domain", cfg.LMSDomain)
	} else {
		slog.Warn("LMS_DOMAIN not set, using static dev authenticator")
		authenticator = &lms.StaticAuthenticator{Profile: lms.Profile{
			ExternalID: "dev:teacher",
			Email:      "teacher@thoughtswap.dev",
			Name:       "Dev Teacher",
			Role:       string(store.RoleTeacher),
		}}
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, auth.DefaultTokenTTL)
	if err != nil {
		slog.Error("Failed to create token issuer", "error", err)
		os.Exit(1)
	}

	var validator types.TokenValidator
	if cfg.SkipAuth {
		slog.Warn("Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
		validator = &auth.DevValidator{}
	} else {
		v, err := auth.NewValidator(cfg.JWTSecret)
		if err != nil {
			slog.Error("Failed to create token validator", "error", err)
			os.Exit(1)
		}
		validator = v
	}

	// --- Session Layer ---
	auditLog := audit.New(st)

	registry := room.NewRegistry(st, auditLog, nil, room.Config{
		SurveyURL:              cfg.SurveyURL,
		DefaultMaxSwapRequests: cfg.DefaultMaxSwapRequests,
	})

	hub := transport.NewHub(validator, registry, rateLimiter)
	registry.Bind(hub)

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if tracerProvider != nil {
		router.Use(otelgin.Middleware(serviceName))
	}

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{cfg.UIOrigin}
	}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Probes and scrapes stay outside the rate limiter.
	healthHandler := health.NewHandler(st, redisClient)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Use(rateLimiter.GlobalMiddleware())

	router.GET("/ws", hub.ServeWs)

	authHandler := auth.NewHandler(issuer, authenticator, st, cfg.UIOrigin)
	authGroup := router.Group("/auth")
	authGroup.Use(rateLimiter.AuthMiddleware())
	{
		authGroup.GET("/login", authHandler.Login)
		authGroup.GET("/callback", authHandler.Callback)
		authGroup.POST("/guest", authHandler.GuestLogin)
	}

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Session server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active WebSocket connections gracefully
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during Hub shutdown:", "error", err)
	}

	// Cancel pending timers. Active sessions stay active in the store and are
	// rebuilt when the server comes back.
	registry.Shutdown()

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Flush the audit trail before the store goes away.
	auditLog.Close()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		}
	}

	st.Close()

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down tracer provider:", "error", err)
		}
	}

	slog.Info("Server exiting")
}
