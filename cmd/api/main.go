package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GadCoder/BikeRoutes/internal/config"
	"github.com/GadCoder/BikeRoutes/internal/handlers"
	"github.com/GadCoder/BikeRoutes/internal/rate"
	"github.com/GadCoder/BikeRoutes/internal/security"
	"github.com/GadCoder/BikeRoutes/internal/storage"
	"github.com/GadCoder/BikeRoutes/libs/health"
	"github.com/GadCoder/BikeRoutes/libs/httpmiddleware"
	"github.com/GadCoder/BikeRoutes/libs/logging"
	"github.com/GadCoder/BikeRoutes/libs/metrics"
	"github.com/GadCoder/BikeRoutes/libs/trace"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	ready := health.NewManager(true)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	ready.AddCheck("postgres", pool.Ping)

	limiter, limiterClose, err := buildLimiter(cfg, logger)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = limiterClose()
	}()

	store := storage.New(pool)
	pbkdf2Params := security.PBKDF2Params{
		Iterations: cfg.PBKDF2.Iterations,
		SaltLength: cfg.PBKDF2.SaltLength,
		KeyLength:  cfg.PBKDF2.KeyLength,
	}

	gateway := handlers.NewGateway(store, logger, cfg.JWTSecret, cfg.DebugAuth)
	if cfg.DebugAuth {
		logger.Warn("debug impersonation header enabled; never run this configuration in production")
	}
	authHandler := handlers.NewAuthHandler(store, logger, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, pbkdf2Params, limiter)
	routeHandler := handlers.NewRouteHandler(store, logger)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	authHandler.RegisterRoutes(router, gateway)
	routeHandler.RegisterRoutes(router, gateway)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("api starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(server, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func buildLimiter(cfg *config.Config, logger *slog.Logger) (rate.Limiter, func() error, error) {
	if cfg.RateLimit.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.Env == "dev" || cfg.App.Env == "test" {
				logger.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
				return rate.NewMemory(cfg.RateLimit.AuthLimit, cfg.RateLimit.Window), func() error { return nil }, nil
			}
			return nil, nil, err
		}

		return rate.NewRedisLimiter(client, cfg.RateLimit.AuthLimit, cfg.RateLimit.Window, cfg.RateLimit.Redis.Prefix), client.Close, nil
	}

	return rate.NewMemory(cfg.RateLimit.AuthLimit, cfg.RateLimit.Window), func() error { return nil }, nil
}

func waitForShutdown(server *http.Server, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
