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
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/scribear/relay/internal/v1/auth"
	"github.com/scribear/relay/internal/v1/config"
	"github.com/scribear/relay/internal/v1/health"
	"github.com/scribear/relay/internal/v1/httpapi"
	"github.com/scribear/relay/internal/v1/logging"
	"github.com/scribear/relay/internal/v1/metrics"
	"github.com/scribear/relay/internal/v1/middleware"
	"github.com/scribear/relay/internal/v1/ratelimit"
	"github.com/scribear/relay/internal/v1/room"
	"github.com/scribear/relay/internal/v1/tracing"
	"github.com/scribear/relay/internal/v1/wsapi"
)

func main() {
	// Load .env for local development. Try a couple of paths so the binary
	// works both from the repo root and from cmd/relay.
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "scribear relay starting", zap.String("go_env", cfg.GoEnv))

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "scribear-relay", cfg.GoEnv, collectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to init tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logging.Error(ctx, "failed to connect to redis, falling back to memory store", zap.Error(err))
			redisClient = nil
		}
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	gate := auth.NewGate(verifier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "transcription_backend",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(ctx, "circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			state := 0.0
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})
	manager := room.NewManager(cfg.TranscriptionServiceURL, cfg.TranscriptionAPIKey, breaker)

	if cfg.DevelopmentMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("scribear-relay"))
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	router.Use(rateLimiter.GlobalMiddleware())

	healthHandler := health.NewHandler()
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	roomsHandler := httpapi.NewRoomsHandler(manager)
	roomsGroup := router.Group("/rooms")
	roomsGroup.Use(rateLimiter.RoomsMiddleware())
	{
		roomsGroup.POST("", roomsHandler.Create)
		roomsGroup.GET("", roomsHandler.List)
		roomsGroup.GET("/:sessionId", roomsHandler.Get)
	}

	audioIngress := wsapi.NewAudioIngressHandler(manager, gate, rateLimiter)
	transcriptEgress := wsapi.NewTranscriptEgressHandler(manager, gate, rateLimiter)
	router.GET("/audio/:sessionId", audioIngress.ServeHTTP)
	router.GET("/transcription/:sessionId", transcriptEgress.ServeHTTP)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "relay listening", zap.String("host", cfg.Host), zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	manager.Shutdown()
	logging.Info(ctx, "relay exited")
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
