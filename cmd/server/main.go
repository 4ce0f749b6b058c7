package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/eventra/backend/docs"
	"github.com/eventra/backend/internal/database"
	"github.com/eventra/backend/internal/events"
	"github.com/eventra/backend/internal/handlers"
	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/logger"
	"github.com/eventra/backend/internal/metrics"
	mW "github.com/eventra/backend/internal/middleware"
)

// @title Eventra Wallet API
// @version 1.0
// @description Funds ledger for the Eventra event marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("env", "APP_ENV")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	viper.BindEnv("ledger.max_balance", "LEDGER_MAX_BALANCE")
	viper.BindEnv("ledger.max_retries", "LEDGER_MAX_RETRIES")
	viper.BindEnv("ledger.retry_backoff", "LEDGER_RETRY_BACKOFF")
	viper.BindEnv("ledger.persistence_retries", "LEDGER_PERSISTENCE_RETRIES")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("env", "local")
	viper.SetDefault("metrics.port", "9090")
	viper.SetDefault("ledger.max_balance", ledger.DefaultMaxBalance)
	viper.SetDefault("ledger.max_retries", 5)
	viper.SetDefault("ledger.retry_backoff", 10*time.Millisecond)
	viper.SetDefault("ledger.persistence_retries", 3)

	zlog, err := logger.New("wallet-ledger", viper.GetString("env"))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Swagger metadata
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	db, err := database.InitDB()
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.InitRedis()
	if err != nil {
		zlog.Warn("redis unavailable, continuing without idempotency cache", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := events.NewKafkaPublisher(viper.GetStringSlice("kafka.brokers"))
	if publisher != nil {
		defer publisher.Close()
	} else {
		zlog.Info("no kafka brokers configured, transaction events disabled")
	}

	store := ledger.NewPostgresStore(db)
	cache := ledger.NewResultCache(redisClient)
	svc := ledger.NewService(store, cache, publisherOrNil(publisher), zlog, ledger.Config{
		MaxBalance:         viper.GetInt64("ledger.max_balance"),
		MaxRetries:         viper.GetInt("ledger.max_retries"),
		RetryBackoff:       viper.GetDuration("ledger.retry_backoff"),
		PersistenceRetries: viper.GetInt("ledger.persistence_retries"),
	})
	walletHandler := handlers.NewWalletHandler(svc, zlog)

	// Metrics/health sidecar
	metricsSrv := metrics.StartServer(viper.GetString("metrics.port"), func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	defer metricsSrv.Close()

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", walletHandler.GetBalance)
			r.Get("/wallet/transactions", walletHandler.ListTransactions)
			r.Get("/wallet/audit", walletHandler.Audit)

			r.Post("/wallet/deposit", walletHandler.Deposit)
			r.Post("/wallet/withdraw", walletHandler.Withdraw)
			r.Post("/wallet/hold", walletHandler.Hold)
			r.Post("/wallet/release", walletHandler.Release)
			r.Post("/wallet/capture", walletHandler.Capture)
			r.Post("/wallet/payout", walletHandler.Payout)
			r.Post("/wallet/refund", walletHandler.Refund)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		zlog.Info("server starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server stopped")
}

// publisherOrNil avoids handing the service a non-nil interface wrapping a
// nil *KafkaPublisher.
func publisherOrNil(p *events.KafkaPublisher) ledger.Publisher {
	if p == nil {
		return nil
	}
	return p
}
