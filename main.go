package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-bidding/internal/auction"
	"ms-bidding/internal/auction/auction_api"
	auction_db "ms-bidding/internal/auction/db"
	"ms-bidding/internal/auction/engine"
	rediswrap "ms-bidding/internal/auction/redis"
	"ms-bidding/internal/auction/settlement"
	"ms-bidding/internal/auth"
	"ms-bidding/internal/config"
	"ms-bidding/internal/database/migrations"
	"ms-bidding/internal/kafka"
	"ms-bidding/internal/logger"
	"ms-bidding/internal/models"
	"ms-bidding/internal/payment"
	"ms-bidding/internal/sse"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	log.Info("DATABASE", "✅ PostgreSQL connection successful")

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	// Close triggers ride on key expiry, so notifications must be on.
	_, err = redisClient.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result()
	if err != nil {
		log.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
	} else {
		log.Info("REDIS", "Keyspace notifications enabled for expired events")
	}

	log.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Bidding Engine initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	log.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	if os.Getenv("AUTO_MIGRATE") == "true" {
		runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
		log.Info("DATABASE", "Schema migrations applied")
	}

	log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, cfg.Kafka.MockMode)
	defer producer.Close()

	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		requiredTopics := []string{
			cfg.Kafka.Topics.AuctionExtended,
			cfg.Kafka.Topics.AuctionClosed,
			cfg.Kafka.Topics.BidOutbid,
			cfg.Kafka.Topics.Settlement,
			cfg.Kafka.Topics.SettlementResults,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
	}

	dbLayer := auction_db.New(bunDB)
	snapshot := rediswrap.NewRedis(redisClient)
	bidStream := sse.NewBidEventEmitter()

	trigger := settlement.NewTrigger(dbLayer, producer, log)
	bidEngine := engine.New(dbLayer, producer, trigger, snapshot, bidStream, cfg.Auction, log)
	service := auction.NewService(dbLayer, bidEngine, snapshot, cfg.Auction, log)

	handler := auction_api.NewHandler(service, log)
	sseHandler := auction_api.NewSSEHandler(log, bidStream)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/api/auctions/{auctionId}/live", sseHandler.HandleLiveBids)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware())
		log.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api/auctions", handler.Routes)
		log.Info("ROUTER", "Auction routes registered under /api/auctions")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Background machinery: redis-driven closes, DB sweeps, settlement
	// reconciliation and the result consumer.
	log.Info("REDIS", "Starting auction close subscription")
	closeEvents := snapshot.SubscribeCloseEvents(ctx)
	service.StartCloseSubscriber(ctx, closeEvents)
	service.StartLifecycle(ctx, cfg.Auction.ActivateInterval, cfg.Auction.CloseSweepInterval)
	trigger.StartReconciler(ctx, cfg.Auction.SettlementRetry)

	if cfg.Kafka.Enabled && !cfg.Kafka.MockMode {
		resultConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.SettlementResults, cfg.Kafka.GroupID)
		defer resultConsumer.Close()
		go resultConsumer.StartSettlementResults(ctx, func(result models.SettlementResult) {
			trigger.HandleResult(ctx, result)
		})
		log.Info("KAFKA", "Settlement result consumer started")

		if os.Getenv("PAYMENT_PROCESSOR_ENABLED") == "true" {
			payment.InitStripe()
			processor := payment.NewProcessor(producer, log, os.Getenv("PAYMENT_MOCK_MODE") == "true")
			intentConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Settlement, cfg.Kafka.GroupID+"-payments")
			defer intentConsumer.Close()
			go intentConsumer.StartSettlementIntents(ctx, func(intent models.SettlementIntent) {
				processor.HandleIntent(ctx, intent)
			})
			log.Info("PAYMENT", "In-process settlement payment processor started")
		}
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Bidding Engine running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancelBackground()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Bidding Engine shutdown complete")
	}
}
