// cmd/api/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/marketplace-billing/internal/config"
	"github.com/your-org/marketplace-billing/internal/infrastructure/database/postgres"
	"github.com/your-org/marketplace-billing/internal/infrastructure/database/redis"
	"github.com/your-org/marketplace-billing/internal/interfaces/http"
	"github.com/your-org/marketplace-billing/internal/pkg/gateway"
	"github.com/your-org/marketplace-billing/internal/pkg/logger"
	"github.com/your-org/marketplace-billing/internal/pkg/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("🚀 Starting %s v%s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Environment)

	appLogger := logger.New(cfg)

	db, err := postgres.NewConnection(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := redis.NewConnection(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	if err := db.Health(); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}

	if err := redisClient.Health(context.Background()); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}

	migration := postgres.NewMigration(db.GetDB())

	if err := migration.RunAutoMigrations(); err != nil {
		log.Fatalf("Database migration failed: %v", err)
	}

	if err := migration.CreateIndexes(); err != nil {
		log.Printf("Warning: Index creation failed: %v", err)
	}

	if cfg.IsDevelopment() {
		if err := migration.SeedInitialData(); err != nil {
			log.Printf("Warning: Data seeding failed: %v", err)
		}
		if err := migration.GetTableInfo(); err != nil {
			log.Printf("Warning: Table info failed: %v", err)
		}
	}

	if cfg.External.Stripe.SecretKey == "" {
		appLogger.Warn("STRIPE_SECRET_KEY is empty; gateway calls will fail")
	}
	if cfg.External.Stripe.WebhookSecret == "" {
		appLogger.Warn("STRIPE_WEBHOOK_SECRET is empty; webhook deliveries will be rejected with 500")
	}

	gw := gateway.NewStripeGateway(cfg)
	notifier := notify.NewService(cfg, appLogger)

	log.Println("✅ All systems operational!")

	server := http.NewServer(cfg, db.GetDB(), redisClient, gw, notifier, appLogger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("👋 Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}

	// Let in-flight notifications finish
	notifier.Wait()

	log.Println("✅ Server shutdown completed")
}
