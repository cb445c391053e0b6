package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beansplit/beansplit/internal/api"
	"github.com/beansplit/beansplit/internal/config"
	"github.com/beansplit/beansplit/internal/handler"
	"github.com/beansplit/beansplit/internal/infrastructure/kafka"
	"github.com/beansplit/beansplit/internal/infrastructure/redis"
	"github.com/beansplit/beansplit/internal/observability"
	core "github.com/beansplit/beansplit/internal/repository/postgres"
	service "github.com/beansplit/beansplit/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	shutdown := observability.Setup("beansplit")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()
	if err := core.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	purchaseRepo := core.NewPostgresPurchaseRepository(db)
	shareRepo := core.NewPostgresShareRepository(db)
	groupRepo := core.NewPostgresGroupRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	aggregator := service.NewPurchaseAggregator(purchaseRepo, shareRepo)
	resolver := service.NewReconciliationResolver(shareRepo)
	purchaseSvc := service.NewPurchaseService(db, purchaseRepo, shareRepo, groupRepo, aggregator, redisClient, producer, cfg.BankAccount, cfg.Currency)
	reconciliationSvc := service.NewReconciliationService(db, shareRepo, resolver, aggregator, redisClient, producer)

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	statementConsumer := kafka.NewBankStatementConsumer(cfg.KafkaBrokers, "bank-statements", "beansplit-reconciliation", shareRepo, reconciliationSvc)
	go statementConsumer.Consume(consumerCtx)
	defer statementConsumer.Close()

	h := handler.NewHandler(purchaseSvc, reconciliationSvc)
	router := api.SetupRouter(h)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
