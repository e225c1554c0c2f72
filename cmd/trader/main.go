package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"multiplier-trade-bot-go/internal/config"
	"multiplier-trade-bot-go/internal/database"
	"multiplier-trade-bot-go/internal/exchange"
	"multiplier-trade-bot-go/internal/gmgn"
	"multiplier-trade-bot-go/internal/logger"
	"multiplier-trade-bot-go/internal/rugcheck"
	"multiplier-trade-bot-go/internal/store"
	"multiplier-trade-bot-go/internal/trader"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Credentials may come from a local env file; missing is fine.
	_ = godotenv.Load()

	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.Strings("symbols", cfg.Trading.Symbols))

	// Initialize database and position store
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	positions := store.New(db, log)
	log.Info("Database connection successful and schema migrated.")

	// Initialize external adapters
	feed := exchange.NewRestClient(&cfg.Exchange, log.Named("exchange"))
	validator := rugcheck.NewClient(&cfg.Rugcheck, log.Named("rugcheck"))
	session := gmgn.NewSession(&cfg.Gmgn, log.Named("session"))
	gateway := gmgn.NewClient(&cfg.Gmgn, session, log.Named("gateway"))

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Establish the trading session before any monitoring begins.
	if err := session.Authenticate(ctx); err != nil {
		log.Fatal("Failed to establish trading session", zap.Error(err))
	}

	executor := trader.NewOrderExecutor(gateway, positions, &cfg.Executor, log.Named("executor"))
	engine, err := trader.NewEngine(log, &cfg, feed, validator, gateway, session, positions, executor)
	if err != nil {
		log.Fatal("Failed to initialize trading engine", zap.Error(err))
	}

	if err := engine.Run(ctx); err != nil {
		log.Error("Trading engine stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("Bot has been shut down.")
}
