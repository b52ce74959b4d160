package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"xero-sync-service/internal/api"
	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/database"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/mapping"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/sync"
	"xero-sync-service/internal/xero"
)

func main() {
	configPath := os.Getenv("XSYNC_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load Config
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Xero Sync Service")

	ctx := context.Background()

	// Init State Store
	stateStore, err := openStateStore(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Init Session
	tokenStore, closeTokens := openTokenStore(cfg.TokenStorage, stateStore)
	defer closeTokens()

	session, err := auth.NewSession(cfg.Xero, tokenStore)
	if err != nil {
		logger.Log.Fatal("Failed to init session", zap.Error(err))
	}
	if err := session.Load(ctx); err != nil {
		logger.Log.Fatal("Failed to load session", zap.Error(err))
	}

	// Init Shop
	shopDB, err := database.NewDatabase(cfg.Shop.Database)
	if err != nil {
		logger.Log.Fatal("Failed to connect to shop database", zap.Error(err))
	}
	defer shopDB.Close()

	catalog := shop.NewRepository(shopDB)
	if cfg.Shop.CreateSchema {
		if err := catalog.ApplySchema(ctx); err != nil {
			logger.Log.Fatal("Failed to create shop schema", zap.Error(err))
		}
	}

	// Init Engine
	client := xero.NewClient(cfg.Xero, session)
	mapper := mapping.NewMapper(mapping.SettingsFromConfig(cfg.Mapping))
	taxes := mapping.NewTaxTable(mapping.LocalRatesFromConfig(cfg.Mapping.TaxRates))
	taxes.Register(mapper)
	reference := sync.NewReferenceData(cfg.Mapping, client, session, stateStore, taxes)
	notifier := sync.Notifiers{sync.LogNotifier{}, sync.MetricsNotifier{}}
	engine := sync.NewEngine(cfg.Sync, catalog, client, session, stateStore, mapper, notifier)

	// Init Sync Manager
	syncManager := sync.NewManager(cfg, engine, reference)
	if err := syncManager.Start(); err != nil {
		logger.Log.Fatal("Failed to start sync manager", zap.Error(err))
	}
	defer syncManager.Stop()

	// Init API
	if cfg.Server.AuthToken == "" {
		logger.Log.Warn("server.auth_token is empty, the API is unauthenticated")
	}
	handler := api.NewHandler(cfg.Server, engine, session, syncManager, reference, stateStore)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}

func openStateStore(cfg config.StateStorage) (store.Store, error) {
	switch cfg.Type {
	case "mysql":
		return store.NewMySQLStore(cfg)
	default:
		return store.OpenSQLite(cfg.FilePath)
	}
}

// openTokenStore returns the configured token store and a func releasing it.
func openTokenStore(cfg config.TokenStorage, state store.Store) (auth.TokenStore, func()) {
	if cfg.Type != "redis" {
		return auth.NewKVTokenStore(state), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closeFn := func() { client.Close() }

	var tokens auth.TokenStore = auth.NewRedisTokenStore(client, cfg.Redis.KeyPrefix)
	if cfg.Fallback {
		tokens = auth.NewFallbackTokenStore(tokens)
	}
	return tokens, closeFn
}
