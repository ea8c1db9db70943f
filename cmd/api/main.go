package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookshelf-api/internal/cache"
	"bookshelf-api/internal/catalog"
	"bookshelf-api/internal/config"
	"bookshelf-api/internal/handler"
	"bookshelf-api/internal/logger"
	"bookshelf-api/internal/middleware"
	"bookshelf-api/internal/repository"
	"bookshelf-api/internal/router"
	"bookshelf-api/internal/service"
	"bookshelf-api/internal/views"

	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting bookshelf API",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("store", cfg.Store.Type),
		zap.String("cache", cfg.Cache.Type))

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	viewCache, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer viewCache.Close()
	log.Info("view cache initialized", zap.String("type", cfg.Cache.Type))

	store, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("document store initialized", zap.String("type", cfg.Store.Type))

	registry, err := catalog.NewRegistry(catalog.Options{
		ListTTL:     cfg.Views.ListTTL,
		FilteredTTL: cfg.Views.FilteredTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to register views: %w", err)
	}

	engine, err := views.NewEngine(registry, store, viewCache, views.Options{
		Concurrency:    cfg.Views.RefreshConcurrency,
		EvictOnFailure: cfg.Views.EvictOnFailure,
		StoreTimeout:   cfg.Store.OpTimeout,
		FilteredMax:    cfg.Views.FilteredMax,
	}, log)
	if err != nil {
		return err
	}

	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := engine.Warm(warmCtx); err != nil {
		log.Warn("failed to load cached filtered views", zap.Error(err))
	}
	cancel()

	catalogService := service.NewCatalogService(store, engine, cfg.Store.OpTimeout*4, log)

	pruner := service.NewPruneScheduler(engine, service.PruneConfig{Interval: cfg.Views.PruneInterval}, log)
	pruner.Start()
	defer pruner.Stop()

	if len(cfg.App.AdminAPIKeys) == 0 {
		log.Warn("ADMIN_API_KEYS is empty, admin endpoints will refuse all requests")
	}

	r := router.New(router.Config{
		Handler: handler.New(cfg.App.Name, cfg.App.Version,
			handler.Dependency{Name: "store", Pinger: store},
			handler.Dependency{Name: "cache", Pinger: viewCache},
		),
		CatalogHandler: handler.NewCatalogHandler(catalogService, log),
		AdminHandler:   handler.NewAdminHandler(catalogService, pruner, cfg.Store.Type, cfg.Cache.Type, log),
		AdminAuth:      middleware.NewAdminAuth(cfg.App.AdminAPIKeys),
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func openCache(cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Type {
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
			OpTimeout: cfg.OpTimeout,
		})
	case "badger":
		return cache.NewBadgerCache(cache.BadgerConfig{Dir: cfg.BadgerDir})
	default:
		return cache.NewMemoryCache(), nil
	}
}

func openStore(cfg config.StoreConfig, log *zap.Logger) (repository.DocumentStore, error) {
	switch cfg.Type {
	case "mongodb", "mongo":
		return repository.NewMongoStore(cfg.MongoURI, cfg.MongoDatabase, log)
	case "postgres", "postgresql":
		return repository.NewPostgresStore(cfg.PostgresDSN(), log)
	case "mysql":
		return repository.NewMySQLStore(cfg.MySQLDSN(), log)
	case "sqlite":
		return repository.NewSQLiteStore(cfg.Path, log)
	default:
		return repository.NewMemoryStore(), nil
	}
}
