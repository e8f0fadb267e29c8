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

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/tablesync/internal/api"
	"github.com/prudhvinik1/tablesync/internal/config"
	"github.com/prudhvinik1/tablesync/internal/database"
	"github.com/prudhvinik1/tablesync/internal/feed"
	"github.com/prudhvinik1/tablesync/internal/models"
	"github.com/prudhvinik1/tablesync/internal/repositories"
	"github.com/prudhvinik1/tablesync/internal/services"
	"github.com/prudhvinik1/tablesync/internal/warehouse"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("syncd exited", zap.Error(err))
	}
	log.Info("syncd stopped gracefully")
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	warehouseURL := os.Getenv("WAREHOUSE_URL")
	if warehouseURL == "" {
		return errors.New("WAREHOUSE_URL is required")
	}

	// Initialize database connections
	pool, err := database.NewPostgresPool(ctx, log, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	if err := repositories.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	state := repositories.NewPostgresStateStore(pool)
	target := repositories.NewPostgresTarget(pool)
	exporter := warehouse.NewHTTPExporter(warehouseURL)

	retry := services.Retry{MaxAttempts: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}
	builder := services.NewStatementBuilder(cfg.MaxBatchRows)
	planner := services.NewPlanner(manifest.Dependencies)
	locator := services.NewChangeLocator(exporter)
	recovery := services.NewRecoveryCoordinator(manifest, state, target, exporter, builder, cfg.ResyncSafeBehind, log)
	batch := services.NewBatchController(manifest, locator, builder, planner, state, target, exporter, recovery, retry, log)

	// Stream tables need the change feed; only connect redis when some exist.
	streams := make(map[string]*services.StreamController)
	if hasStreamTables(manifest) {
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required for stream tables")
		}
		redisClient, err := database.NewRedisClient(ctx, log, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer redisClient.Close()

		for i := range manifest.Tables {
			t := &manifest.Tables[i]
			if t.Mode != models.SyncModeStream {
				continue
			}
			tableFeed, err := feed.NewRedisFeed(ctx, redisClient, t.ID, "syncd")
			if err != nil {
				return err
			}
			streams[t.ID] = services.NewStreamController(
				t, tableFeed, builder, state, target, retry,
				cfg.StreamFlushRows, cfg.StreamFlushInterval, log)
		}
	}

	engine := services.NewEngine(manifest, planner, batch, recovery, streams, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.NewServer(engine, cfg.OperatorTokenSecret, log).Routes(),
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return engine.RunScheduler(ctx, cfg.SyncInterval)
	})
	group.Go(func() error {
		return engine.RunStreams(ctx)
	})
	group.Go(func() error {
		log.Info("starting operator API", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func hasStreamTables(m *config.Manifest) bool {
	for i := range m.Tables {
		if m.Tables[i].Mode == models.SyncModeStream {
			return true
		}
	}
	return false
}
