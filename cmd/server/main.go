package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/example/battery-swap/internal/cache"
	"github.com/example/battery-swap/internal/config"
	"github.com/example/battery-swap/internal/dispatch"
	"github.com/example/battery-swap/internal/events"
	"github.com/example/battery-swap/internal/favorites"
	"github.com/example/battery-swap/internal/geo"
	httpapi "github.com/example/battery-swap/internal/http"
	"github.com/example/battery-swap/internal/inventory"
	"github.com/example/battery-swap/internal/lease"
	"github.com/example/battery-swap/internal/logging"
	"github.com/example/battery-swap/internal/models"
	"github.com/example/battery-swap/internal/snapshot"
	"github.com/example/battery-swap/internal/storage"
	"github.com/example/battery-swap/internal/support"
	"github.com/example/battery-swap/internal/swap"
	"github.com/example/battery-swap/internal/telemetry"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.New(os.Stdout, cfg.LogLevel, "battery-swap-api")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, "battery-swap-api", cfg.OTLPEndpoint, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable yet", "addr", cfg.RedisAddr, "error", err)
		}
		defer rdb.Close()
	}

	var locator geo.Locator = geo.NewIndex()
	if rdb != nil {
		locator = geo.NewRedisGeo(rdb, cfg.RedisGeoKey)
	}

	inv := inventory.NewStore()
	inv.Subscribe(geo.InventoryListener(locator, logger))
	if err := loadInventory(ctx, cfg, inv, store, logger); err != nil {
		return err
	}

	stations := cache.NewStationCache(cfg.StationCacheTTL, func(_ context.Context, id string) (models.StationRecord, error) {
		return inv.StationRecord(id)
	})
	inv.Subscribe(stations.InventoryListener())

	outbox := events.NewOutbox(1024, logger)
	inv.Subscribe(outbox.InventoryListener())
	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	wsreg := dispatch.NewWSRegistry(logger)

	var favSet favorites.Membership = favorites.NewMemorySet()
	var recents favorites.RecentList = favorites.NewMemoryRecent()
	var favLeases lease.Locker = lease.NewSet()
	if rdb != nil {
		favSet = favorites.NewRedisSet(rdb, "favorites:")
		recents = favorites.NewRedisRecent(rdb, "recents:")
		favLeases = lease.NewRedis(rdb, "lease:", cfg.LeaseTTL)
	}

	swaps := &swap.Service{
		Inventory: inv,
		Bookings:  store,
		Events:    outbox,
		Notify:    wsreg,
		Fee:       cfg.SwapFee,
		Logger:    logger,
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Inventory:     inv,
		Stations:      stations,
		Geo:           locator,
		Swaps:         swaps,
		Favorites:     &favorites.Service{Favorites: favSet, Recents: recents, Stations: inv, Leases: favLeases, RecentLimit: cfg.RecentLimit, Logger: logger},
		Support:       &support.Service{Tickets: store, Bookings: store, Logger: logger},
		WSReg:         wsreg,
		Logger:        logger,
		NearbyRadiusM: cfg.NearbyRadiusM,
		CORSOrigins:   cfg.CORSOrigins,
	})

	c := cron.New(cron.WithLocation(time.UTC))
	if cfg.SnapshotSchedule != "off" {
		job := &snapshot.Job{Stations: inv, Events: outbox, Logger: logger}
		if _, err := job.Schedule(c, cfg.SnapshotSchedule); err != nil {
			return fmt.Errorf("schedule station snapshot: %w", err)
		}
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outbox.Run(gctx, publisher)
		return nil
	})
	g.Go(func() error {
		c.Start()
		<-gctx.Done()
		<-c.Stop().Done()
		return nil
	})
	g.Go(func() error {
		logger.Info("battery-swap listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

// openStore picks Postgres when a DSN is configured and the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Info("no PG_DSN set; using in-memory storage")
		return storage.NewMemoryStore(), nil
	}
	ps, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.RunMigrations {
		if err := ps.Migrate(ctx); err != nil {
			ps.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}
	return ps, nil
}

// loadInventory restores persisted inventory. An empty store is seeded from
// SEED_FILE when one is configured; seeding goes through the persister so
// the seed is written back.
func loadInventory(ctx context.Context, cfg config.ServerConfig, inv *inventory.Store, store storage.Store, logger *slog.Logger) error {
	snap, err := store.LoadInventory(ctx)
	if err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}
	if len(snap.Stations) == 0 && cfg.SeedFile != "" {
		seed, err := storage.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		inv.SetPersister(store)
		if err := inv.Load(ctx, seed); err != nil {
			return fmt.Errorf("seed inventory: %w", err)
		}
		logger.Info("inventory seeded", "file", cfg.SeedFile, "stations", len(seed.Stations), "batteries", len(seed.Batteries))
		return nil
	}
	if err := inv.Load(ctx, snap); err != nil {
		return fmt.Errorf("restore inventory: %w", err)
	}
	inv.SetPersister(store)
	logger.Info("inventory restored", "stations", len(snap.Stations), "batteries", len(snap.Batteries))
	return nil
}
