package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vantari-rp/tally/internal/catalog"
	corecfg "github.com/vantari-rp/tally/internal/core/config"
	"github.com/vantari-rp/tally/internal/core/storage/postgres"
	"github.com/vantari-rp/tally/internal/ledger"
	"github.com/vantari-rp/tally/internal/limiter"
	"github.com/vantari-rp/tally/internal/migrations"
	"github.com/vantari-rp/tally/internal/record"
	"github.com/vantari-rp/tally/internal/report"
	"github.com/vantari-rp/tally/internal/rollover"
	"github.com/vantari-rp/tally/internal/server"
	"github.com/vantari-rp/tally/internal/store"
)

func main() {
	configPath := flag.String("config", "tally.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "data_dir", cfg.Data.Dir, "archive_dir", cfg.Data.ArchiveDir)

	catalogTTL, err := cfg.Data.CatalogTTLDuration()
	if err != nil {
		slog.Error("Invalid catalog TTL", "value", cfg.Data.CatalogTTL, "error", err)
		os.Exit(1)
	}
	countersTTL, err := cfg.Data.CountersTTLDuration()
	if err != nil {
		slog.Error("Invalid counters TTL", "value", cfg.Data.CountersTTL, "error", err)
		os.Exit(1)
	}

	// 2. Initialize the Event Log (PostgreSQL, optional)
	var dbAdapter *postgres.Adapter
	if cfg.Database.DSN != "" {
		dbAdapter, err = postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()

		// 2.1. Run Database Migrations
		if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("Event log disabled, running on local datasets only")
	}

	// 3. Initialize Local Datasets
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataPath := func(name string) string { return filepath.Join(cfg.Data.Dir, name) }

	cat := catalog.NewService(
		store.New("establishments", dataPath("establishments.json"), catalogTTL, catalog.DefaultDirectory),
		store.New("products", dataPath("products.json"), catalogTTL,
			func() map[string]catalog.Product { return map[string]catalog.Product{} }),
		store.New("factions", dataPath("factions.json"), catalogTTL,
			func() map[string]catalog.Faction { return map[string]catalog.Faction{} }),
	)
	if cfg.Data.SeedFile != "" {
		if err := cat.SeedFromFile(ctx, cfg.Data.SeedFile); err != nil {
			slog.Error("Failed to seed catalog", "file", cfg.Data.SeedFile, "error", err)
			os.Exit(1)
		}
	}

	heistStore := store.New("weekly_heists", dataPath("weekly_heists.json"), countersTTL, ledger.DefaultHeistTable)
	salesStore := store.New("weekly_sales", dataPath("weekly_sales.json"), countersTTL, ledger.DefaultSalesRegistry)

	// 4. Initialize the Ledger
	lim := limiter.New()

	publish := func(table ledger.HeistTable, dir catalog.Directory) {
		total := 0
		for _, entries := range table {
			for _, entry := range entries {
				total += entry.Total()
			}
		}
		slog.Info("[Publish] Weekly table updated", "heists", total)
	}

	ledgerOpts := []ledger.Option{ledger.WithPublisher(publish)}
	if dbAdapter != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithEventLog(dbAdapter))
	}
	led := ledger.NewService(heistStore, salesStore, cat, lim, ledger.Limits{
		DailyHeists:     cfg.Limits.DailyHeists,
		MaxParticipants: cfg.Limits.MaxParticipants,
	}, ledgerOpts...)

	// 5. Initialize Rollover (cron-based archive-then-reset)
	archives := rollover.NewArchiveRepository(cfg.Data.ArchiveDir)
	controller, err := rollover.New(led, cat, lim, archives, rollover.Schedule{
		Weekly:     cfg.Rollover.Weekly,
		DailyReset: cfg.Rollover.DailyReset,
		Sweep:      cfg.Rollover.Sweep,
		Timezone:   cfg.Rollover.Timezone,
	}, rollover.WithPublisher(publish))
	if err != nil {
		slog.Error("Failed to initialize rollover controller", "error", err)
		os.Exit(1)
	}

	// 6. Initialize Server
	var eventLogPinger server.Pinger
	if dbAdapter != nil {
		eventLogPinger = dbAdapter
	}
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), eventLogPinger, cfg.Server.Mode)
	record.NewService(led).RegisterRoutes(srv.Engine)
	report.NewService(led, lim, archives).RegisterRoutes(srv.Engine)

	// 7. Start Services
	controller.Start()
	defer controller.Stop()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
