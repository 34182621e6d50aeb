// Command rms-sync reconciles storefront inventory against the
// authoritative RMS database.
//
//	rms-sync run    execute a reverse sync and print the report as JSON
//	rms-sync check  verify connectivity to RMS, the storefront and the
//	                lock backend
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/retailops/rms-bridge/pkg/catalog"
	"github.com/retailops/rms-bridge/pkg/config"
	"github.com/retailops/rms-bridge/pkg/locks"
	"github.com/retailops/rms-bridge/pkg/observability"
	"github.com/retailops/rms-bridge/pkg/reversesync"
	"github.com/retailops/rms-bridge/pkg/rms"

	_ "github.com/lib/pq" // Postgres Driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return runSyncCmd(args[2:], stdout, stderr)
	case "check":
		return runCheckCmd(stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: rms-sync <run|check> [flags]")
	_, _ = fmt.Fprintln(w, "  run    execute a reverse sync (see 'rms-sync run -h')")
	_, _ = fmt.Fprintln(w, "  check  verify RMS, storefront and lock backend connectivity")
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// newLockManager selects the lock backend: Redis when configured and
// reachable, otherwise the file-backed fallback.
func newLockManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) (locks.Manager, func() error, error) {
	if cfg.RedisAddr != "" {
		mgr := locks.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := mgr.Ping(pingCtx)
		cancel()
		if err == nil {
			return mgr, mgr.Close, nil
		}
		_ = mgr.Close()
		logger.Warn("redis unreachable, falling back to file-backed locks",
			"addr", cfg.RedisAddr, "error", err)
	}

	mgr, err := locks.NewSQLiteManager(cfg.LockDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Close, nil
}

func observabilityFromEnv(ctx context.Context, logger *slog.Logger) (*observability.Provider, error) {
	obsCfg := observability.DefaultConfig()
	if os.Getenv("OTEL_ENABLED") == "true" {
		obsCfg.Enabled = true
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		obsCfg.OTLPEndpoint = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		obsCfg.Environment = v
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	if obsCfg.Enabled {
		logger.Info("telemetry enabled", "endpoint", obsCfg.OTLPEndpoint)
	}
	return obs, nil
}

func runSyncCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "record decisions without mutating the storefront")
	deleteZeroStock := fs.Bool("delete-zero-stock", cfg.Sync.DeleteZeroStock, "delete variants whose authoritative stock is zero")
	preserveSingle := fs.Bool("preserve-single-variant", cfg.Sync.PreserveSingleVariant, "never delete a product's last remaining variant")
	batchSize := fs.Int("batch-size", cfg.Sync.BatchSize, "products fetched per page")
	limit := fs.Int("limit", 0, "stop after this many products (0 = all)")
	maxConcurrent := fs.Int("max-concurrent", cfg.Sync.MaxConcurrent, "concurrent product reconciliations")
	profilePath := fs.String("profile", "", "YAML sync profile overriding the defaults")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *profilePath != "" {
		settings, err := config.LoadProfile(*profilePath, cfg.Sync)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			return 2
		}
		cfg.Sync = settings
		// Flags given explicitly on the command line beat the profile.
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "delete-zero-stock":
				cfg.Sync.DeleteZeroStock = *deleteZeroStock
			case "preserve-single-variant":
				cfg.Sync.PreserveSingleVariant = *preserveSingle
			case "batch-size":
				cfg.Sync.BatchSize = *batchSize
			case "max-concurrent":
				cfg.Sync.MaxConcurrent = *maxConcurrent
			}
		})
	} else {
		cfg.Sync.DeleteZeroStock = *deleteZeroStock
		cfg.Sync.PreserveSingleVariant = *preserveSingle
		cfg.Sync.BatchSize = *batchSize
		cfg.Sync.MaxConcurrent = *maxConcurrent
	}

	if cfg.ShopDomain == "" || cfg.AccessToken == "" {
		_, _ = fmt.Fprintln(stderr, "Error: SHOPIFY_SHOP_DOMAIN and SHOPIFY_ACCESS_TOKEN must be set")
		return 2
	}

	logger := newLogger(cfg.LogLevel, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := rms.Open(cfg.RMSDatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	defer store.Close()

	lockMgr, closeLocks, err := newLockManager(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	defer func() { _ = closeLocks() }()

	obs, err := observabilityFromEnv(ctx, logger)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	client := catalog.New(cfg.ShopDomain, cfg.AccessToken, cfg.APIVersion, logger)

	resolver := reversesync.NewStockResolver(store, logger)
	validator := reversesync.NewDeletionValidator(client, logger)
	rollback := reversesync.NewRollbackCoordinator(client, logger)
	reconciler := reversesync.NewReconciler(client, resolver, validator, rollback, lockMgr, logger)
	orchestrator := reversesync.NewOrchestrator(client, reconciler, obs, logger)

	report, err := orchestrator.Execute(ctx, reversesync.Options{
		DryRun:                *dryRun,
		DeleteZeroStock:       cfg.Sync.DeleteZeroStock,
		PreserveSingleVariant: cfg.Sync.PreserveSingleVariant,
		BatchSize:             cfg.Sync.BatchSize,
		Limit:                 *limit,
		MaxConcurrent:         cfg.Sync.MaxConcurrent,
		LockTTL:               cfg.Sync.LockTTL,
		InterPageDelay:        cfg.Sync.InterPageDelay,
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(out))

	if report.Statistics.Errors > 0 {
		return 1
	}
	return 0
}

func runCheckCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel, stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	failed := false
	check := func(name string, err error) {
		if err != nil {
			failed = true
			_, _ = fmt.Fprintf(stdout, "FAIL  %s: %v\n", name, err)
			return
		}
		_, _ = fmt.Fprintf(stdout, "OK    %s\n", name)
	}

	store, err := rms.Open(cfg.RMSDatabaseURL)
	if err == nil {
		err = store.Ping(ctx)
		defer store.Close()
	}
	check("rms database", err)

	if cfg.ShopDomain == "" || cfg.AccessToken == "" {
		check("storefront api", fmt.Errorf("SHOPIFY_SHOP_DOMAIN and SHOPIFY_ACCESS_TOKEN must be set"))
	} else {
		client := catalog.New(cfg.ShopDomain, cfg.AccessToken, cfg.APIVersion, logger)
		_, err = client.PrimaryLocationID(ctx)
		check("storefront api", err)
	}

	if cfg.RedisAddr != "" {
		mgr := locks.NewRedisManager(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		check("redis lock backend", mgr.Ping(ctx))
		_ = mgr.Close()
	} else {
		mgr, err := locks.NewSQLiteManager(cfg.LockDir, logger)
		if err == nil {
			_ = mgr.Close()
		}
		check("file lock backend", err)
	}

	if failed {
		return 1
	}
	return 0
}
