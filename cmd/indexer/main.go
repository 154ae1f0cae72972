package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/config"
	"github.com/goran-ethernal/MarketIndexor/internal/db"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/metrics"
	"github.com/goran-ethernal/MarketIndexor/internal/poller"
	"github.com/goran-ethernal/MarketIndexor/internal/projector"
	"github.com/goran-ethernal/MarketIndexor/internal/rpc"
	"github.com/goran-ethernal/MarketIndexor/internal/source/evm"
	"github.com/goran-ethernal/MarketIndexor/internal/source/rest"
	"github.com/goran-ethernal/MarketIndexor/internal/store"
	pkgconfig "github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║          MarketIndexor v%s             ║
║     NFT Marketplace Event Indexer         ║
╚═══════════════════════════════════════════╝
`
	shutdownTimeout = 10 * time.Second
)

var (
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "MarketIndexor - NFT marketplace event indexer",
	Long: `MarketIndexor polls a ledger for NFT marketplace events (mint, list, purchase,
delist) and projects them into a local SQLite database of entities, listings and
transactions that query commands and external services read from.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runIndexer,
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the event kinds the configured source fetches",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := logger.NewComponentLoggerFromConfig(common.ComponentSource, cfg.Logging)

		src, closeSource, err := newSource(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closeSource()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Event kinds (%s source):\n", cfg.Source.Type)
		for _, kind := range src.Kinds() {
			fmt.Fprintf(out, "  - %s\n", kind)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.Schema()
		if err != nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(kindsCmd, schemaCmd)
	addQueryCommands(rootCmd)
}

func loadConfig() (*pkgconfig.Config, error) {
	if err := config.LoadEnvFiles(".env"); err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newSource builds the adapter selected by source.type. The returned close function
// releases the underlying connection, if any.
func newSource(ctx context.Context, cfg *pkgconfig.Config, log *logger.Logger) (
	interface {
		source.Source
		source.EntityFetcher
	}, func(), error) {
	switch cfg.Source.Type {
	case pkgconfig.SourceTypeEVM:
		client, err := rpc.NewClient(ctx, cfg.Source.Endpoint, cfg.Source.Retry, cfg.Source.RequestTimeout.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create RPC client: %w", err)
		}

		src, err := evm.New(cfg.Source, client, log)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to create evm source: %w", err)
		}
		return src, client.Close, nil
	default:
		src, err := rest.New(cfg.Source, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create rest source: %w", err)
		}
		return src, func() {}, nil
	}
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var sentry *logger.Sentry
	if cfg.Logging != nil && cfg.Logging.SentryDSN != "" {
		if sentry, err = logger.NewSentry(cfg.Logging.SentryDSN, cfg.Logging.IsDevelopment()); err != nil {
			return err
		}
		defer sentry.Flush()
	}

	componentLogger := func(component string) *logger.Logger {
		return sentry.Attach(logger.NewComponentLoggerFromConfig(component, cfg.Logging))
	}

	log := componentLogger(common.ComponentPoller)
	defer func() { _ = log.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	maintenance := db.NewMaintenanceCoordinator(
		cfg.DB.Path,
		database,
		cfg.Maintenance,
		componentLogger(common.ComponentMaintenance),
	)

	marketStore, err := store.NewFromDB(
		database,
		maintenance,
		componentLogger(common.ComponentStore),
	)
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer marketStore.Close()

	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Warnw("failed to stop maintenance", "error", err)
		}
	}()

	metricsServer := metrics.NewServer(cfg.Metrics, componentLogger(common.ComponentMetrics))
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Warnw("failed to stop metrics server", "error", err)
		}
	}()

	src, closeSource, err := newSource(ctx, cfg, componentLogger(common.ComponentSource))
	if err != nil {
		return err
	}
	defer closeSource()

	proj := projector.New(marketStore, src, componentLogger(common.ComponentProjector))

	p := poller.New(cfg.Poller, src, proj, marketStore,
		componentLogger(common.ComponentPoller))

	log.Infow("starting MarketIndexor",
		"source", cfg.Source.Type,
		"endpoint", cfg.Source.Endpoint,
		"kinds", len(src.Kinds()),
		"interval", cfg.Poller.Interval.Duration)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Start(gctx)
		p.Wait()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		p.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	fmt.Println("\n\nShutting down gracefully...")
	log.Info("MarketIndexor stopped successfully")
	return nil
}
