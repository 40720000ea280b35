// Package cmd implements the command-line interface of the scraper.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"realestate-scraper/config"
	"realestate-scraper/coordination"
	"realestate-scraper/models"
	"realestate-scraper/observability"
	"realestate-scraper/pipeline"
	"realestate-scraper/services"
	"realestate-scraper/storage"
	"realestate-scraper/utils"
)

var (
	logLevel  string
	storeMode string
	fetchMode string

	rootCmd = &cobra.Command{
		Use:           "realestate-scraper",
		Short:         "Crawl real-estate listing sites into PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&storeMode, "store", "", "store backend (postgres, memory); overrides STORE_MODE")
	rootCmd.PersistentFlags().StringVar(&fetchMode, "fetch", "", "fetch backend (http, browser); overrides FETCH_MODE")

	rootCmd.AddCommand(crawlCommand())
	rootCmd.AddCommand(sequenceCommand())
	rootCmd.AddCommand(serveCommand())
}

// app holds the dependencies shared by every command.
type app struct {
	cfg     *config.Config
	logger  *utils.Logger
	store   storage.ListingStore
	locker  *coordination.SiteLocker
	metrics *observability.Metrics
	factory *pipeline.Factory
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if storeMode != "" {
		cfg.StoreMode = storeMode
	}
	if fetchMode != "" {
		cfg.FetchMode = fetchMode
	}

	a := &app{cfg: cfg, logger: utils.NewLogger(cfg.LogLevel), metrics: observability.NewMetrics(nil)}

	a.store, err = pipeline.OpenStore(ctx, cfg, a.logger)
	if err != nil {
		a.logger.Error("Failed to open the listing store: %v", err)
		a.logger.Error("Make sure PostgreSQL is running: docker compose up -d")
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if cfg.RedisURL != "" {
		a.locker, err = coordination.NewSiteLockerFromURL(ctx, cfg.RedisURL, a.logger)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithLocker(a.locker))
		a.logger.Info("Site locks enabled via Redis")
	}

	a.factory = pipeline.NewFactory(cfg, a.store, a.logger, opts...)
	return a, nil
}

func (a *app) close() {
	if a.locker != nil {
		_ = a.locker.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Closing store: %v", err)
	}
	a.logger.Sync()
}

// interruptible returns a context cancelled by SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// report prints the run table and the insights of the stored listings of
// every site that ran.
func (a *app) report(ctx context.Context, w io.Writer, runs []*models.RunSummary) {
	insights := services.NewInsightService(a.logger)
	insights.PrintRuns(w, runs)

	var listings []*models.Listing
	for _, r := range runs {
		rows, err := a.store.FetchAll(ctx, r.Site)
		if err != nil {
			a.logger.Error("Failed to fetch %s listings for insights: %v", r.Site, err)
			continue
		}
		for _, row := range rows {
			listings = append(listings, row.Listing)
		}
	}
	insights.Print(w, insights.Generate(listings))
}

func failedRuns(runs []*models.RunSummary) error {
	for _, r := range runs {
		if r.State == models.StateFailed {
			return fmt.Errorf("%s run failed: %s", r.Site, r.LastError)
		}
	}
	return nil
}
