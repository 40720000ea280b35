// Package pipeline turns site configuration into ready-to-run crawls: it
// picks the fetcher, enumerator, extractor, store and export sinks of a
// named site and wires them into an orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"realestate-scraper/config"
	"realestate-scraper/coordination"
	"realestate-scraper/models"
	"realestate-scraper/observability"
	"realestate-scraper/scraper"
	"realestate-scraper/scraper/bayside"
	"realestate-scraper/scraper/rpemx"
	"realestate-scraper/storage"
	"realestate-scraper/utils"
)

// Overrides adjusts one run without touching the loaded configuration.
type Overrides struct {
	// MaxListings replaces the site's cap when positive.
	MaxListings int
}

// FetcherFunc builds the listing-page fetcher of a site.
type FetcherFunc func(site config.SiteConfig) (scraper.Fetcher, error)

// Factory builds crawl runs per site.
type Factory struct {
	cfg        *config.Config
	store      storage.ListingStore
	metrics    *observability.Metrics
	locker     *coordination.SiteLocker
	newFetcher FetcherFunc
	logger     *utils.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithMetrics reports crawl events to m.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithLocker takes a per-site lease around every run.
func WithLocker(l *coordination.SiteLocker) Option {
	return func(f *Factory) { f.locker = l }
}

// WithFetcher replaces the configured fetcher backend.
func WithFetcher(fn FetcherFunc) Option {
	return func(f *Factory) { f.newFetcher = fn }
}

// NewFactory creates a Factory writing to store. The fetcher backend
// follows cfg.FetchMode unless WithFetcher replaces it.
func NewFactory(cfg *config.Config, store storage.ListingStore, logger *utils.Logger, opts ...Option) *Factory {
	f := &Factory{cfg: cfg, store: store, logger: logger}
	f.newFetcher = f.configuredFetcher
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OpenStore opens the store selected by STORE_MODE.
func OpenStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.ListingStore, error) {
	switch cfg.StoreMode {
	case "memory":
		logger.Warn("[pipeline] STORE_MODE=memory, listings are not persisted")
		return storage.NewMemoryStore(), nil
	case "postgres", "":
		return storage.NewPostgresStore(ctx, cfg.DSN(), logger)
	default:
		return nil, fmt.Errorf("pipeline: unknown store mode %q", cfg.StoreMode)
	}
}

func (f *Factory) fetcherConfig(sc config.SiteConfig) scraper.FetcherConfig {
	return scraper.FetcherConfig{
		MinDelay:    sc.MinDelay,
		MaxDelay:    sc.MaxDelay,
		Timeout:     f.cfg.RequestTimeout,
		MaxAttempts: f.cfg.MaxRetries,
		BaseDelay:   f.cfg.RetryBaseDelay,
		UserAgent:   f.cfg.UserAgent,
	}
}

func (f *Factory) configuredFetcher(sc config.SiteConfig) (scraper.Fetcher, error) {
	switch f.cfg.FetchMode {
	case "browser":
		return scraper.NewBrowserFetcher(f.fetcherConfig(sc), f.cfg.ChromeBin, f.logger), nil
	case "http", "":
		return scraper.NewHTTPFetcher(f.fetcherConfig(sc), f.logger), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown fetch mode %q", f.cfg.FetchMode)
	}
}

// Run is one prepared crawl. Execute it once.
type Run struct {
	Site         string
	Orchestrator *scraper.Orchestrator

	factory *Factory
	closers []func() error
	exports []string
}

// Build prepares a crawl of site. Nothing is fetched until Execute.
func (f *Factory) Build(site string, o Overrides) (*Run, error) {
	sc, err := f.cfg.Site(site)
	if err != nil {
		return nil, err
	}
	if o.MaxListings > 0 {
		sc.MaxListings = o.MaxListings
	}

	fetcher, err := f.newFetcher(sc)
	if err != nil {
		return nil, err
	}
	run := &Run{Site: site, factory: f}
	if c, ok := fetcher.(interface{ Close() error }); ok {
		run.closers = append(run.closers, c.Close)
	}

	var (
		enum      scraper.Enumerator
		extractor scraper.Extractor
	)
	switch site {
	case config.SiteBayside:
		enum = bayside.NewEnumerator(fetcher, sc.StartURL, f.logger)
		extractor = bayside.NewExtractor()
	case config.SiteRPEMX:
		// The REST collection is JSON, so it never goes through the browser.
		api := fetcher
		if f.cfg.FetchMode == "browser" {
			api = scraper.NewHTTPFetcher(f.fetcherConfig(sc), f.logger)
		}
		enum = rpemx.NewEnumerator(api, sc.APIURL, sc.PageSize, f.logger)
		extractor = rpemx.NewExtractor()
	default:
		run.close()
		return nil, fmt.Errorf("pipeline: no extractor for site %q", site)
	}

	opts := []scraper.Option{}
	sinks, err := run.openSinks(sc, f.cfg.OutputDir)
	if err != nil {
		run.close()
		return nil, err
	}
	opts = append(opts, scraper.WithSinks(sinks...))
	if f.metrics != nil {
		opts = append(opts, scraper.WithObserver(f.metrics))
	}

	run.Orchestrator = scraper.NewOrchestrator(scraper.CrawlConfig{
		Site:                 site,
		MaxListings:          sc.MaxListings,
		MaxErrors:            sc.MaxErrors,
		MaxConsecutiveErrors: sc.MaxConsecutiveErrors,
		SkipStored:           sc.SkipStored,
		Buffered:             sc.Buffered,
	}, enum, fetcher, extractor, f.store, f.logger, opts...)
	return run, nil
}

func (r *Run) openSinks(sc config.SiteConfig, dir string) ([]scraper.Sink, error) {
	var (
		w    storage.ListingWriter
		path string
		err  error
	)
	switch sc.Export {
	case "":
		return nil, nil
	case "csv":
		path = filepath.Join(dir, sc.Name+"_listings.csv")
		w, err = storage.NewCSVWriter(path)
	case "xlsx":
		path = filepath.Join(dir, sc.Name+"_listings.xlsx")
		w, err = storage.NewXLSXWriter(path)
	default:
		return nil, fmt.Errorf("pipeline: unknown export format %q for %s", sc.Export, sc.Name)
	}
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, w.Close)
	r.exports = append(r.exports, path)
	return []scraper.Sink{w}, nil
}

// Exports lists the files this run writes.
func (r *Run) Exports() []string { return r.exports }

// Execute runs the crawl under the site lease, then writes the exports and
// releases every resource. A held lease fails with coordination.ErrLockHeld.
func (r *Run) Execute(ctx context.Context) (*models.RunSummary, error) {
	defer r.close()

	f := r.factory
	if f.locker != nil {
		lease, err := f.locker.Acquire(ctx, r.Site)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				f.logger.Warn("[pipeline] Releasing %s lease: %v", r.Site, err)
			}
		}()
	}

	if f.metrics != nil {
		f.metrics.RunStarted(r.Site)
	}
	return r.Orchestrator.Run(ctx)
}

func (r *Run) close() {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	r.closers = nil
	if err := errors.Join(errs...); err != nil {
		r.factory.logger.Error("[pipeline] Closing %s run: %v", r.Site, err)
	}
}

// Crawl builds and executes one site crawl.
func (f *Factory) Crawl(ctx context.Context, site string, o Overrides) (*models.RunSummary, error) {
	run, err := f.Build(site, o)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Steps returns the fixed bayside-then-rpemx sequence. Each step builds its
// run only when it starts.
func (f *Factory) Steps() []scraper.Step {
	steps := make([]scraper.Step, 0, len(config.SequenceOrder))
	for _, site := range config.SequenceOrder {
		steps = append(steps, scraper.Step{
			Site: site,
			Run: func(ctx context.Context) (*models.RunSummary, error) {
				return f.Crawl(ctx, site, Overrides{})
			},
		})
	}
	return steps
}

// Store returns the store runs write to.
func (f *Factory) Store() storage.ListingStore { return f.store }
