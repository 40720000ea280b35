package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"realestate-scraper/models"
	"realestate-scraper/services"
	"realestate-scraper/utils"
)

// ErrAlreadyStarted is returned by Run on an orchestrator that left Idle.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// Store is the persistence the orchestrator writes to.
type Store interface {
	StoredChecker
	Upsert(ctx context.Context, l *models.Listing) (*models.PersistedListing, error)
	UpsertBatch(ctx context.Context, batch []*models.Listing) ([]*models.PersistedListing, error)
}

// Sink receives every listing that was persisted, for export.
type Sink interface {
	Write(listings []*models.Listing) error
}

// Observer is notified of crawl events. observability.Metrics implements it.
type Observer interface {
	PageFetched(site string)
	ListingScraped(site string)
	ListingSkipped(site, reason string)
	ListingFailed(site, kind string)
	ListingsPersisted(site string, n int)
	DedupDegraded(site string)
	RunFinished(site string, state models.RunState, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) PageFetched(string) {}
func (nopObserver) ListingScraped(string) {}
func (nopObserver) ListingSkipped(string, string) {}
func (nopObserver) ListingFailed(string, string) {}
func (nopObserver) ListingsPersisted(string, int) {}
func (nopObserver) DedupDegraded(string) {}
func (nopObserver) RunFinished(string, models.RunState, time.Duration) {}

// CrawlConfig bounds one crawl. Zero limits mean unlimited.
type CrawlConfig struct {
	Site                 string
	MaxListings          int
	MaxErrors            int
	MaxConsecutiveErrors int
	// SkipStored skips URLs already persisted by earlier runs.
	SkipStored bool
	// Buffered collects listings and writes them in one batch at the end.
	Buffered bool
}

// Session is the mutable state of one run.
type Session struct {
	StartTime         time.Time
	Seen              *DedupTracker
	TotalScraped      int
	ErrorCount        int
	ConsecutiveErrors int
	MaxListings       int
	MaxErrors         int
}

// Orchestrator runs one bounded crawl of one site: Idle, Running, then
// Completed, Interrupted or Failed.
type Orchestrator struct {
	cfg       CrawlConfig
	enum      Enumerator
	fetcher   Fetcher
	extractor Extractor
	store     Store
	sinks     []Sink
	observer  Observer
	cleaner   *services.Cleaner
	logger    *utils.Logger

	mu      sync.RWMutex
	state   models.RunState
	summary models.RunSummary
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSinks adds export sinks.
func WithSinks(sinks ...Sink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// NewOrchestrator creates an Idle orchestrator for one site. store is used
// both for writes and for the stored-URL check.
func NewOrchestrator(cfg CrawlConfig, enum Enumerator, fetcher Fetcher, extractor Extractor, store Store, logger *utils.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		enum:      enum,
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		observer:  nopObserver{},
		cleaner:   services.NewCleaner(logger),
		logger:    logger,
		state:     models.StateIdle,
		summary:   models.RunSummary{Site: cfg.Site, State: models.StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() models.RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Progress returns a snapshot of the running totals.
func (o *Orchestrator) Progress() models.RunSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.summary
}

// Run crawls until a stop condition. Cancelling ctx interrupts the crawl
// between listings; buffered listings are flushed before Run returns.
// The returned error is only ErrAlreadyStarted; run failures are in the summary.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	o.mu.Lock()
	if o.state != models.StateIdle {
		o.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	o.state = models.StateRunning
	o.summary = models.RunSummary{
		RunID:     uuid.NewString(),
		Site:      o.cfg.Site,
		State:     models.StateRunning,
		StartedAt: time.Now(),
	}
	o.mu.Unlock()

	sess := &Session{
		StartTime:   o.summary.StartedAt,
		Seen:        NewDedupTracker(o.store),
		MaxListings: o.cfg.MaxListings,
		MaxErrors:   o.cfg.MaxErrors,
	}
	o.logger.Info("[%s] Crawl %s started (max listings %d, max errors %d, buffered %t)",
		o.cfg.Site, o.summary.RunID, o.cfg.MaxListings, o.cfg.MaxErrors, o.cfg.Buffered)

	// Steps run on a context that ignores cancellation; ctx is only polled
	// between listings.
	work := context.WithoutCancel(ctx)

	var buffer []*models.Listing
	state, reason := o.crawl(ctx, work, sess, &buffer)

	if len(buffer) > 0 {
		o.flush(work, buffer)
	}

	o.mu.Lock()
	o.state = state
	o.summary.State = state
	o.summary.StopReason = reason
	o.summary.FinishedAt = time.Now()
	final := o.summary
	o.mu.Unlock()

	o.observer.RunFinished(o.cfg.Site, state, final.Duration())
	o.logger.Info("[%s] Crawl %s %s (%s): scraped %d, persisted %d, skipped %d, errors %d",
		o.cfg.Site, final.RunID, state, reason, final.TotalScraped, final.Persisted, final.Skipped, final.ErrorCount)
	return &final, nil
}

func (o *Orchestrator) crawl(ctx, work context.Context, sess *Session, buffer *[]*models.Listing) (models.RunState, models.StopReason) {
	cur := o.enum.Start()
	for pageNum := 1; ; pageNum++ {
		if ctx.Err() != nil {
			return models.StateInterrupted, models.StopInterrupted
		}

		batch, err := o.enum.NextBatch(work, cur)
		if err != nil {
			o.recordError(err)
			if pageNum == 1 {
				o.logger.Error("[%s] Listing index unreachable: %v", o.cfg.Site, err)
				return models.StateFailed, models.StopEnumeratorErr
			}
			o.logger.Error("[%s] Index page %d failed, ending pagination: %v", o.cfg.Site, pageNum, err)
			return models.StateCompleted, models.StopEnumeratorErr
		}
		o.observer.PageFetched(o.cfg.Site)
		o.update(func(s *models.RunSummary) {
			s.Pages++
			s.Discovered += len(batch.URLs)
		})
		o.logger.Info("[%s] Page %d: %d listing URLs (%s)", o.cfg.Site, pageNum, len(batch.URLs), batch.PageURL)

		for _, u := range batch.URLs {
			if ctx.Err() != nil {
				return models.StateInterrupted, models.StopInterrupted
			}
			if sess.MaxListings > 0 && sess.TotalScraped >= sess.MaxListings {
				return models.StateCompleted, models.StopMaxListings
			}
			if o.skip(work, sess, u) {
				continue
			}

			if err := o.handle(work, sess, u, buffer); err != nil {
				if o.budgetExhausted(sess) {
					o.logger.Error("[%s] Error budget exhausted after %d errors", o.cfg.Site, sess.ErrorCount)
					return models.StateFailed, models.StopErrorBudget
				}
			}
		}

		switch {
		case batch.Stop == StopCycle:
			o.logger.Warn("[%s] Index looped on page %d, stopping crawl", o.cfg.Site, pageNum)
			return models.StateCompleted, models.StopCycle
		case batch.Stop == StopDone:
			return models.StateCompleted, models.StopExhausted
		case sess.MaxListings > 0 && sess.TotalScraped >= sess.MaxListings:
			return models.StateCompleted, models.StopMaxListings
		}
		cur = batch.Next
	}
}

// skip reports whether u was handled this run or, when configured, stored before.
func (o *Orchestrator) skip(ctx context.Context, sess *Session, u string) bool {
	if sess.Seen.Seen(u) {
		o.skipped("seen")
		return true
	}
	if !o.cfg.SkipStored {
		return false
	}
	stored, err := sess.Seen.SeenStored(ctx, u)
	if err != nil {
		o.observer.DedupDegraded(o.cfg.Site)
		o.logger.Warn("[%s] %v", o.cfg.Site, err)
		return false
	}
	if stored {
		sess.Seen.Mark(u)
		o.skipped("stored")
		o.logger.Debug("[%s] Already stored, skipping %s", o.cfg.Site, u)
		return true
	}
	return false
}

func (o *Orchestrator) skipped(reason string) {
	o.observer.ListingSkipped(o.cfg.Site, reason)
	o.update(func(s *models.RunSummary) { s.Skipped++ })
}

// handle fetches, extracts and persists (or buffers) one listing. Failures
// are logged and counted here and never abort the loop on their own.
func (o *Orchestrator) handle(ctx context.Context, sess *Session, u string, buffer *[]*models.Listing) error {
	listing, err := o.scrape(ctx, u)
	sess.Seen.Mark(u)
	if err != nil {
		o.fail(sess, err)
		return err
	}

	if o.cfg.Buffered {
		*buffer = append(*buffer, listing)
	} else {
		if _, err := o.store.Upsert(ctx, listing); err != nil {
			o.fail(sess, fmt.Errorf("persist %s: %w", u, err))
			return err
		}
		o.observer.ListingsPersisted(o.cfg.Site, 1)
		o.update(func(s *models.RunSummary) { s.Persisted++ })
		o.export([]*models.Listing{listing})
	}

	sess.TotalScraped++
	sess.ConsecutiveErrors = 0
	o.observer.ListingScraped(o.cfg.Site)
	o.update(func(s *models.RunSummary) { s.TotalScraped = sess.TotalScraped })
	o.logger.Info("[%s] Scraped %d: %s", o.cfg.Site, sess.TotalScraped, listing.Title)
	return nil
}

func (o *Orchestrator) scrape(ctx context.Context, u string) (*models.Listing, error) {
	doc, err := o.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	if !doc.OK() {
		return nil, &FetchFailed{URL: u, StatusCode: doc.StatusCode, Cause: errors.New("non-success status")}
	}
	return o.extractor.Extract(doc)
}

// flush writes buffered listings in one batch. Rows that fail are counted
// as errors; the rest stay written.
func (o *Orchestrator) flush(ctx context.Context, buffer []*models.Listing) {
	batch := o.cleaner.Clean(buffer)
	o.logger.Info("[%s] Flushing %d buffered listings", o.cfg.Site, len(batch))

	rows, err := o.store.UpsertBatch(ctx, batch)
	o.observer.ListingsPersisted(o.cfg.Site, len(rows))
	o.update(func(s *models.RunSummary) { s.Persisted += len(rows) })
	if err != nil {
		failed := len(batch) - len(rows)
		o.logger.Error("[%s] Batch write: %d of %d listings failed: %v", o.cfg.Site, failed, len(batch), err)
		o.update(func(s *models.RunSummary) {
			s.ErrorCount += failed
			s.LastError = err.Error()
		})
	}

	written := make([]*models.Listing, 0, len(rows))
	for _, r := range rows {
		written = append(written, r.Listing)
	}
	o.export(written)
}

func (o *Orchestrator) export(listings []*models.Listing) {
	if len(listings) == 0 {
		return
	}
	for _, s := range o.sinks {
		if err := s.Write(listings); err != nil {
			o.logger.Error("[%s] Export failed: %v", o.cfg.Site, err)
		}
	}
}

func (o *Orchestrator) fail(sess *Session, err error) {
	sess.ErrorCount++
	sess.ConsecutiveErrors++
	o.observer.ListingFailed(o.cfg.Site, errorKind(err))
	o.logger.Error("[%s] Listing failed (%d errors): %v", o.cfg.Site, sess.ErrorCount, err)
	o.update(func(s *models.RunSummary) {
		s.ErrorCount = sess.ErrorCount
		s.LastError = err.Error()
	})
}

func (o *Orchestrator) recordError(err error) {
	o.update(func(s *models.RunSummary) {
		s.ErrorCount++
		s.LastError = err.Error()
	})
}

func (o *Orchestrator) budgetExhausted(sess *Session) bool {
	if o.cfg.MaxErrors > 0 && sess.ErrorCount >= o.cfg.MaxErrors {
		return true
	}
	return o.cfg.MaxConsecutiveErrors > 0 && sess.ConsecutiveErrors >= o.cfg.MaxConsecutiveErrors
}

func (o *Orchestrator) update(fn func(s *models.RunSummary)) {
	o.mu.Lock()
	fn(&o.summary)
	o.mu.Unlock()
}

func errorKind(err error) string {
	var (
		ff *FetchFailed
		ef *ExtractionFailed
	)
	switch {
	case errors.As(err, &ff):
		return "fetch"
	case errors.As(err, &ef):
		return "extract"
	default:
		return "store"
	}
}
