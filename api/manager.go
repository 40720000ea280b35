// Package api exposes crawl control and status over HTTP.
package api

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"realestate-scraper/models"
	"realestate-scraper/pipeline"
	"realestate-scraper/scraper"
	"realestate-scraper/utils"
)

var (
	// ErrAlreadyRunning is returned when a site, or the sequence, is busy.
	ErrAlreadyRunning = errors.New("scraper is already running")

	// ErrUnknownSite is returned for sites the manager was not given.
	ErrUnknownSite = errors.New("unknown site")
)

// Runner executes one site crawl. pipeline.Factory satisfies it.
type Runner interface {
	Crawl(ctx context.Context, site string, o pipeline.Overrides) (*models.RunSummary, error)
}

// SiteStatus is the last known state of one site.
type SiteStatus struct {
	Running       bool            `json:"running"`
	State         models.RunState `json:"state"`
	LastRun       *time.Time      `json:"last_run"`
	TotalListings int             `json:"total_listings"`
	ErrorMessage  *string         `json:"error_message"`
}

// Status is the /status document. The top-level fields describe the most
// recently finished run of any site.
type Status struct {
	IsRunning      bool                  `json:"is_running"`
	LastRun        *time.Time            `json:"last_run"`
	TotalListings  int                   `json:"total_listings"`
	ErrorMessage   *string               `json:"error_message"`
	SequenceStatus map[string]SiteStatus `json:"sequence_status"`
}

// Manager runs crawls in the background, one per site at a time.
type Manager struct {
	runner Runner
	sites  []string
	logger *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	status     map[string]*SiteStatus
	lastSite   string
	sequencing bool
}

// NewManager creates a manager for sites. Cancelling ctx interrupts every
// background run.
func NewManager(ctx context.Context, runner Runner, sites []string, logger *utils.Logger) *Manager {
	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		runner: runner,
		sites:  sites,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		status: make(map[string]*SiteStatus, len(sites)),
	}
	for _, s := range sites {
		m.status[s] = &SiteStatus{State: models.StateIdle}
	}
	return m
}

// Start launches a crawl of site.
func (m *Manager) Start(site string, o pipeline.Overrides) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.status[site]
	if !ok {
		return ErrUnknownSite
	}
	if st.Running || m.sequencing {
		return ErrAlreadyRunning
	}
	m.begin(site)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.execute(m.ctx, site, o)
	}()
	return nil
}

// StartSequence launches the configured sites in order. It fails if any
// site is busy.
func (m *Manager) StartSequence() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sequencing {
		return ErrAlreadyRunning
	}
	for _, st := range m.status {
		if st.Running {
			return ErrAlreadyRunning
		}
	}
	m.sequencing = true

	steps := make([]scraper.Step, 0, len(m.sites))
	for _, site := range m.sites {
		steps = append(steps, scraper.Step{
			Site: site,
			Run: func(ctx context.Context) (*models.RunSummary, error) {
				m.mu.Lock()
				m.begin(site)
				m.mu.Unlock()
				return m.execute(ctx, site, pipeline.Overrides{})
			},
		})
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		seq := scraper.RunSequence(m.ctx, steps, m.logger)
		m.logger.Info("[api] Sequence finished: %d runs, %d listings, %d errors",
			len(seq.Runs), seq.TotalScraped, seq.ErrorCount)

		m.mu.Lock()
		m.sequencing = false
		m.mu.Unlock()
	}()
	return nil
}

// begin marks site running and clears its last error. m.mu must be held.
func (m *Manager) begin(site string) {
	st := m.status[site]
	st.Running = true
	st.State = models.StateRunning
	st.ErrorMessage = nil
}

func (m *Manager) execute(ctx context.Context, site string, o pipeline.Overrides) (*models.RunSummary, error) {
	summary, err := m.runner.Crawl(ctx, site, o)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.status[site]
	st.Running = false
	m.lastSite = site
	switch {
	case err != nil:
		// The run never started, so the previous run's figures stay.
		msg := err.Error()
		st.State = models.StateFailed
		st.ErrorMessage = &msg
		m.logger.Error("[api] %s run could not start: %v", site, err)
	default:
		st.LastRun = &now
		st.State = summary.State
		st.TotalListings = summary.TotalScraped
		if summary.LastError != "" {
			msg := summary.LastError
			st.ErrorMessage = &msg
		}
	}
	return summary, err
}

// Status returns a snapshot of every site.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Status{SequenceStatus: make(map[string]SiteStatus, len(m.status))}
	for site, st := range m.status {
		out.SequenceStatus[site] = *st
		if st.Running {
			out.IsRunning = true
		}
	}
	if last, ok := m.status[m.lastSite]; ok {
		out.LastRun = last.LastRun
		out.TotalListings = last.TotalListings
		out.ErrorMessage = last.ErrorMessage
	}
	return out
}

// Sites returns the managed sites.
func (m *Manager) Sites() []string { return slices.Clone(m.sites) }

// Wait blocks until every background run returned.
func (m *Manager) Wait() { m.wg.Wait() }

// Shutdown interrupts running crawls and waits for their flush, or until
// ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
