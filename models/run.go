package models

import "time"

// RunState is the lifecycle state of one crawl.
type RunState string

const (
	StateIdle        RunState = "idle"
	StateRunning     RunState = "running"
	StateCompleted   RunState = "completed"
	StateInterrupted RunState = "interrupted"
	StateFailed      RunState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateInterrupted || s == StateFailed
}

// StopReason explains why the crawl loop ended.
type StopReason string

const (
	StopNone          StopReason = ""
	StopMaxListings   StopReason = "max_listings"
	StopExhausted     StopReason = "exhausted"
	StopCycle         StopReason = "cycle_detected"
	StopErrorBudget   StopReason = "error_budget"
	StopInterrupted   StopReason = "interrupted"
	StopEnumeratorErr StopReason = "enumerator_error"
)

// RunSummary is what a finished crawl reports.
type RunSummary struct {
	RunID        string
	Site         string
	State        RunState
	StopReason   StopReason
	StartedAt    time.Time
	FinishedAt   time.Time
	Pages        int
	Discovered   int
	Skipped      int
	TotalScraped int
	Persisted    int
	ErrorCount   int
	LastError    string
}

// Duration of the run; zero while it is still going.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// SequenceSummary reports each site run of a sequence together with merged totals.
type SequenceSummary struct {
	Runs         []*RunSummary
	TotalScraped int
	ErrorCount   int
	LastError    string
	Failed       bool
}

// InsightReport holds figures computed over the listings of a run.
type InsightReport struct {
	TotalListings   int
	ListingsBySite  map[string]int
	ListingsByCity  map[string]int
	PriceByCurrency map[string]PriceStats
	MostExpensive   *Listing
	WithCoordinates int
	WithImages      int
	AmenityCounts   map[Amenity]int
	MissingRequired map[string]int
}

// PriceStats summarises prices in one currency.
type PriceStats struct {
	Count   int
	Average float64
	Min     float64
	Max     float64
}
