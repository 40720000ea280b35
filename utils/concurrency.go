package utils

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Pacer enforces a politeness delay drawn uniformly from [Min, Max]
// before each request.
type Pacer struct {
	Min time.Duration
	Max time.Duration

	mu   sync.Mutex
	rand func() float64
}

// NewPacer creates a Pacer. A Max below Min is raised to Min.
func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Pacer{Min: minDelay, Max: maxDelay, rand: rand.Float64}
}

// Next returns the next delay without sleeping.
func (p *Pacer) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(p.rand()*float64(span))
}

// Wait sleeps for the next delay. It returns early with ctx.Err() if ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return Sleep(ctx, p.Next())
}

// URLSet is a thread-safe set for tracking visited URLs.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains returns true if the URL has already been visited.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[url]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
