package scraper

import (
	"context"

	"realestate-scraper/utils"
)

// StoredChecker answers whether a listing URL is already persisted.
type StoredChecker interface {
	ExistsURL(ctx context.Context, url string) (bool, error)
}

// DedupTracker tracks URLs handled in this run and, when a checker is set,
// URLs stored by earlier runs.
type DedupTracker struct {
	seen   *utils.URLSet
	stored StoredChecker
}

// NewDedupTracker creates a tracker. stored may be nil to disable the
// cross-run check.
func NewDedupTracker(stored StoredChecker) *DedupTracker {
	return &DedupTracker{seen: utils.NewURLSet(), stored: stored}
}

// Seen reports whether url was marked during this run.
func (d *DedupTracker) Seen(url string) bool {
	return d.seen.Contains(url)
}

// Mark records url as handled.
func (d *DedupTracker) Mark(url string) {
	d.seen.Add(url)
}

// Size is the number of URLs marked this run.
func (d *DedupTracker) Size() int {
	return d.seen.Size()
}

// SeenStored checks the store. A lookup failure reports false together with
// a DedupCheckDegraded error so the crawl keeps going.
func (d *DedupTracker) SeenStored(ctx context.Context, url string) (bool, error) {
	if d.stored == nil {
		return false, nil
	}
	ok, err := d.stored.ExistsURL(ctx, url)
	if err != nil {
		return false, &DedupCheckDegraded{URL: url, Cause: err}
	}
	return ok, nil
}
