package scraper

import (
	"context"
	"errors"
	"path"
	"sync"

	"realestate-scraper/models"
)

const listingHTML = `<html><body><h1>Listing</h1></body></html>`

// fakeFetcher serves canned documents. Unknown URLs get defaultStatus with
// a small HTML body.
type fakeFetcher struct {
	mu            sync.Mutex
	pages         map[string]*Document
	calls         map[string]int
	defaultStatus int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]*Document{}, calls: map[string]int{}, defaultStatus: 200}
}

func (f *fakeFetcher) set(url string, status int, contentType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = &Document{URL: url, StatusCode: status, ContentType: contentType, Body: []byte(body)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if d, ok := f.pages[url]; ok {
		return d, nil
	}
	return &Document{URL: url, StatusCode: f.defaultStatus, ContentType: "text/html", Body: []byte(listingHTML)}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// fakeEnumerator emits fixed pages of URLs. errAt is the 1-based page that
// fails with err, 0 for none.
type fakeEnumerator struct {
	pages [][]string
	errAt int
	err   error
}

func (e *fakeEnumerator) Start() Cursor { return Cursor{Page: 1} }

func (e *fakeEnumerator) NextBatch(_ context.Context, cur Cursor) (Batch, error) {
	if e.errAt == cur.Page {
		return Batch{}, e.err
	}
	idx := cur.Page - 1
	if idx >= len(e.pages) {
		return Batch{Stop: StopDone}, nil
	}
	b := Batch{URLs: e.pages[idx], Next: Cursor{Page: cur.Page + 1}}
	if idx == len(e.pages)-1 {
		b.Stop = StopDone
	}
	return b, nil
}

// fakeExtractor keys each listing on the last URL segment.
type fakeExtractor struct{}

func (fakeExtractor) Extract(doc *Document) (*models.Listing, error) {
	if _, err := ParseDocument(doc); err != nil {
		return nil, err
	}
	l := models.NewListing("test", doc.URL)
	l.PropertyID = path.Base(doc.URL)
	l.Title = "Listing " + l.PropertyID
	return l, nil
}

// brokenChecker fails every stored-URL lookup.
type brokenChecker struct{}

func (brokenChecker) ExistsURL(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

type recordingSink struct {
	mu       sync.Mutex
	listings []*models.Listing
}

func (s *recordingSink) Write(listings []*models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings = append(s.listings, listings...)
	return nil
}
