package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"realestate-scraper/utils"
)

// StopSignal tells the orchestrator whether enumeration continues.
type StopSignal int

const (
	// StopNone means Next holds another page.
	StopNone StopSignal = iota
	// StopDone is a normal end of results.
	StopDone
	// StopCycle means the index re-emitted a URL from an earlier page.
	// The whole crawl halts after the URLs preceding the repeat.
	StopCycle
)

func (s StopSignal) String() string {
	switch s {
	case StopDone:
		return "done"
	case StopCycle:
		return "cycle"
	default:
		return "more"
	}
}

// Cursor addresses one index page. LinkWalk uses URL, APICursor uses Page.
type Cursor struct {
	URL  string
	Page int
}

// Batch is one index page worth of candidate listing URLs.
type Batch struct {
	PageURL string
	URLs    []string
	Next    Cursor
	Stop    StopSignal
}

// Enumerator yields listing URLs page by page.
type Enumerator interface {
	// Start returns the first cursor and resets any per-run state.
	Start() Cursor
	NextBatch(ctx context.Context, cur Cursor) (Batch, error)
}

// LinkWalkConfig selects listing links and the next-page link of an HTML index.
type LinkWalkConfig struct {
	StartURL string
	// ItemSelector matches listing cards. Empty means the whole page.
	ItemSelector string
	// LinkSelector matches the anchor inside a card.
	LinkSelector string
	NextSelector string
}

// LinkWalk follows "next page" links across an HTML listing index.
type LinkWalk struct {
	cfg     LinkWalkConfig
	fetcher Fetcher
	logger  *utils.Logger

	emitted *utils.URLSet
	visited *utils.URLSet
}

// NewLinkWalk creates a walk starting at cfg.StartURL.
func NewLinkWalk(fetcher Fetcher, cfg LinkWalkConfig, logger *utils.Logger) *LinkWalk {
	return &LinkWalk{cfg: cfg, fetcher: fetcher, logger: logger, emitted: utils.NewURLSet(), visited: utils.NewURLSet()}
}

// Start forgets the URLs and pages of any previous walk.
func (w *LinkWalk) Start() Cursor {
	w.emitted = utils.NewURLSet()
	w.visited = utils.NewURLSet()
	return Cursor{URL: w.cfg.StartURL, Page: 1}
}

// NextBatch fetches the index page at cur.URL. The batch stops with
// StopCycle at the first listing URL emitted on an earlier page.
func (w *LinkWalk) NextBatch(ctx context.Context, cur Cursor) (Batch, error) {
	batch := Batch{PageURL: cur.URL}
	w.visited.Add(cur.URL)

	doc, err := w.fetcher.Fetch(ctx, cur.URL)
	if err != nil {
		return batch, err
	}
	if !doc.OK() {
		return batch, fmt.Errorf("index page %s: status %d", cur.URL, doc.StatusCode)
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return batch, fmt.Errorf("parse index page %s: %w", cur.URL, err)
	}

	cards := page.Selection
	if w.cfg.ItemSelector != "" {
		cards = page.Find(w.cfg.ItemSelector)
	}

	onPage := make(map[string]struct{})
	cycle := false
	cards.Find(w.cfg.LinkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := resolveURL(cur.URL, a.AttrOr("href", ""))
		if !ok {
			return true
		}
		if _, dup := onPage[href]; dup {
			return true
		}
		onPage[href] = struct{}{}
		if !w.emitted.Add(href) {
			w.logger.Warn("[enumerator] %s reappeared on %s, index is looping", href, cur.URL)
			cycle = true
			return false
		}
		batch.URLs = append(batch.URLs, href)
		return true
	})

	if cycle {
		batch.Stop = StopCycle
		return batch, nil
	}

	next, ok := resolveURL(cur.URL, page.Find(w.cfg.NextSelector).First().AttrOr("href", ""))
	switch {
	case !ok:
		batch.Stop = StopDone
	case w.visited.Contains(next):
		w.logger.Warn("[enumerator] next page %s was already visited", next)
		batch.Stop = StopCycle
	default:
		batch.Next = Cursor{URL: next, Page: cur.Page + 1}
	}
	return batch, nil
}

// APICursorConfig describes a paged JSON collection.
type APICursorConfig struct {
	BaseURL  string
	PageSize int
	// LinkField is the item field carrying the listing URL. Defaults to "link".
	LinkField string
}

// APICursor pages through a REST collection with page=N&per_page=size.
type APICursor struct {
	cfg     APICursorConfig
	fetcher Fetcher
	logger  *utils.Logger
}

// NewAPICursor creates a cursor over cfg.BaseURL, 100 items per page and
// the "link" field unless configured.
func NewAPICursor(fetcher Fetcher, cfg APICursorConfig, logger *utils.Logger) *APICursor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.LinkField == "" {
		cfg.LinkField = "link"
	}
	return &APICursor{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Start returns page 1.
func (c *APICursor) Start() Cursor {
	return Cursor{Page: 1}
}

// PageURL builds the request URL of page n.
func (c *APICursor) PageURL(n int) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("per_page", strconv.Itoa(c.cfg.PageSize))
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NextBatch fetches page cur.Page. An empty page ends the results.
func (c *APICursor) NextBatch(ctx context.Context, cur Cursor) (Batch, error) {
	pageURL, err := c.PageURL(cur.Page)
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{PageURL: pageURL}

	doc, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return batch, err
	}
	// WordPress answers 400 rest_post_invalid_page_number past the last page.
	if doc.StatusCode == http.StatusBadRequest && cur.Page > 1 {
		batch.Stop = StopDone
		return batch, nil
	}
	if !doc.OK() {
		return batch, fmt.Errorf("api page %d: status %d", cur.Page, doc.StatusCode)
	}

	var items []map[string]any
	if err := json.Unmarshal(doc.Body, &items); err != nil {
		return batch, fmt.Errorf("decode api page %d: %w", cur.Page, err)
	}
	if len(items) == 0 {
		batch.Stop = StopDone
		return batch, nil
	}

	onPage := make(map[string]struct{}, len(items))
	for _, item := range items {
		raw, _ := item[c.cfg.LinkField].(string)
		link, ok := resolveURL(pageURL, raw)
		if !ok {
			continue
		}
		if _, dup := onPage[link]; dup {
			continue
		}
		onPage[link] = struct{}{}
		batch.URLs = append(batch.URLs, link)
	}

	c.logger.Debug("[enumerator] api page %d: %d items, %d links", cur.Page, len(items), len(batch.URLs))
	batch.Next = Cursor{Page: cur.Page + 1}
	return batch, nil
}

// resolveURL makes href absolute against base and drops fragments.
// Only http(s) results are accepted.
func resolveURL(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := b.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}
