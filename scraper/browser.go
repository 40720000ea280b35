package scraper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"realestate-scraper/utils"
)

// BrowserFetcher renders pages in headless Chrome. It honours the same
// pacing and retry policy as HTTPFetcher.
type BrowserFetcher struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	browserCtx  context.Context

	pacer   *utils.Pacer
	retry   *utils.RetryConfig
	timeout time.Duration
	logger  *utils.Logger

	mu sync.Mutex
}

// NewBrowserFetcher starts a headless browser allocator. chromeBin may be
// empty, in which case a binary is searched on PATH and in the usual places.
func NewBrowserFetcher(cfg FetcherConfig, chromeBin string, logger *utils.Logger) *BrowserFetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Info("[browser] Using browser binary: %q", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	browserCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	return &BrowserFetcher{
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancelTab:   cancelTab,
		pacer:       utils.NewPacer(cfg.MinDelay, cfg.MaxDelay),
		retry:       &utils.RetryConfig{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay, Logger: logger},
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Fetch navigates to url and returns the rendered document.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	if err := b.pacer.Wait(ctx); err != nil {
		return nil, &FetchFailed{URL: url, Cause: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		doc        *Document
		lastStatus int
	)
	err := b.retry.Do(ctx, "render "+url, func() error {
		d, err := b.render(ctx, url)
		if err != nil {
			lastStatus = 0
			return err
		}
		lastStatus = d.StatusCode
		if retryableStatus[d.StatusCode] {
			return fmt.Errorf("retryable status %d", d.StatusCode)
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, &FetchFailed{URL: url, StatusCode: lastStatus, Cause: err}
	}
	return doc, nil
}

func (b *BrowserFetcher) render(ctx context.Context, url string) (*Document, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	status := 0
	var statusMu sync.Mutex
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			statusMu.Lock()
			if status == 0 {
				status = int(e.Response.Status)
			}
			statusMu.Unlock()
		}
	})

	var html string
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("chromedp: %w", err)
	}

	statusMu.Lock()
	defer statusMu.Unlock()
	if status == 0 {
		status = 200
	}
	return &Document{
		URL:         url,
		StatusCode:  status,
		ContentType: "text/html",
		Body:        []byte(html),
		FetchedAt:   time.Now(),
	}, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() error {
	b.cancelTab()
	b.cancelAlloc()
	return nil
}

func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
