package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"realestate-scraper/utils"
)

const maxBodySize = 10 * 1024 * 1024

// retryableStatus is the set of statuses worth another attempt.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Document is one fetched response. Non-retryable HTTP errors are carried
// in StatusCode rather than returned as errors.
type Document struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// OK reports a 2xx response.
func (d *Document) OK() bool {
	return d.StatusCode >= 200 && d.StatusCode < 300
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// FetcherConfig controls pacing, timeouts and retries.
type FetcherConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	UserAgent   string
	Client      *http.Client
}

// HTTPFetcher issues paced, retried GET requests.
type HTTPFetcher struct {
	client    *http.Client
	pacer     *utils.Pacer
	retry     *utils.RetryConfig
	userAgent string
	logger    *utils.Logger
}

// NewHTTPFetcher creates an HTTPFetcher. Zero values get the defaults of
// 3 attempts, 1s base back-off and a 30s request timeout.
func NewHTTPFetcher(cfg FetcherConfig, logger *utils.Logger) *HTTPFetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPFetcher{
		client:    client,
		pacer:     utils.NewPacer(cfg.MinDelay, cfg.MaxDelay),
		retry:     &utils.RetryConfig{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay, Logger: logger},
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Fetch waits the politeness delay and then GETs url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	if err := f.pacer.Wait(ctx); err != nil {
		return nil, &FetchFailed{URL: url, Cause: err}
	}

	var (
		doc        *Document
		lastStatus int
	)
	err := f.retry.Do(ctx, "fetch "+url, func() error {
		d, err := f.get(ctx, url)
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

	f.logger.Debug("[fetcher] %s -> %d (%d bytes)", url, doc.StatusCode, len(doc.Body))
	return doc, nil
}

func (f *HTTPFetcher) get(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, utils.Permanent(fmt.Errorf("build request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Document{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}
