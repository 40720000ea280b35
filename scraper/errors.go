package scraper

import (
	"errors"
	"fmt"
)

// ErrUnparseable is the cause attached to ExtractionFailed when a document
// carries no usable markup at all.
var ErrUnparseable = errors.New("document is not parseable")

// FetchFailed is returned once the retry budget is spent or the request
// could not be sent. StatusCode is 0 when no response was received.
type FetchFailed struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchFailed) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchFailed) Unwrap() error { return e.Cause }

// ExtractionFailed means the document shape did not allow any extraction.
// It aborts only the listing it belongs to.
type ExtractionFailed struct {
	URL   string
	Cause error
}

func (e *ExtractionFailed) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Cause)
}

func (e *ExtractionFailed) Unwrap() error { return e.Cause }

// DedupCheckDegraded reports that the stored-URL lookup failed and the URL
// was treated as not seen.
type DedupCheckDegraded struct {
	URL   string
	Cause error
}

func (e *DedupCheckDegraded) Error() string {
	return fmt.Sprintf("dedup check for %s degraded: %v", e.URL, e.Cause)
}

func (e *DedupCheckDegraded) Unwrap() error { return e.Cause }
