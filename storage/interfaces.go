package storage

import (
	"context"
	"fmt"

	"realestate-scraper/models"
)

// ListingWriter is the interface any export sink must satisfy.
type ListingWriter interface {
	Write(listings []*models.Listing) error
	Close() error
}

// ListingStore persists listings with insert-or-update semantics keyed by
// property_id, else url.
type ListingStore interface {
	Upsert(ctx context.Context, l *models.Listing) (*models.PersistedListing, error)
	UpsertBatch(ctx context.Context, batch []*models.Listing) ([]*models.PersistedListing, error)
	ExistsURL(ctx context.Context, url string) (bool, error)
	FetchAll(ctx context.Context, site string) ([]*models.PersistedListing, error)
	Close() error
}

// StoreUnavailable wraps connection and query failures of the store.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreUnavailable{Op: op, Err: err}
}
