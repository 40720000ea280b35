package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"realestate-scraper/models"
)

// MemoryStore keeps listings in process memory with the same upsert rules
// as PostgresStore. Used for dry runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	rows   []*models.PersistedListing
	nextID int64

	// FailURL makes writes of that URL fail, for exercising rollback paths.
	FailURL string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Upsert inserts or updates one listing, keyed by property ID, else URL.
func (m *MemoryStore) Upsert(ctx context.Context, l *models.Listing) (*models.PersistedListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(l)
}

// UpsertBatch writes each listing on its own, so one failure keeps the
// rest. The error joins every per-listing failure.
func (m *MemoryStore) UpsertBatch(ctx context.Context, batch []*models.Listing) ([]*models.PersistedListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.PersistedListing, 0, len(batch))
	var errs []error
	for _, l := range batch {
		p, err := m.upsertLocked(l)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.URL, err))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

func (m *MemoryStore) upsertLocked(l *models.Listing) (*models.PersistedListing, error) {
	if m.FailURL != "" && l.URL == m.FailURL {
		return nil, unavailable("write", errors.New("simulated failure"))
	}

	now := time.Now()
	col, key := l.Key()
	for i, row := range m.rows {
		if matches(row.Listing, col, key) {
			updated := &models.PersistedListing{
				ID:        row.ID,
				Listing:   l,
				IsNew:     row.IsNew,
				Processed: false,
				CreatedAt: row.CreatedAt,
				UpdatedAt: now,
			}
			m.rows[i] = updated
			return clonePersisted(updated), nil
		}
	}

	row := &models.PersistedListing{
		ID:        m.nextID,
		Listing:   l,
		IsNew:     true,
		Processed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nextID++
	m.rows = append(m.rows, row)
	return clonePersisted(row), nil
}

func matches(l *models.Listing, col, key string) bool {
	if col == "property_id" {
		return l.PropertyID == key
	}
	return l.URL == key
}

// ExistsURL reports whether a row has url.
func (m *MemoryStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.URL == url {
			return true, nil
		}
	}
	return false, nil
}

// FetchAll returns the rows of site in insertion order, or every row when
// site is empty.
func (m *MemoryStore) FetchAll(ctx context.Context, site string) ([]*models.PersistedListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.PersistedListing, 0, len(m.rows))
	for _, row := range m.rows {
		if site == "" || row.Site == site {
			out = append(out, clonePersisted(row))
		}
	}
	return out, nil
}

// Seed stores a row as-is, letting tests set up IsNew and Processed.
func (m *MemoryStore) Seed(row models.PersistedListing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.ID = m.nextID
	m.nextID++
	m.rows = append(m.rows, &row)
}

// MarkProcessed sets processed on the row with id, the way a downstream
// consumer would.
func (m *MemoryStore) MarkProcessed(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			row.Processed = true
		}
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func clonePersisted(p *models.PersistedListing) *models.PersistedListing {
	c := *p
	return &c
}
