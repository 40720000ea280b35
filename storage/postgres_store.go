package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realestate-scraper/models"
	"realestate-scraper/utils"
)

// pqUndefinedColumn is SQLSTATE undefined_column.
const pqUndefinedColumn = "42703"

// column is one listing column added by ensureColumns.
type column struct {
	name string
	ddl  string
}

// listingColumns are written on every insert and update, in argument order.
// Every one of them may be missing from tables created by older versions.
var listingColumns = func() []column {
	text := "TEXT NOT NULL DEFAULT ''"
	cols := []column{
		{"site", text},
		{"title", text},
		{"status", text},
		{"property_type", text},
		{"description", text},
		{"price", "NUMERIC(15,2) NOT NULL DEFAULT 0"},
		{"currency", text},
		{"city", text},
		{"area", text},
		{"state", text},
		{"country", text},
		{"zip", text},
		{"latitude", text},
		{"longitude", text},
		{"bedrooms", text},
		{"bathrooms", text},
		{"half_baths", text},
		{"interior_space", text},
		{"land_size", text},
		{"parking_spaces", text},
	}
	for _, a := range models.Amenities {
		cols = append(cols, column{string(a), "BOOLEAN NOT NULL DEFAULT FALSE"})
	}
	return append(cols,
		column{"features", text},
		column{"main_image", text},
		column{"all_images", text},
		column{"image_captions", text},
		column{"agent_name", text},
		column{"agent_phone", text},
		column{"agent_email", text},
		column{"agent_bio", text},
		column{"agent_photo", text},
		column{"extra", "TEXT NOT NULL DEFAULT '{}'"},
		column{"scrape_date", "TIMESTAMPTZ"},
	)
}()

// bookkeepingColumns are owned by the store. Tables created before they
// existed get them added like any listing column.
var bookkeepingColumns = []column{
	{"property_id", "TEXT NOT NULL DEFAULT ''"},
	{"isnew", "BOOLEAN NOT NULL DEFAULT TRUE"},
	{"processed", "BOOLEAN NOT NULL DEFAULT FALSE"},
	{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
	{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT NOW()"},
}

// evolvedColumns is every column ensureColumns adds when missing.
var evolvedColumns = append(append([]column{}, bookkeepingColumns...), listingColumns...)

var (
	insertSQL string
	updateSQL string
	selectSQL string
)

func init() {
	names := make([]string, 0, len(listingColumns))
	params := make([]string, 0, len(listingColumns))
	sets := make([]string, 0, len(listingColumns))
	for i, c := range listingColumns {
		names = append(names, c.name)
		params = append(params, fmt.Sprintf("$%d", i+3))
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+2))
	}

	insertSQL = fmt.Sprintf(`INSERT INTO listings (url, property_id, %s, isnew, processed)
		VALUES ($1, $2, %s, TRUE, FALSE)
		RETURNING id, created_at, updated_at`,
		strings.Join(names, ", "), strings.Join(params, ", "))

	// $1 is the row id; url and property_id follow the listing columns.
	n := len(listingColumns)
	updateSQL = fmt.Sprintf(`UPDATE listings SET %s, url = $%d, property_id = $%d,
		processed = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING isnew, created_at, updated_at`,
		strings.Join(sets, ", "), n+2, n+3)

	selectSQL = fmt.Sprintf(`SELECT id, url, property_id, %s, isnew, processed, created_at, updated_at
		FROM listings WHERE ($1 = '' OR site = $1) ORDER BY id`, strings.Join(names, ", "))
}

// PostgresStore persists listings to PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	logger *utils.Logger
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("[postgres] Ping failed (attempt %d/10): %v", i+1, err)
		if sErr := utils.Sleep(ctx, 2*time.Second); sErr != nil {
			break
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}

	s := NewPostgresStoreFromDB(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreFromDB wraps an open handle without migrating.
func NewPostgresStoreFromDB(db *sqlx.DB, logger *utils.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Migrate creates the base table and adds every listing column that is missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id          BIGSERIAL   PRIMARY KEY,
			url         TEXT        NOT NULL,
			property_id TEXT        NOT NULL DEFAULT '',
			isnew       BOOLEAN     NOT NULL DEFAULT TRUE,
			processed   BOOLEAN     NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_url         ON listings(url);
		CREATE INDEX IF NOT EXISTS idx_listings_property_id ON listings(property_id);
		CREATE INDEX IF NOT EXISTS idx_listings_processed   ON listings(processed);
	`)
	if err != nil {
		return unavailable("migrate", err)
	}
	return s.ensureColumns(ctx, s.db)
}

// ensureColumns adds missing bookkeeping and listing columns.
func (s *PostgresStore) ensureColumns(ctx context.Context, execer sqlx.ExecerContext) error {
	for _, c := range evolvedColumns {
		q := fmt.Sprintf("ALTER TABLE listings ADD COLUMN IF NOT EXISTS %s %s", c.name, c.ddl)
		if _, err := execer.ExecContext(ctx, q); err != nil {
			return unavailable("add column "+c.name, err)
		}
	}
	return nil
}

// Upsert writes one listing in its own transaction. A missing column makes
// the store evolve the schema and try once more.
func (s *PostgresStore) Upsert(ctx context.Context, l *models.Listing) (*models.PersistedListing, error) {
	p, err := s.upsertOnce(ctx, l)
	if isUndefinedColumn(err) {
		s.logger.Warn("[postgres] %v, adding missing columns", err)
		if mErr := s.ensureColumns(ctx, s.db); mErr != nil {
			return nil, mErr
		}
		p, err = s.upsertOnce(ctx, l)
	}
	return p, err
}

func (s *PostgresStore) upsertOnce(ctx context.Context, l *models.Listing) (*models.PersistedListing, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	p, err := s.upsertTx(ctx, tx, l)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return p, nil
}

// UpsertBatch writes all listings in one transaction with a savepoint per
// listing. A failing listing is rolled back alone; the returned rows are
// the ones written and the error joins every failure.
func (s *PostgresStore) UpsertBatch(ctx context.Context, batch []*models.Listing) ([]*models.PersistedListing, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows := make([]*models.PersistedListing, 0, len(batch))
	var errs []error
	for _, l := range batch {
		p, err := s.savepointUpsert(ctx, tx, l)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.URL, err))
			continue
		}
		rows = append(rows, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}
	return rows, errors.Join(errs...)
}

func (s *PostgresStore) savepointUpsert(ctx context.Context, tx *sqlx.Tx, l *models.Listing) (*models.PersistedListing, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT listing_upsert"); err != nil {
		return nil, unavailable("savepoint", err)
	}

	p, err := s.upsertTx(ctx, tx, l)
	if isUndefinedColumn(err) {
		s.logger.Warn("[postgres] %v, adding missing columns", err)
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT listing_upsert"); rbErr != nil {
			return nil, unavailable("rollback to savepoint", rbErr)
		}
		if err = s.ensureColumns(ctx, tx); err == nil {
			p, err = s.upsertTx(ctx, tx, l)
		}
	}
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT listing_upsert"); rbErr != nil {
			return nil, errors.Join(err, unavailable("rollback to savepoint", rbErr))
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT listing_upsert"); err != nil {
		return nil, unavailable("release savepoint", err)
	}
	return p, nil
}

// upsertTx inserts or updates l inside tx. Writes to the same key are
// serialised with a transaction-scoped advisory lock.
func (s *PostgresStore) upsertTx(ctx context.Context, tx *sqlx.Tx, l *models.Listing) (*models.PersistedListing, error) {
	col, key := l.Key()
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", col+":"+key); err != nil {
		return nil, unavailable("lock key", err)
	}

	var existingID int64
	lookup := fmt.Sprintf("SELECT id FROM listings WHERE %s = $1 ORDER BY id LIMIT 1 FOR UPDATE", col)
	err := tx.GetContext(ctx, &existingID, lookup, key)

	vals, err2 := columnValues(l)
	if err2 != nil {
		return nil, err2
	}
	p := &models.PersistedListing{Listing: l}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		args := append([]any{l.URL, l.PropertyID}, vals...)
		if err := tx.QueryRowxContext(ctx, insertSQL, args...).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, wrapWrite("insert", err)
		}
		p.IsNew = true
		s.logger.Debug("[postgres] Inserted %s=%s as id %d", col, key, p.ID)
	case err != nil:
		return nil, wrapWrite("lookup", err)
	default:
		p.ID = existingID
		args := append([]any{existingID}, vals...)
		args = append(args, l.URL, l.PropertyID)
		if err := tx.QueryRowxContext(ctx, updateSQL, args...).Scan(&p.IsNew, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, wrapWrite("update", err)
		}
		s.logger.Debug("[postgres] Updated %s=%s (id %d, isnew %t)", col, key, p.ID, p.IsNew)
	}
	p.Processed = false
	return p, nil
}

// ExistsURL reports whether a row with url is stored.
func (s *PostgresStore) ExistsURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM listings WHERE url = $1)", url); err != nil {
		return false, unavailable("exists", err)
	}
	return exists, nil
}

// FetchAll retrieves stored listings of site, or of every site when site is empty.
func (s *PostgresStore) FetchAll(ctx context.Context, site string) ([]*models.PersistedListing, error) {
	rows, err := s.db.QueryxContext(ctx, selectSQL, site)
	if err != nil {
		return nil, unavailable("fetch all", err)
	}
	defer rows.Close()

	var out []*models.PersistedListing
	for rows.Next() {
		sc := newRowScanner()
		if err := rows.Scan(sc.targets()...); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		p, err := sc.persisted()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("fetch all", err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// columnValues returns l's values in listingColumns order.
func columnValues(l *models.Listing) ([]any, error) {
	extra, err := json.Marshal(l.Extra)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode extra: %w", err)
	}
	var scraped any
	if !l.ScrapeDate.IsZero() {
		scraped = l.ScrapeDate
	}

	vals := []any{
		l.Site, l.Title, l.Status, l.PropertyType, l.Description,
		l.Price, l.Currency,
		l.City, l.Area, l.State, l.Country, l.Zip, l.Latitude, l.Longitude,
		l.Bedrooms, l.Bathrooms, l.HalfBaths, l.InteriorSpace, l.LandSize, l.ParkingSpaces,
	}
	for _, a := range models.Amenities {
		vals = append(vals, l.Amenities[a])
	}
	return append(vals,
		strings.Join(l.Features, models.ListSeparator),
		l.MainImage,
		strings.Join(l.AllImages, models.ListSeparator),
		strings.Join(l.ImageCaptions, models.ListSeparator),
		l.AgentName, l.AgentPhone, l.AgentEmail, l.AgentBio, l.AgentPhoto,
		string(extra),
		scraped,
	), nil
}

// rowScanner mirrors selectSQL's column order.
type rowScanner struct {
	p        *models.PersistedListing
	amen     []bool
	features string
	images   string
	captions string
	extra    string
	scraped  sql.NullTime
}

func newRowScanner() *rowScanner {
	return &rowScanner{
		p:    &models.PersistedListing{Listing: models.NewListing("", "")},
		amen: make([]bool, len(models.Amenities)),
	}
}

func (r *rowScanner) targets() []any {
	l := r.p.Listing
	t := []any{
		&r.p.ID, &l.URL, &l.PropertyID,
		&l.Site, &l.Title, &l.Status, &l.PropertyType, &l.Description,
		&l.Price, &l.Currency,
		&l.City, &l.Area, &l.State, &l.Country, &l.Zip, &l.Latitude, &l.Longitude,
		&l.Bedrooms, &l.Bathrooms, &l.HalfBaths, &l.InteriorSpace, &l.LandSize, &l.ParkingSpaces,
	}
	for i := range r.amen {
		t = append(t, &r.amen[i])
	}
	return append(t,
		&r.features, &l.MainImage, &r.images, &r.captions,
		&l.AgentName, &l.AgentPhone, &l.AgentEmail, &l.AgentBio, &l.AgentPhoto,
		&r.extra, &r.scraped,
		&r.p.IsNew, &r.p.Processed, &r.p.CreatedAt, &r.p.UpdatedAt,
	)
}

func (r *rowScanner) persisted() (*models.PersistedListing, error) {
	l := r.p.Listing
	for i, a := range models.Amenities {
		l.Amenities[a] = r.amen[i]
	}
	l.Features = splitList(r.features)
	l.AllImages = splitList(r.images)
	l.ImageCaptions = splitList(r.captions)
	if r.extra != "" {
		if err := json.Unmarshal([]byte(r.extra), &l.Extra); err != nil {
			return nil, fmt.Errorf("postgres: decode extra of row %d: %w", r.p.ID, err)
		}
	}
	if r.scraped.Valid {
		l.ScrapeDate = r.scraped.Time
	}
	return r.p, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, models.ListSeparator)
}

func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUndefinedColumn
}

// wrapWrite keeps undefined_column errors recognisable and marks the rest
// as store failures.
func wrapWrite(op string, err error) error {
	if isUndefinedColumn(err) {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	return unavailable(op, err)
}
