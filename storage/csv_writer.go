package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"realestate-scraper/models"
)

// table accumulates flat records and tracks the column set: the required
// fields followed by optional fields in first-seen order.
type table struct {
	columns []string
	known   map[string]struct{}
	records []map[string]string
}

func newTable() *table {
	t := &table{known: make(map[string]struct{})}
	for _, f := range models.RequiredFields {
		t.addColumn(f)
	}
	return t
}

func (t *table) addColumn(name string) {
	if _, ok := t.known[name]; ok {
		return
	}
	t.known[name] = struct{}{}
	t.columns = append(t.columns, name)
}

func (t *table) add(l *models.Listing) {
	for _, k := range l.OptionalKeys() {
		t.addColumn(k)
	}
	t.records = append(t.records, l.Record())
}

func (t *table) row(rec map[string]string) []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = rec[c]
	}
	return out
}

// CSVWriter writes listings to a CSV file. Rows are kept until Close so
// the header can cover every optional field observed. It is safe for
// concurrent use.
type CSVWriter struct {
	mu    sync.Mutex
	path  string
	table *table
}

// NewCSVWriter prepares a CSV export at path. Intermediate directories are
// created automatically; the file itself is written on Close.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}
	return &CSVWriter{path: path, table: newTable()}, nil
}

// Write buffers listings for the export.
func (c *CSVWriter) Write(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range listings {
		c.table.add(l)
	}
	return nil
}

// Path is the output file.
func (c *CSVWriter) Path() string { return c.path }

// Close writes the header and all rows, truncating any previous file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.table.records) == 0 {
		return nil
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", c.path, err)
	}
	if err := c.writeTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *CSVWriter) writeTo(out io.Writer) error {
	w := csv.NewWriter(out)
	if err := w.Write(c.table.columns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, rec := range c.table.records {
		if err := w.Write(c.table.row(rec)); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
