package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"

	"realestate-scraper/models"
)

const xlsxSheet = "Listings"

// XLSXWriter exports listings to a single-sheet workbook with the same
// columns as CSVWriter. The workbook is saved on Close.
type XLSXWriter struct {
	mu    sync.Mutex
	path  string
	table *table
}

// NewXLSXWriter creates a writer for path. The workbook is saved on Close.
func NewXLSXWriter(path string) (*XLSXWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("xlsx: create output dir: %w", err)
	}
	return &XLSXWriter{path: path, table: newTable()}, nil
}

// Write buffers listings as rows.
func (x *XLSXWriter) Write(listings []*models.Listing) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, l := range listings {
		x.table.add(l)
	}
	return nil
}

// Path is the output file.
func (x *XLSXWriter) Path() string { return x.path }

// Close writes the sheet. Nothing is written when no rows were buffered.
func (x *XLSXWriter) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(x.table.records) == 0 {
		return nil
	}

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}

	if err := setRow(f, 1, x.table.columns); err != nil {
		return err
	}
	for i, rec := range x.table.records {
		if err := setRow(f, i+2, x.table.row(rec)); err != nil {
			return err
		}
	}

	if err := f.SaveAs(x.path); err != nil {
		return fmt.Errorf("xlsx: save %q: %w", x.path, err)
	}
	return nil
}

func setRow(f *excelize.File, row int, values []string) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("xlsx: cell name: %w", err)
		}
		if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
			return fmt.Errorf("xlsx: set %s: %w", cell, err)
		}
	}
	return nil
}
