// Package store persists integer tables such as particle trajectories.
//
// A TableStore keeps named tables whose rows are particles and whose columns
// are time steps, plus a small set of string attributes per table. The SQLite
// backend (Store) and the XLSX backend (Workbook) implement the same contract.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrTableNotFound is wrapped by ReadTable when no table has the given name.
var ErrTableNotFound = errors.New("table not found")

// Table is a rectangular grid of integer cells.
type Table struct {
	Columns []string
	Rows    [][]int
	Attrs   map[string]string
}

// Validate checks that every row has one cell per column.
func (t Table) Validate() error {
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// TableStore reads and writes named tables.
type TableStore interface {
	// WriteTable stores t under name, replacing any previous table.
	WriteTable(ctx context.Context, name string, t Table) error
	// ReadTable loads the table stored under name.
	ReadTable(ctx context.Context, name string) (Table, error)
	// Close releases the underlying resources.
	Close() error
}

// OpenPath opens a store chosen by file extension: .xlsx opens a Workbook,
// anything else an SQLite Store.
func OpenPath(path string) (TableStore, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return OpenWorkbook(path)
	}
	return Open(path)
}
