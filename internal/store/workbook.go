package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/verte-zerg/blooddvh/internal/model"
)

// AttrsSheet holds table attributes as (table, key, value) rows.
const AttrsSheet = "_attrs"

// Workbook stores each table as a worksheet of an XLSX file: a header row of
// column names followed by one row per particle. The file is saved after
// every write.
type Workbook struct {
	file *excelize.File
	path string
}

var _ TableStore = (*Workbook)(nil)

// OpenWorkbook opens an existing workbook or starts a new one at path.
func OpenWorkbook(path string) (*Workbook, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, model.IOf("open workbook", path, err)
		}
		return &Workbook{file: f, path: path}, nil
	} else if !os.IsNotExist(err) {
		return nil, model.IOf("stat workbook", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, model.IOf("create workbook directory", filepath.Dir(path), err)
	}
	f := excelize.NewFile()
	// The default sheet becomes the attribute sheet so the workbook always
	// keeps at least one sheet besides the tables.
	if err := f.SetSheetName(f.GetSheetName(0), AttrsSheet); err != nil {
		_ = f.Close()
		return nil, model.IOf("create workbook", path, err)
	}
	return &Workbook{file: f, path: path}, nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return model.IOf("close workbook", w.path, w.file.Close())
}

// WriteTable replaces the worksheet name with t and saves the file.
func (w *Workbook) WriteTable(ctx context.Context, name string, t Table) error {
	if name == "" || name == AttrsSheet {
		return model.Configf("table name", name, "not usable as a worksheet name")
	}
	if err := t.Validate(); err != nil {
		return model.Configf("table", name, "%v", err)
	}
	if len(t.Columns) > excelize.MaxColumns {
		return model.Configf("table", name, "%d columns exceed the worksheet limit of %d", len(t.Columns), excelize.MaxColumns)
	}
	if len(t.Rows)+1 > excelize.TotalRows {
		return model.Configf("table", name, "%d rows exceed the worksheet limit of %d", len(t.Rows), excelize.TotalRows-1)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.writeSheet(name, t); err != nil {
		return model.IOf("write table "+name, w.path, err)
	}
	if err := w.writeAttrs(name, t.Attrs); err != nil {
		return model.IOf("write attrs "+name, w.path, err)
	}
	if idx, err := w.file.GetSheetIndex(name); err == nil && idx >= 0 {
		w.file.SetActiveSheet(idx)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return model.IOf("save workbook", w.path, err)
	}
	return nil
}

func (w *Workbook) writeSheet(name string, t Table) error {
	idx, err := w.file.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx >= 0 {
		if err := w.file.DeleteSheet(name); err != nil {
			return err
		}
	}
	if _, err := w.file.NewSheet(name); err != nil {
		return err
	}

	sw, err := w.file.NewStreamWriter(name)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	values := make([]interface{}, len(t.Columns))
	for r, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		for i, v := range row {
			values[i] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func (w *Workbook) writeAttrs(name string, attrs map[string]string) error {
	existing, err := w.attrRows()
	if err != nil {
		return err
	}
	var kept [][]string
	for _, row := range existing {
		if len(row) > 0 && row[0] != name {
			kept = append(kept, row)
		}
	}
	for key, value := range attrs {
		kept = append(kept, []string{name, key, value})
	}

	if existing != nil {
		if err := w.file.DeleteSheet(AttrsSheet); err != nil {
			return err
		}
	}
	if _, err := w.file.NewSheet(AttrsSheet); err != nil {
		return err
	}
	for i, row := range kept {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := w.file.SetSheetRow(AttrsSheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

// ReadTable loads the worksheet name.
func (w *Workbook) ReadTable(ctx context.Context, name string) (Table, error) {
	if err := ctx.Err(); err != nil {
		return Table{}, err
	}
	idx, err := w.file.GetSheetIndex(name)
	if err != nil {
		return Table{}, model.IOf("read table "+name, w.path, err)
	}
	if idx < 0 || name == AttrsSheet {
		return Table{}, model.IOf("read table", w.path, fmt.Errorf("%w: %q", ErrTableNotFound, name))
	}
	rows, err := w.file.GetRows(name)
	if err != nil {
		return Table{}, model.IOf("read table "+name, w.path, err)
	}

	var t Table
	if len(rows) > 0 {
		t.Columns = rows[0]
		rows = rows[1:]
	}
	t.Rows = make([][]int, len(rows))
	for r, cells := range rows {
		if len(cells) != len(t.Columns) {
			return Table{}, model.Malformed(w.path, "sheet %q row %d has %d cells, want %d", name, r, len(cells), len(t.Columns))
		}
		row := make([]int, len(cells))
		for i, cell := range cells {
			v, err := strconv.Atoi(cell)
			if err != nil {
				return Table{}, model.Malformed(w.path, "sheet %q row %d cell %d: %v", name, r, i, err)
			}
			row[i] = v
		}
		t.Rows[r] = row
	}

	attrRows, err := w.attrRows()
	if err != nil {
		return Table{}, model.IOf("read attrs "+name, w.path, err)
	}
	t.Attrs = map[string]string{}
	for _, row := range attrRows {
		if len(row) < 2 || row[0] != name {
			continue
		}
		value := ""
		if len(row) > 2 {
			value = row[2]
		}
		t.Attrs[row[1]] = value
	}
	return t, nil
}

// attrRows returns the attribute rows, or nil when the workbook has no
// attribute sheet yet.
func (w *Workbook) attrRows() ([][]string, error) {
	idx, err := w.file.GetSheetIndex(AttrsSheet)
	if err != nil || idx < 0 {
		return nil, err
	}
	rows, err := w.file.GetRows(AttrsSheet)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = [][]string{}
	}
	return rows, nil
}
