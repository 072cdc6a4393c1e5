package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/verte-zerg/blooddvh/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for trajectory tables.
type Store struct {
	db   *sql.DB
	path string
}

var _ TableStore = (*Store)(nil)

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.IOf("create store directory", dir, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, model.IOf("open store", path, err)
	}
	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, model.IOf("migrate store", path, err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return model.IOf("close store", s.path, s.db.Close())
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trajectory_tables (
			name TEXT PRIMARY KEY,
			columns TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			written_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trajectory_rows (
			table_name TEXT NOT NULL,
			row_idx INTEGER NOT NULL,
			cells TEXT NOT NULL,
			PRIMARY KEY (table_name, row_idx)
		);`,
		`CREATE TABLE IF NOT EXISTS table_attrs (
			table_name TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (table_name, key)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteTable stores t under name in a single transaction.
func (s *Store) WriteTable(ctx context.Context, name string, t Table) error {
	if name == "" {
		return model.Configf("table name", name, "must not be empty")
	}
	if err := t.Validate(); err != nil {
		return model.Configf("table", name, "%v", err)
	}
	if err := s.writeTable(ctx, name, t); err != nil {
		return model.IOf("write table "+name, s.path, err)
	}
	return nil
}

func (s *Store) writeTable(ctx context.Context, name string, t Table) (err error) {
	columns, err := json.Marshal(t.Columns)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM trajectory_rows WHERE table_name = ?`,
		`DELETE FROM table_attrs WHERE table_name = ?`,
		`DELETE FROM trajectory_tables WHERE name = ?`,
	} {
		if _, err = tx.ExecContext(ctx, stmt, name); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO trajectory_tables (name, columns, row_count, written_at) VALUES (?, ?, ?, ?)`,
		name, string(columns), len(t.Rows), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}

	if len(t.Rows) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO trajectory_rows (table_name, row_idx, cells) VALUES (?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for i, row := range t.Rows {
			if _, err = stmt.ExecContext(ctx, name, i, encodeCells(row)); err != nil {
				return err
			}
		}
	}

	for key, value := range t.Attrs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO table_attrs (table_name, key, value) VALUES (?, ?, ?)`,
			name, key, value,
		); err != nil {
			return err
		}
	}

	err = tx.Commit()
	return err
}

// ReadTable loads the table stored under name.
func (s *Store) ReadTable(ctx context.Context, name string) (Table, error) {
	var columnsJSON string
	var rowCount int
	err := s.db.QueryRowContext(ctx,
		`SELECT columns, row_count FROM trajectory_tables WHERE name = ?`, name,
	).Scan(&columnsJSON, &rowCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Table{}, model.IOf("read table", s.path, fmt.Errorf("%w: %q", ErrTableNotFound, name))
	}
	if err != nil {
		return Table{}, model.IOf("read table "+name, s.path, err)
	}

	var t Table
	if err := json.Unmarshal([]byte(columnsJSON), &t.Columns); err != nil {
		return Table{}, model.Malformed(s.path, "table %q: columns: %v", name, err)
	}
	if t.Rows, err = s.readRows(ctx, name, len(t.Columns), rowCount); err != nil {
		return Table{}, err
	}
	if t.Attrs, err = s.readAttrs(ctx, name); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (s *Store) readRows(ctx context.Context, name string, width, count int) ([][]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, cells FROM trajectory_rows WHERE table_name = ? ORDER BY row_idx ASC`, name)
	if err != nil {
		return nil, model.IOf("read table "+name, s.path, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	result := make([][]int, 0, count)
	for rows.Next() {
		var idx int
		var cells string
		if err := rows.Scan(&idx, &cells); err != nil {
			return nil, model.IOf("read table "+name, s.path, err)
		}
		if idx != len(result) {
			return nil, model.Malformed(s.path, "table %q: missing row %d", name, len(result))
		}
		row, err := decodeCells(cells)
		if err != nil {
			return nil, model.Malformed(s.path, "table %q row %d: %v", name, idx, err)
		}
		if len(row) != width {
			return nil, model.Malformed(s.path, "table %q row %d has %d cells, want %d", name, idx, len(row), width)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.IOf("read table "+name, s.path, err)
	}
	if len(result) != count {
		return nil, model.Malformed(s.path, "table %q has %d rows, want %d", name, len(result), count)
	}
	return result, nil
}

func (s *Store) readAttrs(ctx context.Context, name string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM table_attrs WHERE table_name = ?`, name)
	if err != nil {
		return nil, model.IOf("read attrs "+name, s.path, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	attrs := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, model.IOf("read attrs "+name, s.path, err)
		}
		attrs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, model.IOf("read attrs "+name, s.path, err)
	}
	return attrs, nil
}

// ListTables returns the stored table names in sorted order.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM trajectory_tables ORDER BY name ASC`)
	if err != nil {
		return nil, model.IOf("list tables", s.path, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, model.IOf("list tables", s.path, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, model.IOf("list tables", s.path, err)
	}
	return names, nil
}

func encodeCells(row []int) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

func decodeCells(s string) ([]int, error) {
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	row := make([]int, len(parts))
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}
