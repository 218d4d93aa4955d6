/*
Copyright © 2026 the Harmonize authors.
This file is part of Harmonize.

Harmonize is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Harmonize is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Harmonize.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package sqlsink stores harmonized tables in SQLite databases.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/spatialmodel/harmonize"
	_ "modernc.org/sqlite"
)

// DefaultTable is the name of the database table rows are written to when
// Sink.Table is empty.
const DefaultTable = "harmonized"

// Sink writes tables to a SQLite database, replacing any existing table of
// the same name. Missing values are stored as NULL.
type Sink struct {
	Table string
}

func (s Sink) table() string {
	if s.Table == "" {
		return DefaultTable
	}
	return s.Table
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlType(c string) string {
	switch harmonize.KeyColumn(c) {
	case harmonize.KeyYear, harmonize.KeyMonth:
		return "INTEGER NOT NULL"
	case harmonize.KeyLat, harmonize.KeyLon:
		return "REAL NOT NULL"
	}
	return "REAL"
}

// Write implements harmonize.TableSink. path is the database file.
func (s Sink) Write(ctx context.Context, t *harmonize.Table, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("sqlsink: %v", err)
	}
	defer db.Close()
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;")

	columns := t.AllColumns()
	defs := make([]string, len(columns))
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
		defs[i] = quoted[i] + " " + sqlType(c)
	}
	name := quote(s.table())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlsink: %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("sqlsink: %v", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("sqlsink: creating table %s: %v", s.table(), err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		name, strings.Join(quoted, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")))
	if err != nil {
		return fmt.Errorf("sqlsink: %v", err)
	}
	defer stmt.Close()

	cols := make([][]float64, len(columns))
	for i, c := range columns {
		if cols[i], err = t.Float(c); err != nil {
			return fmt.Errorf("sqlsink: %v", err)
		}
	}
	args := make([]interface{}, len(columns))
	for r := 0; r < t.Len(); r++ {
		for i, c := range columns {
			v := cols[i][r]
			switch {
			case math.IsNaN(v):
				args[i] = nil
			case harmonize.KeyColumn(c) == harmonize.KeyYear || harmonize.KeyColumn(c) == harmonize.KeyMonth:
				args[i] = int64(v)
			default:
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sqlsink: inserting row %d: %v", r, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlsink: %v", err)
	}
	return nil
}

// ReadTable reads the table written by s from the database at path.
// NULL values become NaN.
func (s Sink) ReadTable(ctx context.Context, path string) (*harmonize.Table, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlsink: %v", err)
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quote(s.table()))
	if err != nil {
		return nil, fmt.Errorf("sqlsink: %v", err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlsink: %v", err)
	}

	var keys []harmonize.KeyColumn
	var values []string
	for _, c := range columns {
		switch k := harmonize.KeyColumn(c); k {
		case harmonize.KeyLat, harmonize.KeyLon:
		case harmonize.KeyYear, harmonize.KeyMonth:
			keys = append(keys, k)
		default:
			values = append(values, c)
		}
	}
	t := harmonize.NewTable(s.table(), keys, values...)
	vals := make([]sql.NullFloat64, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlsink: %v", err)
		}
		r := harmonize.Record{Values: make(map[string]float64, len(values))}
		for i, c := range columns {
			v := math.NaN()
			if vals[i].Valid {
				v = vals[i].Float64
			}
			switch harmonize.KeyColumn(c) {
			case harmonize.KeyLat:
				r.Lat = v
			case harmonize.KeyLon:
				r.Lon = v
			case harmonize.KeyYear:
				r.Year = int(v)
			case harmonize.KeyMonth:
				r.Month = int(v)
			default:
				r.Values[c] = v
			}
		}
		if err := t.Append(r); err != nil {
			return nil, fmt.Errorf("sqlsink: %v", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlsink: %v", err)
	}
	return t, nil
}
