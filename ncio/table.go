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

package ncio

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/harmonize"
)

// rowDim is the dimension tables are stored along.
const rowDim = "row"

// TableSink writes tables as netCDF files with one variable per column
// along a single row dimension. Missing values are stored as NaN.
type TableSink struct{}

// Write implements harmonize.TableSink.
func (TableSink) Write(ctx context.Context, t *harmonize.Table, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteTable(path, t)
}

// WriteTable writes t to a new netCDF file at path.
func WriteTable(path string, t *harmonize.Table) error {
	n := t.Len()
	if n == 0 {
		return fmt.Errorf("ncio: table %s has no rows", t.Name)
	}
	h := cdf.NewHeader([]string{rowDim}, []int{n})
	h.AddAttribute("", "table", t.Name)
	for _, c := range t.AllColumns() {
		switch harmonize.KeyColumn(c) {
		case harmonize.KeyYear, harmonize.KeyMonth:
			h.AddVariable(c, []string{rowDim}, []int32{0})
		default:
			h.AddVariable(c, []string{rowDim}, []float64{0})
			if !t.HasKey(harmonize.KeyColumn(c)) {
				h.AddAttribute(c, "_FillValue", []float64{math.NaN()})
			}
		}
	}
	h.Define()

	ff, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("ncio: %v", err)
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		return fmt.Errorf("ncio: creating %s: %v", path, err)
	}
	for _, c := range t.AllColumns() {
		var data interface{}
		switch harmonize.KeyColumn(c) {
		case harmonize.KeyYear:
			data = toInt32(t.Year)
		case harmonize.KeyMonth:
			data = toInt32(t.Month)
		default:
			vals, err := t.Float(c)
			if err != nil {
				ff.Close()
				return fmt.Errorf("ncio: %v", err)
			}
			data = vals
		}
		if err := writeVar(f, c, data); err != nil {
			ff.Close()
			return err
		}
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("ncio: %v", err)
	}
	return nil
}

func toInt32(v []int) []int32 {
	o := make([]int32, len(v))
	for i, x := range v {
		o[i] = int32(x)
	}
	return o
}

// ReadTable reads a table written by WriteTable.
func ReadTable(path string) (*harmonize.Table, error) {
	ff, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &harmonize.MissingInputError{Input: path, Err: err}
		}
		return nil, fmt.Errorf("ncio: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, fmt.Errorf("ncio: reading %s: %v", path, err)
	}
	name, _ := f.Header.GetAttribute("", "table").(string)

	var keys []harmonize.KeyColumn
	var columns []string
	cols := make(map[string][]float64)
	for _, v := range f.Header.Variables() {
		if d := f.Header.Dimensions(v); len(d) != 1 || d[0] != rowDim {
			continue
		}
		vals, err := readFloats(f, v)
		if err != nil {
			return nil, fmt.Errorf("ncio: %s: %v", path, err)
		}
		cols[v] = vals
		switch k := harmonize.KeyColumn(v); k {
		case harmonize.KeyLat, harmonize.KeyLon:
		case harmonize.KeyYear, harmonize.KeyMonth:
			keys = append(keys, k)
		default:
			columns = append(columns, v)
		}
	}
	if cols["lat"] == nil || cols["lon"] == nil {
		return nil, fmt.Errorf("ncio: %s has no lat and lon columns", path)
	}
	t := harmonize.NewTable(name, keys, columns...)
	for i := range cols["lat"] {
		r := harmonize.Record{Lat: cols["lat"][i], Lon: cols["lon"][i], Values: make(map[string]float64, len(columns))}
		if y := cols["year"]; y != nil {
			r.Year = int(y[i])
		}
		if m := cols["month"]; m != nil {
			r.Month = int(m[i])
		}
		for _, c := range columns {
			r.Values[c] = cols[c][i]
		}
		if err := t.Append(r); err != nil {
			return nil, fmt.Errorf("ncio: %s: %v", path, err)
		}
	}
	return t, nil
}
