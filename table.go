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

package harmonize

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultDigits is the number of decimal digits coordinates are rounded to
// before they are used as join keys.
const DefaultDigits = 5

// KeyColumn names a column that identifies a row.
type KeyColumn string

// These are the key columns a table may carry.
const (
	KeyLat   KeyColumn = "lat"
	KeyLon   KeyColumn = "lon"
	KeyYear  KeyColumn = "year"
	KeyMonth KeyColumn = "month"
)

// AllKeys holds every key column in output order.
var AllKeys = []KeyColumn{KeyLat, KeyLon, KeyYear, KeyMonth}

// Quantize rounds v to the given number of decimal digits, with ties going
// to the even neighbor. Values too large to be affected are returned
// unchanged, so that Quantize(Quantize(v)) == Quantize(v).
func Quantize(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	p := math.Pow(10, float64(digits))
	s := v * p
	if math.Abs(s) >= 1<<52 {
		return v
	}
	return math.RoundToEven(s) / p
}

// Record is one row of a Table. Missing values are NaN.
type Record struct {
	Lat, Lon    float64
	Year, Month int
	Values      map[string]float64
}

// Table is a columnar set of rows keyed by location and, optionally, year
// and month. Value columns hold float64 with NaN marking missing values.
type Table struct {
	Name string
	Keys []KeyColumn

	// Digits is the number of decimal digits coordinates are quantized to
	// on insertion.
	Digits int

	Lat, Lon    []float64
	Year, Month []int

	Columns []string
	Values  map[string][]float64
}

// NewTable returns an empty table with the given key and value columns.
// Lat and lon are always keys.
func NewTable(name string, keys []KeyColumn, columns ...string) *Table {
	t := &Table{
		Name:   name,
		Digits: DefaultDigits,
		Values: make(map[string][]float64, len(columns)),
	}
	t.Keys = []KeyColumn{KeyLat, KeyLon}
	for _, k := range keys {
		if !t.HasKey(k) {
			t.Keys = append(t.Keys, k)
		}
	}
	for _, c := range columns {
		t.Columns = append(t.Columns, c)
		t.Values[c] = nil
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Lat)
}

// HasKey reports whether k is one of the key columns of t.
func (t *Table) HasKey(k KeyColumn) bool {
	for _, kk := range t.Keys {
		if kk == k {
			return true
		}
	}
	return false
}

// HasColumn reports whether name is a key or value column of t.
func (t *Table) HasColumn(name string) bool {
	if t.HasKey(KeyColumn(name)) {
		return true
	}
	_, ok := t.Values[name]
	return ok
}

// AllColumns returns the key columns followed by the value columns.
func (t *Table) AllColumns() []string {
	o := make([]string, 0, len(t.Keys)+len(t.Columns))
	for _, k := range AllKeys {
		if t.HasKey(k) {
			o = append(o, string(k))
		}
	}
	return append(o, t.Columns...)
}

// Append adds r to t. Coordinates are quantized and value columns absent
// from r are set to NaN. Values for unknown columns are an error.
func (t *Table) Append(r Record) error {
	for c := range r.Values {
		if _, ok := t.Values[c]; !ok {
			return fmt.Errorf("harmonize: table %s has no column %q", t.Name, c)
		}
	}
	t.Lat = append(t.Lat, Quantize(r.Lat, t.Digits))
	t.Lon = append(t.Lon, Quantize(r.Lon, t.Digits))
	if t.HasKey(KeyYear) {
		t.Year = append(t.Year, r.Year)
	}
	if t.HasKey(KeyMonth) {
		t.Month = append(t.Month, r.Month)
	}
	for _, c := range t.Columns {
		v, ok := r.Values[c]
		if !ok {
			v = math.NaN()
		}
		t.Values[c] = append(t.Values[c], v)
	}
	return nil
}

// Row returns row i of t.
func (t *Table) Row(i int) Record {
	r := Record{Lat: t.Lat[i], Lon: t.Lon[i], Values: make(map[string]float64, len(t.Columns))}
	if t.HasKey(KeyYear) {
		r.Year = t.Year[i]
	}
	if t.HasKey(KeyMonth) {
		r.Month = t.Month[i]
	}
	for _, c := range t.Columns {
		r.Values[c] = t.Values[c][i]
	}
	return r
}

// AddColumn adds a value column. A nil vals fills the column with NaN.
func (t *Table) AddColumn(name string, vals []float64) error {
	if t.HasColumn(name) {
		return fmt.Errorf("harmonize: table %s already has column %q", t.Name, name)
	}
	if vals == nil {
		vals = make([]float64, t.Len())
		for i := range vals {
			vals[i] = math.NaN()
		}
	}
	if len(vals) != t.Len() {
		return fmt.Errorf("harmonize: column %q has %d values, table %s has %d rows",
			name, len(vals), t.Name, t.Len())
	}
	t.Columns = append(t.Columns, name)
	t.Values[name] = vals
	return nil
}

// Float returns the values of the key or value column name as float64.
func (t *Table) Float(name string) ([]float64, error) {
	switch KeyColumn(name) {
	case KeyLat:
		return t.Lat, nil
	case KeyLon:
		return t.Lon, nil
	case KeyYear, KeyMonth:
		if !t.HasKey(KeyColumn(name)) {
			break
		}
		src := t.Year
		if KeyColumn(name) == KeyMonth {
			src = t.Month
		}
		o := make([]float64, len(src))
		for i, v := range src {
			o[i] = float64(v)
		}
		return o, nil
	default:
		if v, ok := t.Values[name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("harmonize: table %s has no column %q", t.Name, name)
}

// Concat stacks tables with identical columns into one table named name.
func Concat(name string, tables ...*Table) (*Table, error) {
	var o *Table
	for _, t := range tables {
		if t == nil {
			continue
		}
		if o == nil {
			o = NewTable(name, t.Keys, t.Columns...)
			o.Digits = t.Digits
		}
		if err := o.AppendTable(t); err != nil {
			return nil, err
		}
	}
	if o == nil {
		return nil, fmt.Errorf("harmonize: no tables to concatenate")
	}
	return o, nil
}

// AppendTable adds the rows of o to the end of t in place. The tables must have
// identical columns. o is not modified.
func (t *Table) AppendTable(o *Table) error {
	if !sameStrings(t.AllColumns(), o.AllColumns()) {
		return fmt.Errorf("harmonize: concatenating table %s with columns %v onto columns %v",
			o.Name, o.AllColumns(), t.AllColumns())
	}
	t.Lat = append(t.Lat, o.Lat...)
	t.Lon = append(t.Lon, o.Lon...)
	t.Year = append(t.Year, o.Year...)
	t.Month = append(t.Month, o.Month...)
	for _, c := range t.Columns {
		t.Values[c] = append(t.Values[c], o.Values[c]...)
	}
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TableFromGrids converts grids over the same geographic cells into a table
// with one row per cell and one column per grid. Missing cells become NaN.
// year and month are only stored when keys includes them.
func TableFromGrids(name string, keys []KeyColumn, year, month int, columns []string, grids []*Grid) (*Table, error) {
	if len(columns) != len(grids) || len(grids) == 0 {
		return nil, fmt.Errorf("harmonize: %d column names for %d grids", len(columns), len(grids))
	}
	ref := grids[0]
	if ref.SR != nil && !ref.Geographic() {
		return nil, fmt.Errorf("harmonize: table %s: grid coordinates are not longitude and latitude", name)
	}
	for _, g := range grids[1:] {
		if !g.X.Equal(ref.X, 0) || !g.Y.Equal(ref.Y, 0) {
			return nil, fmt.Errorf("harmonize: table %s: grids are not on the same cells", name)
		}
	}
	t := NewTable(name, keys, columns...)
	nx := ref.Nx()
	for j, lat := range ref.Y.Centers {
		for i, lon := range ref.X.Centers {
			vals := make(map[string]float64, len(grids))
			for c, g := range grids {
				v := g.Data.Elements[j*nx+i]
				if g.IsMissing(v) {
					v = math.NaN()
				}
				vals[columns[c]] = v
			}
			if err := t.Append(Record{Lat: lat, Lon: lon, Year: year, Month: month, Values: vals}); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// ColumnSummary holds summary statistics of the non-missing values of one
// column.
type ColumnSummary struct {
	Column        string
	Count         int
	Mean, StdDev  float64
	Min, Max      float64
	Median        float64
	MissingValues int
}

// Describe returns summary statistics for every value column of t.
func (t *Table) Describe() []ColumnSummary {
	o := make([]ColumnSummary, 0, len(t.Columns))
	for _, c := range t.Columns {
		vals := make([]float64, 0, t.Len())
		for _, v := range t.Values[c] {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		s := ColumnSummary{
			Column:        c,
			Count:         len(vals),
			MissingValues: t.Len() - len(vals),
			Mean:          math.NaN(),
			StdDev:        math.NaN(),
			Min:           math.NaN(),
			Max:           math.NaN(),
			Median:        math.NaN(),
		}
		if len(vals) > 0 {
			sort.Float64s(vals)
			s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
			s.Min, s.Max = floats.Min(vals), floats.Max(vals)
			s.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
		}
		o = append(o, s)
	}
	return o
}

// LogSummary logs the Describe output of t at info level.
func (t *Table) LogSummary(log logrus.FieldLogger) {
	for _, s := range t.Describe() {
		log.WithFields(logrus.Fields{
			"table":   t.Name,
			"column":  s.Column,
			"count":   s.Count,
			"missing": s.MissingValues,
			"mean":    s.Mean,
			"std":     s.StdDev,
			"min":     s.Min,
			"median":  s.Median,
			"max":     s.Max,
		}).Info("column summary")
	}
}
