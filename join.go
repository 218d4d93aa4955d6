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
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// RequiredColumns are the columns the harmonized table must carry before
// it is written.
var RequiredColumns = []string{
	"lat", "lon", "year", "month",
	"ppt", "tdmean", "tmax", "vpdmax",
	"burned_area", "ndvi", "landcover",
	"elevation", "slope", "aspect",
}

// rowKey identifies a row by the key columns shared by two tables. Keys
// not shared are left at their zero value.
type rowKey struct {
	lat, lon    float64
	year, month int
}

func keyOf(t *Table, i int, keys []KeyColumn, digits int) rowKey {
	var k rowKey
	for _, c := range keys {
		switch c {
		case KeyLat:
			k.lat = Quantize(t.Lat[i], digits)
		case KeyLon:
			k.lon = Quantize(t.Lon[i], digits)
		case KeyYear:
			k.year = t.Year[i]
		case KeyMonth:
			k.month = t.Month[i]
		}
	}
	return k
}

func containsKey(keys []KeyColumn, k KeyColumn) bool {
	for _, kk := range keys {
		if kk == k {
			return true
		}
	}
	return false
}

// checkKeys verifies that a source declaring keys can be left-joined
// onto a base table keyed by baseKeys without multiplying rows.
func checkKeys(source string, keys, baseKeys, target []KeyColumn) error {
	for _, k := range keys {
		if !containsKey(target, k) {
			return &KeyMismatchError{Source: source, Reason: fmt.Sprintf("key %q is not a target key", k)}
		}
		if !containsKey(baseKeys, k) {
			return &KeyMismatchError{Source: source, Reason: fmt.Sprintf("key %q is finer than the base keys %v", k, baseKeys)}
		}
	}
	return nil
}

// JoinYear left-joins every table in tables onto the table named base,
// keeping only the rows of year. Tables are joined in name order on the
// key columns they declare. A nil result with a nil error means the base
// table has no rows for year.
func JoinYear(year int, tables map[string]*Table, base string, keys []KeyColumn) (*Table, error) {
	names := make([]string, 0, len(tables))
	for n := range tables {
		if n != base {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	others := make([]*Table, 0, len(names))
	for _, n := range names {
		t := tables[n]
		if t != nil && t.Name == "" {
			named := *t
			named.Name = n
			t = &named
		}
		others = append(others, t)
	}
	return joinYear(year, tables[base], others, keys)
}

// selectYear returns the indices of the rows of t for year, or all rows
// when t has no year key.
func selectYear(t *Table, year int) []int {
	o := make([]int, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		if t.HasKey(KeyYear) && t.Year[i] != year {
			continue
		}
		o = append(o, i)
	}
	return o
}

func joinYear(year int, base *Table, others []*Table, keys []KeyColumn) (*Table, error) {
	if base == nil {
		return nil, nil
	}
	for _, t := range others {
		if t == nil {
			continue
		}
		if err := checkKeys(t.Name, t.Keys, base.Keys, keys); err != nil {
			return nil, err
		}
	}
	rows := selectYear(base, year)
	if len(rows) == 0 {
		return nil, nil
	}

	out := NewTable(base.Name, base.Keys, base.Columns...)
	out.Digits = base.Digits
	for _, i := range rows {
		out.Lat = append(out.Lat, base.Lat[i])
		out.Lon = append(out.Lon, base.Lon[i])
		if base.HasKey(KeyYear) {
			out.Year = append(out.Year, base.Year[i])
		}
		if base.HasKey(KeyMonth) {
			out.Month = append(out.Month, base.Month[i])
		}
		for _, c := range base.Columns {
			out.Values[c] = append(out.Values[c], base.Values[c][i])
		}
	}

	for _, t := range others {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if out.HasColumn(c) {
				return nil, &KeyMismatchError{Source: t.Name, Reason: fmt.Sprintf("column %q is already present", c)}
			}
		}
		index := make(map[rowKey]int, t.Len())
		for _, i := range selectYear(t, year) {
			k := keyOf(t, i, t.Keys, out.Digits)
			if _, dup := index[k]; dup {
				return nil, &KeyMismatchError{Source: t.Name, Reason: fmt.Sprintf(
					"duplicate key lat=%g lon=%g year=%d month=%d", k.lat, k.lon, k.year, k.month)}
			}
			index[k] = i
		}
		cols := make([][]float64, len(t.Columns))
		for c := range cols {
			cols[c] = make([]float64, out.Len())
		}
		for r := 0; r < out.Len(); r++ {
			i, ok := index[keyOf(out, r, t.Keys, out.Digits)]
			for c, name := range t.Columns {
				if ok {
					cols[c][r] = t.Values[name][i]
				} else {
					cols[c][r] = math.NaN()
				}
			}
		}
		for c, name := range t.Columns {
			if err := out.AddColumn(name, cols[c]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// SourceSpec describes one input of the join.
type SourceSpec struct {
	Name    string
	Keys    []KeyColumn
	Columns []string

	// Static sources are loaded once and joined into every year.
	Static bool

	// Required static sources abort the run when they cannot be loaded.
	Required bool
}

// A YearLoader loads the table of one source for one year. Static sources
// are loaded with year 0. A nil table with a nil error means the source
// has no data for year.
type YearLoader interface {
	Load(ctx context.Context, src SourceSpec, year int) (*Table, error)
}

// LoaderFunc adapts a function to the YearLoader interface.
type LoaderFunc func(ctx context.Context, src SourceSpec, year int) (*Table, error)

// Load implements YearLoader.
func (f LoaderFunc) Load(ctx context.Context, src SourceSpec, year int) (*Table, error) {
	return f(ctx, src, year)
}

// A TableSink persists a table.
type TableSink interface {
	Write(ctx context.Context, t *Table, path string) error
}

// Reasons a source is left out of a year.
const (
	SkipNoFile    = "no_file"
	SkipNoOverlap = "no_overlap"
	SkipNoData    = "no_data"
	SkipOther     = "other"
)

// SourceSkip records a source left out of a year.
type SourceSkip struct {
	Source string
	Year   int
	Reason string
	Err    string `toml:",omitempty"`
}

// Report summarizes a harmonization run.
type Report struct {
	JoinedYears  []int
	SkippedYears []int
	SourceSkips  []SourceSkip
	Rows         int
	Columns      []string
}

func (r *Report) skip(source string, year int, err error) string {
	reason := SkipNoFile
	var (
		ae *AlignmentError
		ee *EmptyResultError
	)
	switch {
	case err == nil:
	case errors.As(err, &ae):
		reason = SkipNoOverlap
	case errors.As(err, &ee):
		reason = SkipNoData
	default:
		reason = SkipOther
	}
	s := SourceSkip{Source: source, Year: year, Reason: reason}
	if err != nil {
		s.Err = err.Error()
	}
	r.SourceSkips = append(r.SourceSkips, s)
	return reason
}

// fatal reports whether err must abort the run rather than skip a source.
func fatal(err error) bool {
	var (
		me *MissingInputError
		ke *KeyMismatchError
		se *SchemaValidationError
	)
	return errors.As(err, &me) || errors.As(err, &ke) || errors.As(err, &se) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Engine joins per-year tables from several sources onto a base source and
// concatenates the years. Years are processed one at a time and each joined
// year is spilled so that only one year is held in memory while joining.
type Engine struct {
	// Base is the name of the source that defines the rows of each year.
	Base    string
	Sources []SourceSpec

	// Keys are the target key columns. They default to AllKeys.
	Keys []KeyColumn

	// Schema lists the columns the final table must carry. It defaults to
	// RequiredColumns; an empty non-nil slice disables the check.
	Schema []string

	Spill   SpillStore
	Log     logrus.FieldLogger
	Metrics *Metrics
}

func (e *Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e *Engine) keys() []KeyColumn {
	if len(e.Keys) == 0 {
		return AllKeys
	}
	return e.Keys
}

func (e *Engine) source(name string) (SourceSpec, bool) {
	for _, s := range e.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceSpec{}, false
}

// check validates the declared key contracts before anything is loaded.
func (e *Engine) check() (SourceSpec, error) {
	base, ok := e.source(e.Base)
	if !ok {
		return base, fmt.Errorf("harmonize: base source %q is not configured", e.Base)
	}
	if base.Static {
		return base, fmt.Errorf("harmonize: base source %q cannot be static", e.Base)
	}
	if err := checkKeys(base.Name, base.Keys, e.keys(), e.keys()); err != nil {
		return base, err
	}
	baseKeys := append([]KeyColumn{KeyLat, KeyLon}, base.Keys...)
	seen := make(map[string]string)
	for _, s := range e.Sources {
		if s.Name != base.Name {
			if err := checkKeys(s.Name, s.Keys, baseKeys, e.keys()); err != nil {
				return base, err
			}
		}
		for _, c := range s.Columns {
			if other, ok := seen[c]; ok {
				return base, &KeyMismatchError{Source: s.Name,
					Reason: fmt.Sprintf("column %q is also provided by %s", c, other)}
			}
			seen[c] = s.Name
		}
	}
	return base, nil
}

// CheckSchema returns a *SchemaValidationError when t lacks any of the
// engine's required columns.
func (e *Engine) CheckSchema(t *Table) error {
	schema := e.Schema
	if schema == nil {
		schema = RequiredColumns
	}
	var missing []string
	for _, c := range schema {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaValidationError{Missing: missing}
	}
	return nil
}

// Run joins the sources for each year in ascending order, concatenates the
// joined years and checks the result against the schema. Spilled tables
// are removed whether or not Run succeeds.
func (e *Engine) Run(ctx context.Context, years []int, loader YearLoader) (*Table, *Report, error) {
	base, err := e.check()
	if err != nil {
		return nil, nil, err
	}
	spill := e.Spill
	if spill == nil {
		spill = NewMemSpill()
	}
	log := e.log()
	report := new(Report)

	statics := make(map[string]*Table)
	for _, s := range e.Sources {
		if !s.Static {
			continue
		}
		t, err := loader.Load(ctx, s, 0)
		if err == nil && t != nil {
			t.Name = s.Name
			statics[s.Name] = t
			continue
		}
		if err != nil && fatal(err) {
			return nil, report, err
		}
		if s.Required {
			return nil, report, &MissingInputError{Input: s.Name, Err: err}
		}
		reason := report.skip(s.Name, 0, err)
		e.Metrics.sourceSkipped(s.Name, reason)
		log.WithFields(logrus.Fields{"source": s.Name, "reason": reason}).WithError(err).Warn("static source unavailable")
	}

	ys := append([]int(nil), years...)
	sort.Ints(ys)
	var handles []SpillHandle
	release := func() {
		cctx := context.WithoutCancel(ctx)
		for _, h := range handles {
			if err := spill.Delete(cctx, h); err != nil {
				log.WithField("year", h.Year).WithError(err).Error("deleting spilled table")
			}
		}
		handles = nil
	}

	for i, year := range ys {
		if i > 0 && year == ys[i-1] {
			continue
		}
		if err := ctx.Err(); err != nil {
			release()
			return nil, report, err
		}
		ylog := log.WithField("year", year)
		start := time.Now()
		joined, err := e.joinYear(ctx, year, base, statics, loader, report, ylog)
		if err != nil {
			release()
			return nil, report, err
		}
		if joined == nil {
			report.SkippedYears = append(report.SkippedYears, year)
			e.Metrics.yearSkipped()
			ylog.Warn("base source has no rows; skipping year")
			continue
		}
		h, err := spill.Put(ctx, year, joined)
		if err != nil {
			release()
			return nil, report, fmt.Errorf("harmonize: spilling year %d: %w", year, err)
		}
		handles = append(handles, h)
		report.JoinedYears = append(report.JoinedYears, year)
		e.Metrics.yearJoined(start)
		ylog.WithField("rows", joined.Len()).Info("joined year")
	}
	if len(handles) == 0 {
		return nil, report, &EmptyResultError{Source: e.Base}
	}

	var final *Table
	for len(handles) > 0 {
		h := handles[0]
		t, err := spill.Get(ctx, h)
		if err != nil {
			release()
			return nil, report, fmt.Errorf("harmonize: reading spilled year %d: %w", h.Year, err)
		}
		if final == nil {
			final, err = Concat("harmonized", t)
		} else {
			err = final.AppendTable(t)
		}
		if err != nil {
			release()
			return nil, report, err
		}
		if err := spill.Delete(ctx, h); err != nil {
			log.WithField("year", h.Year).WithError(err).Error("deleting spilled table")
		}
		handles = handles[1:]
	}
	report.Rows = final.Len()
	report.Columns = final.AllColumns()
	if err := e.CheckSchema(final); err != nil {
		return nil, report, err
	}
	final.LogSummary(log)
	return final, report, nil
}

// joinYear loads and joins the sources of one year. It returns a nil table
// when the year must be skipped.
func (e *Engine) joinYear(ctx context.Context, year int, base SourceSpec, statics map[string]*Table,
	loader YearLoader, report *Report, log logrus.FieldLogger) (*Table, error) {

	bt, err := loader.Load(ctx, base, year)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		var (
			ae *AlignmentError
			ee *EmptyResultError
		)
		if !errors.As(err, &ae) && !errors.As(err, &ee) {
			return nil, fmt.Errorf("harmonize: loading %s for %d: %w", base.Name, year, err)
		}
		reason := report.skip(base.Name, year, err)
		e.Metrics.sourceSkipped(base.Name, reason)
		return nil, nil
	}
	if bt == nil || bt.Len() == 0 {
		return nil, nil
	}
	bt.Name = base.Name

	var others []*Table
	for _, s := range e.Sources {
		if s.Name == base.Name {
			continue
		}
		if s.Static {
			if t, ok := statics[s.Name]; ok {
				others = append(others, t)
			}
			continue
		}
		t, err := loader.Load(ctx, s, year)
		if err != nil && fatal(err) {
			return nil, err
		}
		if err != nil || t == nil {
			reason := report.skip(s.Name, year, err)
			e.Metrics.sourceSkipped(s.Name, reason)
			log.WithFields(logrus.Fields{"source": s.Name, "reason": reason}).WithError(err).Warn("source left out of year")
			continue
		}
		t.Name = s.Name
		others = append(others, t)
	}

	joined, err := joinYear(year, bt, others, e.keys())
	if err != nil || joined == nil {
		return nil, err
	}
	for _, s := range e.Sources {
		for _, c := range s.Columns {
			if !joined.HasColumn(c) {
				if err := joined.AddColumn(c, nil); err != nil {
					return nil, err
				}
			}
		}
	}
	return joined, nil
}

// Harmonize runs the engine and writes the result to sink. Nothing is
// written when the run fails or the result lacks required columns.
func (e *Engine) Harmonize(ctx context.Context, years []int, loader YearLoader, sink TableSink, path string) (*Report, error) {
	t, report, err := e.Run(ctx, years, loader)
	if err != nil {
		return report, err
	}
	if err := sink.Write(ctx, t, path); err != nil {
		return report, fmt.Errorf("harmonize: writing %s: %w", path, err)
	}
	e.Metrics.rowsWritten(t.Len())
	e.log().WithFields(logrus.Fields{"path": path, "rows": t.Len()}).Info("wrote harmonized table")
	return report, nil
}
