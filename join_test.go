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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
)

var monthly = []KeyColumn{KeyYear, KeyMonth}

func mustAppend(t *testing.T, tb *Table, lat, lon float64, year, month int, vals map[string]float64) {
	t.Helper()
	if err := tb.Append(Record{Lat: lat, Lon: lon, Year: year, Month: month, Values: vals}); err != nil {
		t.Fatal(err)
	}
}

func TestJoinYearLeft(t *testing.T) {
	base := NewTable("prism", monthly, "ppt")
	mustAppend(t, base, 33, -117, 2001, 1, map[string]float64{"ppt": 1})
	mustAppend(t, base, 33, -116.5, 2001, 1, map[string]float64{"ppt": 2})
	mustAppend(t, base, 33, -117, 2001, 2, map[string]float64{"ppt": 3})
	mustAppend(t, base, 33, -117, 2002, 1, map[string]float64{"ppt": 4})

	ndvi := NewTable("ndvi", monthly, "ndvi")
	mustAppend(t, ndvi, 33.000001, -117, 2001, 1, map[string]float64{"ndvi": 0.5})
	nlcd := NewTable("nlcd", []KeyColumn{KeyYear}, "landcover")
	mustAppend(t, nlcd, 33, -117, 2001, 0, map[string]float64{"landcover": 42})
	dem := NewTable("dem", nil, "elevation")
	mustAppend(t, dem, 33, -116.5, 0, 0, map[string]float64{"elevation": 100})

	out, err := JoinYear(2001, map[string]*Table{
		"prism": base, "ndvi": ndvi, "nlcd": nlcd, "dem": dem,
	}, "prism", AllKeys)
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 3 {
		t.Fatalf("rows = %d, want the 3 base rows of 2001", out.Len())
	}
	want := map[string][]float64{
		"ppt":       {1, 2, 3},
		"ndvi":      {0.5, math.NaN(), math.NaN()},
		"landcover": {42, math.NaN(), 42},
		"elevation": {math.NaN(), 100, math.NaN()},
	}
	if diff := cmp.Diff(want, out.Values, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("joined values (-want +got):\n%s", diff)
	}
	wantCols := []string{"lat", "lon", "year", "month", "ppt", "elevation", "ndvi", "landcover"}
	if diff := cmp.Diff(wantCols, out.AllColumns()); diff != "" {
		t.Errorf("columns (-want +got):\n%s", diff)
	}

	none, err := JoinYear(1999, map[string]*Table{"prism": base, "ndvi": ndvi}, "prism", AllKeys)
	if err != nil || none != nil {
		t.Errorf("year without base rows = %v, %v; want nil, nil", none, err)
	}
}

func TestJoinYearLeavesInputsUnchanged(t *testing.T) {
	base := NewTable("", monthly, "ppt")
	mustAppend(t, base, 33, -117, 2001, 1, map[string]float64{"ppt": 1})
	ndvi := NewTable("", monthly, "ndvi")
	mustAppend(t, ndvi, 33, -117, 2001, 1, map[string]float64{"ndvi": 0.5})

	out, err := JoinYear(2001, map[string]*Table{"prism": base, "ndvi": ndvi}, "prism", AllKeys)
	if err != nil {
		t.Fatal(err)
	}
	if out.Values["ndvi"][0] != 0.5 {
		t.Errorf("ndvi = %v, want 0.5", out.Values["ndvi"])
	}
	if base.Name != "" || ndvi.Name != "" {
		t.Errorf("input names changed to %q and %q", base.Name, ndvi.Name)
	}
	if ndvi.HasColumn("ppt") || base.HasColumn("ndvi") {
		t.Error("input columns changed")
	}
}

func TestJoinYearKeyContracts(t *testing.T) {
	base := NewTable("nlcd", []KeyColumn{KeyYear}, "landcover")
	mustAppend(t, base, 33, -117, 2001, 0, map[string]float64{"landcover": 42})

	finer := NewTable("ndvi", monthly, "ndvi")
	mustAppend(t, finer, 33, -117, 2001, 1, map[string]float64{"ndvi": 0.5})

	dup := NewTable("dem", nil, "elevation")
	mustAppend(t, dup, 33, -117, 0, 0, map[string]float64{"elevation": 1})
	mustAppend(t, dup, 33.000001, -117, 0, 0, map[string]float64{"elevation": 2})

	collide := NewTable("other", nil, "landcover")

	for name, other := range map[string]*Table{"finer": finer, "duplicate": dup, "collision": collide} {
		t.Run(name, func(t *testing.T) {
			_, err := JoinYear(2001, map[string]*Table{"nlcd": base, other.Name: other}, "nlcd", AllKeys)
			var ke *KeyMismatchError
			if !errors.As(err, &ke) {
				t.Errorf("err = %v, want *KeyMismatchError", err)
			}
		})
	}
}

// memLoader serves tables from a map keyed by source and year.
type memLoader map[string]map[int]*Table

func (m memLoader) Load(_ context.Context, src SourceSpec, year int) (*Table, error) {
	byYear, ok := m[src.Name]
	if !ok {
		return nil, nil
	}
	t, ok := byYear[year]
	if !ok {
		return nil, nil
	}
	return t, nil
}

// fileSink writes tables in gob format.
type fileSink struct{}

func (fileSink) Write(_ context.Context, t *Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeTable(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func prismYear(t *testing.T, year int) *Table {
	tb := NewTable("prism", monthly, "ppt", "tdmean", "tmax", "vpdmax")
	for m := 1; m <= 2; m++ {
		for _, lon := range []float64{-117, -116.99167} {
			mustAppend(t, tb, 32.99583, lon, year, m, map[string]float64{
				"ppt": float64(m), "tdmean": 1, "tmax": 2, "vpdmax": 3})
		}
	}
	return tb
}

func testSources() []SourceSpec {
	return []SourceSpec{
		{Name: "prism", Keys: monthly, Columns: []string{"ppt", "tdmean", "tmax", "vpdmax"}},
		{Name: "mtbs", Keys: monthly, Columns: []string{"burned_area"}},
		{Name: "ndvi", Keys: monthly, Columns: []string{"ndvi"}},
		{Name: "nlcd", Keys: []KeyColumn{KeyYear}, Columns: []string{"landcover"}},
		{Name: "dem", Columns: []string{"elevation", "slope", "aspect"}, Static: true, Required: true},
	}
}

func testLoader(t *testing.T) memLoader {
	dem := NewTable("dem", nil, "elevation", "slope", "aspect")
	mustAppend(t, dem, 32.99583, -117, 0, 0, map[string]float64{"elevation": 10, "slope": 0.1, "aspect": 1})
	ndvi := NewTable("ndvi", monthly, "ndvi")
	mustAppend(t, ndvi, 32.99583, -116.99167, 2001, 2, map[string]float64{"ndvi": 0.3})
	return memLoader{
		"prism": {2000: prismYear(t, 2000), 2001: prismYear(t, 2001)},
		"ndvi":  {2001: ndvi},
		"dem":   {0: dem},
	}
}

func TestEngineRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, _ := test.NewNullLogger()
	spill := NewMemSpill()
	e := &Engine{
		Base:    "prism",
		Sources: testSources(),
		Spill:   spill,
		Log:     logger,
		Metrics: NewMetrics(reg),
	}
	out, report, err := e.Run(context.Background(), []int{2001, 1999, 2000}, testLoader(t))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 8 {
		t.Fatalf("rows = %d, want 8", out.Len())
	}
	if diff := cmp.Diff([]int{2000, 2000, 2000, 2000, 2001, 2001, 2001, 2001}, out.Year); diff != "" {
		t.Errorf("years (-want +got):\n%s", diff)
	}
	if err := e.CheckSchema(out); err != nil {
		t.Error(err)
	}
	if diff := cmp.Diff([]float64{10, math.NaN(), 10, math.NaN(), 10, math.NaN(), 10, math.NaN()},
		out.Values["elevation"], cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("elevation (-want +got):\n%s", diff)
	}
	if v := out.Values["ndvi"][7]; v != 0.3 {
		t.Errorf("ndvi of the last row = %g, want 0.3", v)
	}
	for _, v := range out.Values["burned_area"] {
		if !math.IsNaN(v) {
			t.Fatalf("absent source column should be NaN, got %g", v)
		}
	}
	if diff := cmp.Diff([]int{2000, 2001}, report.JoinedYears); diff != "" {
		t.Errorf("joined years (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1999}, report.SkippedYears); diff != "" {
		t.Errorf("skipped years (-want +got):\n%s", diff)
	}
	if spill.Len() != 0 {
		t.Errorf("%d spilled tables left behind", spill.Len())
	}
	if got := testutil.ToFloat64(e.Metrics.YearsJoined); got != 2 {
		t.Errorf("years joined metric = %g, want 2", got)
	}
	if got := testutil.ToFloat64(e.Metrics.SourceSkips.WithLabelValues("mtbs", SkipNoFile)); got != 2 {
		t.Errorf("mtbs skip metric = %g, want 2", got)
	}
}

func TestEngineRunManyYears(t *testing.T) {
	loader := testLoader(t)
	years := []int{2004, 2002, 2000, 2003, 2001}
	for _, y := range years {
		loader["prism"][y] = prismYear(t, y)
	}
	e := &Engine{Base: "prism", Sources: testSources()}
	out, report, err := e.Run(context.Background(), years, loader)
	if err != nil {
		t.Fatal(err)
	}
	if out.Name != "harmonized" || out.Len() != 4*len(years) {
		t.Fatalf("table %s has %d rows, want harmonized with %d", out.Name, out.Len(), 4*len(years))
	}
	var want []int
	for y := 2000; y <= 2004; y++ {
		want = append(want, y, y, y, y)
	}
	if diff := cmp.Diff(want, out.Year); diff != "" {
		t.Errorf("years (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2000, 2001, 2002, 2003, 2004}, report.JoinedYears); diff != "" {
		t.Errorf("joined years (-want +got):\n%s", diff)
	}
	for _, c := range out.Columns {
		if n := len(out.Values[c]); n != out.Len() {
			t.Errorf("column %s has %d values for %d rows", c, n, out.Len())
		}
	}
}

func TestEngineMissingStatic(t *testing.T) {
	loader := testLoader(t)
	delete(loader, "dem")
	e := &Engine{Base: "prism", Sources: testSources()}
	_, _, err := e.Run(context.Background(), []int{2000}, loader)
	var me *MissingInputError
	if !errors.As(err, &me) || me.Input != "dem" {
		t.Errorf("err = %v, want *MissingInputError for dem", err)
	}
}

func TestEngineSchemaGate(t *testing.T) {
	loader := testLoader(t)
	dem := NewTable("dem", nil, "elevation", "slope")
	mustAppend(t, dem, 32.99583, -117, 0, 0, map[string]float64{"elevation": 10, "slope": 0.1})
	loader["dem"][0] = dem
	sources := testSources()
	sources[4].Columns = []string{"elevation", "slope"}

	path := filepath.Join(t.TempDir(), "out.gob")
	e := &Engine{Base: "prism", Sources: sources}
	_, err := e.Harmonize(context.Background(), []int{2000}, loader, fileSink{}, path)
	var se *SchemaValidationError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SchemaValidationError", err)
	}
	if diff := cmp.Diff([]string{"aspect"}, se.Missing); diff != "" {
		t.Errorf("missing columns (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("output file should not exist: %v", err)
	}

	e.Sources = testSources()
	loader = testLoader(t)
	if _, err := e.Harmonize(context.Background(), []int{2000}, loader, fileSink{}, path); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := DecodeTable(f)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 4 {
		t.Errorf("written rows = %d, want 4", got.Len())
	}
}

// failingSpill fails to read back the given year.
type failingSpill struct {
	*MemSpill
	year int
}

func (f failingSpill) Get(ctx context.Context, h SpillHandle) (*Table, error) {
	if h.Year == f.year {
		return nil, fmt.Errorf("disk error")
	}
	return f.MemSpill.Get(ctx, h)
}

func TestEngineSpillCleanup(t *testing.T) {
	mem := NewMemSpill()
	e := &Engine{Base: "prism", Sources: testSources(), Spill: failingSpill{MemSpill: mem, year: 2001}}
	if _, _, err := e.Run(context.Background(), []int{2000, 2001}, testLoader(t)); err == nil {
		t.Fatal("expected an error")
	}
	if mem.Len() != 0 {
		t.Errorf("%d spilled tables left behind after failure", mem.Len())
	}
}

func TestEngineKeyCheck(t *testing.T) {
	sources := testSources()
	sources[3].Keys = []KeyColumn{KeyYear, KeyMonth, "day"}
	e := &Engine{Base: "prism", Sources: sources}
	_, _, err := e.Run(context.Background(), []int{2000}, testLoader(t))
	var ke *KeyMismatchError
	if !errors.As(err, &ke) {
		t.Errorf("err = %v, want *KeyMismatchError", err)
	}
}
