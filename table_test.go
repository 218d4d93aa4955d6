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
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestQuantize(t *testing.T) {
	for _, tc := range []struct {
		in     float64
		digits int
		want   float64
	}{
		{32.123456, 5, 32.12346},
		{-117.000004, 5, -117},
		{2.5, 0, 2}, // ties go to even
		{3.5, 0, 4},
		{0.125, 2, 0.12},
		{1e300, 5, 1e300},
	} {
		got := Quantize(tc.in, tc.digits)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Quantize(%v, %d) = %v, want %v", tc.in, tc.digits, got, tc.want)
		}
		if again := Quantize(got, tc.digits); again != got {
			t.Errorf("Quantize is not idempotent for %v: %v then %v", tc.in, got, again)
		}
	}
	if !math.IsNaN(Quantize(math.NaN(), 5)) {
		t.Error("NaN should stay NaN")
	}
	for v := -180.0; v < 180; v += 0.0137 {
		q := Quantize(v, 5)
		if Quantize(q, 5) != q {
			t.Fatalf("Quantize is not idempotent for %v", v)
		}
	}
}

func TestTableAppend(t *testing.T) {
	tb := NewTable("prism", []KeyColumn{KeyYear, KeyMonth}, "ppt", "tmax")
	if err := tb.Append(Record{Lat: 32.7157012, Lon: -117.1610838, Year: 2001, Month: 3,
		Values: map[string]float64{"ppt": 12}}); err != nil {
		t.Fatal(err)
	}
	if err := tb.Append(Record{Values: map[string]float64{"ndvi": 1}}); err == nil {
		t.Error("appending an unknown column should fail")
	}
	r := tb.Row(0)
	want := Record{Lat: 32.7157, Lon: -117.16108, Year: 2001, Month: 3,
		Values: map[string]float64{"ppt": 12, "tmax": math.NaN()}}
	if diff := cmp.Diff(want, r, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
	if got := tb.AllColumns(); !sameStrings(got, []string{"lat", "lon", "year", "month", "ppt", "tmax"}) {
		t.Errorf("columns = %v", got)
	}
	if err := tb.AddColumn("ppt", nil); err == nil {
		t.Error("duplicate column should fail")
	}
	months, err := tb.Float("month")
	if err != nil || months[0] != 3 {
		t.Errorf("month column = %v, %v", months, err)
	}
}

func TestConcat(t *testing.T) {
	a := NewTable("a", []KeyColumn{KeyYear}, "v")
	b := NewTable("b", []KeyColumn{KeyYear}, "v")
	a.Append(Record{Lat: 1, Lon: 2, Year: 2000, Values: map[string]float64{"v": 1}})
	b.Append(Record{Lat: 1, Lon: 2, Year: 2001, Values: map[string]float64{"v": 2}})
	c, err := Concat("all", a, nil, b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{2000, 2001}, c.Year); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]float64{1, 2}, c.Values["v"]); diff != "" {
		t.Error(diff)
	}
	if _, err := Concat("bad", a, NewTable("x", nil, "w")); err == nil {
		t.Error("concatenating different columns should fail")
	}
}

func TestAppendTable(t *testing.T) {
	a := NewTable("a", []KeyColumn{KeyYear}, "v")
	b := NewTable("b", []KeyColumn{KeyYear}, "v")
	a.Append(Record{Lat: 1, Lon: 2, Year: 2000, Values: map[string]float64{"v": 1}})
	b.Append(Record{Lat: 1, Lon: 2, Year: 2001, Values: map[string]float64{"v": 2}})
	b.Append(Record{Lat: 3, Lon: 4, Year: 2001, Values: map[string]float64{"v": 3}})
	if err := a.AppendTable(b); err != nil {
		t.Fatal(err)
	}
	if a.Name != "a" || a.Len() != 3 || b.Len() != 2 {
		t.Errorf("after append: %s has %d rows, b has %d rows", a.Name, a.Len(), b.Len())
	}
	if diff := cmp.Diff([]float64{1, 1, 3}, a.Lat); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, a.Values["v"]); diff != "" {
		t.Error(diff)
	}
	if err := a.AppendTable(NewTable("x", []KeyColumn{KeyYear}, "w")); err == nil {
		t.Error("appending different columns should fail")
	}
	if a.Len() != 3 {
		t.Errorf("failed append changed the table to %d rows", a.Len())
	}
}

func TestTableFromGrids(t *testing.T) {
	x := NewUniformAxis(-117.0, 0.5, 2)
	y := NewUniformAxis(33.0, -0.5, 2)
	ppt, err := NewGrid(x, y, "EPSG:4269")
	if err != nil {
		t.Fatal(err)
	}
	copy(ppt.Data.Elements, []float64{1, 2, 3, -9999})
	ppt.NoData, ppt.HasNoData = -9999, true
	tmax := ppt.WithData([]float64{10, 20, 30, 40}, 0, false)

	tb, err := TableFromGrids("prism", []KeyColumn{KeyYear, KeyMonth}, 2001, 7,
		[]string{"ppt", "tmax"}, []*Grid{ppt, tmax})
	if err != nil {
		t.Fatal(err)
	}
	if tb.Len() != 4 {
		t.Fatalf("rows = %d, want 4", tb.Len())
	}
	if diff := cmp.Diff([]float64{1, 2, 3, math.NaN()}, tb.Values["ppt"], cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("ppt (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{33, 33, 32.5, 32.5}, tb.Lat); diff != "" {
		t.Errorf("lat (-want +got):\n%s", diff)
	}
	if tb.Month[3] != 7 || tb.Year[3] != 2001 {
		t.Errorf("time keys = %d-%d", tb.Year[3], tb.Month[3])
	}

	projected, err := NewGrid(x, y, projectedCRS)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := TableFromGrids("p", nil, 0, 0, []string{"v"}, []*Grid{projected}); err == nil {
		t.Error("projected grids should be rejected")
	}
}

func TestDescribe(t *testing.T) {
	tb := NewTable("t", nil, "v")
	for _, v := range []float64{1, 2, 3, 4, math.NaN()} {
		tb.Append(Record{Values: map[string]float64{"v": v}})
	}
	s := tb.Describe()[0]
	if s.Count != 4 || s.MissingValues != 1 || s.Mean != 2.5 || s.Min != 1 || s.Max != 4 {
		t.Errorf("summary = %+v", s)
	}
}
