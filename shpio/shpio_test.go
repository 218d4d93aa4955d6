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

package shpio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/google/go-cmp/cmp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/spatialmodel/harmonize"
)

func square(x0, y0, d float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x0 + d, Y: y0}, {X: x0 + d, Y: y0 + d}, {X: x0, Y: y0 + d}, {X: x0, Y: y0}}}
}

func writeCounties(t *testing.T, dir string) string {
	path := filepath.Join(dir, "counties.shp")
	e, err := shp.NewEncoderFromFields(path, goshp.POLYGON, goshp.StringField("NAME", 20))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		name string
		p    geom.Polygon
	}{
		{"San Diego", square(-117, 32.5, 1)},
		{"Imperial", square(-116, 32.5, 1)},
		{"San Diego", square(-118, 32.5, 0.5)},
	} {
		if err := e.EncodeFields(c.p, c.name); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()
	return path
}

func TestReadBoundary(t *testing.T) {
	dir := t.TempDir()
	path := writeCounties(t, dir)

	b, err := ReadBoundary(path, map[string]string{"NAME": "san diego"}, "EPSG:4269")
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Polygon) != 2 {
		t.Fatalf("got %d polygons, want 2", len(b.Polygon))
	}
	bb := b.Bounds()
	if bb.Min.X != -118 || bb.Max.X != -116 || bb.Min.Y != 32.5 || bb.Max.Y != 33.5 {
		t.Errorf("bounds = %+v", bb)
	}
	if !harmonize.IsGeographic(b.SR) {
		t.Errorf("sr = %+v, want geographic", b.SR)
	}

	all, err := ReadBoundary(path, nil, "EPSG:4269")
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Polygon) != 3 {
		t.Errorf("unfiltered: got %d polygons, want 3", len(all.Polygon))
	}

	_, err = ReadBoundary(path, map[string]string{"NAME": "Orange"}, "EPSG:4269")
	var mi *harmonize.MissingInputError
	if !errors.As(err, &mi) {
		t.Errorf("no match: err = %v, want MissingInputError", err)
	}
	_, err = ReadBoundary(filepath.Join(dir, "absent.shp"), nil, "EPSG:4269")
	if !errors.As(err, &mi) {
		t.Errorf("absent file: err = %v, want MissingInputError", err)
	}
}

func TestFieldNames(t *testing.T) {
	got := FieldNames([]string{"lat", "burned_area", "burned_area_frac", "burned_are"})
	want := []string{"lat", "burned_are", "burned_ar1", "burned_ar2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestPointSink(t *testing.T) {
	tb := harmonize.NewTable("harmonized", []harmonize.KeyColumn{harmonize.KeyYear, harmonize.KeyMonth}, "burned_area", "ndvi")
	for i, v := range []float64{0.5, math.NaN()} {
		err := tb.Append(harmonize.Record{Lat: 32.99583, Lon: -117 + float64(i)*0.00833, Year: 2003, Month: 10,
			Values: map[string]float64{"burned_area": v, "ndvi": 0.25}})
		if err != nil {
			t.Fatal(err)
		}
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.shp")
	if err := (PointSink{}).Write(context.Background(), tb, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.prj")); err != nil {
		t.Error(err)
	}

	d, err := shp.NewDecoder(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	var rows []map[string]string
	var pts []geom.Point
	for {
		g, vals, more := d.DecodeRowFields("year", "month", "burned_are", "ndvi")
		if !more || d.Error() != nil {
			break
		}
		rows = append(rows, vals)
		pts = append(pts, g.(geom.Point))
	}
	if err := d.Error(); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if pts[1].X != tb.Lon[1] || pts[1].Y != tb.Lat[1] {
		t.Errorf("point = %+v", pts[1])
	}
	if rows[0]["year"] != "2003" || rows[0]["month"] != "10" {
		t.Errorf("keys = %v", rows[0])
	}
	if v, err := strconv.ParseFloat(rows[0]["burned_are"], 64); err != nil || v != 0.5 {
		t.Errorf("burned_area = %q", rows[0]["burned_are"])
	}
	if rows[1]["burned_are"] != "" {
		t.Errorf("missing burned_area = %q, want empty", rows[1]["burned_are"])
	}
}
