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
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/spatialmodel/harmonize"
)

// maxFieldName is the longest attribute name a dBase file can hold.
const maxFieldName = 10

// geographicCRS is written to the .prj file when PointSink.CRS is empty.
const geographicCRS = "+proj=longlat +ellps=GRS80 +datum=NAD83 +no_defs"

// PointSink writes tables as point shapefiles with one point per row at
// (lon, lat). Missing values are written as empty attributes.
type PointSink struct {
	// CRS is written to the .prj file.
	CRS string
}

// FieldNames returns the attribute names used for columns, truncated to
// the dBase limit and made unique with numeric suffixes.
func FieldNames(columns []string) []string {
	o := make([]string, len(columns))
	used := make(map[string]bool, len(columns))
	for i, c := range columns {
		name := truncate(c, maxFieldName)
		for n := 1; used[strings.ToLower(name)]; n++ {
			s := strconv.Itoa(n)
			name = truncate(c, maxFieldName-len(s)) + s
		}
		used[strings.ToLower(name)] = true
		o[i] = name
	}
	return o
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Write implements harmonize.TableSink.
func (s PointSink) Write(ctx context.Context, t *harmonize.Table, path string) error {
	base := strings.TrimSuffix(path, ".shp")
	columns := t.AllColumns()
	names := FieldNames(columns)
	fields := make([]goshp.Field, len(columns))
	cols := make([][]float64, len(columns))
	for i, c := range columns {
		switch harmonize.KeyColumn(c) {
		case harmonize.KeyYear, harmonize.KeyMonth:
			fields[i] = goshp.NumberField(names[i], 10)
		default:
			fields[i] = goshp.FloatField(names[i], 19, 8)
		}
		vals, err := t.Float(c)
		if err != nil {
			return fmt.Errorf("shpio: %v", err)
		}
		cols[i] = vals
	}

	e, err := shp.NewEncoderFromFields(base+".shp", goshp.POINT, fields...)
	if err != nil {
		return fmt.Errorf("shpio: creating %s: %v", path, err)
	}
	for r := 0; r < t.Len(); r++ {
		if r%10000 == 0 {
			if err := ctx.Err(); err != nil {
				e.Close()
				return err
			}
		}
		vals := make([]interface{}, len(columns))
		for i, c := range cols {
			switch {
			case math.IsNaN(c[r]):
				vals[i] = ""
			case fields[i].Fieldtype == 'N':
				vals[i] = int(c[r])
			default:
				vals[i] = c[r]
			}
		}
		if err := e.EncodeFields(geom.Point{X: t.Lon[r], Y: t.Lat[r]}, vals...); err != nil {
			e.Close()
			return fmt.Errorf("shpio: writing %s: %v", path, err)
		}
	}
	e.Close()

	crs := s.CRS
	if crs == "" {
		crs = geographicCRS
	}
	if err := os.WriteFile(base+".prj", []byte(crs), 0644); err != nil {
		return fmt.Errorf("shpio: %v", err)
	}
	return nil
}
