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

// Package shpio reads study area boundaries from shapefiles and writes
// harmonized tables as point shapefiles.
package shpio

import (
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/spatialmodel/harmonize"
)

// Boundary is a study area outline together with its spatial reference.
type Boundary struct {
	Polygon geom.MultiPolygon
	CRS     string
	SR      *proj.SR
}

// Bounds returns the bounding box of the boundary.
func (b *Boundary) Bounds() *geom.Bounds { return b.Polygon.Bounds() }

// ReadBoundary reads the polygons of the shapefile at path whose attributes
// match every entry of filter, compared case-insensitively, and merges them
// into one boundary. The spatial reference is read from the .prj file next
// to the shapefile, falling back to defaultCRS when there is none.
func ReadBoundary(path string, filter map[string]string, defaultCRS string) (*Boundary, error) {
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + ".shp"); err != nil {
		return nil, &harmonize.MissingInputError{Input: base + ".shp", Err: err}
	}
	d, err := shp.NewDecoder(base + ".shp")
	if err != nil {
		return nil, fmt.Errorf("shpio: opening %s: %v", path, err)
	}
	defer d.Close()

	crs := defaultCRS
	if b, err := os.ReadFile(base + ".prj"); err == nil {
		crs = string(b)
	}
	sr, err := harmonize.ParseCRS(crs)
	if err != nil {
		return nil, fmt.Errorf("shpio: %s: %v", path, err)
	}

	fields := make([]string, 0, len(filter))
	for k := range filter {
		fields = append(fields, k)
	}
	b := &Boundary{CRS: crs, SR: sr}
	for {
		g, vals, more := d.DecodeRowFields(fields...)
		if !more || d.Error() != nil {
			break
		}
		if !matches(vals, filter) {
			continue
		}
		switch p := g.(type) {
		case geom.Polygon:
			b.Polygon = append(b.Polygon, p)
		case geom.MultiPolygon:
			b.Polygon = append(b.Polygon, p...)
		default:
			return nil, fmt.Errorf("shpio: %s: shape of type %T is not a polygon", path, g)
		}
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("shpio: reading %s: %v", path, err)
	}
	if len(b.Polygon) == 0 {
		return nil, &harmonize.MissingInputError{
			Input: path,
			Err:   fmt.Errorf("no polygon matches %v", filter),
		}
	}
	return b, nil
}

func matches(vals, filter map[string]string) bool {
	for k, want := range filter {
		if !strings.EqualFold(strings.TrimSpace(vals[k]), strings.TrimSpace(want)) {
			return false
		}
	}
	return true
}
