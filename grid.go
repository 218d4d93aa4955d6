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

// Package harmonize puts gridded environmental datasets onto a common
// grid and joins them into one table keyed by location, year and month.
// It aligns and resamples grids, aggregates fine grids onto coarse ones,
// derives terrain from elevation tiles and joins the per-year tables of
// each source.
package harmonize

import (
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
)

// Grid is a two dimensional array of cell values together with the
// coordinates of the cell centers and the spatial reference they are
// expressed in. Data has shape [ny, nx]: row j holds the cells centered at
// Y.Centers[j] and column i the cells centered at X.Centers[i].
type Grid struct {
	Data *sparse.DenseArray
	X, Y *Axis

	// CRS is the definition the spatial reference was parsed from.
	CRS string
	SR  *proj.SR

	// NoData is the sentinel marking missing cells when HasNoData is true.
	// NaN cells are always treated as missing.
	NoData    float64
	HasNoData bool

	// Categorical marks grids whose values are class codes that must not
	// be interpolated.
	Categorical bool
}

// NewGrid creates a grid filled with zeros over the given axes.
// An empty crs leaves the spatial reference unset.
func NewGrid(x, y *Axis, crs string) (*Grid, error) {
	var sr *proj.SR
	if crs != "" {
		var err error
		if sr, err = ParseCRS(crs); err != nil {
			return nil, err
		}
	}
	return &Grid{
		Data: sparse.ZerosDense(y.Len(), x.Len()),
		X:    x,
		Y:    y,
		CRS:  crs,
		SR:   sr,
	}, nil
}

// NewGridFill creates a grid over the given axes where every cell holds v.
func NewGridFill(x, y *Axis, crs string, v float64) (*Grid, error) {
	g, err := NewGrid(x, y, crs)
	if err != nil {
		return nil, err
	}
	for i := range g.Data.Elements {
		g.Data.Elements[i] = v
	}
	return g, nil
}

// Check verifies the shape invariant of the grid.
func (g *Grid) Check() error {
	if g.Data == nil || g.X == nil || g.Y == nil {
		return fmt.Errorf("harmonize: grid is missing data or axes")
	}
	if len(g.Data.Shape) != 2 || g.Data.Shape[0] != g.Y.Len() || g.Data.Shape[1] != g.X.Len() {
		return fmt.Errorf("harmonize: grid data shape %v does not match axes (%d, %d)",
			g.Data.Shape, g.Y.Len(), g.X.Len())
	}
	return nil
}

// Nx and Ny return the number of columns and rows.
func (g *Grid) Nx() int { return g.X.Len() }

// Ny returns the number of rows.
func (g *Grid) Ny() int { return g.Y.Len() }

// At returns the value at row j and column i.
func (g *Grid) At(j, i int) float64 { return g.Data.Elements[j*g.Nx()+i] }

// Set sets the value at row j and column i.
func (g *Grid) Set(v float64, j, i int) { g.Data.Elements[j*g.Nx()+i] = v }

// IsMissing reports whether v is NaN or equal to the no-data sentinel.
func (g *Grid) IsMissing(v float64) bool {
	return math.IsNaN(v) || (g.HasNoData && v == g.NoData)
}

// Missing returns the value used to mark missing cells in g.
func (g *Grid) Missing() float64 {
	if g.HasNoData {
		return g.NoData
	}
	return math.NaN()
}

// ValidCount returns the number of cells that are not missing.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data.Elements {
		if !g.IsMissing(v) {
			n++
		}
	}
	return n
}

// Bounds returns the outer extent of the grid cells.
func (g *Grid) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.X.Min(), Y: g.Y.Min()},
		Max: geom.Point{X: g.X.Max(), Y: g.Y.Max()},
	}
}

// Geographic reports whether the grid coordinates are degrees of
// longitude and latitude.
func (g *Grid) Geographic() bool { return IsGeographic(g.SR) }

// Affine returns the affine transform from (column, row) array indices
// to cell-center coordinates. It is only defined for uniform axes.
func (g *Grid) Affine() (Affine, error) {
	if !g.X.Uniform() || !g.Y.Uniform() {
		return Affine{}, fmt.Errorf("harmonize: affine transform needs uniform axes")
	}
	dx, dy := g.X.CellSize(), g.Y.CellSize()
	if g.X.Descending() {
		dx = -dx
	}
	if g.Y.Descending() {
		dy = -dy
	}
	return Affine{g.X.Centers[0], dx, 0, g.Y.Centers[0], 0, dy}, nil
}

// Clone returns a deep copy of g.
func (g *Grid) Clone() *Grid {
	o := *g
	o.Data = g.Data.Copy()
	return &o
}

// WithData returns a grid that shares the axes and spatial reference of g
// but holds the given values.
func (g *Grid) WithData(data []float64, noData float64, hasNoData bool) *Grid {
	o := *g
	o.Data = sparse.ZerosDense(g.Ny(), g.Nx())
	copy(o.Data.Elements, data)
	o.NoData, o.HasNoData = noData, hasNoData
	return &o
}

// Window returns the sub-grid made of rows [j0, j1) and columns [i0, i1).
func (g *Grid) Window(j0, j1, i0, i1 int) (*Grid, error) {
	x, err := g.X.Sub(i0, i1)
	if err != nil {
		return nil, err
	}
	y, err := g.Y.Sub(j0, j1)
	if err != nil {
		return nil, err
	}
	o := *g
	o.X, o.Y = x, y
	o.Data = sparse.ZerosDense(j1-j0, i1-i0)
	for j := j0; j < j1; j++ {
		copy(o.Data.Elements[(j-j0)*(i1-i0):(j-j0+1)*(i1-i0)], g.Data.Elements[j*g.Nx()+i0:j*g.Nx()+i1])
	}
	return &o, nil
}

// Each calls f with the center coordinates and value of every cell that
// is not missing.
func (g *Grid) Each(f func(j, i int, x, y, v float64)) {
	nx := g.Nx()
	for j, y := range g.Y.Centers {
		row := g.Data.Elements[j*nx : (j+1)*nx]
		for i, v := range row {
			if g.IsMissing(v) {
				continue
			}
			f(j, i, g.X.Centers[i], y, v)
		}
	}
}

// Samples returns the non-missing cells of g as aggregation samples.
func (g *Grid) Samples() []Sample {
	o := make([]Sample, 0, len(g.Data.Elements))
	g.Each(func(_, _ int, x, y, v float64) {
		o = append(o, Sample{X: x, Y: y, Value: v})
	})
	return o
}

// Affine is a six-coefficient affine transform in GDAL ordering:
//
//	x = A[0] + col*A[1] + row*A[2]
//	y = A[3] + col*A[4] + row*A[5]
type Affine [6]float64

// Forward returns the coordinates of array position (col, row).
func (a Affine) Forward(col, row float64) (x, y float64) {
	return a[0] + col*a[1] + row*a[2], a[3] + col*a[4] + row*a[5]
}

// Invert returns the transform from coordinates to array positions.
func (a Affine) Invert() (Affine, error) {
	det := a[1]*a[5] - a[2]*a[4]
	if det == 0 || math.IsNaN(det) {
		return Affine{}, fmt.Errorf("harmonize: affine transform %v is not invertible", a)
	}
	inv := Affine{0, a[5] / det, -a[2] / det, 0, -a[4] / det, a[1] / det}
	inv[0] = -a[0]*inv[1] - a[3]*inv[2]
	inv[3] = -a[0]*inv[4] - a[3]*inv[5]
	return inv, nil
}

// GridFromAffine creates a grid of ny rows and nx columns whose cell
// centers are given by the north-up transform a. Rotated transforms are
// not supported.
func GridFromAffine(data []float64, ny, nx int, a Affine, crs string) (*Grid, error) {
	if a[2] != 0 || a[4] != 0 {
		return nil, fmt.Errorf("harmonize: rotated affine transforms are not supported")
	}
	if _, err := a.Invert(); err != nil {
		return nil, err
	}
	if len(data) != nx*ny {
		return nil, fmt.Errorf("harmonize: %d values do not fill a %dx%d grid", len(data), ny, nx)
	}
	g, err := NewGrid(NewUniformAxis(a[0], a[1], nx), NewUniformAxis(a[3], a[5], ny), crs)
	if err != nil {
		return nil, err
	}
	copy(g.Data.Elements, data)
	return g, nil
}

// Well known spatial references that the projection parser does not
// resolve from their EPSG codes.
var epsgDefs = map[string]string{
	"EPSG:4269": "+proj=longlat +ellps=GRS80 +datum=NAD83 +no_defs",
	"EPSG:4326": "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs",
	"EPSG:5070": "+proj=aea +lat_1=29.5 +lat_2=45.5 +lat_0=23 +lon_0=-96 +x_0=0 +y_0=0 +ellps=GRS80 +datum=NAD83 +units=m +no_defs",
	"EPSG:3857": "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
}

// ParseCRS parses a Proj4 string, a WKT definition or one of a small set
// of EPSG codes into a spatial reference.
func ParseCRS(crs string) (*proj.SR, error) {
	def := strings.TrimSpace(crs)
	if d, ok := epsgDefs[strings.ToUpper(def)]; ok {
		def = d
	}
	if def == "" {
		return nil, fmt.Errorf("harmonize: empty coordinate reference system")
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("harmonize: parsing coordinate reference system %q: %w", crs, err)
	}
	return sr, nil
}

// IsGeographic reports whether sr is a longitude/latitude system.
func IsGeographic(sr *proj.SR) bool {
	if sr == nil {
		return false
	}
	switch strings.ToLower(sr.Name) {
	case "longlat", "latlong", "lonlat", "latlon":
		return true
	}
	return false
}

// SameCRS reports whether two spatial references describe the same system.
func SameCRS(a, b *proj.SR) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b, 0)
}
