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

// Package ncio reads and writes harmonize grids and tables as classic
// netCDF files.
package ncio

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/harmonize"
)

// DefaultCRS is the coordinate reference system assumed for files that do
// not declare one.
const DefaultCRS = "EPSG:4269"

// Names of the coordinate variables, in order of preference.
var (
	xNames = []string{"x", "lon", "longitude"}
	yNames = []string{"y", "lat", "latitude"}
)

// gridMapping is the variable that carries the spatial reference in files
// written by rioxarray and GDAL.
const gridMapping = "spatial_ref"

// ReadOptions control how a grid is read.
type ReadOptions struct {
	// Variables are the data variables to read. If empty, the first
	// variable that is neither a coordinate nor the grid mapping is read.
	Variables []string

	// CRS overrides the spatial reference declared in the file.
	CRS string

	// Categorical marks the grids as holding class codes.
	Categorical bool
}

// ReadGrid reads one data variable from the netCDF file at path.
func ReadGrid(path string, opts ReadOptions) (*harmonize.Grid, error) {
	grids, _, err := ReadGrids(path, opts)
	if err != nil {
		return nil, err
	}
	return grids[0], nil
}

// ReadGrids reads the requested data variables from the netCDF file at path
// and returns them along with their names. A file that does not exist
// results in a *harmonize.MissingInputError.
func ReadGrids(path string, opts ReadOptions) ([]*harmonize.Grid, []string, error) {
	ff, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, &harmonize.MissingInputError{Input: path, Err: err}
		}
		return nil, nil, fmt.Errorf("ncio: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Open(ff)
	if err != nil {
		return nil, nil, fmt.Errorf("ncio: reading %s: %v", path, err)
	}

	xName, yName := pick(f.Header, xNames), pick(f.Header, yNames)
	if xName == "" || yName == "" {
		return nil, nil, fmt.Errorf("ncio: %s has no x/y or lon/lat coordinate variables", path)
	}
	x, err := readAxis(f, xName)
	if err != nil {
		return nil, nil, fmt.Errorf("ncio: %s: %v", path, err)
	}
	y, err := readAxis(f, yName)
	if err != nil {
		return nil, nil, fmt.Errorf("ncio: %s: %v", path, err)
	}

	names := opts.Variables
	if len(names) == 0 {
		v := dataVariable(f.Header, xName, yName)
		if v == "" {
			return nil, nil, fmt.Errorf("ncio: %s has no data variable", path)
		}
		names = []string{v}
	}
	crs := opts.CRS
	if crs == "" {
		crs = fileCRS(f.Header)
	}

	grids := make([]*harmonize.Grid, len(names))
	for k, name := range names {
		g, err := harmonize.NewGrid(x, y, crs)
		if err != nil {
			return nil, nil, fmt.Errorf("ncio: %s: %v", path, err)
		}
		if err := readData(f, name, xName, yName, g); err != nil {
			return nil, nil, fmt.Errorf("ncio: %s: %v", path, err)
		}
		g.Categorical = opts.Categorical
		grids[k] = g
	}
	return grids, names, nil
}

// pick returns the first of names that is a one dimensional variable in h.
func pick(h *cdf.Header, names []string) string {
	for _, n := range names {
		if len(h.Dimensions(n)) == 1 {
			return n
		}
	}
	return ""
}

// dataVariable returns the first variable that is at least two
// dimensional and not a coordinate or grid mapping variable.
func dataVariable(h *cdf.Header, xName, yName string) string {
	for _, v := range h.Variables() {
		if v == xName || v == yName || v == gridMapping {
			continue
		}
		if len(h.Dimensions(v)) >= 2 {
			return v
		}
	}
	return ""
}

// fileCRS returns the spatial reference declared in h, trying the grid
// mapping variable first and then the global attributes.
func fileCRS(h *cdf.Header) string {
	for _, a := range []string{"crs_wkt", "spatial_ref", "proj4"} {
		if s, ok := h.GetAttribute(gridMapping, a).(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	for _, a := range []string{"crs", "proj4"} {
		if s, ok := h.GetAttribute("", a).(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return DefaultCRS
}

func readAxis(f *cdf.File, name string) (*harmonize.Axis, error) {
	vals, err := readFloats(f, name)
	if err != nil {
		return nil, err
	}
	if len(vals) == 1 {
		res, ok := attrFloat(f.Header, name, "resolution")
		if !ok || res == 0 {
			return nil, fmt.Errorf("coordinate %s has a single value and no resolution", name)
		}
		return harmonize.NewUniformAxis(vals[0], res, 1), nil
	}
	return harmonize.NewAxis(vals)
}

// readData fills g with the values of variable name. Leading dimensions,
// such as a band or time dimension, must have length 1.
func readData(f *cdf.File, name, xName, yName string, g *harmonize.Grid) error {
	dims := f.Header.Dimensions(name)
	if len(dims) < 2 {
		return fmt.Errorf("variable %q is not gridded", name)
	}
	n := len(dims)
	if dims[n-2] != f.Header.Dimensions(yName)[0] || dims[n-1] != f.Header.Dimensions(xName)[0] {
		return fmt.Errorf("variable %q has dimensions %v, want (..., %s, %s)", name, dims, yName, xName)
	}
	for i, l := range f.Header.Lengths(name)[:n-2] {
		if l != 1 {
			return fmt.Errorf("variable %q has %d entries along %s", name, l, dims[i])
		}
	}
	vals, err := readFloats(f, name)
	if err != nil {
		return err
	}
	if len(vals) != len(g.Data.Elements) {
		return fmt.Errorf("variable %q has %d values for a %dx%d grid", name, len(vals), g.Ny(), g.Nx())
	}
	copy(g.Data.Elements, vals)
	for _, a := range []string{"_FillValue", "missing_value"} {
		if v, ok := attrFloat(f.Header, name, a); ok {
			g.NoData, g.HasNoData = v, true
			break
		}
	}
	return nil
}

// readFloats reads all values of variable v as float64.
func readFloats(f *cdf.File, v string) ([]float64, error) {
	r := f.Reader(v, nil, nil)
	if r == nil {
		return nil, fmt.Errorf("no variable %q", v)
	}
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("reading %s: %v", v, err)
	}
	vals, ok := toFloats(buf)
	if !ok {
		return nil, fmt.Errorf("variable %q has unsupported type %T", v, buf)
	}
	return vals, nil
}

func toFloats(buf interface{}) ([]float64, bool) {
	var o []float64
	switch b := buf.(type) {
	case []float64:
		o = append(o, b...)
	case []float32:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	case []int32:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	case []int16:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	case []uint8:
		o = make([]float64, len(b))
		for i, v := range b {
			o[i] = float64(v)
		}
	default:
		return nil, false
	}
	return o, true
}

func attrFloat(h *cdf.Header, v, a string) (float64, bool) {
	vals, ok := toFloats(h.GetAttribute(v, a))
	if !ok || len(vals) == 0 {
		return math.NaN(), false
	}
	return vals[0], true
}

// WriteGrids writes grids sharing the same axes to a new netCDF file at
// path, one variable per grid. Values are stored as float64 with the grid's
// no-data value, or NaN, as the fill value.
func WriteGrids(path string, names []string, grids []*harmonize.Grid) error {
	if len(names) != len(grids) || len(grids) == 0 {
		return fmt.Errorf("ncio: %d names for %d grids", len(names), len(grids))
	}
	ref := grids[0]
	for _, g := range grids[1:] {
		if !g.X.Equal(ref.X, 0) || !g.Y.Equal(ref.Y, 0) {
			return fmt.Errorf("ncio: writing %s: grids are not on the same axes", path)
		}
	}
	h := cdf.NewHeader([]string{"y", "x"}, []int{ref.Ny(), ref.Nx()})
	h.AddVariable("x", []string{"x"}, []float64{0})
	h.AddVariable("y", []string{"y"}, []float64{0})
	for k, name := range names {
		h.AddVariable(name, []string{"y", "x"}, []float64{0})
		h.AddAttribute(name, "_FillValue", []float64{grids[k].Missing()})
	}
	if ref.CRS != "" {
		h.AddAttribute("", "crs", ref.CRS)
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
	if err := writeVar(f, "x", ref.X.Centers); err != nil {
		ff.Close()
		return err
	}
	if err := writeVar(f, "y", ref.Y.Centers); err != nil {
		ff.Close()
		return err
	}
	for k, name := range names {
		if err := writeVar(f, name, grids[k].Data.Elements); err != nil {
			ff.Close()
			return err
		}
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("ncio: %v", err)
	}
	return nil
}

func writeVar(f *cdf.File, v string, data interface{}) error {
	end := f.Header.Lengths(v)
	start := make([]int, len(end))
	w := f.Writer(v, start, end)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("ncio: writing variable %s: %v", v, err)
	}
	return nil
}
