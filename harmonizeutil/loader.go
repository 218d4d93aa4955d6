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

package harmonizeutil

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/harmonize"
	"github.com/spatialmodel/harmonize/ncio"
	"github.com/spatialmodel/harmonize/shpio"
)

// Source names and the columns they provide.
const (
	SourcePRISM = "prism"
	SourceMTBS  = "mtbs"
	SourceNDVI  = "ndvi"
	SourceNLCD  = "nlcd"
	SourceDEM   = "dem"
)

// DefaultPRISMVars are the PRISM variables joined by default.
var DefaultPRISMVars = []string{"ppt", "tdmean", "tmax", "vpdmax"}

// DEMVars are the variables of the static terrain file.
var DEMVars = []string{"elevation", "slope", "aspect"}

var monthly = []harmonize.KeyColumn{harmonize.KeyYear, harmonize.KeyMonth}

// Sources returns the join configuration: PRISM is the base, MTBS and NDVI
// are monthly, land cover is annual and terrain is static and required.
func Sources(prismVars []string) []harmonize.SourceSpec {
	return []harmonize.SourceSpec{
		{Name: SourcePRISM, Keys: monthly, Columns: prismVars},
		{Name: SourceMTBS, Keys: monthly, Columns: []string{"burned_area"}},
		{Name: SourceNDVI, Keys: monthly, Columns: []string{"ndvi"}},
		{Name: SourceNLCD, Keys: []harmonize.KeyColumn{harmonize.KeyYear}, Columns: []string{"landcover"}},
		{Name: SourceDEM, Columns: DEMVars, Static: true, Required: true},
	}
}

// Loader is a harmonize.YearLoader that reads the discovered netCDF files,
// clips them to the study area and puts every source on the cells of the
// reference grid, which is the first complete PRISM month.
type Loader struct {
	Inputs    *Inputs
	PRISMVars []string

	// CRS is the geographic system the table coordinates are expressed in.
	CRS string

	// Boundary, if not nil, is the study area. Buffer widens the clip
	// window, in source grid units.
	Boundary *shpio.Boundary
	Buffer   float64

	// Exclude lists land cover classes ignored when land cover is
	// resampled.
	Exclude []int

	Aligner *harmonize.Aligner
	Log     logrus.FieldLogger

	ref *harmonize.Grid
}

func (l *Loader) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

func (l *Loader) aligner() *harmonize.Aligner {
	if l.Aligner == nil {
		l.Aligner = harmonize.NewAligner()
		l.Aligner.Log = l.log()
	}
	return l.Aligner
}

// Load implements harmonize.YearLoader.
func (l *Loader) Load(ctx context.Context, src harmonize.SourceSpec, year int) (*harmonize.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch src.Name {
	case SourcePRISM:
		return l.loadPRISM(src, year)
	case SourceMTBS:
		files := make(map[Month][]string)
		for _, m := range Months(l.Inputs.MTBS, year) {
			files[m] = []string{l.Inputs.MTBS[m]}
		}
		return l.loadMonthly(src, year, files, harmonize.ResampleAverage)
	case SourceNDVI:
		return l.loadMonthly(src, year, l.Inputs.NDVI, harmonize.ResampleAverage)
	case SourceNLCD:
		return l.loadLandCover(src, year)
	case SourceDEM:
		return l.loadTerrain(src)
	}
	return nil, fmt.Errorf("harmonizeutil: unknown source %q", src.Name)
}

// reference returns the grid every source is put onto, reading it on
// first use.
func (l *Loader) reference() (*harmonize.Grid, error) {
	if l.ref != nil {
		return l.ref, nil
	}
	path := l.Inputs.FirstPRISM(l.PRISMVars)
	if path == "" {
		return nil, &harmonize.MissingInputError{Input: SourcePRISM,
			Err: fmt.Errorf("no month has all of %v", l.PRISMVars)}
	}
	grids, err := l.read(path, ncio.ReadOptions{}, harmonize.ResampleNearest, true)
	if err != nil {
		return nil, err
	}
	if !harmonize.IsGeographic(grids[0].SR) {
		return nil, fmt.Errorf("harmonizeutil: reference grid system %q is not geographic", l.CRS)
	}
	l.ref = grids[0]
	l.log().WithFields(logrus.Fields{
		"file": path, "nx": l.ref.Nx(), "ny": l.ref.Ny(),
	}).Info("loaded reference grid")
	return l.ref, nil
}

// read reads grids from path and clips and masks them to the boundary.
// When reproject is set the grids are also moved to l.CRS; otherwise they
// stay in their own system.
func (l *Loader) read(path string, opts ncio.ReadOptions, method harmonize.Resampling, reproject bool) ([]*harmonize.Grid, error) {
	grids, _, err := ncio.ReadGrids(path, opts)
	if err != nil {
		return nil, err
	}
	var (
		boundary geom.Polygonal
		sr       *proj.SR
	)
	if l.Boundary != nil {
		boundary, sr = l.Boundary.Polygon, l.Boundary.SR
	}
	for i, g := range grids {
		crs := g.CRS
		if reproject {
			crs = l.CRS
		}
		a, err := l.aligner().Align(g, crs, boundary, sr, l.Buffer, method)
		if err != nil {
			var ae *harmonize.AlignmentError
			if errors.As(err, &ae) && ae.Source == "" {
				ae.Source = path
			}
			return nil, err
		}
		grids[i] = a
	}
	return grids, nil
}

// onReference reads path and resamples every grid onto the reference grid
// unless it is already on the same cells. methods holds the resampling
// method of each grid; a single method applies to all of them.
func (l *Loader) onReference(path string, opts ncio.ReadOptions, methods []harmonize.Resampling, aggOpts ...harmonize.AggregateOption) ([]*harmonize.Grid, error) {
	ref, err := l.reference()
	if err != nil {
		return nil, err
	}
	grids, err := l.read(path, opts, harmonize.ResampleNearest, false)
	if err != nil {
		return nil, err
	}
	for i, g := range grids {
		if SameCells(g, ref) {
			continue
		}
		m := methods[0]
		if len(methods) == len(grids) {
			m = methods[i]
		}
		if grids[i], err = l.aligner().Match(g, ref, m, aggOpts...); err != nil {
			return nil, fmt.Errorf("harmonizeutil: %s: %w", path, err)
		}
	}
	return grids, nil
}

// SameCells reports whether a and b are in the same system and have the
// same cell centers.
func SameCells(a, b *harmonize.Grid) bool {
	return harmonize.SameCRS(a.SR, b.SR) && a.X.Equal(b.X, 1e-9) && a.Y.Equal(b.Y, 1e-9)
}

func (l *Loader) loadPRISM(src harmonize.SourceSpec, year int) (*harmonize.Table, error) {
	var tables []*harmonize.Table
	for _, m := range l.Inputs.PRISMMonths(year, l.PRISMVars) {
		grids := make([]*harmonize.Grid, len(l.PRISMVars))
		for i, v := range l.PRISMVars {
			g, err := l.onReference(l.Inputs.PRISM[m][v], ncio.ReadOptions{}, []harmonize.Resampling{harmonize.ResampleNearest})
			if err != nil {
				return nil, err
			}
			grids[i] = g[0]
		}
		t, err := harmonize.TableFromGrids(src.Name, src.Keys, m.Year, m.Month, l.PRISMVars, grids)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, nil
	}
	return harmonize.Concat(src.Name, tables...)
}

func (l *Loader) loadMonthly(src harmonize.SourceSpec, year int, files map[Month][]string, method harmonize.Resampling) (*harmonize.Table, error) {
	var tables []*harmonize.Table
	for _, m := range Months(files, year) {
		var grids []*harmonize.Grid
		for _, f := range files[m] {
			g, err := l.onReference(f, ncio.ReadOptions{}, []harmonize.Resampling{method})
			if err != nil {
				return nil, err
			}
			grids = append(grids, g[0])
		}
		t, err := harmonize.TableFromGrids(src.Name, src.Keys, m.Year, m.Month, src.Columns,
			[]*harmonize.Grid{meanGrids(grids)})
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, nil
	}
	return harmonize.Concat(src.Name, tables...)
}

// meanGrids returns the cellwise mean of the valid values of grids on the
// same cells. Cells missing from every grid are NaN.
func meanGrids(grids []*harmonize.Grid) *harmonize.Grid {
	if len(grids) == 1 {
		return grids[0]
	}
	sum := make([]float64, len(grids[0].Data.Elements))
	n := make([]int, len(sum))
	for _, g := range grids {
		for k, v := range g.Data.Elements {
			if !g.IsMissing(v) {
				sum[k] += v
				n[k]++
			}
		}
	}
	for k := range sum {
		if n[k] == 0 {
			sum[k] = math.NaN()
			continue
		}
		sum[k] /= float64(n[k])
	}
	return grids[0].WithData(sum, math.NaN(), false)
}

func (l *Loader) loadLandCover(src harmonize.SourceSpec, year int) (*harmonize.Table, error) {
	path, ok := l.Inputs.NLCD[year]
	if !ok {
		return nil, nil
	}
	grids, err := l.onReference(path, ncio.ReadOptions{Categorical: true}, []harmonize.Resampling{harmonize.ResampleMode},
		harmonize.WithExclusions(l.Exclude...))
	if err != nil {
		return nil, err
	}
	// Grids already on the reference cells skip the mode resampling.
	for i, g := range grids {
		grids[i] = maskClasses(g, l.Exclude)
	}
	return harmonize.TableFromGrids(src.Name, src.Keys, year, 0, src.Columns, grids)
}

// maskClasses returns a copy of g with the cells holding one of classes set
// to missing.
func maskClasses(g *harmonize.Grid, classes []int) *harmonize.Grid {
	if len(classes) == 0 {
		return g
	}
	excluded := make(map[int]bool, len(classes))
	for _, c := range classes {
		excluded[c] = true
	}
	data := make([]float64, len(g.Data.Elements))
	for k, v := range g.Data.Elements {
		if !g.IsMissing(v) && excluded[int(math.Round(v))] {
			v = g.Missing()
		}
		data[k] = v
	}
	return g.WithData(data, g.NoData, g.HasNoData)
}

func (l *Loader) loadTerrain(src harmonize.SourceSpec) (*harmonize.Table, error) {
	methods := make([]harmonize.Resampling, len(src.Columns))
	for i, c := range src.Columns {
		// Aspect is an angle and cannot be averaged.
		methods[i] = harmonize.ResampleAverage
		if c == "aspect" {
			methods[i] = harmonize.ResampleNearest
		}
	}
	grids, err := l.onReference(l.Inputs.DEM, ncio.ReadOptions{Variables: src.Columns}, methods)
	if err != nil {
		return nil, err
	}
	return harmonize.TableFromGrids(src.Name, src.Keys, 0, 0, src.Columns, grids)
}
