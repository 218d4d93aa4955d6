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
	"sync"

	"github.com/ctessum/geom/proj"
)

const (
	// metersPerDegree is the length of one degree of latitude used to
	// convert geographic gradients to meters.
	metersPerDegree = 111132.0

	// aspectEpsilon is the magnitude below which the x slope component is
	// replaced by aspectClamp before computing the aspect.
	aspectEpsilon = 1e-12
	aspectClamp   = 1e-3
)

// Terrain holds the fine-resolution elevation and its derivatives.
// Missing cells are NaN.
type Terrain struct {
	Elevation      *Grid
	Slope          *Grid
	SlopeX, SlopeY *Grid
}

// Aspect returns the direction of the slope vector (sx, sy) in radians.
// Components of magnitude at most 1e-12 in x are replaced by 1e-3 so that
// flat cells still get a finite direction.
func Aspect(sx, sy float64) float64 {
	if math.Abs(sx) <= aspectEpsilon {
		sx = aspectClamp
	}
	return math.Atan2(sy, sx)
}

// gradient returns the derivative of v with respect to index using
// central differences in the interior and one-sided differences at the
// ends. NaN values propagate to their neighbors.
func gradient(v []float64, stride, n int, out []float64) {
	at := func(k int) float64 { return v[k*stride] }
	out[0] = at(1) - at(0)
	for k := 1; k < n-1; k++ {
		out[k*stride] = (at(k+1) - at(k-1)) / 2
	}
	out[(n-1)*stride] = at(n-1) - at(n-2)
}

// DeriveSlopeAspect computes the slope components of elev. The gradients
// are taken along the array axes and divided by the absolute cell sizes.
// For geographic grids they are further divided by the length of a degree
// so that the result is in meters per meter.
func DeriveSlopeAspect(elev *Grid) (*Terrain, error) {
	if err := elev.Check(); err != nil {
		return nil, err
	}
	nx, ny := elev.Nx(), elev.Ny()
	if nx < 2 || ny < 2 {
		return nil, fmt.Errorf("harmonize: terrain needs at least 2x2 cells, got %dx%d", ny, nx)
	}
	z := make([]float64, nx*ny)
	for k, v := range elev.Data.Elements {
		if elev.IsMissing(v) {
			v = math.NaN()
		}
		z[k] = v
	}
	gx := make([]float64, nx*ny)
	gy := make([]float64, nx*ny)
	for j := 0; j < ny; j++ {
		gradient(z[j*nx:], 1, nx, gx[j*nx:])
	}
	for i := 0; i < nx; i++ {
		gradient(z[i:], nx, ny, gy[i:])
	}

	resX, resY := math.Abs(elev.X.CellSize()), math.Abs(elev.Y.CellSize())
	geographic := elev.Geographic()
	slope := make([]float64, nx*ny)
	for j := 0; j < ny; j++ {
		sx, sy := resX, resY
		if geographic {
			sx *= metersPerDegree * math.Cos(elev.Y.Centers[j]*math.Pi/180)
			sy *= metersPerDegree
		}
		for i := 0; i < nx; i++ {
			k := j*nx + i
			gx[k] /= sx
			gy[k] /= sy
			slope[k] = math.Hypot(gx[k], gy[k])
			if math.IsNaN(gx[k]) || math.IsNaN(gy[k]) {
				slope[k] = math.NaN()
			}
		}
	}
	base := elev.WithData(nil, 0, false)
	return &Terrain{
		Elevation: base.WithData(z, 0, false),
		Slope:     base.WithData(slope, 0, false),
		SlopeX:    base.WithData(gx, 0, false),
		SlopeY:    base.WithData(gy, 0, false),
	}, nil
}

// CoarseTerrain holds terrain variables aggregated to a coarse grid.
type CoarseTerrain struct {
	Elevation, Slope, Aspect *Grid
}

// TerrainAccumulator accumulates fine terrain onto a coarse grid.
// Elevation and slope are averaged and the slope vector is averaged by
// component so that the aspect is derived from the mean vector.
type TerrainAccumulator struct {
	X, Y *Axis

	mu    sync.Mutex
	elev  *Accumulator
	slope *Accumulator
	vec   *Accumulator
}

// NewTerrainAccumulator returns an empty accumulator over the coarse grid
// defined by x, y and crs.
func NewTerrainAccumulator(x, y *Axis, crs string) *TerrainAccumulator {
	return &TerrainAccumulator{
		X:     x,
		Y:     y,
		elev:  NewAccumulator(x, y, Mean, WithCRS(crs)),
		slope: NewAccumulator(x, y, Mean, WithCRS(crs)),
		vec:   NewAccumulator(x, y, VectorMean, WithCRS(crs)),
	}
}

// Local returns an empty accumulator over the same grid, for use by a
// single worker before merging.
func (ta *TerrainAccumulator) Local() *TerrainAccumulator {
	return NewTerrainAccumulator(ta.X, ta.Y, ta.elev.crs)
}

// AddTerrain accumulates every fine cell of t. When tr is not nil it maps
// fine cell centers into the coarse grid coordinates. AddTerrain is not
// safe for concurrent use; workers should accumulate into a Local
// accumulator and Merge it.
func (ta *TerrainAccumulator) AddTerrain(t *Terrain, tr proj.Transformer) (int, error) {
	n := 0
	nx := t.Elevation.Nx()
	for j, y0 := range t.Elevation.Y.Centers {
		for i, x0 := range t.Elevation.X.Centers {
			x, y := x0, y0
			if tr != nil {
				var err error
				if x, y, err = tr(x0, y0); err != nil {
					return n, fmt.Errorf("harmonize: transforming terrain cell: %v", err)
				}
			}
			k := j*nx + i
			if ta.elev.Add(x, y, t.Elevation.Data.Elements[k]) {
				n++
			}
			ta.slope.Add(x, y, t.Slope.Data.Elements[k])
			ta.vec.AddVector(x, y, t.SlopeX.Data.Elements[k], t.SlopeY.Data.Elements[k])
		}
	}
	return n, nil
}

// Merge folds local into ta. It is safe for concurrent use.
func (ta *TerrainAccumulator) Merge(local *TerrainAccumulator) error {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	if err := ta.elev.Merge(local.elev); err != nil {
		return err
	}
	if err := ta.slope.Merge(local.slope); err != nil {
		return err
	}
	return ta.vec.Merge(local.vec)
}

// Cells returns the number of coarse cells that received elevation.
func (ta *TerrainAccumulator) Cells() int {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	n := 0
	for _, c := range ta.elev.Count {
		if c > 0 {
			n++
		}
	}
	return n
}

// Finalize returns the coarse elevation, slope and aspect grids.
func (ta *TerrainAccumulator) Finalize(noData float64) (*CoarseTerrain, error) {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	elev, err := ta.elev.Finalize(noData)
	if err != nil {
		return nil, err
	}
	slope, err := ta.slope.Finalize(noData)
	if err != nil {
		return nil, err
	}
	sx, sy, err := ta.vec.FinalizeVector(noData)
	if err != nil {
		return nil, err
	}
	aspect := sx.Clone()
	for k, c := range ta.vec.Count {
		if c == 0 {
			aspect.Data.Elements[k] = noData
			continue
		}
		aspect.Data.Elements[k] = Aspect(sx.Data.Elements[k], sy.Data.Elements[k])
	}
	return &CoarseTerrain{Elevation: elev, Slope: slope, Aspect: aspect}, nil
}
