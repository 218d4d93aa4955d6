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
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// Resampling is the rule used to assign values when moving a grid onto
// different cells.
type Resampling int

// These are the supported resampling methods.
const (
	ResampleNearest Resampling = iota
	ResampleMode
	ResampleAverage
)

func (r Resampling) String() string {
	switch r {
	case ResampleNearest:
		return "nearest"
	case ResampleMode:
		return "mode"
	case ResampleAverage:
		return "average"
	default:
		return fmt.Sprintf("Resampling(%d)", int(r))
	}
}

// ParseResampling returns the resampling method with the given name.
func ParseResampling(s string) (Resampling, error) {
	switch s {
	case "nearest", "":
		return ResampleNearest, nil
	case "mode":
		return ResampleMode, nil
	case "average", "mean":
		return ResampleAverage, nil
	}
	return 0, fmt.Errorf("harmonize: unknown resampling method %q", s)
}

// A Reprojector moves a grid into another coordinate reference system.
type Reprojector interface {
	Reproject(src *Grid, crs string, method Resampling, opts ...AggregateOption) (*Grid, error)
}

// ProjReprojector reprojects grids with the projection library. The output
// keeps the shape of the input and covers the transformed extent.
type ProjReprojector struct {
	// Densify is the number of points sampled along each edge of the
	// source extent when computing the output extent.
	Densify int
}

// Reproject implements Reprojector.
func (p ProjReprojector) Reproject(src *Grid, crs string, method Resampling, opts ...AggregateOption) (*Grid, error) {
	sr, err := ParseCRS(crs)
	if err != nil {
		return nil, err
	}
	if SameCRS(src.SR, sr) {
		return src.Clone(), nil
	}
	if src.SR == nil {
		return nil, fmt.Errorf("harmonize: reprojecting a grid with no spatial reference")
	}
	tr, err := src.SR.NewTransform(sr)
	if err != nil {
		return nil, fmt.Errorf("harmonize: reprojecting grid: %v", err)
	}
	n := p.Densify
	if n < 2 {
		n = 21
	}
	b, err := transformBounds(src.Bounds(), tr, n)
	if err != nil {
		return nil, err
	}
	nx, ny := src.Nx(), src.Ny()
	dx := (b.Max.X - b.Min.X) / float64(nx)
	dy := (b.Max.Y - b.Min.Y) / float64(ny)
	x := NewUniformAxis(b.Min.X+dx/2, dx, nx)
	y := NewUniformAxis(b.Max.Y-dy/2, -dy, ny)
	if !src.Y.Descending() {
		y = NewUniformAxis(b.Min.Y+dy/2, dy, ny)
	}
	ref, err := NewGrid(x, y, crs)
	if err != nil {
		return nil, err
	}
	return Match(src, ref, method, opts...)
}

// transformBounds returns the extent of b after transformation, sampling n
// points along each edge.
func transformBounds(b *geom.Bounds, tr proj.Transformer, n int) (*geom.Bounds, error) {
	o := geom.NewBounds()
	for k := 0; k < n; k++ {
		f := float64(k) / float64(n-1)
		xs := b.Min.X + f*(b.Max.X-b.Min.X)
		ys := b.Min.Y + f*(b.Max.Y-b.Min.Y)
		for _, pt := range [][2]float64{
			{xs, b.Min.Y}, {xs, b.Max.Y}, {b.Min.X, ys}, {b.Max.X, ys},
		} {
			x, y, err := tr(pt[0], pt[1])
			if err != nil {
				return nil, fmt.Errorf("harmonize: transforming bounds: %v", err)
			}
			o.Extend(geom.NewBoundsPoint(geom.Point{X: x, Y: y}))
		}
	}
	return o, nil
}

// Match resamples src onto the cells of ref ("reproject match"). The values
// of ref are ignored. Nearest looks up the source cell containing each
// reference center; Mode and Average aggregate the source cells whose
// centers fall in each reference cell. opts are passed to the aggregation,
// so Mode honors exclusions. A result with no valid cell is returned
// without error.
func Match(src, ref *Grid, method Resampling, opts ...AggregateOption) (*Grid, error) {
	if src.Categorical && method == ResampleAverage {
		return nil, fmt.Errorf("harmonize: categorical grids cannot be resampled with %v", method)
	}
	var fwd, inv proj.Transformer
	if !SameCRS(src.SR, ref.SR) {
		if src.SR == nil || ref.SR == nil {
			return nil, fmt.Errorf("harmonize: matching grids needs both spatial references")
		}
		var err error
		if fwd, err = src.SR.NewTransform(ref.SR); err != nil {
			return nil, fmt.Errorf("harmonize: matching grids: %v", err)
		}
		if inv, err = ref.SR.NewTransform(src.SR); err != nil {
			return nil, fmt.Errorf("harmonize: matching grids: %v", err)
		}
	}
	switch method {
	case ResampleNearest:
		return matchNearest(src, ref, inv)
	case ResampleMode, ResampleAverage:
		stat := Mean
		if method == ResampleMode {
			stat = Mode
		}
		noData := src.Missing()
		a := NewAccumulator(ref.X, ref.Y, stat, append([]AggregateOption{WithCRS(ref.CRS)}, opts...)...)
		var terr error
		src.Each(func(_, _ int, x, y, v float64) {
			if terr != nil {
				return
			}
			if fwd != nil {
				if x, y, terr = fwd(x, y); terr != nil {
					return
				}
			}
			a.Add(x, y, v)
		})
		if terr != nil {
			return nil, fmt.Errorf("harmonize: matching grids: %v", terr)
		}
		g, err := a.Finalize(noData)
		var empty *EmptyResultError
		if err != nil && !errors.As(err, &empty) {
			return nil, err
		}
		g.SR = ref.SR
		g.HasNoData = src.HasNoData
		g.Categorical = src.Categorical
		return g, nil
	}
	return nil, fmt.Errorf("harmonize: unsupported resampling method %v", method)
}

func matchNearest(src, ref *Grid, inv proj.Transformer) (*Grid, error) {
	o := ref.WithData(nil, src.NoData, src.HasNoData)
	o.Categorical = src.Categorical
	missing := src.Missing()
	nx := src.Nx()
	for j, y0 := range ref.Y.Centers {
		for i, x0 := range ref.X.Centers {
			x, y := x0, y0
			if inv != nil {
				var err error
				if x, y, err = inv(x0, y0); err != nil {
					return nil, fmt.Errorf("harmonize: matching grids: %v", err)
				}
			}
			v := missing
			si, okx := src.X.Index(x)
			sj, oky := src.Y.Index(y)
			if okx && oky {
				v = src.Data.Elements[sj*nx+si]
			}
			if math.IsNaN(v) {
				v = missing
			}
			o.Set(v, j, i)
		}
	}
	return o, nil
}
