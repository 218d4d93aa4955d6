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
	"sort"
)

// uniformTolerance is the relative spacing difference below which the
// edges of an Axis are treated as uniform.
const uniformTolerance = 1e-9

// Axis is a monotonic sequence of cell-center coordinates along one grid
// dimension, together with the cell edges used as bin boundaries.
// Edges are always strictly increasing and have one more element than
// Centers, regardless of whether Centers ascend or descend.
type Axis struct {
	Centers []float64
	Edges   []float64

	descending bool
	uniform    bool
	step       float64 // edge spacing when uniform
}

// NewAxis creates an axis from the given cell centers, which must be
// strictly increasing or strictly decreasing. At least two centers are
// required so that a cell size can be inferred; use NewUniformAxis for
// single-cell axes.
func NewAxis(centers []float64) (*Axis, error) {
	if len(centers) < 2 {
		return nil, fmt.Errorf("harmonize: axis needs at least 2 centers, got %d", len(centers))
	}
	a := &Axis{Centers: append([]float64(nil), centers...)}
	a.descending = centers[1] < centers[0]
	for i := 1; i < len(centers); i++ {
		d := centers[i] - centers[i-1]
		if math.IsNaN(d) || d == 0 || (d < 0) != a.descending {
			return nil, fmt.Errorf("harmonize: axis centers are not strictly monotonic at index %d", i)
		}
	}
	asc := a.ascending()
	n := len(asc)
	a.Edges = make([]float64, n+1)
	a.Edges[0] = asc[0] - (asc[1]-asc[0])/2
	for i := 1; i < n; i++ {
		a.Edges[i] = (asc[i-1] + asc[i]) / 2
	}
	a.Edges[n] = asc[n-1] + (asc[n-1]-asc[n-2])/2
	a.checkUniform()
	return a, nil
}

// NewUniformAxis creates an axis with n centers starting at start and
// separated by step. A negative step creates a descending axis.
func NewUniformAxis(start, step float64, n int) *Axis {
	if n < 1 || step == 0 {
		panic(fmt.Errorf("harmonize: invalid uniform axis: n=%d, step=%g", n, step))
	}
	a := &Axis{Centers: make([]float64, n), descending: step < 0}
	for i := range a.Centers {
		a.Centers[i] = start + float64(i)*step
	}
	s := math.Abs(step)
	lo := math.Min(a.Centers[0], a.Centers[n-1]) - s/2
	a.Edges = make([]float64, n+1)
	for i := range a.Edges {
		a.Edges[i] = lo + float64(i)*s
	}
	a.uniform = true
	a.step = s
	return a
}

// ascending returns the centers in increasing order.
func (a *Axis) ascending() []float64 {
	if !a.descending {
		return a.Centers
	}
	o := make([]float64, len(a.Centers))
	for i, c := range a.Centers {
		o[len(o)-1-i] = c
	}
	return o
}

func (a *Axis) checkUniform() {
	n := len(a.Edges) - 1
	step := (a.Edges[n] - a.Edges[0]) / float64(n)
	for i := 1; i <= n; i++ {
		if math.Abs((a.Edges[i]-a.Edges[i-1])-step) > uniformTolerance*math.Abs(step) {
			a.uniform = false
			return
		}
	}
	a.uniform = true
	a.step = step
}

// Len returns the number of cells along the axis.
func (a *Axis) Len() int { return len(a.Centers) }

// Descending reports whether the centers decrease with index.
func (a *Axis) Descending() bool { return a.descending }

// Uniform reports whether all cells along the axis have the same width.
func (a *Axis) Uniform() bool { return a.uniform }

// CellSize returns the mean absolute width of the cells along the axis.
func (a *Axis) CellSize() float64 {
	return (a.Edges[len(a.Edges)-1] - a.Edges[0]) / float64(a.Len())
}

// Min returns the lower outer edge of the axis.
func (a *Axis) Min() float64 { return a.Edges[0] }

// Max returns the upper outer edge of the axis.
func (a *Axis) Max() float64 { return a.Edges[len(a.Edges)-1] }

// Index returns the index into Centers of the cell containing v.
// Intervals are closed on the left, except for the last interval which is
// closed on both sides. ok is false when v lies outside the edges or is NaN.
func (a *Axis) Index(v float64) (i int, ok bool) {
	n := a.Len()
	if !(v >= a.Edges[0] && v <= a.Edges[n]) {
		return 0, false
	}
	var k int
	if a.uniform {
		k = int(math.Floor((v - a.Edges[0]) / a.step))
		// Rounding can put v one bin off near an edge.
		if k > 0 && v < a.Edges[k] {
			k--
		} else if k < n-1 && v >= a.Edges[k+1] {
			k++
		}
	} else {
		k = sort.SearchFloat64s(a.Edges, v)
		if k == len(a.Edges) || a.Edges[k] != v {
			k--
		}
	}
	if k >= n {
		k = n - 1
	}
	if k < 0 {
		k = 0
	}
	if a.descending {
		return n - 1 - k, true
	}
	return k, true
}

// Equal reports whether a and b have the same centers to within tol.
func (a *Axis) Equal(b *Axis, tol float64) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i, c := range a.Centers {
		if math.Abs(c-b.Centers[i]) > tol {
			return false
		}
	}
	return true
}

// Sub returns the axis made of the centers in [lo, hi).
func (a *Axis) Sub(lo, hi int) (*Axis, error) {
	if lo < 0 || hi > a.Len() || hi <= lo {
		return nil, fmt.Errorf("harmonize: invalid axis subset [%d, %d) of %d", lo, hi, a.Len())
	}
	if a.uniform || hi-lo == 1 {
		step := a.CellSize()
		if a.descending {
			step = -step
		}
		return NewUniformAxis(a.Centers[lo], step, hi-lo), nil
	}
	return NewAxis(a.Centers[lo:hi])
}
