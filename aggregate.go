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
)

// Statistic is the rule used to combine the fine samples that fall in a
// coarse cell.
type Statistic int

// These are the supported aggregation statistics.
const (
	Mean Statistic = iota
	Mode
	VectorMean
	Sum
	Count
)

func (s Statistic) String() string {
	switch s {
	case Mean:
		return "mean"
	case Mode:
		return "mode"
	case VectorMean:
		return "vector_mean"
	case Sum:
		return "sum"
	case Count:
		return "count"
	default:
		return fmt.Sprintf("Statistic(%d)", int(s))
	}
}

// Sample is a scalar value located at a point.
type Sample struct {
	X, Y  float64
	Value float64
}

// VectorSample is a two component vector located at a point.
type VectorSample struct {
	X, Y float64
	U, V float64
}

// AggregateOption configures an Accumulator.
type AggregateOption func(*Accumulator)

// WithExclusions sets the categories that Mode aggregation ignores.
func WithExclusions(classes ...int) AggregateOption {
	return func(a *Accumulator) {
		for _, c := range classes {
			a.exclude[c] = struct{}{}
		}
	}
}

// WithNoData sets a sentinel that marks input samples to be ignored.
func WithNoData(v float64) AggregateOption {
	return func(a *Accumulator) {
		a.inNoData, a.hasInNoData = v, true
	}
}

// WithCRS sets the coordinate reference system of the finalized grids.
func WithCRS(crs string) AggregateOption {
	return func(a *Accumulator) { a.crs = crs }
}

// Accumulator holds per-cell aggregation state over a coarse grid.
// Cells are stored in row-major order with shape [ny, nx].
type Accumulator struct {
	X, Y *Axis
	Stat Statistic

	Count      []int64
	Sum        []float64
	SumX, SumY []float64

	// categories is allocated on first use for Mode.
	categories []map[int]int64

	exclude     map[int]struct{}
	inNoData    float64
	hasInNoData bool
	crs         string
}

// NewAccumulator returns an empty accumulator for the coarse grid defined
// by x and y.
func NewAccumulator(x, y *Axis, stat Statistic, opts ...AggregateOption) *Accumulator {
	n := x.Len() * y.Len()
	a := &Accumulator{
		X:       x,
		Y:       y,
		Stat:    stat,
		Count:   make([]int64, n),
		exclude: make(map[int]struct{}),
	}
	switch stat {
	case VectorMean:
		a.SumX = make([]float64, n)
		a.SumY = make([]float64, n)
	case Mode:
		a.categories = make([]map[int]int64, n)
	default:
		a.Sum = make([]float64, n)
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Excluded reports whether category c is ignored by Mode aggregation.
func (a *Accumulator) Excluded(c int) bool {
	_, ok := a.exclude[c]
	return ok
}

func (a *Accumulator) cell(x, y float64) (int, bool) {
	i, ok := a.X.Index(x)
	if !ok {
		return 0, false
	}
	j, ok := a.Y.Index(y)
	if !ok {
		return 0, false
	}
	return j*a.X.Len() + i, true
}

func (a *Accumulator) skip(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || (a.hasInNoData && v == a.inNoData)
}

// Add accumulates a scalar sample. It reports whether the sample fell in
// the grid and had a usable value.
func (a *Accumulator) Add(x, y, v float64) bool {
	if a.Stat == VectorMean {
		panic("harmonize: Add called on a vector mean accumulator")
	}
	if a.skip(v) {
		return false
	}
	k, ok := a.cell(x, y)
	if !ok {
		return false
	}
	if a.Stat == Mode {
		c := int(math.Round(v))
		if a.Excluded(c) {
			return false
		}
		if a.categories[k] == nil {
			a.categories[k] = make(map[int]int64)
		}
		a.categories[k][c]++
		a.Count[k]++
		return true
	}
	a.Sum[k] += v
	a.Count[k]++
	return true
}

// AddVector accumulates a vector sample.
func (a *Accumulator) AddVector(x, y, u, v float64) bool {
	if a.Stat != VectorMean {
		panic("harmonize: AddVector called on a scalar accumulator")
	}
	if a.skip(u) || a.skip(v) {
		return false
	}
	k, ok := a.cell(x, y)
	if !ok {
		return false
	}
	a.SumX[k] += u
	a.SumY[k] += v
	a.Count[k]++
	return true
}

// AddGrid accumulates every non-missing cell of g at its center.
func (a *Accumulator) AddGrid(g *Grid) {
	g.Each(func(_, _ int, x, y, v float64) {
		a.Add(x, y, v)
	})
}

// Merge folds the state of o into a. Both must share the same grid and
// statistic.
func (a *Accumulator) Merge(o *Accumulator) error {
	if a.Stat != o.Stat {
		return fmt.Errorf("harmonize: merging %v accumulator into %v accumulator", o.Stat, a.Stat)
	}
	if len(a.Count) != len(o.Count) || !a.X.Equal(o.X, 0) || !a.Y.Equal(o.Y, 0) {
		return fmt.Errorf("harmonize: merging accumulators over different grids")
	}
	for k, c := range o.Count {
		if c == 0 {
			continue
		}
		a.Count[k] += c
		switch a.Stat {
		case VectorMean:
			a.SumX[k] += o.SumX[k]
			a.SumY[k] += o.SumY[k]
		case Mode:
			if a.categories[k] == nil {
				a.categories[k] = make(map[int]int64, len(o.categories[k]))
			}
			for cat, n := range o.categories[k] {
				a.categories[k][cat] += n
			}
		default:
			a.Sum[k] += o.Sum[k]
		}
	}
	return nil
}

// mode returns the most frequent category of cell k, with ties going to
// the lowest category.
func (a *Accumulator) mode(k int) (int, bool) {
	best, bestN := 0, int64(0)
	for c, n := range a.categories[k] {
		if n > bestN || (n == bestN && c < best) {
			best, bestN = c, n
		}
	}
	return best, bestN > 0
}

func (a *Accumulator) newGrid(noData float64) (*Grid, error) {
	g, err := NewGrid(a.X, a.Y, a.crs)
	if err != nil {
		return nil, err
	}
	g.NoData, g.HasNoData = noData, true
	return g, nil
}

// Finalize returns the aggregated grid. Cells that received no usable
// sample hold noData. It returns an *EmptyResultError when no cell is valid.
func (a *Accumulator) Finalize(noData float64) (*Grid, error) {
	if a.Stat == VectorMean {
		return nil, fmt.Errorf("harmonize: use FinalizeVector for vector mean accumulators")
	}
	g, err := a.newGrid(noData)
	if err != nil {
		return nil, err
	}
	valid := 0
	for k, c := range a.Count {
		v, ok := noData, c > 0
		if ok {
			switch a.Stat {
			case Mean:
				v = a.Sum[k] / float64(c)
			case Sum:
				v = a.Sum[k]
			case Count:
				v = float64(c)
			case Mode:
				var m int
				if m, ok = a.mode(k); ok {
					v = float64(m)
				}
			}
		}
		if ok {
			valid++
		}
		g.Data.Elements[k] = v
	}
	if valid == 0 {
		return g, &EmptyResultError{}
	}
	return g, nil
}

// FinalizeVector returns the mean vector components of every cell.
// It returns an *EmptyResultError when no cell is valid.
func (a *Accumulator) FinalizeVector(noData float64) (gx, gy *Grid, err error) {
	if a.Stat != VectorMean {
		return nil, nil, fmt.Errorf("harmonize: FinalizeVector called on a %v accumulator", a.Stat)
	}
	if gx, err = a.newGrid(noData); err != nil {
		return nil, nil, err
	}
	if gy, err = a.newGrid(noData); err != nil {
		return nil, nil, err
	}
	valid := 0
	for k, c := range a.Count {
		if c == 0 {
			gx.Data.Elements[k], gy.Data.Elements[k] = noData, noData
			continue
		}
		gx.Data.Elements[k] = a.SumX[k] / float64(c)
		gy.Data.Elements[k] = a.SumY[k] / float64(c)
		valid++
	}
	if valid == 0 {
		return gx, gy, &EmptyResultError{}
	}
	return gx, gy, nil
}

// Aggregate bins samples into the coarse grid defined by x and y and
// reduces each cell with stat.
func Aggregate(samples []Sample, x, y *Axis, stat Statistic, noData float64, opts ...AggregateOption) (*Grid, error) {
	a := NewAccumulator(x, y, stat, opts...)
	for _, s := range samples {
		a.Add(s.X, s.Y, s.Value)
	}
	return a.Finalize(noData)
}

// AggregateVector bins vector samples into the coarse grid defined by x
// and y and returns the per-cell mean components.
func AggregateVector(samples []VectorSample, x, y *Axis, noData float64, opts ...AggregateOption) (gx, gy *Grid, err error) {
	a := NewAccumulator(x, y, VectorMean, opts...)
	for _, s := range samples {
		a.AddVector(s.X, s.Y, s.U, s.V)
	}
	return a.FinalizeVector(noData)
}
