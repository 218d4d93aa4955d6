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

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
)

// Aligner clips source grids to a boundary, masks the cells outside it and
// moves them onto a target coordinate reference system.
type Aligner struct {
	Reprojector Reprojector
	Log         logrus.FieldLogger
}

// NewAligner returns an Aligner that uses ProjReprojector.
func NewAligner() *Aligner {
	return &Aligner{Reprojector: ProjReprojector{}, Log: logrus.StandardLogger()}
}

func (al *Aligner) reprojector() Reprojector {
	if al.Reprojector == nil {
		return ProjReprojector{}
	}
	return al.Reprojector
}

func (al *Aligner) log() logrus.FieldLogger {
	if al.Log == nil {
		return logrus.StandardLogger()
	}
	return al.Log
}

// Align clips src to the bounding box of boundary expanded by buffer (in
// source units), sets cells whose centers fall outside boundary to
// missing and reprojects the result to crs. boundary is expressed in
// boundarySR and may be nil, in which case no clipping or masking is done.
// It returns an *AlignmentError when src does not intersect the buffered
// boundary. A result with no valid cells is not an error.
func (al *Aligner) Align(src *Grid, crs string, boundary geom.Polygonal, boundarySR *proj.SR, buffer float64, method Resampling, opts ...AggregateOption) (*Grid, error) {
	if err := src.Check(); err != nil {
		return nil, err
	}
	if src.Categorical && method == ResampleAverage {
		return nil, fmt.Errorf("harmonize: categorical grids cannot be aligned with %v", method)
	}
	g := src
	if boundary != nil {
		b, err := boundaryIn(boundary, boundarySR, src.SR)
		if err != nil {
			return nil, err
		}
		if g, err = clip(src, b, buffer); err != nil {
			return nil, err
		}
		mask(g, b)
		al.log().WithFields(logrus.Fields{
			"cells": g.Nx() * g.Ny(),
			"valid": g.ValidCount(),
		}).Debug("clipped grid to boundary")
	}
	return al.reprojector().Reproject(g, crs, method, opts...)
}

// Match resamples src onto the cells of ref.
func (al *Aligner) Match(src, ref *Grid, method Resampling, opts ...AggregateOption) (*Grid, error) {
	return Match(src, ref, method, opts...)
}

// boundaryIn returns boundary expressed in the dst spatial reference.
func boundaryIn(boundary geom.Polygonal, src, dst *proj.SR) (geom.Polygonal, error) {
	if src == nil || dst == nil || SameCRS(src, dst) {
		return boundary, nil
	}
	tr, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("harmonize: transforming boundary: %v", err)
	}
	t, err := boundary.Transform(tr)
	if err != nil {
		return nil, fmt.Errorf("harmonize: transforming boundary: %v", err)
	}
	p, ok := t.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("harmonize: transformed boundary is a %T", t)
	}
	return p, nil
}

// clip returns the window of g whose cell centers lie within the bounds of
// boundary expanded by buffer.
func clip(g *Grid, boundary geom.Polygonal, buffer float64) (*Grid, error) {
	b := boundary.Bounds().Copy()
	b.Min.X -= buffer
	b.Min.Y -= buffer
	b.Max.X += buffer
	b.Max.Y += buffer
	i0, i1 := span(g.X, b.Min.X, b.Max.X)
	j0, j1 := span(g.Y, b.Min.Y, b.Max.Y)
	if i0 >= i1 || j0 >= j1 {
		return nil, &AlignmentError{Reason: fmt.Sprintf(
			"grid extent %v does not intersect boundary extent %v", g.Bounds(), b)}
	}
	return g.Window(j0, j1, i0, i1)
}

// span returns the range of indices [lo, hi) of the centers of a that lie
// within [min, max].
func span(a *Axis, min, max float64) (lo, hi int) {
	lo, hi = a.Len(), 0
	for k, c := range a.Centers {
		if c >= min && c <= max {
			if k < lo {
				lo = k
			}
			if k+1 > hi {
				hi = k + 1
			}
		}
	}
	return lo, hi
}

// mask sets the cells of g whose centers are outside boundary to missing.
func mask(g *Grid, boundary geom.Polygonal) {
	missing := g.Missing()
	bb := boundary.Bounds()
	for j, y := range g.Y.Centers {
		for i, x := range g.X.Centers {
			p := geom.Point{X: x, Y: y}
			if x < bb.Min.X || x > bb.Max.X || y < bb.Min.Y || y > bb.Max.Y ||
				p.Within(boundary) == geom.Outside {
				g.Set(missing, j, i)
			}
		}
	}
}
