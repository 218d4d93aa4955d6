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
	"math"
	"sync"
	"testing"
)

const projectedCRS = "EPSG:5070"

// planeGrid returns a projected 4x5 grid with 10 m cells where z = a*x + b*y.
func planeGrid(t *testing.T, a, b float64) *Grid {
	g, err := NewGrid(NewUniformAxis(5, 10, 5), NewUniformAxis(35, -10, 4), projectedCRS)
	if err != nil {
		t.Fatal(err)
	}
	for j, y := range g.Y.Centers {
		for i, x := range g.X.Centers {
			g.Set(a*x+b*y, j, i)
		}
	}
	return g
}

func TestDeriveSlopeAspectPlane(t *testing.T) {
	g := planeGrid(t, 0.5, 0)
	ter, err := DeriveSlopeAspect(g)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range ter.SlopeX.Data.Elements {
		if math.Abs(v-0.5) > 1e-12 {
			t.Fatalf("sx[%d] = %g, want 0.5", k, v)
		}
		if ter.SlopeY.Data.Elements[k] != 0 {
			t.Fatalf("sy[%d] = %g, want 0", k, ter.SlopeY.Data.Elements[k])
		}
		if math.Abs(ter.Slope.Data.Elements[k]-0.5) > 1e-12 {
			t.Fatalf("slope[%d] = %g, want 0.5", k, ter.Slope.Data.Elements[k])
		}
	}
}

func TestDeriveSlopeAspectGradientEdges(t *testing.T) {
	g, err := NewGrid(NewUniformAxis(0.5, 1, 4), NewUniformAxis(0.5, 1, 2), projectedCRS)
	if err != nil {
		t.Fatal(err)
	}
	row := []float64{1, 2, 4, 7}
	for j := 0; j < 2; j++ {
		for i, v := range row {
			g.Set(v, j, i)
		}
	}
	ter, err := DeriveSlopeAspect(g)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1.5, 2.5, 3}
	for i, w := range want {
		if got := ter.SlopeX.At(0, i); got != w {
			t.Errorf("sx[0,%d] = %g, want %g", i, got, w)
		}
	}
}

func TestDeriveSlopeAspectNoData(t *testing.T) {
	g := planeGrid(t, 1, 1)
	g.NoData, g.HasNoData = -9999, true
	g.Set(-9999, 1, 2)
	ter, err := DeriveSlopeAspect(g)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(ter.Elevation.At(1, 2)) {
		t.Error("no-data elevation should become NaN")
	}
	if !math.IsNaN(ter.Slope.At(1, 1)) || !math.IsNaN(ter.Slope.At(1, 3)) {
		t.Error("NaN should propagate to horizontal neighbors")
	}
	if math.IsNaN(ter.Slope.At(3, 0)) {
		t.Error("distant cell should be valid")
	}
}

func TestDeriveSlopeAspectGeographic(t *testing.T) {
	g, err := NewGrid(NewUniformAxis(-117, 0.01, 3), NewUniformAxis(60.01, -0.01, 3), "EPSG:4269")
	if err != nil {
		t.Fatal(err)
	}
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			g.Set(float64(i), j, i)
		}
	}
	ter, err := DeriveSlopeAspect(g)
	if err != nil {
		t.Fatal(err)
	}
	for j, lat := range g.Y.Centers {
		want := 1 / (0.01 * metersPerDegree * math.Cos(lat*math.Pi/180))
		if got := ter.SlopeX.At(j, 1); math.Abs(got-want)/want > 1e-9 {
			t.Errorf("row %d: sx = %g, want %g", j, got, want)
		}
	}
}

func TestAspectClamp(t *testing.T) {
	for _, tc := range []struct {
		name   string
		sx, sy float64
		want   float64
	}{
		{"zero", 0, 0, 0},
		{"tiny", 1e-13, 1, math.Atan2(1, aspectClamp)},
		{"east", 1, 0, 0},
		{"north", 1e-3, 1, math.Atan2(1, 1e-3)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Aspect(tc.sx, tc.sy)
			if got != tc.want || math.IsNaN(got) {
				t.Errorf("Aspect(%g, %g) = %g, want %g", tc.sx, tc.sy, got, tc.want)
			}
		})
	}
}

func TestTerrainAccumulatorConcurrentMerge(t *testing.T) {
	fine := planeGrid(t, 0.5, 0.25)
	ter, err := DeriveSlopeAspect(fine)
	if err != nil {
		t.Fatal(err)
	}
	// One coarse cell covering the whole fine grid.
	x, y := NewUniformAxis(25, 50, 1), NewUniformAxis(20, 40, 1)

	serial := NewTerrainAccumulator(x, y, projectedCRS)
	for w := 0; w < 4; w++ {
		if _, err := serial.AddTerrain(ter, nil); err != nil {
			t.Fatal(err)
		}
	}
	shared := NewTerrainAccumulator(x, y, projectedCRS)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := shared.Local()
			if _, err := local.AddTerrain(ter, nil); err != nil {
				t.Error(err)
				return
			}
			if err := shared.Merge(local); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	a, err := serial.Finalize(-9999)
	if err != nil {
		t.Fatal(err)
	}
	b, err := shared.Finalize(-9999)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []struct {
		name string
		a, b *Grid
	}{{"elevation", a.Elevation, b.Elevation}, {"slope", a.Slope, b.Slope}, {"aspect", a.Aspect, b.Aspect}} {
		if math.Abs(p.a.At(0, 0)-p.b.At(0, 0)) > 1e-9 {
			t.Errorf("%s: serial %g != concurrent %g", p.name, p.a.At(0, 0), p.b.At(0, 0))
		}
	}
	// y decreases with row index, so d(z)/d(row) is negative.
	if want := math.Atan2(-0.25, 0.5); math.Abs(b.Aspect.At(0, 0)-want) > 1e-9 {
		t.Errorf("aspect = %g, want %g", b.Aspect.At(0, 0), want)
	}
}
