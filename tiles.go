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
	"context"
	"fmt"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
)

// DefaultTileWorkers is the number of tiles processed concurrently when
// TileProcessor.Workers is not set.
const DefaultTileWorkers = 5

// Tile is one independently loadable piece of a fine elevation surface.
type Tile struct {
	Name string
	Load func(ctx context.Context) (*Grid, error)
}

// TileSkipReason describes why a tile did not contribute to the result.
type TileSkipReason string

// These are the reasons a tile can be skipped.
const (
	TileUnreadable TileSkipReason = "unreadable"
	TileNoOverlap  TileSkipReason = "no_overlap"
	TileNoData     TileSkipReason = "no_data"
	TileError      TileSkipReason = "error"
)

// SkippedTile records a tile that was left out.
type SkippedTile struct {
	Name   string
	Reason TileSkipReason
	Err    error
}

func (s SkippedTile) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s (%s: %v)", s.Name, s.Reason, s.Err)
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.Reason)
}

// TileProcessor derives terrain from elevation tiles with a fixed pool of
// workers and accumulates it onto a coarse grid.
type TileProcessor struct {
	// Workers is the pool size. It defaults to DefaultTileWorkers.
	Workers int

	// Boundary, if not nil, limits the tiles and cells used. It is
	// expressed in BoundarySR.
	Boundary   geom.Polygonal
	BoundarySR *proj.SR

	Log     logrus.FieldLogger
	Metrics *Metrics
}

// boundaryIndex is a spatial index of the boundary polygons.
type boundaryIndex struct {
	tree *rtree.Rtree
	sr   *proj.SR
}

func newBoundaryIndex(b geom.Polygonal, sr *proj.SR) *boundaryIndex {
	if b == nil {
		return nil
	}
	idx := &boundaryIndex{tree: rtree.NewTree(25, 50), sr: sr}
	for _, p := range b.Polygons() {
		idx.tree.Insert(p)
	}
	return idx
}

// overlaps reports whether any boundary polygon intersects b.
func (idx *boundaryIndex) overlaps(b *geom.Bounds) bool {
	return len(idx.tree.SearchIntersect(b)) > 0
}

// contains reports whether p lies inside or on the edge of a boundary polygon.
func (idx *boundaryIndex) contains(p geom.Point) bool {
	for _, g := range idx.tree.SearchIntersect(p.Bounds()) {
		if p.Within(g.(geom.Polygonal)) != geom.Outside {
			return true
		}
	}
	return false
}

// Process loads every tile, discards tiles that do not overlap the
// boundary, masks cells outside it, derives terrain and accumulates it into
// acc, whose grid is expressed in accSR. Each worker accumulates locally and
// merges its result into acc once per tile. Failing tiles are logged and
// returned as skipped; the pool always drains. The only error returned is
// the context error when ctx is cancelled before every tile is dispatched.
func (tp *TileProcessor) Process(ctx context.Context, tiles []Tile, acc *TerrainAccumulator, accSR *proj.SR) ([]SkippedTile, error) {
	log := tp.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	workers := tp.Workers
	if workers <= 0 {
		workers = DefaultTileWorkers
	}
	idx := newBoundaryIndex(tp.Boundary, tp.BoundarySR)

	var (
		mu      sync.Mutex
		skipped []SkippedTile
		wg      sync.WaitGroup
	)
	skip := func(t Tile, reason TileSkipReason, err error) {
		log.WithFields(logrus.Fields{"tile": t.Name, "reason": reason}).WithError(err).Warn("skipping tile")
		tp.Metrics.tile(string(reason))
		mu.Lock()
		skipped = append(skipped, SkippedTile{Name: t.Name, Reason: reason, Err: err})
		mu.Unlock()
	}

	jobs := make(chan Tile)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				reason, err := tp.processTile(ctx, t, idx, acc, accSR)
				if reason != "" {
					skip(t, reason, err)
					continue
				}
				tp.Metrics.tile("merged")
				log.WithField("tile", t.Name).Debug("merged tile")
			}
		}()
	}

	var err error
dispatch:
	for _, t := range tiles {
		if err = ctx.Err(); err != nil {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	return skipped, err
}

// processTile returns a non-empty reason when the tile did not contribute.
func (tp *TileProcessor) processTile(ctx context.Context, t Tile, idx *boundaryIndex, acc *TerrainAccumulator, accSR *proj.SR) (TileSkipReason, error) {
	g, err := t.Load(ctx)
	if err != nil {
		return TileUnreadable, err
	}
	if err := g.Check(); err != nil {
		return TileUnreadable, err
	}
	if idx != nil {
		toBoundary, err := transformerBetween(g.SR, idx.sr)
		if err != nil {
			return TileError, err
		}
		b := g.Bounds()
		if toBoundary != nil {
			if b, err = transformBounds(b, toBoundary, 11); err != nil {
				return TileError, err
			}
		}
		if !idx.overlaps(b) {
			return TileNoOverlap, nil
		}
		g = g.Clone()
		missing := g.Missing()
		for j, y0 := range g.Y.Centers {
			for i, x0 := range g.X.Centers {
				x, y := x0, y0
				if toBoundary != nil {
					if x, y, err = toBoundary(x0, y0); err != nil {
						return TileError, err
					}
				}
				if !idx.contains(geom.Point{X: x, Y: y}) {
					g.Set(missing, j, i)
				}
			}
		}
	}
	if g.ValidCount() == 0 {
		return TileNoData, nil
	}
	ter, err := DeriveSlopeAspect(g)
	if err != nil {
		return TileError, err
	}
	toAcc, err := transformerBetween(g.SR, accSR)
	if err != nil {
		return TileError, err
	}
	local := acc.Local()
	if _, err := local.AddTerrain(ter, toAcc); err != nil {
		return TileError, err
	}
	if err := acc.Merge(local); err != nil {
		return TileError, err
	}
	return "", nil
}

// transformerBetween returns nil when no transformation is needed.
func transformerBetween(src, dst *proj.SR) (proj.Transformer, error) {
	if src == nil || dst == nil || SameCRS(src, dst) {
		return nil, nil
	}
	tr, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("harmonize: %v", err)
	}
	return tr, nil
}
