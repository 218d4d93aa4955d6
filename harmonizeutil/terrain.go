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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/harmonize"
	"github.com/spatialmodel/harmonize/ncio"
	"github.com/spatialmodel/harmonize/shpio"
)

// TerrainConfig describes a terrain aggregation run.
type TerrainConfig struct {
	// TileDir holds the fine elevation tiles as netCDF files.
	TileDir string

	// Reference is a netCDF file whose grid the terrain is aggregated onto.
	Reference string

	Boundary *shpio.Boundary
	Workers  int
	Output   string
}

// TerrainTiles returns one tile per netCDF file in dir, in name order.
func TerrainTiles(dir string) ([]harmonize.Tile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &harmonize.MissingInputError{Input: dir, Err: err}
		}
		return nil, fmt.Errorf("harmonizeutil: %v", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".nc") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	tiles := make([]harmonize.Tile, len(names))
	for i, n := range names {
		path := filepath.Join(dir, n)
		tiles[i] = harmonize.Tile{
			Name: n,
			Load: func(context.Context) (*harmonize.Grid, error) {
				return ncio.ReadGrid(path, ncio.ReadOptions{})
			},
		}
	}
	return tiles, nil
}

// Terrain aggregates the elevation tiles of c onto the reference grid and
// writes elevation, slope and aspect to c.Output. It returns the tiles
// that were left out.
func Terrain(ctx context.Context, c TerrainConfig, log logrus.FieldLogger, m *harmonize.Metrics) ([]harmonize.SkippedTile, error) {
	ref, err := ncio.ReadGrid(c.Reference, ncio.ReadOptions{})
	if err != nil {
		return nil, err
	}
	tiles, err := TerrainTiles(c.TileDir)
	if err != nil {
		return nil, err
	}
	if len(tiles) == 0 {
		return nil, &harmonize.MissingInputError{Input: c.TileDir, Err: fmt.Errorf("no elevation tiles")}
	}
	log.WithFields(logrus.Fields{"tiles": len(tiles), "reference": c.Reference}).Info("aggregating terrain")

	tp := &harmonize.TileProcessor{Workers: c.Workers, Log: log, Metrics: m}
	if c.Boundary != nil {
		tp.Boundary, tp.BoundarySR = c.Boundary.Polygon, c.Boundary.SR
	}
	acc := harmonize.NewTerrainAccumulator(ref.X, ref.Y, ref.CRS)
	skipped, err := tp.Process(ctx, tiles, acc, ref.SR)
	if err != nil {
		return skipped, err
	}
	if acc.Cells() == 0 {
		return skipped, &harmonize.EmptyResultError{Source: c.TileDir}
	}
	ct, err := acc.Finalize(ref.Missing())
	if err != nil {
		return skipped, err
	}
	grids := []*harmonize.Grid{ct.Elevation, ct.Slope, ct.Aspect}
	if err := ncio.WriteGrids(c.Output, DEMVars, grids); err != nil {
		return skipped, err
	}
	log.WithFields(logrus.Fields{
		"path": c.Output, "cells": acc.Cells(), "skipped": len(skipped),
	}).Info("wrote terrain")
	return skipped, nil
}
