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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/harmonize"
	"github.com/spatialmodel/harmonize/internal/hash"
	"github.com/spatialmodel/harmonize/ncio"
	"github.com/spatialmodel/harmonize/shpio"
	"github.com/spatialmodel/harmonize/sqlsink"
	"github.com/spf13/cast"
)

// Settings holds the configuration of a run, resolved from a viper
// configuration with environment variables expanded.
type Settings struct {
	Layout
	StartYear, EndYear int

	CRS            string
	BoundaryFile   string
	BoundaryFilter []string
	BoundaryBuffer float64

	Exclude []int

	SpillBucket string
	OutputFile  string
	ReportFile  string
	MetricsFile string

	TileDir       string
	TileReference string
	TileWorkers   int
}

// Hash returns a key identifying the settings.
func (s *Settings) Hash() string { return hash.Hash(s) }

// LoadSettings unmarshals a viper configuration.
func LoadSettings(cfg *viper.Viper) (*Settings, error) {
	exclude, err := toIntSliceE(cfg.Get("LandCover.Exclude"))
	if err != nil {
		return nil, fmt.Errorf("harmonizeutil: LandCover.Exclude: %v", err)
	}
	s := &Settings{
		Layout: Layout{
			PRISMDir:  os.ExpandEnv(cfg.GetString("PRISM.Dir")),
			PRISMVars: expandStringSlice(cfg.GetStringSlice("PRISM.Variables")),
			MTBSDir:   os.ExpandEnv(cfg.GetString("MTBS.Dir")),
			NDVIDir:   os.ExpandEnv(cfg.GetString("NDVI.Dir")),
			NLCDDir:   os.ExpandEnv(cfg.GetString("NLCD.Dir")),
			DEMFile:   os.ExpandEnv(cfg.GetString("DEM.File")),
		},
		StartYear:      cfg.GetInt("StartYear"),
		EndYear:        cfg.GetInt("EndYear"),
		CRS:            os.ExpandEnv(cfg.GetString("CRS")),
		BoundaryFile:   os.ExpandEnv(cfg.GetString("Boundary.File")),
		BoundaryFilter: expandStringSlice(cfg.GetStringSlice("Boundary.Filter")),
		BoundaryBuffer: cfg.GetFloat64("Boundary.Buffer"),
		Exclude:        exclude,
		SpillBucket:    os.ExpandEnv(cfg.GetString("SpillBucket")),
		OutputFile:     os.ExpandEnv(cfg.GetString("OutputFile")),
		ReportFile:     os.ExpandEnv(cfg.GetString("ReportFile")),
		MetricsFile:    os.ExpandEnv(cfg.GetString("MetricsFile")),
		TileDir:        os.ExpandEnv(cfg.GetString("Terrain.TileDir")),
		TileReference:  os.ExpandEnv(cfg.GetString("Terrain.Reference")),
		TileWorkers:    cfg.GetInt("Terrain.Workers"),
	}
	if len(s.PRISMVars) == 0 {
		return nil, fmt.Errorf("harmonizeutil: PRISM.Variables is empty")
	}
	if s.EndYear < s.StartYear {
		return nil, fmt.Errorf("harmonizeutil: EndYear=%d is before StartYear=%d", s.EndYear, s.StartYear)
	}
	sr, err := harmonize.ParseCRS(s.CRS)
	if err != nil {
		return nil, fmt.Errorf("harmonizeutil: CRS: %v", err)
	}
	if !harmonize.IsGeographic(sr) {
		return nil, fmt.Errorf("harmonizeutil: CRS %q is not a longitude/latitude system", s.CRS)
	}
	if _, err := parseFilter(s.BoundaryFilter); err != nil {
		return nil, err
	}
	return s, nil
}

// Boundary reads the configured boundary, or returns nil when none is
// configured.
func (s *Settings) Boundary() (*shpio.Boundary, error) {
	if s.BoundaryFile == "" {
		return nil, nil
	}
	filter, err := parseFilter(s.BoundaryFilter)
	if err != nil {
		return nil, err
	}
	return shpio.ReadBoundary(s.BoundaryFile, filter, s.CRS)
}

// parseFilter parses attribute filters of the form "NAME=San Diego".
func parseFilter(f []string) (map[string]string, error) {
	o := make(map[string]string, len(f))
	for _, kv := range f {
		i := strings.Index(kv, "=")
		if i <= 0 {
			return nil, fmt.Errorf("harmonizeutil: boundary filter %q is not in the form FIELD=value", kv)
		}
		o[strings.TrimSpace(kv[:i])] = strings.TrimSpace(kv[i+1:])
	}
	return o, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// toIntSliceE converts a configuration value to a slice of ints. Values set
// on the command line arrive as strings such as "[11,12,250]".
func toIntSliceE(s interface{}) ([]int, error) {
	switch v := s.(type) {
	case []int:
		return v, nil
	case []interface{}:
		return cast.ToIntSliceE(v)
	case string:
		v = strings.TrimSpace(v)
		if v == "" || v == "[]" {
			return nil, nil
		}
		var o []int
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, err
		}
		return o, nil
	}
	return cast.ToIntSliceE(s)
}

// checkOutputFile makes sure that the output file is specified, that its
// directory exists and that a sink can write its format.
func checkOutputFile(f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`harmonizeutil: you need to specify an output file (for example: OutputFile="combined.nc")`)
	}
	if _, err := SinkFor(f); err != nil {
		return f, err
	}
	if _, err := os.Stat(filepath.Dir(f)); err != nil {
		return f, fmt.Errorf("harmonizeutil: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// sinks maps output file extensions to the sinks that write them.
var sinks = map[string]harmonize.TableSink{
	".nc":     ncio.TableSink{},
	".shp":    shpio.PointSink{},
	".sqlite": sqlsink.Sink{},
	".db":     sqlsink.Sink{},
}

// SinkFor returns the sink for the format of path, chosen by extension.
func SinkFor(path string) (harmonize.TableSink, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if s, ok := sinks[ext]; ok {
		return s, nil
	}
	exts := make([]string, 0, len(sinks))
	for e := range sinks {
		exts = append(exts, e)
	}
	sort.Strings(exts)
	return nil, fmt.Errorf("harmonizeutil: unsupported output format %q; use one of %s", ext, strings.Join(exts, ", "))
}
