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

// Package harmonizeutil contains the command line interface of the
// harmonization pipeline.
package harmonizeutil

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/lnashier/viper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/harmonize"
	"github.com/spatialmodel/harmonize/cloud"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to the commands.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of the messages that are logged:
              debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "StartYear",
			usage: `
              StartYear is the first year included in the output.`,
			defaultVal: 2000,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "EndYear",
			usage: `
              EndYear is the last year included in the output.`,
			defaultVal: 2002,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "PRISM.Dir",
			usage: `
              PRISM.Dir is the directory holding one subdirectory of monthly
              PRISM climate files per variable. It can include environment
              variables.`,
			defaultVal: "data/prism_climate",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "PRISM.Variables",
			usage: `
              PRISM.Variables are the PRISM variables to join. A month is only
              included when every variable has a file for it.`,
			defaultVal: DefaultPRISMVars,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "MTBS.Dir",
			usage: `
              MTBS.Dir is the directory holding the monthly burned area files.`,
			defaultVal: "data/mtbs_perimeter",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NDVI.Dir",
			usage: `
              NDVI.Dir is the directory holding the vegetation index composites.`,
			defaultVal: "data/nasa_ndvi",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "NLCD.Dir",
			usage: `
              NLCD.Dir is the directory searched recursively for the annual land
              cover files.`,
			defaultVal: "data/nlcd_annual",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "DEM.File",
			usage: `
              DEM.File is the static terrain file with elevation, slope and
              aspect. The terrain command writes it and the run command reads it.`,
			defaultVal: "data/usgs_dem/usgs_dem_800m.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "CRS",
			usage: `
              CRS is the longitude/latitude coordinate reference system of the
              output, as an EPSG code, a Proj4 string or WKT.`,
			defaultVal: "EPSG:4269",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "Boundary.File",
			usage: `
              Boundary.File is an optional shapefile with the study area. Cells
              outside of it are set to missing.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "Boundary.Filter",
			usage: `
              Boundary.Filter selects the boundary polygons by attribute, as
              FIELD=value pairs, for example NAME=San Diego.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "Boundary.Buffer",
			usage: `
              Boundary.Buffer widens the window grids are clipped to, in the
              units of each grid.`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "LandCover.Exclude",
			usage: `
              LandCover.Exclude lists the land cover classes that are ignored
              when land cover is resampled by majority.`,
			defaultVal: []int{11, 12, 250},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SpillBucket",
			usage: `
              SpillBucket is the blob storage location joined years are kept in
              until they are combined, for example file:///tmp/harmonize or
              gs://bucket. When empty they are written to a new directory
              under the system temporary directory, which is removed after
              the run. mem:// keeps them in memory.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path of the harmonized table. Its extension
              selects the format: .nc, .shp, .sqlite or .db.`,
			shorthand:  "o",
			defaultVal: "data/combined_data.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ReportFile",
			usage: `
              ReportFile is where the run report is written. It defaults to the
              output file with the extension replaced by .report.toml.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "MetricsFile",
			usage: `
              MetricsFile, if set, is where run metrics are written in the
              Prometheus text format.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), terrainCmd.Flags()},
		},
		{
			name: "Terrain.TileDir",
			usage: `
              Terrain.TileDir is the directory holding the fine elevation tiles
              as netCDF files.`,
			defaultVal: "data/usgs_dem/tiles",
			flagsets:   []*pflag.FlagSet{terrainCmd.Flags()},
		},
		{
			name: "Terrain.Reference",
			usage: `
              Terrain.Reference is a netCDF file whose grid terrain is
              aggregated onto. It defaults to the first PRISM file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{terrainCmd.Flags()},
		},
		{
			name: "Terrain.Workers",
			usage: `
              Terrain.Workers is the number of tiles processed at once.`,
			defaultVal: harmonize.DefaultTileWorkers,
			flagsets:   []*pflag.FlagSet{terrainCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("HARMONIZE")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case []int:
				set.IntSliceP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			default:
				panic("invalid argument type")
			}
		}
		Cfg.BindPFlag(option.name, option.flagsets[0].Lookup(option.name))
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(terrainCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets the log level.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("harmonizeutil: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("harmonizeutil: LogLevel: %v", err)
	}
	logrus.SetLevel(level)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "harmonize",
	Short: "Harmonize wildfire-related gridded datasets.",
	Long: `harmonize combines climate, burned area, vegetation index, land cover
and terrain grids onto a common grid and joins them into one table keyed by
latitude, longitude, year and month.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'HARMONIZE_var' where 'var'
is the name of the variable to be set, with dots replaced by underscores.
Path variables are allowed to contain environment variables within them.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of harmonize.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("harmonize v%s\n", harmonize.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join the datasets into one table.",
	Long: `run discovers the input files of every source, puts them on the grid of
the first complete PRISM month, joins them year by year and writes the result
to OutputFile along with a report of the years and sources that were left out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := LoadSettings(Cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		reg := prometheus.NewRegistry()
		_, err = Run(ctx, s, logrus.StandardLogger(), reg)
		if merr := writeMetrics(s.MetricsFile, reg); err == nil {
			err = merr
		}
		return err
	},
	DisableAutoGenTag: true,
}

var terrainCmd = &cobra.Command{
	Use:   "terrain",
	Short: "Aggregate elevation tiles to the analysis grid.",
	Long: `terrain derives slope and aspect from every elevation tile in
Terrain.TileDir, averages elevation, slope and the slope vector onto the grid
of Terrain.Reference and writes elevation, slope and aspect to DEM.File.
Tiles that cannot be used are listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := LoadSettings(Cfg)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		reg := prometheus.NewRegistry()
		skipped, err := RunTerrain(ctx, s, logrus.StandardLogger(), reg)
		for _, t := range skipped {
			cmd.Printf("skipped tile %s\n", t)
		}
		if merr := writeMetrics(s.MetricsFile, reg); err == nil {
			err = merr
		}
		return err
	},
	DisableAutoGenTag: true,
}

func writeMetrics(path string, g prometheus.Gatherer) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("harmonizeutil: writing metrics: %v", err)
	}
	return nil
}

// Schema returns the columns the output must carry for the given PRISM
// variables.
func Schema(prismVars []string) []string {
	o := []string{"lat", "lon", "year", "month"}
	o = append(o, prismVars...)
	return append(o, "burned_area", "ndvi", "landcover", "elevation", "slope", "aspect")
}

// Run harmonizes the inputs described by s and writes the joined table and
// the run report. Metrics are registered with reg, which may be nil.
func Run(ctx context.Context, s *Settings, log logrus.FieldLogger, reg prometheus.Registerer) (*RunReport, error) {
	start := time.Now()
	output, err := checkOutputFile(s.OutputFile)
	if err != nil {
		return nil, err
	}
	sink, err := SinkFor(output)
	if err != nil {
		return nil, err
	}
	boundary, err := s.Boundary()
	if err != nil {
		return nil, err
	}
	inputs, err := Discover(s.Layout, s.StartYear, s.EndYear, log)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"prism_months": len(inputs.PRISM), "mtbs_months": len(inputs.MTBS),
		"ndvi_months": len(inputs.NDVI), "nlcd_years": len(inputs.NLCD),
	}).Info("discovered inputs")

	e := &harmonize.Engine{
		Base:    SourcePRISM,
		Sources: Sources(s.PRISMVars),
		Schema:  Schema(s.PRISMVars),
		Log:     log,
		Metrics: harmonize.NewMetrics(reg),
	}
	bucket := s.SpillBucket
	if bucket == "" {
		dir, err := os.MkdirTemp("", "harmonize-spill-")
		if err != nil {
			return nil, fmt.Errorf("harmonizeutil: creating spill directory: %v", err)
		}
		defer os.RemoveAll(dir)
		bucket = "file://" + filepath.ToSlash(dir)
	}
	spill, err := cloud.NewBlobSpill(ctx, bucket)
	if err != nil {
		return nil, err
	}
	spill.Log = log
	defer func() {
		if err := spill.Clear(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Error("clearing spilled tables")
		}
		spill.Close()
	}()
	e.Spill = spill
	log.WithField("spill", bucket).Debug("spilling joined years")

	loader := &Loader{
		Inputs:    inputs,
		PRISMVars: s.PRISMVars,
		CRS:       s.CRS,
		Boundary:  boundary,
		Buffer:    s.BoundaryBuffer,
		Exclude:   s.Exclude,
		Log:       log,
	}

	report, err := e.Harmonize(ctx, Years(s.StartYear, s.EndYear), loader, sink, output)
	rr := NewRunReport(s, output, start, report)
	rr.Log(log)
	if err != nil {
		return rr, err
	}
	path := reportPath(s.ReportFile, output)
	if err := rr.Write(path); err != nil {
		return rr, err
	}
	log.WithField("path", path).Info("wrote run report")
	return rr, nil
}

// RunTerrain aggregates the elevation tiles described by s onto the
// reference grid and writes the result to s.DEMFile.
func RunTerrain(ctx context.Context, s *Settings, log logrus.FieldLogger, reg prometheus.Registerer) ([]harmonize.SkippedTile, error) {
	boundary, err := s.Boundary()
	if err != nil {
		return nil, err
	}
	ref := s.TileReference
	if ref == "" {
		inputs, err := Discover(Layout{PRISMDir: s.PRISMDir, PRISMVars: s.PRISMVars}, 0, 9999, log)
		if err != nil {
			return nil, err
		}
		if ref = inputs.FirstPRISM(s.PRISMVars); ref == "" {
			return nil, &harmonize.MissingInputError{Input: "Terrain.Reference",
				Err: fmt.Errorf("no reference grid is configured and no PRISM file was found in %s", s.PRISMDir)}
		}
	}
	return Terrain(ctx, TerrainConfig{
		TileDir:   s.TileDir,
		Reference: ref,
		Boundary:  boundary,
		Workers:   s.TileWorkers,
		Output:    s.DEMFile,
	}, log, harmonize.NewMetrics(reg))
}
