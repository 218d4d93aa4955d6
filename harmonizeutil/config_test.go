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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/harmonize/ncio"
	"github.com/spatialmodel/harmonize/shpio"
	"github.com/spatialmodel/harmonize/sqlsink"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings(Cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.StartYear != 2000 || s.EndYear != 2002 {
		t.Errorf("years = %d-%d", s.StartYear, s.EndYear)
	}
	if diff := cmp.Diff(DefaultPRISMVars, s.PRISMVars); diff != "" {
		t.Errorf("prism variables (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{11, 12, 250}, s.Exclude); diff != "" {
		t.Errorf("exclude (-want +got):\n%s", diff)
	}
	if s.CRS != "EPSG:4269" || s.OutputFile != "data/combined_data.nc" || s.TileWorkers != 5 {
		t.Errorf("settings = %+v", s)
	}
	if b, err := s.Boundary(); b != nil || err != nil {
		t.Errorf("boundary = %v, %v", b, err)
	}
}

func TestLoadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HARMONIZE_TEST_DATA", dir)
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(`
StartYear = 2001
EndYear = 2003
CRS = "EPSG:4326"
OutputFile = "${HARMONIZE_TEST_DATA}/out.sqlite"

[PRISM]
Dir = "${HARMONIZE_TEST_DATA}/prism"
Variables = ["ppt", "tmax"]

[Boundary]
Filter = ["NAME=San Diego"]
Buffer = 0.25

[LandCover]
Exclude = [11, 12]
`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	cfg := viper.New()
	cfg.SetConfigFile(path)
	if err := cfg.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := &Settings{
		Layout:         Layout{PRISMDir: filepath.Join(dir, "prism"), PRISMVars: []string{"ppt", "tmax"}},
		StartYear:      2001,
		EndYear:        2003,
		CRS:            "EPSG:4326",
		BoundaryFilter: []string{"NAME=San Diego"},
		BoundaryBuffer: 0.25,
		Exclude:        []int{11, 12},
		OutputFile:     filepath.Join(dir, "out.sqlite"),
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("settings (-want +got):\n%s", diff)
	}
	if s.Hash() != want.Hash() {
		t.Error("equal settings have different hashes")
	}
	want.EndYear = 2004
	if s.Hash() == want.Hash() {
		t.Error("different settings have the same hash")
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	for name, kv := range map[string]map[string]interface{}{
		"years":     {"StartYear": 2003, "EndYear": 2001},
		"projected": {"CRS": "+proj=utm +zone=11 +ellps=WGS84 +units=m +no_defs"},
		"bad crs":   {"CRS": "EPSG:999999"},
		"no vars":   {"PRISM.Variables": []string{}},
		"filter":    {"Boundary.Filter": []string{"San Diego"}},
		"exclude":   {"LandCover.Exclude": "[eleven]"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := viper.New()
			cfg.Set("PRISM.Variables", DefaultPRISMVars)
			cfg.Set("CRS", "EPSG:4269")
			cfg.Set("StartYear", 2000)
			cfg.Set("EndYear", 2000)
			for k, v := range kv {
				cfg.Set(k, v)
			}
			if _, err := LoadSettings(cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestToIntSliceE(t *testing.T) {
	for _, tc := range []struct {
		in   interface{}
		want []int
	}{
		{in: []int{1, 2}, want: []int{1, 2}},
		{in: []interface{}{int64(11), int64(250)}, want: []int{11, 250}},
		{in: "[11,12,250]", want: []int{11, 12, 250}},
		{in: "[]", want: nil},
		{in: "", want: nil},
	} {
		got, err := toIntSliceE(tc.in)
		if err != nil {
			t.Errorf("%v: %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%v (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParseFilter(t *testing.T) {
	got, err := parseFilter([]string{"NAME = San Diego", "STATE=CA"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"NAME": "San Diego", "STATE": "CA"}, got); diff != "" {
		t.Errorf("filter (-want +got):\n%s", diff)
	}
	if _, err := parseFilter([]string{"=CA"}); err == nil {
		t.Error("empty field name should fail")
	}
}

func TestSinkFor(t *testing.T) {
	for path, want := range map[string]interface{}{
		"out.nc":         ncio.TableSink{},
		"OUT.SHP":        shpio.PointSink{},
		"a/b/out.sqlite": sqlsink.Sink{},
		"out.db":         sqlsink.Sink{},
	} {
		got, err := SinkFor(path)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			continue
		}
		if got != want {
			t.Errorf("%s: sink = %T", path, got)
		}
	}
	if _, err := SinkFor("out.parquet"); err == nil {
		t.Error("parquet should not be supported")
	}
	if _, err := checkOutputFile(""); err == nil {
		t.Error("empty output file should fail")
	}
	if _, err := checkOutputFile(filepath.Join(t.TempDir(), "missing", "out.nc")); err == nil {
		t.Error("missing output directory should fail")
	}
}
