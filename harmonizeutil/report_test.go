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
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spatialmodel/harmonize"
)

func TestRunReport(t *testing.T) {
	s := &Settings{StartYear: 2000, EndYear: 2001, OutputFile: "out.nc"}
	r := NewRunReport(s, "out.nc", time.Date(2020, 1, 2, 3, 4, 5, 600, time.UTC), &harmonize.Report{
		JoinedYears:  []int{2000},
		SkippedYears: []int{2001},
		Rows:         12,
		Columns:      []string{"lat", "lon", "ppt"},
		SourceSkips: []harmonize.SourceSkip{
			{Source: "mtbs", Year: 2000, Reason: harmonize.SkipNoFile},
			{Source: "ndvi", Year: 2000, Reason: harmonize.SkipNoOverlap, Err: "no overlap"},
		},
	})
	path := filepath.Join(t.TempDir(), "run.report.toml")
	if err := r.Write(path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRunReport(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
	if got.Config != s.Hash() || !got.Started.Equal(time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("report = %+v", got)
	}
}

func TestRunReportFailedRun(t *testing.T) {
	r := NewRunReport(&Settings{}, "out.nc", time.Now(), nil)
	if r.Rows != 0 || r.JoinedYears != nil || r.Duration == "" {
		t.Errorf("report = %+v", r)
	}
}

func TestReportPath(t *testing.T) {
	for _, tc := range []struct{ report, output, want string }{
		{"", "data/combined.nc", "data/combined.report.toml"},
		{"", "out.sqlite", "out.report.toml"},
		{"r.toml", "out.nc", "r.toml"},
	} {
		if got := reportPath(tc.report, tc.output); got != tc.want {
			t.Errorf("reportPath(%q, %q) = %q, want %q", tc.report, tc.output, got, tc.want)
		}
	}
}
