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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/harmonize"
)

// RunReport is written next to the output of a run.
type RunReport struct {
	// Config is the hash of the settings the run used.
	Config   string
	Output   string
	Started  time.Time
	Duration string

	JoinedYears  []int
	SkippedYears []int
	Rows         int
	Columns      []string
	SourceSkips  []harmonize.SourceSkip
}

// NewRunReport builds the report of a run that started at start.
func NewRunReport(s *Settings, output string, start time.Time, r *harmonize.Report) *RunReport {
	rr := &RunReport{
		Config:   s.Hash(),
		Output:   output,
		Started:  start.UTC().Truncate(time.Second),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if r != nil {
		rr.JoinedYears = r.JoinedYears
		rr.SkippedYears = r.SkippedYears
		rr.Rows = r.Rows
		rr.Columns = r.Columns
		rr.SourceSkips = r.SourceSkips
	}
	return rr
}

// Log writes the report to log.
func (r *RunReport) Log(log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{
		"joined":  r.JoinedYears,
		"skipped": r.SkippedYears,
		"rows":    r.Rows,
	}).Info("run summary")
	for _, s := range r.SourceSkips {
		log.WithFields(logrus.Fields{
			"source": s.Source, "year": s.Year, "reason": s.Reason,
		}).Info("source skipped")
	}
}

// Write writes the report as TOML to path.
func (r *RunReport) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("harmonizeutil: %v", err)
	}
	if err := toml.NewEncoder(f).Encode(r); err != nil {
		f.Close()
		return fmt.Errorf("harmonizeutil: writing report: %v", err)
	}
	return f.Close()
}

// ReadRunReport reads a report written by RunReport.Write.
func ReadRunReport(path string) (*RunReport, error) {
	r := new(RunReport)
	if _, err := toml.DecodeFile(path, r); err != nil {
		return nil, fmt.Errorf("harmonizeutil: reading report: %v", err)
	}
	return r, nil
}

// reportPath returns the report location for an output file when none is
// configured.
func reportPath(report, output string) string {
	if report == "" {
		report = strings.TrimSuffix(output, filepath.Ext(output)) + ".report.toml"
	}
	return report
}
