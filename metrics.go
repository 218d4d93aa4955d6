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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for a harmonization
// run. A nil *Metrics records nothing.
type Metrics struct {
	YearsJoined  prometheus.Counter
	YearsSkipped prometheus.Counter

	SourceSkips *prometheus.CounterVec // labels: source, reason
	Tiles       *prometheus.CounterVec // labels: outcome={merged,unreadable,no_overlap,no_data,error}

	RowsWritten      prometheus.Counter
	YearJoinDuration prometheus.Histogram
}

// NewMetrics creates the run metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		YearsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harmonize",
			Name:      "years_joined_total",
			Help:      "Years whose sources were joined into a year table.",
		}),
		YearsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harmonize",
			Name:      "years_skipped_total",
			Help:      "Years skipped because the base source had no rows.",
		}),
		SourceSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harmonize",
			Name:      "source_skips_total",
			Help:      "Sources left out of a year table, by source and reason.",
		}, []string{"source", "reason"}),
		Tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harmonize",
			Name:      "tiles_total",
			Help:      "Elevation tiles processed, by outcome.",
		}, []string{"outcome"}),
		RowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harmonize",
			Name:      "rows_written_total",
			Help:      "Rows of the final table written to a sink.",
		}),
		YearJoinDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "harmonize",
			Name:      "year_join_duration_seconds",
			Help:      "Duration of loading and joining the sources of one year.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.YearsJoined,
			m.YearsSkipped,
			m.SourceSkips,
			m.Tiles,
			m.RowsWritten,
			m.YearJoinDuration,
		)
	}
	return m
}

func (m *Metrics) yearJoined(start time.Time) {
	if m == nil {
		return
	}
	m.YearsJoined.Inc()
	m.YearJoinDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) yearSkipped() {
	if m != nil {
		m.YearsSkipped.Inc()
	}
}

func (m *Metrics) sourceSkipped(source, reason string) {
	if m != nil {
		m.SourceSkips.WithLabelValues(source, reason).Inc()
	}
}

func (m *Metrics) tile(outcome string) {
	if m != nil {
		m.Tiles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) rowsWritten(n int) {
	if m != nil {
		m.RowsWritten.Add(float64(n))
	}
}
