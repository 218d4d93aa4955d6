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
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Month identifies one calendar month.
type Month struct {
	Year, Month int
}

// Layout says where the input files of each source are kept.
type Layout struct {
	PRISMDir  string
	PRISMVars []string
	MTBSDir   string
	NDVIDir   string
	NLCDDir   string
	DEMFile   string
}

// Inputs holds the files found for each source, keyed by the period they
// cover.
type Inputs struct {
	// PRISM maps a month to the file of each PRISM variable.
	PRISM map[Month]map[string]string
	MTBS  map[Month]string
	// NDVI composites are produced more than once a month.
	NDVI map[Month][]string
	NLCD map[int]string
	DEM  string
}

var (
	mtbsPattern = regexp.MustCompile(`_(?:mtbs|mbts)_800m_(\d{4})(\d{2})\.nc$`)
	ndviPattern = regexp.MustCompile(`_ndvi_800m_(\d{4})-(\d{2})-(\d{2})\.nc$`)
	nlcdPattern = regexp.MustCompile(`^Annual_NLCD_LndCov_(\d{4})_.*_800m\.nc$`)
)

func prismPattern(v string) *regexp.Regexp {
	return regexp.MustCompile(`_prism_` + regexp.QuoteMeta(v) + `_us_30s_(\d{4})(\d{2})\.nc$`)
}

func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

// Discover finds the input files described by l whose year lies in
// [startYear, endYear]. Missing source directories are logged and leave
// the source without files.
func Discover(l Layout, startYear, endYear int, log logrus.FieldLogger) (*Inputs, error) {
	if endYear < startYear {
		return nil, fmt.Errorf("harmonizeutil: end year %d is before start year %d", endYear, startYear)
	}
	in := &Inputs{
		PRISM: make(map[Month]map[string]string),
		MTBS:  make(map[Month]string),
		NDVI:  make(map[Month][]string),
		NLCD:  make(map[int]string),
		DEM:   l.DEMFile,
	}
	inRange := func(y int) bool { return y >= startYear && y <= endYear }

	for _, v := range l.PRISMVars {
		re := prismPattern(v)
		files, err := listDir(filepath.Join(l.PRISMDir, v), log)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			m := re.FindStringSubmatch(filepath.Base(f))
			if m == nil || !inRange(atoi(m[1])) {
				continue
			}
			k := Month{atoi(m[1]), atoi(m[2])}
			if in.PRISM[k] == nil {
				in.PRISM[k] = make(map[string]string)
			}
			in.PRISM[k][v] = f
		}
	}

	files, err := listDir(l.MTBSDir, log)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		m := mtbsPattern.FindStringSubmatch(filepath.Base(f))
		if m == nil || !inRange(atoi(m[1])) {
			continue
		}
		k := Month{atoi(m[1]), atoi(m[2])}
		if prev, ok := in.MTBS[k]; ok {
			log.WithFields(logrus.Fields{"file": f, "kept": prev}).Warn("duplicate MTBS month")
			continue
		}
		in.MTBS[k] = f
	}

	if files, err = listDir(l.NDVIDir, log); err != nil {
		return nil, err
	}
	for _, f := range files {
		m := ndviPattern.FindStringSubmatch(filepath.Base(f))
		if m == nil || !inRange(atoi(m[1])) {
			continue
		}
		k := Month{atoi(m[1]), atoi(m[2])}
		in.NDVI[k] = append(in.NDVI[k], f)
	}

	if l.NLCDDir != "" {
		err := filepath.WalkDir(l.NLCDDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == l.NLCDDir {
					log.WithField("dir", path).Warn("land cover directory does not exist")
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			m := nlcdPattern.FindStringSubmatch(d.Name())
			if m == nil || !inRange(atoi(m[1])) {
				return nil
			}
			y := atoi(m[1])
			if prev, ok := in.NLCD[y]; !ok || path < prev {
				in.NLCD[y] = path
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("harmonizeutil: searching %s: %v", l.NLCDDir, err)
		}
	}
	return in, nil
}

// listDir returns the sorted paths of the regular files in dir.
func listDir(dir string, log logrus.FieldLogger) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("dir", dir).Warn("input directory does not exist")
			return nil, nil
		}
		return nil, fmt.Errorf("harmonizeutil: %v", err)
	}
	var o []string
	for _, e := range entries {
		if !e.IsDir() {
			o = append(o, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(o)
	return o, nil
}

// PRISMMonths returns, in order, the months of year for which every one of
// vars has a file.
func (in *Inputs) PRISMMonths(year int, vars []string) []Month {
	var o []Month
	for k, files := range in.PRISM {
		if k.Year != year || !complete(files, vars) {
			continue
		}
		o = append(o, k)
	}
	sortMonths(o)
	return o
}

func complete(files map[string]string, vars []string) bool {
	for _, v := range vars {
		if _, ok := files[v]; !ok {
			return false
		}
	}
	return true
}

// FirstPRISM returns the file of the first variable in the earliest
// complete PRISM month, or "" if there is none.
func (in *Inputs) FirstPRISM(vars []string) string {
	var months []Month
	for k, files := range in.PRISM {
		if complete(files, vars) {
			months = append(months, k)
		}
	}
	if len(months) == 0 || len(vars) == 0 {
		return ""
	}
	sortMonths(months)
	return in.PRISM[months[0]][vars[0]]
}

// Months returns the months of year present in files, in order.
func Months[T any](files map[Month]T, year int) []Month {
	var o []Month
	for k := range files {
		if k.Year == year {
			o = append(o, k)
		}
	}
	sortMonths(o)
	return o
}

func sortMonths(m []Month) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Year != m[j].Year {
			return m[i].Year < m[j].Year
		}
		return m[i].Month < m[j].Month
	})
}

// Years returns every year from start to end inclusive.
func Years(start, end int) []int {
	var o []int
	for y := start; y <= end; y++ {
		o = append(o, y)
	}
	return o
}
