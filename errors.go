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
	"fmt"
	"strings"
)

// MissingInputError is returned when a required input, such as the
// static elevation surface or the boundary polygon, is absent.
// It aborts the whole run.
type MissingInputError struct {
	Input string
	Err   error
}

func (e *MissingInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("harmonize: required input %s is missing: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("harmonize: required input %s is missing", e.Input)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// AlignmentError is returned when a source grid does not intersect the
// target region at all. The source is skipped for the affected year.
type AlignmentError struct {
	Source string
	Reason string
}

func (e *AlignmentError) Error() string {
	if e.Source == "" {
		return "harmonize: alignment: " + e.Reason
	}
	return fmt.Sprintf("harmonize: aligning %s: %s", e.Source, e.Reason)
}

// EmptyResultError is returned when an aggregation produces no valid
// cells. The source is skipped for the affected year.
type EmptyResultError struct {
	Source string
}

func (e *EmptyResultError) Error() string {
	if e.Source == "" {
		return "harmonize: aggregation produced no valid cells"
	}
	return fmt.Sprintf("harmonize: aggregation of %s produced no valid cells", e.Source)
}

// SchemaValidationError is returned when the final table lacks required
// columns. Nothing is written when it occurs.
type SchemaValidationError struct {
	Missing []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("harmonize: final table is missing required columns: %s",
		strings.Join(e.Missing, ", "))
}

// KeyMismatchError is returned when the join keys declared by a source
// cannot be joined against the base source without aggregating or
// multiplying rows.
type KeyMismatchError struct {
	Source string
	Reason string
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("harmonize: join keys of %s: %s", e.Source, e.Reason)
}
