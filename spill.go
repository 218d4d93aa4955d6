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
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
)

// SpillHandle identifies a table written to a SpillStore.
type SpillHandle struct {
	Year int
	Key  string
}

// A SpillStore holds per-year tables outside of the join working set so
// that only one year is held in memory while joining.
type SpillStore interface {
	Put(ctx context.Context, year int, t *Table) (SpillHandle, error)
	Get(ctx context.Context, h SpillHandle) (*Table, error)
	Delete(ctx context.Context, h SpillHandle) error
}

// EncodeTable writes t to w in gob format.
func EncodeTable(w io.Writer, t *Table) error {
	if err := gob.NewEncoder(w).Encode(t); err != nil {
		return fmt.Errorf("harmonize: encoding table %s: %v", t.Name, err)
	}
	return nil
}

// DecodeTable reads a table written by EncodeTable.
func DecodeTable(r io.Reader) (*Table, error) {
	t := new(Table)
	if err := gob.NewDecoder(r).Decode(t); err != nil {
		return nil, fmt.Errorf("harmonize: decoding table: %v", err)
	}
	if t.Values == nil {
		t.Values = make(map[string][]float64)
	}
	for _, c := range t.Columns {
		// gob drops empty slices.
		if t.Values[c] == nil {
			t.Values[c] = []float64{}
		}
	}
	return t, nil
}

// MemSpill is an in-process SpillStore holding encoded copies of tables.
type MemSpill struct {
	mu   sync.Mutex
	data map[string][]byte
	seq  int
}

// NewMemSpill returns an empty MemSpill.
func NewMemSpill() *MemSpill {
	return &MemSpill{data: make(map[string][]byte)}
}

// Put implements SpillStore.
func (m *MemSpill) Put(_ context.Context, year int, t *Table) (SpillHandle, error) {
	var buf bytes.Buffer
	if err := EncodeTable(&buf, t); err != nil {
		return SpillHandle{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	h := SpillHandle{Year: year, Key: fmt.Sprintf("%d-%d", year, m.seq)}
	m.data[h.Key] = buf.Bytes()
	return h, nil
}

// Get implements SpillStore.
func (m *MemSpill) Get(_ context.Context, h SpillHandle) (*Table, error) {
	m.mu.Lock()
	b, ok := m.data[h.Key]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("harmonize: spilled table %s not found", h.Key)
	}
	return DecodeTable(bytes.NewReader(b))
}

// Delete implements SpillStore. Deleting a missing handle is not an error.
func (m *MemSpill) Delete(_ context.Context, h SpillHandle) error {
	m.mu.Lock()
	delete(m.data, h.Key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tables held.
func (m *MemSpill) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
