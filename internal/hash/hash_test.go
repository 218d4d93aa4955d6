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

package hash

import (
	"bytes"
	"testing"
)

type cfg struct {
	Years   []int
	Exclude []int
}

func TestHash(t *testing.T) {
	a := Hash(cfg{Years: []int{2000, 2001}, Exclude: []int{11, 12, 250}})
	b := Hash(cfg{Years: []int{2000, 2001}, Exclude: []int{11, 12, 250}})
	c := Hash(cfg{Years: []int{2000, 2002}, Exclude: []int{11, 12, 250}})
	if a != b {
		t.Errorf("equal objects hash differently: %s != %s", a, b)
	}
	if a == c {
		t.Error("different objects hash the same")
	}
	if len(a) != 32 {
		t.Errorf("hash %q is not 128 bits", a)
	}
	// Types without exported fields cannot be gob encoded.
	if f := Hash(struct{ x int }{1}); len(f) != 32 || f == Hash(struct{ x int }{2}) {
		t.Errorf("fallback hash %q is not 128 bits", f)
	}
}

func TestDigest(t *testing.T) {
	data := []byte("lat,lon,year,month")
	d, err := DigestReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if d != Digest(data) {
		t.Errorf("reader digest %s != %s", d, Digest(data))
	}
	if Digest(data) == Digest(append(data, ',')) {
		t.Error("different data should have different digests")
	}
}
