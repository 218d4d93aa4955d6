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

package cloud

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/harmonize"
	"github.com/spatialmodel/harmonize/internal/hash"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const digestKey = "digest"

// BlobSpill is a harmonize.SpillStore that keeps spilled year tables in a
// blob storage bucket. Each BlobSpill writes under its own run prefix so
// that concurrent runs sharing a bucket do not collide.
type BlobSpill struct {
	bucket *blob.Bucket
	prefix string

	// MaxRetries is the number of times a failed write is retried.
	MaxRetries uint64
	Log        logrus.FieldLogger
}

// NewBlobSpill opens the bucket at bucketURL (see OpenBucket) and returns a
// BlobSpill writing under a new run prefix.
func NewBlobSpill(ctx context.Context, bucketURL string) (*BlobSpill, error) {
	b, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBlobSpillBucket(b), nil
}

// NewBlobSpillBucket returns a BlobSpill writing to b under a new run prefix.
func NewBlobSpillBucket(b *blob.Bucket) *BlobSpill {
	return &BlobSpill{
		bucket:     b,
		prefix:     "harmonize-spill/" + uuid.NewString() + "/",
		MaxRetries: 5,
		Log:        logrus.StandardLogger(),
	}
}

// Prefix returns the key prefix of the blobs written by s.
func (s *BlobSpill) Prefix() string { return s.prefix }

func (s *BlobSpill) key(year int) string {
	return fmt.Sprintf("%s%d.gob", s.prefix, year)
}

// Put implements harmonize.SpillStore.
func (s *BlobSpill) Put(ctx context.Context, year int, t *harmonize.Table) (harmonize.SpillHandle, error) {
	var buf bytes.Buffer
	if err := harmonize.EncodeTable(&buf, t); err != nil {
		return harmonize.SpillHandle{}, err
	}
	data := buf.Bytes()
	h := harmonize.SpillHandle{Year: year, Key: s.key(year)}
	opts := &blob.WriterOptions{
		ContentType: "application/octet-stream",
		Metadata: map[string]string{
			digestKey: hash.Digest(data),
			"year":    strconv.Itoa(year),
			"rows":    strconv.Itoa(t.Len()),
		},
	}
	err := backoff.RetryNotify(
		func() error {
			return writeBlob(ctx, s.bucket, h.Key, data, opts)
		},
		backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.MaxRetries), ctx),
		func(err error, d time.Duration) {
			s.Log.WithField("key", h.Key).WithError(err).Warnf("retrying spill write in %v", d)
		},
	)
	if err != nil {
		return harmonize.SpillHandle{}, err
	}
	return h, nil
}

// Get implements harmonize.SpillStore. The content digest stored when the
// table was written is verified before decoding.
func (s *BlobSpill) Get(ctx context.Context, h harmonize.SpillHandle) (*harmonize.Table, error) {
	attrs, err := s.bucket.Attributes(ctx, h.Key)
	if err != nil {
		return nil, fmt.Errorf("cloud: reading attributes of %s: %v", h.Key, err)
	}
	data, err := readBlob(ctx, s.bucket, h.Key)
	if err != nil {
		return nil, err
	}
	if want, got := attrs.Metadata[digestKey], hash.Digest(data); want != got {
		return nil, fmt.Errorf("cloud: spilled table %s is corrupt: digest %s, want %s", h.Key, got, want)
	}
	return harmonize.DecodeTable(bytes.NewReader(data))
}

// Delete implements harmonize.SpillStore. Deleting a missing blob is not
// an error.
func (s *BlobSpill) Delete(ctx context.Context, h harmonize.SpillHandle) error {
	if err := s.bucket.Delete(ctx, h.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("cloud: deleting blob %s: %v", h.Key, err)
	}
	return nil
}

// Clear deletes every blob under the run prefix of s.
func (s *BlobSpill) Clear(ctx context.Context) error {
	return deleteBlobDir(ctx, s.bucket, s.prefix)
}

// Close closes the underlying bucket.
func (s *BlobSpill) Close() error { return s.bucket.Close() }
