// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schemafile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/schemadict/pkg/metrics"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CopyID names one of the two logical copies kept by a Store.
type CopyID int

const (
	// Current is the copy the dictionary runs on.
	Current CopyID = iota
	// Old is the alternate copy. During restart it holds the locally persisted image.
	Old
)

// NoOfReplicas is the number of physically separate files per logical copy.
const NoOfReplicas = 2

// String implements fmt.Stringer interface.
func (c CopyID) String() string {
	switch c {
	case Current:
		return "current"
	case Old:
		return "old"
	}
	return strconv.Itoa(int(c))
}

// ReplicaPath returns the path of one replica of one copy under dir.
func ReplicaPath(dir string, c CopyID, replica int) string {
	return filepath.Join(dir, fmt.Sprintf("D%d", replica+1), "DICT", fmt.Sprintf("P%d.SchemaFile", int(c)))
}

// Store owns the two in-memory copies of the schema file and their four replica files.
// It is not safe for concurrent use; the dictionary worker is its only user.
type Store struct {
	fs    afero.Fs
	dir   string
	files [2]*File
}

// NewStore creates a store persisting under dir on fs. Both copies start empty with
// one page.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:    fs,
		dir:   dir,
		files: [2]*File{NewFile(0), NewFile(0)},
	}
}

// Dir returns the data directory of s.
func (s *Store) Dir() string {
	return s.dir
}

// File returns copy c.
func (s *Store) File(c CopyID) *File {
	return s.files[c]
}

// SetFile replaces copy c in memory. Nothing is written.
func (s *Store) SetFile(c CopyID, f *File) {
	s.files[c] = f
}

// Entry returns the entry of id in the current copy.
func (s *Store) Entry(id uint32) (*Entry, error) {
	return s.files[Current].Entry(id)
}

// Resize resizes the current copy.
func (s *Store) Resize(entryCount uint32) error {
	return s.files[Current].Resize(entryCount)
}

// Init creates both copies with entryCount entries and writes all four files.
func (s *Store) Init(entryCount uint32) error {
	s.files[Current] = NewFile(entryCount)
	s.files[Old] = NewFile(entryCount)
	if err := s.PersistAll(Current); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.PersistAll(Old))
}

// Persist writes count pages of copy c starting at first to both replicas, one after
// the other, and then calls cb with the outcome.
func (s *Store) Persist(c CopyID, first, count int, cb func(error)) {
	cb(s.persist(c, first, count))
}

// PersistAll writes every page of copy c to both replicas.
func (s *Store) PersistAll(c CopyID) error {
	return s.persist(c, 0, s.files[c].NoOfPages())
}

func (s *Store) persist(c CopyID, first, count int) error {
	f := s.files[c]
	if first < 0 || count < 0 || first+count > f.NoOfPages() {
		return errors.Errorf("page range [%d, %d) out of %d pages", first, first+count, f.NoOfPages())
	}
	buf := f.EncodePages(first, count)
	for r := 0; r < NoOfReplicas; r++ {
		err := s.writeReplica(f, ReplicaPath(s.dir, c, r), first, buf)
		metrics.SchemaFileWriteCounter.WithLabelValues(strconv.Itoa(r), metrics.RetLabel(err)).Inc()
		if err != nil {
			return errors.Annotatef(err, "write replica %d of %s schema file", r, c)
		}
	}
	return nil
}

func (s *Store) writeReplica(f *File, path string, first int, buf []byte) (err error) {
	failpoint.Inject("mockReplicaWriteError", func(val failpoint.Value) {
		if val.(string) == path {
			failpoint.Return(errors.New("mock replica write error"))
		}
	})
	if err = s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Trace(err)
	}
	fh, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		err = multierr.Append(err, errors.Trace(fh.Close()))
	}()

	size := int64(f.NoOfPages() * PageSize)
	fi, err := fh.Stat()
	if err != nil {
		return errors.Trace(err)
	}
	off := int64(first * PageSize)
	if fi.Size() != size && (first != 0 || len(buf) != int(size)) {
		// The replica has a different geometry, rewrite it as a whole.
		off, buf = 0, f.Encode()
	}
	if _, err = fh.WriteAt(buf, off); err != nil {
		return errors.Trace(err)
	}
	if err = fh.Truncate(size); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(fh.Sync())
}

// Load reads copy c from disk. Replica 0 is read first; when it is missing, unreadable
// or fails validation replica 1 is used and both replicas are rewritten from it. An
// image in an older format is upgraded and rewritten. ErrSchemaFileMissing is returned
// if no replica exists and ErrSchemaFileCorrupt if none is valid.
func (s *Store) Load(c CopyID) error {
	logger := logutil.BgLogger().With(zap.String("category", "schemafile"), zap.Stringer("copy", c))
	var lastErr error
	missing := 0
	for r := 0; r < NoOfReplicas; r++ {
		path := ReplicaPath(s.dir, c, r)
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				missing++
			}
			logger.Warn("read schema file replica failed", zap.String("path", path), zap.Error(err))
			lastErr = err
			continue
		}
		f, upgraded, err := DecodeFile(data)
		if err != nil {
			logger.Warn("schema file replica is invalid", zap.String("path", path), zap.Error(err))
			lastErr = err
			continue
		}
		s.files[c] = f
		if r > 0 {
			metrics.SchemaFileReadFallbackCounter.Inc()
		}
		if upgraded || r > 0 {
			logger.Info("rewrite schema file replicas", zap.Int("source replica", r), zap.Bool("upgraded", upgraded))
			if err := s.PersistAll(c); err != nil {
				return errors.Trace(err)
			}
		}
		return nil
	}
	if missing == NoOfReplicas {
		return ErrSchemaFileMissing.GenWithStackByArgs(s.dir)
	}
	return ErrSchemaFileCorrupt.GenWithStackByArgs(lastErr)
}

// Merge makes the old copy identical to the current one and writes all four files.
func (s *Store) Merge() error {
	s.files[Old] = s.files[Current].Clone()
	if err := s.PersistAll(Current); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.PersistAll(Old))
}
