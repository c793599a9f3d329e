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
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"go.uber.org/zap"
)

const formatVersionV1 uint32 = 1

const (
	// entryWordsV1 is the width of a version 1 entry: state, version, kind, info words.
	entryWordsV1     = 4
	entriesPerPageV1 = (WordsPerPage - HeaderWords) / entryWordsV1
)

// upgradeV1 reinterprets version 1 pages, whose entries have no gcp, into the
// current layout.
func upgradeV1(pageWords [][]uint32, entryCount uint32) (*File, error) {
	capacity := uint32(len(pageWords) * entriesPerPageV1)
	if entryCount > capacity {
		return nil, ErrSchemaFileCorrupt.GenWithStackByArgs("entry count exceeds file size")
	}
	f := NewFile(entryCount)
	for id := uint32(0); id < entryCount; id++ {
		w := pageWords[int(id)/entriesPerPageV1]
		off := HeaderWords + int(id)%entriesPerPageV1*entryWordsV1
		e, err := f.Entry(id)
		if err != nil {
			return nil, err
		}
		e.State = TableState(w[off])
		e.Version = w[off+1]
		e.Kind = ObjectKind(w[off+2])
		e.InfoWords = w[off+3]
	}
	logutil.BgLogger().Info("upgraded schema file format",
		zap.String("category", "schemafile"),
		zap.Uint32("from", formatVersionV1),
		zap.Uint32("to", FormatVersion),
		zap.Uint32("entries", entryCount),
		zap.Int("pages", f.NoOfPages()))
	return f, nil
}
