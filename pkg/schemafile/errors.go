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
	"github.com/pingcap/schemadict/pkg/terror"
)

// Schema file error codes.
const (
	codeIndexOutOfRange   terror.ErrCode = 1
	codeObjectsStillLive  terror.ErrCode = 2
	codeSchemaFileCorrupt terror.ErrCode = 3
	codeUnsupportedFormat terror.ErrCode = 4
	codeSchemaFileMissing terror.ErrCode = 5
)

var (
	// ErrIndexOutOfRange is returned when an object id is beyond the file capacity.
	ErrIndexOutOfRange = terror.ClassSchemaFile.New(codeIndexOutOfRange, "object id out of schema file range")
	// ErrObjectsStillLive is returned when a shrink would drop existing objects.
	ErrObjectsStillLive = terror.ClassSchemaFile.New(codeObjectsStillLive, "objects still live beyond new size")
	// ErrSchemaFileCorrupt means no replica of a schema file copy could be read.
	// It is fatal: the dictionary must not continue with unknown durable state.
	ErrSchemaFileCorrupt = terror.ClassSchemaFile.New(codeSchemaFileCorrupt, "schema file corrupted in all replicas")
	// ErrUnsupportedFormat is returned for a format version that can not be upgraded.
	ErrUnsupportedFormat = terror.ClassSchemaFile.New(codeUnsupportedFormat, "unsupported schema file format")
	// ErrSchemaFileMissing means no replica of a schema file copy exists.
	ErrSchemaFileMissing = terror.ClassSchemaFile.New(codeSchemaFileMissing, "schema file does not exist")
)
