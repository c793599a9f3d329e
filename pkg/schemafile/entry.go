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
)

// TableState is the persisted lifecycle state of a dictionary object.
type TableState uint32

// Table states. The numeric values are part of the file format.
const (
	Init                    TableState = 0
	AddStarted              TableState = 1
	TableAddCommitted       TableState = 2
	DropTableStarted        TableState = 3
	DropTableCommitted      TableState = 4
	AlterTableCommitted     TableState = 5
	TemporaryTableCommitted TableState = 7
)

// String implements fmt.Stringer interface.
func (s TableState) String() string {
	switch s {
	case Init:
		return "init"
	case AddStarted:
		return "add started"
	case TableAddCommitted:
		return "add committed"
	case DropTableStarted:
		return "drop started"
	case DropTableCommitted:
		return "drop committed"
	case AlterTableCommitted:
		return "alter committed"
	case TemporaryTableCommitted:
		return "temporary committed"
	}
	return fmt.Sprintf("unknown(%d)", uint32(s))
}

// Exists reports whether an object in this state exists.
func (s TableState) Exists() bool {
	return s != Init && s != DropTableCommitted
}

// Committed reports whether the state is the final state of a successful add or alter.
func (s TableState) Committed() bool {
	return s == TableAddCommitted || s == AlterTableCommitted || s == TemporaryTableCommitted
}

// Incomplete reports whether the state belongs to an add or drop that never finished.
func (s TableState) Incomplete() bool {
	return s == AddStarted || s == DropTableStarted
}

// ObjectKind is the type of a dictionary object.
type ObjectKind uint32

// Object kinds. The numeric values are part of the file format.
const (
	KindUndefined          ObjectKind = 0
	KindSystemTable        ObjectKind = 1
	KindUserTable          ObjectKind = 2
	KindUniqueHashIndex    ObjectKind = 3
	KindHashIndex          ObjectKind = 4
	KindUniqueOrderedIndex ObjectKind = 5
	KindOrderedIndex       ObjectKind = 6
	KindTablespace         ObjectKind = 20
	KindLogfileGroup       ObjectKind = 21
	KindDatafile           ObjectKind = 22
	KindUndofile           ObjectKind = 23
)

// String implements fmt.Stringer interface.
func (k ObjectKind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindSystemTable:
		return "system table"
	case KindUserTable:
		return "user table"
	case KindUniqueHashIndex:
		return "unique hash index"
	case KindHashIndex:
		return "hash index"
	case KindUniqueOrderedIndex:
		return "unique ordered index"
	case KindOrderedIndex:
		return "ordered index"
	case KindTablespace:
		return "tablespace"
	case KindLogfileGroup:
		return "logfile group"
	case KindDatafile:
		return "datafile"
	case KindUndofile:
		return "undofile"
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// IsTable reports whether k is a base table.
func (k ObjectKind) IsTable() bool {
	return k == KindSystemTable || k == KindUserTable
}

// IsIndex reports whether k is an index. Indexes are stored as tables.
func (k ObjectKind) IsIndex() bool {
	return k >= KindUniqueHashIndex && k <= KindOrderedIndex
}

// IsFilegroup reports whether k is a tablespace or a logfile group.
func (k ObjectKind) IsFilegroup() bool {
	return k == KindTablespace || k == KindLogfileGroup
}

// IsFile reports whether k is a data or undo file.
func (k ObjectKind) IsFile() bool {
	return k == KindDatafile || k == KindUndofile
}

// Entry is the persisted metadata of one object id.
type Entry struct {
	State     TableState
	Version   uint32
	Kind      ObjectKind
	InfoWords uint32
	GCP       uint32

	// parent is the id of the referenced object plus one, zero when there is none.
	parent   uint32
	reserved [2]uint32
}

// Parent returns the object e holds a reference on.
func (e Entry) Parent() (uint32, bool) {
	if e.parent == 0 {
		return 0, false
	}
	return e.parent - 1, true
}

// WithParent returns e referencing the object id.
func (e Entry) WithParent(id uint32) Entry {
	e.parent = id + 1
	return e
}

// Exists reports whether the entry describes an existing object.
func (e Entry) Exists() bool {
	return e.State.Exists()
}

// SameObject reports whether e and o describe the same incarnation of an object.
func (e Entry) SameObject(o Entry) bool {
	return e.State == o.State && e.Version == o.Version && e.Kind == o.Kind
}

// String implements fmt.Stringer interface.
func (e Entry) String() string {
	if parent, ok := e.Parent(); ok {
		return fmt.Sprintf("{state: %s, version: %d, kind: %s, gcp: %d, words: %d, parent: %d}",
			e.State, e.Version, e.Kind, e.GCP, e.InfoWords, parent)
	}
	return fmt.Sprintf("{state: %s, version: %d, kind: %s, gcp: %d, words: %d}",
		e.State, e.Version, e.Kind, e.GCP, e.InfoWords)
}
