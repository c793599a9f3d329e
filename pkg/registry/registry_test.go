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

package registry

import (
	"testing"

	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/stretchr/testify/require"
)

func TestAllocateID(t *testing.T) {
	r := New(4, 100)
	id, err := r.AllocateID(2)
	require.NoError(t, err)
	require.Equal(t, ObjectID(2), id)
	// Taken hint falls back to the lowest free id.
	id, err = r.AllocateID(2)
	require.NoError(t, err)
	require.Equal(t, ObjectID(0), id)
	id, err = r.AllocateID(NoHint)
	require.NoError(t, err)
	require.Equal(t, ObjectID(1), id)
	id, err = r.AllocateID(NoHint)
	require.NoError(t, err)
	require.Equal(t, ObjectID(3), id)

	_, err = r.AllocateID(NoHint)
	require.True(t, ErrNoMoreObjectRecords.Equal(err))

	require.NoError(t, r.Release(1))
	require.False(t, r.IsAllocated(1))
	id, err = r.AllocateID(NoHint)
	require.NoError(t, err)
	require.Equal(t, ObjectID(1), id)
}

func TestInsertGetRelease(t *testing.T) {
	r := New(16, 100)
	h, err := r.Insert(Record{ID: 7, Kind: schemafile.KindUserTable, Version: 1, Name: "t1", Parent: NoParent})
	require.NoError(t, err)
	require.True(t, r.IsAllocated(7))

	rec, err := r.Get(schemafile.KindUserTable, 7)
	require.NoError(t, err)
	require.Equal(t, uint32(1), rec.Version)
	_, err = r.Get(schemafile.KindOrderedIndex, 7)
	require.True(t, ErrInvalidObjectID.Equal(err))
	_, err = r.Get(schemafile.KindUserTable, 8)
	require.True(t, ErrInvalidObjectID.Equal(err))

	_, err = r.Insert(Record{ID: 7, Kind: schemafile.KindUserTable, Parent: NoParent})
	require.True(t, ErrObjectExists.Equal(err))
	_, err = r.Insert(Record{ID: 8, Kind: schemafile.KindUserTable, Name: "t1", Parent: NoParent})
	require.True(t, ErrObjectExists.Equal(err))
	_, err = r.Insert(Record{ID: 16, Kind: schemafile.KindUserTable, Parent: NoParent})
	require.True(t, ErrInvalidObjectID.Equal(err))

	id, ok := r.FindByName("t1")
	require.True(t, ok)
	require.Equal(t, ObjectID(7), id)

	require.NoError(t, r.Release(7))
	_, ok = r.Resolve(h)
	require.False(t, ok)
	_, ok = r.FindByName("t1")
	require.False(t, ok)

	// The slot is reused but the stale handle stays dead.
	h2, err := r.Insert(Record{ID: 9, Kind: schemafile.KindUserTable, Name: "t2", Parent: NoParent})
	require.NoError(t, err)
	require.Equal(t, h.index, h2.index)
	_, ok = r.Resolve(h)
	require.False(t, ok)
	rec, ok = r.Resolve(h2)
	require.True(t, ok)
	require.Equal(t, "t2", rec.Name)
}

func TestReferences(t *testing.T) {
	r := New(16, 100)
	_, err := r.Insert(Record{ID: 1, Kind: schemafile.KindLogfileGroup, Name: "lg", Parent: NoParent})
	require.NoError(t, err)
	_, err = r.Insert(Record{ID: 2, Kind: schemafile.KindTablespace, Name: "ts", Parent: 1})
	require.NoError(t, err)
	_, err = r.Insert(Record{ID: 3, Kind: schemafile.KindUndofile, Name: "undo", Parent: 1})
	require.NoError(t, err)
	_, err = r.Insert(Record{ID: 4, Kind: schemafile.KindDatafile, Parent: 9})
	require.True(t, ErrInvalidObjectID.Equal(err))

	lg, _ := r.Lookup(1)
	require.Equal(t, 2, lg.Refs())
	require.True(t, ErrObjectInUse.Equal(r.Release(1)))
	require.NoError(t, r.Release(2))
	require.NoError(t, r.Release(3))
	require.Equal(t, 0, lg.Refs())
	require.NoError(t, r.Release(1))
	require.Equal(t, 0, r.Len())
}

func TestStringBuffer(t *testing.T) {
	r := New(16, 6)
	_, err := r.Insert(Record{ID: 1, Kind: schemafile.KindUserTable, Name: "abcd", Parent: NoParent})
	require.NoError(t, err)
	_, err = r.Insert(Record{ID: 2, Kind: schemafile.KindUserTable, Name: "efg", Parent: NoParent})
	require.True(t, ErrOutOfStringBuffer.Equal(err))
	require.NoError(t, r.Release(1))
	_, err = r.Insert(Record{ID: 2, Kind: schemafile.KindUserTable, Name: "efg", Parent: NoParent})
	require.NoError(t, err)

	var names []string
	_, err = r.Insert(Record{ID: 3, Kind: schemafile.KindUserTable, Name: "a", Parent: NoParent})
	require.NoError(t, err)
	r.Ascend(func(rec *Record) bool {
		names = append(names, rec.Name)
		return true
	})
	require.Equal(t, []string{"a", "efg"}, names)
}
