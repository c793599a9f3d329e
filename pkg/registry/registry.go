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
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/btree"
	"github.com/pingcap/schemadict/pkg/schemafile"
)

// ObjectID is a dictionary object id. It indexes the schema file.
type ObjectID = uint32

// NoHint asks AllocateID for any free id.
const NoHint ObjectID = ^ObjectID(0)

// NoParent marks a record that holds no reference on another object.
const NoParent ObjectID = ^ObjectID(0)

// Record is the in-memory description of one object.
type Record struct {
	ID      ObjectID
	Kind    schemafile.ObjectKind
	Version uint32
	Name    string
	// Parent is the object this one holds a reference on, or NoParent.
	Parent ObjectID

	refs int
}

// Refs returns the number of objects referencing r.
func (r *Record) Refs() int {
	return r.refs
}

// String implements fmt.Stringer interface.
func (r *Record) String() string {
	return fmt.Sprintf("{id: %d, kind: %s, version: %d, name: %q, refs: %d}", r.ID, r.Kind, r.Version, r.Name, r.refs)
}

// Handle is a generation-checked reference to a slot. A handle to a released record
// never resolves, even after its slot is reused.
type Handle struct {
	index uint32
	gen   uint32
}

type slot struct {
	gen  uint32
	live bool
	rec  Record
}

type nameItem struct {
	name string
	id   ObjectID
}

func lessName(a, b nameItem) bool {
	return a.name < b.name
}

// Registry maps object ids to records. Records live in a slot arena; ids and names
// are indexes into it. It is not safe for concurrent use.
type Registry struct {
	slots []slot
	free  []uint32
	byID  map[ObjectID]Handle
	names *btree.BTreeG[nameItem]

	// used has a bit per allocated or inserted object id.
	used       *bitset.BitSet
	maxObjects uint32

	stringBufSize int
	stringUsed    int
}

// New creates a registry for ids below maxObjects whose names share stringBufSize bytes.
func New(maxObjects uint32, stringBufSize int) *Registry {
	return &Registry{
		byID:          make(map[ObjectID]Handle),
		names:         btree.NewG(8, lessName),
		used:          bitset.New(uint(maxObjects)),
		maxObjects:    maxObjects,
		stringBufSize: stringBufSize,
	}
}

// MaxObjects returns the size of the id space.
func (r *Registry) MaxObjects() uint32 {
	return r.maxObjects
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return len(r.byID)
}

// AllocateID reserves an object id. The hint is used when it is free, otherwise the
// lowest free id is returned.
func (r *Registry) AllocateID(hint ObjectID) (ObjectID, error) {
	if hint < r.maxObjects && !r.used.Test(uint(hint)) {
		r.used.Set(uint(hint))
		return hint, nil
	}
	id, ok := r.used.NextClear(0)
	if !ok || id >= uint(r.maxObjects) {
		return 0, ErrNoMoreObjectRecords.GenWithStackByArgs(r.maxObjects)
	}
	r.used.Set(id)
	return ObjectID(id), nil
}

// IsAllocated reports whether id is reserved or has a record.
func (r *Registry) IsAllocated(id ObjectID) bool {
	return id < r.maxObjects && r.used.Test(uint(id))
}

// Insert adds rec. The id may have been reserved by AllocateID before.
func (r *Registry) Insert(rec Record) (Handle, error) {
	if rec.ID >= r.maxObjects {
		return Handle{}, ErrInvalidObjectID.GenWithStackByArgs(rec.ID)
	}
	if _, ok := r.byID[rec.ID]; ok {
		return Handle{}, ErrObjectExists.GenWithStackByArgs("id ", rec.ID)
	}
	if rec.Name != "" {
		if r.names.Has(nameItem{name: rec.Name}) {
			return Handle{}, ErrObjectExists.GenWithStackByArgs("name ", rec.Name)
		}
		if r.stringUsed+len(rec.Name) > r.stringBufSize {
			return Handle{}, ErrOutOfStringBuffer.GenWithStackByArgs(rec.Name)
		}
	}
	if rec.Parent != NoParent {
		parent, ok := r.lookupID(rec.Parent)
		if !ok {
			return Handle{}, ErrInvalidObjectID.GenWithStackByArgs("parent ", rec.Parent)
		}
		parent.refs++
	}

	rec.refs = 0
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}
	s := &r.slots[idx]
	s.live = true
	s.rec = rec
	h := Handle{index: idx, gen: s.gen}

	r.byID[rec.ID] = h
	r.used.Set(uint(rec.ID))
	if rec.Name != "" {
		r.names.ReplaceOrInsert(nameItem{name: rec.Name, id: rec.ID})
		r.stringUsed += len(rec.Name)
	}
	return h, nil
}

// Resolve returns the record of h, or false if it was released.
func (r *Registry) Resolve(h Handle) (*Record, bool) {
	if int(h.index) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return &s.rec, true
}

func (r *Registry) lookupID(id ObjectID) (*Record, bool) {
	h, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.Resolve(h)
}

// Get returns the record of id. It fails if there is none or it has another kind.
func (r *Registry) Get(kind schemafile.ObjectKind, id ObjectID) (*Record, error) {
	rec, ok := r.lookupID(id)
	if !ok || rec.Kind != kind {
		return nil, ErrInvalidObjectID.GenWithStackByArgs(id)
	}
	return rec, nil
}

// Lookup returns the record of id regardless of its kind.
func (r *Registry) Lookup(id ObjectID) (*Record, bool) {
	return r.lookupID(id)
}

// FindByName returns the id of the object called name.
func (r *Registry) FindByName(name string) (ObjectID, bool) {
	item, ok := r.names.Get(nameItem{name: name})
	return item.id, ok
}

// Release drops the record of id, if any, and frees the id. The reference held on the
// parent is dropped too. Releasing an object that is still referenced fails with
// ErrObjectInUse.
func (r *Registry) Release(id ObjectID) error {
	h, ok := r.byID[id]
	if !ok {
		if id < r.maxObjects {
			r.used.Clear(uint(id))
		}
		return nil
	}
	s := &r.slots[h.index]
	if s.rec.refs > 0 {
		return ErrObjectInUse.GenWithStackByArgs(id)
	}
	if s.rec.Parent != NoParent {
		if parent, ok := r.lookupID(s.rec.Parent); ok {
			parent.refs--
		}
	}
	if s.rec.Name != "" {
		r.names.Delete(nameItem{name: s.rec.Name})
		r.stringUsed -= len(s.rec.Name)
	}
	delete(r.byID, id)
	r.used.Clear(uint(id))
	s.live = false
	s.gen++
	s.rec = Record{}
	r.free = append(r.free, h.index)
	return nil
}

// Ascend calls fn for every named record in name order until fn returns false.
func (r *Registry) Ascend(fn func(rec *Record) bool) {
	r.names.Ascend(func(item nameItem) bool {
		rec, ok := r.lookupID(item.id)
		if !ok {
			return true
		}
		return fn(rec)
	})
}
