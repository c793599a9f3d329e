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

package ddl

import (
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
)

// parentRule returns whether a parent of kind parent may be referenced by an object
// of kind k, and whether k requires one.
func parentRule(k schemafile.ObjectKind) (allowed func(parent schemafile.ObjectKind) bool, required bool) {
	switch {
	case k.IsIndex():
		return schemafile.ObjectKind.IsTable, false
	case k == schemafile.KindTablespace, k == schemafile.KindUndofile:
		return func(p schemafile.ObjectKind) bool { return p == schemafile.KindLogfileGroup }, true
	case k == schemafile.KindDatafile:
		return func(p schemafile.ObjectKind) bool { return p == schemafile.KindTablespace }, true
	}
	return nil, false
}

func checkParent(ctx OpContext, req *OpRequest) error {
	allowed, required := parentRule(req.Kind)
	if req.Parent == registry.NoParent {
		if required {
			return ErrInvalidOpRequest.GenWithStackByArgs(req.Kind, " requires a parent")
		}
		return nil
	}
	if allowed == nil {
		return ErrInvalidOpRequest.GenWithStackByArgs(req.Kind, " takes no parent")
	}
	parent, ok := ctx.Registry().Lookup(req.Parent)
	if !ok {
		return ErrInvalidObjectID.GenWithStackByArgs("parent ", req.Parent)
	}
	if !allowed(parent.Kind) {
		return ErrInvalidOpRequest.GenWithStackByArgs(req.Kind, " on ", parent.Kind)
	}
	// Temporary objects are gone after a system restart, so must be their dependents.
	e, err := ctx.Entry(req.Parent)
	if err != nil {
		return err
	}
	if e.State == schemafile.TemporaryTableCommitted && !req.Temporary {
		return ErrInvalidOpRequest.GenWithStackByArgs(req.Kind, " on temporary ", req.Parent, " must be temporary")
	}
	return nil
}

func completeWith(ctx OpContext, op *SchemaOp) func(error) {
	return func(err error) {
		ctx.Complete(op, err)
	}
}

// createHandler is the part of a dispatch row shared by every create.
type createHandler struct {
	BaseOpHandler
}

// PrepareStart validates the request, provisionally registers the object and marks
// its entry AddStarted.
func (createHandler) PrepareStart(ctx OpContext, op *SchemaOp) {
	e, err := ctx.Entry(op.Req.ObjectID)
	if err != nil {
		ctx.Complete(op, err)
		return
	}
	op.Before = e
	if !op.Restart {
		switch {
		case e.Exists():
			ctx.Complete(op, ErrObjectExists.GenWithStackByArgs("id ", op.Req.ObjectID))
			return
		case e.Version != 0 && op.Req.Version <= e.Version:
			ctx.Complete(op, ErrInvalidVersion.GenWithStackByArgs(op.Req.Version, " not above ", e.Version))
			return
		}
		if err := checkParent(ctx, &op.Req); err != nil {
			ctx.Complete(op, err)
			return
		}
	}
	_, err = ctx.Registry().Insert(registry.Record{
		ID:      op.Req.ObjectID,
		Kind:    op.Req.Kind,
		Version: op.Req.Version,
		Name:    op.Req.Name,
		Parent:  op.Req.Parent,
	})
	if err != nil {
		ctx.Complete(op, err)
		return
	}
	op.recordHeld = true
	ctx.UpdateEntry(op, withParent(schemafile.Entry{
		State:     schemafile.AddStarted,
		Version:   op.Req.Version,
		Kind:      op.Req.Kind,
		InfoWords: op.Req.InfoWords,
		GCP:       op.Target.GCP,
	}, op.Req.Parent), completeWith(ctx, op))
}

// CommitComplete writes the committed entry.
func (createHandler) CommitComplete(ctx OpContext, op *SchemaOp) {
	op.recordHeld = false
	ctx.UpdateEntry(op, op.Target, completeWith(ctx, op))
}

// AbortComplete forgets the object and restores its entry.
func (createHandler) AbortComplete(ctx OpContext, op *SchemaOp) {
	if op.recordHeld {
		op.recordHeld = false
		if err := ctx.Registry().Release(op.Req.ObjectID); err != nil {
			ctx.Complete(op, err)
			return
		}
	}
	if !op.entryTouched {
		ctx.Complete(op, nil)
		return
	}
	ctx.UpdateEntry(op, op.Before, completeWith(ctx, op))
}

// dropHandler is the part of a dispatch row shared by every drop.
type dropHandler struct {
	BaseOpHandler
}

// PrepareStart checks the object can go and marks its entry DropTableStarted.
func (dropHandler) PrepareStart(ctx OpContext, op *SchemaOp) {
	e, err := ctx.Entry(op.Req.ObjectID)
	if err != nil {
		ctx.Complete(op, err)
		return
	}
	op.Before = e
	if !op.Restart {
		switch {
		case !e.Exists() || e.State.Incomplete() || e.Kind != op.Req.Kind:
			ctx.Complete(op, ErrInvalidObjectID.GenWithStackByArgs(op.Req.ObjectID))
			return
		case e.Version != op.Req.Version:
			ctx.Complete(op, ErrInvalidVersion.GenWithStackByArgs(op.Req.Version, " is not ", e.Version))
			return
		}
		if rec, ok := ctx.Registry().Lookup(op.Req.ObjectID); ok && rec.Refs() > 0 {
			ctx.Complete(op, ErrObjectInUse.GenWithStackByArgs(op.Req.ObjectID))
			return
		}
	}
	staged := e
	staged.State = schemafile.DropTableStarted
	ctx.UpdateEntry(op, staged, completeWith(ctx, op))
}

// CommitComplete forgets the object and writes the dropped entry.
func (dropHandler) CommitComplete(ctx OpContext, op *SchemaOp) {
	if err := ctx.Registry().Release(op.Req.ObjectID); err != nil {
		ctx.Complete(op, err)
		return
	}
	ctx.UpdateEntry(op, op.Target, completeWith(ctx, op))
}

// AbortComplete restores the entry.
func (dropHandler) AbortComplete(ctx OpContext, op *SchemaOp) {
	if !op.entryTouched {
		ctx.Complete(op, nil)
		return
	}
	ctx.UpdateEntry(op, op.Before, completeWith(ctx, op))
}

// createTableHandler creates tables and indexes.
type createTableHandler struct {
	createHandler
}

// dropTableHandler drops tables and indexes.
type dropTableHandler struct {
	dropHandler
}
