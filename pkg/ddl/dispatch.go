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
	"fmt"

	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
)

// OpType indexes the dispatch table.
type OpType int

// Dispatch table rows. Log file groups and tablespaces share the filegroup rows, data
// and undo files share the file rows, tables and indexes share the table rows.
const (
	OpCreateTable OpType = iota
	OpDropTable
	OpCreateFilegroup
	OpDropFilegroup
	OpCreateFile
	OpDropFile

	numOpTypes
)

// String implements fmt.Stringer interface.
func (t OpType) String() string {
	switch t {
	case OpCreateTable:
		return "create table"
	case OpDropTable:
		return "drop table"
	case OpCreateFilegroup:
		return "create filegroup"
	case OpDropFilegroup:
		return "drop filegroup"
	case OpCreateFile:
		return "create file"
	case OpDropFile:
		return "drop file"
	}
	return fmt.Sprintf("op type(%d)", int(t))
}

// OpTypeFor returns the dispatch row serving a create or drop of kind.
func OpTypeFor(kind schemafile.ObjectKind, drop bool) OpType {
	var t OpType
	switch {
	case kind.IsFilegroup():
		t = OpCreateFilegroup
	case kind.IsFile():
		t = OpCreateFile
	default:
		t = OpCreateTable
	}
	if drop {
		t++
	}
	return t
}

// IsDrop reports whether t removes an object.
func (t OpType) IsDrop() bool {
	return t%2 == 1
}

// OpContext is what the dictionary offers to dispatch rows.
type OpContext interface {
	// Complete ends the hook currently running for op. It must be called exactly once
	// per hook, with nil or the error the op failed with.
	Complete(op *SchemaOp, err error)
	// Registry returns the object registry of this node.
	Registry() *registry.Registry
	// Entry returns a copy of the schema file entry of id in the current copy.
	Entry(id uint32) (schemafile.Entry, error)
	// UpdateEntry writes e as the entry of op's object and persists its page. cb runs when
	// both replicas are written.
	UpdateEntry(op *SchemaOp, e schemafile.Entry, cb func(error))
	// Storage returns the external block told about file operations. Its completions
	// must be handed back through CompleteAsync.
	Storage() StorageNotifier
	// CompleteAsync resumes op from outside the worker.
	CompleteAsync(op *SchemaOp, err error)
}

// OpHandler is one row of the dispatch table. Every hook must complete through
// OpContext.Complete, synchronously or later, and must not keep op afterwards.
type OpHandler interface {
	PrepareStart(ctx OpContext, op *SchemaOp)
	PrepareComplete(ctx OpContext, op *SchemaOp)
	CommitStart(ctx OpContext, op *SchemaOp)
	Commit(ctx OpContext, op *SchemaOp)
	CommitComplete(ctx OpContext, op *SchemaOp)
	AbortStart(ctx OpContext, op *SchemaOp)
	AbortComplete(ctx OpContext, op *SchemaOp)
}

// BaseOpHandler completes every hook immediately with success.
type BaseOpHandler struct{}

// PrepareStart implements OpHandler interface.
func (BaseOpHandler) PrepareStart(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// PrepareComplete implements OpHandler interface.
func (BaseOpHandler) PrepareComplete(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// CommitStart implements OpHandler interface.
func (BaseOpHandler) CommitStart(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// Commit implements OpHandler interface.
func (BaseOpHandler) Commit(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// CommitComplete implements OpHandler interface.
func (BaseOpHandler) CommitComplete(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// AbortStart implements OpHandler interface.
func (BaseOpHandler) AbortStart(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// AbortComplete implements OpHandler interface.
func (BaseOpHandler) AbortComplete(ctx OpContext, op *SchemaOp) { ctx.Complete(op, nil) }

// StorageNotifier is the external storage block managing data and undo files. Every
// call must eventually invoke done exactly once.
type StorageNotifier interface {
	PrepareFile(op *SchemaOp, done func(error))
	CommitFile(op *SchemaOp, done func(error))
	AbortFile(op *SchemaOp, done func(error))
}

type ackStorage struct{}

func (ackStorage) PrepareFile(_ *SchemaOp, done func(error)) { done(nil) }
func (ackStorage) CommitFile(_ *SchemaOp, done func(error))  { done(nil) }
func (ackStorage) AbortFile(_ *SchemaOp, done func(error))   { done(nil) }

type hookPoint int

const (
	hookNone hookPoint = iota
	hookPrepareStart
	hookPrepareComplete
	hookCommitStart
	hookCommit
	hookCommitComplete
	hookAbortStart
	hookAbortComplete
)

func (h hookPoint) String() string {
	switch h {
	case hookNone:
		return "none"
	case hookPrepareStart:
		return "prepare start"
	case hookPrepareComplete:
		return "prepare complete"
	case hookCommitStart:
		return "commit start"
	case hookCommit:
		return "commit"
	case hookCommitComplete:
		return "commit complete"
	case hookAbortStart:
		return "abort start"
	case hookAbortComplete:
		return "abort complete"
	}
	return fmt.Sprintf("hook(%d)", int(h))
}

// SchemaOp is the per-object unit of work of a schema transaction on one node.
type SchemaOp struct {
	Trans TransID
	Req   OpRequest
	// Target is the entry written when the op commits.
	Target schemafile.Entry
	// Before is the entry found when the op started. Abort restores it.
	Before schemafile.Entry
	// Restart marks ops issued by restart reconciliation.
	Restart bool
	State   OpState
	Err     error

	// coord is the node the next reply goes to.
	coord         cluster.NodeID
	requester     cluster.NodeID
	requesterData uint32

	hook    hookPoint
	pending bool
	// deferred is OpCommitting or OpAborting when that phase was ordered while a
	// prepare hook was still running.
	deferred OpState

	recordHeld      bool
	entryTouched    bool
	storagePrepared bool
}

// ObjectID returns the id of the object the op works on.
func (op *SchemaOp) ObjectID() uint32 {
	return op.Req.ObjectID
}

// String implements fmt.Stringer interface.
func (op *SchemaOp) String() string {
	return fmt.Sprintf("{trans: %s, type: %s, id: %d, kind: %s, version: %d, state: %s}",
		op.Trans, op.Req.Type, op.Req.ObjectID, op.Req.Kind, op.Req.Version, op.State)
}

// defaultHandlers returns the built-in dispatch table.
func defaultHandlers() [numOpTypes]OpHandler {
	return [numOpTypes]OpHandler{
		OpCreateTable:     createTableHandler{},
		OpDropTable:       dropTableHandler{},
		OpCreateFilegroup: createFilegroupHandler{},
		OpDropFilegroup:   dropFilegroupHandler{},
		OpCreateFile:      createFileHandler{},
		OpDropFile:        dropFileHandler{},
	}
}

func (d *Dict) runHook(op *SchemaOp, h hookPoint) {
	op.hook = h
	op.pending = true
	handler := d.handlers[op.Req.Type]
	switch h {
	case hookPrepareStart:
		handler.PrepareStart(d, op)
	case hookPrepareComplete:
		handler.PrepareComplete(d, op)
	case hookCommitStart:
		handler.CommitStart(d, op)
	case hookCommit:
		handler.Commit(d, op)
	case hookCommitComplete:
		handler.CommitComplete(d, op)
	case hookAbortStart:
		handler.AbortStart(d, op)
	case hookAbortComplete:
		handler.AbortComplete(d, op)
	default:
		d.fatal("run unknown hook", op, nil)
	}
}

// Complete implements OpContext interface.
func (d *Dict) Complete(op *SchemaOp, err error) {
	if !op.pending {
		d.fatal("schema op completed twice", op, err)
	}
	op.pending = false
	switch op.hook {
	case hookPrepareStart:
		if err != nil {
			op.Err = err
			d.prepareDone(op)
			return
		}
		d.runHook(op, hookPrepareComplete)
	case hookPrepareComplete:
		if err != nil {
			op.Err = err
		}
		d.prepareDone(op)
	case hookCommitStart:
		d.mustNotFail(op, err)
		d.runHook(op, hookCommit)
	case hookCommit:
		d.mustNotFail(op, err)
		d.runHook(op, hookCommitComplete)
	case hookCommitComplete:
		d.mustNotFail(op, err)
		d.commitDone(op)
	case hookAbortStart:
		d.mustNotFail(op, err)
		d.runHook(op, hookAbortComplete)
	case hookAbortComplete:
		d.mustNotFail(op, err)
		d.abortDone(op)
	default:
		d.fatal("schema op completed without a running hook", op, err)
	}
}

// CompleteAsync implements OpContext interface.
func (d *Dict) CompleteAsync(op *SchemaOp, err error) {
	d.sendTo(d.id, &opCompleteOrd{Trans: op.Trans, Err: err})
}

func (d *Dict) mustNotFail(op *SchemaOp, err error) {
	if err != nil {
		d.fatal("commit and abort hooks must not fail", op, err)
	}
}
