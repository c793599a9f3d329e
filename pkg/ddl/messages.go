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

// TransID identifies a schema transaction: the coordinating node and its sequence key.
type TransID struct {
	Coord cluster.NodeID
	Key   uint32
}

// String implements fmt.Stringer interface.
func (t TransID) String() string {
	return fmt.Sprintf("%d:%d", t.Coord, t.Key)
}

// OpRequest describes one DDL operation submitted to the dictionary.
type OpRequest struct {
	Type OpType
	Kind schemafile.ObjectKind
	// ObjectID is registry.NoHint to let the master allocate an id on create.
	ObjectID  uint32
	Version   uint32
	Name      string
	Parent    uint32
	InfoWords uint32
	// Temporary creates an object that does not survive a restart.
	Temporary bool
}

// NewCreateRequest returns a create request for an object of kind. id may be registry.NoHint.
func NewCreateRequest(kind schemafile.ObjectKind, id, version uint32, name string) OpRequest {
	return OpRequest{
		Type:     OpTypeFor(kind, false),
		Kind:     kind,
		ObjectID: id,
		Version:  version,
		Name:     name,
		Parent:   registry.NoParent,
	}
}

// NewDropRequest returns a drop request for object id of kind at version.
func NewDropRequest(kind schemafile.ObjectKind, id, version uint32) OpRequest {
	return OpRequest{
		Type:     OpTypeFor(kind, true),
		Kind:     kind,
		ObjectID: id,
		Version:  version,
		Parent:   registry.NoParent,
	}
}

// SchemaTransReq is a top-level DDL request.
type SchemaTransReq struct {
	// RequesterData is echoed in the reply.
	RequesterData uint32
	// Requester is the node the reply goes to. It is the sender unless forwarded.
	Requester cluster.NodeID
	Forwarded bool
	Op        OpRequest
}

// SchemaTransConf is the successful reply to a SchemaTransReq.
type SchemaTransConf struct {
	RequesterData uint32
	ObjectID      uint32
	Version       uint32
}

// SchemaTransRef is the failed reply to a SchemaTransReq.
type SchemaTransRef struct {
	RequesterData uint32
	Err           error
}

// prepareReq asks a participant to prepare one schema op.
type prepareReq struct {
	Trans         TransID
	Op            OpRequest
	Target        schemafile.Entry
	Restart       bool
	Requester     cluster.NodeID
	RequesterData uint32
}

type prepareConf struct {
	Trans TransID
}

type prepareRef struct {
	Trans TransID
	Err   error
}

type commitReq struct {
	Trans TransID
}

type commitConf struct {
	Trans TransID
}

type abortReq struct {
	Trans TransID
}

type abortConf struct {
	Trans TransID
}

// opCompleteOrd resumes a schema op whose hook completed outside the worker.
type opCompleteOrd struct {
	Trans TransID
	Err   error
}

// DictLockReq asks the master for a dict lock.
type DictLockReq struct {
	Type LockType
	Data uint32
}

// DictLockConf grants a dict lock.
type DictLockConf struct {
	Type LockType
	Data uint32
}

// DictLockRef refuses a dict lock request.
type DictLockRef struct {
	Type LockType
	Data uint32
	Err  error
}

// DictUnlockOrd releases a granted dict lock or cancels a queued one.
type DictUnlockOrd struct {
	Type LockType
	Data uint32
}

// lockPoll re-runs the lock queue check.
type lockPoll struct{}

// nodeStartRep tells the alive nodes that a restarted node joined.
type nodeStartRep struct {
	Node cluster.NodeID
}

type takeoverReq struct{}

// orphanOp is a participant op whose coordinator failed.
type orphanOp struct {
	Trans         TransID
	State         OpState
	Op            OpRequest
	Requester     cluster.NodeID
	RequesterData uint32
}

// finishedOp is the last schema op a participant finished.
type finishedOp struct {
	Trans         TransID
	Committed     bool
	Restart       bool
	Op            OpRequest
	Requester     cluster.NodeID
	RequesterData uint32
	// Err is the error this node refused the op with, if any.
	Err error
}

type takeoverConf struct {
	Orphan *orphanOp
	// LastFinished is the last transaction this node completed, nil if none.
	LastFinished *finishedOp
}

// schemaInfoRep carries a node's persisted schema file to the master at system restart.
type schemaInfoRep struct {
	Pages []byte
}

// schemaInfoReq carries the authoritative schema file from the master.
type schemaInfoReq struct {
	Pages  []byte
	Alive  []cluster.NodeID
	System bool
}

type schemaInfoConf struct{}

// restartDoneOrd ends a system restart on every node.
type restartDoneOrd struct{}
