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
	"go.uber.org/zap"
)

// BlockState is the admission state of the dictionary on one node.
type BlockState int

// Block states.
const (
	BlockIdle BlockState = iota
	// BlockBusy is held by a schema transaction.
	BlockBusy
	// BlockCreateTab is held by a create table transaction.
	BlockCreateTab
	// BlockNodeRestart is held by a granted node restart dict lock and by restart itself.
	BlockNodeRestart
	// BlockNodeFailure is held while a new master takes over.
	BlockNodeFailure
)

// String implements fmt.Stringer interface.
func (s BlockState) String() string {
	switch s {
	case BlockIdle:
		return "idle"
	case BlockBusy:
		return "busy"
	case BlockCreateTab:
		return "create table"
	case BlockNodeRestart:
		return "node restart"
	case BlockNodeFailure:
		return "node failure"
	}
	return fmt.Sprintf("block state(%d)", int(s))
}

// OpState is the state of a SchemaOp. The states are traversed strictly in order,
// the only branch is Preparing to Aborting.
type OpState int

// Schema op states.
const (
	OpPreparing OpState = iota
	OpPrepared
	OpCommitting
	OpCommitted
	OpAborting
	OpAborted
)

// String implements fmt.Stringer interface.
func (s OpState) String() string {
	switch s {
	case OpPreparing:
		return "preparing"
	case OpPrepared:
		return "prepared"
	case OpCommitting:
		return "committing"
	case OpCommitted:
		return "committed"
	case OpAborting:
		return "aborting"
	case OpAborted:
		return "aborted"
	}
	return fmt.Sprintf("op state(%d)", int(s))
}

// RuntimeState is the process wide state of the dictionary block of one node. Only the
// node's worker reads or writes it.
type RuntimeState struct {
	aliveNodes   *cluster.NodeSet
	masterNodeID cluster.NodeID
	blockState   BlockState
}

// AliveNodes returns a copy of the alive node set.
func (s *RuntimeState) AliveNodes() *cluster.NodeSet {
	return s.aliveNodes.Clone()
}

// Master returns the current master node.
func (s *RuntimeState) Master() cluster.NodeID {
	return s.masterNodeID
}

// BlockState returns the current block state.
func (s *RuntimeState) BlockState() BlockState {
	return s.blockState
}

// setBlockState is the only place the block state changes. Every change re-runs the
// dict lock queue.
func (d *Dict) setBlockState(s BlockState) {
	if d.rt.blockState != s {
		d.logger.Info("block state changed", zap.Stringer("from", d.rt.blockState), zap.Stringer("to", s))
		d.rt.blockState = s
	}
	d.checkQueue()
}

func (d *Dict) isMaster() bool {
	return d.rt.masterNodeID == d.id
}
