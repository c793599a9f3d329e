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
	"time"

	"github.com/pingcap/schemadict/pkg/cluster"
	"go.uber.org/zap"
)

// takeoverState is kept by a new master until the transaction its predecessor left
// behind is resolved.
type takeoverState struct {
	waiting *cluster.NodeSet
	replied *cluster.NodeSet
	confs   map[cluster.NodeID]*takeoverConf
	// resolved is set once the orphan transaction, if any, is being driven to its end.
	resolved  bool
	startTime time.Time
}

// handleNodeFail runs on every survivor when a node leaves the cluster.
func (d *Dict) handleNodeFail(failed cluster.NodeID) {
	if !d.rt.aliveNodes.Contains(failed) {
		d.logger.Info("non-member node failed", zap.Uint32("node", uint32(failed)))
		if d.isMaster() {
			d.removeNodeLocks(failed)
		}
		return
	}
	oldMaster := d.rt.masterNodeID
	d.rt.aliveNodes.Remove(failed)
	if lowest, ok := d.rt.aliveNodes.Lowest(); ok {
		d.rt.masterNodeID = lowest
	}
	d.logger.Warn("node failed", zap.Uint32("node", uint32(failed)),
		zap.Stringer("alive nodes", d.rt.aliveNodes), zap.Uint32("master", uint32(d.rt.masterNodeID)))

	if d.restart != nil {
		d.restartNodeFailed(failed, failed == oldMaster)
	}
	d.participantFailed(failed)

	if t := d.takeover; t != nil && !t.resolved && t.waiting.Contains(failed) {
		t.waiting.Remove(failed)
		if t.waiting.IsEmpty() {
			d.resolveTakeover()
		}
	}
	switch {
	case failed == oldMaster && d.isMaster() && d.restart == nil:
		d.startTakeover()
	case d.isMaster():
		d.removeNodeLocks(failed)
	}
}

// handleNodeStart adds a node that finished its node restart.
func (d *Dict) handleNodeStart(node cluster.NodeID) {
	if d.rt.aliveNodes.Contains(node) {
		return
	}
	d.rt.aliveNodes.Add(node)
	d.logger.Info("node joined", zap.Uint32("node", uint32(node)), zap.Stringer("alive nodes", d.rt.aliveNodes))
}

// startTakeover asks every survivor about the transaction the failed master left.
func (d *Dict) startTakeover() {
	d.logger.Info("take over as master", zap.Stringer("alive nodes", d.rt.aliveNodes))
	d.takeover = &takeoverState{
		waiting:   d.rt.aliveNodes.Clone(),
		replied:   cluster.NewNodeSet(),
		confs:     make(map[cluster.NodeID]*takeoverConf),
		startTime: time.Now(),
	}
	d.setBlockState(BlockNodeFailure)
	d.broadcast(d.rt.aliveNodes.Clone(), &takeoverReq{})
}

// handleTakeoverReq reports the op this node holds for a transaction of a failed
// coordinator. The new master decides its outcome.
func (d *Dict) handleTakeoverReq(from cluster.NodeID) {
	conf := &takeoverConf{LastFinished: d.lastFinished}
	for _, op := range d.ops {
		if op.coord == from {
			continue
		}
		conf.Orphan = &orphanOp{
			Trans:         op.Trans,
			State:         op.State,
			Op:            op.Req,
			Requester:     op.requester,
			RequesterData: op.requesterData,
		}
		d.logger.Info("report orphan schema op", zap.Stringer("op", op), zap.Uint32("new master", uint32(from)))
	}
	d.sendTo(from, conf)
}

func (d *Dict) handleTakeoverConf(from cluster.NodeID, p *takeoverConf) {
	t := d.takeover
	if t == nil || t.resolved || !t.waiting.Contains(from) {
		d.logger.Error("unexpected takeover reply", zap.Uint32("from", uint32(from)))
		d.fatal("unexpected takeover reply", nil, nil)
	}
	t.waiting.Remove(from)
	t.replied.Add(from)
	t.confs[from] = p
	if t.waiting.IsEmpty() {
		d.resolveTakeover()
	}
}

// resolveTakeover rolls the orphan transaction forward when any node may have committed
// it and back otherwise.
func (d *Dict) resolveTakeover() {
	t := d.takeover
	t.resolved = true
	var orphan *orphanOp
	holders := cluster.NewNodeSet()
	commit := false
	for _, node := range t.replied.IDs() {
		o := t.confs[node].Orphan
		if o == nil {
			continue
		}
		if orphan != nil && orphan.Trans != o.Trans {
			d.logger.Error("more than one orphan schema transaction",
				zap.Stringer("first", orphan.Trans), zap.Stringer("second", o.Trans))
			d.fatal("more than one orphan schema transaction", nil, nil)
		}
		orphan = o
		holders.Add(node)
		commit = commit || o.State == OpCommitting || o.State == OpCommitted
	}
	if orphan == nil {
		d.answerFinishedTrans()
		d.finishTakeover()
		return
	}
	for _, node := range t.replied.IDs() {
		c := t.confs[node]
		if f := c.LastFinished; f != nil && f.Trans == orphan.Trans && f.Committed {
			commit = true
		}
	}

	st := &schemaTrans{
		id:            orphan.Trans,
		requester:     orphan.Requester,
		requesterData: orphan.RequesterData,
		participants:  holders,
		remaining:     holders.Clone(),
		failedNodes:   cluster.NewNodeSet(),
		req:           orphan.Op,
		startTime:     t.startTime,
	}
	d.trans = st
	d.transLogger(st).Info("resolve orphan schema transaction", zap.Bool("commit", commit), zap.Stringer("holders", holders))
	if commit {
		d.setTransState(st, OpCommitting)
		d.broadcast(holders.Clone(), &commitReq{Trans: st.id})
		return
	}
	st.err = ErrAbortedByMasterFailure.GenWithStackByArgs()
	d.setTransState(st, OpAborting)
	d.broadcast(holders.Clone(), &abortReq{Trans: st.id})
}

// answerFinishedTrans replies to the requester of a transaction every survivor finished
// while its coordinator failed before replying. The coordinator may have replied
// already, so the requester must ignore a second reply.
func (d *Dict) answerFinishedTrans() {
	t := d.takeover
	var last *finishedOp
	var err error
	for _, node := range t.replied.IDs() {
		f := t.confs[node].LastFinished
		if f == nil || f.Restart || d.rt.aliveNodes.Contains(f.Trans.Coord) {
			return
		}
		if last != nil && (last.Trans != f.Trans || last.Committed != f.Committed) {
			return
		}
		last = f
		if err == nil {
			err = f.Err
		}
	}
	if last == nil || last.Requester == 0 {
		return
	}
	d.logger.Info("answer schema transaction finished by every survivor",
		zap.Stringer("trans", last.Trans), zap.Bool("committed", last.Committed),
		zap.Uint32("requester", uint32(last.Requester)))
	if last.Committed {
		d.sendTo(last.Requester, &SchemaTransConf{RequesterData: last.RequesterData, ObjectID: last.Op.ObjectID, Version: last.Op.Version})
		return
	}
	if err == nil {
		err = ErrAbortedByMasterFailure.GenWithStackByArgs()
	}
	d.sendTo(last.Requester, &SchemaTransRef{RequesterData: last.RequesterData, Err: err})
}

func (d *Dict) finishTakeover() {
	d.logger.Info("master takeover finished", zap.Duration("take time", time.Since(d.takeover.startTime)))
	d.takeover = nil
	d.setBlockState(BlockIdle)
}
