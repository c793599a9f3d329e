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
	"github.com/pingcap/schemadict/pkg/metrics"
	"go.uber.org/zap"
)

// LockType is the kind of a dict lock. Every kind holds its own block state while granted.
type LockType int

// Dict lock types.
const (
	LockNodeRestart LockType = iota + 1
)

// String implements fmt.Stringer interface.
func (t LockType) String() string {
	switch t {
	case LockNodeRestart:
		return "node restart"
	}
	return fmt.Sprintf("lock type(%d)", int(t))
}

func (t LockType) blockState() (BlockState, bool) {
	switch t {
	case LockNodeRestart:
		return BlockNodeRestart, true
	}
	return BlockIdle, false
}

type dictLock struct {
	typ     LockType
	node    cluster.NodeID
	data    uint32
	granted bool
}

func (l *dictLock) String() string {
	return fmt.Sprintf("{type: %s, node: %d, data: %d, granted: %v}", l.typ, l.node, l.data, l.granted)
}

// lockQueue is the FIFO of dict lock requests kept by the master. Only the head can be granted.
type lockQueue struct {
	list      []*dictLock
	pollArmed bool
}

// Len returns the number of queued and granted locks.
func (q *lockQueue) Len() int {
	return len(q.list)
}

// granted returns the granted lock, if any.
func (q *lockQueue) granted() *dictLock {
	if len(q.list) > 0 && q.list[0].granted {
		return q.list[0]
	}
	return nil
}

func (q *lockQueue) remove(i int) *dictLock {
	l := q.list[i]
	q.list = append(q.list[:i], q.list[i+1:]...)
	if l.granted {
		metrics.DictLockGauge.WithLabelValues(metrics.LockGranted).Dec()
	} else {
		metrics.DictLockGauge.WithLabelValues(metrics.LockQueued).Dec()
	}
	return l
}

func (d *Dict) handleDictLockReq(from cluster.NodeID, p *DictLockReq) {
	if !d.isMaster() {
		d.sendTo(from, &DictLockRef{Type: p.Type, Data: p.Data, Err: ErrNotMaster.GenWithStackByArgs(d.id)})
		return
	}
	if _, ok := p.Type.blockState(); !ok {
		d.sendTo(from, &DictLockRef{Type: p.Type, Data: p.Data, Err: ErrInvalidOpRequest.GenWithStackByArgs(p.Type)})
		return
	}
	for _, l := range d.locks.list {
		if l.node == from && l.typ == p.Type && l.data == p.Data {
			d.logger.Info("dict lock already queued", zap.Stringer("lock", l))
			return
		}
	}
	l := &dictLock{typ: p.Type, node: from, data: p.Data}
	d.locks.list = append(d.locks.list, l)
	metrics.DictLockGauge.WithLabelValues(metrics.LockQueued).Inc()
	d.logger.Info("dict lock queued", zap.Stringer("lock", l), zap.Int("queue length", d.locks.Len()))
	d.checkQueue()
}

// checkQueue grants the head of the queue when no schema transaction is outstanding and
// the block is idle. Otherwise it makes sure a poll is armed.
func (d *Dict) checkQueue() {
	if !d.isMaster() || d.locks.Len() == 0 {
		return
	}
	head := d.locks.list[0]
	if head.granted {
		return
	}
	if d.trans == nil && d.rt.blockState == BlockIdle {
		head.granted = true
		metrics.DictLockGauge.WithLabelValues(metrics.LockQueued).Dec()
		metrics.DictLockGauge.WithLabelValues(metrics.LockGranted).Inc()
		d.logger.Info("dict lock granted", zap.Stringer("lock", head))
		state, _ := head.typ.blockState()
		d.setBlockState(state)
		d.sendTo(head.node, &DictLockConf{Type: head.typ, Data: head.data})
		d.hook.OnLockGranted(head.typ, head.node)
		d.lockGranted(head)
		return
	}
	if !d.locks.pollArmed {
		d.locks.pollArmed = true
		d.logger.Debug("dict lock pending, poll armed", zap.Stringer("lock", head),
			zap.Stringer("block state", d.rt.blockState), zap.Bool("trans outstanding", d.trans != nil))
		d.tr.SendAfter(d.opts.PollInterval, &cluster.Message{From: d.id, To: d.id, Payload: &lockPoll{}})
	}
}

func (d *Dict) handleLockPoll() {
	d.locks.pollArmed = false
	d.checkQueue()
}

// handleDictUnlockOrd releases the granted lock or cancels a queued one.
func (d *Dict) handleDictUnlockOrd(from cluster.NodeID, p *DictUnlockOrd) {
	for i, l := range d.locks.list {
		if l.node != from || l.typ != p.Type || l.data != p.Data {
			continue
		}
		if !l.granted {
			d.locks.remove(i)
			d.logger.Info("dict lock cancelled", zap.Stringer("lock", l))
			d.checkQueue()
			return
		}
		if d.trans != nil {
			d.fatal("release dict lock while a schema transaction is outstanding", nil, nil)
		}
		d.locks.remove(i)
		d.logger.Info("dict lock released", zap.Stringer("lock", l))
		d.lockReleased(l)
		d.setBlockState(BlockIdle)
		return
	}
	d.logger.Warn("unlock of unknown dict lock", zap.Uint32("node", uint32(from)), zap.Stringer("type", p.Type))
}

// removeNodeLocks drops every lock of a failed node.
func (d *Dict) removeNodeLocks(node cluster.NodeID) {
	wasGranted := false
	for i := 0; i < d.locks.Len(); {
		l := d.locks.list[i]
		if l.node != node {
			i++
			continue
		}
		d.locks.remove(i)
		wasGranted = wasGranted || l.granted
		d.logger.Info("dict lock removed on node failure", zap.Stringer("lock", l))
	}
	if wasGranted {
		d.setBlockState(BlockIdle)
		return
	}
	d.checkQueue()
}

// lockGranted starts the work the lock was taken for.
func (d *Dict) lockGranted(l *dictLock) {
	if l.typ == LockNodeRestart {
		d.shipSchemaToRestartingNode(l.node)
	}
}

func (d *Dict) lockReleased(l *dictLock) {
	if l.typ == LockNodeRestart {
		d.nodeRestartDone(l.node)
	}
}

// LockQueueLen returns the number of dict locks on the master, the granted one included.
// It must only be called while the worker is idle.
func (d *Dict) LockQueueLen() int {
	return d.locks.Len()
}

// GrantedLock returns the node holding the granted dict lock.
// It must only be called while the worker is idle.
func (d *Dict) GrantedLock() (cluster.NodeID, bool) {
	if l := d.locks.granted(); l != nil {
		return l.node, true
	}
	return cluster.InvalidNodeID, false
}
