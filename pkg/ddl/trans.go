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
	"strconv"
	"time"

	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/metrics"
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/pingcap/schemadict/pkg/terror"
	"go.uber.org/zap"
)

// schemaTrans is the coordinator side of one schema transaction.
type schemaTrans struct {
	id            TransID
	requester     cluster.NodeID
	requesterData uint32
	// participants are the nodes taking part; failed nodes are moved to failedNodes.
	participants *cluster.NodeSet
	// remaining are the participants whose reply to the current phase is outstanding.
	remaining   *cluster.NodeSet
	failedNodes *cluster.NodeSet
	err         error
	state       OpState
	req         OpRequest
	target      schemafile.Entry
	restart     bool
	// allocated is set when the coordinator reserved the object id.
	allocated bool
	startTime time.Time
	// onDone replaces the reply to the requester for internal transactions.
	onDone func(err error)
}

func (d *Dict) transLogger(t *schemaTrans) *zap.Logger {
	return d.logger.With(zap.Stringer("trans", t.id), zap.Stringer("type", t.req.Type), zap.Uint32("object", t.req.ObjectID))
}

// handleTransReq admits a top-level request on the master, or forwards it there.
func (d *Dict) handleTransReq(from cluster.NodeID, p *SchemaTransReq) {
	req := *p
	if req.Requester == cluster.InvalidNodeID {
		req.Requester = from
	}
	if !d.Ready() {
		d.rejectTrans(&req, ErrBusyWithNodeRestart.GenWithStackByArgs(d.id))
		return
	}
	if !d.isMaster() {
		if req.Forwarded {
			d.rejectTrans(&req, ErrNotMaster.GenWithStackByArgs(d.id))
			return
		}
		req.Forwarded = true
		d.logger.Debug("forward schema transaction to master", zap.Uint32("master", uint32(d.rt.masterNodeID)))
		d.sendTo(d.rt.masterNodeID, &req)
		return
	}
	if err := d.admit(req.Requester); err != nil {
		d.rejectTrans(&req, err)
		return
	}
	op := req.Op
	if op.Type < 0 || op.Type >= numOpTypes || OpTypeFor(op.Kind, op.Type.IsDrop()) != op.Type {
		d.rejectTrans(&req, ErrInvalidOpRequest.GenWithStackByArgs(op.Type, " on ", op.Kind))
		return
	}
	allocated := false
	if !op.Type.IsDrop() {
		if op.ObjectID == registry.NoHint {
			id, err := d.reg.AllocateID(registry.NoHint)
			if err != nil {
				d.rejectTrans(&req, err)
				return
			}
			op.ObjectID, allocated = id, true
		}
	}
	if op.Version == 0 {
		if e, err := d.Entry(op.ObjectID); err == nil {
			op.Version = e.Version
			if !op.Type.IsDrop() {
				op.Version++
			}
		}
	}
	d.startTrans(op, transTarget(op, d.nextKey+1), d.rt.aliveNodes.Clone(), false, func(t *schemaTrans) {
		t.requester, t.requesterData, t.allocated = req.Requester, req.RequesterData, allocated
	})
}

// admit checks whether a new top-level transaction may start. It mutates nothing.
func (d *Dict) admit(requester cluster.NodeID) error {
	if d.opts.SingleUser && requester != d.opts.APINode {
		return ErrSingleUserMode.GenWithStackByArgs(requester)
	}
	switch {
	case d.rt.blockState == BlockNodeRestart:
		return ErrBusyWithNodeRestart.GenWithStackByArgs(d.rt.blockState)
	case d.trans != nil || d.rt.blockState != BlockIdle:
		return ErrBusy.GenWithStackByArgs(d.rt.blockState)
	}
	return nil
}

func (d *Dict) rejectTrans(req *SchemaTransReq, err error) {
	d.stats.rejected.Inc()
	if terror.ClassAdmission.EqualClass(err) {
		metrics.AdmissionRejectCounter.WithLabelValues(strconv.Itoa(int(terror.ToCode(err)))).Inc()
		d.logger.Info("reject schema transaction", zap.Uint32("requester", uint32(req.Requester)), zap.Error(err))
	} else {
		d.logger.Warn("refuse invalid schema transaction", zap.Uint32("requester", uint32(req.Requester)), zap.Error(err))
	}
	d.sendTo(req.Requester, &SchemaTransRef{RequesterData: req.RequesterData, Err: err})
}

// transTarget is the entry a create or drop leaves behind when it commits.
func transTarget(op OpRequest, key uint32) schemafile.Entry {
	if op.Type.IsDrop() {
		return schemafile.Entry{State: schemafile.DropTableCommitted, Version: op.Version, Kind: op.Kind, GCP: key}
	}
	state := schemafile.TableAddCommitted
	if op.Temporary {
		state = schemafile.TemporaryTableCommitted
	}
	return withParent(schemafile.Entry{State: state, Version: op.Version, Kind: op.Kind, InfoWords: op.InfoWords, GCP: key}, op.Parent)
}

// withParent records the reference e's object holds on parent.
func withParent(e schemafile.Entry, parent registry.ObjectID) schemafile.Entry {
	if parent == registry.NoParent {
		return e
	}
	return e.WithParent(parent)
}

// startTrans creates a transaction coordinated by this node and broadcasts prepare.
func (d *Dict) startTrans(op OpRequest, target schemafile.Entry, participants *cluster.NodeSet, restart bool, init func(t *schemaTrans)) {
	if d.trans != nil {
		d.fatal("start a schema transaction while another is outstanding", nil, nil)
	}
	d.nextKey++
	t := &schemaTrans{
		id:           TransID{Coord: d.id, Key: d.nextKey},
		requester:    d.id,
		participants: participants,
		remaining:    participants.Clone(),
		failedNodes:  cluster.NewNodeSet(),
		req:          op,
		target:       target,
		restart:      restart,
		startTime:    time.Now(),
	}
	if init != nil {
		init(t)
	}
	d.trans = t
	if !restart {
		if op.Type == OpCreateTable {
			d.setBlockState(BlockCreateTab)
		} else {
			d.setBlockState(BlockBusy)
		}
	}
	d.transLogger(t).Info("start schema transaction", zap.Stringer("participants", participants), zap.Bool("restart", restart))
	d.setTransState(t, OpPreparing)
	d.broadcast(t.remaining.Clone(), &prepareReq{
		Trans:         t.id,
		Op:            op,
		Target:        target,
		Restart:       restart,
		Requester:     t.requester,
		RequesterData: t.requesterData,
	})
}

func (d *Dict) setTransState(t *schemaTrans, s OpState) {
	t.state = s
	d.transLogger(t).Info("schema transaction state changed", zap.Stringer("state", s))
	d.hook.OnTransStateChanged(t.id, s)
}

// replyTrans returns the transaction a reply belongs to. A reply for an unknown
// transaction or from a node that owes none is a broken invariant.
func (d *Dict) replyTrans(from cluster.NodeID, id TransID) *schemaTrans {
	t := d.trans
	if t == nil || t.id != id {
		d.logger.Error("reply for unknown schema transaction", zap.Stringer("trans", id), zap.Uint32("from", uint32(from)))
		d.fatal("missing schema transaction", nil, nil)
	}
	if !t.remaining.Contains(from) {
		d.transLogger(t).Error("unexpected reply", zap.Uint32("from", uint32(from)),
			zap.Stringer("remaining", t.remaining), zap.Stringer("state", t.state))
		d.fatal("unexpected schema transaction reply", nil, nil)
	}
	t.remaining.Remove(from)
	return t
}

func (d *Dict) handlePrepareReply(from cluster.NodeID, id TransID, err error) {
	t := d.replyTrans(from, id)
	if t.state != OpPreparing {
		d.fatal("prepare reply in state "+t.state.String(), nil, err)
	}
	if err != nil && t.err == nil {
		d.transLogger(t).Info("participant refused prepare", zap.Uint32("node", uint32(from)), zap.Error(err))
		t.err = err
	}
	if t.remaining.IsEmpty() {
		d.phaseDone(t)
	}
}

func (d *Dict) handleCommitConf(from cluster.NodeID, id TransID) {
	t := d.replyTrans(from, id)
	if t.state != OpCommitting {
		d.fatal("commit reply in state "+t.state.String(), nil, nil)
	}
	if t.remaining.IsEmpty() {
		d.phaseDone(t)
	}
}

func (d *Dict) handleAbortConf(from cluster.NodeID, id TransID) {
	t := d.replyTrans(from, id)
	if t.state != OpAborting {
		d.fatal("abort reply in state "+t.state.String(), nil, nil)
	}
	if t.remaining.IsEmpty() {
		d.phaseDone(t)
	}
}

// phaseDone advances t once every participant of the current phase replied, for real
// or on behalf of a failed node.
func (d *Dict) phaseDone(t *schemaTrans) {
	switch t.state {
	case OpPreparing:
		if t.err != nil {
			d.setTransState(t, OpAborting)
			t.remaining = t.participants.Clone()
			d.broadcast(t.remaining.Clone(), &abortReq{Trans: t.id})
			return
		}
		d.setTransState(t, OpPrepared)
		d.setTransState(t, OpCommitting)
		t.remaining = t.participants.Clone()
		d.broadcast(t.remaining.Clone(), &commitReq{Trans: t.id})
	case OpCommitting:
		d.endTrans(t, OpCommitted)
	case OpAborting:
		d.endTrans(t, OpAborted)
	default:
		d.fatal("phase done in state "+t.state.String(), nil, nil)
	}
}

// participantFailed synthesizes the reply a failed node owes to the outstanding transaction.
func (d *Dict) participantFailed(failed cluster.NodeID) {
	t := d.trans
	if t == nil || !t.participants.Contains(failed) {
		return
	}
	t.participants.Remove(failed)
	t.failedNodes.Add(failed)
	if !t.remaining.Contains(failed) {
		return
	}
	t.remaining.Remove(failed)
	d.stats.partialFailures.Inc()
	metrics.PartialFailureCounter.Inc()
	d.transLogger(t).Warn("participant failed, treat its reply as success",
		zap.Uint32("node", uint32(failed)), zap.Stringer("state", t.state), zap.Stringer("failed nodes", t.failedNodes))
	if t.remaining.IsEmpty() {
		d.phaseDone(t)
	}
}

func (d *Dict) endTrans(t *schemaTrans, final OpState) {
	d.setTransState(t, final)
	d.trans = nil
	var err error
	if final == OpAborted {
		err = t.err
		d.stats.aborted.Inc()
		if t.allocated {
			if _, ok := d.reg.Lookup(t.req.ObjectID); !ok {
				_ = d.reg.Release(t.req.ObjectID)
			}
		}
	} else {
		d.stats.committed.Inc()
	}
	metrics.SchemaTransCounter.WithLabelValues(t.req.Type.String(), metrics.RetLabel(err)).Inc()
	metrics.SchemaTransDuration.WithLabelValues(t.req.Type.String()).Observe(time.Since(t.startTime).Seconds())
	d.transLogger(t).Info("finish schema transaction", zap.Stringer("state", final),
		zap.Stringer("failed nodes", t.failedNodes), zap.Duration("take time", time.Since(t.startTime)), zap.Error(err))

	if t.onDone != nil {
		t.onDone(err)
	} else if err != nil {
		d.sendTo(t.requester, &SchemaTransRef{RequesterData: t.requesterData, Err: err})
	} else {
		d.sendTo(t.requester, &SchemaTransConf{RequesterData: t.requesterData, ObjectID: t.req.ObjectID, Version: t.req.Version})
	}

	switch {
	case d.takeover != nil:
		d.finishTakeover()
	case !t.restart && d.trans == nil:
		d.setBlockState(BlockIdle)
	default:
		d.checkQueue()
	}
}
