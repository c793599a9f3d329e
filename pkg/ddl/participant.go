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
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/schemadict/pkg/cluster"
	"go.uber.org/zap"
)

func (d *Dict) participantOp(id TransID) *SchemaOp {
	op, ok := d.ops[id]
	if !ok {
		d.logger.Error("no schema op for transaction", zap.Stringer("trans", id))
		d.fatal("missing schema op", nil, nil)
	}
	return op
}

func (d *Dict) handlePrepareReq(from cluster.NodeID, p *prepareReq) {
	if _, ok := d.ops[p.Trans]; ok {
		d.fatal("duplicate prepare for "+p.Trans.String(), nil, nil)
	}
	op := &SchemaOp{
		Trans:         p.Trans,
		Req:           p.Op,
		Target:        p.Target,
		Restart:       p.Restart,
		State:         OpPreparing,
		coord:         from,
		requester:     p.Requester,
		requesterData: p.RequesterData,
	}
	d.ops[p.Trans] = op
	d.logger.Debug("prepare schema op", zap.Stringer("op", op))

	failpoint.Inject("mockPrepareError", func(val failpoint.Value) {
		if uint32(val.(int)) == uint32(d.id) {
			op.Err = errors.New("mock prepare error")
			d.prepareDone(op)
			failpoint.Return()
		}
	})
	d.runHook(op, hookPrepareStart)
}

// prepareDone runs when the prepare hooks finished, successfully or not.
func (d *Dict) prepareDone(op *SchemaOp) {
	switch op.deferred {
	case OpCommitting:
		if op.Err != nil {
			d.fatal("commit ordered for an op that failed to prepare", op, op.Err)
		}
		op.deferred = OpPreparing
		d.startCommit(op)
		return
	case OpAborting:
		op.deferred = OpPreparing
		d.startAbort(op)
		return
	}
	if op.Err != nil {
		d.logger.Info("schema op refused prepare", zap.Stringer("op", op), zap.Error(op.Err))
		d.sendTo(op.coord, &prepareRef{Trans: op.Trans, Err: op.Err})
		return
	}
	op.State = OpPrepared
	d.sendTo(op.coord, &prepareConf{Trans: op.Trans})
}

// finishedBefore reports whether id is the op this node already finished, which happens
// when a new master re-sends the decision of its failed predecessor.
func (d *Dict) finishedBefore(id TransID, committed bool) bool {
	last := d.lastFinished
	if _, ok := d.ops[id]; ok || last == nil || last.Trans != id {
		return false
	}
	if last.Committed != committed {
		d.logger.Error("decision contradicts finished op", zap.Stringer("trans", id), zap.Bool("committed", last.Committed))
		d.fatal("decision contradicts finished op", nil, nil)
	}
	return true
}

func (d *Dict) handleCommitReq(from cluster.NodeID, p *commitReq) {
	if d.finishedBefore(p.Trans, true) {
		d.sendTo(from, &commitConf{Trans: p.Trans})
		return
	}
	op := d.participantOp(p.Trans)
	op.coord = from
	switch {
	case op.State == OpCommitting:
		// Already committing for the previous coordinator; the reply goes to from.
		return
	case op.State == OpAborting:
		d.fatal("commit ordered for an aborting op", op, nil)
	case op.pending:
		op.deferred = OpCommitting
		return
	}
	d.startCommit(op)
}

func (d *Dict) startCommit(op *SchemaOp) {
	op.State = OpCommitting
	d.runHook(op, hookCommitStart)
}

func (d *Dict) commitDone(op *SchemaOp) {
	op.State = OpCommitted
	d.finishOp(op, true)
	d.sendTo(op.coord, &commitConf{Trans: op.Trans})
}

func (d *Dict) handleAbortReq(from cluster.NodeID, p *abortReq) {
	if d.finishedBefore(p.Trans, false) {
		d.sendTo(from, &abortConf{Trans: p.Trans})
		return
	}
	op := d.participantOp(p.Trans)
	op.coord = from
	switch {
	case op.State == OpAborting:
		return
	case op.State == OpCommitting:
		d.fatal("abort ordered for a committing op", op, nil)
	case op.pending:
		op.deferred = OpAborting
		return
	}
	d.startAbort(op)
}

func (d *Dict) startAbort(op *SchemaOp) {
	op.State = OpAborting
	d.runHook(op, hookAbortStart)
}

func (d *Dict) abortDone(op *SchemaOp) {
	op.State = OpAborted
	d.finishOp(op, false)
	d.sendTo(op.coord, &abortConf{Trans: op.Trans})
}

func (d *Dict) finishOp(op *SchemaOp, committed bool) {
	delete(d.ops, op.Trans)
	d.lastFinished = &finishedOp{
		Trans:         op.Trans,
		Committed:     committed,
		Restart:       op.Restart,
		Op:            op.Req,
		Requester:     op.requester,
		RequesterData: op.requesterData,
		Err:           op.Err,
	}
	d.logger.Debug("schema op finished", zap.Stringer("op", op))
}

func (d *Dict) handleOpCompleteOrd(p *opCompleteOrd) {
	d.Complete(d.participantOp(p.Trans), p.Err)
}
