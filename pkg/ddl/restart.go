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
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/metrics"
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"go.uber.org/zap"
)

// NumRestartPasses is the number of reconciliation passes over the object ids.
const NumRestartPasses = 15

// passKinds is the dependency order of object kinds. Creates walk it forwards, drops
// walk it backwards.
var passKinds = [NumRestartPasses / 3]func(k schemafile.ObjectKind) bool{
	func(k schemafile.ObjectKind) bool { return k == schemafile.KindLogfileGroup },
	func(k schemafile.ObjectKind) bool { return k == schemafile.KindTablespace },
	schemafile.ObjectKind.IsFile,
	schemafile.ObjectKind.IsTable,
	schemafile.ObjectKind.IsIndex,
}

// restartOrd starts a restart of this node. A system restart restarts every node of
// Alive together, a node restart joins this node to the running nodes of Alive.
type restartOrd struct {
	System bool
	Alive  []cluster.NodeID
}

// restartLockRetry re-sends the node restart dict lock request.
type restartLockRetry struct{}

type restartPhase int

const (
	// phaseCollect is the master waiting for every node's schema file.
	phaseCollect restartPhase = iota
	// phaseShip is the master waiting for every node to take the new schema file.
	phaseShip
	// phaseLock is a restarting node waiting for the node restart dict lock.
	phaseLock
	// phaseSchema is a restarting node waiting for the master's schema file.
	phaseSchema
	// phaseReconcile is running the passes.
	phaseReconcile
	// phaseWaitDone is a node waiting for the master to finish the system restart.
	phaseWaitDone
)

func (p restartPhase) String() string {
	switch p {
	case phaseCollect:
		return "collect"
	case phaseShip:
		return "ship"
	case phaseLock:
		return "lock"
	case phaseSchema:
		return "schema"
	case phaseReconcile:
		return "reconcile"
	case phaseWaitDone:
		return "wait done"
	}
	return fmt.Sprintf("restart phase(%d)", int(p))
}

type restartState struct {
	system  bool
	traceID string
	phase   restartPhase
	// waiting are the nodes the master still needs a reply from.
	waiting *cluster.NodeSet

	oldFile *schemafile.File
	newFile *schemafile.File

	pass        int
	passStarted bool
	nextID      uint32
	limit       uint32

	startTime time.Time
}

// action returns the schema op reconciling id in the current pass, if any.
func (r *restartState) action(id uint32) (OpRequest, schemafile.Entry, bool) {
	var o, n schemafile.Entry
	if id < r.oldFile.Capacity() {
		e, _ := r.oldFile.Entry(id)
		o = *e
	}
	if id < r.newFile.Capacity() {
		e, _ := r.newFile.Entry(id)
		n = *e
	}
	kept := o.Exists() && !o.State.Incomplete() && o.State != schemafile.TemporaryTableCommitted && o.SameObject(n)
	switch {
	case r.pass < 5:
		if !o.Exists() || !passKinds[r.pass](o.Kind) {
			return OpRequest{}, schemafile.Entry{}, false
		}
		if kept {
			return restartRequest(id, o, false), n, true
		}
		return restartRequest(id, o, false), o, true
	case r.pass < 10:
		if !o.Exists() || !passKinds[9-r.pass](o.Kind) || kept {
			return OpRequest{}, schemafile.Entry{}, false
		}
		if !n.Exists() {
			return restartRequest(id, o, true), n, true
		}
		return restartRequest(id, o, true), schemafile.Entry{State: schemafile.DropTableCommitted, Version: o.Version, Kind: o.Kind}, true
	default:
		if !n.Exists() || !passKinds[r.pass-10](n.Kind) || kept {
			return OpRequest{}, schemafile.Entry{}, false
		}
		return restartRequest(id, n, false), n, true
	}
}

// restartRequest builds the request replaying e. The schema file keeps the parent of
// every object but not its name, so restart objects are unnamed.
func restartRequest(id uint32, e schemafile.Entry, drop bool) OpRequest {
	parent, ok := e.Parent()
	if !ok {
		parent = registry.NoParent
	}
	return OpRequest{
		Type:      OpTypeFor(e.Kind, drop),
		Kind:      e.Kind,
		ObjectID:  id,
		Version:   e.Version,
		Parent:    parent,
		InfoWords: e.InfoWords,
		Temporary: e.State == schemafile.TemporaryTableCommitted,
	}
}

// normalizeForRestart turns the unfinished and temporary entries of f into what they
// become once the cluster restarted.
func normalizeForRestart(f *schemafile.File) *schemafile.File {
	f.ForEach(func(_ uint32, e *schemafile.Entry) bool {
		switch e.State {
		case schemafile.AddStarted:
			e.State = schemafile.Init
		case schemafile.DropTableStarted, schemafile.TemporaryTableCommitted:
			e.State = schemafile.DropTableCommitted
		}
		return true
	})
	return f
}

// StartSystemRestart restarts d together with every other node of alive. Each node
// of alive must be started the same way. It is safe to call from any goroutine.
func (d *Dict) StartSystemRestart(alive []cluster.NodeID) {
	d.sendTo(d.id, &restartOrd{System: true, Alive: alive})
}

// StartNodeRestart joins d to the running nodes of alive. It is safe to call from
// any goroutine.
func (d *Dict) StartNodeRestart(alive []cluster.NodeID) {
	d.sendTo(d.id, &restartOrd{System: false, Alive: alive})
}

func (d *Dict) restartLogger() *zap.Logger {
	r := d.restart
	return d.logger.With(zap.String("restart", r.traceID), zap.Bool("system", r.system), zap.Stringer("phase", r.phase))
}

func (d *Dict) handleRestartOrd(p *restartOrd) {
	if d.restart != nil {
		d.fatal("restart ordered while restarting", nil, nil)
	}
	alive := cluster.NewNodeSet(p.Alive...)
	if p.System {
		alive.Add(d.id)
	} else {
		alive.Remove(d.id)
	}
	master, ok := alive.Lowest()
	if !ok {
		d.fatal("restart without any alive node", nil, nil)
	}
	d.ready.Store(false)
	d.rt.aliveNodes = alive
	d.rt.masterNodeID = master

	err := d.store.Load(schemafile.Current)
	if schemafile.ErrSchemaFileMissing.Equal(err) {
		d.logger.Info("no schema file, initialize an empty one", zap.String("dir", d.store.Dir()))
		err = d.store.Init(schemafile.EntriesPerPage)
	}
	if err != nil {
		d.fatal("load schema file", nil, err)
	}
	d.store.SetFile(schemafile.Old, d.store.File(schemafile.Current).Clone())

	d.reg = registry.New(d.opts.MaxObjects, d.opts.StringBufferSize)
	d.ops = make(map[TransID]*SchemaOp)
	d.trans = nil
	d.takeover = nil
	for d.locks.Len() > 0 {
		d.locks.remove(0)
	}
	d.restart = &restartState{
		system:    p.System,
		traceID:   uuid.New().String(),
		oldFile:   d.store.File(schemafile.Old).Clone(),
		startTime: time.Now(),
	}
	d.setBlockState(BlockNodeRestart)

	if !p.System {
		d.restart.phase = phaseLock
		d.restartLogger().Info("node restart started", zap.Uint32("master", uint32(master)), zap.Stringer("alive nodes", alive))
		d.requestRestartLock()
		return
	}
	d.restart.phase = phaseWaitDone
	if d.isMaster() {
		d.restart.phase = phaseCollect
		d.restart.waiting = alive.Clone()
	}
	d.restartLogger().Info("system restart started", zap.Uint32("master", uint32(master)), zap.Stringer("alive nodes", alive))
	d.sendTo(master, &schemaInfoRep{Pages: d.store.File(schemafile.Current).Encode()})
	early := d.earlyReps
	d.earlyReps = nil
	for _, msg := range early {
		d.Handle(msg)
	}
}

func (d *Dict) requestRestartLock() {
	d.sendTo(d.rt.masterNodeID, &DictLockReq{Type: LockNodeRestart, Data: uint32(d.id)})
}

func (d *Dict) handleRestartLockRetry() {
	if r := d.restart; r != nil && !r.system && r.phase == phaseLock {
		d.requestRestartLock()
	}
}

func (d *Dict) handleDictLockConf(from cluster.NodeID, p *DictLockConf) {
	r := d.restart
	if r == nil || r.system || r.phase != phaseLock || p.Type != LockNodeRestart {
		d.logger.Error("unexpected dict lock grant", zap.Uint32("from", uint32(from)), zap.Stringer("type", p.Type))
		d.fatal("unexpected dict lock grant", nil, nil)
	}
	r.phase = phaseSchema
	d.restartLogger().Info("node restart lock granted", zap.Uint32("master", uint32(from)))
}

func (d *Dict) handleDictLockRef(from cluster.NodeID, p *DictLockRef) {
	r := d.restart
	if r == nil || r.system || r.phase != phaseLock {
		d.logger.Warn("ignore dict lock refusal", zap.Uint32("from", uint32(from)), zap.Error(p.Err))
		return
	}
	d.restartLogger().Info("node restart lock refused, retry", zap.Uint32("from", uint32(from)), zap.Error(p.Err))
	d.tr.SendAfter(d.opts.PollInterval, &cluster.Message{From: d.id, To: d.id, Payload: &restartLockRetry{}})
}

func (d *Dict) handleSchemaInfoRep(from cluster.NodeID, p *schemaInfoRep) {
	r := d.restart
	if r == nil {
		d.earlyReps = append(d.earlyReps, &cluster.Message{From: from, To: d.id, Payload: p})
		return
	}
	if !r.system || r.phase != phaseCollect || !r.waiting.Contains(from) {
		d.logger.Error("unexpected schema info report", zap.Uint32("from", uint32(from)))
		d.fatal("unexpected schema info report", nil, nil)
	}
	r.waiting.Remove(from)
	if f, _, err := schemafile.DecodeFile(p.Pages); err != nil {
		d.restartLogger().Warn("node reported an unreadable schema file", zap.Uint32("node", uint32(from)), zap.Error(err))
	} else {
		d.restartLogger().Info("node reported schema file", zap.Uint32("node", uint32(from)),
			zap.Uint32("entries", f.EntryCount()), zap.Int64("max live id", f.MaxLiveID()))
	}
	if r.waiting.IsEmpty() {
		d.shipSchema()
	}
}

// shipSchema sends the authoritative copy to every node of a system restart.
func (d *Dict) shipSchema() {
	r := d.restart
	newFile := normalizeForRestart(d.store.File(schemafile.Current).Clone())
	r.phase = phaseShip
	r.waiting = d.rt.aliveNodes.Clone()
	d.restartLogger().Info("ship schema file", zap.Stringer("nodes", r.waiting), zap.Uint32("entries", newFile.EntryCount()))
	d.broadcast(r.waiting.Clone(), &schemaInfoReq{Pages: newFile.Encode(), Alive: d.rt.aliveNodes.IDs(), System: true})
}

// shipSchemaToRestartingNode sends the master's copy to a node holding the node
// restart lock.
func (d *Dict) shipSchemaToRestartingNode(node cluster.NodeID) {
	alive := d.rt.aliveNodes.Clone()
	alive.Add(node)
	d.logger.Info("ship schema file to restarting node", zap.Uint32("node", uint32(node)))
	d.sendTo(node, &schemaInfoReq{Pages: d.store.File(schemafile.Current).Encode(), Alive: alive.IDs()})
}

func (d *Dict) handleSchemaInfoReq(from cluster.NodeID, p *schemaInfoReq) {
	r := d.restart
	expected := schemaPhaseFor(p.System)
	if r == nil || r.system != p.System || (r.phase != expected && !(p.System && r.phase == phaseShip)) {
		d.logger.Error("unexpected schema info", zap.Uint32("from", uint32(from)), zap.Bool("system", p.System))
		d.fatal("unexpected schema info", nil, nil)
	}
	f, _, err := schemafile.DecodeFile(p.Pages)
	if err != nil {
		d.fatal("decode schema file from master", nil, errors.Trace(err))
	}
	r.newFile = f
	d.store.SetFile(schemafile.Current, f.Clone())
	d.rt.aliveNodes = cluster.NewNodeSet(p.Alive...)
	d.rt.masterNodeID = from
	r.limit = r.oldFile.Capacity()
	if c := f.Capacity(); c > r.limit {
		r.limit = c
	}
	if p.System {
		d.sendTo(from, &schemaInfoConf{})
		return
	}
	d.startReconcile()
}

func schemaPhaseFor(system bool) restartPhase {
	if system {
		return phaseWaitDone
	}
	return phaseSchema
}

func (d *Dict) handleSchemaInfoConf(from cluster.NodeID) {
	r := d.restart
	if r == nil || !r.system || r.phase != phaseShip || !r.waiting.Contains(from) {
		d.logger.Error("unexpected schema info confirm", zap.Uint32("from", uint32(from)))
		d.fatal("unexpected schema info confirm", nil, nil)
	}
	r.waiting.Remove(from)
	if r.waiting.IsEmpty() {
		d.startReconcile()
	}
}

func (d *Dict) startReconcile() {
	r := d.restart
	r.phase = phaseReconcile
	r.pass, r.nextID, r.passStarted = 0, 0, false
	d.restartLogger().Info("reconcile schema file", zap.Uint32("ids", r.limit))
	d.continueReconcile()
}

// continueReconcile starts the next reconciling transaction. Only one is outstanding
// at a time; the next id is looked at when it ended.
func (d *Dict) continueReconcile() {
	r := d.restart
	for r.pass < NumRestartPasses {
		if !r.passStarted {
			r.passStarted = true
			d.restartLogger().Debug("restart pass started", zap.Int("pass", r.pass))
			d.hook.OnRestartPass(r.pass)
		}
		for r.nextID < r.limit {
			id := r.nextID
			r.nextID++
			if req, target, ok := r.action(id); ok {
				d.runRestartOp(req, target)
				return
			}
		}
		r.pass++
		r.nextID, r.passStarted = 0, false
	}
	d.finishReconcile()
}

func (d *Dict) runRestartOp(req OpRequest, target schemafile.Entry) {
	r := d.restart
	action := "create"
	if req.Type.IsDrop() {
		action = "drop"
	}
	metrics.RestartPassCounter.WithLabelValues(action).Inc()
	d.stats.restartActions.Inc()
	participants := cluster.NewNodeSet(d.id)
	if r.system {
		participants = d.rt.aliveNodes.Clone()
	}
	d.restartLogger().Info("restart "+action, zap.Int("pass", r.pass), zap.Uint32("object", req.ObjectID),
		zap.Stringer("kind", req.Kind), zap.Stringer("target", target))
	d.startTrans(req, target, participants, true, func(t *schemaTrans) {
		t.onDone = func(err error) {
			if err != nil {
				d.fatal("restart schema transaction failed", nil, err)
			}
			d.continueReconcile()
		}
	})
}

func (d *Dict) finishReconcile() {
	r := d.restart
	d.restartLogger().Info("reconcile finished", zap.Duration("take time", time.Since(r.startTime)))
	if r.system {
		r.phase = phaseWaitDone
		d.broadcast(d.rt.aliveNodes.Clone(), &restartDoneOrd{})
		return
	}
	d.completeRestart()
}

func (d *Dict) handleRestartDone(from cluster.NodeID) {
	r := d.restart
	if r == nil || !r.system || r.phase != phaseWaitDone || from != d.rt.masterNodeID {
		d.logger.Error("unexpected restart done", zap.Uint32("from", uint32(from)))
		d.fatal("unexpected restart done", nil, nil)
	}
	d.completeRestart()
}

// completeRestart merges both copies and opens the node for DDL.
func (d *Dict) completeRestart() {
	r := d.restart
	if err := d.store.Resize(r.newFile.EntryCount()); err != nil {
		d.restartLogger().Warn("shrink schema file after restart", zap.Error(err))
	}
	if err := d.store.Merge(); err != nil {
		d.fatal("merge schema file", nil, err)
	}
	d.restartLogger().Info("restart finished", zap.Int("objects", d.reg.Len()),
		zap.Duration("take time", time.Since(r.startTime)))
	d.restart = nil
	d.ready.Store(true)
	d.setBlockState(BlockIdle)
	if !r.system {
		d.sendTo(d.rt.masterNodeID, &DictUnlockOrd{Type: LockNodeRestart, Data: uint32(d.id)})
	}
	d.hook.OnReady()
}

// restartNodeFailed folds a node failure into a running restart.
func (d *Dict) restartNodeFailed(failed cluster.NodeID, wasMaster bool) {
	r := d.restart
	switch {
	case r.system && wasMaster:
		d.fatal("master failed during system restart", nil, nil)
	case !r.system && wasMaster && r.phase == phaseLock:
		d.restartLogger().Info("master failed before node restart lock was granted, ask the new master",
			zap.Uint32("master", uint32(d.rt.masterNodeID)))
		d.requestRestartLock()
	case !r.system && wasMaster:
		d.fatal("master failed while holding the node restart lock", nil, nil)
	case r.system && d.isMaster() && r.waiting != nil && r.waiting.Contains(failed):
		r.waiting.Remove(failed)
		if !r.waiting.IsEmpty() {
			return
		}
		switch r.phase {
		case phaseCollect:
			d.shipSchema()
		case phaseShip:
			d.startReconcile()
		}
	}
}

// nodeRestartDone admits a node that finished its node restart.
func (d *Dict) nodeRestartDone(node cluster.NodeID) {
	d.rt.aliveNodes.Add(node)
	others := d.rt.aliveNodes.Clone()
	others.Remove(d.id)
	d.logger.Info("node restart finished", zap.Uint32("node", uint32(node)), zap.Stringer("alive nodes", d.rt.aliveNodes))
	d.broadcast(others, &nodeStartRep{Node: node})
}
