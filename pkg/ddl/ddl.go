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

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/config"
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Options represents all the options of the dictionary.
type Options struct {
	Hook             Callback
	Storage          StorageNotifier
	PollInterval     time.Duration
	SingleUser       bool
	APINode          cluster.NodeID
	MaxObjects       uint32
	StringBufferSize int
	Handlers         map[OpType]OpHandler
}

// Option represents an option to initialize the dictionary.
type Option func(*Options)

// WithHook specifies the hook of the dictionary.
func WithHook(callback Callback) Option {
	return func(options *Options) {
		options.Hook = callback
	}
}

// WithStorage specifies the storage block notified about file operations.
func WithStorage(storage StorageNotifier) Option {
	return func(options *Options) {
		options.Storage = storage
	}
}

// WithPollInterval specifies how often a pending dict lock is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(options *Options) {
		options.PollInterval = d
	}
}

// WithSingleUser restricts DDL to requests from apiNode.
func WithSingleUser(apiNode cluster.NodeID) Option {
	return func(options *Options) {
		options.SingleUser = true
		options.APINode = apiNode
	}
}

// WithMaxObjects specifies the size of the object id space.
func WithMaxObjects(n uint32) Option {
	return func(options *Options) {
		options.MaxObjects = n
	}
}

// WithHandler replaces the dispatch table row of t.
func WithHandler(t OpType, h OpHandler) Option {
	return func(options *Options) {
		if options.Handlers == nil {
			options.Handlers = make(map[OpType]OpHandler)
		}
		options.Handlers[t] = h
	}
}

// WithConfig applies the dictionary related sections of conf.
func WithConfig(conf *config.Config) Option {
	return func(options *Options) {
		options.PollInterval = conf.GetPollInterval()
		options.MaxObjects = conf.MaxObjects
		options.StringBufferSize = conf.StringBufferSize
		if conf.SingleUser.Enabled {
			options.SingleUser = true
			options.APINode = cluster.NodeID(conf.SingleUser.APINode)
		}
	}
}

// Stats is a snapshot of the dictionary counters.
type Stats struct {
	Committed       uint64
	Aborted         uint64
	Rejected        uint64
	PartialFailures uint64
	RestartActions  uint64
}

type stats struct {
	committed       atomic.Uint64
	aborted         atomic.Uint64
	rejected        atomic.Uint64
	partialFailures atomic.Uint64
	restartActions  atomic.Uint64
}

// Dict is the dictionary block of one node. All its state is owned by the node's worker:
// every method except the exported accessors documented otherwise runs from Handle.
type Dict struct {
	id       cluster.NodeID
	uuid     string
	tr       cluster.Transport
	store    *schemafile.Store
	reg      *registry.Registry
	handlers [numOpTypes]OpHandler
	storage  StorageNotifier
	hook     Callback
	opts     *Options
	logger   *zap.Logger

	rt    RuntimeState
	ready atomic.Bool

	// Coordinator side.
	nextKey  uint32
	trans    *schemaTrans
	takeover *takeoverState

	// Participant side.
	ops          map[TransID]*SchemaOp
	lastFinished *finishedOp

	locks   lockQueue
	restart *restartState
	// earlyReps are schema file reports that arrived before this node's own restart order.
	earlyReps []*cluster.Message

	stats stats
}

// NewDict creates the dictionary of node id. It does nothing until a restart is started.
func NewDict(id cluster.NodeID, tr cluster.Transport, store *schemafile.Store, options ...Option) *Dict {
	opt := &Options{
		Hook:             &BaseCallback{},
		Storage:          ackStorage{},
		PollInterval:     100 * time.Millisecond,
		MaxObjects:       config.NewConfig().MaxObjects,
		StringBufferSize: config.NewConfig().StringBufferSize,
	}
	for _, o := range options {
		o(opt)
	}

	d := &Dict{
		id:       id,
		uuid:     uuid.New().String(),
		tr:       tr,
		store:    store,
		reg:      registry.New(opt.MaxObjects, opt.StringBufferSize),
		handlers: defaultHandlers(),
		storage:  opt.Storage,
		hook:     opt.Hook,
		opts:     opt,
		logger:   logutil.DictLogger(uint32(id)),
		ops:      make(map[TransID]*SchemaOp),
	}
	for t, h := range opt.Handlers {
		d.handlers[t] = h
	}
	d.rt.aliveNodes = cluster.NewNodeSet()
	d.rt.blockState = BlockNodeRestart
	d.logger.Info("new dictionary", zap.String("ID", d.uuid))
	return d
}

// ID returns the node id of d.
func (d *Dict) ID() cluster.NodeID {
	return d.id
}

// Ready reports whether d accepts DDL. It is safe to call from any goroutine.
func (d *Dict) Ready() bool {
	return d.ready.Load()
}

// Runtime returns the runtime state. It must only be read while the worker is idle.
func (d *Dict) Runtime() *RuntimeState {
	return &d.rt
}

// Store returns the schema file store of d.
func (d *Dict) Store() *schemafile.Store {
	return d.store
}

// Registry implements OpContext interface.
func (d *Dict) Registry() *registry.Registry {
	return d.reg
}

// Storage implements OpContext interface.
func (d *Dict) Storage() StorageNotifier {
	return d.storage
}

// Stats returns the dictionary counters. It is safe to call from any goroutine.
func (d *Dict) Stats() Stats {
	return Stats{
		Committed:       d.stats.committed.Load(),
		Aborted:         d.stats.aborted.Load(),
		Rejected:        d.stats.rejected.Load(),
		PartialFailures: d.stats.partialFailures.Load(),
		RestartActions:  d.stats.restartActions.Load(),
	}
}

// Entry implements OpContext interface. Ids beyond the file but inside the id space are Init.
func (d *Dict) Entry(id uint32) (schemafile.Entry, error) {
	if id >= d.reg.MaxObjects() {
		return schemafile.Entry{}, ErrInvalidObjectID.GenWithStackByArgs(id)
	}
	f := d.store.File(schemafile.Current)
	if id >= f.Capacity() {
		return schemafile.Entry{}, nil
	}
	e, err := f.Entry(id)
	if err != nil {
		return schemafile.Entry{}, errors.Trace(err)
	}
	return *e, nil
}

// UpdateEntry implements OpContext interface.
func (d *Dict) UpdateEntry(op *SchemaOp, e schemafile.Entry, cb func(error)) {
	id := op.Req.ObjectID
	f := d.store.File(schemafile.Current)
	// The entry count is in every page header.
	grown := f.Extend(id + 1)
	ptr, err := f.Entry(id)
	if err != nil {
		cb(errors.Trace(err))
		return
	}
	*ptr = e
	op.entryTouched = true
	if grown {
		cb(d.store.PersistAll(schemafile.Current))
		return
	}
	d.store.Persist(schemafile.Current, schemafile.PageOf(id), 1, cb)
}

// Handle implements cluster.Endpoint interface.
func (d *Dict) Handle(msg *cluster.Message) {
	switch p := msg.Payload.(type) {
	case *SchemaTransReq:
		d.handleTransReq(msg.From, p)
	case *prepareReq:
		d.handlePrepareReq(msg.From, p)
	case *commitReq:
		d.handleCommitReq(msg.From, p)
	case *abortReq:
		d.handleAbortReq(msg.From, p)
	case *opCompleteOrd:
		d.handleOpCompleteOrd(p)
	case *prepareConf:
		d.handlePrepareReply(msg.From, p.Trans, nil)
	case *prepareRef:
		d.handlePrepareReply(msg.From, p.Trans, p.Err)
	case *commitConf:
		d.handleCommitConf(msg.From, p.Trans)
	case *abortConf:
		d.handleAbortConf(msg.From, p.Trans)
	case *DictLockReq:
		d.handleDictLockReq(msg.From, p)
	case *DictUnlockOrd:
		d.handleDictUnlockOrd(msg.From, p)
	case *lockPoll:
		d.handleLockPoll()
	case *DictLockConf:
		d.handleDictLockConf(msg.From, p)
	case *DictLockRef:
		d.handleDictLockRef(msg.From, p)
	case *cluster.NodeFailRep:
		d.handleNodeFail(p.Failed)
	case *nodeStartRep:
		d.handleNodeStart(p.Node)
	case *takeoverReq:
		d.handleTakeoverReq(msg.From)
	case *takeoverConf:
		d.handleTakeoverConf(msg.From, p)
	case *restartOrd:
		d.handleRestartOrd(p)
	case *schemaInfoRep:
		d.handleSchemaInfoRep(msg.From, p)
	case *schemaInfoReq:
		d.handleSchemaInfoReq(msg.From, p)
	case *schemaInfoConf:
		d.handleSchemaInfoConf(msg.From)
	case *restartDoneOrd:
		d.handleRestartDone(msg.From)
	case *restartLockRetry:
		d.handleRestartLockRetry()
	default:
		d.logger.Warn("ignore unexpected message", zap.Stringer("message", msg))
	}
}

func (d *Dict) sendTo(to cluster.NodeID, payload any) {
	if err := d.tr.Send(&cluster.Message{From: d.id, To: to, Payload: payload}); err != nil {
		d.logger.Warn("send failed", zap.Uint32("to", uint32(to)), zap.Error(err))
	}
}

func (d *Dict) broadcast(set *cluster.NodeSet, payload any) {
	cluster.Broadcast(d.tr, d.id, set, payload)
}

// fatal handles a broken protocol invariant. There is no way to continue safely.
func (d *Dict) fatal(msg string, op *SchemaOp, err error) {
	fields := []zap.Field{zap.Stringer("block state", d.rt.blockState)}
	if op != nil {
		fields = append(fields, zap.Stringer("op", op))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	d.logger.Error(msg, fields...)
	panic(errors.Errorf("node %d: %s", d.id, msg))
}
