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

package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/util"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"go.uber.org/zap"
)

// ErrNodeUnreachable is returned when the destination node is not registered.
var ErrNodeUnreachable = errors.New("node unreachable")

// Message is one signal between two endpoints.
type Message struct {
	From    NodeID
	To      NodeID
	Payload any
}

// String implements fmt.Stringer interface.
func (m *Message) String() string {
	return fmt.Sprintf("%d->%d %T", m.From, m.To, m.Payload)
}

// NodeFailRep is delivered to every surviving endpoint when a node fails.
type NodeFailRep struct {
	Failed NodeID
}

// Endpoint consumes messages. Handle runs to completion and must not block.
type Endpoint interface {
	Handle(msg *Message)
}

// Transport is what an endpoint uses to talk to the rest of the cluster.
type Transport interface {
	// Send queues msg for delivery to msg.To.
	Send(msg *Message) error
	// SendAfter queues msg for delivery after d.
	SendAfter(d time.Duration, msg *Message)
}

// Broadcast sends payload from one node to every node of set. Unreachable nodes are
// skipped; their failure is reported separately through NodeFailRep.
func Broadcast(tr Transport, from NodeID, set *NodeSet, payload any) {
	for _, id := range set.IDs() {
		if err := tr.Send(&Message{From: from, To: id, Payload: payload}); err != nil {
			logutil.BgLogger().Warn("broadcast skipped unreachable node",
				zap.Uint32("from", uint32(from)), zap.Uint32("to", uint32(id)), zap.Error(err))
		}
	}
}

// Bus is an in-process Transport. One delivery loop hands messages, one at a time,
// to their endpoints, so every endpoint observes single-threaded execution.
// Step, Drain and Run must not be used concurrently.
type Bus struct {
	mu        sync.Mutex
	endpoints map[NodeID]Endpoint
	queue     []*Message
	timers    map[*time.Timer]struct{}
	closed    bool
	notifyCh  chan struct{}
	delivered uint64

	wg     util.WaitGroupWrapper
	cancel context.CancelFunc
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		endpoints: make(map[NodeID]Endpoint),
		timers:    make(map[*time.Timer]struct{}),
		notifyCh:  make(chan struct{}, 1),
	}
}

// Register attaches ep as node id.
func (b *Bus) Register(id NodeID, ep Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[id] = ep
}

// Nodes returns the set of registered node ids.
func (b *Bus) Nodes() *NodeSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := NewNodeSet()
	for id := range b.endpoints {
		s.Add(id)
	}
	return s
}

// Send implements Transport interface.
func (b *Bus) Send(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus closed")
	}
	if _, ok := b.endpoints[msg.To]; !ok {
		return errors.Annotatef(ErrNodeUnreachable, "node %d", msg.To)
	}
	b.queue = append(b.queue, msg)
	asyncNotify(b.notifyCh)
	return nil
}

// SendAfter implements Transport interface.
func (b *Bus) SendAfter(d time.Duration, msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		_ = b.Send(msg)
	})
	b.timers[timer] = struct{}{}
}

func asyncNotify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued messages.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Delivered returns the number of messages handed to endpoints so far.
func (b *Bus) Delivered() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delivered
}

// Step delivers the oldest queued message. It returns false if the queue was empty.
func (b *Bus) Step() bool {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return false
	}
	msg := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	ep, ok := b.endpoints[msg.To]
	if ok {
		b.delivered++
	}
	b.mu.Unlock()

	if ok {
		ep.Handle(msg)
	}
	return true
}

// Drain delivers messages until the queue is empty and returns how many were processed.
func (b *Bus) Drain() int {
	n := 0
	for b.Step() {
		n++
	}
	return n
}

// Shuffle randomly interleaves the queued messages. Messages between the same pair
// of nodes keep their relative order.
func (b *Bus) Shuffle(seed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	type pair struct{ from, to NodeID }
	streams := make(map[pair][]*Message)
	var keys []pair
	for _, m := range b.queue {
		k := pair{m.From, m.To}
		if _, ok := streams[k]; !ok {
			keys = append(keys, k)
		}
		streams[k] = append(streams[k], m)
	}
	rnd := rand.New(rand.NewSource(seed))
	queue := make([]*Message, 0, len(b.queue))
	for len(keys) > 0 {
		i := rnd.Intn(len(keys))
		k := keys[i]
		queue = append(queue, streams[k][0])
		streams[k] = streams[k][1:]
		if len(streams[k]) == 0 {
			keys = append(keys[:i], keys[i+1:]...)
		}
	}
	b.queue = queue
}

// FailNode removes node id from the bus, drops every queued message from or to it and
// queues a NodeFailRep for every surviving endpoint.
func (b *Bus) FailNode(id NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.endpoints[id]; !ok {
		return
	}
	delete(b.endpoints, id)
	queue := b.queue[:0]
	for _, m := range b.queue {
		if m.From != id && m.To != id {
			queue = append(queue, m)
		}
	}
	b.queue = queue
	survivors := make([]NodeID, 0, len(b.endpoints))
	for n := range b.endpoints {
		survivors = append(survivors, n)
	}
	for _, n := range NewNodeSet(survivors...).IDs() {
		b.queue = append(b.queue, &Message{From: id, To: n, Payload: &NodeFailRep{Failed: id}})
	}
	asyncNotify(b.notifyCh)
	logutil.BgLogger().Info("node failed", zap.Uint32("node", uint32(id)), zap.Int("survivors", len(survivors)))
}

// Start runs the delivery loop in the background until Close is called.
func (b *Bus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.RunWithRecover(func() {
		for {
			b.Drain()
			select {
			case <-ctx.Done():
				return
			case <-b.notifyCh:
			}
		}
	}, func(r any) {
		logutil.BgLogger().Error("bus delivery loop panicked", zap.Error(util.GetRecoverError(r)))
	})
}

// Close stops timers and the delivery loop. Queued messages are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = make(map[*time.Timer]struct{})
	b.queue = nil
	b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}
