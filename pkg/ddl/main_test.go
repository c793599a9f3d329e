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
	"sync"
	"testing"
	"time"

	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	clientNode cluster.NodeID = 60
	rawNode    cluster.NodeID = 61
)

// testCluster is a set of dictionary nodes on one bus. Messages only move when the
// test steps the bus.
type testCluster struct {
	t       *testing.T
	bus     *cluster.Bus
	fs      afero.Fs
	dicts   map[cluster.NodeID]*Dict
	optsFor func(id cluster.NodeID) []Option
	client  *Client
	raw     *rawEndpoint
}

func nodeIDs(n int) []cluster.NodeID {
	ids := make([]cluster.NodeID, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, cluster.NodeID(i))
	}
	return ids
}

func newTestCluster(t *testing.T, n int, optsFor func(id cluster.NodeID) []Option) *testCluster {
	return newTestClusterOnFs(t, afero.NewMemMapFs(), n, optsFor)
}

// newTestClusterOnFs system restarts n nodes whose schema files live on fs.
func newTestClusterOnFs(t *testing.T, fs afero.Fs, n int, optsFor func(id cluster.NodeID) []Option) *testCluster {
	tc := &testCluster{
		t:       t,
		bus:     cluster.NewBus(),
		fs:      fs,
		dicts:   make(map[cluster.NodeID]*Dict),
		optsFor: optsFor,
		raw:     &rawEndpoint{},
	}
	t.Cleanup(tc.bus.Close)
	tc.client = NewClient(clientNode, tc.bus)
	tc.bus.Register(clientNode, tc.client)
	tc.bus.Register(rawNode, tc.raw)

	alive := nodeIDs(n)
	for _, id := range alive {
		tc.addNode(id)
	}
	for _, id := range alive {
		tc.dicts[id].StartSystemRestart(alive)
	}
	tc.bus.Drain()
	for _, id := range alive {
		require.True(t, tc.dicts[id].Ready(), "node %d", id)
		require.Equal(t, BlockIdle, tc.dicts[id].Runtime().BlockState())
	}
	return tc
}

func dataDir(id cluster.NodeID) string {
	return fmt.Sprintf("/data/node%d", id)
}

// addNode creates the dictionary of id, replacing an older incarnation.
func (tc *testCluster) addNode(id cluster.NodeID) *Dict {
	opts := []Option{WithPollInterval(time.Millisecond), WithMaxObjects(1024)}
	if tc.optsFor != nil {
		opts = append(opts, tc.optsFor(id)...)
	}
	d := NewDict(id, tc.bus, schemafile.NewStore(tc.fs, dataDir(id)), opts...)
	tc.dicts[id] = d
	tc.bus.Register(id, d)
	return d
}

func (tc *testCluster) dict(id cluster.NodeID) *Dict {
	return tc.dicts[id]
}

func (tc *testCluster) fail(id cluster.NodeID) {
	tc.bus.FailNode(id)
	delete(tc.dicts, id)
}

// settle delivers messages, timers included, until cond holds.
func (tc *testCluster) settle(cond func() bool) {
	require.Eventually(tc.t, func() bool {
		tc.bus.Drain()
		return cond()
	}, 5*time.Second, time.Millisecond)
}

func (tc *testCluster) submit(to cluster.NodeID, op OpRequest) uint32 {
	data, err := tc.client.Submit(to, op)
	require.NoError(tc.t, err)
	return data
}

func (tc *testCluster) result(data uint32) Result {
	r, ok := tc.client.Result(data)
	require.True(tc.t, ok, "no reply for request %d", data)
	return r
}

// run submits op to node to, drains the bus and returns the reply.
func (tc *testCluster) run(to cluster.NodeID, op OpRequest) Result {
	data := tc.submit(to, op)
	tc.bus.Drain()
	return tc.result(data)
}

func (tc *testCluster) entry(node cluster.NodeID, id uint32) schemafile.Entry {
	e, err := tc.dicts[node].Entry(id)
	require.NoError(tc.t, err)
	return e
}

// requireConverged checks every node holds byte identical schema files.
func (tc *testCluster) requireConverged() {
	var first *schemafile.File
	for _, id := range cluster.NewNodeSet(keys(tc.dicts)...).IDs() {
		d := tc.dicts[id]
		cur := d.Store().File(schemafile.Current)
		require.True(tc.t, cur.Equal(d.Store().File(schemafile.Old)), "node %d copies differ", id)
		if first == nil {
			first = cur
			continue
		}
		require.True(tc.t, first.Equal(cur), "node %d differs", id)
	}
}

// requireConvergedCurrent checks every node runs on byte identical current copies.
func (tc *testCluster) requireConvergedCurrent() {
	var first *schemafile.File
	for _, d := range tc.dicts {
		cur := d.Store().File(schemafile.Current)
		if first == nil {
			first = cur
			continue
		}
		require.True(tc.t, first.Equal(cur), "node %d differs", d.ID())
	}
}

func keys(m map[cluster.NodeID]*Dict) []cluster.NodeID {
	ids := make([]cluster.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// rawEndpoint records what it receives and lets a test speak the protocol by hand.
type rawEndpoint struct {
	mu   sync.Mutex
	msgs []*cluster.Message
}

func (r *rawEndpoint) Handle(msg *cluster.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *rawEndpoint) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return nil
	}
	return r.msgs[len(r.msgs)-1].Payload
}

// recordingStorage remembers every storage call and answers on the worker.
type recordingStorage struct {
	mu    sync.Mutex
	calls []string
	async bool
	wg    sync.WaitGroup
}

func (s *recordingStorage) record(call string, op *SchemaOp, done func(error)) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf("%s %d", call, op.ObjectID()))
	s.mu.Unlock()
	if !s.async {
		done(nil)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		done(nil)
	}()
}

func (s *recordingStorage) PrepareFile(op *SchemaOp, done func(error)) { s.record("prepare", op, done) }
func (s *recordingStorage) CommitFile(op *SchemaOp, done func(error))  { s.record("commit", op, done) }
func (s *recordingStorage) AbortFile(op *SchemaOp, done func(error))   { s.record("abort", op, done) }

func (s *recordingStorage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// pausingHandler leaves a create table op pending at prepare complete or at commit
// until resume is called.
type pausingHandler struct {
	createTableHandler
	atCommit bool

	ctx OpContext
	op  *SchemaOp
}

func (h *pausingHandler) PrepareComplete(ctx OpContext, op *SchemaOp) {
	if h.atCommit {
		h.createTableHandler.PrepareComplete(ctx, op)
		return
	}
	h.ctx, h.op = ctx, op
}

func (h *pausingHandler) Commit(ctx OpContext, op *SchemaOp) {
	if !h.atCommit {
		h.createTableHandler.Commit(ctx, op)
		return
	}
	h.ctx, h.op = ctx, op
}

func (h *pausingHandler) paused() bool {
	return h.op != nil
}

func (h *pausingHandler) resume(err error) {
	h.ctx.CompleteAsync(h.op, err)
	h.ctx, h.op = nil, nil
}
