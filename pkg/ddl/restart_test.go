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
	"testing"

	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// seedSchemaFile writes a schema file holding entries to the data directory of node.
func seedSchemaFile(t *testing.T, fs afero.Fs, node cluster.NodeID, entryCount uint32, entries map[uint32]schemafile.Entry) {
	s := schemafile.NewStore(fs, dataDir(node))
	require.NoError(t, s.Init(entryCount))
	for id, e := range entries {
		p, err := s.Entry(id)
		require.NoError(t, err)
		*p = e
	}
	require.NoError(t, s.PersistAll(schemafile.Current))
}

func committed(kind schemafile.ObjectKind, version uint32) schemafile.Entry {
	return schemafile.Entry{State: schemafile.TableAddCommitted, Version: version, Kind: kind, GCP: 1}
}

func TestSystemRestartReconciles(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedSchemaFile(t, fs, 1, schemafile.EntriesPerPage, map[uint32]schemafile.Entry{
		1: committed(schemafile.KindLogfileGroup, 1),
		2: committed(schemafile.KindTablespace, 1),
		3: {State: schemafile.AddStarted, Version: 1, Kind: schemafile.KindDatafile},
		4: {State: schemafile.TemporaryTableCommitted, Version: 1, Kind: schemafile.KindUserTable, GCP: 2},
		5: committed(schemafile.KindUserTable, 3),
		6: committed(schemafile.KindOrderedIndex, 1),
		8: {State: schemafile.DropTableStarted, Version: 2, Kind: schemafile.KindUserTable, GCP: 3},
	})
	// The copy of node 2 is stale, the master's copy wins.
	seedSchemaFile(t, fs, 2, schemafile.EntriesPerPage, map[uint32]schemafile.Entry{
		5: committed(schemafile.KindUserTable, 2),
		9: committed(schemafile.KindUserTable, 1),
	})

	var passes []int
	hook := &TestDDLCallback{BaseCallback: &BaseCallback{}}
	hook.OnRestartPassExported = func(pass int) {
		passes = append(passes, pass)
	}
	storages := map[cluster.NodeID]*recordingStorage{1: {}, 2: {}, 3: {}}
	tc := newTestClusterOnFs(t, fs, 3, func(id cluster.NodeID) []Option {
		opts := []Option{WithStorage(storages[id])}
		if id == 1 {
			opts = append(opts, WithHook(hook))
		}
		return opts
	})

	tc.requireConverged()
	expected := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	require.Equal(t, expected, passes)
	require.Equal(t, uint64(10), tc.dict(1).Stats().RestartActions)
	require.Equal(t, []string{"prepare 3", "commit 3", "commit 3"}, storages[2].Calls())

	for id := range tc.dicts {
		for _, oid := range []uint32{1, 2, 5, 6} {
			require.Equal(t, schemafile.TableAddCommitted, tc.entry(id, oid).State, "node %d object %d", id, oid)
		}
		require.Equal(t, uint32(3), tc.entry(id, 5).Version)
		require.Equal(t, schemafile.Entry{State: schemafile.Init, Version: 1, Kind: schemafile.KindDatafile}, tc.entry(id, 3))
		require.Equal(t, schemafile.DropTableCommitted, tc.entry(id, 4).State)
		require.Equal(t, schemafile.DropTableCommitted, tc.entry(id, 8).State)
		require.Equal(t, uint32(2), tc.entry(id, 8).Version)
		require.False(t, tc.entry(id, 9).Exists())

		reg := tc.dict(id).Registry()
		require.Equal(t, 4, reg.Len(), "node %d", id)
		for _, oid := range []uint32{3, 4, 8, 9} {
			require.False(t, reg.IsAllocated(oid), "node %d object %d", id, oid)
		}
	}

	// A temporary table is gone, its id is free again.
	res := tc.run(2, NewCreateRequest(schemafile.KindUserTable, 4, 0, "t4"))
	require.NoError(t, res.Err)
	require.Equal(t, uint32(2), res.Version)
}

func TestSystemRestartKeepsCommittedObjects(t *testing.T) {
	tc := newTestCluster(t, 3, nil)
	run := func(req OpRequest, parent uint32) Result {
		req.Parent = parent
		res := tc.run(2, req)
		require.NoError(t, res.Err)
		return res
	}
	run(NewCreateRequest(schemafile.KindLogfileGroup, 1, 1, "lg"), registry.NoParent)
	run(NewCreateRequest(schemafile.KindTablespace, 2, 1, "ts"), 1)
	run(NewCreateRequest(schemafile.KindDatafile, 3, 1, "df"), 2)
	table := run(NewCreateRequest(schemafile.KindUserTable, registry.NoHint, 1, "t"), registry.NoParent)
	index := run(NewCreateRequest(schemafile.KindOrderedIndex, registry.NoHint, 1, "t_idx"), table.ObjectID)
	dropped := run(NewCreateRequest(schemafile.KindUserTable, registry.NoHint, 1, "gone"), registry.NoParent)
	run(NewDropRequest(schemafile.KindUserTable, dropped.ObjectID, 1), registry.NoParent)
	before := tc.entry(1, table.ObjectID)
	tc.bus.Close()

	rebooted := newTestClusterOnFs(t, tc.fs, 3, nil)
	rebooted.requireConverged()
	for id := range rebooted.dicts {
		require.Equal(t, before, rebooted.entry(id, table.ObjectID))
		require.Equal(t, 5, rebooted.dict(id).Registry().Len(), "node %d", id)
		require.Equal(t, schemafile.DropTableCommitted, rebooted.entry(id, dropped.ObjectID).State)
		parent, ok := rebooted.entry(id, index.ObjectID).Parent()
		require.True(t, ok)
		require.Equal(t, table.ObjectID, parent)
		rec, ok := rebooted.dict(id).Registry().Lookup(1)
		require.True(t, ok)
		require.Equal(t, 1, rec.Refs(), "node %d", id)
	}

	// References survive the restart.
	res := rebooted.run(3, NewDropRequest(schemafile.KindLogfileGroup, 1, 1))
	require.True(t, ErrObjectInUse.Equal(res.Err), "%v", res.Err)
	res = rebooted.run(3, NewDropRequest(schemafile.KindUserTable, table.ObjectID, 1))
	require.True(t, ErrObjectInUse.Equal(res.Err), "%v", res.Err)
	for id := range rebooted.dicts {
		require.Equal(t, schemafile.TableAddCommitted, rebooted.entry(id, 1).State)
		require.Equal(t, schemafile.TableAddCommitted, rebooted.entry(id, table.ObjectID).State)
	}
	res = rebooted.run(3, NewDropRequest(schemafile.KindOrderedIndex, index.ObjectID, 1))
	require.NoError(t, res.Err)
	res = rebooted.run(3, NewDropRequest(schemafile.KindUserTable, table.ObjectID, 1))
	require.NoError(t, res.Err)

	// Names are not kept in the schema file.
	_, ok := rebooted.dict(1).Registry().FindByName("ts")
	require.False(t, ok)
	res = rebooted.run(3, NewCreateRequest(schemafile.KindUserTable, registry.NoHint, 1, "ts"))
	require.NoError(t, res.Err)
	res = rebooted.run(3, NewCreateRequest(schemafile.KindUserTable, registry.NoHint, 1, "ts"))
	require.True(t, ErrObjectExists.Equal(res.Err), "%v", res.Err)
}

func TestIndexOnTemporaryTable(t *testing.T) {
	tc := newTestCluster(t, 3, nil)
	req := NewCreateRequest(schemafile.KindUserTable, registry.NoHint, 1, "tmp")
	req.Temporary = true
	table := tc.run(1, req)
	require.NoError(t, table.Err)

	req = NewCreateRequest(schemafile.KindOrderedIndex, registry.NoHint, 1, "tmp_idx")
	req.Parent = table.ObjectID
	res := tc.run(1, req)
	require.True(t, ErrInvalidOpRequest.Equal(res.Err), "%v", res.Err)
	req.Temporary = true
	res = tc.run(1, req)
	require.NoError(t, res.Err)
	for id := range tc.dicts {
		require.Equal(t, schemafile.TemporaryTableCommitted, tc.entry(id, res.ObjectID).State)
	}
}

func TestSystemRestartWithoutSilentNode(t *testing.T) {
	tc := newTestCluster(t, 0, nil)
	alive := nodeIDs(3)
	for _, id := range alive {
		tc.addNode(id)
	}
	tc.dict(1).StartSystemRestart(alive)
	tc.dict(2).StartSystemRestart(alive)
	tc.bus.Drain()
	require.False(t, tc.dict(1).Ready())
	require.Equal(t, phaseCollect, tc.dict(1).restart.phase)

	tc.fail(3)
	tc.bus.Drain()
	for _, id := range []cluster.NodeID{1, 2} {
		d := tc.dict(id)
		require.True(t, d.Ready(), "node %d", id)
		require.Equal(t, []cluster.NodeID{1, 2}, d.Runtime().AliveNodes().IDs())
	}
	tc.requireConverged()
	require.NoError(t, tc.run(2, NewCreateRequest(schemafile.KindUserTable, 7, 1, "t7")).Err)
}

func TestNodeRestartReplaysMissedChanges(t *testing.T) {
	var passes []int
	hook := &TestDDLCallback{BaseCallback: &BaseCallback{}}
	hook.OnRestartPassExported = func(pass int) {
		passes = append(passes, pass)
	}
	tc := newTestCluster(t, 3, func(id cluster.NodeID) []Option {
		if id == 3 {
			return []Option{WithHook(hook)}
		}
		return nil
	})
	require.NoError(t, tc.run(1, NewCreateRequest(schemafile.KindUserTable, 7, 1, "t7")).Err)
	require.NoError(t, tc.run(1, NewCreateRequest(schemafile.KindUserTable, 8, 1, "t8")).Err)
	tc.fail(3)
	tc.bus.Drain()
	require.NoError(t, tc.run(2, NewDropRequest(schemafile.KindUserTable, 7, 1)).Err)
	require.NoError(t, tc.run(2, NewCreateRequest(schemafile.KindUserTable, 9, 1, "t9")).Err)

	passes = nil
	n3 := tc.addNode(3)
	n3.StartNodeRestart([]cluster.NodeID{1, 2})
	tc.settle(func() bool {
		_, granted := tc.dict(1).GrantedLock()
		return n3.Ready() && !granted
	})

	require.Len(t, passes, NumRestartPasses)
	require.Equal(t, uint64(4), n3.Stats().RestartActions)
	require.Equal(t, schemafile.DropTableCommitted, tc.entry(3, 7).State)
	require.Equal(t, schemafile.TableAddCommitted, tc.entry(3, 8).State)
	require.Equal(t, schemafile.TableAddCommitted, tc.entry(3, 9).State)
	reg := n3.Registry()
	require.False(t, reg.IsAllocated(7))
	require.True(t, reg.IsAllocated(8))
	require.True(t, reg.IsAllocated(9))
	tc.requireConvergedCurrent()
}

func TestNodeRestartShrinksSchemaFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedSchemaFile(t, fs, 3, 301, map[uint32]schemafile.Entry{
		300: committed(schemafile.KindUserTable, 1),
	})
	tc := newTestClusterOnFs(t, fs, 2, nil)
	n3 := tc.addNode(3)
	n3.StartNodeRestart([]cluster.NodeID{1, 2})
	tc.settle(func() bool {
		_, granted := tc.dict(1).GrantedLock()
		return n3.Ready() && !granted
	})

	require.Equal(t, uint64(2), n3.Stats().RestartActions)
	cur := n3.Store().File(schemafile.Current)
	require.Equal(t, tc.dict(1).Store().File(schemafile.Current).NoOfPages(), cur.NoOfPages())
	require.Equal(t, int64(-1), cur.MaxLiveID())
	require.False(t, tc.entry(3, 300).Exists())
	require.False(t, n3.Registry().IsAllocated(300))
	tc.requireConverged()
}

func TestRestartAction(t *testing.T) {
	oldFile := schemafile.NewFile(schemafile.EntriesPerPage)
	newFile := schemafile.NewFile(schemafile.EntriesPerPage)
	set := func(f *schemafile.File, id uint32, e schemafile.Entry) {
		p, err := f.Entry(id)
		require.NoError(t, err)
		*p = e
	}
	// 1 is kept, 2 changed version, 3 is new.
	set(oldFile, 1, committed(schemafile.KindUserTable, 1))
	set(newFile, 1, committed(schemafile.KindUserTable, 1))
	set(oldFile, 2, committed(schemafile.KindUserTable, 1))
	set(newFile, 2, committed(schemafile.KindUserTable, 2))
	set(newFile, 3, committed(schemafile.KindHashIndex, 1))
	r := &restartState{oldFile: oldFile, newFile: newFile, limit: oldFile.Capacity()}

	type action struct {
		pass int
		id   uint32
		drop bool
	}
	var got []action
	for r.pass = 0; r.pass < NumRestartPasses; r.pass++ {
		for id := uint32(0); id < r.limit; id++ {
			if req, target, ok := r.action(id); ok {
				got = append(got, action{r.pass, id, req.Type.IsDrop()})
				if id == 2 && req.Type.IsDrop() {
					require.Equal(t, schemafile.DropTableCommitted, target.State)
					require.Equal(t, uint32(1), target.Version)
				}
			}
		}
	}
	require.Equal(t, []action{
		{3, 1, false}, {3, 2, false},
		{6, 2, true},
		{13, 2, false},
		{14, 3, false},
	}, got)
}

func TestNormalizeForRestart(t *testing.T) {
	f := schemafile.NewFile(schemafile.EntriesPerPage)
	states := map[uint32]schemafile.TableState{
		1: schemafile.AddStarted,
		2: schemafile.DropTableStarted,
		3: schemafile.TemporaryTableCommitted,
		4: schemafile.TableAddCommitted,
		5: schemafile.AlterTableCommitted,
	}
	for id, s := range states {
		p, err := f.Entry(id)
		require.NoError(t, err)
		*p = schemafile.Entry{State: s, Version: 4, Kind: schemafile.KindUserTable}
	}
	normalizeForRestart(f)
	expected := map[uint32]schemafile.TableState{
		1: schemafile.Init,
		2: schemafile.DropTableCommitted,
		3: schemafile.DropTableCommitted,
		4: schemafile.TableAddCommitted,
		5: schemafile.AlterTableCommitted,
	}
	for id, s := range expected {
		e, err := f.Entry(id)
		require.NoError(t, err)
		require.Equal(t, s, e.State, "object %d", id)
		require.Equal(t, uint32(4), e.Version)
	}
}
