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
	"github.com/pingcap/schemadict/pkg/schemafile"
	"github.com/stretchr/testify/require"
)

func TestRestartLockWaitsForTransaction(t *testing.T) {
	var (
		tc                *testCluster
		grants            int
		grantedWhileTrans bool
		blocked           uint32
	)
	hook := &TestDDLCallback{BaseCallback: &BaseCallback{}}
	hook.OnLockGrantedExported = func(lockType LockType, node cluster.NodeID) {
		require.Equal(t, LockNodeRestart, lockType)
		require.Equal(t, cluster.NodeID(3), node)
		grants++
		grantedWhileTrans = grantedWhileTrans || tc.dict(1).trans != nil
		blocked = tc.submit(1, NewCreateRequest(schemafile.KindUserTable, 9, 1, "t9"))
	}
	tc = newTestCluster(t, 3, func(id cluster.NodeID) []Option {
		if id == 1 {
			return []Option{WithHook(hook)}
		}
		return nil
	})
	master := tc.dict(1)
	require.NoError(t, tc.run(2, NewCreateRequest(schemafile.KindUserTable, 5, 1, "t5")).Err)
	tc.fail(3)
	tc.bus.Drain()

	data := tc.submit(1, NewCreateRequest(schemafile.KindUserTable, 7, 1, "t7"))
	for master.trans == nil {
		require.True(t, tc.bus.Step())
	}
	n3 := tc.addNode(3)
	n3.StartNodeRestart([]cluster.NodeID{1, 2})
	tc.settle(func() bool {
		_, granted := master.GrantedLock()
		return n3.Ready() && !granted && master.Runtime().AliveNodes().Contains(3)
	})

	require.NoError(t, tc.result(data).Err)
	require.Equal(t, 1, grants)
	require.False(t, grantedWhileTrans)
	err := tc.result(blocked).Err
	require.True(t, ErrBusyWithNodeRestart.Equal(err), "%v", err)
	require.Equal(t, 0, master.LockQueueLen())
	require.Equal(t, BlockIdle, master.Runtime().BlockState())
	tc.settle(func() bool {
		return tc.dict(2).Runtime().AliveNodes().Contains(3)
	})

	require.Equal(t, schemafile.TableAddCommitted, tc.entry(3, 5).State)
	require.Equal(t, schemafile.TableAddCommitted, tc.entry(3, 7).State)
	require.Equal(t, 2, n3.Registry().Len())
	tc.requireConvergedCurrent()

	require.NoError(t, tc.run(3, NewCreateRequest(schemafile.KindUserTable, 9, 1, "t9")).Err)
	for id := range tc.dicts {
		require.Equal(t, schemafile.TableAddCommitted, tc.entry(id, 9).State, "node %d", id)
	}
}

func TestLockHolderFailureReleasesBlock(t *testing.T) {
	var tc *testCluster
	hook := &TestDDLCallback{BaseCallback: &BaseCallback{}}
	hook.OnLockGrantedExported = func(_ LockType, node cluster.NodeID) {
		tc.fail(node)
	}
	tc = newTestCluster(t, 3, func(id cluster.NodeID) []Option {
		if id == 1 {
			return []Option{WithHook(hook)}
		}
		return nil
	})
	tc.fail(3)
	tc.bus.Drain()
	n3 := tc.addNode(3)
	n3.StartNodeRestart([]cluster.NodeID{1, 2})
	tc.bus.Drain()

	master := tc.dict(1)
	require.Equal(t, BlockIdle, master.Runtime().BlockState())
	require.Equal(t, 0, master.LockQueueLen())
	require.False(t, master.Runtime().AliveNodes().Contains(3))
	require.NoError(t, tc.run(2, NewCreateRequest(schemafile.KindUserTable, 7, 1, "t7")).Err)
}

func TestLockQueueByHand(t *testing.T) {
	tc := newTestCluster(t, 2, nil)
	master := tc.dict(1)
	other := &rawEndpoint{}
	const otherNode cluster.NodeID = 62
	tc.bus.Register(otherNode, other)
	send := func(from, to cluster.NodeID, payload any) {
		require.NoError(t, tc.bus.Send(&cluster.Message{From: from, To: to, Payload: payload}))
		tc.bus.Drain()
	}

	send(rawNode, 2, &DictLockReq{Type: LockNodeRestart, Data: 1})
	ref, ok := tc.raw.last().(*DictLockRef)
	require.True(t, ok)
	require.True(t, ErrNotMaster.Equal(ref.Err), "%v", ref.Err)

	send(rawNode, 1, &DictLockReq{Type: LockType(9), Data: 1})
	ref, ok = tc.raw.last().(*DictLockRef)
	require.True(t, ok)
	require.True(t, ErrInvalidOpRequest.Equal(ref.Err), "%v", ref.Err)

	send(rawNode, 1, &DictLockReq{Type: LockNodeRestart, Data: 1})
	req, ok := tc.raw.last().(*schemaInfoReq)
	require.True(t, ok)
	require.False(t, req.System)
	require.Contains(t, req.Alive, rawNode)
	holder, granted := master.GrantedLock()
	require.True(t, granted)
	require.Equal(t, rawNode, holder)
	require.Equal(t, BlockNodeRestart, master.Runtime().BlockState())

	send(otherNode, 1, &DictLockReq{Type: LockNodeRestart, Data: 2})
	send(otherNode, 1, &DictLockReq{Type: LockNodeRestart, Data: 2})
	require.Equal(t, 2, master.LockQueueLen())
	require.Nil(t, other.last())

	res := tc.run(2, NewCreateRequest(schemafile.KindUserTable, 7, 1, "t7"))
	require.True(t, ErrBusyWithNodeRestart.Equal(res.Err), "%v", res.Err)

	send(otherNode, 1, &DictUnlockOrd{Type: LockNodeRestart, Data: 2})
	require.Equal(t, 1, master.LockQueueLen())
	send(rawNode, 1, &DictUnlockOrd{Type: LockNodeRestart, Data: 1})
	require.Equal(t, 0, master.LockQueueLen())
	require.Equal(t, BlockIdle, master.Runtime().BlockState())
	require.True(t, master.Runtime().AliveNodes().Contains(rawNode))
	require.Nil(t, other.last())
}
