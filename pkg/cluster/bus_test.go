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
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	msgs []*Message
}

func (r *recorder) Handle(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]any, 0, len(r.msgs))
	for _, m := range r.msgs {
		res = append(res, m.Payload)
	}
	return res
}

func TestNodeSet(t *testing.T) {
	s := NewNodeSet(3, 1, 64)
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains(64))
	require.False(t, s.Contains(2))
	require.Equal(t, []NodeID{1, 3, 64}, s.IDs())
	require.Equal(t, "[1,3,64]", s.String())
	low, ok := s.Lowest()
	require.True(t, ok)
	require.Equal(t, NodeID(1), low)

	c := s.Clone()
	c.Remove(1)
	require.True(t, s.Contains(1))
	require.False(t, c.Equal(s))
	c.Add(1)
	require.True(t, c.Equal(s))

	empty := NewNodeSet()
	require.True(t, empty.IsEmpty())
	_, ok = empty.Lowest()
	require.False(t, ok)
}

func TestBusStep(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	r1, r2 := &recorder{}, &recorder{}
	bus.Register(1, r1)
	bus.Register(2, r2)
	require.True(t, bus.Nodes().Equal(NewNodeSet(1, 2)))

	require.NoError(t, bus.Send(&Message{From: 1, To: 2, Payload: "a"}))
	require.NoError(t, bus.Send(&Message{From: 2, To: 1, Payload: "b"}))
	err := bus.Send(&Message{From: 1, To: 9, Payload: "c"})
	require.ErrorIs(t, errors.Cause(err), ErrNodeUnreachable)
	require.Equal(t, 2, bus.Pending())

	require.True(t, bus.Step())
	require.Equal(t, []any{"a"}, r2.payloads())
	require.Empty(t, r1.payloads())
	require.Equal(t, 1, bus.Drain())
	require.Equal(t, []any{"b"}, r1.payloads())
	require.False(t, bus.Step())
	require.Equal(t, uint64(2), bus.Delivered())

	Broadcast(bus, 1, NewNodeSet(1, 2, 7), "x")
	require.Equal(t, 2, bus.Drain())
	require.Equal(t, []any{"b", "x"}, r1.payloads())
}

func TestBusShuffleKeepsPairOrder(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		bus := NewBus()
		r := &recorder{}
		bus.Register(1, r)
		bus.Register(2, &recorder{})
		bus.Register(3, &recorder{})
		for i := 0; i < 5; i++ {
			require.NoError(t, bus.Send(&Message{From: 2, To: 1, Payload: i}))
			require.NoError(t, bus.Send(&Message{From: 3, To: 1, Payload: 10 + i}))
		}
		bus.Shuffle(seed)
		require.Equal(t, 10, bus.Drain())
		var from2, from3 []any
		for _, m := range r.msgs {
			if m.From == 2 {
				from2 = append(from2, m.Payload)
			} else {
				from3 = append(from3, m.Payload)
			}
		}
		require.Equal(t, []any{0, 1, 2, 3, 4}, from2)
		require.Equal(t, []any{10, 11, 12, 13, 14}, from3)
		bus.Close()
	}
}

func TestBusFailNode(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	r1, r2, r3 := &recorder{}, &recorder{}, &recorder{}
	bus.Register(1, r1)
	bus.Register(2, r2)
	bus.Register(3, r3)
	require.NoError(t, bus.Send(&Message{From: 2, To: 1, Payload: "from2"}))
	require.NoError(t, bus.Send(&Message{From: 1, To: 2, Payload: "to2"}))
	require.NoError(t, bus.Send(&Message{From: 3, To: 1, Payload: "from3"}))

	bus.FailNode(2)
	bus.FailNode(2)
	bus.Drain()
	require.Equal(t, []any{"from3", &NodeFailRep{Failed: 2}}, r1.payloads())
	require.Empty(t, r2.payloads())
	require.Equal(t, []any{&NodeFailRep{Failed: 2}}, r3.payloads())
	require.Error(t, bus.Send(&Message{From: 1, To: 2}))
}

func TestBusRunAndSendAfter(t *testing.T) {
	bus := NewBus()
	r := &recorder{}
	bus.Register(1, r)
	bus.Start(context.Background())

	bus.SendAfter(10*time.Millisecond, &Message{From: 1, To: 1, Payload: "later"})
	require.NoError(t, bus.Send(&Message{From: 1, To: 1, Payload: "now"}))
	require.Eventually(t, func() bool {
		return len(r.payloads()) == 2
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, []any{"now", "later"}, r.payloads())

	// A pending timer is stopped by Close.
	bus.SendAfter(time.Hour, &Message{From: 1, To: 1, Payload: "never"})
	bus.Close()
	require.Error(t, bus.Send(&Message{From: 1, To: 1}))
}
