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
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/cluster"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"go.uber.org/zap"
)

// Result is the outcome of a submitted request.
type Result struct {
	ObjectID uint32
	Version  uint32
	Err      error
}

type pendingReq struct {
	done   chan struct{}
	result Result
}

// Client is an API node endpoint submitting DDL requests to dictionary nodes.
// It is safe for concurrent use.
type Client struct {
	id cluster.NodeID
	tr cluster.Transport

	mu       sync.Mutex
	nextData uint32
	pending  map[uint32]*pendingReq
}

// NewClient creates a client that receives replies as node id.
func NewClient(id cluster.NodeID, tr cluster.Transport) *Client {
	return &Client{
		id:      id,
		tr:      tr,
		pending: make(map[uint32]*pendingReq),
	}
}

// Submit sends op to node to. The returned data identifies the request in Result and Wait.
func (c *Client) Submit(to cluster.NodeID, op OpRequest) (uint32, error) {
	c.mu.Lock()
	c.nextData++
	data := c.nextData
	c.pending[data] = &pendingReq{done: make(chan struct{})}
	c.mu.Unlock()

	err := c.tr.Send(&cluster.Message{From: c.id, To: to, Payload: &SchemaTransReq{RequesterData: data, Requester: c.id, Op: op}})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, data)
		c.mu.Unlock()
		return 0, errors.Trace(err)
	}
	return data, nil
}

// Result returns the outcome of request data if it arrived.
func (c *Client) Result(data uint32) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[data]
	if !ok {
		return Result{}, false
	}
	select {
	case <-p.done:
		return p.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the outcome of request data arrives or ctx is done.
func (c *Client) Wait(ctx context.Context, data uint32) (Result, error) {
	c.mu.Lock()
	p, ok := c.pending[data]
	c.mu.Unlock()
	if !ok {
		return Result{}, errors.Errorf("unknown request %d", data)
	}
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{}, errors.Trace(ctx.Err())
	}
}

// Handle implements cluster.Endpoint interface.
func (c *Client) Handle(msg *cluster.Message) {
	var (
		data   uint32
		result Result
	)
	switch p := msg.Payload.(type) {
	case *SchemaTransConf:
		data, result = p.RequesterData, Result{ObjectID: p.ObjectID, Version: p.Version}
	case *SchemaTransRef:
		data, result = p.RequesterData, Result{Err: p.Err}
	default:
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[data]
	if !ok {
		logutil.BgLogger().Warn("reply for unknown request", zap.Uint32("client", uint32(c.id)), zap.Uint32("data", data))
		return
	}
	select {
	case <-p.done:
		logutil.BgLogger().Warn("duplicate reply", zap.Uint32("client", uint32(c.id)), zap.Uint32("data", data))
	default:
		p.result = result
		close(p.done)
	}
}
