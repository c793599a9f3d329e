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
	"github.com/pingcap/schemadict/pkg/cluster"
)

// Callback is used for the dictionary to observe protocol steps. It is called on the
// node's worker and must not block.
type Callback interface {
	// OnTransStateChanged is called on the coordinator when a transaction changes state.
	OnTransStateChanged(trans TransID, state OpState)
	// OnLockGranted is called on the master when a dict lock is granted.
	OnLockGranted(lockType LockType, node cluster.NodeID)
	// OnRestartPass is called on the reconciling node when a pass starts.
	OnRestartPass(pass int)
	// OnReady is called when the node accepts DDL.
	OnReady()
}

// BaseCallback implements Callback interface.
type BaseCallback struct{}

// OnTransStateChanged implements Callback interface.
func (*BaseCallback) OnTransStateChanged(TransID, OpState) {}

// OnLockGranted implements Callback interface.
func (*BaseCallback) OnLockGranted(LockType, cluster.NodeID) {}

// OnRestartPass implements Callback interface.
func (*BaseCallback) OnRestartPass(int) {}

// OnReady implements Callback interface.
func (*BaseCallback) OnReady() {}
