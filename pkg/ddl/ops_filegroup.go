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

// createFilegroupHandler creates log file groups and tablespaces. A tablespace holds a
// reference on its log file group until it is dropped.
type createFilegroupHandler struct {
	createHandler
}

// dropFilegroupHandler drops log file groups and tablespaces. A filegroup that still
// has files or tablespaces refuses to go with ErrObjectInUse.
type dropFilegroupHandler struct {
	dropHandler
}

// PrepareStart implements OpHandler interface.
func (h dropFilegroupHandler) PrepareStart(ctx OpContext, op *SchemaOp) {
	if !op.Restart {
		if rec, ok := ctx.Registry().Lookup(op.Req.ObjectID); ok && rec.Refs() > 0 {
			ctx.Complete(op, ErrObjectInUse.GenWithStackByArgs(op.Req.ObjectID, " has ", rec.Refs(), " dependents"))
			return
		}
	}
	h.dropHandler.PrepareStart(ctx, op)
}
