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

// createFileHandler creates data and undo files. The storage block creates the file
// at prepare and makes it visible at commit; both answer asynchronously.
type createFileHandler struct {
	createHandler
}

func asyncDone(ctx OpContext, op *SchemaOp) func(error) {
	return func(err error) {
		ctx.CompleteAsync(op, err)
	}
}

// PrepareComplete implements OpHandler interface.
func (createFileHandler) PrepareComplete(ctx OpContext, op *SchemaOp) {
	op.storagePrepared = true
	ctx.Storage().PrepareFile(op, asyncDone(ctx, op))
}

// Commit implements OpHandler interface.
func (createFileHandler) Commit(ctx OpContext, op *SchemaOp) {
	ctx.Storage().CommitFile(op, asyncDone(ctx, op))
}

// AbortStart implements OpHandler interface. The storage block is told about every
// file it was asked to prepare, whether that succeeded or not.
func (createFileHandler) AbortStart(ctx OpContext, op *SchemaOp) {
	if !op.storagePrepared {
		ctx.Complete(op, nil)
		return
	}
	ctx.Storage().AbortFile(op, asyncDone(ctx, op))
}

// dropFileHandler drops data and undo files. The storage block removes the file when
// the drop commits.
type dropFileHandler struct {
	dropHandler
}

// Commit implements OpHandler interface.
func (dropFileHandler) Commit(ctx OpContext, op *SchemaOp) {
	ctx.Storage().CommitFile(op, asyncDone(ctx, op))
}
