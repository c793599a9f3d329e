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
	"github.com/pingcap/schemadict/pkg/registry"
	"github.com/pingcap/schemadict/pkg/terror"
)

// Admission error codes.
const (
	codeSingleUserMode      terror.ErrCode = 299
	codeBusy                terror.ErrCode = 701
	codeNotMaster           terror.ErrCode = 702
	codeBusyWithNodeRestart terror.ErrCode = 711
)

var (
	// ErrNotMaster is returned when a forwarded request reaches a node that is not the master.
	ErrNotMaster = terror.ClassAdmission.New(codeNotMaster, "not master")
	// ErrBusy is returned while another schema transaction or exclusive activity is running.
	ErrBusy = terror.ClassAdmission.New(codeBusy, "busy with another schema transaction")
	// ErrBusyWithNodeRestart is returned while a node restart holds the dictionary.
	ErrBusyWithNodeRestart = terror.ClassAdmission.New(codeBusyWithNodeRestart, "busy with node restart")
	// ErrSingleUserMode is returned to every node except the designated one in single user mode.
	ErrSingleUserMode = terror.ClassAdmission.New(codeSingleUserMode, "single user mode")
)

// Validation errors shared with the object registry.
var (
	ErrInvalidObjectID     = registry.ErrInvalidObjectID
	ErrInvalidVersion      = registry.ErrInvalidVersion
	ErrObjectExists        = registry.ErrObjectExists
	ErrNoMoreObjectRecords = registry.ErrNoMoreObjectRecords
	ErrOutOfStringBuffer   = registry.ErrOutOfStringBuffer
	ErrObjectInUse         = registry.ErrObjectInUse
)

// ErrInvalidOpRequest is returned for a request whose kind does not fit the operation.
var ErrInvalidOpRequest = terror.ClassValidation.New(720, "invalid schema operation request")

// ErrAbortedByMasterFailure is returned for a transaction the new master rolled back
// because its coordinator failed before any participant committed.
var ErrAbortedByMasterFailure = terror.ClassProtocol.New(1, "schema transaction aborted by master failure")
