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

package registry

import (
	"github.com/pingcap/schemadict/pkg/terror"
)

// Validation error codes.
const (
	codeInvalidVersion      terror.ErrCode = 241
	codeNoMoreObjectRecords terror.ErrCode = 707
	codeInvalidObjectID     terror.ErrCode = 709
	codeObjectExists        terror.ErrCode = 721
	codeObjectInUse         terror.ErrCode = 768
	codeOutOfStringBuffer   terror.ErrCode = 773
)

var (
	// ErrInvalidVersion is returned when the requested object version does not match.
	ErrInvalidVersion = terror.ClassValidation.New(codeInvalidVersion, "invalid object version")
	// ErrNoMoreObjectRecords is returned when every object id is in use.
	ErrNoMoreObjectRecords = terror.ClassValidation.New(codeNoMoreObjectRecords, "no more object records")
	// ErrInvalidObjectID is returned for an id that is out of range or unknown.
	ErrInvalidObjectID = terror.ClassValidation.New(codeInvalidObjectID, "invalid object id")
	// ErrObjectExists is returned when the id or the name is already taken.
	ErrObjectExists = terror.ClassValidation.New(codeObjectExists, "object already exists")
	// ErrObjectInUse is returned when dropping an object other objects depend on.
	ErrObjectInUse = terror.ClassValidation.New(codeObjectInUse, "object is in use")
	// ErrOutOfStringBuffer is returned when the name budget is exhausted.
	ErrOutOfStringBuffer = terror.ClassValidation.New(codeOutOfStringBuffer, "out of string buffer")
)
