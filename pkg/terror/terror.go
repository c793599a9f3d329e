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

package terror

import (
	"fmt"
	"strconv"

	"github.com/pingcap/errors"
	"github.com/pingcap/schemadict/pkg/util/logutil"
	"go.uber.org/zap"
)

// ErrClass represents a class of errors.
type ErrClass int

// ErrCode represents a specific error type in a error class.
// Same error code can be used in different error classes.
type ErrCode int

// Error classes
const (
	// ClassAdmission errors are detected before a schema transaction exists.
	ClassAdmission ErrClass = iota + 1
	// ClassValidation errors are raised by a participant while preparing.
	ClassValidation
	// ClassSchemaFile errors come from the persisted schema file.
	ClassSchemaFile
	// ClassProtocol errors are violations of the schema transaction protocol.
	ClassProtocol
)

// String implements fmt.Stringer interface.
func (ec ErrClass) String() string {
	switch ec {
	case ClassAdmission:
		return "admission"
	case ClassValidation:
		return "validation"
	case ClassSchemaFile:
		return "schemafile"
	case ClassProtocol:
		return "protocol"
	}
	return strconv.Itoa(int(ec))
}

// Equal returns true if err is *Error with the same class and code.
func (ec ErrClass) Equal(err error, code ErrCode) bool {
	e := errors.Cause(err)
	if e == nil {
		return false
	}
	if te, ok := e.(*Error); ok {
		return te.Class == ec && te.Code == code
	}
	return false
}

// EqualClass returns true if err is *Error with the same class.
func (ec ErrClass) EqualClass(err error) bool {
	e := errors.Cause(err)
	if e == nil {
		return false
	}
	if te, ok := e.(*Error); ok {
		return te.Class == ec
	}
	return false
}

// New creates an *Error with an error code, message format and arguments.
func (ec ErrClass) New(code ErrCode, message string, args ...any) *Error {
	if len(args) != 0 {
		message = fmt.Sprintf(message, args...)
	}
	return &Error{
		Class:   ec,
		Code:    code,
		Message: message,
	}
}

// Error implements error interface and adds integer Class and Code, so
// errors with different message can be compared.
type Error struct {
	Class   ErrClass
	Code    ErrCode
	Message string
}

// Error implements error interface.
func (te *Error) Error() string {
	return fmt.Sprintf("[%s:%d]%s", te.Class, te.Code, te.Message)
}

// Equal checks if err is equal to te.
func (te *Error) Equal(err error) bool {
	return te.Class.Equal(err, te.Code)
}

// GenWithStackByArgs clones te with the message formatted by args and attaches a stack.
func (te *Error) GenWithStackByArgs(args ...any) error {
	msg := te.Message
	if len(args) != 0 {
		msg = fmt.Sprintf("%s: %s", msg, fmt.Sprint(args...))
	}
	return errors.AddStack(&Error{Class: te.Class, Code: te.Code, Message: msg})
}

// ToCode returns the code of err, or 0 when err is nil or not an *Error.
func ToCode(err error) ErrCode {
	if te, ok := errors.Cause(err).(*Error); ok {
		return te.Code
	}
	return 0
}

// Call executes a function and checks the returned err.
func Call(fn func() error) {
	err := fn()
	if err != nil {
		logutil.BgLogger().Error("function call errored", zap.Error(errors.WithStack(err)))
	}
}
