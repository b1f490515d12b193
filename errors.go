// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"errors"
	"fmt"
)

// Host/internal sentinel errors.
var (
	// ErrOutOfMemory is returned when the GC arena cannot grow further.
	ErrOutOfMemory = errors.New("tsvm: out of memory")

	// ErrDanglingHandle is returned when an expired object handle is
	// dereferenced (Heap.MustResolve panics with it).
	ErrDanglingHandle = errors.New("tsvm: dangling object handle")

	// ErrRegisterExhausted is returned when a chunk would need more than
	// 256 live registers.
	ErrRegisterExhausted = errors.New("tsvm: register exhausted")

	// ErrTooManyConstants is returned when a chunk's constant pool would
	// exceed its index width.
	ErrTooManyConstants = errors.New("tsvm: too many constants")

	// ErrTooManyStrings is returned when a chunk references more
	// distinct strings than its index width allows.
	ErrTooManyStrings = errors.New("tsvm: too many strings")

	// ErrTimeout is a host error: the execution budget was exhausted.
	// Not catchable by script.
	ErrTimeout = errors.New("tsvm: execution timeout")

	// ErrModulesUnsupported is returned by the parser for import/export
	// module syntax, which is intentionally unimplemented.
	ErrModulesUnsupported = errors.New("tsvm: module import/export is not supported")
)

// SyntaxError is returned by Lex/Parse on malformed input.
type SyntaxError struct {
	Message string
	Span    Span
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("SyntaxError: %s at %s", e.Message, e.Span)
}

// ScriptErrorKind names the taxonomy of errors the CORE itself
// constructs as thrown values.
type ScriptErrorKind string

const (
	ErrKindSyntax    ScriptErrorKind = "SyntaxError"
	ErrKindReference ScriptErrorKind = "ReferenceError"
	ErrKindType      ScriptErrorKind = "TypeError"
	ErrKindRange     ScriptErrorKind = "RangeError"
	ErrKindGeneric   ScriptErrorKind = "Error"
)

// ScriptError is a thrown value surfaced to the host, carrying the
// error kind, message, and (if available) the faulting span and call
// stack.
type ScriptError struct {
	Kind      ScriptErrorKind
	Message   string
	Span      Span
	HasSpan   bool
	Stack     []StackFrame
	Thrown    Value // the actual thrown value, for `throw <any>`
	HasThrown bool
}

func (e *ScriptError) Error() string {
	if e.HasSpan {
		return fmt.Sprintf("%s: %s at %s", e.Kind, e.Message, e.Span)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newScriptError(kind ScriptErrorKind, message string) *ScriptError {
	return &ScriptError{Kind: kind, Message: message}
}

func typeError(format string, args ...interface{}) *ScriptError {
	return newScriptError(ErrKindType, fmt.Sprintf(format, args...))
}

func referenceError(format string, args ...interface{}) *ScriptError {
	return newScriptError(ErrKindReference, fmt.Sprintf(format, args...))
}

func rangeError(format string, args ...interface{}) *ScriptError {
	return newScriptError(ErrKindRange, fmt.Sprintf(format, args...))
}

func syntaxScriptError(format string, args ...interface{}) *ScriptError {
	return newScriptError(ErrKindSyntax, fmt.Sprintf(format, args...))
}

// asScriptError reports whether err is (or wraps) a *ScriptError, the
// only error type that carries a catchable thrown value.
func asScriptError(err error) (*ScriptError, bool) {
	var se *ScriptError
	ok := errors.As(err, &se)
	return se, ok
}

// valueThrowError wraps an arbitrary `throw <value>` operand as a
// ScriptError, unpacking Error-kind objects so their kind/message
// survive a host round-trip.
func (rt *Runtime) valueThrowError(v Value) *ScriptError {
	se := &ScriptError{Kind: ErrKindGeneric, Thrown: v, HasThrown: true}
	if v.Kind == VObject {
		if obj, ok := rt.heap.Resolve(v.Obj); ok {
			if ed, ok := obj.Exotic.(*ErrorData); ok {
				se.Kind = ScriptErrorKind(ed.Kind)
				se.Message = ed.Message
				se.Stack = ed.Stack
				return se
			}
		}
	}
	if s, err := rt.ToStringRT(v); err == nil {
		se.Message = s
	}
	return se
}

// scriptErrorValue converts a ScriptError back into the Value a catch
// binding sees: the original thrown value when there was one (`throw
// <value>`), or a freshly built Error object for engine-constructed
// errors (TypeError, ReferenceError,...).
func (rt *Runtime) scriptErrorValue(se *ScriptError) Value {
	if se.HasThrown {
		return se.Thrown
	}
	return rt.newErrorObject(se.Kind, se.Message)
}
