// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// newEnvironmentData builds the payload for the Environment exotic
// object kind: a lexical scope frame with a chain to its outer scope.
// It is itself heap-allocated so closures can hold a handle to it
// after their defining call has returned.
func newEnvironmentData(outer ObjectHandle, hasOuter bool) *EnvironmentData {
	return &EnvironmentData{Bindings: make(map[StringHandle]*Binding, 8), Outer: outer, HasOuter: hasOuter}
}

// declare creates a binding in this environment. `initialized=false`
// models the temporal dead zone for `let`/`const` before their
// declaration statement executes.
func (e *EnvironmentData) declare(name StringHandle, mutable, initialized bool) *Binding {
	b := &Binding{Mutable: mutable, Initialized: initialized}
	e.Bindings[name] = b
	return b
}

// lookupBinding walks the scope chain for name, returning the binding
// and the environment handle that owns it.
func (heap *Heap) lookupBinding(env ObjectHandle, name StringHandle) (*Binding, ObjectHandle, bool) {
	cur := env
	for {
		obj, ok := heap.Resolve(cur)
		if !ok {
			return nil, NullHandle, false
		}
		data, ok := obj.Exotic.(*EnvironmentData)
		if !ok {
			return nil, NullHandle, false
		}
		if b, ok := data.Bindings[name]; ok {
			return b, cur, true
		}
		if !data.HasOuter {
			return nil, NullHandle, false
		}
		cur = data.Outer
	}
}

// GetVar reads a variable, enforcing TDZ and producing a
// ReferenceError for both "not yet initialized" and "never declared"
func (rt *Runtime) GetVar(env ObjectHandle, name StringHandle) (Value, error) {
	b, _, ok := rt.heap.lookupBinding(env, name)
	if !ok {
		return Value{}, referenceError("%s is not defined", rt.strings.Resolve(name))
	}
	if !b.Initialized {
		return Value{}, referenceError("Cannot access '%s' before initialization", rt.strings.Resolve(name))
	}
	return b.Value, nil
}

// TryGetVar reads a variable without throwing on an unresolved
// binding, used by `typeof` on an undeclared identifier.
func (rt *Runtime) TryGetVar(env ObjectHandle, name StringHandle) (Value, bool) {
	b, _, ok := rt.heap.lookupBinding(env, name)
	if !ok || !b.Initialized {
		return Value{}, false
	}
	return b.Value, true
}

// SetVar assigns to an existing binding, rejecting writes to `const`
// and to an uninitialized `let`/`const` (TDZ), and to an undeclared
// name in strict contexts (this engine always treats module-level
// code as if in strict mode).
func (rt *Runtime) SetVar(env ObjectHandle, name StringHandle, v Value) error {
	b, _, ok := rt.heap.lookupBinding(env, name)
	if !ok {
		return referenceError("%s is not defined", rt.strings.Resolve(name))
	}
	if !b.Initialized {
		return referenceError("Cannot access '%s' before initialization", rt.strings.Resolve(name))
	}
	if !b.Mutable {
		return typeError("Assignment to constant variable.")
	}
	b.Value = v
	return nil
}

// InitVar performs the initializing write to a binding declared in the
// innermost scope, clearing its TDZ bit. Unlike SetVar it applies to
// `const` bindings too: the declaration's own initializer is not an
// assignment.
func (rt *Runtime) InitVar(env ObjectHandle, name StringHandle, v Value) error {
	data := rt.heap.MustResolve(env).Exotic.(*EnvironmentData)
	b, ok := data.Bindings[name]
	if !ok {
		return referenceError("%s is not defined", rt.strings.Resolve(name))
	}
	b.Value = v
	b.Initialized = true
	return nil
}

// DeclareVar creates (or, for `var`, re-uses) a binding in env.
func (rt *Runtime) DeclareVar(env ObjectHandle, name StringHandle, kind DeclKind, initialized bool) error {
	data := rt.heap.MustResolve(env).Exotic.(*EnvironmentData)
	if kind == DeclVar {
		if existing, ok := data.Bindings[name]; ok {
			if initialized {
				existing.Initialized = true
			}
			return nil
		}
	}
	data.declare(name, kind != DeclConst, initialized)
	return nil
}

// NewEnvironment allocates a fresh EnvironmentData object on the heap,
// guarded so it survives any GC triggered by the allocation itself.
func (rt *Runtime) NewEnvironment(outer ObjectHandle, hasOuter bool) *Guard {
	obj := NewObject()
	obj.Kind = KindEnvironment
	obj.Exotic = newEnvironmentData(outer, hasOuter)
	return rt.heap.Alloc(obj)
}
