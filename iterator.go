// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "strconv"

// getIterator implements the sync/async iterator-retrieval protocol:
// look up @@iterator (or @@asyncIterator), call it, and fall back to a
// built-in iterator for arrays and strings when no such method exists.
func (rt *Runtime) getIterator(v Value, isAsync bool) (Value, error) {
	sym := rt.symIterator
	if isAsync {
		sym = rt.symAsyncIterator
	}
	if v.Kind == VObject {
		method, err := rt.GetProperty(v, SymbolKey(sym))
		if err != nil {
			return Value{}, err
		}
		if method.Kind == VObject {
			return rt.Call(method, v, nil)
		}
		if obj, ok := rt.heap.Resolve(v.Obj); ok && obj.Kind == KindArray {
			iter := rt.nativeArrayIterator(obj)
			// The iterator's Go closure holds the array outside the
			// traced object graph.
			rt.heap.Own(iter.Obj, v.Obj)
			return iter, nil
		}
		return Value{}, typeError("value is not iterable")
	}
	if v.Kind == VString {
		return rt.nativeStringIterator(rt.strings.Resolve(v.Str)), nil
	}
	return Value{}, typeError("value is not iterable")
}

// getKeysIterator implements OpGetKeysIterator for `for...in`: a
// snapshot of own and inherited enumerable string keys, nearest
// shadowing farthest, taken once up front so mutation during the loop
// body cannot invalidate the in-progress walk.
func (rt *Runtime) getKeysIterator(v Value) (Value, error) {
	if v.Kind != VObject {
		return rt.nativeListIterator(nil), nil
	}
	seen := make(map[string]bool)
	var keys []Value
	cur := v.Obj
	for {
		obj, ok := rt.heap.Resolve(cur)
		if !ok {
			break
		}
		if obj.Kind == KindArray {
			for i := range obj.Array {
				name := strconv.Itoa(i)
				if !seen[name] {
					seen[name] = true
					keys = append(keys, StringVal(rt.strings.Intern(name)))
				}
			}
		}
		for _, k := range obj.KeyOrder {
			if k.kind != keyKindString {
				continue
			}
			name := rt.strings.Resolve(k.str)
			if seen[name] {
				continue
			}
			seen[name] = true
			if d := obj.Props[k]; d.Enumerable {
				keys = append(keys, StringVal(k.str))
			}
		}
		if !obj.HasProto {
			break
		}
		cur = obj.Proto
	}
	return rt.nativeListIterator(keys), nil
}

// iteratorNext implements OpIteratorNext, dispatching on the
// iterator's representation: a suspended generator resumes its
// coroutine, a built-in iterator calls its Go closure directly, and
// anything else (a script-authored iterator object) goes through the
// ordinary property/call path for its `next` method.
func (rt *Runtime) iteratorNext(iterVal Value) (Value, error) {
	if iterVal.Kind == VObject {
		if obj, ok := rt.heap.Resolve(iterVal.Obj); ok {
			if gd, ok := obj.Exotic.(*GeneratorData); ok {
				return rt.resumeGenerator(gd, resumeMsg{value: Undefined()})
			}
			if id, ok := obj.Exotic.(*IteratorData); ok {
				val, done, err := id.Next()
				if err != nil {
					return Value{}, err
				}
				return rt.makeIterResult(val, done), nil
			}
		}
	}
	nextFn, err := rt.GetProperty(iterVal, StringKey(rt.strings.Intern("next")))
	if err != nil {
		return Value{}, err
	}
	return rt.Call(nextFn, iterVal, nil)
}

// closeIterator implements IteratorClose for an early exit out of a
// for-of body: a suspended generator is finished via its return path,
// any other iterator's `return` method is invoked when present.
// Failures are swallowed; the loop is already on its way out.
func (rt *Runtime) closeIterator(v Value) {
	if v.Kind != VObject {
		return
	}
	obj, ok := rt.heap.Resolve(v.Obj)
	if !ok {
		return
	}
	if gd, ok := obj.Exotic.(*GeneratorData); ok {
		if !gd.done && !gd.running {
			_, _ = rt.resumeGenerator(gd, resumeMsg{value: Undefined(), isRet: true})
		}
		return
	}
	retFn, err := rt.GetProperty(v, StringKey(rt.strings.Intern("return")))
	if err != nil || retFn.Kind != VObject {
		return
	}
	_, _ = rt.Call(retFn, v, nil)
}

func (rt *Runtime) makeIterResult(val Value, done bool) Value {
	g := rt.NewPlainObject(rt.objectProto, rt.objectProto != NullHandle)
	obj := rt.heap.MustResolve(g.Handle())
	obj.SetOwn(StringKey(rt.strings.Intern("value")), &PropertyDescriptor{Value: val, Writable: true, Enumerable: true, Configurable: true})
	obj.SetOwn(StringKey(rt.strings.Intern("done")), &PropertyDescriptor{Value: BoolVal(done), Writable: true, Enumerable: true, Configurable: true})
	g.Release()
	return ObjectVal(g.Handle())
}

func (rt *Runtime) nativeListIterator(items []Value) Value {
	idx := 0
	next := func() (Value, bool, error) {
		if idx >= len(items) {
			return Undefined(), true, nil
		}
		v := items[idx]
		idx++
		return v, false, nil
	}
	iter := rt.wrapNativeIterator(next)
	// The snapshot lives in the Go closure, outside the traced object
	// graph; ownership edges keep its object items alive for the
	// iterator's lifetime.
	for _, v := range items {
		if v.Kind == VObject {
			rt.heap.Own(iter.Obj, v.Obj)
		}
	}
	return iter
}

// nativeArrayIterator reads obj.Array by index on each Next call
// rather than snapshotting, so elements appended mid-iteration (a
// common `for...of` pattern) are visible, matching host Array iterator
// semantics.
func (rt *Runtime) nativeArrayIterator(obj *Object) Value {
	idx := 0
	next := func() (Value, bool, error) {
		if idx >= len(obj.Array) {
			return Undefined(), true, nil
		}
		v := obj.Array[idx]
		idx++
		return v, false, nil
	}
	return rt.wrapNativeIterator(next)
}

func (rt *Runtime) nativeStringIterator(s string) Value {
	runes := []rune(s)
	idx := 0
	next := func() (Value, bool, error) {
		if idx >= len(runes) {
			return Undefined(), true, nil
		}
		v := StringVal(rt.strings.Intern(string(runes[idx])))
		idx++
		return v, false, nil
	}
	return rt.wrapNativeIterator(next)
}

// wrapNativeIterator builds the object form of a Go-backed iterator.
// iteratorNext special-cases the *IteratorData payload directly for
// the for-of/for-await bytecode path, but script code is free to call
// `.next()` on the same object by hand, so it also gets an own `next`
// method and a @@iterator returning itself.
func (rt *Runtime) wrapNativeIterator(next func() (Value, bool, error)) Value {
	o := NewObject()
	o.Kind = KindIterator
	if rt.objectProto != NullHandle {
		o.Proto, o.HasProto = rt.objectProto, true
	}
	o.Exotic = &IteratorData{Next: next}
	g := rt.heap.Alloc(o)
	handle := g.Handle()
	obj := rt.heap.MustResolve(handle)
	nextGuard := rt.newNativeFunction("next", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v, done, err := next()
		if err != nil {
			return Value{}, err
		}
		return rt.makeIterResult(v, done), nil
	})
	obj.SetOwn(StringKey(rt.strings.Intern("next")), &PropertyDescriptor{
		Value: ObjectVal(nextGuard.Handle()), Writable: true, Configurable: true,
	})
	nextGuard.Release()
	selfIterGuard := rt.newNativeFunction("[Symbol.iterator]", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return this, nil
	})
	obj.SetOwn(SymbolKey(rt.symIterator), &PropertyDescriptor{
		Value: ObjectVal(selfIterGuard.Handle()), Writable: true, Configurable: true,
	})
	selfIterGuard.Release()
	g.Release()
	return ObjectVal(handle)
}
