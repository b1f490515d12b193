// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// installPromiseBuiltins wires the Promise constructor, its
// resolve/reject/all statics, and its then/catch/finally prototype
// methods atop the microtask-queue machinery already driving async
// functions.
func (rt *Runtime) installPromiseBuiltins() {
	ctorGuard := rt.newConstructor("Promise", 1, rt.promiseProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		executor := argOr(args, 0)
		if executor.Kind != VObject {
			return Value{}, typeError("Promise resolver is not a function")
		}
		g := rt.newPendingPromise()
		handle := g.Handle()
		defer g.Release()
		resolveFn := rt.newNativeFunction("resolve", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
			rt.settlePromise(handle, argOr(args, 0), nil)
			return Undefined(), nil
		})
		rejectFn := rt.newNativeFunction("reject", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
			rt.settlePromise(handle, Value{}, rt.valueThrowError(argOr(args, 0)))
			return Undefined(), nil
		})
		// The settle functions capture the promise handle outside the
		// object graph; an ownership edge keeps the promise alive for
		// as long as either function is.
		rt.heap.Own(resolveFn.Handle(), handle)
		rt.heap.Own(rejectFn.Handle(), handle)
		_, err := rt.Call(executor, Undefined(), []Value{ObjectVal(resolveFn.Handle()), ObjectVal(rejectFn.Handle())})
		resolveFn.Release()
		rejectFn.Release()
		if err != nil {
			rt.settlePromise(handle, Value{}, err)
		}
		return ObjectVal(handle), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()

	rt.RegisterNative(ctor, "resolve", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind == VObject {
			if obj, ok := rt.heap.Resolve(v.Obj); ok {
				if _, ok := obj.Exotic.(*PromiseData); ok {
					return v, nil
				}
			}
		}
		g := rt.newPendingPromise()
		handle := g.Handle()
		defer g.Release()
		rt.settlePromise(handle, v, nil)
		return ObjectVal(handle), nil
	})
	rt.RegisterNative(ctor, "reject", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		g := rt.newPendingPromise()
		handle := g.Handle()
		defer g.Release()
		rt.settlePromise(handle, Value{}, rt.valueThrowError(argOr(args, 0)))
		return ObjectVal(handle), nil
	})
	rt.RegisterNative(ctor, "all", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		iterVal, err := rt.getIterator(argOr(args, 0), false)
		if err != nil {
			return Value{}, err
		}
		var items []Value
		for {
			res, err := rt.iteratorNext(iterVal)
			if err != nil {
				return Value{}, err
			}
			done, _ := rt.GetProperty(res, StringKey(rt.strings.Intern("done")))
			if rt.ToBooleanRT(done) {
				break
			}
			v, _ := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
			items = append(items, v)
		}
		g := rt.newPendingPromise()
		handle := g.Handle()
		defer g.Release()
		if len(items) == 0 {
			arrGuard := rt.NewArray(nil)
			rt.settlePromise(handle, ObjectVal(arrGuard.Handle()), nil)
			arrGuard.Release()
			return ObjectVal(handle), nil
		}
		// Collect into a heap array owned by the result promise, so the
		// partial results survive collections between settlements.
		arrGuard := rt.NewArray(make([]Value, len(items)))
		arr := ObjectVal(arrGuard.Handle())
		rt.heap.Own(handle, arrGuard.Handle())
		arrGuard.Release()
		remaining := len(items)
		for i, item := range items {
			i := i
			rt.onSettled(item, []Value{ObjectVal(handle), arr}, func(v Value, threw bool) {
				if threw {
					rt.settlePromise(handle, Value{}, rt.valueThrowError(v))
					return
				}
				if obj, ok := rt.heap.Resolve(arr.Obj); ok {
					obj.Array[i] = v
				}
				remaining--
				if remaining == 0 {
					rt.settlePromise(handle, arr, nil)
				}
			})
		}
		return ObjectVal(handle), nil
	})
	rt.defineGlobal("Promise", ObjectVal(ctor))

	promiseDataOf := func(this Value) (*PromiseData, error) {
		if this.Kind != VObject {
			return nil, typeError("Promise method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok {
			return nil, ErrDanglingHandle
		}
		pd, ok := obj.Exotic.(*PromiseData)
		if !ok {
			return nil, typeError("Promise method called on an incompatible receiver")
		}
		return pd, nil
	}
	rt.RegisterNative(rt.promiseProto, "then", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		pd, err := promiseDataOf(this)
		if err != nil {
			return Value{}, err
		}
		onFulfill, onReject := argOr(args, 0), argOr(args, 1)
		g := rt.newPendingPromise()
		handle := g.Handle()
		defer g.Release()
		rt.onSettledData(pd, []Value{ObjectVal(handle), onFulfill, onReject}, func(v Value, threw bool) {
			handler := onFulfill
			if threw {
				handler = onReject
			}
			if handler.Kind != VObject {
				if threw {
					rt.settlePromise(handle, Value{}, rt.valueThrowError(v))
				} else {
					rt.settlePromise(handle, v, nil)
				}
				return
			}
			result, err := rt.Call(handler, Undefined(), []Value{v})
			rt.settlePromise(handle, result, err)
		})
		return ObjectVal(handle), nil
	})
	rt.RegisterNative(rt.promiseProto, "catch", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		then, err := rt.GetProperty(this, StringKey(rt.strings.Intern("then")))
		if err != nil {
			return Value{}, err
		}
		return rt.Call(then, this, []Value{Undefined(), argOr(args, 0)})
	})
	rt.RegisterNative(rt.promiseProto, "finally", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		cb := argOr(args, 0)
		then, err := rt.GetProperty(this, StringKey(rt.strings.Intern("then")))
		if err != nil {
			return Value{}, err
		}
		wrap := rt.newNativeFunction("", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
			if cb.Kind == VObject {
				if _, err := rt.Call(cb, Undefined(), nil); err != nil {
					return Value{}, err
				}
			}
			return argOr(args, 0), nil
		})
		defer wrap.Release()
		return rt.Call(then, this, []Value{ObjectVal(wrap.Handle()), ObjectVal(wrap.Handle())})
	})
}

// installGeneratorBuiltins wires Generator.prototype's next/throw/return
// trio, each driving one step of the suspended activation.
func (rt *Runtime) installGeneratorBuiltins() {
	genOf := func(this Value) (*GeneratorData, error) {
		if this.Kind != VObject {
			return nil, typeError("Generator method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok {
			return nil, ErrDanglingHandle
		}
		gd, ok := obj.Exotic.(*GeneratorData)
		if !ok {
			return nil, typeError("Generator method called on an incompatible receiver")
		}
		return gd, nil
	}
	rt.RegisterNative(rt.generatorProto, "next", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		gd, err := genOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.resumeGenerator(gd, resumeMsg{value: argOr(args, 0)})
	})
	rt.RegisterNative(rt.generatorProto, "throw", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		gd, err := genOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.resumeGenerator(gd, resumeMsg{value: argOr(args, 0), isThrow: true})
	})
	rt.RegisterNative(rt.generatorProto, "return", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		gd, err := genOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.resumeGenerator(gd, resumeMsg{value: argOr(args, 0), isRet: true})
	})
	selfIter := rt.newNativeFunction("[Symbol.iterator]", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return this, nil
	})
	rt.heap.MustResolve(rt.generatorProto).SetOwn(SymbolKey(rt.symIterator), &PropertyDescriptor{
		Value: ObjectVal(selfIter.Handle()), Writable: true, Configurable: true,
	})
	selfIter.Release()
}

// installSymbolBuiltins wires the Symbol global function (an ordinary
// native function producing fresh, host-unique Symbol values, since
// Symbol is never invoked with `new`) plus its well-known static
// properties.
func (rt *Runtime) installSymbolBuiltins() {
	symGuard := rt.newNativeFunction("Symbol", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		desc := ""
		hasDesc := false
		if len(args) > 0 && !args[0].IsUndefined() {
			s, err := rt.ToStringRT(args[0])
			if err != nil {
				return Value{}, err
			}
			desc, hasDesc = s, true
		}
		return SymbolVal(NewSymbol(desc, hasDesc)), nil
	})
	symFn := symGuard.Handle()
	defer symGuard.Release()
	rt.defineData(symFn, "iterator", SymbolVal(rt.symIterator))
	rt.defineData(symFn, "asyncIterator", SymbolVal(rt.symAsyncIterator))
	rt.defineGlobal("Symbol", ObjectVal(symFn))
}
