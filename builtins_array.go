// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "sort"

// installArrayBuiltins wires the Array constructor's statics and
// Array.prototype's iteration/mutation methods.
func (rt *Runtime) installArrayBuiltins() {
	ctorGuard := rt.newConstructor("Array", 1, rt.arrayProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if len(args) == 1 && args[0].Kind == VNumber {
			n := int(args[0].Num)
			elems := make([]Value, n)
			for i := range elems {
				elems[i] = Undefined()
			}
			g := rt.NewArray(elems)
			defer g.Release()
			return ObjectVal(g.Handle()), nil
		}
		g := rt.NewArray(append([]Value(nil), args...))
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()

	rt.RegisterNative(ctor, "isArray", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			return BoolVal(false), nil
		}
		obj, ok := rt.heap.Resolve(v.Obj)
		return BoolVal(ok && obj.Kind == KindArray), nil
	})
	rt.RegisterNative(ctor, "of", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		g := rt.NewArray(append([]Value(nil), args...))
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(ctor, "from", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		src := argOr(args, 0)
		mapFn := argOr(args, 1)
		var elems []Value
		if src.Kind == VObject {
			if obj, ok := rt.heap.Resolve(src.Obj); ok && obj.Kind == KindArray {
				elems = append([]Value(nil), obj.Array...)
			}
		}
		if elems == nil {
			iterVal, err := rt.getIterator(src, false)
			if err == nil {
				for {
					res, err := rt.iteratorNext(iterVal)
					if err != nil {
						return Value{}, err
					}
					done, _ := rt.GetProperty(res, StringKey(rt.strings.Intern("done")))
					if rt.ToBooleanRT(done) {
						break
					}
					val, _ := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
					elems = append(elems, val)
				}
			}
		}
		if mapFn.Kind == VObject {
			for i, e := range elems {
				mapped, err := rt.Call(mapFn, Undefined(), []Value{e, NumberVal(float64(i))})
				if err != nil {
					return Value{}, err
				}
				elems[i] = mapped
			}
		}
		g := rt.NewArray(elems)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.defineGlobal("Array", ObjectVal(ctor))

	method := func(name string, fn NativeFunc) { rt.RegisterNative(rt.arrayProto, name, 1, fn) }

	arrOf := func(this Value) (*Object, error) {
		if this.Kind != VObject {
			return nil, typeError("Array.prototype method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok || obj.Kind != KindArray {
			return nil, typeError("Array.prototype method called on a non-array")
		}
		return obj, nil
	}

	method("push", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		obj.Array = append(obj.Array, args...)
		return NumberVal(float64(len(obj.Array))), nil
	})
	method("pop", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		if len(obj.Array) == 0 {
			return Undefined(), nil
		}
		v := obj.Array[len(obj.Array)-1]
		obj.Array = obj.Array[:len(obj.Array)-1]
		return v, nil
	})
	method("shift", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		if len(obj.Array) == 0 {
			return Undefined(), nil
		}
		v := obj.Array[0]
		obj.Array = obj.Array[1:]
		return v, nil
	})
	method("unshift", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		obj.Array = append(append([]Value(nil), args...), obj.Array...)
		return NumberVal(float64(len(obj.Array))), nil
	})
	method("slice", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		start, end := rt.sliceBoundsRT(len(obj.Array), argOr(args, 0), argOr(args, 1))
		g := rt.NewArray(append([]Value(nil), obj.Array[start:end]...))
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	method("splice", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		n := len(obj.Array)
		start := rt.clampIndexRT(n, argOr(args, 0))
		deleteCount := n - start
		if len(args) > 1 {
			if dc, err := rt.ToNumberRT(args[1]); err == nil {
				deleteCount = clampCount(n-start, dc)
			}
		}
		removed := append([]Value(nil), obj.Array[start:start+deleteCount]...)
		var inserted []Value
		if len(args) > 2 {
			inserted = args[2:]
		}
		tail := append([]Value(nil), obj.Array[start+deleteCount:]...)
		obj.Array = append(append(obj.Array[:start:start], inserted...), tail...)
		g := rt.NewArray(removed)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	method("concat", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		result := append([]Value(nil), obj.Array...)
		for _, a := range args {
			if a.Kind == VObject {
				if o, ok := rt.heap.Resolve(a.Obj); ok && o.Kind == KindArray {
					result = append(result, o.Array...)
					continue
				}
			}
			result = append(result, a)
		}
		g := rt.NewArray(result)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	method("join", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		sep := ","
		if len(args) > 0 && !args[0].IsUndefined() {
			s, err := rt.ToStringRT(args[0])
			if err != nil {
				return Value{}, err
			}
			sep = s
		}
		parts := make([]string, len(obj.Array))
		for i, v := range obj.Array {
			if v.IsNullish() {
				parts[i] = ""
				continue
			}
			s, err := rt.ToStringRT(v)
			if err != nil {
				return Value{}, err
			}
			parts[i] = s
		}
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += sep
			}
			out += p
		}
		return StringVal(rt.strings.Intern(out)), nil
	})
	method("reverse", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		for i, j := 0, len(obj.Array)-1; i < j; i, j = i+1, j-1 {
			obj.Array[i], obj.Array[j] = obj.Array[j], obj.Array[i]
		}
		return this, nil
	})
	method("indexOf", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		target := argOr(args, 0)
		for i, v := range obj.Array {
			if StrictEquals(v, target) {
				return NumberVal(float64(i)), nil
			}
		}
		return NumberVal(-1), nil
	})
	method("includes", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		target := argOr(args, 0)
		for _, v := range obj.Array {
			if SameValue(v, target) {
				return BoolVal(true), nil
			}
		}
		return BoolVal(false), nil
	})
	method("forEach", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for i, v := range obj.Array {
			if _, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this}); err != nil {
				return Value{}, err
			}
		}
		return Undefined(), nil
	})
	method("map", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		// Attach each callback result as produced: a collection
		// triggered inside a later callback must not reclaim an
		// earlier result no container owns yet.
		g := rt.NewArray(nil)
		defer g.Release()
		outObj := rt.heap.MustResolve(g.Handle())
		for i, v := range obj.Array {
			r, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			outObj.Array = append(outObj.Array, r)
		}
		return ObjectVal(g.Handle()), nil
	})
	method("filter", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		var out []Value
		for i, v := range obj.Array {
			keep, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			if rt.ToBooleanRT(keep) {
				out = append(out, v)
			}
		}
		g := rt.NewArray(out)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	method("find", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for i, v := range obj.Array {
			hit, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			if rt.ToBooleanRT(hit) {
				return v, nil
			}
		}
		return Undefined(), nil
	})
	method("findIndex", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for i, v := range obj.Array {
			hit, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			if rt.ToBooleanRT(hit) {
				return NumberVal(float64(i)), nil
			}
		}
		return NumberVal(-1), nil
	})
	method("some", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for i, v := range obj.Array {
			hit, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			if rt.ToBooleanRT(hit) {
				return BoolVal(true), nil
			}
		}
		return BoolVal(false), nil
	})
	method("every", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for i, v := range obj.Array {
			hit, err := rt.Call(cb, argOr(args, 1), []Value{v, NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			if !rt.ToBooleanRT(hit) {
				return BoolVal(false), nil
			}
		}
		return BoolVal(true), nil
	})
	method("reduce", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		items := obj.Array
		var acc Value
		i := 0
		if len(args) > 1 {
			acc = args[1]
		} else {
			if len(items) == 0 {
				return Value{}, typeError("Reduce of empty array with no initial value")
			}
			acc = items[0]
			i = 1
		}
		for ; i < len(items); i++ {
			r, err := rt.Call(cb, Undefined(), []Value{acc, items[i], NumberVal(float64(i)), this})
			if err != nil {
				return Value{}, err
			}
			acc = r
		}
		return acc, nil
	})
	method("flat", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		depth := 1
		if len(args) > 0 {
			n, err := rt.ToNumberRT(args[0])
			if err != nil {
				return Value{}, err
			}
			depth = int(n)
		}
		out := flattenArray(rt, obj.Array, depth)
		g := rt.NewArray(out)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	method("sort", func(rt *Runtime, this Value, args []Value) (Value, error) {
		obj, err := arrOf(this)
		if err != nil {
			return Value{}, err
		}
		cmp := argOr(args, 0)
		var sortErr error
		sort.SliceStable(obj.Array, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			a, b := obj.Array[i], obj.Array[j]
			if cmp.Kind == VObject {
				r, err := rt.Call(cmp, Undefined(), []Value{a, b})
				if err != nil {
					sortErr = err
					return false
				}
				n, err := rt.ToNumberRT(r)
				if err != nil {
					sortErr = err
					return false
				}
				return n < 0
			}
			sa, _ := rt.ToStringRT(a)
			sb, _ := rt.ToStringRT(b)
			return sa < sb
		})
		if sortErr != nil {
			return Value{}, sortErr
		}
		return this, nil
	})
}

func flattenArray(rt *Runtime, items []Value, depth int) []Value {
	var out []Value
	for _, v := range items {
		if depth > 0 && v.Kind == VObject {
			if obj, ok := rt.heap.Resolve(v.Obj); ok && obj.Kind == KindArray {
				out = append(out, flattenArray(rt, obj.Array, depth-1)...)
				continue
			}
		}
		out = append(out, v)
	}
	return out
}

// sliceBoundsRT implements the start/end clamping Array.prototype.slice
// shares with String.prototype.slice (negative indices count from the
// end, out-of-range clamps to [0, length]).
func (rt *Runtime) sliceBoundsRT(length int, startArg, endArg Value) (int, int) {
	start := 0
	if !startArg.IsUndefined() {
		start = rt.clampIndexRT(length, startArg)
	}
	end := length
	if !endArg.IsUndefined() {
		end = rt.clampIndexRT(length, endArg)
	}
	if end < start {
		end = start
	}
	return start, end
}

func (rt *Runtime) clampIndexRT(length int, v Value) int {
	n, err := rt.ToNumberRT(v)
	if err != nil || n != n { // NaN coerces to 0, matching ToIntegerOrInfinity
		n = 0
	}
	idx := int(n)
	if idx < 0 {
		idx += length
	}
	if idx < 0 {
		idx = 0
	}
	if idx > length {
		idx = length
	}
	return idx
}

func clampCount(maxCount int, n float64) int {
	c := int(n)
	if c < 0 {
		c = 0
	}
	if c > maxCount {
		c = maxCount
	}
	return c
}
