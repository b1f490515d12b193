// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "math"

// bootstrap builds the prototype chain, the global object/environment,
// and the native stdlib surface every program's global scope sees. It
// runs once, from New, before any script can observe the runtime.
func (rt *Runtime) bootstrap() {
	objProtoGuard := rt.heap.Alloc(NewObject())
	rt.objectProto = objProtoGuard.Handle()
	objProtoGuard.Release()
	rt.heap.AddProcessRoot(rt.objectProto)

	for _, slot := range []*ObjectHandle{
		&rt.functionProto, &rt.arrayProto, &rt.stringProto, &rt.numberProto,
		&rt.booleanProto, &rt.errorProto, &rt.generatorProto, &rt.promiseProto,
		&rt.mapProto, &rt.setProto, &rt.dateProto, &rt.regexpProto,
	} {
		g := rt.NewPlainObject(rt.objectProto, true)
		*slot = g.Handle()
		g.Release()
		rt.heap.AddProcessRoot(*slot)
	}

	rt.errorProtos = make(map[ScriptErrorKind]ObjectHandle, 4)
	for _, kind := range []ScriptErrorKind{ErrKindType, ErrKindRange, ErrKindReference, ErrKindSyntax} {
		g := rt.NewPlainObject(rt.errorProto, true)
		h := g.Handle()
		g.Release()
		rt.heap.AddProcessRoot(h)
		rt.errorProtos[kind] = h
	}

	globalObjGuard := rt.NewPlainObject(rt.objectProto, true)
	rt.globalObj = globalObjGuard.Handle()
	globalObjGuard.Release()
	rt.heap.AddProcessRoot(rt.globalObj)

	globalEnvGuard := rt.NewEnvironment(NullHandle, false)
	rt.globalEnv = globalEnvGuard.Handle()
	globalEnvGuard.Release()
	rt.heap.AddProcessRoot(rt.globalEnv)
	rt.heap.MustResolve(rt.globalEnv).Exotic.(*EnvironmentData).IsFunctionScope = true

	rt.symIterator = NewSymbol("Symbol.iterator", true)
	rt.symAsyncIterator = NewSymbol("Symbol.asyncIterator", true)

	rt.installObjectBuiltins()
	rt.installFunctionBuiltins()
	rt.installErrorBuiltins()
	rt.installMathBuiltins()
	rt.installJSONBuiltins()
	rt.installConsoleBuiltins()
	rt.installArrayBuiltins()
	rt.installStringBuiltins()
	rt.installNumberBuiltins()
	rt.installBooleanBuiltins()
	rt.installCollectionBuiltins()
	rt.installDateBuiltins()
	rt.installRegExpBuiltins()
	rt.installPromiseBuiltins()
	rt.installGeneratorBuiltins()
	rt.installSymbolBuiltins()

	rt.defineGlobal("globalThis", ObjectVal(rt.globalObj))
	rt.defineGlobal("undefined", Undefined())
	rt.defineGlobal("NaN", NumberVal(math.NaN()))
	rt.defineGlobal("Infinity", NumberVal(math.Inf(1)))
}

// newErrorObject builds an Error-kind object for kind/message, rooted
// at that kind's own prototype (TypeError.prototype, etc., each
// chained to Error.prototype) so `instanceof` distinguishes error
// kinds.
func (rt *Runtime) newErrorObject(kind ScriptErrorKind, message string) Value {
	proto := rt.errorProto
	if p, ok := rt.errorProtos[kind]; ok {
		proto = p
	}
	o := NewObject()
	o.Kind = KindError
	o.Proto, o.HasProto = proto, true
	o.Exotic = &ErrorData{Kind: string(kind), Message: message}
	g := rt.heap.Alloc(o)
	handle := g.Handle()
	obj := rt.heap.MustResolve(handle)
	obj.SetOwn(StringKey(rt.strings.Intern("message")), &PropertyDescriptor{
		Value: StringVal(rt.strings.Intern(message)), Writable: true, Configurable: true,
	})
	obj.SetOwn(StringKey(rt.strings.Intern("name")), &PropertyDescriptor{
		Value: StringVal(rt.strings.Intern(string(kind))), Writable: true, Configurable: true,
	})
	obj.SetOwn(StringKey(rt.strings.Intern("stack")), &PropertyDescriptor{
		Value: StringVal(rt.strings.Intern(string(kind) + ": " + message)), Writable: true, Configurable: true,
	})
	g.Release()
	return ObjectVal(handle)
}

// defineGlobal installs name as both an initialized immutable binding
// in the global environment (so free identifiers resolve it, since
// GetVar/SetVar never consult globalObj's own properties) and as a
// non-enumerable property of globalThis.
func (rt *Runtime) defineGlobal(name string, v Value) {
	envData := rt.heap.MustResolve(rt.globalEnv).Exotic.(*EnvironmentData)
	h := rt.strings.Intern(name)
	if b, ok := envData.Bindings[h]; ok {
		b.Value, b.Initialized = v, true
	} else {
		envData.declare(h, false, true).Value = v
	}
	globalObj := rt.heap.MustResolve(rt.globalObj)
	globalObj.SetOwn(StringKey(h), &PropertyDescriptor{Value: v, Writable: true, Configurable: true})
}

// defineData installs a non-enumerable data property, the shape most
// built-in object properties take.
func (rt *Runtime) defineData(handle ObjectHandle, name string, v Value) {
	obj := rt.heap.MustResolve(handle)
	obj.SetOwn(StringKey(rt.strings.Intern(name)), &PropertyDescriptor{Value: v, Writable: true, Configurable: true})
}

// newConstructor builds a native function object usable with `new`,
// wires its .prototype to proto, and wires proto.constructor back to
// it, the two-way link every built-in class (Array, Map, Error,...)
// needs for `instanceof` and `x.constructor` to work.
func (rt *Runtime) newConstructor(name string, arity int, proto ObjectHandle, fn NativeFunc) *Guard {
	g := rt.newNativeFunction(name, arity, fn)
	ctor := rt.heap.MustResolve(g.Handle())
	ctor.SetOwn(StringKey(rt.strings.Intern("prototype")), &PropertyDescriptor{Value: ObjectVal(proto)})
	if proto != NullHandle {
		protoObj := rt.heap.MustResolve(proto)
		protoObj.SetOwn(StringKey(rt.strings.Intern("constructor")), &PropertyDescriptor{
			Value: ObjectVal(g.Handle()), Writable: true, Configurable: true,
		})
	}
	return g
}

// argOr returns args[i] if present, else undefined -- every native
// function body uses this instead of bounds-checking args by hand.
func argOr(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined()
}

// ownEnumerableKeys collects v's own enumerable string/index keys in
// insertion order (array indices first), the shared basis for
// Object.keys/values/entries and for-in's snapshot.
func (rt *Runtime) ownEnumerableKeys(v Value) []PropKey {
	if v.Kind != VObject {
		return nil
	}
	obj, ok := rt.heap.Resolve(v.Obj)
	if !ok {
		return nil
	}
	var keys []PropKey
	if obj.Kind == KindArray {
		for i := range obj.Array {
			keys = append(keys, IndexKey(uint32(i)))
		}
	}
	for _, k := range obj.KeyOrder {
		if k.kind != keyKindString {
			continue
		}
		if d := obj.Props[k]; d != nil && d.Enumerable {
			keys = append(keys, k)
		}
	}
	return keys
}

func (rt *Runtime) keyAsValue(k PropKey) Value {
	if k.IsIndex() {
		return StringVal(rt.strings.Intern(formatNumber(float64(k.idx))))
	}
	return StringVal(k.str)
}

// installObjectBuiltins wires Object.prototype's shared methods and
// the Object constructor's statics.
func (rt *Runtime) installObjectBuiltins() {
	rt.RegisterNative(rt.objectProto, "hasOwnProperty", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if this.Kind != VObject {
			return BoolVal(false), nil
		}
		key, err := rt.PropKeyFromValue(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		obj := rt.heap.MustResolve(this.Obj)
		_, ok := obj.GetOwn(key)
		return BoolVal(ok), nil
	})
	rt.RegisterNative(rt.objectProto, "isPrototypeOf", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		target := argOr(args, 0)
		if this.Kind != VObject || target.Kind != VObject {
			return BoolVal(false), nil
		}
		cur := target.Obj
		for {
			obj, ok := rt.heap.Resolve(cur)
			if !ok || !obj.HasProto {
				return BoolVal(false), nil
			}
			if obj.Proto == this.Obj {
				return BoolVal(true), nil
			}
			cur = obj.Proto
		}
	})
	rt.RegisterNative(rt.objectProto, "propertyIsEnumerable", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if this.Kind != VObject {
			return BoolVal(false), nil
		}
		key, err := rt.PropKeyFromValue(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		obj := rt.heap.MustResolve(this.Obj)
		d, ok := obj.GetOwn(key)
		return BoolVal(ok && d.Enumerable), nil
	})
	rt.RegisterNative(rt.objectProto, "toString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return StringVal(rt.strings.Intern("[object Object]")), nil
	})
	rt.RegisterNative(rt.objectProto, "valueOf", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return this, nil
	})

	ctorGuard := rt.newConstructor("Object", 1, rt.objectProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		arg := argOr(args, 0)
		if arg.Kind == VObject {
			return arg, nil
		}
		g := rt.NewPlainObject(rt.objectProto, true)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()

	rt.RegisterNative(ctor, "keys", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		keys := rt.ownEnumerableKeys(argOr(args, 0))
		vals := make([]Value, len(keys))
		for i, k := range keys {
			vals[i] = rt.keyAsValue(k)
		}
		g := rt.NewArray(vals)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(ctor, "values", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		keys := rt.ownEnumerableKeys(v)
		vals := make([]Value, len(keys))
		for i, k := range keys {
			vals[i], _ = rt.GetProperty(v, k)
		}
		g := rt.NewArray(vals)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(ctor, "entries", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		keys := rt.ownEnumerableKeys(v)
		g := rt.NewArray(nil)
		defer g.Release()
		outer := rt.heap.MustResolve(g.Handle())
		for _, k := range keys {
			pv, _ := rt.GetProperty(v, k)
			pair := rt.NewArray([]Value{rt.keyAsValue(k), pv})
			outer.Array = append(outer.Array, ObjectVal(pair.Handle()))
			pair.Release()
		}
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(ctor, "assign", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return Undefined(), nil
		}
		target := args[0]
		for _, src := range args[1:] {
			for _, k := range rt.ownEnumerableKeys(src) {
				v, err := rt.GetProperty(src, k)
				if err != nil {
					return Value{}, err
				}
				if err := rt.SetProperty(target, k, v); err != nil {
					return Value{}, err
				}
			}
		}
		return target, nil
	})
	rt.RegisterNative(ctor, "freeze", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind == VObject {
			obj := rt.heap.MustResolve(v.Obj)
			obj.Frozen, obj.Sealed, obj.Extensible = true, true, false
		}
		return v, nil
	})
	rt.RegisterNative(ctor, "isFrozen", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			return BoolVal(true), nil
		}
		return BoolVal(rt.heap.MustResolve(v.Obj).Frozen), nil
	})
	rt.RegisterNative(ctor, "seal", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind == VObject {
			obj := rt.heap.MustResolve(v.Obj)
			obj.Sealed, obj.Extensible = true, false
		}
		return v, nil
	})
	rt.RegisterNative(ctor, "isSealed", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			return BoolVal(true), nil
		}
		return BoolVal(rt.heap.MustResolve(v.Obj).Sealed), nil
	})
	rt.RegisterNative(ctor, "preventExtensions", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind == VObject {
			rt.heap.MustResolve(v.Obj).Extensible = false
		}
		return v, nil
	})
	rt.RegisterNative(ctor, "isExtensible", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			return BoolVal(false), nil
		}
		return BoolVal(rt.heap.MustResolve(v.Obj).Extensible), nil
	})
	rt.RegisterNative(ctor, "create", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		protoArg := argOr(args, 0)
		var g *Guard
		if protoArg.Kind == VObject {
			g = rt.NewPlainObject(protoArg.Obj, true)
		} else {
			g = rt.NewPlainObject(NullHandle, false)
		}
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(ctor, "getPrototypeOf", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			return Null(), nil
		}
		obj := rt.heap.MustResolve(v.Obj)
		if !obj.HasProto {
			return Null(), nil
		}
		return ObjectVal(obj.Proto), nil
	})
	rt.RegisterNative(ctor, "setPrototypeOf", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			return v, nil
		}
		obj := rt.heap.MustResolve(v.Obj)
		p := argOr(args, 1)
		if p.Kind == VObject {
			obj.Proto, obj.HasProto = p.Obj, true
		} else {
			obj.HasProto = false
		}
		return v, nil
	})
	rt.RegisterNative(ctor, "getOwnPropertyNames", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VObject {
			g := rt.NewArray(nil)
			defer g.Release()
			return ObjectVal(g.Handle()), nil
		}
		obj := rt.heap.MustResolve(v.Obj)
		var vals []Value
		if obj.Kind == KindArray {
			for i := range obj.Array {
				vals = append(vals, StringVal(rt.strings.Intern(formatNumber(float64(i)))))
			}
			vals = append(vals, StringVal(rt.strings.Intern("length")))
		}
		for _, k := range obj.KeyOrder {
			if k.kind == keyKindString {
				vals = append(vals, rt.keyAsValue(k))
			}
		}
		g := rt.NewArray(vals)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(ctor, "defineProperty", 3, func(rt *Runtime, this Value, args []Value) (Value, error) {
		target := argOr(args, 0)
		if target.Kind != VObject {
			return Value{}, typeError("Object.defineProperty called on non-object")
		}
		key, err := rt.PropKeyFromValue(argOr(args, 1))
		if err != nil {
			return Value{}, err
		}
		desc := argOr(args, 2)
		d := &PropertyDescriptor{}
		if getter, err := rt.GetProperty(desc, StringKey(rt.strings.Intern("get"))); err == nil && getter.Kind == VObject {
			d.Getter, d.HasGetter = getter.Obj, true
		}
		if setter, err := rt.GetProperty(desc, StringKey(rt.strings.Intern("set"))); err == nil && setter.Kind == VObject {
			d.Setter, d.HasSetter = setter.Obj, true
		}
		if !d.IsAccessor() {
			v, _ := rt.GetProperty(desc, StringKey(rt.strings.Intern("value")))
			d.Value = v
		}
		if w, _ := rt.GetProperty(desc, StringKey(rt.strings.Intern("writable"))); rt.ToBooleanRT(w) {
			d.Writable = true
		}
		if e, _ := rt.GetProperty(desc, StringKey(rt.strings.Intern("enumerable"))); rt.ToBooleanRT(e) {
			d.Enumerable = true
		}
		if c, _ := rt.GetProperty(desc, StringKey(rt.strings.Intern("configurable"))); rt.ToBooleanRT(c) {
			d.Configurable = true
		}
		rt.heap.MustResolve(target.Obj).SetOwn(key, d)
		return target, nil
	})
	rt.RegisterNative(ctor, "is", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return BoolVal(SameValue(argOr(args, 0), argOr(args, 1))), nil
	})
	rt.defineGlobal("Object", ObjectVal(ctor))
}

// installFunctionBuiltins wires Function.prototype.call/apply/bind
// and Function.prototype.toString.
func (rt *Runtime) installFunctionBuiltins() {
	rt.RegisterNative(rt.functionProto, "call", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		var rest []Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return rt.Call(this, argOr(args, 0), rest)
	})
	rt.RegisterNative(rt.functionProto, "apply", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		var rest []Value
		if argsLike := argOr(args, 1); argsLike.Kind == VObject {
			obj, ok := rt.heap.Resolve(argsLike.Obj)
			if ok && obj.Kind == KindArray {
				rest = append([]Value(nil), obj.Array...)
			}
		}
		return rt.Call(this, argOr(args, 0), rest)
	})
	rt.RegisterNative(rt.functionProto, "bind", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if this.Kind != VObject {
			return Value{}, typeError("Bind must be called on a function")
		}
		var bound []Value
		if len(args) > 1 {
			bound = append([]Value(nil), args[1:]...)
		}
		o := NewObject()
		o.Kind = KindBoundFunction
		if rt.functionProto != NullHandle {
			o.Proto, o.HasProto = rt.functionProto, true
		}
		o.Exotic = &BoundData{Target: this.Obj, BoundThs: argOr(args, 0), BoundArg: bound}
		g := rt.heap.Alloc(o)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	rt.RegisterNative(rt.functionProto, "toString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		name := "anonymous"
		if this.Kind == VObject {
			if obj, ok := rt.heap.Resolve(this.Obj); ok {
				switch d := obj.Exotic.(type) {
				case *FunctionData:
					if d.Name != "" {
						name = d.Name
					}
				case *NativeData:
					name = d.Name
				}
			}
		}
		return StringVal(rt.strings.Intern("function " + name + "() { [native code] }")), nil
	})
}

// installErrorBuiltins wires the Error/TypeError/RangeError/
// ReferenceError/SyntaxError constructors.
func (rt *Runtime) installErrorBuiltins() {
	rt.RegisterNative(rt.errorProto, "toString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		name, message := "Error", ""
		if nv, err := rt.GetProperty(this, StringKey(rt.strings.Intern("name"))); err == nil && nv.Kind == VString {
			name = rt.strings.Resolve(nv.Str)
		}
		if mv, err := rt.GetProperty(this, StringKey(rt.strings.Intern("message"))); err == nil && mv.Kind == VString {
			message = rt.strings.Resolve(mv.Str)
		}
		if message == "" {
			return StringVal(rt.strings.Intern(name)), nil
		}
		return StringVal(rt.strings.Intern(name + ": " + message)), nil
	})

	makeCtor := func(name string, kind ScriptErrorKind, proto ObjectHandle) ObjectHandle {
		g := rt.newConstructor(name, 1, proto, func(rt *Runtime, this Value, args []Value) (Value, error) {
			msg := ""
			if len(args) > 0 && !args[0].IsUndefined() {
				s, err := rt.ToStringRT(args[0])
				if err != nil {
					return Value{}, err
				}
				msg = s
			}
			return rt.newErrorObject(kind, msg), nil
		})
		h := g.Handle()
		g.Release()
		rt.defineGlobal(name, ObjectVal(h))
		return h
	}

	makeCtor("Error", ErrKindGeneric, rt.errorProto)
	makeCtor("TypeError", ErrKindType, rt.errorProtos[ErrKindType])
	makeCtor("RangeError", ErrKindRange, rt.errorProtos[ErrKindRange])
	makeCtor("ReferenceError", ErrKindReference, rt.errorProtos[ErrKindReference])
	makeCtor("SyntaxError", ErrKindSyntax, rt.errorProtos[ErrKindSyntax])
}

// installMathBuiltins wires the Math namespace object.
func (rt *Runtime) installMathBuiltins() {
	g := rt.NewPlainObject(rt.objectProto, true)
	mathObj := g.Handle()
	defer g.Release()

	rt.defineData(mathObj, "PI", NumberVal(math.Pi))
	rt.defineData(mathObj, "E", NumberVal(math.E))
	rt.defineData(mathObj, "LN2", NumberVal(math.Ln2))
	rt.defineData(mathObj, "LN10", NumberVal(math.Log(10)))
	rt.defineData(mathObj, "SQRT2", NumberVal(math.Sqrt2))

	unary := func(name string, f func(float64) float64) {
		rt.RegisterNative(mathObj, name, 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
			n, err := rt.ToNumberRT(argOr(args, 0))
			if err != nil {
				return Value{}, err
			}
			return NumberVal(f(n)), nil
		})
	}
	unary("abs", math.Abs)
	unary("floor", math.Floor)
	unary("ceil", math.Ceil)
	unary("trunc", math.Trunc)
	unary("sqrt", math.Sqrt)
	unary("cbrt", math.Cbrt)
	unary("sign", func(n float64) float64 {
		switch {
		case math.IsNaN(n):
			return math.NaN()
		case n > 0:
			return 1
		case n < 0:
			return -1
		default:
			return n
		}
	})
	unary("round", func(n float64) float64 { return math.Floor(n + 0.5) })
	unary("log", math.Log)
	unary("log2", math.Log2)
	unary("log10", math.Log10)
	unary("exp", math.Exp)
	unary("sin", math.Sin)
	unary("cos", math.Cos)
	unary("tan", math.Tan)

	rt.RegisterNative(mathObj, "pow", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		a, err := rt.ToNumberRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		b, err := rt.ToNumberRT(argOr(args, 1))
		if err != nil {
			return Value{}, err
		}
		return NumberVal(power(a, b)), nil
	})
	rt.RegisterNative(mathObj, "max", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		best := math.Inf(-1)
		for _, a := range args {
			n, err := rt.ToNumberRT(a)
			if err != nil {
				return Value{}, err
			}
			if math.IsNaN(n) {
				return NumberVal(math.NaN()), nil
			}
			if n > best {
				best = n
			}
		}
		return NumberVal(best), nil
	})
	rt.RegisterNative(mathObj, "min", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		best := math.Inf(1)
		for _, a := range args {
			n, err := rt.ToNumberRT(a)
			if err != nil {
				return Value{}, err
			}
			if math.IsNaN(n) {
				return NumberVal(math.NaN()), nil
			}
			if n < best {
				best = n
			}
		}
		return NumberVal(best), nil
	})
	rt.RegisterNative(mathObj, "random", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		// Deterministic by design: a host embedding this engine owns
		// entropy policy.
		return NumberVal(0.5), nil
	})

	rt.defineGlobal("Math", ObjectVal(mathObj))
}
