// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"fmt"
	"math"
	"time"
)

// installCollectionBuiltins wires Map and Set, both backed by
// MapData/SetData's SameValueZero-keyed insertion-ordered storage
func (rt *Runtime) installCollectionBuiltins() {
	mapCtorGuard := rt.newConstructor("Map", 0, rt.mapProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		o := NewObject()
		o.Kind = KindMap
		o.Proto, o.HasProto = rt.mapProto, true
		o.Exotic = &MapData{index: make(map[mapKey]int)}
		g := rt.heap.Alloc(o)
		handle := g.Handle()
		defer g.Release()
		if len(args) > 0 && args[0].Kind == VObject {
			iterVal, err := rt.getIterator(args[0], false)
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
					pair, _ := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
					k, _ := rt.GetProperty(pair, IndexKey(0))
					v, _ := rt.GetProperty(pair, IndexKey(1))
					mapSet(rt.heap.MustResolve(handle).Exotic.(*MapData), k, v)
				}
			}
		}
		return ObjectVal(handle), nil
	})
	mapCtor := mapCtorGuard.Handle()
	defer mapCtorGuard.Release()
	rt.defineGlobal("Map", ObjectVal(mapCtor))

	mapDataOf := func(this Value) (*MapData, error) {
		if this.Kind != VObject {
			return nil, typeError("Map method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok {
			return nil, ErrDanglingHandle
		}
		md, ok := obj.Exotic.(*MapData)
		if !ok {
			return nil, typeError("Map method called on an incompatible receiver")
		}
		return md, nil
	}
	rt.RegisterNative(rt.mapProto, "set", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		mapSet(md, argOr(args, 0), argOr(args, 1))
		return this, nil
	})
	rt.RegisterNative(rt.mapProto, "get", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		if i, ok := md.index[toMapKey(argOr(args, 0))]; ok {
			return md.values[i], nil
		}
		return Undefined(), nil
	})
	rt.RegisterNative(rt.mapProto, "has", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		_, ok := md.index[toMapKey(argOr(args, 0))]
		return BoolVal(ok), nil
	})
	rt.RegisterNative(rt.mapProto, "delete", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		k := toMapKey(argOr(args, 0))
		i, ok := md.index[k]
		if !ok {
			return BoolVal(false), nil
		}
		md.keys = append(md.keys[:i], md.keys[i+1:]...)
		md.values = append(md.values[:i], md.values[i+1:]...)
		delete(md.index, k)
		for kk, idx := range md.index {
			if idx > i {
				md.index[kk] = idx - 1
			}
		}
		return BoolVal(true), nil
	})
	rt.RegisterNative(rt.mapProto, "clear", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		md.keys, md.values, md.index = nil, nil, make(map[mapKey]int)
		return Undefined(), nil
	})
	rt.RegisterNative(rt.mapProto, "forEach", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for i := range md.keys {
			if _, err := rt.Call(cb, argOr(args, 1), []Value{md.values[i], md.keys[i], this}); err != nil {
				return Value{}, err
			}
		}
		return Undefined(), nil
	})
	mapSizeGetter := rt.newNativeFunction("size", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		return NumberVal(float64(len(md.keys))), nil
	})
	rt.heap.MustResolve(rt.mapProto).SetOwn(StringKey(rt.strings.Intern("size")), &PropertyDescriptor{
		Getter: mapSizeGetter.Handle(), HasGetter: true, Configurable: true,
	})
	mapSizeGetter.Release()
	rt.RegisterNative(rt.mapProto, "keys", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.nativeListIterator(append([]Value(nil), md.keys...)), nil
	})
	rt.RegisterNative(rt.mapProto, "values", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.nativeListIterator(append([]Value(nil), md.values...)), nil
	})
	rt.RegisterNative(rt.mapProto, "entries", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		md, err := mapDataOf(this)
		if err != nil {
			return Value{}, err
		}
		pairs := make([]Value, len(md.keys))
		guards := make([]*Guard, len(md.keys))
		for i := range md.keys {
			g := rt.NewArray([]Value{md.keys[i], md.values[i]})
			pairs[i] = ObjectVal(g.Handle())
			guards[i] = g
		}
		// Guards stay live until the iterator owns every pair.
		iter := rt.nativeListIterator(pairs)
		for _, g := range guards {
			g.Release()
		}
		return iter, nil
	})

	setCtorGuard := rt.newConstructor("Set", 0, rt.setProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		o := NewObject()
		o.Kind = KindSet
		o.Proto, o.HasProto = rt.setProto, true
		sd := &SetData{index: make(map[mapKey]int)}
		o.Exotic = sd
		g := rt.heap.Alloc(o)
		handle := g.Handle()
		defer g.Release()
		if len(args) > 0 && args[0].Kind == VObject {
			iterVal, err := rt.getIterator(args[0], false)
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
					v, _ := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
					setAdd(sd, v)
				}
			}
		}
		return ObjectVal(handle), nil
	})
	setCtor := setCtorGuard.Handle()
	defer setCtorGuard.Release()
	rt.defineGlobal("Set", ObjectVal(setCtor))

	setDataOf := func(this Value) (*SetData, error) {
		if this.Kind != VObject {
			return nil, typeError("Set method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok {
			return nil, ErrDanglingHandle
		}
		sd, ok := obj.Exotic.(*SetData)
		if !ok {
			return nil, typeError("Set method called on an incompatible receiver")
		}
		return sd, nil
	}
	rt.RegisterNative(rt.setProto, "add", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		setAdd(sd, argOr(args, 0))
		return this, nil
	})
	rt.RegisterNative(rt.setProto, "has", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		_, ok := sd.index[toMapKey(argOr(args, 0))]
		return BoolVal(ok), nil
	})
	rt.RegisterNative(rt.setProto, "delete", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		k := toMapKey(argOr(args, 0))
		i, ok := sd.index[k]
		if !ok {
			return BoolVal(false), nil
		}
		sd.values = append(sd.values[:i], sd.values[i+1:]...)
		delete(sd.index, k)
		for kk, idx := range sd.index {
			if idx > i {
				sd.index[kk] = idx - 1
			}
		}
		return BoolVal(true), nil
	})
	rt.RegisterNative(rt.setProto, "clear", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		sd.values, sd.index = nil, make(map[mapKey]int)
		return Undefined(), nil
	})
	rt.RegisterNative(rt.setProto, "forEach", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		cb := argOr(args, 0)
		for _, v := range sd.values {
			if _, err := rt.Call(cb, argOr(args, 1), []Value{v, v, this}); err != nil {
				return Value{}, err
			}
		}
		return Undefined(), nil
	})
	setSizeGetter := rt.newNativeFunction("size", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		return NumberVal(float64(len(sd.values))), nil
	})
	rt.heap.MustResolve(rt.setProto).SetOwn(StringKey(rt.strings.Intern("size")), &PropertyDescriptor{
		Getter: setSizeGetter.Handle(), HasGetter: true, Configurable: true,
	})
	setSizeGetter.Release()
	rt.RegisterNative(rt.setProto, "values", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		sd, err := setDataOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.nativeListIterator(append([]Value(nil), sd.values...)), nil
	})
}

func mapSet(md *MapData, k, v Value) {
	key := toMapKey(k)
	if i, ok := md.index[key]; ok {
		md.values[i] = v
		return
	}
	md.index[key] = len(md.keys)
	md.keys = append(md.keys, k)
	md.values = append(md.values, v)
}

func setAdd(sd *SetData, v Value) {
	key := toMapKey(v)
	if _, ok := sd.index[key]; ok {
		return
	}
	sd.index[key] = len(sd.values)
	sd.values = append(sd.values, v)
}

// installDateBuiltins wires a minimal Date: construction from
// milliseconds or the current time, and the handful of accessors
// most scripts actually use.
func (rt *Runtime) installDateBuiltins() {
	ctorGuard := rt.newConstructor("Date", 0, rt.dateProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		millis := float64(time.Now().UnixNano()) / 1e6
		if len(args) == 1 {
			n, err := rt.ToNumberRT(args[0])
			if err != nil {
				return Value{}, err
			}
			millis = n
		}
		o := NewObject()
		o.Kind = KindDate
		o.Proto, o.HasProto = rt.dateProto, true
		o.Exotic = &DateData{Millis: millis}
		g := rt.heap.Alloc(o)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()
	rt.RegisterNative(ctor, "now", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return NumberVal(float64(time.Now().UnixNano()) / 1e6), nil
	})
	rt.defineGlobal("Date", ObjectVal(ctor))

	dateOf := func(this Value) (*DateData, error) {
		if this.Kind != VObject {
			return nil, typeError("Date method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok {
			return nil, ErrDanglingHandle
		}
		dd, ok := obj.Exotic.(*DateData)
		if !ok {
			return nil, typeError("Date method called on an incompatible receiver")
		}
		return dd, nil
	}
	rt.RegisterNative(rt.dateProto, "getTime", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		dd, err := dateOf(this)
		if err != nil {
			return Value{}, err
		}
		return NumberVal(dd.Millis), nil
	})
	rt.RegisterNative(rt.dateProto, "valueOf", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		dd, err := dateOf(this)
		if err != nil {
			return Value{}, err
		}
		return NumberVal(dd.Millis), nil
	})
	rt.RegisterNative(rt.dateProto, "toISOString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		dd, err := dateOf(this)
		if err != nil {
			return Value{}, err
		}
		if math.IsNaN(dd.Millis) {
			return Value{}, rangeError("Invalid time value")
		}
		t := time.UnixMilli(int64(dd.Millis)).UTC()
		return StringVal(rt.strings.Intern(t.Format("2006-01-02T15:04:05.000Z"))), nil
	})
	rt.RegisterNative(rt.dateProto, "toString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		dd, err := dateOf(this)
		if err != nil {
			return Value{}, err
		}
		if math.IsNaN(dd.Millis) {
			return StringVal(rt.strings.Intern("Invalid Date")), nil
		}
		t := time.UnixMilli(int64(dd.Millis)).UTC()
		return StringVal(rt.strings.Intern(t.Format(time.RFC1123))), nil
	})
	accessor := func(name string, get func(time.Time) float64) {
		rt.RegisterNative(rt.dateProto, name, 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
			dd, err := dateOf(this)
			if err != nil {
				return Value{}, err
			}
			if math.IsNaN(dd.Millis) {
				return NumberVal(math.NaN()), nil
			}
			return NumberVal(get(time.UnixMilli(int64(dd.Millis)).UTC())), nil
		})
	}
	accessor("getFullYear", func(t time.Time) float64 { return float64(t.Year()) })
	accessor("getMonth", func(t time.Time) float64 { return float64(int(t.Month()) - 1) })
	accessor("getDate", func(t time.Time) float64 { return float64(t.Day()) })
	accessor("getDay", func(t time.Time) float64 { return float64(int(t.Weekday())) })
	accessor("getHours", func(t time.Time) float64 { return float64(t.Hour()) })
	accessor("getMinutes", func(t time.Time) float64 { return float64(t.Minute()) })
	accessor("getSeconds", func(t time.Time) float64 { return float64(t.Second()) })
}

// installRegExpBuiltins wires RegExp's source/flags/lastIndex
// bookkeeping. Pattern compilation and matching are a host
// collaborator's concern, so test/exec here report no match rather than
// attempting a partial regex engine.
func (rt *Runtime) installRegExpBuiltins() {
	ctorGuard := rt.newConstructor("RegExp", 2, rt.regexpProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		pattern, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		flags := ""
		if !argOr(args, 1).IsUndefined() {
			flags, err = rt.ToStringRT(args[1])
			if err != nil {
				return Value{}, err
			}
		}
		return rt.newRegExp(pattern, flags), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()
	rt.defineGlobal("RegExp", ObjectVal(ctor))

	reOf := func(this Value) (*RegExpData, error) {
		if this.Kind != VObject {
			return nil, typeError("RegExp method called on non-object")
		}
		obj, ok := rt.heap.Resolve(this.Obj)
		if !ok {
			return nil, ErrDanglingHandle
		}
		rd, ok := obj.Exotic.(*RegExpData)
		if !ok {
			return nil, typeError("RegExp method called on an incompatible receiver")
		}
		return rd, nil
	}
	rt.RegisterNative(rt.regexpProto, "toString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		rd, err := reOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(fmt.Sprintf("/%s/%s", rd.Source, rd.Flags))), nil
	})
	rt.RegisterNative(rt.regexpProto, "test", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if _, err := reOf(this); err != nil {
			return Value{}, err
		}
		return BoolVal(false), nil
	})
	rt.RegisterNative(rt.regexpProto, "exec", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if _, err := reOf(this); err != nil {
			return Value{}, err
		}
		return Null(), nil
	})
	sourceGetter := rt.newNativeFunction("source", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		rd, err := reOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(rd.Source)), nil
	})
	rt.heap.MustResolve(rt.regexpProto).SetOwn(StringKey(rt.strings.Intern("source")), &PropertyDescriptor{
		Getter: sourceGetter.Handle(), HasGetter: true, Configurable: true,
	})
	sourceGetter.Release()
	flagsGetter := rt.newNativeFunction("flags", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		rd, err := reOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(rd.Flags)), nil
	})
	rt.heap.MustResolve(rt.regexpProto).SetOwn(StringKey(rt.strings.Intern("flags")), &PropertyDescriptor{
		Getter: flagsGetter.Handle(), HasGetter: true, Configurable: true,
	})
	flagsGetter.Release()
}
