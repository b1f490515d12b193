// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"math"
	"strconv"
	"strings"
)

// installStringBuiltins wires the String constructor and
// String.prototype's text-processing methods.
func (rt *Runtime) installStringBuiltins() {
	ctorGuard := rt.newConstructor("String", 1, rt.stringProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return StringVal(rt.strings.Intern("")), nil
		}
		s, err := rt.ToStringRT(args[0])
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(s)), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()
	rt.RegisterNative(ctor, "fromCharCode", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		var b strings.Builder
		for _, a := range args {
			n, err := rt.ToNumberRT(a)
			if err != nil {
				return Value{}, err
			}
			b.WriteRune(rune(int32(n)))
		}
		return StringVal(rt.strings.Intern(b.String())), nil
	})
	rt.defineGlobal("String", ObjectVal(ctor))

	strOf := func(this Value) (string, error) {
		if this.Kind == VString {
			return rt.strings.Resolve(this.Str), nil
		}
		if this.Kind == VObject {
			if obj, ok := rt.heap.Resolve(this.Obj); ok {
				if bd, ok := obj.Exotic.(*BoxedData); ok && bd.Value.Kind == VString {
					return rt.strings.Resolve(bd.Value.Str), nil
				}
			}
		}
		return "", typeError("String.prototype method called on incompatible receiver")
	}
	method := func(name string, fn NativeFunc) { rt.RegisterNative(rt.stringProto, name, 1, fn) }

	method("toString", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(s)), nil
	})
	method("valueOf", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(s)), nil
	})
	method("charAt", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		r := []rune(s)
		i := int(ToNumber(argOr(args, 0)))
		if i < 0 || i >= len(r) {
			return StringVal(rt.strings.Intern("")), nil
		}
		return StringVal(rt.strings.Intern(string(r[i]))), nil
	})
	method("charCodeAt", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		r := []rune(s)
		i := int(ToNumber(argOr(args, 0)))
		if i < 0 || i >= len(r) {
			return NumberVal(math.NaN()), nil
		}
		return NumberVal(float64(r[i])), nil
	})
	method("indexOf", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		sub, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return NumberVal(float64(strings.Index(s, sub))), nil
	})
	method("lastIndexOf", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		sub, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return NumberVal(float64(strings.LastIndex(s, sub))), nil
	})
	method("includes", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		sub, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return BoolVal(strings.Contains(s, sub)), nil
	})
	method("startsWith", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		sub, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return BoolVal(strings.HasPrefix(s, sub)), nil
	})
	method("endsWith", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		sub, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return BoolVal(strings.HasSuffix(s, sub)), nil
	})
	method("slice", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		r := []rune(s)
		start, end := rt.sliceBoundsRT(len(r), argOr(args, 0), argOr(args, 1))
		return StringVal(rt.strings.Intern(string(r[start:end]))), nil
	})
	method("substring", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		r := []rune(s)
		a := clampNonNeg(len(r), argOr(args, 0))
		b := len(r)
		if !argOr(args, 1).IsUndefined() {
			b = clampNonNeg(len(r), args[1])
		}
		if a > b {
			a, b = b, a
		}
		return StringVal(rt.strings.Intern(string(r[a:b]))), nil
	})
	method("toUpperCase", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(strings.ToUpper(s))), nil
	})
	method("toLowerCase", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(strings.ToLower(s))), nil
	})
	method("trim", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(strings.TrimSpace(s))), nil
	})
	method("split", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		sepArg := argOr(args, 0)
		var parts []string
		if sepArg.IsUndefined() {
			parts = []string{s}
		} else {
			sep, err := rt.ToStringRT(sepArg)
			if err != nil {
				return Value{}, err
			}
			if sep == "" {
				for _, r := range s {
					parts = append(parts, string(r))
				}
			} else {
				parts = strings.Split(s, sep)
			}
		}
		vals := make([]Value, len(parts))
		for i, p := range parts {
			vals[i] = StringVal(rt.strings.Intern(p))
		}
		g := rt.NewArray(vals)
		defer g.Release()
		return ObjectVal(g.Handle()), nil
	})
	method("replace", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		search, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		repl := argOr(args, 1)
		if repl.Kind == VObject {
			idx := strings.Index(s, search)
			if idx < 0 {
				return StringVal(rt.strings.Intern(s)), nil
			}
			r, err := rt.Call(repl, Undefined(), []Value{StringVal(rt.strings.Intern(search)), NumberVal(float64(idx)), StringVal(rt.strings.Intern(s))})
			if err != nil {
				return Value{}, err
			}
			rs, err := rt.ToStringRT(r)
			if err != nil {
				return Value{}, err
			}
			return StringVal(rt.strings.Intern(s[:idx] + rs + s[idx+len(search):])), nil
		}
		replStr, err := rt.ToStringRT(repl)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(strings.Replace(s, search, replStr, 1))), nil
	})
	method("replaceAll", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		search, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		replStr, err := rt.ToStringRT(argOr(args, 1))
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(strings.ReplaceAll(s, search, replStr))), nil
	})
	method("repeat", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		n, err := rt.ToNumberRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		if n < 0 || math.IsInf(n, 1) {
			return Value{}, rangeError("Invalid count value")
		}
		return StringVal(rt.strings.Intern(strings.Repeat(s, int(n)))), nil
	})
	method("padStart", func(rt *Runtime, this Value, args []Value) (Value, error) {
		return rt.padString(strOf, this, args, true)
	})
	method("padEnd", func(rt *Runtime, this Value, args []Value) (Value, error) {
		return rt.padString(strOf, this, args, false)
	})
	method("concat", func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		var b strings.Builder
		b.WriteString(s)
		for _, a := range args {
			as, err := rt.ToStringRT(a)
			if err != nil {
				return Value{}, err
			}
			b.WriteString(as)
		}
		return StringVal(rt.strings.Intern(b.String())), nil
	})
	iterFnGuard := rt.newNativeFunction("[Symbol.iterator]", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := strOf(this)
		if err != nil {
			return Value{}, err
		}
		return rt.nativeStringIterator(s), nil
	})
	rt.heap.MustResolve(rt.stringProto).SetOwn(SymbolKey(rt.symIterator), &PropertyDescriptor{
		Value: ObjectVal(iterFnGuard.Handle()), Writable: true, Configurable: true,
	})
	iterFnGuard.Release()
}

func (rt *Runtime) padString(strOf func(Value) (string, error), this Value, args []Value, start bool) (Value, error) {
	s, err := strOf(this)
	if err != nil {
		return Value{}, err
	}
	targetLen, err := rt.ToNumberRT(argOr(args, 0))
	if err != nil {
		return Value{}, err
	}
	pad := " "
	if !argOr(args, 1).IsUndefined() {
		pad, err = rt.ToStringRT(args[1])
		if err != nil {
			return Value{}, err
		}
	}
	r := []rune(s)
	want := int(targetLen)
	if want <= len(r) || pad == "" {
		return StringVal(rt.strings.Intern(s)), nil
	}
	padRunes := []rune(pad)
	var b strings.Builder
	for b.Len() < (want-len(r))*4 && len([]rune(b.String())) < want-len(r) {
		b.WriteString(string(padRunes))
	}
	fill := []rune(b.String())[:want-len(r)]
	if start {
		return StringVal(rt.strings.Intern(string(fill) + s)), nil
	}
	return StringVal(rt.strings.Intern(s + string(fill))), nil
}

func clampNonNeg(length int, v Value) int {
	n := int(ToNumber(v))
	if n < 0 {
		n = 0
	}
	if n > length {
		n = length
	}
	return n
}

// installNumberBuiltins wires the Number constructor/statics and
// Number.prototype.
func (rt *Runtime) installNumberBuiltins() {
	ctorGuard := rt.newConstructor("Number", 1, rt.numberProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return NumberVal(0), nil
		}
		n, err := rt.ToNumberRT(args[0])
		if err != nil {
			return Value{}, err
		}
		return NumberVal(n), nil
	})
	ctor := ctorGuard.Handle()
	defer ctorGuard.Release()

	rt.defineData(ctor, "MAX_SAFE_INTEGER", NumberVal(9007199254740991))
	rt.defineData(ctor, "MIN_SAFE_INTEGER", NumberVal(-9007199254740991))
	rt.defineData(ctor, "MAX_VALUE", NumberVal(math.MaxFloat64))
	rt.defineData(ctor, "EPSILON", NumberVal(2.220446049250313e-16))
	rt.defineData(ctor, "POSITIVE_INFINITY", NumberVal(math.Inf(1)))
	rt.defineData(ctor, "NEGATIVE_INFINITY", NumberVal(math.Inf(-1)))
	rt.defineData(ctor, "NaN", NumberVal(math.NaN()))

	rt.RegisterNative(ctor, "isInteger", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VNumber {
			return BoolVal(false), nil
		}
		return BoolVal(!math.IsNaN(v.Num) && !math.IsInf(v.Num, 0) && v.Num == math.Trunc(v.Num)), nil
	})
	rt.RegisterNative(ctor, "isFinite", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		if v.Kind != VNumber {
			return BoolVal(false), nil
		}
		return BoolVal(!math.IsNaN(v.Num) && !math.IsInf(v.Num, 0)), nil
	})
	rt.RegisterNative(ctor, "isNaN", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		v := argOr(args, 0)
		return BoolVal(v.Kind == VNumber && math.IsNaN(v.Num)), nil
	})
	rt.RegisterNative(ctor, "parseFloat", 1, globalParseFloat)
	rt.RegisterNative(ctor, "parseInt", 2, globalParseInt)
	rt.defineGlobal("Number", ObjectVal(ctor))

	numOf := func(this Value) (float64, error) {
		if this.Kind == VNumber {
			return this.Num, nil
		}
		if this.Kind == VObject {
			if obj, ok := rt.heap.Resolve(this.Obj); ok {
				if bd, ok := obj.Exotic.(*BoxedData); ok && bd.Value.Kind == VNumber {
					return bd.Value.Num, nil
				}
			}
		}
		return 0, typeError("Number.prototype method called on incompatible receiver")
	}
	rt.RegisterNative(rt.numberProto, "toString", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		n, err := numOf(this)
		if err != nil {
			return Value{}, err
		}
		radix := 10
		if len(args) > 0 && !args[0].IsUndefined() {
			rn, err := rt.ToNumberRT(args[0])
			if err != nil {
				return Value{}, err
			}
			radix = int(rn)
		}
		if radix == 10 {
			return StringVal(rt.strings.Intern(formatNumber(n))), nil
		}
		return StringVal(rt.strings.Intern(strconv.FormatInt(int64(n), radix))), nil
	})
	rt.RegisterNative(rt.numberProto, "valueOf", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		n, err := numOf(this)
		if err != nil {
			return Value{}, err
		}
		return NumberVal(n), nil
	})
	rt.RegisterNative(rt.numberProto, "toFixed", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		n, err := numOf(this)
		if err != nil {
			return Value{}, err
		}
		digits := 0
		if len(args) > 0 {
			dn, err := rt.ToNumberRT(args[0])
			if err != nil {
				return Value{}, err
			}
			digits = int(dn)
		}
		return StringVal(rt.strings.Intern(strconv.FormatFloat(n, 'f', digits, 64))), nil
	})

	// Global free functions that piggyback on Number's coercion rules
	rt.defineGlobal("parseInt", ObjectVal(rt.newNativeFunctionGlobal("parseInt", 2, globalParseInt)))
	rt.defineGlobal("parseFloat", ObjectVal(rt.newNativeFunctionGlobal("parseFloat", 1, globalParseFloat)))
	rt.defineGlobal("isNaN", ObjectVal(rt.newNativeFunctionGlobal("isNaN", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		n, err := rt.ToNumberRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return BoolVal(math.IsNaN(n)), nil
	})))
	rt.defineGlobal("isFinite", ObjectVal(rt.newNativeFunctionGlobal("isFinite", 1, func(rt *Runtime, this Value, args []Value) (Value, error) {
		n, err := rt.ToNumberRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		return BoolVal(!math.IsNaN(n) && !math.IsInf(n, 0)), nil
	})))
}

func (rt *Runtime) newNativeFunctionGlobal(name string, arity int, fn NativeFunc) ObjectHandle {
	g := rt.newNativeFunction(name, arity, fn)
	defer g.Release()
	return g.Handle()
}

func globalParseInt(rt *Runtime, this Value, args []Value) (Value, error) {
	s, err := rt.ToStringRT(argOr(args, 0))
	if err != nil {
		return Value{}, err
	}
	s = strings.TrimSpace(s)
	radix := 10
	if len(args) > 1 && !args[1].IsUndefined() {
		rn, err := rt.ToNumberRT(args[1])
		if err != nil {
			return Value{}, err
		}
		if int(rn) != 0 {
			radix = int(rn)
		}
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg, s = true, s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if radix == 16 || radix == 10 {
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			s, radix = s[2:], 16
		}
	}
	end := 0
	for end < len(s) {
		_, err := strconv.ParseUint(s[:end+1], radix, 64)
		if err != nil {
			break
		}
		end++
	}
	if end == 0 {
		return NumberVal(math.NaN()), nil
	}
	n, err := strconv.ParseInt(s[:end], radix, 64)
	if err != nil {
		return NumberVal(math.NaN()), nil
	}
	if neg {
		n = -n
	}
	return NumberVal(float64(n)), nil
}

func globalParseFloat(rt *Runtime, this Value, args []Value) (Value, error) {
	s, err := rt.ToStringRT(argOr(args, 0))
	if err != nil {
		return Value{}, err
	}
	s = strings.TrimSpace(s)
	end := len(s)
	for end > 0 {
		if _, err := strconv.ParseFloat(s[:end], 64); err == nil {
			break
		}
		end--
	}
	if end == 0 {
		return NumberVal(math.NaN()), nil
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return NumberVal(math.NaN()), nil
	}
	return NumberVal(n), nil
}

// installBooleanBuiltins wires the Boolean constructor/prototype
func (rt *Runtime) installBooleanBuiltins() {
	ctorGuard := rt.newConstructor("Boolean", 1, rt.booleanProto, func(rt *Runtime, this Value, args []Value) (Value, error) {
		return BoolVal(rt.ToBooleanRT(argOr(args, 0))), nil
	})
	ctor := ctorGuard.Handle()
	ctorGuard.Release()
	rt.defineGlobal("Boolean", ObjectVal(ctor))

	rt.RegisterNative(rt.booleanProto, "toString", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if this.Kind == VBool {
			if this.AsBool() {
				return StringVal(rt.strings.Intern("true")), nil
			}
			return StringVal(rt.strings.Intern("false")), nil
		}
		return Value{}, typeError("Boolean.prototype.toString called on incompatible receiver")
	})
	rt.RegisterNative(rt.booleanProto, "valueOf", 0, func(rt *Runtime, this Value, args []Value) (Value, error) {
		if this.Kind == VBool {
			return this, nil
		}
		return Value{}, typeError("Boolean.prototype.valueOf called on incompatible receiver")
	})
}
