// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"math"
	"strconv"
	"strings"
)

// ToBoolean implements the engine's truthiness coercion.
func ToBoolean(v Value) bool {
	switch v.Kind {
	case VUndefined, VNull:
		return false
	case VBool:
		return v.Num != 0
	case VNumber:
		return v.Num != 0 && !math.IsNaN(v.Num)
	case VString:
		return true // length check happens in ToBooleanRT, which resolves the handle
	case VSymbol:
		return true
	case VObject:
		return true
	}
	return false
}

// ToBooleanRT resolves string content through the intern table, since
// Value alone cannot report string length.
func (rt *Runtime) ToBooleanRT(v Value) bool {
	if v.Kind == VString {
		return rt.strings.Resolve(v.Str) != ""
	}
	return ToBoolean(v)
}

// ToNumber implements numeric coercion for values that do not require
// object-to-primitive conversion (handled by ToNumberRT).
func ToNumber(v Value) float64 {
	switch v.Kind {
	case VUndefined:
		return math.NaN()
	case VNull:
		return 0
	case VBool:
		return v.Num
	case VNumber:
		return v.Num
	}
	return math.NaN()
}

// ToNumberRT is the full ToNumber abstract operation, resolving
// strings via the intern table and objects via ToPrimitive(hint
// number).
func (rt *Runtime) ToNumberRT(v Value) (float64, error) {
	switch v.Kind {
	case VString:
		s := strings.TrimSpace(rt.strings.Resolve(v.Str))
		if s == "" {
			return 0, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n, nil
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			if n, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
				return float64(n), nil
			}
		}
		return math.NaN(), nil
	case VObject:
		prim, err := rt.ToPrimitive(v, "number")
		if err != nil {
			return 0, err
		}
		if prim.Kind == VObject {
			return math.NaN(), nil
		}
		return rt.ToNumberRT(prim)
	case VSymbol:
		return 0, typeError("Cannot convert a Symbol value to a number")
	}
	return ToNumber(v), nil
}

// ToStringRT implements the ToString abstract operation, returning
// the result as a Go string; the result is not interned.
func (rt *Runtime) ToStringRT(v Value) (string, error) {
	switch v.Kind {
	case VUndefined:
		return "undefined", nil
	case VNull:
		return "null", nil
	case VBool:
		if v.Num != 0 {
			return "true", nil
		}
		return "false", nil
	case VNumber:
		return formatNumber(v.Num), nil
	case VString:
		return rt.strings.Resolve(v.Str), nil
	case VSymbol:
		return "", typeError("Cannot convert a Symbol value to a string")
	case VObject:
		prim, err := rt.ToPrimitive(v, "string")
		if err != nil {
			return "", err
		}
		if prim.Kind == VObject {
			return "[object Object]", nil
		}
		return rt.ToStringRT(prim)
	}
	return "", nil
}

// formatNumber mirrors Number::toString's default (radix 10) rendering
// for the common cases a scripting engine needs.
func formatNumber(n float64) string {
	if math.IsNaN(n) {
		return "NaN"
	}
	if math.IsInf(n, 1) {
		return "Infinity"
	}
	if math.IsInf(n, -1) {
		return "-Infinity"
	}
	if n == 0 {
		if math.Signbit(n) {
			return "0" // -0 stringifies as "0"
		}
		return "0"
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// ToPrimitive implements OrdinaryToPrimitive for plain objects: try
// toString/valueOf (or valueOf/toString, depending on hint) if
// present as callable own-or-inherited properties. When neither yields
// a primitive, v itself is returned unchanged.
func (rt *Runtime) ToPrimitive(v Value, hint string) (Value, error) {
	if v.Kind != VObject {
		return v, nil
	}
	methods := []string{"valueOf", "toString"}
	if hint == "string" {
		methods = []string{"toString", "valueOf"}
	}
	for _, name := range methods {
		fnVal, err := rt.GetProperty(v, StringKey(rt.strings.Intern(name)))
		if err != nil {
			return Value{}, err
		}
		if fnVal.Kind != VObject {
			continue
		}
		obj, ok := rt.heap.Resolve(fnVal.Obj)
		if !ok || (obj.Kind != KindFunction && obj.Kind != KindBoundFunction) {
			continue
		}
		result, err := rt.Call(fnVal, v, nil)
		if err != nil {
			return Value{}, err
		}
		if result.Kind != VObject {
			return result, nil
		}
	}
	return v, nil
}

// LooseEquals implements ==.
func (rt *Runtime) LooseEquals(a, b Value) (bool, error) {
	if a.Kind == b.Kind {
		return StrictEquals(a, b), nil
	}
	if a.IsNullish() && b.IsNullish() {
		return true, nil
	}
	if a.IsNullish() || b.IsNullish() {
		return false, nil
	}
	if a.Kind == VNumber && b.Kind == VString {
		n, err := rt.ToNumberRT(b)
		if err != nil {
			return false, err
		}
		return a.Num == n, nil
	}
	if a.Kind == VString && b.Kind == VNumber {
		return rt.LooseEquals(b, a)
	}
	if a.Kind == VBool {
		return rt.LooseEquals(NumberVal(ToNumber(a)), b)
	}
	if b.Kind == VBool {
		return rt.LooseEquals(a, NumberVal(ToNumber(b)))
	}
	if (a.Kind == VNumber || a.Kind == VString) && b.Kind == VObject {
		prim, err := rt.ToPrimitive(b, "default")
		if err != nil {
			return false, err
		}
		if prim.Kind == VObject {
			return false, nil
		}
		return rt.LooseEquals(a, prim)
	}
	if a.Kind == VObject && (b.Kind == VNumber || b.Kind == VString) {
		return rt.LooseEquals(b, a)
	}
	return false, nil
}

// TypeOf implements the `typeof` operator.
func (rt *Runtime) TypeOf(v Value) string {
	switch v.Kind {
	case VUndefined:
		return "undefined"
	case VNull:
		return "object"
	case VBool:
		return "boolean"
	case VNumber:
		return "number"
	case VString:
		return "string"
	case VSymbol:
		return "symbol"
	case VObject:
		obj, ok := rt.heap.Resolve(v.Obj)
		if ok && (obj.Kind == KindFunction || obj.Kind == KindBoundFunction) {
			return "function"
		}
		return "object"
	}
	return "undefined"
}
