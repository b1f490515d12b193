// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "math"

// toInt32 implements the ToInt32 abstract operation used by the bitwise
// operators.
func toInt32(n float64) int32 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int32(uint32(int64(n)))
}

// mod implements the `%` operator's floating-point remainder semantics
// (sign follows the dividend, unlike Go's math.Mod for negative zero
// edge cases which already matches).
func mod(l, r float64) float64 {
	if r == 0 || math.IsNaN(l) || math.IsNaN(r) || math.IsInf(l, 0) {
		return math.NaN()
	}
	if math.IsInf(r, 0) {
		return l
	}
	return math.Mod(l, r)
}

// power implements `**`.
func power(l, r float64) float64 {
	return math.Pow(l, r)
}

// add implements `+`, which differs from the other arithmetic operators
// by first trying string concatenation via ToPrimitive.
func (rt *Runtime) add(a, b Value) (Value, error) {
	pa, err := rt.ToPrimitive(a, "default")
	if err != nil {
		return Value{}, err
	}
	pb, err := rt.ToPrimitive(b, "default")
	if err != nil {
		return Value{}, err
	}
	if pa.Kind == VString || pb.Kind == VString {
		sa, err := rt.ToStringRT(pa)
		if err != nil {
			return Value{}, err
		}
		sb, err := rt.ToStringRT(pb)
		if err != nil {
			return Value{}, err
		}
		return StringVal(rt.strings.Intern(sa + sb)), nil
	}
	na, err := rt.ToNumberRT(pa)
	if err != nil {
		return Value{}, err
	}
	nb, err := rt.ToNumberRT(pb)
	if err != nil {
		return Value{}, err
	}
	return NumberVal(na + nb), nil
}

// compare implements the relational operators via the Abstract
// Relational Comparison algorithm: string/string uses lexicographic
// ordering, everything else coerces to Number.
func (rt *Runtime) compare(op OpCode, a, b Value) (Value, error) {
	pa, err := rt.ToPrimitive(a, "number")
	if err != nil {
		return Value{}, err
	}
	pb, err := rt.ToPrimitive(b, "number")
	if err != nil {
		return Value{}, err
	}
	if pa.Kind == VString && pb.Kind == VString {
		sa, sb := rt.strings.Resolve(pa.Str), rt.strings.Resolve(pb.Str)
		var res bool
		switch op {
		case OpLt:
			res = sa < sb
		case OpLtEq:
			res = sa <= sb
		case OpGt:
			res = sa > sb
		case OpGtEq:
			res = sa >= sb
		}
		return BoolVal(res), nil
	}
	na, err := rt.ToNumberRT(pa)
	if err != nil {
		return Value{}, err
	}
	nb, err := rt.ToNumberRT(pb)
	if err != nil {
		return Value{}, err
	}
	if math.IsNaN(na) || math.IsNaN(nb) {
		return BoolVal(false), nil
	}
	var res bool
	switch op {
	case OpLt:
		res = na < nb
	case OpLtEq:
		res = na <= nb
	case OpGt:
		res = na > nb
	case OpGtEq:
		res = na >= nb
	}
	return BoolVal(res), nil
}
