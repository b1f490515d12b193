// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"encoding/json"
	"strings"
)

// installJSONBuiltins wires the JSON namespace object. JSON.stringify
// walks the Value graph directly; JSON.parse decodes through
// encoding/json into Go's generic interface{} representation and
// rebuilds Values from that, since the CORE's own parser targets
// script syntax, not JSON's (a strict, if overlapping, grammar).
func (rt *Runtime) installJSONBuiltins() {
	g := rt.NewPlainObject(rt.objectProto, true)
	jsonObj := g.Handle()
	defer g.Release()

	rt.RegisterNative(jsonObj, "stringify", 3, func(rt *Runtime, this Value, args []Value) (Value, error) {
		var b strings.Builder
		ok, err := rt.jsonStringify(&b, argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		if !ok {
			return Undefined(), nil
		}
		return StringVal(rt.strings.Intern(b.String())), nil
	})
	rt.RegisterNative(jsonObj, "parse", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		s, err := rt.ToStringRT(argOr(args, 0))
		if err != nil {
			return Value{}, err
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return Value{}, syntaxScriptError("%s", err.Error())
		}
		return rt.fromJSONAny(decoded), nil
	})

	rt.defineGlobal("JSON", ObjectVal(jsonObj))
}

// jsonStringify writes v's JSON text to b, reporting false when v
// (functions, symbols, undefined at the top level) has no JSON
// representation, matching JSON.stringify(undefined) === undefined.
func (rt *Runtime) jsonStringify(b *strings.Builder, v Value) (bool, error) {
	switch v.Kind {
	case VUndefined, VSymbol:
		return false, nil
	case VNull:
		b.WriteString("null")
		return true, nil
	case VBool:
		if v.AsBool() {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return true, nil
	case VNumber:
		b.WriteString(formatNumber(v.Num))
		return true, nil
	case VString:
		writeJSONString(b, rt.strings.Resolve(v.Str))
		return true, nil
	case VObject:
		return rt.jsonStringifyObject(b, v)
	}
	return false, nil
}

func (rt *Runtime) jsonStringifyObject(b *strings.Builder, v Value) (bool, error) {
	obj, ok := rt.heap.Resolve(v.Obj)
	if !ok {
		return false, nil
	}
	if obj.Kind == KindFunction || obj.Kind == KindBoundFunction {
		return false, nil
	}
	if toJSON, err := rt.GetProperty(v, StringKey(rt.strings.Intern("toJSON"))); err == nil && toJSON.Kind == VObject {
		replaced, err := rt.Call(toJSON, v, nil)
		if err != nil {
			return false, err
		}
		return rt.jsonStringify(b, replaced)
	}
	if obj.Kind == KindArray {
		b.WriteByte('[')
		for i, elem := range obj.Array {
			if i > 0 {
				b.WriteByte(',')
			}
			var eb strings.Builder
			ok, err := rt.jsonStringify(&eb, elem)
			if err != nil {
				return false, err
			}
			if !ok {
				b.WriteString("null")
			} else {
				b.WriteString(eb.String())
			}
		}
		b.WriteByte(']')
		return true, nil
	}
	b.WriteByte('{')
	first := true
	for _, k := range obj.KeyOrder {
		if k.kind != keyKindString {
			continue
		}
		d := obj.Props[k]
		if d == nil || !d.Enumerable {
			continue
		}
		val := d.Value
		if d.IsAccessor() {
			if !d.HasGetter {
				continue
			}
			got, err := rt.Call(ObjectVal(d.Getter), v, nil)
			if err != nil {
				return false, err
			}
			val = got
		}
		var eb strings.Builder
		ok, err := rt.jsonStringify(&eb, val)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeJSONString(b, rt.strings.Resolve(k.str))
		b.WriteByte(':')
		b.WriteString(eb.String())
	}
	b.WriteByte('}')
	return true, nil
}

func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// fromJSONAny rebuilds a Value tree from encoding/json's decoded
// interface{} representation (map[string]interface{}, []interface{},
// float64, string, bool, nil).
func (rt *Runtime) fromJSONAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return BoolVal(t)
	case float64:
		return NumberVal(t)
	case string:
		return StringVal(rt.strings.Intern(t))
	case []interface{}:
		// The array is allocated first and each element attached as it
		// is built, so a collection triggered by a later element's
		// allocation cannot reclaim an earlier, not-yet-owned sibling.
		g := rt.NewArray(nil)
		defer g.Release()
		obj := rt.heap.MustResolve(g.Handle())
		for _, e := range t {
			obj.Array = append(obj.Array, rt.fromJSONAny(e))
		}
		return ObjectVal(g.Handle())
	case map[string]interface{}:
		g := rt.NewPlainObject(rt.objectProto, true)
		defer g.Release()
		obj := rt.heap.MustResolve(g.Handle())
		for k, e := range t {
			obj.SetOwn(StringKey(rt.strings.Intern(k)), &PropertyDescriptor{
				Value: rt.fromJSONAny(e), Writable: true, Enumerable: true, Configurable: true,
			})
		}
		return ObjectVal(g.Handle())
	}
	return Undefined()
}
