// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "strconv"

// GetProperty implements the [[Get]] internal method: walk the
// prototype chain, honoring accessors, falling back to undefined for a
// missing key.
func (rt *Runtime) GetProperty(receiver Value, key PropKey) (Value, error) {
	if receiver.Kind != VObject {
		return rt.getPropertyOnPrimitive(receiver, key)
	}
	if root, ok := rt.heap.Resolve(receiver.Obj); ok && root.Kind == KindArray &&
		key.kind == keyKindString && rt.strings.Resolve(key.str) == "length" {
		return NumberVal(float64(root.Length())), nil
	}
	cur := receiver.Obj
	for {
		obj, ok := rt.heap.Resolve(cur)
		if !ok {
			return Undefined(), nil
		}
		if key.IsIndex() && obj.Kind == KindArray && int(key.idx) < len(obj.Array) {
			return obj.Array[key.idx], nil
		}
		if d, ok := obj.GetOwn(key); ok {
			if d.IsAccessor() {
				if !d.HasGetter {
					return Undefined(), nil
				}
				return rt.Call(ObjectVal(d.Getter), receiver, nil)
			}
			return d.Value, nil
		}
		if !obj.HasProto {
			return Undefined(), nil
		}
		cur = obj.Proto
	}
}

func (rt *Runtime) getPropertyOnPrimitive(v Value, key PropKey) (Value, error) {
	switch v.Kind {
	case VUndefined, VNull:
		return Value{}, typeError("Cannot read properties of %s", rt.TypeNameForError(v))
	case VString:
		if key.kind == keyKindString && rt.strings.Resolve(key.str) == "length" {
			s := rt.strings.Resolve(v.Str)
			return NumberVal(float64(len([]rune(s)))), nil
		}
		if key.IsIndex() {
			s := []rune(rt.strings.Resolve(v.Str))
			if int(key.idx) < len(s) {
				return StringVal(rt.strings.Intern(string(s[key.idx]))), nil
			}
			return Undefined(), nil
		}
		return rt.getWithReceiver(rt.stringProto, v, key)
	case VNumber:
		return rt.getWithReceiver(rt.numberProto, v, key)
	case VBool:
		return rt.getWithReceiver(rt.booleanProto, v, key)
	}
	return Undefined(), nil
}

// getWithReceiver walks the chain starting at start, invoking any
// accessor with the original (possibly primitive) receiver, so boxed
// primitives delegate to their prototype without materializing the box.
func (rt *Runtime) getWithReceiver(start ObjectHandle, receiver Value, key PropKey) (Value, error) {
	cur := start
	for {
		obj, ok := rt.heap.Resolve(cur)
		if !ok {
			return Undefined(), nil
		}
		if d, ok := obj.GetOwn(key); ok {
			if d.IsAccessor() {
				if !d.HasGetter {
					return Undefined(), nil
				}
				return rt.Call(ObjectVal(d.Getter), receiver, nil)
			}
			return d.Value, nil
		}
		if !obj.HasProto {
			return Undefined(), nil
		}
		cur = obj.Proto
	}
}

// TypeNameForError names a nullish value the way an access-error
// message spells it.
func (rt *Runtime) TypeNameForError(v Value) string {
	if v.Kind == VNull {
		return "null"
	}
	return "undefined"
}

// SetProperty implements [[Set]]: arrays auto-extend on an in-range
// numeric key, accessors invoke their setter, frozen/sealed objects
// reject the write with a TypeError (this engine treats all code as
// strict).
func (rt *Runtime) SetProperty(receiver Value, key PropKey, v Value) error {
	if receiver.IsNullish() {
		return typeError("Cannot set properties of %s", rt.TypeNameForError(receiver))
	}
	if receiver.Kind != VObject {
		return typeError("Cannot create property on a primitive value")
	}
	obj, ok := rt.heap.Resolve(receiver.Obj)
	if !ok {
		return ErrDanglingHandle
	}
	if key.IsIndex() && obj.Kind == KindArray {
		idx := int(key.idx)
		if idx < len(obj.Array) {
			obj.Array[idx] = v
			return nil
		}
		if obj.Frozen || !obj.Extensible {
			return typeError("Cannot add property %d, object is not extensible", idx)
		}
		obj.SetLength(uint32(idx + 1))
		obj.Array[idx] = v
		return nil
	}
	if obj.Kind == KindArray && key.kind == keyKindString && rt.strings.Resolve(key.str) == "length" {
		n, err := rt.ToNumberRT(v)
		if err != nil {
			return err
		}
		if n < 0 || n != float64(uint32(n)) {
			return rangeError("Invalid array length")
		}
		if obj.Frozen || obj.Sealed {
			return typeError("Cannot assign to read only property")
		}
		obj.SetLength(uint32(n))
		return nil
	}
	// Walk the chain looking for an inherited accessor/non-writable.
	cur := receiver.Obj
	for {
		o, ok := rt.heap.Resolve(cur)
		if !ok {
			break
		}
		if d, ok := o.GetOwn(key); ok {
			if d.IsAccessor() {
				if !d.HasSetter {
					return typeError("Cannot set property which has only a getter")
				}
				_, err := rt.Call(ObjectVal(d.Setter), receiver, []Value{v})
				return err
			}
			if cur == receiver.Obj {
				if !d.Writable || o.Frozen {
					return typeError("Cannot assign to read only property")
				}
				d.Value = v
				return nil
			}
			break
		}
		if !o.HasProto {
			break
		}
		cur = o.Proto
	}
	if obj.Frozen || !obj.Extensible {
		return typeError("Cannot add property, object is not extensible")
	}
	obj.SetOwn(key, &PropertyDescriptor{Value: v, Writable: true, Enumerable: true, Configurable: true})
	return nil
}

// HasProperty implements the `in` operator and iteration membership
// tests, walking the prototype chain.
func (rt *Runtime) HasProperty(receiver Value, key PropKey) bool {
	if receiver.Kind != VObject {
		return false
	}
	cur := receiver.Obj
	for {
		obj, ok := rt.heap.Resolve(cur)
		if !ok {
			return false
		}
		if key.IsIndex() && obj.Kind == KindArray && int(key.idx) < len(obj.Array) {
			return true
		}
		if _, ok := obj.GetOwn(key); ok {
			return true
		}
		if !obj.HasProto {
			return false
		}
		cur = obj.Proto
	}
}

// DeleteProperty implements the `delete` operator; deleting a
// non-configurable property throws, as all code runs strict.
func (rt *Runtime) DeleteProperty(receiver Value, key PropKey) (bool, error) {
	if receiver.Kind != VObject {
		return true, nil
	}
	obj, ok := rt.heap.Resolve(receiver.Obj)
	if !ok {
		return true, nil
	}
	if key.IsIndex() && obj.Kind == KindArray {
		if obj.Sealed || obj.Frozen {
			return false, typeError("Cannot delete property of a sealed array")
		}
		idx := int(key.idx)
		if idx < len(obj.Array) {
			obj.Array[idx] = Undefined()
		}
		return true, nil
	}
	if d, ok := obj.GetOwn(key); ok {
		if !d.Configurable || obj.Sealed || obj.Frozen {
			return false, typeError("Cannot delete property of a non-configurable object")
		}
	}
	obj.DeleteOwn(key)
	return true, nil
}

// PropKeyFromValue canonicalizes a computed-member-access value into a
// PropKey: symbols stay symbols, integer-valued numbers/strings become
// index keys, everything else becomes a string key.
func (rt *Runtime) PropKeyFromValue(v Value) (PropKey, error) {
	switch v.Kind {
	case VSymbol:
		return SymbolKey(v.Sym), nil
	case VNumber:
		if v.Num >= 0 && v.Num == float64(uint32(v.Num)) {
			return IndexKey(uint32(v.Num)), nil
		}
		return StringKey(rt.strings.Intern(formatNumber(v.Num))), nil
	case VString:
		s := rt.strings.Resolve(v.Str)
		if n, err := strconv.ParseUint(s, 10, 32); err == nil && strconv.FormatUint(n, 10) == s {
			return IndexKey(uint32(n)), nil
		}
		return StringKey(v.Str), nil
	default:
		s, err := rt.ToStringRT(v)
		if err != nil {
			return PropKey{}, err
		}
		return StringKey(rt.strings.Intern(s)), nil
	}
}

// NewPlainObject allocates a fresh ordinary object with the given
// prototype (NullHandle/hasProto=false for Object.prototype-less
// objects created via Object.create(null)).
func (rt *Runtime) NewPlainObject(proto ObjectHandle, hasProto bool) *Guard {
	o := NewObject()
	o.Proto = proto
	o.HasProto = hasProto
	return rt.heap.Alloc(o)
}

// NewArray allocates a fresh Array-kind object.
func (rt *Runtime) NewArray(elems []Value) *Guard {
	o := NewObject()
	o.Kind = KindArray
	o.Array = elems
	if rt.arrayProto != NullHandle {
		o.Proto = rt.arrayProto
		o.HasProto = true
	}
	return rt.heap.Alloc(o)
}
