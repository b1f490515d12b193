// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// memberFlags unpacks the static/computed/isSetter bits class.go's
// setClassMemberFlags packed into a defining instruction's Span.
func memberFlags(inst *Inst) (static, computed, isSetter bool) {
	return inst.Span.End.Offset&1 != 0, inst.Span.Start.Offset == 1, inst.Span.End.Offset&2 != 0
}

// resolveMemberKey reads a class member's key operand -- a constant
// string index, or (when computed) a register holding the
// already-evaluated key value -- and turns it into a PropKey, gated by
// the class's brand when it names a private member.
func (rt *Runtime) resolveMemberKey(f *Frame, operand int32, computed, private bool, brand uint32) (PropKey, error) {
	if private {
		var name StringHandle
		if computed {
			// private names are never computed in source syntax; the
			// compiler only takes this path for public members.
			return PropKey{}, typeError("private names cannot be computed")
		}
		name = f.chunk.Consts[operand].Str
		return PrivateKey(brand, name), nil
	}
	if computed {
		return rt.PropKeyFromValue(f.regs[operand])
	}
	return StringKey(f.chunk.Consts[operand].Str), nil
}

// classMemberTarget returns the object a static or instance member
// installs onto: the class (constructor) object itself for static
// members, its .prototype object otherwise.
func (rt *Runtime) classMemberTarget(classVal Value, static bool) (ObjectHandle, error) {
	if static {
		return classVal.Obj, nil
	}
	classObj, ok := rt.heap.Resolve(classVal.Obj)
	if !ok {
		return NullHandle, ErrDanglingHandle
	}
	fd, ok := classObj.Exotic.(*FunctionData)
	if !ok || !fd.HasPrototype {
		return NullHandle, typeError("class has no prototype")
	}
	return fd.Prototype, nil
}

// createClass implements OpCreateClass: mint a fresh brand, build the
// prototype object (chained to the superclass's prototype when
// `extends` is present), and wrap both in a class constructor
// FunctionData with no Chunk yet -- the `constructor` member, compiled
// like any other method, installs it in defineClassMethod.
func (rt *Runtime) createClass(f *Frame, inst *Inst) (Value, error) {
	brand := rt.mintBrand()

	var superClass ObjectHandle
	hasSuper := false
	superProto, hasSuperProto := NullHandle, false
	if inst.B != int32(NullReg) {
		superVal := f.regs[inst.B]
		if superVal.Kind != VObject {
			return Value{}, typeError("Class extends value is not a constructor")
		}
		superClass, hasSuper = superVal.Obj, true
		protoVal, err := rt.GetProperty(superVal, StringKey(rt.strings.Intern("prototype")))
		if err != nil {
			return Value{}, err
		}
		if protoVal.Kind == VObject {
			superProto, hasSuperProto = protoVal.Obj, true
		}
	}

	name := ""
	if inst.C >= 0 {
		name = rt.strings.Resolve(f.chunk.Consts[inst.C].Str)
	}

	protoParent, hasProtoParent := rt.objectProto, rt.objectProto != NullHandle
	if hasSuperProto {
		protoParent, hasProtoParent = superProto, true
	}
	protoGuard := rt.NewPlainObject(protoParent, hasProtoParent)
	protoHandle := protoGuard.Handle()

	fd := &FunctionData{
		Name: name, Brand: brand, IsClassCtor: true,
		Prototype: protoHandle, HasPrototype: true,
	}
	if hasSuper {
		fd.SuperClass, fd.HasSuperClass = superClass, true
	}

	ctorObj := NewObject()
	ctorObj.Kind = KindFunction
	if hasSuper {
		ctorObj.Proto, ctorObj.HasProto = superClass, true
	} else if rt.functionProto != NullHandle {
		ctorObj.Proto, ctorObj.HasProto = rt.functionProto, true
	}
	ctorObj.Exotic = fd
	ctorGuard := rt.heap.Alloc(ctorObj)
	ctorHandle := ctorGuard.Handle()

	protoObj := rt.heap.MustResolve(protoHandle)
	protoObj.SetOwn(StringKey(rt.strings.Intern("constructor")), &PropertyDescriptor{
		Value: ObjectVal(ctorHandle), Writable: true, Configurable: true,
	})
	rt.heap.MustResolve(ctorHandle).SetOwn(StringKey(rt.strings.Intern("prototype")), &PropertyDescriptor{
		Value: ObjectVal(protoHandle),
	})

	protoGuard.Release()
	ctorGuard.Release()
	return ObjectVal(ctorHandle), nil
}

// defineClassMethod implements OpDefineMethod/OpDefineAccessor/
// OpDefinePrivateMethod. A non-static, non-computed, non-private
// member named "constructor" is special: its compiled closure's Chunk
// and Env become the class's own, rather than being installed as a
// prototype property.
func (rt *Runtime) defineClassMethod(f *Frame, inst *Inst) error {
	classVal := f.regs[inst.A]
	classObj, ok := rt.heap.Resolve(classVal.Obj)
	if !ok {
		return ErrDanglingHandle
	}
	classFd := classObj.Exotic.(*FunctionData)
	static, computed, isSetter := memberFlags(inst)
	private := inst.Op == OpDefinePrivateMethod

	methodVal := f.regs[inst.C]
	methodObj, ok := rt.heap.Resolve(methodVal.Obj)
	if !ok {
		return ErrDanglingHandle
	}
	methodFd, _ := methodObj.Exotic.(*FunctionData)

	if !private && !static && !computed && inst.Op == OpDefineMethod {
		if name := rt.strings.Resolve(f.chunk.Consts[inst.B].Str); name == "constructor" {
			classFd.Chunk = methodFd.Chunk
			classFd.Env = methodFd.Env
			classFd.ParamCount = methodFd.ParamCount
			classFd.HasRest = methodFd.HasRest
			classFd.UsesThis = methodFd.UsesThis
			classFd.UsesArgs = methodFd.UsesArgs
			return nil
		}
	}

	key, err := rt.resolveMemberKey(f, inst.B, computed, private, classFd.Brand)
	if err != nil {
		return err
	}
	target, err := rt.classMemberTarget(classVal, static)
	if err != nil {
		return err
	}
	if methodFd != nil {
		methodFd.Brand = classFd.Brand
		methodFd.HomeObject, methodFd.HasHomeObj = target, true
	}

	targetObj := rt.heap.MustResolve(target)
	if inst.Op == OpDefineAccessor {
		d, exists := targetObj.GetOwn(key)
		if !exists || !d.IsAccessor() {
			d = &PropertyDescriptor{Configurable: true}
		}
		if isSetter {
			d.Setter, d.HasSetter = methodVal.Obj, true
		} else {
			d.Getter, d.HasGetter = methodVal.Obj, true
		}
		targetObj.SetOwn(key, d)
		return nil
	}
	targetObj.SetOwn(key, &PropertyDescriptor{Value: methodVal, Writable: true, Configurable: true})
	return nil
}

// defineClassField implements OpDefineField/OpDefinePrivateField.
// Static fields are installed directly on the class object; instance
// fields are recorded on the class's FunctionData and applied to each
// new instance by constructClass/invokeInterpreted's super() path
// The field initializer expression was already evaluated once, at
// class-definition time, by class.go's compileFieldInitializer (an
// immediately-invoked closure run with `this` bound to the class for
// static fields and undefined otherwise) rather than per-instance with
// `this` bound to the new instance; this is a known simplification
// (see DESIGN.md).
func (rt *Runtime) defineClassField(f *Frame, inst *Inst) error {
	classVal := f.regs[inst.A]
	classObj, ok := rt.heap.Resolve(classVal.Obj)
	if !ok {
		return ErrDanglingHandle
	}
	classFd := classObj.Exotic.(*FunctionData)
	static, computed, _ := memberFlags(inst)
	private := inst.Op == OpDefinePrivateField

	key, err := rt.resolveMemberKey(f, inst.B, computed, private, classFd.Brand)
	if err != nil {
		return err
	}
	value := f.regs[inst.C]

	if static {
		target, err := rt.classMemberTarget(classVal, true)
		if err != nil {
			return err
		}
		targetObj := rt.heap.MustResolve(target)
		targetObj.SetOwn(key, &PropertyDescriptor{Value: value, Writable: true, Enumerable: !private, Configurable: true})
		return nil
	}
	classFd.InstanceFields = append(classFd.InstanceFields, classFieldDesc{Key: key, Value: value})
	return nil
}

// defineObjectAccessor implements OpSetAccessor for object-literal
// getter/setter properties, merging a getter and setter declared for
// the same key into one descriptor.
func (rt *Runtime) defineObjectAccessor(f *Frame, inst *Inst) error {
	obj, ok := rt.heap.Resolve(f.regs[inst.A].Obj)
	if !ok {
		return ErrDanglingHandle
	}
	_, computed, isSetter := memberFlags(inst)
	var key PropKey
	if computed {
		k, err := rt.PropKeyFromValue(f.regs[inst.B])
		if err != nil {
			return err
		}
		key = k
	} else {
		key = StringKey(f.chunk.Consts[inst.B].Str)
	}
	fnVal := f.regs[inst.C]
	d, exists := obj.GetOwn(key)
	if !exists || !d.IsAccessor() {
		d = &PropertyDescriptor{Enumerable: true, Configurable: true}
	}
	if isSetter {
		d.Setter, d.HasSetter = fnVal.Obj, true
	} else {
		d.Getter, d.HasGetter = fnVal.Obj, true
	}
	obj.SetOwn(key, d)
	return nil
}

// getPrivate implements OpGetPrivate: a private name is only ever
// stored under a (brand, name) key, so looking it up under the
// currently-executing method's brand both finds the slot and enforces
// the brand check in one map lookup -- a receiver built by a different
// class simply has no entry for that exact key.
func (rt *Runtime) getPrivate(f *Frame, receiver Value, name StringHandle) (Value, error) {
	if receiver.Kind != VObject {
		return Value{}, typeError("Cannot read private member #%s from non-object", rt.strings.Resolve(name))
	}
	obj, ok := rt.heap.Resolve(receiver.Obj)
	if !ok {
		return Value{}, ErrDanglingHandle
	}
	key := PrivateKey(f.brand, name)
	d, ok := obj.GetOwn(key)
	if !ok {
		return Value{}, typeError("Cannot read private member #%s from an object whose class did not declare it", rt.strings.Resolve(name))
	}
	if d.IsAccessor() {
		if !d.HasGetter {
			return Value{}, typeError("'#%s' was defined without a getter", rt.strings.Resolve(name))
		}
		return rt.Call(ObjectVal(d.Getter), receiver, nil)
	}
	return d.Value, nil
}

// setPrivate implements OpSetPrivate; see getPrivate for the brand
// check rationale.
func (rt *Runtime) setPrivate(f *Frame, receiver Value, name StringHandle, v Value) error {
	if receiver.Kind != VObject {
		return typeError("Cannot write private member #%s to non-object", rt.strings.Resolve(name))
	}
	obj, ok := rt.heap.Resolve(receiver.Obj)
	if !ok {
		return ErrDanglingHandle
	}
	key := PrivateKey(f.brand, name)
	d, ok := obj.GetOwn(key)
	if !ok {
		return typeError("Cannot write private member #%s to an object whose class did not declare it", rt.strings.Resolve(name))
	}
	if d.IsAccessor() {
		if !d.HasSetter {
			return typeError("'#%s' was defined without a setter", rt.strings.Resolve(name))
		}
		_, err := rt.Call(ObjectVal(d.Setter), receiver, []Value{v})
		return err
	}
	d.Value = v
	return nil
}
