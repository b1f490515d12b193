// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"io"
	"time"
)

// deadline tracks the optional wall-clock execution budget.
type deadline struct {
	set bool
	at  time.Time
}

// Runtime is the embeddable engine instance: one heap, one interned
// string table, one global scope, and the built-in prototype chain
// every value's [[Prototype]] eventually bottoms out at.
type Runtime struct {
	heap    *Heap
	strings *InternTable

	logger Logger
	stdout *outputSink
	stderr *outputSink

	globalEnv ObjectHandle
	globalObj ObjectHandle

	objectProto    ObjectHandle
	functionProto  ObjectHandle
	arrayProto     ObjectHandle
	stringProto    ObjectHandle
	numberProto    ObjectHandle
	booleanProto   ObjectHandle
	errorProto     ObjectHandle
	generatorProto ObjectHandle
	promiseProto   ObjectHandle
	mapProto       ObjectHandle
	setProto       ObjectHandle
	dateProto      ObjectHandle
	regexpProto    ObjectHandle

	// errorProtos maps each script error kind to its own prototype
	// object (each chained to errorProto), so `e instanceof TypeError`
	// can distinguish error kinds by walking the prototype chain the
	// same way any other `instanceof` check does.
	errorProtos map[ScriptErrorKind]ObjectHandle

	symIterator      *Symbol
	symAsyncIterator *Symbol

	topFrame *Frame
	// pendingAsyncs roots suspended async activations: between awaits
	// their frame is referenced only by a settle continuation, which
	// the collector cannot trace. Plain generator frames are traced
	// through their generator object instead, so an unreachable
	// suspended generator is reclaimed like any other object.
	pendingAsyncs   []*GeneratorData
	pendingPromises []ObjectHandle // async calls' promises, rooted until they settle
	// activeCalls roots the receiver and arguments of every call still
	// being dispatched: between the caller handing them over and the
	// callee's frame (or a native's own containers) owning them, the Go
	// slice is their only reference.
	activeCalls []callArgs

	microtasks []microtask

	nextBrand uint32

	deadline      deadline
	timeoutMillis int64
}

// Options configures a new Runtime.
type Options struct {
	// GCThreshold is the allocation count that triggers an automatic
	// collection; 0 disables automatic collection (manual
	// CollectGarbage only).
	GCThreshold int
	// TimeoutMillis bounds a single Evaluate call's wall-clock time; 0
	// disables the budget.
	TimeoutMillis int64
	// Logger receives internal diagnostics (chunk compilation, GC
	// passes); nil installs a no-op logger.
	Logger Logger
	// Stdout/Stderr are the initial sinks console.log/console.error
	// write through, fanned out via a *writerset.WriterSet so a host can attach additional sinks later with
	// AddStdoutSink/AddStderrSink without the VM knowing about either.
	Stdout io.Writer
	Stderr io.Writer
}

// New constructs a Runtime and bootstraps its built-in object graph.
func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	rt := &Runtime{
		heap:          NewHeap(opts.GCThreshold),
		strings:       NewInternTable(),
		timeoutMillis: opts.TimeoutMillis,
		logger:        logger,
		stdout:        newOutputSink(opts.Stdout),
		stderr:        newOutputSink(opts.Stderr),
	}
	rt.heap.SetRootProvider(rt)
	rt.bootstrap()
	logger.Debugf("tsvm: runtime bootstrapped, gc_threshold=%d", opts.GCThreshold)
	return rt
}

// AddStdoutSink attaches an additional writer to console.log's output
// fan-out without disturbing any sink already registered.
func (rt *Runtime) AddStdoutSink(w io.Writer) { rt.stdout.add(w) }

// AddStderrSink attaches an additional writer to console.error/warn's
// output fan-out.
func (rt *Runtime) AddStderrSink(w io.Writer) { rt.stderr.add(w) }

// SetGCThreshold updates the automatic-collection trigger.
func (rt *Runtime) SetGCThreshold(n int) { rt.heap.SetThreshold(n) }

// SetTimeout updates the per-Evaluate execution budget in
// milliseconds; 0 disables it.
func (rt *Runtime) SetTimeout(ms int64) { rt.timeoutMillis = ms }

// CollectGarbage forces an immediate mark-sweep-and-collect-cycles pass
func (rt *Runtime) CollectGarbage() { rt.heap.Collect() }

// GCStats reports the heap's current occupancy.
func (rt *Runtime) GCStats() GCStats { return rt.heap.Stats() }

// RegisterNative installs a host function as an own property of proto
func (rt *Runtime) RegisterNative(proto ObjectHandle, name string, arity int, fn NativeFunc) {
	g := rt.newNativeFunction(name, arity, fn)
	defer g.Release()
	obj := rt.heap.MustResolve(proto)
	obj.SetOwn(StringKey(rt.strings.Intern(name)), &PropertyDescriptor{
		Value: ObjectVal(g.Handle()), Writable: true, Configurable: true,
	})
}

func (rt *Runtime) newNativeFunction(name string, arity int, fn NativeFunc) *Guard {
	o := NewObject()
	o.Kind = KindFunction
	if rt.functionProto != NullHandle {
		o.Proto, o.HasProto = rt.functionProto, true
	}
	o.Exotic = &NativeData{Name: name, Arity: arity, Fn: fn}
	return rt.heap.Alloc(o)
}

func (rt *Runtime) mintBrand() uint32 {
	rt.nextBrand++
	return rt.nextBrand
}

// CompletionKind distinguishes a top-level Evaluate outcome that ran to
// completion from one that produced a still-pending async result.
type CompletionKind uint8

const (
	CompleteValue CompletionKind = iota
	CompletePromise
)

// Completion is the host-visible result of Evaluate.
type Completion struct {
	Kind    CompletionKind
	Value   Value
	Promise ObjectHandle
}

// Evaluate parses, compiles, and runs source as a top-level program,
// then drains the microtask queue so synchronously-resolvable promise
// reactions complete before returning.
func (rt *Runtime) Evaluate(source string) (Completion, error) {
	prog, err := Parse(source)
	if err != nil {
		return Completion{}, err
	}
	chunk, err := CompileProgram(prog, rt.strings, source)
	if err != nil {
		return Completion{}, err
	}
	if rt.timeoutMillis > 0 {
		rt.deadline = deadline{set: true, at: time.Now().Add(time.Duration(rt.timeoutMillis) * time.Millisecond)}
	} else {
		rt.deadline = deadline{}
	}
	frame := newFrame(chunk, nil)
	frame.env = rt.globalEnv
	frame.this = Undefined()
	v, err := rt.run(frame)
	if err != nil {
		return Completion{}, err
	}
	rt.drainMicrotasks()
	return Completion{Kind: CompleteValue, Value: v}, nil
}

// Call invokes a function value with the given receiver and arguments,
// dispatching on the three Function object variants. This is the single entry point every property
// accessor, coercion, and opcode handler uses to call into script or
// host code.
type callArgs struct {
	fn   Value
	this Value
	args []Value
}

func (rt *Runtime) Call(fnVal Value, this Value, args []Value) (Value, error) {
	if fnVal.Kind != VObject {
		return Value{}, typeError("value is not a function")
	}
	obj, ok := rt.heap.Resolve(fnVal.Obj)
	if !ok {
		return Value{}, ErrDanglingHandle
	}
	rt.activeCalls = append(rt.activeCalls, callArgs{fn: fnVal, this: this, args: args})
	defer func() { rt.activeCalls = rt.activeCalls[:len(rt.activeCalls)-1] }()
	switch data := obj.Exotic.(type) {
	case *NativeData:
		return data.Fn(rt, this, args)
	case *BoundData:
		merged := append(append([]Value(nil), data.BoundArg...), args...)
		return rt.Call(ObjectVal(data.Target), data.BoundThs, merged)
	case *FunctionData:
		return rt.invokeInterpreted(data, this, args)
	}
	return Value{}, typeError("value is not a function")
}

func (rt *Runtime) invokeInterpreted(fn *FunctionData, this Value, args []Value) (Value, error) {
	switch fn.Kind {
	case FuncGenerator:
		return rt.callGenerator(fn, this, args)
	case FuncAsyncGenerator:
		return rt.callAsyncGenerator(fn, this, args)
	case FuncAsync:
		return rt.callAsync(fn, this, args)
	}
	if fn.IsClassCtor {
		// reached via `super(...)`: apply this class's own instance
		// fields to the already-constructed `this`, then run its ctor
		// body, instead of allocating a fresh instance.
		if err := rt.applyInstanceFields(fn, this); err != nil {
			return Value{}, err
		}
		if fn.Chunk == nil {
			return Undefined(), nil
		}
	}
	frame := newFrame(fn.Chunk, rt.topFrame)
	rt.bindCallFrame(frame, fn, this, args)
	return rt.run(frame)
}

// bindCallFrame extends fn's captured environment with a fresh
// function-scope environment and binds `this`/parameters/rest into it
func (rt *Runtime) bindCallFrame(f *Frame, fn *FunctionData, this Value, args []Value) {
	f.fn = fn
	f.brand = fn.Brand
	f.callArgs = args
	if fn.Kind == FuncArrow && fn.HasCapturedThis {
		f.this = fn.CapturedThis
	} else {
		f.this = this
	}

	envGuard := rt.NewEnvironment(fn.Env, true)
	f.env = envGuard.Handle()
	data := rt.heap.MustResolve(f.env).Exotic.(*EnvironmentData)
	data.IsFunctionScope = true

	if meta := f.chunk.Meta; meta != nil {
		for i, name := range meta.ParamNames {
			if meta.HasRest && i == meta.RestIndex {
				continue
			}
			var v Value
			if i < len(args) {
				v = args[i]
			} else {
				v = Undefined()
			}
			data.declare(rt.strings.Intern(name), true, true).Value = v
		}
		if meta.HasRest {
			var rest []Value
			if len(args) > meta.RestIndex {
				rest = append(rest, args[meta.RestIndex:]...)
			}
			g := rt.NewArray(rest)
			data.declare(rt.strings.Intern(meta.ParamNames[meta.RestIndex]), true, true).Value = ObjectVal(g.Handle())
			g.Release()
		}
	}
	envGuard.Release()
}

// createClosure implements OpCreateClosure/OpCreateGenerator/
// OpCreateAsync/OpCreateAsyncGenerator: materialize a Function object
// capturing the current environment, tagged with the color its
// defining Chunk.Meta recorded.
func (rt *Runtime) createClosure(f *Frame, inst *Inst) Value {
	nested := f.chunk.Consts[inst.B].ChunkI
	fd := &FunctionData{Chunk: nested, Env: f.env}
	if meta := nested.Meta; meta != nil {
		fd.Name = meta.Name
		fd.ParamCount = meta.ParamCount
		fd.HasRest = meta.HasRest
		fd.UsesThis = meta.UsesThis
		fd.UsesArgs = meta.UsesArgs
		switch {
		case meta.IsGenerator && meta.IsAsync:
			fd.Kind = FuncAsyncGenerator
		case meta.IsGenerator:
			fd.Kind = FuncGenerator
		case meta.IsAsync:
			fd.Kind = FuncAsync
		case meta.IsArrow:
			fd.Kind = FuncArrow
			fd.CapturedThis, fd.HasCapturedThis = f.this, true
		}
	}
	o := NewObject()
	o.Kind = KindFunction
	if rt.functionProto != NullHandle {
		o.Proto, o.HasProto = rt.functionProto, true
	}
	o.Exotic = fd
	g := rt.heap.Alloc(o)
	defer g.Release()

	if fd.Kind != FuncArrow {
		// every non-arrow function gets its own .prototype object, so
		// it can be `new`-ed like any other constructor.
		protoGuard := rt.NewPlainObject(rt.objectProto, rt.objectProto != NullHandle)
		protoObj := rt.heap.MustResolve(protoGuard.Handle())
		protoObj.SetOwn(StringKey(rt.strings.Intern("constructor")), &PropertyDescriptor{
			Value: ObjectVal(g.Handle()), Writable: true, Configurable: true,
		})
		funcObj := rt.heap.MustResolve(g.Handle())
		funcObj.SetOwn(StringKey(rt.strings.Intern("prototype")), &PropertyDescriptor{
			Value: ObjectVal(protoGuard.Handle()), Writable: true,
		})
		protoGuard.Release()
	}
	return ObjectVal(g.Handle())
}

// getArgumentsObject lazily materializes the `arguments` array-like for
// a frame, from the actual call arguments rather than the (possibly
// since-overwritten) parameter registers.
func (rt *Runtime) getArgumentsObject(f *Frame) Value {
	if f.argumentsObj.Kind == VObject {
		return f.argumentsObj
	}
	g := rt.NewArray(append([]Value(nil), f.callArgs...))
	v := ObjectVal(g.Handle())
	f.argumentsObj = v
	g.Release()
	return v
}

// execCall implements OpCall: `this` lives at register C, arguments
// occupy C+1..C+argc, and argc is smuggled in the instruction's
// Span.End.Offset the same way compileCall's emitCallWithRegs packs it
func (rt *Runtime) execCall(f *Frame, inst *Inst) (Value, bool, error) {
	argc := int32(inst.Span.End.Offset)
	thisVal := f.regs[inst.C]
	args := append([]Value(nil), f.regs[inst.C+1:inst.C+1+argc]...)
	result, err := rt.Call(f.regs[inst.B], thisVal, args)
	if err != nil {
		return Value{}, false, err
	}
	f.regs[inst.A] = result
	f.pc++
	return Value{}, false, nil
}

// execNew implements OpNew: unlike OpCall there is no `this` slot --
// arguments start directly at C.
func (rt *Runtime) execNew(f *Frame, inst *Inst) (Value, bool, error) {
	argc := int32(inst.Span.End.Offset)
	args := append([]Value(nil), f.regs[inst.C:inst.C+argc]...)
	result, err := rt.construct(f.regs[inst.B], args)
	if err != nil {
		return Value{}, false, err
	}
	f.regs[inst.A] = result
	f.pc++
	return Value{}, false, nil
}

// construct implements the [[Construct]] internal method.
func (rt *Runtime) construct(ctorVal Value, args []Value) (Value, error) {
	if ctorVal.Kind != VObject {
		return Value{}, typeError("value is not a constructor")
	}
	rt.activeCalls = append(rt.activeCalls, callArgs{fn: ctorVal, args: args})
	defer func() { rt.activeCalls = rt.activeCalls[:len(rt.activeCalls)-1] }()
	obj, ok := rt.heap.Resolve(ctorVal.Obj)
	if !ok {
		return Value{}, ErrDanglingHandle
	}
	switch data := obj.Exotic.(type) {
	case *NativeData:
		return data.Fn(rt, Undefined(), args)
	case *BoundData:
		merged := append(append([]Value(nil), data.BoundArg...), args...)
		return rt.construct(ObjectVal(data.Target), merged)
	case *FunctionData:
		if !data.IsClassCtor {
			return Value{}, typeError("value is not a constructor")
		}
		return rt.constructClass(data, ctorVal.Obj, args)
	}
	return Value{}, typeError("value is not a constructor")
}

func (rt *Runtime) constructClass(fn *FunctionData, ctorHandle ObjectHandle, args []Value) (Value, error) {
	proto, hasProto := rt.objectProto, rt.objectProto != NullHandle
	if fn.HasPrototype {
		proto, hasProto = fn.Prototype, true
	}
	instGuard := rt.NewPlainObject(proto, hasProto)
	instHandle := instGuard.Handle()
	rt.heap.MustResolve(instHandle).Brand, rt.heap.MustResolve(instHandle).HasBrand = fn.Brand, true
	thisVal := ObjectVal(instHandle)

	if fn.HasSuperClass {
		// a super() call inside the constructor body re-enters here via
		// OpCall on the super binding; instance fields of this class
		// still apply after whatever super() returns, matching
		// construction order.
	}
	if err := rt.applyInstanceFields(fn, thisVal); err != nil {
		instGuard.Release()
		return Value{}, err
	}

	if fn.Chunk == nil {
		// no explicit constructor: a default ctor with no body is
		// equivalent to one that only runs the field initializers above.
		instGuard.Release()
		return thisVal, nil
	}

	frame := newFrame(fn.Chunk, rt.topFrame)
	rt.bindCallFrame(frame, fn, thisVal, args)
	frame.newTarget = ObjectVal(ctorHandle)
	result, err := rt.run(frame)
	instGuard.Release()
	if err != nil {
		return Value{}, err
	}
	if result.Kind == VObject {
		return result, nil
	}
	return thisVal, nil
}

func (rt *Runtime) applyInstanceFields(fn *FunctionData, thisVal Value) error {
	for _, fld := range fn.InstanceFields {
		if fld.Key.IsPrivate() {
			obj := rt.heap.MustResolve(thisVal.Obj)
			obj.SetOwn(fld.Key, &PropertyDescriptor{Value: fld.Value, Writable: true})
			continue
		}
		if err := rt.SetProperty(thisVal, fld.Key, fld.Value); err != nil {
			return err
		}
	}
	return nil
}

// instanceOf implements the `instanceof` operator: walk ctor's
// .prototype along value's prototype chain.
func (rt *Runtime) instanceOf(value, ctorVal Value) (Value, error) {
	if ctorVal.Kind != VObject {
		return Value{}, typeError("Right-hand side of 'instanceof' is not callable")
	}
	if value.Kind != VObject {
		return BoolVal(false), nil
	}
	protoVal, err := rt.GetProperty(ctorVal, StringKey(rt.strings.Intern("prototype")))
	if err != nil {
		return Value{}, err
	}
	if protoVal.Kind != VObject {
		return Value{}, typeError("Function has non-object prototype in instanceof check")
	}
	cur := value.Obj
	for {
		obj, ok := rt.heap.Resolve(cur)
		if !ok || !obj.HasProto {
			return BoolVal(false), nil
		}
		if obj.Proto == protoVal.Obj {
			return BoolVal(true), nil
		}
		cur = obj.Proto
	}
}

// newRegExp builds a RegExp-kind object from literal source. Pattern compilation itself is a
// host collaborator's concern; only source/flags and
// lastIndex bookkeeping live here.
func (rt *Runtime) newRegExp(pattern, flags string) Value {
	o := NewObject()
	o.Kind = KindRegExp
	if rt.regexpProto != NullHandle {
		o.Proto, o.HasProto = rt.regexpProto, true
	}
	o.Exotic = &RegExpData{Source: pattern, Flags: flags}
	g := rt.heap.Alloc(o)
	defer g.Release()
	return ObjectVal(g.Handle())
}

// spreadInto merges src into the container held by dst: onto an array
// (array-literal spread and call/new argument spread) it appends src's
// iterated elements; onto a plain object (object-literal spread) it
// copies src's own enumerable properties. srcIsIterator marks a src
// register that already holds a live iterator (array-rest
// destructuring), drained from its current position instead of asked
// for @@iterator again.
func (rt *Runtime) spreadInto(dst, src Value, srcIsIterator bool) error {
	dstObj, ok := rt.heap.Resolve(dst.Obj)
	if !ok {
		return ErrDanglingHandle
	}
	if dstObj.Kind != KindArray {
		return rt.copyOwnEnumerable(dstObj, src)
	}
	iterVal := src
	if !srcIsIterator {
		v, err := rt.getIterator(src, false)
		if err != nil {
			return err
		}
		iterVal = v
	}
	for {
		res, err := rt.iteratorNext(iterVal)
		if err != nil {
			return err
		}
		done, err := rt.GetProperty(res, StringKey(rt.strings.Intern("done")))
		if err != nil {
			return err
		}
		if rt.ToBooleanRT(done) {
			return nil
		}
		val, err := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
		if err != nil {
			return err
		}
		dstObj.Array = append(dstObj.Array, val)
	}
}

// copyOwnEnumerable copies src's own enumerable properties onto dst,
// reading through getters so the copy holds plain values.
func (rt *Runtime) copyOwnEnumerable(dst *Object, src Value) error {
	if src.IsNullish() {
		return nil
	}
	for _, k := range rt.ownEnumerableKeys(src) {
		v, err := rt.GetProperty(src, k)
		if err != nil {
			return err
		}
		dst.SetOwn(k, &PropertyDescriptor{Value: v, Writable: true, Enumerable: true, Configurable: true})
	}
	return nil
}
