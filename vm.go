// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"time"
)

// tryHandler is one entry of a frame's try-stack, pushed by OpPushTry and
// popped either by OpPopTry (normal completion) or while unwinding a
// thrown value.
type tryHandler struct {
	catchPC    int32
	hasCatch   bool
	finallyPC  int32 // -1 if this try has no finally
	hasFinally bool
	savedEnv   ObjectHandle
}

// Frame is one activation record: a chunk, its register file, the
// lexical environment in scope, and the bookkeeping needed to resume a
// suspended generator.
type Frame struct {
	chunk     *Chunk
	pc        int
	regs      []Value
	env       ObjectHandle
	this      Value
	newTarget Value
	fn        *FunctionData
	brand     uint32
	parent    *Frame

	callArgs     []Value // the actual arguments passed at call time, for `arguments`
	argumentsObj Value   // lazily materialized `arguments` array-like

	tryStack []tryHandler
	// iterCache stashes the last next()-result object for the iterator
	// held in a given register, since OpIteratorNext carries no
	// destination operand.
	iterCache map[int32]Value

	pendingException Value
	pendingRethrow   *Value
	pendingReturn    *Value

	// generator/async bookkeeping, set only for a frame running as a
	// generator coroutine.
	gen *GeneratorData
}

// GCRoots implements RootProvider: every live frame's registers, the
// pending exception, and captured environments are roots, walked from
// the innermost frame of every still-running call chain.
func (rt *Runtime) GCRoots() []ObjectHandle {
	var roots []ObjectHandle
	for f := rt.topFrame; f != nil; f = f.parent {
		roots = append(roots, frameRoots(f)...)
	}
	for _, g := range rt.pendingAsyncs {
		if g.frame != nil {
			roots = append(roots, frameRoots(g.frame)...)
		}
		if g.delegate.Kind == VObject {
			roots = append(roots, g.delegate.Obj)
		}
	}
	roots = append(roots, rt.pendingPromises...)
	for _, call := range rt.activeCalls {
		if call.fn.Kind == VObject {
			roots = append(roots, call.fn.Obj)
		}
		if call.this.Kind == VObject {
			roots = append(roots, call.this.Obj)
		}
		for _, a := range call.args {
			if a.Kind == VObject {
				roots = append(roots, a.Obj)
			}
		}
	}
	for _, task := range rt.microtasks {
		for _, v := range task.roots {
			if v.Kind == VObject {
				roots = append(roots, v.Obj)
			}
		}
	}
	return roots
}

func frameRoots(f *Frame) []ObjectHandle {
	var roots []ObjectHandle
	if !f.env.IsNull() {
		roots = append(roots, f.env)
	}
	if f.this.Kind == VObject {
		roots = append(roots, f.this.Obj)
	}
	if f.pendingException.Kind == VObject {
		roots = append(roots, f.pendingException.Obj)
	}
	for _, v := range f.regs {
		if v.Kind == VObject {
			roots = append(roots, v.Obj)
		}
	}
	for _, v := range f.iterCache {
		if v.Kind == VObject {
			roots = append(roots, v.Obj)
		}
	}
	return roots
}

// markFrame traces a suspended generator frame's roots for the GC mark
// phase, mirroring frameRoots but feeding the heap's
// own mark closure directly rather than building a slice.
func markFrame(f *Frame, mark func(ObjectHandle)) {
	if !f.env.IsNull() {
		mark(f.env)
	}
	if f.this.Kind == VObject {
		mark(f.this.Obj)
	}
	for _, v := range f.regs {
		if v.Kind == VObject {
			mark(v.Obj)
		}
	}
	for _, v := range f.iterCache {
		if v.Kind == VObject {
			mark(v.Obj)
		}
	}
}

func newFrame(chunk *Chunk, parent *Frame) *Frame {
	return &Frame{
		chunk:            chunk,
		regs:             make([]Value, chunk.FrameSize),
		iterCache:        make(map[int32]Value),
		parent:           parent,
		pendingException: Undefined(),
		newTarget:        Undefined(),
	}
}

// run executes f.chunk from f.pc until it returns, throws uncaught, or
// the runtime's execution budget is exhausted.
func (rt *Runtime) run(f *Frame) (Value, error) {
	prevTop := rt.topFrame
	rt.topFrame = f
	defer func() { rt.topFrame = prevTop }()

	for {
		if rt.deadline.set && time.Now().After(rt.deadline.at) {
			return Value{}, ErrTimeout
		}
		if f.pc >= len(f.chunk.Code) {
			return Undefined(), nil
		}
		inst := f.chunk.Code[f.pc]
		v, done, err := rt.step(f, &inst)
		if err != nil {
			if se, ok := asScriptError(err); ok {
				thrown := rt.scriptErrorValue(se)
				pc, caught := rt.dispatchException(f, thrown)
				if !caught {
					se.Thrown = thrown
					if !se.HasSpan {
						se.Span, se.HasSpan = inst.Span, true
					}
					if len(se.Stack) == 0 {
						se.Stack = rt.captureStack(f, inst.Span)
					}
					return Value{}, se
				}
				f.pc = int(pc)
				continue
			}
			return Value{}, err
		}
		if done {
			return v, nil
		}
	}
}

// step executes one instruction, advancing f.pc unless it is a jump,
// and returns (value, true, nil) when the frame has completed via
// return/return-undefined.
func (rt *Runtime) step(f *Frame, inst *Inst) (Value, bool, error) {
	advance := func() (Value, bool, error) { f.pc++; return Value{}, false, nil }
	switch inst.Op {
	case OpLoadUndefined:
		f.regs[inst.A] = Undefined()
		return advance()
	case OpLoadNull:
		f.regs[inst.A] = Null()
		return advance()
	case OpLoadTrue:
		f.regs[inst.A] = BoolVal(true)
		return advance()
	case OpLoadFalse:
		f.regs[inst.A] = BoolVal(false)
		return advance()
	case OpLoadInt:
		f.regs[inst.A] = NumberVal(float64(inst.B))
		return advance()
	case OpLoadConst:
		f.regs[inst.A] = rt.constValue(f.chunk.Consts[inst.B])
		return advance()
	case OpMove:
		f.regs[inst.A] = f.regs[inst.B]
		return advance()

	case OpAdd:
		v, err := rt.add(f.regs[inst.B], f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpSub, OpMul, OpDiv, OpMod, OpExp:
		l, err := rt.ToNumberRT(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		r, err := rt.ToNumberRT(f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = NumberVal(arith(inst.Op, l, r))
		return advance()
	case OpNeg:
		n, err := rt.ToNumberRT(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = NumberVal(-n)
		return advance()
	case OpPlus:
		n, err := rt.ToNumberRT(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = NumberVal(n)
		return advance()
	case OpNot:
		f.regs[inst.A] = BoolVal(!rt.ToBooleanRT(f.regs[inst.B]))
		return advance()
	case OpBitNot:
		n, err := rt.ToNumberRT(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = NumberVal(float64(^toInt32(n)))
		return advance()

	case OpEq:
		eq, err := rt.LooseEquals(f.regs[inst.B], f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = BoolVal(eq)
		return advance()
	case OpNotEq:
		eq, err := rt.LooseEquals(f.regs[inst.B], f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = BoolVal(!eq)
		return advance()
	case OpStrictEq:
		f.regs[inst.A] = BoolVal(StrictEquals(f.regs[inst.B], f.regs[inst.C]))
		return advance()
	case OpStrictNotEq:
		f.regs[inst.A] = BoolVal(!StrictEquals(f.regs[inst.B], f.regs[inst.C]))
		return advance()
	case OpLt, OpLtEq, OpGt, OpGtEq:
		v, err := rt.compare(inst.Op, f.regs[inst.B], f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()

	case OpBitAnd, OpBitOr, OpBitXor, OpLShift, OpRShift:
		l, err := rt.ToNumberRT(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		r, err := rt.ToNumberRT(f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = NumberVal(bitwise(inst.Op, l, r))
		return advance()
	case OpURShift:
		l, err := rt.ToNumberRT(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		r, err := rt.ToNumberRT(f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = NumberVal(float64(uint32(toInt32(l)) >> (uint32(toInt32(r)) & 31)))
		return advance()

	case OpJumpIfTrue:
		if rt.ToBooleanRT(f.regs[inst.B]) {
			f.pc = int(inst.A)
			return Value{}, false, nil
		}
		return advance()
	case OpJumpIfFalse:
		if !rt.ToBooleanRT(f.regs[inst.B]) {
			f.pc = int(inst.A)
			return Value{}, false, nil
		}
		return advance()
	case OpJumpIfNullish:
		if f.regs[inst.B].IsNullish() {
			f.pc = int(inst.A)
			return Value{}, false, nil
		}
		return advance()
	case OpJump:
		f.pc = int(inst.A)
		return Value{}, false, nil

	case OpCall:
		return rt.execCall(f, inst)
	case OpCallSpread:
		args, err := rt.spreadCallArgs(f.regs[inst.C+1])
		if err != nil {
			return Value{}, false, err
		}
		result, err := rt.Call(f.regs[inst.B], f.regs[inst.C], args)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = result
		return advance()
	case OpNew:
		return rt.execNew(f, inst)
	case OpNewSpread:
		args, err := rt.spreadCallArgs(f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		result, err := rt.construct(f.regs[inst.B], args)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = result
		return advance()
	case OpReturn:
		return rt.execReturn(f, f.regs[inst.A])
	case OpReturnUndefined:
		return rt.execReturn(f, Undefined())

	case OpCreateClosure, OpCreateGenerator, OpCreateAsync, OpCreateAsyncGenerator:
		f.regs[inst.A] = rt.createClosure(f, inst)
		return advance()

	case OpCreateObject:
		g := rt.NewPlainObject(rt.objectProto, rt.objectProto != NullHandle)
		f.regs[inst.A] = ObjectVal(g.Handle())
		g.Release()
		return advance()
	case OpCreateArray:
		g := rt.NewArray(nil)
		f.regs[inst.A] = ObjectVal(g.Handle())
		g.Release()
		return advance()
	case OpCreateRegexp:
		f.regs[inst.A] = rt.newRegExp(rt.strings.Resolve(f.chunk.Consts[inst.B].Str), rt.strings.Resolve(f.chunk.Consts[inst.C].Str))
		return advance()
	case OpArrayPush:
		obj, ok := rt.heap.Resolve(f.regs[inst.A].Obj)
		if !ok {
			return Value{}, false, ErrDanglingHandle
		}
		obj.Array = append(obj.Array, f.regs[inst.B])
		return advance()
	case OpSpreadInto:
		if err := rt.spreadInto(f.regs[inst.A], f.regs[inst.B], inst.C != 0); err != nil {
			return Value{}, false, err
		}
		return advance()

	case OpGetProp:
		v, err := rt.GetProperty(f.regs[inst.B], StringKey(f.chunk.Consts[inst.C].Str))
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpSetProp:
		if err := rt.SetProperty(f.regs[inst.A], StringKey(f.chunk.Consts[inst.B].Str), f.regs[inst.C]); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpSetAccessor:
		if err := rt.defineObjectAccessor(f, inst); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpGetPropComputed:
		key, err := rt.PropKeyFromValue(f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		v, err := rt.GetProperty(f.regs[inst.B], key)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpSetPropComputed:
		key, err := rt.PropKeyFromValue(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		if err := rt.SetProperty(f.regs[inst.A], key, f.regs[inst.C]); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpGetIndex:
		v, err := rt.GetProperty(f.regs[inst.B], IndexKey(uint32(inst.C)))
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpSetIndex:
		if err := rt.SetProperty(f.regs[inst.A], IndexKey(uint32(inst.B)), f.regs[inst.C]); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpDeleteProp:
		ok, err := rt.DeleteProperty(f.regs[inst.B], StringKey(f.chunk.Consts[inst.C].Str))
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = BoolVal(ok)
		return advance()
	case OpDeletePropComputed:
		key, err := rt.PropKeyFromValue(f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		ok, err := rt.DeleteProperty(f.regs[inst.B], key)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = BoolVal(ok)
		return advance()

	case OpGetPrivate:
		v, err := rt.getPrivate(f, f.regs[inst.B], f.chunk.Consts[inst.C].Str)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpSetPrivate:
		if err := rt.setPrivate(f, f.regs[inst.A], f.chunk.Consts[inst.B].Str, f.regs[inst.C]); err != nil {
			return Value{}, false, err
		}
		return advance()

	case OpDeclareVar:
		if err := rt.DeclareVar(f.env, StringHandle(inst.A), declKindFromFlags(inst.B), inst.C != 0); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpDeclareVarHoisted:
		if err := rt.DeclareVar(f.env, StringHandle(inst.A), DeclVar, true); err != nil {
			return Value{}, false, err
		}
		data := rt.heap.MustResolve(f.env).Exotic.(*EnvironmentData)
		if b, ok := data.Bindings[StringHandle(inst.A)]; ok && b.Value.Kind == VUndefined {
			b.Value = Undefined()
		}
		return advance()
	case OpGetVar:
		v, err := rt.GetVar(f.env, StringHandle(inst.B))
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpSetVar:
		if err := rt.SetVar(f.env, StringHandle(inst.A), f.regs[inst.B]); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpInitVar:
		if err := rt.InitVar(f.env, StringHandle(inst.A), f.regs[inst.B]); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpTryGetVar:
		v, ok := rt.TryGetVar(f.env, StringHandle(inst.B))
		if !ok {
			v = Undefined()
		}
		f.regs[inst.A] = v
		return advance()
	case OpPushScope:
		g := rt.NewEnvironment(f.env, true)
		f.env = g.Handle()
		g.Release()
		return advance()
	case OpPopScope:
		data := rt.heap.MustResolve(f.env).Exotic.(*EnvironmentData)
		f.env = data.Outer
		return advance()

	case OpPushTry:
		fin := int32(-1)
		if inst.C >= 0 {
			fin = inst.C
		}
		f.tryStack = append(f.tryStack, tryHandler{
			catchPC: inst.A, hasCatch: inst.B != 0,
			finallyPC: fin, hasFinally: inst.C >= 0,
			savedEnv: f.env,
		})
		return advance()
	case OpPopTry:
		f.tryStack = f.tryStack[:len(f.tryStack)-1]
		return advance()
	case OpThrow:
		pc, caught := rt.dispatchException(f, f.regs[inst.A])
		if !caught {
			se, _ := asScriptError(rt.valueThrowError(f.regs[inst.A]))
			se.Thrown = f.regs[inst.A]
			return Value{}, false, se
		}
		f.pc = int(pc)
		return Value{}, false, nil
	case OpGetException:
		f.regs[inst.A] = f.pendingException
		return advance()
	case OpFinallyEnd:
		return rt.execFinallyEnd(f)

	case OpGetIterator:
		v, err := rt.getIterator(f.regs[inst.B], false)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpGetAsyncIterator:
		v, err := rt.getIterator(f.regs[inst.B], true)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpGetKeysIterator:
		v, err := rt.getKeysIterator(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpIteratorNext:
		res, err := rt.iteratorNext(f.regs[inst.A])
		if err != nil {
			return Value{}, false, err
		}
		f.iterCache[inst.A] = res
		return advance()
	case OpIteratorDone:
		res := f.iterCache[inst.B]
		done, err := rt.GetProperty(res, StringKey(rt.strings.Intern("done")))
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = BoolVal(rt.ToBooleanRT(done))
		return advance()
	case OpIteratorValue:
		res := f.iterCache[inst.B]
		v, err := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpIteratorClose:
		rt.closeIterator(f.regs[inst.A])
		return advance()

	case OpAwait:
		fromIter := inst.A == inst.B
		var operand Value
		if fromIter {
			operand = f.iterCache[inst.A]
		} else {
			operand = f.regs[inst.B]
		}
		if f.gen != nil {
			// Park the activation: the frame keeps its registers, PC
			// (already advanced past this instruction), environment,
			// and try stack; the driver resumes it once the operand
			// settles.
			if fromIter {
				f.gen.resumeIterSlot = inst.A
			} else {
				f.gen.resumeDst = inst.A
			}
			f.pc++
			return Value{}, false, &suspension{value: operand}
		}
		// Top-level await: no driver loop above Evaluate to suspend
		// into, so only synchronously-settled promises resolve.
		resolved, err := rt.awaitSync(operand)
		if err != nil {
			return Value{}, false, err
		}
		if fromIter {
			f.iterCache[inst.A] = resolved
		} else {
			f.regs[inst.A] = resolved
		}
		return advance()

	case OpYield:
		if f.gen == nil {
			return Value{}, false, typeError("yield used outside a generator")
		}
		f.gen.resumeDst = inst.A
		f.pc++
		return Value{}, false, &suspension{value: f.regs[inst.B]}
	case OpYieldStar:
		v, done, err := rt.stepYieldStar(f, inst.B)
		if err != nil {
			return Value{}, false, err
		}
		if done {
			f.regs[inst.A] = v
			return advance()
		}
		// The PC stays on this instruction: each resume re-executes
		// it, pulling the next element from the delegate.
		return Value{}, false, &suspension{value: v}

	case OpCreateClass:
		v, err := rt.createClass(f, inst)
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpDefineMethod, OpDefineAccessor, OpDefinePrivateMethod:
		if err := rt.defineClassMethod(f, inst); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpDefineField, OpDefinePrivateField:
		if err := rt.defineClassField(f, inst); err != nil {
			return Value{}, false, err
		}
		return advance()
	case OpApplyClassDecorator:
		v, err := rt.Call(f.regs[inst.B], Undefined(), []Value{f.regs[inst.A]})
		if err != nil {
			return Value{}, false, err
		}
		if v.Kind == VObject {
			f.regs[inst.A] = v
		}
		return advance()
	case OpRunStaticBlock:
		return advance() // folded into an immediately-invoked closure by class.go

	case OpTypeof:
		if inst.C != 0 {
			v, ok := rt.TryGetVar(f.env, StringHandle(inst.B))
			if !ok {
				f.regs[inst.A] = StringVal(rt.strings.Intern("undefined"))
				return advance()
			}
			f.regs[inst.A] = StringVal(rt.strings.Intern(rt.TypeOf(v)))
			return advance()
		}
		f.regs[inst.A] = StringVal(rt.strings.Intern(rt.TypeOf(f.regs[inst.B])))
		return advance()
	case OpInstanceof:
		v, err := rt.instanceOf(f.regs[inst.B], f.regs[inst.C])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = v
		return advance()
	case OpIn:
		key, err := rt.PropKeyFromValue(f.regs[inst.B])
		if err != nil {
			return Value{}, false, err
		}
		f.regs[inst.A] = BoolVal(rt.HasProperty(f.regs[inst.C], key))
		return advance()

	case OpGetThis:
		f.regs[inst.A] = f.this
		return advance()
	case OpGetSuper:
		if f.fn == nil || !f.fn.HasSuperClass {
			return Value{}, false, typeError("'super' keyword is only valid inside a derived class")
		}
		f.regs[inst.A] = ObjectVal(f.fn.SuperClass)
		return advance()
	case OpGetArguments:
		if inst.B == 1 {
			f.regs[inst.A] = f.newTarget
		} else {
			f.regs[inst.A] = rt.getArgumentsObject(f)
		}
		return advance()

	case OpDup:
		f.regs[inst.A] = f.regs[inst.B]
		return advance()
	case OpPop:
		return advance()

	case OpCompletionValue:
		f.regs[0] = f.regs[inst.B]
		return advance()
	}
	return Value{}, false, typeError("unimplemented opcode %d", inst.Op)
}

// captureStack records one StackFrame per live activation, innermost
// first: the faulting instruction's span for the top frame, the
// pending call instruction's span for each caller below it.
func (rt *Runtime) captureStack(f *Frame, faultSpan Span) []StackFrame {
	var stack []StackFrame
	for fr := f; fr != nil; fr = fr.parent {
		name := ""
		if fr.fn != nil {
			name = fr.fn.Name
		}
		span := faultSpan
		if fr != f && fr.pc < len(fr.chunk.Code) {
			span = fr.chunk.Code[fr.pc].Span
		}
		stack = append(stack, StackFrame{FunctionName: name, Span: span})
	}
	return stack
}

// spreadCallArgs copies the flattened argument array a CallSpread/
// NewSpread site built into a Go slice for the ordinary call path.
func (rt *Runtime) spreadCallArgs(arrVal Value) ([]Value, error) {
	if arrVal.Kind != VObject {
		return nil, typeError("spread arguments are not an array")
	}
	obj, ok := rt.heap.Resolve(arrVal.Obj)
	if !ok {
		return nil, ErrDanglingHandle
	}
	return append([]Value(nil), obj.Array...), nil
}

func (rt *Runtime) execReturn(f *Frame, v Value) (Value, bool, error) {
	if pc, ok := rt.drainFinallyForReturn(f, v); ok {
		f.pc = int(pc)
		return Value{}, false, nil
	}
	return v, true, nil
}

// drainFinallyForReturn arranges for every remaining finally block in
// this frame to run before the function actually returns v.
func (rt *Runtime) drainFinallyForReturn(f *Frame, v Value) (int32, bool) {
	for len(f.tryStack) > 0 {
		h := f.tryStack[len(f.tryStack)-1]
		f.tryStack = f.tryStack[:len(f.tryStack)-1]
		f.env = h.savedEnv
		if h.hasFinally {
			rv := v
			f.pendingReturn = &rv
			return h.finallyPC, true
		}
	}
	return 0, false
}

func (rt *Runtime) execFinallyEnd(f *Frame) (Value, bool, error) {
	switch {
	case f.pendingRethrow != nil:
		v := *f.pendingRethrow
		f.pendingRethrow = nil
		pc, caught := rt.dispatchException(f, v)
		if !caught {
			se, _ := asScriptError(rt.valueThrowError(v))
			se.Thrown = v
			return Value{}, false, se
		}
		f.pc = int(pc)
		return Value{}, false, nil
	case f.pendingReturn != nil:
		v := *f.pendingReturn
		f.pendingReturn = nil
		return rt.execReturn(f, v)
	default:
		f.pc++
		return Value{}, false, nil
	}
}

// dispatchException walks f.tryStack looking for a handler, popping
// every entry it passes over.
func (rt *Runtime) dispatchException(f *Frame, thrown Value) (int32, bool) {
	for len(f.tryStack) > 0 {
		h := f.tryStack[len(f.tryStack)-1]
		f.tryStack = f.tryStack[:len(f.tryStack)-1]
		f.env = h.savedEnv
		if h.hasCatch {
			f.pendingException = thrown
			return h.catchPC, true
		}
		if h.hasFinally {
			tv := thrown
			f.pendingRethrow = &tv
			return h.finallyPC, true
		}
	}
	return 0, false
}

func declKindFromFlags(mutable int32) DeclKind {
	if mutable != 0 {
		return DeclLet
	}
	return DeclConst
}

func (rt *Runtime) constValue(c Const) Value {
	switch c.Kind {
	case ConstNumber:
		return NumberVal(c.Num)
	case ConstString:
		return StringVal(c.Str)
	}
	return Undefined()
}

func arith(op OpCode, l, r float64) float64 {
	switch op {
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	case OpMod:
		return mod(l, r)
	case OpExp:
		return power(l, r)
	}
	return 0
}

func bitwise(op OpCode, l, r float64) float64 {
	li, ri := toInt32(l), toInt32(r)
	switch op {
	case OpBitAnd:
		return float64(li & ri)
	case OpBitOr:
		return float64(li | ri)
	case OpBitXor:
		return float64(li ^ ri)
	case OpLShift:
		return float64(li << (uint32(ri) & 31))
	case OpRShift:
		return float64(li >> (uint32(ri) & 31))
	}
	return 0
}
