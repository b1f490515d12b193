// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// GeneratorData is the suspended-activation payload backing a
// generator, async function, or async generator. Suspension is
// explicit state capture: the activation's Frame already holds its
// registers, PC, environment, and try-handler stack, so parking it is
// just returning out of rt.run with a suspension marker, and resuming
// is writing the resume value into the recorded register and
// re-entering rt.run on the same Frame. Nothing blocks, and the GC
// stays authoritative over liveness because everything a suspended
// activation holds is reachable through the Frame the collector
// already traces.
type GeneratorData struct {
	frame   *Frame
	isAsync bool
	started bool
	running bool
	done    bool

	// resumeDst/resumeIterSlot record where the next resume value
	// lands: a plain register for `v = yield ...` / `v = await ...`,
	// or the frame's iterator-result slot for a for-await step. -1
	// when the pending suspension carries no destination.
	resumeDst      int32
	resumeIterSlot int32

	// delegate is the inner iterator during `yield*`; the YieldStar
	// instruction re-executes on every resume until the delegate
	// reports done.
	delegate    Value
	hasDelegate bool
}

type resumeMsg struct {
	value   Value
	isThrow bool
	isRet   bool
}

// suspension travels out of rt.run's error channel when a frame parks
// at a yield or await. It is engine plumbing, not a script-visible
// error: dispatchException never sees it because it is not a
// ScriptError.
type suspension struct {
	value Value
}

func (*suspension) Error() string { return "tsvm: suspended activation" }

// newCoroutine wraps frame as a suspendable activation. Async
// activations are additionally registered on the runtime: their frame
// may be referenced only by a pending settle continuation, which the
// collector cannot trace on its own.
func (rt *Runtime) newCoroutine(frame *Frame, isAsync bool) *GeneratorData {
	gd := &GeneratorData{frame: frame, isAsync: isAsync, resumeDst: -1, resumeIterSlot: -1}
	frame.gen = gd
	if isAsync {
		rt.pendingAsyncs = append(rt.pendingAsyncs, gd)
	}
	return gd
}

func (rt *Runtime) dropCoroutine(gd *GeneratorData) {
	gd.done = true
	if !gd.isAsync {
		return
	}
	for i, g := range rt.pendingAsyncs {
		if g == gd {
			rt.pendingAsyncs = append(rt.pendingAsyncs[:i], rt.pendingAsyncs[i+1:]...)
			return
		}
	}
}

// deliverResume writes the resume value into the slot the pending
// suspension recorded.
func (gd *GeneratorData) deliverResume(v Value) {
	if gd.resumeIterSlot >= 0 {
		gd.frame.iterCache[gd.resumeIterSlot] = v
		gd.resumeIterSlot = -1
		return
	}
	if gd.resumeDst >= 0 {
		gd.frame.regs[gd.resumeDst] = v
		gd.resumeDst = -1
	}
}

// resumeGenerator drives one step of a suspended generator and wraps
// the outcome as an iterator-result object.
func (rt *Runtime) resumeGenerator(gd *GeneratorData, msg resumeMsg) (Value, error) {
	if gd.running {
		return Value{}, typeError("Generator is already running")
	}
	if gd.done {
		if msg.isThrow {
			return Value{}, rt.valueThrowError(msg.value)
		}
		if msg.isRet {
			return rt.makeIterResult(msg.value, true), nil
		}
		return rt.makeIterResult(Undefined(), true), nil
	}
	f := gd.frame
	switch {
	case msg.isRet:
		// The activation ends without resuming the body, so pending
		// finally blocks in the generator do not run; a documented
		// simplification (see DESIGN.md).
		rt.dropCoroutine(gd)
		return rt.makeIterResult(msg.value, true), nil
	case msg.isThrow:
		if !gd.started {
			rt.dropCoroutine(gd)
			return Value{}, rt.valueThrowError(msg.value)
		}
		pc, caught := rt.dispatchException(f, msg.value)
		if !caught {
			rt.dropCoroutine(gd)
			return Value{}, rt.valueThrowError(msg.value)
		}
		f.pc = int(pc)
	default:
		gd.deliverResume(msg.value)
	}
	return rt.stepCoroutine(gd)
}

// stepCoroutine re-enters the VM on the parked frame and classifies
// how it comes back out: suspended again, completed, or thrown.
func (rt *Runtime) stepCoroutine(gd *GeneratorData) (Value, error) {
	f := gd.frame
	gd.started, gd.running = true, true
	f.parent = rt.topFrame
	v, err := rt.run(f)
	gd.running = false
	if s, ok := err.(*suspension); ok {
		return rt.makeIterResult(s.value, false), nil
	}
	rt.dropCoroutine(gd)
	if err != nil {
		return Value{}, err
	}
	return rt.makeIterResult(v, true), nil
}

// callGenerator implements calling a generator function: the frame is
// created but no instruction runs until the first .next() call.
func (rt *Runtime) callGenerator(fn *FunctionData, this Value, args []Value) (Value, error) {
	frame := newFrame(fn.Chunk, rt.topFrame)
	rt.bindCallFrame(frame, fn, this, args)
	gd := rt.newCoroutine(frame, false)

	o := NewObject()
	o.Kind = KindGenerator
	if rt.generatorProto != NullHandle {
		o.Proto, o.HasProto = rt.generatorProto, true
	}
	o.Exotic = gd
	g := rt.heap.Alloc(o)
	defer g.Release()
	return ObjectVal(g.Handle()), nil
}

// callAsyncGenerator is the async-generator variant: `for await`
// drives it the same way `for...of` drives a plain generator, via
// resumeGenerator, except an await inside the body surfaces its
// operand as the step's value for the caller to await (the simplified
// model does not distinguish the two kinds of suspension further; see
// DESIGN.md).
func (rt *Runtime) callAsyncGenerator(fn *FunctionData, this Value, args []Value) (Value, error) {
	return rt.callGenerator(fn, this, args)
}

// stepYieldStar advances a `yield*` delegation one element: the
// instruction re-executes on every resume, pulling from the delegate
// until it reports done, whose value becomes the yield* result.
// Values passed into the outer .next(v) are not forwarded to the
// delegate; a documented simplification.
func (rt *Runtime) stepYieldStar(f *Frame, iterableReg int32) (Value, bool, error) {
	if f.gen == nil {
		return Value{}, false, typeError("yield used outside a generator")
	}
	gd := f.gen
	if !gd.hasDelegate {
		iter, err := rt.getIterator(f.regs[iterableReg], false)
		if err != nil {
			return Value{}, false, err
		}
		gd.delegate, gd.hasDelegate = iter, true
	}
	res, err := rt.iteratorNext(gd.delegate)
	if err != nil {
		return Value{}, false, err
	}
	done, err := rt.GetProperty(res, StringKey(rt.strings.Intern("done")))
	if err != nil {
		return Value{}, false, err
	}
	val, err := rt.GetProperty(res, StringKey(rt.strings.Intern("value")))
	if err != nil {
		return Value{}, false, err
	}
	if rt.ToBooleanRT(done) {
		gd.delegate, gd.hasDelegate = Value{}, false
		return val, true, nil
	}
	return val, false, nil
}

// --- Promises and async functions ---------------------------------

// newPendingPromise allocates a pending Promise object.
func (rt *Runtime) newPendingPromise() *Guard {
	o := NewObject()
	o.Kind = KindPromise
	if rt.promiseProto != NullHandle {
		o.Proto, o.HasProto = rt.promiseProto, true
	}
	o.Exotic = &PromiseData{State: PromisePending}
	return rt.heap.Alloc(o)
}

func (rt *Runtime) settlePromise(handle ObjectHandle, v Value, err error) {
	obj, ok := rt.heap.Resolve(handle)
	if !ok {
		return
	}
	pd, ok := obj.Exotic.(*PromiseData)
	if !ok || pd.IsSettled {
		return
	}
	if err != nil {
		pd.State, pd.Result = PromiseRejected, rt.scriptErrorValue(errAsScriptError(rt, err))
	} else if v.Kind == VObject {
		if inner, ok := rt.heap.Resolve(v.Obj); ok {
			if innerPd, ok := inner.Exotic.(*PromiseData); ok {
				// resolving with another promise adopts its eventual state
				rt.onSettledData(innerPd, []Value{ObjectVal(handle)}, func(rv Value, threw bool) {
					if threw {
						rt.settlePromise(handle, Value{}, rt.valueThrowError(rv))
					} else {
						rt.settlePromise(handle, rv, nil)
					}
				})
				return
			}
		}
		pd.State, pd.Result = PromiseFulfilled, v
	} else {
		pd.State, pd.Result = PromiseFulfilled, v
	}
	pd.IsSettled = true
	reactions := pd.Reactions
	pd.Reactions = nil
	for _, r := range reactions {
		r := r
		rt.enqueueMicrotask(func() {
			if pd.State == PromiseFulfilled {
				if r.onFulfill != nil {
					r.onFulfill(pd.Result)
				}
			} else if r.onReject != nil {
				r.onReject(pd.Result)
			}
		}, append(r.roots, pd.Result)...)
	}
}

func errAsScriptError(rt *Runtime, err error) *ScriptError {
	if se, ok := asScriptError(err); ok {
		return se
	}
	return rt.valueThrowError(StringVal(rt.strings.Intern(err.Error())))
}

// onSettled invokes cb(value, wasRejected) once v (if a Promise)
// settles, or immediately (as a microtask) if v is not a pending
// promise at all. roots lists the heap values cb captures; they stay
// alive while the reaction is pending or queued.
func (rt *Runtime) onSettled(v Value, roots []Value, cb func(Value, bool)) {
	if v.Kind == VObject {
		if obj, ok := rt.heap.Resolve(v.Obj); ok {
			if pd, ok := obj.Exotic.(*PromiseData); ok {
				rt.onSettledData(pd, roots, cb)
				return
			}
		}
	}
	rt.enqueueMicrotask(func() { cb(v, false) }, append(roots, v)...)
}

func (rt *Runtime) onSettledData(pd *PromiseData, roots []Value, cb func(Value, bool)) {
	if pd.IsSettled {
		result, rejected := pd.Result, pd.State == PromiseRejected
		rt.enqueueMicrotask(func() { cb(result, rejected) }, append(roots, result)...)
		return
	}
	pd.Reactions = append(pd.Reactions, promiseReaction{
		onFulfill: func(v Value) { cb(v, false) },
		onReject:  func(v Value) { cb(v, true) },
		roots:     roots,
	})
}

// microtask pairs a queued reaction with the heap values its closure
// captured, so a collection between enqueue and drain cannot reclaim
// them.
type microtask struct {
	fn    func()
	roots []Value
}

func (rt *Runtime) enqueueMicrotask(fn func(), roots ...Value) {
	rt.microtasks = append(rt.microtasks, microtask{fn: fn, roots: roots})
}

// drainMicrotasks runs queued promise reactions to a fixed point
func (rt *Runtime) drainMicrotasks() {
	for len(rt.microtasks) > 0 {
		task := rt.microtasks[0]
		rt.microtasks = rt.microtasks[1:]
		task.fn()
	}
}

// callAsync implements calling an async function: the activation runs
// synchronously up to its first await or return, then the caller gets
// a Promise while the suspended continuation is driven forward by the
// microtask queue as each awaited value settles.
func (rt *Runtime) callAsync(fn *FunctionData, this Value, args []Value) (Value, error) {
	frame := newFrame(fn.Chunk, rt.topFrame)
	rt.bindCallFrame(frame, fn, this, args)
	gd := rt.newCoroutine(frame, true)

	promGuard := rt.newPendingPromise()
	promHandle := promGuard.Handle()
	rt.pendingPromises = append(rt.pendingPromises, promHandle)
	promGuard.Release()

	rt.driveAsync(gd, promHandle, resumeMsg{})
	return ObjectVal(promHandle), nil
}

// driveAsync runs the async activation until its next suspension:
// completion settles the promise, an await registers a continuation
// on the awaited value that re-enters driveAsync once it settles.
func (rt *Runtime) driveAsync(gd *GeneratorData, promHandle ObjectHandle, msg resumeMsg) {
	f := gd.frame
	if msg.isThrow {
		pc, caught := rt.dispatchException(f, msg.value)
		if !caught {
			rt.finishAsync(gd, promHandle, Value{}, rt.valueThrowError(msg.value))
			return
		}
		f.pc = int(pc)
	} else if gd.started {
		gd.deliverResume(msg.value)
	}
	gd.started, gd.running = true, true
	f.parent = rt.topFrame
	v, err := rt.run(f)
	gd.running = false
	if s, ok := err.(*suspension); ok {
		rt.onSettled(s.value, []Value{ObjectVal(promHandle)}, func(rv Value, threw bool) {
			rt.driveAsync(gd, promHandle, resumeMsg{value: rv, isThrow: threw})
		})
		return
	}
	rt.finishAsync(gd, promHandle, v, err)
}

func (rt *Runtime) finishAsync(gd *GeneratorData, promHandle ObjectHandle, v Value, err error) {
	rt.dropCoroutine(gd)
	rt.settlePromise(promHandle, v, err)
	for i, h := range rt.pendingPromises {
		if h == promHandle {
			rt.pendingPromises = append(rt.pendingPromises[:i], rt.pendingPromises[i+1:]...)
			break
		}
	}
}

func (rt *Runtime) awaitSync(v Value) (Value, error) {
	if v.Kind != VObject {
		return v, nil
	}
	obj, ok := rt.heap.Resolve(v.Obj)
	if !ok {
		return v, nil
	}
	pd, ok := obj.Exotic.(*PromiseData)
	if !ok {
		return v, nil
	}
	rt.drainMicrotasks()
	if !pd.IsSettled {
		return Value{}, typeError("await of a promise that never settles synchronously at top level")
	}
	if pd.State == PromiseRejected {
		return Value{}, rt.valueThrowError(pd.Result)
	}
	return pd.Result, nil
}
