// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// ObjectHandle is a stable reference into the GC heap's arena: a slot
// index plus a generation counter, so a stale handle can be detected
// rather than silently aliasing a reused slot.
type ObjectHandle struct {
	index int32
	gen   uint32
}

// NullHandle is the handle denoting "no object" (e.g. a null
// prototype), distinct from any allocated handle.
var NullHandle = ObjectHandle{index: -1}

func (h ObjectHandle) IsNull() bool { return h.index < 0 }

type heapSlot struct {
	obj   *Object
	gen   uint32
	alive bool
}

// Guard is a stack-scoped GC root holder. Newly
// allocated objects are guarded so they survive a collection triggered
// during their own construction, before ownership has transferred to a
// permanent container.
type Guard struct {
	heap   *Heap
	handle ObjectHandle
	active bool
}

// Handle returns the guarded object's handle.
func (g *Guard) Handle() ObjectHandle { return g.handle }

// Release removes this guard's root. If no owner edge was established
// in the meantime, the object becomes collectible on the next GC.
func (g *Guard) Release() {
	if !g.active {
		return
	}
	g.heap.releaseGuard(g)
	g.active = false
}

// GCStats mirrors the host-visible gc_stats() result.
type GCStats struct {
	AliveCount    int
	FreeCount     int
	RootsCount    int
	AllocsSinceGC int
	GCThreshold   int
}

// RootProvider supplies the non-guard roots a collection must trace
// from: the VM's active frames/registers, the current environment, any
// pending thrown value, and pending promise reactions.
// The Runtime implements this; it is a separate interface so gc.go does
// not need to know about vm.go's frame layout.
type RootProvider interface {
	GCRoots() []ObjectHandle
}

// Heap is the tracing, cycle-collecting GC heap.
type Heap struct {
	slots       []heapSlot
	freeList    []int32
	guards      map[*Guard]bool
	threshold   int
	allocsSince int
	roots       RootProvider // set once by Runtime after construction
	procRoots   []ObjectHandle
}

// NewHeap creates an empty heap. threshold is the allocation-count
// trigger for automatic collection; 0 disables automatic collection
func NewHeap(threshold int) *Heap {
	return &Heap{
		guards:    make(map[*Guard]bool),
		threshold: threshold,
	}
}

// SetThreshold updates gc_threshold.
func (h *Heap) SetThreshold(n int) { h.threshold = n }

// SetRootProvider wires the VM/environment root source; called once
// during Runtime construction.
func (h *Heap) SetRootProvider(p RootProvider) { h.roots = p }

// AddProcessRoot registers a process-wide root (global object, global
// environment, a builtin prototype) that lives for the runtime's
// lifetime.
func (h *Heap) AddProcessRoot(handle ObjectHandle) {
	h.procRoots = append(h.procRoots, handle)
}

// Own records an explicit ownership edge parent->child, keeping child
// alive while parent is. Edges are a multiset: recording the same pair
// twice requires two Disown calls to remove.
func (h *Heap) Own(parent, child ObjectHandle) {
	if obj, ok := h.Resolve(parent); ok {
		obj.Owned = append(obj.Owned, child)
	}
}

// Disown removes one previously recorded parent->child edge.
func (h *Heap) Disown(parent, child ObjectHandle) {
	obj, ok := h.Resolve(parent)
	if !ok {
		return
	}
	for i, c := range obj.Owned {
		if c == child {
			obj.Owned = append(obj.Owned[:i], obj.Owned[i+1:]...)
			return
		}
	}
}

// Alloc places obj into the heap and returns its handle wrapped in a
// guard that keeps it alive until the guard is released and ownership
// has transferred.
func (h *Heap) Alloc(obj *Object) *Guard {
	h.maybeCollect()
	var idx int32
	if n := len(h.freeList); n > 0 {
		idx = h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		h.slots[idx].obj = obj
		h.slots[idx].alive = true
	} else {
		idx = int32(len(h.slots))
		h.slots = append(h.slots, heapSlot{obj: obj, alive: true})
	}
	h.allocsSince++
	handle := ObjectHandle{index: idx, gen: h.slots[idx].gen}
	g := &Guard{heap: h, handle: handle, active: true}
	h.guards[g] = true
	return g
}

func (h *Heap) releaseGuard(g *Guard) {
	delete(h.guards, g)
}

// Resolve dereferences a handle to its live object. It returns
// (nil, false) for a null handle or a handle whose generation no
// longer matches the slot (ErrDanglingHandle territory in debug
// builds; here reported via the boolean so callers can decide).
func (h *Heap) Resolve(handle ObjectHandle) (*Object, bool) {
	if handle.index < 0 || int(handle.index) >= len(h.slots) {
		return nil, false
	}
	s := &h.slots[handle.index]
	if !s.alive || s.gen != handle.gen {
		return nil, false
	}
	return s.obj, true
}

// MustResolve is Resolve but panics on a dangling handle; used at call
// sites where a handle was just minted or pulled from a guard and
// dangling would indicate an engine bug, not a script error.
func (h *Heap) MustResolve(handle ObjectHandle) *Object {
	obj, ok := h.Resolve(handle)
	if !ok {
		panic(ErrDanglingHandle)
	}
	return obj
}

func (h *Heap) maybeCollect() {
	if h.threshold <= 0 {
		return
	}
	if h.allocsSince >= h.threshold {
		h.Collect()
	}
}

// Collect runs mark/sweep with cycle collection:
// mark every object reachable from the root set, then sweep every
// unmarked slot, unlinking its fields before reclaiming the slot so
// cycles among unreachable nodes are broken safely.
func (h *Heap) Collect() {
	for i := range h.slots {
		if h.slots[i].alive {
			h.slots[i].obj.marked = false
		}
	}

	var mark func(handle ObjectHandle)
	mark = func(handle ObjectHandle) {
		obj, ok := h.Resolve(handle)
		if !ok || obj.marked {
			return
		}
		obj.marked = true
		if obj.HasProto {
			mark(obj.Proto)
		}
		for _, k := range obj.KeyOrder {
			d := obj.Props[k]
			if d == nil {
				continue
			}
			if d.IsAccessor() {
				if d.HasGetter {
					mark(d.Getter)
				}
				if d.HasSetter {
					mark(d.Setter)
				}
			} else if d.Value.Kind == VObject {
				mark(d.Value.Obj)
			}
		}
		for _, v := range obj.Array {
			if v.Kind == VObject {
				mark(v.Obj)
			}
		}
		for _, c := range obj.Owned {
			mark(c)
		}
		markExotic(obj, mark)
	}

	for _, r := range h.procRoots {
		mark(r)
	}
	if h.roots != nil {
		for _, r := range h.roots.GCRoots() {
			mark(r)
		}
	}
	for g := range h.guards {
		mark(g.handle)
	}

	free := 0
	for i := range h.slots {
		s := &h.slots[i]
		if !s.alive {
			continue
		}
		if !s.obj.marked {
			// Unlink before reclaiming, breaking any cycle this node
			// participated in.
			s.obj.Props = nil
			s.obj.KeyOrder = nil
			s.obj.Array = nil
			s.obj.Owned = nil
			s.obj.Exotic = nil
			s.obj.HasProto = false
			s.obj = nil
			s.alive = false
			s.gen++
			h.freeList = append(h.freeList, int32(i))
			free++
		}
	}
	h.allocsSince = 0
	_ = free
}

// markExotic traces the GC-relevant fields of an object's exotic
// payload.
func markExotic(obj *Object, mark func(ObjectHandle)) {
	switch p := obj.Exotic.(type) {
	case *FunctionData:
		mark(p.Env)
		if p.HasHomeObj {
			mark(p.HomeObject)
		}
	case *BoundData:
		mark(p.Target)
		if p.BoundThs.Kind == VObject {
			mark(p.BoundThs.Obj)
		}
		for _, a := range p.BoundArg {
			if a.Kind == VObject {
				mark(a.Obj)
			}
		}
	case *EnvironmentData:
		for _, b := range p.Bindings {
			if b.Value.Kind == VObject {
				mark(b.Value.Obj)
			}
		}
		if p.HasOuter {
			mark(p.Outer)
		}
	case *PromiseData:
		if p.Result.Kind == VObject {
			mark(p.Result.Obj)
		}
		for _, r := range p.Reactions {
			for _, v := range r.roots {
				if v.Kind == VObject {
					mark(v.Obj)
				}
			}
		}
	case *MapData:
		for _, v := range p.keys {
			if v.Kind == VObject {
				mark(v.Obj)
			}
		}
		for _, v := range p.values {
			if v.Kind == VObject {
				mark(v.Obj)
			}
		}
	case *SetData:
		for _, v := range p.values {
			if v.Kind == VObject {
				mark(v.Obj)
			}
		}
	case *BoxedData:
		if p.Value.Kind == VObject {
			mark(p.Value.Obj)
		}
	case *GeneratorData:
		if p.frame != nil {
			markFrame(p.frame, mark)
		}
		if p.delegate.Kind == VObject {
			mark(p.delegate.Obj)
		}
	}
}

// Stats reports gc_stats().
func (h *Heap) Stats() GCStats {
	alive, free := 0, 0
	for _, s := range h.slots {
		if s.alive {
			alive++
		} else {
			free++
		}
	}
	roots := len(h.procRoots) + len(h.guards)
	if h.roots != nil {
		roots += len(h.roots.GCRoots())
	}
	return GCStats{
		AliveCount:    alive,
		FreeCount:     free,
		RootsCount:    roots,
		AllocsSinceGC: h.allocsSince,
		GCThreshold:   h.threshold,
	}
}
