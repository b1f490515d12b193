// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "math"

// ValueKind tags which field of a Value is meaningful.
type ValueKind uint8

const (
	VUndefined ValueKind = iota
	VNull
	VBool
	VNumber
	VString
	VSymbol
	VObject
)

// Value is the engine's tagged value. Booleans are stored in
// Num as 0/1 to keep the struct small and comparable.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  StringHandle
	Sym  *Symbol
	Obj  ObjectHandle
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{Kind: VUndefined} }

// Null returns the null value.
func Null() Value { return Value{Kind: VNull} }

// BoolVal returns a boolean value.
func BoolVal(b bool) Value {
	if b {
		return Value{Kind: VBool, Num: 1}
	}
	return Value{Kind: VBool, Num: 0}
}

// NumberVal returns a numeric value.
func NumberVal(n float64) Value { return Value{Kind: VNumber, Num: n} }

// StringVal returns a string value from an interned handle.
func StringVal(h StringHandle) Value { return Value{Kind: VString, Str: h} }

// SymbolVal returns a symbol value.
func SymbolVal(s *Symbol) Value { return Value{Kind: VSymbol, Sym: s} }

// ObjectVal returns an object value.
func ObjectVal(h ObjectHandle) Value { return Value{Kind: VObject, Obj: h} }

func (v Value) IsUndefined() bool { return v.Kind == VUndefined }
func (v Value) IsNull() bool      { return v.Kind == VNull }
func (v Value) IsNullish() bool   { return v.Kind == VUndefined || v.Kind == VNull }
func (v Value) IsObject() bool    { return v.Kind == VObject }
func (v Value) IsString() bool    { return v.Kind == VString }
func (v Value) IsNumber() bool    { return v.Kind == VNumber }
func (v Value) IsBool() bool      { return v.Kind == VBool }

// AsBool reads a VBool value as a Go bool.
func (v Value) AsBool() bool { return v.Num != 0 }

// Symbol has unique identity by pointer, with an optional description.
type Symbol struct {
	Description    string
	HasDescription bool
}

// NewSymbol allocates a fresh symbol with the given description.
func NewSymbol(description string, hasDescription bool) *Symbol {
	return &Symbol{Description: description, HasDescription: hasDescription}
}

// StrictEquals implements === (NaN != NaN,
// +0 == -0).
func StrictEquals(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case VUndefined, VNull:
		return true
	case VBool, VNumber:
		return a.Num == b.Num
	case VString:
		return a.Str == b.Str
	case VSymbol:
		return a.Sym == b.Sym
	case VObject:
		return a.Obj == b.Obj
	}
	return false
}

// SameValue implements Object.is semantics: NaN equal to itself, +0 and
// -0 distinct, otherwise identical to StrictEquals.
func SameValue(a, b Value) bool {
	if a.Kind == VNumber && b.Kind == VNumber {
		if math.IsNaN(a.Num) && math.IsNaN(b.Num) {
			return true
		}
		if a.Num == 0 && b.Num == 0 {
			return math.Signbit(a.Num) == math.Signbit(b.Num)
		}
	}
	return StrictEquals(a, b)
}

// ExoticKind tags the specialized behavior an Object carries beyond a
// plain property bag.
type ExoticKind uint8

const (
	KindPlain ExoticKind = iota
	KindArray
	KindFunction
	KindBoundFunction
	KindEnvironment
	KindPromise
	KindMap
	KindSet
	KindDate
	KindRegExp
	KindError
	KindIterator
	KindGenerator
	KindBoxedBool
	KindBoxedNumber
	KindBoxedString
)

// propKeyKind distinguishes the three (four, counting private) keyspaces
// a property key may live in.
type propKeyKind uint8

const (
	keyKindString propKeyKind = iota
	keyKindIndex
	keyKindSymbol
	keyKindPrivate
)

// PropKey is a property key: an interned string, a 32-bit array index, a
// symbol identity, or a (class-brand, name) private-member pair.
type PropKey struct {
	kind  propKeyKind
	str   StringHandle
	idx   uint32
	sym   *Symbol
	brand uint32
}

// StringKey builds a string-keyed PropKey.
func StringKey(h StringHandle) PropKey { return PropKey{kind: keyKindString, str: h} }

// IndexKey builds an integer-indexed PropKey.
func IndexKey(i uint32) PropKey { return PropKey{kind: keyKindIndex, idx: i} }

// SymbolKey builds a symbol-keyed PropKey.
func SymbolKey(s *Symbol) PropKey { return PropKey{kind: keyKindSymbol, sym: s} }

// PrivateKey builds a private-member PropKey, gated by class brand.
func PrivateKey(brand uint32, name StringHandle) PropKey {
	return PropKey{kind: keyKindPrivate, brand: brand, str: name}
}

func (k PropKey) IsPrivate() bool { return k.kind == keyKindPrivate }
func (k PropKey) IsIndex() bool   { return k.kind == keyKindIndex }

// PropertyDescriptor is a data or accessor property.
type PropertyDescriptor struct {
	Value        Value
	Getter       ObjectHandle
	Setter       ObjectHandle
	HasGetter    bool
	HasSetter    bool
	Writable     bool
	Enumerable   bool
	Configurable bool
}

// IsAccessor reports whether this descriptor is a getter/setter pair
// rather than a plain data property.
func (d *PropertyDescriptor) IsAccessor() bool { return d.HasGetter || d.HasSetter }

// Binding is an environment-record entry.
type Binding struct {
	Value       Value
	Mutable     bool
	Initialized bool
}

// FunctionKind records which of the four function "colors" an
// interpreted function is.
type FunctionKind uint8

const (
	FuncNormal FunctionKind = iota
	FuncArrow
	FuncGenerator
	FuncAsync
	FuncAsyncGenerator
)

// FunctionData is the payload of an interpreted function object.
type FunctionData struct {
	Name        string
	Chunk       *Chunk
	Env         ObjectHandle // captured Environment object
	Kind        FunctionKind
	ParamCount  int
	HasRest     bool
	UsesThis    bool
	UsesArgs    bool
	HomeObject  ObjectHandle // for super lookups in methods
	HasHomeObj  bool
	Brand       uint32 // nonzero when this is a class member: the owning class's brand
	IsClassCtor bool

	// CapturedThis/HasCapturedThis hold the lexical `this` an arrow
	// function closes over at creation time.
	CapturedThis    Value
	HasCapturedThis bool

	// The remaining fields are only meaningful when IsClassCtor is true.
	Prototype      ObjectHandle // the class's own .prototype object
	HasPrototype   bool
	SuperClass     ObjectHandle // the extended class's constructor object
	HasSuperClass  bool
	InstanceFields []classFieldDesc // applied to `this` each time this ctor runs
}

// classFieldDesc is one instance (public or private) field declared by a
// class body, applied to the freshly constructed instance before the
// constructor's own statements run.
type classFieldDesc struct {
	Key   PropKey
	Value Value
}

// BoundData is the payload of a bound function object.
type BoundData struct {
	Target   ObjectHandle
	BoundThs Value
	BoundArg []Value
}

// NativeData is the payload of a host-registered native function.
type NativeData struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

// NativeFunc is the signature a host function must implement to be
// installed via RegisterNative.
type NativeFunc func(rt *Runtime, this Value, args []Value) (Value, error)

// EnvironmentData is the payload of an Environment exotic object.
type EnvironmentData struct {
	Bindings        map[StringHandle]*Binding
	Outer           ObjectHandle
	HasOuter        bool
	IsFunctionScope bool // true for the top frame of a call, the var-hoisting target
}

// PromiseState is the fulfillment state of a Promise exotic object.
type PromiseState uint8

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// PromiseData is the payload of a Promise exotic object.
type PromiseData struct {
	State     PromiseState
	Result    Value
	Reactions []promiseReaction
	IsSettled bool
}

// promiseReaction pairs the settlement callbacks with the heap values
// they capture (handler functions, the derived promise), so a pending
// reaction keeps its captures alive across collections.
type promiseReaction struct {
	onFulfill func(Value)
	onReject  func(Value)
	roots     []Value
}

// MapData is the payload of a Map exotic object. Insertion order is
// preserved, matching host Map iteration semantics.
type MapData struct {
	keys   []Value
	values []Value
	index  map[mapKey]int
}

// SetData is the payload of a Set exotic object.
type SetData struct {
	values []Value
	index  map[mapKey]int
}

// mapKey is a comparable projection of Value suitable for use as a Go
// map key (SameValueZero semantics: like SameValue but +0 equals -0).
type mapKey struct {
	kind ValueKind
	num  float64
	str  StringHandle
	sym  *Symbol
	obj  ObjectHandle
}

func toMapKey(v Value) mapKey {
	k := mapKey{kind: v.Kind, str: v.Str, sym: v.Sym, obj: v.Obj}
	if v.Kind == VNumber {
		if v.Num == 0 {
			k.num = 0 // fold -0 into +0 for SameValueZero
		} else {
			k.num = v.Num
		}
	} else {
		k.num = v.Num
	}
	return k
}

// DateData is the payload of a Date exotic object: milliseconds since
// the epoch, or NaN for an invalid date.
type DateData struct {
	Millis float64
}

// RegExpData is the payload of a RegExp exotic object. The CORE treats
// the compiled engine as a host collaborator; it
// stores only source, flags and lastIndex, no compiled matcher.
type RegExpData struct {
	Source    string
	Flags     string
	LastIndex int
}

// ErrorData is the payload of an Error exotic object.
type ErrorData struct {
	Kind    string
	Message string
	Stack   []StackFrame
}

// StackFrame records one activation for an error's captured call stack
type StackFrame struct {
	FunctionName string
	Span         Span
}

// IteratorData is the payload of a plain (non-generator) Iterator
// object built by host/native iterator constructors.
type IteratorData struct {
	Next func() (value Value, done bool, err error)
}

// BoxedData is the payload of a Boxed{Bool,Number,String} exotic object.
type BoxedData struct {
	Value Value
}

// Object is a heap node.
type Object struct {
	Proto      ObjectHandle
	HasProto   bool
	Kind       ExoticKind
	Props      map[PropKey]*PropertyDescriptor
	KeyOrder   []PropKey
	Array      []Value
	Extensible bool
	Sealed     bool
	Frozen     bool
	Brand      uint32
	HasBrand   bool
	Exotic     interface{}

	// Owned holds explicit ownership edges to children whose liveness
	// depends on this object but which no property, array slot, or
	// exotic payload field reaches (e.g. a native resolver function
	// keeping its promise alive). Multiset semantics: the same child
	// may appear once per recorded edge.
	Owned []ObjectHandle

	marked bool
}

// NewObject allocates a bare plain object payload (the caller is
// responsible for placing it in the heap via Heap.Alloc).
func NewObject() *Object {
	return &Object{
		Props:      make(map[PropKey]*PropertyDescriptor),
		Extensible: true,
	}
}

// GetOwn returns this object's own property descriptor for key, if any.
// Array slots below length are always considered present (this
// implementation does not track sparse-array holes separately).
func (o *Object) GetOwn(key PropKey) (*PropertyDescriptor, bool) {
	if key.IsIndex() && o.Kind == KindArray {
		if int(key.idx) < len(o.Array) {
			return &PropertyDescriptor{Value: o.Array[key.idx], Writable: true, Enumerable: true, Configurable: true}, true
		}
		return nil, false
	}
	d, ok := o.Props[key]
	return d, ok
}

// SetOwn installs or replaces an own data property, recording the
// property in insertion order the first time it is seen.
func (o *Object) SetOwn(key PropKey, d *PropertyDescriptor) {
	if _, exists := o.Props[key]; !exists {
		o.KeyOrder = append(o.KeyOrder, key)
	}
	o.Props[key] = d
}

// DeleteOwn removes an own property.
func (o *Object) DeleteOwn(key PropKey) {
	if _, ok := o.Props[key]; !ok {
		return
	}
	delete(o.Props, key)
	for i, k := range o.KeyOrder {
		if k == key {
			o.KeyOrder = append(o.KeyOrder[:i], o.KeyOrder[i+1:]...)
			break
		}
	}
}

// Length returns the array length for an Array-kind object.
func (o *Object) Length() uint32 { return uint32(len(o.Array)) }

// SetLength truncates or extends the array slot vector to n;
// shrinking truncates indexed slots.
func (o *Object) SetLength(n uint32) {
	if int(n) < len(o.Array) {
		o.Array = o.Array[:n]
		return
	}
	for uint32(len(o.Array)) < n {
		o.Array = append(o.Array, Undefined())
	}
}
