// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "testing"

// evalString is the shared test helper: a fresh Runtime, one Evaluate
// call, the completion's value coerced to a Go string via the
// runtime's own ToStringRT (no shortcuts through fmt.Sprint).
func evalString(t *testing.T, src string) string {
	t.Helper()
	rt := New(Options{})
	c, err := rt.Evaluate(src)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", src, err)
	}
	s, err := rt.ToStringRT(c.Value)
	if err != nil {
		t.Fatalf("ToStringRT(%v): %v", c.Value, err)
	}
	return s
}

func evalNumber(t *testing.T, src string) float64 {
	t.Helper()
	rt := New(Options{})
	c, err := rt.Evaluate(src)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", src, err)
	}
	if c.Value.Kind != VNumber {
		t.Fatalf("Evaluate(%q) = %v, want number", src, c.Value)
	}
	return c.Value.Num
}

// TestScenario1ArithmeticAndStringCoercion checks numeric precedence
// feeding string concatenation.
func TestScenario1ArithmeticAndStringCoercion(t *testing.T) {
	got := evalString(t, `"value: " + (1 + 2 * 3)`)
	if got != "value: 7" {
		t.Fatalf("got %q, want %q", got, "value: 7")
	}
}

// TestScenario2PerIterationClosureCapture checks that closures made in a
// `for (let ...)` body capture a distinct binding per iteration.
func TestScenario2PerIterationClosureCapture(t *testing.T) {
	got := evalNumber(t, `let fs=[]; for(let i=0;i<3;i++){ fs.push(()=>i); } fs[0]()+fs[1]()+fs[2]()`)
	if got != 3 {
		t.Fatalf("got %v, want 3", got)
	}
}

// TestScenario3TryFinallyPendingReturn checks that a finally
// block's own return masks the try block's pending return.
func TestScenario3TryFinallyPendingReturn(t *testing.T) {
	got := evalNumber(t, `function f(){ try{ return 1; } finally { return 2; } } f()`)
	if got != 2 {
		t.Fatalf("got %v, want 2", got)
	}
}

// TestScenario4GeneratorProtocol steps a generator through its yields
// and final return.
func TestScenario4GeneratorProtocol(t *testing.T) {
	got := evalString(t, `function* g(){ yield 1; yield 2; return 3; } const it=g();
const a=it.next(); const b=it.next(); const c=it.next();
[a.value,a.done,b.value,b.done,c.value,c.done].join(",")`)
	want := "1,false,2,false,3,true"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestScenario5CycleCollectionUnderStress runs 1000
// iterations of a three-cycle `{v}->next->{v}->next->{v}->next->` graph,
// under a low GC threshold, must not leak a multiple of the iteration
// count.
func TestScenario5CycleCollectionUnderStress(t *testing.T) {
	rt := New(Options{GCThreshold: 100})
	src := `let total = 0;
for (let i = 0; i < 1000; i++) {
  let a = {v:1}, b = {v:2}, c = {v:3};
  a.next = b; b.next = c; c.next = a;
  total += a.v + b.v + c.v;
}
total`
	c, err := rt.Evaluate(src)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.Value.Kind != VNumber || c.Value.Num != 6000 {
		t.Fatalf("total = %v, want 6000", c.Value)
	}
	baseline := New(Options{}).GCStats().AliveCount
	rt.CollectGarbage()
	stats := rt.GCStats()
	if over := stats.AliveCount - baseline; over >= 100 {
		t.Fatalf("alive-count overhead above baseline = %d, want < 100 (alive=%d baseline=%d)",
			over, stats.AliveCount, baseline)
	}
}

// TestScenario6PrivateBrandRejection checks that a private field
// access on an instance of a different class brand throws TypeError.
func TestScenario6PrivateBrandRejection(t *testing.T) {
	got := evalString(t, `class A{ #x=1; get(o){ return o.#x; } } class B{ #x=2; }
const a=new A(); const b=new B();
try{ a.get(b); "no-throw" } catch(e){ e instanceof TypeError ?
"TypeError" : "other" }`)
	if got != "TypeError" {
		t.Fatalf("got %q, want %q", got, "TypeError")
	}
}

// TestArrayLengthAssignment checks both directions of an explicit
// `length` write: shrinking truncates indexed slots, growing pads
// with undefined.
func TestArrayLengthAssignment(t *testing.T) {
	got := evalString(t, `let a=[1,2,3,4]; a.length=2;
let grown=[1]; grown.length=3;
[a.join(","), a.length, grown.length, grown[2] === undefined].join(" ")`)
	if got != "1,2 2 3 true" {
		t.Fatalf("got %q, want %q", got, "1,2 2 3 true")
	}
}

// TestGeneratorClosedOnLoopBreak checks IteratorClose: breaking out of
// a for-of finishes the generator, so a later .next() reports done.
func TestGeneratorClosedOnLoopBreak(t *testing.T) {
	got := evalString(t, `function* g(){ yield 1; yield 2; yield 3; }
const it = g();
let seen = [];
for (const v of it) { seen.push(v); if (v === 2) break; }
const after = it.next();
[seen.join("|"), after.done].join(" ")`)
	if got != "1|2 true" {
		t.Fatalf("got %q, want %q", got, "1|2 true")
	}
}

// TestGeneratorReturnFinishes drives Generator.prototype.return
// directly: the activation ends with the given value and stays done.
func TestGeneratorReturnFinishes(t *testing.T) {
	got := evalString(t, `function* g(){ yield 1; yield 2; }
const it = g();
const first = it.next();
const ret = it.return(9);
const after = it.next();
[first.value, ret.value, ret.done, after.done].join(",")`)
	if got != "1,9,true,true" {
		t.Fatalf("got %q, want %q", got, "1,9,true,true")
	}
}

// TestYieldStarDelegation checks that yield* re-yields every value of
// the inner iterator before the outer body continues.
func TestYieldStarDelegation(t *testing.T) {
	got := evalString(t, `function* inner(){ yield 1; yield 2; }
function* outer(){ yield 0; yield* inner(); yield 3; }
let out = [];
for (const v of outer()) out.push(v);
out.join(",")`)
	if got != "0,1,2,3" {
		t.Fatalf("got %q, want %q", got, "0,1,2,3")
	}
}

// TestStrictEqualityIdentity is the universal invariant: e === e is
// true for any side-effect-free e, except NaN.
func TestStrictEqualityIdentity(t *testing.T) {
	cases := []string{`1`, `"abc"`, `true`, `null`, `undefined`, `({a:1})`, `[1,2,3]`}
	for _, expr := range cases {
		src := "let x = " + expr + "; x === x"
		got := evalString(t, src)
		if got != "true" {
			t.Fatalf("%s === itself = %q, want true", expr, got)
		}
	}
	if got := evalString(t, `let x = NaN; x === x`); got != "false" {
		t.Fatalf("NaN === NaN = %q, want false", got)
	}
}

// TestObjectIsSemantics checks Object.is's NaN/±0 special casing against
// ===.
func TestObjectIsSemantics(t *testing.T) {
	cases := map[string]string{
		`Object.is(NaN, NaN)`: "true",
		`Object.is(0, -0)`:    "false",
		`Object.is(1, 1)`:     "true",
		`Object.is("a","a")`:  "true",
		`NaN === NaN`:         "false",
		`0 === -0`:            "true",
	}
	for src, want := range cases {
		if got := evalString(t, src); got != want {
			t.Fatalf("%s = %q, want %q", src, got, want)
		}
	}
}

// TestPerIterationLetCaptureGeneral checks the universal invariant for
// several n, not just the scenario's n=3.
func TestPerIterationLetCaptureGeneral(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		src := `let fs=[]; for(let i=0;i<N;i++) fs.push(()=>i); fs.map(f=>f()).join(",")`
		src = replaceN(src, n)
		var want string
		for i := 0; i < n; i++ {
			if i > 0 {
				want += ","
			}
			want += itoa(i)
		}
		if got := evalString(t, src); got != want {
			t.Fatalf("n=%d: got %q, want %q", n, got, want)
		}
	}
}

func replaceN(s string, n int) string {
	out := ""
	for i := 0; i < len(s); i++ {
		if s[i] == 'N' {
			out += itoa(n)
		} else {
			out += string(s[i])
		}
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

// TestTryFinallyAlwaysRuns checks the universal invariant across every
// completion of the try block (normal/throw/return/break/continue).
func TestTryFinallyAlwaysRuns(t *testing.T) {
	cases := map[string]string{
		// normal completion
		`let log=[]; (function(){ try{ log.push("A"); }finally{ log.push("C"); } })(); log.join(",")`: "A,C",
		// throw
		`let log=[]; (function(){ try{ try{ log.push("A"); throw 1; }finally{ log.push("C"); } }catch(e){ log.push("B"); } })(); log.join(",")`: "A,C,B",
		// return
		`let log=[]; function f(){ try{ log.push("A"); return 1; }finally{ log.push("C"); } } f(); log.join(",")`: "A,C",
		// break
		`let log=[]; for(let i=0;i<1;i++){ try{ log.push("A"); break; }finally{ log.push("C"); } } log.join(",")`: "A,C",
		// continue
		`let log=[]; for(let i=0;i<2;i++){ try{ log.push("A"); continue; }finally{ log.push("C"); } } log.join(",")`: "A,C,A,C",
	}
	for src, want := range cases {
		if got := evalString(t, src); got != want {
			t.Fatalf("%s\n got %q, want %q", src, got, want)
		}
	}
}

// TestDecoratorOrderBottomUp checks the universal invariant: for
// `@a @b @c class C {}`, application order is a(b(c(C))).
func TestDecoratorOrderBottomUp(t *testing.T) {
	src := `let order=[];
function mark(name){ return function(cls){ order.push(name); return cls; }; }
@mark("a") @mark("b") @mark("c") class C {}
order.join(",")`
	got := evalString(t, src)
	if got != "c,b,a" {
		t.Fatalf("got %q, want %q", got, "c,b,a")
	}
}

// TestASISafety checks that inserting a newline before a non-continuing
// token does not change program meaning.
func TestASISafety(t *testing.T) {
	a := evalNumber(t, "let x = 1\nlet y = 2\nx + y")
	b := evalNumber(t, "let x = 1; let y = 2; x + y")
	if a != b {
		t.Fatalf("ASI mismatch: %v != %v", a, b)
	}
}

// TestGCPreservesReachability checks that a binding on the global
// environment remains readable across an explicit collection.
func TestGCPreservesReachability(t *testing.T) {
	rt := New(Options{})
	if _, err := rt.Evaluate(`globalThis.kept = {v: 42};`); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	rt.CollectGarbage()
	c, err := rt.Evaluate(`globalThis.kept.v`)
	if err != nil {
		t.Fatalf("Evaluate after GC: %v", err)
	}
	if c.Value.Kind != VNumber || c.Value.Num != 42 {
		t.Fatalf("kept.v = %v, want 42", c.Value)
	}
}

func TestRoundTripLiterals(t *testing.T) {
	cases := map[string]string{
		`42`:        "42",
		`"hi"`:      "hi",
		`true`:      "true",
		`false`:     "false",
		`null`:      "null",
		`undefined`: "undefined",
	}
	for src, want := range cases {
		if got := evalString(t, src); got != want {
			t.Fatalf("%s = %q, want %q", src, got, want)
		}
	}
}

func TestNestedDestructuringAndSpread(t *testing.T) {
	got := evalString(t, `const {a, b: [c,...rest]} = {a: 1, b: [2, 3, 4]};
const merged = {...{x:1}, y:2};
[a, c, rest.join("|"), merged.x, merged.y].join(",")`)
	if got != "1,2,3|4,1,2" {
		t.Fatalf("got %q", got)
	}
}

func TestForOfAndForIn(t *testing.T) {
	got := evalString(t, `let sum=0; for (const v of [1,2,3]) sum += v;
let keys=[]; for (const k in {a:1,b:2}) keys.push(k);
[sum, keys.join(",")].join(" ")`)
	if got != "6 a,b" {
		t.Fatalf("got %q", got)
	}
}

func TestEnumRuntimeObject(t *testing.T) {
	got := evalString(t, `enum Color { Red, Green, Blue }
[Color.Red, Color.Green, Color.Blue, Color[1]].join(",")`)
	if got != "0,1,2,Green" {
		t.Fatalf("got %q", got)
	}
}

func TestNamespaceRuntimeObject(t *testing.T) {
	got := evalString(t, `namespace NS { export const x = 5; export function f() { return x * 2; } }
NS.f()`)
	if got != "10" {
		t.Fatalf("got %q", got)
	}
}

// TestAsyncAwaitDrainsMicrotasks checks that Evaluate's post-run
// microtask drain resolves an `await` on
// an already-fulfilled promise by the time a later Evaluate call on the
// same runtime observes the bound global.
func TestAsyncAwaitDrainsMicrotasks(t *testing.T) {
	rt := New(Options{})
	if _, err := rt.Evaluate(`async function f(){ const v = await Promise.resolve(21); return v * 2; }
globalThis.result = 0;
f().then(v => globalThis.result = v);`); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	c, err := rt.Evaluate(`globalThis.result`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.Value.Kind != VNumber || c.Value.Num != 42 {
		t.Fatalf("result = %v, want 42", c.Value)
	}
}

func TestOptionalChainingAndNullishCoalescing(t *testing.T) {
	got := evalString(t, `let o = {a: {b: null}};
[o.a?.b ?? "default", o.x?.y ?? "missing", typeof o.a?.b?.c].join(",")`)
	if got != "default,missing,undefined" {
		t.Fatalf("got %q", got)
	}
}
