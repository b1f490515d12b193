// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEvaluateFileMmapsSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.ts")
	if err := os.WriteFile(path, []byte(`1 + 41`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rt := New(Options{})
	c, err := rt.EvaluateFile(path)
	if err != nil {
		t.Fatalf("EvaluateFile: %v", err)
	}
	if c.Value.Kind != VNumber || c.Value.Num != 42 {
		t.Fatalf("got %v, want 42", c.Value)
	}
}

// TestRegisterNativeHostFunction checks the native-function
// registration interface: a host function installed on a
// prototype is callable from script with `this` bound to the receiver.
func TestRegisterNativeHostFunction(t *testing.T) {
	rt := New(Options{})
	var gotThis Value
	var gotArgs []Value
	rt.RegisterNative(rt.globalObj, "hostFn", 2, func(rt *Runtime, this Value, args []Value) (Value, error) {
		gotThis = this
		gotArgs = append([]Value(nil), args...)
		return NumberVal(99), nil
	})
	c, err := rt.Evaluate(`globalThis.hostFn(1, "two")`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.Value.Kind != VNumber || c.Value.Num != 99 {
		t.Fatalf("got %v, want 99", c.Value)
	}
	if len(gotArgs) != 2 || gotArgs[0].Num != 1 {
		t.Fatalf("host function received args %v", gotArgs)
	}
	if gotThis.Kind != VObject {
		t.Fatalf("host function's `this` = %v, want the global object", gotThis)
	}
}

func TestUncaughtThrowSurfacesScriptError(t *testing.T) {
	rt := New(Options{})
	_, err := rt.Evaluate(`function boom(){ throw new TypeError("nope"); } boom();`)
	if err == nil {
		t.Fatalf("expected an error")
	}
	se, ok := asScriptError(err)
	if !ok {
		t.Fatalf("got %T, want *ScriptError", err)
	}
	if se.Kind != ErrKindType {
		t.Fatalf("kind = %v, want TypeError", se.Kind)
	}
}

func TestExecutionTimeoutIsUncatchable(t *testing.T) {
	rt := New(Options{TimeoutMillis: 1})
	_, err := rt.Evaluate(`
try {
  let i = 0;
  while (true) { i++; }
} catch (e) {
  globalThis.caught = true;
}
`)
	if err == nil {
		t.Fatalf("expected the execution budget to be exceeded")
	}
}

func TestMapAndSetBuiltins(t *testing.T) {
	got := evalString(t, `let m = new Map(); m.set("a", 1); m.set("b", 2);
let s = new Set([1,2,2,3]);
[m.get("a"), m.get("b"), m.size, s.size].join(",")`)
	if got != "1,2,2,3" {
		t.Fatalf("got %q", got)
	}
}

func TestCustomIteratorProtocol(t *testing.T) {
	got := evalString(t, `
let range = {
  from: 1, to: 3,
  [Symbol.iterator]() {
    let cur = this.from, last = this.to;
    return { next() { return cur <= last ? {value: cur++, done: false}: {value: undefined, done: true}; } };
  }
};
let out = [];
for (const v of range) out.push(v);
out.join(",")`)
	if got != "1,2,3" {
		t.Fatalf("got %q", got)
	}
}
