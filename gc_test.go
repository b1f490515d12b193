// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "testing"

// TestGCGuardSurvivesNestedAllocation is the critical correctness
// property: a collection triggered mid-construction of an
// aggregate must not reclaim the under-construction children.
func TestGCGuardSurvivesNestedAllocation(t *testing.T) {
	rt := New(Options{GCThreshold: 1})
	c, err := rt.Evaluate(`
function build() {
  // each literal here allocates; with GCThreshold=1 a collection can
  // run between any two of these allocations before the object
  // returned below has had a chance to own them.
  return {a: {v: 1}, b: {v: 2}, c: [{v:3}, {v:4}]};
}
let obj = build();
obj.a.v + obj.b.v + obj.c[0].v + obj.c[1].v`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if c.Value.Kind != VNumber || c.Value.Num != 10 {
		t.Fatalf("got %v, want 10 (guarded construction must survive interleaved GC)", c.Value)
	}
}

// TestGCUnreachableCycleIsCollected checks that a cyclic object group
// with no remaining root is reclaimed by an explicit collection.
func TestGCUnreachableCycleIsCollected(t *testing.T) {
	rt := New(Options{})
	before := rt.GCStats().AliveCount

	if _, err := rt.Evaluate(`
(function() {
  let a = {}, b = {};
  a.next = b; b.next = a;
})();`); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	rt.CollectGarbage()
	after := rt.GCStats().AliveCount
	if after > before {
		t.Fatalf("alive count after collecting an unreachable cycle = %d, want <= baseline %d", after, before)
	}
}

// TestGCManualOnlyWithZeroThreshold checks that GCThreshold=0 disables
// automatic collection.
func TestGCManualOnlyWithZeroThreshold(t *testing.T) {
	rt := New(Options{GCThreshold: 0})
	if _, err := rt.Evaluate(`for (let i = 0; i < 50; i++) { let x = {v: i}; }`); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	stats := rt.GCStats()
	if stats.AllocsSinceGC == 0 {
		t.Fatalf("expected allocations to accumulate uncollected with threshold=0")
	}
	rt.CollectGarbage()
	if rt.GCStats().AllocsSinceGC != 0 {
		t.Fatalf("expected allocs_since_gc to reset after an explicit collection")
	}
}

func TestGCStatsShape(t *testing.T) {
	rt := New(Options{})
	stats := rt.GCStats()
	if stats.RootsCount == 0 {
		t.Fatalf("expected a nonzero roots count (process roots alone are nonzero)")
	}
}
