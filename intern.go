// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// StringHandle is a stable reference to an interned string. Two handles
// compare equal iff they denote the same string; the zero value denotes
// the empty string once interned.
type StringHandle int32

// InternTable is a concurrency-free map from byte sequence to a stable
// handle. It only grows: handles never invalidate for the lifetime of
// the table, matching the lifecycle described for the runtime's string
// table.
type InternTable struct {
	byString map[string]StringHandle
	strings  []string
}

// NewInternTable creates an empty intern table and pre-interns the empty
// string at handle 0, so a zero-valued StringHandle is always valid.
func NewInternTable() *InternTable {
	t := &InternTable{
		byString: make(map[string]StringHandle, 256),
		strings:  make([]string, 0, 256),
	}
	t.Intern("")
	return t
}

// Intern returns the canonical handle for s, allocating a new slot the
// first time s is seen.
func (t *InternTable) Intern(s string) StringHandle {
	if h, ok := t.byString[s]; ok {
		return h
	}
	h := StringHandle(len(t.strings))
	t.strings = append(t.strings, s)
	t.byString[s] = h
	return h
}

// Resolve returns the byte sequence denoted by h. It panics if h was
// never returned by this table's Intern, which is a programmer error
// and not a recoverable runtime condition.
func (t *InternTable) Resolve(h StringHandle) string {
	return t.strings[h]
}

// Len reports how many distinct strings are interned.
func (t *InternTable) Len() int {
	return len(t.strings)
}
