// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"fmt"
	"io"
	"io/ioutil"

	"github.com/stephens2424/writerset"
)

// Logger is the minimal leveled logging surface the runtime calls
// through for its own diagnostics. A nil Logger
// passed to Options is replaced by noopLogger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Errorf(string, ...interface{}) {}

// stdLogger writes both levels, prefixed, to a single writer -- the
// host-embedding convenience a CLI wants and a library caller doesn't.
type stdLogger struct{ w io.Writer }

// NewStdLogger returns a Logger that writes debug/error lines to w,
// for hosts (like tsvmrun) that want the engine's internal diagnostics
// on their own terminal instead of composing a custom Logger.
func NewStdLogger(w io.Writer) Logger { return stdLogger{w: w} }

func (l stdLogger) Debugf(format string, args ...interface{}) {
	fmt.Fprintf(l.w, "debug: "+format+"\n", args...)
}

func (l stdLogger) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(l.w, "error: "+format+"\n", args...)
}

// outputSink fans a single logical stream (console.log's stdout,
// console.error's stderr) out to every writer a host has attached, via
// writerset.WriterSet. A sink with no attached
// writer discards silently, the way ioutil.Discard would.
type outputSink struct {
	set *writerset.WriterSet
}

func newOutputSink(initial io.Writer) *outputSink {
	s := &outputSink{set: writerset.New()}
	if initial != nil {
		s.set.Add(initial)
	} else {
		s.set.Add(ioutil.Discard)
	}
	return s
}

func (s *outputSink) add(w io.Writer) {
	if w != nil {
		s.set.Add(w)
	}
}

func (s *outputSink) writeLine(line string) {
	_, _ = s.set.Write([]byte(line + "\n"))
}
