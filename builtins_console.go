// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "strings"

// installConsoleBuiltins wires the console namespace object, fanning
// log/info/debug to the stdout sink and warn/error to the stderr sink
func (rt *Runtime) installConsoleBuiltins() {
	g := rt.NewPlainObject(rt.objectProto, true)
	consoleObj := g.Handle()
	defer g.Release()

	logTo := func(sink *outputSink) NativeFunc {
		return func(rt *Runtime, this Value, args []Value) (Value, error) {
			parts := make([]string, len(args))
			for i, a := range args {
				s, err := rt.consoleFormat(a)
				if err != nil {
					return Value{}, err
				}
				parts[i] = s
			}
			sink.writeLine(strings.Join(parts, " "))
			return Undefined(), nil
		}
	}
	rt.RegisterNative(consoleObj, "log", 0, logTo(rt.stdout))
	rt.RegisterNative(consoleObj, "info", 0, logTo(rt.stdout))
	rt.RegisterNative(consoleObj, "debug", 0, logTo(rt.stdout))
	rt.RegisterNative(consoleObj, "warn", 0, logTo(rt.stderr))
	rt.RegisterNative(consoleObj, "error", 0, logTo(rt.stderr))

	rt.defineGlobal("console", ObjectVal(consoleObj))
}

// consoleFormat renders a value the way console.log displays it:
// strings unquoted, everything else via ToStringRT, except plain
// objects/arrays which get a shallow JSON-like rendering so a logged
// object is more useful than "[object Object]".
func (rt *Runtime) consoleFormat(v Value) (string, error) {
	if v.Kind == VString {
		return rt.strings.Resolve(v.Str), nil
	}
	if v.Kind == VObject {
		obj, ok := rt.heap.Resolve(v.Obj)
		if ok {
			switch obj.Kind {
			case KindArray:
				return rt.formatArrayShallow(obj)
			case KindPlain:
				return rt.formatObjectShallow(obj)
			}
		}
	}
	return rt.ToStringRT(v)
}

func (rt *Runtime) formatArrayShallow(obj *Object) (string, error) {
	parts := make([]string, len(obj.Array))
	for i, v := range obj.Array {
		s, err := rt.inspectValue(v)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "[ " + strings.Join(parts, ", ") + " ]", nil
}

func (rt *Runtime) formatObjectShallow(obj *Object) (string, error) {
	var parts []string
	for _, k := range obj.KeyOrder {
		d := obj.Props[k]
		if d == nil || !d.Enumerable || k.kind != keyKindString {
			continue
		}
		var valStr string
		if d.IsAccessor() {
			valStr = "[Getter]"
		} else {
			s, err := rt.inspectValue(d.Value)
			if err != nil {
				return "", err
			}
			valStr = s
		}
		parts = append(parts, rt.strings.Resolve(k.str)+": "+valStr)
	}
	if len(parts) == 0 {
		return "{}", nil
	}
	return "{ " + strings.Join(parts, ", ") + " }", nil
}

// inspectValue is consoleFormat's nested-value variant: strings get
// quoted the way a REPL would render them inside a containing array
// or object.
func (rt *Runtime) inspectValue(v Value) (string, error) {
	if v.Kind == VString {
		return "'" + rt.strings.Resolve(v.Str) + "'", nil
	}
	return rt.consoleFormat(v)
}
