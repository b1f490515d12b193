// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// Fuzz is the github.com/dvyukov/go-fuzz entry point: feed raw bytes
// through the two components that take untrusted input directly, the
// lexer and the parser.
func Fuzz(data []byte) int {
	src := string(data)

	lx := NewLexer(src)
	for {
		tok, err := lx.Next()
		if err != nil {
			return 0
		}
		if tok.Kind == TEOF {
			break
		}
	}

	if _, err := Parse(src); err != nil {
		return 0
	}
	return 1
}
