// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeHexEscape decodes a \xXX escape into its single-byte rune
func decodeHexEscape(hex string) (string, error) {
	n, err := strconv.ParseUint(hex, 16, 8)
	if err != nil {
		return "", &SyntaxError{Message: "invalid hex escape"}
	}
	return string(rune(n)), nil
}

// decodeBracedEscape decodes the \u{X...} form, which names a code
// point directly.
func decodeBracedEscape(digits string) (string, error) {
	if digits == "" {
		return "", &SyntaxError{Message: "invalid unicode escape"}
	}
	n, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return "", &SyntaxError{Message: "invalid unicode escape"}
	}
	if n > 0x10FFFF {
		return "", &SyntaxError{Message: "unicode escape out of range"}
	}
	return string(rune(n)), nil
}

// decodeUTF16Units transcodes a \uXXXX escape sequence -- one code
// unit, or the surrogate pair the lexer matched across two adjacent
// escapes -- through golang.org/x/text's UTF-16 decoder, so a matched
// pair combines into its astral code point ("😀" is one
// U+1F600, not two halves). A lone surrogate half has no UTF-8
// representation; it decodes to U+FFFD the way any UTF-16 transcoder
// replaces it.
func decodeUTF16Units(units ...uint16) string {
	in := make([]byte, 0, len(units)*2)
	for _, u := range units {
		in = append(in, byte(u), byte(u>>8))
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, _, err := transform.Bytes(dec, in)
	if err != nil {
		return strings.Repeat("�", len(units))
	}
	return string(out)
}
