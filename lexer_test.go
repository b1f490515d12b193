// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "testing"

func collectKinds(t *testing.T, src string) []TokenKind {
	t.Helper()
	l := NewLexer(src)
	var kinds []TokenKind
	for {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if tok.Kind == TEOF {
			break
		}
		kinds = append(kinds, tok.Kind)
	}
	return kinds
}

func TestLexerPunctuationAndKeywords(t *testing.T) {
	kinds := collectKinds(t, "let x = 1 + 2;")
	want := []TokenKind{TLet, TIdentifier, TEq, TNumber, TPlus, TNumber, TSemicolon}
	if len(kinds) != len(want) {
		t.Fatalf("got %v tokens, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("token %d = %v, want %v", i, kinds[i], k)
		}
	}
}

func TestLexerContextualKeywordsAsIdentifiers(t *testing.T) {
	kinds := collectKinds(t, "let type = 1; let from = 2; let of = 3;")
	for i, k := range kinds {
		if k == TType || k == TFrom || k == TOf {
			t.Fatalf("token %d lexed as keyword %v, contextual keywords must lex as identifiers", i, k)
		}
	}
}

func TestLexerASINewlineHint(t *testing.T) {
	l := NewLexer("let x = 1\nlet y = 2")
	var sawNewlineBefore bool
	for {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if tok.Kind == TEOF {
			break
		}
		if tok.Literal == "let" && tok.HadNewlineBefore {
			sawNewlineBefore = true
		}
	}
	if !sawNewlineBefore {
		t.Fatalf("expected the second `let` token to carry HadNewlineBefore")
	}
}

func TestLexerRegexpRescanVsDivision(t *testing.T) {
	l := NewLexer("a / b")
	tok, err := l.Next()
	if err != nil || tok.Kind != TIdentifier {
		t.Fatalf("first token = %v, %v", tok, err)
	}
	slashTok, err := l.Next()
	if err != nil || slashTok.Kind != TSlash {
		t.Fatalf("expected division token, got %v, %v", slashTok, err)
	}

	l2 := NewLexer("/abc/g")
	slashStart := l2.pos1()
	re, err := l2.RescanRegexp(slashStart)
	if err != nil {
		t.Fatalf("RescanRegexp: %v", err)
	}
	if re.Kind != TRegexp {
		t.Fatalf("RescanRegexp kind = %v, want TRegexp", re.Kind)
	}
}

func TestLexerRegexpCharacterClassHidesSlash(t *testing.T) {
	l := NewLexer("/[a/b]/")
	start := l.pos1()
	tok, err := l.RescanRegexp(start)
	if err != nil {
		t.Fatalf("RescanRegexp: %v", err)
	}
	if tok.Literal != "/[a/b]/" {
		t.Fatalf("regexp literal = %q, want %q (the bracketed / must not terminate it)", tok.Literal, "/[a/b]/")
	}
}

func TestLexerCheckpointRestoreFullState(t *testing.T) {
	l := NewLexer("foo(bar, baz) => qux")
	first, err := l.Next()
	if err != nil || first.Kind != TIdentifier {
		t.Fatalf("first token: %v, %v", first, err)
	}
	cp := l.Checkpoint()

	// speculatively consume a few tokens, as the parser does when
	// trying arrow-function parameter parsing
	for i := 0; i < 3; i++ {
		if _, err := l.Next(); err != nil {
			t.Fatalf("Next(): %v", err)
		}
	}

	l.Restore(cp)
	second, err := l.Next()
	if err != nil {
		t.Fatalf("Next() after restore: %v", err)
	}
	if second.Kind != TLParen {
		t.Fatalf("token after restore = %v, want TLParen (restore must rewind every position field)", second.Kind)
	}
}

func TestLexerTemplateLiteralFragments(t *testing.T) {
	// Drive the lexer the way the parser does: Next lexes the `}` that
	// closes a substitution as TRBrace, and RescanTemplateTail then
	// scans the template text that follows it.
	l := NewLexer("`a${1}b${2}c`")
	var kinds []TokenKind
	for {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if tok.Kind == TRBrace {
			tok, err = l.RescanTemplateTail(tok.Span.Start)
			if err != nil {
				t.Fatalf("RescanTemplateTail(): %v", err)
			}
		}
		if tok.Kind == TEOF {
			break
		}
		kinds = append(kinds, tok.Kind)
	}
	want := []TokenKind{TTemplateHead, TNumber, TTemplateMiddle, TNumber, TTemplateTail}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("token %d = %v, want %v", i, kinds[i], k)
		}
	}
}

// TestLexerSurrogatePairEscapeCombines checks that two adjacent \uXXXX
// escapes forming a surrogate pair decode to one astral code point,
// while a lone half transcodes to the replacement character.
func TestLexerSurrogatePairEscapeCombines(t *testing.T) {
	l := NewLexer(`"\uD83D\uDE00"`)
	tok, err := l.Next()
	if err != nil || tok.Kind != TString {
		t.Fatalf("token = %v, %v", tok, err)
	}
	if tok.Literal != "\U0001F600" {
		t.Fatalf("literal = %q, want %q", tok.Literal, "\U0001F600")
	}

	l2 := NewLexer(`"\uD83D!"`)
	tok2, err := l2.Next()
	if err != nil || tok2.Kind != TString {
		t.Fatalf("token = %v, %v", tok2, err)
	}
	if tok2.Literal != "�!" {
		t.Fatalf("lone-half literal = %q, want %q", tok2.Literal, "�!")
	}
}

func TestLexerUnterminatedStringIsSyntaxError(t *testing.T) {
	l := NewLexer(`"unterminated`)
	if _, err := l.Next(); err == nil {
		t.Fatalf("expected an error for an unterminated string literal")
	}
}
