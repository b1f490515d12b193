// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "testing"

func parseOneStmt(t *testing.T, src string) Stmt {
	t.Helper()
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	if len(prog.Body) != 1 {
		t.Fatalf("Parse(%q) produced %d statements, want 1", src, len(prog.Body))
	}
	return prog.Body[0]
}

func TestParserArrowVsParenDisambiguation(t *testing.T) {
	stmt := parseOneStmt(t, "(a, b) => a + b;")
	expr, ok := stmt.(ExpressionStmt)
	if !ok {
		t.Fatalf("got %T, want ExpressionStmt", stmt)
	}
	if _, ok := expr.Expr.(FunctionExpr); !ok {
		t.Fatalf("got %T, want an arrow FunctionExpr", expr.Expr)
	}

	stmt2 := parseOneStmt(t, "(a, b);")
	expr2 := stmt2.(ExpressionStmt)
	if _, ok := expr2.Expr.(SequenceExpr); !ok {
		t.Fatalf("got %T, want SequenceExpr (parenthesized comma expression)", expr2.Expr)
	}
}

func TestParserForLoopFlavorDisambiguation(t *testing.T) {
	classic := parseOneStmt(t, "for (let i = 0; i < 10; i++) {}")
	if _, ok := classic.(ForStmt); !ok {
		t.Fatalf("got %T, want ForStmt", classic)
	}

	forIn := parseOneStmt(t, "for (const k in obj) {}")
	fio, ok := forIn.(ForInOfStmt)
	if !ok || fio.Kind != ForIn {
		t.Fatalf("got %T (kind %v), want ForInOfStmt{Kind: ForIn}", forIn, fio.Kind)
	}

	forOf := parseOneStmt(t, "for (const v of arr) {}")
	fio2, ok := forOf.(ForInOfStmt)
	if !ok || fio2.Kind != ForOf {
		t.Fatalf("got %T (kind %v), want ForInOfStmt{Kind: ForOf}", forOf, fio2.Kind)
	}

	forAwaitOf := parseOneStmt(t, "async function f(){ for await (const v of it) {} }")
	fd, ok := forAwaitOf.(FunctionDecl)
	if !ok {
		t.Fatalf("got %T, want FunctionDecl", forAwaitOf)
	}
	body := fd.Fn.Body
	if len(body) != 1 {
		t.Fatalf("function body has %d statements, want 1", len(body))
	}
	fio3, ok := body[0].(ForInOfStmt)
	if !ok || !fio3.IsAwait {
		t.Fatalf("got %T, want ForInOfStmt{IsAwait: true}", body[0])
	}
}

func TestParserTypeSyntaxErased(t *testing.T) {
	stmt := parseOneStmt(t, "function f(x: number, y: string): boolean { return true; }")
	fd, ok := stmt.(FunctionDecl)
	if !ok {
		t.Fatalf("got %T, want FunctionDecl", stmt)
	}
	if len(fd.Fn.Params) != 2 {
		t.Fatalf("got %d params, want 2 (type annotations must not add/remove params)", len(fd.Fn.Params))
	}
}

func TestParserPrivateNameInClass(t *testing.T) {
	stmt := parseOneStmt(t, "class C { #x = 1; get() { return this.#x; } }")
	cls, ok := stmt.(ClassDecl)
	if !ok {
		t.Fatalf("got %T, want ClassDecl", stmt)
	}
	var sawPrivateField bool
	for _, m := range cls.Class.Members {
		if id, ok := m.Key.(PrivateIdentifier); ok && id.Name == "#x" {
			sawPrivateField = true
		}
	}
	if !sawPrivateField {
		t.Fatalf("expected a private field member named #x")
	}
}

func TestParserDecoratorsOnClass(t *testing.T) {
	stmt := parseOneStmt(t, "@dec1 @dec2.inner(1) class C {}")
	cls, ok := stmt.(ClassDecl)
	if !ok {
		t.Fatalf("got %T, want ClassDecl", stmt)
	}
	if len(cls.Class.Decorators) != 2 {
		t.Fatalf("got %d decorators, want 2", len(cls.Class.Decorators))
	}
}

func TestParserStrictModeDuplicateParams(t *testing.T) {
	_, err := Parse("function f(a, a) {}")
	if err == nil {
		t.Fatalf("expected a syntax error for duplicate parameter names")
	}
}

func TestParserStrictModeEvalArgumentsBinding(t *testing.T) {
	if _, err := Parse("let eval = 1;"); err == nil {
		t.Fatalf("expected a syntax error binding `eval` as an identifier")
	}
	if _, err := Parse("let arguments = 1;"); err == nil {
		t.Fatalf("expected a syntax error binding `arguments` as an identifier")
	}
}

func TestParserModuleImportRejected(t *testing.T) {
	_, err := Parse(`import { x } from "mod";`)
	if err == nil {
		t.Fatalf("expected module import/export to be rejected with a syntax error")
	}
}

func TestParserASIAcceptsMissingSemicolon(t *testing.T) {
	prog, err := Parse("let x = 1\nlet y = 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Body) != 2 {
		t.Fatalf("got %d statements, want 2 (ASI should have split them)", len(prog.Body))
	}
}

func TestParserTryCatchFinally(t *testing.T) {
	stmt := parseOneStmt(t, "try { a(); } catch (e) { b(); } finally { c(); }")
	ts, ok := stmt.(TryStmt)
	if !ok {
		t.Fatalf("got %T, want TryStmt", stmt)
	}
	if ts.Catch == nil || ts.Finally == nil {
		t.Fatalf("expected both a catch clause and a finally block")
	}
}

func TestParserContextualKeywordAsIdentifier(t *testing.T) {
	stmt := parseOneStmt(t, "let type = 5;")
	vd, ok := stmt.(*VarDecl)
	if !ok {
		t.Fatalf("got %T, want *VarDecl", stmt)
	}
	id, ok := vd.Declarators[0].Target.(IdentifierPattern)
	if !ok || id.Name != "type" {
		t.Fatalf("expected binding named `type`, got %#v", vd.Declarators[0].Target)
	}
}
