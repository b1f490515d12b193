// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"strconv"
	"strings"
)

// Parser is a recursive-descent, Pratt-style expression parser. It
// pulls tokens from a Lexer on demand rather than pre-tokenizing,
// since regexp/template rescanning and arrow-function disambiguation
// require parser context fed back into the lexer.
type Parser struct {
	lex  *Lexer
	tok  Token
	prev Token

	inLoop      int
	inSwitch    int
	inGenerator bool
	inAsync     bool
	// noIn suppresses the `in` binary operator while parsing a
	// for-statement's init clause, so `for (x in obj)` is detected as
	// for-in rather than consumed as a relational expression.
	noIn bool
}

// Parse lexes and parses a full program.
func Parse(source string) (*Program, error) {
	p := &Parser{lex: NewLexer(source)}
	if err := p.next(); err != nil {
		return nil, err
	}
	start := p.tok.Span.Start
	var body []Stmt
	for p.tok.Kind != TEOF {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, s)
	}
	return &Program{base: base{Span{Start: start, End: p.tok.Span.End}}, Body: body}, nil
}

func (p *Parser) next() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.prev = p.tok
	p.tok = t
	return nil
}

func (p *Parser) at(k TokenKind) bool { return p.tok.Kind == k }

// atContextual reports whether the current token is the identifier lit
// in a position where it acts as a contextual keyword.
func (p *Parser) atContextual(lit string) bool {
	return p.at(TIdentifier) && p.tok.Literal == lit
}

func (p *Parser) expect(k TokenKind, what string) error {
	if p.tok.Kind != k {
		return &SyntaxError{Message: "expected " + what, Span: p.tok.Span}
	}
	return p.next()
}

// consumeSemi implements Automatic Semicolon Insertion: an explicit
// `;` is consumed; otherwise ASI fires at EOF, before `}`, or when the
// next token began on a new line.
func (p *Parser) consumeSemi() error {
	if p.at(TSemicolon) {
		return p.next()
	}
	if p.at(TRBrace) || p.at(TEOF) || p.tok.HadNewlineBefore {
		return nil
	}
	return &SyntaxError{Message: "expected ';'", Span: p.tok.Span}
}

// ---- Type-syntax skipping ----
// TypeScript type annotations, generics, and type-only declarations
// are parsed just far enough to be discarded: brackets/angle-bracket
// depth is balanced but no type AST is retained.

func (p *Parser) skipTypeAnnotationIfPresent() error {
	if !p.at(TColon) {
		return nil
	}
	if err := p.next(); err != nil {
		return err
	}
	return p.skipType()
}

func (p *Parser) skipType() error {
	depth := 0
	for {
		switch p.tok.Kind {
		case TLt, TLParen, TLBracket, TLBrace:
			depth++
		case TGt, TRParen, TRBracket, TRBrace:
			if depth == 0 {
				return nil
			}
			depth--
		case TComma, TSemicolon:
			if depth == 0 {
				return nil
			}
		case TEq:
			if depth == 0 {
				return nil
			}
		case TArrow:
			// function type `(x: T) => U`; keep consuming the return type
		case TEOF:
			return &SyntaxError{Message: "unexpected end of input in type", Span: p.tok.Span}
		}
		if err := p.next(); err != nil {
			return err
		}
		// A `{` at depth 0 opens an object type only right after a type
		// operator; after a complete type (`): boolean {`) it starts the
		// body that follows the annotation.
		afterOperator := p.prev.Kind == TPipe || p.prev.Kind == TAmp || p.prev.Kind == TArrow ||
			p.prev.Kind == TColon || p.prev.Kind == TQuestion || p.prev.Kind == TExtends
		if depth == 0 && (p.at(TSemicolon) || p.at(TComma) || p.at(TRParen) || p.at(TRBrace) || p.at(TRBracket) || p.at(TEq) || p.at(TLBrace) && (p.tok.HadNewlineBefore || !afterOperator)) {
			return nil
		}
	}
}

func (p *Parser) skipTypeParamsIfPresent() error {
	if !p.at(TLt) {
		return nil
	}
	depth := 0
	for {
		switch p.tok.Kind {
		case TLt:
			depth++
		case TGt:
			depth--
		case TRShift: // `>>` lexed as shift when closing nested generics
			depth -= 2
		}
		if err := p.next(); err != nil {
			return err
		}
		if depth <= 0 {
			return nil
		}
	}
}

func (p *Parser) skipTypeArgsIfPresent() error {
	return p.skipTypeParamsIfPresent()
}

// ---- Statements ----

func (p *Parser) parseStatement() (Stmt, error) {
	start := p.tok.Span.Start
	switch p.tok.Kind {
	case TLBrace:
		return p.parseBlock()
	case TSemicolon:
		if err := p.next(); err != nil {
			return nil, err
		}
		return EmptyStmt{base{Span{start, p.prev.Span.End}}}, nil
	case TVar, TLet, TConst:
		if p.at(TConst) && p.peekNext().Kind == TEnum {
			return p.parseEnum(true)
		}
		d, err := p.parseVarDecl()
		if err != nil {
			return nil, err
		}
		if err := p.consumeSemi(); err != nil {
			return nil, err
		}
		return d, nil
	case TFunction:
		return p.parseFunctionDecl(false)
	case TAsync:
		if p.peekIsFunctionAfterAsync() {
			if err := p.next(); err != nil {
				return nil, err
			}
			return p.parseFunctionDecl(true)
		}
		return p.parseExpressionStatement()
	case TClass:
		cls, err := p.parseClass()
		if err != nil {
			return nil, err
		}
		return ClassDecl{base{Span{start, p.prev.Span.End}}, &cls}, nil
	case TAt:
		decorators, err := p.parseDecorators()
		if err != nil {
			return nil, err
		}
		if !p.at(TClass) {
			return nil, &SyntaxError{Message: "decorators are only valid before a class declaration", Span: p.tok.Span}
		}
		cls, err := p.parseClass()
		if err != nil {
			return nil, err
		}
		cls.Decorators = append(decorators, cls.Decorators...)
		return ClassDecl{base{Span{start, p.prev.Span.End}}, &cls}, nil
	case TIf:
		return p.parseIf()
	case TFor:
		return p.parseFor()
	case TWhile:
		return p.parseWhile()
	case TDo:
		return p.parseDoWhile()
	case TReturn:
		return p.parseReturn()
	case TBreak:
		return p.parseBreakContinue(true)
	case TContinue:
		return p.parseBreakContinue(false)
	case TThrow:
		return p.parseThrow()
	case TTry:
		return p.parseTry()
	case TSwitch:
		return p.parseSwitch()
	case TEnum:
		return p.parseEnum(false)
	case TNamespace, TModule:
		return p.parseNamespace()
	case TExport:
		return p.parseExport()
	case TImport:
		return nil, &SyntaxError{Message: ErrModulesUnsupported.Error(), Span: p.tok.Span}
	case TDeclare, TInterface, TType:
		return p.parseAndDiscardTypeDecl()
	case TIdentifier:
		// Contextual keywords act as statement openers only by
		// position: the word followed by what its grammar expects.
		switch p.tok.Literal {
		case "namespace", "module":
			if nt := p.peekNext(); nt.Kind == TIdentifier && !nt.HadNewlineBefore {
				return p.parseNamespace()
			}
		case "type":
			if nt := p.peekNext(); nt.Kind == TIdentifier && !nt.HadNewlineBefore {
				return p.parseAndDiscardTypeDecl()
			}
		case "declare":
			switch p.peekNext().Kind {
			case TVar, TLet, TConst, TFunction, TClass, TEnum, TIdentifier:
				return p.parseAndDiscardTypeDecl()
			}
		}
		{
			// Labeled statement: IDENT ':' Statement.
			name := p.tok.Literal
			cp := p.lex.Checkpoint()
			savedTok, savedPrev := p.tok, p.prev
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.at(TColon) {
				if err := p.next(); err != nil {
					return nil, err
				}
				body, err := p.parseStatement()
				if err != nil {
					return nil, err
				}
				return LabeledStmt{base{Span{start, p.prev.Span.End}}, name, body}, nil
			}
			p.lex.Restore(cp)
			p.tok, p.prev = savedTok, savedPrev
		}
		return p.parseExpressionStatement()
	default:
		return p.parseExpressionStatement()
	}
}

// peekNext returns the token after the current one without consuming
// anything.
func (p *Parser) peekNext() Token {
	cp := p.lex.Checkpoint()
	savedTok, savedPrev := p.tok, p.prev
	_ = p.next()
	t := p.tok
	p.lex.Restore(cp)
	p.tok, p.prev = savedTok, savedPrev
	return t
}

func (p *Parser) peekIsFunctionAfterAsync() bool {
	nt := p.peekNext()
	return nt.Kind == TFunction && !nt.HadNewlineBefore
}

func (p *Parser) parseAndDiscardTypeDecl() (Stmt, error) {
	start := p.tok.Span.Start
	for !p.at(TSemicolon) && !p.at(TEOF) && !(p.tok.HadNewlineBefore && p.prev.Kind != TEOF) {
		if p.at(TLBrace) {
			if err := p.skipBalancedBraces(); err != nil {
				return nil, err
			}
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.consumeSemi(); err != nil {
		return nil, err
	}
	return EmptyStmt{base{Span{start, p.prev.Span.End}}}, nil
}

func (p *Parser) skipBalancedBraces() error {
	depth := 0
	for {
		if p.at(TLBrace) {
			depth++
		} else if p.at(TRBrace) {
			depth--
		}
		if err := p.next(); err != nil {
			return err
		}
		if depth == 0 {
			return nil
		}
	}
}

func (p *Parser) parseBlock() (*BlockStmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TLBrace, "'{'"); err != nil {
		return nil, err
	}
	var body []Stmt
	for !p.at(TRBrace) && !p.at(TEOF) {
		s, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, s)
	}
	end := p.tok.Span.End
	if err := p.expect(TRBrace, "'}'"); err != nil {
		return nil, err
	}
	return &BlockStmt{base{Span{start, end}}, body}, nil
}

func declKindOf(k TokenKind) DeclKind {
	switch k {
	case TLet:
		return DeclLet
	case TConst:
		return DeclConst
	default:
		return DeclVar
	}
}

func (p *Parser) parseVarDecl() (*VarDecl, error) {
	start := p.tok.Span.Start
	kind := declKindOf(p.tok.Kind)
	if err := p.next(); err != nil {
		return nil, err
	}
	var decls []VarDeclarator
	for {
		target, err := p.parseBindingTarget()
		if err != nil {
			return nil, err
		}
		if err := p.skipTypeAnnotationIfPresent(); err != nil {
			return nil, err
		}
		var init Expr
		if p.at(TEq) {
			if err := p.next(); err != nil {
				return nil, err
			}
			init, err = p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
		}
		decls = append(decls, VarDeclarator{Target: target, Init: init})
		if !p.at(TComma) {
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	return &VarDecl{base{Span{start, p.prev.Span.End}}, kind, decls}, nil
}

// parseBindingTarget parses a binding pattern: identifier, array
// pattern, or object pattern, each optionally followed by a default
// via AssignmentPattern at the call site (function params) or inline
// (var declarators handle `= init` separately, not as a pattern
// default, matching normal declarator grammar).
func (p *Parser) parseBindingTarget() (Pattern, error) {
	start := p.tok.Span.Start
	switch p.tok.Kind {
	case TLBracket:
		return p.parseArrayPattern()
	case TLBrace:
		return p.parseObjectPattern()
	default:
		if !p.at(TIdentifier) && !p.at(TAsync) && !p.at(TYield) && !p.at(TAwait) && !p.at(TStatic) {
			return nil, &SyntaxError{Message: "expected binding name", Span: p.tok.Span}
		}
		name := p.tok.Literal
		if name == "eval" || name == "arguments" {
			return nil, &SyntaxError{Message: "cannot bind '" + name + "' in strict mode", Span: p.tok.Span}
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return IdentifierPattern{base{Span{start, p.prev.Span.End}}, name}, nil
	}
}

// patternNames walks every binding name a pattern introduces, in
// source order.
func patternNames(pt Pattern, visit func(name string, sp Span) error) error {
	switch t := pt.(type) {
	case IdentifierPattern:
		return visit(t.Name, t.Span)
	case ArrayPattern:
		for _, el := range t.Elements {
			if el == nil {
				continue
			}
			if err := patternNames(el, visit); err != nil {
				return err
			}
		}
		if t.Rest != nil {
			return patternNames(t.Rest, visit)
		}
	case ObjectPattern:
		for _, pr := range t.Props {
			if pr.Value == nil {
				continue
			}
			if err := patternNames(pr.Value, visit); err != nil {
				return err
			}
		}
		if t.Rest != nil {
			return patternNames(t.Rest, visit)
		}
	case AssignmentPattern:
		return patternNames(t.Target, visit)
	case RestElement:
		return patternNames(t.Arg, visit)
	}
	return nil
}

func (p *Parser) parseArrayPattern() (Pattern, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	var elems []Pattern
	var rest Pattern
	for !p.at(TRBracket) {
		if p.at(TComma) {
			elems = append(elems, nil)
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		if p.at(TDotDotDot) {
			if err := p.next(); err != nil {
				return nil, err
			}
			r, err := p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			rest = r
			break
		}
		el, err := p.parseBindingTarget()
		if err != nil {
			return nil, err
		}
		if err := p.skipTypeAnnotationIfPresent(); err != nil {
			return nil, err
		}
		if p.at(TEq) {
			eqStart := p.tok.Span.Start
			if err := p.next(); err != nil {
				return nil, err
			}
			def, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			el = AssignmentPattern{base{Span{eqStart, p.prev.Span.End}}, el, def}
		}
		elems = append(elems, el)
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	end := p.tok.Span.End
	if err := p.expect(TRBracket, "']'"); err != nil {
		return nil, err
	}
	return ArrayPattern{base{Span{start, end}}, elems, rest}, nil
}

func (p *Parser) parseObjectPattern() (Pattern, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	var props []ObjectPatternProp
	var rest Pattern
	for !p.at(TRBrace) {
		if p.at(TDotDotDot) {
			if err := p.next(); err != nil {
				return nil, err
			}
			r, err := p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			rest = r
			break
		}
		computed := false
		var key Expr
		keyStart := p.tok.Span.Start
		if p.at(TLBracket) {
			computed = true
			if err := p.next(); err != nil {
				return nil, err
			}
			k, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			key = k
			if err := p.expect(TRBracket, "']'"); err != nil {
				return nil, err
			}
		} else if p.at(TString) {
			key = StringLiteral{base{p.tok.Span}, p.tok.Literal}
			if err := p.next(); err != nil {
				return nil, err
			}
		} else if p.at(TNumber) {
			n, _ := strconv.ParseFloat(p.tok.Literal, 64)
			key = NumberLiteral{base{p.tok.Span}, n}
			if err := p.next(); err != nil {
				return nil, err
			}
		} else {
			key = Identifier{base{p.tok.Span}, p.tok.Literal}
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		var value Pattern
		shorthand := false
		if p.at(TColon) {
			if err := p.next(); err != nil {
				return nil, err
			}
			v, err := p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			value = v
		} else {
			shorthand = true
			if id, ok := key.(Identifier); ok {
				value = IdentifierPattern{base{id.Span}, id.Name}
			}
		}
		if p.at(TEq) {
			eqStart := p.tok.Span.Start
			if err := p.next(); err != nil {
				return nil, err
			}
			def, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			value = AssignmentPattern{base{Span{eqStart, p.prev.Span.End}}, value, def}
		}
		props = append(props, ObjectPatternProp{Key: key, Computed: computed, Value: value, Shorthand: shorthand})
		_ = keyStart
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	end := p.tok.Span.End
	if err := p.expect(TRBrace, "'}'"); err != nil {
		return nil, err
	}
	return ObjectPattern{base{Span{start, end}}, props, rest}, nil
}

func (p *Parser) parseFunctionDecl(isAsync bool) (Stmt, error) {
	start := p.prev.Span.Start
	if isAsync {
		start = p.tok.Span.Start
	}
	if err := p.expect(TFunction, "'function'"); err != nil {
		return nil, err
	}
	isGen := false
	if p.at(TStar) {
		isGen = true
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	name := ""
	if p.at(TIdentifier) {
		name = p.tok.Literal
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	fn, err := p.parseFunctionRest(name, isAsync, isGen, false)
	if err != nil {
		return nil, err
	}
	fn.Span = Span{start, p.prev.Span.End}
	return FunctionDecl{base{fn.Span}, fn}, nil
}

// parseFunctionRest parses `(params) [: ReturnType] { body }` after the
// `function`/`*`/name tokens (or for arrows, after the arrow has been
// detected) have already been consumed by the caller.
func (p *Parser) parseFunctionRest(name string, isAsync, isGen, isArrow bool) (*FunctionExpr, error) {
	if err := p.skipTypeParamsIfPresent(); err != nil {
		return nil, err
	}
	params, err := p.parseParams()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeAnnotationIfPresent(); err != nil {
		return nil, err
	}
	savedGen, savedAsync := p.inGenerator, p.inAsync
	p.inGenerator, p.inAsync = isGen, isAsync
	block, err := p.parseBlock()
	p.inGenerator, p.inAsync = savedGen, savedAsync
	if err != nil {
		return nil, err
	}
	return &FunctionExpr{
		Name: name, Params: params, Body: block.Body,
		IsArrow: isArrow, IsAsync: isAsync, IsGenerator: isGen,
	}, nil
}

func (p *Parser) parseParams() ([]Param, error) {
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}
	var params []Param
	for !p.at(TRParen) {
		if p.at(TDotDotDot) {
			start := p.tok.Span.Start
			if err := p.next(); err != nil {
				return nil, err
			}
			target, err := p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			if err := p.skipTypeAnnotationIfPresent(); err != nil {
				return nil, err
			}
			params = append(params, Param{Pattern: RestElement{base{Span{start, p.prev.Span.End}}, target}})
			break
		}
		target, err := p.parseBindingTarget()
		if err != nil {
			return nil, err
		}
		hadType := p.at(TColon)
		if err := p.skipTypeAnnotationIfPresent(); err != nil {
			return nil, err
		}
		if p.at(TEq) {
			eqStart := p.tok.Span.Start
			if err := p.next(); err != nil {
				return nil, err
			}
			def, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			target = AssignmentPattern{base{Span{eqStart, p.prev.Span.End}}, target, def}
		}
		params = append(params, Param{Pattern: target, TypeAnnotationErased: hadType})
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.expect(TRParen, "')'"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(params))
	for _, prm := range params {
		if err := patternNames(prm.Pattern, func(name string, sp Span) error {
			if seen[name] {
				return &SyntaxError{Message: "duplicate parameter name '" + name + "'", Span: sp}
			}
			seen[name] = true
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return params, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TIf, "'if'"); err != nil {
		return nil, err
	}
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}
	test, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TRParen, "')'"); err != nil {
		return nil, err
	}
	cons, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	var alt Stmt
	if p.at(TElse) {
		if err := p.next(); err != nil {
			return nil, err
		}
		alt, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}
	return IfStmt{base{Span{start, p.prev.Span.End}}, test, cons, alt}, nil
}

// parseFor disambiguates the classic C-style for from for-in/for-of by
// parsing the initializer clause first, then checking for `in`/`of`
func (p *Parser) parseFor() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TFor, "'for'"); err != nil {
		return nil, err
	}
	isAwait := false
	if p.at(TAwait) {
		isAwait = true
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}

	var init Stmt
	if p.at(TSemicolon) {
		init = nil
	} else if p.at(TVar) || p.at(TLet) || p.at(TConst) {
		declStart := p.tok.Span.Start
		kind := declKindOf(p.tok.Kind)
		if err := p.next(); err != nil {
			return nil, err
		}
		target, err := p.parseBindingTarget()
		if err != nil {
			return nil, err
		}
		if err := p.skipTypeAnnotationIfPresent(); err != nil {
			return nil, err
		}
		if p.at(TIn) || (p.at(TIdentifier) && p.tok.Literal == "of") {
			kindFor := ForIn
			if p.tok.Literal == "of" {
				kindFor = ForOf
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			right, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TRParen, "')'"); err != nil {
				return nil, err
			}
			body, err := p.parseLoopBody()
			if err != nil {
				return nil, err
			}
			left := VarDecl{base{Span{declStart, declStart}}, kind, []VarDeclarator{{Target: target}}}
			return ForInOfStmt{base{Span{start, p.prev.Span.End}}, kindFor, left, right, body, isAwait}, nil
		}
		var initExpr Expr
		if p.at(TEq) {
			if err := p.next(); err != nil {
				return nil, err
			}
			initExpr, err = p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
		}
		decls := []VarDeclarator{{Target: target, Init: initExpr}}
		for p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
			t2, err := p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			var i2 Expr
			if p.at(TEq) {
				if err := p.next(); err != nil {
					return nil, err
				}
				i2, err = p.parseAssignExpr()
				if err != nil {
					return nil, err
				}
			}
			decls = append(decls, VarDeclarator{Target: t2, Init: i2})
		}
		init = &VarDecl{base{Span{declStart, p.prev.Span.End}}, kind, decls}
	} else {
		exprStart := p.tok.Span.Start
		e, err := p.parseExprNoIn()
		if err != nil {
			return nil, err
		}
		if p.at(TIn) || (p.at(TIdentifier) && p.tok.Literal == "of") {
			kindFor := ForIn
			if p.tok.Literal == "of" {
				kindFor = ForOf
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			right, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TRParen, "')'"); err != nil {
				return nil, err
			}
			body, err := p.parseLoopBody()
			if err != nil {
				return nil, err
			}
			left := ExpressionStmt{base{e.NodeSpan()}, e}
			return ForInOfStmt{base{Span{start, p.prev.Span.End}}, kindFor, left, right, body, isAwait}, nil
		}
		init = ExpressionStmt{base{Span{exprStart, p.prev.Span.End}}, e}
	}

	if err := p.expect(TSemicolon, "';'"); err != nil {
		return nil, err
	}
	var test Expr
	if !p.at(TSemicolon) {
		t, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		test = t
	}
	if err := p.expect(TSemicolon, "';'"); err != nil {
		return nil, err
	}
	var update Expr
	if !p.at(TRParen) {
		u, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		update = u
	}
	if err := p.expect(TRParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseLoopBody()
	if err != nil {
		return nil, err
	}
	return ForStmt{base{Span{start, p.prev.Span.End}}, init, test, update, body}, nil
}

// parseExprNoIn parses an expression in the for-init position where a
// bare `in` must be left for the caller to detect for-in, rather than
// consumed as the `in` binary operator. Parenthesized subexpressions
// re-enable the operator.
func (p *Parser) parseExprNoIn() (Expr, error) {
	p.noIn = true
	e, err := p.parseAssignExpr()
	p.noIn = false
	return e, err
}

func (p *Parser) parseLoopBody() (Stmt, error) {
	p.inLoop++
	body, err := p.parseStatement()
	p.inLoop--
	return body, err
}

func (p *Parser) parseWhile() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TWhile, "'while'"); err != nil {
		return nil, err
	}
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}
	test, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TRParen, "')'"); err != nil {
		return nil, err
	}
	body, err := p.parseLoopBody()
	if err != nil {
		return nil, err
	}
	return WhileStmt{base{Span{start, p.prev.Span.End}}, test, body}, nil
}

func (p *Parser) parseDoWhile() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TDo, "'do'"); err != nil {
		return nil, err
	}
	body, err := p.parseLoopBody()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TWhile, "'while'"); err != nil {
		return nil, err
	}
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}
	test, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TRParen, "')'"); err != nil {
		return nil, err
	}
	if err := p.consumeSemi(); err != nil {
		return nil, err
	}
	return DoWhileStmt{base{Span{start, p.prev.Span.End}}, body, test}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.at(TSemicolon) || p.at(TRBrace) || p.at(TEOF) || p.tok.HadNewlineBefore {
		if err := p.consumeSemi(); err != nil {
			return nil, err
		}
		return ReturnStmt{base{Span{start, p.prev.Span.End}}, nil}, nil
	}
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consumeSemi(); err != nil {
		return nil, err
	}
	return ReturnStmt{base{Span{start, p.prev.Span.End}}, arg}, nil
}

func (p *Parser) parseBreakContinue(isBreak bool) (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	label := ""
	if p.at(TIdentifier) && !p.tok.HadNewlineBefore {
		label = p.tok.Literal
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.consumeSemi(); err != nil {
		return nil, err
	}
	if isBreak {
		return BreakStmt{base{Span{start, p.prev.Span.End}}, label}, nil
	}
	return ContinueStmt{base{Span{start, p.prev.Span.End}}, label}, nil
}

func (p *Parser) parseThrow() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.HadNewlineBefore {
		return nil, &SyntaxError{Message: "no line break allowed after 'throw'", Span: p.tok.Span}
	}
	arg, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consumeSemi(); err != nil {
		return nil, err
	}
	return ThrowStmt{base{Span{start, p.prev.Span.End}}, arg}, nil
}

func (p *Parser) parseTry() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TTry, "'try'"); err != nil {
		return nil, err
	}
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var catch *CatchClause
	if p.at(TCatch) {
		if err := p.next(); err != nil {
			return nil, err
		}
		var param Pattern
		if p.at(TLParen) {
			if err := p.next(); err != nil {
				return nil, err
			}
			param, err = p.parseBindingTarget()
			if err != nil {
				return nil, err
			}
			if err := p.skipTypeAnnotationIfPresent(); err != nil {
				return nil, err
			}
			if err := p.expect(TRParen, "')'"); err != nil {
				return nil, err
			}
		}
		cb, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		catch = &CatchClause{Param: param, Body: cb}
	}
	var finally *BlockStmt
	if p.at(TFinally) {
		if err := p.next(); err != nil {
			return nil, err
		}
		finally, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	if catch == nil && finally == nil {
		return nil, &SyntaxError{Message: "missing catch or finally after try", Span: p.tok.Span}
	}
	return TryStmt{base{Span{start, p.prev.Span.End}}, block, catch, finally}, nil
}

func (p *Parser) parseSwitch() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.expect(TSwitch, "'switch'"); err != nil {
		return nil, err
	}
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}
	disc, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TRParen, "')'"); err != nil {
		return nil, err
	}
	if err := p.expect(TLBrace, "'{'"); err != nil {
		return nil, err
	}
	p.inSwitch++
	var cases []SwitchCase
	for !p.at(TRBrace) {
		var test Expr
		if p.at(TCase) {
			if err := p.next(); err != nil {
				p.inSwitch--
				return nil, err
			}
			test, err = p.parseExpr()
			if err != nil {
				p.inSwitch--
				return nil, err
			}
		} else if err := p.expect(TDefault, "'case' or 'default'"); err != nil {
			p.inSwitch--
			return nil, err
		}
		if err := p.expect(TColon, "':'"); err != nil {
			p.inSwitch--
			return nil, err
		}
		var body []Stmt
		for !p.at(TCase) && !p.at(TDefault) && !p.at(TRBrace) {
			s, err := p.parseStatement()
			if err != nil {
				p.inSwitch--
				return nil, err
			}
			body = append(body, s)
		}
		cases = append(cases, SwitchCase{Test: test, Body: body})
	}
	p.inSwitch--
	end := p.tok.Span.End
	if err := p.expect(TRBrace, "'}'"); err != nil {
		return nil, err
	}
	return SwitchStmt{base{Span{start, end}}, disc, cases}, nil
}

func (p *Parser) parseEnum(isConst bool) (Stmt, error) {
	start := p.tok.Span.Start
	if p.at(TConst) {
		isConst = true
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if err := p.expect(TEnum, "'enum'"); err != nil {
		return nil, err
	}
	name := p.tok.Literal
	if err := p.expect(TIdentifier, "enum name"); err != nil {
		return nil, err
	}
	if err := p.expect(TLBrace, "'{'"); err != nil {
		return nil, err
	}
	var members []EnumMember
	for !p.at(TRBrace) {
		memberName := p.tok.Literal
		if err := p.next(); err != nil {
			return nil, err
		}
		var init Expr
		if p.at(TEq) {
			if err := p.next(); err != nil {
				return nil, err
			}
			v, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			init = v
		}
		members = append(members, EnumMember{Name: memberName, Init: init})
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	end := p.tok.Span.End
	if err := p.expect(TRBrace, "'}'"); err != nil {
		return nil, err
	}
	return EnumDecl{base{Span{start, end}}, name, isConst, members}, nil
}

func (p *Parser) parseNamespace() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	name := p.tok.Literal
	if err := p.expect(TIdentifier, "namespace name"); err != nil {
		return nil, err
	}
	for p.at(TDot) {
		if err := p.next(); err != nil {
			return nil, err
		}
		name += "." + p.tok.Literal
		if err := p.expect(TIdentifier, "namespace name segment"); err != nil {
			return nil, err
		}
	}
	block, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return NamespaceDecl{base{Span{start, p.prev.Span.End}}, name, block.Body}, nil
}

// parseExport handles `export <decl>` (retained, namespace-scoped) and
// rejects module-form export (`export default`, `export {..} from`,
// bare `export {..}`) which requires a module loader this engine does
// not implement.
func (p *Parser) parseExport() (Stmt, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.at(TLBrace) || p.at(TDefault) || p.at(TStar) {
		return nil, &SyntaxError{Message: ErrModulesUnsupported.Error(), Span: p.tok.Span}
	}
	decl, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return ExportStmt{base{Span{start, p.prev.Span.End}}, decl}, nil
}

func (p *Parser) parseExpressionStatement() (Stmt, error) {
	start := p.tok.Span.Start
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.consumeSemi(); err != nil {
		return nil, err
	}
	return ExpressionStmt{base{Span{start, p.prev.Span.End}}, e}, nil
}

// ---- Expressions (Pratt parser) ----

func (p *Parser) parseExpr() (Expr, error) {
	start := p.tok.Span.Start
	first, err := p.parseAssignExpr()
	if err != nil {
		return nil, err
	}
	if !p.at(TComma) {
		return first, nil
	}
	exprs := []Expr{first}
	for p.at(TComma) {
		if err := p.next(); err != nil {
			return nil, err
		}
		e, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return SequenceExpr{base{Span{start, p.prev.Span.End}}, exprs}, nil
}

var assignOps = map[TokenKind]bool{
	TEq: true, TPlusEq: true, TMinusEq: true, TStarEq: true, TStarStarEq: true,
	TSlashEq: true, TPercentEq: true, TAmpEq: true, TPipeEq: true, TCaretEq: true,
	TLShiftEq: true, TRShiftEq: true, TURShiftEq: true, TAmpAmpEq: true,
	TPipePipeEq: true, TQuestionQuestionEq: true,
}

func (p *Parser) parseAssignExpr() (Expr, error) {
	if arrow, ok, err := p.tryParseArrow(); err != nil {
		return nil, err
	} else if ok {
		return arrow, nil
	}
	if p.at(TYield) && p.inGenerator {
		return p.parseYield()
	}

	start := p.tok.Span.Start
	left, err := p.parseConditional()
	if err != nil {
		return nil, err
	}
	if assignOps[p.tok.Kind] {
		op := p.tok.Kind
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		target := left
		if arr, ok := left.(ArrayLiteral); ok {
			pat, err := arrayLiteralToPattern(arr)
			if err == nil {
				target = PatternExpr{base{arr.Span}, pat}
			}
		} else if obj, ok := left.(ObjectLiteral); ok {
			pat, err := objectLiteralToPattern(obj)
			if err == nil {
				target = PatternExpr{base{obj.Span}, pat}
			}
		}
		return AssignmentExpr{base{Span{start, p.prev.Span.End}}, op, target, right}, nil
	}
	return left, nil
}

func (p *Parser) parseYield() (Expr, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	delegate := false
	if p.at(TStar) {
		delegate = true
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	var arg Expr
	if !p.at(TSemicolon) && !p.at(TRBrace) && !p.at(TRParen) && !p.at(TRBracket) &&
		!p.at(TComma) && !p.at(TColon) && !p.at(TEOF) && !p.tok.HadNewlineBefore {
		a, err := p.parseAssignExpr()
		if err != nil {
			return nil, err
		}
		arg = a
	}
	return YieldExpr{base{Span{start, p.prev.Span.End}}, arg, delegate}, nil
}

// tryParseArrow speculatively attempts to parse an arrow function
// head; on failure it restores the lexer/parser to the checkpoint so
// the caller can fall through to normal expression parsing.
func (p *Parser) tryParseArrow() (Expr, bool, error) {
	isAsync := false
	if p.at(TAsync) && !p.peekAsyncArrowBoundary() {
		return nil, false, nil
	}
	if !p.at(TLParen) && !p.at(TIdentifier) && !(p.at(TAsync)) {
		return nil, false, nil
	}
	cp := p.lex.Checkpoint()
	savedTok, savedPrev := p.tok, p.prev

	start := p.tok.Span.Start
	if p.at(TAsync) {
		isAsync = true
		if err := p.next(); err != nil {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
		if p.tok.HadNewlineBefore {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
	}

	var params []Param
	if p.at(TIdentifier) {
		name := p.tok.Literal
		if err := p.next(); err != nil {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
		if !p.at(TArrow) {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
		params = []Param{{Pattern: IdentifierPattern{base{}, name}}}
	} else if p.at(TLParen) {
		pr, err := p.tryParseParamsForArrow()
		if err != nil {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
		if err := p.skipTypeAnnotationIfPresent(); err != nil {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
		if !p.at(TArrow) {
			p.restoreArrowAttempt(cp, savedTok, savedPrev)
			return nil, false, nil
		}
		params = pr
	} else {
		p.restoreArrowAttempt(cp, savedTok, savedPrev)
		return nil, false, nil
	}

	if err := p.next(); err != nil { // consume '=>'
		return nil, false, err
	}
	savedGen, savedAsync := p.inGenerator, p.inAsync
	p.inGenerator, p.inAsync = false, isAsync
	var body []Stmt
	exprBody := false
	if p.at(TLBrace) {
		blk, err := p.parseBlock()
		p.inGenerator, p.inAsync = savedGen, savedAsync
		if err != nil {
			return nil, false, err
		}
		body = blk.Body
	} else {
		e, err := p.parseAssignExpr()
		p.inGenerator, p.inAsync = savedGen, savedAsync
		if err != nil {
			return nil, false, err
		}
		body = []Stmt{ReturnStmt{base{e.NodeSpan()}, e}}
		exprBody = true
	}
	fn := &FunctionExpr{Params: params, Body: body, IsArrow: true, IsAsync: isAsync, ExprBody: exprBody,
		base: base{Span{start, p.prev.Span.End}}}
	return *fn, true, nil
}

func (p *Parser) peekAsyncArrowBoundary() bool {
	nt := p.peekNext()
	return (nt.Kind == TLParen || nt.Kind == TIdentifier) && !nt.HadNewlineBefore
}

func (p *Parser) restoreArrowAttempt(cp checkpoint, tok, prev Token) {
	p.lex.Restore(cp)
	p.tok = tok
	p.prev = prev
}

func (p *Parser) tryParseParamsForArrow() ([]Param, error) {
	return p.parseParams()
}

func (p *Parser) parseConditional() (Expr, error) {
	start := p.tok.Span.Start
	test, err := p.parseNullish()
	if err != nil {
		return nil, err
	}
	if !p.at(TQuestion) {
		return test, nil
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	cons, err := p.parseAssignExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TColon, "':'"); err != nil {
		return nil, err
	}
	alt, err := p.parseAssignExpr()
	if err != nil {
		return nil, err
	}
	return ConditionalExpr{base{Span{start, p.prev.Span.End}}, test, cons, alt}, nil
}

func (p *Parser) parseNullish() (Expr, error) {
	return p.parseLogicalBinOp([]TokenKind{TQuestionQuestion}, p.parseLogicalOr)
}
func (p *Parser) parseLogicalOr() (Expr, error) {
	return p.parseLogicalBinOp([]TokenKind{TPipePipe}, p.parseLogicalAnd)
}
func (p *Parser) parseLogicalAnd() (Expr, error) {
	return p.parseLogicalBinOp([]TokenKind{TAmpAmp}, p.parseBitOr)
}

func (p *Parser) parseLogicalBinOp(ops []TokenKind, next func() (Expr, error)) (Expr, error) {
	start := p.tok.Span.Start
	left, err := next()
	if err != nil {
		return nil, err
	}
	for containsKind(ops, p.tok.Kind) {
		op := p.tok.Kind
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = LogicalExpr{base{Span{start, p.prev.Span.End}}, op, left, right}
	}
	return left, nil
}

func containsKind(ks []TokenKind, k TokenKind) bool {
	for _, x := range ks {
		if x == k {
			return true
		}
	}
	return false
}

func (p *Parser) parseBinOp(ops []TokenKind, next func() (Expr, error)) (Expr, error) {
	start := p.tok.Span.Start
	left, err := next()
	if err != nil {
		return nil, err
	}
	for containsKind(ops, p.tok.Kind) {
		op := p.tok.Kind
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{base{Span{start, p.prev.Span.End}}, op, left, right}
	}
	return left, nil
}

func (p *Parser) parseBitOr() (Expr, error) {
	return p.parseBinOp([]TokenKind{TPipe}, p.parseBitXor)
}
func (p *Parser) parseBitXor() (Expr, error) {
	return p.parseBinOp([]TokenKind{TCaret}, p.parseBitAnd)
}
func (p *Parser) parseBitAnd() (Expr, error) {
	return p.parseBinOp([]TokenKind{TAmp}, p.parseEquality)
}
func (p *Parser) parseEquality() (Expr, error) {
	return p.parseBinOp([]TokenKind{TEqEq, TBangEq, TEqEqEq, TBangEqEq}, p.parseRelational)
}
func (p *Parser) parseRelational() (Expr, error) {
	ops := []TokenKind{TLt, TGt, TLtEq, TGtEq, TInstanceof, TIn}
	if p.noIn {
		ops = ops[:len(ops)-1]
	}
	e, err := p.parseBinOp(ops, p.parseShift)
	if err != nil {
		return nil, err
	}
	// `expr as T` / `expr satisfies T`: the assertion erases to its
	// operand.
	for (p.atContextual("as") || p.atContextual("satisfies")) && !p.tok.HadNewlineBefore {
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.skipType(); err != nil {
			return nil, err
		}
	}
	return e, nil
}
func (p *Parser) parseShift() (Expr, error) {
	return p.parseBinOp([]TokenKind{TLShift, TRShift, TURShift}, p.parseAdditive)
}
func (p *Parser) parseAdditive() (Expr, error) {
	return p.parseBinOp([]TokenKind{TPlus, TMinus}, p.parseMultiplicative)
}
func (p *Parser) parseMultiplicative() (Expr, error) {
	return p.parseBinOp([]TokenKind{TStar, TSlash, TPercent}, p.parseExponent)
}

// parseExponent handles `**`, which is right-associative unlike the
// other binary operators.
func (p *Parser) parseExponent() (Expr, error) {
	start := p.tok.Span.Start
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.at(TStarStar) {
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseExponent()
		if err != nil {
			return nil, err
		}
		return BinaryExpr{base{Span{start, p.prev.Span.End}}, TStarStar, left, right}, nil
	}
	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	start := p.tok.Span.Start
	switch p.tok.Kind {
	case TPlus, TMinus, TBang, TTilde, TTypeof, TVoid, TDelete:
		k := p.tok.Kind
		if err := p.next(); err != nil {
			return nil, err
		}
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if k == TDelete {
			if _, ok := arg.(Identifier); ok {
				return nil, &SyntaxError{Message: "cannot delete an unqualified identifier in strict mode", Span: Span{start, p.prev.Span.End}}
			}
		}
		op := map[TokenKind]UnaryOp{
			TPlus: UnaryPlus, TMinus: UnaryMinus, TBang: UnaryNot, TTilde: UnaryBitNot,
			TTypeof: UnaryTypeof, TVoid: UnaryVoid, TDelete: UnaryDelete,
		}[k]
		return UnaryExpr{base{Span{start, p.prev.Span.End}}, op, arg}, nil
	case TPlusPlus, TMinusMinus:
		k := p.tok.Kind
		if err := p.next(); err != nil {
			return nil, err
		}
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UpdateExpr{base{Span{start, p.prev.Span.End}}, k, arg, true}, nil
	case TAwait:
		if err := p.next(); err != nil {
			return nil, err
		}
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return AwaitExpr{base{Span{start, p.prev.Span.End}}, arg}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	start := p.tok.Span.Start
	e, err := p.parseCallExpr()
	if err != nil {
		return nil, err
	}
	if (p.at(TPlusPlus) || p.at(TMinusMinus)) && !p.tok.HadNewlineBefore {
		k := p.tok.Kind
		if err := p.next(); err != nil {
			return nil, err
		}
		return UpdateExpr{base{Span{start, p.prev.Span.End}}, k, e, false}, nil
	}
	return e, nil
}

func (p *Parser) parseCallExpr() (Expr, error) {
	start := p.tok.Span.Start
	var e Expr
	var err error
	if p.at(TNew) {
		e, err = p.parseNewExpr()
	} else {
		e, err = p.parsePrimary()
	}
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at(TDot):
			if err := p.next(); err != nil {
				return nil, err
			}
			var prop Expr
			if p.at(TPrivateIdentifier) {
				prop = PrivateIdentifier{base{p.tok.Span}, p.tok.Literal}
			} else {
				prop = Identifier{base{p.tok.Span}, p.tok.Literal}
			}
			if err := p.next(); err != nil {
				return nil, err
			}
			e = MemberExpr{base{Span{start, p.prev.Span.End}}, e, prop, false, false}
		case p.at(TQuestionDot):
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.at(TLParen) {
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				e = CallExpr{base{Span{start, p.prev.Span.End}}, e, args, true}
				continue
			}
			if p.at(TLBracket) {
				if err := p.next(); err != nil {
					return nil, err
				}
				idx, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				if err := p.expect(TRBracket, "']'"); err != nil {
					return nil, err
				}
				e = MemberExpr{base{Span{start, p.prev.Span.End}}, e, idx, true, true}
				continue
			}
			prop := Identifier{base{p.tok.Span}, p.tok.Literal}
			if err := p.next(); err != nil {
				return nil, err
			}
			e = MemberExpr{base{Span{start, p.prev.Span.End}}, e, prop, false, true}
		case p.at(TLBracket):
			if err := p.next(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TRBracket, "']'"); err != nil {
				return nil, err
			}
			e = MemberExpr{base{Span{start, p.prev.Span.End}}, e, idx, true, false}
		case p.at(TLParen):
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			e = CallExpr{base{Span{start, p.prev.Span.End}}, e, args, false}
		case p.at(TTemplateHead) || p.at(TTemplateNoSub):
			tmpl, err := p.parseTemplateLiteral()
			if err != nil {
				return nil, err
			}
			e = TaggedTemplateExpr{base{Span{start, p.prev.Span.End}}, e, tmpl}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parseNewExpr() (Expr, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.at(TDot) { // new.target
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.expect(TIdentifier, "'target'"); err != nil {
			return nil, err
		}
		return Identifier{base{Span{start, p.prev.Span.End}}, "new.target"}, nil
	}
	var callee Expr
	var err error
	if p.at(TNew) {
		callee, err = p.parseNewExpr()
	} else {
		callee, err = p.parsePrimary()
	}
	if err != nil {
		return nil, err
	}
	for p.at(TDot) || p.at(TLBracket) {
		if p.at(TDot) {
			if err := p.next(); err != nil {
				return nil, err
			}
			prop := Identifier{base{p.tok.Span}, p.tok.Literal}
			if err := p.next(); err != nil {
				return nil, err
			}
			callee = MemberExpr{base{Span{start, p.prev.Span.End}}, callee, prop, false, false}
		} else {
			if err := p.next(); err != nil {
				return nil, err
			}
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(TRBracket, "']'"); err != nil {
				return nil, err
			}
			callee = MemberExpr{base{Span{start, p.prev.Span.End}}, callee, idx, true, false}
		}
	}
	var args []CallArg
	if p.at(TLParen) {
		a, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		args = a
	}
	return NewExpr{base{Span{start, p.prev.Span.End}}, callee, args}, nil
}

func (p *Parser) parseArgs() ([]CallArg, error) {
	if err := p.expect(TLParen, "'('"); err != nil {
		return nil, err
	}
	var args []CallArg
	for !p.at(TRParen) {
		if p.at(TDotDotDot) {
			if err := p.next(); err != nil {
				return nil, err
			}
			e, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, CallArg{Expr: e, Spread: true})
		} else {
			e, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, CallArg{Expr: e})
		}
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	return args, p.expect(TRParen, "')'")
}

func (p *Parser) parsePrimary() (Expr, error) {
	start := p.tok.Span.Start
	switch p.tok.Kind {
	case TNumber:
		n, err := parseNumberLiteral(p.tok.Literal)
		if err != nil {
			return nil, &SyntaxError{Message: "invalid number literal", Span: p.tok.Span}
		}
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return NumberLiteral{base{sp}, n}, nil
	case TString:
		sp, lit := p.tok.Span, p.tok.Literal
		if err := p.next(); err != nil {
			return nil, err
		}
		return StringLiteral{base{sp}, lit}, nil
	case TTrue, TFalse:
		v := p.at(TTrue)
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return BoolLiteral{base{sp}, v}, nil
	case TNull:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return NullLiteral{base{sp}}, nil
	case TUndefined:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return UndefinedLiteral{base{sp}}, nil
	case TThis:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return ThisExpr{base{sp}}, nil
	case TSuper:
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return SuperExpr{base{sp}}, nil
	case TIdentifier, TAsync, TYield, TAwait, TGet, TSet, TOf, TFrom, TAs, TType,
		TAny, TUnknown, TNever, TKeyof, TInfer, TIs, TAsserts, TReadonly, TAccessor,
		TNamespace, TModule, TDeclare:
		name := p.tok.Literal
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return Identifier{base{sp}, name}, nil
	case TPrivateIdentifier:
		name := p.tok.Literal
		sp := p.tok.Span
		if err := p.next(); err != nil {
			return nil, err
		}
		return PrivateIdentifier{base{sp}, name}, nil
	case TLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		savedNoIn := p.noIn
		p.noIn = false
		e, err := p.parseExpr()
		p.noIn = savedNoIn
		if err != nil {
			return nil, err
		}
		if err := p.expect(TRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case TLBracket:
		return p.parseArrayLiteral()
	case TLBrace:
		return p.parseObjectLiteral()
	case TFunction:
		return p.parseFunctionExprPrimary(false)
	case TClass:
		return p.parseClass()
	case TTemplateHead, TTemplateNoSub:
		return p.parseTemplateLiteral()
	case TSlash, TSlashEq:
		tok, err := p.lex.RescanRegexp(start)
		if err != nil {
			return nil, err
		}
		p.prev = p.tok
		p.tok = tok
		pattern, flags := splitRegexpLiteral(tok.Literal)
		if err := p.next(); err != nil {
			return nil, err
		}
		return RegexpLiteral{base{tok.Span}, pattern, flags}, nil
	case TAt:
		return p.parseDecoratedExpr()
	}
	return nil, &SyntaxError{Message: "unexpected token", Span: p.tok.Span}
}

func (p *Parser) parseDecoratedExpr() (Expr, error) {
	decorators, err := p.parseDecorators()
	if err != nil {
		return nil, err
	}
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if cls, ok := e.(ClassExpr); ok {
		cls.Decorators = append(decorators, cls.Decorators...)
		return cls, nil
	}
	return e, nil
}

func (p *Parser) parseDecorators() ([]Expr, error) {
	var decorators []Expr
	for p.at(TAt) {
		if err := p.next(); err != nil {
			return nil, err
		}
		e, err := p.parseCallExpr()
		if err != nil {
			return nil, err
		}
		decorators = append(decorators, e)
	}
	return decorators, nil
}

func (p *Parser) parseFunctionExprPrimary(isAsync bool) (Expr, error) {
	start := p.tok.Span.Start
	if err := p.expect(TFunction, "'function'"); err != nil {
		return nil, err
	}
	isGen := false
	if p.at(TStar) {
		isGen = true
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	name := ""
	if p.at(TIdentifier) {
		name = p.tok.Literal
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	fn, err := p.parseFunctionRest(name, isAsync, isGen, false)
	if err != nil {
		return nil, err
	}
	fn.Span = Span{start, p.prev.Span.End}
	return *fn, nil
}

func (p *Parser) parseArrayLiteral() (Expr, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	var elems []ArrayElement
	for !p.at(TRBracket) {
		if p.at(TComma) {
			elems = append(elems, ArrayElement{})
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		if p.at(TDotDotDot) {
			if err := p.next(); err != nil {
				return nil, err
			}
			e, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, ArrayElement{Expr: e, Spread: true})
		} else {
			e, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, ArrayElement{Expr: e})
		}
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	end := p.tok.Span.End
	if err := p.expect(TRBracket, "']'"); err != nil {
		return nil, err
	}
	return ArrayLiteral{base{Span{start, end}}, elems}, nil
}

func (p *Parser) parseObjectLiteral() (Expr, error) {
	start := p.tok.Span.Start
	if err := p.next(); err != nil {
		return nil, err
	}
	var props []ObjectProperty
	for !p.at(TRBrace) {
		if p.at(TDotDotDot) {
			if err := p.next(); err != nil {
				return nil, err
			}
			e, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			props = append(props, ObjectProperty{Kind: PropSpread, Value: e})
			if p.at(TComma) {
				if err := p.next(); err != nil {
					return nil, err
				}
			}
			continue
		}
		isAsync, isGen := false, false
		if p.at(TAsync) && !p.peekIsPropertyColonOrParen() {
			isAsync = true
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		if p.at(TStar) {
			isGen = true
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		kind := PropNormal
		if (p.atContextual("get") || p.atContextual("set")) && !p.peekIsPropertyColonOrParen() {
			if p.atContextual("get") {
				kind = PropGetter
			} else {
				kind = PropSetter
			}
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		computed := false
		var key Expr
		if p.at(TLBracket) {
			computed = true
			if err := p.next(); err != nil {
				return nil, err
			}
			k, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			key = k
			if err := p.expect(TRBracket, "']'"); err != nil {
				return nil, err
			}
		} else if p.at(TString) {
			key = StringLiteral{base{p.tok.Span}, p.tok.Literal}
			if err := p.next(); err != nil {
				return nil, err
			}
		} else if p.at(TNumber) {
			n, _ := parseNumberLiteral(p.tok.Literal)
			key = NumberLiteral{base{p.tok.Span}, n}
			if err := p.next(); err != nil {
				return nil, err
			}
		} else {
			key = Identifier{base{p.tok.Span}, p.tok.Literal}
			if err := p.next(); err != nil {
				return nil, err
			}
		}
		switch {
		case p.at(TLParen): // method shorthand
			fn, err := p.parseFunctionRest("", isAsync, isGen, false)
			if err != nil {
				return nil, err
			}
			if kind == PropNormal {
				kind = PropMethod
			}
			props = append(props, ObjectProperty{Kind: kind, Key: key, Computed: computed, Value: *fn})
		case p.at(TColon):
			if err := p.next(); err != nil {
				return nil, err
			}
			v, err := p.parseAssignExpr()
			if err != nil {
				return nil, err
			}
			props = append(props, ObjectProperty{Kind: PropNormal, Key: key, Computed: computed, Value: v})
		default:
			if id, ok := key.(Identifier); ok {
				props = append(props, ObjectProperty{Kind: PropNormal, Key: key, Shorthand: true, Value: id})
			} else {
				return nil, &SyntaxError{Message: "expected ':'", Span: p.tok.Span}
			}
		}
		if p.at(TComma) {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	end := p.tok.Span.End
	if err := p.expect(TRBrace, "'}'"); err != nil {
		return nil, err
	}
	return ObjectLiteral{base{Span{start, end}}, props}, nil
}

func (p *Parser) peekIsPropertyColonOrParen() bool {
	nt := p.peekNext()
	return nt.Kind == TColon || nt.Kind == TLParen || nt.Kind == TComma || nt.Kind == TRBrace
}

func (p *Parser) parseTemplateLiteral() (*TemplateLiteral, error) {
	start := p.tok.Span.Start
	var quasis []TemplateElement
	var exprs []Expr
	quasis = append(quasis, TemplateElement{Cooked: p.tok.Literal, Raw: p.tok.Literal})
	noSub := p.at(TTemplateNoSub)
	if err := p.next(); err != nil {
		return nil, err
	}
	for !noSub {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if !p.at(TRBrace) {
			return nil, &SyntaxError{Message: "expected '}' in template literal", Span: p.tok.Span}
		}
		tok, err := p.lex.RescanTemplateTail(p.tok.Span.Start)
		if err != nil {
			return nil, err
		}
		p.prev = p.tok
		p.tok = tok
		quasis = append(quasis, TemplateElement{Cooked: tok.Literal, Raw: tok.Literal})
		if tok.Kind == TTemplateTail {
			if err := p.next(); err != nil {
				return nil, err
			}
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	return &TemplateLiteral{base{Span{start, p.prev.Span.End}}, quasis, exprs}, nil
}

// ---- Classes ----

func (p *Parser) parseClass() (ClassExpr, error) {
	start := p.tok.Span.Start
	if err := p.expect(TClass, "'class'"); err != nil {
		return ClassExpr{}, err
	}
	name := ""
	if p.at(TIdentifier) {
		name = p.tok.Literal
		if err := p.next(); err != nil {
			return ClassExpr{}, err
		}
	}
	if err := p.skipTypeParamsIfPresent(); err != nil {
		return ClassExpr{}, err
	}
	var super Expr
	if p.at(TExtends) {
		if err := p.next(); err != nil {
			return ClassExpr{}, err
		}
		s, err := p.parseCallExpr()
		if err != nil {
			return ClassExpr{}, err
		}
		super = s
		if err := p.skipTypeArgsIfPresent(); err != nil {
			return ClassExpr{}, err
		}
	}
	if p.at(TIdentifier) && p.tok.Literal == "implements" {
		if err := p.next(); err != nil {
			return ClassExpr{}, err
		}
		if err := p.skipType(); err != nil {
			return ClassExpr{}, err
		}
	}
	members, err := p.parseClassBody()
	if err != nil {
		return ClassExpr{}, err
	}
	return ClassExpr{base{Span{start, p.prev.Span.End}}, name, super, members, nil}, nil
}

func (p *Parser) parseClassBody() ([]ClassMember, error) {
	if err := p.expect(TLBrace, "'{'"); err != nil {
		return nil, err
	}
	var members []ClassMember
	for !p.at(TRBrace) {
		if p.at(TSemicolon) {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		m, err := p.parseClassMember()
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, p.expect(TRBrace, "'}'")
}

func (p *Parser) parseClassMember() (ClassMember, error) {
	var decorators []Expr
	for p.at(TAt) {
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
		e, err := p.parseCallExpr()
		if err != nil {
			return ClassMember{}, err
		}
		decorators = append(decorators, e)
	}
	static := false
	if p.at(TStatic) {
		if p.peekAfterStaticIsBlockOrMember() {
			static = true
			if err := p.next(); err != nil {
				return ClassMember{}, err
			}
			if p.at(TLBrace) {
				block, err := p.parseBlock()
				if err != nil {
					return ClassMember{}, err
				}
				return ClassMember{Kind: MemberStaticBlock, Static: true, Body: block.Body, Decorators: decorators}, nil
			}
		}
	}
	for p.at(TIdentifier) && (p.tok.Literal == "readonly" || p.tok.Literal == "public" || p.tok.Literal == "private" || p.tok.Literal == "protected" || p.tok.Literal == "abstract" || p.tok.Literal == "override") {
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	}
	isAsync, isGen := false, false
	if p.at(TAsync) && !p.peekIsPropertyColonOrParen() {
		isAsync = true
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	}
	if p.at(TStar) {
		isGen = true
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	}
	kind := MemberMethod
	if (p.atContextual("get") || p.atContextual("set")) && !p.peekIsPropertyColonOrParen() {
		if p.atContextual("get") {
			kind = MemberGetter
		} else {
			kind = MemberSetter
		}
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	}
	private := false
	computed := false
	var key Expr
	if p.at(TPrivateIdentifier) {
		private = true
		key = PrivateIdentifier{base{p.tok.Span}, p.tok.Literal}
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	} else if p.at(TLBracket) {
		computed = true
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
		k, err := p.parseAssignExpr()
		if err != nil {
			return ClassMember{}, err
		}
		key = k
		if err := p.expect(TRBracket, "']'"); err != nil {
			return ClassMember{}, err
		}
	} else if p.at(TString) {
		key = StringLiteral{base{p.tok.Span}, p.tok.Literal}
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	} else {
		key = Identifier{base{p.tok.Span}, p.tok.Literal}
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	}
	if p.at(TQuestion) { // optional field marker, erased
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
	}
	if p.at(TLParen) {
		fn, err := p.parseFunctionRest("", isAsync, isGen, false)
		if err != nil {
			return ClassMember{}, err
		}
		if kind == MemberMethod && key != nil {
			if id, ok := key.(Identifier); ok && id.Name == "constructor" {
				fn.Name = "constructor"
			}
		}
		return ClassMember{Kind: kind, Key: key, Computed: computed, Private: private, Static: static, Value: *fn, Decorators: decorators}, nil
	}
	// field
	if err := p.skipTypeAnnotationIfPresent(); err != nil {
		return ClassMember{}, err
	}
	var init Expr
	if p.at(TEq) {
		if err := p.next(); err != nil {
			return ClassMember{}, err
		}
		v, err := p.parseAssignExpr()
		if err != nil {
			return ClassMember{}, err
		}
		init = v
	}
	if err := p.consumeSemi(); err != nil {
		return ClassMember{}, err
	}
	return ClassMember{Kind: MemberField, Key: key, Computed: computed, Private: private, Static: static, Value: init, Decorators: decorators}, nil
}

func (p *Parser) peekAfterStaticIsBlockOrMember() bool {
	nt := p.peekNext()
	return nt.Kind != TLParen && nt.Kind != TEq
}

// ---- helpers ----

func parseNumberLiteral(lit string) (float64, error) {
	clean := strings.ReplaceAll(lit, "_", "")
	if len(clean) > 2 && clean[0] == '0' {
		var base int
		switch clean[1] {
		case 'x', 'X':
			base = 16
		case 'b', 'B':
			base = 2
		case 'o', 'O':
			base = 8
		}
		if base != 0 {
			u, err := strconv.ParseUint(clean[2:], base, 64)
			return float64(u), err
		}
	}
	return strconv.ParseFloat(clean, 64)
}

func splitRegexpLiteral(lit string) (pattern, flags string) {
	for i := len(lit) - 1; i >= 0; i-- {
		if lit[i] == '/' {
			return lit[1:i], lit[i+1:]
		}
	}
	return lit, ""
}

// arrayLiteralToPattern reinterprets an already-parsed array literal
// as a destructuring pattern, for assignment expressions like
// `[a, b] = x` where the left side was first parsed as an ordinary
// expression.
func arrayLiteralToPattern(a ArrayLiteral) (Pattern, error) {
	var elems []Pattern
	var rest Pattern
	for _, el := range a.Elements {
		if el.Expr == nil {
			elems = append(elems, nil)
			continue
		}
		pat, err := exprToPattern(el.Expr)
		if err != nil {
			return nil, err
		}
		if el.Spread {
			rest = pat
			continue
		}
		elems = append(elems, pat)
	}
	return ArrayPattern{a.base, elems, rest}, nil
}

func objectLiteralToPattern(o ObjectLiteral) (Pattern, error) {
	var props []ObjectPatternProp
	var rest Pattern
	for _, pr := range o.Props {
		if pr.Kind == PropSpread {
			pat, err := exprToPattern(pr.Value)
			if err != nil {
				return nil, err
			}
			rest = pat
			continue
		}
		pat, err := exprToPattern(pr.Value)
		if err != nil {
			return nil, err
		}
		props = append(props, ObjectPatternProp{Key: pr.Key, Computed: pr.Computed, Value: pat, Shorthand: pr.Shorthand})
	}
	return ObjectPattern{o.base, props, rest}, nil
}

func exprToPattern(e Expr) (Pattern, error) {
	switch v := e.(type) {
	case Identifier:
		return IdentifierPattern{v.base, v.Name}, nil
	case ArrayLiteral:
		return arrayLiteralToPattern(v)
	case ObjectLiteral:
		return objectLiteralToPattern(v)
	case AssignmentExpr:
		if v.Op != TEq {
			return nil, &SyntaxError{Message: "invalid destructuring default", Span: v.Span}
		}
		target, err := exprToPattern(v.Target)
		if err != nil {
			return nil, err
		}
		return AssignmentPattern{v.base, target, v.Value}, nil
	case MemberExpr:
		return memberPattern{v}, nil
	}
	return nil, &SyntaxError{Message: "invalid destructuring target", Span: e.NodeSpan()}
}

// memberPattern lets a member expression (`a.b = x` inside a
// destructuring target, e.g. `({a: obj.b} = x)`) serve as a Pattern;
// the compiler recognizes it and emits a property write instead of a
// binding.
type memberPattern struct {
	Member MemberExpr
}

func (m memberPattern) NodeSpan() Span { return m.Member.Span }
func (memberPattern) patternNode()     {}
