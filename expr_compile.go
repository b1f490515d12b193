// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "fmt"

var binOpcodes = map[TokenKind]OpCode{
	TPlus: OpAdd, TMinus: OpSub, TStar: OpMul, TSlash: OpDiv, TPercent: OpMod, TStarStar: OpExp,
	TEqEq: OpEq, TBangEq: OpNotEq, TEqEqEq: OpStrictEq, TBangEqEq: OpStrictNotEq,
	TLt: OpLt, TLtEq: OpLtEq, TGt: OpGt, TGtEq: OpGtEq,
	TAmp: OpBitAnd, TPipe: OpBitOr, TCaret: OpBitXor,
	TLShift: OpLShift, TRShift: OpRShift, TURShift: OpURShift,
	TInstanceof: OpInstanceof, TIn: OpIn,
}

var compoundAssignOps = map[TokenKind]TokenKind{
	TPlusEq: TPlus, TMinusEq: TMinus, TStarEq: TStar, TStarStarEq: TStarStar,
	TSlashEq: TSlash, TPercentEq: TPercent, TAmpEq: TAmp, TPipeEq: TPipe,
	TCaretEq: TCaret, TLShiftEq: TLShift, TRShiftEq: TRShift, TURShiftEq: TURShift,
}

// compileExpr compiles e and returns the register holding its result.
// Callers are responsible for freeing the returned register once done
// with it.
func (c *Compiler) compileExpr(e Expr) (int, error) {
	switch ex := e.(type) {
	case NumberLiteral:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		ci := c.constNumber(ex.Value)
		c.emit(OpLoadConst, int32(r), int32(ci), 0, ex.Span)
		return r, nil
	case StringLiteral:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		ci := c.constString(ex.Value)
		c.emit(OpLoadConst, int32(r), int32(ci), 0, ex.Span)
		return r, nil
	case BoolLiteral:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		if ex.Value {
			c.emit(OpLoadTrue, int32(r), 0, 0, ex.Span)
		} else {
			c.emit(OpLoadFalse, int32(r), 0, 0, ex.Span)
		}
		return r, nil
	case NullLiteral:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpLoadNull, int32(r), 0, 0, ex.Span)
		return r, nil
	case UndefinedLiteral:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpLoadUndefined, int32(r), 0, 0, ex.Span)
		return r, nil
	case RegexpLiteral:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		patCi := c.constString(ex.Pattern)
		flagsCi := c.constString(ex.Flags)
		c.emit(OpCreateRegexp, int32(r), int32(patCi), int32(flagsCi), ex.Span)
		return r, nil
	case Identifier:
		if ex.Name == "new.target" {
			r, err := c.alloc()
			if err != nil {
				return 0, err
			}
			c.emit(OpGetArguments, int32(r), 1, 0, ex.Span) // B=1 marks new.target read, disambiguated in vm.go
			return r, nil
		}
		if reg, ok := c.redirectReg(ex.Name); ok {
			// Per-iteration for-loop update clause: read the
			// carried value straight out of its register rather than
			// the (already-popped) per-iteration environment. Copy to a
			// fresh register since callers are free to free what we
			// return, and freeing the redirect register itself would
			// let it be reused mid-expression.
			tmp, err := c.alloc()
			if err != nil {
				return 0, err
			}
			c.emit(OpMove, int32(tmp), int32(reg), 0, ex.Span)
			return tmp, nil
		}
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		name := c.strings.Intern(ex.Name)
		c.emit(OpGetVar, int32(r), int32(name), 0, ex.Span)
		return r, nil
	case ThisExpr:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpGetThis, int32(r), 0, 0, ex.Span)
		return r, nil
	case SuperExpr:
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpGetSuper, int32(r), 0, 0, ex.Span)
		return r, nil
	case PrivateIdentifier:
		return 0, &SyntaxError{Message: "unexpected private name", Span: ex.Span}
	case TemplateLiteral:
		return c.compileTemplateLiteral(&ex)
	case *TemplateLiteral:
		return c.compileTemplateLiteral(ex)
	case TaggedTemplateExpr:
		return c.compileTaggedTemplate(&ex)
	case ArrayLiteral:
		return c.compileArrayLiteral(&ex)
	case ObjectLiteral:
		return c.compileObjectLiteral(&ex)
	case FunctionExpr:
		return c.compileFunctionExpr(&ex)
	case ClassExpr:
		return c.compileClassExpr(&ex)
	case UnaryExpr:
		return c.compileUnary(&ex)
	case UpdateExpr:
		return c.compileUpdate(&ex)
	case BinaryExpr:
		return c.compileBinary(&ex)
	case LogicalExpr:
		return c.compileLogical(&ex)
	case AssignmentExpr:
		return c.compileAssignment(&ex)
	case ConditionalExpr:
		return c.compileConditional(&ex)
	case CallExpr:
		return c.compileCall(&ex)
	case NewExpr:
		return c.compileNew(&ex)
	case MemberExpr:
		return c.compileMember(&ex)
	case SequenceExpr:
		var last int
		for i, se := range ex.Exprs {
			r, err := c.compileExpr(se)
			if err != nil {
				return 0, err
			}
			if i > 0 {
				c.free(last)
			}
			last = r
		}
		return last, nil
	case SpreadElement:
		return c.compileExpr(ex.Arg)
	case YieldExpr:
		return c.compileYield(&ex)
	case AwaitExpr:
		arg, err := c.compileExpr(ex.Arg)
		if err != nil {
			return 0, err
		}
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpAwait, int32(r), int32(arg), 0, ex.Span)
		c.free(arg)
		return r, nil
	case PatternExpr:
		return 0, &SyntaxError{Message: "pattern used as expression", Span: ex.Span}
	}
	return 0, fmt.Errorf("tsvm: unhandled expression type %T", e)
}

func (c *Compiler) compileTemplateLiteral(ex *TemplateLiteral) (int, error) {
	result, err := c.alloc()
	if err != nil {
		return 0, err
	}
	ci := c.constString(ex.Quasis[0].Cooked)
	c.emit(OpLoadConst, int32(result), int32(ci), 0, ex.Span)
	for i, expr := range ex.Expressions {
		v, err := c.compileExpr(expr)
		if err != nil {
			return 0, err
		}
		c.emit(OpAdd, int32(result), int32(result), int32(v), ex.Span)
		c.free(v)
		qi := c.constString(ex.Quasis[i+1].Cooked)
		qr, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpLoadConst, int32(qr), int32(qi), 0, ex.Span)
		c.emit(OpAdd, int32(result), int32(result), int32(qr), ex.Span)
		c.free(qr)
	}
	return result, nil
}

func (c *Compiler) compileTaggedTemplate(ex *TaggedTemplateExpr) (int, error) {
	strs, err := c.compileArrayOfQuasis(ex.Quasi)
	if err != nil {
		return 0, err
	}
	tag, err := c.compileExpr(ex.Tag)
	if err != nil {
		return 0, err
	}
	args := []int{strs}
	for _, expr := range ex.Quasi.Expressions {
		r, err := c.compileExpr(expr)
		if err != nil {
			return 0, err
		}
		args = append(args, r)
	}
	return c.emitCallWithRegs(tag, NullReg, args, ex.Span)
}

func (c *Compiler) compileArrayOfQuasis(t *TemplateLiteral) (int, error) {
	arr, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(OpCreateArray, int32(arr), 0, 0, t.Span)
	for _, q := range t.Quasis {
		ci := c.constString(q.Cooked)
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpLoadConst, int32(r), int32(ci), 0, t.Span)
		c.emit(OpArrayPush, int32(arr), int32(r), 0, t.Span)
		c.free(r)
	}
	return arr, nil
}

func (c *Compiler) compileArrayLiteral(ex *ArrayLiteral) (int, error) {
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(OpCreateArray, int32(r), 0, 0, ex.Span)
	for _, el := range ex.Elements {
		if el.Expr == nil {
			c.emit(OpArrayPush, int32(r), int32(c.undefinedConstReg()), 0, ex.Span)
			continue
		}
		v, err := c.compileExpr(el.Expr)
		if err != nil {
			return 0, err
		}
		if el.Spread {
			c.emit(OpSpreadInto, int32(r), int32(v), 0, ex.Span)
		} else {
			c.emit(OpArrayPush, int32(r), int32(v), 0, ex.Span)
		}
		c.free(v)
	}
	return r, nil
}

func (c *Compiler) compileObjectLiteral(ex *ObjectLiteral) (int, error) {
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(OpCreateObject, int32(r), 0, 0, ex.Span)
	for _, p := range ex.Props {
		if p.Kind == PropSpread {
			v, err := c.compileExpr(p.Value)
			if err != nil {
				return 0, err
			}
			c.emit(OpSpreadInto, int32(r), int32(v), 0, ex.Span)
			c.free(v)
			continue
		}
		if p.Kind == PropGetter || p.Kind == PropSetter {
			v, err := c.compileExpr(p.Value)
			if err != nil {
				return 0, err
			}
			var idx int
			if p.Computed {
				keyReg, err := c.compileExpr(p.Key)
				if err != nil {
					return 0, err
				}
				idx = c.emit(OpSetAccessor, int32(r), int32(keyReg), int32(v), ex.Span)
				setClassMemberFlags(&c.chunk.Code[idx], false, true, p.Kind == PropSetter)
				c.free(keyReg)
			} else {
				ci := c.constString(propKeyName(p.Key))
				idx = c.emit(OpSetAccessor, int32(r), int32(ci), int32(v), ex.Span)
				setClassMemberFlags(&c.chunk.Code[idx], false, false, p.Kind == PropSetter)
			}
			c.free(v)
			continue
		}
		v, err := c.compileExpr(p.Value)
		if err != nil {
			return 0, err
		}
		if p.Computed {
			keyReg, err := c.compileExpr(p.Key)
			if err != nil {
				return 0, err
			}
			c.emit(OpSetPropComputed, int32(r), int32(keyReg), int32(v), ex.Span)
			c.free(keyReg)
		} else {
			name := propKeyName(p.Key)
			ci := c.constString(name)
			c.emit(OpSetProp, int32(r), int32(ci), int32(v), ex.Span)
		}
		c.free(v)
	}
	return r, nil
}

// compileFunctionExpr compiles a nested function body into its own
// Chunk (stored as a ConstChunk constant of the enclosing chunk) and
// emits OpCreateClosure to materialize a Function object capturing
// the current environment.
func (c *Compiler) compileFunctionExpr(fn *FunctionExpr) (int, error) {
	nested := NewCompiler(c.strings, c.chunk.Source)
	nested.pushScope(true)
	if fn.UsesArguments() {
		// handled at runtime via OpGetArguments; no compile-time work needed
	}
	if err := nested.hoistVars(fn.Body, true); err != nil {
		return 0, err
	}
	if err := nested.compileParamPrologue(fn); err != nil {
		return 0, err
	}
	for _, s := range fn.Body {
		if err := nested.compileStmt(s); err != nil {
			return 0, err
		}
	}
	nested.emit(OpReturnUndefined, 0, 0, 0, fn.Span)
	nested.popScope()
	nested.chunk.FrameSize = nested.maxReg

	var paramNames []string
	restIdx, hasRest := -1, false
	for i, p := range fn.Params {
		if rest, ok := p.Pattern.(RestElement); ok {
			hasRest = true
			restIdx = i
			name := paramPatternName(rest.Arg)
			if name == "" {
				name = syntheticParamName(i)
			}
			paramNames = append(paramNames, name)
			continue
		}
		name := paramPatternName(p.Pattern)
		if name == "" {
			// Destructuring parameters bind under a synthetic name the
			// prologue unpacks.
			name = syntheticParamName(i)
		}
		paramNames = append(paramNames, name)
	}
	nested.chunk.Meta = &FuncMeta{
		Name: fn.Name, ParamNames: paramNames, ParamCount: len(fn.Params),
		RestIndex: restIdx, HasRest: hasRest,
		IsGenerator: fn.IsGenerator, IsAsync: fn.IsAsync, IsArrow: fn.IsArrow,
	}

	ci, err := c.chunk.AddConst(Const{Kind: ConstChunk, ChunkI: nested.chunk})
	if err != nil {
		return 0, err
	}
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	op := OpCreateClosure
	switch {
	case fn.IsGenerator && fn.IsAsync:
		op = OpCreateAsyncGenerator
	case fn.IsGenerator:
		op = OpCreateGenerator
	case fn.IsAsync:
		op = OpCreateAsync
	}
	c.emit(op, int32(r), int32(ci), 0, fn.Span)
	return r, nil
}

func paramPatternName(p Pattern) string {
	switch pt := p.(type) {
	case IdentifierPattern:
		return pt.Name
	case AssignmentPattern:
		return paramPatternName(pt.Target)
	}
	return ""
}

func syntheticParamName(i int) string {
	return fmt.Sprintf("__arg%d", i)
}

// compileParamPrologue lowers the parameter forms the frame's by-name
// binding cannot express on its own: default values evaluate when the
// caller passed undefined, and destructuring patterns unpack the
// synthetic argument binding.
func (c *Compiler) compileParamPrologue(fn *FunctionExpr) error {
	for i, p := range fn.Params {
		switch pat := p.Pattern.(type) {
		case IdentifierPattern:
			// bound directly by the frame
		case RestElement:
			if _, ok := pat.Arg.(IdentifierPattern); !ok {
				if err := c.unpackSyntheticParam(i, pat.Arg, fn.Span); err != nil {
					return err
				}
			}
		case AssignmentPattern:
			if id, ok := pat.Target.(IdentifierPattern); ok {
				if err := c.compileParamDefault(id.Name, pat.Default, pat.Span); err != nil {
					return err
				}
				continue
			}
			if err := c.unpackSyntheticParam(i, pat, fn.Span); err != nil {
				return err
			}
		default:
			if err := c.unpackSyntheticParam(i, p.Pattern, fn.Span); err != nil {
				return err
			}
		}
	}
	return nil
}

// compileParamDefault overwrites a named parameter with its default
// expression when the caller left it undefined.
func (c *Compiler) compileParamDefault(name string, def Expr, span Span) error {
	handle := int32(c.strings.Intern(name))
	cur, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpGetVar, int32(cur), handle, 0, span)
	undef := c.undefinedConstReg()
	isU, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpStrictEq, int32(isU), int32(cur), int32(undef), span)
	c.free(undef)
	skip := c.emit(OpJumpIfFalse, 0, int32(isU), 0, span)
	c.free(isU)
	d, err := c.compileExpr(def)
	if err != nil {
		return err
	}
	c.emit(OpSetVar, handle, int32(d), 0, span)
	c.free(d)
	c.chunk.Patch(skip, int32(len(c.chunk.Code)))
	c.free(cur)
	return nil
}

// unpackSyntheticParam destructures the i-th argument, bound by the
// frame under a synthetic name, into the pattern's own bindings.
func (c *Compiler) unpackSyntheticParam(i int, pat Pattern, span Span) error {
	r, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpGetVar, int32(r), int32(c.strings.Intern(syntheticParamName(i))), 0, span)
	err = c.bindPattern(pat, r, DeclLet)
	c.free(r)
	return err
}

// UsesArguments is a conservative stub: this engine always exposes
// `arguments` via OpGetArguments lazily, so no compile-time use
// analysis is required to decide whether to capture it.
func (fn *FunctionExpr) UsesArguments() bool { return true }

func (c *Compiler) compileUnary(ex *UnaryExpr) (int, error) {
	if ex.Op == UnaryTypeof {
		if id, ok := ex.Arg.(Identifier); ok {
			r, err := c.alloc()
			if err != nil {
				return 0, err
			}
			c.emit(OpTypeof, int32(r), int32(c.strings.Intern(id.Name)), 1, ex.Span)
			return r, nil
		}
	}
	if ex.Op == UnaryDelete {
		if m, ok := ex.Arg.(MemberExpr); ok {
			obj, err := c.compileExpr(m.Object)
			if err != nil {
				return 0, err
			}
			r, err := c.alloc()
			if err != nil {
				return 0, err
			}
			if m.Computed {
				key, err := c.compileExpr(m.Property)
				if err != nil {
					return 0, err
				}
				c.emit(OpDeletePropComputed, int32(r), int32(obj), int32(key), ex.Span)
				c.free(key)
			} else {
				ci := c.constString(propKeyName(m.Property))
				c.emit(OpDeleteProp, int32(r), int32(obj), int32(ci), ex.Span)
			}
			c.free(obj)
			return r, nil
		}
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpLoadTrue, int32(r), 0, 0, ex.Span)
		return r, nil
	}
	arg, err := c.compileExpr(ex.Arg)
	if err != nil {
		return 0, err
	}
	op := map[UnaryOp]OpCode{
		UnaryPlus: OpPlus, UnaryMinus: OpNeg, UnaryNot: OpNot, UnaryBitNot: OpBitNot,
		UnaryTypeof: OpTypeof, UnaryVoid: OpLoadUndefined,
	}[ex.Op]
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	if ex.Op == UnaryVoid {
		c.emit(OpLoadUndefined, int32(r), 0, 0, ex.Span)
	} else if ex.Op == UnaryTypeof {
		c.emit(OpTypeof, int32(r), int32(arg), 0, ex.Span)
	} else {
		c.emit(op, int32(r), int32(arg), 0, ex.Span)
	}
	c.free(arg)
	return r, nil
}

func (c *Compiler) compileUpdate(ex *UpdateExpr) (int, error) {
	old, err := c.compileExpr(ex.Arg)
	if err != nil {
		return 0, err
	}
	result, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(OpMove, int32(result), int32(old), 0, ex.Span)
	one, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(OpLoadInt, int32(one), 1, 0, ex.Span)
	newVal, err := c.alloc()
	if err != nil {
		return 0, err
	}
	if ex.Op == TPlusPlus {
		c.emit(OpAdd, int32(newVal), int32(old), int32(one), ex.Span)
	} else {
		c.emit(OpSub, int32(newVal), int32(old), int32(one), ex.Span)
	}
	c.free(one)
	if err := c.assignTo(ex.Arg, newVal); err != nil {
		return 0, err
	}
	if ex.Prefix {
		c.emit(OpMove, int32(result), int32(newVal), 0, ex.Span)
	}
	c.free(newVal)
	c.free(old)
	return result, nil
}

func (c *Compiler) compileBinary(ex *BinaryExpr) (int, error) {
	left, err := c.compileExpr(ex.Left)
	if err != nil {
		return 0, err
	}
	right, err := c.compileExpr(ex.Right)
	if err != nil {
		return 0, err
	}
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	op, ok := binOpcodes[ex.Op]
	if !ok {
		return 0, fmt.Errorf("tsvm: unhandled binary operator %v", ex.Op)
	}
	c.emit(op, int32(r), int32(left), int32(right), ex.Span)
	c.free(left)
	c.free(right)
	return r, nil
}

// compileLogical short-circuits in place: the left operand's register
// doubles as the result, overwritten with the right operand only when
// the operator's trigger condition holds. && jumps over the right side
// when left is falsy, || when truthy; ?? has no "jump if not nullish"
// form, so it jumps into the right side on nullish and over it
// otherwise.
func (c *Compiler) compileLogical(ex *LogicalExpr) (int, error) {
	left, err := c.compileExpr(ex.Left)
	if err != nil {
		return 0, err
	}
	skip, err := c.emitShortCircuit(ex.Op, left, ex.Span)
	if err != nil {
		return 0, err
	}
	right, err := c.compileExpr(ex.Right)
	if err != nil {
		return 0, err
	}
	c.emit(OpMove, int32(left), int32(right), 0, ex.Span)
	c.free(right)
	c.chunk.Patch(skip, int32(len(c.chunk.Code)))
	return left, nil
}

// emitShortCircuit emits the jump that skips a logical operator's
// right-hand side, returning the jump's index for patching. op is the
// operator token (&&, ||, ?? or their compound-assignment forms).
func (c *Compiler) emitShortCircuit(op TokenKind, cond int, span Span) (int, error) {
	switch op {
	case TAmpAmp, TAmpAmpEq:
		return c.emit(OpJumpIfFalse, 0, int32(cond), 0, span), nil
	case TPipePipe, TPipePipeEq:
		return c.emit(OpJumpIfTrue, 0, int32(cond), 0, span), nil
	case TQuestionQuestion, TQuestionQuestionEq:
		enter := c.emit(OpJumpIfNullish, 0, int32(cond), 0, span)
		skip := c.emit(OpJump, 0, 0, 0, span)
		c.chunk.Patch(enter, int32(len(c.chunk.Code)))
		return skip, nil
	}
	return 0, fmt.Errorf("tsvm: not a short-circuit operator: %v", op)
}

func (c *Compiler) compileAssignment(ex *AssignmentExpr) (int, error) {
	if ex.Op == TEq {
		val, err := c.compileExpr(ex.Value)
		if err != nil {
			return 0, err
		}
		if err := c.assignTo(ex.Target, val); err != nil {
			return 0, err
		}
		return val, nil
	}
	if ex.Op == TAmpAmpEq || ex.Op == TPipePipeEq || ex.Op == TQuestionQuestionEq {
		cur, err := c.compileExpr(ex.Target)
		if err != nil {
			return 0, err
		}
		skip, err := c.emitShortCircuit(ex.Op, cur, ex.Span)
		if err != nil {
			return 0, err
		}
		val, err := c.compileExpr(ex.Value)
		if err != nil {
			return 0, err
		}
		if err := c.assignTo(ex.Target, val); err != nil {
			return 0, err
		}
		c.emit(OpMove, int32(cur), int32(val), 0, ex.Span)
		c.free(val)
		c.chunk.Patch(skip, int32(len(c.chunk.Code)))
		return cur, nil
	}
	baseOp := compoundAssignOps[ex.Op]
	cur, err := c.compileExpr(ex.Target)
	if err != nil {
		return 0, err
	}
	rhs, err := c.compileExpr(ex.Value)
	if err != nil {
		return 0, err
	}
	result, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(binOpcodes[baseOp], int32(result), int32(cur), int32(rhs), ex.Span)
	c.free(rhs)
	c.free(cur)
	if err := c.assignTo(ex.Target, result); err != nil {
		return 0, err
	}
	return result, nil
}

// assignTo writes the value in src to the location denoted by target,
// which is an Identifier, MemberExpr, or a destructuring PatternExpr
func (c *Compiler) assignTo(target Expr, src int) error {
	switch t := target.(type) {
	case Identifier:
		if reg, ok := c.redirectReg(t.Name); ok {
			c.emit(OpMove, int32(reg), int32(src), 0, t.Span)
			return nil
		}
		c.emit(OpSetVar, int32(c.strings.Intern(t.Name)), int32(src), 0, t.Span)
		return nil
	case MemberExpr:
		obj, err := c.compileExpr(t.Object)
		if err != nil {
			return err
		}
		if t.Computed {
			key, err := c.compileExpr(t.Property)
			if err != nil {
				return err
			}
			c.emit(OpSetPropComputed, int32(obj), int32(key), int32(src), t.Span)
			c.free(key)
		} else if pid, ok := t.Property.(PrivateIdentifier); ok {
			ci := c.constString(pid.Name)
			c.emit(OpSetPrivate, int32(obj), int32(ci), int32(src), t.Span)
		} else {
			ci := c.constString(propKeyName(t.Property))
			c.emit(OpSetProp, int32(obj), int32(ci), int32(src), t.Span)
		}
		c.free(obj)
		return nil
	case PatternExpr:
		return c.bindPattern(t.Pattern, src, DeclVar)
	}
	return &SyntaxError{Message: "invalid assignment target", Span: target.NodeSpan()}
}

func (c *Compiler) compileConditional(ex *ConditionalExpr) (int, error) {
	test, err := c.compileExpr(ex.Test)
	if err != nil {
		return 0, err
	}
	jf := c.emit(OpJumpIfFalse, 0, int32(test), 0, ex.Span)
	c.free(test)
	result, err := c.alloc()
	if err != nil {
		return 0, err
	}
	cons, err := c.compileExpr(ex.Consequent)
	if err != nil {
		return 0, err
	}
	c.emit(OpMove, int32(result), int32(cons), 0, ex.Span)
	c.free(cons)
	jend := c.emit(OpJump, 0, 0, 0, ex.Span)
	c.chunk.Patch(jf, int32(len(c.chunk.Code)))
	alt, err := c.compileExpr(ex.Alternate)
	if err != nil {
		return 0, err
	}
	c.emit(OpMove, int32(result), int32(alt), 0, ex.Span)
	c.free(alt)
	c.chunk.Patch(jend, int32(len(c.chunk.Code)))
	return result, nil
}

// NullReg is the sentinel "no this register" argument to emitCallWithRegs.
const NullReg = -1

func (c *Compiler) compileCall(ex *CallExpr) (int, error) {
	var thisReg int = NullReg
	var calleeReg int
	if m, ok := ex.Callee.(MemberExpr); ok {
		obj, err := c.compileExpr(m.Object)
		if err != nil {
			return 0, err
		}
		callee, err := c.alloc()
		if err != nil {
			return 0, err
		}
		if m.Computed {
			key, err := c.compileExpr(m.Property)
			if err != nil {
				return 0, err
			}
			c.emit(OpGetPropComputed, int32(callee), int32(obj), int32(key), m.Span)
			c.free(key)
		} else if pid, ok := m.Property.(PrivateIdentifier); ok {
			ci := c.constString(pid.Name)
			c.emit(OpGetPrivate, int32(callee), int32(obj), int32(ci), m.Span)
		} else {
			ci := c.constString(propKeyName(m.Property))
			c.emit(OpGetProp, int32(callee), int32(obj), int32(ci), m.Span)
		}
		thisReg = obj
		calleeReg = callee
	} else if _, ok := ex.Callee.(SuperExpr); ok {
		r, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpGetSuper, int32(r), 0, 0, ex.Span)
		calleeReg = r
		thisR, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpGetThis, int32(thisR), 0, 0, ex.Span)
		thisReg = thisR
	} else {
		r, err := c.compileExpr(ex.Callee)
		if err != nil {
			return 0, err
		}
		calleeReg = r
	}
	if callArgsHaveSpread(ex.Args) {
		arr, err := c.compileArgsArray(ex.Args, ex.Span)
		if err != nil {
			return 0, err
		}
		base, err := c.allocRun(2)
		if err != nil {
			return 0, err
		}
		if thisReg != NullReg {
			c.emit(OpMove, int32(base), int32(thisReg), 0, ex.Span)
		} else {
			c.emit(OpLoadUndefined, int32(base), 0, 0, ex.Span)
		}
		c.emit(OpMove, int32(base+1), int32(arr), 0, ex.Span)
		res, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpCallSpread, int32(res), int32(calleeReg), int32(base), ex.Span)
		c.freeRun(base, 2)
		c.free(arr)
		c.free(calleeReg)
		if thisReg != NullReg {
			c.free(thisReg)
		}
		return res, nil
	}
	var argRegs []int
	for _, a := range ex.Args {
		r, err := c.compileExpr(a.Expr)
		if err != nil {
			return 0, err
		}
		argRegs = append(argRegs, r)
	}
	res, err := c.emitCallWithRegs(calleeReg, thisReg, argRegs, ex.Span)
	if err != nil {
		return 0, err
	}
	c.free(calleeReg)
	if thisReg != NullReg {
		c.free(thisReg)
	}
	for _, a := range argRegs {
		c.free(a)
	}
	return res, nil
}

func callArgsHaveSpread(args []CallArg) bool {
	for _, a := range args {
		if a.Spread {
			return true
		}
	}
	return false
}

// compileArgsArray flattens an argument list containing spreads into a
// single array register: plain arguments push one element, spreads
// iterate their operand into place.
func (c *Compiler) compileArgsArray(args []CallArg, span Span) (int, error) {
	arr, err := c.alloc()
	if err != nil {
		return 0, err
	}
	c.emit(OpCreateArray, int32(arr), 0, 0, span)
	for _, a := range args {
		r, err := c.compileExpr(a.Expr)
		if err != nil {
			return 0, err
		}
		if a.Spread {
			c.emit(OpSpreadInto, int32(arr), int32(r), 0, span)
		} else {
			c.emit(OpArrayPush, int32(arr), int32(r), 0, span)
		}
		c.free(r)
	}
	return arr, nil
}

// emitCallWithRegs copies `this` and the argument registers into a
// contiguous run [this, arg0, arg1,...] and emits OpCall. A = result,
// B = callee register, C = base register of the run; the argument
// count rides in Span.End.Offset, the one Inst field otherwise unused
// at runtime. vm.go reads `this` from C and
// the arguments from C+1..C+1+count.
func (c *Compiler) emitCallWithRegs(callee, this int, args []int, span Span) (int, error) {
	base, err := c.allocRun(1 + len(args))
	if err != nil {
		return 0, err
	}
	if this != NullReg {
		c.emit(OpMove, int32(base), int32(this), 0, span)
	} else {
		c.emit(OpLoadUndefined, int32(base), 0, 0, span)
	}
	for i, a := range args {
		c.emit(OpMove, int32(base+1+i), int32(a), 0, span)
	}
	result, err := c.alloc()
	if err != nil {
		return 0, err
	}
	idx := c.emit(OpCall, int32(result), int32(callee), int32(base), span)
	c.chunk.Code[idx].Span.End.Offset = len(args)
	c.freeRun(base, 1+len(args))
	return result, nil
}

func (c *Compiler) compileNew(ex *NewExpr) (int, error) {
	callee, err := c.compileExpr(ex.Callee)
	if err != nil {
		return 0, err
	}
	if callArgsHaveSpread(ex.Args) {
		arr, err := c.compileArgsArray(ex.Args, ex.Span)
		if err != nil {
			return 0, err
		}
		result, err := c.alloc()
		if err != nil {
			return 0, err
		}
		c.emit(OpNewSpread, int32(result), int32(callee), int32(arr), ex.Span)
		c.free(arr)
		c.free(callee)
		return result, nil
	}
	var argRegs []int
	for _, a := range ex.Args {
		r, err := c.compileExpr(a.Expr)
		if err != nil {
			return 0, err
		}
		argRegs = append(argRegs, r)
	}
	argBase, err := c.allocRun(len(argRegs))
	if err != nil {
		return 0, err
	}
	for i, a := range argRegs {
		c.emit(OpMove, int32(argBase+i), int32(a), 0, ex.Span)
	}
	result, err := c.alloc()
	if err != nil {
		return 0, err
	}
	idx := c.emit(OpNew, int32(result), int32(callee), int32(argBase), ex.Span)
	c.chunk.Code[idx].Span.End.Offset = len(argRegs)
	c.freeRun(argBase, len(argRegs))
	c.free(callee)
	for _, a := range argRegs {
		c.free(a)
	}
	return result, nil
}

func (c *Compiler) compileMember(ex *MemberExpr) (int, error) {
	obj, err := c.compileExpr(ex.Object)
	if err != nil {
		return 0, err
	}
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	if ex.Optional {
		skipIdx := c.emit(OpJumpIfNullish, 0, int32(obj), 0, ex.Span) // target patched below
		if ex.Computed {
			key, err := c.compileExpr(ex.Property)
			if err != nil {
				return 0, err
			}
			c.emit(OpGetPropComputed, int32(r), int32(obj), int32(key), ex.Span)
			c.free(key)
		} else if pid, ok := ex.Property.(PrivateIdentifier); ok {
			ci := c.constString(pid.Name)
			c.emit(OpGetPrivate, int32(r), int32(obj), int32(ci), ex.Span)
		} else {
			ci := c.constString(propKeyName(ex.Property))
			c.emit(OpGetProp, int32(r), int32(obj), int32(ci), ex.Span)
		}
		jend := c.emit(OpJump, 0, 0, 0, ex.Span)
		undefTarget := int32(len(c.chunk.Code))
		c.emit(OpLoadUndefined, int32(r), 0, 0, ex.Span)
		c.chunk.Patch(skipIdx, undefTarget)
		c.chunk.Patch(jend, int32(len(c.chunk.Code)))
		c.free(obj)
		return r, nil
	}
	if ex.Computed {
		key, err := c.compileExpr(ex.Property)
		if err != nil {
			return 0, err
		}
		c.emit(OpGetPropComputed, int32(r), int32(obj), int32(key), ex.Span)
		c.free(key)
	} else if pid, ok := ex.Property.(PrivateIdentifier); ok {
		ci := c.constString(pid.Name)
		c.emit(OpGetPrivate, int32(r), int32(obj), int32(ci), ex.Span)
	} else {
		ci := c.constString(propKeyName(ex.Property))
		c.emit(OpGetProp, int32(r), int32(obj), int32(ci), ex.Span)
	}
	c.free(obj)
	return r, nil
}

func (c *Compiler) compileYield(ex *YieldExpr) (int, error) {
	var arg int
	if ex.Arg != nil {
		r, err := c.compileExpr(ex.Arg)
		if err != nil {
			return 0, err
		}
		arg = r
	} else {
		arg = c.undefinedConstReg()
	}
	r, err := c.alloc()
	if err != nil {
		return 0, err
	}
	op := OpYield
	if ex.Delegate {
		op = OpYieldStar
	}
	c.emit(op, int32(r), int32(arg), 0, ex.Span)
	c.free(arg)
	return r, nil
}
