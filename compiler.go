// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import "fmt"

// Compiler lowers a parsed Program (or a single function body) into a
// Chunk of register-based bytecode. One Compiler instance handles one function; nested
// functions get their own Compiler sharing the InternTable, chained
// through `parent` so closures can resolve free variables by walking
// the static scope list.
type Compiler struct {
	strings *InternTable
	chunk   *Chunk
	parent  *Compiler

	nextReg  int
	maxReg   int
	freeRegs []int

	scopes []*compileScope

	loops []*loopContext
	// tries tracks the protected regions still open at the current
	// compile position, so break/continue can pop the runtime handler
	// and run the pending finally before jumping out of one.
	tries []*tryContext
	// envDepth counts the OpPushScope/OpPopScope pairs the code at the
	// current compile position sits inside, so break/continue know how
	// many scopes to pop before their jump.
	envDepth int
	// pendingLoopLabel carries a label from a LabeledStmt down to the
	// loop statement it wraps, so `continue label` resolves to the
	// loop's own continue target.
	pendingLoopLabel string

	// forRedirects implements the per-iteration `for(let...)` update
	// protocol: while compiling a for-loop's update
	// clause, reads and writes of that loop's declared names bypass the
	// per-iteration environment and go straight to the register holding
	// the value carried into the next iteration, so the update does not
	// mutate the environment any same-iteration closure captured.
	forRedirects []map[string]int

	constNumCache map[float64]int
	constStrCache map[StringHandle]int
}

type compileScope struct {
	names              map[string]int // name -> register, for locals known at compile time... tracked via env at runtime instead
	isFunctionBoundary bool
}

type loopContext struct {
	continueTargets []int // instruction indices needing patch to "continue" target
	breakTargets    []int
	label           string
	isLoop          bool // false for switch and labeled-block contexts, which only break targets
	tryDepth        int  // len(c.tries) when the context opened
	// scope depth the break/continue target's code expects, so a jump
	// from deeper block nesting pops down to it first.
	breakEnvDepth    int
	continueEnvDepth int
	// iterReg holds a for-in/of loop's iterator register, so a jump
	// that exits the loop can close the iterator first; -1 otherwise.
	iterReg int
}

type tryContext struct {
	finally  *BlockStmt // nil when the region has no finally
	envDepth int        // scope depth at OpPushTry, where the finally body runs
}

// NewCompiler creates a compiler for a top-level program or function
// body sharing strings with the rest of the runtime.
func NewCompiler(strings *InternTable, source string) *Compiler {
	return &Compiler{
		strings:       strings,
		chunk:         NewChunk(source),
		constNumCache: make(map[float64]int),
		constStrCache: make(map[StringHandle]int),
	}
}

func (c *Compiler) alloc() (int, error) {
	if n := len(c.freeRegs); n > 0 {
		r := c.freeRegs[n-1]
		c.freeRegs = c.freeRegs[:n-1]
		return r, nil
	}
	if c.nextReg >= 256 {
		return 0, ErrRegisterExhausted
	}
	r := c.nextReg
	c.nextReg++
	if c.nextReg > c.maxReg {
		c.maxReg = c.nextReg
	}
	return r, nil
}

func (c *Compiler) free(r int) {
	c.freeRegs = append(c.freeRegs, r)
}

// allocRun reserves n contiguous fresh registers, bypassing the
// free-list (a free slot in the middle would break contiguity). Used
// to build the argument window OpCall/OpNew expect.
func (c *Compiler) allocRun(n int) (int, error) {
	if n == 0 {
		return c.nextReg, nil
	}
	if c.nextReg+n > 256 {
		return 0, ErrRegisterExhausted
	}
	base := c.nextReg
	c.nextReg += n
	if c.nextReg > c.maxReg {
		c.maxReg = c.nextReg
	}
	return base, nil
}

func (c *Compiler) freeRun(base, n int) {
	for i := n - 1; i >= 0; i-- {
		c.free(base + i)
	}
}

func (c *Compiler) constNumber(n float64) int {
	if i, ok := c.constNumCache[n]; ok {
		return i
	}
	i, _ := c.chunk.AddConst(Const{Kind: ConstNumber, Num: n})
	c.constNumCache[n] = i
	return i
}

func (c *Compiler) constString(s string) int {
	h := c.strings.Intern(s)
	if i, ok := c.constStrCache[h]; ok {
		return i
	}
	i, _ := c.chunk.AddConst(Const{Kind: ConstString, Str: h})
	c.constStrCache[h] = i
	return i
}

func (c *Compiler) emit(op OpCode, a, b, cc int32, span Span) int {
	return c.chunk.Emit(Inst{Op: op, A: a, B: b, C: cc, Span: span})
}

// emitPushScope/emitPopScope wrap the scope ops that belong to the
// lexical block structure, keeping envDepth in sync. Scope pops on a
// break/continue path use raw emit: they replay pops the surrounding
// blocks will also emit on their own fall-through paths.
func (c *Compiler) emitPushScope(span Span) {
	c.emit(OpPushScope, 0, 0, 0, span)
	c.envDepth++
}

func (c *Compiler) emitPopScope(span Span) {
	c.emit(OpPopScope, 0, 0, 0, span)
	c.envDepth--
}

// CompileProgram compiles a whole program as the body of an implicit
// top-level function, with register 0 reserved for the completion
// value the embedder reads back.
func CompileProgram(prog *Program, strings *InternTable, source string) (*Chunk, error) {
	c := NewCompiler(strings, source)
	c.nextReg = 1 // register 0 reserved for OpCompletionValue
	c.pushScope(true)
	if err := c.hoistVars(prog.Body, true); err != nil {
		return nil, err
	}
	for _, s := range prog.Body {
		if err := c.compileStmt(s); err != nil {
			return nil, err
		}
	}
	c.emit(OpReturn, 0, 0, 0, prog.Span)
	c.popScope()
	c.chunk.FrameSize = c.maxReg
	return c.chunk, nil
}

func (c *Compiler) pushScope(isFunctionBoundary bool) {
	c.scopes = append(c.scopes, &compileScope{names: map[string]int{}, isFunctionBoundary: isFunctionBoundary})
}
func (c *Compiler) popScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
}

// hoistVars emits OpDeclareVarHoisted for every `var` and function
// declaration reachable without crossing a nested function boundary,
// before any statement runs. It does not pre-declare `let`/`const`/
// `class` names.
func (c *Compiler) hoistVars(body []Stmt, crossBlocks bool) error {
	for _, s := range body {
		if pv, ok := s.(*VarDecl); ok {
			s = *pv
		}
		switch st := s.(type) {
		case VarDecl:
			if st.Kind == DeclVar {
				for _, d := range st.Declarators {
					if err := c.hoistPatternNames(d.Target); err != nil {
						return err
					}
				}
			}
		case FunctionDecl:
			name := c.strings.Intern(st.Fn.Name)
			c.emit(OpDeclareVarHoisted, int32(name), 0, 0, st.Span)
		case IfStmt:
			if crossBlocks {
				if b, ok := st.Consequent.(*BlockStmt); ok {
					c.hoistVars(b.Body, crossBlocks)
				}
				if st.Alternate != nil {
					if b, ok := st.Alternate.(*BlockStmt); ok {
						c.hoistVars(b.Body, crossBlocks)
					}
				}
			}
		case *BlockStmt:
			if crossBlocks {
				c.hoistVars(st.Body, crossBlocks)
			}
		case ForStmt:
			if crossBlocks {
				if vd, ok := st.Init.(*VarDecl); ok && vd.Kind == DeclVar {
					for _, d := range vd.Declarators {
						c.hoistPatternNames(d.Target)
					}
				}
				if b, ok := st.Body.(*BlockStmt); ok {
					c.hoistVars(b.Body, crossBlocks)
				}
			}
		case ForInOfStmt:
			if crossBlocks {
				if b, ok := st.Body.(*BlockStmt); ok {
					c.hoistVars(b.Body, crossBlocks)
				}
			}
		case WhileStmt:
			if crossBlocks {
				if b, ok := st.Body.(*BlockStmt); ok {
					c.hoistVars(b.Body, crossBlocks)
				}
			}
		case TryStmt:
			if crossBlocks {
				c.hoistVars(st.Block.Body, crossBlocks)
				if st.Catch != nil {
					c.hoistVars(st.Catch.Body.Body, crossBlocks)
				}
				if st.Finally != nil {
					c.hoistVars(st.Finally.Body, crossBlocks)
				}
			}
		case ExportStmt:
			c.hoistVars([]Stmt{st.Decl}, crossBlocks)
		}
	}
	return nil
}

func (c *Compiler) hoistPatternNames(p Pattern) error {
	switch pt := p.(type) {
	case IdentifierPattern:
		name := c.strings.Intern(pt.Name)
		c.emit(OpDeclareVarHoisted, int32(name), 0, 0, pt.Span)
	case ArrayPattern:
		for _, el := range pt.Elements {
			if el != nil {
				c.hoistPatternNames(el)
			}
		}
		if pt.Rest != nil {
			c.hoistPatternNames(pt.Rest)
		}
	case ObjectPattern:
		for _, pr := range pt.Props {
			c.hoistPatternNames(pr.Value)
		}
		if pt.Rest != nil {
			c.hoistPatternNames(pt.Rest)
		}
	case AssignmentPattern:
		c.hoistPatternNames(pt.Target)
	case RestElement:
		c.hoistPatternNames(pt.Arg)
	}
	return nil
}

// ---- Statements ----

func (c *Compiler) compileStmt(s Stmt) error {
	switch st := s.(type) {
	case ExpressionStmt:
		r, err := c.compileExpr(st.Expr)
		if err != nil {
			return err
		}
		c.emit(OpCompletionValue, 0, int32(r), 0, st.Span)
		c.free(r)
		return nil
	case EmptyStmt:
		return nil
	case *BlockStmt:
		return c.compileBlock(st)
	case VarDecl:
		return c.compileVarDecl(&st)
	case *VarDecl:
		return c.compileVarDecl(st)
	case FunctionDecl:
		return c.compileFunctionDecl(&st)
	case ClassDecl:
		return c.compileClassDecl(&st)
	case IfStmt:
		return c.compileIf(&st)
	case ForStmt:
		return c.compileFor(&st)
	case ForInOfStmt:
		return c.compileForInOf(&st)
	case WhileStmt:
		return c.compileWhile(&st)
	case DoWhileStmt:
		return c.compileDoWhile(&st)
	case ReturnStmt:
		return c.compileReturn(&st)
	case BreakStmt:
		return c.compileBreak(&st)
	case ContinueStmt:
		return c.compileContinue(&st)
	case ThrowStmt:
		return c.compileThrow(&st)
	case TryStmt:
		return c.compileTry(&st)
	case SwitchStmt:
		return c.compileSwitch(&st)
	case LabeledStmt:
		return c.compileLabeled(&st)
	case EnumDecl:
		return c.compileEnum(&st)
	case NamespaceDecl:
		return c.compileNamespace(&st)
	case ExportStmt:
		return c.compileStmt(st.Decl)
	}
	return fmt.Errorf("tsvm: unhandled statement type %T", s)
}

func (c *Compiler) compileBlock(b *BlockStmt) error {
	c.emitPushScope(b.Span)
	c.pushScope(false)
	if err := c.hoistBlockLexical(b.Body); err != nil {
		return err
	}
	for _, s := range b.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.popScope()
	c.emitPopScope(b.Span)
	return nil
}

// hoistBlockLexical pre-declares `let`/`const` names bound to plain
// identifiers in TDZ for this block only (no cross-block traversal), so
// a reference earlier in the block to a later declaration correctly
// throws rather than reading an outer-scope binding. Class declarations
// and destructuring patterns are not pre-declared.
func (c *Compiler) hoistBlockLexical(body []Stmt) error {
	for _, s := range body {
		if pv, ok := s.(*VarDecl); ok {
			s = *pv
		}
		if vd, ok := s.(VarDecl); ok && vd.Kind != DeclVar {
			for _, d := range vd.Declarators {
				c.declareLexicalPattern(d.Target, vd.Kind)
			}
		}
	}
	return nil
}

func (c *Compiler) declareLexicalPattern(p Pattern, kind DeclKind) {
	if id, ok := p.(IdentifierPattern); ok {
		name := c.strings.Intern(id.Name)
		mutable := int32(0)
		if kind != DeclConst {
			mutable = 1
		}
		c.emit(OpDeclareVar, int32(name), mutable, 0, id.Span)
	}
}

func (c *Compiler) compileVarDecl(st *VarDecl) error {
	for _, d := range st.Declarators {
		if d.Init != nil {
			r, err := c.compileExpr(d.Init)
			if err != nil {
				return err
			}
			if err := c.bindPattern(d.Target, r, st.Kind); err != nil {
				return err
			}
			c.free(r)
		} else if st.Kind != DeclVar {
			if err := c.bindPatternUninitialized(d.Target, st.Kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// bindPattern destructures the value in register src into the names
// of pattern p, declaring (for let/const) or assigning (for var,
// already hoisted) each target.
func (c *Compiler) bindPattern(p Pattern, src int, kind DeclKind) error {
	switch pt := p.(type) {
	case IdentifierPattern:
		name := int32(c.strings.Intern(pt.Name))
		if kind == DeclVar {
			c.emit(OpSetVar, name, int32(src), 0, pt.Span)
		} else {
			mutable := int32(1)
			if kind == DeclConst {
				mutable = 0
			}
			c.emit(OpDeclareVar, name, mutable, 0, pt.Span)
			c.emit(OpInitVar, name, int32(src), 0, pt.Span)
		}
		return nil
	case ArrayPattern:
		return c.destructureArray(pt, src, kind)
	case ObjectPattern:
		return c.destructureObject(pt, src, kind)
	case AssignmentPattern:
		// Evaluate the default only if src is undefined.
		isUndef, err := c.alloc()
		if err != nil {
			return err
		}
		undef := c.undefinedConstReg()
		c.emit(OpStrictEq, int32(isUndef), int32(src), int32(undef), pt.Span)
		c.free(undef)
		skip := c.emit(OpJumpIfFalse, 0, int32(isUndef), 0, pt.Span)
		c.free(isUndef)
		defReg, err := c.compileExpr(pt.Default)
		if err != nil {
			return err
		}
		c.emit(OpMove, int32(src), int32(defReg), 0, pt.Span)
		c.free(defReg)
		c.chunk.Patch(skip, int32(len(c.chunk.Code)))
		return c.bindPattern(pt.Target, src, kind)
	case RestElement:
		return c.bindPattern(pt.Arg, src, kind)
	}
	return fmt.Errorf("tsvm: unhandled pattern %T", p)
}

// undefinedConstReg materializes `undefined` into a fresh register
// each time it is needed for a default-value comparison; the register
// is intentionally leaked to the scope's free pool by the caller.
func (c *Compiler) undefinedConstReg() int {
	r, _ := c.alloc()
	c.emit(OpLoadUndefined, int32(r), 0, 0, Span{})
	return r
}

func (c *Compiler) bindPatternUninitialized(p Pattern, kind DeclKind) error {
	if id, ok := p.(IdentifierPattern); ok {
		name := int32(c.strings.Intern(id.Name))
		mutable := int32(1)
		if kind == DeclConst {
			mutable = 0
		}
		c.emit(OpDeclareVar, name, mutable, 0, id.Span)
		return nil
	}
	return nil
}

func (c *Compiler) destructureArray(pt ArrayPattern, src int, kind DeclKind) error {
	iter, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpGetIterator, int32(iter), int32(src), 0, pt.Span)
	for _, el := range pt.Elements {
		val, err := c.alloc()
		if err != nil {
			return err
		}
		c.emit(OpIteratorNext, int32(iter), 0, 0, pt.Span)
		c.emit(OpIteratorValue, int32(val), int32(iter), 0, pt.Span)
		if el != nil {
			if err := c.bindPattern(el, val, kind); err != nil {
				return err
			}
		}
		c.free(val)
	}
	if pt.Rest != nil {
		arr, err := c.alloc()
		if err != nil {
			return err
		}
		c.emit(OpCreateArray, int32(arr), 0, 0, pt.Span)
		// C=1: the source register already holds a live iterator, drain
		// it from its current position.
		c.emit(OpSpreadInto, int32(arr), int32(iter), 1, pt.Span)
		if err := c.bindPattern(pt.Rest, arr, kind); err != nil {
			return err
		}
		c.free(arr)
	}
	c.free(iter)
	return nil
}

func (c *Compiler) destructureObject(pt ObjectPattern, src int, kind DeclKind) error {
	usedConsts := make([]int, 0, len(pt.Props))
	for _, pr := range pt.Props {
		val, err := c.alloc()
		if err != nil {
			return err
		}
		if pr.Computed {
			keyReg, err := c.compileExpr(pr.Key)
			if err != nil {
				return err
			}
			c.emit(OpGetPropComputed, int32(val), int32(src), int32(keyReg), pt.Span)
			c.free(keyReg)
		} else {
			ci := c.constString(propKeyName(pr.Key))
			c.emit(OpGetProp, int32(val), int32(src), int32(ci), pt.Span)
			usedConsts = append(usedConsts, ci)
		}
		if err := c.bindPattern(pr.Value, val, kind); err != nil {
			return err
		}
		c.free(val)
	}
	if pt.Rest != nil {
		// Rest copies every own enumerable property, then deletes the
		// ones the named patterns already consumed. Computed keys are
		// not excluded.
		rest, err := c.alloc()
		if err != nil {
			return err
		}
		c.emit(OpCreateObject, int32(rest), 0, 0, pt.Span)
		c.emit(OpSpreadInto, int32(rest), int32(src), 0, pt.Span)
		if len(usedConsts) > 0 {
			tmp, err := c.alloc()
			if err != nil {
				return err
			}
			for _, ci := range usedConsts {
				c.emit(OpDeleteProp, int32(tmp), int32(rest), int32(ci), pt.Span)
			}
			c.free(tmp)
		}
		if err := c.bindPattern(pt.Rest, rest, kind); err != nil {
			return err
		}
		c.free(rest)
	}
	return nil
}

func propKeyName(e Expr) string {
	switch k := e.(type) {
	case Identifier:
		return k.Name
	case StringLiteral:
		return k.Value
	}
	return ""
}

func (c *Compiler) compileFunctionDecl(st *FunctionDecl) error {
	r, err := c.compileFunctionExpr(st.Fn)
	if err != nil {
		return err
	}
	name := int32(c.strings.Intern(st.Fn.Name))
	c.emit(OpSetVar, name, int32(r), 0, st.Span)
	c.free(r)
	return nil
}

func (c *Compiler) compileClassDecl(st *ClassDecl) error {
	r, err := c.compileClassExpr(st.Class)
	if err != nil {
		return err
	}
	// Mutable so a class decorator's replacement value can rebind it.
	name := int32(c.strings.Intern(st.Class.Name))
	c.emit(OpDeclareVar, name, 1, 0, st.Span)
	c.emit(OpInitVar, name, int32(r), 0, st.Span)
	c.free(r)
	return nil
}

func (c *Compiler) compileIf(st *IfStmt) error {
	test, err := c.compileExpr(st.Test)
	if err != nil {
		return err
	}
	jf := c.emit(OpJumpIfFalse, 0, int32(test), 0, st.Span)
	c.free(test)
	if err := c.compileStmt(st.Consequent); err != nil {
		return err
	}
	if st.Alternate != nil {
		jend := c.emit(OpJump, 0, 0, 0, st.Span)
		c.chunk.Patch(jf, int32(len(c.chunk.Code)))
		if err := c.compileStmt(st.Alternate); err != nil {
			return err
		}
		c.chunk.Patch(jend, int32(len(c.chunk.Code)))
	} else {
		c.chunk.Patch(jf, int32(len(c.chunk.Code)))
	}
	return nil
}

func (c *Compiler) pushLoop(isLoop bool) *loopContext {
	lc := &loopContext{
		label:            c.pendingLoopLabel,
		isLoop:           isLoop,
		tryDepth:         len(c.tries),
		breakEnvDepth:    c.envDepth,
		continueEnvDepth: c.envDepth,
		iterReg:          -1,
	}
	c.pendingLoopLabel = ""
	c.loops = append(c.loops, lc)
	return lc
}

// findBreakTarget resolves a break statement's context: the innermost
// one when unlabeled, the matching labeled one otherwise. Switch and
// labeled-block contexts are valid break targets.
func (c *Compiler) findBreakTarget(label string) *loopContext {
	for i := len(c.loops) - 1; i >= 0; i-- {
		if label == "" || c.loops[i].label == label {
			return c.loops[i]
		}
	}
	return nil
}

// findContinueTarget resolves a continue statement's context; only
// real loops qualify, so `continue` inside a switch body targets the
// enclosing loop rather than the switch.
func (c *Compiler) findContinueTarget(label string) *loopContext {
	for i := len(c.loops) - 1; i >= 0; i-- {
		lc := c.loops[i]
		if !lc.isLoop {
			continue
		}
		if label == "" || lc.label == label {
			return lc
		}
	}
	return nil
}

// unwindForJump emits everything a break/continue must do before its
// jump: for each protected region being exited (innermost first), pop
// scopes down to the region's entry depth, pop the runtime try
// handler, and run its finally body; then pop any remaining scopes
// down to the depth the jump target expects.
func (c *Compiler) unwindForJump(lc *loopContext, targetEnvDepth int, span Span) error {
	depth := c.envDepth
	for i := len(c.tries) - 1; i >= lc.tryDepth; i-- {
		tc := c.tries[i]
		for ; depth > tc.envDepth; depth-- {
			c.emit(OpPopScope, 0, 0, 0, span)
		}
		c.emit(OpPopTry, 0, 0, 0, span)
		if tc.finally != nil {
			saved := c.tries
			savedDepth := c.envDepth
			c.tries = c.tries[:i]
			c.envDepth = depth
			err := c.compileBlock(tc.finally)
			c.tries = saved
			c.envDepth = savedDepth
			if err != nil {
				return err
			}
		}
	}
	for ; depth > targetEnvDepth; depth-- {
		c.emit(OpPopScope, 0, 0, 0, span)
	}
	return nil
}

func (c *Compiler) pushForRedirect(m map[string]int) {
	c.forRedirects = append(c.forRedirects, m)
}

func (c *Compiler) popForRedirect() {
	c.forRedirects = c.forRedirects[:len(c.forRedirects)-1]
}

func (c *Compiler) redirectReg(name string) (int, bool) {
	for i := len(c.forRedirects) - 1; i >= 0; i-- {
		if r, ok := c.forRedirects[i][name]; ok {
			return r, true
		}
	}
	return 0, false
}

func (c *Compiler) popLoop(continueTarget, breakTarget int32) {
	lc := c.loops[len(c.loops)-1]
	c.loops = c.loops[:len(c.loops)-1]
	for _, idx := range lc.continueTargets {
		c.chunk.Patch(idx, continueTarget)
	}
	for _, idx := range lc.breakTargets {
		c.chunk.Patch(idx, breakTarget)
	}
}

func (c *Compiler) compileFor(st *ForStmt) error {
	if names, ok := simpleLetLoopVars(st.Init); ok {
		return c.compileForPerIteration(st, names)
	}
	return c.compileForNaive(st)
}

// simpleLetLoopVars reports the loop-variable names of a `for (let|const
// ident[, ident...] =...;...)` header whose bindings are plain
// identifiers (no destructuring), which is the shape the per-iteration
// binding protocol applies to. Anything else (no Init, `var`,
// or a destructuring target) returns ok=false and falls back to the
// naive lowering, since `var` is function-scoped and shares one binding
// by design and destructuring loop headers are rare enough not to be
// worth the register bookkeeping below.
func simpleLetLoopVars(init Stmt) ([]string, bool) {
	if pv, ok := init.(*VarDecl); ok {
		init = *pv
	}
	vd, ok := init.(VarDecl)
	if !ok || vd.Kind == DeclVar {
		return nil, false
	}
	names := make([]string, 0, len(vd.Declarators))
	for _, d := range vd.Declarators {
		id, ok := d.Target.(IdentifierPattern)
		if !ok {
			return nil, false
		}
		names = append(names, id.Name)
	}
	return names, true
}

// compileForNaive lowers a `for` loop whose Init does not declare fresh
// per-iteration `let` bindings (no Init, or a `var` declaration): one
// scope wraps the whole loop, reused by every iteration.
func (c *Compiler) compileForNaive(st *ForStmt) error {
	c.emitPushScope(st.Span)
	c.pushScope(false)
	if st.Init != nil {
		if err := c.compileStmt(st.Init); err != nil {
			return err
		}
	}
	lc := c.pushLoop(true)
	condStart := int32(len(c.chunk.Code))
	var jf int
	if st.Test != nil {
		test, err := c.compileExpr(st.Test)
		if err != nil {
			return err
		}
		jf = c.emit(OpJumpIfFalse, 0, int32(test), 0, st.Span)
		c.free(test)
	} else {
		jf = -1
	}
	c.emitPushScope(st.Span)
	lc.continueEnvDepth = c.envDepth
	if err := c.compileStmt(st.Body); err != nil {
		return err
	}
	continueTarget := int32(len(c.chunk.Code))
	c.emitPopScope(st.Span)
	if st.Update != nil {
		u, err := c.compileExpr(st.Update)
		if err != nil {
			return err
		}
		c.free(u)
	}
	c.emit(OpJump, condStart, 0, 0, st.Span)
	breakTarget := int32(len(c.chunk.Code))
	if jf >= 0 {
		c.chunk.Patch(jf, breakTarget)
	}
	c.popLoop(continueTarget, breakTarget)
	_ = lc
	c.popScope()
	c.emitPopScope(st.Span)
	return nil
}

// compileForPerIteration implements the per-iteration binding protocol
// of `for (let ...)`: the
// loop variables live in dedicated registers between iterations; each
// iteration gets a fresh environment declaring them from those
// registers (so closures created in the body capture a binding private
// to that iteration); after the body runs, the possibly body-mutated
// values are copied back into the registers before the iteration's
// environment is discarded; the update clause, if present, then reads
// and writes those registers directly (via forRedirects) rather than
// the environment, so it never mutates a binding a same-iteration
// closure already captured.
func (c *Compiler) compileForPerIteration(st *ForStmt, names []string) error {
	init := st.Init
	if pv, ok := init.(*VarDecl); ok {
		init = *pv
	}
	vd := init.(VarDecl)
	mutable := int32(1)
	if vd.Kind == DeclConst {
		mutable = 0
	}

	c.emitPushScope(st.Span)
	c.pushScope(false)
	if err := c.compileStmt(st.Init); err != nil {
		return err
	}
	regs := make(map[string]int, len(names))
	for _, name := range names {
		r, err := c.alloc()
		if err != nil {
			return err
		}
		c.emit(OpGetVar, int32(r), int32(c.strings.Intern(name)), 0, st.Span)
		regs[name] = r
	}

	lc := c.pushLoop(true)
	topOfIter := int32(len(c.chunk.Code))

	c.emitPushScope(st.Span)
	c.pushScope(false)
	lc.breakEnvDepth = c.envDepth
	lc.continueEnvDepth = c.envDepth
	for _, name := range names {
		nameHandle := int32(c.strings.Intern(name))
		c.emit(OpDeclareVar, nameHandle, mutable, 0, st.Span)
		c.emit(OpInitVar, nameHandle, int32(regs[name]), 0, st.Span)
	}

	var jf int
	if st.Test != nil {
		test, err := c.compileExpr(st.Test)
		if err != nil {
			return err
		}
		jf = c.emit(OpJumpIfFalse, 0, int32(test), 0, st.Span)
		c.free(test)
	} else {
		jf = -1
	}

	if err := c.compileStmt(st.Body); err != nil {
		return err
	}

	continueTarget := int32(len(c.chunk.Code))
	for _, name := range names {
		c.emit(OpGetVar, int32(regs[name]), int32(c.strings.Intern(name)), 0, st.Span)
	}
	c.popScope()
	c.emitPopScope(st.Span)

	if st.Update != nil {
		c.pushForRedirect(regs)
		u, err := c.compileExpr(st.Update)
		c.popForRedirect()
		if err != nil {
			return err
		}
		c.free(u)
	}

	c.emit(OpJump, topOfIter, 0, 0, st.Span)
	// Both the test-failure jump and any break land here with the
	// current iteration's scope still active; pop it, then the header
	// scope.
	breakTarget := int32(len(c.chunk.Code))
	if jf >= 0 {
		c.chunk.Patch(jf, breakTarget)
	}
	c.popLoop(continueTarget, breakTarget)
	for _, r := range regs {
		c.free(r)
	}
	c.emit(OpPopScope, 0, 0, 0, st.Span)
	c.popScope()
	c.emitPopScope(st.Span)
	return nil
}

func (c *Compiler) compileForInOf(st *ForInOfStmt) error {
	c.emitPushScope(st.Span)
	c.pushScope(false)
	right, err := c.compileExpr(st.Right)
	if err != nil {
		return err
	}
	iter, err := c.alloc()
	if err != nil {
		return err
	}
	if st.Kind == ForIn {
		c.emit(OpGetKeysIterator, int32(iter), int32(right), 0, st.Span)
	} else if st.IsAwait {
		c.emit(OpGetAsyncIterator, int32(iter), int32(right), 0, st.Span)
	} else {
		c.emit(OpGetIterator, int32(iter), int32(right), 0, st.Span)
	}
	c.free(right)

	lc := c.pushLoop(true)
	lc.iterReg = iter
	loopStart := int32(len(c.chunk.Code))
	c.emit(OpIteratorNext, int32(iter), 0, 0, st.Span)
	if st.IsAwait {
		c.emit(OpAwait, int32(iter), int32(iter), 0, st.Span)
	}
	done, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpIteratorDone, int32(done), int32(iter), 0, st.Span)
	jend := c.emit(OpJumpIfTrue, 0, int32(done), 0, st.Span)
	c.free(done)

	val, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpIteratorValue, int32(val), int32(iter), 0, st.Span)
	c.emitPushScope(st.Span)
	kind := DeclLet
	var target Pattern
	if vd, ok := st.Left.(VarDecl); ok {
		kind = vd.Kind
		target = vd.Declarators[0].Target
	} else if es, ok := st.Left.(ExpressionStmt); ok {
		pat, perr := exprToPattern(es.Expr)
		if perr != nil {
			return perr
		}
		target = pat
		kind = DeclVar
	}
	if target != nil {
		if err := c.bindPattern(target, val, kind); err != nil {
			return err
		}
	}
	c.free(val)
	if err := c.compileStmt(st.Body); err != nil {
		return err
	}
	c.emitPopScope(st.Span)
	c.emit(OpJump, loopStart, 0, 0, st.Span)
	breakTarget := int32(len(c.chunk.Code))
	c.chunk.Patch(jend, breakTarget)
	c.popLoop(loopStart, breakTarget)
	_ = lc
	c.free(iter)
	c.popScope()
	c.emitPopScope(st.Span)
	return nil
}

func (c *Compiler) compileWhile(st *WhileStmt) error {
	lc := c.pushLoop(true)
	start := int32(len(c.chunk.Code))
	test, err := c.compileExpr(st.Test)
	if err != nil {
		return err
	}
	jf := c.emit(OpJumpIfFalse, 0, int32(test), 0, st.Span)
	c.free(test)
	if err := c.compileStmt(st.Body); err != nil {
		return err
	}
	c.emit(OpJump, start, 0, 0, st.Span)
	end := int32(len(c.chunk.Code))
	c.chunk.Patch(jf, end)
	c.popLoop(start, end)
	_ = lc
	return nil
}

func (c *Compiler) compileDoWhile(st *DoWhileStmt) error {
	lc := c.pushLoop(true)
	start := int32(len(c.chunk.Code))
	if err := c.compileStmt(st.Body); err != nil {
		return err
	}
	continueTarget := int32(len(c.chunk.Code))
	test, err := c.compileExpr(st.Test)
	if err != nil {
		return err
	}
	c.emit(OpJumpIfTrue, start, int32(test), 0, st.Span)
	c.free(test)
	end := int32(len(c.chunk.Code))
	c.popLoop(continueTarget, end)
	_ = lc
	return nil
}

func (c *Compiler) compileReturn(st *ReturnStmt) error {
	if st.Arg == nil {
		c.emit(OpReturnUndefined, 0, 0, 0, st.Span)
		return nil
	}
	r, err := c.compileExpr(st.Arg)
	if err != nil {
		return err
	}
	c.emit(OpReturn, int32(r), 0, 0, st.Span)
	c.free(r)
	return nil
}

func (c *Compiler) compileBreak(st *BreakStmt) error {
	lc := c.findBreakTarget(st.Label)
	if lc == nil {
		return &SyntaxError{Message: "illegal break statement", Span: st.Span}
	}
	c.emitIteratorCloses(lc, true, st.Span)
	if err := c.unwindForJump(lc, lc.breakEnvDepth, st.Span); err != nil {
		return err
	}
	idx := c.emit(OpJump, 0, 0, 0, st.Span)
	lc.breakTargets = append(lc.breakTargets, idx)
	return nil
}

func (c *Compiler) compileContinue(st *ContinueStmt) error {
	lc := c.findContinueTarget(st.Label)
	if lc == nil {
		return &SyntaxError{Message: "illegal continue statement", Span: st.Span}
	}
	c.emitIteratorCloses(lc, false, st.Span)
	if err := c.unwindForJump(lc, lc.continueEnvDepth, st.Span); err != nil {
		return err
	}
	idx := c.emit(OpJump, 0, 0, 0, st.Span)
	lc.continueTargets = append(lc.continueTargets, idx)
	return nil
}

// emitIteratorCloses closes the iterator of every for-in/of loop a
// break/continue exits, innermost first. A break exits its target
// loop too; a continue keeps the target's iterator running.
func (c *Compiler) emitIteratorCloses(target *loopContext, includeTarget bool, span Span) {
	for i := len(c.loops) - 1; i >= 0; i-- {
		lc := c.loops[i]
		if lc == target && !includeTarget {
			return
		}
		if lc.iterReg >= 0 {
			c.emit(OpIteratorClose, int32(lc.iterReg), 0, 0, span)
		}
		if lc == target {
			return
		}
	}
}

func (c *Compiler) compileThrow(st *ThrowStmt) error {
	r, err := c.compileExpr(st.Arg)
	if err != nil {
		return err
	}
	c.emit(OpThrow, int32(r), 0, 0, st.Span)
	c.free(r)
	return nil
}

func (c *Compiler) compileTry(st *TryStmt) error {
	// try/catch/finally splits into two nested protected regions, so a
	// throw out of the catch body still runs the finally.
	if st.Catch != nil && st.Finally != nil {
		inner := TryStmt{base: base{st.Span}, Block: st.Block, Catch: st.Catch}
		outer := TryStmt{
			base:    base{st.Span},
			Block:   &BlockStmt{base: base{st.Span}, Body: []Stmt{inner}},
			Finally: st.Finally,
		}
		return c.compileTry(&outer)
	}
	hasCatch, hasFinally := int32(0), int32(0)
	if st.Catch != nil {
		hasCatch = 1
	}
	if st.Finally != nil {
		hasFinally = 1
	}
	pushIdx := c.emit(OpPushTry, 0, hasCatch, hasFinally, st.Span)
	c.tries = append(c.tries, &tryContext{finally: st.Finally, envDepth: c.envDepth})
	if err := c.compileBlock(st.Block); err != nil {
		return err
	}
	c.tries = c.tries[:len(c.tries)-1]
	c.emit(OpPopTry, 0, 0, 0, st.Span)
	jend := c.emit(OpJump, 0, 0, 0, st.Span)

	catchStart := int32(len(c.chunk.Code))
	if st.Catch != nil {
		c.emitPushScope(st.Span)
		c.pushScope(false)
		if st.Catch.Param != nil {
			exc, err := c.alloc()
			if err != nil {
				return err
			}
			c.emit(OpGetException, int32(exc), 0, 0, st.Span)
			if err := c.bindPattern(st.Catch.Param, exc, DeclLet); err != nil {
				return err
			}
			c.free(exc)
		}
		for _, s := range st.Catch.Body.Body {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
		c.popScope()
		c.emitPopScope(st.Span)
	}
	jendCatch := c.emit(OpJump, 0, 0, 0, st.Span)

	finallyStart := int32(len(c.chunk.Code))
	if st.Finally != nil {
		if err := c.compileBlock(st.Finally); err != nil {
			return err
		}
		c.emit(OpFinallyEnd, 0, 0, 0, st.Span)
	}
	afterAll := int32(len(c.chunk.Code))

	c.chunk.Patch(pushIdx, catchStart)
	finallyPC := int32(-1)
	if st.Finally != nil {
		finallyPC = finallyStart
	}
	c.chunk.Code[pushIdx].C = finallyPC
	if st.Finally == nil {
		c.chunk.Patch(jend, afterAll)
		c.chunk.Patch(jendCatch, afterAll)
	} else {
		c.chunk.Patch(jend, finallyStart)
		c.chunk.Patch(jendCatch, finallyStart)
	}
	return nil
}

func (c *Compiler) compileSwitch(st *SwitchStmt) error {
	disc, err := c.compileExpr(st.Disc)
	if err != nil {
		return err
	}
	lc := c.pushLoop(false) // break target only; continue passes through to the enclosing loop
	caseJumps := make([]int, len(st.Cases))
	defaultIdx := -1
	for i, cs := range st.Cases {
		if cs.Test == nil {
			defaultIdx = i
			continue
		}
		t, err := c.compileExpr(cs.Test)
		if err != nil {
			return err
		}
		eq, err := c.alloc()
		if err != nil {
			return err
		}
		c.emit(OpStrictEq, int32(eq), int32(disc), int32(t), st.Span)
		c.free(t)
		caseJumps[i] = c.emit(OpJumpIfTrue, 0, int32(eq), 0, st.Span)
		c.free(eq)
	}
	// No test matched: jump to the default body when there is one,
	// past the whole switch otherwise.
	defaultJump := c.emit(OpJump, 0, 0, 0, st.Span)
	c.free(disc)

	// Bodies stay in source order so fall-through works, including
	// into and out of a default clause in mid-position.
	for i, cs := range st.Cases {
		here := int32(len(c.chunk.Code))
		if i == defaultIdx {
			c.chunk.Patch(defaultJump, here)
		} else {
			c.chunk.Patch(caseJumps[i], here)
		}
		for _, s := range cs.Body {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
	}
	end := int32(len(c.chunk.Code))
	if defaultIdx < 0 {
		c.chunk.Patch(defaultJump, end)
	}
	c.popLoop(end, end)
	_ = lc
	return nil
}

func (c *Compiler) compileLabeled(st *LabeledStmt) error {
	switch st.Body.(type) {
	case ForStmt, ForInOfStmt, WhileStmt, DoWhileStmt:
		// The label belongs to the loop itself, so `continue label`
		// resolves to the loop's continue target rather than its end.
		c.pendingLoopLabel = st.Label
		return c.compileStmt(st.Body)
	}
	c.pendingLoopLabel = st.Label
	lc := c.pushLoop(false)
	if err := c.compileStmt(st.Body); err != nil {
		return err
	}
	end := int32(len(c.chunk.Code))
	c.popLoop(end, end)
	_ = lc
	return nil
}

// compileEnum lowers `enum E { A, B }` to a namespace-like plain
// object with numeric or auto-incremented members plus the reverse
// numeric-to-name mapping for non-const numeric enums.
func (c *Compiler) compileEnum(st *EnumDecl) error {
	obj, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpCreateObject, int32(obj), 0, 0, st.Span)
	// Member initializers may reference earlier members by bare name
	// (`B = A * 2`); each member's value register stays live until the
	// whole enum is built and a redirect maps the name onto it.
	memberRegs := make(map[string]int, len(st.Members))
	c.pushForRedirect(memberRegs)
	defer c.popForRedirect()
	next := 0.0
	for _, m := range st.Members {
		var valReg int
		numeric := false
		if m.Init != nil {
			if nl, ok := m.Init.(NumberLiteral); ok {
				numeric = true
				next = nl.Value
			}
			r, err := c.compileExpr(m.Init)
			if err != nil {
				return err
			}
			valReg = r
		} else {
			numeric = true
			valReg, err = c.alloc()
			if err != nil {
				return err
			}
			numCi := c.constNumber(next)
			c.emit(OpLoadConst, int32(valReg), int32(numCi), 0, st.Span)
		}
		ci := c.constString(m.Name)
		c.emit(OpSetProp, int32(obj), int32(ci), int32(valReg), st.Span)
		if !st.Const && numeric {
			// Reverse mapping enum[value] = name, numeric members only.
			nameReg, err := c.alloc()
			if err != nil {
				return err
			}
			c.emit(OpLoadConst, int32(nameReg), int32(ci), 0, st.Span)
			c.emit(OpSetPropComputed, int32(obj), int32(valReg), int32(nameReg), st.Span)
			c.free(nameReg)
		}
		next++
		memberRegs[m.Name] = valReg
	}
	for _, r := range memberRegs {
		c.free(r)
	}
	name := int32(c.strings.Intern(st.Name))
	c.emit(OpDeclareVar, name, 1, 0, st.Span)
	c.emit(OpInitVar, name, int32(obj), 0, st.Span)
	c.free(obj)
	return nil
}

// compileNamespace lowers `namespace N {... export... }` to a plain
// object whose exported members become its properties.
func (c *Compiler) compileNamespace(st *NamespaceDecl) error {
	obj, err := c.alloc()
	if err != nil {
		return err
	}
	// Reuse an existing binding's object so a reopened namespace
	// merges into it; otherwise create and bind a fresh one. Binding
	// before the body runs lets the body reference the namespace by
	// name.
	name := int32(c.strings.Intern(st.Name))
	c.emit(OpTryGetVar, int32(obj), name, 0, st.Span)
	jreuse := c.emit(OpJumpIfTrue, 0, int32(obj), 0, st.Span)
	c.emit(OpCreateObject, int32(obj), 0, 0, st.Span)
	c.emit(OpDeclareVar, name, 1, 0, st.Span)
	c.emit(OpInitVar, name, int32(obj), 0, st.Span)
	c.chunk.Patch(jreuse, int32(len(c.chunk.Code)))
	c.emitPushScope(st.Span)
	c.pushScope(true)
	if err := c.hoistVars(st.Body, true); err != nil {
		return err
	}
	for _, s := range st.Body {
		if err := c.compileStmt(s); err != nil {
			return err
		}
		if exp, ok := s.(ExportStmt); ok {
			if err := c.copyExportedToNamespace(exp.Decl, obj); err != nil {
				return err
			}
		}
	}
	c.popScope()
	c.emitPopScope(st.Span)
	c.free(obj)
	return nil
}

func (c *Compiler) copyExportedToNamespace(decl Stmt, nsReg int) error {
	if pv, ok := decl.(*VarDecl); ok {
		decl = *pv
	}
	var name string
	switch d := decl.(type) {
	case FunctionDecl:
		name = d.Fn.Name
	case ClassDecl:
		name = d.Class.Name
	case VarDecl:
		for _, dd := range d.Declarators {
			if id, ok := dd.Target.(IdentifierPattern); ok {
				v, err := c.alloc()
				if err != nil {
					return err
				}
				c.emit(OpGetVar, int32(v), int32(c.strings.Intern(id.Name)), 0, d.Span)
				ci := c.constString(id.Name)
				c.emit(OpSetProp, int32(nsReg), int32(ci), int32(v), d.Span)
				c.free(v)
			}
		}
		return nil
	default:
		return nil
	}
	if name == "" {
		return nil
	}
	v, err := c.alloc()
	if err != nil {
		return err
	}
	c.emit(OpGetVar, int32(v), int32(c.strings.Intern(name)), 0, decl.NodeSpan())
	ci := c.constString(name)
	c.emit(OpSetProp, int32(nsReg), int32(ci), int32(v), decl.NodeSpan())
	c.free(v)
	return nil
}
