// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

// classKeyOperand packs how a member key is to be read at runtime:
// Computed true means the operand is a register holding the
// already-evaluated key value (computed keys run once, left to right,
// at class-definition time); otherwise it is a
// constant-pool string index, the same convention compileObjectLiteral
// uses for its own non-computed property keys.
type classKeyOperand struct {
	Operand  int
	Computed bool
}

// compileClassKey evaluates a member's key exactly once, in source
// order, before the member's value is compiled -- matching the order
// class fields and methods are defined at runtime.
func (c *Compiler) compileClassKey(m *ClassMember) (classKeyOperand, error) {
	if m.Computed {
		r, err := c.compileExpr(m.Key)
		if err != nil {
			return classKeyOperand{}, err
		}
		return classKeyOperand{Operand: r, Computed: true}, nil
	}
	if pid, ok := m.Key.(PrivateIdentifier); ok {
		return classKeyOperand{Operand: c.constString(pid.Name)}, nil
	}
	return classKeyOperand{Operand: c.constString(propKeyName(m.Key))}, nil
}

// classMemberFlags packs static/computed/setter bits into the Span
// fields of the defining instruction, the one place left on Inst to
// carry extra operands beyond A/B/C.
func setClassMemberFlags(inst *Inst, static, computed, isSetter bool) {
	computedBit := 0
	if computed {
		computedBit = 1
	}
	inst.Span.Start.Offset = computedBit
	flags := 0
	if static {
		flags |= 1
	}
	if isSetter {
		flags |= 2
	}
	inst.Span.End.Offset = flags
}

// compileClassExpr lowers a class body into a CreateClass + a
// sequence of member-definition instructions: field initializers
// evaluated once, in declaration order, while the class is defined
// (the VM copies each instance field's value onto every new instance
// before the constructor body runs; initializers are not re-evaluated
// per instance), methods and accessors installed once on the
// prototype, decorators applied bottom-up after every member exists.
func (c *Compiler) compileClassExpr(cls *ClassExpr) (int, error) {
	superReg := NullReg
	if cls.Super != nil {
		r, err := c.compileExpr(cls.Super)
		if err != nil {
			return 0, err
		}
		superReg = r
	}
	nameCi := -1
	if cls.Name != "" {
		nameCi = c.constString(cls.Name)
	}
	classReg, err := c.alloc()
	if err != nil {
		return 0, err
	}
	superArg := int32(NullReg)
	if superReg != NullReg {
		superArg = int32(superReg)
	}
	c.emit(OpCreateClass, int32(classReg), superArg, int32(nameCi), cls.Span)
	if superReg != NullReg {
		c.free(superReg)
	}

	for i := range cls.Members {
		m := &cls.Members[i]
		if m.Kind == MemberStaticBlock {
			if err := c.compileStaticBlock(classReg, m.Body, cls.Span); err != nil {
				return 0, err
			}
			continue
		}
		if err := c.compileClassMember(classReg, m); err != nil {
			return 0, err
		}
	}

	for i := len(cls.Decorators) - 1; i >= 0; i-- {
		decReg, err := c.compileExpr(cls.Decorators[i])
		if err != nil {
			return 0, err
		}
		c.emit(OpApplyClassDecorator, int32(classReg), int32(decReg), 0, cls.Span)
		c.free(decReg)
	}
	return classReg, nil
}

func (c *Compiler) compileClassMember(classReg int, m *ClassMember) error {
	key, err := c.compileClassKey(m)
	if err != nil {
		return err
	}
	defer func() {
		if key.Computed {
			c.free(key.Operand)
		}
	}()

	switch m.Kind {
	case MemberMethod:
		fn := m.Value.(FunctionExpr)
		valReg, err := c.compileFunctionExpr(&fn)
		if err != nil {
			return err
		}
		op := OpDefineMethod
		if m.Private {
			op = OpDefinePrivateMethod
		}
		idx := c.emit(op, int32(classReg), int32(key.Operand), int32(valReg), m.Key.NodeSpan())
		setClassMemberFlags(&c.chunk.Code[idx], m.Static, key.Computed, false)
		c.free(valReg)
	case MemberGetter, MemberSetter:
		fn := m.Value.(FunctionExpr)
		valReg, err := c.compileFunctionExpr(&fn)
		if err != nil {
			return err
		}
		idx := c.emit(OpDefineAccessor, int32(classReg), int32(key.Operand), int32(valReg), m.Key.NodeSpan())
		setClassMemberFlags(&c.chunk.Code[idx], m.Static, key.Computed, m.Kind == MemberSetter)
		c.free(valReg)
	case MemberField:
		var valReg int
		if m.Value != nil {
			r, err := c.compileFieldInitializer(classReg, m.Value, m.Static)
			if err != nil {
				return err
			}
			valReg = r
		} else {
			valReg = c.undefinedConstReg()
		}
		op := OpDefineField
		if m.Private {
			op = OpDefinePrivateField
		}
		idx := c.emit(op, int32(classReg), int32(key.Operand), int32(valReg), m.Key.NodeSpan())
		setClassMemberFlags(&c.chunk.Code[idx], m.Static, key.Computed, false)
		c.free(valReg)
	}
	return nil
}

// compileFieldInitializer compiles a field initializer as its own
// nested closure and immediately invokes it while the class is being
// defined: `this` inside it is the class for static fields and
// undefined for instance fields, never a constructed instance. That
// closure is never observable so no constant-pool entry beyond the
// one nested Chunk is needed.
func (c *Compiler) compileFieldInitializer(classReg int, init Expr, static bool) (int, error) {
	fn := FunctionExpr{Body: []Stmt{ReturnStmt{base{init.NodeSpan()}, init}}, ExprBody: true}
	closureReg, err := c.compileFunctionExpr(&fn)
	if err != nil {
		return 0, err
	}
	thisArg := NullReg
	if static {
		thisArg = classReg
	}
	result, err := c.emitCallWithRegs(closureReg, thisArg, nil, init.NodeSpan())
	if err != nil {
		return 0, err
	}
	c.free(closureReg)
	return result, nil
}

// compileStaticBlock compiles a `static {... }` block as a nested
// closure bound to the class itself and runs it immediately in
// declaration order, matching how field initializers run.
func (c *Compiler) compileStaticBlock(classReg int, body []Stmt, span Span) error {
	fn := FunctionExpr{Body: body}
	closureReg, err := c.compileFunctionExpr(&fn)
	if err != nil {
		return err
	}
	result, err := c.emitCallWithRegs(closureReg, classReg, nil, span)
	if err != nil {
		return err
	}
	c.free(result)
	c.free(closureReg)
	return nil
}
