package vm

// Loop selectors are installed as compiled bytecode methods rather than
// Go primitives. Their block activations land on the ordinary frame
// stack, so a non-local return out of the body unwinds through the loop
// like through any other send. The code generator additionally inlines
// these selectors when the argument is a literal block; the methods here
// cover block values that arrive through variables.

// installCompiled builds a bytecode method and installs it on c.
func installCompiled(vm *VM, c *Class, name string, arity, numTemps int,
	build func(b *BytecodeBuilder)) {

	m := NewCompiledMethod(name, arity)
	m.NumTemps = numTemps
	b := NewBytecodeBuilder()
	build(b)
	m.Bytecode = b.Bytes()
	m.SetSelector(vm.Selectors.Intern(name))
	m.SetClass(c)
	c.InstallMethod(m.Selector(), m)
}

// registerControlMethods installs the conditional selectors on Boolean.
// These are reached only when the code generator could not inline the
// send (the block argument arrived through a variable).
func registerControlMethods(vm *VM) {
	// Boolean>>ifTrue: aBlock
	installCompiled(vm, vm.BooleanClass, "ifTrue:", 1, 1, func(b *BytecodeBuilder) {
		els := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitJump(OpJumpFalse, els)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
		b.Mark(els)
		b.Emit(OpReturnNil)
	})

	// Boolean>>ifFalse: aBlock
	installCompiled(vm, vm.BooleanClass, "ifFalse:", 1, 1, func(b *BytecodeBuilder) {
		els := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitJump(OpJumpTrue, els)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
		b.Mark(els)
		b.Emit(OpReturnNil)
	})

	// Boolean>>ifTrue: thenBlock ifFalse: elseBlock
	installCompiled(vm, vm.BooleanClass, "ifTrue:ifFalse:", 2, 2, func(b *BytecodeBuilder) {
		els := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitJump(OpJumpFalse, els)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
		b.Mark(els)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
	})

	// Boolean>>and: aBlock
	installCompiled(vm, vm.BooleanClass, "and:", 1, 1, func(b *BytecodeBuilder) {
		short := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitJump(OpJumpFalse, short)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
		b.Mark(short)
		b.Emit(OpPushFalse)
		b.Emit(OpReturnTop)
	})

	// Boolean>>or: aBlock
	installCompiled(vm, vm.BooleanClass, "or:", 1, 1, func(b *BytecodeBuilder) {
		short := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitJump(OpJumpTrue, short)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
		b.Mark(short)
		b.Emit(OpPushTrue)
		b.Emit(OpReturnTop)
	})
}

func registerLoopMethods(vm *VM) {
	selSize := uint16(vm.Selectors.Intern("size"))
	selAt := uint16(vm.Selectors.Intern("at:"))

	// Block>>whileTrue: aBlock
	// Evaluate the receiver; while it answers true, evaluate aBlock.
	installCompiled(vm, vm.BlockClass, "whileTrue:", 1, 1, func(b *BytecodeBuilder) {
		loop := b.NewLabel()
		end := b.NewLabel()
		b.Mark(loop)
		b.Emit(OpPushSelf)
		b.Emit(OpSendValue)
		b.EmitJump(OpJumpFalse, end)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
		b.Mark(end)
		b.Emit(OpReturnNil)
	})

	// Block>>whileFalse: aBlock
	installCompiled(vm, vm.BlockClass, "whileFalse:", 1, 1, func(b *BytecodeBuilder) {
		loop := b.NewLabel()
		end := b.NewLabel()
		b.Mark(loop)
		b.Emit(OpPushSelf)
		b.Emit(OpSendValue)
		b.EmitJump(OpJumpTrue, end)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpPOP)
		b.EmitJump(OpJump, loop)
		b.Mark(end)
		b.Emit(OpReturnNil)
	})

	// Integer>>to: stop do: aBlock
	// temps: stop, aBlock, i
	installCompiled(vm, vm.IntegerClass, "to:do:", 2, 3, func(b *BytecodeBuilder) {
		loop := b.NewLabel()
		end := b.NewLabel()
		b.Emit(OpPushSelf)
		b.EmitByte(OpStoreTemp, 2)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 2)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendGT)
		b.EmitJump(OpJumpTrue, end)
		b.EmitByte(OpPushTemp, 1)
		b.EmitByte(OpPushTemp, 2)
		b.Emit(OpSendValue1)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 2)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.EmitByte(OpStoreTemp, 2)
		b.EmitJump(OpJump, loop)
		b.Mark(end)
		b.Emit(OpReturnSelf)
	})

	// Integer>>timesRepeat: aBlock
	// temps: aBlock, i
	installCompiled(vm, vm.IntegerClass, "timesRepeat:", 1, 2, func(b *BytecodeBuilder) {
		loop := b.NewLabel()
		end := b.NewLabel()
		b.EmitInt8(OpPushInt8, 1)
		b.EmitByte(OpStoreTemp, 1)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpPushSelf)
		b.Emit(OpSendGT)
		b.EmitJump(OpJumpTrue, end)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 1)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.EmitByte(OpStoreTemp, 1)
		b.EmitJump(OpJump, loop)
		b.Mark(end)
		b.Emit(OpReturnSelf)
	})

	// Array>>do: aBlock
	// temps: aBlock, i
	installCompiled(vm, vm.ArrayClass, "do:", 1, 2, func(b *BytecodeBuilder) {
		loop := b.NewLabel()
		end := b.NewLabel()
		b.EmitInt8(OpPushInt8, 1)
		b.EmitByte(OpStoreTemp, 1)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpPushSelf)
		b.EmitSend(OpSend, selSize, 0)
		b.Emit(OpSendGT)
		b.EmitJump(OpJumpTrue, end)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpPushSelf)
		b.EmitByte(OpPushTemp, 1)
		b.EmitSend(OpSend, selAt, 1)
		b.Emit(OpSendValue1)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 1)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.EmitByte(OpStoreTemp, 1)
		b.EmitJump(OpJump, loop)
		b.Mark(end)
		b.Emit(OpReturnSelf)
	})
}
