package vm

import (
	"errors"
	"strings"
	"testing"
)

// buildMethod assembles a compiled method without going through the
// compiler package.
func buildMethod(machine *VM, name string, arity, numTemps int, build func(b *BytecodeBuilder)) *CompiledMethod {
	m := NewCompiledMethod(name, arity)
	m.NumTemps = numTemps
	b := NewBytecodeBuilder()
	build(b)
	m.Bytecode = b.Bytes()
	m.SetSelector(machine.Selectors.Intern(name))
	return m
}

// addBlock attaches a block body to a method and returns its index.
func addBlock(m *CompiledMethod, arity, numTemps int, build func(b *BytecodeBuilder)) int {
	blk := NewBlockMethod(arity)
	blk.NumTemps = numTemps
	b := NewBytecodeBuilder()
	build(b)
	blk.Bytecode = b.Bytes()
	blk.Outer = m
	m.Blocks = append(m.Blocks, blk)
	return len(m.Blocks) - 1
}

func install(machine *VM, c *Class, m *CompiledMethod) {
	m.SetClass(c)
	c.InstallMethod(m.Selector(), m)
}

func runOn(t *testing.T, machine *VM, recv Value, sel string, args ...Value) Value {
	t.Helper()
	result, err := machine.Send(recv, sel, args...)
	if err != nil {
		t.Fatalf("%s failed: %v", sel, err)
	}
	return result
}

func newTestReceiver(t *testing.T, machine *VM, name string) (Value, *Class) {
	t.Helper()
	c := machine.DefineClass(name, machine.ObjectClass, nil)
	inst := machine.NewInstance(c)
	t.Cleanup(func() { machine.Heap.Release(inst) })
	return inst, c
}

// ---------------------------------------------------------------------------
// Straight-line execution
// ---------------------------------------------------------------------------

func TestRunArithmeticBytecode(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Calc")

	// ^3 + 4 * 2 (left to right)
	m := buildMethod(machine, "compute", 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 3)
		b.EmitInt8(OpPushInt8, 4)
		b.Emit(OpSendPlus)
		b.EmitInt8(OpPushInt8, 2)
		b.Emit(OpSendTimes)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "compute")
	if !result.IsSmallInt() || result.SmallInt() != 14 {
		t.Errorf("result = %v, want 14", result)
	}
}

func TestFastSendOverflowPromotes(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Big")

	// ^arg + arg with arguments near the SmallInt limit.
	m := buildMethod(machine, "double:", 1, 1, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushTemp, 0)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendPlus)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "double:", FromSmallInt(MaxSmallInt))
	if result.IsSmallInt() {
		t.Fatal("sum should have promoted to LargeInteger")
	}
	if got := machine.PrintString(result); got != "281474976710654" {
		t.Errorf("printString = %q, want 281474976710654", got)
	}
	machine.Heap.Release(result)
}

func TestTempsAndJumps(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Looper")

	// | sum i | sum := 0. i := 1.
	// [i > 5] whileFalse-ish loop unrolled as raw jumps:
	// loop: i > 5 ifTrue: [^sum]. sum := sum + i. i := i + 1. goto loop
	m := buildMethod(machine, "sumToFive", 0, 2, func(b *BytecodeBuilder) {
		loop := b.NewLabel()
		done := b.NewLabel()
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitInt8(OpPushInt8, 1)
		b.EmitByte(OpStoreTemp, 1)
		b.Mark(loop)
		b.EmitByte(OpPushTemp, 1)
		b.EmitInt8(OpPushInt8, 5)
		b.Emit(OpSendGT)
		b.EmitJump(OpJumpTrue, done)
		b.EmitByte(OpPushTemp, 0)
		b.EmitByte(OpPushTemp, 1)
		b.Emit(OpSendPlus)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitByte(OpPushTemp, 1)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.EmitByte(OpStoreTemp, 1)
		b.EmitJump(OpJump, loop)
		b.Mark(done)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "sumToFive")
	if result.SmallInt() != 15 {
		t.Errorf("result = %v, want 15", result)
	}
}

func TestInstanceVariableAccess(t *testing.T) {
	machine := NewVM()
	c := machine.DefineClass("Pair", machine.ObjectClass, []string{"a", "b"})
	inst := machine.NewInstance(c)
	defer machine.Heap.Release(inst)

	setter := buildMethod(machine, "a:", 1, 1, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushTemp, 0)
		b.EmitByte(OpStoreIvar, 0)
		b.Emit(OpReturnSelf)
	})
	install(machine, c, setter)
	getter := buildMethod(machine, "a", 0, 0, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushIvar, 0)
		b.Emit(OpReturnTop)
	})
	install(machine, c, getter)

	ret := runOn(t, machine, inst, "a:", FromSmallInt(11))
	machine.Heap.Release(ret)
	got := runOn(t, machine, inst, "a")
	if got.SmallInt() != 11 {
		t.Errorf("a = %v, want 11", got)
	}
}

func TestFallOffEndReturnsSelf(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Quiet")

	m := buildMethod(machine, "touch", 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpPOP)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "touch")
	if result != recv {
		t.Errorf("falling off the end should answer self, got %v", result)
	}
	machine.Heap.Release(result)
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func TestBlockValueSend(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Maker")

	// ^[ 40 + 2 ] value
	m := buildMethod(machine, "compute", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpCreateBlock, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 40)
		b.EmitInt8(OpPushInt8, 2)
		b.Emit(OpSendPlus)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "compute")
	if result.SmallInt() != 42 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestBlockReadsOuterTemp(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Closer")

	// | x | x := 10. ^[ x + 1 ] value
	m := buildMethod(machine, "compute", 0, 1, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 10)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitUint16(OpCreateBlock, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitBytes(OpPushOuter, 1, 0)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "compute")
	if result.SmallInt() != 11 {
		t.Errorf("result = %v, want 11", result)
	}
}

func TestBlockWritesOuterTemp(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Counter")

	// | x | x := 0. [ x := x + 1 ] value. [ x := x + 1 ] value. ^x
	m := buildMethod(machine, "countTwice", 0, 1, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitUint16(OpCreateBlock, 0)
		b.Emit(OpSendValue)
		b.Emit(OpPOP)
		b.EmitUint16(OpCreateBlock, 0)
		b.Emit(OpSendValue)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitBytes(OpPushOuter, 1, 0)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.EmitBytes(OpStoreOuter, 1, 0)
		b.Emit(OpReturnNil)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "countTwice")
	if result.SmallInt() != 2 {
		t.Errorf("result = %v, want 2", result)
	}
}

func TestBlockWithArgument(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Applier")

	// ^[:n | n * n] value: 6
	m := buildMethod(machine, "squareSix", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpCreateBlock, 0)
		b.EmitInt8(OpPushInt8, 6)
		b.Emit(OpSendValue1)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 1, 1, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushTemp, 0)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendTimes)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "squareSix")
	if result.SmallInt() != 36 {
		t.Errorf("result = %v, want 36", result)
	}
}

func TestBlockArityMismatchSignals(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Mismatched")

	// [:n | n] value
	m := buildMethod(machine, "oops", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpCreateBlock, 0)
		b.Emit(OpSendValue)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 1, 1, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	_, err := machine.Send(recv, "oops")
	var rerr *RunError
	if !errors.As(err, &rerr) || rerr.Condition != CondTypeError {
		t.Errorf("expected TypeError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Non-local return
// ---------------------------------------------------------------------------

func TestNonLocalReturn(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Finder")

	// run: aBlock  ^aBlock value + 100
	runner := buildMethod(machine, "run:", 1, 1, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendValue)
		b.EmitInt8(OpPushInt8, 100)
		b.Emit(OpSendPlus)
		b.Emit(OpReturnTop)
	})
	install(machine, c, runner)

	// find  self run: [^7]. ^0
	// The non-local return unwinds through run:'s activation, so the
	// +100 never happens and neither does the trailing ^0.
	finder := buildMethod(machine, "find", 0, 0, func(b *BytecodeBuilder) {
		b.Emit(OpPushSelf)
		b.EmitUint16(OpCreateBlock, 0)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("run:")), 1)
		b.Emit(OpPOP)
		b.EmitInt8(OpPushInt8, 0)
		b.Emit(OpReturnTop)
	})
	addBlock(finder, 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 7)
		b.Emit(OpBlockReturn)
	})
	install(machine, c, finder)

	result := runOn(t, machine, recv, "find")
	if result.SmallInt() != 7 {
		t.Errorf("result = %v, want 7", result)
	}
}

func TestNonLocalReturnDeadHome(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Escaper")

	// escape  ^[^1]
	// The method answers the block; by the time anyone evaluates it the
	// home activation has returned.
	m := buildMethod(machine, "escape", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpCreateBlock, 0)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpBlockReturn)
	})
	install(machine, c, m)

	blockV := runOn(t, machine, recv, "escape")
	defer machine.Heap.Release(blockV)
	if _, ok := machine.Heap.Get(blockV).(*BlockObject); !ok {
		t.Fatal("escape should answer a block")
	}

	_, err := machine.Send(blockV, "value")
	var rerr *RunError
	if !errors.As(err, &rerr) || rerr.Condition != CondBlockContextError {
		t.Errorf("expected BlockContextError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap control methods
// ---------------------------------------------------------------------------

func TestBooleanControlMethods(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Chooser")

	// choose: aBool  ^aBool ifTrue: [1] ifFalse: [2]
	m := buildMethod(machine, "choose:", 1, 1, func(b *BytecodeBuilder) {
		b.EmitByte(OpPushTemp, 0)
		b.EmitUint16(OpCreateBlock, 0)
		b.EmitUint16(OpCreateBlock, 1)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("ifTrue:ifFalse:")), 2)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 2)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	if got := runOn(t, machine, recv, "choose:", True); got.SmallInt() != 1 {
		t.Errorf("true branch = %v, want 1", got)
	}
	if got := runOn(t, machine, recv, "choose:", False); got.SmallInt() != 2 {
		t.Errorf("false branch = %v, want 2", got)
	}
}

func TestWhileTrueMethod(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Summer")

	// | sum i | sum := 0. i := 1.
	// [i <= 5] whileTrue: [sum := sum + i. i := i + 1]. ^sum
	leSel := uint16(machine.Selectors.Intern("<="))
	m := buildMethod(machine, "sum", 0, 2, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitInt8(OpPushInt8, 1)
		b.EmitByte(OpStoreTemp, 1)
		b.EmitUint16(OpCreateBlock, 0)
		b.EmitUint16(OpCreateBlock, 1)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("whileTrue:")), 1)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitBytes(OpPushOuter, 1, 1)
		b.EmitInt8(OpPushInt8, 5)
		b.EmitSend(OpSend, leSel, 1)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 0, 0, func(b *BytecodeBuilder) {
		b.EmitBytes(OpPushOuter, 1, 0)
		b.EmitBytes(OpPushOuter, 1, 1)
		b.Emit(OpSendPlus)
		b.EmitBytes(OpStoreOuter, 1, 0)
		b.EmitBytes(OpPushOuter, 1, 1)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpSendPlus)
		b.EmitBytes(OpStoreOuter, 1, 1)
		b.Emit(OpReturnNil)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "sum")
	if result.SmallInt() != 15 {
		t.Errorf("result = %v, want 15", result)
	}
}

func TestToDoMethod(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Iterator")

	// | sum | sum := 0. 1 to: 4 do: [:i | sum := sum + i]. ^sum
	m := buildMethod(machine, "sum", 0, 1, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitByte(OpStoreTemp, 0)
		b.EmitInt8(OpPushInt8, 1)
		b.EmitInt8(OpPushInt8, 4)
		b.EmitUint16(OpCreateBlock, 0)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("to:do:")), 2)
		b.Emit(OpPOP)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpReturnTop)
	})
	addBlock(m, 1, 1, func(b *BytecodeBuilder) {
		b.EmitBytes(OpPushOuter, 1, 0)
		b.EmitByte(OpPushTemp, 0)
		b.Emit(OpSendPlus)
		b.EmitBytes(OpStoreOuter, 1, 0)
		b.Emit(OpReturnNil)
	})
	install(machine, c, m)

	result := runOn(t, machine, recv, "sum")
	if result.SmallInt() != 10 {
		t.Errorf("result = %v, want 10", result)
	}
}

// ---------------------------------------------------------------------------
// doesNotUnderstand: re-dispatch
// ---------------------------------------------------------------------------

func TestCustomDoesNotUnderstand(t *testing.T) {
	machine := NewVM()

	c := machine.DefineClass("Absorber", machine.ObjectClass, nil)
	c.AddMethod1(machine.Selectors, "doesNotUnderstand:", func(vmi interface{}, recv, msg Value) Value {
		v := vmi.(*VM)
		m, ok := v.Heap.Get(msg).(*MessageObject)
		if !ok {
			return v.SignalTypeError("expected a Message")
		}
		// Answer the selector it was sent.
		v.Heap.Share(m.Selector)
		return m.Selector
	})
	inst := machine.NewInstance(c)
	defer machine.Heap.Release(inst)

	// The unknown selector must go through an interpreted send site so
	// the failed lookup re-dispatches as doesNotUnderstand:.
	poke := buildMethod(machine, "poke", 0, 0, func(b *BytecodeBuilder) {
		b.Emit(OpPushSelf)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("anythingAtAll")), 0)
		b.Emit(OpReturnTop)
	})
	install(machine, c, poke)

	result := runOn(t, machine, inst, "poke")
	if !result.IsSymbol() || machine.Symbols.Name(result.SymbolID()) != "anythingAtAll" {
		t.Errorf("result = %v, want #anythingAtAll", result)
	}
}

// ---------------------------------------------------------------------------
// Super sends
// ---------------------------------------------------------------------------

func TestSuperSend(t *testing.T) {
	machine := NewVM()

	parent := machine.DefineClass("Vehicle", machine.ObjectClass, nil)
	child := machine.DefineClass("Truck", parent, nil)

	parent.AddMethod0(machine.Selectors, "wheels", func(vmi interface{}, recv Value) Value {
		return FromSmallInt(4)
	})

	// Truck>>wheels  ^super wheels + 2
	m := buildMethod(machine, "wheels", 0, 0, func(b *BytecodeBuilder) {
		b.Emit(OpPushSelf)
		b.EmitSend(OpSendSuper, uint16(machine.Selectors.Intern("wheels")), 0)
		b.EmitInt8(OpPushInt8, 2)
		b.Emit(OpSendPlus)
		b.Emit(OpReturnTop)
	})
	install(machine, child, m)

	inst := machine.NewInstance(child)
	defer machine.Heap.Release(inst)
	result := runOn(t, machine, inst, "wheels")
	if result.SmallInt() != 6 {
		t.Errorf("result = %v, want 6", result)
	}
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestFrameStackOverflow(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Recursor")

	// spin  ^self spin
	m := buildMethod(machine, "spin", 0, 0, func(b *BytecodeBuilder) {
		b.Emit(OpPushSelf)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("spin")), 0)
		b.Emit(OpReturnTop)
	})
	install(machine, c, m)

	_, err := machine.Send(recv, "spin")
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RunError, got %v", err)
	}
	if !strings.Contains(rerr.Message, "frame stack overflow") {
		t.Errorf("message = %q, want a frame stack overflow fault", rerr.Message)
	}
}

// ---------------------------------------------------------------------------
// Inline caches at send sites
// ---------------------------------------------------------------------------

func TestSendSitesWarmCaches(t *testing.T) {
	machine := NewVM()
	recv, c := newTestReceiver(t, machine, "Caller")

	target := buildMethod(machine, "answer", 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 42)
		b.Emit(OpReturnTop)
	})
	install(machine, c, target)

	caller := buildMethod(machine, "call", 0, 0, func(b *BytecodeBuilder) {
		b.Emit(OpPushSelf)
		b.EmitSend(OpSend, uint16(machine.Selectors.Intern("answer")), 0)
		b.Emit(OpReturnTop)
	})
	install(machine, c, caller)

	for i := 0; i < 3; i++ {
		r := runOn(t, machine, recv, "call")
		if r.SmallInt() != 42 {
			t.Fatalf("result = %v, want 42", r)
		}
	}

	mono, _, _, _, hits, misses := caller.InlineCaches.Stats()
	if mono != 1 {
		t.Errorf("monomorphic sites = %d, want 1", mono)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1 (the priming lookup)", misses)
	}
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
}
