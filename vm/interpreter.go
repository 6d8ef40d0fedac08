package vm

import (
	"fmt"
	"math"
)

// InterpreterState is the control state of the frame loop.
type InterpreterState int

const (
	StateRunning   InterpreterState = iota // executing bytecode
	StateReturning                         // unwinding frames toward a target
	StateHalted                            // finished with a result or an error
)

// DefaultMaxFrames bounds the frame stack depth.
const DefaultMaxFrames = 10000

// Interpreter executes compiled methods over an explicit frame stack.
//
// Every guest send pushes a Frame; returns are processed by the loop in
// the Returning state rather than by Go-level recursion or panics. A
// non-local return records the home frame as the unwind target and the
// loop pops activations until the target has been popped, marking each
// one dead on the way out.
type Interpreter struct {
	vm     *VM
	frames []*Frame
	state  InterpreterState

	// Returning state
	returnTarget *Frame
	returnValue  Value

	result Value
	err    *RunError

	MaxFrames int
}

// NewInterpreter creates an interpreter bound to a VM. The live frame
// stack is one of the collector's root sets.
func NewInterpreter(vm *VM) *Interpreter {
	in := &Interpreter{
		vm:        vm,
		frames:    make([]*Frame, 0, 64),
		state:     StateRunning,
		MaxFrames: DefaultMaxFrames,
	}
	vm.Heap.AddRootSet(in.roots)
	return in
}

func (in *Interpreter) roots(fn func(Value)) {
	for _, f := range in.frames {
		fn(f.handle)
	}
}

// State returns the current control state.
func (in *Interpreter) State() InterpreterState {
	return in.state
}

// Depth returns the current frame stack depth.
func (in *Interpreter) Depth() int {
	return len(in.frames)
}

// halt stops the run with an error payload.
func (in *Interpreter) halt(err *RunError) {
	in.state = StateHalted
	in.err = err
}

// ---------------------------------------------------------------------------
// Frame stack
// ---------------------------------------------------------------------------

func (in *Interpreter) pushFrame(f *Frame) bool {
	if len(in.frames) >= in.MaxFrames {
		in.halt(&RunError{Message: fmt.Sprintf("frame stack overflow (%d frames)", in.MaxFrames)})
		return false
	}
	f.SetHandle(in.vm.Heap.Acquire(f))
	in.frames = append(in.frames, f)
	return true
}

// popFrame marks the top frame dead and drops the interpreter's
// reference. A frame captured by a live block survives on the heap.
func (in *Interpreter) popFrame() *Frame {
	n := len(in.frames)
	f := in.frames[n-1]
	in.frames = in.frames[:n-1]
	f.Dead = true
	in.vm.Heap.Release(f.handle)
	return f
}

func (in *Interpreter) top() *Frame {
	return in.frames[len(in.frames)-1]
}

// onStack reports whether f is on the live frame stack.
func (in *Interpreter) onStack(f *Frame) bool {
	for _, g := range in.frames {
		if g == f {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// RunMethod activates a compiled method on receiver and drives the loop
// until the frame stack empties or the run halts. Ownership of receiver
// and args transfers to the activation.
func (in *Interpreter) RunMethod(m *CompiledMethod, defining *Class, receiver Value, args []Value) (Value, *RunError) {
	in.state = StateRunning
	in.err = nil
	in.result = Nil

	f := NewMethodFrame(m, defining, receiver, args)
	if !in.pushFrame(f) {
		return Nil, in.err
	}
	base := len(in.frames) - 1

	for {
		switch in.state {
		case StateHalted:
			// Unwind any frames this run pushed.
			for len(in.frames) > base {
				in.popFrame()
			}
			return Nil, in.err

		case StateReturning:
			done := in.unwindOne(base)
			if done {
				return in.result, nil
			}

		case StateRunning:
			if len(in.frames) <= base {
				return in.result, nil
			}
			in.step(in.top())
		}

		if in.vm.pending != nil && in.state == StateRunning {
			in.deliverCondition()
		}
	}
}

// beginReturn starts a local return from the current top frame.
func (in *Interpreter) beginReturn(value Value) {
	in.state = StateReturning
	in.returnTarget = in.top()
	in.returnValue = value
}

// unwindOne pops one frame in the Returning state. Returns true when the
// run is complete (target popped with no caller left in this run).
func (in *Interpreter) unwindOne(base int) bool {
	popped := in.popFrame()
	if popped != in.returnTarget {
		return false
	}

	in.state = StateRunning
	in.returnTarget = nil
	if len(in.frames) <= base {
		in.result = in.returnValue
		return true
	}
	if popped.DiscardResult {
		in.vm.Heap.Release(in.returnValue)
	} else {
		in.top().Push(in.returnValue)
	}
	return false
}

// ---------------------------------------------------------------------------
// Instruction dispatch
// ---------------------------------------------------------------------------

func (in *Interpreter) step(f *Frame) {
	h := in.vm.Heap
	bc := f.Bytecode()

	if f.IP >= len(bc) {
		// Fell off the end: implicit return (self for methods, nil for blocks).
		if f.IsBlockFrame() {
			in.beginReturn(Nil)
		} else {
			h.Share(f.Receiver)
			in.beginReturn(f.Receiver)
		}
		return
	}

	pc := f.IP
	op := Opcode(bc[f.IP])
	f.IP++

	switch op {
	case OpNOP:

	case OpPOP:
		h.Release(f.Pop())

	case OpDUP:
		v := f.Top()
		h.Share(v)
		f.Push(v)

	case OpPushNil:
		f.Push(Nil)

	case OpPushTrue:
		f.Push(True)

	case OpPushFalse:
		f.Push(False)

	case OpPushSelf:
		h.Share(f.Receiver)
		f.Push(f.Receiver)

	case OpPushInt8:
		f.Push(FromSmallInt(int64(int8(bc[f.IP]))))
		f.IP++

	case OpPushInt32:
		f.Push(FromSmallInt(int64(in.readInt32(f, bc))))

	case OpPushFloat:
		f.Push(FromFloat64(in.readFloat64(f, bc)))

	case OpPushLiteral:
		v := f.Literal(int(in.readUint16(f, bc)))
		h.Share(v)
		f.Push(v)

	case OpPushTemp:
		v := f.GetTemp(int(bc[f.IP]))
		f.IP++
		h.Share(v)
		f.Push(v)

	case OpStoreTemp:
		idx := int(bc[f.IP])
		f.IP++
		old := f.SetTemp(idx, f.Pop())
		h.Release(old)

	case OpPushIvar:
		idx := int(bc[f.IP])
		f.IP++
		obj, ok := h.Get(f.Receiver).(*Object)
		if !ok {
			in.halt(&RunError{Message: "instance variable access on non-instance receiver"})
			return
		}
		v := obj.GetSlot(idx)
		h.Share(v)
		f.Push(v)

	case OpStoreIvar:
		idx := int(bc[f.IP])
		f.IP++
		obj, ok := h.Get(f.Receiver).(*Object)
		if !ok {
			in.halt(&RunError{Message: "instance variable store on non-instance receiver"})
			return
		}
		old := obj.GetSlot(idx)
		obj.SetSlot(idx, f.Pop())
		h.Release(old)

	case OpPushGlobal:
		name := f.GlobalName(int(in.readUint16(f, bc)))
		v := in.vm.Global(name)
		h.Share(v)
		f.Push(v)

	case OpStoreGlobal:
		name := f.GlobalName(int(in.readUint16(f, bc)))
		in.vm.SetGlobal(name, f.Pop())

	case OpPushOuter:
		level := int(bc[f.IP])
		idx := int(bc[f.IP+1])
		f.IP += 2
		target := in.outerFrame(f, level)
		if target == nil {
			return
		}
		v := target.GetTemp(idx)
		h.Share(v)
		f.Push(v)

	case OpStoreOuter:
		level := int(bc[f.IP])
		idx := int(bc[f.IP+1])
		f.IP += 2
		target := in.outerFrame(f, level)
		if target == nil {
			return
		}
		old := target.SetTemp(idx, f.Pop())
		h.Release(old)

	case OpSend:
		selector := int(in.readUint16(f, bc))
		argc := int(bc[f.IP])
		f.IP++
		in.send(f, pc, selector, argc, false)

	case OpSendSuper:
		selector := int(in.readUint16(f, bc))
		argc := int(bc[f.IP])
		f.IP++
		in.send(f, pc, selector, argc, true)

	case OpSendPlus:
		in.sendArith(f, pc, in.vm.selPlus, func(a, b int64) (int64, bool) {
			s := a + b
			// Overflow when signs of operands match and differ from the sum.
			return s, (a >= 0) == (b >= 0) && (s >= 0) != (a >= 0)
		})

	case OpSendMinus:
		in.sendArith(f, pc, in.vm.selMinus, func(a, b int64) (int64, bool) {
			s := a - b
			return s, (a >= 0) != (b >= 0) && (s >= 0) != (a >= 0)
		})

	case OpSendTimes:
		in.sendArith(f, pc, in.vm.selTimes, func(a, b int64) (int64, bool) {
			if a == 0 || b == 0 {
				return 0, false
			}
			p := a * b
			return p, p/b != a
		})

	case OpSendLT:
		in.sendCompare(f, pc, in.vm.selLT, func(a, b int64) bool { return a < b })

	case OpSendGT:
		in.sendCompare(f, pc, in.vm.selGT, func(a, b int64) bool { return a > b })

	case OpSendEQ:
		in.sendCompare(f, pc, in.vm.selEQ, func(a, b int64) bool { return a == b })

	case OpSendValue:
		in.send(f, pc, in.vm.selValue, 0, false)

	case OpSendValue1:
		in.send(f, pc, in.vm.selValue1, 1, false)

	case OpJump:
		offset := int(in.readInt16(f, bc))
		f.IP += offset

	case OpJumpTrue:
		offset := int(in.readInt16(f, bc))
		v := f.Pop()
		if v.IsTruthy() {
			f.IP += offset
		}
		h.Release(v)

	case OpJumpFalse:
		offset := int(in.readInt16(f, bc))
		v := f.Pop()
		if v.IsFalsy() {
			f.IP += offset
		}
		h.Release(v)

	case OpReturnTop:
		in.beginReturn(f.Pop())

	case OpReturnSelf:
		h.Share(f.Receiver)
		in.beginReturn(f.Receiver)

	case OpReturnNil:
		in.beginReturn(Nil)

	case OpBlockReturn:
		in.blockReturn(f)

	case OpCreateBlock:
		idx := int(in.readUint16(f, bc))
		in.createBlock(f, idx)

	case OpCreateArray:
		n := int(bc[f.IP])
		f.IP++
		arr := &ArrayObject{Elems: make([]Value, n)}
		for i := n - 1; i >= 0; i-- {
			arr.Elems[i] = f.Pop()
		}
		f.Push(h.Acquire(arr))

	default:
		in.halt(&RunError{Message: fmt.Sprintf("unknown opcode 0x%02X at %d in %s", byte(op), pc, f.Method)})
	}
}

// ---------------------------------------------------------------------------
// Operand reading
// ---------------------------------------------------------------------------

func (in *Interpreter) readUint16(f *Frame, bc []byte) uint16 {
	v := uint16(bc[f.IP]) | uint16(bc[f.IP+1])<<8
	f.IP += 2
	return v
}

func (in *Interpreter) readInt16(f *Frame, bc []byte) int16 {
	return int16(in.readUint16(f, bc))
}

func (in *Interpreter) readInt32(f *Frame, bc []byte) int32 {
	v := uint32(bc[f.IP]) | uint32(bc[f.IP+1])<<8 | uint32(bc[f.IP+2])<<16 | uint32(bc[f.IP+3])<<24
	f.IP += 4
	return int32(v)
}

func (in *Interpreter) readFloat64(f *Frame, bc []byte) float64 {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(bc[f.IP+i]) << (8 * i)
	}
	f.IP += 8
	return math.Float64frombits(bits)
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

// send pops argc arguments and the receiver from f and dispatches the
// selector. Compiled methods push a new frame; primitives run inline.
func (in *Interpreter) send(f *Frame, pc int, selector int, argc int, super bool) {
	h := in.vm.Heap

	args := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = f.Pop()
	}
	receiver := f.Pop()

	// Direct block invocation for value selectors.
	if blk, ok := h.Get(receiver).(*BlockObject); ok && in.vm.isValueSelector(selector) {
		in.invokeBlock(f, receiver, blk, selector, args)
		return
	}

	class := in.vm.classOf(receiver)
	if class == nil {
		in.halt(&RunError{Message: "receiver has no class: " + in.vm.DescribeValue(receiver)})
		return
	}

	var m Method
	if super {
		// Super sends restart the dictionary walk above the class that
		// defined the running method; no cache, the start point is
		// static per call site anyway.
		start := f.DefiningClass
		if start != nil {
			m = LookupMethodFrom(start.Superclass, selector)
		}
	} else {
		ic := f.Caches().GetOrCreate(pc)
		m = ic.Lookup(class)
		if m == nil {
			if m = class.LookupMethod(selector); m != nil {
				ic.Update(class, m)
			}
		}
	}

	if m == nil {
		in.sendDoesNotUnderstand(f, receiver, selector, args)
		return
	}

	in.activate(f, m, receiver, args)
}

// activate runs a resolved method: primitives inline, compiled methods
// as a new frame.
func (in *Interpreter) activate(f *Frame, m Method, receiver Value, args []Value) {
	h := in.vm.Heap

	if cm, ok := m.(*CompiledMethod); ok {
		nf := NewMethodFrame(cm, cm.Class(), receiver, args)
		in.pushFrame(nf)
		return
	}

	// Primitive: borrows receiver and args, returns an owned value.
	result := m.Invoke(in.vm, receiver, args)
	h.Release(receiver)
	for _, a := range args {
		h.Release(a)
	}
	if in.state == StateRunning {
		f.Push(result)
	} else {
		h.Release(result)
	}
}

// sendDoesNotUnderstand re-dispatches a failed send as
// doesNotUnderstand: with a reified message.
func (in *Interpreter) sendDoesNotUnderstand(f *Frame, receiver Value, selector int, args []Value) {
	h := in.vm.Heap
	v := in.vm

	if selector == v.selDNU {
		// Even doesNotUnderstand: is missing; nothing left to try.
		in.halt(&RunError{
			Condition: CondMessageNotUnderstood,
			Message:   fmt.Sprintf("%s does not understand #%s", v.DescribeValue(receiver), v.Selectors.Name(selector)),
		})
		h.Release(receiver)
		for _, a := range args {
			h.Release(a)
		}
		return
	}

	arr := &ArrayObject{Elems: args}
	arrV := h.Acquire(arr)
	h.Share(receiver)
	msg := &MessageObject{
		Receiver: receiver,
		Selector: FromSymbolID(v.Symbols.Intern(v.Selectors.Name(selector))),
		Args:     arrV,
	}
	msgV := h.Acquire(msg)

	class := v.classOf(receiver)
	m := class.LookupMethod(v.selDNU)
	if m == nil {
		in.halt(&RunError{
			Condition: CondMessageNotUnderstood,
			Message:   fmt.Sprintf("%s does not understand #%s", v.DescribeValue(receiver), v.Selectors.Name(selector)),
		})
		h.Release(receiver)
		h.Release(msgV)
		return
	}
	in.activate(f, m, receiver, []Value{msgV})
}

// invokeBlock activates a block closure for a value send.
func (in *Interpreter) invokeBlock(f *Frame, blockV Value, blk *BlockObject, selector int, args []Value) {
	h := in.vm.Heap

	if blk.Arity() != len(args) {
		in.vm.SignalTypeError("block expects %d arguments, got %d", blk.Arity(), len(args))
		h.Release(blockV)
		for _, a := range args {
			h.Release(a)
		}
		f.Push(Nil)
		return
	}

	nf := NewBlockFrame(blk, args)
	h.Share(nf.Receiver)
	h.Share(nf.Outer)
	h.Share(nf.Home)
	h.Release(blockV)
	in.pushFrame(nf)
}

// sendArith runs the SmallInt fast path for an optimized arithmetic
// send, falling back to a full send otherwise. overflow promotion is
// handled by the integer primitives on the slow path.
func (in *Interpreter) sendArith(f *Frame, pc int, selector int, op func(a, b int64) (int64, bool)) {
	if f.StackDepth() >= 2 {
		b := f.Top()
		a := f.stack[len(f.stack)-2]
		if a.IsSmallInt() && b.IsSmallInt() {
			f.Pop()
			f.Pop()
			r, overflow := op(a.SmallInt(), b.SmallInt())
			if !overflow {
				if rv, ok := TryFromSmallInt(r); ok {
					f.Push(rv)
					return
				}
			}
			// Rare: redo as a full send so the primitive can promote.
			f.Push(a)
			f.Push(b)
		}
	}
	in.send(f, pc, selector, 1, false)
}

// sendCompare runs the SmallInt fast path for an optimized comparison.
func (in *Interpreter) sendCompare(f *Frame, pc int, selector int, cmp func(a, b int64) bool) {
	if f.StackDepth() >= 2 {
		b := f.Top()
		a := f.stack[len(f.stack)-2]
		if a.IsSmallInt() && b.IsSmallInt() {
			f.Pop()
			f.Pop()
			f.Push(FromBool(cmp(a.SmallInt(), b.SmallInt())))
			return
		}
	}
	in.send(f, pc, selector, 1, false)
}

// ---------------------------------------------------------------------------
// Blocks and non-local return
// ---------------------------------------------------------------------------

// createBlock builds a closure over the current frame.
func (in *Interpreter) createBlock(f *Frame, index int) {
	h := in.vm.Heap

	home := f.handle
	if f.IsBlockFrame() {
		home = f.Home
	}

	b := &BlockObject{
		Method:        f.ChildBlock(index),
		Outer:         f.handle,
		Home:          home,
		HomeReceiver:  f.Receiver,
		DefiningClass: f.DefiningClass,
	}
	h.Share(b.Outer)
	h.Share(b.Home)
	h.Share(b.HomeReceiver)
	f.Push(h.Acquire(b))
}

// outerFrame walks the lexical chain. A broken chain halts the run;
// chains only break if bytecode is malformed, since closures keep their
// outer frames alive.
func (in *Interpreter) outerFrame(f *Frame, level int) *Frame {
	cur := f
	for l := 0; l < level; l++ {
		next, ok := in.vm.Heap.Get(cur.Outer).(*Frame)
		if !ok {
			in.halt(&RunError{Message: "broken lexical chain in block"})
			return nil
		}
		cur = next
	}
	return cur
}

// blockReturn performs a non-local return: unwind to the home method
// activation and return the value from it. A dead or foreign home frame
// raises BlockContextError.
func (in *Interpreter) blockReturn(f *Frame) {
	h := in.vm.Heap
	value := f.Pop()

	if !f.IsBlockFrame() {
		// ^expr in a method body is a plain local return.
		in.beginReturn(value)
		return
	}

	home, ok := h.Get(f.Home).(*Frame)
	if !ok || home.Dead || !in.onStack(home) {
		h.Release(value)
		in.vm.Signal(&Condition{
			Class:    CondBlockContextError,
			Message:  "non-local return from a block whose home context has returned",
			Receiver: Nil,
			Selector: -1,
			Args:     Nil,
		})
		f.Push(Nil)
		return
	}

	in.state = StateReturning
	in.returnTarget = home
	in.returnValue = value
}

// ---------------------------------------------------------------------------
// Condition delivery
// ---------------------------------------------------------------------------

// deliverCondition sends signal: to the pending condition's class. The
// result of the handler send is discarded; the default handler halts the
// run with the condition as error payload.
func (in *Interpreter) deliverCondition() {
	v := in.vm
	h := v.Heap
	cond := v.pending
	v.pending = nil

	class := v.Classes.Lookup(cond.Class)
	if class == nil {
		in.halt(&RunError{Condition: cond.Class, Message: cond.Message})
		return
	}

	msg := v.NewString(cond.Message)
	recv := class.Handle()
	h.Share(recv)

	mclass := v.classOf(recv)
	m := mclass.LookupMethod(v.selSignal)
	if m == nil {
		h.Release(recv)
		h.Release(msg)
		in.halt(&RunError{Condition: cond.Class, Message: cond.Message})
		return
	}

	if cm, ok := m.(*CompiledMethod); ok {
		nf := NewMethodFrame(cm, cm.Class(), recv, []Value{msg})
		nf.DiscardResult = true
		in.pushFrame(nf)
		return
	}

	result := m.Invoke(v, recv, []Value{msg})
	h.Release(recv)
	h.Release(msg)
	h.Release(result)
}
