package vm

// Frame is an activation record. Frames live on the heap so a block can
// keep its defining activation alive after the enclosing send returns;
// the interpreter's frame stack holds handles, not Go pointers.
//
// Ownership: values stored in Temps and on the operand stack are owned
// by the frame. When the frame's last reference goes away, References
// lets the heap release them.
type Frame struct {
	Method *CompiledMethod // method activations
	Block  *BlockMethod    // block activations (Method nil)

	Receiver Value
	Temps    []Value // arguments followed by locals
	stack    []Value // operand stack
	IP       int

	// Outer is the lexically enclosing frame (block activations only).
	// Home is the method activation at the root of the lexical chain,
	// the target of a non-local return. Both Nil for method frames.
	Outer Value
	Home  Value

	// DefiningClass is the class whose dictionary supplied the running
	// method; super sends resume the lookup walk above it.
	DefiningClass *Class

	// Dead is set when the activation completes. A non-local return
	// into a dead frame raises BlockContextError.
	Dead bool

	// DiscardResult marks frames whose return value the interpreter
	// drops (condition handler sends).
	DiscardResult bool

	handle Value
}

// NewMethodFrame creates an activation for a compiled method.
func NewMethodFrame(m *CompiledMethod, defining *Class, receiver Value, args []Value) *Frame {
	f := &Frame{
		Method:        m,
		Receiver:      receiver,
		Temps:         make([]Value, m.NumTemps),
		stack:         make([]Value, 0, 8),
		DefiningClass: defining,
		Outer:         Nil,
		Home:          Nil,
	}
	for i := range f.Temps {
		f.Temps[i] = Nil
	}
	copy(f.Temps, args)
	return f
}

// NewBlockFrame creates an activation for a block closure.
func NewBlockFrame(b *BlockObject, args []Value) *Frame {
	f := &Frame{
		Block:         b.Method,
		Receiver:      b.HomeReceiver,
		Temps:         make([]Value, b.Method.NumTemps),
		stack:         make([]Value, 0, 8),
		DefiningClass: b.DefiningClass,
		Outer:         b.Outer,
		Home:          b.Home,
	}
	for i := range f.Temps {
		f.Temps[i] = Nil
	}
	copy(f.Temps, args)
	return f
}

// Handle returns the frame's heap handle.
func (f *Frame) Handle() Value {
	return f.handle
}

// SetHandle records the frame's heap handle after Acquire.
func (f *Frame) SetHandle(v Value) {
	f.handle = v
}

// Bytecode returns the code this frame executes.
func (f *Frame) Bytecode() []byte {
	if f.Block != nil {
		return f.Block.Bytecode
	}
	return f.Method.Bytecode
}

// Literal returns the literal at index for this frame's code.
func (f *Frame) Literal(index int) Value {
	if f.Block != nil {
		return f.Block.GetLiteral(index)
	}
	return f.Method.GetLiteral(index)
}

// GlobalName returns the global name at index for this frame's code.
func (f *Frame) GlobalName(index int) string {
	if f.Block != nil {
		return f.Block.GlobalNames[index]
	}
	return f.Method.GlobalNames[index]
}

// ChildBlock returns the nested block method at index.
func (f *Frame) ChildBlock(index int) *BlockMethod {
	if f.Block != nil {
		return f.Block.GetBlock(index)
	}
	return f.Method.GetBlock(index)
}

// Caches returns the inline cache table for this frame's code.
func (f *Frame) Caches() *InlineCacheTable {
	if f.Block != nil {
		return f.Block.InlineCaches
	}
	return f.Method.InlineCaches
}

// IsBlockFrame reports whether this is a block activation.
func (f *Frame) IsBlockFrame() bool {
	return f.Block != nil
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// Push pushes a value. Ownership transfers to the frame.
func (f *Frame) Push(v Value) {
	f.stack = append(f.stack, v)
}

// Pop removes and returns the top value. Ownership transfers to the caller.
func (f *Frame) Pop() Value {
	n := len(f.stack)
	if n == 0 {
		panic("frame: operand stack underflow")
	}
	v := f.stack[n-1]
	f.stack = f.stack[:n-1]
	return v
}

// Top returns the top value without popping. The frame retains ownership.
func (f *Frame) Top() Value {
	n := len(f.stack)
	if n == 0 {
		panic("frame: operand stack underflow")
	}
	return f.stack[n-1]
}

// StackDepth returns the operand stack depth.
func (f *Frame) StackDepth() int {
	return len(f.stack)
}

// ---------------------------------------------------------------------------
// Temporaries
// ---------------------------------------------------------------------------

// GetTemp returns the temporary at index. The frame retains ownership.
func (f *Frame) GetTemp(index int) Value {
	if index < 0 || index >= len(f.Temps) {
		panic("frame: temp index out of range")
	}
	return f.Temps[index]
}

// SetTemp stores into a temporary, returning the displaced value so the
// caller can release it. Ownership of v transfers to the frame.
func (f *Frame) SetTemp(index int, v Value) Value {
	if index < 0 || index >= len(f.Temps) {
		panic("frame: temp index out of range")
	}
	old := f.Temps[index]
	f.Temps[index] = v
	return old
}

// References implements HeapObject.
func (f *Frame) References(fn func(Value)) {
	fn(f.Receiver)
	for _, v := range f.Temps {
		fn(v)
	}
	for _, v := range f.stack {
		fn(v)
	}
	fn(f.Outer)
	fn(f.Home)
	if f.DefiningClass != nil {
		fn(f.DefiningClass.Handle())
	}
}

// ---------------------------------------------------------------------------
// BlockObject
// ---------------------------------------------------------------------------

// BlockObject is a block closure: compiled block code bound to the frame
// chain it was created in. Creating a block shares its frames, so the
// defining activation outlives its send exactly as long as some block
// still references it.
type BlockObject struct {
	Method *BlockMethod

	Outer         Value // defining frame handle
	Home          Value // home method frame handle
	HomeReceiver  Value // self inside the block
	DefiningClass *Class
}

// References implements HeapObject.
func (b *BlockObject) References(fn func(Value)) {
	fn(b.Outer)
	fn(b.Home)
	fn(b.HomeReceiver)
	if b.DefiningClass != nil {
		fn(b.DefiningClass.Handle())
	}
}

// Arity returns the number of arguments the block expects.
func (b *BlockObject) Arity() int {
	return b.Method.Arity
}
