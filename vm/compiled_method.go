package vm

// CompiledMethod is a method body compiled to bytecode at load time.
type CompiledMethod struct {
	// Method identity
	selector      int    // selector ID
	class         *Class // defining class (nil for detached methods)
	name          string // selector name (for diagnostics)
	IsClassMethod bool   // true if this is a class-side method

	// Method signature
	Arity    int // number of arguments (not including self)
	NumTemps int // total temporaries (arguments + locals)

	// Compiled code
	Literals []Value // constant pool (numbers, strings, symbols)
	Bytecode []byte  // the bytecode instructions

	// Names of globals referenced by PUSH_GLOBAL / STORE_GLOBAL,
	// indexed by the instruction operand.
	GlobalNames []string

	// Nested blocks referenced by CREATE_BLOCK
	Blocks []*BlockMethod

	// Per-call-site inline caches, keyed by bytecode PC
	InlineCaches *InlineCacheTable

	// Original source text, when the loader has it
	Source string
}

// BlockMethod is a compiled block (closure) body. Block bytecode reaches
// enclosing temporaries through the frame chain with PUSH_OUTER, so a
// block carries no captured-variable storage of its own.
type BlockMethod struct {
	Arity    int // number of block arguments
	NumTemps int // total temporaries (arguments + locals)

	Literals    []Value
	Bytecode    []byte
	GlobalNames []string
	Blocks      []*BlockMethod // blocks nested inside this block

	InlineCaches *InlineCacheTable

	Outer *CompiledMethod // enclosing method
}

// NewCompiledMethod creates a new compiled method.
func NewCompiledMethod(name string, arity int) *CompiledMethod {
	return &CompiledMethod{
		name:         name,
		selector:     -1,
		Arity:        arity,
		NumTemps:     arity,
		Literals:     make([]Value, 0, 8),
		Bytecode:     make([]byte, 0, 32),
		InlineCaches: NewInlineCacheTable(),
	}
}

// NewBlockMethod creates a new block method.
func NewBlockMethod(arity int) *BlockMethod {
	return &BlockMethod{
		Arity:        arity,
		NumTemps:     arity,
		Literals:     make([]Value, 0, 4),
		Bytecode:     make([]byte, 0, 16),
		InlineCaches: NewInlineCacheTable(),
	}
}

// Invoke implements the Method interface. Compiled methods are executed
// by the interpreter's frame loop, never called directly.
func (m *CompiledMethod) Invoke(vm interface{}, receiver Value, args []Value) Value {
	panic("CompiledMethod.Invoke: use interpreter")
}

// Name returns the selector name.
func (m *CompiledMethod) Name() string {
	return m.name
}

// MethodArity returns the method arity.
func (m *CompiledMethod) MethodArity() int {
	return m.Arity
}

// Selector returns the selector ID, or -1 if unattached.
func (m *CompiledMethod) Selector() int {
	return m.selector
}

// SetSelector sets the selector ID.
func (m *CompiledMethod) SetSelector(sel int) {
	m.selector = sel
}

// Class returns the defining class.
func (m *CompiledMethod) Class() *Class {
	return m.class
}

// SetClass sets the defining class.
func (m *CompiledMethod) SetClass(c *Class) {
	m.class = c
}

// GetLiteral returns the literal at the given index.
// Panics if index is out of range.
func (m *CompiledMethod) GetLiteral(index int) Value {
	if index < 0 || index >= len(m.Literals) {
		panic("CompiledMethod.GetLiteral: index out of range")
	}
	return m.Literals[index]
}

// GetBlock returns the block at the given index.
// Panics if index is out of range.
func (m *CompiledMethod) GetBlock(index int) *BlockMethod {
	if index < 0 || index >= len(m.Blocks) {
		panic("CompiledMethod.GetBlock: index out of range")
	}
	return m.Blocks[index]
}

// Disassemble returns a disassembly of the method's bytecode.
func (m *CompiledMethod) Disassemble() string {
	return Disassemble(m.Bytecode)
}

// String returns Class>>selector for diagnostics.
func (m *CompiledMethod) String() string {
	className := "?"
	if m.class != nil {
		className = m.class.Name
	}
	return className + ">>" + m.name
}

// GetLiteral returns the literal at the given index.
func (b *BlockMethod) GetLiteral(index int) Value {
	if index < 0 || index >= len(b.Literals) {
		panic("BlockMethod.GetLiteral: index out of range")
	}
	return b.Literals[index]
}

// GetBlock returns the nested block at the given index.
func (b *BlockMethod) GetBlock(index int) *BlockMethod {
	if index < 0 || index >= len(b.Blocks) {
		panic("BlockMethod.GetBlock: index out of range")
	}
	return b.Blocks[index]
}

// Disassemble returns a disassembly of the block's bytecode.
func (b *BlockMethod) Disassemble() string {
	return Disassemble(b.Bytecode)
}
