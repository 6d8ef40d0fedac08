package compiler

import (
	"fmt"
	"math"
	"strings"

	"github.com/quillvm/quill/vm"
)

// ---------------------------------------------------------------------------
// Codegen: compile method ASTs to bytecode
// ---------------------------------------------------------------------------

// CompileError aggregates the problems found while compiling one method.
type CompileError struct {
	Class    string
	Selector string
	Problems []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s>>%s: %s", e.Class, e.Selector, strings.Join(e.Problems, "; "))
}

// Compiler compiles MethodDef ASTs into vm.CompiledMethod values. String
// and large-integer literals are allocated on the VM's heap; the owning
// class reports them to the collector.
type Compiler struct {
	machine  *vm.VM
	class    string         // class name for diagnostics
	instVars map[string]int // instance variable name -> slot index
	errors   []string
}

// NewCompiler creates a compiler bound to a VM.
func NewCompiler(machine *vm.VM) *Compiler {
	return &Compiler{machine: machine}
}

// SetClass records the class context: its name for diagnostics and the
// full instance variable layout for ivar slot resolution.
func (c *Compiler) SetClass(name string, allInstVars []string) {
	c.class = name
	c.instVars = make(map[string]int, len(allInstVars))
	for i, ivar := range allInstVars {
		c.instVars[ivar] = i
	}
}

func (c *Compiler) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

// funcScope is the compilation context of one method or block body.
// Temp resolution walks the parent chain; a hit at level > 0 compiles to
// outer-frame access.
type funcScope struct {
	parent *funcScope

	b         *vm.BytecodeBuilder
	literals  []vm.Value
	litMap    map[litKey]int
	globals   []string
	globalMap map[string]int
	blocks    []*vm.BlockMethod

	slots    map[string]int
	numSlots int
	arity    int
}

type litKey struct {
	kind byte // 'v' immediate bits, 's' string contents
	bits uint64
	str  string
}

func newFuncScope(parent *funcScope) *funcScope {
	return &funcScope{
		parent:    parent,
		b:         vm.NewBytecodeBuilder(),
		litMap:    make(map[litKey]int),
		globalMap: make(map[string]int),
		slots:     make(map[string]int),
	}
}

// declare binds a name to the next slot. Returns the previous binding so
// inlined block scopes can restore shadowed names.
func (s *funcScope) declare(name string) (slot int, prev int, hadPrev bool) {
	prev, hadPrev = s.slots[name]
	slot = s.numSlots
	s.slots[name] = slot
	s.numSlots++
	return slot, prev, hadPrev
}

// declareHidden allocates an unnamed slot (inlined loop state).
func (s *funcScope) declareHidden() int {
	slot := s.numSlots
	s.numSlots++
	return slot
}

func (s *funcScope) restore(name string, prev int, hadPrev bool) {
	if hadPrev {
		s.slots[name] = prev
	} else {
		delete(s.slots, name)
	}
}

// resolve finds a name in the scope chain. level counts enclosing
// scopes: 0 is the current frame.
func (s *funcScope) resolve(name string) (level, index int, ok bool) {
	for cur, l := s, 0; cur != nil; cur, l = cur.parent, l+1 {
		if idx, found := cur.slots[name]; found {
			return l, idx, true
		}
	}
	return 0, 0, false
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// CompileMethod compiles one method definition.
func (c *Compiler) CompileMethod(def *MethodDef, classMethod bool) (*vm.CompiledMethod, error) {
	c.errors = nil

	scope := newFuncScope(nil)
	scope.arity = len(def.Parameters)
	for _, p := range def.Parameters {
		scope.declare(p)
	}
	for _, t := range def.Temps {
		scope.declare(t)
	}

	c.compileBody(scope, def.Statements, false)
	scope.b.Emit(vm.OpReturnSelf)

	if len(c.errors) > 0 {
		return nil, &CompileError{Class: c.class, Selector: def.Selector, Problems: c.errors}
	}

	m := vm.NewCompiledMethod(def.Selector, len(def.Parameters))
	m.NumTemps = scope.numSlots
	m.Bytecode = scope.b.Bytes()
	m.Literals = scope.literals
	m.GlobalNames = scope.globals
	m.Blocks = scope.blocks
	m.IsClassMethod = classMethod
	m.SetSelector(c.machine.Selectors.Intern(def.Selector))
	linkBlocks(m, m.Blocks)
	return m, nil
}

// linkBlocks records the enclosing method on every nested block.
func linkBlocks(m *vm.CompiledMethod, blocks []*vm.BlockMethod) {
	for _, blk := range blocks {
		blk.Outer = m
		linkBlocks(m, blk.Blocks)
	}
}

// compileBody compiles a statement list. With wantValue the last
// expression's value is left on the stack (nil for an empty body);
// otherwise every statement result is popped.
func (c *Compiler) compileBody(s *funcScope, stmts []Stmt, wantValue bool) {
	if wantValue && len(stmts) == 0 {
		s.b.Emit(vm.OpPushNil)
		return
	}
	for i, stmt := range stmts {
		last := i == len(stmts)-1
		switch st := stmt.(type) {
		case *ExprStmt:
			c.compileExpr(s, st.Expr)
			if !(wantValue && last) {
				s.b.Emit(vm.OpPOP)
			}
		case *Return:
			c.compileExpr(s, st.Value)
			if s.parent == nil {
				s.b.Emit(vm.OpReturnTop)
			} else {
				s.b.Emit(vm.OpBlockReturn)
			}
			if wantValue && last {
				// Keep the stack shape honest for the unreachable tail.
				s.b.Emit(vm.OpPushNil)
			}
		default:
			c.errorf("unknown statement type %T", stmt)
		}
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(s *funcScope, expr Expr) {
	switch e := expr.(type) {
	case *IntLiteral:
		c.compileInt(s, e.Value)
	case *FloatLiteral:
		c.pushLiteral(s, vm.FromFloat64(e.Value), litKey{kind: 'v', bits: uint64(vm.FromFloat64(e.Value))})
	case *StringLiteral:
		c.compileString(s, e.Value)
	case *SymbolLiteral:
		sym := c.machine.Symbols.SymbolValue(e.Value)
		c.pushLiteral(s, sym, litKey{kind: 'v', bits: uint64(sym)})
	case *ArrayLiteral:
		c.compileArray(s, e)
	case *NilLiteral:
		s.b.Emit(vm.OpPushNil)
	case *TrueLiteral:
		s.b.Emit(vm.OpPushTrue)
	case *FalseLiteral:
		s.b.Emit(vm.OpPushFalse)
	case *Self:
		s.b.Emit(vm.OpPushSelf)
	case *Super:
		c.errorf("super is only valid as a message receiver")
	case *Variable:
		c.compileVariable(s, e.Name)
	case *Assignment:
		c.compileAssignment(s, e)
	case *UnaryMessage:
		c.compileSend(s, e.Receiver, e.Selector, nil)
	case *BinaryMessage:
		c.compileSend(s, e.Receiver, e.Selector, []Expr{e.Argument})
	case *KeywordMessage:
		c.compileSend(s, e.Receiver, e.Selector, e.Arguments)
	case *Cascade:
		c.compileCascade(s, e)
	case *Block:
		c.compileBlock(s, e)
	default:
		c.errorf("unknown expression type %T", expr)
	}
}

func (c *Compiler) compileInt(s *funcScope, value int64) {
	switch {
	case value >= -128 && value <= 127:
		s.b.EmitInt8(vm.OpPushInt8, int8(value))
	case value >= math.MinInt32 && value <= math.MaxInt32:
		s.b.EmitInt32(vm.OpPushInt32, int32(value))
	default:
		v := c.machine.MakeInt(value)
		c.pushLiteral(s, v, litKey{kind: 'v', bits: uint64(v)})
	}
}

func (c *Compiler) compileString(s *funcScope, value string) {
	key := litKey{kind: 's', str: value}
	if idx, ok := s.litMap[key]; ok {
		s.b.EmitUint16(vm.OpPushLiteral, uint16(idx))
		return
	}
	c.pushLiteral(s, c.machine.NewString(value), key)
}

func (c *Compiler) pushLiteral(s *funcScope, v vm.Value, key litKey) {
	idx, ok := s.litMap[key]
	if !ok {
		idx = len(s.literals)
		if idx > math.MaxUint16 {
			c.errorf("too many literals in one method")
			return
		}
		s.literals = append(s.literals, v)
		s.litMap[key] = idx
	}
	s.b.EmitUint16(vm.OpPushLiteral, uint16(idx))
}

func (c *Compiler) compileArray(s *funcScope, arr *ArrayLiteral) {
	if len(arr.Elements) > 255 {
		c.errorf("array expression exceeds 255 elements")
		return
	}
	for _, elem := range arr.Elements {
		c.compileExpr(s, elem)
	}
	s.b.EmitByte(vm.OpCreateArray, byte(len(arr.Elements)))
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (c *Compiler) compileVariable(s *funcScope, name string) {
	switch name {
	case "nil":
		s.b.Emit(vm.OpPushNil)
		return
	case "true":
		s.b.Emit(vm.OpPushTrue)
		return
	case "false":
		s.b.Emit(vm.OpPushFalse)
		return
	case "self":
		s.b.Emit(vm.OpPushSelf)
		return
	}

	if level, idx, ok := s.resolve(name); ok {
		if idx > 255 || level > 255 {
			c.errorf("temp %q out of encodable range", name)
			return
		}
		if level == 0 {
			s.b.EmitByte(vm.OpPushTemp, byte(idx))
		} else {
			s.b.EmitBytes(vm.OpPushOuter, byte(level), byte(idx))
		}
		return
	}
	if idx, ok := c.instVars[name]; ok {
		s.b.EmitByte(vm.OpPushIvar, byte(idx))
		return
	}
	s.b.EmitUint16(vm.OpPushGlobal, uint16(c.globalIndex(s, name)))
}

func (c *Compiler) compileAssignment(s *funcScope, assign *Assignment) {
	c.compileExpr(s, assign.Value)
	// The assignment's own value: duplicate before the store consumes it.
	s.b.Emit(vm.OpDUP)

	name := assign.Variable
	if level, idx, ok := s.resolve(name); ok {
		if level == 0 {
			s.b.EmitByte(vm.OpStoreTemp, byte(idx))
		} else {
			s.b.EmitBytes(vm.OpStoreOuter, byte(level), byte(idx))
		}
		return
	}
	if idx, ok := c.instVars[name]; ok {
		s.b.EmitByte(vm.OpStoreIvar, byte(idx))
		return
	}
	s.b.EmitUint16(vm.OpStoreGlobal, uint16(c.globalIndex(s, name)))
}

func (c *Compiler) globalIndex(s *funcScope, name string) int {
	if idx, ok := s.globalMap[name]; ok {
		return idx
	}
	idx := len(s.globals)
	s.globals = append(s.globals, name)
	s.globalMap[name] = idx
	return idx
}

// ---------------------------------------------------------------------------
// Sends
// ---------------------------------------------------------------------------

// Optimized single-byte send opcodes.
var fastSends = map[string]vm.Opcode{
	"+": vm.OpSendPlus,
	"-": vm.OpSendMinus,
	"*": vm.OpSendTimes,
	"<": vm.OpSendLT,
	">": vm.OpSendGT,
	"=": vm.OpSendEQ,
}

func (c *Compiler) compileSend(s *funcScope, receiver Expr, selector string, args []Expr) {
	_, isSuper := receiver.(*Super)

	if !isSuper && c.inlineSend(s, receiver, selector, args) {
		return
	}

	if isSuper {
		s.b.Emit(vm.OpPushSelf)
	} else {
		c.compileExpr(s, receiver)
	}
	for _, arg := range args {
		c.compileExpr(s, arg)
	}
	if len(args) > 255 {
		c.errorf("send %q exceeds 255 arguments", selector)
		return
	}

	if !isSuper {
		if op, ok := fastSends[selector]; ok && len(args) == 1 {
			s.b.Emit(op)
			return
		}
		if selector == "value" && len(args) == 0 {
			s.b.Emit(vm.OpSendValue)
			return
		}
		if selector == "value:" && len(args) == 1 {
			s.b.Emit(vm.OpSendValue1)
			return
		}
	}

	id := c.machine.Selectors.Intern(selector)
	if id > math.MaxUint16 {
		c.errorf("selector table overflow at %q", selector)
		return
	}
	op := vm.OpSend
	if isSuper {
		op = vm.OpSendSuper
	}
	s.b.EmitSend(op, uint16(id), byte(len(args)))
}

func (c *Compiler) compileCascade(s *funcScope, cascade *Cascade) {
	c.compileExpr(s, cascade.Receiver)
	for i, msg := range cascade.Messages {
		last := i == len(cascade.Messages)-1
		if !last {
			s.b.Emit(vm.OpDUP)
		}
		for _, arg := range msg.Arguments {
			c.compileExpr(s, arg)
		}
		id := c.machine.Selectors.Intern(msg.Selector)
		s.b.EmitSend(vm.OpSend, uint16(id), byte(len(msg.Arguments)))
		if !last {
			s.b.Emit(vm.OpPOP)
		}
	}
}

// ---------------------------------------------------------------------------
// Control-flow inlining
// ---------------------------------------------------------------------------

// literalBlock returns the expression as a parameterless literal block.
func literalBlock(e Expr) (*Block, bool) {
	blk, ok := e.(*Block)
	if !ok || len(blk.Parameters) > 0 {
		return nil, false
	}
	return blk, true
}

// inlineSend compiles the conditional and loop selectors as jumps when
// their block operands are literal. Non-literal operands fall back to
// real sends, which the bootstrap methods on Boolean, Block and Integer
// handle.
func (c *Compiler) inlineSend(s *funcScope, receiver Expr, selector string, args []Expr) bool {
	switch selector {
	case "ifTrue:":
		blk, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		c.inlineIf(s, receiver, blk, nil)
		return true

	case "ifFalse:":
		blk, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		c.inlineIf(s, receiver, nil, blk)
		return true

	case "ifTrue:ifFalse:":
		thenB, ok1 := literalBlock(args[0])
		elseB, ok2 := literalBlock(args[1])
		if !ok1 || !ok2 {
			return false
		}
		c.inlineIf(s, receiver, thenB, elseB)
		return true

	case "ifFalse:ifTrue:":
		elseB, ok1 := literalBlock(args[0])
		thenB, ok2 := literalBlock(args[1])
		if !ok1 || !ok2 {
			return false
		}
		c.inlineIf(s, receiver, thenB, elseB)
		return true

	case "and:":
		blk, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		c.compileExpr(s, receiver)
		s.b.Emit(vm.OpDUP)
		end := s.b.NewLabel()
		s.b.EmitJump(vm.OpJumpFalse, end)
		s.b.Emit(vm.OpPOP)
		c.inlineBody(s, blk, true)
		s.b.Mark(end)
		return true

	case "or:":
		blk, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		c.compileExpr(s, receiver)
		s.b.Emit(vm.OpDUP)
		end := s.b.NewLabel()
		s.b.EmitJump(vm.OpJumpTrue, end)
		s.b.Emit(vm.OpPOP)
		c.inlineBody(s, blk, true)
		s.b.Mark(end)
		return true

	case "whileTrue:", "whileFalse:":
		condB, ok1 := literalBlock(receiver)
		bodyB, ok2 := literalBlock(args[0])
		if !ok1 || !ok2 {
			return false
		}
		loop := s.b.NewLabel()
		end := s.b.NewLabel()
		s.b.Mark(loop)
		c.inlineBody(s, condB, true)
		if selector == "whileTrue:" {
			s.b.EmitJump(vm.OpJumpFalse, end)
		} else {
			s.b.EmitJump(vm.OpJumpTrue, end)
		}
		c.inlineBody(s, bodyB, false)
		s.b.EmitJump(vm.OpJump, loop)
		s.b.Mark(end)
		s.b.Emit(vm.OpPushNil)
		return true

	case "to:do:":
		bodyB, ok := args[1].(*Block)
		if !ok || len(bodyB.Parameters) > 1 {
			return false
		}
		c.inlineToDo(s, receiver, args[0], bodyB)
		return true

	case "timesRepeat:":
		bodyB, ok := literalBlock(args[0])
		if !ok {
			return false
		}
		c.inlineTimesRepeat(s, receiver, bodyB)
		return true
	}
	return false
}

// inlineIf compiles a conditional. Either branch may be nil, which
// contributes nil as the branch value.
func (c *Compiler) inlineIf(s *funcScope, cond Expr, thenB, elseB *Block) {
	c.compileExpr(s, cond)
	elseL := s.b.NewLabel()
	end := s.b.NewLabel()
	s.b.EmitJump(vm.OpJumpFalse, elseL)
	if thenB != nil {
		c.inlineBody(s, thenB, true)
	} else {
		s.b.Emit(vm.OpPushNil)
	}
	s.b.EmitJump(vm.OpJump, end)
	s.b.Mark(elseL)
	if elseB != nil {
		c.inlineBody(s, elseB, true)
	} else {
		s.b.Emit(vm.OpPushNil)
	}
	s.b.Mark(end)
}

// inlineBody compiles a literal block's statements into the current
// scope. The block's temps become method temps, shadowing outer names
// for the extent of the body.
func (c *Compiler) inlineBody(s *funcScope, blk *Block, wantValue bool) {
	type saved struct {
		name    string
		prev    int
		hadPrev bool
	}
	var restores []saved
	for _, t := range blk.Temps {
		_, prev, had := s.declare(t)
		restores = append(restores, saved{t, prev, had})
	}
	c.compileBody(s, blk.Statements, wantValue)
	for i := len(restores) - 1; i >= 0; i-- {
		r := restores[i]
		s.restore(r.name, r.prev, r.hadPrev)
	}
}

// inlineToDo compiles `from to: limit do: [:i | body]`. The loop
// variable and the limit live in hidden method temps; the receiver is
// duplicated under the loop so it remains as the expression value.
func (c *Compiler) inlineToDo(s *funcScope, from, limit Expr, bodyB *Block) {
	var iName string
	var iSlot int
	var prev int
	var hadPrev bool
	if len(bodyB.Parameters) == 1 {
		iName = bodyB.Parameters[0]
		iSlot, prev, hadPrev = s.declare(iName)
	} else {
		iSlot = s.declareHidden()
	}
	limSlot := s.declareHidden()

	c.compileExpr(s, from)
	s.b.Emit(vm.OpDUP)
	s.b.EmitByte(vm.OpStoreTemp, byte(iSlot))
	c.compileExpr(s, limit)
	s.b.EmitByte(vm.OpStoreTemp, byte(limSlot))

	loop := s.b.NewLabel()
	end := s.b.NewLabel()
	s.b.Mark(loop)
	s.b.EmitByte(vm.OpPushTemp, byte(iSlot))
	s.b.EmitByte(vm.OpPushTemp, byte(limSlot))
	s.b.Emit(vm.OpSendGT)
	s.b.EmitJump(vm.OpJumpTrue, end)
	c.inlineBody(s, bodyB, false)
	s.b.EmitByte(vm.OpPushTemp, byte(iSlot))
	s.b.EmitInt8(vm.OpPushInt8, 1)
	s.b.Emit(vm.OpSendPlus)
	s.b.EmitByte(vm.OpStoreTemp, byte(iSlot))
	s.b.EmitJump(vm.OpJump, loop)
	s.b.Mark(end)

	if iName != "" {
		s.restore(iName, prev, hadPrev)
	}
}

// inlineTimesRepeat compiles `n timesRepeat: [body]`, leaving the
// receiver as the expression value.
func (c *Compiler) inlineTimesRepeat(s *funcScope, count Expr, bodyB *Block) {
	iSlot := s.declareHidden()
	limSlot := s.declareHidden()

	c.compileExpr(s, count)
	s.b.Emit(vm.OpDUP)
	s.b.EmitByte(vm.OpStoreTemp, byte(limSlot))
	s.b.EmitInt8(vm.OpPushInt8, 1)
	s.b.EmitByte(vm.OpStoreTemp, byte(iSlot))

	loop := s.b.NewLabel()
	end := s.b.NewLabel()
	s.b.Mark(loop)
	s.b.EmitByte(vm.OpPushTemp, byte(iSlot))
	s.b.EmitByte(vm.OpPushTemp, byte(limSlot))
	s.b.Emit(vm.OpSendGT)
	s.b.EmitJump(vm.OpJumpTrue, end)
	c.inlineBody(s, bodyB, false)
	s.b.EmitByte(vm.OpPushTemp, byte(iSlot))
	s.b.EmitInt8(vm.OpPushInt8, 1)
	s.b.Emit(vm.OpSendPlus)
	s.b.EmitByte(vm.OpStoreTemp, byte(iSlot))
	s.b.EmitJump(vm.OpJump, loop)
	s.b.Mark(end)
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func (c *Compiler) compileBlock(s *funcScope, blk *Block) {
	child := newFuncScope(s)
	child.arity = len(blk.Parameters)
	for _, p := range blk.Parameters {
		child.declare(p)
	}
	for _, t := range blk.Temps {
		child.declare(t)
	}

	// A block answers its last expression; ^ inside compiles to a
	// non-local return in compileBody.
	c.compileBody(child, blk.Statements, true)
	child.b.Emit(vm.OpReturnTop)

	bm := vm.NewBlockMethod(len(blk.Parameters))
	bm.NumTemps = child.numSlots
	bm.Bytecode = child.b.Bytes()
	bm.Literals = child.literals
	bm.GlobalNames = child.globals
	bm.Blocks = child.blocks

	idx := len(s.blocks)
	if idx > math.MaxUint16 {
		c.errorf("too many blocks in one method")
		return
	}
	s.blocks = append(s.blocks, bm)
	s.b.EmitUint16(vm.OpCreateBlock, uint16(idx))
}
