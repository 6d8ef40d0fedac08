package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("quill.vm")

// VM owns the heap, the class registry, the interning tables and the
// interpreter. One VM is one isolated guest world.
type VM struct {
	Heap      *Heap
	Classes   *ClassTable
	Selectors *SelectorTable
	Symbols   *SymbolTable

	globalsMu sync.RWMutex
	globals   map[string]Value

	interp  *Interpreter
	pending *Condition

	kernelNames map[string]bool

	// Stdout receives transcript output from print primitives.
	Stdout io.Writer

	// Builtin classes, installed by Bootstrap.
	ObjectClass          *Class
	ClassClass           *Class
	MetaclassClass       *Class
	UndefinedObjectClass *Class
	BooleanClass         *Class
	IntegerClass         *Class
	LargeIntegerClass    *Class
	FloatClass           *Class
	SymbolClass          *Class
	StringClass          *Class
	ArrayClass           *Class
	BlockClass           *Class
	ContextClass         *Class
	MessageClass         *Class

	// Frequently used selector IDs, interned once at bootstrap.
	selPlus, selMinus, selTimes, selDiv  int
	selLT, selGT, selLE, selGE           int
	selEQ, selNE                         int
	selValue, selValue1, selValue2       int
	selDNU, selSignal, selPrintString    int
}

// NewVM creates and bootstraps a fresh VM.
func NewVM() *VM {
	vm := &VM{
		Heap:      NewHeap(),
		Selectors: NewSelectorTable(),
		Symbols:   NewSymbolTable(),
		globals:   make(map[string]Value),
		Stdout:    os.Stdout,
	}
	vm.Classes = NewClassTable(vm.Heap)
	vm.Heap.AddRootSet(vm.globalRoots)
	vm.interp = NewInterpreter(vm)
	vm.bootstrap()
	return vm
}

// Interpreter returns the VM's interpreter.
func (vm *VM) Interpreter() *Interpreter {
	return vm.interp
}

func (vm *VM) globalRoots(fn func(Value)) {
	vm.globalsMu.RLock()
	defer vm.globalsMu.RUnlock()
	for _, v := range vm.globals {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global returns the global bound to name, or Nil.
func (vm *VM) Global(name string) Value {
	vm.globalsMu.RLock()
	defer vm.globalsMu.RUnlock()
	if v, ok := vm.globals[name]; ok {
		return v
	}
	return Nil
}

// SetGlobal binds a global. Ownership of v transfers to the globals
// table; the displaced binding is released.
func (vm *VM) SetGlobal(name string, v Value) {
	vm.globalsMu.Lock()
	old, had := vm.globals[name]
	vm.globals[name] = v
	vm.globalsMu.Unlock()
	if had {
		vm.Heap.Release(old)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

// bootstrap builds the kernel classes and wires the metaclass loop, then
// installs the primitive methods and the condition hierarchy.
//
// The loop: every class's metaclass is an instance of Metaclass; the
// metaclass chain parallels the class chain and roots at Class, so
// class-side lookup ultimately reaches Object too.
func (vm *VM) bootstrap() {
	// Kernel classes exist before their metaclasses can.
	object := NewClass("Object", nil)
	classClass := NewClassWithInstVars("Class", object, nil)
	metaclass := NewClass("Metaclass", classClass)

	vm.ObjectClass = object
	vm.ClassClass = classClass
	vm.MetaclassClass = metaclass

	for _, c := range []*Class{object, classClass, metaclass} {
		c.meta = newMetaclass(c, classClass)
		vm.Classes.Register(c)
		vm.bindClassGlobal(c)
	}

	vm.UndefinedObjectClass = vm.defineClass("UndefinedObject", object, nil)
	vm.BooleanClass = vm.defineClass("Boolean", object, nil)
	vm.IntegerClass = vm.defineClass("Integer", object, nil)
	vm.LargeIntegerClass = vm.defineClass("LargeInteger", vm.IntegerClass, nil)
	vm.FloatClass = vm.defineClass("Float", object, nil)
	vm.SymbolClass = vm.defineClass("Symbol", object, nil)
	vm.StringClass = vm.defineClass("String", object, nil)
	vm.ArrayClass = vm.defineClass("Array", object, nil)
	vm.BlockClass = vm.defineClass("Block", object, nil)
	vm.ContextClass = vm.defineClass("Context", object, nil)
	vm.MessageClass = vm.defineClass("Message", object, nil)

	vm.internCommonSelectors()

	registerObjectPrimitives(vm)
	registerIntegerPrimitives(vm)
	registerFloatPrimitives(vm)
	registerBooleanPrimitives(vm)
	registerStringPrimitives(vm)
	registerSymbolPrimitives(vm)
	registerArrayPrimitives(vm)
	registerBlockPrimitives(vm)
	registerClassPrimitives(vm)
	registerControlMethods(vm)
	registerLoopMethods(vm)

	vm.bootstrapConditionClasses()

	vm.kernelNames = make(map[string]bool)
	for _, c := range vm.Classes.All() {
		vm.kernelNames[c.Name] = true
	}

	vmLog.Debugf("bootstrap complete: %d classes, %d selectors",
		vm.Classes.Len(), vm.Selectors.Len())
}

func (vm *VM) internCommonSelectors() {
	vm.selPlus = vm.Selectors.Intern("+")
	vm.selMinus = vm.Selectors.Intern("-")
	vm.selTimes = vm.Selectors.Intern("*")
	vm.selDiv = vm.Selectors.Intern("/")
	vm.selLT = vm.Selectors.Intern("<")
	vm.selGT = vm.Selectors.Intern(">")
	vm.selLE = vm.Selectors.Intern("<=")
	vm.selGE = vm.Selectors.Intern(">=")
	vm.selEQ = vm.Selectors.Intern("=")
	vm.selNE = vm.Selectors.Intern("~=")
	vm.selValue = vm.Selectors.Intern("value")
	vm.selValue1 = vm.Selectors.Intern("value:")
	vm.selValue2 = vm.Selectors.Intern("value:value:")
	vm.selDNU = vm.Selectors.Intern("doesNotUnderstand:")
	vm.selSignal = vm.Selectors.Intern("signal:")
	vm.selPrintString = vm.Selectors.Intern("printString")
}

// isValueSelector reports whether selector is one of the block
// invocation selectors.
func (vm *VM) isValueSelector(selector int) bool {
	return selector == vm.selValue || selector == vm.selValue1 || selector == vm.selValue2
}

// defineClass creates a class with its metaclass, registers both and
// binds the class as a global.
func (vm *VM) defineClass(name string, superclass *Class, instVars []string) *Class {
	c := NewClassWithInstVars(name, superclass, instVars)
	c.meta = newMetaclass(c, vm.ClassClass)
	vm.Classes.Register(c)
	vm.bindClassGlobal(c)
	return c
}

// DefineClass creates and registers a class with its metaclass, binding
// it as a global. Used by the loader and by embedders.
func (vm *VM) DefineClass(name string, superclass *Class, instVars []string) *Class {
	return vm.defineClass(name, superclass, instVars)
}

func (vm *VM) bindClassGlobal(c *Class) {
	vm.Heap.Share(c.Handle())
	vm.SetGlobal(c.Name, c.Handle())
}

// ---------------------------------------------------------------------------
// classOf
// ---------------------------------------------------------------------------

// classOf maps any value to its class. The chain of classOf steps from
// any value reaches Metaclass in finitely many steps and stays there:
// instances map to their class, classes to their metaclass, metaclasses
// to Metaclass.
func (vm *VM) classOf(v Value) *Class {
	switch {
	case v.IsSmallInt():
		return vm.IntegerClass
	case v.IsFloat():
		return vm.FloatClass
	case v.IsSymbol():
		return vm.SymbolClass
	case v == Nil:
		return vm.UndefinedObjectClass
	case v == True || v == False:
		return vm.BooleanClass
	}

	switch obj := vm.Heap.Get(v).(type) {
	case *Object:
		return obj.Class()
	case *Class:
		if obj.IsMeta() {
			return vm.MetaclassClass
		}
		return obj.Meta()
	case *StringObject:
		return vm.StringClass
	case *ArrayObject:
		return vm.ArrayClass
	case *BigIntObject:
		return vm.LargeIntegerClass
	case *BlockObject:
		return vm.BlockClass
	case *Frame:
		return vm.ContextClass
	case *MessageObject:
		return vm.MessageClass
	}
	return nil
}

// ClassOf is the exported form of classOf.
func (vm *VM) ClassOf(v Value) *Class {
	return vm.classOf(v)
}

// ---------------------------------------------------------------------------
// Allocation helpers
// ---------------------------------------------------------------------------

// NewString allocates a string object. The returned handle is owned by
// the caller. Allocation is a collection safe point.
func (vm *VM) NewString(s string) Value {
	vm.Heap.MaybeCollect()
	return vm.Heap.Acquire(&StringObject{S: s})
}

// NewArray allocates an array of n nil elements.
func (vm *VM) NewArray(n int) Value {
	vm.Heap.MaybeCollect()
	return vm.Heap.Acquire(NewArrayObject(n))
}

// NewInstance allocates an instance of a class.
func (vm *VM) NewInstance(c *Class) Value {
	vm.Heap.MaybeCollect()
	return vm.Heap.Acquire(c.NewInstance())
}

// StringContents returns the Go string behind a string or symbol value,
// or "" if v is neither.
func (vm *VM) StringContents(v Value) string {
	if v.IsSymbol() {
		return vm.Symbols.Name(v.SymbolID())
	}
	if s, ok := vm.Heap.Get(v).(*StringObject); ok {
		return s.S
	}
	return ""
}

// ---------------------------------------------------------------------------
// Printing
// ---------------------------------------------------------------------------

// PrintString renders a value the way the printString primitives do.
// Floats use the shortest representation that reparses to the same
// bits; integers print in full decimal regardless of magnitude.
func (vm *VM) PrintString(v Value) string {
	switch {
	case v == Nil:
		return "nil"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsSmallInt():
		return strconv.FormatInt(v.SmallInt(), 10)
	case v.IsFloat():
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case v.IsSymbol():
		return "#" + vm.Symbols.Name(v.SymbolID())
	}

	switch obj := vm.Heap.Get(v).(type) {
	case *StringObject:
		return "'" + obj.S + "'"
	case *BigIntObject:
		return obj.X.String()
	case *Class:
		return obj.Name
	case *ArrayObject:
		s := "#("
		for i, e := range obj.Elems {
			if i > 0 {
				s += " "
			}
			s += vm.PrintString(e)
		}
		return s + ")"
	case *BlockObject:
		return "a Block"
	case *Frame:
		return "a Context"
	case *MessageObject:
		return "a Message"
	case *Object:
		return article(obj.ClassName()) + obj.ClassName()
	}
	return "an invalid object"
}

// DescribeValue renders a value for diagnostics.
func (vm *VM) DescribeValue(v Value) string {
	return vm.PrintString(v)
}

func article(name string) string {
	if len(name) > 0 {
		switch name[0] {
		case 'A', 'E', 'I', 'O', 'U':
			return "an "
		}
	}
	return "a "
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// Send dispatches a message from Go. Receiver and args are borrowed;
// the returned value is owned by the caller, who releases it when done.
func (vm *VM) Send(receiver Value, selectorName string, args ...Value) (Value, error) {
	selector := vm.Selectors.Intern(selectorName)
	class := vm.classOf(receiver)
	if class == nil {
		return Nil, &RunError{Message: "receiver has no class: " + vm.DescribeValue(receiver)}
	}

	// Block receivers answer value sends directly.
	if blk, ok := vm.Heap.Get(receiver).(*BlockObject); ok && vm.isValueSelector(selector) {
		return vm.callBlock(receiver, blk, args)
	}

	m := class.LookupMethod(selector)
	if m == nil {
		return Nil, &RunError{
			Condition: CondMessageNotUnderstood,
			Message:   fmt.Sprintf("%s does not understand #%s", vm.DescribeValue(receiver), selectorName),
		}
	}

	vm.Heap.Share(receiver)
	for _, a := range args {
		vm.Heap.Share(a)
	}

	if cm, ok := m.(*CompiledMethod); ok {
		result, rerr := vm.interp.RunMethod(cm, cm.Class(), receiver, args)
		if rerr != nil {
			return Nil, rerr
		}
		return result, nil
	}

	result := m.Invoke(vm, receiver, args)
	vm.Heap.Release(receiver)
	for _, a := range args {
		vm.Heap.Release(a)
	}
	if vm.pending != nil {
		cond := vm.pending
		vm.pending = nil
		vm.Heap.Release(result)
		return Nil, &RunError{Condition: cond.Class, Message: cond.Message}
	}
	return result, nil
}

// callBlock invokes a block closure from Go.
func (vm *VM) callBlock(blockV Value, blk *BlockObject, args []Value) (Value, error) {
	if blk.Arity() != len(args) {
		return Nil, &RunError{
			Condition: CondTypeError,
			Message:   fmt.Sprintf("block expects %d arguments, got %d", blk.Arity(), len(args)),
		}
	}
	for _, a := range args {
		vm.Heap.Share(a)
	}
	f := NewBlockFrame(blk, args)
	vm.Heap.Share(f.Receiver)
	vm.Heap.Share(f.Outer)
	vm.Heap.Share(f.Home)

	in := vm.interp
	in.state = StateRunning
	in.err = nil
	if !in.pushFrame(f) {
		return Nil, in.err
	}
	base := len(in.frames) - 1
	for {
		switch in.state {
		case StateHalted:
			for len(in.frames) > base {
				in.popFrame()
			}
			return Nil, in.err
		case StateReturning:
			if in.unwindOne(base) {
				return in.result, nil
			}
		case StateRunning:
			if len(in.frames) <= base {
				return in.result, nil
			}
			in.step(in.top())
		}
		if vm.pending != nil && in.state == StateRunning {
			in.deliverCondition()
		}
	}
}

// RunEntry looks up a class by name and sends a class-side selector to
// it. This is the CLI entry contract.
func (vm *VM) RunEntry(className, selectorName string) (Value, error) {
	class := vm.Classes.Lookup(className)
	if class == nil {
		return Nil, fmt.Errorf("entry class %q not found", className)
	}
	return vm.Send(class.Handle(), selectorName)
}

// IsKernelClass reports whether name was installed by the bootstrap.
func (vm *VM) IsKernelClass(name string) bool {
	return vm.kernelNames[name]
}

// UserClasses returns the loaded non-kernel classes, superclasses before
// subclasses, ties broken by name.
func (vm *VM) UserClasses() []*Class {
	var out []*Class
	for _, c := range vm.Classes.All() {
		if !vm.kernelNames[c.Name] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Depth(), out[j].Depth()
		if di != dj {
			return di < dj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CollectGarbage runs a cycle collection and returns the number of
// objects reclaimed.
func (vm *VM) CollectGarbage() int {
	return vm.Heap.Collect()
}

// MakeInt returns the canonical value for n: a SmallInt when it fits,
// a LargeInteger otherwise.
func (vm *VM) MakeInt(n int64) Value {
	if v, ok := TryFromSmallInt(n); ok {
		return v
	}
	return vm.newBigInt(bigFromInt64(n))
}
