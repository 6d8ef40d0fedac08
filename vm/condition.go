package vm

import "fmt"

// Runtime condition class names. Conditions raised by primitives or the
// dispatcher are delivered to the running program as message sends; the
// default handlers halt the interpreter with an error payload.
const (
	CondMessageNotUnderstood = "MessageNotUnderstood"
	CondTypeError            = "TypeError"
	CondIndexError           = "IndexError"
	CondZeroDivide           = "ZeroDivide"
	CondBlockContextError    = "BlockContextError"
)

// Condition is a pending runtime condition. A primitive records one on
// the VM and returns; the interpreter loop notices it at the next safe
// point and delivers it by sending signal: to the condition class.
type Condition struct {
	Class    string // condition class name
	Message  string // human-readable description
	Receiver Value  // offending receiver, Nil when not applicable
	Selector int    // offending selector ID, -1 when not applicable
	Args     Value  // argument array handle, Nil when not applicable
}

// RunError is the error payload of a halted run: an uncaught condition
// or a fatal interpreter fault.
type RunError struct {
	Condition string // condition class name, "" for interpreter faults
	Message   string
}

func (e *RunError) Error() string {
	if e.Condition == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Message)
}

// Signal records a pending condition on the VM. Only the first pending
// condition is kept; delivery resets the slot.
func (vm *VM) Signal(cond *Condition) {
	if vm.pending == nil {
		vm.pending = cond
	}
}

// SignalTypeError records a TypeError describing an argument mismatch.
func (vm *VM) SignalTypeError(format string, args ...interface{}) Value {
	vm.Signal(&Condition{
		Class:    CondTypeError,
		Message:  fmt.Sprintf(format, args...),
		Receiver: Nil,
		Selector: -1,
		Args:     Nil,
	})
	return Nil
}

// SignalIndexError records an IndexError for an out-of-bounds access.
func (vm *VM) SignalIndexError(index, size int64) Value {
	vm.Signal(&Condition{
		Class:    CondIndexError,
		Message:  fmt.Sprintf("index %d out of bounds for size %d", index, size),
		Receiver: Nil,
		Selector: -1,
		Args:     Nil,
	})
	return Nil
}

// SignalZeroDivide records a ZeroDivide condition.
func (vm *VM) SignalZeroDivide() Value {
	vm.Signal(&Condition{
		Class:    CondZeroDivide,
		Message:  "division by zero",
		Receiver: Nil,
		Selector: -1,
		Args:     Nil,
	})
	return Nil
}

// bootstrapConditionClasses installs the condition hierarchy:
//
//	Exception
//	  Error
//	    MessageNotUnderstood
//	    TypeError
//	    IndexError
//	    ZeroDivide
//	    BlockContextError
//
// Exception's class side carries the default signal: handler, which
// halts the interpreter. Programs may shadow it in a subclass to observe
// or absorb conditions.
func (vm *VM) bootstrapConditionClasses() {
	object := vm.Classes.Lookup("Object")

	exception := vm.defineClass("Exception", object, nil)
	errClass := vm.defineClass("Error", exception, nil)
	for _, name := range []string{
		CondMessageNotUnderstood,
		CondTypeError,
		CondIndexError,
		CondZeroDivide,
		CondBlockContextError,
	} {
		vm.defineClass(name, errClass, nil)
	}

	exception.AddClassMethod1(vm.Selectors, "signal:", func(vmi interface{}, recv Value, msg Value) Value {
		v := vmi.(*VM)
		name := "Exception"
		if cls, ok := v.Heap.Get(recv).(*Class); ok {
			name = cls.Name
		}
		v.interp.halt(&RunError{Condition: name, Message: v.StringContents(msg)})
		return Nil
	})
}
