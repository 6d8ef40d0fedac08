package vm

import "fmt"

// registerObjectPrimitives installs the behavior every value inherits.
func registerObjectPrimitives(vm *VM) {
	c := vm.ObjectClass
	sel := vm.Selectors

	c.AddMethod0(sel, "class", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		cls := v.classOf(recv)
		if cls == nil {
			return Nil
		}
		v.Heap.Share(cls.Handle())
		return cls.Handle()
	})

	c.AddMethod0(sel, "yourself", func(vmi interface{}, recv Value) Value {
		vmi.(*VM).Heap.Share(recv)
		return recv
	})

	c.AddMethod0(sel, "isNil", func(vmi interface{}, recv Value) Value {
		return FromBool(recv == Nil)
	})
	c.AddMethod0(sel, "notNil", func(vmi interface{}, recv Value) Value {
		return FromBool(recv != Nil)
	})

	// Default equality is identity. Immediates compare by bits, heap
	// objects by handle. String and the numeric classes override this.
	c.AddMethod1(sel, "=", func(vmi interface{}, recv, arg Value) Value {
		return FromBool(recv == arg)
	})
	c.AddMethod1(sel, "~=", func(vmi interface{}, recv, arg Value) Value {
		return FromBool(recv != arg)
	})
	c.AddMethod1(sel, "==", func(vmi interface{}, recv, arg Value) Value {
		return FromBool(recv == arg)
	})
	c.AddMethod1(sel, "~~", func(vmi interface{}, recv, arg Value) Value {
		return FromBool(recv != arg)
	})

	c.AddMethod1(sel, "isKindOf:", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		target, ok := v.Heap.Get(arg).(*Class)
		if !ok {
			return v.SignalTypeError("isKindOf:: expected a class, got %s", v.DescribeValue(arg))
		}
		cls := v.classOf(recv)
		return FromBool(cls != nil && cls.IsSubclassOf(target))
	})

	c.AddMethod1(sel, "isMemberOf:", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		target, ok := v.Heap.Get(arg).(*Class)
		if !ok {
			return v.SignalTypeError("isMemberOf:: expected a class, got %s", v.DescribeValue(arg))
		}
		return FromBool(v.classOf(recv) == target)
	})

	c.AddMethod1(sel, "respondsTo:", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !arg.IsSymbol() {
			return v.SignalTypeError("respondsTo:: expected a Symbol, got %s", v.DescribeValue(arg))
		}
		id := v.Selectors.Lookup(v.Symbols.Name(arg.SymbolID()))
		if id < 0 {
			return False
		}
		cls := v.classOf(recv)
		return FromBool(cls != nil && cls.LookupMethod(id) != nil)
	})

	c.AddMethod0(sel, "printString", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		return v.NewString(v.PrintString(recv))
	})

	c.AddMethod0(sel, "print", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		fmt.Fprint(v.Stdout, v.displayString(recv))
		v.Heap.Share(recv)
		return recv
	})

	c.AddMethod0(sel, "println", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		fmt.Fprintln(v.Stdout, v.displayString(recv))
		v.Heap.Share(recv)
		return recv
	})

	// The default handler turns a failed send back into a condition so
	// user classes can shadow either this method or the condition class.
	c.AddMethod1(sel, "doesNotUnderstand:", func(vmi interface{}, recv, msgV Value) Value {
		v := vmi.(*VM)
		selName := "?"
		if m, ok := v.Heap.Get(msgV).(*MessageObject); ok {
			selName = v.Symbols.Name(m.Selector.SymbolID())
		}
		v.Signal(&Condition{
			Class:    CondMessageNotUnderstood,
			Message:  fmt.Sprintf("%s does not understand #%s", v.DescribeValue(recv), selName),
			Receiver: Nil,
			Selector: v.Selectors.Lookup(selName),
			Args:     Nil,
		})
		return Nil
	})
}

// displayString is printString without the quoting: strings and symbols
// render as their raw contents.
func (vm *VM) displayString(v Value) string {
	if v.IsSymbol() {
		return vm.Symbols.Name(v.SymbolID())
	}
	if s, ok := vm.Heap.Get(v).(*StringObject); ok {
		return s.S
	}
	return vm.PrintString(v)
}
