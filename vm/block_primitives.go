package vm

// registerBlockPrimitives installs Block reflection. The value
// selectors themselves never reach the dictionary: the interpreter and
// the embedding API invoke block receivers directly so the activation
// lands on the frame stack.
func registerBlockPrimitives(vm *VM) {
	c := vm.BlockClass
	sel := vm.Selectors

	c.AddMethod0(sel, "numArgs", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		b, ok := v.Heap.Get(recv).(*BlockObject)
		if !ok {
			return v.SignalTypeError("numArgs: receiver is not a Block")
		}
		return FromSmallInt(int64(b.Arity()))
	})
}

// registerClassPrimitives installs the behavior shared by every class
// object. Class handles find these through the metaclass chain, which
// roots at Class.
func registerClassPrimitives(vm *VM) {
	c := vm.ClassClass
	sel := vm.Selectors

	classOf := func(v *VM, recv Value) (*Class, bool) {
		cls, ok := v.Heap.Get(recv).(*Class)
		return cls, ok
	}

	c.AddMethod0(sel, "new", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		cls, ok := classOf(v, recv)
		if !ok {
			return v.SignalTypeError("new: receiver is not a class")
		}
		return v.NewInstance(cls)
	})

	c.AddMethod0(sel, "name", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		cls, ok := classOf(v, recv)
		if !ok {
			return v.SignalTypeError("name: receiver is not a class")
		}
		return v.NewString(cls.Name)
	})

	c.AddMethod0(sel, "superclass", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		cls, ok := classOf(v, recv)
		if !ok {
			return v.SignalTypeError("superclass: receiver is not a class")
		}
		if cls.Superclass == nil {
			return Nil
		}
		v.Heap.Share(cls.Superclass.Handle())
		return cls.Superclass.Handle()
	})
}
