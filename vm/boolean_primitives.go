package vm

// registerBooleanPrimitives installs the eager boolean operators. The
// short-circuit forms (and:, or:, ifTrue:, ifFalse:) never reach a
// method dictionary; the code generator inlines them as jumps.
func registerBooleanPrimitives(vm *VM) {
	c := vm.BooleanClass
	sel := vm.Selectors

	c.AddMethod0(sel, "not", func(vmi interface{}, recv Value) Value {
		return FromBool(recv == False)
	})

	c.AddMethod1(sel, "&", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !arg.IsBool() {
			return v.SignalTypeError("&: expected a Boolean, got %s", v.DescribeValue(arg))
		}
		return FromBool(recv == True && arg == True)
	})

	c.AddMethod1(sel, "|", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !arg.IsBool() {
			return v.SignalTypeError("|: expected a Boolean, got %s", v.DescribeValue(arg))
		}
		return FromBool(recv == True || arg == True)
	})

	c.AddMethod1(sel, "xor:", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !arg.IsBool() {
			return v.SignalTypeError("xor:: expected a Boolean, got %s", v.DescribeValue(arg))
		}
		return FromBool(recv != arg)
	})
}
