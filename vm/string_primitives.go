package vm

import "strings"

// registerStringPrimitives installs String behavior. Strings are
// immutable; at: answers a one-character string and indexing is
// 1-based.
func registerStringPrimitives(vm *VM) {
	c := vm.StringClass
	sel := vm.Selectors

	stringOf := func(v *VM, recv Value) (*StringObject, bool) {
		s, ok := v.Heap.Get(recv).(*StringObject)
		return s, ok
	}

	c.AddMethod0(sel, "size", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return v.SignalTypeError("size: receiver is not a String")
		}
		return FromSmallInt(int64(len(s.S)))
	})

	c.AddMethod0(sel, "isEmpty", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return v.SignalTypeError("isEmpty: receiver is not a String")
		}
		return FromBool(len(s.S) == 0)
	})

	c.AddMethod1(sel, "at:", func(vmi interface{}, recv, idx Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return v.SignalTypeError("at:: receiver is not a String")
		}
		if !idx.IsSmallInt() {
			return v.SignalTypeError("at:: expected an Integer index, got %s", v.DescribeValue(idx))
		}
		i := idx.SmallInt()
		if i < 1 || i > int64(len(s.S)) {
			return v.SignalIndexError(i, int64(len(s.S)))
		}
		return v.NewString(s.S[i-1 : i])
	})

	c.AddMethod1(sel, ",", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return v.SignalTypeError(",: receiver is not a String")
		}
		t, ok := stringOf(v, arg)
		if !ok {
			return v.SignalTypeError(",: expected a String, got %s", v.DescribeValue(arg))
		}
		return v.NewString(s.S + t.S)
	})

	c.AddMethod1(sel, "=", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return False
		}
		t, ok := stringOf(v, arg)
		if !ok {
			return False
		}
		return FromBool(s.S == t.S)
	})

	c.AddMethod1(sel, "~=", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		t, ok2 := stringOf(v, arg)
		if !ok || !ok2 {
			return True
		}
		return FromBool(s.S != t.S)
	})

	c.AddMethod1(sel, "includesSubstring:", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return v.SignalTypeError("includesSubstring:: receiver is not a String")
		}
		t, ok := stringOf(v, arg)
		if !ok {
			return v.SignalTypeError("includesSubstring:: expected a String, got %s", v.DescribeValue(arg))
		}
		return FromBool(strings.Contains(s.S, t.S))
	})

	c.AddMethod0(sel, "asSymbol", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		s, ok := stringOf(v, recv)
		if !ok {
			return v.SignalTypeError("asSymbol: receiver is not a String")
		}
		return v.Symbols.SymbolValue(s.S)
	})

	c.AddMethod0(sel, "asString", func(vmi interface{}, recv Value) Value {
		vmi.(*VM).Heap.Share(recv)
		return recv
	})
}

// registerSymbolPrimitives installs Symbol behavior. Symbols are
// immediates; equality is identity, which interning makes equivalent to
// name equality.
func registerSymbolPrimitives(vm *VM) {
	c := vm.SymbolClass
	sel := vm.Selectors

	c.AddMethod0(sel, "asString", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		return v.NewString(v.Symbols.Name(recv.SymbolID()))
	})

	c.AddMethod0(sel, "size", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		return FromSmallInt(int64(len(v.Symbols.Name(recv.SymbolID()))))
	})
}
