package vm

// registerArrayPrimitives installs Array behavior. Arrays are fixed
// size, indexed from 1. Element stores keep the refcount balanced: the
// array owns its elements, the displaced value is released.
func registerArrayPrimitives(vm *VM) {
	c := vm.ArrayClass
	sel := vm.Selectors

	arrayOf := func(v *VM, recv Value) (*ArrayObject, bool) {
		a, ok := v.Heap.Get(recv).(*ArrayObject)
		return a, ok
	}

	c.AddClassMethod1(sel, "new:", func(vmi interface{}, recv, size Value) Value {
		v := vmi.(*VM)
		if !size.IsSmallInt() || size.SmallInt() < 0 {
			return v.SignalTypeError("new:: expected a non-negative Integer, got %s", v.DescribeValue(size))
		}
		return v.NewArray(int(size.SmallInt()))
	})

	c.AddMethod0(sel, "size", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("size: receiver is not an Array")
		}
		return FromSmallInt(int64(len(a.Elems)))
	})

	c.AddMethod0(sel, "isEmpty", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("isEmpty: receiver is not an Array")
		}
		return FromBool(len(a.Elems) == 0)
	})

	c.AddMethod1(sel, "at:", func(vmi interface{}, recv, idx Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("at:: receiver is not an Array")
		}
		if !idx.IsSmallInt() {
			return v.SignalTypeError("at:: expected an Integer index, got %s", v.DescribeValue(idx))
		}
		i := idx.SmallInt()
		if i < 1 || i > int64(len(a.Elems)) {
			return v.SignalIndexError(i, int64(len(a.Elems)))
		}
		e := a.Elems[i-1]
		v.Heap.Share(e)
		return e
	})

	c.AddMethod2(sel, "at:put:", func(vmi interface{}, recv, idx, val Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("at:put:: receiver is not an Array")
		}
		if !idx.IsSmallInt() {
			return v.SignalTypeError("at:put:: expected an Integer index, got %s", v.DescribeValue(idx))
		}
		i := idx.SmallInt()
		if i < 1 || i > int64(len(a.Elems)) {
			return v.SignalIndexError(i, int64(len(a.Elems)))
		}
		old := a.Elems[i-1]
		v.Heap.Share(val)
		a.Elems[i-1] = val
		v.Heap.Release(old)
		v.Heap.Share(val)
		return val
	})

	c.AddMethod0(sel, "first", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("first: receiver is not an Array")
		}
		if len(a.Elems) == 0 {
			return v.SignalIndexError(1, 0)
		}
		e := a.Elems[0]
		v.Heap.Share(e)
		return e
	})

	c.AddMethod0(sel, "last", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("last: receiver is not an Array")
		}
		if len(a.Elems) == 0 {
			return v.SignalIndexError(1, 0)
		}
		e := a.Elems[len(a.Elems)-1]
		v.Heap.Share(e)
		return e
	})

	c.AddMethod0(sel, "copy", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, ok := arrayOf(v, recv)
		if !ok {
			return v.SignalTypeError("copy: receiver is not an Array")
		}
		dup := &ArrayObject{Elems: make([]Value, len(a.Elems))}
		copy(dup.Elems, a.Elems)
		for _, e := range dup.Elems {
			v.Heap.Share(e)
		}
		v.Heap.MaybeCollect()
		return v.Heap.Acquire(dup)
	})
}
