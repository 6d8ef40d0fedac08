package vm

import (
	"math"
	"math/big"
)

func bigFromInt64(n int64) *big.Int {
	return big.NewInt(n)
}

func newBigFromString(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// newBigInt returns the canonical value for x: a SmallInt when it fits,
// a heap LargeInteger otherwise. The returned handle is owned by the
// caller.
func (vm *VM) newBigInt(x *big.Int) Value {
	if x.IsInt64() {
		if v, ok := TryFromSmallInt(x.Int64()); ok {
			return v
		}
	}
	vm.Heap.MaybeCollect()
	return vm.Heap.Acquire(&BigIntObject{X: x})
}

// intBig returns the big.Int form of an integer value.
func (vm *VM) intBig(v Value) (*big.Int, bool) {
	if v.IsSmallInt() {
		return big.NewInt(v.SmallInt()), true
	}
	if b, ok := vm.Heap.Get(v).(*BigIntObject); ok {
		return b.X, true
	}
	return nil, false
}

// numFloat returns the float form of any numeric value.
func (vm *VM) numFloat(v Value) (float64, bool) {
	switch {
	case v.IsFloat():
		return v.Float64(), true
	case v.IsSmallInt():
		return float64(v.SmallInt()), true
	}
	if b, ok := vm.Heap.Get(v).(*BigIntObject); ok {
		f, _ := new(big.Float).SetInt(b.X).Float64()
		return f, true
	}
	return 0, false
}

// integerBinary dispatches an integer arithmetic primitive over the
// operand kinds. SmallInt results that overflow come back from the big
// path as LargeInteger; a Float argument contaminates the result to
// Float.
func integerBinary(vm *VM, name string, recv, arg Value,
	bigOp func(a, b *big.Int) Value,
	floatOp func(a, b float64) Value) Value {

	if arg.IsFloat() {
		a, _ := vm.numFloat(recv)
		return floatOp(a, arg.Float64())
	}
	a, ok1 := vm.intBig(recv)
	b, ok2 := vm.intBig(arg)
	if !ok1 || !ok2 {
		return vm.SignalTypeError("%s: expected a number, got %s", name, vm.DescribeValue(arg))
	}
	return bigOp(a, b)
}

// integerCompare dispatches an integer comparison primitive. cmp
// receives the three-way comparison result.
func integerCompare(vm *VM, name string, recv, arg Value, cmp func(c int) bool) Value {
	if arg.IsFloat() {
		a, _ := vm.numFloat(recv)
		b := arg.Float64()
		switch {
		case a < b:
			return FromBool(cmp(-1))
		case a > b:
			return FromBool(cmp(1))
		default:
			return FromBool(cmp(0))
		}
	}
	a, ok1 := vm.intBig(recv)
	b, ok2 := vm.intBig(arg)
	if !ok1 || !ok2 {
		return vm.SignalTypeError("%s: expected a number, got %s", name, vm.DescribeValue(arg))
	}
	return FromBool(cmp(a.Cmp(b)))
}

// registerIntegerPrimitives installs arithmetic on Integer. LargeInteger
// inherits everything; the primitives accept either representation on
// both sides and normalize results back to SmallInt when they fit.
func registerIntegerPrimitives(vm *VM) {
	c := vm.IntegerClass
	sel := vm.Selectors

	c.AddMethod1(sel, "+", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		return integerBinary(v, "+", recv, arg,
			func(a, b *big.Int) Value { return v.newBigInt(new(big.Int).Add(a, b)) },
			func(a, b float64) Value { return FromFloat64(a + b) })
	})

	c.AddMethod1(sel, "-", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		return integerBinary(v, "-", recv, arg,
			func(a, b *big.Int) Value { return v.newBigInt(new(big.Int).Sub(a, b)) },
			func(a, b float64) Value { return FromFloat64(a - b) })
	})

	c.AddMethod1(sel, "*", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		return integerBinary(v, "*", recv, arg,
			func(a, b *big.Int) Value { return v.newBigInt(new(big.Int).Mul(a, b)) },
			func(a, b float64) Value { return FromFloat64(a * b) })
	})

	// Quotient truncated toward zero.
	c.AddMethod1(sel, "/", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		return integerBinary(v, "/", recv, arg,
			func(a, b *big.Int) Value {
				if b.Sign() == 0 {
					return v.SignalZeroDivide()
				}
				return v.newBigInt(new(big.Int).Quo(a, b))
			},
			func(a, b float64) Value {
				return FromFloat64(a / b)
			})
	})

	// Floored division and modulo. The pair satisfies
	// (a // b) * b + (a \\ b) = a, with the remainder sign following b.
	// Float operands follow IEEE semantics throughout, so a zero divisor
	// yields an infinity or NaN rather than a ZeroDivide condition.
	c.AddMethod1(sel, "//", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		return integerBinary(v, "//", recv, arg,
			func(a, b *big.Int) Value {
				if b.Sign() == 0 {
					return v.SignalZeroDivide()
				}
				return v.newBigInt(floorDiv(a, b))
			},
			func(a, b float64) Value {
				return FromFloat64(math.Floor(a / b))
			})
	})

	c.AddMethod1(sel, "\\\\", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		return integerBinary(v, "\\\\", recv, arg,
			func(a, b *big.Int) Value {
				if b.Sign() == 0 {
					return v.SignalZeroDivide()
				}
				return v.newBigInt(floorMod(a, b))
			},
			func(a, b float64) Value {
				return FromFloat64(a - math.Floor(a/b)*b)
			})
	})

	c.AddMethod1(sel, "<", func(vmi interface{}, recv, arg Value) Value {
		return integerCompare(vmi.(*VM), "<", recv, arg, func(c int) bool { return c < 0 })
	})
	c.AddMethod1(sel, "<=", func(vmi interface{}, recv, arg Value) Value {
		return integerCompare(vmi.(*VM), "<=", recv, arg, func(c int) bool { return c <= 0 })
	})
	c.AddMethod1(sel, ">", func(vmi interface{}, recv, arg Value) Value {
		return integerCompare(vmi.(*VM), ">", recv, arg, func(c int) bool { return c > 0 })
	})
	c.AddMethod1(sel, ">=", func(vmi interface{}, recv, arg Value) Value {
		return integerCompare(vmi.(*VM), ">=", recv, arg, func(c int) bool { return c >= 0 })
	})

	c.AddMethod1(sel, "=", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !isNumber(v, arg) {
			return False
		}
		return integerCompare(v, "=", recv, arg, func(c int) bool { return c == 0 })
	})
	c.AddMethod1(sel, "~=", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !isNumber(v, arg) {
			return True
		}
		return integerCompare(v, "~=", recv, arg, func(c int) bool { return c != 0 })
	})

	c.AddMethod0(sel, "negated", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, _ := v.intBig(recv)
		return v.newBigInt(new(big.Int).Neg(a))
	})

	c.AddMethod0(sel, "abs", func(vmi interface{}, recv Value) Value {
		v := vmi.(*VM)
		a, _ := v.intBig(recv)
		return v.newBigInt(new(big.Int).Abs(a))
	})

	c.AddMethod0(sel, "asFloat", func(vmi interface{}, recv Value) Value {
		f, _ := vmi.(*VM).numFloat(recv)
		return FromFloat64(f)
	})
}

func isNumber(vm *VM, v Value) bool {
	if v.IsSmallInt() || v.IsFloat() {
		return true
	}
	_, ok := vm.Heap.Get(v).(*BigIntObject)
	return ok
}

// floorDiv returns the floored quotient a/b.
func floorDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 && (r.Sign() < 0) != (b.Sign() < 0) {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

// floorMod returns the floored remainder a\\b, sign following b.
func floorMod(a, b *big.Int) *big.Int {
	r := new(big.Int).Rem(a, b)
	if r.Sign() != 0 && (r.Sign() < 0) != (b.Sign() < 0) {
		r.Add(r, b)
	}
	return r
}
