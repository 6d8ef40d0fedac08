package vm

import (
	"math"
	"math/big"
)

// floatBinary coerces the argument of a Float primitive to float64.
func floatBinary(vm *VM, name string, recv, arg Value, op func(a, b float64) Value) Value {
	b, ok := vm.numFloat(arg)
	if !ok {
		return vm.SignalTypeError("%s: expected a number, got %s", name, vm.DescribeValue(arg))
	}
	return op(recv.Float64(), b)
}

// registerFloatPrimitives installs arithmetic on Float. Integer
// arguments coerce to float; results stay float.
func registerFloatPrimitives(vm *VM) {
	c := vm.FloatClass
	sel := vm.Selectors

	c.AddMethod1(sel, "+", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), "+", recv, arg, func(a, b float64) Value {
			return FromFloat64(a + b)
		})
	})
	c.AddMethod1(sel, "-", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), "-", recv, arg, func(a, b float64) Value {
			return FromFloat64(a - b)
		})
	})
	c.AddMethod1(sel, "*", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), "*", recv, arg, func(a, b float64) Value {
			return FromFloat64(a * b)
		})
	})
	// Division follows IEEE semantics: a zero divisor answers an
	// infinity or NaN. ZeroDivide is an integer-division condition.
	c.AddMethod1(sel, "/", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), "/", recv, arg, func(a, b float64) Value {
			return FromFloat64(a / b)
		})
	})

	c.AddMethod1(sel, "<", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), "<", recv, arg, func(a, b float64) Value {
			return FromBool(a < b)
		})
	})
	c.AddMethod1(sel, "<=", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), "<=", recv, arg, func(a, b float64) Value {
			return FromBool(a <= b)
		})
	})
	c.AddMethod1(sel, ">", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), ">", recv, arg, func(a, b float64) Value {
			return FromBool(a > b)
		})
	})
	c.AddMethod1(sel, ">=", func(vmi interface{}, recv, arg Value) Value {
		return floatBinary(vmi.(*VM), ">=", recv, arg, func(a, b float64) Value {
			return FromBool(a >= b)
		})
	})
	c.AddMethod1(sel, "=", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !isNumber(v, arg) {
			return False
		}
		b, _ := v.numFloat(arg)
		return FromBool(recv.Float64() == b)
	})
	c.AddMethod1(sel, "~=", func(vmi interface{}, recv, arg Value) Value {
		v := vmi.(*VM)
		if !isNumber(v, arg) {
			return True
		}
		b, _ := v.numFloat(arg)
		return FromBool(recv.Float64() != b)
	})

	c.AddMethod0(sel, "negated", func(vmi interface{}, recv Value) Value {
		return FromFloat64(-recv.Float64())
	})
	c.AddMethod0(sel, "abs", func(vmi interface{}, recv Value) Value {
		return FromFloat64(math.Abs(recv.Float64()))
	})
	c.AddMethod0(sel, "sqrt", func(vmi interface{}, recv Value) Value {
		return FromFloat64(math.Sqrt(recv.Float64()))
	})
	c.AddMethod0(sel, "floor", func(vmi interface{}, recv Value) Value {
		return vmi.(*VM).floatToInt(math.Floor(recv.Float64()))
	})
	c.AddMethod0(sel, "ceiling", func(vmi interface{}, recv Value) Value {
		return vmi.(*VM).floatToInt(math.Ceil(recv.Float64()))
	})
	c.AddMethod0(sel, "truncated", func(vmi interface{}, recv Value) Value {
		return vmi.(*VM).floatToInt(math.Trunc(recv.Float64()))
	})
	c.AddMethod0(sel, "rounded", func(vmi interface{}, recv Value) Value {
		return vmi.(*VM).floatToInt(math.Round(recv.Float64()))
	})
	c.AddMethod0(sel, "asInteger", func(vmi interface{}, recv Value) Value {
		return vmi.(*VM).floatToInt(math.Trunc(recv.Float64()))
	})
	c.AddMethod0(sel, "asFloat", func(vmi interface{}, recv Value) Value {
		return recv
	})
}

// floatToInt converts an integral float to an integer value, going
// through big.Float for magnitudes beyond the SmallInt range.
func (vm *VM) floatToInt(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return vm.SignalTypeError("cannot convert %v to an integer", f)
	}
	if f >= -float64(MaxSmallInt) && f <= float64(MaxSmallInt) {
		return FromSmallInt(int64(f))
	}
	x, _ := big.NewFloat(f).Int(nil)
	return vm.newBigInt(x)
}
