package vm

import "math/big"

// Object represents an instance of a user-visible class.
//
// Objects use a hybrid slot layout optimized for common cases:
//   - 4 inline slots for objects with ≤4 instance variables (most objects)
//   - Overflow slice for objects with >4 instance variables
//
// This avoids slice allocation overhead for the common case while
// still supporting objects of arbitrary size.
type Object struct {
	class *Class // receiver class, never nil

	// Inline slots for the first 4 instance variables.
	slot0 Value
	slot1 Value
	slot2 Value
	slot3 Value

	// Overflow for objects with >4 instance variables.
	// Only allocated when needed.
	overflow []Value
}

// NumInlineSlots is the number of slots stored directly in the Object struct.
const NumInlineSlots = 4

// NewObject creates a new Object of the given class with numSlots slots,
// all initialized to Nil.
func NewObject(class *Class, numSlots int) *Object {
	obj := &Object{class: class}

	obj.slot0 = Nil
	obj.slot1 = Nil
	obj.slot2 = Nil
	obj.slot3 = Nil

	if numSlots > NumInlineSlots {
		obj.overflow = make([]Value, numSlots-NumInlineSlots)
		for i := range obj.overflow {
			obj.overflow[i] = Nil
		}
	}

	return obj
}

// Class returns the object's class.
func (obj *Object) Class() *Class {
	return obj.class
}

// SetClass changes the object's class (becomeForward-style operations).
func (obj *Object) SetClass(c *Class) {
	obj.class = c
}

// GetSlot returns the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	switch index {
	case 0:
		return obj.slot0
	case 1:
		return obj.slot1
	case 2:
		return obj.slot2
	case 3:
		return obj.slot3
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.GetSlot: index out of range")
		}
		return obj.overflow[overflowIdx]
	}
}

// SetSlot sets the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) SetSlot(index int, value Value) {
	switch index {
	case 0:
		obj.slot0 = value
	case 1:
		obj.slot1 = value
	case 2:
		obj.slot2 = value
	case 3:
		obj.slot3 = value
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.SetSlot: index out of range")
		}
		obj.overflow[overflowIdx] = value
	}
}

// NumSlots returns the total number of slots in this object.
func (obj *Object) NumSlots() int {
	return NumInlineSlots + len(obj.overflow)
}

// ForEachSlot calls fn for each slot in the object.
func (obj *Object) ForEachSlot(fn func(index int, value Value)) {
	fn(0, obj.slot0)
	fn(1, obj.slot1)
	fn(2, obj.slot2)
	fn(3, obj.slot3)
	for i, v := range obj.overflow {
		fn(NumInlineSlots+i, v)
	}
}

// References implements HeapObject.
func (obj *Object) References(fn func(Value)) {
	fn(obj.slot0)
	fn(obj.slot1)
	fn(obj.slot2)
	fn(obj.slot3)
	for _, v := range obj.overflow {
		fn(v)
	}
	if obj.class != nil {
		fn(obj.class.Handle())
	}
}

// ClassName returns the name of the object's class, or "?" if unset.
func (obj *Object) ClassName() string {
	if obj.class == nil {
		return "?"
	}
	return obj.class.Name
}

// ---------------------------------------------------------------------------
// StringObject
// ---------------------------------------------------------------------------

// StringObject is an immutable string on the heap.
type StringObject struct {
	S string
}

// References implements HeapObject.
func (s *StringObject) References(fn func(Value)) {}

// ---------------------------------------------------------------------------
// ArrayObject
// ---------------------------------------------------------------------------

// ArrayObject is a fixed-size indexable collection.
type ArrayObject struct {
	Elems []Value
}

// NewArrayObject creates an array of n nil elements.
func NewArrayObject(n int) *ArrayObject {
	a := &ArrayObject{Elems: make([]Value, n)}
	for i := range a.Elems {
		a.Elems[i] = Nil
	}
	return a
}

// References implements HeapObject.
func (a *ArrayObject) References(fn func(Value)) {
	for _, v := range a.Elems {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// BigIntObject
// ---------------------------------------------------------------------------

// BigIntObject holds an arbitrary-precision integer, the overflow form of
// SmallInt. The math/big value is never mutated after creation.
type BigIntObject struct {
	X *big.Int
}

// References implements HeapObject.
func (b *BigIntObject) References(fn func(Value)) {}

// ---------------------------------------------------------------------------
// MessageObject
// ---------------------------------------------------------------------------

// MessageObject reifies a failed message send for doesNotUnderstand:
// handling. Selector is a symbol value, Args an array handle.
type MessageObject struct {
	Receiver Value
	Selector Value
	Args     Value
}

// References implements HeapObject.
func (m *MessageObject) References(fn func(Value)) {
	fn(m.Receiver)
	fn(m.Selector)
	fn(m.Args)
}
