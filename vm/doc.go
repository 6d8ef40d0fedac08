// Package vm implements the Quill virtual machine.
//
// This package contains:
//   - NaN-boxed value representation
//   - Reference-counted heap with cycle collection
//   - Class and metaclass registry
//   - Method lookup with polymorphic inline caches
//   - Stack-based bytecode interpreter with blocks and conditions
//   - Primitive class implementations
//   - CBOR image snapshot and restore
package vm
