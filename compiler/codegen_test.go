package compiler

import (
	"errors"
	"testing"

	"github.com/quillvm/quill/vm"
)

// loadClass compiles one class definition into a fresh VM and answers
// the VM and an instance of the class.
func loadClass(t *testing.T, def *ClassDef) (*vm.VM, vm.Value) {
	t.Helper()
	machine := vm.NewVM()
	if err := LoadClasses(machine, []*ClassDef{def}); err != nil {
		t.Fatalf("LoadClasses failed: %v", err)
	}
	c := machine.Classes.Lookup(def.Name)
	inst := machine.NewInstance(c)
	t.Cleanup(func() { machine.Heap.Release(inst) })
	return machine, inst
}

func eval(t *testing.T, machine *vm.VM, recv vm.Value, sel string, args ...vm.Value) vm.Value {
	t.Helper()
	result, err := machine.Send(recv, sel, args...)
	if err != nil {
		t.Fatalf("%s failed: %v", sel, err)
	}
	return result
}

func evalInt(t *testing.T, machine *vm.VM, recv vm.Value, sel string, args ...vm.Value) int64 {
	t.Helper()
	result := eval(t, machine, recv, sel, args...)
	if !result.IsSmallInt() {
		t.Fatalf("%s answered %s, want a SmallInt", sel, machine.DescribeValue(result))
	}
	return result.SmallInt()
}

func method(selector string, params []string, temps []string, stmts ...Stmt) *MethodDef {
	return &MethodDef{Selector: selector, Parameters: params, Temps: temps, Statements: stmts}
}

// ---------------------------------------------------------------------------
// Literals and variables
// ---------------------------------------------------------------------------

func TestCompileLiterals(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Lits",
		Methods: []*MethodDef{
			method("int", nil, nil, Ret(Int(123456))),
			method("negative", nil, nil, Ret(Int(-77))),
			method("float", nil, nil, Ret(&FloatLiteral{Value: 1.5})),
			method("string", nil, nil, Ret(Str("abc"))),
			method("symbol", nil, nil, Ret(Sym("tag"))),
			method("truth", nil, nil, Ret(&TrueLiteral{})),
			method("nothing", nil, nil, Ret(&NilLiteral{})),
		},
	})

	if got := evalInt(t, machine, inst, "int"); got != 123456 {
		t.Errorf("int = %d, want 123456", got)
	}
	if got := evalInt(t, machine, inst, "negative"); got != -77 {
		t.Errorf("negative = %d, want -77", got)
	}
	if got := eval(t, machine, inst, "float"); got.Float64() != 1.5 {
		t.Errorf("float = %v, want 1.5", got)
	}
	s := eval(t, machine, inst, "string")
	if machine.StringContents(s) != "abc" {
		t.Errorf("string = %q, want abc", machine.StringContents(s))
	}
	machine.Heap.Release(s)
	sym := eval(t, machine, inst, "symbol")
	if !sym.IsSymbol() || machine.Symbols.Name(sym.SymbolID()) != "tag" {
		t.Errorf("symbol = %v, want #tag", sym)
	}
	if eval(t, machine, inst, "truth") != vm.True {
		t.Error("truth should answer true")
	}
	if eval(t, machine, inst, "nothing") != vm.Nil {
		t.Error("nothing should answer nil")
	}
}

func TestCompileArrayExpression(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Arrays",
		Methods: []*MethodDef{
			// ^{10. 20. 30} at: 2
			method("middle", nil, nil,
				Ret(Send(&ArrayLiteral{Elements: []Expr{Int(10), Int(20), Int(30)}}, "at:", Int(2)))),
		},
	})

	if got := evalInt(t, machine, inst, "middle"); got != 20 {
		t.Errorf("middle = %d, want 20", got)
	}
}

func TestCompileTempsAndAssignment(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Temps",
		Methods: []*MethodDef{
			// | a b | a := 3. b := a + 4. ^a * b
			method("compute", nil, []string{"a", "b"},
				E(Assign("a", Int(3))),
				E(Assign("b", Send(Var("a"), "+", Int(4)))),
				Ret(Send(Var("a"), "*", Var("b")))),
			// An assignment is itself an expression.
			// | a b | b := (a := 5) + 1. ^b
			method("chained", nil, []string{"a", "b"},
				E(Assign("b", Send(Assign("a", Int(5)), "+", Int(1)))),
				Ret(Var("b"))),
		},
	})

	if got := evalInt(t, machine, inst, "compute"); got != 21 {
		t.Errorf("compute = %d, want 21", got)
	}
	if got := evalInt(t, machine, inst, "chained"); got != 6 {
		t.Errorf("chained = %d, want 6", got)
	}
}

func TestCompileInstanceVariables(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name:              "Counter",
		InstanceVariables: []string{"count"},
		Methods: []*MethodDef{
			method("reset", nil, nil, E(Assign("count", Int(0))), Ret(&Self{})),
			method("bump", nil, nil, E(Assign("count", Send(Var("count"), "+", Int(1)))), Ret(&Self{})),
			method("count", nil, nil, Ret(Var("count"))),
		},
	})

	machine.Heap.Release(eval(t, machine, inst, "reset"))
	machine.Heap.Release(eval(t, machine, inst, "bump"))
	machine.Heap.Release(eval(t, machine, inst, "bump"))
	if got := evalInt(t, machine, inst, "count"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}

func TestCompileGlobalAccess(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Globals",
		Methods: []*MethodDef{
			method("read", nil, nil, Ret(Var("Answer"))),
			method("write", nil, nil, E(Assign("Answer", Int(99))), Ret(&Self{})),
		},
	})
	machine.SetGlobal("Answer", vm.FromSmallInt(41))

	if got := evalInt(t, machine, inst, "read"); got != 41 {
		t.Errorf("read = %d, want 41", got)
	}
	machine.Heap.Release(eval(t, machine, inst, "write"))
	if got := evalInt(t, machine, inst, "read"); got != 99 {
		t.Errorf("read after write = %d, want 99", got)
	}
}

// ---------------------------------------------------------------------------
// Inlined control flow
// ---------------------------------------------------------------------------

func block(stmts ...Stmt) *Block { return &Block{Statements: stmts} }

func TestInlinedConditionals(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Cond",
		Methods: []*MethodDef{
			// ^x > 10 ifTrue: ['big'] ifFalse: ['small']
			method("size:", []string{"x"}, nil,
				Ret(Send(Send(Var("x"), ">", Int(10)),
					"ifTrue:ifFalse:",
					block(E(Str("big"))),
					block(E(Str("small")))))),
			// A one-armed conditional answers nil when the test fails.
			method("maybe:", []string{"x"}, nil,
				Ret(Send(Var("x"), "ifTrue:", block(E(Int(1)))))),
		},
	})

	big := eval(t, machine, inst, "size:", vm.FromSmallInt(11))
	if machine.StringContents(big) != "big" {
		t.Errorf("size: 11 = %q, want big", machine.StringContents(big))
	}
	machine.Heap.Release(big)
	small := eval(t, machine, inst, "size:", vm.FromSmallInt(3))
	if machine.StringContents(small) != "small" {
		t.Errorf("size: 3 = %q, want small", machine.StringContents(small))
	}
	machine.Heap.Release(small)

	if got := evalInt(t, machine, inst, "maybe:", vm.True); got != 1 {
		t.Errorf("maybe: true = %d, want 1", got)
	}
	if eval(t, machine, inst, "maybe:", vm.False) != vm.Nil {
		t.Error("maybe: false should answer nil")
	}
}

func TestInlinedShortCircuit(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name:              "Short",
		InstanceVariables: []string{"touched"},
		Methods: []*MethodDef{
			// ^a and: [touched := true. b]
			method("test:with:", []string{"a", "b"}, nil,
				Ret(Send(Var("a"), "and:", block(
					E(Assign("touched", &TrueLiteral{})),
					E(Var("b")))))),
			method("touched", nil, nil, Ret(Var("touched"))),
			// ^a or: [b]
			method("either:or:", []string{"a", "b"}, nil,
				Ret(Send(Var("a"), "or:", block(E(Var("b")))))),
		},
	})

	if eval(t, machine, inst, "test:with:", vm.False, vm.True) != vm.False {
		t.Error("false and: [...] should answer false")
	}
	if eval(t, machine, inst, "touched") != vm.Nil {
		t.Error("and: must not evaluate its block when the receiver is false")
	}
	if eval(t, machine, inst, "test:with:", vm.True, vm.True) != vm.True {
		t.Error("true and: [true] should answer true")
	}
	if eval(t, machine, inst, "touched") != vm.True {
		t.Error("and: must evaluate its block when the receiver is true")
	}

	if eval(t, machine, inst, "either:or:", vm.True, vm.False) != vm.True {
		t.Error("true or: [...] should answer true")
	}
	if eval(t, machine, inst, "either:or:", vm.False, vm.True) != vm.True {
		t.Error("false or: [true] should answer true")
	}
}

func TestInlinedLoops(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Loops",
		Methods: []*MethodDef{
			// | sum i | sum := 0. i := 1.
			// [i <= n] whileTrue: [sum := sum + i. i := i + 1]. ^sum
			method("sumTo:", []string{"n"}, []string{"sum", "i"},
				E(Assign("sum", Int(0))),
				E(Assign("i", Int(1))),
				E(Send(
					block(E(Send(Var("i"), "<=", Var("n")))),
					"whileTrue:",
					block(
						E(Assign("sum", Send(Var("sum"), "+", Var("i")))),
						E(Assign("i", Send(Var("i"), "+", Int(1))))))),
				Ret(Var("sum"))),
			// | sum | sum := 0. 1 to: n do: [:k | sum := sum + k]. ^sum
			method("sumUpTo:", []string{"n"}, []string{"sum"},
				E(Assign("sum", Int(0))),
				E(Send(Int(1), "to:do:", Var("n"),
					&Block{Parameters: []string{"k"},
						Statements: []Stmt{E(Assign("sum", Send(Var("sum"), "+", Var("k"))))}})),
				Ret(Var("sum"))),
			// | n | n := 0. 4 timesRepeat: [n := n + 1]. ^n
			method("four", nil, []string{"n"},
				E(Assign("n", Int(0))),
				E(Send(Int(4), "timesRepeat:", block(
					E(Assign("n", Send(Var("n"), "+", Int(1))))))),
				Ret(Var("n"))),
		},
	})

	if got := evalInt(t, machine, inst, "sumTo:", vm.FromSmallInt(10)); got != 55 {
		t.Errorf("sumTo: 10 = %d, want 55", got)
	}
	if got := evalInt(t, machine, inst, "sumUpTo:", vm.FromSmallInt(4)); got != 10 {
		t.Errorf("sumUpTo: 4 = %d, want 10", got)
	}
	// An empty range runs zero iterations.
	if got := evalInt(t, machine, inst, "sumUpTo:", vm.FromSmallInt(0)); got != 0 {
		t.Errorf("sumUpTo: 0 = %d, want 0", got)
	}
	if got := evalInt(t, machine, inst, "four"); got != 4 {
		t.Errorf("four = %d, want 4", got)
	}
}

func TestNonLiteralBlockFallsBackToSend(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Fallback",
		Methods: []*MethodDef{
			// The block operand is a temp, so the conditional cannot be
			// inlined; the Boolean method takes over.
			// | b | b := [7]. ^flag ifTrue: b
			method("pick:", []string{"flag"}, []string{"b"},
				E(Assign("b", block(E(Int(7))))),
				Ret(Send(Var("flag"), "ifTrue:", Var("b")))),
		},
	})

	if got := evalInt(t, machine, inst, "pick:", vm.True); got != 7 {
		t.Errorf("pick: true = %d, want 7", got)
	}
	if eval(t, machine, inst, "pick:", vm.False) != vm.Nil {
		t.Error("pick: false should answer nil")
	}
}

// ---------------------------------------------------------------------------
// Blocks and closures
// ---------------------------------------------------------------------------

func TestBlockClosesOverTemps(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Closure",
		Methods: []*MethodDef{
			// | n blk | n := 10. blk := [:d | n := n + d. n]. blk value: 5. ^blk value: 1
			method("accumulate", nil, []string{"n", "blk"},
				E(Assign("n", Int(10))),
				E(Assign("blk", &Block{
					Parameters: []string{"d"},
					Statements: []Stmt{
						E(Assign("n", Send(Var("n"), "+", Var("d")))),
						E(Var("n")),
					}})),
				E(Send(Var("blk"), "value:", Int(5))),
				Ret(Send(Var("blk"), "value:", Int(1)))),
		},
	})

	if got := evalInt(t, machine, inst, "accumulate"); got != 16 {
		t.Errorf("accumulate = %d, want 16", got)
	}
}

func TestBlockValueColon(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Apply",
		Methods: []*MethodDef{
			// ^[:x | x * 2] value: 21
			method("answer", nil, nil,
				Ret(Send(&Block{
					Parameters: []string{"x"},
					Statements: []Stmt{E(Send(Var("x"), "*", Int(2)))},
				}, "value:", Int(21)))),
		},
	})

	if got := evalInt(t, machine, inst, "answer"); got != 42 {
		t.Errorf("answer = %d, want 42", got)
	}
}

func TestNonLocalReturnFromBlock(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Escape",
		Methods: []*MethodDef{
			// run: aBlock  ^aBlock value + 1000
			method("run:", []string{"aBlock"}, nil,
				Ret(Send(Send(Var("aBlock"), "value"), "+", Int(1000)))),
			// find  self run: [^42]. ^0
			method("find", nil, nil,
				E(Send(&Self{}, "run:", block(Ret(Int(42))))),
				Ret(Int(0))),
		},
	})

	if got := evalInt(t, machine, inst, "find"); got != 42 {
		t.Errorf("find = %d, want 42", got)
	}
}

func TestNonLocalReturnAfterHomeDies(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Zombie",
		Methods: []*MethodDef{
			// make  ^[^1]
			method("make", nil, nil, Ret(block(Ret(Int(1))))),
		},
	})

	blk := eval(t, machine, inst, "make")
	defer machine.Heap.Release(blk)

	_, err := machine.Send(blk, "value")
	var rerr *vm.RunError
	if !errors.As(err, &rerr) || rerr.Condition != vm.CondBlockContextError {
		t.Errorf("expected BlockContextError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Cascades and super
// ---------------------------------------------------------------------------

func TestCascade(t *testing.T) {
	machine, inst := loadClass(t, &ClassDef{
		Name: "Casc",
		Methods: []*MethodDef{
			// | a | a := Array new: 3.
			// ^a at: 1 put: 10; at: 2 put: 20; at: 1
			method("fill", nil, []string{"a"},
				E(Assign("a", Send(Var("Array"), "new:", Int(3)))),
				Ret(&Cascade{
					Receiver: Var("a"),
					Messages: []CascadedMessage{
						{Selector: "at:put:", Arguments: []Expr{Int(1), Int(10)}},
						{Selector: "at:put:", Arguments: []Expr{Int(2), Int(20)}},
						{Selector: "at:", Arguments: []Expr{Int(1)}},
					}})),
		},
	})

	if got := evalInt(t, machine, inst, "fill"); got != 10 {
		t.Errorf("fill = %d, want 10", got)
	}
}

func TestSuperSendInCompiledMethod(t *testing.T) {
	machine := vm.NewVM()
	defs := []*ClassDef{
		{
			Name: "Animal",
			Methods: []*MethodDef{
				method("describe", nil, nil, Ret(Str("animal"))),
			},
		},
		{
			Name:       "Dog",
			Superclass: "Animal",
			Methods: []*MethodDef{
				// ^super describe , '-dog'
				method("describe", nil, nil,
					Ret(Send(Send(&Super{}, "describe"), ",", Str("-dog")))),
			},
		},
	}
	if err := LoadClasses(machine, defs); err != nil {
		t.Fatalf("LoadClasses failed: %v", err)
	}

	inst := machine.NewInstance(machine.Classes.Lookup("Dog"))
	defer machine.Heap.Release(inst)
	s := eval(t, machine, inst, "describe")
	if got := machine.StringContents(s); got != "animal-dog" {
		t.Errorf("describe = %q, want animal-dog", got)
	}
	machine.Heap.Release(s)
}

func TestClassSideMethods(t *testing.T) {
	machine := vm.NewVM()
	defs := []*ClassDef{
		{
			Name: "Registry",
			ClassMethods: []*MethodDef{
				method("version", nil, nil, Ret(Int(3))),
			},
		},
	}
	if err := LoadClasses(machine, defs); err != nil {
		t.Fatalf("LoadClasses failed: %v", err)
	}

	c := machine.Classes.Lookup("Registry")
	if got := evalInt(t, machine, c.Handle(), "version"); got != 3 {
		t.Errorf("version = %d, want 3", got)
	}
}

// ---------------------------------------------------------------------------
// Load-phase errors
// ---------------------------------------------------------------------------

func TestLoadForwardReference(t *testing.T) {
	machine := vm.NewVM()
	// The subclass appears before its superclass in the load set.
	defs := []*ClassDef{
		{Name: "Leaf", Superclass: "Branch"},
		{Name: "Branch"},
	}
	if err := LoadClasses(machine, defs); err != nil {
		t.Fatalf("forward reference should resolve: %v", err)
	}
	if machine.Classes.Lookup("Leaf").Superclass != machine.Classes.Lookup("Branch") {
		t.Error("Leaf should inherit from Branch")
	}
}

func TestLoadUnresolvedSuperclass(t *testing.T) {
	machine := vm.NewVM()
	err := LoadClasses(machine, []*ClassDef{{Name: "Orphan", Superclass: "Nowhere"}})

	var lerr *LinkError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LinkError, got %v", err)
	}
	if lerr.Class != "Orphan" || lerr.Superclass != "Nowhere" {
		t.Errorf("LinkError = %+v", lerr)
	}
	if !errors.Is(err, ErrLink) {
		t.Error("LinkError should unwrap to ErrLink")
	}
}

func TestLoadCyclicSuperclasses(t *testing.T) {
	machine := vm.NewVM()
	err := LoadClasses(machine, []*ClassDef{
		{Name: "Yin", Superclass: "Yang"},
		{Name: "Yang", Superclass: "Yin"},
	})
	if !errors.Is(err, ErrLink) {
		t.Errorf("cyclic definitions should fail with a link error, got %v", err)
	}
}

func TestLoadDuplicateClass(t *testing.T) {
	machine := vm.NewVM()
	err := LoadClasses(machine, []*ClassDef{
		{Name: "Twin"},
		{Name: "Twin"},
	})
	if err == nil {
		t.Error("duplicate definitions in one set should fail")
	}

	if err := LoadClasses(machine, []*ClassDef{{Name: "Solo"}}); err != nil {
		t.Fatalf("LoadClasses failed: %v", err)
	}
	if err := LoadClasses(machine, []*ClassDef{{Name: "Solo"}}); err == nil {
		t.Error("redefining a registered class should fail")
	}
}

func TestCompileErrorSuperOutsideSend(t *testing.T) {
	machine := vm.NewVM()
	err := LoadClasses(machine, []*ClassDef{
		{
			Name: "Bad",
			Methods: []*MethodDef{
				method("broken", nil, nil, Ret(&Super{})),
			},
		},
	})
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if cerr.Class != "Bad" || cerr.Selector != "broken" {
		t.Errorf("CompileError = %+v", cerr)
	}
}
