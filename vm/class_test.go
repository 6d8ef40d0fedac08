package vm

import (
	"testing"
)

func TestClassHierarchy(t *testing.T) {
	object := NewClass("Object", nil)
	point := NewClassWithInstVars("Point", object, []string{"x", "y"})

	if point.Superclass != object {
		t.Error("superclass should be Object")
	}
	if point.NumSlots != 2 {
		t.Errorf("NumSlots = %d, want 2", point.NumSlots)
	}

	point3 := NewClassWithInstVars("Point3", point, []string{"z"})
	if point3.NumSlots != 3 {
		t.Errorf("NumSlots = %d, want 3", point3.NumSlots)
	}
}

func TestInstVarIndexing(t *testing.T) {
	object := NewClass("Object", nil)
	point := NewClassWithInstVars("Point", object, []string{"x", "y"})
	point3 := NewClassWithInstVars("Point3", point, []string{"z"})

	tests := []struct {
		class *Class
		name  string
		want  int
	}{
		{point, "x", 0},
		{point, "y", 1},
		{point, "z", -1},
		{point3, "x", 0},
		{point3, "y", 1},
		{point3, "z", 2},
		{point3, "w", -1},
	}
	for _, tt := range tests {
		if got := tt.class.InstVarIndex(tt.name); got != tt.want {
			t.Errorf("%s.InstVarIndex(%q) = %d, want %d", tt.class.Name, tt.name, got, tt.want)
		}
	}

	all := point3.AllInstVarNames()
	if len(all) != 3 || all[0] != "x" || all[1] != "y" || all[2] != "z" {
		t.Errorf("AllInstVarNames = %v, want [x y z]", all)
	}
}

func TestMethodLookupShadowing(t *testing.T) {
	sel := NewSelectorTable()
	object := NewClass("Object", nil)
	animal := NewClass("Animal", object)
	dog := NewClass("Dog", animal)

	speak := sel.Intern("speak")
	animalSpeak := NewMethod0("speak", func(vmi interface{}, recv Value) Value { return FromSmallInt(1) })
	dogSpeak := NewMethod0("speak", func(vmi interface{}, recv Value) Value { return FromSmallInt(2) })

	animal.InstallMethod(speak, animalSpeak)

	// Inherited before shadowing.
	if m := dog.LookupMethod(speak); m != animalSpeak {
		t.Error("Dog should inherit Animal>>speak")
	}

	// The subclass definition shadows.
	dog.InstallMethod(speak, dogSpeak)
	if m := dog.LookupMethod(speak); m != dogSpeak {
		t.Error("Dog>>speak should shadow Animal>>speak")
	}
	if m := animal.LookupMethod(speak); m != animalSpeak {
		t.Error("Animal>>speak should be unaffected")
	}

	// Super lookup starts above the defining class.
	if m := LookupMethodFrom(dog.Superclass, speak); m != animalSpeak {
		t.Error("super lookup should find Animal>>speak")
	}
}

func TestMethodLookupTerminates(t *testing.T) {
	sel := NewSelectorTable()
	object := NewClass("Object", nil)
	missing := sel.Intern("missing")

	if m := object.LookupMethod(missing); m != nil {
		t.Error("lookup of an undefined selector should return nil")
	}
}

func TestIsSubclassOfAndDepth(t *testing.T) {
	object := NewClass("Object", nil)
	a := NewClass("A", object)
	b := NewClass("B", a)

	if !b.IsSubclassOf(object) || !b.IsSubclassOf(a) || !b.IsSubclassOf(b) {
		t.Error("IsSubclassOf should include ancestors and self")
	}
	if a.IsSubclassOf(b) {
		t.Error("A is not a subclass of B")
	}
	if object.Depth() != 0 || a.Depth() != 1 || b.Depth() != 2 {
		t.Errorf("Depth = %d/%d/%d, want 0/1/2", object.Depth(), a.Depth(), b.Depth())
	}
}

// ---------------------------------------------------------------------------
// Metaclass loop
// ---------------------------------------------------------------------------

func TestMetaclassLoop(t *testing.T) {
	machine := NewVM()

	object := machine.Classes.Lookup("Object")
	classClass := machine.Classes.Lookup("Class")
	metaclass := machine.Classes.Lookup("Metaclass")
	if object == nil || classClass == nil || metaclass == nil {
		t.Fatal("kernel classes missing")
	}

	// The class of any class is its metaclass.
	if got := machine.ClassOf(object.Handle()); got != object.Meta() {
		t.Errorf("class of Object = %v, want its metaclass", got)
	}

	// The class of any metaclass is Metaclass.
	if got := machine.ClassOf(object.Meta().Handle()); got != metaclass {
		t.Errorf("class of Object's metaclass = %v, want Metaclass", got)
	}

	// And the class of Metaclass's metaclass is Metaclass again: the
	// chain of class-of steps reaches a fixed point.
	mm := machine.ClassOf(metaclass.Handle())
	if got := machine.ClassOf(mm.Handle()); got != metaclass {
		t.Errorf("metaclass chain does not close: got %v", got)
	}

	// Metaclass superclass chains parallel the instance side.
	integer := machine.Classes.Lookup("Integer")
	if integer.Meta().Superclass != object.Meta() {
		t.Error("Integer's metaclass should inherit from Object's metaclass")
	}

	// The root metaclass inherits from Class, so classes respond to
	// instance-side Class behavior.
	if object.Meta().Superclass != classClass {
		t.Error("Object's metaclass should inherit from Class")
	}
}

func TestClassTableRegisterUnregister(t *testing.T) {
	machine := NewVM()

	c := machine.DefineClass("Ephemeral", machine.ObjectClass, nil)
	if machine.Classes.Lookup("Ephemeral") != c {
		t.Fatal("class should be registered")
	}
	handle := c.Handle()
	metaHandle := c.Meta().Handle()

	machine.Classes.Unregister("Ephemeral")
	machine.SetGlobal("Ephemeral", Nil)
	machine.CollectGarbage()

	if machine.Heap.Contains(handle) {
		t.Error("unregistered class should be reclaimed")
	}
	if machine.Heap.Contains(metaHandle) {
		t.Error("unregistered metaclass should be reclaimed")
	}
}

func TestClassVars(t *testing.T) {
	machine := NewVM()
	c := machine.DefineClass("Counter", machine.ObjectClass, nil)

	c.DeclareClassVar("count")
	if got := c.GetClassVar("count"); got != Nil {
		t.Errorf("declared class var = %v, want Nil", got)
	}
	c.SetClassVar("count", FromSmallInt(7))
	if got := c.GetClassVar("count"); got.SmallInt() != 7 {
		t.Errorf("class var = %v, want 7", got)
	}
}

func TestDefineClassBindsGlobal(t *testing.T) {
	machine := NewVM()
	c := machine.DefineClass("Widget", machine.ObjectClass, []string{"state"})

	g := machine.Global("Widget")
	if g != c.Handle() {
		t.Error("defining a class should bind its handle as a global")
	}
}
