package compiler

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/quillvm/quill/vm"
)

var loadLog = commonlog.GetLogger("quill.loader")

// ErrLink is wrapped by all load-phase linkage failures.
var ErrLink = errors.New("link error")

// LinkError reports an unresolvable or cyclic superclass reference.
type LinkError struct {
	Class      string
	Superclass string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: unresolved superclass %q", e.Class, e.Superclass)
}

func (e *LinkError) Unwrap() error { return ErrLink }

// LoadClasses installs a set of class definitions into the VM.
//
// Superclass names may reference classes defined later in the same set
// (forward references) or classes already registered. Definitions are
// installed supers-first; a name that resolves to neither, or a cycle
// within the set, aborts the load with a LinkError before any method of
// the failing class is compiled.
func LoadClasses(machine *vm.VM, defs []*ClassDef) error {
	pending := make(map[string]*ClassDef, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, dup := pending[def.Name]; dup {
			return fmt.Errorf("load: duplicate class definition %q", def.Name)
		}
		pending[def.Name] = def
		order = append(order, def.Name)
	}

	cc := NewCompiler(machine)

	for len(pending) > 0 {
		progress := false
		for _, name := range order {
			def, ok := pending[name]
			if !ok {
				continue
			}
			superName := def.Superclass
			if superName == "" {
				superName = "Object"
			}
			if _, defined := pending[superName]; defined && superName != def.Name {
				continue // superclass comes later in this set
			}
			super := machine.Classes.Lookup(superName)
			if super == nil {
				return &LinkError{Class: def.Name, Superclass: superName}
			}
			if err := installClass(machine, cc, def, super); err != nil {
				return err
			}
			delete(pending, name)
			progress = true
		}
		if !progress {
			// Only cyclic definitions remain.
			for _, name := range order {
				if def, ok := pending[name]; ok {
					return &LinkError{Class: def.Name, Superclass: def.Superclass}
				}
			}
		}
	}
	loadLog.Debugf("loaded %d classes", len(defs))
	return nil
}

func installClass(machine *vm.VM, cc *Compiler, def *ClassDef, super *vm.Class) error {
	if machine.Classes.Has(def.Name) {
		return fmt.Errorf("load: class %q is already defined", def.Name)
	}
	c := machine.DefineClass(def.Name, super, def.InstanceVariables)
	for _, cv := range def.ClassVariables {
		c.DeclareClassVar(cv)
	}

	cc.SetClass(def.Name, c.AllInstVarNames())
	for _, md := range def.Methods {
		m, err := cc.CompileMethod(md, false)
		if err != nil {
			return err
		}
		m.SetClass(c)
		c.InstallMethod(m.Selector(), m)
	}
	for _, md := range def.ClassMethods {
		m, err := cc.CompileMethod(md, true)
		if err != nil {
			return err
		}
		m.SetClass(c.Meta())
		c.Meta().InstallMethod(m.Selector(), m)
	}
	return nil
}
