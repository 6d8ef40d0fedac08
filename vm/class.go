package vm

import "sync"

// Class represents a Quill class.
//
// Every class owns a method dictionary keyed by interned selector ID.
// Lookup walks the superclass chain over these dictionaries, so a
// subclass definition shadows an inherited one and lookup terminates at
// the root.
//
// Every class has exactly one metaclass holding its class-side methods.
// The metaclass of every class is an instance of the single Metaclass
// class, which closes the classic loop: the chain of "class of" steps
// from any object reaches Metaclass and stays there. The loop is a
// deliberate reference cycle; the collector tolerates it because the
// registry keeps every registered class externally held.
type Class struct {
	Name       string
	Superclass *Class
	InstVars   []string // instance variable names declared by this class
	NumSlots   int      // total slots including inherited

	meta   *Class // metaclass, nil only on metaclasses themselves
	isMeta bool

	methods   map[int]Method // selector ID -> method
	classVars map[string]Value

	handle Value // heap handle, set at registration
}

// NewClass creates a new class with the given name and superclass.
// The method dictionary starts empty; the metaclass is attached by the
// registry when the class is installed.
func NewClass(name string, superclass *Class) *Class {
	numSlots := 0
	if superclass != nil {
		numSlots = superclass.NumSlots
	}
	return &Class{
		Name:       name,
		Superclass: superclass,
		NumSlots:   numSlots,
		methods:    make(map[int]Method),
	}
}

// NewClassWithInstVars creates a new class declaring instance variables.
func NewClassWithInstVars(name string, superclass *Class, instVars []string) *Class {
	c := NewClass(name, superclass)
	c.InstVars = instVars
	c.NumSlots += len(instVars)
	return c
}

// newMetaclass creates the metaclass for c. The metaclass's superclass is
// the superclass's metaclass, so class-side methods inherit in parallel.
func newMetaclass(c *Class, rootMetaSuper *Class) *Class {
	var super *Class
	if c.Superclass != nil {
		super = c.Superclass.meta
	} else {
		super = rootMetaSuper
	}
	m := NewClass(c.Name+" class", super)
	m.isMeta = true
	return m
}

// Meta returns the metaclass, or nil on a metaclass.
func (c *Class) Meta() *Class {
	return c.meta
}

// IsMeta reports whether c is a metaclass.
func (c *Class) IsMeta() bool {
	return c.isMeta
}

// Handle returns the class's heap handle.
func (c *Class) Handle() Value {
	return c.handle
}

// References implements HeapObject. A class references its superclass,
// its metaclass, its class variable values, and every literal of its
// compiled methods.
func (c *Class) References(fn func(Value)) {
	if c.Superclass != nil {
		fn(c.Superclass.handle)
	}
	if c.meta != nil {
		fn(c.meta.handle)
	}
	for _, v := range c.classVars {
		fn(v)
	}
	for _, m := range c.methods {
		if cm, ok := m.(*CompiledMethod); ok {
			for _, lit := range cm.Literals {
				fn(lit)
			}
			for _, b := range cm.Blocks {
				for _, lit := range b.Literals {
					fn(lit)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Method lookup
// ---------------------------------------------------------------------------

// LookupMethod finds a method by selector ID, walking the superclass
// chain. The walk terminates at the root; a nil result triggers
// doesNotUnderstand: handling in the interpreter.
func (c *Class) LookupMethod(selector int) Method {
	for cur := c; cur != nil; cur = cur.Superclass {
		if m, ok := cur.methods[selector]; ok {
			return m
		}
	}
	return nil
}

// LookupMethodFrom finds a method starting the walk at the given class.
// Super sends use this with the defining class's superclass.
func LookupMethodFrom(start *Class, selector int) Method {
	for cur := start; cur != nil; cur = cur.Superclass {
		if m, ok := cur.methods[selector]; ok {
			return m
		}
	}
	return nil
}

// LocalMethod returns the method defined directly on c, or nil.
func (c *Class) LocalMethod(selector int) Method {
	return c.methods[selector]
}

// Selectors returns the selector IDs defined directly on c.
func (c *Class) Selectors() []int {
	ids := make([]int, 0, len(c.methods))
	for id := range c.methods {
		ids = append(ids, id)
	}
	return ids
}

// ---------------------------------------------------------------------------
// Method registration
// ---------------------------------------------------------------------------

// InstallMethod adds or replaces the method for a selector ID.
func (c *Class) InstallMethod(selector int, m Method) {
	c.methods[selector] = m
}

// RemoveMethod removes the method for a selector ID.
func (c *Class) RemoveMethod(selector int) {
	delete(c.methods, selector)
}

// AddMethod registers a method under a selector name.
func (c *Class) AddMethod(selectors *SelectorTable, name string, method Method) {
	c.InstallMethod(selectors.Intern(name), method)
}

// AddMethod0 registers a zero-argument primitive on this class.
func (c *Class) AddMethod0(selectors *SelectorTable, name string, fn Method0Func) {
	c.AddMethod(selectors, name, NewMethod0(name, fn))
}

// AddMethod1 registers a one-argument primitive on this class.
func (c *Class) AddMethod1(selectors *SelectorTable, name string, fn Method1Func) {
	c.AddMethod(selectors, name, NewMethod1(name, fn))
}

// AddMethod2 registers a two-argument primitive on this class.
func (c *Class) AddMethod2(selectors *SelectorTable, name string, fn Method2Func) {
	c.AddMethod(selectors, name, NewMethod2(name, fn))
}

// AddMethod3 registers a three-argument primitive on this class.
func (c *Class) AddMethod3(selectors *SelectorTable, name string, fn Method3Func) {
	c.AddMethod(selectors, name, NewMethod3(name, fn))
}

// AddPrimitiveMethod registers a variable-arity primitive on this class.
func (c *Class) AddPrimitiveMethod(selectors *SelectorTable, name string, fn PrimitiveFunc) {
	c.AddMethod(selectors, name, NewPrimitiveMethod(name, fn))
}

// AddClassMethod registers a class-side method on this class's metaclass.
func (c *Class) AddClassMethod(selectors *SelectorTable, name string, method Method) {
	if c.meta == nil {
		panic("AddClassMethod: class has no metaclass: " + c.Name)
	}
	c.meta.AddMethod(selectors, name, method)
}

// AddClassMethod0 registers a zero-argument class-side primitive.
func (c *Class) AddClassMethod0(selectors *SelectorTable, name string, fn Method0Func) {
	c.AddClassMethod(selectors, name, NewMethod0(name, fn))
}

// AddClassMethod1 registers a one-argument class-side primitive.
func (c *Class) AddClassMethod1(selectors *SelectorTable, name string, fn Method1Func) {
	c.AddClassMethod(selectors, name, NewMethod1(name, fn))
}

// ---------------------------------------------------------------------------
// Instance variables
// ---------------------------------------------------------------------------

// InstVarIndex returns the slot index for an instance variable by name.
// Returns -1 if the variable is not found.
func (c *Class) InstVarIndex(name string) int {
	for i, n := range c.InstVars {
		if n == name {
			return c.instVarOffset() + i
		}
	}
	if c.Superclass != nil {
		return c.Superclass.InstVarIndex(name)
	}
	return -1
}

// instVarOffset returns the starting slot index for this class's
// instance variables, accounting for inherited ones.
func (c *Class) instVarOffset() int {
	if c.Superclass == nil {
		return 0
	}
	return c.Superclass.NumSlots
}

// AllInstVarNames returns all instance variable names including inherited ones.
func (c *Class) AllInstVarNames() []string {
	if c.Superclass == nil {
		return c.InstVars
	}
	inherited := c.Superclass.AllInstVarNames()
	result := make([]string, len(inherited)+len(c.InstVars))
	copy(result, inherited)
	copy(result[len(inherited):], c.InstVars)
	return result
}

// ---------------------------------------------------------------------------
// Class variables
// ---------------------------------------------------------------------------

// GetClassVar returns the value of a class variable, walking the
// hierarchy to the declaring class. Returns Nil if undeclared.
func (c *Class) GetClassVar(name string) Value {
	for cur := c; cur != nil; cur = cur.Superclass {
		if cur.classVars != nil {
			if v, ok := cur.classVars[name]; ok {
				return v
			}
		}
	}
	return Nil
}

// SetClassVar sets a class variable on the declaring class, or on c if
// no superclass declares it.
func (c *Class) SetClassVar(name string, value Value) {
	for cur := c; cur != nil; cur = cur.Superclass {
		if cur.classVars != nil {
			if _, ok := cur.classVars[name]; ok {
				cur.classVars[name] = value
				return
			}
		}
	}
	if c.classVars == nil {
		c.classVars = make(map[string]Value)
	}
	c.classVars[name] = value
}

// DeclareClassVar declares a class variable initialized to Nil.
func (c *Class) DeclareClassVar(name string) {
	if c.classVars == nil {
		c.classVars = make(map[string]Value)
	}
	if _, ok := c.classVars[name]; !ok {
		c.classVars[name] = Nil
	}
}

// ---------------------------------------------------------------------------
// Hierarchy helpers
// ---------------------------------------------------------------------------

// IsSubclassOf returns true if c is other or a subclass of other.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Superclass {
		if cur == other {
			return true
		}
	}
	return false
}

// Superclasses returns all superclasses from immediate parent to root.
func (c *Class) Superclasses() []*Class {
	var result []*Class
	for cur := c.Superclass; cur != nil; cur = cur.Superclass {
		result = append(result, cur)
	}
	return result
}

// Depth returns the inheritance depth (0 for the root class).
func (c *Class) Depth() int {
	depth := 0
	for cur := c.Superclass; cur != nil; cur = cur.Superclass {
		depth++
	}
	return depth
}

// NewInstance creates a new instance of this class with all slots Nil.
func (c *Class) NewInstance() *Object {
	return NewObject(c, c.NumSlots)
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return c.Name
}

// ---------------------------------------------------------------------------
// ClassTable: global class registry
// ---------------------------------------------------------------------------

// ClassTable manages registered classes by name. Registered classes (and
// their metaclasses) form one of the collector's root sets: registration
// shares the class handle, unregistration releases it.
type ClassTable struct {
	mu      sync.RWMutex
	heap    *Heap
	classes map[string]*Class
}

// NewClassTable creates a new empty class table backed by the given heap.
func NewClassTable(heap *Heap) *ClassTable {
	ct := &ClassTable{
		heap:    heap,
		classes: make(map[string]*Class),
	}
	heap.AddRootSet(ct.roots)
	return ct
}

// roots reports every registered class and metaclass to the collector.
func (ct *ClassTable) roots(fn func(Value)) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	for _, c := range ct.classes {
		fn(c.handle)
		if c.meta != nil {
			fn(c.meta.handle)
		}
	}
}

// Register acquires heap handles for the class and its metaclass (when
// not already held) and installs the class under its name. Returns the
// previously registered class with this name, or nil.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !c.handle.IsObject() {
		c.handle = ct.heap.Acquire(c)
	}
	if c.meta != nil && !c.meta.handle.IsObject() {
		c.meta.handle = ct.heap.Acquire(c.meta)
	}

	old := ct.classes[c.Name]
	ct.classes[c.Name] = c
	return old
}

// Unregister removes a class by name and releases the registry's
// references to it and its metaclass. The class survives only while
// instances or other externally held objects still reference it.
func (ct *ClassTable) Unregister(name string) *Class {
	ct.mu.Lock()
	c := ct.classes[name]
	delete(ct.classes, name)
	ct.mu.Unlock()

	if c != nil {
		if c.meta != nil {
			ct.heap.Release(c.meta.handle)
		}
		ct.heap.Release(c.handle)
	}
	return c
}

// Lookup finds a class by name, or nil.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Has returns true if a class with this name is registered.
func (ct *ClassTable) Has(name string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.classes[name]
	return ok
}

// All returns all registered classes.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		result = append(result, c)
	}
	return result
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
