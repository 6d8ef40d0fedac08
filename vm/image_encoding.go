package vm

import (
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Image encoding: a CBOR snapshot of the loaded (non-kernel) class set.
// Selector IDs are VM-local, so bytecode is stored against the source
// VM's selector names and send operands are rewritten to the target VM's
// IDs on load.

const (
	imageFormat  = "quill-image"
	imageVersion = 1
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type imageFile struct {
	Format    string       `cbor:"format"`
	Version   int          `cbor:"version"`
	Selectors []string     `cbor:"selectors"` // source-VM ID -> name
	Classes   []imageClass `cbor:"classes"`   // superclasses first
}

type imageClass struct {
	Name         string        `cbor:"name"`
	Superclass   string        `cbor:"superclass"`
	InstVars     []string      `cbor:"instVars,omitempty"`
	ClassVars    []string      `cbor:"classVars,omitempty"`
	Methods      []imageMethod `cbor:"methods,omitempty"`
	ClassMethods []imageMethod `cbor:"classMethods,omitempty"`
}

type imageMethod struct {
	Selector string         `cbor:"selector"`
	Arity    int            `cbor:"arity"`
	NumTemps int            `cbor:"numTemps"`
	Bytecode []byte         `cbor:"bytecode"`
	Literals []imageLiteral `cbor:"literals,omitempty"`
	Globals  []string       `cbor:"globals,omitempty"`
	Blocks   []imageMethod  `cbor:"blocks,omitempty"`
}

// imageLiteral is a tagged union over the literal kinds codegen emits.
type imageLiteral struct {
	Kind  string  `cbor:"kind"` // nil true false int big float string symbol
	Int   int64   `cbor:"int,omitempty"`
	Big   string  `cbor:"big,omitempty"`
	Float float64 `cbor:"float,omitempty"`
	Str   string  `cbor:"str,omitempty"`
}

// ---------------------------------------------------------------------------
// Saving
// ---------------------------------------------------------------------------

// SaveImage encodes the VM's loaded class set to CBOR.
func (vm *VM) SaveImage() ([]byte, error) {
	img := imageFile{
		Format:  imageFormat,
		Version: imageVersion,
	}
	for i := 0; i < vm.Selectors.Len(); i++ {
		img.Selectors = append(img.Selectors, vm.Selectors.Name(i))
	}
	for _, c := range vm.UserClasses() {
		ic, err := vm.encodeClass(c)
		if err != nil {
			return nil, err
		}
		img.Classes = append(img.Classes, ic)
	}
	data, err := cborEncMode.Marshal(&img)
	if err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}
	return data, nil
}

// SaveImageFile writes the image to a file.
func (vm *VM) SaveImageFile(path string) error {
	data, err := vm.SaveImage()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: write %s: %w", path, err)
	}
	return nil
}

func (vm *VM) encodeClass(c *Class) (imageClass, error) {
	ic := imageClass{
		Name:     c.Name,
		InstVars: c.InstVars,
	}
	if c.Superclass != nil {
		ic.Superclass = c.Superclass.Name
	}
	for name := range c.classVars {
		ic.ClassVars = append(ic.ClassVars, name)
	}
	sort.Strings(ic.ClassVars)

	var err error
	if ic.Methods, err = vm.encodeMethods(c); err != nil {
		return ic, err
	}
	if c.Meta() != nil {
		if ic.ClassMethods, err = vm.encodeMethods(c.Meta()); err != nil {
			return ic, err
		}
	}
	return ic, nil
}

func (vm *VM) encodeMethods(c *Class) ([]imageMethod, error) {
	var out []imageMethod
	for _, id := range c.Selectors() {
		cm, ok := c.LocalMethod(id).(*CompiledMethod)
		if !ok {
			// Primitives are bootstrap-installed, not image content.
			continue
		}
		im, err := vm.encodeMethod(cm.Name(), cm.Arity, cm.NumTemps,
			cm.Bytecode, cm.Literals, cm.GlobalNames, cm.Blocks)
		if err != nil {
			return nil, fmt.Errorf("image: %s>>%s: %w", c.Name, cm.Name(), err)
		}
		out = append(out, im)
	}
	// Dictionary iteration order is not stable; canonical images are.
	sort.Slice(out, func(i, j int) bool { return out[i].Selector < out[j].Selector })
	return out, nil
}

func (vm *VM) encodeMethod(selector string, arity, numTemps int,
	bytecode []byte, literals []Value, globals []string, blocks []*BlockMethod) (imageMethod, error) {

	im := imageMethod{
		Selector: selector,
		Arity:    arity,
		NumTemps: numTemps,
		Bytecode: bytecode,
		Globals:  globals,
	}
	for _, lit := range literals {
		il, err := vm.encodeLiteral(lit)
		if err != nil {
			return im, err
		}
		im.Literals = append(im.Literals, il)
	}
	for _, blk := range blocks {
		ib, err := vm.encodeMethod("", blk.Arity, blk.NumTemps,
			blk.Bytecode, blk.Literals, blk.GlobalNames, blk.Blocks)
		if err != nil {
			return im, err
		}
		im.Blocks = append(im.Blocks, ib)
	}
	return im, nil
}

func (vm *VM) encodeLiteral(v Value) (imageLiteral, error) {
	switch {
	case v == Nil:
		return imageLiteral{Kind: "nil"}, nil
	case v == True:
		return imageLiteral{Kind: "true"}, nil
	case v == False:
		return imageLiteral{Kind: "false"}, nil
	case v.IsSmallInt():
		return imageLiteral{Kind: "int", Int: v.SmallInt()}, nil
	case v.IsFloat():
		return imageLiteral{Kind: "float", Float: v.Float64()}, nil
	case v.IsSymbol():
		return imageLiteral{Kind: "symbol", Str: vm.Symbols.Name(v.SymbolID())}, nil
	}
	switch obj := vm.Heap.Get(v).(type) {
	case *StringObject:
		return imageLiteral{Kind: "string", Str: obj.S}, nil
	case *BigIntObject:
		return imageLiteral{Kind: "big", Big: obj.X.String()}, nil
	}
	return imageLiteral{}, fmt.Errorf("unencodable literal %s", vm.DescribeValue(v))
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadImage decodes an image and installs its classes.
func (vm *VM) LoadImage(data []byte) error {
	var img imageFile
	if err := cbor.Unmarshal(data, &img); err != nil {
		return fmt.Errorf("image: decode: %w", err)
	}
	if img.Format != imageFormat {
		return fmt.Errorf("image: not a quill image (format %q)", img.Format)
	}
	if img.Version != imageVersion {
		return fmt.Errorf("image: unsupported version %d", img.Version)
	}

	// Source selector ID -> this VM's ID.
	selMap := make([]int, len(img.Selectors))
	for i, name := range img.Selectors {
		selMap[i] = vm.Selectors.Intern(name)
	}

	for _, ic := range img.Classes {
		if err := vm.loadImageClass(&ic, selMap); err != nil {
			return err
		}
	}
	return nil
}

// LoadImageFile reads and installs an image file.
func (vm *VM) LoadImageFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("image: read %s: %w", path, err)
	}
	return vm.LoadImage(data)
}

func (vm *VM) loadImageClass(ic *imageClass, selMap []int) error {
	if vm.Classes.Has(ic.Name) {
		return fmt.Errorf("image: class %q is already defined", ic.Name)
	}
	superName := ic.Superclass
	if superName == "" {
		superName = "Object"
	}
	super := vm.Classes.Lookup(superName)
	if super == nil {
		return fmt.Errorf("image: class %q: unresolved superclass %q", ic.Name, superName)
	}
	c := vm.defineClass(ic.Name, super, ic.InstVars)
	for _, cv := range ic.ClassVars {
		c.DeclareClassVar(cv)
	}

	for i := range ic.Methods {
		if err := vm.installImageMethod(c, &ic.Methods[i], selMap, false); err != nil {
			return err
		}
	}
	for i := range ic.ClassMethods {
		if err := vm.installImageMethod(c.Meta(), &ic.ClassMethods[i], selMap, true); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) installImageMethod(c *Class, im *imageMethod, selMap []int, classMethod bool) error {
	cm := NewCompiledMethod(im.Selector, im.Arity)
	cm.NumTemps = im.NumTemps
	cm.IsClassMethod = classMethod
	var err error
	if cm.Bytecode, err = rewriteSelectors(im.Bytecode, selMap); err != nil {
		return fmt.Errorf("image: %s>>%s: %w", c.Name, im.Selector, err)
	}
	if cm.Literals, err = vm.decodeLiterals(im.Literals); err != nil {
		return fmt.Errorf("image: %s>>%s: %w", c.Name, im.Selector, err)
	}
	cm.GlobalNames = im.Globals
	for i := range im.Blocks {
		blk, err := vm.decodeBlock(&im.Blocks[i], selMap)
		if err != nil {
			return fmt.Errorf("image: %s>>%s: %w", c.Name, im.Selector, err)
		}
		blk.Outer = cm
		cm.Blocks = append(cm.Blocks, blk)
	}
	cm.SetSelector(vm.Selectors.Intern(im.Selector))
	cm.SetClass(c)
	c.InstallMethod(cm.Selector(), cm)
	return nil
}

func (vm *VM) decodeBlock(im *imageMethod, selMap []int) (*BlockMethod, error) {
	blk := NewBlockMethod(im.Arity)
	blk.NumTemps = im.NumTemps
	var err error
	if blk.Bytecode, err = rewriteSelectors(im.Bytecode, selMap); err != nil {
		return nil, err
	}
	if blk.Literals, err = vm.decodeLiterals(im.Literals); err != nil {
		return nil, err
	}
	blk.GlobalNames = im.Globals
	for i := range im.Blocks {
		inner, err := vm.decodeBlock(&im.Blocks[i], selMap)
		if err != nil {
			return nil, err
		}
		blk.Blocks = append(blk.Blocks, inner)
	}
	return blk, nil
}

func (vm *VM) decodeLiterals(lits []imageLiteral) ([]Value, error) {
	var out []Value
	for _, il := range lits {
		v, err := vm.decodeLiteral(il)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (vm *VM) decodeLiteral(il imageLiteral) (Value, error) {
	switch il.Kind {
	case "nil":
		return Nil, nil
	case "true":
		return True, nil
	case "false":
		return False, nil
	case "int":
		return vm.MakeInt(il.Int), nil
	case "float":
		return FromFloat64(il.Float), nil
	case "symbol":
		return vm.Symbols.SymbolValue(il.Str), nil
	case "string":
		return vm.NewString(il.Str), nil
	case "big":
		x, ok := newBigFromString(il.Big)
		if !ok {
			return Nil, fmt.Errorf("malformed big integer literal %q", il.Big)
		}
		return vm.newBigInt(x), nil
	}
	return Nil, fmt.Errorf("unknown literal kind %q", il.Kind)
}

// rewriteSelectors maps the selector operands of send instructions from
// source-VM IDs to this VM's IDs, leaving everything else untouched.
func rewriteSelectors(bc []byte, selMap []int) ([]byte, error) {
	out := make([]byte, len(bc))
	copy(out, bc)

	r := NewBytecodeReader(bc)
	for r.HasMore() {
		pos := r.Position()
		op := r.ReadOpcode()
		switch op {
		case OpSend, OpSendSuper:
			if pos+1+op.OperandBytes() > len(bc) {
				return nil, fmt.Errorf("truncated instruction %s at %d", op, pos)
			}
			id := int(r.ReadUint16())
			r.ReadByte() // argc
			if id >= len(selMap) {
				return nil, fmt.Errorf("selector ID %d out of image range", id)
			}
			mapped := selMap[id]
			out[pos+1] = byte(mapped)
			out[pos+2] = byte(mapped >> 8)
		default:
			n := op.OperandBytes()
			if n < 0 || pos+1+n > len(bc) {
				return nil, fmt.Errorf("truncated instruction %s at %d", op, pos)
			}
			r.Skip(n)
		}
	}
	return out, nil
}
