package compiler

// ---------------------------------------------------------------------------
// AST: the input contract of the loader
// ---------------------------------------------------------------------------
//
// The VM consumes class definitions as AST values; how they are produced
// (embedding Go code, a front end, a decoded image) is outside the core.

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	Value int64
}

func (n *IntLiteral) node() {}
func (n *IntLiteral) expr() {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	Value float64
}

func (n *FloatLiteral) node() {}
func (n *FloatLiteral) expr() {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	Value string
}

func (n *StringLiteral) node() {}
func (n *StringLiteral) expr() {}

// SymbolLiteral represents a symbol literal (#foo).
type SymbolLiteral struct {
	Value string
}

func (n *SymbolLiteral) node() {}
func (n *SymbolLiteral) expr() {}

// ArrayLiteral represents an array expression {e1. e2. e3}.
type ArrayLiteral struct {
	Elements []Expr
}

func (n *ArrayLiteral) node() {}
func (n *ArrayLiteral) expr() {}

// Variable represents a variable reference: a temp, an argument, an
// instance variable, or a global, resolved in that order at compile time.
type Variable struct {
	Name string
}

func (n *Variable) node() {}
func (n *Variable) expr() {}

// Assignment represents a variable assignment (x := expr).
type Assignment struct {
	Variable string
	Value    Expr
}

func (n *Assignment) node() {}
func (n *Assignment) expr() {}

// UnaryMessage represents a unary message send (recv selector).
type UnaryMessage struct {
	Receiver Expr
	Selector string
}

func (n *UnaryMessage) node() {}
func (n *UnaryMessage) expr() {}

// BinaryMessage represents a binary message send (recv + arg).
type BinaryMessage struct {
	Receiver Expr
	Selector string
	Argument Expr
}

func (n *BinaryMessage) node() {}
func (n *BinaryMessage) expr() {}

// KeywordMessage represents a keyword message send
// (recv key1: arg1 key2: arg2).
type KeywordMessage struct {
	Receiver  Expr
	Selector  string // full selector: "key1:key2:"
	Arguments []Expr
}

func (n *KeywordMessage) node() {}
func (n *KeywordMessage) expr() {}

// Cascade represents a cascade (recv msg1; msg2; msg3).
type Cascade struct {
	Receiver Expr
	Messages []CascadedMessage
}

func (n *Cascade) node() {}
func (n *Cascade) expr() {}

// CascadedMessage is one message of a cascade.
type CascadedMessage struct {
	Selector  string
	Arguments []Expr
}

// Block represents a block closure [:a :b | stmts].
type Block struct {
	Parameters []string
	Temps      []string
	Statements []Stmt
}

func (n *Block) node() {}
func (n *Block) expr() {}

// Self represents the 'self' pseudo-variable.
type Self struct{}

func (n *Self) node() {}
func (n *Self) expr() {}

// Super represents the 'super' pseudo-variable. Only valid as a message
// receiver.
type Super struct{}

func (n *Super) node() {}
func (n *Super) expr() {}

// NilLiteral represents 'nil'.
type NilLiteral struct{}

func (n *NilLiteral) node() {}
func (n *NilLiteral) expr() {}

// TrueLiteral represents 'true'.
type TrueLiteral struct{}

func (n *TrueLiteral) node() {}
func (n *TrueLiteral) expr() {}

// FalseLiteral represents 'false'.
type FalseLiteral struct{}

func (n *FalseLiteral) node() {}
func (n *FalseLiteral) expr() {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt is an expression used as a statement.
type ExprStmt struct {
	Expr Expr
}

func (n *ExprStmt) node() {}
func (n *ExprStmt) stmt() {}

// Return represents a return statement (^expr). In a method body it is
// a local return; in a block it is a non-local return to the home
// activation.
type Return struct {
	Value Expr
}

func (n *Return) node() {}
func (n *Return) stmt() {}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// MethodDef represents a method definition.
type MethodDef struct {
	Selector   string
	Parameters []string
	Temps      []string
	Statements []Stmt
}

func (n *MethodDef) node() {}

// ClassDef represents a class definition. Superclass is a name resolved
// by the loader, which allows forward references within a load set.
type ClassDef struct {
	Name              string
	Superclass        string
	InstanceVariables []string
	ClassVariables    []string
	Methods           []*MethodDef
	ClassMethods      []*MethodDef
}

func (n *ClassDef) node() {}

// ---------------------------------------------------------------------------
// Construction helpers
// ---------------------------------------------------------------------------

// Send builds a message send node of the right shape for the selector.
func Send(receiver Expr, selector string, args ...Expr) Expr {
	switch {
	case len(args) == 0:
		return &UnaryMessage{Receiver: receiver, Selector: selector}
	case len(args) == 1 && !isKeywordSelector(selector):
		return &BinaryMessage{Receiver: receiver, Selector: selector, Argument: args[0]}
	default:
		return &KeywordMessage{Receiver: receiver, Selector: selector, Arguments: args}
	}
}

// Int builds an integer literal.
func Int(v int64) Expr { return &IntLiteral{Value: v} }

// Str builds a string literal.
func Str(s string) Expr { return &StringLiteral{Value: s} }

// Sym builds a symbol literal.
func Sym(s string) Expr { return &SymbolLiteral{Value: s} }

// Var builds a variable reference.
func Var(name string) Expr { return &Variable{Name: name} }

// Assign builds an assignment.
func Assign(name string, value Expr) Expr {
	return &Assignment{Variable: name, Value: value}
}

// E wraps an expression as a statement.
func E(expr Expr) Stmt { return &ExprStmt{Expr: expr} }

// Ret builds a return statement.
func Ret(value Expr) Stmt { return &Return{Value: value} }

func isKeywordSelector(sel string) bool {
	for i := 0; i < len(sel); i++ {
		if sel[i] == ':' {
			return true
		}
	}
	return false
}
