package compiler

import (
	"reflect"
	"sort"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/token"
)

// builtinGlobals are the names a submission may reference without declaring
var builtinGlobals = []string{
	"undefined", "NaN", "Infinity", "globalThis", "arguments",
	"Object", "Function", "Array", "String", "Number", "Boolean", "Symbol",
	"Date", "RegExp", "Math", "JSON", "Promise", "Proxy", "Reflect",
	"Map", "Set", "WeakMap", "WeakSet",
	"Error", "EvalError", "RangeError", "ReferenceError", "SyntaxError",
	"TypeError", "URIError",
	"ArrayBuffer", "DataView", "Int8Array", "Uint8Array", "Uint8ClampedArray",
	"Int16Array", "Uint16Array", "Int32Array", "Uint32Array",
	"Float32Array", "Float64Array",
	"parseInt", "parseFloat", "isNaN", "isFinite",
	"encodeURI", "encodeURIComponent", "decodeURI", "decodeURIComponent",
	"escape", "unescape",
}

// resolver collects every declared binding of a unit and every identifier
// reference. Scoping is flattened to the whole unit, so only names that are
// declared nowhere are reported.
type resolver struct {
	declared map[string]struct{}
	refs     []reference
}

// reference is an identifier use and its offset in the lowered unit
type reference struct {
	name string
	idx  file.Idx
}

// unresolved returns the first reference to every name used by program that
// is neither declared in it nor a known global, sorted by name
func (c *Compiler) unresolved(program *ast.Program) []reference {
	r := &resolver{declared: make(map[string]struct{})}
	r.node(program)

	seen := make(map[string]struct{})
	var refs []reference
	for _, ref := range r.refs {
		if _, ok := r.declared[ref.name]; ok {
			continue
		}
		if _, ok := c.globals[ref.name]; ok {
			continue
		}
		if _, ok := seen[ref.name]; ok {
			continue
		}
		seen[ref.name] = struct{}{}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].name < refs[j].name })
	return refs
}

func (r *resolver) refer(id *ast.Identifier) {
	r.refs = append(r.refs, reference{name: string(id.Name), idx: id.Idx})
}

func (r *resolver) define(name string) {
	r.declared[name] = struct{}{}
}

func isNil(n any) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// node visits statements and expressions
func (r *resolver) node(n any) {
	if isNil(n) {
		return
	}

	switch n := n.(type) {
	case *ast.Program:
		for _, s := range n.Body {
			r.node(s)
		}

	// Statements
	case *ast.BlockStatement:
		for _, s := range n.List {
			r.node(s)
		}
	case *ast.ExpressionStatement:
		r.node(n.Expression)
	case *ast.VariableStatement:
		for _, b := range n.List {
			r.binding(b)
		}
	case *ast.LexicalDeclaration:
		for _, b := range n.List {
			r.binding(b)
		}
	case *ast.FunctionDeclaration:
		r.node(n.Function)
	case *ast.ClassDeclaration:
		r.node(n.Class)
	case *ast.ReturnStatement:
		r.node(n.Argument)
	case *ast.ThrowStatement:
		r.node(n.Argument)
	case *ast.IfStatement:
		r.node(n.Test)
		r.node(n.Consequent)
		r.node(n.Alternate)
	case *ast.ForStatement:
		r.node(n.Initializer)
		r.node(n.Test)
		r.node(n.Update)
		r.node(n.Body)
	case *ast.ForLoopInitializerExpression:
		r.node(n.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		for _, b := range n.List {
			r.binding(b)
		}
	case *ast.ForLoopInitializerLexicalDecl:
		for _, b := range n.LexicalDeclaration.List {
			r.binding(b)
		}
	case *ast.ForInStatement:
		r.node(n.Into)
		r.node(n.Source)
		r.node(n.Body)
	case *ast.ForOfStatement:
		r.node(n.Into)
		r.node(n.Source)
		r.node(n.Body)
	case *ast.ForIntoVar:
		r.binding(n.Binding)
	case *ast.ForDeclaration:
		r.declare(n.Target)
	case *ast.ForIntoExpression:
		r.node(n.Expression)
	case *ast.WhileStatement:
		r.node(n.Test)
		r.node(n.Body)
	case *ast.DoWhileStatement:
		r.node(n.Test)
		r.node(n.Body)
	case *ast.TryStatement:
		r.node(n.Body)
		r.node(n.Catch)
		r.node(n.Finally)
	case *ast.CatchStatement:
		r.declare(n.Parameter)
		r.node(n.Body)
	case *ast.SwitchStatement:
		r.node(n.Discriminant)
		for _, c := range n.Body {
			r.node(c)
		}
	case *ast.CaseStatement:
		r.node(n.Test)
		for _, s := range n.Consequent {
			r.node(s)
		}
	case *ast.LabelledStatement:
		r.node(n.Statement)
	case *ast.WithStatement:
		r.node(n.Object)
		r.node(n.Body)

	// Functions and classes
	case *ast.FunctionLiteral:
		if n.Name != nil {
			r.define(string(n.Name.Name))
		}
		r.params(n.ParameterList)
		r.node(n.Body)
	case *ast.ArrowFunctionLiteral:
		r.params(n.ParameterList)
		r.node(n.Body)
	case *ast.ExpressionBody:
		r.node(n.Expression)
	case *ast.ClassLiteral:
		if n.Name != nil {
			r.define(string(n.Name.Name))
		}
		r.node(n.SuperClass)
		for _, el := range n.Body {
			r.node(el)
		}
	case *ast.MethodDefinition:
		if n.Computed {
			r.node(n.Key)
		}
		r.node(n.Body)

	// Expressions
	case *ast.Identifier:
		r.refer(n)
	case *ast.CallExpression:
		r.node(n.Callee)
		for _, a := range n.ArgumentList {
			r.node(a)
		}
	case *ast.NewExpression:
		r.node(n.Callee)
		for _, a := range n.ArgumentList {
			r.node(a)
		}
	case *ast.DotExpression:
		r.node(n.Left)
	case *ast.BracketExpression:
		r.node(n.Left)
		r.node(n.Member)
	case *ast.BinaryExpression:
		r.node(n.Left)
		r.node(n.Right)
	case *ast.AssignExpression:
		r.node(n.Left)
		r.node(n.Right)
	case *ast.UnaryExpression:
		// typeof on an undeclared name is well-defined
		if _, ok := n.Operand.(*ast.Identifier); ok && n.Operator == token.TYPEOF {
			return
		}
		r.node(n.Operand)
	case *ast.ConditionalExpression:
		r.node(n.Test)
		r.node(n.Consequent)
		r.node(n.Alternate)
	case *ast.SequenceExpression:
		for _, e := range n.Sequence {
			r.node(e)
		}
	case *ast.ArrayLiteral:
		for _, e := range n.Value {
			r.node(e)
		}
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			r.node(p)
		}
	case *ast.PropertyShort:
		r.refer(&n.Name)
		r.node(n.Initializer)
	case *ast.PropertyKeyed:
		if n.Computed {
			r.node(n.Key)
		}
		r.node(n.Value)
	case *ast.SpreadElement:
		r.node(n.Expression)
	case *ast.TemplateLiteral:
		r.node(n.Tag)
		for _, e := range n.Expressions {
			r.node(e)
		}
	case *ast.YieldExpression:
		r.node(n.Argument)
	case *ast.ObjectPattern:
		// destructuring assignment targets are references
		for _, p := range n.Properties {
			r.node(p)
		}
		r.node(n.Rest)
	case *ast.ArrayPattern:
		for _, e := range n.Elements {
			r.node(e)
		}
		r.node(n.Rest)
	}
}

func (r *resolver) binding(b *ast.Binding) {
	if b == nil {
		return
	}
	r.declare(b.Target)
	r.node(b.Initializer)
}

func (r *resolver) params(list *ast.ParameterList) {
	if list == nil {
		return
	}
	for _, b := range list.List {
		r.binding(b)
	}
	r.declare(list.Rest)
}

// declare records the names bound by a binding target
func (r *resolver) declare(target any) {
	if isNil(target) {
		return
	}

	switch t := target.(type) {
	case *ast.Identifier:
		r.define(string(t.Name))
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := any(p).(type) {
			case *ast.PropertyShort:
				r.define(string(p.Name.Name))
				r.node(p.Initializer)
			case *ast.PropertyKeyed:
				if p.Computed {
					r.node(p.Key)
				}
				r.declare(p.Value)
			default:
				r.node(p)
			}
		}
		r.declare(t.Rest)
	case *ast.ArrayPattern:
		for _, e := range t.Elements {
			r.declare(e)
		}
		r.declare(t.Rest)
	case *ast.AssignExpression:
		// default value
		r.declare(t.Left)
		r.node(t.Right)
	case *ast.SpreadElement:
		r.declare(t.Expression)
	default:
		r.node(target)
	}
}
