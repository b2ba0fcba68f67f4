package parser

import (
	"fmt"

	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/registry"
)

// Builder constructs ops for the evaluator. The production builder backs
// onto the op registry; tests can substitute their own.
type Builder interface {
	Has(name string) bool
	Build(name string, kwargs map[string]any) (op.Op, error)
}

// RegistryBuilder resolves op names against the process registry and
// merges call kwargs with the op's config section.
type RegistryBuilder struct{}

func (RegistryBuilder) Has(name string) bool {
	return registry.Global.Has(registry.CategoryOp, name)
}

func (RegistryBuilder) Build(name string, kwargs map[string]any) (op.Op, error) {
	return op.New(name, op.ConfigFromKwargs(kwargs))
}

// Eval walks a parsed program and builds the composed op tree.
//
// Name resolution: variables bound by statements shadow registered ops; a
// bare identifier for a registered op is memoized, so repeating the name
// refers to the same instance, while a constructor call always builds a
// fresh one.
func Eval(program *Program, b Builder) (op.Op, error) {
	e := &evaluator{builder: b, env: map[string]op.Op{}, memo: map[string]op.Op{}}
	for _, stmt := range program.Stmts {
		if err := e.assign(stmt); err != nil {
			return nil, err
		}
	}
	v, err := e.eval(program.Expr)
	if err != nil {
		return nil, err
	}
	o, ok := v.(op.Op)
	if !ok {
		return nil, &Error{Kind: KindNotAnOp, Message: fmt.Sprintf("expression evaluates to %T, not an op", v)}
	}
	return o, nil
}

// Build parses and evaluates src against the registry in one step.
func Build(src string) (op.Op, error) {
	program, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return Eval(program, RegistryBuilder{})
}

type evaluator struct {
	builder Builder
	env     map[string]op.Op
	memo    map[string]op.Op
}

func (e *evaluator) assign(stmt *Assign) error {
	v, err := e.eval(stmt.Value)
	if err != nil {
		return err
	}
	child, ok := v.(op.Op)
	if !ok {
		return &Error{Kind: KindNotAnOp, Message: fmt.Sprintf("assignment value is %T, not an op", v)}
	}
	switch len(stmt.Target) {
	case 1:
		e.env[stmt.Target[0]] = child
		return nil
	case 3:
		if stmt.Target[1] != "ops" {
			return &Error{Kind: KindSyntax, Message: fmt.Sprintf("cannot assign to %q, only x.ops.name is assignable", stmt.Target[1])}
		}
		parent, ok := e.env[stmt.Target[0]]
		if !ok {
			return &Error{Kind: KindUnknownOp, Message: fmt.Sprintf("variable %q is not bound", stmt.Target[0])}
		}
		if _, err := op.Attach(parent, stmt.Target[2], child); err != nil {
			return &Error{Kind: KindSyntax, Message: err.Error()}
		}
		return nil
	default:
		return &Error{Kind: KindSyntax, Message: "assignment target must be x or x.ops.name"}
	}
}

func (e *evaluator) eval(n Node) (any, error) {
	switch node := n.(type) {
	case *Literal:
		return node.Value, nil
	case *Ident:
		if o, ok := e.env[node.Name]; ok {
			return o, nil
		}
		if o, ok := e.memo[node.Name]; ok {
			return o, nil
		}
		if !e.builder.Has(node.Name) {
			return nil, &Error{Kind: KindUnknownOp, Message: fmt.Sprintf("op %q is not registered", node.Name)}
		}
		o, err := e.builder.Build(node.Name, nil)
		if err != nil {
			return nil, err
		}
		e.memo[node.Name] = o
		return o, nil
	case *Call:
		if !e.builder.Has(node.Name) {
			return nil, &Error{Kind: KindUnknownOp, Message: fmt.Sprintf("op %q is not registered", node.Name)}
		}
		return e.builder.Build(node.Name, node.Kwargs)
	case *Binary:
		return e.evalBinary(node)
	case *ChildMap:
		return nil, &Error{Kind: KindSyntax, Message: "a child map is only valid on the right of <<"}
	default:
		return nil, &Error{Kind: KindSyntax, Message: fmt.Sprintf("unexpected node %T", n)}
	}
}

func (e *evaluator) evalBinary(node *Binary) (any, error) {
	left, err := e.eval(node.Left)
	if err != nil {
		return nil, err
	}
	lop, ok := left.(op.Op)
	if !ok {
		return nil, &Error{Kind: KindNotAnOp, Message: fmt.Sprintf("left operand of %s is %T, not an op", node.Op, left)}
	}

	if node.Op == "<<" {
		cm, ok := node.Right.(*ChildMap)
		if !ok {
			return nil, &Error{Kind: KindSyntax, Message: "right operand of << must be a {name: op} map"}
		}
		for i, key := range cm.Keys {
			v, err := e.eval(cm.Values[i])
			if err != nil {
				return nil, err
			}
			child, ok := v.(op.Op)
			if !ok {
				return nil, &Error{Kind: KindNotAnOp, Message: fmt.Sprintf("child %q is %T, not an op", key, v)}
			}
			if _, err := op.Attach(lop, key, child); err != nil {
				return nil, &Error{Kind: KindSyntax, Message: err.Error()}
			}
		}
		return lop, nil
	}

	right, err := e.eval(node.Right)
	if err != nil {
		return nil, err
	}
	rop, ok := right.(op.Op)
	if !ok {
		return nil, &Error{Kind: KindNotAnOp, Message: fmt.Sprintf("right operand of %s is %T, not an op", node.Op, right)}
	}

	var composed op.Op
	switch node.Op {
	case ">>":
		composed, err = op.Then(lop, rop)
	case "|":
		composed, err = op.Or(lop, rop)
	default:
		return nil, &Error{Kind: KindSyntax, Message: fmt.Sprintf("unknown operator %q", node.Op)}
	}
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Message: err.Error()}
	}
	return composed, nil
}
