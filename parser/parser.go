package parser

import "fmt"

// Kind classifies a parse or evaluation failure.
type Kind string

const (
	KindSyntax          Kind = "syntax"
	KindEmptyExpression Kind = "empty_expression"
	KindNotAnExpression Kind = "not_an_expression"
	KindNotAnOp         Kind = "not_an_op"
	KindUnknownOp       Kind = "unknown_op"
)

// Error is the failure type of the expression language.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("flow expression: %s", e.Message)
}

// KindOf extracts the failure kind, or "" for foreign errors.
func KindOf(err error) Kind {
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return ""
}

// AST nodes.
type (
	// Ident references a variable or a registered op by bare name.
	Ident struct {
		Name string
	}

	// Call constructs a registered op with keyword arguments.
	Call struct {
		Name   string
		Kwargs map[string]any
	}

	// Literal is a string, int, float or bool value.
	Literal struct {
		Value any
	}

	// Binary applies ">>", "|" or "<<".
	Binary struct {
		Op    string
		Left  Node
		Right Node
	}

	// ChildMap is the "{name: expr, ...}" operand of "<<". Keys keep
	// source order.
	ChildMap struct {
		Keys   []string
		Values []Node
	}
)

// Node is any expression AST node.
type Node interface{ node() }

func (*Ident) node()    {}
func (*Call) node()     {}
func (*Literal) node()  {}
func (*Binary) node()   {}
func (*ChildMap) node() {}

// Assign is one statement line: "x = expr" binds a variable,
// "x.ops.name = expr" attaches a child to a previously bound op.
type Assign struct {
	Target []string
	Value  Node
}

// Program is a parsed multi-line flow expression: statements followed by
// the final expression that must evaluate to an op.
type Program struct {
	Stmts []*Assign
	Expr  Node
}

// operator precedence: "<<" binds tightest, then "|", then ">>".
func precedence(k tokenKind) int {
	switch k {
	case tokChild:
		return 30
	case tokPar:
		return 20
	case tokSeq:
		return 10
	}
	return 0
}

type parserState struct {
	tokens []token
	pos    int
}

func (p *parserState) peek() token  { return p.tokens[p.pos] }
func (p *parserState) next() token  { t := p.tokens[p.pos]; p.pos++; return t }
func (p *parserState) at(k tokenKind) bool {
	return p.tokens[p.pos].kind == k
}

func (p *parserState) expect(k tokenKind) (token, error) {
	t := p.peek()
	if t.kind != k {
		return t, syntaxErrorAt(t.line, t.col, "expected %s, got %s", k, t.kind)
	}
	return p.next(), nil
}

// Parse parses a flow expression source into a Program.
func Parse(src string) (*Program, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parserState{tokens: tokens}

	var stmts []*Assign
	var last any // *Assign or Node
	for {
		for p.at(tokNewline) {
			p.next()
		}
		if p.at(tokEOF) {
			break
		}
		item, err := p.parseLine()
		if err != nil {
			return nil, err
		}
		if last != nil {
			stmt, ok := last.(*Assign)
			if !ok {
				t := p.peek()
				return nil, syntaxErrorAt(t.line, t.col, "only the last line may be a bare expression")
			}
			stmts = append(stmts, stmt)
		}
		last = item
		if !p.at(tokEOF) {
			if _, err := p.expect(tokNewline); err != nil {
				return nil, err
			}
		}
	}

	switch v := last.(type) {
	case nil:
		return nil, &Error{Kind: KindEmptyExpression, Message: "empty input"}
	case *Assign:
		return nil, &Error{Kind: KindNotAnExpression, Message: "last line is an assignment, not an expression"}
	case Node:
		return &Program{Stmts: stmts, Expr: v}, nil
	default:
		return nil, &Error{Kind: KindSyntax, Message: "unparsable input"}
	}
}

// parseLine parses one statement or expression line.
func (p *parserState) parseLine() (any, error) {
	if target, ok := p.tryAssignTarget(); ok {
		value, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		return &Assign{Target: target, Value: value}, nil
	}
	return p.parseExpr(0)
}

// tryAssignTarget recognizes "ident =" and "ident.ops.ident =" prefixes
// without consuming anything on failure.
func (p *parserState) tryAssignTarget() ([]string, bool) {
	start := p.pos
	if !p.at(tokIdent) {
		return nil, false
	}
	target := []string{p.next().text}
	for p.at(tokDot) {
		p.next()
		if !p.at(tokIdent) {
			p.pos = start
			return nil, false
		}
		target = append(target, p.next().text)
	}
	if !p.at(tokAssign) {
		p.pos = start
		return nil, false
	}
	p.next()
	return target, true
}

func (p *parserState) parseExpr(minPrec int) (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		prec := precedence(k)
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		opTok := p.next()
		// Left associative: the right operand only claims tighter
		// operators.
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: opTok.text, Left: left, Right: right}
	}
}

func (p *parserState) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokIdent:
		p.next()
		if p.at(tokLParen) {
			kwargs, err := p.parseKwargs()
			if err != nil {
				return nil, err
			}
			return &Call{Name: t.text, Kwargs: kwargs}, nil
		}
		return &Ident{Name: t.text}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokLBrace:
		return p.parseChildMap()
	case tokString:
		p.next()
		return &Literal{Value: t.text}, nil
	case tokInt, tokFloat:
		p.next()
		v, err := parseNumber(t)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	case tokBool:
		p.next()
		return &Literal{Value: t.text == "true"}, nil
	default:
		return nil, syntaxErrorAt(t.line, t.col, "unexpected %s", t.kind)
	}
}

func (p *parserState) parseKwargs() (map[string]any, error) {
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	kwargs := map[string]any{}
	for {
		if p.at(tokRParen) {
			p.next()
			return kwargs, nil
		}
		key, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokAssign); err != nil {
			return nil, err
		}
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		kwargs[key.text] = value
		if p.at(tokComma) {
			p.next()
			continue
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return kwargs, nil
	}
}

func (p *parserState) parseLiteral() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return t.text, nil
	case tokInt, tokFloat:
		return parseNumber(t)
	case tokBool:
		return t.text == "true", nil
	default:
		return nil, syntaxErrorAt(t.line, t.col, "expected a literal argument, got %s", t.kind)
	}
}

func (p *parserState) parseChildMap() (Node, error) {
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}
	cm := &ChildMap{}
	for {
		if p.at(tokRBrace) {
			p.next()
			return cm, nil
		}
		var key string
		switch t := p.peek(); t.kind {
		case tokIdent, tokString:
			key = p.next().text
		default:
			return nil, syntaxErrorAt(t.line, t.col, "expected a child name, got %s", t.kind)
		}
		if _, err := p.expect(tokColon); err != nil {
			return nil, err
		}
		value, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		cm.Keys = append(cm.Keys, key)
		cm.Values = append(cm.Values, value)
		if p.at(tokComma) {
			p.next()
			continue
		}
		if _, err := p.expect(tokRBrace); err != nil {
			return nil, err
		}
		return cm, nil
	}
}
