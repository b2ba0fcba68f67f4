// Package parser implements the flow expression language: op constructor
// calls composed with ">>" (sequential), "|" (parallel) and "<<" (child
// attachment), plus simple variable and child assignments. Expressions are
// parsed into an AST and evaluated against the op registry; there is no
// host-language eval anywhere in the path.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokString
	tokInt
	tokFloat
	tokBool
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
	tokColon
	tokDot
	tokAssign
	tokSeq   // >>
	tokPar   // |
	tokChild // <<
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokNewline:
		return "newline"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokInt, tokFloat:
		return "number"
	case tokBool:
		return "boolean"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	case tokLBrace:
		return "{"
	case tokRBrace:
		return "}"
	case tokComma:
		return ","
	case tokColon:
		return ":"
	case tokDot:
		return "."
	case tokAssign:
		return "="
	case tokSeq:
		return ">>"
	case tokPar:
		return "|"
	case tokChild:
		return "<<"
	}
	return "unknown token"
}

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// lex tokenizes the whole source upfront. Line comments start with "#".
func lex(src string) ([]token, error) {
	var tokens []token
	line, col := 1, 1
	runes := []rune(src)
	i := 0

	emit := func(kind tokenKind, text string) {
		tokens = append(tokens, token{kind: kind, text: text, line: line, col: col})
	}

	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '\n':
			emit(tokNewline, "\n")
			i++
			line++
			col = 1
			continue
		case r == ' ' || r == '\t' || r == '\r':
			i++
			col++
			continue
		case r == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			continue
		case r == '(':
			emit(tokLParen, "(")
		case r == ')':
			emit(tokRParen, ")")
		case r == '{':
			emit(tokLBrace, "{")
		case r == '}':
			emit(tokRBrace, "}")
		case r == ',':
			emit(tokComma, ",")
		case r == ':':
			emit(tokColon, ":")
		case r == '.':
			emit(tokDot, ".")
		case r == '=':
			emit(tokAssign, "=")
		case r == '|':
			emit(tokPar, "|")
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '>' {
				emit(tokSeq, ">>")
				i++
				col++
			} else {
				return nil, syntaxErrorAt(line, col, "unexpected %q, did you mean %q", ">", ">>")
			}
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '<' {
				emit(tokChild, "<<")
				i++
				col++
			} else {
				return nil, syntaxErrorAt(line, col, "unexpected %q, did you mean %q", "<", "<<")
			}
		case r == '"' || r == '\'':
			text, consumed, err := lexString(runes[i:], line, col)
			if err != nil {
				return nil, err
			}
			emit(tokString, text)
			i += consumed
			col += consumed
			continue
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			isFloat := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					if isFloat {
						break
					}
					isFloat = true
				}
				i++
			}
			text := string(runes[start:i])
			if isFloat {
				emit(tokFloat, text)
			} else {
				emit(tokInt, text)
			}
			col += i - start
			continue
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			text := string(runes[start:i])
			if text == "true" || text == "false" || text == "True" || text == "False" {
				emit(tokBool, strings.ToLower(text))
			} else {
				emit(tokIdent, text)
			}
			col += i - start
			continue
		default:
			return nil, syntaxErrorAt(line, col, "unexpected character %q", string(r))
		}
		i++
		col++
	}
	tokens = append(tokens, token{kind: tokEOF, line: line, col: col})
	return tokens, nil
}

// lexString consumes a quoted string starting at src[0], returning the
// unquoted text and the number of runes consumed.
func lexString(src []rune, line, col int) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		r := src[i]
		switch r {
		case quote:
			return b.String(), i + 1, nil
		case '\n':
			return "", 0, syntaxErrorAt(line, col, "unterminated string")
		case '\\':
			if i+1 >= len(src) {
				return "", 0, syntaxErrorAt(line, col, "unterminated string")
			}
			i++
			switch src[i] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(src[i])
			}
		default:
			b.WriteRune(r)
		}
	}
	return "", 0, syntaxErrorAt(line, col, "unterminated string")
}

func parseNumber(t token) (any, error) {
	if t.kind == tokFloat {
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxErrorAt(t.line, t.col, "bad number %q", t.text)
		}
		return f, nil
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return nil, syntaxErrorAt(t.line, t.col, "bad number %q", t.text)
	}
	return n, nil
}

func syntaxErrorAt(line, col int, format string, args ...any) error {
	return &Error{
		Kind:    KindSyntax,
		Message: fmt.Sprintf("line %d:%d: %s", line, col, fmt.Sprintf(format, args...)),
	}
}
