package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/khanh1998/test-pilot/internal/jsonpath"
)

type (
	node interface {
		eval(elem any) bool
	}

	operand interface {
		resolve(elem any) (any, bool)
	}

	orNode struct {
		left  node
		right node
	}

	andNode struct {
		left  node
		right node
	}

	notNode struct {
		inner node
	}

	// compareNode applies a binary comparison, string, or membership operator
	compareNode struct {
		op    string
		left  operand
		right operand
	}

	// truthyNode treats a bare operand as a condition
	truthyNode struct {
		operand operand
	}

	// quantifierNode evaluates a nested condition over the elements of an
	// array operand: any() passes when one element passes, all() when every
	// element does (vacuously true for empty arrays)
	quantifierNode struct {
		name       string
		collection operand
		condition  node
	}

	// checkNode is one of the existence/null/empty predicates
	checkNode struct {
		name    string
		operand operand
	}

	pathOperand struct {
		path jsonpath.Path
	}

	identOperand struct {
		path jsonpath.Path
	}

	literalOperand struct {
		value any
	}

	parser struct {
		lex  *lexer
		tok  token
		src  string
	}
)

const (
	checkExists = "exists"
	checkNull   = "isnull"
	checkEmpty  = "isempty"
	quantAny    = "any"
	quantAll    = "all"
)

var (
	ErrParse           = errors.New("malformed condition")
	ErrUnknownFunction = errors.New("unknown condition function")
)

func parseCondition(source string) (node, error) {
	p := &parser{lex: &lexer{source: source}, src: source}
	if err := p.advance(); err != nil {
		return nil, err
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenEOF {
		return nil, fmt.Errorf("%w: trailing input at %d in %q",
			ErrParse, p.tok.pos, source)
	}
	return root, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokenOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokenAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	if p.tok.kind == tokenBang {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}

	if p.tok.kind == tokenLParen {
		return p.parseParenthesized()
	}

	if p.tok.kind == tokenIdent {
		if n, handled, err := p.parseCall(); handled || err != nil {
			return n, err
		}
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.tok.kind != tokenOperator {
		return &truthyNode{operand: left}, nil
	}

	op := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if op == "matches" {
		if lit, ok := right.(literalOperand); ok {
			if pattern, ok := lit.value.(string); ok {
				if err := validatePattern(pattern); err != nil {
					return nil, err
				}
			}
		}
	}
	return &compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseParenthesized() (node, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	inner, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenRParen {
		return nil, fmt.Errorf("%w: missing ) in %q", ErrParse, p.src)
	}
	return inner, p.advance()
}

// parseCall handles the quantifier and check function forms. It reports
// handled=false when the ident is a plain operand.
func (p *parser) parseCall() (node, bool, error) {
	name := strings.ToLower(p.tok.text)

	switch name {
	case quantAny, quantAll:
		n, err := p.parseQuantifier(name)
		return n, true, err
	case checkExists, checkNull, checkEmpty:
		n, err := p.parseCheck(name)
		return n, true, err
	default:
		return nil, false, nil
	}
}

func (p *parser) parseQuantifier(name string) (node, error) {
	if err := p.expectCallOpen(); err != nil {
		return nil, err
	}

	collection, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenComma {
		return nil, fmt.Errorf("%w: %s needs a nested condition in %q",
			ErrParse, name, p.src)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	condition, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenRParen {
		return nil, fmt.Errorf("%w: missing ) in %q", ErrParse, p.src)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	return &quantifierNode{
		name:       name,
		collection: collection,
		condition:  condition,
	}, nil
}

func (p *parser) parseCheck(name string) (node, error) {
	if err := p.expectCallOpen(); err != nil {
		return nil, err
	}

	op, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokenRParen {
		return nil, fmt.Errorf("%w: missing ) in %q", ErrParse, p.src)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &checkNode{name: name, operand: op}, nil
}

func (p *parser) expectCallOpen() error {
	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokenLParen {
		return fmt.Errorf("%w: expected ( in %q", ErrParse, p.src)
	}
	return p.advance()
}

func (p *parser) parseOperand() (operand, error) {
	switch p.tok.kind {
	case tokenPath:
		path, err := jsonpath.Compile(p.tok.text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrParse, err)
		}
		return pathOperand{path: path}, p.advance()

	case tokenString:
		text := p.tok.text
		return literalOperand{value: text}, p.advance()

	case tokenNumber:
		num, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrParse, p.tok.text)
		}
		return literalOperand{value: num}, p.advance()

	case tokenIdent:
		return p.parseIdentOperand()

	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d in %q",
			ErrParse, p.tok.text, p.tok.pos, p.src)
	}
}

// parseIdentOperand resolves keyword literals, otherwise treats a bare
// identifier as a property of the current element
func (p *parser) parseIdentOperand() (operand, error) {
	switch strings.ToLower(p.tok.text) {
	case "true":
		return literalOperand{value: true}, p.advance()
	case "false":
		return literalOperand{value: false}, p.advance()
	case "null":
		return literalOperand{value: nil}, p.advance()
	}

	path, err := jsonpath.Compile("$." + p.tok.text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrParse, err)
	}
	return identOperand{path: path}, p.advance()
}
