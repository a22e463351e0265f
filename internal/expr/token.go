package expr

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

type (
	tokenKind int

	token struct {
		kind tokenKind
		text string
		pos  int
	}

	lexer struct {
		source string
		pos    int
	}
)

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenPath
	tokenOperator
	tokenAnd
	tokenOr
	tokenBang
	tokenLParen
	tokenRParen
	tokenComma
)

var ErrLex = errors.New("unexpected character")

// word operators carried by ident tokens; the parser decides whether an
// ident is one of these based on position
var wordOperators = map[string]struct{}{
	"contains":   {},
	"startswith": {},
	"endswith":   {},
	"matches":    {},
	"in":         {},
	"notin":      {},
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.pos

	if l.pos >= len(l.source) {
		return token{kind: tokenEOF, pos: start}, nil
	}

	c := l.source[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokenComma, text: ",", pos: start}, nil
	case c == '$':
		return l.lexPath(start)
	case c == '\'' || c == '"':
		return l.lexString(start)
	case c == '-' || unicode.IsDigit(rune(c)):
		return l.lexNumber(start)
	case isWordRune(rune(c)):
		return l.lexWord(start)
	default:
		return l.lexSymbol(start)
	}
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.source) {
		switch l.source[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

// lexPath consumes a $-rooted path reference up to the first rune that
// cannot continue a path, honoring bracket nesting and quoted keys
func (l *lexer) lexPath(start int) (token, error) {
	l.pos++ // $
	inBracket := false
	var quote byte

	for l.pos < len(l.source) {
		c := l.source[l.pos]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			l.pos++
			continue
		}
		if inBracket {
			if c == '\'' || c == '"' {
				quote = c
			} else if c == ']' {
				inBracket = false
			}
			l.pos++
			continue
		}
		if c == '[' {
			inBracket = true
			l.pos++
			continue
		}
		if c == '.' || isWordRune(rune(c)) {
			l.pos++
			continue
		}
		break
	}
	return token{kind: tokenPath, text: l.source[start:l.pos], pos: start}, nil
}

func (l *lexer) lexString(start int) (token, error) {
	quote := l.source[l.pos]
	l.pos++
	var sb strings.Builder

	for l.pos < len(l.source) {
		c := l.source[l.pos]
		if c == '\\' && l.pos+1 < len(l.source) {
			// only quotes and the backslash itself are escapable; any other
			// sequence passes through intact so regex classes like \d survive
			esc := l.source[l.pos+1]
			if esc != '\'' && esc != '"' && esc != '\\' {
				sb.WriteByte(c)
			}
			sb.WriteByte(esc)
			l.pos += 2
			continue
		}
		if c == quote {
			l.pos++
			return token{kind: tokenString, text: sb.String(), pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("%w: unterminated string at %d", ErrLex, start)
}

func (l *lexer) lexNumber(start int) (token, error) {
	l.pos++
	for l.pos < len(l.source) {
		c := l.source[l.pos]
		if unicode.IsDigit(rune(c)) || c == '.' {
			l.pos++
			continue
		}
		break
	}
	return token{kind: tokenNumber, text: l.source[start:l.pos], pos: start}, nil
}

func (l *lexer) lexWord(start int) (token, error) {
	for l.pos < len(l.source) && isWordRune(rune(l.source[l.pos])) {
		l.pos++
	}
	text := l.source[start:l.pos]
	if _, ok := wordOperators[strings.ToLower(text)]; ok {
		return token{
			kind: tokenOperator,
			text: strings.ToLower(text),
			pos:  start,
		}, nil
	}
	return token{kind: tokenIdent, text: text, pos: start}, nil
}

func (l *lexer) lexSymbol(start int) (token, error) {
	two := ""
	if l.pos+2 <= len(l.source) {
		two = l.source[l.pos : l.pos+2]
	}

	switch two {
	case "&&":
		l.pos += 2
		return token{kind: tokenAnd, text: two, pos: start}, nil
	case "||":
		l.pos += 2
		return token{kind: tokenOr, text: two, pos: start}, nil
	case "==", "!=", ">=", "<=":
		l.pos += 2
		return token{kind: tokenOperator, text: two, pos: start}, nil
	}

	switch l.source[l.pos] {
	case '>', '<':
		text := string(l.source[l.pos])
		l.pos++
		return token{kind: tokenOperator, text: text, pos: start}, nil
	case '!':
		l.pos++
		return token{kind: tokenBang, text: "!", pos: start}, nil
	}
	return token{}, fmt.Errorf("%w: %q at %d",
		ErrLex, l.source[l.pos], start)
}

func isWordRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}
