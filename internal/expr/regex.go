package expr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsafePattern  = errors.New("unsafe regex pattern")
	ErrPatternTooLong = errors.New("regex pattern too long")
)

const maxPatternLength = 256

// constructs rejected outright before compilation
var forbiddenConstructs = []string{
	"(?=", "(?!", "(?<=", "(?<!", // lookaround
	"\\1", "\\2", "\\3", "\\4", "\\5", // backreferences
	"\\6", "\\7", "\\8", "\\9",
}

// validatePattern gates match patterns to a safe subset. Lookarounds,
// backreferences, and quantified groups that themselves contain unbounded
// quantifiers are rejected before any compilation happens.
func validatePattern(pattern string) error {
	if len(pattern) > maxPatternLength {
		return fmt.Errorf("%w: %d bytes", ErrPatternTooLong, len(pattern))
	}

	for _, construct := range forbiddenConstructs {
		if strings.Contains(pattern, construct) {
			return fmt.Errorf("%w: %s", ErrUnsafePattern, construct)
		}
	}

	if hasNestedQuantifier(pattern) {
		return fmt.Errorf("%w: nested unbounded quantifier", ErrUnsafePattern)
	}
	return nil
}

// hasNestedQuantifier detects a group containing an unbounded quantifier
// that is itself followed by one, e.g. (a+)* or (a*)+
func hasNestedQuantifier(pattern string) bool {
	type group struct {
		unbounded bool
	}

	var stack []group
	escaped := false

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			escaped = true
		case '(':
			stack = append(stack, group{})
		case '*', '+':
			if len(stack) > 0 {
				stack[len(stack)-1].unbounded = true
			}
		case '{':
			if isUnboundedRange(pattern[i:]) && len(stack) > 0 {
				stack[len(stack)-1].unbounded = true
			}
		case ')':
			if len(stack) == 0 {
				continue
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if closed.unbounded && followedByQuantifier(pattern[i+1:]) {
				return true
			}
			if closed.unbounded && len(stack) > 0 {
				stack[len(stack)-1].unbounded = true
			}
		}
	}
	return false
}

// isUnboundedRange reports whether a {n,} style repetition has no upper bound
func isUnboundedRange(rest string) bool {
	end := strings.IndexByte(rest, '}')
	if end < 0 {
		return false
	}
	inner := rest[1:end]
	return strings.HasSuffix(inner, ",")
}

func followedByQuantifier(rest string) bool {
	if rest == "" {
		return false
	}
	switch rest[0] {
	case '*', '+':
		return true
	case '{':
		return true
	default:
		return false
	}
}
