// Package expr implements the boolean condition sub-language shared by the
// pipeline's where stage and templated assertion conditions. Operands may be
// $-rooted path references, literals, or bare identifiers resolved against
// the current element. Evaluation is pure and total: a well-formed condition
// always yields a boolean, and missing data is never an error.
package expr

import "github.com/kode4food/lru"

// Condition is a compiled boolean expression
type Condition struct {
	root node
}

const conditionCacheSize = 2048

var conditionCache = lru.NewCache[*Condition](conditionCacheSize)

// Compile parses a condition, caching compilations by source text
func Compile(source string) (*Condition, error) {
	return conditionCache.Get(source, func() (*Condition, error) {
		root, err := parseCondition(source)
		if err != nil {
			return nil, err
		}
		return &Condition{root: root}, nil
	})
}

// Evaluate applies the condition to a single element
func (c *Condition) Evaluate(elem any) bool {
	return c.root.eval(elem)
}

// Validate reports whether the source parses as a condition
func Validate(source string) error {
	_, err := Compile(source)
	return err
}
