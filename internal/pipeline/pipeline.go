// Package pipeline implements the pipe-based transformation language applied
// to endpoint responses. An expression is a source followed by zero or more
// stages: `data | where($.age > 18) | map($.name)`. Syntax problems fail the
// whole compilation; data problems inside a stage degrade per element
// instead of aborting the pipeline.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kode4food/lru"

	"github.com/khanh1998/test-pilot/internal/jsonpath"
)

type (
	// Pipeline is a compiled transformation expression
	Pipeline struct {
		source sourceRef
		stages []stage
	}

	// stage receives the prior stage's output as its implicit first argument
	stage interface {
		apply(ec *evalContext, current any) any
	}

	// evalContext carries the root document so stages like join can resolve
	// named collections
	evalContext struct {
		root any
	}

	sourceRef struct {
		path jsonpath.Path
	}

	stageParser func(args []string) (stage, error)
)

const pipelineCacheSize = 2048

var (
	ErrEmptyExpression = errors.New("empty pipeline expression")
	ErrBadStage        = errors.New("malformed pipeline stage")
	ErrUnknownStage    = errors.New("unknown pipeline function")
	ErrBadArgCount     = errors.New("wrong argument count")

	pipelineCache = lru.NewCache[*Pipeline](pipelineCacheSize)
)

// Compile parses a pipeline expression, caching by source text
func Compile(expression string) (*Pipeline, error) {
	return pipelineCache.Get(expression, func() (*Pipeline, error) {
		return parsePipeline(expression)
	})
}

// Run compiles and evaluates an expression against a document
func Run(expression string, data any) (any, error) {
	p, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	return p.Run(data), nil
}

// Run evaluates the compiled pipeline left to right. Every stage is total;
// a stage receiving data it cannot handle yields its zero result rather than
// failing the pipeline.
func (p *Pipeline) Run(data any) any {
	ec := &evalContext{root: data}

	current, ok := p.source.path.Evaluate(data)
	if !ok {
		current = nil
	}
	for _, s := range p.stages {
		current = s.apply(ec, current)
	}
	return current
}

func parsePipeline(expression string) (*Pipeline, error) {
	parts := splitTop(expression, '|')
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return nil, ErrEmptyExpression
	}

	source, err := parseSource(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}

	stages := make([]stage, 0, len(parts)-1)
	for _, raw := range parts[1:] {
		s, err := parseStage(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return &Pipeline{source: source, stages: stages}, nil
}

// parseSource accepts a $-rooted path or a bare collection name resolved as
// a top-level key of the document
func parseSource(src string) (sourceRef, error) {
	pathText := src
	if !strings.HasPrefix(src, "$") {
		pathText = "$." + src
	}

	path, err := jsonpath.Compile(pathText)
	if err != nil {
		return sourceRef{}, fmt.Errorf("%w: %s", ErrBadStage, src)
	}
	return sourceRef{path: path}, nil
}

func parseStage(raw string) (stage, error) {
	open := strings.IndexByte(raw, '(')
	if open < 0 || !strings.HasSuffix(raw, ")") {
		return nil, fmt.Errorf("%w: %q", ErrBadStage, raw)
	}

	name := strings.ToLower(strings.TrimSpace(raw[:open]))
	inner := raw[open+1 : len(raw)-1]

	var args []string
	if strings.TrimSpace(inner) != "" {
		for _, a := range splitTop(inner, ',') {
			args = append(args, strings.TrimSpace(a))
		}
	}

	parser, ok := stageParsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}

	s, err := parser(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// splitTop splits on a separator at nesting depth zero, honoring quotes,
// parentheses, and brackets
func splitTop(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
