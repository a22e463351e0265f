package template

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownBuiltin = errors.New("unknown builtin function")
	ErrBadBuiltinCall = errors.New("malformed builtin call")
)

// datePatternPairs maps the dashboard's date tokens onto Go reference-time
// layout fragments. Longer tokens are replaced first.
var datePatternPairs = []struct {
	token  string
	layout string
}{
	{"YYYY", "2006"},
	{"MM", "01"},
	{"DD", "02"},
	{"HH", "15"},
	{"mm", "04"},
	{"ss", "05"},
}

// callBuiltin evaluates the `func:` source: a fixed table of built-in value
// generators
func callBuiltin(expr string) (any, error) {
	name, args, err := parseCall(expr)
	if err != nil {
		return nil, err
	}

	switch name {
	case "uuid":
		return uuid.NewString(), nil
	case "timestamp":
		return float64(time.Now().UnixMilli()), nil
	case "randomInt":
		return builtinRandomInt(args)
	case "formatDatePattern":
		return builtinFormatDate(args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuiltin, name)
	}
}

// builtinRandomInt returns an integer in the inclusive range [lo, hi]
func builtinRandomInt(args []string) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: randomInt wants 2 args", ErrBadBuiltinCall)
	}
	lo, err1 := strconv.Atoi(args[0])
	hi, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || hi < lo {
		return nil, fmt.Errorf("%w: randomInt(%s, %s)",
			ErrBadBuiltinCall, args[0], args[1])
	}
	return float64(lo + rand.IntN(hi-lo+1)), nil
}

// builtinFormatDate formats now plus an optional day offset using the
// dashboard's YYYY/MM/DD/HH/mm/ss pattern tokens
func builtinFormatDate(args []string) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf(
			"%w: formatDatePattern wants 1-2 args", ErrBadBuiltinCall)
	}

	layout := args[0]
	for _, pair := range datePatternPairs {
		layout = strings.ReplaceAll(layout, pair.token, pair.layout)
	}

	when := time.Now()
	if len(args) == 2 {
		offset, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: formatDatePattern offset %q",
				ErrBadBuiltinCall, args[1])
		}
		when = when.AddDate(0, 0, offset)
	}
	return when.Format(layout), nil
}

func parseCall(expr string) (string, []string, error) {
	open := strings.IndexByte(expr, '(')
	if open < 0 || !strings.HasSuffix(expr, ")") {
		return "", nil, fmt.Errorf("%w: %q", ErrBadBuiltinCall, expr)
	}

	name := strings.TrimSpace(expr[:open])
	inner := strings.TrimSpace(expr[open+1 : len(expr)-1])
	if inner == "" {
		return name, nil, nil
	}

	parts := strings.Split(inner, ",")
	args := make([]string, 0, len(parts))
	for _, part := range parts {
		args = append(args, trimQuotes(strings.TrimSpace(part)))
	}
	return name, args, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
