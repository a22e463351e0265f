package template

import (
	"encoding/json"
	"strings"
)

// ResolveRawJSON resolves templates inside raw JSON text before it is
// parsed. The triple-brace form substitutes the native value and removes the
// enclosing quotes from the surrounding text, so `"{{{res:a-0.$.n}}}"`
// becomes `42` rather than `"42"`. This has to happen at the text level:
// once the document is parsed the quotes are gone and the type is fixed.
func ResolveRawJSON(text string, ctx *Context) (string, error) {
	spans := scanSpans(text)
	if len(spans) == 0 {
		return text, nil
	}

	var sb strings.Builder
	last := 0
	for _, sp := range spans {
		value, err := resolveSpan(sp, ctx)
		if err != nil {
			if sp.triple {
				return "", err
			}
			continue // verbatim, covered by the trailing copy
		}

		start, end := sp.start, sp.end
		if sp.triple {
			if quoted(text, sp) {
				start--
				end++
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return "", err
			}
			sb.WriteString(text[last:start])
			sb.Write(encoded)
			last = end
			continue
		}

		sb.WriteString(text[last:start])
		sb.WriteString(escapeForJSON(Stringify(value)))
		last = end
	}
	sb.WriteString(text[last:])
	return sb.String(), nil
}

// quoted reports whether the span is immediately enclosed by double quotes
// in the surrounding text
func quoted(text string, sp span) bool {
	return sp.start > 0 && text[sp.start-1] == '"' &&
		sp.end < len(text) && text[sp.end] == '"'
}

// escapeForJSON encodes a string as JSON string content without the
// surrounding quotes, safe to splice into a quoted literal
func escapeForJSON(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(encoded[1 : len(encoded)-1])
}
