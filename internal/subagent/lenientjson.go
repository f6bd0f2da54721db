package subagent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ParseToolArgsLenient parses a tool's accumulated partial_json as the
// arguments object, tolerating the minor malformations a streamed,
// possibly-truncated JSON blob can have: trailing commas before a closing
// brace/bracket, and (via a goja object-literal evaluation fallback)
// unquoted keys (spec.md §4.8 step 1).
func ParseToolArgsLenient(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	cleaned := stripTrailingCommas(raw)
	if err := json.Unmarshal([]byte(cleaned), &args); err == nil {
		return args, nil
	}

	return parseAsJSObjectLiteral(cleaned)
}

// parseAsJSObjectLiteral evaluates raw as a JS expression via goja, which
// natively tolerates object-literal syntax JSON does not (unquoted keys,
// trailing commas, single-quoted strings) — reusing the goja dependency
// already wired for the custom router hook rather than hand-rolling a
// second JSON-ish parser.
func parseAsJSObjectLiteral(raw string) (map[string]any, error) {
	vm := goja.New()
	v, err := vm.RunString("(" + raw + ")")
	if err != nil {
		return nil, fmt.Errorf("lenient parse: %w", err)
	}

	exported := v.Export()
	m, ok := exported.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("lenient parse: expected object, got %T", exported)
	}
	return m, nil
}

// stripTrailingCommas removes a comma that appears (ignoring whitespace)
// immediately before a "}" or "]", which json.Unmarshal otherwise rejects.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == ',' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue // drop this comma
			}
		}
		b.WriteRune(c)
	}
	return b.String()
}
