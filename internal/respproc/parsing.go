package respproc

import (
	"encoding/json"
	"regexp"
	"strings"

	"agentcore/internal/llm"
)

// invokeRe matches one <invoke name="...">...</invoke> block. Parameter
// extraction is done separately within each match so nested parameter
// content (which may itself contain angle brackets, e.g. HTML a tool is
// asked to write) does not confuse the outer scan.
var (
	functionCallsRe = regexp.MustCompile(`(?s)<function_calls>(.*?)</function_calls>`)
	invokeRe        = regexp.MustCompile(`(?s)<invoke\s+name="([^"]*)">(.*?)</invoke>`)
	parameterRe     = regexp.MustCompile(`(?s)<parameter\s+name="([^"]*)">(.*?)</parameter>`)
)

// ParseXMLToolCalls scans assistant text for
// <function_calls><invoke name="..."><parameter name="...">...</parameter></invoke></function_calls>
// blocks and returns one llm.ToolCall per <invoke>, in document order.
//
// Parameter values are literal for strings/scalars; a value that parses as
// JSON (object, array, number, or boolean) is encoded as that native JSON
// type in the resulting Args payload, matching the wire convention that
// objects/arrays are JSON-encoded inline and booleans are written lowercase.
func ParseXMLToolCalls(text string) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, fc := range functionCallsRe.FindAllStringSubmatch(text, -1) {
		body := fc[1]
		for _, inv := range invokeRe.FindAllStringSubmatch(body, -1) {
			name := inv[1]
			params := map[string]any{}
			for _, p := range parameterRe.FindAllStringSubmatch(inv[2], -1) {
				key := p[1]
				val := strings.TrimSpace(p[2])
				params[key] = decodeParameterValue(val)
			}
			raw, _ := json.Marshal(params)
			calls = append(calls, llm.ToolCall{Name: name, Args: raw})
		}
	}
	return calls
}

// decodeParameterValue returns the native JSON value for a parameter body
// when it parses as a JSON object, array, number, or boolean; otherwise it
// is treated as a literal string.
func decodeParameterValue(s string) any {
	if s == "" {
		return ""
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	if isJSONNumber(s) {
		var n json.Number
		if err := json.Unmarshal([]byte(s), &n); err == nil {
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	}
	return s
}

func isJSONNumber(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[i] == '-' {
		i++
	}
	if i == len(s) {
		return false
	}
	seenDigit := false
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-':
			// allowed inside a numeric literal
		default:
			return false
		}
	}
	return seenDigit
}

// NativeToolCalls extracts the provider's structured tool_calls field from
// an assistant message, unmodified. It is the native-mode counterpart to
// ParseXMLToolCalls.
func NativeToolCalls(msg llm.Message) []llm.ToolCall {
	return msg.ToolCalls
}
