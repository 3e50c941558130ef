// Package parser turns raw LLM output into a structured Decision. The model
// is asked for a single JSON object but cannot be trusted to produce one, so
// decoding runs through an ordered cascade of repair stages and falls back to
// wrapping the whole reply as an answer when nothing parses.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind tags the variants of a Decision.
type Kind int

const (
	// KindAnswer is a final answer for the user.
	KindAnswer Kind = iota
	// KindToolCall requests one tool invocation, optionally with a plan.
	KindToolCall
	// KindPlanOnly carries a plan without an immediate tool call.
	KindPlanOnly
)

// PlanStep is one intended tool invocation.
type PlanStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"tool_args"`
}

// Decision is the structured result of one LLM turn.
type Decision struct {
	Kind    Kind
	Thought string
	Goal    string
	Answer  string
	Tool    string
	Args    map[string]any
	Plan    []PlanStep

	// Raw is the original model output.
	Raw string
	// Fallback is set when no JSON could be decoded and Raw was wrapped
	// as the answer.
	Fallback bool
}

// ParseError reports that no JSON object could be decoded at any stage.
// Callers normally never see it: Parse recovers by returning a fallback
// Answer decision alongside it.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no JSON object decodable from %d bytes of model output", len(e.Raw))
}

// ValidationError reports a decoded object missing a required field. It is
// distinct from ParseError: the structure was fine, the content was not.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("decision missing required field %q: %s", e.Field, e.Reason)
}

// Parse decodes raw model output into a Decision.
//
// Stages, stopping at the first success:
//  1. parse as-is
//  2. parse the first fenced code block
//  3. parse the first balanced {...} object found by brace scanning
//  4. apply textual repairs (preamble strip, single->double quotes,
//     trailing commas) and rescan
//  5. regex-extract known fields individually
//
// If every stage fails, the raw text is wrapped as an Answer and the
// accompanying error is a *ParseError; the Decision is still usable.
func Parse(raw string) (*Decision, error) {
	trimmed := strings.TrimSpace(raw)

	if obj, ok := tryUnmarshal(trimmed); ok {
		return validate(obj, raw)
	}

	if fenced, ok := extractFenced(trimmed); ok {
		if obj, ok := tryUnmarshal(fenced); ok {
			return validate(obj, raw)
		}
	}

	if candidate, ok := extractBalanced(trimmed); ok {
		if obj, ok := tryUnmarshal(candidate); ok {
			return validate(obj, raw)
		}
	}

	repaired := repair(trimmed)
	if obj, ok := tryUnmarshal(repaired); ok {
		return validate(obj, raw)
	}
	if candidate, ok := extractBalanced(repaired); ok {
		if obj, ok := tryUnmarshal(candidate); ok {
			return validate(obj, raw)
		}
	}

	if obj, ok := extractFields(trimmed); ok {
		return validate(obj, raw)
	}

	return &Decision{Kind: KindAnswer, Answer: raw, Raw: raw, Fallback: true}, &ParseError{Raw: raw}
}

func tryUnmarshal(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractFenced returns the contents of the first fenced code block.
func extractFenced(s string) (string, bool) {
	m := fencedRe.FindStringSubmatch(s)
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// extractBalanced scans for the first '{' and returns the first balanced
// object, tracking quoted strings and escape sequences.
func extractBalanced(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// repair applies lossy textual fixes: drop any preamble before the first
// brace, convert single-quoted keys/values to double-quoted when the text
// contains no double quotes at all, and strip trailing commas. The quote
// swap is a known-lossy heuristic; it is only attempted when it cannot
// collide with existing JSON strings.
func repair(s string) string {
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	if !strings.Contains(s, `"`) && strings.Contains(s, `'`) {
		s = singleToDoubleQuotes(s)
	}
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// singleToDoubleQuotes rewrites '…' string literals as "…". Apostrophes in
// prose survive because a quote only opens after a structural character
// ({ [ , :) and only closes before one.
func singleToDoubleQuotes(s string) string {
	out := []byte(s)
	inString := false
	for i := 0; i < len(out); i++ {
		if out[i] != '\'' {
			continue
		}
		if !inString {
			if precededByStructural(out, i) {
				out[i] = '"'
				inString = true
			}
		} else {
			if followedByStructural(out, i) {
				out[i] = '"'
				inString = false
			}
		}
	}
	return string(out)
}

func precededByStructural(s []byte, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch s[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[', ',', ':':
			return true
		default:
			return false
		}
	}
	return false
}

func followedByStructural(s []byte, i int) bool {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case ' ', '\t', '\n', '\r':
			continue
		case '}', ']', ',', ':':
			return true
		default:
			return false
		}
	}
	// End of input closes a string too.
	return true
}

var stringFieldRes = map[string]*regexp.Regexp{
	"thought": regexp.MustCompile(`"thought"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	"goal":    regexp.MustCompile(`"goal"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	"tool":    regexp.MustCompile(`"tool"\s*:\s*"((?:[^"\\]|\\.)*)"`),
	"answer":  regexp.MustCompile(`"answer"\s*:\s*"((?:[^"\\]|\\.)*)"`),
}

var toolArgsRe = regexp.MustCompile(`"tool_args"\s*:\s*\{`)
var planRe = regexp.MustCompile(`"plan"\s*:\s*\[`)

// extractFields pulls known fields out individually when no full object
// parses. Returns false when nothing at all was found.
func extractFields(s string) (map[string]any, bool) {
	obj := make(map[string]any)
	for field, re := range stringFieldRes {
		if m := re.FindStringSubmatch(s); len(m) == 2 {
			var v string
			if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &v); err == nil {
				obj[field] = v
			} else {
				obj[field] = m[1]
			}
		}
	}
	if loc := toolArgsRe.FindStringIndex(s); loc != nil {
		if body, ok := extractBalanced(s[loc[1]-1:]); ok {
			var args map[string]any
			if err := json.Unmarshal([]byte(body), &args); err == nil {
				obj["tool_args"] = args
			}
		}
	}
	if loc := planRe.FindStringIndex(s); loc != nil {
		if body, ok := extractBalancedArray(s[loc[1]-1:]); ok {
			var plan []any
			if err := json.Unmarshal([]byte(body), &plan); err == nil {
				obj["plan"] = plan
			}
		}
	}
	return obj, len(obj) > 0
}

// extractBalancedArray is the bracket counterpart of extractBalanced.
func extractBalancedArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// validate applies the schema check: an Answer carries answer, a ToolCall
// carries tool+tool_args, a PlanOnly carries plan. Field presence decides
// the variant; a missing companion field is a ValidationError.
func validate(obj map[string]any, raw string) (*Decision, error) {
	d := &Decision{Raw: raw}
	d.Thought, _ = obj["thought"].(string)
	d.Goal, _ = obj["goal"].(string)

	if answer, ok := obj["answer"]; ok {
		d.Kind = KindAnswer
		switch v := answer.(type) {
		case string:
			d.Answer = v
		default:
			b, _ := json.Marshal(v)
			d.Answer = string(b)
		}
		return d, nil
	}

	plan, hasPlan, err := decodePlan(obj)
	if err != nil {
		return nil, err
	}

	if toolVal, ok := obj["tool"]; ok {
		name, _ := toolVal.(string)
		if name == "" {
			return nil, &ValidationError{Field: "tool", Reason: "tool name must be a non-empty string"}
		}
		args, err := decodeArgs(obj)
		if err != nil {
			return nil, err
		}
		d.Kind = KindToolCall
		d.Tool = name
		d.Args = args
		d.Plan = plan
		return d, nil
	}

	if hasPlan {
		if len(plan) == 0 {
			return nil, &ValidationError{Field: "plan", Reason: "plan must be a non-empty array of steps"}
		}
		d.Kind = KindPlanOnly
		d.Plan = plan
		return d, nil
	}

	return nil, &ValidationError{Field: "answer", Reason: "object has none of answer, tool, or plan"}
}

func decodeArgs(obj map[string]any) (map[string]any, error) {
	v, ok := obj["tool_args"]
	if !ok {
		return nil, &ValidationError{Field: "tool_args", Reason: "tool call without arguments object"}
	}
	switch args := v.(type) {
	case map[string]any:
		return args, nil
	case string:
		// Some models double-encode the arguments object.
		var m map[string]any
		if err := json.Unmarshal([]byte(args), &m); err == nil {
			return m, nil
		}
		return nil, &ValidationError{Field: "tool_args", Reason: "arguments string is not a JSON object"}
	case nil:
		return map[string]any{}, nil
	default:
		return nil, &ValidationError{Field: "tool_args", Reason: fmt.Sprintf("arguments must be an object, got %T", v)}
	}
}

func decodePlan(obj map[string]any) ([]PlanStep, bool, error) {
	v, ok := obj["plan"]
	if !ok {
		return nil, false, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, true, &ValidationError{Field: "plan", Reason: "plan must be an array"}
	}
	steps := make([]PlanStep, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, true, &ValidationError{Field: "plan", Reason: fmt.Sprintf("step %d is not an object", i)}
		}
		tool, _ := m["tool"].(string)
		if tool == "" {
			return nil, true, &ValidationError{Field: "plan", Reason: fmt.Sprintf("step %d has no tool name", i)}
		}
		args, _ := m["tool_args"].(map[string]any)
		if args == nil {
			// Accept the shorter key some models produce.
			args, _ = m["args"].(map[string]any)
		}
		if args == nil {
			args = map[string]any{}
		}
		steps = append(steps, PlanStep{Tool: tool, Args: args})
	}
	return steps, true, nil
}
