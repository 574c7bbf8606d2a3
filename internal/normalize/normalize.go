// Package normalize coerces free-text model output into a schema-shaped
// object. Normalize never fails: every schema key is populated, falling back
// to sibling values, the unstructured text, or a placeholder.
package normalize

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Outcome tags what the model output turned out to be.
type Outcome int

const (
	// Parsed means a JSON object was recovered.
	Parsed Outcome = iota
	// Unstructured means the output was text, or JSON that is not an object.
	Unstructured
	// Empty means there was nothing to work with: blank input or JSON null.
	Empty
)

func (o Outcome) String() string {
	switch o {
	case Parsed:
		return "parsed"
	case Unstructured:
		return "unstructured"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Result holds exactly the keys of the schema it was normalized against.
type Result map[string]any

var (
	fencePattern  = regexp.MustCompile("(?i)```[ \\t]*[a-z0-9_+\\-]*")
	bulletPattern = regexp.MustCompile(`(?m)^[ \t]*(?:[-•*]|\d+\.)[ \t]+`)
)

type recovered struct {
	outcome Outcome
	object  map[string]any
	text    string
}

// Normalize parses raw against s and returns a fully populated result.
func Normalize(raw string, s Schema) (Result, Outcome) {
	rec := decode(raw, s.Envelope)

	out := make(Result, len(s.Fields))
	for _, f := range s.Fields {
		out[f.Key] = clean(resolve(f, rec))
	}
	return out, rec.outcome
}

func decode(raw, envelope string) recovered {
	if strings.TrimSpace(raw) == "" {
		return recovered{outcome: Empty}
	}

	body := extract(strings.TrimSpace(fencePattern.ReplaceAllString(raw, "")))

	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return recovered{outcome: Unstructured, text: strings.TrimSpace(raw)}
	}

	switch val := v.(type) {
	case nil:
		return recovered{outcome: Empty}
	case map[string]any:
		if envelope != "" {
			if inner, ok := val[envelope].(map[string]any); ok {
				return recovered{outcome: Parsed, object: inner}
			}
		}
		return recovered{outcome: Parsed, object: val}
	case string:
		if strings.TrimSpace(val) == "" {
			return recovered{outcome: Empty}
		}
		return recovered{outcome: Unstructured, text: val}
	default:
		return recovered{outcome: Unstructured, text: stringForm(val)}
	}
}

// extract trims prose before the first opening bracket and after the last
// closing one.
func extract(body string) string {
	start := strings.IndexAny(body, "{[")
	end := strings.LastIndexAny(body, "}]")
	if start >= 0 && end > start {
		return body[start : end+1]
	}
	return body
}

func stringForm(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				b, _ := json.Marshal(val)
				return string(b)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n")
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func resolve(f Field, rec recovered) any {
	if v, ok := accept(f.Kind, rec.object[f.Key]); ok {
		return v
	}
	for _, key := range f.From {
		if v, ok := convert(f.Kind, rec.object[key]); ok {
			return truncate(v, f.MaxLen)
		}
	}
	if f.UseText && rec.outcome == Unstructured {
		if v, ok := convert(f.Kind, rec.text); ok {
			return truncate(v, f.MaxLen)
		}
	}
	return deepCopy(f.Placeholder)
}

// accept reports whether v already has the field's kind. Blank strings do
// not count as present.
func accept(kind Kind, v any) (any, bool) {
	switch kind {
	case KindString:
		s, ok := v.(string)
		return s, ok && strings.TrimSpace(s) != ""
	case KindList:
		l, ok := v.([]any)
		return l, ok
	case KindObject:
		m, ok := v.(map[string]any)
		return m, ok
	case KindNumber:
		n, ok := v.(float64)
		return n, ok
	case KindBool:
		b, ok := v.(bool)
		return b, ok
	}
	return nil, false
}

func convert(kind Kind, v any) (any, bool) {
	if out, ok := accept(kind, v); ok {
		return out, true
	}
	if kind == KindList {
		if s, ok := v.(string); ok {
			l := lines(s)
			return l, len(l) > 0
		}
	}
	return nil, false
}

func lines(text string) []any {
	var out []any
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func truncate(v any, maxLen int) any {
	s, ok := v.(string)
	if !ok || maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return v
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// clean strips bullet and number markers from every line of every string and
// trims the result. It returns a copy.
func clean(v any) any {
	switch val := v.(type) {
	case string:
		return CleanText(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = clean(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = clean(item)
		}
		return out
	default:
		return v
	}
}

// CleanText removes leading list markers from each line and trims s.
func CleanText(s string) string {
	return strings.TrimSpace(bulletPattern.ReplaceAllString(s, ""))
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
