// Package fallback builds deterministic substitute responses for tools whose
// model output could not be used. Templates read only their inputs: no
// clock, no randomness, no I/O.
package fallback

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Carrie-PLH/plus/internal/normalize"
)

// ErrNoTemplate is returned for tools without a fallback template.
var ErrNoTemplate = errors.New("no fallback template")

// Template builds a tool response from the caller's original inputs.
type Template func(in Inputs) normalize.Result

var templates = map[string]Template{
	"symptomPro":   symptomPro,
	"resetPro":     resetPro,
	"promptCoach":  promptCoach,
	"promptPro":    promptPro,
	"trendTrack":   trendTrack,
	"accessPro":    accessPro,
	"toolTemplate": toolTemplate,
}

// Build returns the fallback response for toolID.
func Build(toolID string, inputs map[string]any) (normalize.Result, error) {
	tmpl, ok := templates[toolID]
	if !ok {
		return nil, fmt.Errorf("%w for tool %q", ErrNoTemplate, toolID)
	}
	return tmpl(Inputs(inputs)), nil
}

// Has reports whether toolID has a template.
func Has(toolID string) bool {
	_, ok := templates[toolID]
	return ok
}

// Tools lists tools with a template, sorted.
func Tools() []string {
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Inputs is a decoded JSON request body.
type Inputs map[string]any

// Text returns the first key holding a non-blank string or a number.
func (in Inputs) Text(keys ...string) string {
	for _, k := range keys {
		if s := Stringify(in[k]); s != "" {
			return s
		}
	}
	return ""
}

func (in Inputs) Object(key string) Inputs {
	if m, ok := in[key].(map[string]any); ok {
		return Inputs(m)
	}
	return Inputs{}
}

func (in Inputs) List(key string) []any {
	l, _ := in[key].([]any)
	return l
}

// Number reads a finite number or numeric string. Anything else, including
// "Inf" and "NaN", yields def.
func (in Inputs) Number(key string, def float64) float64 {
	var f float64
	switch v := in[key].(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return def
	}
	return f
}

func (in Inputs) Bool(key string) bool {
	b, _ := in[key].(bool)
	return b
}

// Strings returns the string elements of a list, or a single string as a
// one-element slice.
func (in Inputs) Strings(key string) []string {
	switch v := in[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := Stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Stringify renders scalars as text. Anything else, including nil, is "".
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// Truncate shortens s to n runes, appending "..." when it cut anything.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// sentences joins non-empty clauses with single spaces.
func sentences(clauses ...string) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// clause formats a sentence around value, or returns "" when value is empty.
func clause(format, value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf(format, value)
}

func stringList(items ...string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}
