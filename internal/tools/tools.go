// Package tools declares every generative tool as data: how its input is
// validated, how the prompt is built, the response schema, and how a
// finished response is shaped.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/llm"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

// InputError describes a missing or malformed request field.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func invalid(field, format string, args ...any) *InputError {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type Tool struct {
	ID string

	// Validate rejects unusable input before any quota is spent. It may
	// also fill defaults into in.
	Validate func(in fallback.Inputs) error

	Prompt func(in fallback.Inputs) string
	System func(in fallback.Inputs) string

	MaxOutputTokens int
	Temperature     float64

	Schema normalize.Schema

	// AcceptText keeps unstructured model output. Without it, prose
	// replies are replaced by the fallback template.
	AcceptText bool

	// Finish shapes the response, whether it came from the model or the
	// fallback template.
	Finish func(out normalize.Result, in fallback.Inputs, outcome normalize.Outcome) normalize.Result
}

// Options returns the generation settings for one call.
func (t *Tool) Options(in fallback.Inputs) llm.Options {
	opts := llm.Options{MaxOutputTokens: t.MaxOutputTokens, Temperature: t.Temperature}
	if t.System != nil {
		opts.System = t.System(in)
	}
	return opts
}

// Usable reports whether a normalized outcome can be returned as is.
func (t *Tool) Usable(outcome normalize.Outcome) bool {
	switch outcome {
	case normalize.Parsed:
		return true
	case normalize.Unstructured:
		return t.AcceptText
	default:
		return false
	}
}

// Complete applies Finish, if any.
func (t *Tool) Complete(out normalize.Result, in fallback.Inputs, outcome normalize.Outcome) normalize.Result {
	if t.Finish == nil {
		return out
	}
	return t.Finish(out, in, outcome)
}

type Registry struct {
	tools map[string]*Tool
}

// Default returns every tool with a prompt and a fallback template.
func Default() *Registry {
	r := &Registry{tools: map[string]*Tool{}}
	for _, t := range []*Tool{
		symptomProTool(),
		resetProTool(),
		promptCoachTool(),
		promptProTool(),
		trendTrackTool(),
		accessProTool(),
		toolTemplateTool(),
	} {
		r.tools[t.ID] = t
	}
	return r
}

func (r *Registry) Lookup(id string) (*Tool, bool) {
	t, ok := r.tools[id]
	return t, ok
}

// IDs lists registered tools, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}

func compact(v any, limit int) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	if limit > 0 && len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// oneOf checks an optional enum field and writes its default back.
func oneOf(in fallback.Inputs, key, def string, allowed ...string) error {
	v, present := in[key]
	if !present || v == nil {
		in[key] = def
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return invalid(key, "'%s' must be a string", key)
	}
	if s == "" {
		in[key] = def
		return nil
	}
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return invalid(key, "'%s' must be one of %v", key, allowed)
}

func optionalObject(in fallback.Inputs, key string) error {
	v, present := in[key]
	if !present || v == nil {
		return nil
	}
	if _, ok := v.(map[string]any); !ok {
		return invalid(key, "'%s' must be an object", key)
	}
	return nil
}

// ensureLists replaces missing or non-list values under keys with empty
// lists.
func ensureLists(m map[string]any, keys ...string) {
	for _, k := range keys {
		if _, ok := m[k].([]any); !ok {
			m[k] = []any{}
		}
	}
}

func ensureObject(out normalize.Result, key string) map[string]any {
	m, ok := out[key].(map[string]any)
	if !ok {
		m = map[string]any{}
		out[key] = m
	}
	return m
}

func capList(v any, n int) []any {
	l, _ := v.([]any)
	if len(l) > n {
		return l[:n]
	}
	if l == nil {
		return []any{}
	}
	return l
}
