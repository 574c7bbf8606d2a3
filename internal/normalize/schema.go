package normalize

// Kind is the JSON shape a field must have to be taken as-is.
type Kind int

const (
	KindString Kind = iota
	KindList
	KindObject
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Field declares one required key of a tool response and how to derive it
// when the model omitted it or returned the wrong type.
type Field struct {
	Key  string
	Kind Kind

	// From lists sibling keys in priority order. Only siblings that were
	// present in the model output are considered, never derived ones.
	From []string

	// UseText lets unstructured model output fill the field.
	UseText bool

	// MaxLen truncates derived strings. Values the model supplied directly
	// are never truncated. Zero means no limit.
	MaxLen int

	Placeholder any
}

// Schema is the declared shape of a tool response.
type Schema struct {
	// Envelope names a key the object may be nested under, e.g. "summaries".
	Envelope string
	Fields   []Field
}

// Keys returns the schema's keys in declaration order.
func (s Schema) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Key
	}
	return keys
}
