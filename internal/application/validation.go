package application

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
)

// ParamKind is the type of a command parameter
type ParamKind int

const (
	ParamString ParamKind = iota
	ParamInt
	ParamBool
)

func (k ParamKind) String() string {
	switch k {
	case ParamString:
		return "string"
	case ParamInt:
		return "integer"
	case ParamBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// ParamSpec declares one parameter of a command
type ParamSpec struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Enum        []string // Allowed values for string parameters
	Min         *int     // Lower bound for integer parameters
	Description string
}

// Params holds the parameters of a dispatch request
type Params map[string]any

// String returns a string parameter, or "" when absent
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Int returns an integer parameter and whether it was present
func (p Params) Int(name string) (int, bool) {
	n, ok := p[name].(int)
	return n, ok
}

// Bool returns a boolean parameter, or false when absent
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Has reports whether a parameter was supplied
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// ValidateRequired checks if a string field is non-empty (after trimming whitespace).
// Returns a ValidationError if the field is empty.
func ValidateRequired(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("%s is required", formatFieldName(fieldName)),
		}
	}
	return nil
}

// formatFieldName converts camelCase field names to space-separated words
// for more readable error messages (e.g., "nodeId" -> "node ID")
func formatFieldName(fieldName string) string {
	replacements := map[string]string{
		"nodeId":     "node ID",
		"parentId":   "parent ID",
		"mindmapId":  "mindmap ID",
		"title":      "title",
		"note":       "note",
		"index":      "index",
		"resolution": "resolution",
	}

	if formatted, ok := replacements[fieldName]; ok {
		return formatted
	}
	return fieldName
}

// ValidateParams checks params against a schema and returns a normalized
// copy: JSON numbers become int. Unknown names, missing required values,
// wrong types and enum violations all fail before any handler runs.
func ValidateParams(specs []ParamSpec, params Params) (Params, error) {
	known := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		known[s.Name] = s
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Params, len(params))
	for _, name := range names {
		spec, ok := known[name]
		if !ok {
			return nil, &ValidationError{Field: name, Message: "unknown parameter"}
		}
		v, err := normalizeParam(spec, params[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}

	for _, s := range specs {
		if !s.Required {
			continue
		}
		if _, ok := out[s.Name]; !ok {
			return nil, &ValidationError{
				Field:   s.Name,
				Message: fmt.Sprintf("%s is required", formatFieldName(s.Name)),
			}
		}
		if s.Kind == ParamString {
			if err := ValidateRequired(s.Name, out.String(s.Name)); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func normalizeParam(spec ParamSpec, v any) (any, error) {
	typeErr := &ValidationError{
		Field:   spec.Name,
		Message: fmt.Sprintf("expected %s, got %T", spec.Kind, v),
	}

	switch spec.Kind {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return nil, typeErr
		}
		if len(spec.Enum) > 0 && !slices.Contains(spec.Enum, s) {
			return nil, &ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("must be one of %s, got: %s", strings.Join(spec.Enum, ", "), s),
			}
		}
		return s, nil

	case ParamInt:
		var n int
		switch x := v.(type) {
		case int:
			n = x
		case int64:
			n = int(x)
		case float64:
			if x != math.Trunc(x) || x < math.MinInt || x >= math.MaxInt {
				return nil, typeErr
			}
			n = int(x)
		default:
			return nil, typeErr
		}
		if spec.Min != nil && n < *spec.Min {
			return nil, &ValidationError{
				Field:   spec.Name,
				Message: fmt.Sprintf("must be at least %d, got: %d", *spec.Min, n),
			}
		}
		return n, nil

	case ParamBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeErr
		}
		return b, nil
	}

	return nil, typeErr
}

// MinValue is a helper for ParamSpec.Min
func MinValue(n int) *int {
	return &n
}
