package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/event"
)

// placeholderPattern matches {{ path.to.value }} with optional inner spaces.
// Paths may contain array indices written as items[0] or items.0.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_$][A-Za-z0-9_$\-]*(?:(?:\.[A-Za-z0-9_$\-]+)|(?:\[\d+\]))*)\s*\}\}`)

// indexPattern rewrites items[0] into the gjson form items.0.
var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// Interpolator resolves {{ path }} placeholders against a context object.
//
// Create with NewInterpolator() and configure with Option functions.
// Interpolator is safe for concurrent use after construction.
type Interpolator struct {
	missingAction MissingAction
}

// NewInterpolator creates a new Interpolator with the given options.
//
// Default configuration:
//   - MissingAction: MissingKeep (keep placeholders as-is)
func NewInterpolator(opts ...Option) *Interpolator {
	in := &Interpolator{missingAction: MissingKeep}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Interpolate resolves placeholders in s against vars.
//
// Errors are only returned when MissingAction is MissingError and a path
// does not resolve, or when vars cannot be encoded.
//
// Example:
//
//	in := NewInterpolator()
//	out, _ := in.Interpolate("Viewed {{ properties.title }}", map[string]any{
//	    "properties": map[string]any{"title": "Pricing"},
//	})
//	// out: "Viewed Pricing"
func (in *Interpolator) Interpolate(s string, vars map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encode template context: %w", err)
	}
	return in.InterpolateJSON(s, data)
}

// InterpolateJSON resolves placeholders in s against a JSON document.
func (in *Interpolator) InterpolateJSON(s string, data []byte) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var missing []string
	result := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		res := gjson.GetBytes(data, toGJSONPath(path))
		if res.Exists() && res.Type != gjson.Null {
			if res.Type == gjson.String {
				return res.Str
			}
			return res.Raw
		}
		switch in.missingAction {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, path)
			return match
		default: // MissingKeep
			return match
		}
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// InterpolateEvent resolves placeholders against the JSON form of e, so
// paths use the event's wire names (properties.title, context.url, event).
func (in *Interpolator) InterpolateEvent(s string, e *event.Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return in.InterpolateJSON(s, data)
}

// EventContext flattens e into a lookup context keyed by the event's wire
// names, for callers that add their own keys before interpolating.
func EventContext(e *event.Event) map[string]any {
	data, err := json.Marshal(e)
	if err != nil {
		return map[string]any{}
	}
	m, ok := gjson.ParseBytes(data).Value().(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// MustInterpolate resolves placeholders in s and panics on error.
func (in *Interpolator) MustInterpolate(s string, vars map[string]any) string {
	result, err := in.Interpolate(s, vars)
	if err != nil {
		panic(fmt.Sprintf("template: %v", err))
	}
	return result
}

// InterpolateMap resolves placeholders in all string values of m recursively.
//
// Returns a new map. Non-string values are copied as-is; nested
// map[string]any values are interpolated recursively.
func (in *Interpolator) InterpolateMap(m map[string]any, vars map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encode template context: %w", err)
	}
	return in.interpolateMapJSON(m, data)
}

func (in *Interpolator) interpolateMapJSON(m map[string]any, data []byte) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			s, err := in.InterpolateJSON(val, data)
			if err != nil {
				return nil, err
			}
			result[k] = s
		case map[string]any:
			nested, err := in.interpolateMapJSON(val, data)
			if err != nil {
				return nil, err
			}
			result[k] = nested
		default:
			result[k] = v
		}
	}
	return result, nil
}

// toGJSONPath converts a dotted template path into gjson syntax, escaping
// characters gjson would otherwise treat as wildcards or modifiers.
func toGJSONPath(path string) string {
	path = indexPattern.ReplaceAllString(path, ".$1")
	var b strings.Builder
	for _, r := range path {
		switch r {
		case '*', '?', '#', '@', '|', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UndefinedVariableError is returned when MissingError is set and one or
// more placeholder paths did not resolve.
type UndefinedVariableError struct {
	// Names is the list of unresolved paths.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultInterpolator = NewInterpolator()

// Interpolate resolves placeholders using the default interpolator.
// Unresolved placeholders are kept as-is.
func Interpolate(s string, vars map[string]any) string {
	result, err := defaultInterpolator.Interpolate(s, vars)
	if err != nil {
		return s
	}
	return result
}

// InterpolateMap resolves placeholders in all string values using the
// default interpolator.
func InterpolateMap(m map[string]any, vars map[string]any) map[string]any {
	result, err := defaultInterpolator.InterpolateMap(m, vars)
	if err != nil {
		return m
	}
	return result
}
