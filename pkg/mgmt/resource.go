package mgmt

import (
	"strings"
)

// Resource is a management-plane resource body as returned by the control plane.
// Relationships between resources are expressed by id-valued fields, never by pointers.
type Resource map[string]any

// ID returns the resource id.
func (r Resource) ID() string {
	return r.String("id")
}

// Name returns the resource name.
func (r Resource) Name() string {
	return r.String("name")
}

// Type returns the resource type.
func (r Resource) Type() string {
	return r.String("type")
}

// Lookup walks a dotted path through nested maps.
func (r Resource) Lookup(path string) (any, bool) {
	var current any = map[string]any(r)
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// String returns the string at path, or "" when absent or not a string.
func (r Resource) String(path string) string {
	v, ok := r.Lookup(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Map returns the nested map at path, or nil.
func (r Resource) Map(path string) map[string]any {
	v, ok := r.Lookup(path)
	if !ok {
		return nil
	}
	m, _ := asMap(v)
	return m
}

// Clone returns a deep copy safe to mutate.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	return Resource(DeepCopyMap(r))
}

// DeepCopyMap copies nested maps and slices; scalar values are shared.
func DeepCopyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return DeepCopyMap(typed)
	case Resource:
		return DeepCopyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch typed := v.(type) {
	case map[string]any:
		return typed, true
	case Resource:
		return typed, true
	default:
		return nil, false
	}
}
