package template

import (
	"encoding/json"
	"fmt"
)

// Template is a rendered, immutable deployment document.
type Template struct {
	doc   *Ordered
	order []string
}

// MarshalJSON implements json.Marshaler.
func (t *Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.doc)
}

// JSON returns the indented document.
func (t *Template) JSON() ([]byte, error) {
	return json.MarshalIndent(t.doc, "", "    ")
}

// Content decodes the document into plain maps.
func (t *Template) Content() (map[string]any, error) {
	return decode(t.doc)
}

// ResourceKeys returns the root resource keys in insertion order.
func (t *Template) ResourceKeys() []string {
	return t.resources().Keys()
}

// Order returns the root resource keys in dependency order.
func (t *Template) Order() []string {
	return append([]string(nil), t.order...)
}

// Resource returns a rendered root resource.
func (t *Template) Resource(key string) (map[string]any, bool) {
	v, ok := t.resources().Get(key)
	if !ok {
		return nil, false
	}
	return v.(map[string]any), true
}

// Parameters returns the parameter declarations.
func (t *Template) Parameters() map[string]Parameter {
	out := map[string]Parameter{}
	params := t.section("parameters")
	for _, k := range params.Keys() {
		v, _ := params.Get(k)
		out[k] = v.(Parameter)
	}
	return out
}

// DefaultValues returns the default value of every parameter that has one.
func (t *Template) DefaultValues() map[string]any {
	out := map[string]any{}
	for name, p := range t.Parameters() {
		if p.DefaultValue != nil {
			out[name] = p.DefaultValue
		}
	}
	return out
}

// Metadata returns the metadata entries.
func (t *Template) Metadata() map[string]any {
	out := map[string]any{}
	md := t.section("metadata")
	for _, k := range md.Keys() {
		out[k], _ = md.Get(k)
	}
	return out
}

func (t *Template) resources() *Ordered {
	return t.section("resources")
}

func (t *Template) section(name string) *Ordered {
	v, ok := t.doc.Get(name)
	if !ok {
		return NewOrdered()
	}
	return v.(*Ordered)
}

func decode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize template: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	return out, nil
}
