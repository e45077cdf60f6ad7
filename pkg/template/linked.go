package template

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

// liftedKinds are the inner resource kinds whose deployments move to linked templates.
var liftedKinds = map[string]bool{
	kindOf(mgmt.AssetType):                true,
	kindOf(mgmt.AssetEndpointProfileType): true,
}

// LinkedTemplate is a nested deployment lifted out of the root document.
type LinkedTemplate struct {
	Key       string
	FileName  string
	Path      string
	DependsOn []string

	template   *Ordered
	parameters map[string]any
}

// JSON returns the indented inner template.
func (l LinkedTemplate) JSON() ([]byte, error) {
	return json.MarshalIndent(l.template, "", "    ")
}

// Content decodes the inner template into plain maps.
func (l LinkedTemplate) Content() (map[string]any, error) {
	return decode(l.template)
}

// ParameterNames returns the root parameters the linked template is bound to, sorted.
func (l LinkedTemplate) ParameterNames() []string {
	names := make([]string, 0, len(l.parameters))
	for name := range l.parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Linked is a template split into a root document and lifted sibling templates.
type Linked struct {
	// Root references each lifted template through templateLink.
	Root *Ordered
	// DeployRoot is the root without the lifted deployments, for deploying them one by one.
	DeployRoot *Ordered
	Templates  []LinkedTemplate
}

// RootJSON returns the indented root document.
func (l *Linked) RootJSON() ([]byte, error) {
	return json.MarshalIndent(l.Root, "", "    ")
}

// DeployRootContent decodes DeployRoot into plain maps.
func (l *Linked) DeployRootContent() (map[string]any, error) {
	return decode(l.DeployRoot)
}

// Link lifts every root nested deployment whose resources are all assets or all asset endpoint
// profiles into a sibling template named <kind>_<n>.json under dir. The root references it by
// relativePath, or by uri under baseURI when one is given. The template itself is not modified.
func (t *Template) Link(dir, baseURI string) *Linked {
	resources := t.resources()
	root := NewOrdered()
	deployRoot := NewOrdered()
	lifted := map[string]bool{}
	counters := map[string]int{}
	var templates []LinkedTemplate

	for _, key := range resources.Keys() {
		v, _ := resources.Get(key)
		body := v.(map[string]any)

		kind, inner, bindings, ok := liftable(body)
		if !ok {
			root.Set(key, body)
			continue
		}

		counters[kind]++
		fileName := fmt.Sprintf("%s_%d.json", kind, counters[kind])
		relPath := path.Join(dir, fileName)
		link := map[string]any{"relativePath": relPath}
		if baseURI != "" {
			link = map[string]any{"uri": strings.TrimSuffix(baseURI, "/") + "/" + relPath}
		}

		linkedBody := shallowCopy(body)
		props := shallowCopy(body["properties"].(map[string]any))
		delete(props, "template")
		props["templateLink"] = link
		linkedBody["properties"] = props
		root.Set(key, linkedBody)

		lifted[key] = true
		templates = append(templates, LinkedTemplate{
			Key:        key,
			FileName:   fileName,
			Path:       relPath,
			DependsOn:  stringSlice(body["dependsOn"]),
			template:   inner,
			parameters: bindings,
		})
	}

	for _, key := range resources.Keys() {
		if lifted[key] {
			continue
		}
		v, _ := resources.Get(key)
		body := v.(map[string]any)
		deps := stringSlice(body["dependsOn"])
		var kept []string
		for _, dep := range deps {
			if !lifted[dep] {
				kept = append(kept, dep)
			}
		}
		if len(kept) != len(deps) {
			body = shallowCopy(body)
			if len(kept) == 0 {
				delete(body, "dependsOn")
			} else {
				body["dependsOn"] = kept
			}
		}
		deployRoot.Set(key, body)
	}

	rootDoc := t.doc.Copy()
	rootDoc.Set("resources", root)
	deployDoc := t.doc.Copy()
	deployDoc.Set("resources", deployRoot)

	return &Linked{Root: rootDoc, DeployRoot: deployDoc, Templates: templates}
}

// liftable reports whether body is a nested deployment of a single lifted kind.
func liftable(body map[string]any) (string, *Ordered, map[string]any, bool) {
	if body["type"] != mgmt.DeploymentType {
		return "", nil, nil, false
	}
	props, ok := body["properties"].(map[string]any)
	if !ok {
		return "", nil, nil, false
	}
	inner, ok := props["template"].(*Ordered)
	if !ok {
		return "", nil, nil, false
	}
	v, ok := inner.Get("resources")
	if !ok {
		return "", nil, nil, false
	}
	resources := v.(*Ordered)
	if resources.Len() == 0 {
		return "", nil, nil, false
	}

	kind := ""
	for _, key := range resources.Keys() {
		r, _ := resources.Get(key)
		t, _ := r.(map[string]any)["type"].(string)
		k := kindOf(t)
		if !liftedKinds[k] || (kind != "" && k != kind) {
			return "", nil, nil, false
		}
		kind = k
	}
	bindings, _ := props["parameters"].(map[string]any)
	return kind, inner, bindings, true
}

func shallowCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
