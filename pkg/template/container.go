package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

// prunedProperties are read-only status fields the control plane reports but never accepts.
var prunedProperties = []string{"provisioningState", "currentVersion", "statuses", "status"}

var parameterRefPattern = regexp.MustCompile(`parameters\('([A-Za-z0-9_]+)'\)`)

// Node is a rendered entry of a template resources map.
type Node interface {
	DependsOn() []string
	render(params *Ordered) (map[string]any, error)
}

// Prune returns a deep copy of body without server-populated fields.
func Prune(body map[string]any) map[string]any {
	out := mgmt.DeepCopyMap(body)
	delete(out, "id")
	delete(out, "systemData")
	if props, ok := out["properties"].(map[string]any); ok {
		for _, key := range prunedProperties {
			delete(props, key)
		}
	}
	if identity, ok := out["identity"].(map[string]any); ok {
		delete(identity, "principalId")
		if uai, ok := identity["userAssignedIdentities"].(map[string]any); ok {
			for id := range uai {
				uai[id] = map[string]any{}
			}
		}
	}
	return out
}

// ResourceContainer is a single resource fragment.
type ResourceContainer struct {
	body      map[string]any
	dependsOn []string
}

// NewResourceContainer wraps body, which must carry type and apiVersion.
func NewResourceContainer(body map[string]any, dependsOn ...string) *ResourceContainer {
	return &ResourceContainer{body: mgmt.DeepCopyMap(body), dependsOn: dedupe(dependsOn)}
}

// FromResource prepares a live resource for a template: the body is pruned, name is set, and
// location and extended location are pointed at parameters when present.
func FromResource(src mgmt.Resource, apiVersion, name string, dependsOn ...string) *ResourceContainer {
	body := Prune(src)
	body["type"] = src.Type()
	body["apiVersion"] = apiVersion
	body["name"] = name
	if _, ok := body["location"]; ok {
		body["location"] = Param(ParamLocation)
	}
	if _, ok := body["extendedLocation"]; ok {
		body["extendedLocation"] = ExtendedLocation()
	}
	return &ResourceContainer{body: body, dependsOn: dedupe(dependsOn)}
}

// Type returns the resource type.
func (r *ResourceContainer) Type() string {
	t, _ := r.body["type"].(string)
	return t
}

// Body returns a copy of the unpruned body.
func (r *ResourceContainer) Body() map[string]any {
	return mgmt.DeepCopyMap(r.body)
}

// Set replaces a top-level field.
func (r *ResourceContainer) Set(key string, value any) {
	r.body[key] = value
}

// AddDependency adds symbolic keys this resource depends on.
func (r *ResourceContainer) AddDependency(keys ...string) {
	r.dependsOn = dedupe(append(r.dependsOn, keys...))
}

// DependsOn returns the symbolic keys this resource depends on.
func (r *ResourceContainer) DependsOn() []string {
	return append([]string(nil), r.dependsOn...)
}

func (r *ResourceContainer) render(*Ordered) (map[string]any, error) {
	out := Prune(r.body)
	if len(r.dependsOn) > 0 {
		out["dependsOn"] = r.DependsOn()
	} else {
		delete(out, "dependsOn")
	}
	return out, nil
}

// DeploymentContainer is a nested deployment. Root parameters referenced by its inner resources
// are re-declared in the inner template and bound from the outer one when rendered.
type DeploymentContainer struct {
	Name          string
	APIVersion    string
	ResourceGroup string
	// Subscription is emitted as subscriptionId.
	Subscription string
	Condition    string

	dependsOn []string
	resources *Ordered
	bound     *Ordered
}

// boundParameter is an inner parameter whose value is evaluated in the outer scope.
type boundParameter struct {
	param Parameter
	value any
}

// NewDeploymentContainer creates an empty nested deployment.
func NewDeploymentContainer(name string, dependsOn ...string) *DeploymentContainer {
	return &DeploymentContainer{
		Name:       name,
		APIVersion: mgmt.DeploymentAPIVersion,
		dependsOn:  dedupe(dependsOn),
		resources:  NewOrdered(),
		bound:      NewOrdered(),
	}
}

// Bind declares an inner parameter name bound to value. value is evaluated by the outer template,
// so expressions such as resourceId() resolve against the parent deployment's scope.
func (d *DeploymentContainer) Bind(name string, p Parameter, value any) {
	d.bound.Set(name, boundParameter{param: p, value: value})
}

// AddResource adds an inner node under key.
func (d *DeploymentContainer) AddResource(key string, node Node) error {
	if d.resources.Has(key) {
		return fmt.Errorf("deployment %s already has a resource %q", d.Name, key)
	}
	d.resources.Set(key, node)
	return nil
}

// AddDependency adds symbolic keys this deployment depends on.
func (d *DeploymentContainer) AddDependency(keys ...string) {
	d.dependsOn = dedupe(append(d.dependsOn, keys...))
}

// DependsOn returns the symbolic keys this deployment depends on.
func (d *DeploymentContainer) DependsOn() []string {
	return append([]string(nil), d.dependsOn...)
}

// Len returns the number of inner resources.
func (d *DeploymentContainer) Len() int {
	return d.resources.Len()
}

func (d *DeploymentContainer) render(params *Ordered) (map[string]any, error) {
	if err := checkDependencies(d.Name, d.resources); err != nil {
		return nil, err
	}
	if _, err := topologicalOrder(d.resources); err != nil {
		return nil, err
	}
	inner := NewOrdered()
	for _, key := range d.resources.Keys() {
		v, _ := d.resources.Get(key)
		rendered, err := v.(Node).render(params)
		if err != nil {
			return nil, err
		}
		inner.Set(key, rendered)
	}

	referenced, err := referencedParameters(inner)
	if err != nil {
		return nil, err
	}
	declared := NewOrdered()
	bindings := map[string]any{}
	for _, name := range referenced {
		if b, ok := d.bound.Get(name); ok {
			declared.Set(name, b.(boundParameter).param)
			bindings[name] = map[string]any{"value": b.(boundParameter).value}
			continue
		}
		p, ok := params.Get(name)
		if !ok {
			return nil, fmt.Errorf("deployment %s references undeclared parameter %q", d.Name, name)
		}
		declared.Set(name, Parameter{Type: p.(Parameter).Type})
		bindings[name] = map[string]any{"value": Param(name)}
	}

	out := map[string]any{
		"type":       mgmt.DeploymentType,
		"apiVersion": d.APIVersion,
		"name":       d.Name,
		"properties": map[string]any{
			"mode":                        "Incremental",
			"expressionEvaluationOptions": map[string]any{"scope": "inner"},
			"parameters":                  bindings,
			"template":                    newDocument(declared, NewOrdered(), inner, nil),
		},
	}
	if d.Subscription != "" {
		out["subscriptionId"] = d.Subscription
	}
	if d.ResourceGroup != "" {
		out["resourceGroup"] = d.ResourceGroup
	}
	if d.Condition != "" {
		out["condition"] = d.Condition
	}
	if len(d.dependsOn) > 0 {
		out["dependsOn"] = d.DependsOn()
	}
	return out, nil
}

// referencedParameters lists the parameters the rendered resources use, sorted.
func referencedParameters(resources *Ordered) ([]string, error) {
	data, err := json.Marshal(resources)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize resources: %w", err)
	}
	seen := map[string]bool{}
	for _, m := range parameterRefPattern.FindAllStringSubmatch(string(data), -1) {
		seen[m[1]] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func dedupe(keys []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// kindOf is the lower-cased last segment of a resource type, e.g. "assets".
func kindOf(resourceType string) string {
	return strings.ToLower(resourceType[strings.LastIndex(resourceType, "/")+1:])
}
