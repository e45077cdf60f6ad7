package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.goms.io/aio/lifecycle/pkg/opserr"
)

// Document header values.
const (
	SchemaURL       = "https://schema.management.azure.com/schemas/2019-04-01/deploymentTemplate.json#"
	LanguageVersion = "2.0"
	ContentVersion  = "1.0.0.0"

	DefaultChunkLength = 800
	DefaultChunkSizeKB = 1024
)

// ErrBuilt is returned when a builder is modified after Get.
var ErrBuilt = errors.New("template builder is already built")

// Parameter is a template parameter declaration.
type Parameter struct {
	Type         string         `json:"type"`
	DefaultValue any            `json:"defaultValue,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Builder assembles a deployment template. It is mutable until Get is called.
type Builder struct {
	metadata       *Ordered
	parameters     *Ordered
	variables      *Ordered
	resources      *Ordered
	chunkLength    int
	chunkSizeBytes int
	built          *Template
}

// Option configures a Builder.
type Option func(*Builder)

// WithChunkLength caps the number of resources per chunked deployment.
func WithChunkLength(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.chunkLength = n
		}
	}
}

// WithChunkSizeKB caps the serialized size of a chunked deployment.
func WithChunkSizeKB(kb int) Option {
	return func(b *Builder) {
		if kb > 0 {
			b.chunkSizeBytes = kb * 1024
		}
	}
}

// NewBuilder creates an empty builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		metadata:       NewOrdered(),
		parameters:     NewOrdered(),
		variables:      NewOrdered(),
		resources:      NewOrdered(),
		chunkLength:    DefaultChunkLength,
		chunkSizeBytes: DefaultChunkSizeKB * 1024,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetMetadata sets a metadata entry.
func (b *Builder) SetMetadata(key string, value any) error {
	if b.built != nil {
		return ErrBuilt
	}
	b.metadata.Set(key, value)
	return nil
}

// SetParameter declares or replaces a parameter.
func (b *Builder) SetParameter(name string, p Parameter) error {
	if b.built != nil {
		return ErrBuilt
	}
	b.parameters.Set(name, p)
	return nil
}

// SetVariable sets a root variable.
func (b *Builder) SetVariable(name string, value any) error {
	if b.built != nil {
		return ErrBuilt
	}
	b.variables.Set(name, value)
	return nil
}

// Parameter returns a declared parameter.
func (b *Builder) Parameter(name string) (Parameter, bool) {
	v, ok := b.parameters.Get(name)
	if !ok {
		return Parameter{}, false
	}
	return v.(Parameter), true
}

// Has reports whether a root resource key exists.
func (b *Builder) Has(key string) bool {
	return b.resources.Has(key)
}

// Keys returns the root resource keys in insertion order.
func (b *Builder) Keys() []string {
	return b.resources.Keys()
}

// AddResource adds a root resource.
func (b *Builder) AddResource(key string, node Node) error {
	if b.built != nil {
		return ErrBuilt
	}
	if b.resources.Has(key) {
		return fmt.Errorf("template already has a resource %q", key)
	}
	b.resources.Set(key, node)
	return nil
}

// AddChunked fans items out over sibling deployments named <key>s_1, <key>s_2, ... Each chunk holds
// at most the configured number of items and stays under the configured serialized size. Items are
// re-keyed <key>_<n> and lose their own dependencies; ordering is carried by dependsOn, which every
// chunk receives. When chain is set each chunk also depends on the previous one.
// It returns the chunk keys in order.
func (b *Builder) AddChunked(key string, items []*ResourceContainer, chain bool, dependsOn ...string) ([]string, error) {
	if b.built != nil {
		return nil, ErrBuilt
	}
	if len(items) == 0 {
		return nil, nil
	}

	var chunks [][]*ResourceContainer
	var current []*ResourceContainer
	size := 0
	for _, item := range items {
		rendered, err := item.render(b.parameters)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(rendered)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s item: %w", key, err)
		}
		if len(current) > 0 && (len(current) >= b.chunkLength || size+len(data) > b.chunkSizeBytes) {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, item)
		size += len(data)
	}
	chunks = append(chunks, current)

	keys := make([]string, 0, len(chunks))
	offset := 0
	for i, chunk := range chunks {
		chunkKey := key + "s_" + strconv.Itoa(i+1)
		deps := append([]string(nil), dependsOn...)
		if chain && i > 0 {
			deps = append(deps, keys[i-1])
		}
		d := NewDeploymentContainer(chunkKey, deps...)

		for j, item := range chunk {
			if err := d.AddResource(key+"_"+strconv.Itoa(offset+j+1), &ResourceContainer{body: item.body}); err != nil {
				return nil, err
			}
		}
		offset += len(chunk)

		if err := b.AddResource(chunkKey, d); err != nil {
			return nil, err
		}
		keys = append(keys, chunkKey)
	}
	return keys, nil
}

// Get validates and renders the template. After Get the builder is frozen and further calls
// return the same template.
func (b *Builder) Get() (*Template, error) {
	if b.built != nil {
		return b.built, nil
	}
	if err := checkDependencies("template", b.resources); err != nil {
		return nil, err
	}
	order, err := topologicalOrder(b.resources)
	if err != nil {
		return nil, err
	}

	rendered := NewOrdered()
	for _, key := range b.resources.Keys() {
		v, _ := b.resources.Get(key)
		body, err := v.(Node).render(b.parameters)
		if err != nil {
			return nil, err
		}
		rendered.Set(key, body)
	}

	b.built = &Template{
		doc:   newDocument(b.parameters.Copy(), b.variables.Copy(), rendered, b.metadata.Copy()),
		order: order,
	}
	return b.built, nil
}

func newDocument(parameters, variables, resources, metadata *Ordered) *Ordered {
	doc := NewOrdered()
	doc.Set("$schema", SchemaURL)
	doc.Set("languageVersion", LanguageVersion)
	doc.Set("contentVersion", ContentVersion)
	if metadata != nil {
		doc.Set("metadata", metadata)
	}
	doc.Set("parameters", parameters)
	doc.Set("variables", variables)
	doc.Set("resources", resources)
	return doc
}

// checkDependencies verifies every dependsOn names a sibling key.
func checkDependencies(scope string, resources *Ordered) error {
	for _, key := range resources.Keys() {
		v, _ := resources.Get(key)
		for _, dep := range v.(Node).DependsOn() {
			if !resources.Has(dep) {
				return opserr.New(opserr.KindInvalidState, "%s: resource %q depends on unknown resource %q", scope, key, dep)
			}
		}
	}
	return nil
}

// topologicalOrder returns a dependency-respecting order of the keys, stable by insertion order.
func topologicalOrder(resources *Ordered) ([]string, error) {
	keys := resources.Keys()
	position := make(map[string]int, len(keys))
	for i, k := range keys {
		position[k] = i
	}
	indegree := make(map[string]int, len(keys))
	dependents := make(map[string][]string, len(keys))
	for _, k := range keys {
		v, _ := resources.Get(k)
		for _, dep := range v.(Node).DependsOn() {
			indegree[k]++
			dependents[dep] = append(dependents[dep], k)
		}
	}

	var ready []string
	for _, k := range keys {
		if indegree[k] == 0 {
			ready = append(ready, k)
		}
	}
	order := make([]string, 0, len(keys))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		k := ready[0]
		ready = ready[1:]
		order = append(order, k)
		for _, next := range dependents[k] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(keys) {
		var stuck []string
		for _, k := range keys {
			if indegree[k] > 0 {
				stuck = append(stuck, k)
			}
		}
		return nil, opserr.New(opserr.KindInvalidState, "dependency cycle between resources %v", stuck)
	}
	return order, nil
}
