package resourceid

import (
	"regexp"
	"strings"
)

// armIDPattern mirrors the hierarchical ARM identifier layout. The resource group segment is matched
// case-insensitively so lowercase "resourcegroups" ids are accepted on read. An id may stop right
// after its provider namespace.
var armIDPattern = regexp.MustCompile(`(?i)^/subscriptions/(?P<subscription>[^/]*)(/resourceGroups/(?P<resource_group>[^/]*))?(/providers/(?P<namespace>[^/]*)(/(?P<type>[^/]*)/(?P<name>[^/]*)(?P<children>.*))?)?`)

// childPattern matches one child segment, optionally introduced by its own provider namespace.
var childPattern = regexp.MustCompile(`(?i)(/providers/(?P<child_namespace>[^/]*))?/(?P<child_type>[^/]*)/(?P<child_name>[^/]*)`)

// namePattern is the accepted shape of a resource name.
var namePattern = regexp.MustCompile(`^[^<>%&:\?/]{1,260}$`)

// ChildSegment is one nested {namespace?, type, name} step below the root resource.
type ChildSegment struct {
	Namespace string
	Type      string
	Name      string
}

// ResourceID is a decoded hierarchical cloud resource identifier.
// Provider namespace and type compare case-insensitively; names keep their original case.
type ResourceID struct {
	Subscription  string
	ResourceGroup string
	Namespace     string
	Type          string
	Name          string
	Children      []ChildSegment
}

// Parse decodes id. Empty input returns the zero value; input that does not look like an ARM id
// returns a ResourceID carrying only Name.
func Parse(id string) ResourceID {
	if id == "" {
		return ResourceID{}
	}

	match := armIDPattern.FindStringSubmatch(id)
	if match == nil {
		return ResourceID{Name: id}
	}

	groups := make(map[string]string, len(match))
	for i, name := range armIDPattern.SubexpNames() {
		if name != "" {
			groups[name] = match[i]
		}
	}

	rid := ResourceID{
		Subscription:  groups["subscription"],
		ResourceGroup: groups["resource_group"],
		Namespace:     groups["namespace"],
		Type:          groups["type"],
		Name:          groups["name"],
	}

	for _, child := range childPattern.FindAllStringSubmatch(groups["children"], -1) {
		rid.Children = append(rid.Children, ChildSegment{
			Namespace: child[2],
			Type:      child[3],
			Name:      child[4],
		})
	}
	return rid
}

// New builds a root resource id.
func New(subscription, resourceGroup, namespace, resourceType, name string) ResourceID {
	return ResourceID{
		Subscription:  subscription,
		ResourceGroup: resourceGroup,
		Namespace:     namespace,
		Type:          resourceType,
		Name:          name,
	}
}

// ResourceGroupID returns the canonical id of a resource group.
func ResourceGroupID(subscription, resourceGroup string) string {
	return Format(ResourceID{Subscription: subscription, ResourceGroup: resourceGroup})
}

// Format encodes rid greedily from the left and stops at the first missing required key.
// It never fails; an id without a subscription formats to the empty string.
func Format(rid ResourceID) string {
	if rid.Subscription == "" {
		return ""
	}

	parts := []string{"/subscriptions/" + rid.Subscription}
	if rid.ResourceGroup != "" {
		parts = append(parts, "resourceGroups/"+rid.ResourceGroup)
	}
	if rid.Namespace == "" {
		return strings.Join(parts, "/")
	}
	parts = append(parts, "providers/"+rid.Namespace)
	if rid.Type == "" || rid.Name == "" {
		return strings.Join(parts, "/")
	}
	parts = append(parts, rid.Type+"/"+rid.Name)

	for _, child := range rid.Children {
		if child.Namespace != "" {
			parts = append(parts, "providers/"+child.Namespace)
		}
		if child.Type == "" || child.Name == "" {
			break
		}
		parts = append(parts, child.Type+"/"+child.Name)
	}
	return strings.Join(parts, "/")
}

// String implements fmt.Stringer.
func (r ResourceID) String() string {
	return Format(r)
}

// IsValidID reports whether s survives a parse/format roundtrip, compared case-insensitively.
func IsValidID(s string) bool {
	if s == "" {
		return false
	}
	return strings.EqualFold(Format(Parse(s)), s)
}

// IsValidName reports whether s is an acceptable resource name.
func IsValidName(s string) bool {
	return namePattern.MatchString(s)
}

// IsEmpty reports whether the id carries no information at all.
func (r ResourceID) IsEmpty() bool {
	return r.Subscription == "" && r.ResourceGroup == "" && r.Namespace == "" &&
		r.Type == "" && r.Name == "" && len(r.Children) == 0
}

// LastChildNum is the depth of the deepest child segment, zero for root resources.
func (r ResourceID) LastChildNum() int {
	return len(r.Children)
}

// ResourceNamespace is the provider namespace of the root resource.
func (r ResourceID) ResourceNamespace() string {
	return r.Namespace
}

// ResourceType is the type of the last child, or of the root when there are no children.
func (r ResourceID) ResourceType() string {
	if n := len(r.Children); n > 0 {
		return r.Children[n-1].Type
	}
	return r.Type
}

// ResourceName is the name of the last child, or of the root when there are no children.
func (r ResourceID) ResourceName() string {
	if n := len(r.Children); n > 0 {
		return r.Children[n-1].Name
	}
	return r.Name
}

// ResourceParent is the slash-joined chain of {type}/{name} and providers/{ns} fragments leading to
// the terminal child. It is empty for root resources.
func (r ResourceID) ResourceParent() string {
	if len(r.Children) == 0 {
		return ""
	}
	parts := []string{r.Type, r.Name}
	for _, child := range r.Children[:len(r.Children)-1] {
		if child.Namespace != "" {
			parts = append(parts, "providers", child.Namespace)
		}
		parts = append(parts, child.Type, child.Name)
	}
	return strings.Join(parts, "/")
}

// FullType returns the qualified type, e.g. Microsoft.IoTOperations/instances/brokers.
func (r ResourceID) FullType() string {
	parts := []string{r.Namespace, r.Type}
	for _, child := range r.Children {
		parts = append(parts, child.Type)
	}
	return strings.Join(parts, "/")
}

// Child returns a copy of r with one more child segment in r's provider namespace.
func (r ResourceID) Child(childType, name string) ResourceID {
	out := r
	out.Children = append(append([]ChildSegment(nil), r.Children...), ChildSegment{Type: childType, Name: name})
	return out
}

// Extension returns the id of a resource of another provider attached to r,
// e.g. {cluster}/providers/Microsoft.KubernetesConfiguration/extensions/{name}.
func (r ResourceID) Extension(namespace, extType, name string) ResourceID {
	out := r
	out.Children = append(append([]ChildSegment(nil), r.Children...), ChildSegment{Namespace: namespace, Type: extType, Name: name})
	return out
}

// Parent drops the last child segment. Root resources return themselves.
func (r ResourceID) Parent() ResourceID {
	if len(r.Children) == 0 {
		return r
	}
	out := r
	out.Children = append([]ChildSegment(nil), r.Children[:len(r.Children)-1]...)
	return out
}

// EqualFold compares ids case-insensitively on every segment.
func (r ResourceID) EqualFold(o ResourceID) bool {
	return strings.EqualFold(Format(r), Format(o))
}

// SameType reports whether r's qualified type matches fullType, ignoring case.
func (r ResourceID) SameType(fullType string) bool {
	return strings.EqualFold(r.FullType(), fullType)
}

// Equal compares two raw id strings the way the management plane does: case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "/"), strings.TrimSuffix(b, "/"))
}
