package mgmt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ConnectedCluster is the read-only projection of an Arc-connected cluster.
type ConnectedCluster struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	Location   string                     `json:"location"`
	Properties ConnectedClusterProperties `json:"properties"`
}

type ConnectedClusterProperties struct {
	ConnectivityStatus string             `json:"connectivityStatus"`
	OIDCIssuerProfile  *OIDCIssuerProfile `json:"oidcIssuerProfile"`
	SecurityProfile    *SecurityProfile   `json:"securityProfile"`
}

type OIDCIssuerProfile struct {
	Enabled             bool   `json:"enabled"`
	IssuerURL           string `json:"issuerUrl"`
	SelfHostedIssuerURL string `json:"selfHostedIssuerUrl"`
}

type SecurityProfile struct {
	WorkloadIdentity *WorkloadIdentity `json:"workloadIdentity"`
}

type WorkloadIdentity struct {
	Enabled bool `json:"enabled"`
}

// IsConnected reports whether the cluster agent is currently reachable.
func (c *ConnectedCluster) IsConnected() bool {
	return strings.EqualFold(c.Properties.ConnectivityStatus, ConnectivityStatusConnected)
}

// OIDCEnabled reports whether the OIDC issuer is on.
func (c *ConnectedCluster) OIDCEnabled() bool {
	return c.Properties.OIDCIssuerProfile != nil && c.Properties.OIDCIssuerProfile.Enabled
}

// WorkloadIdentityEnabled reports whether workload identity is on.
func (c *ConnectedCluster) WorkloadIdentityEnabled() bool {
	sp := c.Properties.SecurityProfile
	return sp != nil && sp.WorkloadIdentity != nil && sp.WorkloadIdentity.Enabled
}

// CustomLocation binds a set of cluster extensions to a namespace.
type CustomLocation struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Location   string                   `json:"location"`
	Properties CustomLocationProperties `json:"properties"`
}

type CustomLocationProperties struct {
	HostResourceID      string   `json:"hostResourceId"`
	HostType            string   `json:"hostType"`
	Namespace           string   `json:"namespace"`
	DisplayName         string   `json:"displayName"`
	ClusterExtensionIDs []string `json:"clusterExtensionIds"`
}

// Extension is a versioned agent bundle installed into a connected cluster.
type Extension struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Properties ExtensionProperties `json:"properties"`
	Identity   *ExtensionIdentity  `json:"identity"`
}

type ExtensionProperties struct {
	ExtensionType           string            `json:"extensionType"`
	Version                 string            `json:"version"`
	ReleaseTrain            string            `json:"releaseTrain"`
	AutoUpgradeMinorVersion *bool             `json:"autoUpgradeMinorVersion"`
	ConfigurationSettings   map[string]string `json:"configurationSettings"`
	ProvisioningState       string            `json:"provisioningState"`
}

type ExtensionIdentity struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principalId"`
}

// NormalizedType is the lower-cased extension type.
func (e *Extension) NormalizedType() string {
	return strings.ToLower(e.Properties.ExtensionType)
}

// Instance is the top-level IoT Operations object.
type Instance struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Location         string             `json:"location"`
	ExtendedLocation ExtendedLocation   `json:"extendedLocation"`
	Identity         *InstanceIdentity  `json:"identity"`
	Properties       InstanceProperties `json:"properties"`
}

type ExtendedLocation struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type InstanceIdentity struct {
	Type                   string         `json:"type"`
	UserAssignedIdentities map[string]any `json:"userAssignedIdentities"`
}

type InstanceProperties struct {
	Version           string                     `json:"version"`
	Description       string                     `json:"description"`
	SchemaRegistryRef SchemaRegistryRef          `json:"schemaRegistryRef"`
	Features          map[string]InstanceFeature `json:"features"`
}

type SchemaRegistryRef struct {
	ResourceID string `json:"resourceId"`
}

type InstanceFeature struct {
	Mode     string            `json:"mode"`
	Settings map[string]string `json:"settings"`
}

// UserAssignedIdentityIDs returns the identity ids sorted.
func (i *Instance) UserAssignedIdentityIDs() []string {
	if i.Identity == nil || !strings.EqualFold(i.Identity.Type, IdentityTypeUserAssigned) {
		return nil
	}
	ids := make([]string, 0, len(i.Identity.UserAssignedIdentities))
	for id := range i.Identity.UserAssignedIdentities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decode projects a generic resource body onto a typed model. Unknown fields are ignored.
func Decode(r Resource, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(r)); err != nil {
		return fmt.Errorf("failed to decode resource %s: %w", r.ID(), err)
	}
	return nil
}

// DecodeConnectedCluster is a typed shortcut over Decode.
func DecodeConnectedCluster(r Resource) (*ConnectedCluster, error) {
	out := &ConnectedCluster{}
	return out, Decode(r, out)
}

// DecodeCustomLocation is a typed shortcut over Decode.
func DecodeCustomLocation(r Resource) (*CustomLocation, error) {
	out := &CustomLocation{}
	return out, Decode(r, out)
}

// DecodeExtension is a typed shortcut over Decode.
func DecodeExtension(r Resource) (*Extension, error) {
	out := &Extension{}
	return out, Decode(r, out)
}

// DecodeInstance is a typed shortcut over Decode.
func DecodeInstance(r Resource) (*Instance, error) {
	out := &Instance{}
	return out, Decode(r, out)
}
