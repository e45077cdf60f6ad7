package template

import (
	"fmt"

	"go.goms.io/aio/lifecycle/pkg/resourceid"
)

// ResourceSlugExpr derives a short stable suffix from the resource group and cluster coordinates.
var ResourceSlugExpr = fmt.Sprintf("[take(uniqueString(resourceGroup().id, %s, %s), 5)]",
	paramRef(ParamClusterName), paramRef(ParamClusterNamespace))

// Defaults seeds the standard parameters from a live instance.
type Defaults struct {
	ClusterNamespace   string
	CustomLocationName string
	InstanceName       string
	OpsExtensionName   string
	Location           string
	SchemaRegistryID   string
}

// SetStandardParameters declares the parameter surface every cloned template exposes.
// clusterName has no default and must be supplied at deployment time.
func (b *Builder) SetStandardParameters(d Defaults) error {
	sr := resourceid.Parse(d.SchemaRegistryID)
	params := []struct {
		name string
		p    Parameter
	}{
		{ParamClusterName, Parameter{Type: "string"}},
		{ParamClusterNamespace, Parameter{Type: "string", DefaultValue: d.ClusterNamespace}},
		{ParamCustomLocationName, Parameter{Type: "string", DefaultValue: d.CustomLocationName}},
		{ParamInstanceName, Parameter{Type: "string", DefaultValue: d.InstanceName}},
		{ParamOpsExtensionName, Parameter{Type: "string", DefaultValue: d.OpsExtensionName}},
		{ParamLocation, Parameter{Type: "string", DefaultValue: d.Location}},
		{ParamResourceSlug, Parameter{Type: "string", DefaultValue: ResourceSlugExpr}},
		{ParamSchemaRegistryID, Parameter{Type: "object", DefaultValue: map[string]any{
			"name":          sr.Name,
			"resourceGroup": sr.ResourceGroup,
			"subscription":  sr.Subscription,
		}}},
		{ParamApplyRoleAssignments, Parameter{Type: "bool", DefaultValue: true}},
	}
	for _, entry := range params {
		if err := b.SetParameter(entry.name, entry.p); err != nil {
			return err
		}
	}
	return nil
}

// SchemaRegistryIDExpr rebuilds the schema registry id from the schemaRegistryId parameter.
func SchemaRegistryIDExpr() string {
	p := paramRef(ParamSchemaRegistryID)
	return fmt.Sprintf("[resourceId(%s.subscription, %s.resourceGroup, 'Microsoft.DeviceRegistry/schemaRegistries', %s.name)]", p, p, p)
}
