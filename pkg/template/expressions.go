package template

import (
	"fmt"
	"strings"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

// Parameter names shared with downstream tooling.
const (
	ParamClusterName          = "clusterName"
	ParamClusterNamespace     = "clusterNamespace"
	ParamCustomLocationName   = "customLocationName"
	ParamInstanceName         = "instanceName"
	ParamOpsExtensionName     = "opsExtensionName"
	ParamLocation             = "location"
	ParamResourceSlug         = "resourceSlug"
	ParamSchemaRegistryID     = "schemaRegistryId"
	ParamApplyRoleAssignments = "applyRoleAssignments"
)

// Param is a template expression referencing a parameter.
func Param(name string) string {
	return "[" + paramRef(name) + "]"
}

func paramRef(name string) string {
	return fmt.Sprintf("parameters('%s')", name)
}

// literal quotes s as an expression string literal.
func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatSegment escapes s for use in the format string of format().
func formatSegment(s string) string {
	s = strings.NewReplacer("{", "{{", "}", "}}").Replace(s)
	return strings.ReplaceAll(s, "'", "''")
}

// InstanceChildName names a resource nested under the instance, e.g. brokers/default.
func InstanceChildName(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = formatSegment(s)
	}
	return fmt.Sprintf("[format('{0}/%s', %s)]", strings.Join(escaped, "/"), paramRef(ParamInstanceName))
}

// ClusterIDExpr is the connected cluster id.
func ClusterIDExpr() string {
	return "[" + clusterID() + "]"
}

func clusterID() string {
	return fmt.Sprintf("resourceId(%s, %s)", literal(mgmt.ConnectedClusterType), paramRef(ParamClusterName))
}

// CustomLocationIDExpr is the custom location id.
func CustomLocationIDExpr() string {
	return fmt.Sprintf("[resourceId(%s, %s)]", literal(mgmt.CustomLocationType), paramRef(ParamCustomLocationName))
}

// ExtensionIDExpr is the id of a cluster extension. A name starting with '[' is treated as an
// expression, anything else as a literal.
func ExtensionIDExpr(name string) string {
	return fmt.Sprintf("[extensionResourceId(%s, %s, %s)]", clusterID(), literal(mgmt.ExtensionResourceType), unwrap(name))
}

// ExtensionPrincipalExpr is the principal id of a cluster extension's system-assigned identity.
func ExtensionPrincipalExpr(name string) string {
	return fmt.Sprintf("[reference(%s, %s, 'Full').identity.principalId]", unwrap(ExtensionIDExpr(name)), literal(mgmt.ExtensionAPIVersion))
}

// RoleDefinitionIDExpr is the subscription-scoped id of a built-in role definition.
func RoleDefinitionIDExpr(roleGUID string) string {
	return fmt.Sprintf("[subscriptionResourceId('Microsoft.Authorization/roleDefinitions', %s)]", literal(roleGUID))
}

// InstanceIDExpr is the instance id.
func InstanceIDExpr() string {
	return fmt.Sprintf("[resourceId(%s, %s)]", literal(mgmt.InstanceType), paramRef(ParamInstanceName))
}

// ExtendedLocation points a resource at the cloned custom location.
func ExtendedLocation() map[string]any {
	return map[string]any{
		"name": CustomLocationIDExpr(),
		"type": mgmt.ExtendedLocationCustomType,
	}
}

// unwrap turns an expression into its inner form and a literal into a quoted string.
func unwrap(s string) string {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return s[1 : len(s)-1]
	}
	return literal(s)
}
