package template

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
)

const srID = "/subscriptions/sub-1/resourceGroups/sr-rg/providers/Microsoft.DeviceRegistry/schemaRegistries/sr"

func newStandardBuilder(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	b := NewBuilder(opts...)
	require.NoError(t, b.SetStandardParameters(Defaults{
		ClusterNamespace:   "azure-iot-operations",
		CustomLocationName: "cl",
		InstanceName:       "inst-a",
		OpsExtensionName:   "aio-ext",
		Location:           "eastus",
		SchemaRegistryID:   srID,
	}))
	return b
}

func asset(i int) *ResourceContainer {
	return FromResource(mgmt.Resource{
		"id":               fmt.Sprintf("/subscriptions/s/resourceGroups/r/providers/Microsoft.DeviceRegistry/assets/a%d", i),
		"type":             mgmt.AssetType,
		"location":         "eastus",
		"extendedLocation": map[string]any{"name": "/subscriptions/s/.../cl", "type": "CustomLocation"},
		"properties":       map[string]any{"assetEndpointProfileRef": "aep", "provisioningState": "Succeeded"},
	}, mgmt.DeviceRegistryAPIVersion, fmt.Sprintf("a%d", i))
}

func TestDocumentHeaderAndParameters(t *testing.T) {
	b := newStandardBuilder(t)
	require.NoError(t, b.SetMetadata("opsCliVersion", "1.0.0"))
	tmpl, err := b.Get()
	require.NoError(t, err)

	content, err := tmpl.Content()
	require.NoError(t, err)
	assert.Equal(t, SchemaURL, content["$schema"])
	assert.Equal(t, "2.0", content["languageVersion"])
	assert.Equal(t, "1.0.0.0", content["contentVersion"])
	assert.Equal(t, map[string]any{"opsCliVersion": "1.0.0"}, content["metadata"])

	params := tmpl.Parameters()
	assert.Nil(t, params[ParamClusterName].DefaultValue, "clusterName is required")
	assert.Equal(t, "inst-a", params[ParamInstanceName].DefaultValue)
	assert.Equal(t, true, params[ParamApplyRoleAssignments].DefaultValue)
	assert.Equal(t, "[take(uniqueString(resourceGroup().id, parameters('clusterName'), parameters('clusterNamespace')), 5)]",
		params[ParamResourceSlug].DefaultValue)
	if diff := cmp.Diff(map[string]any{"name": "sr", "resourceGroup": "sr-rg", "subscription": "sub-1"}, params[ParamSchemaRegistryID].DefaultValue); diff != "" {
		t.Errorf("schemaRegistryId default mismatch (-want +got):\n%s", diff)
	}

	data, err := tmpl.JSON()
	require.NoError(t, err)
	keys := []string{`"$schema"`, `"languageVersion"`, `"contentVersion"`, `"metadata"`, `"parameters"`, `"variables"`, `"resources"`}
	last := -1
	for _, k := range keys {
		idx := strings.Index(string(data), k)
		require.Greater(t, idx, last, "key %s out of order", k)
		last = idx
	}
}

func TestFromResourcePrunesAndRewrites(t *testing.T) {
	src := mgmt.Resource{
		"id":               "/subscriptions/s/resourceGroups/r/providers/Microsoft.IoTOperations/instances/inst-a",
		"name":             "inst-a",
		"type":             mgmt.InstanceType,
		"location":         "westus",
		"systemData":       map[string]any{"createdBy": "someone"},
		"extendedLocation": map[string]any{"name": "/subscriptions/s/.../customLocations/cl", "type": "CustomLocation"},
		"identity": map[string]any{
			"type":        "UserAssigned",
			"principalId": "p",
			"userAssignedIdentities": map[string]any{
				"/subscriptions/s/resourceGroups/r/providers/Microsoft.ManagedIdentity/userAssignedIdentities/u": map[string]any{"clientId": "c", "principalId": "p"},
			},
		},
		"properties": map[string]any{
			"version":           "1.0.50",
			"provisioningState": "Succeeded",
			"currentVersion":    "1.0.50",
			"status":            map[string]any{"runtimeStatus": "ok"},
			"statuses":          []any{},
			"description":       "kept",
		},
	}
	r := FromResource(src, "2025-04-01", Param(ParamInstanceName), "customLocation")
	rendered, err := r.render(NewOrdered())
	require.NoError(t, err)

	want := map[string]any{
		"type":             mgmt.InstanceType,
		"apiVersion":       "2025-04-01",
		"name":             "[parameters('instanceName')]",
		"location":         "[parameters('location')]",
		"extendedLocation": map[string]any{"name": "[resourceId('Microsoft.ExtendedLocation/customLocations', parameters('customLocationName'))]", "type": "CustomLocation"},
		"identity": map[string]any{
			"type": "UserAssigned",
			"userAssignedIdentities": map[string]any{
				"/subscriptions/s/resourceGroups/r/providers/Microsoft.ManagedIdentity/userAssignedIdentities/u": map[string]any{},
			},
		},
		"properties": map[string]any{"version": "1.0.50", "description": "kept"},
		"dependsOn":  []string{"customLocation"},
	}
	if diff := cmp.Diff(want, rendered); diff != "" {
		t.Errorf("rendered resource mismatch (-want +got):\n%s", diff)
	}
	_, stillThere := src["systemData"]
	assert.True(t, stillThere, "source must not be mutated")
}

func TestExpressions(t *testing.T) {
	assert.Equal(t, "[format('{0}/brokers/default', parameters('instanceName'))]", InstanceChildName("brokers", "default"))
	assert.Equal(t, "[format('{0}/x/it''s{{1}}', parameters('instanceName'))]", InstanceChildName("x", "it's{1}"))
	assert.Equal(t,
		"[extensionResourceId(resourceId('Microsoft.Kubernetes/connectedClusters', parameters('clusterName')), 'Microsoft.KubernetesConfiguration/extensions', parameters('opsExtensionName'))]",
		ExtensionIDExpr(Param(ParamOpsExtensionName)))
	assert.Equal(t,
		"[extensionResourceId(resourceId('Microsoft.Kubernetes/connectedClusters', parameters('clusterName')), 'Microsoft.KubernetesConfiguration/extensions', 'platform')]",
		ExtensionIDExpr("platform"))
}

func TestResourceOrderAndDependencies(t *testing.T) {
	b := newStandardBuilder(t)
	require.NoError(t, b.AddResource("instance", NewResourceContainer(map[string]any{"type": mgmt.InstanceType}, "customLocation")))
	require.NoError(t, b.AddResource("customLocation", NewResourceContainer(map[string]any{"type": mgmt.CustomLocationType})))
	require.NoError(t, b.AddResource("broker", NewResourceContainer(map[string]any{"type": mgmt.BrokerType}, "instance")))
	require.Error(t, b.AddResource("broker", NewResourceContainer(map[string]any{})), "duplicate keys are rejected")

	tmpl, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"instance", "customLocation", "broker"}, tmpl.ResourceKeys())
	assert.Equal(t, []string{"customLocation", "instance", "broker"}, tmpl.Order())

	again, err := b.Get()
	require.NoError(t, err)
	assert.Same(t, tmpl, again)
	assert.ErrorIs(t, b.AddResource("late", NewResourceContainer(map[string]any{})), ErrBuilt)
}

func TestGetRejectsCyclesAndDanglingReferences(t *testing.T) {
	cyclic := newStandardBuilder(t)
	require.NoError(t, cyclic.AddResource("a", NewResourceContainer(map[string]any{}, "b")))
	require.NoError(t, cyclic.AddResource("b", NewResourceContainer(map[string]any{}, "a")))
	_, err := cyclic.Get()
	require.Error(t, err)
	assert.True(t, opserr.Is(err, opserr.KindInvalidState))
	assert.Contains(t, err.Error(), "cycle")

	dangling := newStandardBuilder(t)
	require.NoError(t, dangling.AddResource("a", NewResourceContainer(map[string]any{}, "missing")))
	_, err = dangling.Get()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestDeploymentRedeclaresReferencedParameters(t *testing.T) {
	b := newStandardBuilder(t)
	d := NewDeploymentContainer("endpoints_1")
	require.NoError(t, d.AddResource("endpoint_1", NewResourceContainer(map[string]any{
		"type":             mgmt.DataflowEndpointType,
		"name":             InstanceChildName("dataflowEndpoints", "default"),
		"extendedLocation": ExtendedLocation(),
	})))
	require.NoError(t, b.AddResource("endpoints_1", d))

	tmpl, err := b.Get()
	require.NoError(t, err)
	content, err := tmpl.Content()
	require.NoError(t, err)

	deployment := content["resources"].(map[string]any)["endpoints_1"].(map[string]any)
	assert.Equal(t, mgmt.DeploymentType, deployment["type"])
	props := deployment["properties"].(map[string]any)
	wantBindings := map[string]any{
		"customLocationName": map[string]any{"value": "[parameters('customLocationName')]"},
		"instanceName":       map[string]any{"value": "[parameters('instanceName')]"},
	}
	if diff := cmp.Diff(wantBindings, props["parameters"]); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	inner := props["template"].(map[string]any)
	wantDeclared := map[string]any{
		"customLocationName": map[string]any{"type": "string"},
		"instanceName":       map[string]any{"type": "string"},
	}
	if diff := cmp.Diff(wantDeclared, inner["parameters"]); diff != "" {
		t.Errorf("inner parameters mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "2.0", inner["languageVersion"])
}

func TestDeploymentUndeclaredParameter(t *testing.T) {
	b := NewBuilder()
	d := NewDeploymentContainer("x")
	require.NoError(t, d.AddResource("r", NewResourceContainer(map[string]any{"name": Param("nope")})))
	require.NoError(t, b.AddResource("x", d))
	_, err := b.Get()
	assert.Error(t, err)
}

func TestDeploymentConditionAndResourceGroup(t *testing.T) {
	b := newStandardBuilder(t)
	d := NewDeploymentContainer("schemaRegistryRoleAssignment", "instance")
	d.ResourceGroup = "[parameters('schemaRegistryId').resourceGroup]"
	d.Subscription = "[parameters('schemaRegistryId').subscription]"
	d.Condition = Param(ParamApplyRoleAssignments)
	require.NoError(t, d.AddResource("ra", NewResourceContainer(map[string]any{"type": mgmt.RoleAssignmentType})))
	require.NoError(t, b.AddResource("instance", NewResourceContainer(map[string]any{"type": mgmt.InstanceType})))
	require.NoError(t, b.AddResource("schemaRegistryRoleAssignment", d))

	tmpl, err := b.Get()
	require.NoError(t, err)
	body, ok := tmpl.Resource("schemaRegistryRoleAssignment")
	require.True(t, ok)
	assert.Equal(t, "[parameters('applyRoleAssignments')]", body["condition"])
	assert.Equal(t, "[parameters('schemaRegistryId').resourceGroup]", body["resourceGroup"])
	assert.Equal(t, "[parameters('schemaRegistryId').subscription]", body["subscriptionId"])
	assert.Equal(t, []string{"instance"}, body["dependsOn"])
}

func TestDeploymentBindsOuterScopeParameters(t *testing.T) {
	b := newStandardBuilder(t)
	d := NewDeploymentContainer("ra")
	principal := ExtensionPrincipalExpr(Param(ParamOpsExtensionName))
	d.Bind("principalId", Parameter{Type: "string"}, principal)
	require.NoError(t, d.AddResource("r", NewResourceContainer(map[string]any{
		"type":       mgmt.RoleAssignmentType,
		"name":       Param(ParamClusterName),
		"properties": map[string]any{"principalId": Param("principalId")},
	})))
	require.NoError(t, b.AddResource("ra", d))

	tmpl, err := b.Get()
	require.NoError(t, err)
	body, ok := tmpl.Resource("ra")
	require.True(t, ok)
	props := body["properties"].(map[string]any)
	want := map[string]any{
		"clusterName": map[string]any{"value": Param(ParamClusterName)},
		"principalId": map[string]any{"value": principal},
	}
	if diff := cmp.Diff(want, props["parameters"]); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	inner := props["template"].(*Ordered)
	declared, _ := inner.Get("parameters")
	assert.Equal(t, []string{"clusterName", "principalId"}, declared.(*Ordered).Keys())
	_, isRoot := tmpl.Parameters()["principalId"]
	assert.False(t, isRoot)
}

func TestAddChunkedByCount(t *testing.T) {
	b := newStandardBuilder(t)
	require.NoError(t, b.AddResource("instance", NewResourceContainer(map[string]any{"type": mgmt.InstanceType})))
	items := make([]*ResourceContainer, 1200)
	for i := range items {
		items[i] = asset(i)
	}
	keys, err := b.AddChunked("asset", items, false, "instance")
	require.NoError(t, err)
	assert.Equal(t, []string{"assets_1", "assets_2"}, keys)

	tmpl, err := b.Get()
	require.NoError(t, err)
	content, err := tmpl.Content()
	require.NoError(t, err)
	resources := content["resources"].(map[string]any)
	counts := map[string]int{}
	for _, k := range keys {
		inner := resources[k].(map[string]any)["properties"].(map[string]any)["template"].(map[string]any)["resources"].(map[string]any)
		counts[k] = len(inner)
		assert.Equal(t, []any{"instance"}, resources[k].(map[string]any)["dependsOn"])
	}
	assert.Equal(t, map[string]int{"assets_1": 800, "assets_2": 400}, counts)
	_, ok := resources["assets_2"].(map[string]any)["properties"].(map[string]any)["template"].(map[string]any)["resources"].(map[string]any)["asset_801"]
	assert.True(t, ok, "items are numbered across chunks")
}

func TestAddChunkedBySizeAndChain(t *testing.T) {
	b := newStandardBuilder(t, WithChunkSizeKB(1))
	items := make([]*ResourceContainer, 10)
	for i := range items {
		items[i] = asset(i)
	}
	keys, err := b.AddChunked("asset", items, true)
	require.NoError(t, err)
	require.Greater(t, len(keys), 1)

	tmpl, err := b.Get()
	require.NoError(t, err)
	for i := 1; i < len(keys); i++ {
		body, _ := tmpl.Resource(keys[i])
		assert.Equal(t, []string{keys[i-1]}, body["dependsOn"])
	}
	assert.Equal(t, keys, tmpl.Order())
}

func TestLinkLiftsAssetDeployments(t *testing.T) {
	build := func() *Template {
		b := newStandardBuilder(t, WithChunkLength(800))
		require.NoError(t, b.AddResource("instance", NewResourceContainer(map[string]any{"type": mgmt.InstanceType})))
		d := NewDeploymentContainer("endpoints_1", "instance")
		require.NoError(t, d.AddResource("e", NewResourceContainer(map[string]any{"type": mgmt.DataflowEndpointType})))
		require.NoError(t, b.AddResource("endpoints_1", d))
		items := make([]*ResourceContainer, 1200)
		for i := range items {
			items[i] = asset(i)
		}
		_, err := b.AddChunked("asset", items, false, "instance")
		require.NoError(t, err)
		require.NoError(t, b.AddResource("after", NewResourceContainer(map[string]any{"type": "x/y"}, "assets_1")))
		tmpl, err := b.Get()
		require.NoError(t, err)
		return tmpl
	}

	t.Run("relative path", func(t *testing.T) {
		tmpl := build()
		before, err := tmpl.JSON()
		require.NoError(t, err)

		linked := tmpl.Link("clone_inst_a_aio", "")
		require.Len(t, linked.Templates, 2)
		assert.Equal(t, "assets_1.json", linked.Templates[0].FileName)
		assert.Equal(t, "clone_inst_a_aio/assets_2.json", linked.Templates[1].Path)
		assert.Equal(t, []string{"instance"}, linked.Templates[0].DependsOn)
		assert.Equal(t, []string{"customLocationName", "location"}, linked.Templates[0].ParameterNames())

		root, err := decode(linked.Root)
		require.NoError(t, err)
		props := root["resources"].(map[string]any)["assets_1"].(map[string]any)["properties"].(map[string]any)
		assert.Equal(t, map[string]any{"relativePath": "clone_inst_a_aio/assets_1.json"}, props["templateLink"])
		_, hasTemplate := props["template"]
		assert.False(t, hasTemplate)

		inner, err := linked.Templates[1].Content()
		require.NoError(t, err)
		assert.Len(t, inner["resources"], 400)

		deploy, err := decode(linked.DeployRoot)
		require.NoError(t, err)
		deployResources := deploy["resources"].(map[string]any)
		assert.NotContains(t, deployResources, "assets_1")
		assert.Contains(t, deployResources, "endpoints_1")
		_, hasDeps := deployResources["after"].(map[string]any)["dependsOn"]
		assert.False(t, hasDeps, "references to lifted deployments are dropped")

		after, err := tmpl.JSON()
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after), "linking must not mutate the template")
	})

	t.Run("base uri", func(t *testing.T) {
		linked := build().Link("clone_inst_a_aio", "https://store.example/templates/")
		root, err := decode(linked.Root)
		require.NoError(t, err)
		props := root["resources"].(map[string]any)["assets_2"].(map[string]any)["properties"].(map[string]any)
		assert.Equal(t, map[string]any{"uri": "https://store.example/templates/clone_inst_a_aio/assets_2.json"}, props["templateLink"])
	})
}

func TestTemplateJSONIsStable(t *testing.T) {
	render := func() []byte {
		b := newStandardBuilder(t)
		require.NoError(t, b.AddResource("instance", FromResource(mgmt.Resource{
			"type":       mgmt.InstanceType,
			"location":   "eastus",
			"properties": map[string]any{"b": 1, "a": 2},
		}, "2025-04-01", Param(ParamInstanceName))))
		tmpl, err := b.Get()
		require.NoError(t, err)
		data, err := json.Marshal(tmpl)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, string(render()), string(render()))
}

func TestOrdered(t *testing.T) {
	o := NewOrdered()
	o.Set("b", 1)
	o.Set("a", 2)
	o.Set("b", 3)
	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"b":3,"a":2}`, string(data))

	o.Delete("b")
	assert.Equal(t, []string{"a"}, o.Keys())
}

func TestPrincipalAndRoleExpressions(t *testing.T) {
	assert.Equal(t,
		"[reference(extensionResourceId(resourceId('Microsoft.Kubernetes/connectedClusters', parameters('clusterName')), 'Microsoft.KubernetesConfiguration/extensions', parameters('opsExtensionName')), '2023-05-01', 'Full').identity.principalId]",
		ExtensionPrincipalExpr(Param(ParamOpsExtensionName)))
	assert.Equal(t,
		"[subscriptionResourceId('Microsoft.Authorization/roleDefinitions', 'b24988ac-6180-42a0-ab88-20f7382dd24c')]",
		RoleDefinitionIDExpr("b24988ac-6180-42a0-ab88-20f7382dd24c"))
}
