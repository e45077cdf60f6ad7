package mgmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceLookup(t *testing.T) {
	r := Resource{
		"id": "/x",
		"properties": map[string]any{
			"version": "1.0.50",
			"nested":  Resource{"leaf": "v"},
		},
	}

	assert.Equal(t, "/x", r.ID())
	assert.Equal(t, "1.0.50", r.String("properties.version"))
	assert.Equal(t, "v", r.String("properties.nested.leaf"))
	assert.Equal(t, "", r.String("properties.missing"))
	assert.Equal(t, "", r.String("properties.version.deeper"))
	assert.NotNil(t, r.Map("properties"))
	assert.Nil(t, r.Map("properties.version"))
}

func TestResourceCloneIsDeep(t *testing.T) {
	r := Resource{
		"properties": map[string]any{"list": []any{map[string]any{"k": "v"}}},
		"tags":       []string{"a"},
	}
	c := r.Clone()
	c.Map("properties")["list"].([]any)[0].(map[string]any)["k"] = "changed"
	c["tags"].([]string)[0] = "b"

	assert.Equal(t, "v", r.Map("properties")["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, "a", r["tags"].([]string)[0])
	assert.Nil(t, Resource(nil).Clone())
}

func TestDecodeModels(t *testing.T) {
	t.Run("connected cluster", func(t *testing.T) {
		cluster, err := DecodeConnectedCluster(Resource{
			"id":   "/subscriptions/s/resourceGroups/r/providers/Microsoft.Kubernetes/connectedClusters/c1",
			"name": "c1",
			"properties": map[string]any{
				"connectivityStatus": "Connected",
				"oidcIssuerProfile":  map[string]any{"enabled": true, "issuerUrl": "https://issuer/"},
				"securityProfile":    map[string]any{"workloadIdentity": map[string]any{"enabled": true}},
			},
		})
		require.NoError(t, err)
		assert.True(t, cluster.IsConnected())
		assert.True(t, cluster.OIDCEnabled())
		assert.True(t, cluster.WorkloadIdentityEnabled())
		assert.Equal(t, "https://issuer/", cluster.Properties.OIDCIssuerProfile.IssuerURL)
	})

	t.Run("disconnected cluster without profiles", func(t *testing.T) {
		cluster, err := DecodeConnectedCluster(Resource{"properties": map[string]any{"connectivityStatus": "Offline"}})
		require.NoError(t, err)
		assert.False(t, cluster.IsConnected())
		assert.False(t, cluster.OIDCEnabled())
		assert.False(t, cluster.WorkloadIdentityEnabled())
	})

	t.Run("extension", func(t *testing.T) {
		ext, err := DecodeExtension(Resource{
			"name": "ops",
			"properties": map[string]any{
				"extensionType":         "Microsoft.IoTOperations",
				"version":               "1.0.50",
				"releaseTrain":          "stable",
				"configurationSettings": map[string]any{"a": "b"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "microsoft.iotoperations", ext.NormalizedType())
		assert.Equal(t, map[string]string{"a": "b"}, ext.Properties.ConfigurationSettings)
	})

	t.Run("instance", func(t *testing.T) {
		inst, err := DecodeInstance(Resource{
			"name":             "inst-a",
			"extendedLocation": map[string]any{"name": "/cl", "type": "CustomLocation"},
			"identity": map[string]any{
				"type":                   "UserAssigned",
				"userAssignedIdentities": map[string]any{"/b": map[string]any{}, "/a": map[string]any{}},
			},
			"properties": map[string]any{
				"version":           "1.0.50",
				"schemaRegistryRef": map[string]any{"resourceId": "/sr"},
				"features":          map[string]any{"connectors": map[string]any{"mode": "Stable"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "/cl", inst.ExtendedLocation.Name)
		assert.Equal(t, "/sr", inst.Properties.SchemaRegistryRef.ResourceID)
		assert.Equal(t, "Stable", inst.Properties.Features["connectors"].Mode)
		assert.Equal(t, []string{"/a", "/b"}, inst.UserAssignedIdentityIDs())
	})
}
