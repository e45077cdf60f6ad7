package targets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.goms.io/aio/lifecycle/pkg/opserr"
)

func TestMonikers(t *testing.T) {
	assert.Equal(t, []string{"platform", "acs", "secret-store", "iot-operations"}, DeployOrder)
	for _, moniker := range DeployOrder {
		got, ok := MonikerForType(ExtensionType(moniker))
		require.True(t, ok)
		assert.Equal(t, moniker, got)
	}
	got, ok := MonikerForType("Microsoft.IoTOperations")
	assert.True(t, ok)
	assert.Equal(t, MonikerIoTOperations, got)
	_, ok = MonikerForType("microsoft.flux")
	assert.False(t, ok)
}

func TestGetExtensionVersionsIsDeterministicCopy(t *testing.T) {
	first := GetExtensionVersions(false)
	first[MonikerIoTOperations] = VersionTrain{Version: "9.9.9"}
	second := GetExtensionVersions(false)
	assert.NotEqual(t, "9.9.9", second[MonikerIoTOperations].Version)
	assert.Len(t, second, 4)
	assert.NotEqual(t, GetExtensionVersions(true)[MonikerIoTOperations], second[MonikerIoTOperations])
}

func TestNewSanitizes(t *testing.T) {
	targets, err := New(Options{
		ClusterName:        "My_Cluster",
		CustomLocationName: "CL_One",
		InstanceName:       "Inst_A",
		ResourceGroup:      "rg",
		FrontendReplicas:   "3",
		BackendPartitions:  4.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "my-cluster", targets.ClusterName)
	assert.Equal(t, "cl-one", targets.CustomLocationName)
	assert.Equal(t, "inst-a", targets.InstanceName)
	assert.Equal(t, DefaultClusterNamespace, targets.ClusterNamespace)
	assert.Equal(t, 3, targets.Broker.FrontendReplicas)
	assert.Equal(t, 4, targets.Broker.BackendPartitions)
	assert.Equal(t, 2, targets.Broker.FrontendWorkers)
	assert.Equal(t, "Medium", targets.Broker.MemoryProfile)
}

func TestNewDefaults(t *testing.T) {
	targets, err := New(Options{ClusterName: "c1", ResourceGroup: "rg"})
	require.NoError(t, err)
	assert.Equal(t, "c1-ops-instance", targets.InstanceName)
	assert.Regexp(t, `^location-[0-9a-f]{5}$`, targets.CustomLocationName)

	again, err := New(Options{ClusterName: "c1", ResourceGroup: "rg"})
	require.NoError(t, err)
	assert.Equal(t, targets.CustomLocationName, again.CustomLocationName)
}

func TestNewRejectsBadCardinality(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "not a number", opts: Options{ClusterName: "c", FrontendReplicas: "many"}},
		{name: "too many partitions", opts: Options{ClusterName: "c", BackendPartitions: 17}},
		{name: "zero redundancy", opts: Options{ClusterName: "c", BackendRedundancyFactor: "0"}},
		{name: "unknown memory profile", opts: Options{ClusterName: "c", MemoryProfile: "Huge"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			require.Error(t, err)
			assert.True(t, opserr.Is(err, opserr.KindConfig))
		})
	}

	_, err := New(Options{})
	assert.True(t, opserr.Is(err, opserr.KindMissingArgument))
}

func TestParseFeatures(t *testing.T) {
	features, err := ParseFeatures([]string{
		"connectors.mode=Preview",
		"connectors.settings.preview=Enabled",
		"mqttBroker.mode=Stable",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"connectors", "mqttBroker"}, FeatureNames(features))
	assert.Equal(t, "Preview", features["connectors"].Mode)
	assert.Equal(t, map[string]string{"preview": "Enabled"}, features["connectors"].Settings)

	bad := []string{
		"connectors.mode=Beta",
		"connectors.settings.preview=On",
		"connectors=Preview",
		"connectors.settings.a.b=Enabled",
		"no-equals-sign",
	}
	for _, entry := range bad {
		_, err := ParseFeatures([]string{entry})
		require.Error(t, err, entry)
		assert.True(t, opserr.Is(err, opserr.KindConfig), entry)
	}
}

func TestInstanceParameters(t *testing.T) {
	targets, err := New(Options{
		ClusterName:      "c1",
		InstanceName:     "inst",
		Location:         "eastus",
		SchemaRegistryID: "/subscriptions/s/resourceGroups/r/providers/Microsoft.DeviceRegistry/schemaRegistries/sr",
		Features:         []string{"connectors.mode=Preview"},
	})
	require.NoError(t, err)

	params := targets.InstanceParameters()
	assert.Equal(t, "inst", params["instanceName"])
	assert.Equal(t, "eastus", params["location"])
	assert.Contains(t, params, "schemaRegistryId")
	broker := params["brokerConfig"].(map[string]any)
	assert.Equal(t, "ClusterIp", broker["serviceType"])
	features := params["features"].(map[string]any)
	assert.Equal(t, map[string]any{"mode": "Preview"}, features["connectors"])
}

func TestDesiredMergesManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	content := `versions:
  iot-operations:
    train: preview
  acs:
    version: 2.7.0
config:
  iot-operations:
    trace.enabled: "true"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	manifest, err := LoadManifest(path)
	require.NoError(t, err)

	desired, err := Desired(false, manifest)
	require.NoError(t, err)

	builtin := GetExtensionVersions(false)
	assert.Equal(t, VersionTrain{Version: builtin[MonikerIoTOperations].Version, Train: "preview"}, desired.Versions[MonikerIoTOperations])
	assert.Equal(t, VersionTrain{Version: "2.7.0", Train: builtin[MonikerACS].Train}, desired.Versions[MonikerACS])
	assert.Equal(t, builtin[MonikerPlatform], desired.Versions[MonikerPlatform])
	assert.Equal(t, map[string]string{"trace.enabled": "true"}, desired.Config[MonikerIoTOperations])
	assert.Empty(t, desired.Config[MonikerPlatform])
}

func TestLoadManifestRejectsUnknownMoniker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("versions:\n  flux:\n    version: 1.0.0\n"), 0o600))

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.True(t, opserr.Is(err, opserr.KindConfig))
}
