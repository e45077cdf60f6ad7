package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/mgmt/mgmttest"
	"go.goms.io/aio/lifecycle/pkg/opserr"
)

const (
	rgID      = "/subscriptions/00000000-0000-0000-0000-000000000001/resourceGroups/edge"
	clusterID = rgID + "/providers/Microsoft.Kubernetes/connectedClusters/c1"

	clusterType        = "type =~ 'Microsoft.Kubernetes/connectedClusters'"
	customLocationType = "type =~ 'Microsoft.ExtendedLocation/customLocations'"
)

func clusterRow(id, name, status string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       name,
		"type":       "microsoft.kubernetes/connectedclusters",
		"properties": map[string]any{"connectivityStatus": status},
	}
}

func customLocationRow(name string, extensionIDs ...string) map[string]any {
	ids := make([]any, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		ids = append(ids, id)
	}
	return map[string]any{
		"id":   rgID + "/providers/Microsoft.ExtendedLocation/customLocations/" + name,
		"name": name,
		"properties": map[string]any{
			"hostResourceId":      clusterID,
			"namespace":           "azure-iot-operations",
			"clusterExtensionIds": ids,
		},
	}
}

func extension(name, extensionType string) mgmt.Resource {
	return mgmt.Resource{
		"id":         clusterID + "/providers/Microsoft.KubernetesConfiguration/extensions/" + name,
		"name":       name,
		"properties": map[string]any{"extensionType": extensionType, "version": "1.0.9"},
	}
}

type fixture struct {
	graph     *mgmttest.Graph
	resources *mgmttest.ResourceStore
	hook      *logtest.Hook
	resolver  *Resolver
}

func newFixture() *fixture {
	logger, hook := logtest.NewNullLogger()
	f := &fixture{
		graph:     &mgmttest.Graph{},
		resources: mgmttest.NewResourceStore(),
		hook:      hook,
	}
	f.resources.Put(
		extension("aio", "microsoft.iotoperations"),
		extension("platform", "microsoft.iotoperations.platform"),
	)
	f.resolver = New(f.graph, f.resources, logger)
	return f
}

func aioExtensionID() string      { return extension("aio", "").ID() }
func platformExtensionID() string { return extension("platform", "").ID() }

func TestResolveRequiresAName(t *testing.T) {
	f := newFixture()
	_, err := f.resolver.Resolve(context.Background(), Target{ResourceGroup: "edge"})
	assert.True(t, opserr.Is(err, opserr.KindMissingArgument))
	assert.Empty(t, f.graph.Queries())
}

func TestResolveClusterNotFound(t *testing.T) {
	f := newFixture()
	_, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "missing"})
	assert.True(t, opserr.Is(err, opserr.KindNotFound))
}

func TestResolveAmbiguousClusterWithoutResourceGroup(t *testing.T) {
	f := newFixture()
	f.graph.On(clusterType, "name =~ 'c1'").Return(
		clusterRow(clusterID, "c1", "Connected"),
		clusterRow("/subscriptions/x/resourceGroups/other/providers/Microsoft.Kubernetes/connectedClusters/c1", "c1", "Connected"),
	)
	_, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1"})
	assert.True(t, opserr.Is(err, opserr.KindAmbiguous))
}

func TestResolvePicksTheCustomLocationWithTheExtension(t *testing.T) {
	f := newFixture()
	f.graph.On(clusterType, "name =~ 'c1'").Return(clusterRow(clusterID, "c1", "Connected"))
	f.graph.On(customLocationType, "hostResourceId =~ '"+clusterID+"'").Return(
		customLocationRow("cl-platform", platformExtensionID()),
		customLocationRow("cl-aio", platformExtensionID(), aioExtensionID()),
	)

	got, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1", ResourceGroup: "edge"})
	require.NoError(t, err)
	assert.Equal(t, "cl-aio", got.CustomLocation.Name)
	assert.Equal(t, ExtendedLocation{Type: "CustomLocation", Name: got.CustomLocation.ID}, got.ExtendedLocation)
	assert.Equal(t, clusterID, got.Cluster.ID)
	assert.Len(t, got.Extensions, 2)

	again, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1", ResourceGroup: "edge"})
	require.NoError(t, err)
	assert.Equal(t, got.ExtendedLocation, again.ExtendedLocation, "resolution is deterministic")
	assert.Contains(t, f.graph.Queries()[0], "| where resourceGroup =~ 'edge'")
}

func TestResolveTwoUsableCustomLocationsIsAmbiguous(t *testing.T) {
	f := newFixture()
	f.graph.On(clusterType, "name =~ 'c1'").Return(clusterRow(clusterID, "c1", "Connected"))
	f.graph.On(customLocationType).Return(
		customLocationRow("cl-a", aioExtensionID()),
		customLocationRow("cl-b", aioExtensionID()),
	)
	_, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1"})
	assert.True(t, opserr.Is(err, opserr.KindAmbiguous))
}

func TestResolveWithoutUsableCustomLocation(t *testing.T) {
	f := newFixture()
	f.graph.On(clusterType, "name =~ 'c1'").Return(clusterRow(clusterID, "c1", "Connected"))
	f.graph.On(customLocationType).Return(customLocationRow("cl-platform", platformExtensionID()))

	_, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1"})
	require.Error(t, err)
	assert.True(t, opserr.Is(err, opserr.KindMissingExtension))
	assert.False(t, opserr.Is(err, opserr.KindInvalidState))
	assert.Contains(t, err.Error(), "microsoft.iotoperations")
}

func TestResolveByCustomLocationNameFindsHostCluster(t *testing.T) {
	f := newFixture()
	f.graph.On(customLocationType, "name =~ 'cl-aio'").Return(customLocationRow("cl-aio", aioExtensionID()))
	f.graph.On(clusterType, "id =~ '"+clusterID+"'").Return(clusterRow(clusterID, "c1", "Connected"))

	got, err := f.resolver.Resolve(context.Background(), Target{CustomLocationName: "cl-aio"})
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Cluster.Name)
}

func TestResolveByCustomLocationNameMissingHost(t *testing.T) {
	f := newFixture()
	f.graph.On(customLocationType, "name =~ 'cl-aio'").Return(customLocationRow("cl-aio", aioExtensionID()))

	_, err := f.resolver.Resolve(context.Background(), Target{CustomLocationName: "cl-aio"})
	assert.True(t, opserr.Is(err, opserr.KindInvalidState))
}

func TestResolveSkipsDanglingExtensionIDs(t *testing.T) {
	f := newFixture()
	f.graph.On(clusterType).Return(clusterRow(clusterID, "c1", "Connected"))
	f.graph.On(customLocationType).Return(customLocationRow("cl-aio", clusterID+"/providers/Microsoft.KubernetesConfiguration/extensions/gone", aioExtensionID()))

	got, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1"})
	require.NoError(t, err)
	assert.Len(t, got.Extensions, 1)
}

func TestResolveWarnsWhenClusterDisconnected(t *testing.T) {
	f := newFixture()
	f.graph.On(clusterType).Return(clusterRow(clusterID, "c1", "Offline"))
	f.graph.On(customLocationType).Return(customLocationRow("cl-aio", aioExtensionID()))

	_, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1"})
	require.NoError(t, err)

	var warned bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "not connected") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestResolveSurfacesGraphFailure(t *testing.T) {
	f := newFixture()
	boom := errors.New("throttled")
	f.graph.On(clusterType).Fail(boom)

	_, err := f.resolver.Resolve(context.Background(), Target{ClusterName: "c1"})
	assert.ErrorIs(t, err, boom)
}

func TestCheckConnectivityNeverFails(t *testing.T) {
	f := newFixture()
	assert.False(t, f.resolver.CheckConnectivity(context.Background(), rgID+"/providers/Microsoft.ExtendedLocation/customLocations/nope"))
	require.NotEmpty(t, f.hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)

	f.resources.Put(mgmt.Resource(customLocationRow("cl-aio", aioExtensionID())), mgmt.Resource(clusterRow(clusterID, "c1", "Connected")))
	assert.True(t, f.resolver.CheckConnectivity(context.Background(), rgID+"/providers/Microsoft.ExtendedLocation/customLocations/cl-aio"))
}

func TestListExtensions(t *testing.T) {
	f := newFixture()
	extensions, err := f.resolver.ListExtensions(context.Background(), clusterID)
	require.NoError(t, err)
	require.Len(t, extensions, 2)
	assert.Equal(t, "microsoft.iotoperations", extensions[0].NormalizedType())
}

func TestKQLQuote(t *testing.T) {
	assert.Equal(t, `'it\'s'`, kqlQuote("it's"))
	q := newQuery(mgmt.CustomLocationType).where("name", "cl").where("resourceGroup", "")
	assert.Equal(t, "Resources\n| where type =~ 'Microsoft.ExtendedLocation/customLocations'\n| where name =~ 'cl'\n"+
		"| project id, name, type, resourceGroup, location, extendedLocation, properties", q.String())
}

func TestGetInstance(t *testing.T) {
	f := newFixture()
	instanceID := rgID + "/providers/Microsoft.IoTOperations/instances/inst-a"
	f.resources.Put(mgmt.Resource{
		"id":         instanceID,
		"name":       "inst-a",
		"properties": map[string]any{"version": "1.0.50"},
	})

	inst, raw, err := f.resolver.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.50", inst.Properties.Version)
	assert.Equal(t, "inst-a", raw.Name())

	_, _, err = f.resolver.GetInstance(context.Background(), rgID+"/providers/Microsoft.IoTOperations/instances/missing")
	assert.True(t, opserr.Is(err, opserr.KindNotFound))
}

func TestIdentityByClientID(t *testing.T) {
	f := newFixture()
	uaID := rgID + "/providers/Microsoft.ManagedIdentity/userAssignedIdentities/ua1"
	f.graph.On("userAssignedIdentities", "properties.clientId =~ 'client-1'").Return(map[string]any{"id": uaID})
	f.graph.On("userAssignedIdentities", "properties.clientId =~ 'client-2'").Return(map[string]any{"id": uaID}, map[string]any{"id": uaID + "x"})

	got, err := f.resolver.IdentityByClientID(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, uaID, got)

	_, err = f.resolver.IdentityByClientID(context.Background(), "client-2")
	assert.True(t, opserr.Is(err, opserr.KindAmbiguous))
	_, err = f.resolver.IdentityByClientID(context.Background(), "client-3")
	assert.True(t, opserr.Is(err, opserr.KindNotFound))
	_, err = f.resolver.IdentityByClientID(context.Background(), "")
	assert.True(t, opserr.Is(err, opserr.KindMissingArgument))
}
