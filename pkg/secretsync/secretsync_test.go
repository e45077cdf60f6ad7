package secretsync

import (
	"context"
	"net/http"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/mgmt/mgmttest"
	"go.goms.io/aio/lifecycle/pkg/opserr"
)

const (
	sub        = "00000000-0000-0000-0000-000000000001"
	rgID       = "/subscriptions/" + sub + "/resourceGroups/edge"
	clusterID  = rgID + "/providers/Microsoft.Kubernetes/connectedClusters/c1"
	clID       = rgID + "/providers/Microsoft.ExtendedLocation/customLocations/cl1"
	instanceID = rgID + "/providers/Microsoft.IoTOperations/instances/inst-a"
	identityID = rgID + "/providers/Microsoft.ManagedIdentity/userAssignedIdentities/uai-ssc"
	vaultID    = "/subscriptions/" + sub + "/resourceGroups/vaults/providers/Microsoft.KeyVault/vaults/kv"
	issuer     = "https://issuer.example/c1"
	subject    = "system:serviceaccount:azure-iot-operations:aio-ssc-sa"
)

type fixture struct {
	manager *Manager
	store   *mgmttest.ResourceStore
	ids     *mgmttest.IdentityStore
	roles   *mgmttest.RoleAssignmentStore
	graph   *mgmttest.Graph
}

func newFixture(t *testing.T, oidc bool, canAssign bool) *fixture {
	t.Helper()
	store := mgmttest.NewResourceStore()
	store.Put(
		mgmt.Resource{"id": clusterID, "name": "c1", "properties": map[string]any{
			"connectivityStatus": "Connected",
			"oidcIssuerProfile":  map[string]any{"enabled": oidc, "issuerUrl": issuer},
			"securityProfile":    map[string]any{"workloadIdentity": map[string]any{"enabled": oidc}},
		}},
		mgmt.Resource{"id": clID, "name": "cl1", "location": "eastus", "properties": map[string]any{
			"hostResourceId": clusterID, "namespace": "azure-iot-operations",
		}},
		mgmt.Resource{"id": instanceID, "name": "inst-a", "location": "eastus",
			"extendedLocation": map[string]any{"name": clID, "type": "CustomLocation"},
			"properties":       map[string]any{"version": "1.1.19"}},
	)
	actions := []any{"*/read"}
	if canAssign {
		actions = append(actions, "Microsoft.Authorization/roleAssignments/write")
	}
	store.Put(mgmt.Resource{"id": vaultID + "/providers/Microsoft.Authorization/permissions/0", "actions": actions})

	ids := mgmttest.NewIdentityStore()
	ids.AddIdentity(sub, "edge", "uai-ssc", "client-ssc", "principal-ssc", "tenant")
	vaults := mgmttest.NewVaults()
	vaults.Add(vaultID, "kv", "tenant-kv")
	roles := mgmttest.NewRoleAssignmentStore()
	graph := &mgmttest.Graph{}

	logger, _ := logtest.NewNullLogger()
	clients := &mgmt.Clients{
		Resources:       store,
		Graph:           graph,
		Identities:      ids.Builder(),
		RoleAssignments: roles.Builder(),
		Vaults:          vaults.Builder(),
		SubscriptionID:  sub,
	}
	return &fixture{manager: New(clients, logger), store: store, ids: ids, roles: roles, graph: graph}
}

func enableOptions() EnableOptions {
	return EnableOptions{InstanceName: "inst-a", ResourceGroup: "edge", IdentityID: identityID, KeyVaultID: vaultID}
}

func TestEnable(t *testing.T) {
	f := newFixture(t, true, true)
	result, err := f.manager.Enable(context.Background(), enableOptions())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, []string{KeyVaultSecretsUserRoleID, KeyVaultReaderRoleID}, result.RolesAssigned)

	creates := f.roles.Creates()
	require.Len(t, creates, 2)
	for _, c := range creates {
		assert.Equal(t, vaultID, c.Scope)
		assert.Equal(t, "principal-ssc", c.PrincipalID)
		assert.Equal(t, "ServicePrincipal", c.PrincipalType)
	}

	creds := f.ids.Creates()
	require.Len(t, creds, 1)
	assert.Equal(t, issuer, creds[0].Issuer)
	assert.Equal(t, subject, creds[0].Subject)
	assert.Equal(t, result.CredentialName, creds[0].Name)

	puts := f.store.Calls(http.MethodPut)
	require.Len(t, puts, 1)
	assert.Equal(t, mgmt.SecretSyncAPIVersion, puts[0].APIVersion)
	assert.True(t, strings.HasSuffix(puts[0].ID, "/azureKeyVaultSecretProviderClasses/"+SecretProviderClassName(instanceID)))
	assert.Equal(t, "iot ops secretsync enable", puts[0].Correlation.Command)
	assert.Equal(t, "client-ssc", puts[0].Body.String("properties.clientId"))
	assert.Equal(t, "kv", puts[0].Body.String("properties.keyvaultName"))
	assert.Equal(t, "tenant-kv", puts[0].Body.String("properties.tenantId"))
	assert.Equal(t, clID, puts[0].Body.String("extendedLocation.name"))
}

func TestEnableCorrelatesEveryWrite(t *testing.T) {
	f := newFixture(t, true, true)
	_, err := f.manager.Enable(context.Background(), enableOptions())
	require.NoError(t, err)

	puts := f.store.Calls(http.MethodPut)
	require.Len(t, puts, 1)
	corr := puts[0].Correlation
	assert.NotEmpty(t, corr.ID)

	creates := f.roles.Creates()
	require.Len(t, creates, 2)
	for _, c := range creates {
		assert.Equal(t, corr, c.Correlation, "role assignment %s", c.RoleDefinitionID)
	}
	creds := f.ids.Creates()
	require.Len(t, creds, 1)
	assert.Equal(t, corr, creds[0].Correlation)
}

func TestEnableIsNoopWhenClassExists(t *testing.T) {
	f := newFixture(t, true, true)
	_, err := f.manager.Enable(context.Background(), enableOptions())
	require.NoError(t, err)

	result, err := f.manager.Enable(context.Background(), enableOptions())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.NotNil(t, result.SecretProviderClass)
	assert.Equal(t, []string{KeyVaultSecretsUserRoleID, KeyVaultReaderRoleID}, result.RolesUnchanged)
	assert.Len(t, f.roles.Creates(), 2)
	assert.Len(t, f.ids.Creates(), 1)
	assert.Len(t, f.store.Calls(http.MethodPut), 1)
}

func TestEnableCustomRoleAndSkip(t *testing.T) {
	f := newFixture(t, true, true)
	opts := enableOptions()
	opts.CustomRoleID = "99999999-9999-9999-9999-999999999999"
	_, err := f.manager.Enable(context.Background(), opts)
	require.NoError(t, err)
	creates := f.roles.Creates()
	require.Len(t, creates, 1)
	assert.True(t, strings.HasSuffix(creates[0].RoleDefinitionID, opts.CustomRoleID))

	f = newFixture(t, true, false)
	opts = enableOptions()
	opts.SkipRoleAssignments = true
	_, err = f.manager.Enable(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, f.roles.Creates())
}

func TestEnableWithoutRoleAssignmentPermission(t *testing.T) {
	f := newFixture(t, true, false)
	_, err := f.manager.Enable(context.Background(), enableOptions())
	require.Error(t, err)
	assert.True(t, opserr.Is(err, opserr.KindInvalidState))
	assert.Contains(t, err.Error(), "az role assignment create")
	assert.Empty(t, f.roles.Creates())
	assert.Empty(t, f.store.Writes())
}

func TestEnableRoleAssignmentFailureIsFatal(t *testing.T) {
	f := newFixture(t, true, true)
	f.roles.FailCreate(mgmttest.HTTPError(http.StatusForbidden))
	_, err := f.manager.Enable(context.Background(), enableOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--scope "+vaultID)
	status, ok := opserr.HTTPStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Empty(t, f.ids.Creates())
}

func TestEnableRequiresWorkloadIdentity(t *testing.T) {
	f := newFixture(t, false, true)
	_, err := f.manager.Enable(context.Background(), enableOptions())
	require.Error(t, err)
	assert.True(t, opserr.Is(err, opserr.KindInvalidState))
	assert.Contains(t, err.Error(), "c1")
	assert.Contains(t, err.Error(), "az connectedk8s update")
}

func TestEnableMissingInputs(t *testing.T) {
	f := newFixture(t, true, true)
	tests := []struct {
		name   string
		mutate func(*EnableOptions)
		kind   opserr.Kind
	}{
		{"no identity", func(o *EnableOptions) { o.IdentityID = "" }, opserr.KindMissingArgument},
		{"bad key vault id", func(o *EnableOptions) { o.KeyVaultID = "kv" }, opserr.KindMissingArgument},
		{"no instance", func(o *EnableOptions) { o.InstanceName = "" }, opserr.KindMissingArgument},
		{"unknown identity", func(o *EnableOptions) { o.IdentityID = rgID + "/providers/Microsoft.ManagedIdentity/userAssignedIdentities/nope" }, opserr.KindNotFound},
		{"unknown vault", func(o *EnableOptions) { o.KeyVaultID = strings.Replace(vaultID, "/kv", "/nope", 1) }, opserr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := enableOptions()
			tt.mutate(&opts)
			_, err := f.manager.Enable(context.Background(), opts)
			assert.True(t, opserr.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestDisable(t *testing.T) {
	f := newFixture(t, true, true)
	enabled, err := f.manager.Enable(context.Background(), enableOptions())
	require.NoError(t, err)
	spcName := SecretProviderClassName(instanceID)
	syncID := rgID + "/providers/Microsoft.SecretSyncController/secretSyncs/sync1"
	f.store.Put(mgmt.Resource{
		"id":               syncID,
		"name":             "sync1",
		"extendedLocation": map[string]any{"name": clID, "type": "CustomLocation"},
		"properties":       map[string]any{"secretProviderClassName": spcName},
	})
	f.graph.On("userAssignedIdentities", "client-ssc").Return(map[string]any{"id": identityID})

	result, err := f.manager.Disable(context.Background(), DisableOptions{InstanceName: "inst-a", ResourceGroup: "edge"})
	require.NoError(t, err)
	require.Len(t, result.Deleted, 2)
	assert.Equal(t, syncID, result.Deleted[0])
	assert.Equal(t, 1, result.CredentialsRemoved)
	require.Len(t, f.ids.Deletes(), 1)
	assert.Equal(t, enabled.CredentialName, f.ids.Deletes()[0].Name)

	deletes := f.store.Calls(http.MethodDelete)
	require.Len(t, deletes, 2)
	assert.Equal(t, "iot ops secretsync disable", deletes[0].Correlation.Command)
	assert.Equal(t, deletes[0].Correlation, f.ids.Deletes()[0].Correlation)

	again, err := f.manager.Disable(context.Background(), DisableOptions{InstanceName: "inst-a", ResourceGroup: "edge"})
	require.NoError(t, err)
	assert.Empty(t, again.Deleted)
}

func TestSecretProviderClassName(t *testing.T) {
	name := SecretProviderClassName(instanceID)
	assert.True(t, strings.HasPrefix(name, "spc-ops-"))
	assert.Len(t, name, len("spc-ops-")+7)
	assert.Equal(t, name, SecretProviderClassName(strings.ToUpper(instanceID)))
}
