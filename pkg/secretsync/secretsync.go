// Package secretsync pairs an instance with a key vault through a secret provider class and the
// workload identity federation the secret sync controller needs.
package secretsync

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/federation"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/permissions"
	"go.goms.io/aio/lifecycle/pkg/resolver"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
)

// Built-in key vault roles granted to the secret sync identity.
const (
	KeyVaultSecretsUserRoleID = "4633458b-17de-408a-b874-0445c86b69e6"
	KeyVaultReaderRoleID      = "21090545-7ca7-4776-b22c-e363652d74d2"
)

const spcNamePrefix = "spc-ops-"

// EnableOptions selects the instance, identity and key vault to pair.
type EnableOptions struct {
	InstanceName   string
	ResourceGroup  string
	SubscriptionID string
	// IdentityID is the user-assigned identity the controller authenticates as.
	IdentityID string
	KeyVaultID string
	// CustomRoleID replaces the two built-in key vault roles with a single role.
	CustomRoleID        string
	SkipRoleAssignments bool
	SelfHostedIssuer    bool
	// SPCName overrides the generated secret provider class name.
	SPCName string
}

// EnableResult describes what Enable did.
type EnableResult struct {
	SecretProviderClass mgmt.Resource
	// Created is false when the custom location already had a secret provider class.
	Created        bool
	CredentialName string
	RolesAssigned  []string
	RolesUnchanged []string
}

// DisableOptions selects the instance whose secret sync is removed.
type DisableOptions struct {
	InstanceName     string
	ResourceGroup    string
	SubscriptionID   string
	SelfHostedIssuer bool
}

// DisableResult lists the removed resources.
type DisableResult struct {
	Deleted            []string
	CredentialsRemoved int
}

// Manager enables and disables secret sync for instances.
type Manager struct {
	resolver       *resolver.Resolver
	resources      mgmt.ResourceAPI
	federation     *federation.Helper
	permissions    *permissions.Manager
	identities     mgmt.IdentityClientBuilder
	vaults         mgmt.VaultClientBuilder
	logger         *logrus.Logger
	subscriptionID string
}

// New creates a secret sync manager over clients.
func New(clients *mgmt.Clients, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		resolver:       resolver.New(clients.Graph, clients.Resources, logger),
		resources:      clients.Resources,
		federation:     federation.New(clients.Identities, logger),
		permissions:    permissions.New(clients.Resources, clients.RoleAssignments, logger),
		identities:     clients.Identities,
		vaults:         clients.Vaults,
		logger:         logger,
		subscriptionID: clients.SubscriptionID,
	}
}

type target struct {
	instance       *mgmt.Instance
	customLocation *mgmt.CustomLocation
	cluster        *mgmt.ConnectedCluster
}

func (m *Manager) resolve(ctx context.Context, instanceName, resourceGroup, subscriptionID string) (*target, error) {
	if instanceName == "" || resourceGroup == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "an instance name and resource group are required")
	}
	if subscriptionID == "" {
		subscriptionID = m.subscriptionID
	}
	id := resourceid.New(subscriptionID, resourceGroup, mgmt.IoTOperationsNamespace, "instances", instanceName).String()
	inst, _, err := m.resolver.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	cl, cluster, err := m.resolver.FromCustomLocation(ctx, inst.ExtendedLocation.Name)
	if err != nil {
		return nil, err
	}
	if !cluster.IsConnected() {
		m.logger.Warnf("Connected cluster %s is not connected (status %q); the secret sync controller will not pick up changes until it reconnects",
			cluster.Name, cluster.Properties.ConnectivityStatus)
	}
	return &target{instance: inst, customLocation: cl, cluster: cluster}, nil
}

// Enable pairs the identity and key vault with the instance's custom location. It is a no-op,
// apart from role assignments, when the custom location already has a secret provider class.
func (m *Manager) Enable(ctx context.Context, opts EnableOptions) (*EnableResult, error) {
	ctx, _ = mgmt.WithCorrelation(ctx, "secretsync enable")
	if opts.IdentityID == "" || opts.KeyVaultID == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "a user-assigned identity id and a key vault id are required")
	}
	identityRID := resourceid.Parse(opts.IdentityID)
	vaultRID := resourceid.Parse(opts.KeyVaultID)
	if identityRID.Subscription == "" || identityRID.ResourceGroup == "" || identityRID.Name == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "%q is not a user-assigned identity id", opts.IdentityID)
	}
	if vaultRID.Subscription == "" || vaultRID.ResourceGroup == "" || vaultRID.Name == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "%q is not a key vault id", opts.KeyVaultID)
	}

	t, err := m.resolve(ctx, opts.InstanceName, opts.ResourceGroup, opts.SubscriptionID)
	if err != nil {
		return nil, err
	}
	issuer, err := federation.IssuerURL(t.cluster, opts.SelfHostedIssuer)
	if err != nil {
		return nil, err
	}

	identityClient, err := m.identities(identityRID.Subscription)
	if err != nil {
		return nil, err
	}
	identity, err := identityClient.GetIdentity(ctx, identityRID.ResourceGroup, identityRID.Name)
	if err != nil {
		if opserr.IsNotFound(err) {
			return nil, opserr.Wrap(opserr.KindNotFound, err, "user-assigned identity %s not found", opts.IdentityID)
		}
		return nil, fmt.Errorf("failed to get identity %s: %w", identityRID.Name, err)
	}
	if identity.Properties == nil {
		return nil, opserr.New(opserr.KindInvalidState, "identity %s has no client or principal id", identityRID.Name)
	}
	clientID := to.String(identity.Properties.ClientID)
	principalID := to.String(identity.Properties.PrincipalID)

	vaultClient, err := m.vaults(vaultRID.Subscription)
	if err != nil {
		return nil, err
	}
	vault, err := vaultClient.Get(ctx, vaultRID.ResourceGroup, vaultRID.Name, nil)
	if err != nil {
		if opserr.IsNotFound(err) {
			return nil, opserr.Wrap(opserr.KindNotFound, err, "key vault %s not found", opts.KeyVaultID)
		}
		return nil, fmt.Errorf("failed to get key vault %s: %w", vaultRID.Name, err)
	}
	tenantID := ""
	if vault.Properties != nil {
		tenantID = to.String(vault.Properties.TenantID)
	}

	result := &EnableResult{}
	if !opts.SkipRoleAssignments {
		if err := m.assignRoles(ctx, opts, principalID, result); err != nil {
			return nil, err
		}
	}

	existing, err := m.secretProviderClasses(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		m.logger.Infof("Custom location %s already has secret provider class %s; nothing to enable",
			t.customLocation.Name, resourceid.Parse(existing[0].ID()).Name)
		result.SecretProviderClass = existing[0]
		return result, nil
	}

	subject := federation.ServiceAccountSubject(t.customLocation.Properties.Namespace, federation.SecretSyncServiceAccount)
	name, _, err := m.federation.Federate(ctx, opts.IdentityID, t.cluster.Name, issuer, subject)
	if err != nil {
		return nil, err
	}
	result.CredentialName = name

	spcName := opts.SPCName
	if spcName == "" {
		spcName = SecretProviderClassName(t.instance.ID)
	}
	rid := resourceid.Parse(t.instance.ID)
	spcID := resourceid.New(rid.Subscription, rid.ResourceGroup, mgmt.SecretSyncNamespace, path.Base(mgmt.SecretProviderClassType), spcName).String()
	body := mgmt.Resource{
		"location":         t.customLocation.Location,
		"extendedLocation": map[string]any{"name": t.customLocation.ID, "type": mgmt.ExtendedLocationCustomType},
		"properties": map[string]any{
			"clientId":     clientID,
			"keyvaultName": vaultRID.Name,
			"tenantId":     tenantID,
		},
	}

	future, err := m.resources.BeginCreateOrUpdate(ctx, spcID, mgmt.SecretSyncAPIVersion, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret provider class %s: %w", spcName, err)
	}
	spc, err := future.WaitForTerminalState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret provider class %s: %w", spcName, err)
	}
	m.logger.Infof("Created secret provider class %s for key vault %s", spcName, vaultRID.Name)
	result.SecretProviderClass = spc
	result.Created = true
	return result, nil
}

func (m *Manager) assignRoles(ctx context.Context, opts EnableOptions, principalID string, result *EnableResult) error {
	roles := []string{KeyVaultSecretsUserRoleID, KeyVaultReaderRoleID}
	if opts.CustomRoleID != "" {
		roles = []string{opts.CustomRoleID}
	}

	allowed, err := m.permissions.CanApply(ctx, opts.KeyVaultID)
	if err != nil {
		return err
	}
	if !allowed {
		return opserr.New(opserr.KindInvalidState,
			"the caller may not create role assignments on key vault %s. Ask an owner to run: %s, or rerun with role assignments skipped",
			opts.KeyVaultID, remediation(principalID, roles, opts.KeyVaultID))
	}

	for _, role := range roles {
		created, err := m.permissions.ApplyRoleAssignment(ctx, opts.KeyVaultID, principalID, role, armauthorization.PrincipalTypeServicePrincipal)
		if err != nil {
			return fmt.Errorf("failed to assign role %s on key vault %s; assign it with: %s: %w",
				path.Base(role), opts.KeyVaultID, remediation(principalID, []string{role}, opts.KeyVaultID), err)
		}
		if created {
			result.RolesAssigned = append(result.RolesAssigned, role)
		} else {
			result.RolesUnchanged = append(result.RolesUnchanged, role)
		}
	}
	return nil
}

func remediation(principalID string, roles []string, scope string) string {
	commands := make([]string, 0, len(roles))
	for _, role := range roles {
		commands = append(commands, fmt.Sprintf(
			"az role assignment create --assignee-object-id %s --assignee-principal-type ServicePrincipal --role %s --scope %s",
			principalID, path.Base(role), scope))
	}
	return strings.Join(commands, " && ")
}

// Disable removes the custom location's secret provider classes, the secret syncs bound to them,
// and the aio-ssc-sa credential on each class's identity.
func (m *Manager) Disable(ctx context.Context, opts DisableOptions) (*DisableResult, error) {
	ctx, _ = mgmt.WithCorrelation(ctx, "secretsync disable")
	t, err := m.resolve(ctx, opts.InstanceName, opts.ResourceGroup, opts.SubscriptionID)
	if err != nil {
		return nil, err
	}
	spcs, err := m.secretProviderClasses(ctx, t)
	if err != nil {
		return nil, err
	}
	result := &DisableResult{}
	if len(spcs) == 0 {
		m.logger.Infof("Custom location %s has no secret provider class; nothing to disable", t.customLocation.Name)
		return result, nil
	}

	issuer, err := federation.IssuerURL(t.cluster, opts.SelfHostedIssuer)
	if err != nil {
		m.logger.Warnf("Federated credentials will not be removed: %v", err)
		issuer = ""
	}
	subject := federation.ServiceAccountSubject(t.customLocation.Properties.Namespace, federation.SecretSyncServiceAccount)

	syncs, err := m.bound(ctx, t, mgmt.SecretSyncType)
	if err != nil {
		return nil, err
	}

	for _, spc := range spcs {
		spcName := resourceid.Parse(spc.ID()).Name
		for _, s := range syncs {
			if !strings.EqualFold(s.String("properties.secretProviderClassName"), spcName) {
				continue
			}
			if err := m.delete(ctx, s.ID()); err != nil {
				return result, err
			}
			result.Deleted = append(result.Deleted, s.ID())
		}
		if err := m.delete(ctx, spc.ID()); err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, spc.ID())

		if issuer == "" {
			continue
		}
		clientID := spc.String("properties.clientId")
		if clientID == "" {
			continue
		}
		identityID, err := m.resolver.IdentityByClientID(ctx, clientID)
		if err != nil {
			m.logger.Warnf("Unable to resolve the identity of secret provider class %s: %v", spcName, err)
			continue
		}
		removed, err := m.federation.UnfederateSubject(ctx, identityID, issuer, subject)
		if err != nil {
			return result, err
		}
		result.CredentialsRemoved += removed
	}
	return result, nil
}

func (m *Manager) delete(ctx context.Context, id string) error {
	future, err := m.resources.BeginDelete(ctx, id, mgmt.SecretSyncAPIVersion)
	if err != nil {
		if opserr.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	if _, err := future.WaitForTerminalState(ctx); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	m.logger.Infof("Deleted %s", id)
	return nil
}

func (m *Manager) secretProviderClasses(ctx context.Context, t *target) ([]mgmt.Resource, error) {
	return m.bound(ctx, t, mgmt.SecretProviderClassType)
}

// bound lists a resource type in the instance's resource group and keeps the items on its custom location.
func (m *Manager) bound(ctx context.Context, t *target, resourceType string) ([]mgmt.Resource, error) {
	rid := resourceid.Parse(t.instance.ID)
	collection := resourceid.ResourceGroupID(rid.Subscription, rid.ResourceGroup) + "/providers/" + resourceType
	items, err := m.resources.List(ctx, collection, mgmt.SecretSyncAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", resourceType, err)
	}
	var out []mgmt.Resource
	for _, item := range items {
		if resourceid.Equal(item.String("extendedLocation.name"), t.customLocation.ID) {
			out = append(out, item)
		}
	}
	return out, nil
}

// SecretProviderClassName derives a stable class name from the instance id.
func SecretProviderClassName(instanceID string) string {
	sum := uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(instanceID))).String()
	return spcNamePrefix + sum[:7]
}
