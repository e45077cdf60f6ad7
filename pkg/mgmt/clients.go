package mgmt

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/config"
	"go.goms.io/aio/lifecycle/pkg/resourcegraph"
)

// Clients bundles every management-plane client the engines use.
// They are created once per command and reused across calls.
type Clients struct {
	Resources       ResourceAPI
	PatchResources  ResourceAPI
	Graph           resourcegraph.Querier
	Identities      IdentityClientBuilder
	RoleAssignments RoleAssignmentsClientBuilder
	Deployments     DeployerBuilder
	Vaults          VaultClientBuilder
	SubscriptionID  string
	TenantID        string
}

var clouds = map[string]cloud.Configuration{
	"AzurePublicCloud": cloud.AzurePublic,
}

// NewClients creates the SDK-backed client set for cfg.
func NewClients(cred azcore.TokenCredential, cfg *config.Config, logger *logrus.Logger) (*Clients, error) {
	options := &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Cloud: clouds[cfg.Azure.Cloud],
			Retry: policy.RetryOptions{StatusCodes: retryStatusCodes},
		},
	}

	resources, err := NewResourceClient(cred, options)
	if err != nil {
		return nil, err
	}
	patchResources, err := NewNoRetryResourceClient(cred, options)
	if err != nil {
		return nil, err
	}
	graph, err := resourcegraph.NewClient(cred, options, []string{cfg.GetSubscriptionID()}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}

	return &Clients{
		Resources:       resources,
		PatchResources:  patchResources,
		Graph:           graph,
		Identities:      NewIdentityClientBuilder(cred, options),
		RoleAssignments: NewRoleAssignmentsClientBuilder(cred, options),
		Deployments:     NewDeployerBuilder(cred, options),
		Vaults:          NewVaultClientBuilder(cred, options),
		SubscriptionID:  cfg.GetSubscriptionID(),
		TenantID:        cfg.GetTenantID(),
	}, nil
}
