package mgmt

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
)

// VaultAPI is the key vault lookup used by secret sync.
type VaultAPI interface {
	Get(ctx context.Context, resourceGroupName string, vaultName string, options *armkeyvault.VaultsClientGetOptions) (armkeyvault.VaultsClientGetResponse, error)
}

// VaultClientBuilder returns the vaults client for a subscription.
type VaultClientBuilder func(subscriptionID string) (VaultAPI, error)

// NewVaultClientBuilder builds armkeyvault clients on demand.
func NewVaultClientBuilder(cred azcore.TokenCredential, options *arm.ClientOptions) VaultClientBuilder {
	return func(subscriptionID string) (VaultAPI, error) {
		client, err := armkeyvault.NewVaultsClient(subscriptionID, cred, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create key vault client: %w", err)
		}
		return client, nil
	}
}
