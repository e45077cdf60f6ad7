package mgmt

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
)

// IdentityAPI covers user-assigned identities and their federated credentials in one subscription.
type IdentityAPI interface {
	GetIdentity(ctx context.Context, resourceGroup, name string) (armmsi.Identity, error)
	ListFederatedCredentials(ctx context.Context, resourceGroup, identityName string) ([]*armmsi.FederatedIdentityCredential, error)
	CreateFederatedCredential(ctx context.Context, resourceGroup, identityName, credentialName string, credential armmsi.FederatedIdentityCredential) error
	DeleteFederatedCredential(ctx context.Context, resourceGroup, identityName, credentialName string) error
}

// IdentityClientBuilder returns the identity client for a subscription.
// Callers pass the identity's own subscription on every call.
type IdentityClientBuilder func(subscriptionID string) (IdentityAPI, error)

// NewIdentityClientBuilder returns a builder that caches one armmsi client factory per subscription.
func NewIdentityClientBuilder(cred azcore.TokenCredential, options *arm.ClientOptions) IdentityClientBuilder {
	var mu sync.Mutex
	cache := map[string]IdentityAPI{}
	return func(subscriptionID string) (IdentityAPI, error) {
		mu.Lock()
		defer mu.Unlock()
		if client, ok := cache[subscriptionID]; ok {
			return client, nil
		}
		factory, err := armmsi.NewClientFactory(subscriptionID, cred, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create managed identity client for subscription %s: %w", subscriptionID, err)
		}
		client := &identityClient{
			identities:  factory.NewUserAssignedIdentitiesClient(),
			credentials: factory.NewFederatedIdentityCredentialsClient(),
		}
		cache[subscriptionID] = client
		return client, nil
	}
}

type identityClient struct {
	identities  *armmsi.UserAssignedIdentitiesClient
	credentials *armmsi.FederatedIdentityCredentialsClient
}

func (c *identityClient) GetIdentity(ctx context.Context, resourceGroup, name string) (armmsi.Identity, error) {
	resp, err := c.identities.Get(ctx, resourceGroup, name, nil)
	if err != nil {
		return armmsi.Identity{}, err
	}
	return resp.Identity, nil
}

func (c *identityClient) ListFederatedCredentials(ctx context.Context, resourceGroup, identityName string) ([]*armmsi.FederatedIdentityCredential, error) {
	var out []*armmsi.FederatedIdentityCredential
	pager := c.credentials.NewListPager(resourceGroup, identityName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
	}
	return out, nil
}

func (c *identityClient) CreateFederatedCredential(ctx context.Context, resourceGroup, identityName, credentialName string, credential armmsi.FederatedIdentityCredential) error {
	_, err := c.credentials.CreateOrUpdate(ctx, resourceGroup, identityName, credentialName, credential, nil)
	return err
}

func (c *identityClient) DeleteFederatedCredential(ctx context.Context, resourceGroup, identityName, credentialName string) error {
	_, err := c.credentials.Delete(ctx, resourceGroup, identityName, credentialName, nil)
	return err
}
