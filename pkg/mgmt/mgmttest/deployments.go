package mgmttest

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/keyvault/armkeyvault"
	"github.com/Azure/go-autorest/autorest/to"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

// DeploymentCall records one template deployment.
type DeploymentCall struct {
	Subscription  string
	ResourceGroup string
	Name          string
	Template      map[string]any
	Parameters    map[string]any
	Correlation   mgmt.Correlation
}

// Deployments records template deployments and can fail a named one.
type Deployments struct {
	mu       sync.Mutex
	calls    []DeploymentCall
	failures map[string]error
}

// NewDeployments returns an empty recorder.
func NewDeployments() *Deployments {
	return &Deployments{failures: map[string]error{}}
}

// FailOn makes the deployment with the given name fail.
func (d *Deployments) FailOn(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[name] = err
}

// Calls returns the recorded deployments in order.
func (d *Deployments) Calls() []DeploymentCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeploymentCall(nil), d.calls...)
}

// Builder returns an mgmt.DeployerBuilder bound to this recorder.
func (d *Deployments) Builder() mgmt.DeployerBuilder {
	return func(subscriptionID string) (mgmt.Deployer, error) {
		return &deployerView{recorder: d, subscription: subscriptionID}, nil
	}
}

type deployerView struct {
	recorder     *Deployments
	subscription string
}

func (v *deployerView) Deploy(ctx context.Context, resourceGroup, deploymentName string, template map[string]any, parameters map[string]any) error {
	v.recorder.mu.Lock()
	defer v.recorder.mu.Unlock()
	corr, _ := mgmt.CorrelationFromContext(ctx)
	v.recorder.calls = append(v.recorder.calls, DeploymentCall{
		Correlation:   corr,
		Subscription:  v.subscription,
		ResourceGroup: resourceGroup,
		Name:          deploymentName,
		Template:      template,
		Parameters:    parameters,
	})
	if err, ok := v.recorder.failures[deploymentName]; ok {
		return err
	}
	return nil
}

// Vaults fakes key vault lookups.
type Vaults struct {
	mu     sync.Mutex
	vaults map[string]armkeyvault.Vault
}

// NewVaults returns an empty fake.
func NewVaults() *Vaults {
	return &Vaults{vaults: map[string]armkeyvault.Vault{}}
}

// Add seeds a vault.
func (v *Vaults) Add(id, name, tenantID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vaults[strings.ToLower(name)] = armkeyvault.Vault{
		ID:         to.StringPtr(id),
		Name:       to.StringPtr(name),
		Properties: &armkeyvault.VaultProperties{TenantID: to.StringPtr(tenantID)},
	}
}

// Builder returns an mgmt.VaultClientBuilder bound to this fake.
func (v *Vaults) Builder() mgmt.VaultClientBuilder {
	return func(subscriptionID string) (mgmt.VaultAPI, error) {
		return v, nil
	}
}

func (v *Vaults) Get(ctx context.Context, resourceGroupName string, vaultName string, options *armkeyvault.VaultsClientGetOptions) (armkeyvault.VaultsClientGetResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vault, ok := v.vaults[strings.ToLower(vaultName)]
	if !ok {
		return armkeyvault.VaultsClientGetResponse{}, HTTPError(http.StatusNotFound)
	}
	return armkeyvault.VaultsClientGetResponse{Vault: vault}, nil
}
