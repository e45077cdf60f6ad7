package mgmt

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
)

// Deployer submits a declarative template to a resource group and waits for a terminal state.
type Deployer interface {
	Deploy(ctx context.Context, resourceGroup, deploymentName string, template map[string]any, parameters map[string]any) error
}

// DeployerBuilder returns a Deployer for a subscription.
type DeployerBuilder func(subscriptionID string) (Deployer, error)

// NewDeployerBuilder builds armresources deployment clients on demand.
func NewDeployerBuilder(cred azcore.TokenCredential, options *arm.ClientOptions) DeployerBuilder {
	return func(subscriptionID string) (Deployer, error) {
		client, err := armresources.NewDeploymentsClient(subscriptionID, cred, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create deployments client: %w", err)
		}
		return &armDeployer{client: client, frequency: defaultPollFrequency}, nil
	}
}

type armDeployer struct {
	client    *armresources.DeploymentsClient
	frequency time.Duration
}

func (d *armDeployer) Deploy(ctx context.Context, resourceGroup, deploymentName string, template map[string]any, parameters map[string]any) error {
	mode := armresources.DeploymentModeIncremental
	poller, err := d.client.BeginCreateOrUpdate(ctx, resourceGroup, deploymentName, armresources.Deployment{
		Properties: &armresources.DeploymentProperties{
			Mode:       &mode,
			Template:   template,
			Parameters: ParameterValues(parameters),
		},
	}, nil)
	if err != nil {
		return err
	}
	_, err = poller.PollUntilDone(ctx, &runtime.PollUntilDoneOptions{Frequency: d.frequency})
	return err
}

// ParameterValues wraps plain values in the {"name": {"value": v}} shape deployments expect.
func ParameterValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = map[string]any{"value": v}
	}
	return out
}
