package mgmt

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
)

// RoleAssignmentsAPI is the subset of the role assignments SDK client we need.
// It exists to allow lightweight mocking in unit tests.
type RoleAssignmentsAPI interface {
	NewListForScopePager(scope string, options *armauthorization.RoleAssignmentsClientListForScopeOptions) *runtime.Pager[armauthorization.RoleAssignmentsClientListForScopeResponse]
	Create(ctx context.Context, scope string, roleAssignmentName string, parameters armauthorization.RoleAssignmentCreateParameters, options *armauthorization.RoleAssignmentsClientCreateOptions) (armauthorization.RoleAssignmentsClientCreateResponse, error)
}

// RoleAssignmentsClientBuilder returns the role assignments client for a subscription.
type RoleAssignmentsClientBuilder func(subscriptionID string) (RoleAssignmentsAPI, error)

// NewRoleAssignmentsClientBuilder builds armauthorization clients on demand.
func NewRoleAssignmentsClientBuilder(cred azcore.TokenCredential, options *arm.ClientOptions) RoleAssignmentsClientBuilder {
	return func(subscriptionID string) (RoleAssignmentsAPI, error) {
		client, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, cred, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create role assignments client: %w", err)
		}
		return client, nil
	}
}

// RoleDefinitionID returns the subscription-scoped id of a role definition GUID.
func RoleDefinitionID(subscriptionID, roleID string) string {
	return fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s", subscriptionID, roleID)
}
