package permissions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
)

// roleAssignmentWriteActions are the action patterns that allow writing role assignments.
var roleAssignmentWriteActions = []string{
	"*",
	"*/write",
	"microsoft.authorization/roleassignments/write",
	"microsoft.authorization/*/write",
}

// Permission is one entry of the permissions list for a scope.
type Permission struct {
	Actions    []string `json:"actions"`
	NotActions []string `json:"notActions"`
}

// Manager checks and applies role assignments.
type Manager struct {
	resources       mgmt.ResourceAPI
	roleAssignments mgmt.RoleAssignmentsClientBuilder
	logger          *logrus.Logger
}

// New creates a permissions manager.
func New(resources mgmt.ResourceAPI, roleAssignments mgmt.RoleAssignmentsClientBuilder, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{resources: resources, roleAssignments: roleAssignments, logger: logger}
}

// Permissions lists the caller's permissions on scope.
func (m *Manager) Permissions(ctx context.Context, scope string) ([]Permission, error) {
	items, err := m.resources.List(ctx, strings.TrimSuffix(scope, "/")+"/providers/Microsoft.Authorization/permissions", mgmt.PermissionsAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions for %s: %w", scope, err)
	}
	out := make([]Permission, 0, len(items))
	for _, item := range items {
		var p Permission
		if err := mgmt.Decode(item, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CanApply reports whether the caller may create role assignments on scope. A matching
// notActions entry anywhere denies, regardless of grants.
func (m *Manager) CanApply(ctx context.Context, scope string) (bool, error) {
	perms, err := m.Permissions(ctx, scope)
	if err != nil {
		return false, err
	}
	return CanWriteRoleAssignments(perms), nil
}

// CanWriteRoleAssignments evaluates a permissions list.
func CanWriteRoleAssignments(perms []Permission) bool {
	granted := false
	for _, p := range perms {
		if matchesAny(p.NotActions) {
			return false
		}
		if matchesAny(p.Actions) {
			granted = true
		}
	}
	return granted
}

func matchesAny(actions []string) bool {
	for _, action := range actions {
		for _, want := range roleAssignmentWriteActions {
			if strings.EqualFold(action, want) {
				return true
			}
		}
	}
	return false
}

// ApplyRoleAssignment assigns roleDefinitionID to principalID on scope unless an assignment for the
// same principal and role already exists there. roleDefinitionID may be a bare role GUID or a full
// role definition id. It reports whether a new assignment was created.
func (m *Manager) ApplyRoleAssignment(ctx context.Context, scope, principalID, roleDefinitionID string, principalType armauthorization.PrincipalType) (bool, error) {
	if scope == "" || principalID == "" || roleDefinitionID == "" {
		return false, opserr.New(opserr.KindMissingArgument, "scope, principal and role definition are required for a role assignment")
	}
	subscriptionID := resourceid.Parse(scope).Subscription
	if subscriptionID == "" {
		return false, opserr.New(opserr.KindMissingArgument, "scope %q does not name a subscription", scope)
	}
	if !strings.Contains(roleDefinitionID, "/") {
		roleDefinitionID = mgmt.RoleDefinitionID(subscriptionID, roleDefinitionID)
	}

	client, err := m.roleAssignments(subscriptionID)
	if err != nil {
		return false, err
	}

	exists, err := hasRoleAssignment(ctx, client, scope, principalID, roleDefinitionID)
	if err != nil {
		return false, err
	}
	if exists {
		m.logger.Infof("Role %s already assigned to %s on %s - skipping", path.Base(roleDefinitionID), principalID, scope)
		return false, nil
	}

	name := uuid.New().String()
	params := armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      to.StringPtr(principalID),
			RoleDefinitionID: to.StringPtr(roleDefinitionID),
		},
	}
	if principalType != "" {
		params.Properties.PrincipalType = &principalType
	}

	m.logger.Debugf("Creating role assignment %s for %s on %s", name, principalID, scope)
	if _, err := client.Create(ctx, scope, name, params, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch {
			case respErr.ErrorCode == "RoleAssignmentExists":
				m.logger.Info("Role assignment already exists (detected from error)")
				return false, nil
			case respErr.StatusCode == http.StatusForbidden:
				return false, fmt.Errorf("insufficient permissions to assign role %s on %s - ensure the caller has Owner or User Access Administrator on the scope: %w",
					path.Base(roleDefinitionID), scope, err)
			}
		}
		return false, fmt.Errorf("failed to create role assignment on %s: %w", scope, err)
	}
	m.logger.Infof("Assigned role %s to %s on %s", path.Base(roleDefinitionID), principalID, scope)
	return true, nil
}

func hasRoleAssignment(ctx context.Context, client mgmt.RoleAssignmentsAPI, scope, principalID, roleDefinitionID string) (bool, error) {
	filter := fmt.Sprintf("principalId eq '%s'", principalID)
	pager := client.NewListForScopePager(scope, &armauthorization.RoleAssignmentsClientListForScopeOptions{Filter: &filter})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list role assignments for scope %s: %w", scope, err)
		}
		for _, assignment := range page.Value {
			if assignment.Properties == nil {
				continue
			}
			if !strings.EqualFold(to.String(assignment.Properties.PrincipalID), principalID) {
				continue
			}
			// role definition ids differ in subscription prefix depending on where they were listed
			if strings.EqualFold(path.Base(to.String(assignment.Properties.RoleDefinitionID)), path.Base(roleDefinitionID)) {
				return true, nil
			}
		}
	}
	return false, nil
}
