package mgmttest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v3"
	"github.com/Azure/go-autorest/autorest/to"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

var principalFilter = regexp.MustCompile(`principalId eq '([^']+)'`)

// RoleAssignmentCall records a role assignment create.
type RoleAssignmentCall struct {
	Subscription     string
	Scope            string
	Name             string
	PrincipalID      string
	RoleDefinitionID string
	PrincipalType    string
	Correlation      mgmt.Correlation
}

// RoleAssignmentStore fakes the role assignments API with real runtime pagers.
type RoleAssignmentStore struct {
	mu          sync.Mutex
	assignments map[string][]*armauthorization.RoleAssignment
	creates     []RoleAssignmentCall
	createErr   error
	listErr     error
}

// NewRoleAssignmentStore returns an empty store.
func NewRoleAssignmentStore() *RoleAssignmentStore {
	return &RoleAssignmentStore{assignments: map[string][]*armauthorization.RoleAssignment{}}
}

// Add seeds an existing assignment.
func (s *RoleAssignmentStore) Add(scope, principalID, roleDefinitionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := strings.ToLower(scope)
	s.assignments[k] = append(s.assignments[k], &armauthorization.RoleAssignment{
		Properties: &armauthorization.RoleAssignmentProperties{
			Scope:            to.StringPtr(scope),
			PrincipalID:      to.StringPtr(principalID),
			RoleDefinitionID: to.StringPtr(roleDefinitionID),
		},
	})
}

// FailCreate makes every create return err.
func (s *RoleAssignmentStore) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

// FailList makes every list page return err.
func (s *RoleAssignmentStore) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Creates returns the recorded create calls.
func (s *RoleAssignmentStore) Creates() []RoleAssignmentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RoleAssignmentCall(nil), s.creates...)
}

// Builder returns an mgmt.RoleAssignmentsClientBuilder bound to this store.
func (s *RoleAssignmentStore) Builder() mgmt.RoleAssignmentsClientBuilder {
	return func(subscriptionID string) (mgmt.RoleAssignmentsAPI, error) {
		return &roleAssignmentView{store: s, subscription: subscriptionID}, nil
	}
}

type roleAssignmentView struct {
	store        *RoleAssignmentStore
	subscription string
}

func (v *roleAssignmentView) NewListForScopePager(scope string, options *armauthorization.RoleAssignmentsClientListForScopeOptions) *runtime.Pager[armauthorization.RoleAssignmentsClientListForScopeResponse] {
	var principal string
	if options != nil && options.Filter != nil {
		if m := principalFilter.FindStringSubmatch(*options.Filter); m != nil {
			principal = m[1]
		}
	}
	return runtime.NewPager(runtime.PagingHandler[armauthorization.RoleAssignmentsClientListForScopeResponse]{
		More: func(page armauthorization.RoleAssignmentsClientListForScopeResponse) bool {
			return false
		},
		Fetcher: func(ctx context.Context, page *armauthorization.RoleAssignmentsClientListForScopeResponse) (armauthorization.RoleAssignmentsClientListForScopeResponse, error) {
			v.store.mu.Lock()
			defer v.store.mu.Unlock()
			if v.store.listErr != nil {
				return armauthorization.RoleAssignmentsClientListForScopeResponse{}, v.store.listErr
			}
			var value []*armauthorization.RoleAssignment
			for _, a := range v.store.assignments[strings.ToLower(scope)] {
				if principal != "" && !strings.EqualFold(to.String(a.Properties.PrincipalID), principal) {
					continue
				}
				value = append(value, a)
			}
			return armauthorization.RoleAssignmentsClientListForScopeResponse{
				RoleAssignmentListResult: armauthorization.RoleAssignmentListResult{Value: value},
			}, nil
		},
	})
}

func (v *roleAssignmentView) Create(ctx context.Context, scope string, roleAssignmentName string, parameters armauthorization.RoleAssignmentCreateParameters, options *armauthorization.RoleAssignmentsClientCreateOptions) (armauthorization.RoleAssignmentsClientCreateResponse, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	call := RoleAssignmentCall{Subscription: v.subscription, Scope: scope, Name: roleAssignmentName}
	call.Correlation, _ = mgmt.CorrelationFromContext(ctx)
	if p := parameters.Properties; p != nil {
		call.PrincipalID = to.String(p.PrincipalID)
		call.RoleDefinitionID = to.String(p.RoleDefinitionID)
		if p.PrincipalType != nil {
			call.PrincipalType = string(*p.PrincipalType)
		}
	}
	v.store.creates = append(v.store.creates, call)
	if v.store.createErr != nil {
		return armauthorization.RoleAssignmentsClientCreateResponse{}, v.store.createErr
	}
	assignment := &armauthorization.RoleAssignment{
		Name: to.StringPtr(roleAssignmentName),
		Properties: &armauthorization.RoleAssignmentProperties{
			Scope:            to.StringPtr(scope),
			PrincipalID:      to.StringPtr(call.PrincipalID),
			RoleDefinitionID: to.StringPtr(call.RoleDefinitionID),
		},
	}
	k := strings.ToLower(scope)
	v.store.assignments[k] = append(v.store.assignments[k], assignment)
	return armauthorization.RoleAssignmentsClientCreateResponse{RoleAssignment: *assignment}, nil
}
