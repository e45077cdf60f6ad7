package mgmttest

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/go-autorest/autorest/to"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
)

// CredentialCall records a federated credential write.
type CredentialCall struct {
	Subscription  string
	ResourceGroup string
	Identity      string
	Name          string
	Issuer        string
	Subject       string
	Audiences     []string
	Correlation   mgmt.Correlation
}

// IdentityStore fakes user-assigned identities and their federated credentials across subscriptions.
type IdentityStore struct {
	mu            sync.Mutex
	identities    map[string]armmsi.Identity
	credentials   map[string][]*armmsi.FederatedIdentityCredential
	creates       []CredentialCall
	deletes       []CredentialCall
	subscriptions []string
	createErr     map[string]error
}

// NewIdentityStore returns an empty store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		identities:  map[string]armmsi.Identity{},
		credentials: map[string][]*armmsi.FederatedIdentityCredential{},
		createErr:   map[string]error{},
	}
}

// AddIdentity seeds a user-assigned identity.
func (s *IdentityStore) AddIdentity(subscription, resourceGroup, name, clientID, principalID, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identityKey(subscription, resourceGroup, name)] = armmsi.Identity{
		Name: to.StringPtr(name),
		Properties: &armmsi.UserAssignedIdentityProperties{
			ClientID:    to.StringPtr(clientID),
			PrincipalID: to.StringPtr(principalID),
			TenantID:    to.StringPtr(tenantID),
		},
	}
}

// AddCredential seeds a federated credential on an identity.
func (s *IdentityStore) AddCredential(subscription, resourceGroup, identity, name, issuer, subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := identityKey(subscription, resourceGroup, identity)
	s.credentials[k] = append(s.credentials[k], newCredential(name, issuer, subject, []string{mgmt.FederatedCredentialAudience}))
}

// FailCreate makes credential creation on the identity fail with err.
func (s *IdentityStore) FailCreate(subscription, resourceGroup, identity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr[identityKey(subscription, resourceGroup, identity)] = err
}

// Creates returns every credential create call.
func (s *IdentityStore) Creates() []CredentialCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CredentialCall(nil), s.creates...)
}

// Deletes returns every credential delete call.
func (s *IdentityStore) Deletes() []CredentialCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CredentialCall(nil), s.deletes...)
}

// Subscriptions returns the subscription passed on each builder call.
func (s *IdentityStore) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscriptions...)
}

// Builder returns an mgmt.IdentityClientBuilder bound to this store.
func (s *IdentityStore) Builder() mgmt.IdentityClientBuilder {
	return func(subscriptionID string) (mgmt.IdentityAPI, error) {
		s.mu.Lock()
		s.subscriptions = append(s.subscriptions, subscriptionID)
		s.mu.Unlock()
		return &identityView{store: s, subscription: subscriptionID}, nil
	}
}

type identityView struct {
	store        *IdentityStore
	subscription string
}

func (v *identityView) GetIdentity(ctx context.Context, resourceGroup, name string) (armmsi.Identity, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	identity, ok := v.store.identities[identityKey(v.subscription, resourceGroup, name)]
	if !ok {
		return armmsi.Identity{}, HTTPError(http.StatusNotFound)
	}
	return identity, nil
}

func (v *identityView) ListFederatedCredentials(ctx context.Context, resourceGroup, identityName string) ([]*armmsi.FederatedIdentityCredential, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	k := identityKey(v.subscription, resourceGroup, identityName)
	if _, ok := v.store.identities[k]; !ok {
		return nil, HTTPError(http.StatusNotFound)
	}
	return append([]*armmsi.FederatedIdentityCredential(nil), v.store.credentials[k]...), nil
}

func (v *identityView) CreateFederatedCredential(ctx context.Context, resourceGroup, identityName, credentialName string, credential armmsi.FederatedIdentityCredential) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	k := identityKey(v.subscription, resourceGroup, identityName)
	if err, ok := v.store.createErr[k]; ok {
		return err
	}
	var issuer, subject string
	var audiences []string
	if credential.Properties != nil {
		issuer = to.String(credential.Properties.Issuer)
		subject = to.String(credential.Properties.Subject)
		for _, a := range credential.Properties.Audiences {
			audiences = append(audiences, to.String(a))
		}
	}
	corr, _ := mgmt.CorrelationFromContext(ctx)
	v.store.creates = append(v.store.creates, CredentialCall{
		Subscription: v.subscription, ResourceGroup: resourceGroup, Identity: identityName,
		Name: credentialName, Issuer: issuer, Subject: subject, Audiences: audiences, Correlation: corr,
	})

	existing := v.store.credentials[k]
	for i, c := range existing {
		if strings.EqualFold(to.String(c.Name), credentialName) {
			existing[i] = newCredential(credentialName, issuer, subject, audiences)
			return nil
		}
	}
	v.store.credentials[k] = append(existing, newCredential(credentialName, issuer, subject, audiences))
	return nil
}

func (v *identityView) DeleteFederatedCredential(ctx context.Context, resourceGroup, identityName, credentialName string) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	k := identityKey(v.subscription, resourceGroup, identityName)
	corr, _ := mgmt.CorrelationFromContext(ctx)
	v.store.deletes = append(v.store.deletes, CredentialCall{
		Subscription: v.subscription, ResourceGroup: resourceGroup, Identity: identityName, Name: credentialName,
		Correlation: corr,
	})
	existing := v.store.credentials[k]
	for i, c := range existing {
		if strings.EqualFold(to.String(c.Name), credentialName) {
			v.store.credentials[k] = append(existing[:i], existing[i+1:]...)
			return nil
		}
	}
	return HTTPError(http.StatusNotFound)
}

func newCredential(name, issuer, subject string, audiences []string) *armmsi.FederatedIdentityCredential {
	aud := make([]*string, 0, len(audiences))
	for _, a := range audiences {
		aud = append(aud, to.StringPtr(a))
	}
	return &armmsi.FederatedIdentityCredential{
		Name: to.StringPtr(name),
		Properties: &armmsi.FederatedIdentityCredentialProperties{
			Issuer:    to.StringPtr(issuer),
			Subject:   to.StringPtr(subject),
			Audiences: aud,
		},
	}
}

func identityKey(subscription, resourceGroup, name string) string {
	return strings.ToLower(subscription + "/" + resourceGroup + "/" + name)
}
