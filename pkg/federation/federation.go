package federation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
)

const credentialNameLength = 7

// Well-known in-cluster service accounts that receive federated credentials.
const (
	DataflowServiceAccount   = "aio-dataflow"
	SecretSyncServiceAccount = "aio-ssc-sa"
)

// Credential is a federated identity credential on a user-assigned identity.
type Credential struct {
	Name      string
	Issuer    string
	Subject   string
	Audiences []string
}

// Helper manages federated credentials idempotently.
type Helper struct {
	identities mgmt.IdentityClientBuilder
	logger     *logrus.Logger
}

// New creates a federation helper.
func New(identities mgmt.IdentityClientBuilder, logger *logrus.Logger) *Helper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Helper{identities: identities, logger: logger}
}

// CredentialName derives the stable credential name for a (cluster, issuer, subject) triple.
func CredentialName(clusterName, issuer, subject string) string {
	sum := sha256.Sum256([]byte(clusterName + issuer + subject))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:credentialNameLength]
}

// ServiceAccountSubject is the token subject of a Kubernetes service account.
func ServiceAccountSubject(namespace, serviceAccount string) string {
	return fmt.Sprintf(mgmt.ServiceAccountSubjectPattern, namespace, serviceAccount)
}

// Credentials lists the federated credentials on an identity.
func (h *Helper) Credentials(ctx context.Context, identityID string) ([]Credential, error) {
	rid, client, err := h.client(identityID)
	if err != nil {
		return nil, err
	}
	raw, err := client.ListFederatedCredentials(ctx, rid.ResourceGroup, rid.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list federated credentials of %s: %w", rid.Name, err)
	}
	out := make([]Credential, 0, len(raw))
	for _, c := range raw {
		out = append(out, fromSDK(c))
	}
	return out, nil
}

// Federate ensures identityID trusts tokens issued by issuer for subject. It lists the identity's
// credentials first and creates nothing when a credential with the same issuer and subject exists.
// It returns the name of the matching or newly created credential.
func (h *Helper) Federate(ctx context.Context, identityID, clusterName, issuer, subject string) (string, bool, error) {
	if issuer == "" || subject == "" {
		return "", false, opserr.New(opserr.KindMissingArgument, "issuer and subject are required to federate %s", identityID)
	}
	rid, client, err := h.client(identityID)
	if err != nil {
		return "", false, err
	}

	raw, err := client.ListFederatedCredentials(ctx, rid.ResourceGroup, rid.Name)
	if err != nil {
		return "", false, fmt.Errorf("failed to list federated credentials of %s: %w", rid.Name, err)
	}

	taken := make(map[string]bool, len(raw))
	for _, c := range raw {
		existing := fromSDK(c)
		if existing.Issuer == issuer && existing.Subject == subject {
			h.logger.Debugf("Identity %s already federated for %s as %s", rid.Name, subject, existing.Name)
			return existing.Name, false, nil
		}
		taken[strings.ToLower(existing.Name)] = true
	}

	name := freeName(clusterName, issuer, subject, taken)
	audiences := []*string{to.StringPtr(mgmt.FederatedCredentialAudience)}
	err = client.CreateFederatedCredential(ctx, rid.ResourceGroup, rid.Name, name, armmsi.FederatedIdentityCredential{
		Properties: &armmsi.FederatedIdentityCredentialProperties{
			Issuer:    to.StringPtr(issuer),
			Subject:   to.StringPtr(subject),
			Audiences: audiences,
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to create federated credential %s on %s: %w", name, rid.Name, err)
	}
	h.logger.Infof("Federated identity %s with subject %s as %s", rid.Name, subject, name)
	return name, true, nil
}

// Unfederate deletes a credential by name. A credential that does not exist is not an error.
func (h *Helper) Unfederate(ctx context.Context, identityID, name string) error {
	rid, client, err := h.client(identityID)
	if err != nil {
		return err
	}
	if err := client.DeleteFederatedCredential(ctx, rid.ResourceGroup, rid.Name, name); err != nil {
		if opserr.IsNotFound(err) {
			h.logger.Debugf("Federated credential %s on %s already absent", name, rid.Name)
			return nil
		}
		return fmt.Errorf("failed to delete federated credential %s on %s: %w", name, rid.Name, err)
	}
	h.logger.Infof("Removed federated credential %s from %s", name, rid.Name)
	return nil
}

// UnfederateSubject deletes every credential on identityID that matches issuer and subject.
func (h *Helper) UnfederateSubject(ctx context.Context, identityID, issuer, subject string) (int, error) {
	creds, err := h.Credentials(ctx, identityID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range creds {
		if c.Subject != subject || (issuer != "" && c.Issuer != issuer) {
			continue
		}
		if err := h.Unfederate(ctx, identityID, c.Name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (h *Helper) client(identityID string) (resourceid.ResourceID, mgmt.IdentityAPI, error) {
	rid := resourceid.Parse(identityID)
	if rid.Subscription == "" || rid.ResourceGroup == "" || rid.Name == "" {
		return rid, nil, opserr.New(opserr.KindMissingArgument, "%q is not a user-assigned identity id", identityID)
	}
	client, err := h.identities(rid.Subscription)
	if err != nil {
		return rid, nil, err
	}
	return rid, client, nil
}

// freeName returns the base credential name or, when another credential already holds it, the
// smallest suffixed candidate that is free.
func freeName(clusterName, issuer, subject string, taken map[string]bool) string {
	base := CredentialName(clusterName, issuer, subject)
	if !taken[strings.ToLower(base)] {
		return base
	}
	for n := 1; ; n++ {
		candidate := CredentialName(clusterName, issuer, subject+strconv.Itoa(n))
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

func fromSDK(c *armmsi.FederatedIdentityCredential) Credential {
	out := Credential{Name: to.String(c.Name)}
	if c.Properties != nil {
		out.Issuer = to.String(c.Properties.Issuer)
		out.Subject = to.String(c.Properties.Subject)
		for _, a := range c.Properties.Audiences {
			out.Audiences = append(out.Audiences, to.String(a))
		}
	}
	return out
}
