package federation

import (
	"fmt"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
)

// IssuerURL returns the cluster's OIDC issuer url. The cluster must have both the OIDC issuer and
// workload identity enabled; selfHosted picks the self-hosted issuer over the managed one.
func IssuerURL(cluster *mgmt.ConnectedCluster, selfHosted bool) (string, error) {
	rid := resourceid.Parse(cluster.ID)
	enable := fmt.Sprintf("az connectedk8s update -n %s -g %s --enable-oidc-issuer --enable-workload-identity",
		cluster.Name, rid.ResourceGroup)

	if !cluster.OIDCEnabled() || !cluster.WorkloadIdentityEnabled() {
		return "", opserr.New(opserr.KindInvalidState,
			"cluster %q does not have the OIDC issuer and workload identity enabled. Run: %s", cluster.Name, enable)
	}

	profile := cluster.Properties.OIDCIssuerProfile
	if selfHosted {
		if profile.SelfHostedIssuerURL == "" {
			return "", opserr.New(opserr.KindInvalidState,
				"cluster %q has no self-hosted OIDC issuer url. Run: az connectedk8s update -n %s -g %s --self-hosted-issuer <issuer-url>",
				cluster.Name, cluster.Name, rid.ResourceGroup)
		}
		return profile.SelfHostedIssuerURL, nil
	}
	if profile.IssuerURL == "" {
		return "", opserr.New(opserr.KindInvalidState,
			"cluster %q has no OIDC issuer url. Run: %s", cluster.Name, enable)
	}
	return profile.IssuerURL, nil
}
