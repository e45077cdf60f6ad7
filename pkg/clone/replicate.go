package clone

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"go.goms.io/aio/lifecycle/pkg/executor"
	"go.goms.io/aio/lifecycle/pkg/federation"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
	"go.goms.io/aio/lifecycle/pkg/template"
)

var federatedServiceAccounts = []string{federation.DataflowServiceAccount, federation.SecretSyncServiceAccount}

// replicate federates the captured identities with the target cluster and deploys the template
// into the target resource group. Federation failures are logged; deployment stops at the first
// failing deployment.
func (e *Engine) replicate(ctx context.Context, opts Options, snap *snapshot, tmpl *template.Template, linked *template.Linked) (*executor.ExecutionResult, error) {
	ctx, corr := mgmt.WithCorrelation(ctx, "clone")
	target := opts.Target
	sub := target.SubscriptionID
	if sub == "" {
		sub = opts.SubscriptionID
	}
	clusterID := resourceid.New(sub, target.ResourceGroup, mgmt.KubernetesNamespace, "connectedClusters", target.ClusterName).String()
	cluster, err := e.resolver.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	if !cluster.IsConnected() {
		return nil, opserr.New(opserr.KindInvalidState, "target cluster %s is not connected (status %q)",
			cluster.Name, cluster.Properties.ConnectivityStatus)
	}

	params, err := rootParameters(tmpl, target, cluster)
	if err != nil {
		return nil, err
	}

	e.federate(ctx, snap, cluster, target, params)

	deployer, err := e.deployments(sub)
	if err != nil {
		return nil, err
	}
	base := BaseName(opts.InstanceName)

	steps := []executor.Step{executor.NewStep(base, func(ctx context.Context) error {
		var content map[string]any
		var err error
		if linked != nil {
			content, err = linked.DeployRootContent()
		} else {
			content, err = tmpl.Content()
		}
		if err != nil {
			return err
		}
		if err := deployer.Deploy(ctx, target.ResourceGroup, base, content, params); err != nil {
			return fmt.Errorf("deployment %s failed: %w", base, err)
		}
		return nil
	})}
	if linked != nil {
		values := effectiveValues(tmpl, params)
		for i, lt := range linked.Templates {
			name := fmt.Sprintf("%s_%d", base, i+1)
			steps = append(steps, executor.NewStep(name, func(ctx context.Context) error {
				content, err := lt.Content()
				if err != nil {
					return err
				}
				bound := map[string]any{}
				for _, p := range lt.ParameterNames() {
					if v, ok := values[p]; ok {
						bound[p] = v
					}
				}
				if err := deployer.Deploy(ctx, target.ResourceGroup, name, content, bound); err != nil {
					return fmt.Errorf("deployment %s failed: %w", name, err)
				}
				return nil
			}))
		}
	}

	e.logger.Infof("Replicating instance %s onto cluster %s (correlation %s)", opts.InstanceName, cluster.Name, corr.ID)
	return e.runner.Run(ctx, steps, "clone", executor.FailFast)
}

// rootParameters returns the deployment parameters for the root template: the target cluster name,
// the target location unless overridden, and every override. Overrides must name a declared parameter.
func rootParameters(tmpl *template.Template, target *Target, cluster *mgmt.ConnectedCluster) (map[string]any, error) {
	declared := tmpl.Parameters()
	params := map[string]any{template.ParamClusterName: cluster.Name}
	if cluster.Location != "" {
		params[template.ParamLocation] = cluster.Location
	}
	for name, v := range target.Parameters {
		if _, ok := declared[name]; !ok {
			return nil, opserr.New(opserr.KindConfig, "template has no parameter %q", name)
		}
		params[name] = v
	}
	return params, nil
}

// effectiveValues overlays params on the literal parameter defaults. Defaults that are template
// expressions are left for the deployment to evaluate.
func effectiveValues(tmpl *template.Template, params map[string]any) map[string]any {
	out := map[string]any{}
	for name, v := range tmpl.DefaultValues() {
		if s, ok := v.(string); ok && strings.HasPrefix(s, "[") {
			continue
		}
		out[name] = v
	}
	for name, v := range params {
		out[name] = v
	}
	return out
}

// federate adds credentials for the target cluster's issuer to every captured identity. Only the
// service accounts an identity already trusts on the source cluster are federated.
func (e *Engine) federate(ctx context.Context, snap *snapshot, cluster *mgmt.ConnectedCluster, target *Target, params map[string]any) {
	if len(snap.identities) == 0 {
		return
	}
	issuer, err := federation.IssuerURL(cluster, target.SelfHostedIssuer)
	if err != nil {
		e.logger.Warnf("Skipping identity federation for cluster %s: %v", cluster.Name, err)
		return
	}
	namespace := snap.customLocation.Properties.Namespace
	if ns, ok := params[template.ParamClusterNamespace].(string); ok && ns != "" {
		namespace = ns
	}

	steps := make([]executor.Step, 0, len(snap.identities))
	for _, id := range snap.identities {
		steps = append(steps, executor.NewStep("federate-"+resourceid.Parse(id).Name, func(ctx context.Context) error {
			creds, err := e.federation.Credentials(ctx, id)
			if err != nil {
				return err
			}
			for _, sa := range knownServiceAccounts(creds) {
				subject := federation.ServiceAccountSubject(namespace, sa)
				if _, _, err := e.federation.Federate(ctx, id, cluster.Name, issuer, subject); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	result, err := e.runner.Run(ctx, steps, "federate", executor.ContinueOnError)
	if result != nil {
		err = multierr.Append(err, multierr.Combine(result.Errors()...))
	}
	if err != nil {
		e.logger.Warnf("Identity federation for cluster %s was incomplete; the affected workloads cannot authenticate until it is fixed: %v",
			cluster.Name, err)
	}
}

// knownServiceAccounts returns the well-known service accounts that existing credentials trust.
func knownServiceAccounts(creds []federation.Credential) []string {
	found := map[string]bool{}
	for _, c := range creds {
		rest, ok := strings.CutPrefix(c.Subject, "system:serviceaccount:")
		if !ok {
			continue
		}
		_, sa, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		for _, known := range federatedServiceAccounts {
			if sa == known {
				found[sa] = true
			}
		}
	}
	out := make([]string, 0, len(found))
	for sa := range found {
		out = append(out, sa)
	}
	sort.Strings(out)
	return out
}
