// Package clone captures a live IoT Operations instance into a deployment template and replays it
// onto another connected cluster.
package clone

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/config"
	"go.goms.io/aio/lifecycle/pkg/executor"
	"go.goms.io/aio/lifecycle/pkg/federation"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resolver"
	"go.goms.io/aio/lifecycle/pkg/template"
	"go.goms.io/aio/lifecycle/pkg/utils"
)

const defaultLockTimeout = 30 * time.Second

// Options selects the instance to capture and what to do with the template.
type Options struct {
	InstanceName   string
	ResourceGroup  string
	SubscriptionID string

	// Force skips the instance version gate.
	Force bool
	// OutputDir, when set, receives clone_<instance>_aio.json and, in linked mode, its sibling directory.
	OutputDir string
	// Linked lifts asset and asset endpoint profile deployments into separate templates.
	Linked bool
	// Target, when set, replicates the template onto another cluster.
	Target *Target
}

// Target is the connected cluster a captured template is replicated to.
type Target struct {
	ClusterName    string
	ResourceGroup  string
	SubscriptionID string
	// Parameters overrides template parameter values, e.g. instanceName.
	Parameters map[string]any
	// SelfHostedIssuer federates against the self-hosted OIDC issuer.
	SelfHostedIssuer bool
}

// Output is the result of a clone.
type Output struct {
	Template *template.Template
	Linked   *template.Linked
	// Files lists the written template files, root first.
	Files []string
	// Identities are the user-assigned identities federated during replication.
	Identities []string
	// Replication holds per-deployment results when a target was given.
	Replication *executor.ExecutionResult
}

// Engine captures and replicates instances.
type Engine struct {
	resolver       *resolver.Resolver
	resources      mgmt.ResourceAPI
	federation     *federation.Helper
	deployments    mgmt.DeployerBuilder
	runner         *executor.Runner
	logger         *logrus.Logger
	subscriptionID string
	cliVersion     string
	cfg            config.CloneConfig
}

// New creates a clone engine over clients. cliVersion is recorded in every template.
func New(clients *mgmt.Clients, cfg config.CloneConfig, cliVersion string, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		resolver:       resolver.New(clients.Graph, clients.Resources, logger),
		resources:      clients.Resources,
		federation:     federation.New(clients.Identities, logger),
		deployments:    clients.Deployments,
		runner:         executor.NewRunner(logger),
		logger:         logger,
		subscriptionID: clients.SubscriptionID,
		cliVersion:     cliVersion,
		cfg:            cfg,
	}
}

// Clone captures the instance, then writes and/or replicates the template as requested.
func (e *Engine) Clone(ctx context.Context, opts Options) (*Output, error) {
	if opts.InstanceName == "" || opts.ResourceGroup == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "an instance name and resource group are required")
	}
	if opts.SubscriptionID == "" {
		opts.SubscriptionID = e.subscriptionID
	}
	if opts.Target != nil && (opts.Target.ClusterName == "" || opts.Target.ResourceGroup == "") {
		return nil, opserr.New(opserr.KindMissingArgument, "the target cluster name and resource group are required")
	}

	snap, err := e.capture(ctx, opts)
	if err != nil {
		return nil, err
	}
	tmpl, err := snap.builder.Get()
	if err != nil {
		return nil, err
	}
	out := &Output{Template: tmpl, Identities: snap.identities}

	base := BaseName(opts.InstanceName)
	if opts.Linked {
		out.Linked = tmpl.Link(base, e.cfg.LinkedBaseURI)
		e.logger.Infof("Split %d linked templates out of the root template", len(out.Linked.Templates))
	}
	if opts.OutputDir != "" {
		files, err := e.write(ctx, opts.OutputDir, base, tmpl, out.Linked)
		if err != nil {
			return nil, err
		}
		out.Files = files
	}
	if opts.Target != nil {
		result, err := e.replicate(ctx, opts, snap, tmpl, out.Linked)
		out.Replication = result
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// BaseName is the root file and deployment name for an instance: clone_<instance>_aio.
func BaseName(instanceName string) string {
	return "clone_" + utils.SafeName(instanceName) + "_aio"
}

func (e *Engine) lockTimeout() time.Duration {
	if e.cfg.LockTimeoutSeconds > 0 {
		return time.Duration(e.cfg.LockTimeoutSeconds) * time.Second
	}
	return defaultLockTimeout
}
