// Package upgrade reconciles the extensions installed on a connected cluster with a desired
// version, train and configuration manifest.
package upgrade

import (
	"context"

	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/executor"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resolver"
	"go.goms.io/aio/lifecycle/pkg/targets"
)

// Engine analyzes and applies extension upgrades.
type Engine struct {
	resolver *resolver.Resolver
	patcher  mgmt.ResourceAPI
	runner   *executor.Runner
	logger   *logrus.Logger
}

// New creates an upgrade engine. patcher must not retry at the transport level.
func New(res *resolver.Resolver, patcher mgmt.ResourceAPI, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		resolver: res,
		patcher:  patcher,
		runner:   executor.NewRunner(logger),
		logger:   logger,
	}
}

// Analyze snapshots the extensions of the instance's cluster and compares them with desired and the
// per-moniker overrides. The instance and the extension records are left untouched.
func (e *Engine) Analyze(ctx context.Context, instance *mgmt.Instance, desired targets.DesiredState, overrides map[string]Override) (*ClusterUpgradeState, error) {
	if instance == nil {
		return nil, opserr.New(opserr.KindMissingArgument, "an instance is required")
	}
	for moniker := range overrides {
		if !targets.IsMoniker(moniker) {
			return nil, opserr.New(opserr.KindConfig, "unknown extension %q in overrides", moniker)
		}
	}

	_, cluster, err := e.resolver.FromCustomLocation(ctx, instance.ExtendedLocation.Name)
	if err != nil {
		return nil, err
	}
	if !cluster.IsConnected() {
		return nil, opserr.New(opserr.KindInvalidState,
			"cluster %s is not connected (status %q); upgrades require a connected cluster",
			cluster.Name, cluster.Properties.ConnectivityStatus)
	}

	installed, err := e.resolver.ListExtensions(ctx, cluster.ID)
	if err != nil {
		return nil, err
	}

	state := &ClusterUpgradeState{Cluster: cluster, Extensions: map[string]*ExtensionUpgradeState{}}
	for _, ext := range installed {
		moniker, ok := targets.MonikerForType(ext.Properties.ExtensionType)
		if !ok {
			continue
		}
		if _, seen := state.Extensions[moniker]; seen {
			e.logger.Warnf("Cluster %s has more than one %s extension; using %s", cluster.Name, moniker, state.Extensions[moniker].Extension.Name)
			continue
		}
		s, err := newExtensionState(moniker, ext, desired.Versions[moniker], desired.Config[moniker], overrides[moniker])
		if err != nil {
			return nil, err
		}
		state.Extensions[moniker] = s
	}
	if _, ok := state.Extensions[targets.MonikerIoTOperations]; !ok {
		return nil, opserr.New(opserr.KindInvalidState,
			"cluster %s has no %s extension", cluster.Name, targets.ExtensionType(targets.MonikerIoTOperations))
	}

	for _, s := range state.Ordered() {
		e.logger.Debugf("Extension %s (%s): current %s/%s, desired %s/%s, upgrade %t",
			s.Moniker, s.Extension.Name, s.CurrentVersion(), s.CurrentTrain(), s.Desired.Version, s.Desired.Train, s.CanUpgrade())
	}
	return state, nil
}

// Apply patches every upgradable extension in deploy order. The first failure aborts the run and
// is returned; patches already applied stay in place.
func (e *Engine) Apply(ctx context.Context, state *ClusterUpgradeState) (*executor.ExecutionResult, error) {
	upgradable := state.Upgradable()
	if len(upgradable) == 0 {
		e.logger.Info("All extensions are up to date")
		return &executor.ExecutionResult{Success: true, StepResults: []executor.StepResult{}}, nil
	}

	ctx, corr := mgmt.WithCorrelation(ctx, "upgrade")
	e.logger.Infof("Upgrading %d extensions on cluster %s (correlation id %s)", len(upgradable), state.Cluster.Name, corr.ID)

	steps := make([]executor.Step, 0, len(upgradable))
	for _, s := range upgradable {
		steps = append(steps, &extensionStep{state: s, patcher: e.patcher})
	}
	return e.runner.Run(ctx, steps, "upgrade", executor.FailFast)
}
