package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"go.goms.io/aio/lifecycle/pkg/auth"
	"go.goms.io/aio/lifecycle/pkg/clone"
	"go.goms.io/aio/lifecycle/pkg/config"
	"go.goms.io/aio/lifecycle/pkg/executor"
	"go.goms.io/aio/lifecycle/pkg/logger"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resolver"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
	"go.goms.io/aio/lifecycle/pkg/secretsync"
	"go.goms.io/aio/lifecycle/pkg/targets"
	"go.goms.io/aio/lifecycle/pkg/upgrade"
)

// Version information variables (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// instanceFlags are shared by every command that operates on an existing instance.
type instanceFlags struct {
	name           string
	resourceGroup  string
	subscriptionID string
}

func (f *instanceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "IoT Operations instance name (required)")
	cmd.Flags().StringVarP(&f.resourceGroup, "resource-group", "g", "", "Resource group of the instance (required)")
	cmd.Flags().StringVar(&f.subscriptionID, "subscription", "", "Subscription of the instance (defaults to azure.subscriptionId)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("resource-group")
}

// NewCloneCommand creates a new clone command
func NewCloneCommand() *cobra.Command {
	var (
		instance         instanceFlags
		outputDir        string
		linked           bool
		force            bool
		toCluster        string
		toResourceGroup  string
		toSubscription   string
		params           []string
		selfHostedIssuer bool
	)

	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Capture an instance as a deployment template",
		Long:  "Capture an IoT Operations instance and its child resources as a deployment template, write it to disk and/or replicate it onto another connected cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := clone.Options{
				InstanceName:   instance.name,
				ResourceGroup:  instance.resourceGroup,
				SubscriptionID: instance.subscriptionID,
				Force:          force,
				OutputDir:      outputDir,
				Linked:         linked,
			}
			if toCluster != "" || toResourceGroup != "" {
				values, err := parseParameters(params)
				if err != nil {
					return err
				}
				opts.Target = &clone.Target{
					ClusterName:      toCluster,
					ResourceGroup:    toResourceGroup,
					SubscriptionID:   toSubscription,
					Parameters:       values,
					SelfHostedIssuer: selfHostedIssuer,
				}
			} else if len(params) > 0 {
				return opserr.New(opserr.KindMissingArgument, "--param requires --to-cluster and --to-resource-group")
			}
			if opts.OutputDir == "" && opts.Target == nil {
				return opserr.New(opserr.KindMissingArgument, "nothing to do: set --output-dir and/or --to-cluster")
			}
			return runClone(cmd.Context(), opts)
		},
	}

	instance.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory that receives the template files")
	cmd.Flags().BoolVar(&linked, "linked", false, "Split asset and asset endpoint profile deployments into linked templates")
	cmd.Flags().BoolVar(&force, "force", false, "Clone even when the instance version is outside the supported range")
	cmd.Flags().StringVar(&toCluster, "to-cluster", "", "Connected cluster to replicate the instance onto")
	cmd.Flags().StringVar(&toResourceGroup, "to-resource-group", "", "Resource group of the target cluster")
	cmd.Flags().StringVar(&toSubscription, "to-subscription", "", "Subscription of the target cluster (defaults to azure.subscriptionId)")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Template parameter override as key=value, repeatable")
	cmd.Flags().BoolVar(&selfHostedIssuer, "self-hosted-issuer", false, "Federate identities against the cluster's self-hosted OIDC issuer")
	return cmd
}

// monikerOverrideFlags are the per-extension upgrade overrides.
type monikerOverrideFlags struct {
	version  string
	train    string
	config   []string
	syncMode string
}

// NewUpgradeCommand creates a new upgrade command
func NewUpgradeCommand() *cobra.Command {
	var (
		instance  instanceFlags
		m3        bool
		planOnly  bool
		overrides = make(map[string]*monikerOverrideFlags, len(targets.DeployOrder))
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the extensions of an instance's cluster",
		Long:  "Compare the extensions installed on the instance's cluster with the desired versions and configuration, then patch the ones that differ",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := map[string]upgrade.Override{}
			for _, moniker := range targets.DeployOrder {
				if !overrideChanged(cmd, moniker) {
					continue
				}
				f := overrides[moniker]
				o, err := upgrade.ParseOverride(f.version, f.train, f.config, f.syncMode)
				if err != nil {
					return fmt.Errorf("invalid overrides for %s: %w", moniker, err)
				}
				parsed[moniker] = o
			}
			return runUpgrade(cmd.Context(), instance, m3, parsed, planOnly)
		},
	}

	instance.register(cmd)
	cmd.Flags().BoolVar(&m3, "m3", false, "Target the 1.0 release line instead of the current one")
	cmd.Flags().BoolVar(&planOnly, "plan", false, "Print the upgrade plan without applying it")
	for _, moniker := range targets.DeployOrder {
		f := &monikerOverrideFlags{}
		overrides[moniker] = f
		cmd.Flags().StringVar(&f.version, moniker+"-version", "", "Version override for "+moniker)
		cmd.Flags().StringVar(&f.train, moniker+"-train", "", "Release train override for "+moniker)
		cmd.Flags().StringArrayVar(&f.config, moniker+"-config", nil, "Configuration setting for "+moniker+" as key=value, repeatable")
		cmd.Flags().StringVar(&f.syncMode, moniker+"-sync-mode", "", "Configuration sync mode for "+moniker+": None or Full")
	}
	return cmd
}

func overrideChanged(cmd *cobra.Command, moniker string) bool {
	for _, suffix := range []string{"-version", "-train", "-config", "-sync-mode"} {
		if cmd.Flags().Changed(moniker + suffix) {
			return true
		}
	}
	return false
}

// NewSecretSyncCommand creates the secretsync command group
func NewSecretSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secretsync",
		Short: "Manage secret sync for an instance",
	}
	cmd.AddCommand(newSecretSyncEnableCommand())
	cmd.AddCommand(newSecretSyncDisableCommand())
	return cmd
}

func newSecretSyncEnableCommand() *cobra.Command {
	var (
		instance instanceFlags
		opts     secretsync.EnableOptions
	)

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable secret sync from a key vault",
		Long:  "Assign key vault roles to a user-assigned identity, federate it with the secret sync service account and create the secret provider class",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.InstanceName = instance.name
			opts.ResourceGroup = instance.resourceGroup
			opts.SubscriptionID = instance.subscriptionID
			return runSecretSyncEnable(cmd.Context(), opts)
		},
	}

	instance.register(cmd)
	cmd.Flags().StringVar(&opts.IdentityID, "mi-user-assigned", "", "Resource id of the user-assigned identity (required)")
	cmd.Flags().StringVar(&opts.KeyVaultID, "kv-resource-id", "", "Resource id of the key vault (required)")
	cmd.Flags().StringVar(&opts.CustomRoleID, "custom-role-id", "", "Role definition to assign instead of the built-in key vault roles")
	cmd.Flags().BoolVar(&opts.SkipRoleAssignments, "skip-ra", false, "Skip the key vault role assignments")
	cmd.Flags().BoolVar(&opts.SelfHostedIssuer, "self-hosted-issuer", false, "Federate against the cluster's self-hosted OIDC issuer")
	cmd.Flags().StringVar(&opts.SPCName, "spc-name", "", "Secret provider class name (defaults to a name derived from the instance)")
	_ = cmd.MarkFlagRequired("mi-user-assigned")
	_ = cmd.MarkFlagRequired("kv-resource-id")
	return cmd
}

func newSecretSyncDisableCommand() *cobra.Command {
	var (
		instance         instanceFlags
		selfHostedIssuer bool
	)

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable secret sync",
		Long:  "Delete the secret provider classes and secret syncs bound to the instance's custom location and remove the federated credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSecretSyncDisable(cmd.Context(), secretsync.DisableOptions{
				InstanceName:     instance.name,
				ResourceGroup:    instance.resourceGroup,
				SubscriptionID:   instance.subscriptionID,
				SelfHostedIssuer: selfHostedIssuer,
			})
		},
	}

	instance.register(cmd)
	cmd.Flags().BoolVar(&selfHostedIssuer, "self-hosted-issuer", false, "The credentials were federated against the self-hosted OIDC issuer")
	return cmd
}

// NewTargetsCommand creates a command that prints the sanitized deployment targets
func NewTargetsCommand() *cobra.Command {
	var (
		opts         targets.Options
		manifestPath string
		broker       = map[string]*string{}
	)

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Print the deployment parameters for a new instance",
		Long:  "Sanitize cluster, instance and broker inputs and print the resulting deployment parameters and extension versions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath != "" {
				manifest, err := targets.LoadManifest(manifestPath)
				if err != nil {
					return err
				}
				opts.Manifest = manifest
			}
			// unset cardinality flags keep the package defaults
			setIfChanged := func(flag string, dst *any) {
				if cmd.Flags().Changed(flag) {
					*dst = *broker[flag]
				}
			}
			setIfChanged("broker-frontend-replicas", &opts.FrontendReplicas)
			setIfChanged("broker-frontend-workers", &opts.FrontendWorkers)
			setIfChanged("broker-backend-redundancy-factor", &opts.BackendRedundancyFactor)
			setIfChanged("broker-backend-workers", &opts.BackendWorkers)
			setIfChanged("broker-backend-partitions", &opts.BackendPartitions)
			return runTargets(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.ClusterName, "cluster", "", "Connected cluster name (required)")
	cmd.Flags().StringVar(&opts.ClusterNamespace, "cluster-namespace", "", "Namespace IoT Operations is installed into")
	cmd.Flags().StringVar(&opts.CustomLocationName, "custom-location", "", "Custom location name")
	cmd.Flags().StringVarP(&opts.InstanceName, "name", "n", "", "Instance name")
	cmd.Flags().StringVarP(&opts.ResourceGroup, "resource-group", "g", "", "Resource group")
	cmd.Flags().StringVar(&opts.Location, "location", "", "Region of the instance")
	cmd.Flags().StringVar(&opts.SchemaRegistryID, "sr-resource-id", "", "Schema registry resource id")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Instance description")
	cmd.Flags().StringVar(&opts.MemoryProfile, "broker-mem-profile", "", "Broker memory profile: Tiny, Low, Medium or High")
	cmd.Flags().StringVar(&opts.ServiceType, "broker-service-type", "", "Broker service type: ClusterIp, LoadBalancer or NodePort")
	cmd.Flags().StringArrayVar(&opts.Features, "feature", nil, "Instance feature as component.mode=Value or component.settings.name=Value, repeatable")
	cmd.Flags().BoolVar(&opts.M3, "m3", false, "Use the 1.0 release line versions")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Desired-state manifest (YAML) merged over the built-in versions")
	for _, flag := range []string{
		"broker-frontend-replicas",
		"broker-frontend-workers",
		"broker-backend-redundancy-factor",
		"broker-backend-workers",
		"broker-backend-partitions",
	} {
		broker[flag] = cmd.Flags().String(flag, "", "Broker cardinality: "+strings.ReplaceAll(strings.TrimPrefix(flag, "broker-"), "-", " "))
	}
	_ = cmd.MarkFlagRequired("cluster")
	return cmd
}

// NewVersionCommand creates a new version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display version, build commit, and build time information",
		Run: func(cmd *cobra.Command, args []string) {
			runVersion()
		},
	}

	return cmd
}

// runVersion displays version information
func runVersion() {
	fmt.Printf("Azure IoT Operations lifecycle manager\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
}

// newClients authenticates and builds the management-plane clients for the loaded config
func newClients(ctx context.Context) (*config.Config, *mgmt.Clients, error) {
	log := logger.GetLoggerFromContext(ctx)
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration has not been loaded")
	}

	provider := auth.NewAuthProvider()
	cred, err := provider.UserCredential(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := provider.Verify(ctx, cred); err != nil {
		return nil, nil, err
	}
	clients, err := mgmt.NewClients(cred, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create management clients: %w", err)
	}
	return cfg, clients, nil
}

// runClone captures, writes and replicates an instance
func runClone(ctx context.Context, opts clone.Options) error {
	log := logger.GetLoggerFromContext(ctx)
	cfg, clients, err := newClients(ctx)
	if err != nil {
		return err
	}

	engine := clone.New(clients, cfg.Clone, Version, log)
	out, err := engine.Clone(ctx, opts)
	if out != nil && out.Replication != nil {
		if resultErr := handleExecutionResult(out.Replication, "clone replication", log); resultErr != nil && err == nil {
			err = resultErr
		}
	}
	if err != nil {
		return err
	}

	for _, f := range out.Files {
		fmt.Println(f)
	}
	if len(out.Identities) > 0 {
		log.Infof("Instance uses %d user-assigned identities: %s", len(out.Identities), strings.Join(out.Identities, ", "))
	}
	return nil
}

// runUpgrade analyzes and applies extension upgrades for an instance
func runUpgrade(ctx context.Context, instance instanceFlags, m3 bool, overrides map[string]upgrade.Override, planOnly bool) error {
	log := logger.GetLoggerFromContext(ctx)
	cfg, clients, err := newClients(ctx)
	if err != nil {
		return err
	}

	var manifest *targets.Manifest
	if cfg.Upgrade.ManifestPath != "" {
		if manifest, err = targets.LoadManifest(cfg.Upgrade.ManifestPath); err != nil {
			return err
		}
	}
	desired, err := targets.Desired(m3, manifest)
	if err != nil {
		return err
	}

	subscriptionID := instance.subscriptionID
	if subscriptionID == "" {
		subscriptionID = clients.SubscriptionID
	}
	res := resolver.New(clients.Graph, clients.Resources, log)
	instanceID := resourceid.New(subscriptionID, instance.resourceGroup, "Microsoft.IoTOperations", "instances", instance.name).String()
	inst, _, err := res.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	engine := upgrade.New(res, clients.PatchResources, log)
	state, err := engine.Analyze(ctx, inst, desired, overrides)
	if err != nil {
		return err
	}
	fmt.Print(state.Summary())
	if planOnly {
		return nil
	}

	result, err := engine.Apply(ctx, state)
	if result != nil {
		if resultErr := handleExecutionResult(result, "upgrade", log); resultErr != nil && err == nil {
			err = resultErr
		}
	}
	return err
}

func runSecretSyncEnable(ctx context.Context, opts secretsync.EnableOptions) error {
	log := logger.GetLoggerFromContext(ctx)
	_, clients, err := newClients(ctx)
	if err != nil {
		return err
	}

	result, err := secretsync.New(clients, log).Enable(ctx, opts)
	if err != nil {
		return err
	}
	if !result.Created {
		log.Infof("Secret sync is already enabled (secret provider class %s)", result.SecretProviderClass.ID())
	}
	return printJSON(result.SecretProviderClass)
}

func runSecretSyncDisable(ctx context.Context, opts secretsync.DisableOptions) error {
	log := logger.GetLoggerFromContext(ctx)
	_, clients, err := newClients(ctx)
	if err != nil {
		return err
	}

	result, err := secretsync.New(clients, log).Disable(ctx, opts)
	if err != nil {
		return err
	}
	log.Infof("Removed %d resources and %d federated credentials", len(result.Deleted), result.CredentialsRemoved)
	return nil
}

func runTargets(ctx context.Context, opts targets.Options) error {
	t, err := targets.New(opts)
	if err != nil {
		return err
	}
	logger.GetLoggerFromContext(ctx).Debugf("Resolved targets: %s", t)
	return printJSON(map[string]any{
		"parameters": t.InstanceParameters(),
		"extensions": t.GetExtensionVersions(),
	})
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

// parseParameters turns key=value entries into template parameter values. Integers and booleans
// are coerced; everything else stays a string.
func parseParameters(entries []string) (map[string]any, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(entries))
	for _, entry := range entries {
		key, raw, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, opserr.New(opserr.KindConfig, "invalid parameter %q; expected key=value", entry)
		}
		values[key] = coerce(raw)
	}
	return values, nil
}

func coerce(raw string) any {
	if strings.EqualFold(raw, "true") || strings.EqualFold(raw, "false") {
		return cast.ToBool(strings.ToLower(raw))
	}
	// leading zeros stay strings: "007" is a name, not 7
	if raw == "0" || (raw != "" && raw[0] != '0') {
		if n, err := cast.ToInt64E(raw); err == nil {
			return n
		}
	}
	return raw
}

// handleExecutionResult processes and logs execution results
func handleExecutionResult(result *executor.ExecutionResult, operation string, logger *logrus.Logger) error {
	if result == nil {
		return fmt.Errorf("%s result is nil", operation)
	}

	if result.Success {
		logger.Infof("%s completed successfully (duration: %v, steps: %d)",
			operation, result.Duration, result.StepCount)
		return nil
	}

	for _, s := range result.StepResults {
		if !s.Success && !s.Skipped {
			logger.Errorf("%s: step %s failed: %s", operation, s.StepName, s.Error)
		}
	}
	return fmt.Errorf("%s failed: %s", operation, result.Error)
}

// exitCode maps input errors to 2 and everything else to 1.
func exitCode(err error) int {
	for _, kind := range []opserr.Kind{opserr.KindMissingArgument, opserr.KindConfig, opserr.KindAmbiguous} {
		if opserr.Is(err, kind) {
			return 2
		}
	}
	return 1
}
