package clone

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.goms.io/aio/lifecycle/pkg/compat"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resourceid"
	"go.goms.io/aio/lifecycle/pkg/targets"
	"go.goms.io/aio/lifecycle/pkg/template"
)

// Symbolic resource keys. Chunked kinds are emitted as <key>s_<n>.
const (
	keyCustomLocation               = "customLocation"
	keyInstance                     = "instance"
	keyBroker                       = "broker"
	keySchemaRegistryRoleAssignment = "schemaRegistryRoleAssignment"

	chunkAuthn                = "authn"
	chunkAuthz                = "authz"
	chunkListener             = "listener"
	chunkEndpoint             = "endpoint"
	chunkProfile              = "profile"
	chunkDataflow             = "dataflow"
	chunkSecretProviderClass  = "spc"
	chunkSecretSync           = "secretSync"
	chunkAssetEndpointProfile = "assetEndpointProfile"
	chunkAsset                = "asset"

	defaultBrokerName = "default"

	// paramPrincipalID carries the extension principal into the role assignment deployment.
	paramPrincipalID = "principalId"
	// schemaRegistryRoleID is the built-in Contributor role.
	schemaRegistryRoleID = "b24988ac-6180-42a0-ab88-20f7382dd24c"
)

var extensionKeys = map[string]string{
	targets.MonikerPlatform:      "platformExtension",
	targets.MonikerACS:           "containerStorageExtension",
	targets.MonikerSecretStore:   "secretStoreExtension",
	targets.MonikerIoTOperations: "aioExtension",
}

// extensionDependencies is the install order between extensions.
var extensionDependencies = map[string][]string{
	targets.MonikerACS:           {targets.MonikerPlatform},
	targets.MonikerSecretStore:   {targets.MonikerPlatform},
	targets.MonikerIoTOperations: {targets.MonikerACS, targets.MonikerSecretStore},
}

// extensionProperties are copied from the live extension; everything else is server state.
var extensionProperties = []string{"extensionType", "version", "releaseTrain", "autoUpgradeMinorVersion", "configurationSettings", "scope"}

// snapshot is the captured state of one instance.
type snapshot struct {
	instance       *mgmt.Instance
	customLocation *mgmt.CustomLocation
	cluster        *mgmt.ConnectedCluster
	apiVersion     string
	builder        *template.Builder
	identities     []string
	listenerKeys   []string
}

type liveExtension struct {
	moniker string
	raw     mgmt.Resource
	ext     *mgmt.Extension
}

func (e *Engine) capture(ctx context.Context, opts Options) (*snapshot, error) {
	instanceID := resourceid.New(opts.SubscriptionID, opts.ResourceGroup, mgmt.IoTOperationsNamespace, "instances", opts.InstanceName).String()
	inst, raw, err := e.resolver.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := compat.EnsureCompatible(inst.Properties.Version, opts.Force); err != nil {
		return nil, err
	}
	apiVersion := compat.CurrentAPIVersion
	if compat.IsCompatible(inst.Properties.Version) {
		apiVersion = compat.APIVersionFor(inst.Properties.Version)
	} else {
		e.logger.Warnf("Cloning instance %s at unsupported version %s; resources are written with api-version %s",
			inst.Name, inst.Properties.Version, apiVersion)
	}

	cl, cluster, err := e.resolver.FromCustomLocation(ctx, inst.ExtendedLocation.Name)
	if err != nil {
		return nil, err
	}
	if !cluster.IsConnected() {
		e.logger.Warnf("Connected cluster %s is not connected (status %q); the capture reflects cloud state only",
			cluster.Name, cluster.Properties.ConnectivityStatus)
	}

	extensions, err := e.extensions(ctx, cluster, cl)
	if err != nil {
		return nil, err
	}
	ops, ok := extensions[targets.MonikerIoTOperations]
	if !ok {
		return nil, opserr.New(opserr.KindInvalidState, "cluster %s has no %s extension",
			cluster.Name, targets.ExtensionType(targets.MonikerIoTOperations))
	}

	snap := &snapshot{
		instance:       inst,
		customLocation: cl,
		cluster:        cluster,
		apiVersion:     apiVersion,
		builder:        template.NewBuilder(template.WithChunkLength(e.cfg.ChunkLength), template.WithChunkSizeKB(e.cfg.ChunkSizeKB)),
	}
	b := snap.builder
	if err := b.SetStandardParameters(template.Defaults{
		ClusterNamespace:   cl.Properties.Namespace,
		CustomLocationName: cl.Name,
		InstanceName:       inst.Name,
		OpsExtensionName:   ops.ext.Name,
		Location:           inst.Location,
		SchemaRegistryID:   inst.Properties.SchemaRegistryRef.ResourceID,
	}); err != nil {
		return nil, err
	}
	if err := b.SetMetadata("opsCliVersion", e.cliVersion); err != nil {
		return nil, err
	}
	if err := b.SetMetadata("clonedInstanceId", inst.ID); err != nil {
		return nil, err
	}

	steps := []struct {
		name string
		add  func(context.Context, *snapshot, map[string]*liveExtension, mgmt.Resource) error
	}{
		{"extensions", e.addExtensions},
		{"custom location", e.addCustomLocation},
		{"instance", e.addInstance},
		{"schema registry role assignment", e.addSchemaRegistryRoleAssignment},
		{"broker", e.addBroker},
		{"dataflows", e.addDataflows},
		{"secret sync", e.addSecretSync},
		{"assets", e.addAssets},
	}
	for _, step := range steps {
		if err := step.add(ctx, snap, extensions, raw); err != nil {
			return nil, fmt.Errorf("failed to capture %s of instance %s: %w", step.name, inst.Name, err)
		}
	}

	snap.identities = mergeIdentities(inst.UserAssignedIdentityIDs(), snap.identities)
	e.logger.Infof("Captured instance %s with %d root resources", inst.Name, len(b.Keys()))
	return snap, nil
}

// extensions returns the known extensions on the cluster, one per moniker. Extensions bound to the
// custom location win over other installs of the same type.
func (e *Engine) extensions(ctx context.Context, cluster *mgmt.ConnectedCluster, cl *mgmt.CustomLocation) (map[string]*liveExtension, error) {
	items, err := e.resources.List(ctx, cluster.ID+"/providers/"+mgmt.ExtensionResourceType, mgmt.ExtensionAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions of %s: %w", cluster.ID, err)
	}
	bound := map[string]bool{}
	for _, id := range cl.Properties.ClusterExtensionIDs {
		bound[strings.ToLower(id)] = true
	}

	out := map[string]*liveExtension{}
	for _, item := range items {
		ext, err := mgmt.DecodeExtension(item)
		if err != nil {
			return nil, err
		}
		moniker, ok := targets.MonikerForType(ext.Properties.ExtensionType)
		if !ok {
			continue
		}
		if existing, seen := out[moniker]; seen && (bound[strings.ToLower(existing.ext.ID)] || !bound[strings.ToLower(ext.ID)]) {
			continue
		}
		out[moniker] = &liveExtension{moniker: moniker, raw: item, ext: ext}
	}
	return out, nil
}

func (e *Engine) addExtensions(_ context.Context, snap *snapshot, extensions map[string]*liveExtension, _ mgmt.Resource) error {
	for _, moniker := range targets.DeployOrder {
		live, ok := extensions[moniker]
		if !ok {
			continue
		}
		props := map[string]any{}
		for _, key := range extensionProperties {
			if v, ok := live.raw.Lookup("properties." + key); ok && v != nil {
				props[key] = v
			}
		}
		body := map[string]any{
			"type":       mgmt.ExtensionResourceType,
			"apiVersion": mgmt.ExtensionAPIVersion,
			"name":       extensionName(live),
			"scope":      template.ClusterIDExpr(),
			"properties": props,
		}
		if identityType := live.raw.String("identity.type"); identityType != "" {
			body["identity"] = map[string]any{"type": identityType}
		}
		if moniker == targets.MonikerIoTOperations {
			props["scope"] = map[string]any{"cluster": map[string]any{"releaseNamespace": template.Param(template.ParamClusterNamespace)}}
		}

		var deps []string
		for _, dep := range extensionDependencies[moniker] {
			if _, ok := extensions[dep]; ok {
				deps = append(deps, extensionKeys[dep])
			}
		}
		if err := snap.builder.AddResource(extensionKeys[moniker], template.NewResourceContainer(body, deps...)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) addCustomLocation(_ context.Context, snap *snapshot, extensions map[string]*liveExtension, _ mgmt.Resource) error {
	cl := snap.customLocation
	var extensionIDs []any
	var deps []string
	for _, moniker := range targets.DeployOrder {
		live, ok := extensions[moniker]
		if !ok || !containsFold(cl.Properties.ClusterExtensionIDs, live.ext.ID) {
			continue
		}
		extensionIDs = append(extensionIDs, template.ExtensionIDExpr(extensionName(live)))
		deps = append(deps, extensionKeys[moniker])
	}
	hostType := cl.Properties.HostType
	if hostType == "" {
		hostType = "Kubernetes"
	}
	body := map[string]any{
		"type":       mgmt.CustomLocationType,
		"apiVersion": mgmt.CustomLocationAPIVersion,
		"name":       template.Param(template.ParamCustomLocationName),
		"location":   template.Param(template.ParamLocation),
		"properties": map[string]any{
			"hostResourceId":      template.ClusterIDExpr(),
			"hostType":            hostType,
			"namespace":           template.Param(template.ParamClusterNamespace),
			"displayName":         template.Param(template.ParamCustomLocationName),
			"clusterExtensionIds": extensionIDs,
		},
	}
	return snap.builder.AddResource(keyCustomLocation, template.NewResourceContainer(body, deps...))
}

func (e *Engine) addInstance(_ context.Context, snap *snapshot, _ map[string]*liveExtension, raw mgmt.Resource) error {
	src := raw.Clone()
	if props := src.Map("properties"); props != nil {
		if features, ok := props["features"].(map[string]any); ok {
			stripEmptyModes(features)
			if len(features) == 0 {
				delete(props, "features")
			}
		}
		if _, ok := props["schemaRegistryRef"]; ok {
			props["schemaRegistryRef"] = map[string]any{"resourceId": template.SchemaRegistryIDExpr()}
		}
	}
	return snap.builder.AddResource(keyInstance,
		template.FromResource(src, snap.apiVersion, template.Param(template.ParamInstanceName), keyCustomLocation))
}

func (e *Engine) addSchemaRegistryRoleAssignment(_ context.Context, snap *snapshot, extensions map[string]*liveExtension, _ mgmt.Resource) error {
	if snap.instance.Properties.SchemaRegistryRef.ResourceID == "" {
		e.logger.Warnf("Instance %s has no schema registry; skipping its role assignment", snap.instance.Name)
		return nil
	}
	sr := "parameters('" + template.ParamSchemaRegistryID + "')"
	d := template.NewDeploymentContainer(keySchemaRegistryRoleAssignment, extensionKeys[targets.MonikerIoTOperations], keyInstance)
	d.ResourceGroup = "[" + sr + ".resourceGroup]"
	d.Subscription = "[" + sr + ".subscription]"
	d.Condition = template.Param(template.ParamApplyRoleAssignments)

	// evaluated in the cluster's scope, not the registry's
	opsName := extensionName(extensions[targets.MonikerIoTOperations])
	d.Bind(paramPrincipalID, template.Parameter{Type: "string"}, template.ExtensionPrincipalExpr(opsName))
	ra := template.NewResourceContainer(map[string]any{
		"type":       mgmt.RoleAssignmentType,
		"apiVersion": mgmt.RoleAssignmentAPIVersion,
		"name":       fmt.Sprintf("[guid(%s.name, parameters('%s'), parameters('%s'))]", sr, template.ParamClusterName, template.ParamOpsExtensionName),
		"scope":      fmt.Sprintf("[format('Microsoft.DeviceRegistry/schemaRegistries/{0}', %s.name)]", sr),
		"properties": map[string]any{
			"roleDefinitionId": template.RoleDefinitionIDExpr(schemaRegistryRoleID),
			"principalId":      template.Param(paramPrincipalID),
			"principalType":    "ServicePrincipal",
		},
	})
	if err := d.AddResource("roleAssignment", ra); err != nil {
		return err
	}
	return snap.builder.AddResource(keySchemaRegistryRoleAssignment, d)
}

func (e *Engine) addBroker(ctx context.Context, snap *snapshot, _ map[string]*liveExtension, _ mgmt.Resource) error {
	brokers, err := e.resources.List(ctx, snap.instance.ID+"/brokers", snap.apiVersion)
	if err != nil {
		return err
	}
	var broker mgmt.Resource
	for _, b := range brokers {
		if strings.EqualFold(b.Name(), defaultBrokerName) {
			broker = b
			break
		}
	}
	if broker == nil {
		e.logger.Warnf("Instance %s has no default broker", snap.instance.Name)
		return nil
	}
	brokerName := broker.Name()
	if err := snap.builder.AddResource(keyBroker, template.FromResource(broker, snap.apiVersion,
		template.InstanceChildName("brokers", brokerName), keyInstance)); err != nil {
		return err
	}

	authn, err := e.children(ctx, snap, broker.ID()+"/authentications", "brokers", brokerName, "authentications")
	if err != nil {
		return err
	}
	authnKeys, err := snap.builder.AddChunked(chunkAuthn, authn, false, keyBroker)
	if err != nil {
		return err
	}
	authz, err := e.children(ctx, snap, broker.ID()+"/authorizations", "brokers", brokerName, "authorizations")
	if err != nil {
		return err
	}
	authzKeys, err := snap.builder.AddChunked(chunkAuthz, authz, false, keyBroker)
	if err != nil {
		return err
	}
	listeners, err := e.children(ctx, snap, broker.ID()+"/listeners", "brokers", brokerName, "listeners")
	if err != nil {
		return err
	}
	deps := append(append([]string{keyBroker}, authnKeys...), authzKeys...)
	snap.listenerKeys, err = snap.builder.AddChunked(chunkListener, listeners, false, deps...)
	return err
}

func (e *Engine) addDataflows(ctx context.Context, snap *snapshot, _ map[string]*liveExtension, _ mgmt.Resource) error {
	endpoints, err := e.children(ctx, snap, snap.instance.ID+"/dataflowEndpoints", "dataflowEndpoints")
	if err != nil {
		return err
	}
	endpointKeys, err := snap.builder.AddChunked(chunkEndpoint, endpoints, false, keyInstance)
	if err != nil {
		return err
	}

	profiles, err := e.resources.List(ctx, snap.instance.ID+"/dataflowProfiles", snap.apiVersion)
	if err != nil {
		return err
	}
	profileItems := make([]*template.ResourceContainer, 0, len(profiles))
	var dataflowItems []*template.ResourceContainer
	for _, p := range profiles {
		profileItems = append(profileItems, template.FromResource(p, snap.apiVersion,
			template.InstanceChildName("dataflowProfiles", p.Name())))
		flows, err := e.children(ctx, snap, p.ID()+"/dataflows", "dataflowProfiles", p.Name(), "dataflows")
		if err != nil {
			return err
		}
		dataflowItems = append(dataflowItems, flows...)
	}
	profileKeys, err := snap.builder.AddChunked(chunkProfile, profileItems, false, orInstance(endpointKeys)...)
	if err != nil {
		return err
	}
	_, err = snap.builder.AddChunked(chunkDataflow, dataflowItems, false, orInstance(append(append([]string(nil), endpointKeys...), profileKeys...))...)
	return err
}

func (e *Engine) addSecretSync(ctx context.Context, snap *snapshot, _ map[string]*liveExtension, _ mgmt.Resource) error {
	rid := resourceid.Parse(snap.instance.ID)
	rgID := resourceid.ResourceGroupID(rid.Subscription, rid.ResourceGroup)
	spcs, err := e.boundToCustomLocation(ctx, snap, rgID+"/providers/"+mgmt.SecretProviderClassType, mgmt.SecretSyncAPIVersion)
	if err != nil {
		return err
	}

	items := make([]*template.ResourceContainer, 0, len(spcs))
	names := map[string]bool{}
	clientIDs := map[string]bool{}
	for _, spc := range spcs {
		items = append(items, template.FromResource(spc, mgmt.SecretSyncAPIVersion, spc.Name()))
		names[strings.ToLower(spc.Name())] = true
		if clientID := spc.String("properties.clientId"); clientID != "" {
			clientIDs[clientID] = true
		}
	}
	spcKeys, err := snap.builder.AddChunked(chunkSecretProviderClass, items, false, keyInstance)
	if err != nil {
		return err
	}

	for _, clientID := range sortedSet(clientIDs) {
		id, err := e.resolver.IdentityByClientID(ctx, clientID)
		if err != nil {
			if opserr.Is(err, opserr.KindNotFound) {
				e.logger.Warnf("No user-assigned identity has client id %s; it will not be federated", clientID)
				continue
			}
			return err
		}
		snap.identities = append(snap.identities, id)
	}

	syncs, err := e.boundToCustomLocation(ctx, snap, rgID+"/providers/"+mgmt.SecretSyncType, mgmt.SecretSyncAPIVersion)
	if err != nil {
		return err
	}
	var syncItems []*template.ResourceContainer
	for _, s := range syncs {
		if !names[strings.ToLower(s.String("properties.secretProviderClassName"))] {
			continue
		}
		syncItems = append(syncItems, template.FromResource(s, mgmt.SecretSyncAPIVersion, s.Name()))
	}
	_, err = snap.builder.AddChunked(chunkSecretSync, syncItems, false, orInstance(spcKeys)...)
	return err
}

func (e *Engine) addAssets(ctx context.Context, snap *snapshot, _ map[string]*liveExtension, _ mgmt.Resource) error {
	rid := resourceid.Parse(snap.instance.ID)
	rgID := resourceid.ResourceGroupID(rid.Subscription, rid.ResourceGroup)

	profiles, err := e.boundToCustomLocation(ctx, snap, rgID+"/providers/"+mgmt.AssetEndpointProfileType, mgmt.DeviceRegistryAPIVersion)
	if err != nil {
		return err
	}
	profileItems := make([]*template.ResourceContainer, 0, len(profiles))
	for _, p := range profiles {
		profileItems = append(profileItems, template.FromResource(p, mgmt.DeviceRegistryAPIVersion, p.Name()))
	}
	deps := append([]string{keyInstance}, snap.listenerKeys...)
	profileKeys, err := snap.builder.AddChunked(chunkAssetEndpointProfile, profileItems, false, deps...)
	if err != nil {
		return err
	}

	assets, err := e.boundToCustomLocation(ctx, snap, rgID+"/providers/"+mgmt.AssetType, mgmt.DeviceRegistryAPIVersion)
	if err != nil {
		return err
	}
	assetItems := make([]*template.ResourceContainer, 0, len(assets))
	for _, a := range assets {
		assetItems = append(assetItems, template.FromResource(a, mgmt.DeviceRegistryAPIVersion, a.Name()))
	}
	_, err = snap.builder.AddChunked(chunkAsset, assetItems, false, orInstance(profileKeys)...)
	return err
}

// children lists a collection under the instance and names each item below the instance parameter.
func (e *Engine) children(ctx context.Context, snap *snapshot, collectionID string, segments ...string) ([]*template.ResourceContainer, error) {
	items, err := e.resources.List(ctx, collectionID, snap.apiVersion)
	if err != nil {
		return nil, err
	}
	out := make([]*template.ResourceContainer, 0, len(items))
	for _, item := range items {
		name := template.InstanceChildName(append(append([]string(nil), segments...), item.Name())...)
		out = append(out, template.FromResource(item, snap.apiVersion, name))
	}
	return out, nil
}

// boundToCustomLocation lists a resource group collection and keeps the items targeting the
// instance's custom location.
func (e *Engine) boundToCustomLocation(ctx context.Context, snap *snapshot, collectionID, apiVersion string) ([]mgmt.Resource, error) {
	items, err := e.resources.List(ctx, collectionID, apiVersion)
	if err != nil {
		return nil, err
	}
	var out []mgmt.Resource
	for _, item := range items {
		if resourceid.Equal(item.String("extendedLocation.name"), snap.customLocation.ID) {
			out = append(out, item)
		}
	}
	return out, nil
}

func extensionName(live *liveExtension) string {
	if live.moniker == targets.MonikerIoTOperations {
		return template.Param(template.ParamOpsExtensionName)
	}
	return live.ext.Name
}

// stripEmptyModes drops empty feature modes and features left with nothing set.
func stripEmptyModes(features map[string]any) {
	for name, v := range features {
		feature, ok := v.(map[string]any)
		if !ok {
			delete(features, name)
			continue
		}
		if mode, _ := feature["mode"].(string); mode == "" {
			delete(feature, "mode")
		}
		if settings, ok := feature["settings"].(map[string]any); ok && len(settings) == 0 {
			delete(feature, "settings")
		}
		if len(feature) == 0 {
			delete(features, name)
		}
	}
}

func orInstance(keys []string) []string {
	if len(keys) == 0 {
		return []string{keyInstance}
	}
	return keys
}

func containsFold(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mergeIdentities(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if seen[strings.ToLower(id)] {
				continue
			}
			seen[strings.ToLower(id)] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
