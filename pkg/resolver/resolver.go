package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"go.goms.io/aio/lifecycle/pkg/compat"
	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
	"go.goms.io/aio/lifecycle/pkg/resourcegraph"
)

// IoTOperationsExtensionType is the extension type that makes a custom location usable.
const IoTOperationsExtensionType = "microsoft.iotoperations"

// ExtendedLocation is the {type, name} pair resources use to target a custom location.
type ExtendedLocation struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Target describes what to resolve. At least one of ClusterName and CustomLocationName is required.
type Target struct {
	ClusterName        string
	CustomLocationName string
	ResourceGroup      string
	ExtensionType      string
}

// Result is the unique usable custom location and the cluster hosting it.
type Result struct {
	ExtendedLocation ExtendedLocation
	CustomLocation   *mgmt.CustomLocation
	Cluster          *mgmt.ConnectedCluster
	Extensions       []*mgmt.Extension
}

// Resolver locates custom locations and their connected clusters.
type Resolver struct {
	graph     resourcegraph.Querier
	resources mgmt.ResourceAPI
	logger    *logrus.Logger
}

// New creates a resolver.
func New(graph resourcegraph.Querier, resources mgmt.ResourceAPI, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{graph: graph, resources: resources, logger: logger}
}

// Resolve returns the single custom location bound to the named cluster and/or named custom
// location whose extensions include target.ExtensionType.
func (r *Resolver) Resolve(ctx context.Context, target Target) (*Result, error) {
	if target.ClusterName == "" && target.CustomLocationName == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "a cluster name or a custom location name is required")
	}
	if target.ExtensionType == "" {
		target.ExtensionType = IoTOperationsExtensionType
	}

	var cluster *mgmt.ConnectedCluster
	if target.ClusterName != "" {
		clusters, err := r.queryClusters(ctx, newQuery(mgmt.ConnectedClusterType).
			where("name", target.ClusterName).
			where("resourceGroup", target.ResourceGroup))
		if err != nil {
			return nil, err
		}
		switch {
		case len(clusters) == 0:
			return nil, opserr.New(opserr.KindNotFound, "connected cluster %q not found", target.ClusterName)
		case len(clusters) > 1 && target.ResourceGroup == "":
			return nil, opserr.New(opserr.KindAmbiguous,
				"found %d connected clusters named %q; provide a resource group", len(clusters), target.ClusterName)
		}
		cluster = clusters[0]
	}

	clQuery := newQuery(mgmt.CustomLocationType).where("name", target.CustomLocationName)
	if cluster != nil {
		clQuery.where("properties.hostResourceId", cluster.ID)
	} else {
		clQuery.where("resourceGroup", target.ResourceGroup)
	}
	candidates, err := r.queryCustomLocations(ctx, clQuery)
	if err != nil {
		return nil, err
	}
	switch {
	case len(candidates) == 0:
		return nil, opserr.New(opserr.KindNotFound, "no custom location found for %s", describe(target))
	case len(candidates) > 1 && target.ClusterName == "":
		return nil, opserr.New(opserr.KindAmbiguous,
			"found %d custom locations named %q; provide a cluster name", len(candidates), target.CustomLocationName)
	}

	if cluster == nil {
		hostID := candidates[0].Properties.HostResourceID
		clusters, err := r.queryClusters(ctx, newQuery(mgmt.ConnectedClusterType).where("id", hostID))
		if err != nil {
			return nil, err
		}
		if len(clusters) == 0 {
			return nil, opserr.New(opserr.KindInvalidState,
				"custom location %q is hosted on cluster %q which could not be found", candidates[0].Name, hostID)
		}
		cluster = clusters[0]
	}

	if !cluster.IsConnected() {
		r.logger.Warnf("Connected cluster %s is not connected (status %q); cloud operations may not reach it",
			cluster.Name, cluster.Properties.ConnectivityStatus)
	}

	var usable []*Result
	for _, cl := range candidates {
		extensions, matched, err := r.customLocationExtensions(ctx, cl, target.ExtensionType)
		if err != nil {
			return nil, err
		}
		if matched {
			usable = append(usable, &Result{
				ExtendedLocation: ExtendedLocation{Type: mgmt.ExtendedLocationCustomType, Name: cl.ID},
				CustomLocation:   cl,
				Cluster:          cluster,
				Extensions:       extensions,
			})
		}
	}

	switch len(usable) {
	case 0:
		return nil, opserr.New(opserr.KindMissingExtension,
			"no custom location for %s has an extension of type %s", describe(target), target.ExtensionType)
	case 1:
		return usable[0], nil
	default:
		return nil, opserr.New(opserr.KindAmbiguous,
			"found %d custom locations on cluster %q with an extension of type %s; provide a custom location name",
			len(usable), cluster.Name, target.ExtensionType)
	}
}

// GetInstance fetches an instance by id and returns it both typed and raw.
// Every supported instance answers to the legacy api-version, so reads use it.
func (r *Resolver) GetInstance(ctx context.Context, instanceID string) (*mgmt.Instance, mgmt.Resource, error) {
	res, err := r.resources.Get(ctx, instanceID, compat.LegacyAPIVersion)
	if err != nil {
		if opserr.IsNotFound(err) {
			return nil, nil, opserr.Wrap(opserr.KindNotFound, err, "instance %s not found", instanceID)
		}
		return nil, nil, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}
	inst, err := mgmt.DecodeInstance(res)
	if err != nil {
		return nil, nil, err
	}
	return inst, res, nil
}

// IdentityByClientID returns the id of the user-assigned identity with the given client id.
func (r *Resolver) IdentityByClientID(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		return "", opserr.New(opserr.KindMissingArgument, "a client id is required")
	}
	q := newQuery(mgmt.UserAssignedIdentityType).where("properties.clientId", clientID)
	rows, err := r.graph.Query(ctx, q.String())
	if err != nil {
		return "", fmt.Errorf("failed to query user-assigned identities: %w", err)
	}
	switch len(rows) {
	case 0:
		return "", opserr.New(opserr.KindNotFound, "no user-assigned identity with client id %s", clientID)
	case 1:
		return mgmt.Resource(rows[0]).ID(), nil
	default:
		return "", opserr.New(opserr.KindAmbiguous, "found %d user-assigned identities with client id %s", len(rows), clientID)
	}
}

// GetCluster fetches a connected cluster by id.
func (r *Resolver) GetCluster(ctx context.Context, clusterID string) (*mgmt.ConnectedCluster, error) {
	res, err := r.resources.Get(ctx, clusterID, mgmt.ConnectedClusterAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to get connected cluster %s: %w", clusterID, err)
	}
	return mgmt.DecodeConnectedCluster(res)
}

// GetCustomLocation fetches a custom location by id.
func (r *Resolver) GetCustomLocation(ctx context.Context, customLocationID string) (*mgmt.CustomLocation, error) {
	res, err := r.resources.Get(ctx, customLocationID, mgmt.CustomLocationAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to get custom location %s: %w", customLocationID, err)
	}
	return mgmt.DecodeCustomLocation(res)
}

// FromCustomLocation returns a custom location together with its host cluster.
func (r *Resolver) FromCustomLocation(ctx context.Context, customLocationID string) (*mgmt.CustomLocation, *mgmt.ConnectedCluster, error) {
	cl, err := r.GetCustomLocation(ctx, customLocationID)
	if err != nil {
		return nil, nil, err
	}
	cluster, err := r.GetCluster(ctx, cl.Properties.HostResourceID)
	if err != nil {
		return nil, nil, err
	}
	return cl, cluster, nil
}

// CheckConnectivity warns when the custom location or its cluster cannot be confirmed as connected.
// It never fails; it reports whether the cluster was found connected.
func (r *Resolver) CheckConnectivity(ctx context.Context, customLocationID string) bool {
	cl, err := r.GetCustomLocation(ctx, customLocationID)
	if err != nil {
		r.logger.Warnf("Unable to find custom location %s to check cluster connectivity: %v", customLocationID, err)
		return false
	}
	cluster, err := r.GetCluster(ctx, cl.Properties.HostResourceID)
	if err != nil {
		r.logger.Warnf("Unable to find cluster %s to check connectivity: %v", cl.Properties.HostResourceID, err)
		return false
	}
	if !cluster.IsConnected() {
		r.logger.Warnf("Connected cluster %s is not connected (status %q)", cluster.Name, cluster.Properties.ConnectivityStatus)
		return false
	}
	return true
}

// ListExtensions returns every extension installed on a cluster.
func (r *Resolver) ListExtensions(ctx context.Context, clusterID string) ([]*mgmt.Extension, error) {
	items, err := r.resources.List(ctx, clusterID+"/providers/"+mgmt.ExtensionResourceType, mgmt.ExtensionAPIVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to list extensions of %s: %w", clusterID, err)
	}
	out := make([]*mgmt.Extension, 0, len(items))
	for _, item := range items {
		ext, err := mgmt.DecodeExtension(item)
		if err != nil {
			return nil, err
		}
		out = append(out, ext)
	}
	return out, nil
}

func (r *Resolver) customLocationExtensions(ctx context.Context, cl *mgmt.CustomLocation, extensionType string) ([]*mgmt.Extension, bool, error) {
	var extensions []*mgmt.Extension
	matched := false
	for _, extID := range cl.Properties.ClusterExtensionIDs {
		res, err := r.resources.Get(ctx, extID, mgmt.ExtensionAPIVersion)
		if err != nil {
			if opserr.IsNotFound(err) {
				r.logger.Debugf("Extension %s referenced by custom location %s no longer exists", extID, cl.Name)
				continue
			}
			return nil, false, fmt.Errorf("failed to get extension %s: %w", extID, err)
		}
		ext, err := mgmt.DecodeExtension(res)
		if err != nil {
			return nil, false, err
		}
		extensions = append(extensions, ext)
		if strings.EqualFold(ext.Properties.ExtensionType, extensionType) {
			matched = true
		}
	}
	return extensions, matched, nil
}

func (r *Resolver) queryClusters(ctx context.Context, q *query) ([]*mgmt.ConnectedCluster, error) {
	rows, err := r.graph.Query(ctx, q.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query connected clusters: %w", err)
	}
	out := make([]*mgmt.ConnectedCluster, 0, len(rows))
	for _, row := range rows {
		c, err := mgmt.DecodeConnectedCluster(mgmt.Resource(row))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Resolver) queryCustomLocations(ctx context.Context, q *query) ([]*mgmt.CustomLocation, error) {
	rows, err := r.graph.Query(ctx, q.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query custom locations: %w", err)
	}
	out := make([]*mgmt.CustomLocation, 0, len(rows))
	for _, row := range rows {
		cl, err := mgmt.DecodeCustomLocation(mgmt.Resource(row))
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, nil
}

func describe(t Target) string {
	var parts []string
	if t.ClusterName != "" {
		parts = append(parts, fmt.Sprintf("cluster %q", t.ClusterName))
	}
	if t.CustomLocationName != "" {
		parts = append(parts, fmt.Sprintf("custom location %q", t.CustomLocationName))
	}
	return strings.Join(parts, " and ")
}
