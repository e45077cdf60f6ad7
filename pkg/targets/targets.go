package targets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/opserr"
)

// DefaultClusterNamespace is where IoT Operations is installed unless told otherwise.
const DefaultClusterNamespace = "azure-iot-operations"

var (
	featureModeKey     = regexp.MustCompile(`^(\w+)\.mode$`)
	featureSettingKey  = regexp.MustCompile(`^(\w+)\.settings\.([^.\s]+)$`)
	featureModeValues  = []string{"Stable", "Preview", "Disabled"}
	featureSettingVals = []string{"Enabled", "Disabled"}
)

// Options are the raw bootstrap inputs. Cardinality values may be any scalar that coerces to int.
type Options struct {
	ClusterName        string
	ClusterNamespace   string
	CustomLocationName string
	InstanceName       string
	ResourceGroup      string
	Location           string
	SchemaRegistryID   string
	Description        string

	FrontendReplicas        any
	FrontendWorkers         any
	BackendRedundancyFactor any
	BackendWorkers          any
	BackendPartitions       any
	MemoryProfile           string
	ServiceType             string

	Features []string
	M3       bool
	Manifest *Manifest
}

// BrokerCardinality sizes the default broker.
type BrokerCardinality struct {
	FrontendReplicas        int    `json:"frontendReplicas" validate:"min=1,max=16"`
	FrontendWorkers         int    `json:"frontendWorkers" validate:"min=1,max=16"`
	BackendRedundancyFactor int    `json:"backendRedundancyFactor" validate:"min=1,max=5"`
	BackendWorkers          int    `json:"backendWorkers" validate:"min=1,max=16"`
	BackendPartitions       int    `json:"backendPartitions" validate:"min=1,max=16"`
	MemoryProfile           string `json:"memoryProfile" validate:"oneof=Tiny Low Medium High"`
	ServiceType             string `json:"serviceType" validate:"oneof=ClusterIp LoadBalancer NodePort"`
}

// InitTargets is the sanitized desired state of a new or upgraded deployment.
type InitTargets struct {
	ClusterName        string
	ClusterNamespace   string
	CustomLocationName string
	InstanceName       string
	ResourceGroup      string
	Location           string
	SchemaRegistryID   string
	Description        string
	Broker             BrokerCardinality
	Features           map[string]mgmt.InstanceFeature
	Desired            DesiredState
}

var validate = validator.New()

// New sanitizes opts. Names are lower-cased with '_' replaced by '-'.
func New(opts Options) (*InitTargets, error) {
	if opts.ClusterName == "" {
		return nil, opserr.New(opserr.KindMissingArgument, "cluster name is required")
	}
	t := &InitTargets{
		ClusterName:        Sanitize(opts.ClusterName),
		ClusterNamespace:   Sanitize(opts.ClusterNamespace),
		CustomLocationName: Sanitize(opts.CustomLocationName),
		InstanceName:       Sanitize(opts.InstanceName),
		ResourceGroup:      opts.ResourceGroup,
		Location:           opts.Location,
		SchemaRegistryID:   opts.SchemaRegistryID,
		Description:        opts.Description,
	}
	if t.ClusterNamespace == "" {
		t.ClusterNamespace = DefaultClusterNamespace
	}
	if t.CustomLocationName == "" {
		t.CustomLocationName = "location-" + shortHash(t.ClusterName+opts.ResourceGroup)
	}
	if t.InstanceName == "" {
		t.InstanceName = t.ClusterName + "-ops-instance"
	}

	broker, err := brokerCardinality(opts)
	if err != nil {
		return nil, err
	}
	t.Broker = broker

	if t.Features, err = ParseFeatures(opts.Features); err != nil {
		return nil, err
	}
	if t.Desired, err = Desired(opts.M3, opts.Manifest); err != nil {
		return nil, err
	}
	return t, nil
}

// Sanitize lower-cases s and replaces underscores with dashes.
func Sanitize(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

// GetExtensionVersions returns the desired version and train per moniker.
func (t *InitTargets) GetExtensionVersions() map[string]VersionTrain {
	out := make(map[string]VersionTrain, len(t.Desired.Versions))
	for moniker, vt := range t.Desired.Versions {
		out[moniker] = vt
	}
	return out
}

// InstanceParameters projects the targets onto deployment parameter values.
func (t *InitTargets) InstanceParameters() map[string]any {
	params := map[string]any{
		"clusterName":        t.ClusterName,
		"clusterNamespace":   t.ClusterNamespace,
		"customLocationName": t.CustomLocationName,
		"instanceName":       t.InstanceName,
		"brokerConfig": map[string]any{
			"frontendReplicas":        t.Broker.FrontendReplicas,
			"frontendWorkers":         t.Broker.FrontendWorkers,
			"backendRedundancyFactor": t.Broker.BackendRedundancyFactor,
			"backendWorkers":          t.Broker.BackendWorkers,
			"backendPartitions":       t.Broker.BackendPartitions,
			"memoryProfile":           t.Broker.MemoryProfile,
			"serviceType":             t.Broker.ServiceType,
		},
	}
	if t.Location != "" {
		params["location"] = t.Location
	}
	if t.SchemaRegistryID != "" {
		params["schemaRegistryId"] = t.SchemaRegistryID
	}
	if len(t.Features) > 0 {
		features := make(map[string]any, len(t.Features))
		for name, f := range t.Features {
			entry := map[string]any{}
			if f.Mode != "" {
				entry["mode"] = f.Mode
			}
			if len(f.Settings) > 0 {
				entry["settings"] = f.Settings
			}
			features[name] = entry
		}
		params["features"] = features
	}
	return params
}

// ParseFeatures parses "component.mode=Value" and "component.settings.name=Value" entries.
func ParseFeatures(entries []string) (map[string]mgmt.InstanceFeature, error) {
	out := map[string]mgmt.InstanceFeature{}
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, opserr.New(opserr.KindConfig, "feature %q must be in the form key=value", entry)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		if m := featureModeKey.FindStringSubmatch(key); m != nil {
			if !contains(featureModeValues, value) {
				return nil, opserr.New(opserr.KindConfig, "feature %q: mode must be one of %s, got %q",
					key, strings.Join(featureModeValues, ", "), value)
			}
			f := out[m[1]]
			f.Mode = value
			out[m[1]] = f
			continue
		}
		if m := featureSettingKey.FindStringSubmatch(key); m != nil {
			if !contains(featureSettingVals, value) {
				return nil, opserr.New(opserr.KindConfig, "feature %q: setting must be one of %s, got %q",
					key, strings.Join(featureSettingVals, ", "), value)
			}
			f := out[m[1]]
			if f.Settings == nil {
				f.Settings = map[string]string{}
			}
			f.Settings[m[2]] = value
			out[m[1]] = f
			continue
		}
		return nil, opserr.New(opserr.KindConfig, "feature key %q must look like <component>.mode or <component>.settings.<name>", key)
	}
	return out, nil
}

// FeatureNames returns the parsed feature components sorted.
func FeatureNames(features map[string]mgmt.InstanceFeature) []string {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func brokerCardinality(opts Options) (BrokerCardinality, error) {
	b := BrokerCardinality{
		MemoryProfile: opts.MemoryProfile,
		ServiceType:   opts.ServiceType,
	}
	if b.MemoryProfile == "" {
		b.MemoryProfile = "Medium"
	}
	if b.ServiceType == "" {
		b.ServiceType = "ClusterIp"
	}

	fields := []struct {
		name  string
		value any
		dst   *int
	}{
		{"frontendReplicas", opts.FrontendReplicas, &b.FrontendReplicas},
		{"frontendWorkers", opts.FrontendWorkers, &b.FrontendWorkers},
		{"backendRedundancyFactor", opts.BackendRedundancyFactor, &b.BackendRedundancyFactor},
		{"backendWorkers", opts.BackendWorkers, &b.BackendWorkers},
		{"backendPartitions", opts.BackendPartitions, &b.BackendPartitions},
	}
	for _, f := range fields {
		if f.value == nil || f.value == "" {
			*f.dst = 2
			continue
		}
		n, err := cast.ToIntE(f.value)
		if err != nil {
			return b, opserr.Wrap(opserr.KindConfig, err, "broker %s must be an integer", f.name)
		}
		*f.dst = n
	}

	if err := validate.Struct(b); err != nil {
		return b, opserr.Wrap(opserr.KindConfig, err, "invalid broker configuration")
	}
	return b, nil
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:5]
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// String renders the targets for logs.
func (t *InitTargets) String() string {
	return fmt.Sprintf("cluster=%s namespace=%s customLocation=%s instance=%s",
		t.ClusterName, t.ClusterNamespace, t.CustomLocationName, t.InstanceName)
}
