package upgrade

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	jsonpatch "github.com/evanphx/json-patch"

	"go.goms.io/aio/lifecycle/pkg/mgmt"
	"go.goms.io/aio/lifecycle/pkg/targets"
)

// SyncMode controls how desired configuration is reconciled with the installed one.
type SyncMode string

const (
	// SyncNone leaves installed configuration alone.
	SyncNone SyncMode = "None"
	// SyncFull converges installed configuration to the desired map, removing extra keys.
	SyncFull SyncMode = "Full"
)

// Override pins an extension regardless of the desired state.
type Override struct {
	Version  string
	Train    string
	Config   map[string]string
	SyncMode SyncMode
}

// ExtensionUpgradeState pairs one installed extension with its desired state.
type ExtensionUpgradeState struct {
	Moniker       string
	Extension     *mgmt.Extension
	Desired       targets.VersionTrain
	DesiredConfig map[string]string
	Override      Override

	delta map[string]any
}

func newExtensionState(moniker string, ext *mgmt.Extension, desired targets.VersionTrain, config map[string]string, override Override) (*ExtensionUpgradeState, error) {
	s := &ExtensionUpgradeState{
		Moniker:       moniker,
		Extension:     ext,
		Desired:       desired,
		DesiredConfig: copyStrings(config),
		Override:      override,
	}
	if s.Override.SyncMode == "" {
		s.Override.SyncMode = SyncNone
	}
	delta, err := ConfigDelta(ext.Properties.ConfigurationSettings, s.DesiredConfig, s.Override.SyncMode)
	if err != nil {
		return nil, fmt.Errorf("failed to compute configuration delta of %s: %w", moniker, err)
	}
	s.delta = delta
	return s, nil
}

// CurrentVersion is the installed version.
func (s *ExtensionUpgradeState) CurrentVersion() string {
	return s.Extension.Properties.Version
}

// CurrentTrain is the installed release train.
func (s *ExtensionUpgradeState) CurrentTrain() string {
	return s.Extension.Properties.ReleaseTrain
}

// TargetVersion is the version the extension is patched to, or "" when it stays.
func (s *ExtensionUpgradeState) TargetVersion() string {
	if s.Override.Version != "" {
		return s.Override.Version
	}
	if newer(s.Desired.Version, s.CurrentVersion()) {
		return s.Desired.Version
	}
	return ""
}

// TargetTrain is the release train the extension is moved to, or "" when it stays.
func (s *ExtensionUpgradeState) TargetTrain() string {
	if s.Override.Train != "" {
		return s.Override.Train
	}
	if s.Desired.Train != "" && !strings.EqualFold(s.Desired.Train, s.CurrentTrain()) {
		return s.Desired.Train
	}
	return ""
}

// ConfigurationSettings is the configuration delta merged with the override config.
func (s *ExtensionUpgradeState) ConfigurationSettings() map[string]any {
	out := make(map[string]any, len(s.delta)+len(s.Override.Config))
	for k, v := range s.delta {
		out[k] = v
	}
	for k, v := range s.Override.Config {
		out[k] = v
	}
	return out
}

// CanUpgrade reports whether any of version, train or configuration must change.
func (s *ExtensionUpgradeState) CanUpgrade() bool {
	return s.TargetVersion() != "" || s.TargetTrain() != "" || s.Override.Config != nil || len(s.delta) > 0
}

// Patch is the PATCH body, or nil when nothing changes.
func (s *ExtensionUpgradeState) Patch() mgmt.Resource {
	if !s.CanUpgrade() {
		return nil
	}
	props := map[string]any{}
	if v := s.TargetVersion(); v != "" {
		props["version"] = v
	}
	if t := s.TargetTrain(); t != "" {
		props["releaseTrain"] = t
	}
	if settings := s.ConfigurationSettings(); len(settings) > 0 {
		props["configurationSettings"] = settings
	}
	return mgmt.Resource{"properties": props}
}

// ClusterUpgradeState is the upgrade plan of one cluster.
type ClusterUpgradeState struct {
	Cluster    *mgmt.ConnectedCluster
	Extensions map[string]*ExtensionUpgradeState
}

// Ordered returns the present extensions in deploy order.
func (c *ClusterUpgradeState) Ordered() []*ExtensionUpgradeState {
	out := make([]*ExtensionUpgradeState, 0, len(c.Extensions))
	for _, moniker := range targets.DeployOrder {
		if s, ok := c.Extensions[moniker]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Upgradable returns the extensions that need a patch, in deploy order.
func (c *ClusterUpgradeState) Upgradable() []*ExtensionUpgradeState {
	var out []*ExtensionUpgradeState
	for _, s := range c.Ordered() {
		if s.CanUpgrade() {
			out = append(out, s)
		}
	}
	return out
}

// HasUpgrades reports whether any extension needs a patch.
func (c *ClusterUpgradeState) HasUpgrades() bool {
	return len(c.Upgradable()) > 0
}

// ConfigDelta computes the configurationSettings patch that moves current to desired.
// Under SyncNone it is always empty. Under SyncFull keys only in current map to nil, and keys that
// are new or differ map to the desired value.
func ConfigDelta(current, desired map[string]string, mode SyncMode) (map[string]any, error) {
	if mode != SyncFull {
		return map[string]any{}, nil
	}
	original, err := json.Marshal(nonNil(current))
	if err != nil {
		return nil, err
	}
	modified, err := json.Marshal(nonNil(desired))
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return nil, err
	}
	delta := map[string]any{}
	if err := json.Unmarshal(patch, &delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// newer reports whether desired is a higher version than current. Unparseable versions compare
// as different strings.
func newer(desired, current string) bool {
	if desired == "" {
		return false
	}
	d, derr := semver.NewVersion(desired)
	c, cerr := semver.NewVersion(current)
	if derr != nil || cerr != nil {
		return desired != current
	}
	return d.GreaterThan(c)
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
