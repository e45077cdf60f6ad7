package targets

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"go.goms.io/aio/lifecycle/pkg/opserr"
)

// Manifest is a desired-state file:
//
//	versions:
//	  iot-operations: {version: 1.1.59, train: stable}
//	config:
//	  iot-operations:
//	    trace.enabled: "true"
type Manifest struct {
	Versions map[string]VersionTrain      `yaml:"versions"`
	Config   map[string]map[string]string `yaml:"config"`
}

// DesiredState is the version and configuration every extension should converge to.
type DesiredState struct {
	Versions map[string]VersionTrain
	Config   map[string]map[string]string
}

// LoadManifest reads a YAML manifest. Unknown monikers are rejected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, opserr.Wrap(opserr.KindConfig, err, "failed to parse manifest %s", path)
	}
	for moniker := range m.Versions {
		if !IsMoniker(moniker) {
			return nil, opserr.New(opserr.KindConfig, "manifest %s: unknown extension %q in versions", path, moniker)
		}
	}
	for moniker := range m.Config {
		if !IsMoniker(moniker) {
			return nil, opserr.New(opserr.KindConfig, "manifest %s: unknown extension %q in config", path, moniker)
		}
	}
	return &m, nil
}

// Desired merges an optional manifest over the built-in version map. Manifest fields that are set
// win; unset fields keep the built-in value.
func Desired(m3 bool, manifest *Manifest) (DesiredState, error) {
	state := DesiredState{
		Versions: GetExtensionVersions(m3),
		Config:   make(map[string]map[string]string, len(DeployOrder)),
	}
	for _, moniker := range DeployOrder {
		state.Config[moniker] = map[string]string{}
	}
	if manifest == nil {
		return state, nil
	}

	for moniker, vt := range manifest.Versions {
		merged := state.Versions[moniker]
		if err := mergo.Merge(&merged, vt, mergo.WithOverride); err != nil {
			return DesiredState{}, fmt.Errorf("failed to merge versions of %s: %w", moniker, err)
		}
		state.Versions[moniker] = merged
	}
	for moniker, settings := range manifest.Config {
		merged := state.Config[moniker]
		if err := mergo.Merge(&merged, settings, mergo.WithOverride); err != nil {
			return DesiredState{}, fmt.Errorf("failed to merge config of %s: %w", moniker, err)
		}
		state.Config[moniker] = merged
	}
	return state, nil
}
