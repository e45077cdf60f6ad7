package targets

// VersionTrain pins an extension to a version on a release train.
type VersionTrain struct {
	Version string `json:"version" yaml:"version"`
	Train   string `json:"train" yaml:"train"`
}

var currentVersions = map[string]VersionTrain{
	MonikerPlatform:      {Version: "0.7.25", Train: "preview"},
	MonikerACS:           {Version: "2.6.0", Train: "stable"},
	MonikerSecretStore:   {Version: "0.10.0", Train: "stable"},
	MonikerIoTOperations: {Version: "1.1.59", Train: "stable"},
}

// m3Versions is the 1.0 line.
var m3Versions = map[string]VersionTrain{
	MonikerPlatform:      {Version: "0.7.6", Train: "preview"},
	MonikerACS:           {Version: "2.2.2", Train: "stable"},
	MonikerSecretStore:   {Version: "0.6.7", Train: "stable"},
	MonikerIoTOperations: {Version: "1.0.9", Train: "stable"},
}

// GetExtensionVersions returns a fresh copy of the built-in version map.
func GetExtensionVersions(m3 bool) map[string]VersionTrain {
	src := currentVersions
	if m3 {
		src = m3Versions
	}
	out := make(map[string]VersionTrain, len(src))
	for moniker, vt := range src {
		out[moniker] = vt
	}
	return out
}
