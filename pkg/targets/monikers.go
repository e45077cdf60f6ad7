package targets

import "strings"

// Extension monikers.
const (
	MonikerPlatform      = "platform"
	MonikerACS           = "acs"
	MonikerSecretStore   = "secret-store"
	MonikerIoTOperations = "iot-operations"
)

// DeployOrder is the strict order extensions are installed and upgraded in.
var DeployOrder = []string{MonikerPlatform, MonikerACS, MonikerSecretStore, MonikerIoTOperations}

// extensionTypes maps each moniker to its normalized extension type.
var extensionTypes = map[string]string{
	MonikerPlatform:      "microsoft.iotoperations.platform",
	MonikerACS:           "microsoft.arc.containerstorage",
	MonikerSecretStore:   "microsoft.azure.secretstore",
	MonikerIoTOperations: "microsoft.iotoperations",
}

// ExtensionType returns the extension type of a moniker.
func ExtensionType(moniker string) string {
	return extensionTypes[moniker]
}

// MonikerForType returns the moniker of an extension type, case-insensitively.
func MonikerForType(extensionType string) (string, bool) {
	t := strings.ToLower(extensionType)
	for moniker, known := range extensionTypes {
		if known == t {
			return moniker, true
		}
	}
	return "", false
}

// IsMoniker reports whether s is a known moniker.
func IsMoniker(s string) bool {
	_, ok := extensionTypes[s]
	return ok
}
