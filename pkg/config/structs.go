package config

import "time"

// Config represents the complete lifecycle manager configuration.
type Config struct {
	Azure   AzureConfig   `json:"azure"`
	Agent   AgentConfig   `json:"agent"`
	Clone   CloneConfig   `json:"clone"`
	Upgrade UpgradeConfig `json:"upgrade"`
}

// AzureConfig holds the management-plane connection settings.
type AzureConfig struct {
	SubscriptionID   string                  `json:"subscriptionId"`             // Default subscription for graph queries and writes
	TenantID         string                  `json:"tenantId"`                   // Azure tenant ID
	Cloud            string                  `json:"cloud"`                      // Azure cloud environment (defaults to AzurePublicCloud)
	ServicePrincipal *ServicePrincipalConfig `json:"servicePrincipal,omitempty"` // Optional service principal authentication
}

// ServicePrincipalConfig holds Azure service principal authentication configuration.
// When provided, service principal authentication will be used instead of Azure CLI.
type ServicePrincipalConfig struct {
	TenantID     string `json:"tenantId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// AgentConfig holds process-level settings.
type AgentConfig struct {
	LogLevel string `json:"logLevel"` // Logging level: debug, info, warning, error
	LogDir   string `json:"logDir"`   // Directory for log files
}

// CloneConfig tunes template chunking and output.
type CloneConfig struct {
	ChunkLength        int    `json:"chunkLength"`        // Max resources per nested deployment
	ChunkSizeKB        int    `json:"chunkSizeKB"`        // Max serialized size per nested deployment
	LinkedBaseURI      string `json:"linkedBaseUri"`      // When set, linked templates are referenced by absolute uri
	LockTimeoutSeconds int    `json:"lockTimeoutSeconds"` // How long to wait for the output directory lock
}

// UpgradeConfig holds upgrade engine inputs.
type UpgradeConfig struct {
	ManifestPath string `json:"manifestPath"` // Optional desired-state manifest (YAML)
}

// IsSPConfigured checks if service principal credentials are provided in the configuration
func (cfg *Config) IsSPConfigured() bool {
	return cfg.Azure.ServicePrincipal != nil &&
		cfg.Azure.ServicePrincipal.ClientID != "" &&
		cfg.Azure.ServicePrincipal.ClientSecret != "" &&
		cfg.Azure.ServicePrincipal.TenantID != ""
}

// GetSubscriptionID returns the default subscription.
func (cfg *Config) GetSubscriptionID() string {
	return cfg.Azure.SubscriptionID
}

// GetTenantID returns the tenant.
func (cfg *Config) GetTenantID() string {
	return cfg.Azure.TenantID
}

// LockTimeout is the output lock timeout as a duration.
func (cfg *Config) LockTimeout() time.Duration {
	return time.Duration(cfg.Clone.LockTimeoutSeconds) * time.Second
}
