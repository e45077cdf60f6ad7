package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	// Default configuration values
	defaultLogDir             = "/var/log/aio-lifecycle"
	defaultLogLevel           = "info"
	defaultAzureCloud         = "AzurePublicCloud"
	defaultChunkLength        = 800
	defaultChunkSizeKB        = 1024
	defaultLockTimeoutSeconds = 30

	// Environment variable prefix
	envPrefix = "AIO_LIFECYCLE"
)

// Singleton instance for configuration
var (
	configInstance *Config
	configMutex    sync.RWMutex
)

// GetConfig returns the singleton configuration instance.
// Returns nil if configuration has not been loaded yet. Use LoadConfig() first.
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return configInstance
}

// LoadConfig loads configuration from a JSON file and environment variables.
// Environment variables override file values using the AIO_LIFECYCLE_ prefix,
// for example AIO_LIFECYCLE_AZURE_SUBSCRIPTIONID.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", configPath, err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	configMutex.Lock()
	defer configMutex.Unlock()
	configInstance = config

	return config, nil
}

// SetDefaults sets default values for any missing configuration fields
func (c *Config) SetDefaults() {
	if c.Azure.Cloud == "" {
		c.Azure.Cloud = defaultAzureCloud
	}

	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = defaultLogLevel
	}
	if c.Agent.LogDir == "" {
		c.Agent.LogDir = defaultLogDir
	}

	if c.Clone.ChunkLength == 0 {
		c.Clone.ChunkLength = defaultChunkLength
	}
	if c.Clone.ChunkSizeKB == 0 {
		c.Clone.ChunkSizeKB = defaultChunkSizeKB
	}
	if c.Clone.LockTimeoutSeconds == 0 {
		c.Clone.LockTimeoutSeconds = defaultLockTimeoutSeconds
	}
	c.Clone.LinkedBaseURI = strings.TrimSuffix(c.Clone.LinkedBaseURI, "/")
}

// validLogLevels defines the allowed logging levels
var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warning": true,
	"error":   true,
}

// validAzureClouds defines the supported Azure cloud environments
var validAzureClouds = map[string]bool{
	"AzurePublicCloud": true,
}

// Validate validates the configuration and ensures all required fields are set
func (c *Config) Validate() error {
	if c.Azure.SubscriptionID == "" {
		return fmt.Errorf("azure.subscriptionId is required")
	}
	if _, err := uuid.Parse(c.Azure.SubscriptionID); err != nil {
		return fmt.Errorf("invalid azure.subscriptionId %q: expected a GUID", c.Azure.SubscriptionID)
	}
	if c.Azure.TenantID == "" {
		return fmt.Errorf("azure.tenantId is required")
	}

	if !validAzureClouds[c.Azure.Cloud] {
		return fmt.Errorf("invalid azure.cloud: %s. Valid values are: AzurePublicCloud", c.Azure.Cloud)
	}

	if !validLogLevels[c.Agent.LogLevel] {
		return fmt.Errorf("invalid agent.logLevel: %s. Valid values are: debug, info, warning, error", c.Agent.LogLevel)
	}

	if c.Clone.ChunkLength < 0 || c.Clone.ChunkSizeKB < 0 || c.Clone.LockTimeoutSeconds < 0 {
		return fmt.Errorf("clone.chunkLength, clone.chunkSizeKB and clone.lockTimeoutSeconds must not be negative")
	}
	if c.Clone.LinkedBaseURI != "" && !strings.HasPrefix(c.Clone.LinkedBaseURI, "https://") {
		return fmt.Errorf("invalid clone.linkedBaseUri %q: must be an https url", c.Clone.LinkedBaseURI)
	}

	return nil
}
