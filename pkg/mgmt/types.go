package mgmt

// Resource provider namespaces and types consumed by the lifecycle core.
const (
	KubernetesNamespace          = "Microsoft.Kubernetes"
	KubernetesConfigNamespace    = "Microsoft.KubernetesConfiguration"
	ExtendedLocationNamespace    = "Microsoft.ExtendedLocation"
	IoTOperationsNamespace       = "Microsoft.IoTOperations"
	DeviceRegistryNamespace      = "Microsoft.DeviceRegistry"
	SecretSyncNamespace          = "Microsoft.SecretSyncController"
	ManagedIdentityNamespace     = "Microsoft.ManagedIdentity"
	AuthorizationNamespace       = "Microsoft.Authorization"
	KeyVaultNamespace            = "Microsoft.KeyVault"
	ConnectedClusterType         = "Microsoft.Kubernetes/connectedClusters"
	ExtensionResourceType        = "Microsoft.KubernetesConfiguration/extensions"
	CustomLocationType           = "Microsoft.ExtendedLocation/customLocations"
	InstanceType                 = "Microsoft.IoTOperations/instances"
	BrokerType                   = "Microsoft.IoTOperations/instances/brokers"
	BrokerAuthnType              = "Microsoft.IoTOperations/instances/brokers/authentications"
	BrokerAuthzType              = "Microsoft.IoTOperations/instances/brokers/authorizations"
	BrokerListenerType           = "Microsoft.IoTOperations/instances/brokers/listeners"
	DataflowEndpointType         = "Microsoft.IoTOperations/instances/dataflowEndpoints"
	DataflowProfileType          = "Microsoft.IoTOperations/instances/dataflowProfiles"
	DataflowType                 = "Microsoft.IoTOperations/instances/dataflowProfiles/dataflows"
	SecretProviderClassType      = "Microsoft.SecretSyncController/azureKeyVaultSecretProviderClasses"
	SecretSyncType               = "Microsoft.SecretSyncController/secretSyncs"
	AssetEndpointProfileType     = "Microsoft.DeviceRegistry/assetEndpointProfiles"
	AssetType                    = "Microsoft.DeviceRegistry/assets"
	SchemaRegistryType           = "Microsoft.DeviceRegistry/schemaRegistries"
	UserAssignedIdentityType     = "Microsoft.ManagedIdentity/userAssignedIdentities"
	RoleAssignmentType           = "Microsoft.Authorization/roleAssignments"
	DeploymentType               = "Microsoft.Resources/deployments"
	ExtendedLocationCustomType   = "CustomLocation"
	ConnectivityStatusConnected  = "connected"
	FederatedCredentialAudience  = "api://AzureADTokenExchange"
	IdentityTypeUserAssigned     = "UserAssigned"
	IdentityTypeNone             = "None"
	ServiceAccountSubjectPattern = "system:serviceaccount:%s:%s"
)

// Pinned api-versions for resources that have no version gate of their own.
const (
	ConnectedClusterAPIVersion = "2024-07-15-preview"
	CustomLocationAPIVersion   = "2021-08-31-preview"
	ExtensionAPIVersion        = "2023-05-01"
	SecretSyncAPIVersion       = "2024-08-21-preview"
	DeviceRegistryAPIVersion   = "2024-11-01"
	PermissionsAPIVersion      = "2022-04-01"
	RoleAssignmentAPIVersion   = "2022-04-01"
	DeploymentAPIVersion       = "2022-09-01"
)
