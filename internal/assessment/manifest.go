package assessment

import "github.com/clodoworks/orchestrator/internal/domain"

// serviceTypeTable is the fixed per-service-type capability table: every service type this orchestrator understands, with its
// required/optional capabilities, backing infrastructure, and endpoints.
var serviceTypeTable = map[string]domain.ServiceTypeManifest{
	"api-service": {
		ServiceType:          "api-service",
		RequiredCapabilities: []string{"deployment"},
		OptionalCapabilities: []string{"kv-storage", "caching"},
		Infrastructure:       []string{"worker"},
		Endpoints:            []string{"/health", "/v1"},
		RequiredPermissions:  map[string][]string{"deployment": {"Workers Scripts:Edit"}},
	},
	"data-service": {
		ServiceType:          "data-service",
		RequiredCapabilities: []string{"deployment", "database"},
		OptionalCapabilities: []string{"kv-storage", "caching"},
		Infrastructure:       []string{"worker", "d1"},
		Endpoints:            []string{"/health", "/v1"},
		RequiredPermissions:  map[string][]string{"deployment": {"Workers Scripts:Edit"}, "database": {"D1:Edit"}},
	},
	"kv-service": {
		ServiceType:          "kv-service",
		RequiredCapabilities: []string{"deployment", "kv-storage"},
		OptionalCapabilities: []string{"caching"},
		Infrastructure:       []string{"worker", "kv"},
		Endpoints:            []string{"/health", "/v1"},
		RequiredPermissions:  map[string][]string{"deployment": {"Workers Scripts:Edit"}, "kv-storage": {"Workers KV Storage:Edit"}},
	},
	"storage-service": {
		ServiceType:          "storage-service",
		RequiredCapabilities: []string{"deployment", "object-storage"},
		OptionalCapabilities: []string{"caching"},
		Infrastructure:       []string{"worker", "r2"},
		Endpoints:            []string{"/health", "/v1"},
		RequiredPermissions:  map[string][]string{"deployment": {"Workers Scripts:Edit"}, "object-storage": {"Workers R2 Storage:Edit"}},
	},
}

// DefaultServiceType is used when discovery and the user both fail to
// identify a service type.
const DefaultServiceType = "api-service"

// BuildManifest resolves serviceType against the fixed table (falling back
// to DefaultServiceType for an unrecognized type) and layers
// environment-specific additions: production adds rate-limiting, error
// tracking, and cors; development adds debug logging.
func BuildManifest(serviceType string, env domain.Environment) domain.CapabilityManifest {
	entry, ok := serviceTypeTable[serviceType]
	if !ok {
		entry = serviceTypeTable[DefaultServiceType]
	}

	manifest := domain.CapabilityManifest{
		ServiceType:          entry.ServiceType,
		Environment:          string(env),
		RequiredCapabilities: append([]string{}, entry.RequiredCapabilities...),
		OptionalCapabilities: append([]string{}, entry.OptionalCapabilities...),
		Infrastructure:       append([]string{}, entry.Infrastructure...),
		Endpoints:            append([]string{}, entry.Endpoints...),
	}

	switch env {
	case domain.EnvProduction:
		manifest.OptionalCapabilities = append(manifest.OptionalCapabilities, "rate-limiting", "error-tracking", "cors")
	case domain.EnvDevelopment:
		manifest.OptionalCapabilities = append(manifest.OptionalCapabilities, "debug-logging")
	}
	return manifest
}

// RequiredPermissions returns the fixed permission table entry for
// serviceType, used by gap analysis to cross-reference discovered
// permissions.
func RequiredPermissions(serviceType string) map[string][]string {
	entry, ok := serviceTypeTable[serviceType]
	if !ok {
		entry = serviceTypeTable[DefaultServiceType]
	}
	return entry.RequiredPermissions
}
