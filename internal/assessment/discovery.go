// Package assessment implements capability assessment: discovering a service's
// deploy artifacts, inferring its service type, building a capability
// manifest from a fixed service-type table, running gap analysis against
// discovered permissions, scoring confidence, and caching the result by a
// content-addressed key.
package assessment

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DiscoveredArtifacts is the raw, unmerged output of artifact discovery:
// whatever shape each file happened to have, kept as generic maps so
// downstream merge-with-user-inputs logic doesn't need a
// dedicated struct per artifact kind.
type DiscoveredArtifacts struct {
	DeployConfig   map[string]interface{}
	PackageManifest map[string]interface{}
	HasMigrations  bool
	InferredType   string
}

// Discover reads wrangler.toml, package.json, and the migrations directory
// under servicePath. Missing files are not an error: discovery gaps
// surface through the gap analysis, never as an error return.
func Discover(servicePath string) (DiscoveredArtifacts, error) {
	var out DiscoveredArtifacts

	if data, err := os.ReadFile(filepath.Join(servicePath, "wrangler.toml")); err == nil {
		var cfg map[string]interface{}
		if err := toml.Unmarshal(data, &cfg); err == nil {
			out.DeployConfig = cfg
		}
	}

	if data, err := os.ReadFile(filepath.Join(servicePath, "package.json")); err == nil {
		var pkg map[string]interface{}
		if err := json.Unmarshal(data, &pkg); err == nil {
			out.PackageManifest = pkg
		}
	}

	if info, err := os.Stat(filepath.Join(servicePath, "migrations")); err == nil && info.IsDir() {
		out.HasMigrations = true
	}

	out.InferredType = inferServiceType(out)
	return out, nil
}

// inferServiceType guesses a service type from discovered artifacts when
// the user didn't declare one. The migrations directory
// is the strongest signal for a data-backed service; D1/KV bindings in the
// deploy config are the next strongest.
func inferServiceType(d DiscoveredArtifacts) string {
	if d.HasMigrations {
		return "data-service"
	}
	if d.DeployConfig != nil {
		if _, ok := d.DeployConfig["d1_databases"]; ok {
			return "data-service"
		}
		if _, ok := d.DeployConfig["kv_namespaces"]; ok {
			return "kv-service"
		}
		if _, ok := d.DeployConfig["r2_buckets"]; ok {
			return "storage-service"
		}
	}
	return "api-service"
}

// MergeInputs overlays userInputs on top of discovered, with user values
// winning on key collision, and stamps the
// discoveredCapabilities handle so downstream stages can recover what was
// actually found on disk.
func MergeInputs(discovered DiscoveredArtifacts, userInputs map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	if discovered.DeployConfig != nil {
		merged["deployConfig"] = discovered.DeployConfig
	}
	if discovered.PackageManifest != nil {
		merged["packageManifest"] = discovered.PackageManifest
	}
	merged["hasMigrations"] = discovered.HasMigrations
	merged["serviceType"] = discovered.InferredType
	merged["discoveredCapabilities"] = discovered

	for k, v := range userInputs {
		merged[k] = v
	}
	return merged
}
