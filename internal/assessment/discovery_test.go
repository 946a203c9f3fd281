package assessment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverReadsDeployConfigAndPackageManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrangler.toml"), []byte(`
name = "svc"
[[kv_namespaces]]
binding = "CACHE"
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name": "svc"}`), 0644))

	artifacts, err := Discover(dir)
	require.NoError(t, err)

	assert.Equal(t, "svc", artifacts.DeployConfig["name"])
	assert.Equal(t, "svc", artifacts.PackageManifest["name"])
	assert.False(t, artifacts.HasMigrations)
	assert.Equal(t, "kv-service", artifacts.InferredType)
}

func TestDiscoverToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()

	artifacts, err := Discover(dir)
	require.NoError(t, err)

	assert.Nil(t, artifacts.DeployConfig)
	assert.Nil(t, artifacts.PackageManifest)
	assert.False(t, artifacts.HasMigrations)
	assert.Equal(t, "api-service", artifacts.InferredType)
}

func TestDiscoverToleratesMalformedToml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrangler.toml"), []byte("not valid [[[ toml"), 0644))

	artifacts, err := Discover(dir)
	require.NoError(t, err)
	assert.Nil(t, artifacts.DeployConfig)
}

func TestDiscoverDetectsMigrationsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "migrations"), 0755))

	artifacts, err := Discover(dir)
	require.NoError(t, err)
	assert.True(t, artifacts.HasMigrations)
	assert.Equal(t, "data-service", artifacts.InferredType)
}

func TestInferServiceTypePrefersD1OverKV(t *testing.T) {
	d := DiscoveredArtifacts{DeployConfig: map[string]interface{}{
		"d1_databases":  []interface{}{"db"},
		"kv_namespaces": []interface{}{"ns"},
	}}
	assert.Equal(t, "data-service", inferServiceType(d))
}

func TestInferServiceTypeR2FallsToStorageService(t *testing.T) {
	d := DiscoveredArtifacts{DeployConfig: map[string]interface{}{"r2_buckets": []interface{}{"bucket"}}}
	assert.Equal(t, "storage-service", inferServiceType(d))
}

func TestMergeInputsUserValuesWinOnCollision(t *testing.T) {
	discovered := DiscoveredArtifacts{InferredType: "api-service", HasMigrations: false}
	merged := MergeInputs(discovered, map[string]interface{}{"serviceType": "data-service"})

	assert.Equal(t, "data-service", merged["serviceType"])
	assert.Equal(t, false, merged["hasMigrations"])
	assert.NotNil(t, merged["discoveredCapabilities"])
}
