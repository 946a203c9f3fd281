package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileManifestCreatesFileWhenAbsent(t *testing.T) {
	dir := t.TempDir()

	changed, err := ReconcileManifest(dir, Bindings{Name: "svc", Routes: []string{"svc.example.com/*"}})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(dir, "wrangler.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "svc")
}

func TestReconcileManifestNoChangeReportsFalse(t *testing.T) {
	dir := t.TempDir()

	_, err := ReconcileManifest(dir, Bindings{Name: "svc"})
	require.NoError(t, err)

	changed, err := ReconcileManifest(dir, Bindings{Name: "svc"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReconcileManifestUserValuesAddBindingsWithoutLosingExisting(t *testing.T) {
	dir := t.TempDir()

	_, err := ReconcileManifest(dir, Bindings{Name: "svc", Routes: []string{"svc.example.com/*"}})
	require.NoError(t, err)

	changed, err := ReconcileManifest(dir, Bindings{
		D1Databases: []map[string]string{{"binding": "DB", "database_name": "svc-production"}},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(dir, "wrangler.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "svc.example.com/*")
	assert.Contains(t, string(data), "svc-production")
}

func TestReconcileManifestRejectsMalformedExistingToml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrangler.toml"), []byte("not valid [[[ toml"), 0644))

	_, err := ReconcileManifest(dir, Bindings{Name: "svc"})
	assert.Error(t, err)
}
