package dborchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackuperCreateWritesManifestAndExport(t *testing.T) {
	tool := fakeTool(t, 0)
	runner := NewRunner(tool, time.Second)
	root := t.TempDir()
	backuper := NewBackuper(root, runner)

	manifest, err := backuper.Create(context.Background(), "shop.example.com", domain.EnvProduction, "shop-example-com-production")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", manifest.Domain)

	dir := filepath.Join(root, "production", manifest.ID)
	data, err := os.ReadFile(filepath.Join(dir, "backup-manifest.json"))
	require.NoError(t, err)

	var onDisk BackupManifest
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, manifest.ID, onDisk.ID)
	assert.Equal(t, manifest.ExportFile, onDisk.ExportFile)
}

func TestBackuperCreateFailsOnExportToolError(t *testing.T) {
	tool := fakeTool(t, 1)
	runner := NewRunner(tool, time.Second)
	backuper := NewBackuper(t.TempDir(), runner)

	_, err := backuper.Create(context.Background(), "shop.example.com", domain.EnvProduction, "shop-example-com-production")
	assert.Error(t, err)
}

func TestRequiresBackupOnlyForProduction(t *testing.T) {
	assert.True(t, RequiresBackup(domain.EnvProduction))
	assert.False(t, RequiresBackup(domain.EnvStaging))
	assert.False(t, RequiresBackup(domain.EnvDevelopment))
}
