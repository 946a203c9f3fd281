package dborchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes a shell script standing in for the platform CLI: it
// echoes its arguments to stdout and exits with exitCode.
func fakeTool(t *testing.T, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "platform-cli")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\"\nexit %d\n", exitCode)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestDatabaseNameSanitizesDots(t *testing.T) {
	assert.Equal(t, "shop-example-com-production", DatabaseName("shop.example.com", domain.EnvProduction))
}

func TestRunnerApplyUsesRemoteFlagOutsideDevelopment(t *testing.T) {
	tool := fakeTool(t, 0)
	runner := NewRunner(tool, time.Second)

	result, err := runner.Apply(context.Background(), "shop.example.com", domain.EnvProduction, "")
	require.NoError(t, err)
	assert.True(t, result.Remote)
	assert.Contains(t, result.Stdout, "--remote")
}

func TestRunnerApplyUsesLocalFlagInDevelopment(t *testing.T) {
	tool := fakeTool(t, 0)
	runner := NewRunner(tool, time.Second)

	result, err := runner.Apply(context.Background(), "shop.example.com", domain.EnvDevelopment, "")
	require.NoError(t, err)
	assert.False(t, result.Remote)
	assert.Contains(t, result.Stdout, "--local")
}

func TestRunnerApplyReportsNonZeroExit(t *testing.T) {
	tool := fakeTool(t, 1)
	runner := NewRunner(tool, time.Second)

	_, err := runner.Apply(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Error(t, err)
}
