package assessment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeService(t *testing.T, wrangler string, migrations bool) string {
	t.Helper()
	dir := t.TempDir()
	if wrangler != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wrangler.toml"), []byte(wrangler), 0644))
	}
	if migrations {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "migrations"), 0755))
	}
	return dir
}

func TestAssessCleanRepoNoTokenYieldsDeployableMissingDatabase(t *testing.T) {
	dir := writeService(t, `name = "svc"`, false)
	engine := NewEngine(nil, nil, NewCache(time.Minute))

	result, err := engine.Assess(context.Background(), dir, Inputs{Environment: domain.EnvProduction})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Confidence, 50)
	assert.LessOrEqual(t, result.Confidence, 80)
	assert.Contains(t, result.GapAnalysis.Missing, "database")
	for _, gap := range result.GapAnalysis.Gaps {
		if gap.Capability == "database" {
			assert.Equal(t, domain.PriorityHigh, gap.Priority)
			assert.True(t, gap.Deployable)
		}
	}
}

type fixedVerifier struct{ verification TokenVerification }

func (f fixedVerifier) VerifyToken(context.Context, string) (TokenVerification, error) {
	return f.verification, nil
}

func TestAssessInsufficientTokenBlocksDatabase(t *testing.T) {
	dir := writeService(t, `name = "svc"`, false)
	verifier := fixedVerifier{verification: TokenVerification{Valid: true, Permissions: []string{"Zone:Read", "DNS:Edit"}}}
	engine := NewEngine(verifier, nil, NewCache(time.Minute))

	result, err := engine.Assess(context.Background(), dir, Inputs{ServiceType: "data-service", APIToken: "tok", Environment: domain.EnvProduction})
	require.NoError(t, err)

	assert.Contains(t, result.GapAnalysis.Blocked, "database")
	var found bool
	for _, gap := range result.GapAnalysis.Gaps {
		if gap.Capability == "database" {
			found = true
			assert.Contains(t, gap.Reason, "D1:Edit")
		}
	}
	assert.True(t, found)
}

func TestAssessWithMigrationsHasNoDatabaseGap(t *testing.T) {
	dir := writeService(t, `name = "svc"`, true)
	engine := NewEngine(nil, nil, NewCache(time.Minute))

	result, err := engine.Assess(context.Background(), dir, Inputs{ServiceType: "data-service", Environment: domain.EnvProduction})
	require.NoError(t, err)
	assert.NotContains(t, result.GapAnalysis.Missing, "database")
	assert.NotContains(t, result.GapAnalysis.Blocked, "database")
}

func TestAssessCachesIdenticalInputsByteIdenticalModuloTimestamp(t *testing.T) {
	dir := writeService(t, `name = "svc"`, false)
	engine := NewEngine(nil, nil, NewCache(time.Minute))

	first, err := engine.Assess(context.Background(), dir, Inputs{Environment: domain.EnvProduction})
	require.NoError(t, err)
	second, err := engine.Assess(context.Background(), dir, Inputs{Environment: domain.EnvProduction})
	require.NoError(t, err)

	assert.Equal(t, first.CacheKey, second.CacheKey)
	assert.Equal(t, first.ComputedAt, second.ComputedAt, "cache hit should return the exact cached assessment, not recompute")
}

func TestAssessForceRefreshBypassesCache(t *testing.T) {
	dir := writeService(t, `name = "svc"`, false)
	engine := NewEngine(nil, nil, NewCache(time.Minute))

	first, err := engine.Assess(context.Background(), dir, Inputs{Environment: domain.EnvProduction})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := engine.Assess(context.Background(), dir, Inputs{Environment: domain.EnvProduction, ForceRefresh: true})
	require.NoError(t, err)

	assert.True(t, second.ComputedAt.After(first.ComputedAt) || second.ComputedAt.Equal(first.ComputedAt))
}

func TestCacheKeyStableAcrossUserInputKeyOrder(t *testing.T) {
	k1 := CacheKey("./svc", map[string]interface{}{"a": 1, "b": 2})
	k2 := CacheKey("./svc", map[string]interface{}{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)
}
