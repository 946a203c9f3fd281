package assessment

import (
	"testing"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesFromArtifactsMigrationsMeanDatabaseConfigured(t *testing.T) {
	caps := CapabilitiesFromArtifacts(DiscoveredArtifacts{HasMigrations: true})
	assert.Equal(t, domain.GapFullyConfigured, caps["database"])
	assert.Equal(t, domain.GapFullyConfigured, caps["deployment"])
}

func TestCapabilitiesFromArtifactsD1BindingWithoutMigrationsIsPartial(t *testing.T) {
	caps := CapabilitiesFromArtifacts(DiscoveredArtifacts{
		DeployConfig: map[string]interface{}{"d1_databases": []interface{}{"db"}},
	})
	assert.Equal(t, domain.GapPartiallyConfigured, caps["database"])
}

func TestCapabilitiesFromArtifactsKVAndR2BindingsAreFullyConfigured(t *testing.T) {
	caps := CapabilitiesFromArtifacts(DiscoveredArtifacts{
		DeployConfig: map[string]interface{}{"kv_namespaces": []interface{}{"ns"}, "r2_buckets": []interface{}{"b"}},
	})
	assert.Equal(t, domain.GapFullyConfigured, caps["kv-storage"])
	assert.Equal(t, domain.GapFullyConfigured, caps["object-storage"])
}

func TestAnalyzeGapsNoTokenReportsMissingNotBlocked(t *testing.T) {
	manifest := BuildManifest("data-service", domain.EnvProduction)
	discovered := CapabilitiesFromArtifacts(DiscoveredArtifacts{})

	analysis := AnalyzeGaps(manifest, discovered, false, nil, RequiredPermissions("data-service"))

	assert.Contains(t, analysis.Missing, "database")
	assert.Empty(t, analysis.Blocked)
	for _, gap := range analysis.Gaps {
		if gap.Capability == "database" {
			assert.True(t, gap.Deployable)
			assert.Equal(t, domain.PriorityHigh, gap.Priority)
		}
	}
}

func TestAnalyzeGapsInsufficientTokenBlocksCapability(t *testing.T) {
	manifest := BuildManifest("data-service", domain.EnvProduction)
	discovered := CapabilitiesFromArtifacts(DiscoveredArtifacts{})

	analysis := AnalyzeGaps(manifest, discovered, true, []string{"Zone:Read", "DNS:Edit"}, RequiredPermissions("data-service"))

	assert.Contains(t, analysis.Blocked, "database")
	var gap domain.Gap
	for _, g := range analysis.Gaps {
		if g.Capability == "database" {
			gap = g
		}
	}
	assert.Equal(t, domain.PriorityBlocked, gap.Priority)
	assert.False(t, gap.Deployable)
	assert.Contains(t, gap.Reason, "D1:Edit")
}

func TestAnalyzeGapsSufficientTokenLeavesNoGap(t *testing.T) {
	manifest := BuildManifest("data-service", domain.EnvProduction)
	discovered := CapabilitiesFromArtifacts(DiscoveredArtifacts{HasMigrations: true})

	analysis := AnalyzeGaps(manifest, discovered, true, []string{"Workers Scripts:Edit", "D1:Edit"}, RequiredPermissions("data-service"))

	assert.Empty(t, analysis.Missing)
	assert.Empty(t, analysis.Blocked)
	assert.Empty(t, analysis.Gaps)
}

func TestAnalyzeGapsPartiallyConfiguredGetsMediumPriority(t *testing.T) {
	manifest := BuildManifest("data-service", domain.EnvProduction)
	discovered := CapabilitiesFromArtifacts(DiscoveredArtifacts{
		DeployConfig: map[string]interface{}{"d1_databases": []interface{}{"db"}},
	})

	analysis := AnalyzeGaps(manifest, discovered, true, []string{"Workers Scripts:Edit", "D1:Edit"}, RequiredPermissions("data-service"))

	assert.Contains(t, analysis.PartiallyConfig, "database")
	for _, gap := range analysis.Gaps {
		if gap.Capability == "database" {
			assert.Equal(t, domain.PriorityMedium, gap.Priority)
		}
	}
}
