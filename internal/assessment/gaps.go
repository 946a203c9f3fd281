package assessment

import (
	"fmt"

	"github.com/clodoworks/orchestrator/internal/domain"
)

// DiscoveredCapabilities maps a capability name to how fully discovery
// found it configured on disk, feeding the gap cross-reference.
type DiscoveredCapabilities map[string]domain.GapStatus

// CapabilitiesFromArtifacts derives what's configured from what Discover
// found: a migrations directory means the database capability is fully
// configured; named bindings in the deploy config mean their capability is
// configured; everything else required by the manifest starts out missing.
func CapabilitiesFromArtifacts(d DiscoveredArtifacts) DiscoveredCapabilities {
	caps := DiscoveredCapabilities{"deployment": domain.GapFullyConfigured}

	if d.HasMigrations {
		caps["database"] = domain.GapFullyConfigured
	}
	if d.DeployConfig != nil {
		if _, ok := d.DeployConfig["kv_namespaces"]; ok {
			caps["kv-storage"] = domain.GapFullyConfigured
		}
		if _, ok := d.DeployConfig["r2_buckets"]; ok {
			caps["object-storage"] = domain.GapFullyConfigured
		}
		if _, ok := d.DeployConfig["d1_databases"]; ok {
			if _, exists := caps["database"]; !exists {
				caps["database"] = domain.GapPartiallyConfigured // binding declared but no migrations applied yet
			}
		}
	}
	return caps
}

// AnalyzeGaps classifies every required capability in manifest against
// what discovery found and which permissions grantedPermissions carries,
// using requiredPermissions as the fixed per-capability permission table
// Permission checks only run when hasToken is true: with
// no token supplied at all there's nothing to cross-reference, so an
// unconfigured capability is reported missing/deployable rather than
// blocked.
func AnalyzeGaps(manifest domain.CapabilityManifest, discovered DiscoveredCapabilities, hasToken bool, grantedPermissions []string, requiredPermissions map[string][]string) domain.GapAnalysis {
	granted := make(map[string]struct{}, len(grantedPermissions))
	for _, p := range grantedPermissions {
		granted[p] = struct{}{}
	}

	var analysis domain.GapAnalysis
	for _, capability := range manifest.RequiredCapabilities {
		status, ok := discovered[capability]
		if !ok {
			status = domain.GapMissing
		}
		if status == domain.GapFullyConfigured {
			continue
		}

		var missingPerms []string
		if hasToken {
			for _, perm := range requiredPermissions[capability] {
				if _, has := granted[perm]; !has {
					missingPerms = append(missingPerms, perm)
				}
			}
		}

		gap := domain.Gap{Capability: capability, Status: status, Deployable: true, Priority: domain.PriorityHigh}
		if status == domain.GapPartiallyConfigured {
			gap.Priority = domain.PriorityMedium
			analysis.PartiallyConfig = append(analysis.PartiallyConfig, capability)
		} else {
			analysis.Missing = append(analysis.Missing, capability)
		}

		if len(missingPerms) > 0 {
			gap.Status = domain.GapMissing
			gap.Deployable = false
			gap.Priority = domain.PriorityBlocked
			gap.Reason = fmt.Sprintf("missing required permission(s): %v", missingPerms)
			analysis.Blocked = append(analysis.Blocked, capability)
		}

		analysis.Gaps = append(analysis.Gaps, gap)
	}
	return analysis
}
