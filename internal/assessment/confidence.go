package assessment

import "github.com/clodoworks/orchestrator/internal/domain"

// ConfidenceInputs carries the counts ComputeConfidence needs: the score
// starts at 50, +10 per material user input (service type, API
// token), +2 per configured capability, -20 per blocked gap, -5 per high
// gap, clamped to [0, 100].
type ConfidenceInputs struct {
	UserDeclaredType  bool
	UserSuppliedToken bool
	ConfiguredCount   int
	BlockedCount      int
	HighPriorityCount int
}

func ComputeConfidence(in ConfidenceInputs) int {
	score := 50
	if in.UserDeclaredType {
		score += 10
	}
	if in.UserSuppliedToken {
		score += 10
	}
	score += 2 * in.ConfiguredCount
	score -= 20 * in.BlockedCount
	score -= 5 * in.HighPriorityCount

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// CountConfigured reports how many of manifest's required capabilities
// discovery found fully configured, for the +2-per-capability term.
func CountConfigured(manifest domain.CapabilityManifest, discovered DiscoveredCapabilities) int {
	count := 0
	for _, capability := range manifest.RequiredCapabilities {
		if discovered[capability] == domain.GapFullyConfigured {
			count++
		}
	}
	return count
}

// CountByPriority counts gaps in analysis at the given priority, for the
// blocked/high penalty terms.
func CountByPriority(analysis domain.GapAnalysis, priority domain.Priority) int {
	count := 0
	for _, gap := range analysis.Gaps {
		if gap.Priority == priority {
			count++
		}
	}
	return count
}
