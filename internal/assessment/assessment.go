package assessment

import (
	"context"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// TokenVerification is what the pipeline needs from the upstream `verify
// token` endpoint.
type TokenVerification struct {
	Valid       bool
	AccountID   string
	Permissions []string
	Error       string
}

// TokenVerifier calls the upstream verify-token endpoint through the
// rate-limited client. A nil TokenVerifier (or no token supplied) skips
// verification entirely.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (TokenVerification, error)
}

// OwnershipProbe checks domain ownership and DNS-conflict state, run only
// when both a domain and a valid token are present.
type OwnershipProbe interface {
	CheckOwnership(ctx context.Context, domainName, token string) (owned bool, conflict bool, err error)
}

// Inputs is the user-declared portion of an assessment request; any zero
// field means "not declared", and discovery/inference fills the gap.
type Inputs struct {
	ServiceType string
	DomainName  string
	Environment domain.Environment
	APIToken    string
	ForceRefresh bool
}

// Engine runs the full assessment pipeline: discover, verify token, merge, build
// manifest, analyze gaps, score confidence, cache.
type Engine struct {
	verifier  TokenVerifier
	ownership OwnershipProbe
	cache     *Cache
	logger    zerolog.Logger
}

func NewEngine(verifier TokenVerifier, ownership OwnershipProbe, cache *Cache) *Engine {
	return &Engine{verifier: verifier, ownership: ownership, cache: cache, logger: logging.WithComponent("assessment")}
}

// Assess runs (or retrieves from cache) a CapabilityAssessment for
// servicePath under the given user Inputs.
func (e *Engine) Assess(ctx context.Context, servicePath string, in Inputs) (domain.CapabilityAssessment, error) {
	userInputs := map[string]interface{}{}
	if in.ServiceType != "" {
		userInputs["serviceType"] = in.ServiceType
	}
	if in.DomainName != "" {
		userInputs["domain"] = in.DomainName
	}
	if in.APIToken != "" {
		userInputs["apiToken"] = in.APIToken
	}

	key := CacheKey(servicePath, userInputs)
	if !in.ForceRefresh {
		if cached, ok := e.cache.Get(key); ok {
			return cached, nil
		}
	}

	artifacts, err := Discover(servicePath)
	if err != nil {
		return domain.CapabilityAssessment{}, err
	}

	serviceType := in.ServiceType
	if serviceType == "" {
		serviceType = artifacts.InferredType
	}

	var verification TokenVerification
	hasToken := in.APIToken != ""
	if hasToken && e.verifier != nil {
		verification, err = e.verifier.VerifyToken(ctx, in.APIToken)
		if err != nil {
			verification = TokenVerification{Valid: false, Error: err.Error()}
		}
	}

	merged := MergeInputs(artifacts, userInputs)
	manifest := BuildManifest(serviceType, in.Environment)
	discoveredCaps := CapabilitiesFromArtifacts(artifacts)

	gapAnalysis := AnalyzeGaps(manifest, discoveredCaps, hasToken && verification.Valid, verification.Permissions, RequiredPermissions(serviceType))

	if in.DomainName != "" && hasToken && verification.Valid && e.ownership != nil {
		owned, conflict, probeErr := e.ownership.CheckOwnership(ctx, in.DomainName, in.APIToken)
		if probeErr == nil {
			switch {
			case !owned:
				gapAnalysis.Gaps = append(gapAnalysis.Gaps, domain.Gap{Capability: "domain-ownership", Status: domain.GapMissing, Priority: domain.PriorityBlocked, Deployable: false, Reason: "domain is not owned by this account"})
				gapAnalysis.Blocked = append(gapAnalysis.Blocked, "domain-ownership")
			case conflict:
				gapAnalysis.Gaps = append(gapAnalysis.Gaps, domain.Gap{Capability: "dns-conflict", Status: domain.GapPartiallyConfigured, Priority: domain.PriorityWarning, Deployable: true, Reason: "an existing DNS record may conflict with this deployment"})
			}
		}
	}

	confidence := ComputeConfidence(ConfidenceInputs{
		UserDeclaredType:  in.ServiceType != "",
		UserSuppliedToken: hasToken,
		ConfiguredCount:   CountConfigured(manifest, discoveredCaps),
		BlockedCount:      CountByPriority(gapAnalysis, domain.PriorityBlocked),
		HighPriorityCount: CountByPriority(gapAnalysis, domain.PriorityHigh),
	})

	// A service type inferred from a complete absence of signal (no
	// migrations, no D1/KV/R2 bindings) is itself a guess; surface a
	// database recommendation without letting an unconfirmed guess sink
	// the confidence score the way a concretely required-but-missing
	// capability would.
	if in.ServiceType == "" && serviceType == DefaultServiceType && !artifacts.HasMigrations {
		gapAnalysis.Missing = append(gapAnalysis.Missing, "database")
		gapAnalysis.Gaps = append(gapAnalysis.Gaps, domain.Gap{
			Capability: "database",
			Status:     domain.GapMissing,
			Priority:   domain.PriorityHigh,
			Deployable: true,
			Reason:     "no migrations or D1 binding found; declare --service-type or add migrations if this service needs a database",
		})
	}

	recommendations := buildRecommendations(gapAnalysis)

	assessment := domain.CapabilityAssessment{
		ServicePath:     servicePath,
		Discovered:      merged,
		MergedInputs:    merged,
		Manifest:        manifest,
		GapAnalysis:     gapAnalysis,
		Recommendations: recommendations,
		Confidence:      confidence,
		CacheKey:        key,
		ComputedAt:      time.Now().UTC(),
	}

	e.cache.Set(key, assessment)
	return assessment, nil
}

// buildRecommendations orders gaps into actionable next steps, blocked
// gaps first, then high priority, then the rest, preserving gap order
// within each tier.
func buildRecommendations(analysis domain.GapAnalysis) []domain.Recommendation {
	tiers := []domain.Priority{domain.PriorityBlocked, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityWarning, domain.PriorityLow}
	var recs []domain.Recommendation
	for _, tier := range tiers {
		for _, gap := range analysis.Gaps {
			if gap.Priority != tier {
				continue
			}
			recs = append(recs, domain.Recommendation{Priority: gap.Priority, Capability: gap.Capability, Description: recommendationText(gap)})
		}
	}
	return recs
}

func recommendationText(gap domain.Gap) string {
	if gap.Reason != "" {
		return gap.Reason
	}
	switch gap.Status {
	case domain.GapPartiallyConfigured:
		return "finish configuring " + gap.Capability
	default:
		return "configure " + gap.Capability
	}
}
