// Package domain defines the entity types shared across every orchestrator
// component: domains, deployments, phase records, capability manifests, gap
// analysis, token records, secret bundles, and rate-limit counters.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Environment is one of the three deployment targets the orchestrator
// understands.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Domain is an immutable identity (fully qualified name + environment) with
// a mutable config pointer.
type Domain struct {
	Name        string                 `json:"name"`
	Environment Environment            `json:"environment"`
	Portfolio   string                 `json:"portfolio"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// Key returns the (domain, environment) identity used for locking and
// routing lookups.
func (d Domain) Key() string {
	return fmt.Sprintf("%s:%s", d.Name, d.Environment)
}

// Phase names the ordered steps of the per-domain pipeline.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhasePrepare  Phase = "prepare"
	PhaseDeploy   Phase = "deploy"
	PhaseVerify   Phase = "verify"
	PhaseRollback Phase = "rollback"
)

// AllPhases is the ordered pipeline a deployment runs through before an
// optional rollback; used to size the audit token's validity window to
// the whole pipeline rather than a single phase.
var AllPhases = []Phase{PhaseValidate, PhasePrepare, PhaseDeploy, PhaseVerify}

// Outcome is the terminal state of a phase.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomePartial Outcome = "partially_executed"
)

// RollbackActionKind enumerates the fixed inverse operations.
type RollbackActionKind string

const (
	ActionDeleteDB               RollbackActionKind = "delete-db"
	ActionRestoreDBSnapshot      RollbackActionKind = "restore-db-snapshot"
	ActionRevertDeployConfig     RollbackActionKind = "revert-deploy-config"
	ActionDeleteSecret           RollbackActionKind = "delete-secret"
	ActionRevokeToken            RollbackActionKind = "revoke-token"
	ActionRedeployPreviousArtifact RollbackActionKind = "redeploy-previous-artifact"
	ActionDeleteDNS              RollbackActionKind = "delete-dns"
)

// RollbackAction is the opaque, idempotent inverse handle recorded before a
// mutation executes.
type RollbackAction struct {
	Kind     RollbackActionKind     `json:"kind"`
	Params   map[string]interface{} `json:"params,omitempty"`
	Outcome  Outcome                `json:"outcome"`
	Executed bool                   `json:"executed"`
}

// PhaseRecord is a child of Deployment: one ordered entry per phase.
type PhaseRecord struct {
	Index     int              `json:"index"`
	Phase     Phase            `json:"phase"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time,omitempty"`
	Outcome   Outcome          `json:"outcome"`
	Error     string           `json:"error,omitempty"`
	Rollback  *RollbackAction  `json:"rollback,omitempty"`
}

// Deployment is the append-only unit of work for one (domain, environment).
type Deployment struct {
	ID          string        `json:"id"`
	Domain      string        `json:"domain"`
	Environment Environment   `json:"environment"`
	Revision    string        `json:"revision"`
	Phase       Phase         `json:"phase"`
	Phases      []PhaseRecord `json:"phases"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time,omitempty"`
	User        string        `json:"user,omitempty"`
	AuditToken  string        `json:"-"` // never serialized into audit records (Invariant 3)
	Current     bool          `json:"current"`
}

// NewDeploymentID generates deploy-<ISO timestamp>-<random> ids.
func NewDeploymentID(now time.Time) (string, error) {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("deploy-%s-%s", now.UTC().Format("20060102T150405Z"), suffix), nil
}

// Priority classifies a required gap or required capability for the
// assessment engine.
type Priority string

const (
	PriorityBlocked Priority = "blocked"
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityWarning Priority = "warning"
)

// GapStatus classifies a capability's configuration state.
type GapStatus string

const (
	GapFullyConfigured    GapStatus = "fullyConfigured"
	GapPartiallyConfigured GapStatus = "partiallyConfigured"
	GapMissing            GapStatus = "missing"
)

// Gap is a single required capability's classification.
type Gap struct {
	Capability  string    `json:"capability"`
	Status      GapStatus `json:"status"`
	Priority    Priority  `json:"priority,omitempty"`
	Deployable  bool      `json:"deployable"`
	Reason      string    `json:"reason,omitempty"`
}

// GapAnalysis is the full classification of every required capability.
type GapAnalysis struct {
	Gaps            []Gap    `json:"gaps"`
	Missing         []string `json:"missing"`
	Blocked         []string `json:"blocked"`
	PartiallyConfig []string `json:"partially_configured"`
}

// ServiceTypeManifest is the per (service type, environment) capability
// table entry.
type ServiceTypeManifest struct {
	ServiceType           string
	RequiredCapabilities   []string
	OptionalCapabilities   []string
	Infrastructure         []string
	Endpoints              []string
	RequiredPermissions    map[string][]string // capability -> required permission tags
	DefaultResourceEstimates map[string]string
	DefaultURLs            map[string]string
}

// CapabilityManifest is the derived, per-assessment manifest.
type CapabilityManifest struct {
	ServiceType          string            `json:"service_type"`
	Environment          string            `json:"environment"`
	RequiredCapabilities []string          `json:"required_capabilities"`
	OptionalCapabilities []string          `json:"optional_capabilities"`
	Infrastructure       []string          `json:"infrastructure"`
	Endpoints            []string          `json:"endpoints"`
}

// CapabilityAssessment is the output of the capability assessment engine.
type CapabilityAssessment struct {
	ServicePath     string                 `json:"service_path"`
	Discovered      map[string]interface{} `json:"discovered"`
	MergedInputs    map[string]interface{} `json:"merged_inputs"`
	Manifest        CapabilityManifest     `json:"manifest"`
	GapAnalysis     GapAnalysis            `json:"gap_analysis"`
	Recommendations []Recommendation       `json:"recommendations"`
	Confidence      int                    `json:"confidence"`
	CacheKey        string                 `json:"cache_key"`
	ComputedAt      time.Time              `json:"computed_at"`
}

// Recommendation is a prioritized, actionable next step.
type Recommendation struct {
	Priority    Priority `json:"priority"`
	Capability  string   `json:"capability"`
	Description string   `json:"description"`
}

// SecretBundle is a per-domain map of named secrets rendered in several
// native formats simultaneously.
type SecretBundle struct {
	Domain      string            `json:"domain"`
	Environment Environment       `json:"environment"`
	Secrets     map[string]string `json:"-"` // plaintext, never serialized
	Formats     map[string]string `json:"formats_present"`
	GeneratedAt time.Time         `json:"generated_at"`
	CacheKey    string            `json:"cache_key"`
}

// DomainResult is the per-domain outcome sum type; failures travel as
// values, never panics.
type DomainResult struct {
	Domain          string    `json:"domain"`
	Environment     Environment `json:"environment"`
	DeploymentID    string    `json:"deployment_id"`
	Status          string    `json:"status"` // success | failed | partially-rolled-back
	Error           string    `json:"error,omitempty"`
	PartialRollback bool      `json:"partial_rollback"`
}

// PortfolioResult aggregates every domain's result for one orchestration
// run.
type PortfolioResult struct {
	Status   string         `json:"status"` // success | failed | partially-rolled-back
	Results  []DomainResult `json:"results"`
	Aborted  bool           `json:"aborted,omitempty"` // true if a later batch never ran because an earlier one failed
}
