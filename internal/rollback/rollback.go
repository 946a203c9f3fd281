// Package rollback replays a deployment's recorded phases in reverse
// order, invoking each phase's fixed idempotent inverse operation and
// reporting which steps succeeded, failed, or were skipped (a partial
// rollback). Inverses come from a small fixed vocabulary of operations
// dispatched through the Executor interface.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// Executor performs the one concrete inverse operation for a RollbackAction.
// Implementations must be idempotent: replaying the same action twice (e.g.
// after a crash mid-rollback) must not error or double-apply.
type Executor interface {
	Execute(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error

func (f ExecutorFunc) Execute(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
	return f(ctx, action, dep)
}

// Registry dispatches a RollbackAction to the Executor registered for its
// Kind. Every one of the 7 fixed kinds in domain.RollbackActionKind must
// have an Executor registered before Manager.Rollback can run to completion;
// an unregistered kind is itself a step failure, not a panic.
type Registry struct {
	executors map[domain.RollbackActionKind]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.RollbackActionKind]Executor)}
}

func (r *Registry) Register(kind domain.RollbackActionKind, exec Executor) {
	r.executors[kind] = exec
}

func (r *Registry) lookup(kind domain.RollbackActionKind) (Executor, bool) {
	exec, ok := r.executors[kind]
	return exec, ok
}

// StepOutcome records what happened when one recorded phase's rollback
// action was replayed.
type StepOutcome struct {
	PhaseIndex int
	Phase      domain.Phase
	Kind       domain.RollbackActionKind
	Outcome    domain.Outcome
	Error      string
}

// Report is the outcome of a full Rollback invocation: whether every
// recorded rollback action replayed successfully (PartialRollback == false)
// or some subset failed (PartialRollback == true, with Steps documenting
// exactly which).
type Report struct {
	DeploymentID    string
	Steps           []StepOutcome
	PartialRollback bool
	Duration        time.Duration
}

// Manager replays a Deployment's phases in reverse, invoking each phase's
// recorded RollbackAction through the Registry.
type Manager struct {
	registry *Registry
	logger   zerolog.Logger
}

func NewManager(registry *Registry) *Manager {
	return &Manager{registry: registry, logger: logging.WithComponent("rollback.manager")}
}

// Rollback replays dep.Phases in reverse order. Each phase with a recorded,
// not-yet-executed RollbackAction is replayed; phases with no rollback
// action (e.g. "validate", which mutates nothing) are skipped. A step
// failure does not abort the remaining steps: rollback is best-effort and
// every step is attempted so the report reflects the true final state
// (partial rollback is reported, never hidden).
func (m *Manager) Rollback(ctx context.Context, dep domain.Deployment) Report {
	start := time.Now()
	report := Report{DeploymentID: dep.ID}

	for i := len(dep.Phases) - 1; i >= 0; i-- {
		phase := dep.Phases[i]
		if phase.Rollback == nil {
			continue
		}
		if phase.Rollback.Executed {
			report.Steps = append(report.Steps, StepOutcome{
				PhaseIndex: phase.Index, Phase: phase.Phase, Kind: phase.Rollback.Kind, Outcome: domain.OutcomeSkipped,
			})
			continue
		}

		step := m.executeStep(ctx, phase, dep)
		report.Steps = append(report.Steps, step)
		if step.Outcome != domain.OutcomeOK {
			report.PartialRollback = true
		}
	}

	report.Duration = time.Since(start)
	m.logger.Info().Str("deployment_id", dep.ID).Bool("partial", report.PartialRollback).
		Dur("duration", report.Duration).Msg("rollback complete")
	return report
}

func (m *Manager) executeStep(ctx context.Context, phase domain.PhaseRecord, dep domain.Deployment) StepOutcome {
	exec, ok := m.registry.lookup(phase.Rollback.Kind)
	if !ok {
		err := errortypes.NewRollback("no executor registered for rollback action kind").
			WithCode(string(phase.Rollback.Kind)).WithDomain(dep.Domain, string(phase.Phase))
		m.logger.Error().Err(err).Str("kind", string(phase.Rollback.Kind)).Msg("rollback executor missing")
		return StepOutcome{PhaseIndex: phase.Index, Phase: phase.Phase, Kind: phase.Rollback.Kind, Outcome: domain.OutcomeFailed, Error: err.Error()}
	}

	if err := exec.Execute(ctx, *phase.Rollback, dep); err != nil {
		m.logger.Warn().Err(err).Str("kind", string(phase.Rollback.Kind)).Str("deployment_id", dep.ID).
			Msg("rollback step failed")
		return StepOutcome{PhaseIndex: phase.Index, Phase: phase.Phase, Kind: phase.Rollback.Kind, Outcome: domain.OutcomeFailed, Error: err.Error()}
	}

	return StepOutcome{PhaseIndex: phase.Index, Phase: phase.Phase, Kind: phase.Rollback.Kind, Outcome: domain.OutcomeOK}
}

// Summary renders a one-line human summary of a Report, in the style of
// the CLI's status output.
func (r Report) Summary() string {
	if !r.PartialRollback {
		return fmt.Sprintf("rollback of %s completed: %d step(s) replayed", r.DeploymentID, len(r.Steps))
	}
	failed := 0
	for _, s := range r.Steps {
		if s.Outcome == domain.OutcomeFailed {
			failed++
		}
	}
	return fmt.Sprintf("rollback of %s partially completed: %d/%d step(s) failed", r.DeploymentID, failed, len(r.Steps))
}
