package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/clodoworks/orchestrator/internal/coordinator"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/health"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/clodoworks/orchestrator/internal/rollback"
	"github.com/clodoworks/orchestrator/internal/statestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sessionTokenKey is the coordinator key the portfolio-wide session token
// is shared under for the duration of one Deploy run.
const sessionTokenKey = "portfolio/session-token"

// Validator performs the read-only validate phase: config shape, token
// scope, and environment sanity checks. It must not mutate any resource.
type Validator interface {
	Validate(ctx context.Context, domainName string, env domain.Environment) error
}

// PrepareResult is what the prepare phase hands back: the rollback action
// to register for the resource it created or snapshotted.
type PrepareResult struct {
	Rollback domain.RollbackAction
}

// Preparer performs the prepare phase: provisioning or snapshotting the
// backing database, taking the per-(domain,env) lock's protected resources
// to a known-good pre-deploy state.
type Preparer interface {
	Prepare(ctx context.Context, domainName string, env domain.Environment) (PrepareResult, error)
}

// DeployResult is what the deploy phase hands back: the new revision's
// identifier and the rollback action that reverts it.
type DeployResult struct {
	Revision string
	Rollback domain.RollbackAction
}

// Deployer performs the deploy phase: pushing the new artifact/config to
// the upstream platform.
type Deployer interface {
	Deploy(ctx context.Context, dep domain.Deployment) (DeployResult, error)
}

// EndpointResolver returns the set of HTTP endpoints the verify phase
// should probe for domainName in env, typically the expected endpoint set
// from the domain's capability manifest.
type EndpointResolver func(ctx context.Context, domainName string, env domain.Environment) (baseURL string, endpoints []string)

// Orchestrator wires together the per-(domain,env) coordinator, the
// validate/prepare/deploy/verify pipeline, the audit/state log, and the
// rollback manager into the single-entry-point `deploy` and `rollback`
// operations.
type Orchestrator struct {
	coord         coordinator.Coordinator
	store         *statestore.Store
	rollbackMgr   *rollback.Manager
	healthChecker *health.Checker
	validator     Validator
	preparer      Preparer
	deployer      Deployer
	endpoints     EndpointResolver
	prodTester     *health.ProductionTester
	artifactsDir   string
	auditSigner    *domain.AuditTokenSigner
	phaseDeadline  time.Duration
	skipRollback   bool
	continueOnFail bool
	logger         zerolog.Logger
}

// Config bundles the dependencies New requires.
type Config struct {
	Coordinator   coordinator.Coordinator
	Store         *statestore.Store
	RollbackMgr   *rollback.Manager
	HealthChecker *health.Checker
	Validator     Validator
	Preparer      Preparer
	Deployer      Deployer
	Endpoints     EndpointResolver

	// ProdTester, when set, runs the production test suite as part of the
	// verify phase for production deployments, after the plain health
	// probes pass. Any sub-tester failure fails verify. Reports are
	// persisted under TestArtifactsDir (default "test-reports").
	ProdTester       *health.ProductionTester
	TestArtifactsDir string

	AuditSigner   *domain.AuditTokenSigner // optional: nil leaves Deployment.AuditToken empty
	PhaseDeadline time.Duration            // default 5 minutes
	SkipRollback  bool                     // operator override: leave partial state for manual inspection

	// ContinueOnBatchFailure overrides the default rollbackOnError=true
	// cross-batch sync point: when false (the default), any
	// domain in a batch reporting failed or partially-rolled-back aborts
	// the portfolio before the next batch starts. Set true to keep
	// deploying remaining batches on a best-effort basis instead.
	ContinueOnBatchFailure bool
}

func New(cfg Config) *Orchestrator {
	deadline := cfg.PhaseDeadline
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	artifactsDir := cfg.TestArtifactsDir
	if artifactsDir == "" {
		artifactsDir = "test-reports"
	}
	return &Orchestrator{
		coord: cfg.Coordinator, store: cfg.Store, rollbackMgr: cfg.RollbackMgr, healthChecker: cfg.HealthChecker,
		validator: cfg.Validator, preparer: cfg.Preparer, deployer: cfg.Deployer, endpoints: cfg.Endpoints,
		prodTester:     cfg.ProdTester,
		artifactsDir:   artifactsDir,
		auditSigner:    cfg.AuditSigner,
		phaseDeadline:  deadline,
		skipRollback:   cfg.SkipRollback,
		continueOnFail: cfg.ContinueOnBatchFailure,
		logger:         logging.WithComponent("orchestrator"),
	}
}

// Deploy runs the deploy pipeline over domains in batches of parallelism,
// synchronizing at each batch boundary.
func (o *Orchestrator) Deploy(ctx context.Context, domains []string, env domain.Environment, parallelism int) domain.PortfolioResult {
	batches := PlanDeployment(domains, parallelism)
	if len(batches) == 0 {
		return domain.PortfolioResult{Status: "success"}
	}

	// One session token per portfolio run, shared through the coordinator
	// so every per-domain pipeline stamps the same run identity on its
	// audit records and lock acquisitions.
	session := uuid.NewString()
	if err := o.coord.Share(ctx, sessionTokenKey, "orchestrator", session); err != nil {
		o.logger.Warn().Err(err).Msg("failed to share portfolio session token")
		session = ""
	} else {
		defer o.coord.Release(sessionTokenKey, "orchestrator")
	}

	return runBatches(ctx, batches, !o.continueOnFail, func(ctx context.Context, domainName string) domain.DomainResult {
		return o.deploySingle(ctx, domainName, env, session)
	})
}

// Rollback replays the recorded rollback actions for deploymentID in
// reverse registration order and, on success, repoints `current` at the
// most recent prior successful deployment for (domainName, env).
func (o *Orchestrator) Rollback(ctx context.Context, domainName string, env domain.Environment, deploymentID string) (rollback.Report, error) {
	records, err := o.store.RollbackActionsForDeployment(ctx, deploymentID)
	if err != nil {
		return rollback.Report{}, err
	}
	executed, err := o.store.ExecutedRollbackPhases(ctx, deploymentID)
	if err != nil {
		return rollback.Report{}, err
	}

	dep := domain.Deployment{ID: deploymentID, Domain: domainName, Environment: env}
	for i, rec := range records {
		dep.Phases = append(dep.Phases, domain.PhaseRecord{
			Index: i, Phase: rec.Phase, Outcome: domain.OutcomeOK,
			Rollback: &domain.RollbackAction{Kind: rec.RollbackKind, Params: rec.RollbackParams, Executed: executed[rec.Phase]},
		})
	}

	report := o.rollbackMgr.Rollback(ctx, dep)

	for _, step := range report.Steps {
		if step.Outcome != domain.OutcomeOK {
			continue
		}
		if err := o.store.RecordRollbackExecuted(ctx, deploymentID, domainName, env, step.Phase); err != nil {
			o.logger.Warn().Err(err).Str("deployment_id", deploymentID).Str("phase", string(step.Phase)).Msg("failed to persist rollback-executed marker")
		}
	}

	if previous, findErr := o.store.LatestSuccessful(ctx, domainName, env); findErr == nil && previous != "" && previous != deploymentID {
		_ = o.store.SetCurrent(ctx, domainName, env, previous, "")
	}
	return report, nil
}

func (o *Orchestrator) deploySingle(ctx context.Context, domainName string, env domain.Environment, session string) domain.DomainResult {
	owner := "orchestrator"
	if session != "" {
		owner = session
	}

	key := domain.Domain{Name: domainName, Environment: env}.Key()
	release, err := o.coord.Acquire(ctx, key, owner)
	if err != nil {
		return domain.DomainResult{Domain: domainName, Environment: env, Status: "failed", Error: err.Error()}
	}
	defer release()

	id, err := domain.NewDeploymentID(time.Now())
	if err != nil {
		return domain.DomainResult{Domain: domainName, Environment: env, Status: "failed", Error: err.Error()}
	}
	dep := domain.Deployment{ID: id, Domain: domainName, Environment: env, StartTime: time.Now(), User: session}
	o.signAuditToken(&dep)

	if err := o.runPhase(ctx, &dep, domain.PhaseValidate, func(ctx context.Context) (*domain.RollbackAction, error) {
		return nil, o.validator.Validate(ctx, domainName, env)
	}); err != nil {
		return o.failed(dep, err)
	}

	if err := o.runPhase(ctx, &dep, domain.PhasePrepare, func(ctx context.Context) (*domain.RollbackAction, error) {
		result, err := o.preparer.Prepare(ctx, domainName, env)
		if err != nil {
			return nil, err
		}
		return &result.Rollback, nil
	}); err != nil {
		return o.failAndRollback(ctx, dep, err)
	}

	if err := o.runPhase(ctx, &dep, domain.PhaseDeploy, func(ctx context.Context) (*domain.RollbackAction, error) {
		result, err := o.deployer.Deploy(ctx, dep)
		if err != nil {
			return nil, err
		}
		dep.Revision = result.Revision
		return &result.Rollback, nil
	}); err != nil {
		return o.failAndRollback(ctx, dep, err)
	}

	if err := o.runPhase(ctx, &dep, domain.PhaseVerify, func(ctx context.Context) (*domain.RollbackAction, error) {
		if o.endpoints == nil {
			return nil, nil
		}
		baseURL, endpoints := o.endpoints(ctx, domainName, env)
		if o.healthChecker != nil {
			results := o.healthChecker.ProbeAll(ctx, baseURL, endpoints)
			if err := health.FailureError(domainName, results); err != nil {
				return nil, err
			}
		}
		return nil, o.runProductionTests(ctx, domainName, env, baseURL)
	}); err != nil {
		return o.failAndRollback(ctx, dep, err)
	}

	if err := o.store.SetCurrent(ctx, domainName, env, dep.ID, dep.Revision); err != nil {
		o.logger.Warn().Err(err).Str("deployment_id", dep.ID).Msg("failed to set current deployment pointer")
	}
	dep.EndTime = time.Now()
	dep.Current = true

	return domain.DomainResult{Domain: domainName, Environment: env, DeploymentID: dep.ID, Status: "success"}
}

// runProductionTests runs the full production test suite against baseURL
// for production deployments, persisting the report and metrics artifacts.
// Non-production environments skip it: the plain health probes already
// gate those, and production-grade load/auth exercises against a dev
// worker would only produce noise.
func (o *Orchestrator) runProductionTests(ctx context.Context, domainName string, env domain.Environment, baseURL string) error {
	if o.prodTester == nil || env != domain.EnvProduction {
		return nil
	}

	report := o.prodTester.Run(ctx, domainName, baseURL, []health.SubTesterName{
		health.SubTesterAPI, health.SubTesterAuth, health.SubTesterPerformance, health.SubTesterDB, health.SubTesterLoad,
	})
	if err := health.PersistArtifacts(o.artifactsDir, report); err != nil {
		o.logger.Warn().Err(err).Str("domain", domainName).Msg("failed to persist production test artifacts")
	}
	if !report.Passed() {
		return errortypes.NewValidation("production test suite failed").
			WithDomain(domainName, "verify").WithCode(fmt.Sprintf("%d failed checks", report.TotalFailed))
	}
	return nil
}

// runPhase executes one phase step under phaseDeadline, recording start and
// end events (with any returned rollback action) in the audit log.
func (o *Orchestrator) runPhase(ctx context.Context, dep *domain.Deployment, phase domain.Phase, step func(context.Context) (*domain.RollbackAction, error)) error {
	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseDeadline)
	defer cancel()

	dep.Phase = phase
	o.signAuditToken(dep)
	_ = o.store.RecordPhaseEvent(ctx, *dep, phase, statestore.EventStart, "", "", nil)

	rollbackAction, err := step(phaseCtx)
	index := len(dep.Phases)

	if err != nil {
		outcome := domain.OutcomeFailed
		if ctx.Err() != nil {
			err = errortypes.NewUserCancelled("deployment cancelled").WithCause(ctx.Err()).WithDomain(dep.Domain, string(phase))
		}
		dep.Phases = append(dep.Phases, domain.PhaseRecord{Index: index, Phase: phase, Outcome: outcome, Error: err.Error(), StartTime: time.Now(), EndTime: time.Now()})
		_ = o.store.RecordPhaseEvent(ctx, *dep, phase, statestore.EventError, outcome, err.Error(), nil)
		return err
	}

	dep.Phases = append(dep.Phases, domain.PhaseRecord{Index: index, Phase: phase, Outcome: domain.OutcomeOK, Rollback: rollbackAction, StartTime: time.Now(), EndTime: time.Now()})
	_ = o.store.RecordPhaseEvent(ctx, *dep, phase, statestore.EventEnd, domain.OutcomeOK, "", rollbackAction)
	if rollbackAction != nil {
		_ = o.store.RecordPhaseEvent(ctx, *dep, phase, statestore.EventRollbackRegistered, "", "", rollbackAction)
	}
	return nil
}

// signAuditToken refreshes dep.AuditToken to reflect the current phase. A
// nil signer (the default when no secret was configured) leaves the field
// empty rather than failing the pipeline over an ambient concern.
func (o *Orchestrator) signAuditToken(dep *domain.Deployment) {
	if o.auditSigner == nil {
		return
	}
	token, err := o.auditSigner.Sign(*dep, o.phaseDeadline*time.Duration(len(domain.AllPhases)))
	if err != nil {
		o.logger.Warn().Err(err).Str("deployment_id", dep.ID).Msg("failed to sign audit token")
		return
	}
	dep.AuditToken = token
}

func (o *Orchestrator) failed(dep domain.Deployment, err error) domain.DomainResult {
	return domain.DomainResult{Domain: dep.Domain, Environment: dep.Environment, DeploymentID: dep.ID, Status: "failed", Error: err.Error()}
}

// failAndRollback is invoked when prepare, deploy, or verify fails after at
// least one rollback action may already be registered: it immediately
// replays everything recorded so far, before returning the terminal
// DomainResult: a failed phase triggers rollback synchronously.
func (o *Orchestrator) failAndRollback(ctx context.Context, dep domain.Deployment, cause error) domain.DomainResult {
	if o.skipRollback {
		return o.failed(dep, cause)
	}
	report := o.rollbackMgr.Rollback(ctx, dep)
	for _, step := range report.Steps {
		if step.Outcome != domain.OutcomeOK {
			continue
		}
		if err := o.store.RecordRollbackExecuted(ctx, dep.ID, dep.Domain, dep.Environment, step.Phase); err != nil {
			o.logger.Warn().Err(err).Str("deployment_id", dep.ID).Str("phase", string(step.Phase)).Msg("failed to persist rollback-executed marker")
		}
	}
	status := "failed"
	if report.PartialRollback {
		status = "partially-rolled-back"
	}
	return domain.DomainResult{
		Domain: dep.Domain, Environment: dep.Environment, DeploymentID: dep.ID,
		Status: status, Error: cause.Error(), PartialRollback: report.PartialRollback,
	}
}
