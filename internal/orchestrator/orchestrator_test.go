package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/clodoworks/orchestrator/internal/coordinator"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/health"
	"github.com/clodoworks/orchestrator/internal/rollback"
	"github.com/clodoworks/orchestrator/internal/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct{ fail bool }

func (f fakeValidator) Validate(context.Context, string, domain.Environment) error {
	if f.fail {
		return fmt.Errorf("validation failed")
	}
	return nil
}

type fakePreparer struct{ fail bool }

func (f fakePreparer) Prepare(context.Context, string, domain.Environment) (PrepareResult, error) {
	if f.fail {
		return PrepareResult{}, fmt.Errorf("prepare failed")
	}
	return PrepareResult{Rollback: domain.RollbackAction{Kind: domain.ActionDeleteDB}}, nil
}

type fakeDeployer struct{ fail bool }

func (f fakeDeployer) Deploy(context.Context, domain.Deployment) (DeployResult, error) {
	if f.fail {
		return DeployResult{}, fmt.Errorf("deploy failed")
	}
	return DeployResult{Revision: "rev-1", Rollback: domain.RollbackAction{Kind: domain.ActionRevertDeployConfig}}, nil
}

func newTestOrchestrator(t *testing.T, validator Validator, preparer Preparer, deployer Deployer, executed *[]domain.RollbackActionKind) (*Orchestrator, *statestore.Store) {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := rollback.NewRegistry()
	for _, kind := range []domain.RollbackActionKind{domain.ActionDeleteDB, domain.ActionRevertDeployConfig} {
		k := kind
		registry.Register(k, rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
			if executed != nil {
				*executed = append(*executed, k)
			}
			return nil
		}))
	}

	orch := New(Config{
		Coordinator: coordinator.NewInMemoryCoordinator(),
		Store:       store,
		RollbackMgr: rollback.NewManager(registry),
		Validator:   validator,
		Preparer:    preparer,
		Deployer:    deployer,
	})
	return orch, store
}

func TestDeploySingleDomainSuccessSetsCurrentPointer(t *testing.T) {
	orch, store := newTestOrchestrator(t, fakeValidator{}, fakePreparer{}, fakeDeployer{}, nil)

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Equal(t, "success", result.Status)

	current, err := store.CurrentDeploymentID(context.Background(), "shop.example.com", domain.EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, result.DeploymentID, current)
}

func TestDeploySingleValidateFailureReportsFailedWithNoRollback(t *testing.T) {
	orch, _ := newTestOrchestrator(t, fakeValidator{fail: true}, fakePreparer{}, fakeDeployer{}, nil)

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Equal(t, "failed", result.Status)
	assert.False(t, result.PartialRollback)
}

func TestDeploySingleDeployFailureRollsBackPrepare(t *testing.T) {
	var executed []domain.RollbackActionKind
	orch, _ := newTestOrchestrator(t, fakeValidator{}, fakePreparer{}, fakeDeployer{fail: true}, &executed)

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, []domain.RollbackActionKind{domain.ActionDeleteDB}, executed)
}

func TestDeploySingleDeployFailureSkipsRollbackWhenConfigured(t *testing.T) {
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var executed []domain.RollbackActionKind
	registry := rollback.NewRegistry()
	registry.Register(domain.ActionDeleteDB, rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
		executed = append(executed, domain.ActionDeleteDB)
		return nil
	}))

	orch := New(Config{
		Coordinator:  coordinator.NewInMemoryCoordinator(),
		Store:        store,
		RollbackMgr:  rollback.NewManager(registry),
		Validator:    fakeValidator{},
		Preparer:     fakePreparer{},
		Deployer:     fakeDeployer{fail: true},
		SkipRollback: true,
	})

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Equal(t, "failed", result.Status)
	assert.False(t, result.PartialRollback)
	assert.Empty(t, executed)
}

func TestDeployEmptyPortfolioReturnsSuccessWithNoResults(t *testing.T) {
	orch, _ := newTestOrchestrator(t, fakeValidator{}, fakePreparer{}, fakeDeployer{}, nil)

	portfolio := orch.Deploy(context.Background(), nil, domain.EnvProduction, 2)
	assert.Equal(t, "success", portfolio.Status)
	assert.Empty(t, portfolio.Results)
}

func TestDeployMultipleDomainsAllSucceed(t *testing.T) {
	orch, _ := newTestOrchestrator(t, fakeValidator{}, fakePreparer{}, fakeDeployer{}, nil)

	portfolio := orch.Deploy(context.Background(), []string{"a.example.com", "b.example.com", "c.example.com"}, domain.EnvStaging, 2)
	assert.Equal(t, "success", portfolio.Status)
	assert.Len(t, portfolio.Results, 3)
}

type perDomainDeployer struct {
	mu       sync.Mutex
	failFor  string
	attempts []string
}

func (d *perDomainDeployer) Deploy(_ context.Context, dep domain.Deployment) (DeployResult, error) {
	d.mu.Lock()
	d.attempts = append(d.attempts, dep.Domain)
	d.mu.Unlock()
	if dep.Domain == d.failFor {
		return DeployResult{}, fmt.Errorf("deploy failed for %s", dep.Domain)
	}
	return DeployResult{Revision: "rev-1", Rollback: domain.RollbackAction{Kind: domain.ActionRevertDeployConfig}}, nil
}

func TestDeployAbortsLaterBatchesOnFailureByDefault(t *testing.T) {
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := rollback.NewRegistry()
	registry.Register(domain.ActionRevertDeployConfig, rollback.ExecutorFunc(func(context.Context, domain.RollbackAction, domain.Deployment) error { return nil }))
	registry.Register(domain.ActionDeleteDB, rollback.ExecutorFunc(func(context.Context, domain.RollbackAction, domain.Deployment) error { return nil }))

	deployer := &perDomainDeployer{failFor: "a.example.com"}
	orch := New(Config{
		Coordinator: coordinator.NewInMemoryCoordinator(),
		Store:       store,
		RollbackMgr: rollback.NewManager(registry),
		Validator:   fakeValidator{},
		Preparer:    fakePreparer{},
		Deployer:    deployer,
	})

	portfolio := orch.Deploy(context.Background(), []string{"a.example.com", "b.example.com"}, domain.EnvProduction, 1)

	assert.Equal(t, "failed", portfolio.Status)
	assert.True(t, portfolio.Aborted)
	assert.Equal(t, []string{"a.example.com"}, deployer.attempts)
}

func TestDeployContinuesPastFailureWhenConfigured(t *testing.T) {
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := rollback.NewRegistry()
	registry.Register(domain.ActionRevertDeployConfig, rollback.ExecutorFunc(func(context.Context, domain.RollbackAction, domain.Deployment) error { return nil }))
	registry.Register(domain.ActionDeleteDB, rollback.ExecutorFunc(func(context.Context, domain.RollbackAction, domain.Deployment) error { return nil }))

	deployer := &perDomainDeployer{failFor: "a.example.com"}
	orch := New(Config{
		Coordinator:            coordinator.NewInMemoryCoordinator(),
		Store:                  store,
		RollbackMgr:            rollback.NewManager(registry),
		Validator:              fakeValidator{},
		Preparer:               fakePreparer{},
		Deployer:               deployer,
		ContinueOnBatchFailure: true,
	})

	portfolio := orch.Deploy(context.Background(), []string{"a.example.com", "b.example.com"}, domain.EnvProduction, 1)

	assert.Equal(t, "failed", portfolio.Status)
	assert.False(t, portfolio.Aborted)
	assert.ElementsMatch(t, []string{"a.example.com", "b.example.com"}, deployer.attempts)
}

func TestRollbackReplaysActionsForPastDeployment(t *testing.T) {
	orch, store := newTestOrchestrator(t, fakeValidator{}, fakePreparer{}, fakeDeployer{}, nil)
	ctx := context.Background()

	result := orch.deploySingle(ctx, "shop.example.com", domain.EnvProduction, "")
	require.Equal(t, "success", result.Status)

	report, err := orch.Rollback(ctx, "shop.example.com", domain.EnvProduction, result.DeploymentID)
	require.NoError(t, err)
	assert.False(t, report.PartialRollback)
	assert.NotEmpty(t, report.Steps)

	_ = store
}

func TestRollbackTwiceIsNoOpOnSecondCall(t *testing.T) {
	var executed []domain.RollbackActionKind
	orch, _ := newTestOrchestrator(t, fakeValidator{}, fakePreparer{}, fakeDeployer{}, &executed)
	ctx := context.Background()

	result := orch.deploySingle(ctx, "shop.example.com", domain.EnvProduction, "")
	require.Equal(t, "success", result.Status)

	first, err := orch.Rollback(ctx, "shop.example.com", domain.EnvProduction, result.DeploymentID)
	require.NoError(t, err)
	assert.NotEmpty(t, executed)
	firstCount := len(executed)

	second, err := orch.Rollback(ctx, "shop.example.com", domain.EnvProduction, result.DeploymentID)
	require.NoError(t, err)

	assert.Equal(t, firstCount, len(executed), "no executor should run again on the second rollback")
	assert.Len(t, second.Steps, len(first.Steps))
	for _, step := range second.Steps {
		assert.Equal(t, domain.OutcomeSkipped, step.Outcome)
	}
}

func failingSubTester(name health.SubTesterName) health.SubTester {
	return health.SubTesterFunc(func(ctx context.Context, baseURL string, budgets health.Budgets) health.SubTesterResult {
		return health.SubTesterResult{Name: name, Failed: 1, Checks: []health.CheckOutcome{{Name: "check", Passed: false}}}
	})
}

func passingSubTester(name health.SubTesterName) health.SubTester {
	return health.SubTesterFunc(func(ctx context.Context, baseURL string, budgets health.Budgets) health.SubTesterResult {
		return health.SubTesterResult{Name: name, Passed: 1, Checks: []health.CheckOutcome{{Name: "check", Passed: true}}}
	})
}

func newProdTestOrchestrator(t *testing.T, tester health.SubTester, executed *[]domain.RollbackActionKind) *Orchestrator {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := rollback.NewRegistry()
	for _, kind := range []domain.RollbackActionKind{domain.ActionDeleteDB, domain.ActionRevertDeployConfig} {
		k := kind
		registry.Register(k, rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
			if executed != nil {
				*executed = append(*executed, k)
			}
			return nil
		}))
	}

	prodTester := health.NewProductionTester(health.DefaultBudgets())
	prodTester.RegisterFactory(health.SubTesterAPI, func() health.SubTester { return tester })

	return New(Config{
		Coordinator: coordinator.NewInMemoryCoordinator(),
		Store:       store,
		RollbackMgr: rollback.NewManager(registry),
		Validator:   fakeValidator{},
		Preparer:    fakePreparer{},
		Deployer:    fakeDeployer{},
		Endpoints: func(ctx context.Context, domainName string, env domain.Environment) (string, []string) {
			return "http://unused", []string{"/health"}
		},
		ProdTester:       prodTester,
		TestArtifactsDir: filepath.Join(t.TempDir(), "test-reports"),
	})
}

func TestDeploySingleProductionTestFailureFailsVerify(t *testing.T) {
	var executed []domain.RollbackActionKind
	orch := newProdTestOrchestrator(t, failingSubTester(health.SubTesterAPI), &executed)

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, []domain.RollbackActionKind{domain.ActionRevertDeployConfig, domain.ActionDeleteDB}, executed)
}

func TestDeploySingleProductionTestPassSucceeds(t *testing.T) {
	orch := newProdTestOrchestrator(t, passingSubTester(health.SubTesterAPI), nil)

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvProduction, "")
	assert.Equal(t, "success", result.Status)
}

func TestDeploySingleProductionTesterSkippedOutsideProduction(t *testing.T) {
	var executed []domain.RollbackActionKind
	orch := newProdTestOrchestrator(t, failingSubTester(health.SubTesterAPI), &executed)

	result := orch.deploySingle(context.Background(), "shop.example.com", domain.EnvStaging, "")
	assert.Equal(t, "success", result.Status)
	assert.Empty(t, executed)
}
