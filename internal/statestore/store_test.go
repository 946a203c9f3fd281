package statestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDeployment(id string) domain.Deployment {
	return domain.Deployment{ID: id, Domain: "shop.example.com", Environment: domain.EnvProduction, Revision: "rev-1"}
}

func TestRecordAndQueryHistoryByDomain(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	dep := testDeployment("deploy-1")

	require.NoError(t, store.RecordPhaseEvent(ctx, dep, domain.PhaseValidate, EventStart, "", "", nil))
	require.NoError(t, store.RecordPhaseEvent(ctx, dep, domain.PhaseValidate, EventEnd, domain.OutcomeOK, "", nil))

	history, err := store.HistoryByDomain(ctx, "shop.example.com")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, EventStart, history[0].EventType)
	assert.Equal(t, EventEnd, history[1].EventType)
}

func TestCurrentPointerRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.CurrentDeploymentID(ctx, "shop.example.com", domain.EnvProduction)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.SetCurrent(ctx, "shop.example.com", domain.EnvProduction, "deploy-1", "rev-1"))

	id, err = store.CurrentDeploymentID(ctx, "shop.example.com", domain.EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, "deploy-1", id)

	require.NoError(t, store.SetCurrent(ctx, "shop.example.com", domain.EnvProduction, "deploy-2", "rev-2"))
	id, err = store.CurrentDeploymentID(ctx, "shop.example.com", domain.EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, "deploy-2", id)
}

func TestRollbackActionsForDeploymentInRecordedOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	dep := testDeployment("deploy-1")

	actions := []domain.RollbackAction{
		{Kind: domain.ActionDeleteSecret},
		{Kind: domain.ActionDeleteDB},
		{Kind: domain.ActionDeleteDNS},
	}
	for i, a := range actions {
		require.NoError(t, store.RecordPhaseEvent(ctx, dep, domain.Phase(string(rune('a'+i))), EventRollbackRegistered, "", "", &a))
	}

	recorded, err := store.RollbackActionsForDeployment(ctx, "deploy-1")
	require.NoError(t, err)
	require.Len(t, recorded, 3)
	assert.Equal(t, domain.ActionDeleteSecret, recorded[0].RollbackKind)
	assert.Equal(t, domain.ActionDeleteDB, recorded[1].RollbackKind)
	assert.Equal(t, domain.ActionDeleteDNS, recorded[2].RollbackKind)
}

func TestLatestSuccessfulFindsMostRecentOKDeployment(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dep1 := testDeployment("deploy-1")
	require.NoError(t, store.RecordPhaseEvent(ctx, dep1, domain.PhaseDeploy, EventEnd, domain.OutcomeOK, "", nil))

	dep2 := testDeployment("deploy-2")
	require.NoError(t, store.RecordPhaseEvent(ctx, dep2, domain.PhaseDeploy, EventEnd, domain.OutcomeFailed, "boom", nil))

	latest, err := store.LatestSuccessful(ctx, "shop.example.com", domain.EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, "deploy-1", latest)
}

func TestExportAllThenImportRecordsRoundTripsIntoFreshStore(t *testing.T) {
	source := openTestStore(t)
	ctx := context.Background()
	dep := testDeployment("deploy-1")
	action := domain.RollbackAction{Kind: domain.ActionDeleteDB, Params: map[string]interface{}{"database_name": "shop-production"}}

	require.NoError(t, source.RecordPhaseEvent(ctx, dep, domain.PhasePrepare, EventStart, "", "", nil))
	require.NoError(t, source.RecordPhaseEvent(ctx, dep, domain.PhasePrepare, EventRollbackRegistered, "", "", &action))

	exported, err := source.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 2)

	dest := openTestStore(t)
	require.NoError(t, dest.ImportRecords(ctx, exported))

	history, err := dest.HistoryByDomain(ctx, "shop.example.com")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, exported[0].DeploymentID, history[0].DeploymentID)
	assert.Equal(t, domain.ActionDeleteDB, history[1].RollbackKind)
	assert.Equal(t, "shop-production", history[1].RollbackParams["database_name"])
}

func TestHistoryByEnvironmentFiltersAcrossDomains(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	depA := domain.Deployment{ID: "deploy-a", Domain: "a.example.com", Environment: domain.EnvStaging}
	depB := domain.Deployment{ID: "deploy-b", Domain: "b.example.com", Environment: domain.EnvProduction}

	require.NoError(t, store.RecordPhaseEvent(ctx, depA, domain.PhaseDeploy, EventEnd, domain.OutcomeOK, "", nil))
	require.NoError(t, store.RecordPhaseEvent(ctx, depB, domain.PhaseDeploy, EventEnd, domain.OutcomeOK, "", nil))

	staging, err := store.HistoryByEnvironment(ctx, domain.EnvStaging)
	require.NoError(t, err)
	assert.Len(t, staging, 1)
	assert.Equal(t, "deploy-a", staging[0].DeploymentID)
}
