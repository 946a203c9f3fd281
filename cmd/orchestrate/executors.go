package main

import (
	"context"
	"fmt"

	"github.com/clodoworks/orchestrator/internal/dborchestrator"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/platform"
	"github.com/clodoworks/orchestrator/internal/rollback"
	"github.com/clodoworks/orchestrator/internal/statestore"
)

// ExecutorDeleteDB inverts a prepare phase that created a database with no
// prior backup to fall back to: the only safe undo is deleting it.
func ExecutorDeleteDB(runner *dborchestrator.Runner) rollback.Executor {
	return rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
		dbName, _ := action.Params["database_name"].(string)
		if dbName == "" {
			return errortypes.NewRollback("delete-db action missing database_name").WithDomain(dep.Domain, "prepare")
		}
		result, err := runner.Execute(ctx, []string{"d1", "delete", dbName, "--skip-confirmation"})
		if err != nil {
			return errortypes.NewTransient("database delete invocation failed").WithCause(err).WithDomain(dep.Domain, "prepare")
		}
		if result.ExitCode != 0 {
			return errortypes.NewInvariant("database delete tool exited non-zero").WithDomain(dep.Domain, "prepare").WithDetail("stderr", result.Stderr)
		}
		return nil
	})
}

// ExecutorRestoreSnapshot inverts a prepare phase that took a backup first:
// import the exported SQL back into the database it was snapshotted from.
func ExecutorRestoreSnapshot(runner *dborchestrator.Runner) rollback.Executor {
	return rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
		dbName, _ := action.Params["database_name"].(string)
		backupID, _ := action.Params["backup_id"].(string)
		if dbName == "" || backupID == "" {
			return errortypes.NewRollback("restore-db-snapshot action missing database_name or backup_id").WithDomain(dep.Domain, "prepare")
		}
		exportFile := fmt.Sprintf("backups/database/%s/%s/%s.sql", dep.Environment, backupID, dbName)
		result, err := runner.Execute(ctx, []string{"d1", "execute", dbName, "--remote", "--file", exportFile})
		if err != nil {
			return errortypes.NewTransient("database restore invocation failed").WithCause(err).WithDomain(dep.Domain, "prepare")
		}
		if result.ExitCode != 0 {
			return errortypes.NewInvariant("database restore tool exited non-zero").WithDomain(dep.Domain, "prepare").WithDetail("stderr", result.Stderr)
		}
		return nil
	})
}

// ExecutorRevertDeployConfig inverts a manifest reconciliation by writing
// back the bindings recorded in the rollback action's params, when a
// caller populates them; otherwise there is nothing to revert to and the
// step is reported as a no-op success.
func ExecutorRevertDeployConfig(client *platform.Client, servicePath string) rollback.Executor {
	return rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
		prevName, ok := action.Params["previous_binding_name"].(string)
		if !ok || prevName == "" {
			return nil
		}
		_, err := platform.ReconcileManifest(servicePath, platform.Bindings{Name: prevName})
		return err
	})
}

// ExecutorRedeployPrevious handles the inverse of an artifact push. When the
// action records no previous deployment id it is a no-op; otherwise it
// returns a rollback-category error carrying that id. It does not re-push
// any revision: the previous artifact is not retained locally.
func ExecutorRedeployPrevious(client *platform.Client, store *statestore.Store) rollback.Executor {
	return rollback.ExecutorFunc(func(ctx context.Context, action domain.RollbackAction, dep domain.Deployment) error {
		previousID, _ := action.Params["previous_deployment_id"].(string)
		if previousID == "" {
			return nil
		}
		// The previous artifact's bytes aren't retained by the state store
		// (it records audit events, not build output); operators recover
		// the prior revision from their own build cache keyed by
		// previousID and re-run `orchestrate deploy` once it's restored.
		return errortypes.NewRollback("previous artifact not retained locally; redeploy revision manually").
			WithCode(previousID).WithDomain(dep.Domain, "deploy")
	})
}
