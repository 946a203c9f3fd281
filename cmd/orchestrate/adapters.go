package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/clodoworks/orchestrator/internal/dborchestrator"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/orchestrator"
	"github.com/clodoworks/orchestrator/internal/platform"
	"github.com/clodoworks/orchestrator/internal/router"
	"github.com/clodoworks/orchestrator/internal/statestore"
)

// validatorAdapter implements orchestrator.Validator against the domain
// portfolio router: a domain must be known to the portfolio and env must be
// one of the three fixed environments.
type validatorAdapter struct {
	router *router.Router
}

func (v validatorAdapter) Validate(ctx context.Context, domainName string, env domain.Environment) error {
	if domainName == "" {
		return errortypes.NewValidation("domain name is required")
	}
	switch env {
	case domain.EnvDevelopment, domain.EnvStaging, domain.EnvProduction:
	default:
		return errortypes.NewValidation("unknown environment").WithCode(string(env))
	}

	all, err := v.router.Select(router.SelectAll, nil, env)
	if err != nil {
		return err
	}
	for _, d := range all {
		if d == domainName {
			return nil
		}
	}
	return errortypes.NewValidation("domain not present in portfolio").WithDomain(domainName, "validate")
}

// preparerAdapter implements orchestrator.Preparer: back up the database
// when env requires it, then apply pending migrations. The registered
// rollback action restores the backup if one was taken, or deletes the
// freshly-created database otherwise (there was nothing to go back to).
type preparerAdapter struct {
	runner        *dborchestrator.Runner
	backuper      *dborchestrator.Backuper
	migrationsDir string
}

func (p preparerAdapter) Prepare(ctx context.Context, domainName string, env domain.Environment) (orchestrator.PrepareResult, error) {
	dbName := dborchestrator.DatabaseName(domainName, env)

	var backupID string
	if dborchestrator.RequiresBackup(env) {
		manifest, err := p.backuper.Create(ctx, domainName, env, dbName)
		if err != nil {
			return orchestrator.PrepareResult{}, err
		}
		backupID = manifest.ID
	}

	if _, err := p.runner.Apply(ctx, domainName, env, p.migrationsDir); err != nil {
		return orchestrator.PrepareResult{}, err
	}

	if backupID != "" {
		return orchestrator.PrepareResult{Rollback: domain.RollbackAction{
			Kind:   domain.ActionRestoreDBSnapshot,
			Params: map[string]interface{}{"backup_id": backupID, "database_name": dbName},
		}}, nil
	}
	return orchestrator.PrepareResult{Rollback: domain.RollbackAction{
		Kind:   domain.ActionDeleteDB,
		Params: map[string]interface{}{"database_name": dbName},
	}}, nil
}

// deployerAdapter implements orchestrator.Deployer: reconcile the worker's
// wrangler.toml bindings, push the built artifact, and register a rollback
// action pointing at whatever deployment was current before this one.
type deployerAdapter struct {
	client      *platform.Client
	store       *statestore.Store
	servicePath string
}

func (d deployerAdapter) Deploy(ctx context.Context, dep domain.Deployment) (orchestrator.DeployResult, error) {
	bindings := platform.Bindings{Name: dep.Domain}
	if _, err := platform.ReconcileManifest(d.servicePath, bindings); err != nil {
		return orchestrator.DeployResult{}, err
	}

	script, err := os.ReadFile(filepath.Join(d.servicePath, "dist", "index.js"))
	if err != nil {
		return orchestrator.DeployResult{}, errortypes.NewValidation("read built worker artifact").
			WithCause(err).WithDomain(dep.Domain, "deploy")
	}

	previous, _ := d.store.LatestSuccessful(ctx, dep.Domain, dep.Environment)

	revision, err := d.client.PushArtifact(ctx, dep.Domain, script)
	if err != nil {
		return orchestrator.DeployResult{}, err
	}

	return orchestrator.DeployResult{
		Revision: revision,
		Rollback: domain.RollbackAction{
			Kind:   domain.ActionRedeployPreviousArtifact,
			Params: map[string]interface{}{"previous_deployment_id": previous, "domain": dep.Domain},
		},
	}, nil
}
