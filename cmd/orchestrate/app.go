package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clodoworks/orchestrator/internal/apiclient"
	"github.com/clodoworks/orchestrator/internal/assessment"
	"github.com/clodoworks/orchestrator/internal/confirm"
	"github.com/clodoworks/orchestrator/internal/coordinator"
	"github.com/clodoworks/orchestrator/internal/dborchestrator"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/health"
	"github.com/clodoworks/orchestrator/internal/orchestrator"
	"github.com/clodoworks/orchestrator/internal/platform"
	"github.com/clodoworks/orchestrator/internal/rollback"
	"github.com/clodoworks/orchestrator/internal/router"
	"github.com/clodoworks/orchestrator/internal/secrets"
	"github.com/clodoworks/orchestrator/internal/statestore"
	"github.com/spf13/viper"
)

// app bundles every long-lived resource a subcommand might need. Built once
// per invocation by newApp and torn down by its own close method; cmd/*.go
// files never construct these directly.
type app struct {
	platform     *platform.Client
	store        *statestore.Store
	coord        coordinator.Coordinator
	router       *router.Router
	assessEngine *assessment.Engine
	secretsStore *secrets.LocalStore
	bundleGen    *secrets.BundleGenerator
	runner       *dborchestrator.Runner
	backuper     *dborchestrator.Backuper
	cleaner      *dborchestrator.Cleaner
	orch         *orchestrator.Orchestrator
	shutdown     *shutdownHandler
}

func statePath() string {
	if p := viper.GetString("state-db"); p != "" {
		return p
	}
	return "orchestrator-state.db"
}

func domainsConfigPath() string {
	if p := viper.GetString("domains-config"); p != "" {
		return p
	}
	return filepath.Join("config", "domains.json")
}

// defaultEnvironment resolves the target environment when no flag was
// given: DEPLOY_ENV wins over NODE_ENV, then development.
func defaultEnvironment() string {
	if env := os.Getenv("DEPLOY_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("NODE_ENV"); env != "" {
		return env
	}
	return string(domain.EnvDevelopment)
}

func servicePath() string {
	if p := viper.GetString("service-path"); p != "" {
		return p
	}
	return "."
}

// newApp wires every long-lived component for one invocation, reading
// account credentials and paths from viper (flags, env vars via
// ORCHESTRATE_*, or the config file loaded by initConfig).
func newApp(ctx context.Context, skipRollback bool) (*app, error) {
	accountID := viper.GetString("account-id")
	if accountID == "" {
		accountID = os.Getenv("CLOUDFLARE_ACCOUNT_ID")
	}
	token := viper.GetString("api-token")
	if token == "" {
		token = os.Getenv("CLOUDFLARE_API_TOKEN")
	}
	baseURL := viper.GetString("api-base-url")
	if baseURL == "" {
		baseURL = "https://api.cloudflare.com/client/v4"
	}

	limiter := apiclient.NewLimiter(apiclient.DefaultClassConfigs())
	client := platform.NewClient(baseURL, accountID, token, limiter)

	store, err := statestore.Open(statePath())
	if err != nil {
		return nil, errortypes.NewTransient("open state store").WithCause(err)
	}

	rtr, err := router.New(domainsConfigPath(), client, "CLODO_DOMAINS", 2*time.Minute)
	if err != nil {
		store.Close()
		return nil, errortypes.NewValidation("load domain portfolio").WithCause(err)
	}

	cache, err := assessment.NewPersistentCache("config-cache", 10*time.Minute)
	if err != nil {
		store.Close()
		rtr.Close()
		return nil, errortypes.NewTransient("open config cache").WithCause(err)
	}
	assessEngine := assessment.NewEngine(client, client, cache)

	secretsDir := viper.GetString("secrets-dir")
	if secretsDir == "" {
		secretsDir = ".secure-tokens"
	}
	secretsStore, err := secrets.NewLocalStore(secretsDir, 5)
	if err != nil {
		store.Close()
		rtr.Close()
		return nil, errortypes.NewTransient("open secrets store").WithCause(err)
	}

	binary := viper.GetString("platform-cli")
	if binary == "" {
		binary = "wrangler"
	}
	dbAudit, err := dborchestrator.OpenAuditLog(filepath.Join("audit-logs", "database-audit.log"))
	if err != nil {
		store.Close()
		rtr.Close()
		return nil, errortypes.NewTransient("open database audit log").WithCause(err)
	}
	runner := dborchestrator.NewRunner(binary, 5*time.Minute).WithAudit(dbAudit)
	backuper := dborchestrator.NewBackuper("backups/database", runner)

	var confirmer confirm.Confirmer
	if viper.GetBool("non-interactive") {
		confirmer = confirm.NewNonInteractive()
	} else {
		confirmer = confirm.NewInteractive()
	}
	cleaner := dborchestrator.NewCleaner(runner, backuper, confirmer)

	coord := coordinator.NewInMemoryCoordinator()

	registry := rollback.NewRegistry()
	registry.Register(domain.ActionDeleteDB, ExecutorDeleteDB(runner))
	registry.Register(domain.ActionRestoreDBSnapshot, ExecutorRestoreSnapshot(runner))
	registry.Register(domain.ActionRevertDeployConfig, ExecutorRevertDeployConfig(client, servicePath()))
	registry.Register(domain.ActionRedeployPreviousArtifact, ExecutorRedeployPrevious(client, store))
	rollbackMgr := rollback.NewManager(registry)

	probeClient := &http.Client{Timeout: 10 * time.Second}
	healthChecker := health.NewChecker(probeClient, health.DefaultProbeConfig())

	// The production test suite reuses the probe client. Sub-tester
	// endpoints follow the platform's conventional worker routes.
	prodTester := health.NewProductionTester(health.DefaultBudgets())
	prodTester.RegisterFactory(health.SubTesterAPI, func() health.SubTester {
		return health.NewAPISubTester(probeClient, []string{"/health", "/v1"})
	})
	prodTester.RegisterFactory(health.SubTesterAuth, func() health.SubTester {
		return health.NewAuthSubTester(probeClient, "/auth/login")
	})
	prodTester.RegisterFactory(health.SubTesterPerformance, func() health.SubTester {
		return health.NewPerformanceSubTester(probeClient, "/health", 5)
	})
	prodTester.RegisterFactory(health.SubTesterDB, func() health.SubTester {
		return health.NewDBSubTester(probeClient, "/health/db")
	})
	prodTester.RegisterFactory(health.SubTesterLoad, func() health.SubTester {
		return health.NewLoadSubTester(probeClient, "/health", 8)
	})

	auditKey, err := secrets.LoadOrCreateKeyFile(filepath.Join(secretsDir, ".audit-token-key"))
	if err != nil {
		store.Close()
		rtr.Close()
		return nil, errortypes.NewTransient("load audit token key").WithCause(err)
	}
	auditSigner, err := domain.NewAuditTokenSigner(auditKey, "clodoworks/orchestrator")
	if err != nil {
		store.Close()
		rtr.Close()
		return nil, errortypes.NewInvariant("build audit token signer").WithCause(err)
	}

	orch := orchestrator.New(orchestrator.Config{
		Coordinator:   coord,
		Store:         store,
		RollbackMgr:   rollbackMgr,
		HealthChecker: healthChecker,
		Validator:     validatorAdapter{router: rtr},
		Preparer:      preparerAdapter{runner: runner, backuper: backuper, migrationsDir: servicePath()},
		Deployer:      deployerAdapter{client: client, store: store, servicePath: servicePath()},
		Endpoints: func(ctx context.Context, domainName string, env domain.Environment) (string, []string) {
			baseURL := fmt.Sprintf("https://%s", domainName)
			result, err := assessEngine.Assess(ctx, servicePath(), assessment.Inputs{DomainName: domainName, Environment: env})
			if err != nil || len(result.Manifest.Endpoints) == 0 {
				return baseURL, []string{"/health"}
			}
			return baseURL, result.Manifest.Endpoints
		},
		ProdTester:   prodTester,
		AuditSigner:  auditSigner,
		SkipRollback: skipRollback,
	})

	sh := newShutdownHandler(30 * time.Second)
	sh.handler.Register(shutdownCallback("state-store", 2, func(context.Context) error { return store.Close() }))
	sh.handler.Register(shutdownCallback("domain-router", 1, func(context.Context) error { return rtr.Close() }))
	sh.handler.Register(shutdownCallback("database-audit-log", 1, func(context.Context) error { return dbAudit.Close() }))

	return &app{
		platform:     client,
		store:        store,
		coord:        coord,
		router:       rtr,
		assessEngine: assessEngine,
		secretsStore: secretsStore,
		bundleGen:    secrets.NewBundleGenerator(),
		runner:       runner,
		backuper:     backuper,
		cleaner:      cleaner,
		orch:         orch,
		shutdown:     sh,
	}, nil
}

func (a *app) close() {
	a.shutdown.handler.Shutdown()
	a.shutdown.handler.Wait()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
