package dborchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/clodoworks/orchestrator/internal/confirm"
	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// CleanupMode names the three fixed cleanup scripts.
type CleanupMode string

const (
	CleanupLogsOnly CleanupMode = "logs-only"
	CleanupPartial  CleanupMode = "partial"
	CleanupFull     CleanupMode = "full"
)

// cleanupScripts are the fixed SQL scripts run per mode, keyed by
// CleanupMode. Each is idempotent: rerunning a mode against an
// already-cleaned database is a no-op.
var cleanupScripts = map[CleanupMode]string{
	CleanupLogsOnly: "DELETE FROM request_logs WHERE created_at < datetime('now', '-7 days');",
	CleanupPartial:  "DELETE FROM request_logs; DELETE FROM sessions WHERE expires_at < datetime('now');",
	CleanupFull:     "DELETE FROM request_logs; DELETE FROM sessions; DELETE FROM cache_entries; VACUUM;",
}

// CleanupResult is the outcome of one cleanup invocation.
type CleanupResult struct {
	Mode         CleanupMode
	DatabaseName string
	Duration     time.Duration
	BackupID     string // non-empty when RequiresBackup forced a backup first
}

// Cleaner runs the three-mode data cleanup, requiring a backup first and a
// double confirmation before any production `full` cleanup executes.
type Cleaner struct {
	runner   *Runner
	backuper *Backuper
	confirm  confirm.Confirmer
	logger   zerolog.Logger
}

func NewCleaner(runner *Runner, backuper *Backuper, confirmer confirm.Confirmer) *Cleaner {
	return &Cleaner{runner: runner, backuper: backuper, confirm: confirmer, logger: logging.WithComponent("dborchestrator.cleaner")}
}

// Run executes mode against domainName's database in env. `full` cleanup on
// production is refused unless the confirmer grants a double confirmation;
// under a non-interactive Confirmer that can never happen.
func (c *Cleaner) Run(ctx context.Context, domainName string, env domain.Environment, mode CleanupMode) (CleanupResult, error) {
	script, ok := cleanupScripts[mode]
	if !ok {
		return CleanupResult{}, errortypes.NewValidation("unknown cleanup mode").WithCode(string(mode)).WithDomain(domainName, "")
	}

	dbName := DatabaseName(domainName, env)
	result := CleanupResult{Mode: mode, DatabaseName: dbName}

	if mode == CleanupFull && env == domain.EnvProduction {
		details := []string{
			fmt.Sprintf("database: %s", dbName),
			"this permanently deletes request logs, sessions, and cache entries",
		}
		if !c.confirm.Double(fmt.Sprintf("full data cleanup on production database %s", dbName), details) {
			return CleanupResult{}, errortypes.NewUserCancelled("full production cleanup declined").WithDomain(domainName, "")
		}
	}

	if RequiresBackup(env) {
		manifest, err := c.backuper.Create(ctx, domainName, env, dbName)
		if err != nil {
			return CleanupResult{}, err
		}
		result.BackupID = manifest.ID
	}

	start := time.Now()
	execResult, err := c.runner.run(ctx, []string{"d1", "execute", dbName, "--remote", "--command", script})
	result.Duration = time.Since(start)
	c.runner.audit.Record("cleanup-"+string(mode), dbName, "", execResult)
	if err != nil {
		return result, errortypes.NewTransient("cleanup execute invocation failed").WithCause(err).WithDomain(domainName, "")
	}
	if execResult.ExitCode != 0 {
		return result, errortypes.NewInvariant("cleanup script exited non-zero").WithDomain(domainName, "").WithDetail("stderr", execResult.Stderr)
	}

	c.logger.Info().Str("domain", domainName).Str("mode", string(mode)).Str("database", dbName).Msg("database cleanup complete")
	return result, nil
}
