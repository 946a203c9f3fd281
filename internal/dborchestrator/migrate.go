// Package dborchestrator drives database operations: invoking the
// upstream platform's migration tool per (domain, environment), backing up
// a production database before any destructive operation touches it, and
// running the three-mode data-cleanup script under a confirmation gate.
package dborchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// MigrationResult is the outcome of one migration tool invocation.
type MigrationResult struct {
	DatabaseName string
	Remote       bool
	Command      string
	Args         []string
	Stdout       string
	Stderr       string
	Duration     time.Duration
	ExitCode     int
}

// Runner invokes the upstream migration binary (e.g. `wrangler d1
// migrations apply`) with the remote/local flag appropriate to the target
// environment.
type Runner struct {
	binary  string
	timeout time.Duration
	audit   *AuditLog
	logger  zerolog.Logger
}

// NewRunner builds a Runner that shells out to binary (the platform CLI
// found on PATH) with the given per-invocation timeout.
func NewRunner(binary string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{binary: binary, timeout: timeout, logger: logging.WithComponent("dborchestrator")}
}

// WithAudit attaches the append-only database audit stream. A nil log
// disables auditing; every Record call is nil-safe.
func (r *Runner) WithAudit(audit *AuditLog) *Runner {
	r.audit = audit
	return r
}

// DatabaseName computes the conventional per-(domain,env) database name the
// migration tool targets.
func DatabaseName(domainName string, env domain.Environment) string {
	return fmt.Sprintf("%s-%s", sanitize(domainName), env)
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '.' || r == '_' {
			out = append(out, '-')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Apply runs the migration tool against the computed database name. Every
// environment other than development is invoked with the upstream tool's
// remote flag; development runs against the local emulated database.
func (r *Runner) Apply(ctx context.Context, domainName string, env domain.Environment, migrationsDir string) (MigrationResult, error) {
	dbName := DatabaseName(domainName, env)
	remote := env != domain.EnvDevelopment

	args := []string{"d1", "migrations", "apply", dbName}
	if remote {
		args = append(args, "--remote")
	} else {
		args = append(args, "--local")
	}
	if migrationsDir != "" {
		args = append(args, "--config", migrationsDir)
	}

	result, err := r.run(ctx, args)
	result.DatabaseName = dbName
	result.Remote = remote
	r.audit.Record("migrations-apply", dbName, string(env), result)
	if err != nil {
		return result, errortypes.NewTransient("migration tool invocation failed").WithCause(err).
			WithDomain(domainName, "prepare").WithDetail("database", dbName)
	}
	if result.ExitCode != 0 {
		return result, errortypes.NewInvariant("migration tool exited non-zero").
			WithDomain(domainName, "prepare").WithCode(fmt.Sprintf("%d", result.ExitCode)).WithDetail("stderr", result.Stderr)
	}
	return result, nil
}

// Execute runs an arbitrary platform-CLI invocation, for rollback
// executors that need the tool directly (dropping a database, restoring a
// backup export) rather than through Apply's migration-specific flags.
func (r *Runner) Execute(ctx context.Context, args []string) (MigrationResult, error) {
	result, err := r.run(ctx, args)
	r.audit.Record("execute", "", "", result)
	return result, err
}

func (r *Runner) run(ctx context.Context, args []string) (MigrationResult, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cmdCtx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := MigrationResult{
		Command:  r.binary,
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.logger.Debug().Strs("args", args).Int("exit_code", result.ExitCode).Dur("duration", result.Duration).Msg("migration tool invoked")

	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return result, runErr
		}
	}
	return result, nil
}
