package dborchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
)

// BackupManifest describes one database backup under backups/database/<env>/<id>/.
type BackupManifest struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"`
	Environment  string    `json:"environment"`
	DatabaseName string    `json:"database_name"`
	CreatedAt    time.Time `json:"created_at"`
	ExportFile   string    `json:"export_file"`
}

// Backuper produces database snapshots before destructive operations.
// Production migrations and full cleanup both require one to exist first.
type Backuper struct {
	root   string // backups/database
	runner *Runner
}

// NewBackuper roots backups under root (conventionally "backups/database").
func NewBackuper(root string, runner *Runner) *Backuper {
	return &Backuper{root: root, runner: runner}
}

func newBackupID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "backup-" + time.Now().UTC().Format("20060102T150405") + "-" + hex.EncodeToString(buf)
}

// Create exports dbName via the migration tool and writes a manifest
// alongside the export, atomically (temp file + rename) so a crash mid-write
// never leaves a manifest pointing at a partial export.
func (b *Backuper) Create(ctx context.Context, domainName string, env domain.Environment, dbName string) (BackupManifest, error) {
	id := newBackupID()
	dir := filepath.Join(b.root, string(env), id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return BackupManifest{}, errortypes.NewTransient("create backup directory failed").WithCause(err).WithDomain(domainName, "prepare")
	}

	exportFile := filepath.Join(dir, dbName+".sql")
	result, err := b.runner.run(ctx, []string{"d1", "export", dbName, "--remote", "--output", exportFile})
	b.runner.audit.Record("export", dbName, id, result)
	if err != nil {
		return BackupManifest{}, errortypes.NewTransient("database export failed").WithCause(err).WithDomain(domainName, "prepare")
	}
	if result.ExitCode != 0 {
		return BackupManifest{}, errortypes.NewInvariant("database export tool exited non-zero").WithDomain(domainName, "prepare").WithDetail("stderr", result.Stderr)
	}

	manifest := BackupManifest{ID: id, Domain: domainName, Environment: string(env), DatabaseName: dbName, CreatedAt: time.Now().UTC(), ExportFile: exportFile}
	if err := writeManifestAtomic(filepath.Join(dir, "backup-manifest.json"), manifest); err != nil {
		return BackupManifest{}, errortypes.NewTransient("write backup manifest failed").WithCause(err).WithDomain(domainName, "prepare")
	}
	return manifest, nil
}

func writeManifestAtomic(path string, manifest BackupManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RequiresBackup reports whether env mandates a backup before a destructive
// operation. Only production does.
func RequiresBackup(env domain.Environment) bool {
	return env == domain.EnvProduction
}
