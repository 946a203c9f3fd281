// Package statestore is the append-only audit/state
// store ("DataBridge"): one durable record per phase event
// (start/end/rollback-registered/rollback-executed/error), a `current` pointer per
// (domain, environment), and history/rollback-action queries over the log.
// Backed by SQLite so writes remain visible after a crash
// mid-portfolio.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// EventType names the five phase-event kinds recorded in the log.
type EventType string

const (
	EventStart              EventType = "start"
	EventEnd                EventType = "end"
	EventRollbackRegistered EventType = "rollback-registered"
	EventRollbackExecuted   EventType = "rollback-executed"
	EventError              EventType = "error"
)

// Store is the durable audit/state log. One *Store should be shared across
// the whole orchestrator process; writes are serialized per deployment id
// via the mutexes lockFor hands out, so concurrent batches don't interleave a single
// deployment's phase events.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	logger zerolog.Logger
}

// Open creates (or attaches to) the SQLite-backed event log at path,
// creating the schema if absent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open statestore database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no built-in write concurrency; serialize at the handle

	// synchronous=FULL makes SQLite fsync the journal/WAL before a commit
	// returns, so a phase event recorded as written survives a crash right
	// after that write. Without it SQLite's default (NORMAL) can lose the
	// most recent commits after an OS crash, which would let the audit log
	// disagree with what the orchestrator actually did.
	if _, err := db.Exec(`PRAGMA synchronous = FULL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set statestore durability pragma: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply statestore schema: %w", err)
	}

	return &Store{db: db, locks: make(map[string]*sync.Mutex), logger: logging.WithComponent("statestore")}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS phase_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	environment TEXT NOT NULL,
	phase TEXT NOT NULL,
	event_type TEXT NOT NULL,
	outcome TEXT,
	error TEXT,
	rollback_kind TEXT,
	rollback_params TEXT,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phase_events_deployment ON phase_events(deployment_id);
CREATE INDEX IF NOT EXISTS idx_phase_events_domain_env ON phase_events(domain, environment);

CREATE TABLE IF NOT EXISTS current_deployment (
	domain TEXT NOT NULL,
	environment TEXT NOT NULL,
	deployment_id TEXT NOT NULL,
	revision TEXT,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (domain, environment)
);
`

func (s *Store) lockFor(deploymentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[deploymentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[deploymentID] = l
	}
	return l
}

// RecordPhaseEvent appends one event for deploymentID. Writes for the same
// deployment id are serialized so a concurrently racing writer can never
// interleave two deployments' phase sequences out of order.
func (s *Store) RecordPhaseEvent(ctx context.Context, dep domain.Deployment, phase domain.Phase, eventType EventType, outcome domain.Outcome, errMsg string, rollback *domain.RollbackAction) error {
	lock := s.lockFor(dep.ID)
	lock.Lock()
	defer lock.Unlock()

	var rollbackKind, rollbackParams string
	if rollback != nil {
		rollbackKind = string(rollback.Kind)
		if rollback.Params != nil {
			data, _ := json.Marshal(rollback.Params)
			rollbackParams = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_events (deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dep.ID, dep.Domain, string(dep.Environment), string(phase), string(eventType), string(outcome), errMsg, rollbackKind, rollbackParams, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errortypes.NewInvariant("record phase event failed").WithCause(err).WithDomain(dep.Domain, string(phase))
	}

	s.logger.Debug().Str("deployment_id", dep.ID).Str("phase", string(phase)).Str("event", string(eventType)).Msg("phase event recorded")
	return nil
}

// RecordRollbackExecuted marks phase's rollback action as successfully
// replayed for deploymentID. A later Rollback call for the same deployment
// consults ExecutedRollbackPhases and skips the action as already-done,
// making replaying a finished rollback a structural no-op instead of
// re-invoking an already-reversed Executor.
func (s *Store) RecordRollbackExecuted(ctx context.Context, deploymentID, domainName string, env domain.Environment, phase domain.Phase) error {
	lock := s.lockFor(deploymentID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phase_events (deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deploymentID, domainName, string(env), string(phase), string(EventRollbackExecuted), string(domain.OutcomeOK), "", "", "", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errortypes.NewInvariant("record rollback executed failed").WithCause(err).WithDomain(domainName, string(phase))
	}
	return nil
}

// ExecutedRollbackPhases returns the set of phases whose rollback action has
// already been successfully replayed for deploymentID.
func (s *Store) ExecutedRollbackPhases(ctx context.Context, deploymentID string) (map[domain.Phase]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT phase FROM phase_events WHERE deployment_id = ? AND event_type = ?`,
		deploymentID, string(EventRollbackExecuted),
	)
	if err != nil {
		return nil, errortypes.NewInvariant("query executed rollback phases failed").WithCause(err)
	}
	defer rows.Close()

	executed := make(map[domain.Phase]bool)
	for rows.Next() {
		var phase string
		if err := rows.Scan(&phase); err != nil {
			return nil, err
		}
		executed[domain.Phase(phase)] = true
	}
	return executed, rows.Err()
}

// SetCurrent updates the `current` pointer for (domain, environment) to
// point at deploymentID. Called once a deployment completes successfully.
func (s *Store) SetCurrent(ctx context.Context, domainName string, env domain.Environment, deploymentID, revision string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO current_deployment (domain, environment, deployment_id, revision, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(domain, environment) DO UPDATE SET deployment_id=excluded.deployment_id, revision=excluded.revision, updated_at=excluded.updated_at`,
		domainName, string(env), deploymentID, revision, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errortypes.NewInvariant("set current deployment pointer failed").WithCause(err).WithDomain(domainName, "")
	}
	return nil
}

// CurrentDeploymentID returns the deployment id currently marked current
// for (domain, environment), or "" if none.
func (s *Store) CurrentDeploymentID(ctx context.Context, domainName string, env domain.Environment) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT deployment_id FROM current_deployment WHERE domain = ? AND environment = ?`,
		domainName, string(env),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errortypes.NewInvariant("read current deployment pointer failed").WithCause(err)
	}
	return id, nil
}

// PhaseEventRecord is one row from the phase_events log, as returned by
// history and rollback-action queries.
type PhaseEventRecord struct {
	DeploymentID   string
	Domain         string
	Environment    string
	Phase          domain.Phase
	EventType      EventType
	Outcome        domain.Outcome
	Error          string
	RollbackKind   domain.RollbackActionKind
	RollbackParams map[string]interface{}
	RecordedAt     time.Time
}

// HistoryByDomain returns every recorded event for domainName across all
// environments, oldest first.
func (s *Store) HistoryByDomain(ctx context.Context, domainName string) ([]PhaseEventRecord, error) {
	return s.query(ctx, `SELECT deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at
		FROM phase_events WHERE domain = ? ORDER BY id ASC`, domainName)
}

// HistoryByEnvironment returns every recorded event for env across all
// domains, oldest first.
func (s *Store) HistoryByEnvironment(ctx context.Context, env domain.Environment) ([]PhaseEventRecord, error) {
	return s.query(ctx, `SELECT deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at
		FROM phase_events WHERE environment = ? ORDER BY id ASC`, string(env))
}

// RollbackActionsForDeployment returns the rollback actions recorded for
// deploymentID, in the order they were registered (the order the rollback
// manager must replay in reverse).
func (s *Store) RollbackActionsForDeployment(ctx context.Context, deploymentID string) ([]PhaseEventRecord, error) {
	return s.query(ctx, `SELECT deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at
		FROM phase_events WHERE deployment_id = ? AND event_type = ? ORDER BY id ASC`, deploymentID, string(EventRollbackRegistered))
}

// LatestSuccessful returns the deployment id of the most recent deployment
// for (domain, env) whose "end" event recorded OutcomeOK, the rollback
// target when a later deployment fails.
func (s *Store) LatestSuccessful(ctx context.Context, domainName string, env domain.Environment) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT deployment_id FROM phase_events
		 WHERE domain = ? AND environment = ? AND event_type = ? AND outcome = ?
		 ORDER BY id DESC LIMIT 1`,
		domainName, string(env), string(EventEnd), string(domain.OutcomeOK),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errortypes.NewInvariant("query latest successful deployment failed").WithCause(err)
	}
	return id, nil
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]PhaseEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errortypes.NewInvariant("statestore query failed").WithCause(err)
	}
	defer rows.Close()

	var out []PhaseEventRecord
	for rows.Next() {
		var rec PhaseEventRecord
		var phase, eventType, outcome, rollbackKind, recordedAt string
		var rollbackParams sql.NullString
		if err := rows.Scan(&rec.DeploymentID, &rec.Domain, &rec.Environment, &phase, &eventType, &outcome, &rec.Error, &rollbackKind, &rollbackParams, &recordedAt); err != nil {
			return nil, err
		}
		rec.Phase = domain.Phase(phase)
		rec.EventType = EventType(eventType)
		rec.Outcome = domain.Outcome(outcome)
		rec.RollbackKind = domain.RollbackActionKind(rollbackKind)
		if rollbackParams.Valid && rollbackParams.String != "" {
			_ = json.Unmarshal([]byte(rollbackParams.String), &rec.RollbackParams)
		}
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ExportAll returns every recorded phase event across every domain and
// environment, oldest first, for the export/import portability operation.
func (s *Store) ExportAll(ctx context.Context) ([]PhaseEventRecord, error) {
	return s.query(ctx, `SELECT deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at
		FROM phase_events ORDER BY id ASC`)
}

// ImportRecords inserts previously exported records verbatim, preserving
// their original deployment id and recorded_at timestamp rather than
// stamping them with time.Now like RecordPhaseEvent does. Used to restore
// or merge an audit log exported from another instance.
func (s *Store) ImportRecords(ctx context.Context, records []PhaseEventRecord) error {
	for _, rec := range records {
		var rollbackParams string
		if rec.RollbackParams != nil {
			data, err := json.Marshal(rec.RollbackParams)
			if err != nil {
				return err
			}
			rollbackParams = string(data)
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO phase_events (deployment_id, domain, environment, phase, event_type, outcome, error, rollback_kind, rollback_params, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.DeploymentID, rec.Domain, rec.Environment, string(rec.Phase), string(rec.EventType), string(rec.Outcome), rec.Error,
			string(rec.RollbackKind), rollbackParams, rec.RecordedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return errortypes.NewInvariant("import phase event failed").WithCause(err).WithDomain(rec.Domain, string(rec.Phase))
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
