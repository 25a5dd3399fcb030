// Package jobstore archives terminal Batch and Polling Job snapshots to an
// embedded SQLite database once they would otherwise be discarded by
// CleanupCompletedJobs / DeleteJob. It is a queryable history, not the
// durable at-least-once queue excluded by the fabric's Non-goals: a job is
// written once, after it reaches a terminal state, and is never replayed.
package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/apifabric/internal/batch"
	"github.com/vitaliisemenov/apifabric/internal/polling"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Kind distinguishes which subsystem a row came from.
type Kind string

const (
	KindBatch   Kind = "batch"
	KindPolling Kind = "polling"
)

// ArchivedJob is one row read back out of the archive.
type ArchivedJob struct {
	ID         string
	Kind       Kind
	APIName    string
	PluginName string
	Status     string
	CreatedAt  time.Time
	StartTime  time.Time
	EndTime    time.Time
	Summary    json.RawMessage
	ArchivedAt time.Time
}

// Store is a SQLite-backed archive of terminal job snapshots, schema-managed
// by goose migrations embedded in this package.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dsn and applies any
// pending migrations. dsn is a modernc.org/sqlite data source, e.g.
// "file:/var/lib/apifabric/jobs.db?_pragma=busy_timeout(5000)".
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("jobstore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: enable foreign_keys: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstore: migrate: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// ArchiveBatchJob implements batch.Archiver. Failures are logged and
// swallowed: the in-memory job state has already been dropped by the
// caller, and archival is best-effort history, not the source of truth.
func (s *Store) ArchiveBatchJob(snap batch.Snapshot) {
	summary, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("jobstore: failed to marshal batch job", "job_id", snap.ID, "error", err)
		return
	}
	s.insert(ArchivedJob{
		ID:         snap.ID,
		Kind:       KindBatch,
		APIName:    snap.APIName,
		PluginName: snap.PluginName,
		Status:     string(snap.Status),
		CreatedAt:  snap.CreatedAt,
		StartTime:  snap.StartTime,
		EndTime:    snap.EndTime,
		Summary:    summary,
	})
}

// ArchivePollingJob implements polling.Archiver.
func (s *Store) ArchivePollingJob(snap polling.Snapshot) {
	summary, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("jobstore: failed to marshal polling job", "job_id", snap.ID, "error", err)
		return
	}
	s.insert(ArchivedJob{
		ID:         snap.ID,
		Kind:       KindPolling,
		APIName:    snap.APIName,
		PluginName: snap.PluginName,
		Status:     "deleted",
		CreatedAt:  snap.LastRun,
		StartTime:  snap.LastRun,
		EndTime:    snap.LastRun,
		Summary:    summary,
	})
}

func (s *Store) insert(job ArchivedJob) {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO archived_jobs
		 (id, kind, api_name, plugin_name, status, created_at, start_time, end_time, summary, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.APIName, job.PluginName, job.Status,
		job.CreatedAt, job.StartTime, job.EndTime, string(job.Summary), time.Now(),
	)
	if err != nil {
		s.log.Error("jobstore: failed to archive job", "job_id", job.ID, "kind", job.Kind, "error", err)
	}
}

// List returns up to limit archived jobs of the given kind, most recently
// archived first.
func (s *Store) List(ctx context.Context, kind Kind, limit int) ([]ArchivedJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, api_name, plugin_name, status, created_at, start_time, end_time, summary, archived_at
		 FROM archived_jobs WHERE kind = ? ORDER BY archived_at DESC LIMIT ?`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobstore: list: %w", err)
	}
	defer rows.Close()

	var out []ArchivedJob
	for rows.Next() {
		var job ArchivedJob
		var k, summary string
		if err := rows.Scan(&job.ID, &k, &job.APIName, &job.PluginName, &job.Status,
			&job.CreatedAt, &job.StartTime, &job.EndTime, &summary, &job.ArchivedAt); err != nil {
			return nil, fmt.Errorf("jobstore: scan: %w", err)
		}
		job.Kind = Kind(k)
		job.Summary = json.RawMessage(summary)
		out = append(out, job)
	}
	return out, rows.Err()
}
