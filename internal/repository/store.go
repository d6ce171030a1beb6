// Package repository records pipelines, jobs, and workers for audit and
// status display. Recording is best-effort: the coordination core works
// without a database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/buildd/internal/domain"
)

// Pipeline is one build request: the unit a user asked for before
// fan-out.
type Pipeline struct {
	ID           string    `json:"id" db:"id"`
	Packages     string    `json:"packages" db:"packages"`
	Archs        string    `json:"archs" db:"archs"`
	GitBranch    string    `json:"git_branch" db:"git_branch"`
	CreationTime time.Time `json:"creation_time" db:"creation_time"`
}

// JobRecord is the audit row for one published Job.
type JobRecord struct {
	ID           int64     `json:"id" db:"id"`
	PipelineID   string    `json:"pipeline_id" db:"pipeline_id"`
	Packages     string    `json:"packages" db:"packages"`
	Arch         string    `json:"arch" db:"arch"`
	Status       string    `json:"status" db:"status"`
	CreationTime time.Time `json:"creation_time" db:"creation_time"`
}

// Job statuses.
const (
	JobStatusQueued    = "queued"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// WorkerRecord is the audit row for a worker identity.
type WorkerRecord struct {
	ID            int64     `json:"id" db:"id"`
	Hostname      string    `json:"hostname" db:"hostname"`
	Arch          string    `json:"arch" db:"arch"`
	PID           int64     `json:"pid" db:"pid"`
	LastHeartbeat time.Time `json:"last_heartbeat" db:"last_heartbeat"`
}

// Store provides data access over the audit tables.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over the given database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// CreatePipeline inserts a pipeline row and one job row per
// architecture, all with status queued.
func (s *Store) CreatePipeline(ctx context.Context, id, gitBranch string, packages, archs []string) error {
	var pipeline Pipeline
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO pipelines (id, packages, archs, git_branch)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, packages, archs, git_branch, creation_time`,
		id, strings.Join(packages, ","), strings.Join(archs, ","), gitBranch,
	).StructScan(&pipeline)
	if err != nil {
		return fmt.Errorf("insert pipeline: %w", err)
	}

	for _, arch := range archs {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs (pipeline_id, packages, arch, status)
			 VALUES ($1, $2, $3, $4)`,
			id, strings.Join(packages, ","), arch, JobStatusQueued)
		if err != nil {
			return fmt.Errorf("insert job for %s: %w", arch, err)
		}
	}
	return nil
}

// MarkJobFinished updates the oldest queued job row matching the
// result's branch and architecture. Correlation is by (branch, arch,
// packages) since the broker message carries no row identity.
func (s *Store) MarkJobFinished(ctx context.Context, result domain.JobResult) error {
	status := JobStatusFailed
	if result.Successful() {
		status = JobStatusSucceeded
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1
		 WHERE id = (
		     SELECT j.id FROM jobs j
		     JOIN pipelines p ON p.id = j.pipeline_id
		     WHERE p.git_branch = $2 AND j.arch = $3 AND j.packages = $4 AND j.status = $5
		     ORDER BY j.creation_time ASC
		     LIMIT 1
		 )`,
		status, result.Job.GitRef, result.Job.Arch,
		strings.Join(result.Job.Packages, ","), JobStatusQueued)
	if err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job finished: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertWorker records a worker identity and its latest heartbeat time.
func (s *Store) UpsertWorker(ctx context.Context, id domain.WorkerIdentifier, lastHeartbeat time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workers (hostname, arch, pid, last_heartbeat)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hostname, arch, pid)
		 DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat`,
		id.Hostname, id.Arch, id.PID, lastHeartbeat)
	if err != nil {
		return fmt.Errorf("upsert worker %s/%s/%d: %w", id.Hostname, id.Arch, id.PID, err)
	}
	return nil
}

// FindPipeline retrieves a pipeline row by id.
func (s *Store) FindPipeline(ctx context.Context, id string) (*Pipeline, error) {
	var pipeline Pipeline
	err := s.db.GetContext(ctx, &pipeline,
		`SELECT id, packages, archs, git_branch, creation_time
		 FROM pipelines WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find pipeline %s: %w", id, err)
	}
	return &pipeline, nil
}
