package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"MailBlast/internal/models"
)

// Store is the durable job state store. Job history survives restarts;
// per-job counter updates ride on Postgres row locking, so unrelated jobs
// never serialize behind each other.
type Store struct {
	Pool *pgxpool.Pool
}

func New(conn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), conn)
	if err != nil {
		return nil, err
	}

	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id UUID PRIMARY KEY,
    subject TEXT NOT NULL,
    csv_filename TEXT NOT NULL,
    template_filename TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    error_reason TEXT NOT NULL DEFAULT '',
    total_count INTEGER,
    sent_count INTEGER NOT NULL DEFAULT 0,
    failed_count INTEGER NOT NULL DEFAULT 0,
    start_time TIMESTAMPTZ,
    end_time TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS job_failures (
    id BIGSERIAL PRIMARY KEY,
    job_id UUID NOT NULL REFERENCES jobs (id),
    recipient_email TEXT NOT NULL,
    error_message TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS job_failures_job_id_idx ON job_failures (job_id);
`

// Migrate bootstraps the schema on startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	return s.Pool.QueryRow(ctx,
		`INSERT INTO jobs
		 (id, subject, csv_filename, template_filename, status, error_reason)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 RETURNING created_at`,
		job.ID,
		job.Subject,
		job.CSVFilename,
		job.TemplateFilename,
		string(job.Status.Kind),
		string(job.Status.Reason),
	).Scan(&job.CreatedAt)
}

var terminalKinds = []string{
	string(models.StatusCompleted),
	string(models.StatusPartialFailure),
	string(models.StatusFailed),
	string(models.StatusError),
}

// Transition moves a job to a new status. start_time is stamped on entering
// running, end_time on entering any terminal status. Terminal states are
// final: the update refuses to touch a row already in one.
func (s *Store) Transition(ctx context.Context, id uuid.UUID, status models.Status) error {
	query := `UPDATE jobs SET status=$1, error_reason=$2`
	if status.Kind == models.StatusRunning {
		query += `, start_time=NOW()`
	}
	if status.Terminal() {
		query += `, end_time=NOW()`
	}
	query += ` WHERE id=$3 AND status <> ALL($4)`

	tag, err := s.Pool.Exec(ctx, query, string(status.Kind), string(status.Reason), id, terminalKinds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var kind string
		err := s.Pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id=$1`, id).Scan(&kind)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return models.ErrJobTerminal
	}
	return nil
}

func (s *Store) SetTotal(ctx context.Context, id uuid.UUID, total int) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET total_count=$1 WHERE id=$2`, total, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

func (s *Store) IncrementSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET sent_count = sent_count + 1 WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// IncrementFailed appends the failure entry and bumps failed_count in one
// transaction, so failed_count always equals the number of failure rows.
func (s *Store) IncrementFailed(ctx context.Context, entry models.FailureEntry) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO job_failures (job_id, recipient_email, error_message)
		 VALUES ($1,$2,$3)`,
		entry.JobID, entry.RecipientEmail, entry.ErrorMessage)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET failed_count = failed_count + 1 WHERE id=$1`, entry.JobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrJobNotFound
	}

	return tx.Commit(ctx)
}

const jobColumns = `id, subject, csv_filename, template_filename, status, error_reason,
	total_count, sent_count, failed_count, start_time, end_time, created_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job    models.Job
		kind   string
		reason string
	)
	err := row.Scan(
		&job.ID,
		&job.Subject,
		&job.CSVFilename,
		&job.TemplateFilename,
		&kind,
		&reason,
		&job.TotalCount,
		&job.SentCount,
		&job.FailedCount,
		&job.StartTime,
		&job.EndTime,
		&job.CreatedAt,
	)
	if err != nil {
		return models.Job{}, err
	}
	job.Status = models.Status{
		Kind:   models.StatusKind(kind),
		Reason: models.ErrorReason(reason),
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, models.ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns every job, most recent first.
func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListFailures returns a job's failure entries in insertion order.
func (s *Store) ListFailures(ctx context.Context, id uuid.UUID) ([]models.FailureEntry, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, job_id, recipient_email, error_message, created_at
		 FROM job_failures WHERE job_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.FailureEntry
	for rows.Next() {
		var e models.FailureEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.RecipientEmail, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list failures: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
