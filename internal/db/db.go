package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sankalp/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("db: not found")

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

// EnsureSchema creates the tables on startup. Single-instance deployment,
// so plain IF NOT EXISTS DDL stands in for a migration tool.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS leads (
			id              BIGSERIAL PRIMARY KEY,
			phone           TEXT NOT NULL UNIQUE,
			first_name      TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'lead',
			labels          TEXT[] NOT NULL DEFAULT '{}',
			source          TEXT NOT NULL DEFAULT 'manual',
			opted_out       BOOLEAN NOT NULL DEFAULT FALSE,
			last_message_at TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id              BIGSERIAL PRIMARY KEY,
			public_id       TEXT NOT NULL UNIQUE,
			name            TEXT NOT NULL,
			message_content TEXT NOT NULL,
			target_type     TEXT NOT NULL,
			target_lead_ids BIGINT[] NOT NULL DEFAULT '{}',
			target_filter   JSONB NOT NULL DEFAULT '{}',
			recurrence      JSONB NOT NULL DEFAULT '{}',
			status          TEXT NOT NULL DEFAULT 'pending',
			due_at          TIMESTAMPTZ NOT NULL,
			run_count       INT NOT NULL DEFAULT 0,
			max_runs        INT NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			created_by      TEXT NOT NULL DEFAULT 'system',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_run_at     TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON scheduled_jobs (status, due_at)`,
		`CREATE TABLE IF NOT EXISTS message_attempts (
			id             BIGSERIAL PRIMARY KEY,
			job_id         BIGINT NOT NULL REFERENCES scheduled_jobs(id),
			lead_id        BIGINT NOT NULL REFERENCES leads(id),
			phone          TEXT NOT NULL,
			status         TEXT NOT NULL,
			wa_message_id  TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			sent_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (job_id, lead_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_wa_id ON message_attempts (wa_message_id)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id            BIGSERIAL PRIMARY KEY,
			source        TEXT NOT NULL,
			kind          TEXT NOT NULL,
			ok            BOOLEAN NOT NULL DEFAULT TRUE,
			message       TEXT NOT NULL DEFAULT '',
			phone         TEXT NOT NULL DEFAULT '',
			wa_message_id TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT '',
			payload       JSONB,
			received_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range ddl {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ----------------------------
// Jobs
// ----------------------------

func (s *Store) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	if job.PublicID == "" {
		job.PublicID = uuid.NewString()
	}

	filterJSON, err := json.Marshal(job.TargetFilter)
	if err != nil {
		return err
	}
	recurrenceJSON, err := json.Marshal(job.Recurrence)
	if err != nil {
		return err
	}

	return s.Pool.QueryRow(ctx,
		`INSERT INTO scheduled_jobs
		 (public_id, name, message_content, target_type, target_lead_ids,
		  target_filter, recurrence, status, due_at, max_runs, created_by,
		  created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
		 RETURNING id, created_at, updated_at`,
		job.PublicID,
		job.Name,
		job.MessageContent,
		job.TargetType,
		job.TargetLeadIDs,
		filterJSON,
		recurrenceJSON,
		models.JobPending,
		job.DueAt,
		job.MaxRuns,
		job.CreatedBy,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
}

// RunningLease bounds how long a claimed job may sit in running before
// it is considered abandoned and eligible for reclaim.
const RunningLease = 10 * time.Minute

// ClaimDueJobs atomically flips up to limit due pending jobs to running
// and returns them. SKIP LOCKED keeps two overlapping passes from
// claiming the same job. Jobs stranded in running past their lease (a
// crashed or cancelled pass) are reclaimed too; the unique attempt key
// makes the resumed pass idempotent.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	rows, err := s.Pool.Query(ctx,
		`UPDATE scheduled_jobs
		 SET status=$1, updated_at=NOW()
		 WHERE id IN (
		     SELECT id FROM scheduled_jobs
		     WHERE (status=$2 AND due_at<=$3)
		        OR (status=$1 AND updated_at<=$4)
		     ORDER BY due_at
		     LIMIT $5
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, public_id, name, message_content, target_type,
		           target_lead_ids, target_filter, recurrence, status,
		           due_at, run_count, max_runs, last_error, created_by,
		           created_at, updated_at, last_run_at`,
		models.JobRunning,
		models.JobPending,
		now,
		now.Add(-RunningLease),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (s *Store) GetJobByPublicID(ctx context.Context, publicID string) (*models.ScheduledJob, error) {
	rows, err := s.Pool.Query(ctx, jobSelect+` WHERE public_id=$1`, publicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

func (s *Store) ListJobs(ctx context.Context, status string, limit, offset int) ([]models.ScheduledJob, error) {
	q := jobSelect
	args := []any{}
	if status != "" {
		q += ` WHERE status=$1 ORDER BY due_at LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		q += ` ORDER BY due_at LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// FinishJob records the outcome of one pass over a job: the next status,
// the next due time for recurring jobs, and the run bookkeeping.
func (s *Store) FinishJob(ctx context.Context, id int64, status models.JobStatus, nextDue *time.Time, runCount int, lastError string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE scheduled_jobs
		 SET status=$1,
		     due_at=COALESCE($2, due_at),
		     run_count=$3,
		     last_error=$4,
		     last_run_at=NOW(),
		     updated_at=NOW()
		 WHERE id=$5`,
		status,
		nextDue,
		runCount,
		lastError,
		id,
	)
	return err
}

const jobSelect = `SELECT id, public_id, name, message_content, target_type,
       target_lead_ids, target_filter, recurrence, status, due_at,
       run_count, max_runs, last_error, created_by, created_at,
       updated_at, last_run_at
  FROM scheduled_jobs`

func scanJobs(rows pgx.Rows) ([]models.ScheduledJob, error) {
	var jobs []models.ScheduledJob
	for rows.Next() {
		var (
			j              models.ScheduledJob
			filterJSON     []byte
			recurrenceJSON []byte
		)
		if err := rows.Scan(
			&j.ID, &j.PublicID, &j.Name, &j.MessageContent, &j.TargetType,
			&j.TargetLeadIDs, &filterJSON, &recurrenceJSON, &j.Status,
			&j.DueAt, &j.RunCount, &j.MaxRuns, &j.LastError, &j.CreatedBy,
			&j.CreatedAt, &j.UpdatedAt, &j.LastRunAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(filterJSON, &j.TargetFilter); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(recurrenceJSON, &j.Recurrence); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ----------------------------
// Leads
// ----------------------------

func (s *Store) InsertLead(ctx context.Context, lead *models.Lead) error {
	return s.Pool.QueryRow(ctx,
		`INSERT INTO leads (phone, first_name, status, labels, source, created_at)
		 VALUES ($1,$2,$3,$4,$5,NOW())
		 ON CONFLICT (phone) DO UPDATE SET
		     first_name=CASE WHEN EXCLUDED.first_name<>'' THEN EXCLUDED.first_name ELSE leads.first_name END,
		     labels=EXCLUDED.labels
		 RETURNING id, created_at`,
		lead.Phone,
		lead.FirstName,
		lead.Status,
		lead.Labels,
		lead.Source,
	).Scan(&lead.ID, &lead.CreatedAt)
}

// UpsertLeadByPhone ensures a lead row exists for an inbound sender and
// bumps its last-message timestamp.
func (s *Store) UpsertLeadByPhone(ctx context.Context, phoneNumber, source string, at time.Time) (*models.Lead, error) {
	var lead models.Lead
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO leads (phone, status, source, last_message_at, created_at)
		 VALUES ($1,'lead',$2,$3,NOW())
		 ON CONFLICT (phone) DO UPDATE SET last_message_at=$3
		 RETURNING id, phone, first_name, status, labels, source, opted_out, created_at`,
		phoneNumber,
		source,
		at,
	).Scan(&lead.ID, &lead.Phone, &lead.FirstName, &lead.Status, &lead.Labels,
		&lead.Source, &lead.OptedOut, &lead.CreatedAt)
	if err != nil {
		return nil, err
	}
	lead.LastMessageAt = at
	return &lead, nil
}

func (s *Store) SetLeadOptedOut(ctx context.Context, phoneNumber string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE leads SET opted_out=TRUE WHERE phone=$1`,
		phoneNumber,
	)
	return err
}

func (s *Store) LeadsByIDs(ctx context.Context, ids []int64, limit int) ([]models.Lead, error) {
	rows, err := s.Pool.Query(ctx,
		leadSelect+` WHERE id=ANY($1) AND NOT opted_out ORDER BY id LIMIT $2`,
		ids, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLeads(rows)
}

func (s *Store) LeadsByFilter(ctx context.Context, filter models.LeadFilter, limit int) ([]models.Lead, error) {
	q := leadSelect + ` WHERE NOT opted_out`
	args := []any{}
	n := 1
	if len(filter.Statuses) > 0 {
		q += fmt.Sprintf(` AND status=ANY($%d)`, n)
		args = append(args, filter.Statuses)
		n++
	}
	if len(filter.LabelsAny) > 0 {
		q += fmt.Sprintf(` AND labels && $%d`, n)
		args = append(args, filter.LabelsAny)
		n++
	}
	q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, n)
	args = append(args, limit)

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLeads(rows)
}

const leadSelect = `SELECT id, phone, first_name, status, labels, source, opted_out, created_at
  FROM leads`

func scanLeads(rows pgx.Rows) ([]models.Lead, error) {
	var leads []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.Phone, &l.FirstName, &l.Status,
			&l.Labels, &l.Source, &l.OptedOut, &l.CreatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// ----------------------------
// Attempts
// ----------------------------

// InsertAttempt appends one outbound attempt. The (job, lead) unique
// constraint makes re-dispatch idempotent: a duplicate insert is a
// silent no-op and inserted reports false.
func (s *Store) InsertAttempt(ctx context.Context, a *models.MessageAttempt) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`INSERT INTO message_attempts
		 (job_id, lead_id, phone, status, wa_message_id, failure_reason, sent_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (job_id, lead_id) DO NOTHING`,
		a.JobID,
		a.LeadID,
		a.Phone,
		a.Status,
		a.WAMessageID,
		a.FailureReason,
		a.SentAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AttemptedLeadIDs returns the recipients already attempted for a job,
// so a resumed pass can skip them.
func (s *Store) AttemptedLeadIDs(ctx context.Context, jobID int64) (map[int64]bool, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT lead_id FROM message_attempts WHERE job_id=$1`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempted := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		attempted[id] = true
	}
	return attempted, rows.Err()
}

// UpdateAttemptDelivery applies a provider status callback to the
// attempt carrying that provider message id.
func (s *Store) UpdateAttemptDelivery(ctx context.Context, waMessageID string, status models.AttemptStatus, failureReason string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE message_attempts
		 SET status=$1,
		     failure_reason=CASE WHEN $2<>'' THEN $2 ELSE failure_reason END
		 WHERE wa_message_id=$3`,
		status,
		failureReason,
		waMessageID,
	)
	return err
}

func (s *Store) ListAttempts(ctx context.Context, jobID int64) ([]models.MessageAttempt, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, job_id, lead_id, phone, status, wa_message_id, failure_reason, sent_at
		 FROM message_attempts WHERE job_id=$1 ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.MessageAttempt
	for rows.Next() {
		var a models.MessageAttempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.LeadID, &a.Phone, &a.Status,
			&a.WAMessageID, &a.FailureReason, &a.SentAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ----------------------------
// Webhook events
// ----------------------------

func (s *Store) InsertWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return s.Pool.QueryRow(ctx,
		`INSERT INTO webhook_events
		 (source, kind, ok, message, phone, wa_message_id, status, payload, received_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING id`,
		e.Source,
		e.Kind,
		e.OK,
		e.Message,
		e.Phone,
		e.WAMessageID,
		e.Status,
		payload,
		e.ReceivedAt,
	).Scan(&e.ID)
}
