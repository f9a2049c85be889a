// Package initiator is the autonomous scheduler: a Postgres-backed job
// queue, a drive sensor, and a deterministic planner that keeps the fact and
// card loops fed. It owns its own connection pool so queue contention never
// rides on the request path.
package initiator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yungbote/brains-backend/internal/platform/logger"
)

// Job priorities, lower runs first.
const (
	PrioritySenseDrives     = 10
	PriorityEnqueuePasses   = 20
	PriorityFactSeed        = 23
	PriorityFactDrives      = 25
	PriorityFactExtract     = 30
	PriorityFactScan        = 40
	PriorityReapStale       = 50
	PriorityCardConsolidate = 60
	PriorityCardDecay       = 90
	PriorityHeartbeat       = 100
)

// Job type names.
const (
	JobHeartbeat       = "heartbeat"
	JobSenseDrives     = "sense_drives_v1"
	JobEnqueuePasses   = "enqueue_passes_v1"
	JobReapStale       = "reap_stale_jobs_v1"
	JobFactSeed        = "fact_seed_from_chat_log_v1"
	JobFactDrives      = "fact_drives_v1"
	JobFactExtract     = "fact_extract_v1"
	JobFactScan        = "fact_contradiction_scan_v1"
	JobCardConsolidate = "card_consolidate_kv_v1"
	JobCardDecay       = "card_decay_v1"
)

// Config is the per-vantage controller row.
type Config struct {
	VantageID          string
	Enabled            bool
	TickSeconds        int
	MaxJobsPerTick     int
	MaxRunningJobs     int
	DailyCostBudgetUSD float64
	AllowedJobTypes    []string
	UpdatedAt          time.Time
}

func (c *Config) Allows(jobType string) bool {
	for _, t := range c.AllowedJobTypes {
		if t == jobType {
			return true
		}
	}
	return false
}

// Drives is the queue-pressure snapshot taken before and after each run.
type Drives struct {
	Mode                  string   `json:"mode"`
	TSUnix                float64  `json:"ts_unix"`
	QueuedJobs            int      `json:"queued_jobs"`
	RunningJobs           int      `json:"running_jobs"`
	SucceededJobs         int      `json:"succeeded_jobs"`
	FailedJobs            int      `json:"failed_jobs"`
	QueuedOldestAgeS      *float64 `json:"queued_oldest_age_s"`
	RunningOldestLockAgeS *float64 `json:"running_oldest_lock_age_s"`
	RunsOK1h              int      `json:"runs_ok_1h"`
	RunsFail1h            int      `json:"runs_fail_1h"`
	ControllerEnabled     bool     `json:"controller_enabled,omitempty"`
	AllowedJobTypes       []string `json:"allowed_job_types,omitempty"`
}

// ClaimedJob is a job moved to running together with its run row.
type ClaimedJob struct {
	JobID   uuid.UUID
	JobType string
	Payload map[string]any
	RunID   uuid.UUID
}

type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewStore(ctx context.Context, dsn string, baseLog *logger.Logger) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("initiator: POSTGRES_DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("initiator: connect pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initiator: ping: %w", err)
	}
	return &Store{pool: pool, log: baseLog.With("component", "InitiatorStore")}, nil
}

func (s *Store) Close() { s.pool.Close() }

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *Store) FetchConfig(ctx context.Context, vantageID string) (*Config, error) {
	var (
		cfg     Config
		allowed []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT vantage_id, enabled, tick_seconds, max_jobs_per_tick, max_running_jobs,
		       daily_cost_budget_usd, allowed_job_types, updated_at
		FROM vantage_initiator.controller_config
		WHERE vantage_id = $1`, vantageID).
		Scan(&cfg.VantageID, &cfg.Enabled, &cfg.TickSeconds, &cfg.MaxJobsPerTick,
			&cfg.MaxRunningJobs, &cfg.DailyCostBudgetUSD, &allowed, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("initiator: missing controller_config for vantage_id=%q", vantageID)
	}
	if err != nil {
		return nil, err
	}
	if len(allowed) > 0 {
		_ = json.Unmarshal(allowed, &cfg.AllowedJobTypes)
	}
	return &cfg, nil
}

func (s *Store) ComputeDrives(ctx context.Context, vantageID string) (*Drives, error) {
	d := &Drives{
		Mode:   "drives_v1",
		TSUnix: float64(time.Now().UnixMilli()) / 1000.0,
	}
	err := s.pool.QueryRow(ctx, `
		SELECT
		  (SELECT count(*) FROM vantage_initiator.job WHERE vantage_id=$1 AND status='queued')    AS queued,
		  (SELECT count(*) FROM vantage_initiator.job WHERE vantage_id=$1 AND status='running')   AS running,
		  (SELECT count(*) FROM vantage_initiator.job WHERE vantage_id=$1 AND status='succeeded') AS succeeded,
		  (SELECT count(*) FROM vantage_initiator.job WHERE vantage_id=$1 AND status='failed')    AS failed,
		  (SELECT EXTRACT(EPOCH FROM (now() - min(scheduled_at)))
		     FROM vantage_initiator.job
		    WHERE vantage_id=$1 AND status='queued') AS queued_oldest_age_s,
		  (SELECT EXTRACT(EPOCH FROM (now() - min(locked_at)))
		     FROM vantage_initiator.job
		    WHERE vantage_id=$1 AND status='running' AND locked_at IS NOT NULL) AS running_oldest_lock_age_s,
		  (SELECT count(*)
		     FROM vantage_initiator.job_run jr
		     JOIN vantage_initiator.job j ON j.job_id = jr.job_id
		    WHERE j.vantage_id=$1
		      AND jr.finished_at >= now() - interval '1 hour'
		      AND jr.error IS NULL) AS runs_ok_1h,
		  (SELECT count(*)
		     FROM vantage_initiator.job_run jr
		     JOIN vantage_initiator.job j ON j.job_id = jr.job_id
		    WHERE j.vantage_id=$1
		      AND jr.finished_at >= now() - interval '1 hour'
		      AND jr.error IS NOT NULL) AS runs_fail_1h`, vantageID).
		Scan(&d.QueuedJobs, &d.RunningJobs, &d.SucceededJobs, &d.FailedJobs,
			&d.QueuedOldestAgeS, &d.RunningOldestLockAgeS, &d.RunsOK1h, &d.RunsFail1h)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) InsertSnapshot(ctx context.Context, vantageID string, drives any, notes string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vantage_initiator.drive_snapshot(snapshot_id, vantage_id, drives, notes)
		VALUES ($1, $2, $3::jsonb, $4)`,
		id, vantageID, compact(drives), notes)
	return id, err
}

// EnsureSingletonJob enqueues jobType unless a queued or running instance
// already exists. Returns the new job id, or uuid.Nil when deduped.
func (s *Store) EnsureSingletonJob(ctx context.Context, vantageID, jobType string, payload map[string]any, priority int) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	var existing uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT job_id
		FROM vantage_initiator.job
		WHERE vantage_id=$1 AND job_type=$2 AND status IN ('queued','running')
		ORDER BY created_at DESC
		LIMIT 1`, vantageID, jobType).Scan(&existing)
	if err == nil {
		return uuid.Nil, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	id := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO vantage_initiator.job(job_id, job_type, vantage_id, payload, priority, status, scheduled_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, 'queued', now())`,
		id, jobType, vantageID, compact(payload), priority); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ClaimOne moves the next eligible queued job to running and opens its run
// row. The controller_config row lock serializes claims per vantage so
// max_running_jobs actually holds.
func (s *Store) ClaimOne(ctx context.Context, vantageID, workerID string, before *Drives, allowed []string, maxRunning int) (*ClaimedJob, error) {
	types := make([]string, 0, len(allowed))
	for _, t := range allowed {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		SELECT 1 FROM vantage_initiator.controller_config
		WHERE vantage_id=$1 FOR UPDATE`, vantageID); err != nil {
		return nil, err
	}

	var running int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM vantage_initiator.job
		WHERE vantage_id=$1 AND status='running'`, vantageID).Scan(&running); err != nil {
		return nil, err
	}
	if running >= maxRunning {
		return nil, tx.Commit(ctx)
	}

	var (
		job        ClaimedJob
		rawPayload []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT job_id, job_type, payload
		FROM vantage_initiator.job
		WHERE status='queued'
		  AND scheduled_at <= now()
		  AND vantage_id=$1
		  AND attempts < max_attempts
		  AND job_type = ANY($2::text[])
		ORDER BY priority ASC, scheduled_at ASC, job_id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, vantageID, types).
		Scan(&job.JobID, &job.JobType, &rawPayload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tx.Commit(ctx)
	}
	if err != nil {
		return nil, err
	}
	job.Payload = map[string]any{}
	if len(rawPayload) > 0 {
		_ = json.Unmarshal(rawPayload, &job.Payload)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE vantage_initiator.job
		SET status='running',
		    locked_by=$1,
		    locked_at=now(),
		    attempts=attempts+1,
		    last_error=NULL,
		    updated_at=now()
		WHERE job_id=$2`, workerID, job.JobID); err != nil {
		return nil, err
	}

	job.RunID = uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO vantage_initiator.job_run(run_id, job_id, worker_id, before_drives)
		VALUES ($1, $2, $3, $4::jsonb)`,
		job.RunID, job.JobID, workerID, compact(before)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) FinishSuccess(ctx context.Context, jobID, runID uuid.UUID, after *Drives, outcome any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE vantage_initiator.job
		SET status='succeeded', locked_by=NULL, locked_at=NULL, last_error=NULL, updated_at=now()
		WHERE job_id=$1`, jobID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE vantage_initiator.job_run
		SET finished_at=now(), after_drives=$1::jsonb, outcome=$2::jsonb, error=NULL
		WHERE run_id=$3`, compact(after), compact(outcome), runID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// failureTransition decides what happens to a job after a failed run.
// Attempts were already incremented at claim time; while attempts remain the
// job requeues with linear backoff, otherwise it is dead.
func failureTransition(attempts, maxAttempts int) (status string, backoff time.Duration) {
	if attempts < maxAttempts {
		return "queued", time.Duration(attempts) * 10 * time.Second
	}
	return "failed", 0
}

// FinishFailure requeues with linear backoff while attempts remain,
// otherwise marks the job failed.
func (s *Store) FinishFailure(ctx context.Context, jobID, runID uuid.UUID, after *Drives, errMsg string) error {
	if len(errMsg) > 5000 {
		errMsg = errMsg[:5000]
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var attempts, maxAttempts int
	if err := tx.QueryRow(ctx, `
		SELECT attempts, max_attempts FROM vantage_initiator.job
		WHERE job_id=$1 FOR UPDATE`, jobID).Scan(&attempts, &maxAttempts); err != nil {
		return err
	}
	status, backoff := failureTransition(attempts, maxAttempts)

	if _, err := tx.Exec(ctx, `
		UPDATE vantage_initiator.job
		SET status = $2,
		    scheduled_at = CASE WHEN $2 = 'queued' THEN now() + ($3::int * interval '1 second')
		                        ELSE scheduled_at END,
		    locked_by=NULL,
		    locked_at=NULL,
		    last_error=$4,
		    updated_at=now()
		WHERE job_id=$1`, jobID, status, int(backoff/time.Second), errMsg); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE vantage_initiator.job_run
		SET finished_at=now(), after_drives=$1::jsonb, outcome=NULL, error=$2
		WHERE run_id=$3`, compact(after), errMsg, runID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReapStale requeues running jobs whose lock is older than staleSeconds.
func (s *Store) ReapStale(ctx context.Context, vantageID string, staleSeconds int) (int, error) {
	note := fmt.Sprintf("reaped stale running job (locked_at older than %ds)", staleSeconds)
	tag, err := s.pool.Exec(ctx, `
		UPDATE vantage_initiator.job
		SET status='queued',
		    scheduled_at=now(),
		    locked_by=NULL,
		    locked_at=NULL,
		    last_error=$3,
		    updated_at=now()
		WHERE vantage_id=$1
		  AND status='running'
		  AND locked_at IS NOT NULL
		  AND locked_at < now() - ($2::int * interval '1 second')`,
		vantageID, staleSeconds, note)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
