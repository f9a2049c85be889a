package initiator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/brains-backend/internal/cards"
	"github.com/yungbote/brains-backend/internal/facts"
	"github.com/yungbote/brains-backend/internal/platform/logger"
)

const defaultStaleRunningSeconds = 3600

// jobStore is the queue surface the worker drives; *Store implements it.
type jobStore interface {
	FetchConfig(ctx context.Context, vantageID string) (*Config, error)
	ComputeDrives(ctx context.Context, vantageID string) (*Drives, error)
	InsertSnapshot(ctx context.Context, vantageID string, drives any, notes string) (uuid.UUID, error)
	EnsureSingletonJob(ctx context.Context, vantageID, jobType string, payload map[string]any, priority int) (uuid.UUID, error)
	ClaimOne(ctx context.Context, vantageID, workerID string, before *Drives, allowed []string, maxRunning int) (*ClaimedJob, error)
	FinishSuccess(ctx context.Context, jobID, runID uuid.UUID, after *Drives, outcome any) error
	FinishFailure(ctx context.Context, jobID, runID uuid.UUID, after *Drives, errMsg string) error
	ReapStale(ctx context.Context, vantageID string, staleSeconds int) (int, error)
}

type Worker struct {
	store     jobStore
	facts     facts.Service
	cards     cards.Service
	vantageID string
	workerID  string
	log       *logger.Logger
}

func NewWorker(store jobStore, factSvc facts.Service, cardSvc cards.Service, vantageID string, baseLog *logger.Logger) *Worker {
	if vantageID == "" {
		vantageID = "default"
	}
	host, _ := os.Hostname()
	return &Worker{
		store:     store,
		facts:     factSvc,
		cards:     cardSvc,
		vantageID: vantageID,
		workerID:  fmt.Sprintf("%s:%d", host, os.Getpid()),
		log:       baseLog.With("component", "InitiatorWorker", "vantage_id", vantageID),
	}
}

// Run ticks until the context ends, re-reading tick_seconds each round so
// config changes take effect without a restart.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("initiator starting", "worker_id", w.workerID)
	for {
		cfg, err := w.store.FetchConfig(ctx, w.vantageID)
		if err != nil {
			return err
		}
		tickSeconds := cfg.TickSeconds
		if tickSeconds < 1 {
			tickSeconds = 1
		}

		if err := w.Tick(ctx); err != nil {
			w.log.Error("tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(tickSeconds) * time.Second):
		}
	}
}

// Tick snapshots drives, keeps the controller loop jobs queued, then claims
// and runs up to max_jobs_per_tick.
func (w *Worker) Tick(ctx context.Context) error {
	cfg, err := w.store.FetchConfig(ctx, w.vantageID)
	if err != nil {
		return err
	}

	// Snapshot even when disabled, for debugging.
	before, err := w.store.ComputeDrives(ctx, w.vantageID)
	if err != nil {
		return err
	}
	before.ControllerEnabled = cfg.Enabled
	before.AllowedJobTypes = cfg.AllowedJobTypes
	snapshotID, err := w.store.InsertSnapshot(ctx, w.vantageID, before, "tick(before)")
	if err != nil {
		return err
	}
	w.log.Info("tick snapshot", "snapshot_id", snapshotID, "queued", before.QueuedJobs, "running", before.RunningJobs)

	if !cfg.Enabled {
		return nil
	}

	w.ensure(ctx, cfg, JobSenseDrives, nil, PrioritySenseDrives)
	w.ensure(ctx, cfg, JobEnqueuePasses, nil, PriorityEnqueuePasses)
	w.ensure(ctx, cfg, JobHeartbeat, nil, PriorityHeartbeat)

	for i := 0; i < cfg.MaxJobsPerTick; i++ {
		claimed, err := w.store.ClaimOne(ctx, w.vantageID, w.workerID, before, cfg.AllowedJobTypes, cfg.MaxRunningJobs)
		if err != nil {
			return err
		}
		if claimed == nil {
			break
		}
		w.runClaimed(ctx, cfg, claimed)
	}
	return nil
}

func (w *Worker) ensure(ctx context.Context, cfg *Config, jobType string, payload map[string]any, priority int) {
	if !cfg.Allows(jobType) {
		return
	}
	id, err := w.store.EnsureSingletonJob(ctx, w.vantageID, jobType, payload, priority)
	if err != nil {
		w.log.Warn("enqueue failed", "job_type", jobType, "error", err)
		return
	}
	if id != uuid.Nil {
		w.log.Info("enqueued", "job_type", jobType, "job_id", id)
	}
}

// runClaimed executes one job, recovering from panics so a bad job body
// cannot take the worker loop down.
func (w *Worker) runClaimed(ctx context.Context, cfg *Config, job *ClaimedJob) {
	w.log.Info("claimed", "job_id", job.JobID, "job_type", job.JobType, "run_id", job.RunID)

	var (
		outcome any
		runErr  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		outcome, runErr = w.processJob(ctx, cfg, job.JobType, job.Payload)
	}()

	after, err := w.store.ComputeDrives(ctx, w.vantageID)
	if err != nil {
		w.log.Error("post-run drives failed", "job_id", job.JobID, "error", err)
		after = &Drives{Mode: "drives_v1"}
	}

	if runErr != nil {
		if err := w.store.FinishFailure(ctx, job.JobID, job.RunID, after, runErr.Error()); err != nil {
			w.log.Error("finish failure write failed", "job_id", job.JobID, "error", err)
		}
		w.log.Error("job failed", "job_id", job.JobID, "job_type", job.JobType, "error", runErr)
		return
	}
	if err := w.store.FinishSuccess(ctx, job.JobID, job.RunID, after, outcome); err != nil {
		w.log.Error("finish success write failed", "job_id", job.JobID, "error", err)
		return
	}
	w.log.Info("job succeeded", "job_id", job.JobID, "job_type", job.JobType)
}

func payloadInt(payload map[string]any, key string, def int) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return def
}

func payloadFloat(payload map[string]any, key string, def float64) float64 {
	if v, ok := payload[key].(float64); ok {
		return v
	}
	return def
}

func (w *Worker) processJob(ctx context.Context, cfg *Config, jobType string, payload map[string]any) (any, error) {
	switch jobType {
	case JobHeartbeat:
		return map[string]any{
			"ok":       true,
			"job_type": JobHeartbeat,
			"ts_unix":  float64(time.Now().UnixMilli()) / 1000.0,
		}, nil

	case JobSenseDrives:
		drives, err := w.store.ComputeDrives(ctx, w.vantageID)
		if err != nil {
			return nil, err
		}
		drives.Mode = JobSenseDrives
		drives.ControllerEnabled = cfg.Enabled
		drives.AllowedJobTypes = cfg.AllowedJobTypes
		snapshotID, err := w.store.InsertSnapshot(ctx, w.vantageID, drives, JobSenseDrives)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobSenseDrives, "snapshot_id": snapshotID, "drives": drives}, nil

	case JobEnqueuePasses:
		return w.enqueuePasses(ctx, cfg, payload)

	case JobReapStale:
		staleS := payloadInt(payload, "stale_running_seconds", defaultStaleRunningSeconds)
		requeued, err := w.store.ReapStale(ctx, w.vantageID, staleS)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobReapStale, "requeued_count": requeued, "stale_running_seconds": staleS}, nil

	case JobFactDrives:
		drives, err := w.facts.ComputeDrives(ctx)
		if err != nil {
			return nil, err
		}
		snapshotID, err := w.store.InsertSnapshot(ctx, w.vantageID, drives, JobFactDrives)
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobFactDrives, "snapshot_id": snapshotID, "drives": drives}, nil

	case JobFactSeed:
		inserted, err := w.facts.SeedFromChatLog(ctx, w.vantageID, payloadInt(payload, "limit", 50))
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobFactSeed, "inserted": inserted}, nil

	case JobFactExtract:
		out, err := w.facts.ExtractOnce(ctx, payloadInt(payload, "max_facts", 50))
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobFactExtract, "result": out}, nil

	case JobFactScan:
		out, err := w.facts.ContradictionScan(ctx, payloadInt(payload, "max_groups", 10))
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobFactScan, "result": out}, nil

	case JobCardConsolidate:
		out, err := w.cards.ConsolidateFromKV(ctx, w.vantageID, payloadInt(payload, "limit_sources", 5))
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobCardConsolidate, "result": out}, nil

	case JobCardDecay:
		out, err := w.cards.Decay(ctx, w.vantageID, cards.DecayOptions{
			LimitCards:         payloadInt(payload, "limit_cards", 50),
			HalfLifeDays:       payloadFloat(payload, "half_life_days", 45.0),
			SignalWindowDays:   payloadInt(payload, "signal_window_days", 180),
			MinIntervalMinutes: payloadInt(payload, "min_interval_minutes", 60),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"ok": true, "job_type": JobCardDecay, "result": out}, nil
	}

	return nil, fmt.Errorf("unknown job_type %q", jobType)
}

// enqueuePasses is the deterministic planner: it keeps the liveness job
// queued, reaps stale locks, and feeds the fact and card loops based on
// their backlogs.
func (w *Worker) enqueuePasses(ctx context.Context, cfg *Config, payload map[string]any) (any, error) {
	drives, err := w.store.ComputeDrives(ctx, w.vantageID)
	if err != nil {
		return nil, err
	}

	var enqueued []map[string]any
	add := func(jobType string, jobPayload map[string]any, priority int) {
		if !cfg.Allows(jobType) {
			return
		}
		id, err := w.store.EnsureSingletonJob(ctx, w.vantageID, jobType, jobPayload, priority)
		if err != nil {
			w.log.Warn("planner enqueue failed", "job_type", jobType, "error", err)
			return
		}
		if id != uuid.Nil {
			enqueued = append(enqueued, map[string]any{"job_type": jobType, "job_id": id.String()})
		}
	}

	add(JobHeartbeat, nil, PriorityHeartbeat)

	staleS := payloadInt(payload, "stale_running_seconds", defaultStaleRunningSeconds)
	if drives.RunningOldestLockAgeS != nil && *drives.RunningOldestLockAgeS > float64(staleS) {
		add(JobReapStale, map[string]any{"stale_running_seconds": staleS}, PriorityReapStale)
	}

	add(JobCardDecay, map[string]any{
		"limit_cards":        50,
		"half_life_days":     45.0,
		"signal_window_days": 180,
	}, PriorityCardDecay)
	add(JobCardConsolidate, map[string]any{"limit_sources": 5}, PriorityCardConsolidate)

	if cfg.Allows(JobFactSeed) || cfg.Allows(JobFactDrives) || cfg.Allows(JobFactExtract) || cfg.Allows(JobFactScan) {
		fdr, err := w.facts.ComputeDrives(ctx)
		if err != nil {
			w.log.Warn("fact drives failed during planning", "error", err)
			fdr = &facts.Drives{}
		}

		seedEnabled := cfg.Allows(JobFactSeed)
		seedBacklogCap := payloadInt(payload, "seed_backlog_cap", 25)
		seedLimit := payloadInt(payload, "seed_limit", 5)
		if seedEnabled && fdr.PendingSources < int64(seedBacklogCap) {
			add(JobFactSeed, map[string]any{"limit": seedLimit}, PriorityFactSeed)
		}

		add(JobFactDrives, nil, PriorityFactDrives)

		if fdr.PendingSources > 0 || seedEnabled {
			add(JobFactExtract, nil, PriorityFactExtract)
		}
		if fdr.ActiveClaims > 0 {
			add(JobFactScan, map[string]any{"max_groups": 10}, PriorityFactScan)
		}
	}

	return map[string]any{"ok": true, "job_type": JobEnqueuePasses, "enqueued": enqueued, "drives": drives}, nil
}
