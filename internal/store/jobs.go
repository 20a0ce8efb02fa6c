package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/types"
)

// The job queue backs the extraction worker. Claims are atomic: a row
// moves pending -> leased (or stale-leased -> re-leased) inside one
// write transaction, so two workers can never hold the same job.

func enqueueJobTx(ctx context.Context, tx DBTX, now time.Time, memoryID, jobType string) error {
	ts := formatTime(now)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_jobs (id, memory_id, job_type, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		uuid.NewString(), memoryID, jobType, types.JobPending, ts, ts); err != nil {
		return fmt.Errorf("enqueue %s job: %w", jobType, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE memories SET extraction_status = ? WHERE id = ?", types.ExtractionPending, memoryID); err != nil {
		return fmt.Errorf("mark extraction pending: %w", err)
	}
	return nil
}

// EnqueueExtraction queues a standalone extraction job for an existing
// memory. The ingest path enqueues inside its own transaction instead.
func (s *Store) EnqueueExtraction(ctx context.Context, memoryID string) error {
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		return enqueueJobTx(ctx, tx, s.now(), memoryID, types.JobTypeExtract)
	})
}

// ClaimJob leases the oldest runnable extraction job: pending rows, or
// leased rows whose lease aged past leaseTimeout. Returns nil when the
// queue has nothing runnable. Attempts increments on every claim.
func (s *Store) ClaimJob(ctx context.Context, leaseTimeout time.Duration) (*types.MemoryJob, error) {
	var job *types.MemoryJob
	now := s.now()
	cutoff := formatTime(now.Add(-leaseTimeout))

	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, memory_id, job_type, status, attempts, leased_at, updated_at
			FROM memory_jobs
			WHERE job_type = ? AND (status = ? OR (status = ? AND leased_at < ?))
			ORDER BY created_at ASC
			LIMIT 1`, types.JobTypeExtract, types.JobPending, types.JobLeased, cutoff)

		var j types.MemoryJob
		var leasedAt sql.NullString
		var updatedAt string
		err := row.Scan(&j.ID, &j.MemoryID, &j.JobType, &j.Status, &j.Attempts, &leasedAt, &updatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scan claimable job: %w", err)
		}

		ts := formatTime(now)
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = ?, leased_at = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ?`, types.JobLeased, ts, ts, j.ID); err != nil {
			return fmt.Errorf("lease job %s: %w", j.ID, err)
		}

		j.Status = types.JobLeased
		j.Attempts++
		leaseTime := now
		j.LeasedAt = &leaseTime
		j.UpdatedAt = now
		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob marks a job done and stamps the memory with the model that
// extracted it.
func (s *Store) CompleteJob(ctx context.Context, jobID, memoryID, model string) error {
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		ts := formatTime(s.now())
		if _, err := tx.ExecContext(ctx,
			"UPDATE memory_jobs SET status = ?, updated_at = ? WHERE id = ?",
			types.JobDone, ts, jobID); err != nil {
			return fmt.Errorf("complete job %s: %w", jobID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE memories SET extraction_status = ?, extraction_model = ? WHERE id = ?",
			types.ExtractionDone, model, memoryID); err != nil {
			return fmt.Errorf("mark extraction done: %w", err)
		}
		return nil
	})
}

// FailJob releases a failed attempt. Under maxRetries the job goes back
// to pending for another worker cycle; at or past it the job is dead and
// the memory is marked failed until a repair action requeues it.
func (s *Store) FailJob(ctx context.Context, jobID, memoryID string, maxRetries int, cause string) error {
	return s.WithWriteTx(ctx, func(tx DBTX) error {
		var attempts int
		if err := tx.QueryRowContext(ctx,
			"SELECT attempts FROM memory_jobs WHERE id = ?", jobID).Scan(&attempts); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return fmt.Errorf("load job %s: %w", jobID, err)
		}

		ts := formatTime(s.now())
		if attempts >= maxRetries {
			if _, err := tx.ExecContext(ctx,
				"UPDATE memory_jobs SET status = ?, leased_at = NULL, updated_at = ? WHERE id = ?",
				types.JobDead, ts, jobID); err != nil {
				return fmt.Errorf("kill job %s: %w", jobID, err)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE memories SET extraction_status = ? WHERE id = ?",
				types.ExtractionFailed, memoryID); err != nil {
				return fmt.Errorf("mark extraction failed: %w", err)
			}
			logging.WorkerWarn("job %s dead after %d attempts: %s", jobID, attempts, cause)
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE memory_jobs SET status = ?, leased_at = NULL, updated_at = ? WHERE id = ?",
			types.JobPending, ts, jobID); err != nil {
			return fmt.Errorf("release job %s: %w", jobID, err)
		}
		logging.WorkerDebug("job %s released after attempt %d: %s", jobID, attempts, cause)
		return nil
	})
}

// RequeueDeadJobs resurrects up to maxBatch dead jobs with a fresh
// attempt budget. Repair calls this; it never runs automatically.
func (s *Store) RequeueDeadJobs(ctx context.Context, maxBatch int) (int, error) {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	requeued := 0
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		ts := formatTime(s.now())
		res, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = ?, attempts = 0, leased_at = NULL, updated_at = ?
			WHERE id IN (SELECT id FROM memory_jobs WHERE status = ? ORDER BY updated_at ASC LIMIT ?)`,
			types.JobPending, ts, types.JobDead, maxBatch)
		if err != nil {
			return fmt.Errorf("requeue dead jobs: %w", err)
		}
		n, _ := res.RowsAffected()
		requeued = int(n)
		return nil
	})
	return requeued, err
}

// ReleaseStaleLeases returns leased-but-abandoned jobs to pending.
func (s *Store) ReleaseStaleLeases(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	released := 0
	err := s.WithWriteTx(ctx, func(tx DBTX) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			UPDATE memory_jobs SET status = ?, leased_at = NULL, updated_at = ?
			WHERE status = ? AND leased_at < ?`,
			types.JobPending, formatTime(now), types.JobLeased, formatTime(now.Add(-leaseTimeout)))
		if err != nil {
			return fmt.Errorf("release stale leases: %w", err)
		}
		n, _ := res.RowsAffected()
		released = int(n)
		return nil
	})
	return released, err
}

// CountJobs returns how many jobs sit in the given status.
func (s *Store) CountJobs(ctx context.Context, status string) (int, error) {
	var n int
	err := s.WithReadDB(ctx, func(q DBTX) error {
		return q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM memory_jobs WHERE status = ?", status).Scan(&n)
	})
	return n, err
}
