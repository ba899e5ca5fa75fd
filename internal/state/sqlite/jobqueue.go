package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-pushnotifications/pkg/device"
)

// JobQueue implements device.JobQueue. Jobs are stored as JSON; rows that no
// longer decode are deleted with a warning instead of blocking the queue.
type JobQueue struct {
	db         *sql.DB
	instanceID string
	logger     *slog.Logger
}

func NewJobQueue(db *sql.DB, instanceID string, logger *slog.Logger) *JobQueue {
	return &JobQueue{
		db:         db,
		instanceID: instanceID,
		logger:     logger.With("component", "sqlite-job-queue"),
	}
}

func (q *JobQueue) Push(ctx context.Context, job device.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO job_queue (instance_id, payload) VALUES (?, ?)`, q.instanceID, payload)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (q *JobQueue) Peek(ctx context.Context) (*device.Job, error) {
	for {
		var seq int64
		var payload []byte
		err := q.db.QueryRowContext(ctx,
			`SELECT seq, payload FROM job_queue WHERE instance_id = ? ORDER BY seq LIMIT 1`, q.instanceID).
			Scan(&seq, &payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("peek job: %w", err)
		}

		var job device.Job
		if err := json.Unmarshal(payload, &job); err == nil {
			return &job, nil
		}
		q.logger.Warn("Dropping undecodable job", "seq", seq)
		if err := q.deleteSeq(ctx, seq); err != nil {
			return nil, err
		}
	}
}

func (q *JobQueue) Pop(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM job_queue WHERE seq = (
			SELECT seq FROM job_queue WHERE instance_id = ? ORDER BY seq LIMIT 1
		)`, q.instanceID)
	if err != nil {
		return fmt.Errorf("pop job: %w", err)
	}
	return nil
}

func (q *JobQueue) List(ctx context.Context) ([]device.Job, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT seq, payload FROM job_queue WHERE instance_id = ? ORDER BY seq`, q.instanceID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []device.Job
	var corrupt []int64
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job device.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			corrupt = append(corrupt, seq)
			continue
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for _, seq := range corrupt {
		q.logger.Warn("Dropping undecodable job", "seq", seq)
		if err := q.deleteSeq(ctx, seq); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (q *JobQueue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE instance_id = ?`, q.instanceID); err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}
	return nil
}

func (q *JobQueue) deleteSeq(ctx context.Context, seq int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("drop job %d: %w", seq, err)
	}
	return nil
}
