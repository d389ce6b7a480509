package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
)

type JobResultStore struct {
	db DB
}

const (
	upsertJobResultQuery = `INSERT INTO job_results (
		run_id,
		job_name,
		stage,
		status,
		exit_code,
		output,
		reason,
		started_at,
		finished_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (run_id, job_name) DO UPDATE SET
		status = EXCLUDED.status,
		exit_code = EXCLUDED.exit_code,
		output = EXCLUDED.output,
		reason = EXCLUDED.reason,
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at`

	listJobResultsQuery = `SELECT run_id, job_name, stage, status, exit_code, output, reason, started_at, finished_at
	 FROM job_results
	 WHERE run_id = $1
	 ORDER BY started_at ASC NULLS LAST, job_name ASC`
)

func NewJobResultStore(db DB) *JobResultStore {
	if db == nil {
		return nil
	}
	return &JobResultStore{db: db}
}

func (s *JobResultStore) UpsertJobResult(ctx context.Context, result domain.JobResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job result store not initialized")
	}
	runID := strings.TrimSpace(result.RunID)
	jobName := strings.TrimSpace(result.JobName)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if jobName == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(string(result.Status)) == "" {
		return fmt.Errorf("status is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertJobResultQuery,
		runID,
		jobName,
		strings.TrimSpace(result.Stage),
		string(result.Status),
		result.ExitCode,
		result.Output,
		result.Reason,
		nullableTime(result.StartedAt),
		nullableTime(result.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job result: %w", err)
	}
	return nil
}

func (s *JobResultStore) ListJobResults(ctx context.Context, runID string) ([]domain.JobResult, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job result store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, listJobResultsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list job results: %w", err)
	}
	defer rows.Close()

	results := make([]domain.JobResult, 0)
	for rows.Next() {
		var result domain.JobResult
		var status string
		var startedAt sql.NullTime
		var finishedAt sql.NullTime
		if err := rows.Scan(&result.RunID, &result.JobName, &result.Stage, &status, &result.ExitCode,
			&result.Output, &result.Reason, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan job result: %w", err)
		}
		result.Status = domain.JobStatus(status)
		if startedAt.Valid {
			started := startedAt.Time.UTC()
			result.StartedAt = &started
		}
		if finishedAt.Valid {
			finished := finishedAt.Time.UTC()
			result.FinishedAt = &finished
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list job results: %w", err)
	}
	return results, nil
}
