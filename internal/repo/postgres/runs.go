package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conveyor-labs/conveyor-go/internal/domain"
	"github.com/conveyor-labs/conveyor-go/internal/repo"
)

type RunStore struct {
	db DB
}

const (
	insertRunQuery = `INSERT INTO pipeline_runs (
		run_id,
		ref,
		commit_sha,
		is_tag,
		status,
		created_at,
		ended_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectRunQuery = `SELECT run_id, ref, commit_sha, is_tag, status, created_at, ended_at
	 FROM pipeline_runs
	 WHERE run_id = $1`

	updateRunStatusQuery = `UPDATE pipeline_runs SET status = $1, ended_at = $2 WHERE run_id = $3`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.PipelineRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.Trigger.Ref),
		strings.TrimSpace(run.Trigger.Commit),
		run.Trigger.Tag,
		string(run.Status),
		normalizeTime(run.CreatedAt),
		nullableTime(run.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.PipelineRun, error) {
	if s == nil || s.db == nil {
		return domain.PipelineRun{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PipelineRun{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, selectRunQuery, id)
	return scanRun(row.Scan)
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.PipelineRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if strings.TrimSpace(string(filter.Status)) != "" {
		args = append(args, strings.TrimSpace(string(filter.Status)))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Ref) != "" {
		args = append(args, strings.TrimSpace(filter.Ref))
		clauses = append(clauses, fmt.Sprintf("ref = $%d", len(args)))
	}

	query := `SELECT run_id, ref, commit_sha, is_tag, status, created_at, ended_at
	 FROM pipeline_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.PipelineRun, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus, endedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(string(status)) == "" {
		return fmt.Errorf("status is required")
	}
	res, err := s.db.ExecContext(ctx, updateRunStatusQuery, string(status), nullableTime(endedAt), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var status string
	var endedAt sql.NullTime
	if err := scan(&run.ID, &run.Trigger.Ref, &run.Trigger.Commit, &run.Trigger.Tag, &status, &run.CreatedAt, &endedAt); err != nil {
		return domain.PipelineRun{}, handleNotFound(err)
	}
	run.Status = domain.RunStatus(status)
	run.CreatedAt = run.CreatedAt.UTC()
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	return run, nil
}
