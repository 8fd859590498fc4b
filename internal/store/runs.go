package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rendis/schedflow/pkg/schema"
)

const runColumns = `id, workflow_id, user_id, status, result, error, context, resume_node_id, pending_approver, loop_frames, started_at, finished_at`

const stepColumns = `seq, node_id, node_type, label, config, status, result, error, approver, approved_by, started_at, finished_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	result, err := nullJSON(run.Result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	runCtx, err := nullJSON(mapOrNil(run.Context))
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}
	frames, err := framesJSON(run.LoopFrames)
	if err != nil {
		return fmt.Errorf("marshal loop frames: %w", err)
	}
	run.StartedAt = timeOrNow(run.StartedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, nullStr(run.UserID), string(run.Status),
		result, nullStr(run.Error), runCtx, nullStr(run.ResumeNodeID), nullStr(run.PendingApprover),
		frames, run.StartedAt, nullTime(run.FinishedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return storeConflict("run", run.ID, err)
	}
	return err
}

// GetRun loads a run with all of its steps in visitation order.
func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	if run.Steps, err = s.listSteps(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Result != nil {
		v, err := nullJSON(update.Result)
		if err != nil {
			return fmt.Errorf("marshal run result: %w", err)
		}
		sets = append(sets, "result = ?")
		args = append(args, v)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.Context != nil {
		v, err := nullJSON(update.Context)
		if err != nil {
			return fmt.Errorf("marshal run context: %w", err)
		}
		sets = append(sets, "context = ?")
		args = append(args, v)
	}
	if update.ResumeNodeID != nil {
		sets = append(sets, "resume_node_id = ?")
		args = append(args, nullStr(*update.ResumeNodeID))
	}
	if update.PendingApprover != nil {
		sets = append(sets, "pending_approver = ?")
		args = append(args, nullStr(*update.PendingApprover))
	}
	if update.LoopFrames != nil {
		v, err := framesJSON(*update.LoopFrames)
		if err != nil {
			return fmt.Errorf("marshal loop frames: %w", err)
		}
		sets = append(sets, "loop_frames = ?")
		args = append(args, v)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) AppendStep(ctx context.Context, runID string, step *schema.Step) error {
	config, err := nullJSON(mapOrNil(step.Config))
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}
	result, err := nullJSON(step.Result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}
	step.StartedAt = timeOrNow(step.StartedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, `+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, step.Seq, step.NodeID, string(step.Type), nullStr(step.Label), config,
		string(step.Status), result, nullStr(step.Error), nullStr(step.Approver), nullStr(step.ApprovedBy),
		step.StartedAt, nullTime(step.FinishedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %d of run %q already recorded", step.Seq, runID).WithCause(err)
	}
	return err
}

// UpdateStep rewrites the mutable fields of the step identified by step.Seq.
func (s *LibSQLStore) UpdateStep(ctx context.Context, runID string, step *schema.Step) error {
	result, err := nullJSON(step.Result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET status = ?, result = ?, error = ?, approver = ?, approved_by = ?, finished_at = ?
		 WHERE run_id = ? AND seq = ?`,
		string(step.Status), result, nullStr(step.Error), nullStr(step.Approver), nullStr(step.ApprovedBy),
		nullTime(step.FinishedAt), runID, step.Seq,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "step", fmt.Sprintf("%s/%d", runID, step.Seq))
}

// ListRuns returns runs newest first. Steps are loaded for each run.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.PendingApprover != "" {
		where = append(where, "pending_approver = ?")
		args = append(args, filter.PendingApprover)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var runs []*schema.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Single connection: steps are fetched after the run cursor is released.
	for _, run := range runs {
		if run.Steps, err = s.listSteps(ctx, run.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *LibSQLStore) listSteps(ctx context.Context, runID string) ([]schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []schema.Step{}
	for rows.Next() {
		var (
			st                            schema.Step
			nodeType, status              string
			label, config, result, errMsg sql.NullString
			approver, approvedBy          sql.NullString
			finishedAt                    sql.NullTime
		)
		if err := rows.Scan(&st.Seq, &st.NodeID, &nodeType, &label, &config, &status,
			&result, &errMsg, &approver, &approvedBy, &st.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		st.Type = schema.NodeType(nodeType)
		st.Status = schema.StepStatus(status)
		st.Label = label.String
		st.Error = errMsg.String
		st.Approver = approver.String
		st.ApprovedBy = approvedBy.String
		if err := decodeJSON(config, &st.Config); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
		if err := decodeJSON(result, &st.Result); err != nil {
			return nil, fmt.Errorf("unmarshal step result: %w", err)
		}
		if finishedAt.Valid {
			st.FinishedAt = &finishedAt.Time
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func scanRun(row rowScanner) (*schema.Run, error) {
	run := &schema.Run{}
	var (
		userID, result, errMsg, runCtx sql.NullString
		resumeNode, approver, frames   sql.NullString
		status                         string
		finishedAt                     sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.WorkflowID, &userID, &status, &result, &errMsg, &runCtx,
		&resumeNode, &approver, &frames, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.UserID = userID.String
	run.Status = schema.RunStatus(status)
	run.Error = errMsg.String
	run.ResumeNodeID = resumeNode.String
	run.PendingApprover = approver.String
	if err := decodeJSON(result, &run.Result); err != nil {
		return nil, fmt.Errorf("unmarshal run result: %w", err)
	}
	if err := decodeJSON(runCtx, &run.Context); err != nil {
		return nil, fmt.Errorf("unmarshal run context: %w", err)
	}
	if err := decodeJSON(frames, &run.LoopFrames); err != nil {
		return nil, fmt.Errorf("unmarshal loop frames: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// framesJSON stores no frames as NULL.
func framesJSON(frames []schema.LoopFrame) (any, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	return nullJSON(frames)
}

func mapOrNil(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
