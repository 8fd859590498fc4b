package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const triggerColumns = `id, workflow_id, cron_expression, start_node_id, user_id, variables, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) CreateTrigger(ctx context.Context, trig *Trigger) error {
	vars, err := nullJSON(mapOrNil(trig.Variables))
	if err != nil {
		return fmt.Errorf("marshal trigger variables: %w", err)
	}
	trig.CreatedAt = timeOrNow(trig.CreatedAt)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triggers (`+triggerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trig.ID, trig.WorkflowID, trig.CronExpression, nullStr(trig.StartNodeID), nullStr(trig.UserID),
		vars, boolToInt(trig.Enabled), nullTime(trig.LastRunAt), nullTime(trig.NextRunAt),
		nullStr(trig.LastRunStatus), trig.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return storeConflict("trigger", trig.ID, err)
	}
	return err
}

func (s *LibSQLStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	trig, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("trigger", id)
	}
	return trig, err
}

func (s *LibSQLStore) UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.CronExpression != nil {
		sets = append(sets, "cron_expression = ?")
		args = append(args, *update.CronExpression)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE triggers SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

func (s *LibSQLStore) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

func (s *LibSQLStore) ListTriggers(ctx context.Context, filter TriggerFilter) ([]*Trigger, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}

	query := "SELECT " + triggerColumns + " FROM triggers"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []*Trigger
	for rows.Next() {
		trig, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trig)
	}
	return triggers, rows.Err()
}

func scanTrigger(row rowScanner) (*Trigger, error) {
	var (
		t                       Trigger
		startNode, userID, vars sql.NullString
		lastStatus              sql.NullString
		enabled                 int
		lastRunAt, nextRunAt    sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.WorkflowID, &t.CronExpression, &startNode, &userID, &vars,
		&enabled, &lastRunAt, &nextRunAt, &lastStatus, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.StartNodeID = startNode.String
	t.UserID = userID.String
	t.LastRunStatus = lastStatus.String
	t.Enabled = enabled != 0
	if err := decodeJSON(vars, &t.Variables); err != nil {
		return nil, fmt.Errorf("unmarshal trigger variables: %w", err)
	}
	if lastRunAt.Valid {
		t.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		t.NextRunAt = &nextRunAt.Time
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
