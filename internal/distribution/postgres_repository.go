package distribution

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"leadflow/pkg/metrics"
)

// PostgresRepository implements every store the engine needs on one database.
type PostgresRepository struct {
	db               *sql.DB
	terminalStatuses []string
}

func NewPostgresRepository(db *sql.DB, terminalStatuses []string) *PostgresRepository {
	return &PostgresRepository{db: db, terminalStatuses: terminalStatuses}
}

// track records the query duration and result; use as defer track(op, &err)().
func track(op string, err *error) func() {
	start := time.Now()
	return func() {
		metrics.ObserveQuery("postgres", op, time.Since(start), *err)
	}
}

func (r *PostgresRepository) ListActiveRules(ctx context.Context, workspaceID string) (rules []Rule, err error) {
	defer track("list_active_rules", &err)()

	query := `
		SELECT id, workspace_id, name, description, distribution_mode,
		       apply_to_pipelines, apply_to_sources, apply_to_tags, exclude_tags,
		       active_hours_start, active_hours_end, active_days,
		       is_active, priority, last_assigned_index, fixed_user_id, condition,
		       created_at, updated_at
		FROM distribution_rules
		WHERE workspace_id = $1 AND is_active = true
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rule       Rule
			hoursStart sql.NullString
			hoursEnd   sql.NullString
			fixedUser  sql.NullString
			days       []int64
		)
		if err = rows.Scan(
			&rule.ID,
			&rule.WorkspaceID,
			&rule.Name,
			&rule.Description,
			&rule.Mode,
			pq.Array(&rule.ApplyToPipelines),
			pq.Array(&rule.ApplyToSources),
			pq.Array(&rule.ApplyToTags),
			pq.Array(&rule.ExcludeTags),
			&hoursStart,
			&hoursEnd,
			pq.Array(&days),
			&rule.IsActive,
			&rule.Priority,
			&rule.LastAssignedIndex,
			&fixedUser,
			&rule.Condition,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.ActiveHoursStart = nullableString(hoursStart)
		rule.ActiveHoursEnd = nullableString(hoursEnd)
		rule.FixedUserID = nullableString(fixedUser)
		for _, d := range days {
			rule.ActiveDays = append(rule.ActiveDays, int(d))
		}
		rules = append(rules, rule)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

func (r *PostgresRepository) ListActiveMembers(ctx context.Context, ruleID string) (members []Member, err error) {
	defer track("list_members", &err)()

	query := `
		SELECT id, rule_id, user_id, percentage, weight, is_active,
		       max_leads_per_day, max_leads_per_hour, max_open_leads,
		       leads_assigned_today, leads_assigned_hour, last_assignment_at, created_at
		FROM distribution_members
		WHERE rule_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m              Member
			weight         sql.NullFloat64
			perDay         sql.NullInt64
			perHour        sql.NullInt64
			maxOpen        sql.NullInt64
			lastAssignment sql.NullTime
		)
		if err = rows.Scan(
			&m.ID,
			&m.RuleID,
			&m.UserID,
			&m.Percentage,
			&weight,
			&m.IsActive,
			&perDay,
			&perHour,
			&maxOpen,
			&m.LeadsAssignedToday,
			&m.LeadsAssignedHour,
			&lastAssignment,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if weight.Valid {
			m.Weight = &weight.Float64
		}
		m.MaxLeadsPerDay = nullableInt(perDay)
		m.MaxLeadsPerHour = nullableInt(perHour)
		m.MaxOpenLeads = nullableInt(maxOpen)
		if lastAssignment.Valid {
			m.LastAssignmentAt = &lastAssignment.Time
		}
		members = append(members, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return members, nil
}

func (r *PostgresRepository) CountOpenLeadsForUser(ctx context.Context, workspaceID, userID string) (n int, err error) {
	defer track("count_open_leads", &err)()

	query := `
		SELECT COUNT(*)
		FROM leads
		WHERE workspace_id = $1 AND assigned_to = $2 AND NOT (status = ANY($3))
	`
	if err = r.db.QueryRowContext(ctx, query, workspaceID, userID, pq.Array(r.terminalStatuses)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count open leads: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) SetAssignee(ctx context.Context, leadID, userID string) (err error) {
	defer track("set_assignee", &err)()

	res, err := r.db.ExecContext(ctx,
		`UPDATE leads SET assigned_to = $2, updated_at = NOW() WHERE id = $1`,
		leadID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set assignee: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (r *PostgresRepository) ListUnassignedLeads(ctx context.Context, workspaceID string, limit int) (leads []Lead, err error) {
	defer track("list_unassigned_leads", &err)()

	query := `
		SELECT id, workspace_id, pipeline_id, source, tags, status, created_at
		FROM leads
		WHERE workspace_id = $1 AND assigned_to IS NULL AND NOT (status = ANY($2))
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, pq.Array(r.terminalStatuses), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassigned leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lead     Lead
			pipeline sql.NullString
			source   sql.NullString
		)
		if err = rows.Scan(
			&lead.ID,
			&lead.WorkspaceID,
			&pipeline,
			&source,
			pq.Array(&lead.Tags),
			&lead.Status,
			&lead.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		lead.PipelineID = pipeline.String
		lead.Source = source.String
		leads = append(leads, lead)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return leads, nil
}

func (r *PostgresRepository) AppendLog(ctx context.Context, entry Log) (err error) {
	defer track("append_log", &err)()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO distribution_logs (
			id, workspace_id, lead_id, rule_id, assigned_user_id, source, pipeline_id,
			distribution_mode, reason, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.WorkspaceID,
		entry.LeadID,
		entry.RuleID,
		entry.AssignedUserID,
		entry.Source,
		entry.PipelineID,
		entry.Mode,
		entry.Reason,
		entry.IdempotencyKey,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append distribution log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListLogs(ctx context.Context, workspaceID string, limit int) (logs []Log, err error) {
	defer track("list_logs", &err)()

	query := `
		SELECT id, workspace_id, lead_id, rule_id, assigned_user_id, source, pipeline_id,
		       distribution_mode, reason, idempotency_key, created_at
		FROM distribution_logs
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query distribution logs: %w", err)
	}
	defer rows.Close()

	logs = []Log{}
	for rows.Next() {
		var l Log
		if err = rows.Scan(
			&l.ID,
			&l.WorkspaceID,
			&l.LeadID,
			&l.RuleID,
			&l.AssignedUserID,
			&l.Source,
			&l.PipelineID,
			&l.Mode,
			&l.Reason,
			&l.IdempotencyKey,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan distribution log: %w", err)
		}
		logs = append(logs, l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return logs, nil
}

func (r *PostgresRepository) IncrementCounters(ctx context.Context, memberID string, at time.Time) (err error) {
	defer track("increment_counters", &err)()

	query := `
		UPDATE distribution_members
		SET leads_assigned_today = leads_assigned_today + 1,
		    leads_assigned_hour = leads_assigned_hour + 1,
		    last_assignment_at = $2
		WHERE id = $1
	`
	if _, err = r.db.ExecContext(ctx, query, memberID, at); err != nil {
		return fmt.Errorf("failed to increment member counters: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ResetHourlyCounters(ctx context.Context) (int64, error) {
	return r.resetCounter(ctx, "reset_hourly_counters", "leads_assigned_hour")
}

func (r *PostgresRepository) ResetDailyCounters(ctx context.Context) (int64, error) {
	return r.resetCounter(ctx, "reset_daily_counters", "leads_assigned_today")
}

// column is one of two constants above, never user input.
func (r *PostgresRepository) resetCounter(ctx context.Context, op, column string) (n int64, err error) {
	defer track(op, &err)()

	query := fmt.Sprintf(`UPDATE distribution_members SET %[1]s = 0 WHERE %[1]s <> 0`, column)
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset %s: %w", column, err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) LoadCursor(ctx context.Context, ruleID string) (cursor int, err error) {
	defer track("load_cursor", &err)()

	err = r.db.QueryRowContext(ctx,
		`SELECT last_assigned_index FROM distribution_rules WHERE id = $1`, ruleID,
	).Scan(&cursor)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("rule %s not found", ruleID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

func (r *PostgresRepository) CompareAndSwapCursor(ctx context.Context, ruleID string, prev, next int) (err error) {
	defer track("cas_cursor", &err)()

	res, err := r.db.ExecContext(ctx, `
		UPDATE distribution_rules
		SET last_assigned_index = $3, updated_at = NOW()
		WHERE id = $1 AND last_assigned_index = $2
	`, ruleID, prev, next)
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCursorConflict
	}
	return nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	n := int(ni.Int64)
	return &n
}
