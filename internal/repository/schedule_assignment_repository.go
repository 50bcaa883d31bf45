package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/horario-api/internal/models"
)

const (
	assignmentColumns   = "id, period_id, group_id, subject_id, teacher_id, classroom_id, day_id, slot_id, session_index, run_id, created_at"
	assignmentBatchSize = 500
)

// ScheduleAssignmentRepository persists generated schedule assignments.
type ScheduleAssignmentRepository struct {
	db *sqlx.DB
}

// NewScheduleAssignmentRepository creates the repository.
func NewScheduleAssignmentRepository(db *sqlx.DB) *ScheduleAssignmentRepository {
	return &ScheduleAssignmentRepository{db: db}
}

func (r *ScheduleAssignmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns a period's assignments with optional filtering and pagination.
func (r *ScheduleAssignmentRepository) List(ctx context.Context, filter models.ScheduleAssignmentFilter) ([]models.ScheduleAssignment, int, error) {
	base := "FROM schedule_assignments WHERE period_id = $1"
	args := []interface{}{filter.PeriodID}
	var conditions []string

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_id ASC, slot_id ASC, group_id ASC LIMIT %d OFFSET %d", assignmentColumns, base, size, offset)
	var assignments []models.ScheduleAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedule assignments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedule assignments: %w", err)
	}
	return assignments, total, nil
}

// ListByPeriods returns every assignment of the given periods.
func (r *ScheduleAssignmentRepository) ListByPeriods(ctx context.Context, periodIDs []string) ([]models.ScheduleAssignment, error) {
	if len(periodIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(fmt.Sprintf("SELECT %s FROM schedule_assignments WHERE period_id IN (?) ORDER BY period_id, day_id, slot_id, id", assignmentColumns), periodIDs)
	if err != nil {
		return nil, fmt.Errorf("build assignment query: %w", err)
	}
	var assignments []models.ScheduleAssignment
	if err := r.db.SelectContext(ctx, &assignments, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list assignments by periods: %w", err)
	}
	return assignments, nil
}

// LockPeriod takes a transaction-scoped advisory lock on the period's assignment set.
func (r *ScheduleAssignmentRepository) LockPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) error {
	if _, err := r.exec(exec).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, periodID); err != nil {
		return fmt.Errorf("lock period %s: %w", periodID, err)
	}
	return nil
}

// DeleteByPeriod removes every assignment of a period.
func (r *ScheduleAssignmentRepository) DeleteByPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) (int64, error) {
	res, err := r.exec(exec).ExecContext(ctx, `DELETE FROM schedule_assignments WHERE period_id = $1`, periodID)
	if err != nil {
		return 0, fmt.Errorf("delete schedule assignments: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// BulkInsert stores assignments in batches, assigning ids and timestamps when missing.
func (r *ScheduleAssignmentRepository) BulkInsert(ctx context.Context, exec sqlx.ExtContext, assignments []models.ScheduleAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()
	for i := range assignments {
		if assignments[i].ID == "" {
			assignments[i].ID = uuid.NewString()
		}
		if assignments[i].CreatedAt.IsZero() {
			assignments[i].CreatedAt = now
		}
	}

	const query = `INSERT INTO schedule_assignments (` + assignmentColumns + `)
VALUES (:id, :period_id, :group_id, :subject_id, :teacher_id, :classroom_id, :day_id, :slot_id, :session_index, :run_id, :created_at)`

	for start := 0; start < len(assignments); start += assignmentBatchSize {
		end := start + assignmentBatchSize
		if end > len(assignments) {
			end = len(assignments)
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, assignments[start:end]); err != nil {
			return fmt.Errorf("insert schedule assignments: %w", err)
		}
	}
	return nil
}
