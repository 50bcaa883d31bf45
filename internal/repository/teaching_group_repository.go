package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/horario-api/internal/models"
)

// TeachingGroupRepository reads teaching groups joined with their subject.
type TeachingGroupRepository struct {
	db *sqlx.DB
}

// NewTeachingGroupRepository constructs the repository.
func NewTeachingGroupRepository(db *sqlx.DB) *TeachingGroupRepository {
	return &TeachingGroupRepository{db: db}
}

// ListActiveByPeriod returns the period's active groups ordered by id.
func (r *TeachingGroupRepository) ListActiveByPeriod(ctx context.Context, periodID string) ([]models.TeachingGroup, error) {
	const query = `
SELECT g.id, g.code, g.period_id, g.subject_id, g.teacher_id, g.weekly_sessions, g.expected_enrollment,
       g.classroom_type, g.modality, g.active,
       s.code AS subject_code, s.name AS subject_name, s.area AS subject_area, s.default_classroom_type AS subject_default_type
FROM teaching_groups g
JOIN subjects s ON s.id = g.subject_id
WHERE g.period_id = $1 AND g.active = TRUE
ORDER BY g.id`
	var groups []models.TeachingGroup
	if err := r.db.SelectContext(ctx, &groups, query, periodID); err != nil {
		return nil, fmt.Errorf("list teaching groups: %w", err)
	}
	return groups, nil
}
