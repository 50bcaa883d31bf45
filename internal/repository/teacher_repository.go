package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/horario-api/internal/models"
)

// TeacherRepository reads teacher eligibility and availability.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a teacher repository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

const teacherSchedulingQuery = `
SELECT t.id, t.full_name, t.active, t.max_sessions_per_day,
       COALESCE((SELECT array_agg(ts.subject_id ORDER BY ts.subject_id) FROM teacher_subjects ts WHERE ts.teacher_id = t.id), '{}') AS subject_ids,
       COALESCE((SELECT array_agg(ta.area ORDER BY ta.area) FROM teacher_areas ta WHERE ta.teacher_id = t.id), '{}') AS areas,
       COALESCE((SELECT json_agg(json_build_object('day_id', av.day_id, 'slot_id', av.slot_id) ORDER BY av.day_id, av.slot_id)
                 FROM teacher_availability av WHERE av.teacher_id = t.id AND NOT av.available), '[]'::json) AS unavailable
FROM teachers t
WHERE t.id = ANY($1)
ORDER BY t.id`

// ListForScheduling returns the eligibility read model of the requested teachers.
func (r *TeacherRepository) ListForScheduling(ctx context.Context, ids []string) ([]models.Teacher, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var teachers []models.Teacher
	if err := r.db.SelectContext(ctx, &teachers, teacherSchedulingQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list teachers for scheduling: %w", err)
	}
	return teachers, nil
}
