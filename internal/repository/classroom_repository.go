package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/horario-api/internal/models"
)

// ClassroomRepository reads the classroom catalog.
type ClassroomRepository struct {
	db *sqlx.DB
}

// NewClassroomRepository constructs the repository.
func NewClassroomRepository(db *sqlx.DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

// ListActive returns active classrooms ordered by id.
func (r *ClassroomRepository) ListActive(ctx context.Context) ([]models.Classroom, error) {
	const query = `SELECT id, code, capacity, type, active FROM classrooms WHERE active = TRUE ORDER BY id`
	var rooms []models.Classroom
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list classrooms: %w", err)
	}
	return rooms, nil
}
