package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/horario-api/internal/models"
)

// TimeBlockRepository reads the weekly grid.
type TimeBlockRepository struct {
	db *sqlx.DB
}

// NewTimeBlockRepository constructs the repository.
func NewTimeBlockRepository(db *sqlx.DB) *TimeBlockRepository {
	return &TimeBlockRepository{db: db}
}

// ListActive returns the active blocks ordered by day and slot.
func (r *TimeBlockRepository) ListActive(ctx context.Context) ([]models.TimeBlock, error) {
	const query = `SELECT day_id, slot_id, day_name, start_time, end_time, active FROM time_blocks WHERE active = TRUE ORDER BY day_id, slot_id`
	var blocks []models.TimeBlock
	if err := r.db.SelectContext(ctx, &blocks, query); err != nil {
		return nil, fmt.Errorf("list time blocks: %w", err)
	}
	return blocks, nil
}
