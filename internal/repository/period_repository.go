package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/horario-api/internal/models"
)

// PeriodRepository reads academic periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// FindByID returns the period or sql.ErrNoRows.
func (r *PeriodRepository) FindByID(ctx context.Context, id string) (*models.Period, error) {
	const query = `SELECT id, name, start_date, end_date, is_active, created_at, updated_at FROM periods WHERE id = $1`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// ListOverlappingIDs returns the other periods whose date range intersects the given one.
func (r *PeriodRepository) ListOverlappingIDs(ctx context.Context, period models.Period) ([]string, error) {
	const query = `SELECT id FROM periods WHERE id <> $1 AND start_date <= $3 AND end_date >= $2 ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, period.ID, period.StartDate, period.EndDate); err != nil {
		return nil, fmt.Errorf("list overlapping periods: %w", err)
	}
	return ids, nil
}
