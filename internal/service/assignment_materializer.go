package service

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/horario-api/internal/models"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type assignmentWriter interface {
	LockPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) error
	DeleteByPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) (int64, error)
	BulkInsert(ctx context.Context, exec sqlx.ExtContext, assignments []models.ScheduleAssignment) error
}

// MaterializeRequest is one run's outcome ready to be stored.
type MaterializeRequest struct {
	PeriodID    string
	RunID       string
	Replace     bool
	Assignments []models.ScheduleAssignment
}

// AssignmentMaterializer writes a run's assignments in a single transaction.
type AssignmentMaterializer struct {
	tx     txProvider
	writer assignmentWriter
	logger *zap.Logger
}

// NewAssignmentMaterializer constructs the materializer.
func NewAssignmentMaterializer(tx txProvider, writer assignmentWriter, logger *zap.Logger) *AssignmentMaterializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentMaterializer{tx: tx, writer: writer, logger: logger}
}

// Materialize stores the assignments atomically. Either every row is written, together with
// the removal of the period's previous schedule when replacing, or nothing changes.
func (m *AssignmentMaterializer) Materialize(ctx context.Context, req MaterializeRequest) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return appErrors.WrapAs(ctxErr, appErrors.ErrGenerationCancelled, "")
	}
	if m.tx == nil {
		return appErrors.Clone(appErrors.ErrPersistence, "transaction provider not configured")
	}

	tx, err := m.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = m.writer.LockPeriod(ctx, tx, req.PeriodID); err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "")
	}

	var removed int64
	if req.Replace {
		removed, err = m.writer.DeleteByPeriod(ctx, tx, req.PeriodID)
		if err != nil {
			return appErrors.WrapAs(err, appErrors.ErrPersistence, "")
		}
	}

	for i := range req.Assignments {
		req.Assignments[i].RunID = req.RunID
		req.Assignments[i].PeriodID = req.PeriodID
	}
	if err = m.writer.BulkInsert(ctx, tx, req.Assignments); err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "")
	}

	if err = tx.Commit(); err != nil {
		return appErrors.WrapAs(err, appErrors.ErrPersistence, "failed to commit schedule")
	}

	m.logger.Info("schedule materialized",
		zap.String("period_id", req.PeriodID),
		zap.String("run_id", req.RunID),
		zap.Int("inserted", len(req.Assignments)),
		zap.Int64("removed", removed),
	)
	return nil
}
