package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/horario-api/internal/dto"
	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
	"github.com/noah-isme/horario-api/pkg/logger"
)

type snapshotSource interface {
	Load(ctx context.Context, periodID string, replace bool) (*LoadedSnapshot, error)
}

type scheduleMaterializer interface {
	Materialize(ctx context.Context, req MaterializeRequest) error
}

type assignmentLister interface {
	List(ctx context.Context, filter models.ScheduleAssignmentFilter) ([]models.ScheduleAssignment, int, error)
}

type periodLocker interface {
	TryLock(ctx context.Context, periodID string) (func(), error)
}

// ScheduleGeneratorConfig governs generator behaviour.
type ScheduleGeneratorConfig struct {
	Options             scheduler.Options
	Weights             scheduler.Weights
	MaxConflictsPerUnit int
	// LockTTL is the lifetime of the period lock. Search budgets are capped at half of
	// it so loading and storing still finish while the lock is held.
	LockTTL time.Duration
}

func (c ScheduleGeneratorConfig) maxTimeBudget() time.Duration {
	return c.LockTTL / 2
}

// ScheduleGeneratorService orchestrates one generation run: lock, load, solve, report, store.
type ScheduleGeneratorService struct {
	loader       snapshotSource
	materializer scheduleMaterializer
	assignments  assignmentLister
	locker       periodLocker
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          ScheduleGeneratorConfig
}

// NewScheduleGeneratorService wires scheduler dependencies.
func NewScheduleGeneratorService(
	loader snapshotSource,
	materializer scheduleMaterializer,
	assignments assignmentLister,
	locker periodLocker,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ScheduleGeneratorConfig,
) *ScheduleGeneratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewPeriodLocker(nil, 0, logger)
	}
	if cfg.Options.MaxBacktracks <= 0 {
		cfg.Options.MaxBacktracks = scheduler.DefaultOptions.MaxBacktracks
	}
	if cfg.Options.TimeBudget <= 0 {
		cfg.Options.TimeBudget = scheduler.DefaultOptions.TimeBudget
	}
	if limit := cfg.maxTimeBudget(); limit > 0 && cfg.Options.TimeBudget > limit {
		logger.Warn("time budget capped by period lock ttl",
			zap.Duration("time_budget", cfg.Options.TimeBudget),
			zap.Duration("lock_ttl", cfg.LockTTL),
		)
		cfg.Options.TimeBudget = limit
	}
	if cfg.Weights == (scheduler.Weights{}) {
		cfg.Weights = scheduler.DefaultWeights
	}
	if cfg.MaxConflictsPerUnit <= 0 {
		cfg.MaxConflictsPerUnit = scheduler.DefaultMaxConflictsPerUnit
	}
	return &ScheduleGeneratorService{
		loader:       loader,
		materializer: materializer,
		assignments:  assignments,
		locker:       locker,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
	}
}

type runIDKey struct{}

// WithRunID makes Generate reuse an externally allocated run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

type runSettings struct {
	options      scheduler.Options
	weights      scheduler.Weights
	maxConflicts int
}

// Generate builds and, unless dry-running, stores the timetable of a period.
//
// A run that leaves sessions unplaced fails with ErrInfeasibleSchedule wrapping a
// *models.InfeasibleScheduleError, and persists nothing, unless AllowPartial is set.
func (s *ScheduleGeneratorService) Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate payload")
	}
	settings, err := s.resolveSettings(req.Options)
	if err != nil {
		return nil, err
	}

	runID := runIDFrom(ctx)
	log := logger.WithRequest(ctx, s.logger).With(zap.String("period_id", req.PeriodID), zap.String("run_id", runID))
	if actor, ok := models.ActorFromContext(ctx); ok {
		log = log.With(zap.String("requested_by", actor.UserID), zap.String("role", string(actor.Role)))
	}

	release, err := s.locker.TryLock(ctx, req.PeriodID)
	if err != nil {
		s.metrics.ObserveGeneration(OutcomeBusy, scheduler.Stats{}, 0, nil)
		log.Info("generation rejected, period busy")
		return nil, err
	}
	defer release()

	loaded, err := s.loader.Load(ctx, req.PeriodID, req.Replace)
	if err != nil {
		s.observeFailure(log, err)
		return nil, err
	}

	model, err := scheduler.NewModel(loaded.Snapshot, settings.weights)
	if err != nil {
		var integrity *scheduler.DataIntegrityError
		if errors.As(err, &integrity) {
			appErr := appErrors.WrapAs(integrity, appErrors.ErrDataIntegrity, "")
			appErr.Details = integrity.Issues
			s.observeFailure(log, appErr)
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build constraint model")
	}

	done := s.metrics.RunStarted()
	result, err := scheduler.Solve(ctx, model, settings.options)
	done()
	if err != nil {
		if ctx.Err() != nil {
			s.metrics.ObserveGeneration(OutcomeCancelled, scheduler.Stats{}, 0, nil)
			log.Info("generation cancelled")
			return nil, appErrors.WrapAs(err, appErrors.ErrGenerationCancelled, "")
		}
		s.metrics.ObserveGeneration(OutcomeFailed, scheduler.Stats{}, 0, nil)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "search failed")
	}

	conflicts := scheduler.Report(model, result, settings.maxConflicts)
	log = log.With(
		zap.Int("units", len(model.Units())),
		zap.Strings("kept_groups", loaded.Kept),
		zap.Int("required", model.RequiredSessions()),
		zap.Int("placed", len(result.Assignments)),
		zap.Int("backtracks", result.Stats.Backtracks),
		zap.Int("rounds", result.Stats.Rounds),
		zap.Duration("search", result.Stats.Duration),
	)

	if result.Status == scheduler.StatusPartial && !req.AllowPartial {
		s.metrics.ObserveGeneration(OutcomeInfeasible, result.Stats, 0, conflicts)
		log.Info("generation infeasible", zap.String("outcome", OutcomeInfeasible), zap.Int("conflicts", len(conflicts)))
		return nil, infeasibleError(result, conflicts)
	}

	rows := toAssignmentRows(result.Assignments, runID, loaded.SessionOffset)
	resp := &dto.GenerateScheduleResponse{
		RunID:      runID,
		PeriodID:   req.PeriodID,
		Status:     result.Status,
		DryRun:     req.DryRun,
		Conflicts:  conflicts,
		KeptGroups: loaded.Kept,
		Stats: dto.GenerationStats{
			Units:            len(model.Units()),
			RequiredSessions: model.RequiredSessions(),
			PlacedSessions:   len(result.Assignments),
			Nodes:            result.Stats.Nodes,
			Backtracks:       result.Stats.Backtracks,
			Rounds:           result.Stats.Rounds,
			DurationMS:       result.Stats.Duration.Milliseconds(),
			BudgetExhausted:  result.Stats.BudgetExhausted,
		},
	}

	if req.DryRun {
		resp.Assignments = toAssignmentResponses(rows)
		s.metrics.ObserveGeneration(OutcomeDryRun, result.Stats, 0, conflicts)
		log.Info("generation dry run finished", zap.String("outcome", OutcomeDryRun))
		return resp, nil
	}

	if err := s.materializer.Materialize(ctx, MaterializeRequest{
		PeriodID:    req.PeriodID,
		RunID:       runID,
		Replace:     req.Replace,
		Assignments: rows,
	}); err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, appErrors.ErrGenerationCancelled) {
			outcome = OutcomeCancelled
		}
		s.metrics.ObserveGeneration(outcome, result.Stats, 0, conflicts)
		log.Error("failed to store generated schedule", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}

	resp.Persisted = true
	resp.Assignments = toAssignmentResponses(rows)

	outcome := OutcomeSolved
	if result.Status == scheduler.StatusPartial {
		outcome = OutcomePartial
	}
	s.metrics.ObserveGeneration(outcome, result.Stats, len(rows), conflicts)
	log.Info("generation finished", zap.String("outcome", outcome))
	return resp, nil
}

// ListAssignments returns the stored schedule of a period.
func (s *ScheduleGeneratorService) ListAssignments(ctx context.Context, query dto.ListAssignmentsQuery) ([]dto.AssignmentResponse, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query")
	}
	filter := models.ScheduleAssignmentFilter{
		PeriodID:  query.PeriodID,
		TeacherID: query.TeacherID,
		GroupID:   query.GroupID,
		Page:      lo.Ternary(query.Page > 0, query.Page, 1),
		PageSize:  lo.Ternary(query.PageSize > 0, query.PageSize, 100),
	}
	rows, total, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return toAssignmentResponses(rows), &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *ScheduleGeneratorService) resolveSettings(raw map[string]any) (runSettings, error) {
	settings := runSettings{options: s.cfg.Options, weights: s.cfg.Weights, maxConflicts: s.cfg.MaxConflictsPerUnit}
	if len(raw) == 0 {
		return settings, nil
	}

	var opts dto.GenerationOptions
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &opts,
	})
	if err != nil {
		return settings, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to prepare options decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return settings, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation options")
	}
	if err := s.validator.Struct(opts); err != nil {
		return settings, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation options")
	}

	if opts.MaxBacktracks > 0 {
		settings.options.MaxBacktracks = opts.MaxBacktracks
	}
	if opts.TimeBudgetMS > 0 {
		budget := time.Duration(opts.TimeBudgetMS) * time.Millisecond
		if limit := s.cfg.maxTimeBudget(); limit > 0 && budget > limit {
			return settings, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("timeBudgetMs must not exceed %d while the period lock lasts %s", limit.Milliseconds(), s.cfg.LockTTL))
		}
		settings.options.TimeBudget = budget
	}
	if opts.SpreadWeight != nil {
		settings.weights.Spread = *opts.SpreadWeight
	}
	if opts.GapWeight != nil {
		settings.weights.Gap = *opts.GapWeight
	}
	if opts.FitWeight != nil {
		settings.weights.Fit = *opts.FitWeight
	}
	if opts.MaxConflictsPerUnit > 0 {
		settings.maxConflicts = opts.MaxConflictsPerUnit
	}
	return settings, nil
}

func (s *ScheduleGeneratorService) observeFailure(log *zap.Logger, err error) {
	outcome := OutcomeFailed
	if errors.Is(err, appErrors.ErrDataIntegrity) {
		outcome = OutcomeIntegrity
	}
	s.metrics.ObserveGeneration(outcome, scheduler.Stats{}, 0, nil)
	log.Warn("generation aborted", zap.String("outcome", outcome), zap.Error(err))
}

func infeasibleError(result *scheduler.Result, conflicts []scheduler.ConflictRecord) error {
	if conflicts == nil {
		conflicts = []scheduler.ConflictRecord{}
	}
	message := fmt.Sprintf("%s: %d grupo(s) sin todas sus sesiones", appErrors.ErrInfeasibleSchedule.Message, len(result.Unresolved))
	infeasible := &models.InfeasibleScheduleError{Message: message, Conflicts: conflicts}
	appErr := appErrors.WrapAs(infeasible, appErrors.ErrInfeasibleSchedule, message)
	appErr.Details = conflicts
	return appErr
}

// toAssignmentRows numbers the sessions of a partially stored group after its stored ones.
func toAssignmentRows(assignments []scheduler.Assignment, runID string, offsets map[string]int) []models.ScheduleAssignment {
	return lo.Map(assignments, func(a scheduler.Assignment, _ int) models.ScheduleAssignment {
		return models.ScheduleAssignment{
			PeriodID:     a.PeriodID,
			GroupID:      a.UnitID,
			SubjectID:    a.SubjectID,
			TeacherID:    a.TeacherID,
			ClassroomID:  lo.EmptyableToPtr(a.ClassroomID),
			DayID:        a.Block.DayID,
			SlotID:       a.Block.SlotID,
			SessionIndex: offsets[a.UnitID] + a.Session,
			RunID:        runID,
		}
	})
}

func toAssignmentResponses(rows []models.ScheduleAssignment) []dto.AssignmentResponse {
	out := make([]dto.AssignmentResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, dto.AssignmentResponse{
			ID:          row.ID,
			PeriodID:    row.PeriodID,
			GroupID:     row.GroupID,
			SubjectID:   row.SubjectID,
			TeacherID:   row.TeacherID,
			ClassroomID: row.ClassroomID,
			DayID:       row.DayID,
			SlotID:      row.SlotID,
			Session:     row.SessionIndex,
		})
	}
	return out
}
