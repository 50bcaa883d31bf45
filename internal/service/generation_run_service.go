package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/horario-api/internal/dto"
	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
	"github.com/noah-isme/horario-api/pkg/jobs"
)

// GenerationJobType identifies async generation jobs on the worker queue.
const GenerationJobType = "schedule.generate"

const runMirrorPrefix = "horario:run:"

type scheduleGenerator interface {
	Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type runMirror interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type runEntry struct {
	run       dto.GenerationRunResponse
	request   dto.GenerateScheduleRequest
	actor     models.Actor
	cancel    context.CancelFunc
	expiresAt time.Time
}

// runStore keeps this instance's runs until they expire.
type runStore struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]*runEntry
	now   func() time.Time
}

func newRunStore(ttl time.Duration) *runStore {
	return &runStore{ttl: ttl, items: make(map[string]*runEntry), now: time.Now}
}

func (s *runStore) Save(entry *runEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.expiresAt = s.now().Add(s.ttl)
	s.items[entry.run.ID] = entry
	for id, item := range s.items {
		if s.now().After(item.expiresAt) && item.run.Status.Terminal() {
			delete(s.items, id)
		}
	}
}

// Update applies fn under the write lock and returns a copy of the resulting run.
func (s *runStore) Update(id string, fn func(*runEntry)) (dto.GenerationRunResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[id]
	if !ok {
		return dto.GenerationRunResponse{}, false
	}
	fn(entry)
	entry.expiresAt = s.now().Add(s.ttl)
	return entry.run, true
}

func (s *runStore) Get(id string) (runEntry, bool) {
	s.mu.RLock()
	item, ok := s.items[id]
	var entry runEntry
	if ok {
		entry = *item
	}
	s.mu.RUnlock()
	if !ok {
		return runEntry{}, false
	}
	if s.now().After(entry.expiresAt) && entry.run.Status.Terminal() {
		s.Delete(id)
		return runEntry{}, false
	}
	return entry, true
}

func (s *runStore) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// GenerationRunConfig governs async runs.
type GenerationRunConfig struct {
	RunTTL time.Duration
}

// GenerationRunService runs generations in the background and tracks their lifecycle.
type GenerationRunService struct {
	generator scheduleGenerator
	queue     jobEnqueuer
	mirror    runMirror
	metrics   *MetricsService
	store     *runStore
	validator *validator.Validate
	logger    *zap.Logger
	ttl       time.Duration
}

// NewGenerationRunService wires the async runner. mirror may be nil.
func NewGenerationRunService(
	generator scheduleGenerator,
	mirror runMirror,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GenerationRunConfig,
) *GenerationRunService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = time.Hour
	}
	return &GenerationRunService{
		generator: generator,
		mirror:    mirror,
		metrics:   metrics,
		store:     newRunStore(cfg.RunTTL),
		validator: validate,
		logger:    logger,
		ttl:       cfg.RunTTL,
	}
}

// AttachQueue sets the queue that executes Handle. The queue is built with Handle as
// its handler, so it is attached after construction.
func (s *GenerationRunService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Submit registers a run and enqueues it.
func (s *GenerationRunService) Submit(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerationRunResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "generation queue not configured")
	}

	actor, _ := models.ActorFromContext(ctx)
	entry := &runEntry{
		run: dto.GenerationRunResponse{
			ID:          uuid.NewString(),
			PeriodID:    req.PeriodID,
			Status:      models.GenerationRunQueued,
			RequestedBy: actor.UserID,
			CreatedAt:   time.Now().UTC(),
		},
		request: req,
		actor:   actor,
	}
	s.store.Save(entry)
	s.publish(ctx, entry.run)

	if err := s.queue.Enqueue(jobs.Job{ID: entry.run.ID, Type: GenerationJobType, Payload: entry.run.ID}); err != nil {
		run := s.finish(entry.run.ID, models.GenerationRunFailed, nil, nil, err)
		s.publish(ctx, run)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue generation run")
	}

	s.logger.Info("generation run queued", zap.String("run_id", entry.run.ID), zap.String("period_id", req.PeriodID), zap.String("requested_by", actor.UserID))
	run := entry.run
	return &run, nil
}

// Handle executes one queued run. Failures are recorded on the run and never retried.
func (s *GenerationRunService) Handle(ctx context.Context, job jobs.Job) error {
	runID, _ := job.Payload.(string)
	entry, ok := s.store.Get(runID)
	if !ok {
		return jobs.Permanent(appErrors.Clone(appErrors.ErrNotFound, "generation run not found"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = WithRunID(models.WithActor(runCtx, entry.actor), runID)

	started := false
	run, _ := s.store.Update(runID, func(e *runEntry) {
		if e.run.Status != models.GenerationRunQueued {
			return
		}
		now := time.Now().UTC()
		e.run.Status = models.GenerationRunRunning
		e.run.StartedAt = &now
		e.cancel = cancel
		started = true
	})
	if !started {
		return nil
	}
	s.publish(ctx, run)

	resp, err := s.generator.Generate(runCtx, entry.request)

	var infeasible *models.InfeasibleScheduleError
	switch {
	case err == nil:
		status := models.GenerationRunSolved
		if resp.Status == scheduler.StatusPartial {
			status = models.GenerationRunPartial
		}
		run = s.finish(runID, status, resp, resp.Conflicts, nil)
	case errors.As(err, &infeasible):
		run = s.finish(runID, models.GenerationRunInfeasible, nil, infeasible.Conflicts, nil)
	case errors.Is(err, appErrors.ErrGenerationCancelled) || errors.Is(err, context.Canceled):
		run = s.finish(runID, models.GenerationRunCancelled, nil, nil, nil)
	default:
		run = s.finish(runID, models.GenerationRunFailed, nil, nil, err)
	}
	s.publish(ctx, run)

	s.logger.Info("generation run finished", zap.String("run_id", runID), zap.String("status", string(run.Status)))
	if run.Status == models.GenerationRunFailed {
		return jobs.Permanent(err)
	}
	return nil
}

// Discard closes a run whose job never reached a worker, e.g. when the queue shuts down.
func (s *GenerationRunService) Discard(job jobs.Job) {
	runID, _ := job.Payload.(string)
	closed := false
	run, _ := s.store.Update(runID, func(e *runEntry) {
		if e.run.Status != models.GenerationRunQueued {
			return
		}
		now := time.Now().UTC()
		msg := "generation queue stopped before the run started"
		e.run.Status = models.GenerationRunCancelled
		e.run.FinishedAt = &now
		e.run.Error = &msg
		closed = true
	})
	if closed {
		s.publish(context.Background(), run)
		s.logger.Warn("generation run discarded", zap.String("run_id", runID))
	}
}

// Get returns a run known to this instance or, failing that, to the shared cache.
func (s *GenerationRunService) Get(ctx context.Context, id string) (*dto.GenerationRunResponse, error) {
	if entry, ok := s.store.Get(id); ok {
		run := entry.run
		return &run, nil
	}
	if s.mirror != nil {
		var run dto.GenerationRunResponse
		err := s.mirror.Get(ctx, runMirrorPrefix+id, &run)
		s.metrics.RecordMirrorLookup(err == nil)
		if err == nil {
			return &run, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("run mirror lookup failed", zap.String("run_id", id), zap.Error(err))
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "generation run not found")
}

// Cancel stops a queued or running run. A running search stops at its next checkpoint
// and stores nothing.
func (s *GenerationRunService) Cancel(ctx context.Context, id string) (*dto.GenerationRunResponse, error) {
	entry, ok := s.store.Get(id)
	if !ok {
		if _, err := s.Get(ctx, id); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "generation run is owned by another instance")
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation run not found")
	}
	if entry.run.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "generation run already finished")
	}

	finished := false
	run, _ := s.store.Update(id, func(e *runEntry) {
		switch {
		case e.run.Status == models.GenerationRunQueued:
			now := time.Now().UTC()
			e.run.Status = models.GenerationRunCancelled
			e.run.FinishedAt = &now
		case e.cancel != nil:
			e.cancel()
		}
		finished = e.run.Status.Terminal()
	})
	if finished {
		s.publish(ctx, run)
	}
	s.logger.Info("generation run cancel requested", zap.String("run_id", id), zap.String("status", string(run.Status)))
	return &run, nil
}

func (s *GenerationRunService) finish(id string, status models.GenerationRunStatus, resp *dto.GenerateScheduleResponse, conflicts []scheduler.ConflictRecord, cause error) dto.GenerationRunResponse {
	run, _ := s.store.Update(id, func(e *runEntry) {
		now := time.Now().UTC()
		e.run.Status = status
		e.run.FinishedAt = &now
		e.run.Result = resp
		e.run.Conflicts = conflicts
		e.cancel = nil
		if cause != nil {
			msg := cause.Error()
			e.run.Error = &msg
		}
	})
	return run
}

func (s *GenerationRunService) publish(ctx context.Context, run dto.GenerationRunResponse) {
	if s.mirror == nil || run.ID == "" {
		return
	}
	if err := s.mirror.Set(context.WithoutCancel(ctx), runMirrorPrefix+run.ID, run, s.ttl); err != nil {
		s.logger.Warn("failed to mirror generation run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
