package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/horario-api/internal/dto"
	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
	"github.com/noah-isme/horario-api/pkg/response"
)

type scheduleGenerator interface {
	Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error)
	ListAssignments(ctx context.Context, query dto.ListAssignmentsQuery) ([]dto.AssignmentResponse, *models.Pagination, error)
}

type generationRuns interface {
	Submit(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerationRunResponse, error)
	Get(ctx context.Context, id string) (*dto.GenerationRunResponse, error)
	Cancel(ctx context.Context, id string) (*dto.GenerationRunResponse, error)
}

// ScheduleGeneratorHandler exposes timetable generation endpoints.
type ScheduleGeneratorHandler struct {
	service scheduleGenerator
	runs    generationRuns
}

// NewScheduleGeneratorHandler constructs the handler. runs may be nil when async runs are disabled.
func NewScheduleGeneratorHandler(svc scheduleGenerator, runs generationRuns) *ScheduleGeneratorHandler {
	return &ScheduleGeneratorHandler{service: svc, runs: runs}
}

// Generate godoc
// @Summary Generate the timetable of a period
// @Description Builds a conflict-free timetable. Responds 409 with {message, conflictos} when some sessions cannot be placed and allowPartial is not set.
// @Tags Horarios
// @Accept json
// @Produce json
// @Param payload body dto.GenerateScheduleRequest true "Generation request"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.ConflictBody
// @Failure 422 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /horarios/generar [post]
func (h *ScheduleGeneratorHandler) Generate(c *gin.Context) {
	var req dto.GenerateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}

	resp, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		writeGenerationError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Persisted && resp.Status == scheduler.StatusSolved {
		status = http.StatusCreated
	}
	response.JSON(c, status, resp, nil)
}

// List godoc
// @Summary List the stored timetable of a period
// @Tags Horarios
// @Produce json
// @Param periodId query string true "Period ID"
// @Param teacherId query string false "Teacher filter"
// @Param groupId query string false "Group filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /horarios [get]
func (h *ScheduleGeneratorHandler) List(c *gin.Context) {
	var query dto.ListAssignmentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.ListAssignments(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// GenerateAsync godoc
// @Summary Queue a background generation run
// @Tags Horarios
// @Accept json
// @Produce json
// @Param payload body dto.GenerateScheduleRequest true "Generation request"
// @Success 202 {object} response.Envelope
// @Router /horarios/generar/async [post]
func (h *ScheduleGeneratorHandler) GenerateAsync(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "async generation disabled"))
		return
	}
	var req dto.GenerateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	run, err := h.runs.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Location", strings.TrimSuffix(c.FullPath(), "/generar/async")+"/runs/"+run.ID)
	response.Accepted(c, run)
}

// GetRun godoc
// @Summary Inspect a generation run
// @Tags Horarios
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /horarios/runs/{id} [get]
func (h *ScheduleGeneratorHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "async generation disabled"))
		return
	}
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// CancelRun godoc
// @Summary Cancel a queued or running generation run
// @Tags Horarios
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} response.Envelope
// @Router /horarios/runs/{id} [delete]
func (h *ScheduleGeneratorHandler) CancelRun(c *gin.Context) {
	if h.runs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "async generation disabled"))
		return
	}
	run, err := h.runs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, run)
}

func writeGenerationError(c *gin.Context, err error) {
	var infeasible *models.InfeasibleScheduleError
	if errors.As(err, &infeasible) {
		response.Conflicts(c, infeasible.Message, infeasible.Conflicts)
		return
	}
	response.Error(c, err)
}
