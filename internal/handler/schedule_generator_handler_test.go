package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/horario-api/internal/dto"
	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
)

type scheduleGeneratorMock struct {
	captured dto.GenerateScheduleRequest
	query    dto.ListAssignmentsQuery
	resp     *dto.GenerateScheduleResponse
	err      error
}

func (m *scheduleGeneratorMock) Generate(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerateScheduleResponse, error) {
	m.captured = req
	return m.resp, m.err
}

func (m *scheduleGeneratorMock) ListAssignments(ctx context.Context, query dto.ListAssignmentsQuery) ([]dto.AssignmentResponse, *models.Pagination, error) {
	m.query = query
	return []dto.AssignmentResponse{{ID: "a1"}}, &models.Pagination{Page: 1, PageSize: 100, TotalCount: 1}, nil
}

type runsMock struct {
	run *dto.GenerationRunResponse
	err error
	id  string
}

func (m *runsMock) Submit(ctx context.Context, req dto.GenerateScheduleRequest) (*dto.GenerationRunResponse, error) {
	return m.run, m.err
}

func (m *runsMock) Get(ctx context.Context, id string) (*dto.GenerationRunResponse, error) {
	m.id = id
	return m.run, m.err
}

func (m *runsMock) Cancel(ctx context.Context, id string) (*dto.GenerationRunResponse, error) {
	m.id = id
	return m.run, m.err
}

func postGenerate(t *testing.T, h *ScheduleGeneratorHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	req, _ := http.NewRequest(http.MethodPost, "/horarios/generar", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	h.Generate(c)
	return w
}

func TestScheduleGeneratorHandlerSolvedReturnsCreated(t *testing.T) {
	mockSvc := &scheduleGeneratorMock{resp: &dto.GenerateScheduleResponse{RunID: "run-1", Status: scheduler.StatusSolved, Persisted: true}}
	h := NewScheduleGeneratorHandler(mockSvc, nil)

	w := postGenerate(t, h, `{"periodId":"p1","replace":true,"options":{"maxBacktracks":10}}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "p1", mockSvc.captured.PeriodID)
	assert.True(t, mockSvc.captured.Replace)
	assert.Equal(t, float64(10), mockSvc.captured.Options["maxBacktracks"])
	assert.Contains(t, w.Body.String(), `"runId":"run-1"`)
}

func TestScheduleGeneratorHandlerDryRunAndPartialReturnOK(t *testing.T) {
	h := NewScheduleGeneratorHandler(&scheduleGeneratorMock{resp: &dto.GenerateScheduleResponse{Status: scheduler.StatusSolved, DryRun: true}}, nil)
	assert.Equal(t, http.StatusOK, postGenerate(t, h, `{"periodId":"p1","dryRun":true}`).Code)

	h = NewScheduleGeneratorHandler(&scheduleGeneratorMock{resp: &dto.GenerateScheduleResponse{
		Status:    scheduler.StatusPartial,
		Persisted: true,
		Conflicts: []scheduler.ConflictRecord{{UnitID: "g1", Reason: scheduler.ReasonCapacity}},
	}}, nil)
	w := postGenerate(t, h, `{"periodId":"p1","allowPartial":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conflictos"`)
}

func TestScheduleGeneratorHandlerInfeasibleBodyShape(t *testing.T) {
	block := scheduler.BlockKey{DayID: 1, SlotID: 2}
	conflicts := []scheduler.ConflictRecord{{
		UnitID:     "g1",
		GroupCode:  "MAT-1",
		Reason:     scheduler.ReasonTeacherDoubleBook,
		Resource:   scheduler.ResourceTeacher,
		ResourceID: "t1",
		TimeBlock:  &block,
		Required:   2,
		Placed:     1,
	}}
	infeasible := &models.InfeasibleScheduleError{Message: "no se pudo generar un horario completo", Conflicts: conflicts}
	h := NewScheduleGeneratorHandler(&scheduleGeneratorMock{err: appErrors.WrapAs(infeasible, appErrors.ErrInfeasibleSchedule, infeasible.Message)}, nil)

	w := postGenerate(t, h, `{"periodId":"p1"}`)

	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body, 2)
	assert.JSONEq(t, `"no se pudo generar un horario completo"`, string(body["message"]))

	var records []map[string]any
	require.NoError(t, json.Unmarshal(body["conflictos"], &records))
	require.Len(t, records, 1)
	assert.Equal(t, "TEACHER_DOUBLE_BOOK", records[0]["reason"])
	assert.Equal(t, "t1", records[0]["resource_id"])
}

func TestScheduleGeneratorHandlerMapsErrorStatuses(t *testing.T) {
	cases := map[error]int{
		appErrors.WrapAs(&models.DataIntegrityError{}, appErrors.ErrDataIntegrity, ""): http.StatusUnprocessableEntity,
		appErrors.WrapAs(errors.New("tx"), appErrors.ErrPersistence, ""):              http.StatusInternalServerError,
		appErrors.ErrGenerationInProgress:                                               http.StatusConflict,
		appErrors.Clone(appErrors.ErrNotFound, "period not found"):                     http.StatusNotFound,
	}
	for err, status := range cases {
		h := NewScheduleGeneratorHandler(&scheduleGeneratorMock{err: err}, nil)
		w := postGenerate(t, h, `{"periodId":"p1"}`)
		assert.Equal(t, status, w.Code, err.Error())
		assert.Contains(t, w.Body.String(), `"error"`)
	}

	h := NewScheduleGeneratorHandler(&scheduleGeneratorMock{}, nil)
	assert.Equal(t, http.StatusBadRequest, postGenerate(t, h, `{"periodId":`).Code)
}

func TestScheduleGeneratorHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &scheduleGeneratorMock{}
	h := NewScheduleGeneratorHandler(mockSvc, nil)
	req, _ := http.NewRequest(http.MethodGet, "/horarios?periodId=p1&teacherId=t1&page=2", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", mockSvc.query.PeriodID)
	assert.Equal(t, "t1", mockSvc.query.TeacherID)
	assert.Equal(t, 2, mockSvc.query.Page)
	assert.Contains(t, w.Body.String(), `"pagination"`)
}

func TestScheduleGeneratorHandlerRuns(t *testing.T) {
	gin.SetMode(gin.TestMode)
	runs := &runsMock{run: &dto.GenerationRunResponse{ID: "run-9", Status: models.GenerationRunQueued}}
	h := NewScheduleGeneratorHandler(&scheduleGeneratorMock{}, runs)

	r := gin.New()
	r.POST("/api/v1/horarios/generar/async", h.GenerateAsync)
	r.GET("/api/v1/horarios/runs/:id", h.GetRun)
	r.DELETE("/api/v1/horarios/runs/:id", h.CancelRun)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/horarios/generar/async", bytes.NewReader([]byte(`{"periodId":"p1"}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/v1/horarios/runs/run-9", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/horarios/runs/run-9", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "run-9", runs.id)

	runs.err = appErrors.Clone(appErrors.ErrConflict, "generation run already finished")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/horarios/runs/run-9", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	disabled := NewScheduleGeneratorHandler(&scheduleGeneratorMock{}, nil)
	r = gin.New()
	r.GET("/runs/:id", disabled.GetRun)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/x", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
