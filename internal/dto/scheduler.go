package dto

import (
	"time"

	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
)

// GenerateScheduleRequest instructs the generator to build the timetable of a period.
type GenerateScheduleRequest struct {
	PeriodID     string         `json:"periodId" validate:"required"`
	Replace      bool           `json:"replace"`
	AllowPartial bool           `json:"allowPartial"`
	DryRun       bool           `json:"dryRun"`
	Options      map[string]any `json:"options"`
}

// GenerationOptions overrides solver budgets and weights for one run. It is decoded from
// the free-form options object of a request.
type GenerationOptions struct {
	MaxBacktracks       int  `mapstructure:"maxBacktracks" validate:"omitempty,min=1,max=1000000"`
	TimeBudgetMS        int  `mapstructure:"timeBudgetMs" validate:"omitempty,min=10,max=120000"`
	SpreadWeight        *int `mapstructure:"spreadWeight" validate:"omitempty,min=0,max=10000"`
	GapWeight           *int `mapstructure:"gapWeight" validate:"omitempty,min=0,max=10000"`
	FitWeight           *int `mapstructure:"fitWeight" validate:"omitempty,min=0,max=10000"`
	MaxConflictsPerUnit int  `mapstructure:"maxConflictsPerUnit" validate:"omitempty,min=1,max=100"`
}

// AssignmentResponse is one placed session.
type AssignmentResponse struct {
	ID          string  `json:"id,omitempty"`
	PeriodID    string  `json:"periodId"`
	GroupID     string  `json:"groupId"`
	SubjectID   string  `json:"subjectId"`
	TeacherID   string  `json:"teacherId"`
	ClassroomID *string `json:"classroomId,omitempty"`
	DayID       int     `json:"dayId"`
	SlotID      int     `json:"slotId"`
	Session     int     `json:"session"`
}

// GenerationStats summarises the search.
type GenerationStats struct {
	Units            int   `json:"units"`
	RequiredSessions int   `json:"requiredSessions"`
	PlacedSessions   int   `json:"placedSessions"`
	Nodes            int   `json:"nodes"`
	Backtracks       int   `json:"backtracks"`
	Rounds           int   `json:"rounds"`
	DurationMS       int64 `json:"durationMs"`
	BudgetExhausted  bool  `json:"budgetExhausted"`
}

// GenerateScheduleResponse is returned for solved, dry-run and partially accepted runs.
type GenerateScheduleResponse struct {
	RunID       string                     `json:"runId"`
	PeriodID    string                     `json:"periodId"`
	Status      scheduler.Status           `json:"status"`
	Persisted   bool                       `json:"persisted"`
	DryRun      bool                       `json:"dryRun"`
	Assignments []AssignmentResponse       `json:"assignments"`
	Conflicts   []scheduler.ConflictRecord `json:"conflictos,omitempty"`
	KeptGroups  []string                   `json:"keptGroups,omitempty"`
	Stats       GenerationStats            `json:"stats"`
}

// ListAssignmentsQuery filters the persisted schedule of a period.
type ListAssignmentsQuery struct {
	PeriodID  string `form:"periodId" validate:"required"`
	TeacherID string `form:"teacherId"`
	GroupID   string `form:"groupId"`
	Page      int    `form:"page" validate:"omitempty,min=1"`
	PageSize  int    `form:"page_size" validate:"omitempty,min=1,max=500"`
}

// GenerationRunResponse describes an asynchronous run.
type GenerationRunResponse struct {
	ID          string                     `json:"id"`
	PeriodID    string                     `json:"periodId"`
	Status      models.GenerationRunStatus `json:"status"`
	RequestedBy string                     `json:"requestedBy,omitempty"`
	CreatedAt   time.Time                  `json:"createdAt"`
	StartedAt   *time.Time                 `json:"startedAt,omitempty"`
	FinishedAt  *time.Time                 `json:"finishedAt,omitempty"`
	Result      *GenerateScheduleResponse  `json:"result,omitempty"`
	Conflicts   []scheduler.ConflictRecord `json:"conflictos,omitempty"`
	Error       *string                    `json:"error,omitempty"`
}
