package models

import (
	"fmt"
	"time"

	"github.com/noah-isme/horario-api/internal/scheduler"
)

// ScheduleAssignment is a persisted session of a teaching group.
type ScheduleAssignment struct {
	ID           string    `db:"id" json:"id"`
	PeriodID     string    `db:"period_id" json:"period_id"`
	GroupID      string    `db:"group_id" json:"group_id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	ClassroomID  *string   `db:"classroom_id" json:"classroom_id,omitempty"`
	DayID        int       `db:"day_id" json:"day_id"`
	SlotID       int       `db:"slot_id" json:"slot_id"`
	SessionIndex int       `db:"session_index" json:"session_index"`
	RunID        string    `db:"run_id" json:"run_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ScheduleAssignmentFilter describes query params for listing assignments.
type ScheduleAssignmentFilter struct {
	PeriodID  string
	TeacherID string
	GroupID   string
	Page      int
	PageSize  int
}

// DataIntegrityError reports snapshot defects found before search.
type DataIntegrityError = scheduler.DataIntegrityError

// InfeasibleScheduleError is returned when a run could not place every session.
type InfeasibleScheduleError struct {
	Message   string                     `json:"message"`
	Conflicts []scheduler.ConflictRecord `json:"conflictos"`
}

// Error implements the error interface.
func (e *InfeasibleScheduleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%d conflicts)", e.Message, len(e.Conflicts))
}
