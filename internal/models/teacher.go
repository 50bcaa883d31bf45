package models

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

// Teacher is the eligibility read model of an instructor, aggregated from
// teachers, teacher_subjects, teacher_areas and teacher_availability.
type Teacher struct {
	ID                string         `db:"id" json:"id"`
	FullName          string         `db:"full_name" json:"full_name"`
	Active            bool           `db:"active" json:"active"`
	MaxSessionsPerDay int            `db:"max_sessions_per_day" json:"max_sessions_per_day"`
	SubjectIDs        pq.StringArray `db:"subject_ids" json:"subject_ids"`
	Areas             pq.StringArray `db:"areas" json:"areas"`
	Unavailable       types.JSONText `db:"unavailable" json:"unavailable"`
}

// TeacherUnavailableSlot describes a blocked teaching window.
type TeacherUnavailableSlot struct {
	DayID  int `json:"day_id"`
	SlotID int `json:"slot_id"`
}

// UnavailableSlots decodes the availability JSON. Empty or null documents yield no slots.
func (t Teacher) UnavailableSlots() ([]TeacherUnavailableSlot, error) {
	if len(t.Unavailable) == 0 || string(t.Unavailable) == "null" {
		return nil, nil
	}
	var slots []TeacherUnavailableSlot
	if err := json.Unmarshal(t.Unavailable, &slots); err != nil {
		return nil, fmt.Errorf("decode unavailable slots for teacher %s: %w", t.ID, err)
	}
	return slots, nil
}
