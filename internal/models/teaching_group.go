package models

// Modality of a teaching group.
const (
	ModalityInPerson = "IN_PERSON"
	ModalityVirtual  = "VIRTUAL"
)

// TeachingGroup is a group of a period joined with its subject, loaded once per run.
type TeachingGroup struct {
	ID                 string  `db:"id" json:"id"`
	Code               string  `db:"code" json:"code"`
	PeriodID           string  `db:"period_id" json:"period_id"`
	SubjectID          string  `db:"subject_id" json:"subject_id"`
	TeacherID          string  `db:"teacher_id" json:"teacher_id"`
	WeeklySessions     int     `db:"weekly_sessions" json:"weekly_sessions"`
	ExpectedEnrollment int     `db:"expected_enrollment" json:"expected_enrollment"`
	ClassroomType      *string `db:"classroom_type" json:"classroom_type,omitempty"`
	Modality           string  `db:"modality" json:"modality"`
	Active             bool    `db:"active" json:"active"`

	SubjectCode        string `db:"subject_code" json:"subject_code"`
	SubjectName        string `db:"subject_name" json:"subject_name"`
	SubjectArea        string `db:"subject_area" json:"subject_area"`
	SubjectDefaultType string `db:"subject_default_type" json:"subject_default_type"`
}

// RequiredClassroomType resolves the classroom type the group needs.
func (g TeachingGroup) RequiredClassroomType() string {
	if g.Modality == ModalityVirtual {
		return "VIRTUAL"
	}
	if g.ClassroomType != nil && *g.ClassroomType != "" {
		return *g.ClassroomType
	}
	return g.SubjectDefaultType
}
