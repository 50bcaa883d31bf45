package scheduler

import (
	"fmt"
	"strings"
)

// ClassroomType classifies what a classroom can host.
type ClassroomType string

const (
	ClassroomLecture    ClassroomType = "LECTURE"
	ClassroomLab        ClassroomType = "LAB"
	ClassroomWorkshop   ClassroomType = "WORKSHOP"
	ClassroomAuditorium ClassroomType = "AUDITORIUM"
	ClassroomVirtual    ClassroomType = "VIRTUAL"
)

var compatibleTypes = map[ClassroomType][]ClassroomType{
	ClassroomLecture:    {ClassroomLecture, ClassroomAuditorium},
	ClassroomLab:        {ClassroomLab},
	ClassroomWorkshop:   {ClassroomWorkshop, ClassroomLab},
	ClassroomAuditorium: {ClassroomAuditorium},
	ClassroomVirtual:    {ClassroomVirtual},
}

// ParseClassroomType normalises a stored type name. ok is false for unknown names.
func ParseClassroomType(raw string) (ClassroomType, bool) {
	t := ClassroomType(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := compatibleTypes[t]
	return t, ok
}

// Accepts reports whether a classroom of type room may host a unit requiring t.
func (t ClassroomType) Accepts(room ClassroomType) bool {
	for _, allowed := range compatibleTypes[t] {
		if allowed == room {
			return true
		}
	}
	return false
}

// BlockKey is the stable composite key of a time block.
type BlockKey struct {
	DayID  int `json:"day_id"`
	SlotID int `json:"slot_id"`
}

func (k BlockKey) String() string {
	return fmt.Sprintf("%d:%d", k.DayID, k.SlotID)
}

// TimeBlock is one cell of the weekly grid.
type TimeBlock struct {
	DayID  int
	SlotID int
	Label  string
}

// Key returns the composite key.
func (b TimeBlock) Key() BlockKey {
	return BlockKey{DayID: b.DayID, SlotID: b.SlotID}
}

// Classroom is a bookable room.
type Classroom struct {
	ID       string
	Code     string
	Capacity int
	Type     ClassroomType
	Active   bool
}

// Teacher carries eligibility and availability for one run.
type Teacher struct {
	ID                string
	Name              string
	Active            bool
	SubjectIDs        []string
	Areas             []string
	MaxSessionsPerDay int
	Unavailable       []BlockKey
}

// CanTeach reports subject/area eligibility.
func (t Teacher) CanTeach(subjectID, area string) bool {
	for _, id := range t.SubjectIDs {
		if id == subjectID {
			return true
		}
	}
	if area == "" {
		return false
	}
	for _, a := range t.Areas {
		if strings.EqualFold(a, area) {
			return true
		}
	}
	return false
}

// TeachingUnit is one group's weekly requirement for a subject.
type TeachingUnit struct {
	ID           string
	GroupCode    string
	SubjectID    string
	SubjectArea  string
	TeacherID    string
	Sessions     int
	Enrollment   int
	RequiredType ClassroomType
}

// FixedAssignment is an occupancy the run must respect but never moves.
type FixedAssignment struct {
	ID          string
	PeriodID    string
	UnitID      string
	TeacherID   string
	ClassroomID string
	Block       BlockKey
}

// Snapshot is the read-only input of one generation run.
type Snapshot struct {
	PeriodID   string
	Units      []TeachingUnit
	Classrooms []Classroom
	Teachers   []Teacher
	TimeBlocks []TimeBlock
	Fixed      []FixedAssignment
}

// IntegrityIssue is a structural defect found before search.
type IntegrityIssue struct {
	UnitID  string `json:"unit,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// DataIntegrityError reports snapshot defects that no search could satisfy.
type DataIntegrityError struct {
	Issues []IntegrityIssue
}

func (e *DataIntegrityError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "snapshot integrity violated"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.UnitID != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", issue.UnitID, issue.Message))
			continue
		}
		parts = append(parts, issue.Message)
	}
	return "snapshot integrity violated: " + strings.Join(parts, "; ")
}

// Validate collects every structural issue of the snapshot.
func (s Snapshot) Validate() error {
	var issues []IntegrityIssue
	add := func(unitID, field, format string, args ...any) {
		issues = append(issues, IntegrityIssue{UnitID: unitID, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	teachers := make(map[string]Teacher, len(s.Teachers))
	for _, t := range s.Teachers {
		teachers[t.ID] = t
	}

	seenRooms := make(map[string]bool, len(s.Classrooms))
	activeTypes := make(map[ClassroomType]bool)
	for _, room := range s.Classrooms {
		if seenRooms[room.ID] {
			add("", "classrooms", "duplicate classroom %s", room.ID)
		}
		seenRooms[room.ID] = true
		if !room.Active {
			continue
		}
		if _, ok := compatibleTypes[room.Type]; !ok {
			add("", "classrooms", "classroom %s has unknown type %q", room.ID, room.Type)
			continue
		}
		activeTypes[room.Type] = true
	}

	seenBlocks := make(map[BlockKey]bool, len(s.TimeBlocks))
	for _, block := range s.TimeBlocks {
		if seenBlocks[block.Key()] {
			add("", "time_blocks", "duplicate time block %s", block.Key())
		}
		seenBlocks[block.Key()] = true
	}

	seenUnits := make(map[string]bool, len(s.Units))
	for _, unit := range s.Units {
		if seenUnits[unit.ID] {
			add(unit.ID, "id", "duplicate teaching unit")
		}
		seenUnits[unit.ID] = true

		if unit.Sessions <= 0 {
			add(unit.ID, "sessions", "required sessions must be positive, got %d", unit.Sessions)
		}
		if unit.Enrollment < 0 {
			add(unit.ID, "enrollment", "expected enrollment cannot be negative")
		}

		teacher, ok := teachers[unit.TeacherID]
		switch {
		case !ok:
			add(unit.ID, "teacher", "teacher %s does not exist", unit.TeacherID)
		case !teacher.Active:
			add(unit.ID, "teacher", "teacher %s is inactive", unit.TeacherID)
		case !teacher.CanTeach(unit.SubjectID, unit.SubjectArea):
			add(unit.ID, "teacher", "teacher %s is not eligible for subject %s", unit.TeacherID, unit.SubjectID)
		}

		allowed, known := compatibleTypes[unit.RequiredType]
		if !known {
			add(unit.ID, "classroom_type", "unknown classroom type %q", unit.RequiredType)
			continue
		}
		if unit.RequiredType == ClassroomVirtual {
			continue
		}
		hasRoom := false
		for _, t := range allowed {
			if activeTypes[t] {
				hasRoom = true
				break
			}
		}
		if !hasRoom {
			add(unit.ID, "classroom_type", "no active classroom can host type %s", unit.RequiredType)
		}
	}

	if len(issues) > 0 {
		return &DataIntegrityError{Issues: issues}
	}
	return nil
}
