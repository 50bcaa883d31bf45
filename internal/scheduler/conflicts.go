package scheduler

import "fmt"

// DefaultMaxConflictsPerUnit caps time-block records for a single unit.
const DefaultMaxConflictsPerUnit = 10

// ConflictRecord explains why a unit did not receive all of its sessions.
type ConflictRecord struct {
	UnitID      string    `json:"unit"`
	GroupCode   string    `json:"group_code"`
	SubjectID   string    `json:"subject_id"`
	TeacherID   string    `json:"teacher_id"`
	Reason      Reason    `json:"reason"`
	Resource    Resource  `json:"resource"`
	ResourceID  string    `json:"resource_id,omitempty"`
	ClassroomID string    `json:"classroom_id,omitempty"`
	TimeBlock   *BlockKey `json:"time_block,omitempty"`
	Competing   *Occupant `json:"competing,omitempty"`
	Required    int       `json:"required"`
	Placed      int       `json:"placed"`
	Message     string    `json:"message"`
}

var reasonRank = map[Reason]int{
	ReasonTeacherDoubleBook:   0,
	ReasonNoAvailableSlot:     1,
	ReasonClassroomDoubleBook: 2,
	ReasonCapacity:            3,
	ReasonTypeMismatch:        4,
}

// Report maps every unresolved unit of the result to conflict records.
func Report(m *Model, result *Result, maxPerUnit int) []ConflictRecord {
	if result == nil || len(result.Unresolved) == 0 {
		return nil
	}
	if maxPerUnit <= 0 {
		maxPerUnit = DefaultMaxConflictsPerUnit
	}
	p := result.Partial()
	if p == nil {
		p = m.NewPartial()
	}

	var records []ConflictRecord
	for _, unresolved := range result.Unresolved {
		u, ok := m.unitIndex[unresolved.UnitID]
		if !ok {
			continue
		}
		records = append(records, m.explainUnit(u, unresolved, p, maxPerUnit)...)
	}
	return records
}

func (m *Model) explainUnit(u int, unresolved Unresolved, p *Partial, maxPerUnit int) []ConflictRecord {
	unit := m.units[u]
	base := ConflictRecord{
		UnitID:    unit.ID,
		GroupCode: unit.GroupCode,
		SubjectID: unit.SubjectID,
		TeacherID: unit.TeacherID,
		Required:  unresolved.Required,
		Placed:    unresolved.Placed,
	}

	var rooms []int
	for _, r := range m.CandidateRooms(u) {
		if m.StaticCheck(u, r) == nil {
			rooms = append(rooms, r)
		}
	}

	if len(rooms) == 0 {
		records := make([]ConflictRecord, 0, len(m.rooms))
		for r, room := range m.rooms {
			v := m.StaticCheck(u, r)
			rec := base
			rec.Reason = v.Reason
			rec.Resource = ResourceClassroom
			rec.ResourceID = room.ID
			rec.ClassroomID = room.ID
			if v.Reason == ReasonCapacity {
				rec.Message = fmt.Sprintf("classroom %s holds %d but group %s expects %d", room.Code, room.Capacity, unit.GroupCode, unit.Enrollment)
			} else {
				rec.Message = fmt.Sprintf("classroom %s is %s but group %s requires %s", room.Code, room.Type, unit.GroupCode, unit.RequiredType)
			}
			records = append(records, rec)
		}
		return records
	}

	t := m.unitTeacher[u]
	var records []ConflictRecord
	for b, block := range m.blocks {
		if len(records) >= maxPerUnit {
			break
		}
		if ref := p.teacherAt[t*len(m.blocks)+b]; ref != 0 {
			occ := p.occupants[ref-1]
			if occ.UnitID == unit.ID && !occ.Fixed {
				continue
			}
		}

		var worst *Violation
		worstRoom := NoRoom
		feasible := false
		for _, r := range rooms {
			v := m.Check(Candidate{Unit: u, Room: r, Block: b}, p)
			if v == nil {
				feasible = true
				break
			}
			if worst == nil || reasonRank[v.Reason] < reasonRank[worst.Reason] {
				worst = v
				worstRoom = r
			}
		}
		if feasible || worst == nil {
			continue
		}

		key := block.Key()
		rec := base
		rec.Reason = worst.Reason
		rec.Resource = worst.Resource
		rec.ResourceID = worst.ResourceID
		rec.TimeBlock = &key
		rec.Competing = worst.Competing
		if worst.Reason == ReasonClassroomDoubleBook && worstRoom != NoRoom {
			rec.ClassroomID = m.rooms[worstRoom].ID
		}
		rec.Message = describe(m.periodID, unit, worst, key)
		records = append(records, rec)
	}

	if len(records) == 0 {
		rec := base
		rec.Reason = ReasonNoAvailableSlot
		rec.Resource = ResourceTime
		rec.Message = fmt.Sprintf("search budget ran out with %d of %d sessions placed for group %s", unresolved.Placed, unresolved.Required, unit.GroupCode)
		records = append(records, rec)
	}
	return records
}

func describe(periodID string, unit TeachingUnit, v *Violation, key BlockKey) string {
	switch v.Reason {
	case ReasonTeacherDoubleBook:
		if v.Competing != nil && v.Competing.Fixed && v.Competing.PeriodID != "" && v.Competing.PeriodID != periodID {
			return fmt.Sprintf("teacher %s is already committed at %s (period %s)", unit.TeacherID, key, v.Competing.PeriodID)
		}
		return fmt.Sprintf("teacher %s is already teaching at %s", unit.TeacherID, key)
	case ReasonClassroomDoubleBook:
		return fmt.Sprintf("classroom %s is already booked at %s", v.ResourceID, key)
	case ReasonNoAvailableSlot:
		return fmt.Sprintf("teacher %s is not available at %s", unit.TeacherID, key)
	default:
		return fmt.Sprintf("%s at %s", v.Reason, key)
	}
}
