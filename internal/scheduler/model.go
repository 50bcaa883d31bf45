package scheduler

import (
	"sort"

	"github.com/samber/lo"
)

// Reason is the conflict taxonomy shared with API consumers.
type Reason string

const (
	ReasonCapacity            Reason = "CAPACITY"
	ReasonTypeMismatch        Reason = "TYPE_MISMATCH"
	ReasonTeacherDoubleBook   Reason = "TEACHER_DOUBLE_BOOK"
	ReasonClassroomDoubleBook Reason = "CLASSROOM_DOUBLE_BOOK"
	ReasonNoAvailableSlot     Reason = "NO_AVAILABLE_SLOT"
)

// Resource names what blocked a candidate.
type Resource string

const (
	ResourceTeacher   Resource = "teacher"
	ResourceClassroom Resource = "classroom"
	ResourceTime      Resource = "time"
)

// NoRoom marks a virtual session placed without a classroom.
const NoRoom = -1

// Weights tune the soft cost. They only order candidates.
type Weights struct {
	Spread int
	Gap    int
	Fit    int
}

// DefaultWeights favours spreading a unit across days, then compact teacher days, then tight rooms.
var DefaultWeights = Weights{Spread: 100, Gap: 10, Fit: 1}

// Candidate is a (unit, classroom, time block) triple expressed as model indices.
type Candidate struct {
	Unit  int
	Room  int
	Block int
}

// Occupant is anything holding a teacher or classroom at a time block.
type Occupant struct {
	AssignmentID string   `json:"assignment_id,omitempty"`
	UnitID       string   `json:"unit"`
	TeacherID    string   `json:"teacher_id,omitempty"`
	ClassroomID  string   `json:"classroom_id,omitempty"`
	PeriodID     string   `json:"period_id,omitempty"`
	Block        BlockKey `json:"time_block"`
	Session      int      `json:"session,omitempty"`
	Fixed        bool     `json:"fixed"`
}

// Violation explains why a candidate is not hard-feasible.
type Violation struct {
	Reason     Reason
	Resource   Resource
	ResourceID string
	Competing  *Occupant
}

// Model is the compiled, index-based view of a snapshot used by the solver.
type Model struct {
	periodID string
	weights  Weights

	units    []TeachingUnit
	rooms    []Classroom
	blocks   []TimeBlock
	teachers []Teacher
	fixed    []FixedAssignment

	unitTeacher  []int
	unitIndex    map[string]int
	roomIndex    map[string]int
	teacherIndex map[string]int
	blockIndex   map[BlockKey]int

	days      []int
	blockDay  []int
	blockPos  []int
	dayBlocks [][]int

	unavailable []bool
	roomless    bool
}

// NewModel validates the snapshot and compiles it. Catalogs are sorted by stable keys so that
// every downstream ordering is reproducible.
func NewModel(snapshot Snapshot, weights Weights) (*Model, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		periodID: snapshot.PeriodID,
		weights:  weights,
		units:    append([]TeachingUnit(nil), snapshot.Units...),
		rooms:    lo.Filter(snapshot.Classrooms, func(room Classroom, _ int) bool { return room.Active }),
		blocks:   append([]TimeBlock(nil), snapshot.TimeBlocks...),
		teachers: append([]Teacher(nil), snapshot.Teachers...),
		fixed:    append([]FixedAssignment(nil), snapshot.Fixed...),
	}
	sort.Slice(m.units, func(i, j int) bool { return m.units[i].ID < m.units[j].ID })
	sort.Slice(m.rooms, func(i, j int) bool { return m.rooms[i].ID < m.rooms[j].ID })
	sort.Slice(m.teachers, func(i, j int) bool { return m.teachers[i].ID < m.teachers[j].ID })
	sort.Slice(m.blocks, func(i, j int) bool {
		if m.blocks[i].DayID == m.blocks[j].DayID {
			return m.blocks[i].SlotID < m.blocks[j].SlotID
		}
		return m.blocks[i].DayID < m.blocks[j].DayID
	})

	m.unitIndex = indexBy(m.units, func(u TeachingUnit) string { return u.ID })
	m.roomIndex = indexBy(m.rooms, func(r Classroom) string { return r.ID })
	m.teacherIndex = indexBy(m.teachers, func(t Teacher) string { return t.ID })
	m.blockIndex = indexBy(m.blocks, func(b TimeBlock) BlockKey { return b.Key() })

	m.unitTeacher = lo.Map(m.units, func(u TeachingUnit, _ int) int { return m.teacherIndex[u.TeacherID] })

	m.blockDay = make([]int, len(m.blocks))
	m.blockPos = make([]int, len(m.blocks))
	for b, block := range m.blocks {
		if len(m.days) == 0 || m.days[len(m.days)-1] != block.DayID {
			m.days = append(m.days, block.DayID)
			m.dayBlocks = append(m.dayBlocks, nil)
		}
		d := len(m.days) - 1
		m.blockDay[b] = d
		m.blockPos[b] = len(m.dayBlocks[d])
		m.dayBlocks[d] = append(m.dayBlocks[d], b)
	}

	m.unavailable = make([]bool, len(m.teachers)*len(m.blocks))
	for t, teacher := range m.teachers {
		for _, key := range teacher.Unavailable {
			if b, ok := m.blockIndex[key]; ok {
				m.unavailable[t*len(m.blocks)+b] = true
			}
		}
	}

	m.roomless = !lo.ContainsBy(m.rooms, func(room Classroom) bool { return room.Type == ClassroomVirtual })
	return m, nil
}

func indexBy[T any, K comparable](items []T, key func(T) K) map[K]int {
	result := make(map[K]int, len(items))
	for i, item := range items {
		result[key(item)] = i
	}
	return result
}

// PeriodID returns the period the model was compiled for.
func (m *Model) PeriodID() string { return m.periodID }

// Units returns the sorted teaching units.
func (m *Model) Units() []TeachingUnit { return m.units }

// RequiredSessions sums the sessions the run must place.
func (m *Model) RequiredSessions() int {
	return lo.SumBy(m.units, func(u TeachingUnit) int { return u.Sessions })
}

// CandidateRooms lists the room indices a unit may try, including NoRoom for virtual units
// when the catalog has no virtual classroom.
func (m *Model) CandidateRooms(unit int) []int {
	if m.units[unit].RequiredType == ClassroomVirtual && m.roomless {
		return []int{NoRoom}
	}
	rooms := make([]int, len(m.rooms))
	for i := range m.rooms {
		rooms[i] = i
	}
	return rooms
}

// StaticCheck evaluates the time-independent constraints of a unit/room pair.
func (m *Model) StaticCheck(unit, room int) *Violation {
	if room == NoRoom {
		if m.units[unit].RequiredType == ClassroomVirtual && m.roomless {
			return nil
		}
		return &Violation{Reason: ReasonTypeMismatch, Resource: ResourceClassroom}
	}
	u := m.units[unit]
	r := m.rooms[room]
	if !u.RequiredType.Accepts(r.Type) {
		return &Violation{Reason: ReasonTypeMismatch, Resource: ResourceClassroom, ResourceID: r.ID}
	}
	if r.Capacity < u.Enrollment {
		return &Violation{Reason: ReasonCapacity, Resource: ResourceClassroom, ResourceID: r.ID}
	}
	return nil
}

// Check returns the first hard constraint the candidate violates against the partial
// solution, or nil when the candidate is hard-feasible.
func (m *Model) Check(c Candidate, p *Partial) *Violation {
	if v := m.StaticCheck(c.Unit, c.Room); v != nil {
		return v
	}
	t := m.unitTeacher[c.Unit]
	teacherID := m.teachers[t].ID
	if m.unavailable[t*len(m.blocks)+c.Block] {
		return &Violation{Reason: ReasonNoAvailableSlot, Resource: ResourceTeacher, ResourceID: teacherID}
	}
	if occ := p.teacherAt[t*len(m.blocks)+c.Block]; occ != 0 {
		competing := p.occupants[occ-1]
		return &Violation{Reason: ReasonTeacherDoubleBook, Resource: ResourceTeacher, ResourceID: teacherID, Competing: &competing}
	}
	if c.Room != NoRoom {
		if occ := p.roomAt[c.Room*len(m.blocks)+c.Block]; occ != 0 {
			competing := p.occupants[occ-1]
			return &Violation{Reason: ReasonClassroomDoubleBook, Resource: ResourceClassroom, ResourceID: m.rooms[c.Room].ID, Competing: &competing}
		}
	}
	if limit := m.teachers[t].MaxSessionsPerDay; limit > 0 && p.teacherDay[t*len(m.days)+m.blockDay[c.Block]] >= limit {
		return &Violation{Reason: ReasonNoAvailableSlot, Resource: ResourceTeacher, ResourceID: teacherID}
	}
	return nil
}

// IsHardFeasible reports whether the candidate can be placed on top of the partial solution.
func (m *Model) IsHardFeasible(c Candidate, p *Partial) bool {
	return m.Check(c, p) == nil
}

// SoftCost ranks feasible candidates; lower is preferred.
func (m *Model) SoftCost(c Candidate, p *Partial) int {
	d := m.blockDay[c.Block]
	cost := m.weights.Spread * p.unitDay[c.Unit*len(m.days)+d]

	t := m.unitTeacher[c.Unit]
	pos := m.blockPos[c.Block]
	gap := -1
	for _, b := range m.dayBlocks[d] {
		if p.teacherAt[t*len(m.blocks)+b] == 0 {
			continue
		}
		dist := m.blockPos[b] - pos
		if dist < 0 {
			dist = -dist
		}
		if gap < 0 || dist-1 < gap {
			gap = dist - 1
		}
	}
	if gap > 0 {
		cost += m.weights.Gap * gap
	}

	if c.Room != NoRoom {
		if waste := m.rooms[c.Room].Capacity - m.units[c.Unit].Enrollment; waste > 0 {
			cost += m.weights.Fit * waste
		}
	}
	return cost
}

// Assignment is a placed session of a teaching unit.
type Assignment struct {
	PeriodID    string
	UnitID      string
	SubjectID   string
	TeacherID   string
	ClassroomID string
	Block       BlockKey
	Session     int
}

// Partial is the occupancy index of a (possibly incomplete) solution, seeded with fixed
// assignments.
type Partial struct {
	model      *Model
	occupants  []Occupant
	roomAt     []int
	teacherAt  []int
	teacherDay []int
	unitDay    []int
	unitPlaced []int
	placed     []placement
}

type placement struct {
	candidate Candidate
	occupant  int
}

// NewPartial returns an empty solution carrying the model's fixed assignments.
func (m *Model) NewPartial() *Partial {
	p := &Partial{
		model:      m,
		roomAt:     make([]int, len(m.rooms)*len(m.blocks)),
		teacherAt:  make([]int, len(m.teachers)*len(m.blocks)),
		teacherDay: make([]int, len(m.teachers)*len(m.days)),
		unitDay:    make([]int, len(m.units)*len(m.days)),
		unitPlaced: make([]int, len(m.units)),
	}
	for _, f := range m.fixed {
		b, ok := m.blockIndex[f.Block]
		if !ok {
			continue
		}
		p.occupants = append(p.occupants, Occupant{
			AssignmentID: f.ID,
			UnitID:       f.UnitID,
			TeacherID:    f.TeacherID,
			ClassroomID:  f.ClassroomID,
			PeriodID:     f.PeriodID,
			Block:        f.Block,
			Fixed:        true,
		})
		ref := len(p.occupants)
		if r, ok := m.roomIndex[f.ClassroomID]; ok && p.roomAt[r*len(m.blocks)+b] == 0 {
			p.roomAt[r*len(m.blocks)+b] = ref
		}
		if t, ok := m.teacherIndex[f.TeacherID]; ok && p.teacherAt[t*len(m.blocks)+b] == 0 {
			p.teacherAt[t*len(m.blocks)+b] = ref
			p.teacherDay[t*len(m.days)+m.blockDay[b]]++
		}
		// stored sessions of a unit being completed count toward its daily spread
		if u, ok := m.unitIndex[f.UnitID]; ok && f.PeriodID == m.periodID {
			p.unitDay[u*len(m.days)+m.blockDay[b]]++
		}
	}
	return p
}

// Place records a session. The caller is responsible for feasibility.
func (p *Partial) Place(c Candidate) {
	m := p.model
	unit := m.units[c.Unit]
	t := m.unitTeacher[c.Unit]
	p.unitPlaced[c.Unit]++
	occ := Occupant{
		UnitID:    unit.ID,
		TeacherID: unit.TeacherID,
		PeriodID:  m.periodID,
		Block:     m.blocks[c.Block].Key(),
		Session:   p.unitPlaced[c.Unit],
	}
	if c.Room != NoRoom {
		occ.ClassroomID = m.rooms[c.Room].ID
	}
	p.occupants = append(p.occupants, occ)
	ref := len(p.occupants)
	if c.Room != NoRoom {
		p.roomAt[c.Room*len(m.blocks)+c.Block] = ref
	}
	p.teacherAt[t*len(m.blocks)+c.Block] = ref
	p.teacherDay[t*len(m.days)+m.blockDay[c.Block]]++
	p.unitDay[c.Unit*len(m.days)+m.blockDay[c.Block]]++
	p.placed = append(p.placed, placement{candidate: c, occupant: ref - 1})
}

// Undo removes the most recent placement.
func (p *Partial) Undo() {
	if len(p.placed) == 0 {
		return
	}
	m := p.model
	last := p.placed[len(p.placed)-1]
	p.placed = p.placed[:len(p.placed)-1]
	c := last.candidate
	t := m.unitTeacher[c.Unit]
	if c.Room != NoRoom {
		p.roomAt[c.Room*len(m.blocks)+c.Block] = 0
	}
	p.teacherAt[t*len(m.blocks)+c.Block] = 0
	p.teacherDay[t*len(m.days)+m.blockDay[c.Block]]--
	p.unitDay[c.Unit*len(m.days)+m.blockDay[c.Block]]--
	p.unitPlaced[c.Unit]--
	p.occupants = p.occupants[:last.occupant]
}

// Placed returns how many sessions the solver has placed.
func (p *Partial) Placed() int { return len(p.placed) }

// PlacedFor returns the placed session count of a unit.
func (p *Partial) PlacedFor(unit int) int { return p.unitPlaced[unit] }

// Candidates returns the placement history in order.
func (p *Partial) Candidates() []Candidate {
	return lo.Map(p.placed, func(pl placement, _ int) Candidate { return pl.candidate })
}

// Assignments converts the placements into assignments sorted by unit, day and slot.
func (p *Partial) Assignments() []Assignment {
	m := p.model
	result := make([]Assignment, 0, len(p.placed))
	for _, pl := range p.placed {
		occ := p.occupants[pl.occupant]
		unit := m.units[pl.candidate.Unit]
		result = append(result, Assignment{
			PeriodID:    m.periodID,
			UnitID:      unit.ID,
			SubjectID:   unit.SubjectID,
			TeacherID:   unit.TeacherID,
			ClassroomID: occ.ClassroomID,
			Block:       occ.Block,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.UnitID != b.UnitID {
			return a.UnitID < b.UnitID
		}
		if a.Block.DayID != b.Block.DayID {
			return a.Block.DayID < b.Block.DayID
		}
		return a.Block.SlotID < b.Block.SlotID
	})
	sessions := make(map[string]int)
	for i := range result {
		sessions[result[i].UnitID]++
		result[i].Session = sessions[result[i].UnitID]
	}
	return result
}
