package scheduler

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

// expectValidSchedule asserts the hard invariants every solver output must satisfy.
func expectValidSchedule(g *WithT, snapshot Snapshot, result *Result, conflicts []ConflictRecord) {
	rooms := map[string]Classroom{}
	for _, r := range snapshot.Classrooms {
		rooms[r.ID] = r
	}
	units := map[string]TeachingUnit{}
	for _, u := range snapshot.Units {
		units[u.ID] = u
	}

	roomCells := map[string]string{}
	teacherCells := map[string]string{}
	placed := map[string]int{}
	for _, a := range result.Assignments {
		unit := units[a.UnitID]
		placed[a.UnitID]++
		g.Expect(a.PeriodID).To(Equal(snapshot.PeriodID))

		tk := a.TeacherID + "@" + a.Block.String()
		g.Expect(teacherCells).NotTo(HaveKey(tk), "teacher double booked at %s", a.Block)
		teacherCells[tk] = a.UnitID

		if a.ClassroomID == "" {
			g.Expect(unit.RequiredType).To(Equal(ClassroomVirtual))
			continue
		}
		rk := a.ClassroomID + "@" + a.Block.String()
		g.Expect(roomCells).NotTo(HaveKey(rk), "classroom double booked at %s", a.Block)
		roomCells[rk] = a.UnitID

		r := rooms[a.ClassroomID]
		g.Expect(r.Capacity).To(BeNumerically(">=", unit.Enrollment))
		g.Expect(unit.RequiredType.Accepts(r.Type)).To(BeTrue())
	}

	for _, f := range snapshot.Fixed {
		g.Expect(teacherCells).NotTo(HaveKey(f.TeacherID + "@" + f.Block.String()))
		g.Expect(roomCells).NotTo(HaveKey(f.ClassroomID + "@" + f.Block.String()))
	}

	conflicted := map[string]bool{}
	for _, c := range conflicts {
		conflicted[c.UnitID] = true
	}
	for _, u := range snapshot.Units {
		if placed[u.ID] != u.Sessions {
			g.Expect(conflicted).To(HaveKey(u.ID), "unit %s placed %d of %d without a conflict", u.ID, placed[u.ID], u.Sessions)
		}
		g.Expect(placed[u.ID]).To(BeNumerically("<=", u.Sessions))
	}
	if result.Status == StatusSolved {
		g.Expect(conflicts).To(BeEmpty())
	}
}

func solve(g *WithT, snapshot Snapshot) (*Result, []ConflictRecord) {
	m, err := NewModel(snapshot, DefaultWeights)
	g.Expect(err).NotTo(HaveOccurred())
	result, err := Solve(context.Background(), m, Options{MaxBacktracks: 5000, TimeBudget: time.Minute})
	g.Expect(err).NotTo(HaveOccurred())
	conflicts := Report(m, result, DefaultMaxConflictsPerUnit)
	expectValidSchedule(g, snapshot, result, conflicts)
	return result, conflicts
}

func TestSolveSingleUnitTwoSessions(t *testing.T) {
	g := NewWithT(t)
	result, conflicts := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math")},
		TimeBlocks: grid(2, 5),
		Units:      []TeachingUnit{lecture("u1", "t1", 2, 25)},
	})

	g.Expect(result.Status).To(Equal(StatusSolved))
	g.Expect(conflicts).To(BeEmpty())
	g.Expect(result.Assignments).To(HaveLen(2))
	first, second := result.Assignments[0], result.Assignments[1]
	g.Expect(first.Block).NotTo(Equal(second.Block))
	// sessions spread over distinct days
	g.Expect(first.Block.DayID).NotTo(Equal(second.Block.DayID))
	g.Expect(first.ClassroomID).To(Equal("r1"))
}

func TestSolveCompetingUnitsReportsDoubleBooking(t *testing.T) {
	g := NewWithT(t)
	result, conflicts := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math"), teacher("t2", "math")},
		TimeBlocks: grid(1, 1),
		Units:      []TeachingUnit{lecture("u1", "t1", 1, 20), lecture("u2", "t2", 1, 20)},
	})

	g.Expect(result.Status).To(Equal(StatusPartial))
	g.Expect(result.Assignments).To(HaveLen(1))
	g.Expect(result.Assignments[0].UnitID).To(Equal("u1"))
	g.Expect(result.Unresolved).To(ConsistOf(Unresolved{UnitID: "u2", Required: 1, Placed: 0}))

	g.Expect(conflicts).To(HaveLen(1))
	g.Expect(conflicts[0].UnitID).To(Equal("u2"))
	g.Expect(conflicts[0].Reason).To(BeElementOf(ReasonClassroomDoubleBook, ReasonNoAvailableSlot))
	g.Expect(conflicts[0].ClassroomID).To(Equal("r1"))
	g.Expect(conflicts[0].Competing).NotTo(BeNil())
	g.Expect(conflicts[0].Competing.UnitID).To(Equal("u1"))
}

func TestSolveCapacityShortfallReportsEveryClassroom(t *testing.T) {
	g := NewWithT(t)
	result, conflicts := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30), room("r2", ClassroomLecture, 25)},
		Teachers:   []Teacher{teacher("t1", "math")},
		TimeBlocks: grid(2, 3),
		Units:      []TeachingUnit{lecture("u1", "t1", 2, 40)},
	})

	g.Expect(result.Status).To(Equal(StatusPartial))
	g.Expect(result.Assignments).To(BeEmpty())
	g.Expect(result.Unresolved).To(HaveLen(1))
	g.Expect(result.Unresolved[0].Excluded).To(BeTrue())
	g.Expect(conflicts).To(HaveLen(2))
	for _, c := range conflicts {
		g.Expect(c.Reason).To(Equal(ReasonCapacity))
		g.Expect(c.Resource).To(Equal(ResourceClassroom))
	}
	g.Expect([]string{conflicts[0].ClassroomID, conflicts[1].ClassroomID}).To(ConsistOf("r1", "r2"))
}

func TestSolveRespectsFixedCommitments(t *testing.T) {
	g := NewWithT(t)
	result, _ := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30), room("r2", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math"), teacher("t2", "math")},
		TimeBlocks: grid(1, 4),
		Units:      []TeachingUnit{lecture("u1", "t1", 2, 20), lecture("u2", "t2", 3, 20)},
		Fixed: []FixedAssignment{
			{ID: "f1", PeriodID: "p0", UnitID: "x", TeacherID: "t1", ClassroomID: "r9", Block: BlockKey{DayID: 1, SlotID: 1}},
			{ID: "f2", PeriodID: "p0", UnitID: "y", TeacherID: "t9", ClassroomID: "r2", Block: BlockKey{DayID: 1, SlotID: 2}},
		},
	})

	g.Expect(result.Status).To(Equal(StatusSolved))
	g.Expect(result.Assignments).To(HaveLen(5))
}

func TestSolveCompletesUnitAroundStoredSession(t *testing.T) {
	g := NewWithT(t)
	stored := BlockKey{DayID: 1, SlotID: 1}
	result, conflicts := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math")},
		TimeBlocks: grid(2, 3),
		Units:      []TeachingUnit{lecture("u1", "t1", 1, 20)},
		Fixed: []FixedAssignment{
			{ID: "a1", PeriodID: "p1", UnitID: "u1", TeacherID: "t1", ClassroomID: "r1", Block: stored},
		},
	})

	g.Expect(result.Status).To(Equal(StatusSolved))
	g.Expect(conflicts).To(BeEmpty())
	g.Expect(result.Assignments).To(HaveLen(1))
	g.Expect(result.Assignments[0].Block).NotTo(Equal(stored))
	g.Expect(result.Assignments[0].Block.DayID).To(Equal(2))
}

func TestSolveDailyCapSpreadsSessions(t *testing.T) {
	g := NewWithT(t)
	tutor := teacher("t1", "math")
	tutor.MaxSessionsPerDay = 1
	result, _ := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   []Teacher{tutor},
		TimeBlocks: grid(3, 4),
		Units:      []TeachingUnit{lecture("u1", "t1", 2, 20), lecture("u2", "t1", 1, 20)},
	})

	g.Expect(result.Status).To(Equal(StatusSolved))
	days := map[int]int{}
	for _, a := range result.Assignments {
		days[a.Block.DayID]++
	}
	g.Expect(days).To(HaveLen(3))
}

func TestSolveVirtualUnitWithoutVirtualClassroom(t *testing.T) {
	g := NewWithT(t)
	online := lecture("u1", "t1", 2, 200)
	online.RequiredType = ClassroomVirtual
	result, _ := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math")},
		TimeBlocks: grid(1, 3),
		Units:      []TeachingUnit{online},
	})

	g.Expect(result.Status).To(Equal(StatusSolved))
	for _, a := range result.Assignments {
		g.Expect(a.ClassroomID).To(BeEmpty())
	}
}

func mixedSnapshot() Snapshot {
	workshop := lecture("u07", "t4", 2, 20)
	workshop.RequiredType = ClassroomWorkshop
	labA := lecture("u03", "t2", 2, 24)
	labA.RequiredType = ClassroomLab
	labB := lecture("u06", "t3", 1, 18)
	labB.RequiredType = ClassroomLab
	online := lecture("u08", "t1", 1, 120)
	online.RequiredType = ClassroomVirtual
	busy := teacher("t4", "math")
	busy.Unavailable = []BlockKey{{DayID: 1, SlotID: 1}, {DayID: 1, SlotID: 2}, {DayID: 2, SlotID: 1}}

	return Snapshot{
		PeriodID: "p1",
		Classrooms: []Classroom{
			room("a-101", ClassroomLecture, 30),
			room("a-102", ClassroomLecture, 45),
			room("lab-1", ClassroomLab, 25),
			room("aud-1", ClassroomAuditorium, 100),
			room("virt", ClassroomVirtual, 500),
		},
		Teachers:   []Teacher{teacher("t1", "math"), teacher("t2", "math"), teacher("t3", "math"), busy},
		TimeBlocks: grid(3, 4),
		Units: []TeachingUnit{
			lecture("u01", "t1", 3, 28),
			lecture("u02", "t1", 2, 44),
			labA,
			lecture("u04", "t2", 3, 90),
			lecture("u05", "t3", 2, 30),
			labB,
			workshop,
			online,
		},
	}
}

func TestSolveMixedCatalogProperties(t *testing.T) {
	g := NewWithT(t)
	result, conflicts := solve(g, mixedSnapshot())

	g.Expect(result.Status).To(Equal(StatusSolved))
	g.Expect(conflicts).To(BeEmpty())
	g.Expect(result.Assignments).To(HaveLen(16))
}

func TestSolveOversubscribedProperties(t *testing.T) {
	g := NewWithT(t)
	result, conflicts := solve(g, Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math"), teacher("t2", "math"), teacher("t3", "math")},
		TimeBlocks: grid(1, 3),
		Units:      []TeachingUnit{lecture("u1", "t1", 2, 20), lecture("u2", "t2", 2, 20), lecture("u3", "t3", 2, 20)},
	})

	g.Expect(result.Status).To(Equal(StatusPartial))
	g.Expect(result.Assignments).To(HaveLen(3))
	g.Expect(conflicts).NotTo(BeEmpty())
}

func TestSolveIsDeterministic(t *testing.T) {
	g := NewWithT(t)
	first, firstConflicts := solve(g, mixedSnapshot())
	second, secondConflicts := solve(g, mixedSnapshot())

	g.Expect(second.Assignments).To(Equal(first.Assignments))
	g.Expect(secondConflicts).To(Equal(firstConflicts))
}

func TestSolveHonoursCancellation(t *testing.T) {
	g := NewWithT(t)
	m := mustModel(mixedSnapshot())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Solve(ctx, m, DefaultOptions)
	g.Expect(err).To(MatchError(context.Canceled))
	g.Expect(result).To(BeNil())
}

func TestSolveStopsAtBacktrackBudget(t *testing.T) {
	g := NewWithT(t)
	units := make([]TeachingUnit, 0, 6)
	teachers := make([]Teacher, 0, 6)
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		teachers = append(teachers, teacher("t"+id, "math"))
		units = append(units, lecture("u"+id, "t"+id, 2, 20))
	}
	m := mustModel(Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomLecture, 30)},
		Teachers:   teachers,
		TimeBlocks: grid(1, 5),
		Units:      units,
	})

	result, err := Solve(context.Background(), m, Options{MaxBacktracks: 1, TimeBudget: time.Minute})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.Stats.BudgetExhausted).To(BeTrue())
	g.Expect(result.Stats.Backtracks).To(BeNumerically("<=", 1))
	g.Expect(result.Status).To(Equal(StatusPartial))
	g.Expect(Report(m, result, 3)).NotTo(BeEmpty())
}

func TestRematchRoomsFreesCompatibleClassroom(t *testing.T) {
	g := NewWithT(t)
	hall := lecture("u2", "t2", 1, 20)
	hall.RequiredType = ClassroomAuditorium
	m := mustModel(Snapshot{
		PeriodID:   "p1",
		Classrooms: []Classroom{room("r1", ClassroomAuditorium, 60), room("r2", ClassroomLecture, 30)},
		Teachers:   []Teacher{teacher("t1", "math"), teacher("t2", "math")},
		TimeBlocks: grid(1, 1),
		Units:      []TeachingUnit{lecture("u1", "t1", 1, 20), hall},
	})
	p := m.NewPartial()
	p.Place(Candidate{Unit: 0, Room: 0, Block: 0})
	g.Expect(m.IsHardFeasible(Candidate{Unit: 1, Room: 0, Block: 0}, p)).To(BeFalse())

	g.Expect(rematchRooms(m, p, 1)).To(BeTrue())
	got := p.Assignments()
	g.Expect(got).To(HaveLen(2))
	g.Expect(got[0].UnitID).To(Equal("u1"))
	g.Expect(got[0].ClassroomID).To(Equal("r2"))
	g.Expect(got[1].ClassroomID).To(Equal("r1"))
}
