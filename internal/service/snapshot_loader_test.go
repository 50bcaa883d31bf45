package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
)

type periodStub struct {
	period      *models.Period
	overlapping []string
	err         error
}

func (s *periodStub) FindByID(ctx context.Context, id string) (*models.Period, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.period, nil
}

func (s *periodStub) ListOverlappingIDs(ctx context.Context, period models.Period) ([]string, error) {
	return s.overlapping, nil
}

type groupStub struct{ groups []models.TeachingGroup }

func (s *groupStub) ListActiveByPeriod(ctx context.Context, periodID string) ([]models.TeachingGroup, error) {
	return s.groups, nil
}

type teacherStub struct {
	teachers  []models.Teacher
	requested []string
}

func (s *teacherStub) ListForScheduling(ctx context.Context, ids []string) ([]models.Teacher, error) {
	s.requested = ids
	return s.teachers, nil
}

type classroomStub struct{ rooms []models.Classroom }

func (s *classroomStub) ListActive(ctx context.Context) ([]models.Classroom, error) { return s.rooms, nil }

type blockStub struct{ blocks []models.TimeBlock }

func (s *blockStub) ListActive(ctx context.Context) ([]models.TimeBlock, error) { return s.blocks, nil }

type existingStub struct {
	rows      []models.ScheduleAssignment
	requested []string
}

func (s *existingStub) ListByPeriods(ctx context.Context, periodIDs []string) ([]models.ScheduleAssignment, error) {
	s.requested = periodIDs
	return s.rows, nil
}

type loaderFixture struct {
	loader   *SnapshotLoader
	periods  *periodStub
	groups   *groupStub
	teachers *teacherStub
	rooms    *classroomStub
	existing *existingStub
}

func newLoaderFixture() *loaderFixture {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	room := "r1"
	f := &loaderFixture{
		periods: &periodStub{
			period:      &models.Period{ID: "p1", StartDate: start, EndDate: start.AddDate(0, 4, 0)},
			overlapping: []string{"p0"},
		},
		groups: &groupStub{groups: []models.TeachingGroup{
			{ID: "g1", Code: "MAT-1", PeriodID: "p1", SubjectID: "math", TeacherID: "t1", WeeklySessions: 2, ExpectedEnrollment: 25, Modality: models.ModalityInPerson, SubjectArea: "science", SubjectDefaultType: "lecture"},
			{ID: "g2", Code: "LAB-1", PeriodID: "p1", SubjectID: "chem", TeacherID: "t2", WeeklySessions: 1, ExpectedEnrollment: 15, Modality: models.ModalityInPerson, SubjectArea: "science", SubjectDefaultType: "LAB"},
		}},
		teachers: &teacherStub{teachers: []models.Teacher{
			{ID: "t1", Active: true, SubjectIDs: pq.StringArray{"math"}, Unavailable: types.JSONText(`[{"day_id":1,"slot_id":2}]`)},
			{ID: "t2", Active: true, Areas: pq.StringArray{"Science"}, Unavailable: types.JSONText(`null`)},
		}},
		rooms: &classroomStub{rooms: []models.Classroom{
			{ID: "r1", Code: "A-101", Capacity: 30, Type: "LECTURE", Active: true},
			{ID: "r2", Code: "LAB-1", Capacity: 20, Type: "lab", Active: true},
		}},
		existing: &existingStub{rows: []models.ScheduleAssignment{
			{ID: "a-old", PeriodID: "p0", GroupID: "night", TeacherID: "t1", ClassroomID: &room, DayID: 1, SlotID: 1},
			{ID: "a-cur", PeriodID: "p1", GroupID: "g2", TeacherID: "t2", DayID: 2, SlotID: 1},
		}},
	}
	blocks := &blockStub{blocks: []models.TimeBlock{
		{DayID: 1, SlotID: 1, DayName: "Lunes", StartTime: "08:00", EndTime: "09:00"},
		{DayID: 1, SlotID: 2}, {DayID: 2, SlotID: 1}, {DayID: 2, SlotID: 2},
	}}
	f.loader = NewSnapshotLoader(f.periods, f.groups, f.teachers, f.rooms, blocks, f.existing, nil)
	return f
}

func TestSnapshotLoaderKeepsScheduledGroupsWithoutReplace(t *testing.T) {
	f := newLoaderFixture()

	loaded, err := f.loader.Load(context.Background(), "p1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p0"}, f.existing.requested)
	assert.Equal(t, []string{"g2"}, loaded.Kept)
	require.Len(t, loaded.Snapshot.Units, 1)
	unit := loaded.Snapshot.Units[0]
	assert.Equal(t, "g1", unit.ID)
	assert.Equal(t, scheduler.ClassroomLecture, unit.RequiredType)
	assert.Equal(t, []string{"t1"}, f.teachers.requested)

	require.Len(t, loaded.Snapshot.Fixed, 2)
	assert.Equal(t, "r1", loaded.Snapshot.Fixed[0].ClassroomID)
	assert.Equal(t, "", loaded.Snapshot.Fixed[1].ClassroomID)
	assert.Equal(t, []scheduler.BlockKey{{DayID: 1, SlotID: 2}}, loaded.Snapshot.Teachers[0].Unavailable)
	assert.Equal(t, scheduler.ClassroomLab, loaded.Snapshot.Classrooms[1].Type)
	assert.Equal(t, "Lunes 08:00-09:00", loaded.Snapshot.TimeBlocks[0].Label)
	assert.Empty(t, loaded.SessionOffset)
}

func TestSnapshotLoaderPlansMissingSessionsOfShortGroup(t *testing.T) {
	f := newLoaderFixture()
	f.existing.rows = append(f.existing.rows,
		models.ScheduleAssignment{ID: "a-g1", PeriodID: "p1", GroupID: "g1", TeacherID: "t1", DayID: 2, SlotID: 2, SessionIndex: 1},
	)

	loaded, err := f.loader.Load(context.Background(), "p1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"g2"}, loaded.Kept)
	require.Len(t, loaded.Snapshot.Units, 1)
	assert.Equal(t, "g1", loaded.Snapshot.Units[0].ID)
	assert.Equal(t, 1, loaded.Snapshot.Units[0].Sessions)
	assert.Equal(t, map[string]int{"g1": 1}, loaded.SessionOffset)
	assert.Len(t, loaded.Snapshot.Fixed, 3)

	m, err := scheduler.NewModel(loaded.Snapshot, scheduler.DefaultWeights)
	require.NoError(t, err)
	result, err := scheduler.Solve(context.Background(), m, scheduler.DefaultOptions)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusSolved, result.Status)
	require.Len(t, result.Assignments, 1)
	assert.NotEqual(t, scheduler.BlockKey{DayID: 2, SlotID: 2}, result.Assignments[0].Block)
}

func TestSnapshotLoaderKeepsGroupWithFullStoredLoad(t *testing.T) {
	f := newLoaderFixture()
	f.existing.rows = append(f.existing.rows,
		models.ScheduleAssignment{ID: "a-g1-1", PeriodID: "p1", GroupID: "g1", TeacherID: "t1", DayID: 1, SlotID: 1, SessionIndex: 1},
		models.ScheduleAssignment{ID: "a-g1-2", PeriodID: "p1", GroupID: "g1", TeacherID: "t1", DayID: 2, SlotID: 1, SessionIndex: 2},
	)

	loaded, err := f.loader.Load(context.Background(), "p1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"g1", "g2"}, loaded.Kept)
	assert.Empty(t, loaded.Snapshot.Units)
	assert.Nil(t, f.teachers.requested)
}

func TestSnapshotLoaderReplacePlansEveryGroup(t *testing.T) {
	f := newLoaderFixture()

	loaded, err := f.loader.Load(context.Background(), "p1", true)
	require.NoError(t, err)

	assert.Empty(t, loaded.Kept)
	assert.Len(t, loaded.Snapshot.Units, 2)
	require.Len(t, loaded.Snapshot.Fixed, 1)
	assert.Equal(t, "p0", loaded.Snapshot.Fixed[0].PeriodID)
	assert.ElementsMatch(t, []string{"t1", "t2"}, f.teachers.requested)
}

func TestSnapshotLoaderCollectsIntegrityIssues(t *testing.T) {
	f := newLoaderFixture()
	f.groups.groups = append(f.groups.groups,
		models.TeachingGroup{ID: "g3", Code: "HIS-1", SubjectID: "history", TeacherID: "t1", WeeklySessions: 0, SubjectDefaultType: "LECTURE"},
		models.TeachingGroup{ID: "g4", Code: "ART-1", SubjectID: "art", TeacherID: "ghost", WeeklySessions: 1, SubjectDefaultType: "STUDIO"},
	)

	_, err := f.loader.Load(context.Background(), "p1", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDataIntegrity))

	var integrity *models.DataIntegrityError
	require.True(t, errors.As(err, &integrity))
	units := map[string]int{}
	for _, issue := range integrity.Issues {
		units[issue.UnitID]++
	}
	assert.Equal(t, 2, units["g3"], "ineligible teacher and non-positive sessions")
	assert.Equal(t, 2, units["g4"], "unknown teacher and unknown classroom type")

	appErr := appErrors.FromError(err)
	assert.Equal(t, 422, appErr.Status)
	assert.NotNil(t, appErr.Details)
}

func TestSnapshotLoaderMalformedAvailabilityIsIntegrityIssue(t *testing.T) {
	f := newLoaderFixture()
	f.teachers.teachers[0].Unavailable = types.JSONText(`{"day":1}`)

	_, err := f.loader.Load(context.Background(), "p1", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDataIntegrity))

	var integrity *models.DataIntegrityError
	require.True(t, errors.As(err, &integrity))
	require.Len(t, integrity.Issues, 1)
	assert.Equal(t, "teachers", integrity.Issues[0].Field)
	assert.Contains(t, integrity.Issues[0].Message, "t1")
	for _, issue := range integrity.Issues {
		assert.NotContains(t, issue.Message, "does not exist")
	}
}

func TestSnapshotLoaderPeriodNotFound(t *testing.T) {
	f := newLoaderFixture()
	f.periods.err = sql.ErrNoRows

	_, err := f.loader.Load(context.Background(), "missing", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
