package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/horario-api/internal/models"
	"github.com/noah-isme/horario-api/internal/scheduler"
	appErrors "github.com/noah-isme/horario-api/pkg/errors"
)

type periodReader interface {
	FindByID(ctx context.Context, id string) (*models.Period, error)
	ListOverlappingIDs(ctx context.Context, period models.Period) ([]string, error)
}

type teachingGroupReader interface {
	ListActiveByPeriod(ctx context.Context, periodID string) ([]models.TeachingGroup, error)
}

type teacherEligibilityReader interface {
	ListForScheduling(ctx context.Context, ids []string) ([]models.Teacher, error)
}

type classroomReader interface {
	ListActive(ctx context.Context) ([]models.Classroom, error)
}

type timeBlockReader interface {
	ListActive(ctx context.Context) ([]models.TimeBlock, error)
}

type existingAssignmentReader interface {
	ListByPeriods(ctx context.Context, periodIDs []string) ([]models.ScheduleAssignment, error)
}

// LoadedSnapshot is a scheduler snapshot together with the rows it was built from.
type LoadedSnapshot struct {
	Period   models.Period
	Snapshot scheduler.Snapshot
	// Kept lists groups whose stored sessions already cover their weekly load.
	Kept []string
	// SessionOffset holds the highest stored session index of each group that is
	// only partially scheduled; new sessions are numbered after it.
	SessionOffset map[string]int
}

// SnapshotLoader reads the catalog of one period into an immutable scheduler snapshot.
type SnapshotLoader struct {
	periods     periodReader
	groups      teachingGroupReader
	teachers    teacherEligibilityReader
	classrooms  classroomReader
	blocks      timeBlockReader
	assignments existingAssignmentReader
	logger      *zap.Logger
}

// NewSnapshotLoader wires the catalog readers.
func NewSnapshotLoader(
	periods periodReader,
	groups teachingGroupReader,
	teachers teacherEligibilityReader,
	classrooms classroomReader,
	blocks timeBlockReader,
	assignments existingAssignmentReader,
	logger *zap.Logger,
) *SnapshotLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotLoader{
		periods:     periods,
		groups:      groups,
		teachers:    teachers,
		classrooms:  classrooms,
		blocks:      blocks,
		assignments: assignments,
		logger:      logger,
	}
}

// Load builds the snapshot of periodID. With replace unset, stored sessions of the period
// stay as fixed occupancy: a group whose stored sessions cover its weekly load is kept,
// and a group left short is planned for its missing sessions only.
func (l *SnapshotLoader) Load(ctx context.Context, periodID string, replace bool) (*LoadedSnapshot, error) {
	period, err := l.periods.FindByID(ctx, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	groups, err := l.groups.ListActiveByPeriod(ctx, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teaching groups")
	}

	overlapping, err := l.periods.ListOverlappingIDs(ctx, *period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load overlapping periods")
	}
	existing, err := l.assignments.ListByPeriods(ctx, append([]string{periodID}, overlapping...))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing assignments")
	}

	stored := map[string]int{}
	lastSession := map[string]int{}
	fixed := make([]scheduler.FixedAssignment, 0, len(existing))
	for _, a := range existing {
		if a.PeriodID == periodID {
			if replace {
				continue
			}
			stored[a.GroupID]++
			lastSession[a.GroupID] = max(lastSession[a.GroupID], a.SessionIndex)
		}
		fixed = append(fixed, scheduler.FixedAssignment{
			ID:          a.ID,
			PeriodID:    a.PeriodID,
			UnitID:      a.GroupID,
			TeacherID:   a.TeacherID,
			ClassroomID: lo.FromPtr(a.ClassroomID),
			Block:       scheduler.BlockKey{DayID: a.DayID, SlotID: a.SlotID},
		})
	}

	var kept []string
	offsets := map[string]int{}
	units := make([]scheduler.TeachingUnit, 0, len(groups))
	for _, g := range groups {
		n := stored[g.ID]
		if n > 0 && n >= g.WeeklySessions {
			kept = append(kept, g.ID)
			continue
		}
		unit := toTeachingUnit(g)
		if n > 0 {
			unit.Sessions -= n
			offsets[g.ID] = lastSession[g.ID]
		}
		units = append(units, unit)
	}
	teacherIDs := lo.Uniq(lo.Map(units, func(u scheduler.TeachingUnit, _ int) string { return u.TeacherID }))

	var teacherRows []models.Teacher
	if len(teacherIDs) > 0 {
		teacherRows, err = l.teachers.ListForScheduling(ctx, teacherIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teachers")
		}
	}
	rooms, err := l.classrooms.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classrooms")
	}
	blocks, err := l.blocks.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time blocks")
	}

	var issues []scheduler.IntegrityIssue
	teachers := make([]scheduler.Teacher, 0, len(teacherRows))
	for _, row := range teacherRows {
		slots, err := row.UnavailableSlots()
		if err != nil {
			issues = append(issues, scheduler.IntegrityIssue{Field: "teachers", Message: err.Error()})
		}
		teachers = append(teachers, scheduler.Teacher{
			ID:                row.ID,
			Name:              row.FullName,
			Active:            row.Active,
			SubjectIDs:        row.SubjectIDs,
			Areas:             row.Areas,
			MaxSessionsPerDay: row.MaxSessionsPerDay,
			Unavailable: lo.Map(slots, func(s models.TeacherUnavailableSlot, _ int) scheduler.BlockKey {
				return scheduler.BlockKey{DayID: s.DayID, SlotID: s.SlotID}
			}),
		})
	}

	snap := scheduler.Snapshot{
		PeriodID: periodID,
		Units:    units,
		Classrooms: lo.Map(rooms, func(r models.Classroom, _ int) scheduler.Classroom {
			kind, _ := scheduler.ParseClassroomType(r.Type)
			return scheduler.Classroom{ID: r.ID, Code: r.Code, Capacity: r.Capacity, Type: kind, Active: r.Active}
		}),
		Teachers: teachers,
		TimeBlocks: lo.Map(blocks, func(b models.TimeBlock, _ int) scheduler.TimeBlock {
			return scheduler.TimeBlock{DayID: b.DayID, SlotID: b.SlotID, Label: fmt.Sprintf("%s %s-%s", b.DayName, b.StartTime, b.EndTime)}
		}),
		Fixed: fixed,
	}

	if err := snap.Validate(); err != nil {
		var integrity *scheduler.DataIntegrityError
		if errors.As(err, &integrity) {
			issues = append(issues, integrity.Issues...)
		} else {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate snapshot")
		}
	}
	if len(issues) > 0 {
		integrity := &models.DataIntegrityError{Issues: issues}
		appErr := appErrors.WrapAs(integrity, appErrors.ErrDataIntegrity, "")
		appErr.Details = issues
		return nil, appErr
	}

	sort.Strings(kept)
	l.logger.Debug("snapshot loaded",
		zap.String("period_id", periodID),
		zap.Int("units", len(snap.Units)),
		zap.Int("kept_groups", len(kept)),
		zap.Int("completing_groups", len(offsets)),
		zap.Int("fixed", len(fixed)),
		zap.Int("overlapping_periods", len(overlapping)),
	)

	return &LoadedSnapshot{
		Period:        *period,
		Snapshot:      snap,
		Kept:          kept,
		SessionOffset: offsets,
	}, nil
}

func toTeachingUnit(g models.TeachingGroup) scheduler.TeachingUnit {
	kind, _ := scheduler.ParseClassroomType(g.RequiredClassroomType())
	return scheduler.TeachingUnit{
		ID:           g.ID,
		GroupCode:    g.Code,
		SubjectID:    g.SubjectID,
		SubjectArea:  g.SubjectArea,
		TeacherID:    g.TeacherID,
		Sessions:     g.WeeklySessions,
		Enrollment:   g.ExpectedEnrollment,
		RequiredType: kind,
	}
}
