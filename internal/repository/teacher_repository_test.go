package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTeacherRepoMock(t *testing.T) (*TeacherRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewTeacherRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func TestTeacherRepositoryListForScheduling(t *testing.T) {
	repo, mock, cleanup := newTeacherRepoMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "full_name", "active", "max_sessions_per_day", "subject_ids", "areas", "unavailable"}).
		AddRow("t1", "Ana Ruiz", true, 4, "{math,physics}", "{Sciences}", `[{"day_id":1,"slot_id":2}]`).
		AddRow("t2", "Luis Peña", false, 0, "{}", "{}", `[]`)
	mock.ExpectQuery("FROM teachers t\\s+WHERE t.id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	teachers, err := repo.ListForScheduling(context.Background(), []string{"t1", "t2"})
	require.NoError(t, err)
	require.Len(t, teachers, 2)
	assert.Equal(t, []string{"math", "physics"}, []string(teachers[0].SubjectIDs))
	assert.Equal(t, []string{"Sciences"}, []string(teachers[0].Areas))
	assert.Equal(t, 4, teachers[0].MaxSessionsPerDay)

	slots, err := teachers[0].UnavailableSlots()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 2, slots[0].SlotID)

	slots, err = teachers[1].UnavailableSlots()
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherRepositoryListForSchedulingEmpty(t *testing.T) {
	repo, mock, cleanup := newTeacherRepoMock(t)
	defer cleanup()

	teachers, err := repo.ListForScheduling(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, teachers)
	assert.NoError(t, mock.ExpectationsWereMet())
}
