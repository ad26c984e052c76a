package verification

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return db, mock, func() { db.Close() }
}

func requestRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "student_name", "class_id", "captured_image",
		"lat", "lon", "submitted_at", "status", "decided_by", "decided_at",
	})
}

func TestEnqueueAssignsIDAndPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRepository(db)

	mock.ExpectExec("INSERT INTO verification_requests").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req, err := repo.Enqueue(context.Background(), Request{StudentID: "s1", ClassID: "c1"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.NotZero(t, req.SubmittedAt)
	assert.Equal(t, StatusPending, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRepository(db)

	mock.ExpectQuery("SELECT .* FROM verification_requests WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionUsesCompareAndSet(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("status = 'pending'")).
		WithArgs("a", "approved", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .* FROM verification_requests WHERE id").
		WithArgs("a").
		WillReturnRows(requestRows().
			AddRow("a", "s1", "Arpita Yadav", "c1", "img", 28.6542, 77.2373, int64(1700000000000), "approved", "t1", nil))

	req, err := repo.Transition(context.Background(), "a", StatusApproved, "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionLostRaceIsInvalidTransition(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("status = 'pending'")).
		WithArgs("a", "rejected", "t2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM verification_requests WHERE id").
		WithArgs("a").
		WillReturnRows(requestRows().
			AddRow("a", "s1", "Arpita Yadav", "c1", "img", 28.6542, 77.2373, int64(1700000000000), "approved", "t1", nil))

	_, err := repo.Transition(context.Background(), "a", StatusRejected, "t2")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionMissingRowIsNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("status = 'pending'")).
		WithArgs("ghost", "approved", "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM verification_requests WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Transition(context.Background(), "ghost", StatusApproved, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFiltersByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRepository(db)

	mock.ExpectQuery("SELECT .* FROM verification_requests WHERE status .* ORDER BY submitted_at ASC").
		WithArgs("pending").
		WillReturnRows(requestRows().
			AddRow("a", "s1", "Arpita Yadav", "c1", "img", 28.6542, 77.2373, int64(1700000000000), "pending", nil, nil).
			AddRow("b", "s2", "Md Kaif", "c1", "img", 28.6542, 77.2373, int64(1700000001000), "pending", nil, nil))

	out, err := repo.List(context.Background(), StatusPending)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, StatusPending, out[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
