package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggysaving/internal/core"
)

func newMockRepository(t *testing.T) (*SQLiteRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return NewSQLiteRepositoryFromDB(db), mock
}

func TestFetchSavingsQueryFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT id, date, amount, confirmed FROM records").
		WillReturnError(errors.New("disk I/O error"))

	_, err := repo.FetchSavings(context.Background())

	var pe *core.PersistenceError
	require.True(t, errors.As(err, &pe), "got %T: %v", err, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestFetchSavingsCorruptRow(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT id, date, amount, confirmed FROM records").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date", "amount", "confirmed"}).
			AddRow("a", "06/01/2024", "1.00", int64(0)))

	_, err := repo.FetchSavings(context.Background())

	var pe *core.PersistenceError
	require.True(t, errors.As(err, &pe), "got %T: %v", err, err)
	assert.ErrorIs(t, err, core.ErrInvalidDate)
}

func TestFetchCostsQueryFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery("SELECT id, date, amount FROM records").
		WillReturnError(errors.New("database is locked"))

	_, err := repo.FetchCosts(context.Background())

	var pe *core.PersistenceError
	assert.True(t, errors.As(err, &pe), "got %T: %v", err, err)
}

func TestMarkConfirmedMissingRowRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, confirmed FROM records").
		WithArgs("2024-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "confirmed"}))
	mock.ExpectRollback()

	err := repo.MarkConfirmed(context.Background(), core.MustParseDate("2024-06-01"))
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestMarkConfirmedUpdateFailureRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, confirmed FROM records").
		WithArgs("2024-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "confirmed"}).AddRow("rec-1", int64(0)))
	mock.ExpectExec("UPDATE records SET confirmed").
		WithArgs("rec-1").
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := repo.MarkConfirmed(context.Background(), core.MustParseDate("2024-06-01"))

	var pe *core.PersistenceError
	assert.True(t, errors.As(err, &pe), "got %T: %v", err, err)
}

func TestMarkConfirmedAlreadyConfirmedSkipsUpdate(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, confirmed FROM records").
		WithArgs("2024-06-01").
		WillReturnRows(sqlmock.NewRows([]string{"id", "confirmed"}).AddRow("rec-1", int64(1)))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkConfirmed(context.Background(), core.MustParseDate("2024-06-01")))
}

func TestMarkConfirmedBeginFailure(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	err := repo.MarkConfirmed(context.Background(), core.MustParseDate("2024-06-01"))

	var pe *core.PersistenceError
	assert.True(t, errors.As(err, &pe), "got %T: %v", err, err)
}
