package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/pkg/store"
)

func newMock(t *testing.T) (*RecordRepository, sqlmock.Sqlmock, *TransactionManager) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := NewRecordRepository(db, database.MySQL, "events", []string{"id", "title"})
	return repo, mock, NewTransactionManager(db)
}

func TestRecordRepositoryFind(t *testing.T) {
	repo, mock, _ := newMock(t)

	query := "SELECT `id`, `title` FROM `events` WHERE is_deleted = ? ORDER BY `title` DESC, `id` ASC LIMIT 2 OFFSET 4"
	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("e5", "Go").AddRow("e6", "Rust"))

	rows, err := repo.Find(context.Background(), store.Select{
		Where:   sq.Eq{"is_deleted": false},
		OrderBy: []store.Order{{Column: "title", Desc: true}, {Column: "id"}},
		Limit:   2,
		Offset:  4,
	})
	require.NoError(t, err)
	assert.Equal(t, []store.Row{{"id": "e5", "title": "Go"}, {"id": "e6", "title": "Rust"}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryFindForUpdateOnlyInTransaction(t *testing.T) {
	repo, mock, tm := newMock(t)
	ctx := context.Background()

	// Outside a transaction the lock clause is dropped
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `events` WHERE id = ? LIMIT 1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))
	_, err := repo.Find(ctx, store.Select{Where: sq.Eq{"id": "e1"}, Limit: 1, ForUpdate: true})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `title` FROM `events` WHERE id = ? LIMIT 1 FOR UPDATE")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow("e1", "Go"))
	mock.ExpectCommit()

	err = tm.WithTransaction(ctx, func(ctx context.Context) error {
		rows, err := repo.Find(ctx, store.Select{Where: sq.Eq{"id": "e1"}, Limit: 1, ForUpdate: true})
		if err != nil {
			return err
		}
		assert.Len(t, rows, 1)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryFindNoForUpdateOnSQLite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewRecordRepository(db, database.SQLite, "events", nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `events` WHERE id = ? LIMIT 1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err = NewTransactionManager(db).WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := repo.Find(ctx, store.Select{Where: sq.Eq{"id": "e1"}, Limit: 1, ForUpdate: true})
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryCount(t *testing.T) {
	repo, mock, _ := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `events` WHERE visible_permission = ?")).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	n, err := repo.Count(context.Background(), sq.Eq{"visible_permission": "public"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryCreateUnionsColumns(t *testing.T) {
	repo, mock, _ := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `events` (`id`, `note`, `title`) VALUES (?, ?, ?), (?, ?, ?)")).
		WithArgs("e1", nil, "Go", "e2", "x", "Rust").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.Create(context.Background(),
		store.Row{"id": "e1", "title": "Go"},
		store.Row{"id": "e2", "title": "Rust", "note": "x"},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryCreateNothing(t *testing.T) {
	repo, mock, _ := newMock(t)
	require.NoError(t, repo.Create(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryUpdateMany(t *testing.T) {
	repo, mock, _ := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `events` SET `title` = ? WHERE id = ?")).
		WithArgs("New", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.UpdateMany(context.Background(), sq.Eq{"id": "e1"}, store.Row{"title": "New"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.UpdateMany(context.Background(), nil, store.Row{"title": "New"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryDeleteMany(t *testing.T) {
	repo, mock, _ := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `events` WHERE id IN (?,?)")).
		WithArgs("e1", "e2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteMany(context.Background(), sq.Eq{"id": []string{"e1", "e2"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.DeleteMany(context.Background(), nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	repo, mock, tm := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `events` SET `title` = ? WHERE id = ?")).
		WithArgs("New", "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := tm.WithTransaction(context.Background(), func(ctx context.Context) error {
		if _, err := repo.UpdateMany(ctx, sq.Eq{"id": "e1"}, store.Row{"title": "New"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	_, mock, tm := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = tm.WithTransaction(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionJoinsAmbientTransaction(t *testing.T) {
	_, mock, tm := newMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := tm.WithTransaction(context.Background(), func(outer context.Context) error {
		return tm.WithTransaction(outer, func(inner context.Context) error {
			assert.Same(t, ExtractTx(outer), ExtractTx(inner))
			return nil
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
