package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDriver(t *testing.T, dialect string) (*SQLDriver, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	d := NewSQLDriver(nil)
	require.NoError(t, d.Add(DefaultConnection, sqlDB, dialect))
	return d, mock
}

func TestSQLAdapterSelect(t *testing.T) {
	d, mock := newMockDriver(t, DriverMySQL)
	a, err := d.Connection("")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT * FROM users WHERE id = ?").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), []byte("ada")))

	rows, err := a.Select(context.Background(), "users", Eq("id", int64(1)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, []byte("ada"), rows[0]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), d.Stats().Queries)
}

func TestSQLAdapterInsertReturnsGeneratedKey(t *testing.T) {
	d, mock := newMockDriver(t, DriverMySQL)
	a, _ := d.Connection(DefaultConnection)

	mock.ExpectExec("INSERT INTO users (email, name) VALUES (?, ?)").
		WithArgs("a@x.io", "ada").
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := a.Insert(context.Background(), "users", "id", map[string]any{"name": "ada", "email": "a@x.io"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = a.Insert(context.Background(), "users", "id", nil)
	assert.ErrorIs(t, err, ErrEmptyValues)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapterInsertKeepsSuppliedKey(t *testing.T) {
	d, mock := newMockDriver(t, DriverPostgres)
	a, _ := d.Connection(DefaultConnection)

	mock.ExpectExec("INSERT INTO tokens (id, value) VALUES ($1, $2)").
		WithArgs("abc", "v").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := a.Insert(context.Background(), "tokens", "id", map[string]any{"id": "abc", "value": "v"})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapterPostgresReturning(t *testing.T) {
	d, mock := newMockDriver(t, DriverPostgres)
	a, _ := d.Connection(DefaultConnection)

	mock.ExpectQuery("INSERT INTO users (name) VALUES ($1) RETURNING id").
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	id, err := a.Insert(context.Background(), "users", "id", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLAdapterTransaction(t *testing.T) {
	d, mock := newMockDriver(t, DriverSQLite)
	a, _ := d.Connection(DefaultConnection)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET name = ? WHERE id = ?").
		WithArgs("bob", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM posts WHERE user_id = ?").
		WithArgs(int64(1)).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	tx, err := a.(Transactional).Begin(ctx)
	require.NoError(t, err)

	n, err := tx.Update(ctx, "users", Eq("id", int64(1)), map[string]any{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = tx.Delete(ctx, "posts", Eq("user_id", int64(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint failed")
	require.NoError(t, tx.Rollback())

	_, err = tx.(Transactional).Begin(ctx)
	assert.Error(t, err, "nested transactions are not supported")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), d.Stats().Errors)
}

func TestSQLDriverConnections(t *testing.T) {
	d := NewSQLDriver(nil)

	_, err := d.Connection("reporting")
	assert.True(t, IsUnknownConnection(err))

	assert.Error(t, d.Add("x", nil, "oracle"))
	assert.Error(t, d.Open("bad", &Config{Driver: "sqlite"}))
	assert.NoError(t, d.Close())
}
