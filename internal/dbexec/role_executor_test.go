package dbexec

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleFromContext(t *testing.T) {
	_, ok := RoleFromContext(context.Background())
	assert.False(t, ok)

	_, ok = RoleFromContext(WithRole(context.Background(), ""))
	assert.False(t, ok)

	role, ok := RoleFromContext(WithRole(context.Background(), "analyst"))
	assert.True(t, ok)
	assert.Equal(t, "analyst", role)
}

func TestRoleExecutor_RoleSelection(t *testing.T) {
	executor := NewRoleExecutor(RoleExecutorConfig{
		DefaultRole:  "reader",
		AllowedRoles: []string{"reader", "analyst"},
	})

	role, err := executor.roleFor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "reader", role)

	role, err = executor.roleFor(WithRole(context.Background(), "analyst"))
	require.NoError(t, err)
	assert.Equal(t, "analyst", role)

	_, err = executor.roleFor(WithRole(context.Background(), "admin"))
	assert.EqualError(t, err, "role not allowed: admin")

	open := NewRoleExecutor(RoleExecutorConfig{})
	role, err = open.roleFor(WithRole(context.Background(), "anyone"))
	require.NoError(t, err)
	assert.Equal(t, "anyone", role)
}

func TestRoleExecutor_QueryAppliesRoleAndDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET ROLE `analyst`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("USE `garage`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `cars`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectExec(regexp.QuoteMeta("SET ROLE DEFAULT")).WillReturnResult(sqlmock.NewResult(0, 0))

	executor := NewRoleExecutor(RoleExecutorConfig{DB: db, DatabaseName: "garage"})
	rows, err := executor.QueryContext(WithRole(context.Background(), "analyst"), "SELECT `id` FROM `cars`")
	require.NoError(t, err)

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())

	assert.Equal(t, []string{"c1"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleExecutor_SetRoleFailureReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	denied := errors.New("role not granted")
	mock.ExpectExec(regexp.QuoteMeta("SET ROLE `reader`")).WillReturnError(denied)
	mock.ExpectExec(regexp.QuoteMeta("SET ROLE DEFAULT")).WillReturnResult(sqlmock.NewResult(0, 0))

	executor := NewRoleExecutor(RoleExecutorConfig{DB: db, DefaultRole: "reader"})
	_, err = executor.ExecContext(context.Background(), "DELETE FROM `cars`")
	require.ErrorIs(t, err, denied)
	assert.Contains(t, err.Error(), "failed to set role reader")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutors_NilHandles(t *testing.T) {
	_, err := NewStandardExecutor(nil).QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
	_, err = NewTxExecutor(nil).ExecContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
	_, err = NewRoleExecutor(RoleExecutorConfig{}).QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestInTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	require.NoError(t, InTx(context.Background(), db, func(exec QueryExecutor) error {
		_, err := exec.ExecContext(context.Background(), "INSERT INTO `cars` VALUES (1)")
		return err
	}))

	boom := errors.New("boom")
	err = InTx(context.Background(), db, func(QueryExecutor) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
