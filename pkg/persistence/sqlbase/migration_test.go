package sqlbase_test

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/crmflow/pkg/persistence/sqlbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectLocked(mock sqlmock.Sqlmock, current int) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).
		WithArgs(sqlbase.MigrationLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(current))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(sqlbase.MigrationLockID).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestMigrator_AppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	migrator, err := sqlbase.NewMigrator(db, []sqlbase.Migration{
		{Version: 3, Name: "three", SQL: "CREATE TABLE three (id INT)"},
		{Version: 1, Name: "one", SQL: "CREATE TABLE one (id INT)"},
		{Version: 2, Name: "two", SQL: "CREATE TABLE two (id INT)"},
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, 3, migrator.Latest())

	expectLocked(mock, 1)

	for _, m := range []struct {
		version int
		name    string
	}{{2, "two"}, {3, "three"}} {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE " + m.name).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(m.version, m.name).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	expectUnlock(mock)

	applied, err := migrator.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_UpToDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	migrator, err := sqlbase.NewMigrator(db, []sqlbase.Migration{{Version: 1, SQL: "CREATE TABLE one (id INT)"}}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	expectLocked(mock, 1)
	expectUnlock(mock)

	applied, err := migrator.Up(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	migrator, err := sqlbase.NewMigrator(db, []sqlbase.Migration{
		{Version: 1, Name: "one", SQL: "CREATE TABLE one (id INT)"},
		{Version: 2, Name: "broken", SQL: "CREATE TABLE broken"},
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	expectLocked(mock, 0)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE one").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(1, "one").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	expectUnlock(mock)

	applied, err := migrator.Up(context.Background())
	require.ErrorContains(t, err, "migration 2 (broken)")
	assert.Equal(t, 1, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMigrator_RejectsDuplicateVersions(t *testing.T) {
	_, err := sqlbase.NewMigrator(nil, []sqlbase.Migration{{Version: 1}, {Version: 1}}, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, sqlbase.ErrMigrationVersion)

	_, err = sqlbase.NewMigrator(nil, []sqlbase.Migration{{Version: 0}}, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, sqlbase.ErrMigrationVersion)
}
