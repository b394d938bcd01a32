package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/librimoms/club-bot/migrations"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"m/002_b.up.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"m/001_a.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"m/001_a.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/readme.txt":     {Data: []byte("ignored")},
	}
}

func newMigrator(t *testing.T) (*Migrator, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewMigrator(db, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestListMigrations_SortedUpOnly(t *testing.T) {
	names, err := ListMigrations(testFS(), "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.up.sql", "002_b.up.sql"}, names)
}

func TestMigrator_SkipsApplied(t *testing.T) {
	m, mock := newMigrator(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b (id INT);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_b.up.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	done, err := m.Apply(context.Background(), testFS(), "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"002_b.up.sql"}, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_RollsBackOnFailure(t *testing.T) {
	m, mock := newMigrator(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a (id INT);")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	done, err := m.Apply(context.Background(), testFS(), "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_a.up.sql")
	assert.Empty(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := ListMigrations(migrations.FS, ".")
	require.NoError(t, err)
	assert.Contains(t, names, "001_bot_users.up.sql")
}
