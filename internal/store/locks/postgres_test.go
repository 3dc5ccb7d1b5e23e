package locks

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestAcquire_WinsWhenReadbackMatches(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	candidate := fixed.UnixMilli()

	mock.ExpectExec(`INSERT INTO db_locks .* ON CONFLICT \(name\) DO UPDATE SET token = EXCLUDED\.token.*`).
		WithArgs("fetch_collections", candidate, float64(120)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Read-back echoes the candidate: the caller won.
	mock.ExpectQuery(`SELECT token FROM db_locks WHERE name = \$1`).
		WithArgs("fetch_collections").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow(candidate))

	token, ok, err := repo.Acquire(context.Background(), "fetch_collections", 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, candidate, token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_LosesWhenReadbackDiffers(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO db_locks .* ON CONFLICT \(name\) DO UPDATE SET token = EXCLUDED\.token.*`).
		WithArgs("species_stats", sqlmock.AnyArg(), float64(120)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(`SELECT token FROM db_locks WHERE name = \$1`).
		WithArgs("species_stats").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow(int64(1)))

	token, ok, err := repo.Acquire(context.Background(), "species_stats", 2*time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "a foreign token in the read-back means the lock was not won")
	require.Zero(t, token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_MissingRowMeansNotAcquired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO db_locks .*`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT token FROM db_locks WHERE name = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"token"}))

	_, ok, err := repo.Acquire(context.Background(), "x", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRelease_OwnerChecked(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE db_locks SET token = NULL, acquired_at = NULL\s+WHERE name = \$1 AND token = \$2`).
		WithArgs("fetch_collections", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Zero rows affected (token mismatch) is still a successful no-op.
	require.NoError(t, repo.Release(context.Background(), "fetch_collections", 42))
	require.NoError(t, mock.ExpectationsWereMet())
}
