package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockedPostgres(t *testing.T) (*PostgresKV, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateTable)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	kv, err := NewPostgresKV(context.Background(), mockPool, zaptest.NewLogger(t))
	require.NoError(t, err)
	return kv, mockPool
}

func TestNewPostgresKV(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresKV(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create the table", func(t *testing.T) {
		_, mockPool := newMockedPostgres(t)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresKV_GetPut(t *testing.T) {
	ctx := context.Background()

	t.Run("get existing key", func(t *testing.T) {
		kv, mockPool := newMockedPostgres(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectValue)).
			WithArgs("memory").
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"a":1}`)))

		got, err := kv.Get(ctx, "memory")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(got))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("missing key maps to ErrNotFound", func(t *testing.T) {
		kv, mockPool := newMockedPostgres(t)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectValue)).
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := kv.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put upserts", func(t *testing.T) {
		kv, mockPool := newMockedPostgres(t)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs("errors", []byte(`[]`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, kv.Put(ctx, "errors", []byte(`[]`)))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("put propagates database errors", func(t *testing.T) {
		kv, mockPool := newMockedPostgres(t)
		dbErr := errors.New("disk full")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsert)).
			WithArgs("errors", []byte(`[]`)).
			WillReturnError(dbErr)

		err := kv.Put(ctx, "errors", []byte(`[]`))
		assert.ErrorIs(t, err, dbErr)
	})
}

func TestPostgresKV_Prefix(t *testing.T) {
	ctx := context.Background()
	kv, mockPool := newMockedPostgres(t)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeletePrefix)).
		WithArgs(`cache\_%`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlListKeys)).
		WithArgs(`%`).
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("agents").AddRow("memory"))

	n, err := kv.DeletePrefix(ctx, "cache_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"agents", "memory"}, keys)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

// kvContract runs the behavior every backend must share.
func kvContract(t *testing.T, kv KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, "memory", []byte("v1")))
	require.NoError(t, kv.Put(ctx, "memory", []byte("v2")))
	got, err := kv.Get(ctx, "memory")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, kv.Put(ctx, "cache_research_1", []byte("x")))
	require.NoError(t, kv.Put(ctx, "cache_research_2", []byte("y")))
	// Underscore must be literal, not a LIKE wildcard.
	require.NoError(t, kv.Put(ctx, "cacheXresearch", []byte("z")))

	keys, err := kv.Keys(ctx, "cache_")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_research_1", "cache_research_2"}, keys)

	n, err := kv.DeletePrefix(ctx, "cache_")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err = kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cacheXresearch", "memory"}, keys)

	require.NoError(t, kv.Delete(ctx, "memory"))
	_, err = kv.Get(ctx, "memory")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKV(t *testing.T) {
	kvContract(t, NewMemoryKV())
}

func TestMemoryKV_CopiesValues(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, kv.Put(ctx, "k", buf))
	buf[0] = 'z'
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSQLiteKV(t *testing.T) {
	path := t.TempDir() + "/nested/core.db"
	kv, err := NewSQLiteKV(context.Background(), path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer kv.Close()

	kvContract(t, kv)
}

func TestSQLiteKV_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/core.db"

	kv, err := NewSQLiteKV(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, SaveJSON(ctx, kv, KeyMemory, map[string]int{"analyses": 2}))
	require.NoError(t, kv.Close())

	kv, err = NewSQLiteKV(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer kv.Close()

	var got map[string]int
	found, err := LoadJSON(ctx, kv, KeyMemory, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got["analyses"])
}

func TestLoadSaveJSON(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	var v struct{ Name string }
	found, err := LoadJSON(ctx, kv, "absent", &v)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Put(ctx, "broken", []byte("{not json")))
	_, err = LoadJSON(ctx, kv, "broken", &v)
	assert.ErrorContains(t, err, `failed to decode "broken"`)
}
