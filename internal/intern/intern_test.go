package intern_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/db"
	"tracker/internal/intern"
	"tracker/internal/migrate"
)

func newInterner(t *testing.T) (*intern.Interner, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return intern.New(conn), conn
}

func TestStringDedup(t *testing.T) {
	in, _ := newInterner(t)
	ctx := context.Background()

	first, err := in.GetOrCreateString(ctx, nil, "backend")
	require.NoError(t, err)
	again, err := in.GetOrCreateString(ctx, nil, "backend")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := in.GetOrCreateString(ctx, nil, "frontend")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	value, err := in.LookupString(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "backend", value)
}

func TestTextDedupByHash(t *testing.T) {
	in, conn := newInterner(t)
	ctx := context.Background()
	body := strings.Repeat("long description ", 100)

	first, err := in.GetOrCreateText(ctx, nil, body)
	require.NoError(t, err)
	again, err := in.GetOrCreateText(ctx, nil, body)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	var rows int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM text_values`).Scan(&rows))
	assert.Equal(t, 1, rows)

	value, err := in.LookupText(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, body, value)
}

func TestLookupMissing(t *testing.T) {
	in, _ := newInterner(t)
	_, err := in.LookupDecimal(context.Background(), 9999)
	assert.Error(t, err)
}

func TestWarmupBatch(t *testing.T) {
	in, conn := newInterner(t)
	ctx := context.Background()

	var ids []int64
	for _, v := range []string{"1.5", "2.25", "100"} {
		id, err := in.GetOrCreateDecimal(ctx, nil, v)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// a fresh interner sees cold caches but the same rows
	cold := intern.New(conn)
	require.NoError(t, cold.WarmupDecimals(ctx, ids))
	for i, id := range ids {
		value, err := cold.LookupDecimal(ctx, id)
		require.NoError(t, err)
		assert.NotEmptyf(t, value, "id %d", ids[i])
	}
	// warming an empty batch is a no-op
	require.NoError(t, cold.WarmupDecimals(ctx, nil))
}

func TestTransactionalIntern(t *testing.T) {
	in, conn := newInterner(t)
	ctx := context.Background()

	// a rolled back transaction leaves no interned row behind
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = in.GetOrCreateString(ctx, tx, "ephemeral")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var rows int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM string_values WHERE value='ephemeral'`).Scan(&rows))
	assert.Equal(t, 0, rows)
}
