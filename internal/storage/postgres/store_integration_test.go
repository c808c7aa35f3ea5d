//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("kw"),
		tcpostgres.WithUsername("kw"),
		tcpostgres.WithPassword("kw"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, dsn, WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Integration(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.LastSequenceNumber(ctx, "KI1I")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.AppendFailure(ctx, "KI1I/00000000/4", types.ReasonNotFound))
	require.NoError(t, store.AppendFailure(ctx, "KI1I/00000001/1", types.ReasonNotFound))
	require.NoError(t, store.AppendFailure(ctx, "KI1I/00000002/8", types.ReasonAPIException))
	require.NoError(t, store.AppendMetadata(ctx, types.MetadataRecord{
		ID:     "KI1I/00000008/0",
		Fields: map[string]string{"Położenie": "KIELCE"},
	}))
	require.NoError(t, store.AppendMetadata(ctx, types.MetadataRecord{ID: "KI1I/00000120/5"}))
	require.NoError(t, store.AppendMetadata(ctx, types.MetadataRecord{ID: "WA1M/00099999/1"}))

	seq, ok, err := store.LastSequenceNumber(ctx, "KI1I")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 120, seq)

	counts, err := store.FailureCounts(ctx, "KI1I", []types.FailureReason{types.ReasonNotFound, types.ReasonAPIException})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.ReasonNotFound])
	assert.Equal(t, 1, counts[types.ReasonAPIException])

	var ts time.Time
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT injection_timestamp FROM evidence_books_metadata WHERE book_id = $1`, "KI1I/00000008/0").Scan(&ts))
	assert.True(t, ts.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	// schema creation is idempotent
	require.NoError(t, store.EnsureSchema(ctx))
}
