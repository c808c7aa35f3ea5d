//go:build integration

package redis

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	q, err := Open(ctx, url, "kw:test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_Integration(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Push(ctx, "OLD1"))
	require.NoError(t, q.Seed(ctx, "KI1I", "WA1M"))
	require.NoError(t, q.Push(ctx, "GD1G"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []types.DepartmentCode{"KI1I", "WA1M", "GD1G"} {
		got, ok, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Concurrent pops hand out every code exactly once.
func TestQueue_ConcurrentPop(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	codes := make([]types.DepartmentCode, 200)
	for i := range codes {
		codes[i] = types.DepartmentCode(string(rune('A'+i%26)) + string(rune('A'+i/26)) + "1X")
	}
	require.NoError(t, q.Seed(ctx, codes...))

	var mu sync.Mutex
	seen := map[types.DepartmentCode]int{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				code, ok, err := q.Pop(ctx)
				if !assert.NoError(t, err) || !ok {
					return
				}
				mu.Lock()
				seen[code]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, len(codes))
	for _, c := range codes {
		assert.Equal(t, 1, seen[c])
	}
}
