// Package redis provides a WorkQueue shared by several processes through a
// Redis list.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ChuLiYu/kw-sourcing/internal/worker"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// DefaultKey is the list holding pending department codes.
const DefaultKey = "kw:departments"

// Queue is a FIFO of department codes. LPOP is atomic on the server, so any
// number of workers in any number of processes may pop concurrently.
type Queue struct {
	client *goredis.Client
	key    string
}

var _ worker.WorkQueue = (*Queue)(nil)

// New wraps an existing client.
func New(client *goredis.Client, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key}
}

// Open connects to url (redis://host:port/db) and verifies the connection.
func Open(ctx context.Context, url, key string) (*Queue, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, key), nil
}

// Seed replaces the queue content with codes in one transaction.
func (q *Queue) Seed(ctx context.Context, codes ...types.DepartmentCode) error {
	_, err := q.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, q.key)
		if len(codes) > 0 {
			p.RPush(ctx, q.key, toArgs(codes)...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed queue %s: %w", q.key, err)
	}
	return nil
}

// Push appends codes to the tail.
func (q *Queue) Push(ctx context.Context, codes ...types.DepartmentCode) error {
	if len(codes) == 0 {
		return nil
	}
	if err := q.client.RPush(ctx, q.key, toArgs(codes)...).Err(); err != nil {
		return fmt.Errorf("push to queue %s: %w", q.key, err)
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context) (types.DepartmentCode, bool, error) {
	code, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pop from queue %s: %w", q.key, err)
	}
	return types.DepartmentCode(code), true, nil
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("length of queue %s: %w", q.key, err)
	}
	return int(n), nil
}

// Close closes the client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func toArgs(codes []types.DepartmentCode) []any {
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = string(c)
	}
	return args
}
