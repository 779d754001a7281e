package registry

import (
	"context"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"

	"go-upload-notifier/internal/domain/connection"
)

// Redis stores connections in a single hash: field = connection id,
// value = establishedAt.
type Redis struct {
	rc       redis.UniversalClient
	key      string
	pageSize int64
}

var _ Registry = (*Redis)(nil)

func NewRedis(rc redis.UniversalClient, namespace string, pageSize int) *Redis {
	if pageSize < 1 {
		pageSize = 500
	}
	return &Redis{
		rc:       rc,
		key:      namespace + ":connections",
		pageSize: int64(pageSize),
	}
}

func (r *Redis) Insert(ctx context.Context, conn connection.Connection) error {
	err := r.rc.HSet(ctx, r.key, conn.ID, conn.EstablishedAt.UTC().Format(time.RFC3339Nano)).Err()
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// Remove uses HDEL, which reports zero removed fields for an absent id
// instead of an error.
func (r *Redis) Remove(ctx context.Context, id string) error {
	if err := r.rc.HDel(ctx, r.key, id).Err(); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

// List pages through the hash with HSCAN. HSCAN may return a field more
// than once during a full iteration, so each pass tracks what it yielded.
func (r *Redis) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seen := make(map[string]struct{})
		var cursor uint64

		for {
			kv, next, err := r.rc.HScan(ctx, r.key, cursor, "", r.pageSize).Result()
			if err != nil {
				yield("", unavailable("list", err))
				return
			}

			// HSCAN returns field, value pairs.
			for i := 0; i+1 < len(kv); i += 2 {
				id := kv[i]
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				if !yield(id, nil) {
					return
				}
			}

			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := r.rc.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, unavailable("count", err)
	}
	return int(n), nil
}
