package registry

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-upload-notifier/internal/domain/connection"
)

// testRedis connects to REDIS_ADDR or skips the test.
func testRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("requires REDIS_ADDR")
	}

	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: strings.Split(addr, ",")})
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(context.Background()).Err())
	return rc
}

func TestRedis_Compliance(t *testing.T) {
	rc := testRedis(t)

	runComplianceTests(t, func(t *testing.T) Registry {
		// A small page size exercises the HSCAN cursor loop.
		r := NewRedis(rc, "test-"+uuid.NewString(), 16)
		t.Cleanup(func() { _ = rc.Del(context.Background(), r.key).Err() })
		return r
	})
}

func TestRedis_UnavailableStore(t *testing.T) {
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"127.0.0.1:1"}, MaxRetries: -1})
	t.Cleanup(func() { _ = rc.Close() })
	r := NewRedis(rc, "test", 10)
	ctx := context.Background()

	err := r.Insert(ctx, connection.New("c1"))
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = Collect(ctx, r)
	assert.ErrorIs(t, err, ErrUnavailable)
}
