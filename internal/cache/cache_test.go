package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/shotsearch/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Query embeddings ---

func TestSetGet_QueryEmbedding(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	key := cache.QueryEmbeddingKey("text-embedding-3-small", "login error")
	vec := []byte(`[0.12,-0.5,0.33]`)
	require.NoError(t, rc.Set(ctx, key, vec, time.Hour))

	got, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, string(vec), string(got))

	// same fingerprint under another model is a miss
	_, found, err = rc.Get(ctx, cache.QueryEmbeddingKey("nomic-embed-text", "login error"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGet_Miss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), cache.QueryEmbeddingKey("m", "never cached"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestSet_QueryEmbeddingExpires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.QueryEmbeddingKey("m", "dashboard")

	require.NoError(t, rc.Set(ctx, key, []byte(`[1]`), time.Second))
	_, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_DropsEntryAndToleratesMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.QueryEmbeddingKey("m", "invoice")

	require.NoError(t, rc.Set(ctx, key, []byte(`[1]`), time.Minute))
	require.NoError(t, rc.Delete(ctx, key))

	_, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, rc.Delete(ctx, key))
}

// --- Locks ---

func TestAcquireReleaseLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.DriveLockKey(uuid.New())

	ok, err := rc.AcquireLock(ctx, key, "worker-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.AcquireLock(ctx, key, "worker-2", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	// Releasing with the wrong token leaves the lock in place.
	require.NoError(t, rc.ReleaseLock(ctx, key, "worker-2"))
	_, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, rc.ReleaseLock(ctx, key, "worker-1"))
	ok, err = rc.AcquireLock(ctx, key, "worker-2", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireLock_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.DriveLockKey(uuid.New())

	ok, err := rc.AcquireLock(ctx, key, "worker-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(1500 * time.Millisecond)

	ok, err = rc.AcquireLock(ctx, key, "worker-2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- IncrWithExpiry ---

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)

	val, err = rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), val)
}

func TestIncrWithExpiry_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, err := rc.IncrWithExpiry(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	val, err := rc.IncrWithExpiry(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)
}

// --- Cache Key Builders ---

func TestDriveLockKey(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	key := cache.DriveLockKey(id)
	assert.Equal(t, "screenshot:drive:11111111-1111-1111-1111-111111111111", key)
}

func TestRateLimitKey(t *testing.T) {
	key := cache.RateLimitKey("ss_abcd1")
	assert.Equal(t, "ratelimit:ss_abcd1", key)
}

func TestQueryEmbeddingKey(t *testing.T) {
	key := cache.QueryEmbeddingKey("text-embedding-3-small", "abc123hash")
	assert.Equal(t, "embedding:query:text-embedding-3-small:abc123hash", key)
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	id := uuid.New()

	keys := map[string]bool{
		cache.DriveLockKey(id):                    true,
		cache.RateLimitKey("ss_prefix"):           true,
		cache.QueryEmbeddingKey("model", "hash1"): true,
	}
	assert.Len(t, keys, 3, "all keys should be unique")
}
