package cache_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sooksun/teachermon-sub002/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs one Redis container for the calling test and its subtests.
func startRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache(fmt.Sprintf("redis://%s:%s", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

// cacheContract is the behavior both backends share. Keys are unique per
// subtest so one Redis instance serves them all.
func cacheContract(t *testing.T, c cache.Cache) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, c.Ping(ctx))
	})

	t.Run("SetGetDelete", func(t *testing.T) {
		key := "contract:" + uuid.NewString()
		require.NoError(t, c.Set(ctx, key, []byte("verdict"), time.Minute))

		val, found, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("verdict"), val)

		require.NoError(t, c.Delete(ctx, key))
		val, found, err = c.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})

	t.Run("DeleteMissingKey", func(t *testing.T) {
		assert.NoError(t, c.Delete(ctx, "contract:"+uuid.NewString()))
	})

	t.Run("JobStatusMissing", func(t *testing.T) {
		st, found, err := c.GetJobStatus(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, cache.JobStatus{}, st)
	})

	t.Run("JobStatusKeepsNewestVersion", func(t *testing.T) {
		id := uuid.New()
		steps := []struct {
			write cache.JobStatus
			want  string
		}{
			{cache.JobStatus{TeacherID: "teacher-1", Status: "CREATED", Version: 1}, "CREATED"},
			{cache.JobStatus{TeacherID: "teacher-1", Status: "DONE", Version: 4}, "DONE"},
			{cache.JobStatus{TeacherID: "teacher-1", Status: "PROCESSING", Version: 3}, "DONE"},
			{cache.JobStatus{TeacherID: "teacher-1", Status: "FAILED", Version: 4}, "DONE"},
		}
		for _, s := range steps {
			require.NoError(t, c.SetJobStatus(ctx, id, s.write, time.Minute))
			got, found, err := c.GetJobStatus(ctx, id)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, s.want, got.Status)
			assert.Equal(t, "teacher-1", got.TeacherID)
		}

		require.NoError(t, c.DeleteJobStatus(ctx, id))
		_, found, err := c.GetJobStatus(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ConcurrentStatusWritesSettleOnHighest", func(t *testing.T) {
		id := uuid.New()
		var wg sync.WaitGroup
		for v := 1; v <= 20; v++ {
			wg.Add(1)
			go func(v int) {
				defer wg.Done()
				st := cache.JobStatus{TeacherID: "teacher-2", Status: fmt.Sprintf("v%d", v), Version: v}
				assert.NoError(t, c.SetJobStatus(ctx, id, st, time.Minute))
			}(v)
		}
		wg.Wait()

		got, _, err := c.GetJobStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 20, got.Version)
		assert.Equal(t, "v20", got.Status)
	})

	t.Run("IncrCounts", func(t *testing.T) {
		key := cache.RateLimitKey("tmk_" + uuid.NewString()[:8])
		for want := int64(1); want <= 3; want++ {
			n, err := c.IncrWithExpiry(ctx, key, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
	})
}

func TestMemoryCache_Contract(t *testing.T) {
	cacheContract(t, cache.NewMemoryCache())
}

func TestRedisCache_Contract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cacheContract(t, startRedis(t))
}

func TestRedisCache_Expiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := startRedis(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, rc.Set(ctx, "expiry:key", []byte("temp"), time.Second))
	require.NoError(t, rc.SetJobStatus(ctx, id, cache.JobStatus{Status: "PROCESSING", Version: 1}, time.Second))
	n, err := rc.IncrWithExpiry(ctx, "expiry:counter", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	time.Sleep(1500 * time.Millisecond)

	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = rc.GetJobStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
	n, err = rc.IncrWithExpiry(ctx, "expiry:counter", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := cache.NewRedisCache("not-a-redis-url")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "job:22222222-2222-2222-2222-222222222222:status", cache.JobStatusKey(jobID))
	assert.Equal(t, "ratelimit:tm_abcd1234", cache.RateLimitKey("tm_abcd1234"))
	assert.Equal(t, "ratelimit:tm_abcd1234:1700000040", cache.RateLimitWindowKey("tm_abcd1234", time.Unix(1700000040, 0)))

	a := cache.LinkProbeKey("https://example.com/a.mp4")
	assert.Equal(t, a, cache.LinkProbeKey("https://example.com/a.mp4"))
	assert.NotEqual(t, a, cache.LinkProbeKey("https://example.com/b.mp4"))
	assert.Len(t, a, len("linkprobe:")+64)
}
