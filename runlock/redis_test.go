package runlock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// testRedis connects to REDIS_TEST_URL; the tests skip without it.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	id := uuid.New()
	key := keyPrefix + id.String()

	// Two lockers stand in for two processes.
	first := NewRedis(client, time.Minute)
	second := NewRedis(client, time.Minute)

	release, err := first.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := second.Acquire(ctx, id); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld from another process, got %v", err)
	}
	if ttl := client.PTTL(ctx, key).Val(); ttl <= 0 {
		t.Fatalf("expected lock key to carry a ttl, got %s", ttl)
	}

	release()
	release()
	if n := client.Exists(ctx, key).Val(); n != 0 {
		t.Fatalf("expected lock key deleted on release")
	}

	again, err := second.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("expected lock free after release, got %v", err)
	}
	again()
}

func TestRedis_RenewsWhileHeld(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	id := uuid.New()
	key := keyPrefix + id.String()

	l := NewRedis(client, 300*time.Millisecond)
	release, err := l.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	time.Sleep(time.Second)
	if n := client.Exists(ctx, key).Val(); n != 1 {
		t.Fatalf("expected lock to outlive its ttl while held")
	}
}

func TestRedis_ReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	id := uuid.New()
	key := keyPrefix + id.String()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	l := NewRedis(client, time.Minute)
	release, err := l.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// The key expired and another process took it.
	if err := client.Set(ctx, key, "other-run", time.Minute).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	release()

	if v := client.Get(ctx, key).Val(); v != "other-run" {
		t.Fatalf("expected foreign lock untouched, got %q", v)
	}
}
