package roomlease_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/system/roomlease"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("MENTORLINK_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := roomlease.Connect(ctx, url)
	if err != nil {
		t.Skipf("skipping: redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var l roomlease.Leaser = roomlease.Nop{}

	ok, err := l.Acquire(ctx, "r")
	if err != nil || !ok {
		t.Errorf("Acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Renew(ctx, "r")
	if err != nil || !ok {
		t.Errorf("Renew: ok=%v err=%v", ok, err)
	}
	if err := l.Release(ctx, "r"); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestConnect_BadURL(t *testing.T) {
	if _, err := roomlease.Connect(context.Background(), "not a url"); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestRedis_ExclusiveOwnership(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	room := "test-" + uuid.NewString()

	a := roomlease.NewRedis(client, "proc-a", time.Minute)
	b := roomlease.NewRedis(client, "proc-b", time.Minute)
	t.Cleanup(func() { _ = a.Release(ctx, room) })

	ok, err := a.Acquire(ctx, room)
	if err != nil || !ok {
		t.Fatalf("a.Acquire: ok=%v err=%v", ok, err)
	}

	// Re-acquire by the holder succeeds.
	ok, err = a.Acquire(ctx, room)
	if err != nil || !ok {
		t.Fatalf("a.Acquire again: ok=%v err=%v", ok, err)
	}

	ok, err = b.Acquire(ctx, room)
	if err != nil {
		t.Fatalf("b.Acquire: %v", err)
	}
	if ok {
		t.Fatal("second process must not acquire a held room")
	}

	// b cannot release or renew a's lease.
	if err := b.Release(ctx, room); err != nil {
		t.Fatalf("b.Release: %v", err)
	}
	if ok, _ := b.Renew(ctx, room); ok {
		t.Error("b.Renew should report lost lease")
	}
	holder, _ := a.Holder(ctx, room)
	if holder != "proc-a" {
		t.Fatalf("holder: got %q, want proc-a", holder)
	}

	if err := a.Release(ctx, room); err != nil {
		t.Fatalf("a.Release: %v", err)
	}
	ok, err = b.Acquire(ctx, room)
	if err != nil || !ok {
		t.Fatalf("b.Acquire after release: ok=%v err=%v", ok, err)
	}
	_ = b.Release(ctx, room)
}

func TestRedis_LeaseExpires(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	room := "test-" + uuid.NewString()

	a := roomlease.NewRedis(client, "proc-a", 100*time.Millisecond)
	b := roomlease.NewRedis(client, "proc-b", time.Minute)
	t.Cleanup(func() { _ = b.Release(ctx, room) })

	if ok, err := a.Acquire(ctx, room); err != nil || !ok {
		t.Fatalf("a.Acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(250 * time.Millisecond)

	if ok, _ := a.Renew(ctx, room); ok {
		t.Error("expired lease should not renew")
	}
	if ok, err := b.Acquire(ctx, room); err != nil || !ok {
		t.Errorf("b.Acquire after expiry: ok=%v err=%v", ok, err)
	}
}
