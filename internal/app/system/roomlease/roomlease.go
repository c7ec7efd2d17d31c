// Package roomlease pins each live room to a single process.
//
// The room registry is process-local, so a room must never be hosted by two
// processes at once. The first process to host a room takes a Redis lease on
// it (SET NX with a TTL) and keeps renewing it while the room has members.
// Without Redis the Nop leaser grants every room, which is correct for a
// single process.
package roomlease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 30 * time.Second

const keyPrefix = "mentorlink:room:"

// Leaser grants and releases room ownership.
type Leaser interface {
	// Acquire reports whether this process now owns roomID. An existing lease
	// held by this process counts as acquired.
	Acquire(ctx context.Context, roomID string) (bool, error)
	// Renew extends a lease held by this process. It reports false when the
	// lease was lost.
	Renew(ctx context.Context, roomID string) (bool, error)
	// Release drops the lease if this process still holds it.
	Release(ctx context.Context, roomID string) error
}

// Connect parses url, creates a client and verifies it with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// Release and renew only touch a key whose value is still our owner token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a Leaser backed by a Redis server.
type Redis struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

var _ Leaser = (*Redis)(nil)

// NewRedis returns a leaser that identifies this process by owner.
func NewRedis(client *redis.Client, owner string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, owner: owner, ttl: ttl}
}

// TTL returns the lease lifetime.
func (r *Redis) TTL() time.Duration { return r.ttl }

func key(roomID string) string { return keyPrefix + roomID }

func (r *Redis) Acquire(ctx context.Context, roomID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key(roomID), r.owner, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	holder, err := r.client.Get(ctx, key(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return r.client.SetNX(ctx, key(roomID), r.owner, r.ttl).Result()
	}
	if err != nil {
		return false, err
	}
	if holder != r.owner {
		return false, nil
	}
	return r.Renew(ctx, roomID)
}

func (r *Redis) Renew(ctx context.Context, roomID string) (bool, error) {
	n, err := renewScript.Run(ctx, r.client, []string{key(roomID)}, r.owner, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Release(ctx context.Context, roomID string) error {
	return releaseScript.Run(ctx, r.client, []string{key(roomID)}, r.owner).Err()
}

// Holder returns the owner token currently holding roomID, or "" if none.
func (r *Redis) Holder(ctx context.Context, roomID string) (string, error) {
	v, err := r.client.Get(ctx, key(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Nop grants every lease. Used when no Redis URL is configured.
type Nop struct{}

var _ Leaser = Nop{}

func (Nop) Acquire(context.Context, string) (bool, error) { return true, nil }
func (Nop) Renew(context.Context, string) (bool, error)   { return true, nil }
func (Nop) Release(context.Context, string) error         { return nil }
