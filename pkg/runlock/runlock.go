// Package runlock keeps two seeding runs from driving the same NetBox at
// once. The lock is a Redis hash with a TTL, so a crashed run frees it when
// the TTL runs out.
package runlock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/nbseed/pkg/util"
)

// DefaultTTL bounds how long a lock outlives a run that stopped refreshing it.
const DefaultTTL = 5 * time.Minute

// acquireScript takes the lock if nobody holds it.
// Returns 1 on success, 0 if already locked.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2])
redis.call("PEXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// refreshScript extends the TTL when the caller still holds the lock.
// Returns 1 on success, 0 if another holder has it, -1 if it expired.
var refreshScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("PEXPIRE", key, tonumber(ARGV[2]))
return 1
`)

// releaseScript deletes the lock when the caller holds it.
// Returns 1 on success, 0 if holder mismatch, -1 if key doesn't exist.
var releaseScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// Key returns the Redis key guarding one NetBox instance.
func Key(netboxURL string) string {
	return "nbseed:lock:" + strings.TrimRight(netboxURL, "/")
}

// Holder identifies this process as user@host:pid/run.
func Holder(runID string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s@%s:%d/%s", user, host, os.Getpid(), runID)
}

// Lock is one run's claim on a NetBox instance.
type Lock struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

// New prepares a lock for netboxURL. It does not touch Redis.
func New(client *redis.Client, netboxURL, holder string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{client: client, key: Key(netboxURL), holder: holder, ttl: ttl}
}

// Key returns the lock's Redis key.
func (l *Lock) Key() string { return l.key }

// Acquire takes the lock. A lock held by anyone, this holder included,
// fails with an error wrapping util.ErrLocked.
func (l *Lock) Acquire(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := acquireScript.Run(ctx, l.client, []string{l.key},
		l.holder, now, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", l.key, err)
	}
	if result == 0 {
		holder, acquired, err := l.Holder(ctx)
		if err != nil || holder == "" {
			return fmt.Errorf("%s: %w", l.key, util.ErrLocked)
		}
		return fmt.Errorf("%s: %w: held by %s since %s", l.key, util.ErrLocked,
			holder, acquired.Format(time.RFC3339))
	}
	util.WithField("key", l.key).Debugf("lock acquired for %v", l.ttl)
	return nil
}

// Refresh extends the lock's TTL. Losing the lock, to expiry or to another
// holder, is reported as util.ErrLocked.
func (l *Lock) Refresh(ctx context.Context) error {
	result, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refreshing lock %s: %w", l.key, err)
	}
	switch result {
	case 0:
		return fmt.Errorf("%s: %w: taken over by another run", l.key, util.ErrLocked)
	case -1:
		return fmt.Errorf("%s: %w: lock expired", l.key, util.ErrLocked)
	}
	return nil
}

// Release drops the lock if this holder still has it.
func (l *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Int()
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.key, err)
	}
	switch result {
	case 0:
		return fmt.Errorf("lock holder mismatch for %s", l.key)
	case -1:
		return nil // expired; nothing to release
	}
	util.WithField("key", l.key).Debug("lock released")
	return nil
}

// Holder returns the current holder and acquisition time.
// Returns ("", zero, nil) if no lock is held.
func (l *Lock) Holder(ctx context.Context) (string, time.Time, error) {
	vals, err := l.client.HGetAll(ctx, l.key).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading lock %s: %w", l.key, err)
	}
	if len(vals) == 0 {
		return "", time.Time{}, nil
	}
	acquired, _ := time.Parse(time.RFC3339, vals["acquired"])
	return vals["holder"], acquired, nil
}
