//go:build integration

package testutil

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDB is the database the integration tests use, kept away from DB 0.
const RedisDB = 9

// RedisAddr returns the address of the test Redis instance (IP:port).
// It first checks NBSEED_TEST_REDIS_ADDR, then discovers the Docker container IP.
func RedisAddr() string {
	if addr := os.Getenv("NBSEED_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		"nbseed-test-redis").Output()
	if err != nil {
		return ""
	}
	ip := strings.TrimSpace(string(out))
	if ip == "" {
		return ""
	}
	return ip + ":6379"
}

// SkipIfNoRedis skips the test if the test Redis instance is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()
	if err := pingRedis(); err != nil {
		t.Skip(err.Error())
	}
}

// RequireRedis is like SkipIfNoRedis but fails the test instead of skipping.
func RequireRedis(t *testing.T) {
	t.Helper()
	if err := pingRedis(); err != nil {
		t.Fatal(err.Error())
	}
}

type redisUnavailable string

func (e redisUnavailable) Error() string { return string(e) }

func pingRedis() error {
	addr := RedisAddr()
	if addr == "" {
		return redisUnavailable("test Redis not available: set NBSEED_TEST_REDIS_ADDR or start nbseed-test-redis")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return redisUnavailable("test Redis not reachable at " + addr + ": " + err.Error())
	}
	return nil
}

// RedisClient returns a client for the test database, flushed before use
// and closed via t.Cleanup.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	SkipIfNoRedis(t)

	client := redis.NewClient(&redis.Options{Addr: RedisAddr(), DB: RedisDB})
	t.Cleanup(func() { client.Close() })
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing DB %d: %v", RedisDB, err)
	}
	return client
}

// KeyCount returns the number of keys in the test database.
func KeyCount(t *testing.T, client *redis.Client) int {
	t.Helper()
	n, err := client.DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("counting keys: %v", err)
	}
	return int(n)
}
