package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker is the mutual-exclusion guard for sync runs. Acquire is an atomic
// test-and-set: it succeeds for exactly one caller per key until the key is
// released or its TTL expires. The TTL bounds how long a crashed run can
// block its organization.
type Marker interface {
	// Acquire attempts to claim key for runID. Returns false when another
	// run already holds it.
	Acquire(ctx context.Context, key, runID string, ttl time.Duration) (bool, error)
	// Release clears the key, but only while runID still owns it. A run
	// whose TTL lapsed must not delete a successor's claim. Releasing an
	// unheld key is a no-op.
	Release(ctx context.Context, key, runID string) error
}

// RedisMarker implements Marker on a shared Redis instance via SET NX with
// expiry, so the claim is atomic across processes.
type RedisMarker struct {
	client *redis.Client
}

// NewRedisMarker creates a RedisMarker from an address like "localhost:6379".
func NewRedisMarker(addr, password string, db int) *RedisMarker {
	return &RedisMarker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (m *RedisMarker) Acquire(ctx context.Context, key, runID string, ttl time.Duration) (bool, error) {
	ok, err := m.client.SetNX(ctx, key, runID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// releaseScript deletes the key only when it still holds runID, so the
// check and the delete are one atomic step on the server.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (m *RedisMarker) Release(ctx context.Context, key, runID string) error {
	if err := releaseScript.Run(ctx, m.client, []string{key}, runID).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity to the Redis backend.
func (m *RedisMarker) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (m *RedisMarker) Close() error {
	return m.client.Close()
}

// MemoryMarker is an in-process Marker for single-node deployments and
// tests. The same claim-once-until-expiry semantics, without the shared
// backend.
type MemoryMarker struct {
	mu      stdsync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	runID    string
	deadline time.Time
}

// NewMemoryMarker creates an empty MemoryMarker.
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{entries: make(map[string]memoryEntry)}
}

func (m *MemoryMarker) Acquire(_ context.Context, key, runID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[key]; ok && now.Before(e.deadline) {
		return false, nil
	}
	m.entries[key] = memoryEntry{runID: runID, deadline: now.Add(ttl)}
	return true, nil
}

func (m *MemoryMarker) Release(_ context.Context, key, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && e.runID == runID {
		delete(m.entries, key)
	}
	return nil
}
