package inlet

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CollisionGuard detects repeated deliveries of the same source event within
// a platform run. It is an optimization, not a correctness mechanism: the
// replay ledger downstream is the durable duplicate detector.
type CollisionGuard interface {
	// Remember stores the payload hash for key if no hash is recorded yet,
	// and returns the previously recorded hash when one exists.
	Remember(ctx context.Context, key, payloadHash string) (prior string, existed bool, err error)
}

// MemoryCollisionGuard is the per-process guard. Construct one per worker
// process; tests construct fresh instances per case.
type MemoryCollisionGuard struct {
	mu   sync.Mutex
	seen map[string]string
}

// NewMemoryCollisionGuard creates an empty in-process guard.
func NewMemoryCollisionGuard() *MemoryCollisionGuard {
	return &MemoryCollisionGuard{seen: make(map[string]string)}
}

// Remember implements CollisionGuard.
func (g *MemoryCollisionGuard) Remember(_ context.Context, key, payloadHash string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prior, ok := g.seen[key]; ok {
		return prior, true, nil
	}
	g.seen[key] = payloadHash
	return "", false, nil
}

// RedisCollisionGuard shares collision state across horizontally scaled
// workers. Entries expire so the keyspace does not grow unbounded across
// runs.
type RedisCollisionGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCollisionGuard creates a guard over an existing Redis client.
func NewRedisCollisionGuard(client *redis.Client, ttl time.Duration) *RedisCollisionGuard {
	return &RedisCollisionGuard{client: client, ttl: ttl}
}

// Remember implements CollisionGuard using SET NX followed by a read of the
// stored value when the key already existed.
func (g *RedisCollisionGuard) Remember(ctx context.Context, key, payloadHash string) (string, bool, error) {
	stored, err := g.client.SetNX(ctx, "inlet:collision:"+key, payloadHash, g.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if stored {
		return "", false, nil
	}
	prior, err := g.client.Get(ctx, "inlet:collision:"+key).Result()
	if err != nil {
		return "", false, err
	}
	return prior, true, nil
}
