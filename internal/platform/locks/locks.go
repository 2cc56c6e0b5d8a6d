package locks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eddyhq/eddy-backend/internal/platform/envutil"
)

// Locker hands out mutual exclusion per key. Pipeline runs use it to keep at
// most one worker active per company.
type Locker interface {
	// TryAcquire returns ok=false without blocking when another holder has
	// the key. The returned release func is safe to call once.
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// releaseScript deletes the key only when the stored token matches, so an
// expired lock taken over by another worker is never released by the old one.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

type redisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLocker connects to REDIS_ADDR and verifies the connection before
// returning. Lock TTL guards against a crashed holder wedging a company.
func NewRedisLocker() (Locker, error) {
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("locks: REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("locks: redis ping: %w", err)
	}
	ttl := envutil.Duration("PIPELINE_LOCK_TTL", 10*time.Minute)
	return &redisLocker{rdb: rdb, ttl: ttl}, nil
}

func (l *redisLocker) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("locks: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.rdb, []string{key}, token).Err()
		})
	}
	return release, true, nil
}

type localLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker keeps lock state in process memory. Single-node deployments
// and tests use it; anything running more than one worker needs redis.
func NewLocalLocker() Locker {
	return &localLocker{held: make(map[string]struct{})}
}

func (l *localLocker) TryAcquire(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}
	return release, true, nil
}

// CompanyKey namespaces pipeline locks by company.
func CompanyKey(companyID uuid.UUID) string {
	return "eddy:pipeline:company:" + companyID.String()
}
