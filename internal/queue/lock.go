package queue

import (
	"context"
	"fmt"

	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a
// slow holder cannot release a lock that already expired and was re-acquired
// by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker takes short-lived distributed locks via SET NX PX. Used to keep
// beats single-flight across daemon replicas.
type Locker struct {
	rdb *redis.Client
}

// NewLocker creates a Locker on an existing redis client.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire attempts to take the named lock for ttl. On success it returns
// acquired=true and a release function; the lock also expires on its own
// after ttl, so a crashed holder cannot block the name forever.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	key := "verbatim:lock:" + name
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue: acquire lock %q: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("queue: release lock %q: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}
