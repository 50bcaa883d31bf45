package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const periodLockPrefix = "horario:lock:period:"

// releaseScript deletes the lock only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// PeriodLockRepository holds cross-instance generation locks in Redis.
type PeriodLockRepository struct {
	client *redis.Client
}

// NewPeriodLockRepository constructs the repository.
func NewPeriodLockRepository(client *redis.Client) *PeriodLockRepository {
	return &PeriodLockRepository{client: client}
}

// Acquire tries to take the period lock. ok is false when another holder owns it.
func (r *PeriodLockRepository) Acquire(ctx context.Context, periodID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = r.client.SetNX(ctx, periodLockPrefix+periodID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire period lock %s: %w", periodID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (r *PeriodLockRepository) Release(ctx context.Context, periodID, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{periodLockPrefix + periodID}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release period lock %s: %w", periodID, err)
	}
	return nil
}
