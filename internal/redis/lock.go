package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("doctor day lock not acquired")
)

// Locker guards the check-then-write section of a booking. One lock covers a
// single doctor on a single calendar day.
type Locker interface {
	WithDayLock(ctx context.Context, doctorID string, date time.Time, fn func(ctx context.Context) error) error
}

// DayKey is the lock key for a doctor-day.
func DayKey(doctorID string, date time.Time) string {
	return fmt.Sprintf("lock:doctor:%s:day:%s", doctorID, date.Format("2006-01-02"))
}

type redisDayLocker struct {
	client  *redis.Client
	ttl     time.Duration
	retries int
	backoff time.Duration
}

// NewRedisDayLocker creates a locker that uses a per doctor-day Redis key.
// A busy key is retried up to retries times before ErrLockNotAcquired.
func NewRedisDayLocker(client *redis.Client, ttl time.Duration, retries int) Locker {
	if retries < 0 {
		retries = 0
	}
	return &redisDayLocker{
		client:  client,
		ttl:     ttl,
		retries: retries,
		backoff: 25 * time.Millisecond,
	}
}

func (l *redisDayLocker) WithDayLock(ctx context.Context, doctorID string, date time.Time, fn func(ctx context.Context) error) error {
	key := DayKey(doctorID, date)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisDayLocker) acquire(ctx context.Context, key, token string) error {
	wait := l.backoff
	for attempt := 0; ; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire day lock: %w", err)
		}
		if ok {
			return nil
		}
		if attempt >= l.retries {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release day lock: %w", err)
	}
	return nil
}
