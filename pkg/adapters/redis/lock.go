package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// ErrLockAcquire is returned when the lock cannot be acquired.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

// DefaultPollInterval is how often a blocked Lock retries.
const DefaultPollInterval = 100 * time.Millisecond

// unlockScript deletes the lock only if this holder still owns it.
var unlockScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// refreshScript extends the lock only if this holder still owns it.
var refreshScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker implements ports.DistributedLocker using Redis SET NX PX.
// A held lock is extended every third of its TTL until it is released.
type Locker struct {
	client  *backend.Client
	prefix  string
	poll    time.Duration
	refresh time.Duration
	logger  *slog.Logger
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithRefreshInterval overrides how often a held lock is extended.
func WithRefreshInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		l.refresh = d
	}
}

// WithLockLogger reports locks lost while held.
func WithLockLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) {
		l.logger = logger
	}
}

// NewLocker creates a Redis locker. Lock keys are prefix + "lock:" + key.
func NewLocker(client *backend.Client, prefix string, opts ...LockerOption) *Locker {
	l := &Locker{
		client: client,
		prefix: prefix,
		poll:   DefaultPollInterval,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until the lock for key is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	acquire := func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrLockAcquire, err)
		}
		return ok, nil
	}

	ok, err := acquire()
	if err != nil {
		return nil, err
	}

	if !ok {
		ticker := time.NewTicker(l.poll)
		defer ticker.Stop()

		for !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				if ok, err = acquire(); err != nil {
					return nil, err
				}
			}
		}
	}

	renewCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(renewCtx, lockKey, token, ttl)
	}()

	return func(ctx context.Context) error {
		stop()
		<-done
		return unlockScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	}, nil
}

// keepAlive extends the lock until ctx is done or the lock is lost.
func (l *Locker) keepAlive(ctx context.Context, lockKey, token string, ttl time.Duration) {
	interval := l.refresh
	if interval <= 0 {
		interval = ttl / 3
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := refreshScript.Run(ctx, l.client, []string{lockKey}, token, ttl.Milliseconds()).Int()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, backend.ErrClosed):
			return
		case err != nil:
			l.logger.Warn("failed to extend distributed lock", "key", lockKey, "err", err)
		case n == 0:
			l.logger.Warn("distributed lock lost while held", "key", lockKey)
			return
		}
	}
}
