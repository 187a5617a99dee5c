package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/kernelctx/pkg/adapters/memory"
	"github.com/aretw0/kernelctx/pkg/adapters/redis"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/ports"
	"github.com/aretw0/kernelctx/pkg/relay"
	"github.com/aretw0/kernelctx/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunSnapshotStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_TTLExpiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Second))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.NewSessionState("ttl", "mimi")))
	assert.True(t, mr.Exists(redis.DefaultPrefix+"ttl"))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "ttl")

	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, "ttl")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:"))

	require.NoError(t, store.Save(context.Background(), domain.NewSessionState("abc", "pyciemss")))
	assert.True(t, mr.Exists("custom:abc"))
	assert.True(t, mr.Exists("custom:index"))
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "ctx-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:ctx-1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:ctx-1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "shared", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))

	unlock2, err := locker.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_StaleUnlockKeepsNewHolder(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	unlock2, err := locker.Lock(ctx, "k", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("test:lock:k"), "expired holder must not release the new lock")
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_HeldLockIsExtended(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "test:", redis.WithRefreshInterval(20*time.Millisecond))
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "long", time.Second)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		mr.FastForward(600 * time.Millisecond)
		time.Sleep(100 * time.Millisecond)
	}
	assert.True(t, mr.Exists("test:lock:long"))

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(waitCtx, "long", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:long"))
}

func TestSessionManager_LockHeldAcrossProcesses(t *testing.T) {
	mr, client := newClient(t)
	newManager := func() *session.Manager {
		locker := redis.NewLocker(client, redis.DefaultPrefix, redis.WithRefreshInterval(20*time.Millisecond))
		return session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))
	}
	a, b := newManager(), newManager()
	ctx := context.Background()

	entered := make(chan struct{})
	finish := make(chan struct{})
	held := make(chan error, 1)
	go func() {
		held <- a.WithLock(ctx, "ctx-1", func(context.Context) error {
			close(entered)
			<-finish
			return nil
		})
	}()
	<-entered

	for i := 0; i < 5; i++ {
		mr.FastForward(600 * time.Millisecond)
		time.Sleep(100 * time.Millisecond)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	ran := false
	err := b.WithLock(waitCtx, "ctx-1", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)

	close(finish)
	require.NoError(t, <-held)
	require.NoError(t, b.WithLock(ctx, "ctx-1", func(context.Context) error { return nil }))
}

func TestRedisPubSub_ForwardsToBroker(t *testing.T) {
	_, client := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := relay.NewBroker()
	events, unsubscribe := broker.Subscribe("ctx-9")
	defer unsubscribe()

	require.NoError(t, redis.NewSubscriber(client, "", nil).Forward(ctx, broker))

	parent := domain.NewHeader("save_results", "s")
	err := redis.NewPublisher(client, "").Publish(ctx, domain.Event{
		Channel:   domain.DefaultChannel,
		Type:      "save_results_response",
		ContextID: "ctx-9",
		Content:   map[string]any{"ok": true},
		Parent:    &parent,
	})
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, "save_results_response", evt.Type)
		assert.Equal(t, parent.MsgID, evt.Parent.MsgID)
		assert.Equal(t, true, evt.Content["ok"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}
}
