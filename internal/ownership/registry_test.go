package ownership

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercise runs the same claim/lookup/release sequence against any
// implementation. a and b are two nodes sharing one keyspace.
func exercise(t *testing.T, a, b Registry, expire func(roomID string)) {
	ctx := context.Background()
	room := "alice-" + uuid.NewString()

	_, err := a.Lookup(ctx, room)
	require.ErrorIs(t, err, ErrNotFound)

	owner, claimed, err := a.Claim(ctx, room)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, a.Self(), owner)

	owner, claimed, err = b.Claim(ctx, room)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, a.Self(), owner)

	// Reclaiming our own room is fine.
	_, claimed, err = a.Claim(ctx, room)
	require.NoError(t, err)
	assert.True(t, claimed)

	got, err := b.Lookup(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, a.Self(), got)

	lost := a.Lost(room)
	select {
	case <-lost:
		t.Fatal("lost before release")
	default:
	}

	// Only the owner's release deletes the claim.
	require.NoError(t, b.Release(ctx, room))
	got, err = a.Lookup(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, a.Self(), got)

	require.NoError(t, a.Release(ctx, room))
	<-lost
	_, err = b.Lookup(ctx, room)
	require.ErrorIs(t, err, ErrNotFound)

	_, claimed, err = b.Claim(ctx, room)
	require.NoError(t, err)
	assert.True(t, claimed)

	if expire != nil {
		lost = b.Lost(room)
		expire(room)
		select {
		case <-lost:
		case <-time.After(5 * time.Second):
			t.Fatal("expired claim was not reported as lost")
		}
	}
}

func TestMemoryRegistry(t *testing.T) {
	store := NewMemoryStore()
	exercise(t, store.Node("node-a"), store.Node("node-b"), store.Expire)
}

func TestMemoryRegistryLostForUnheldRoom(t *testing.T) {
	reg := NewMemoryStore().Node("node-a")
	select {
	case <-reg.Lost("nobody"):
	default:
		t.Fatal("unheld room should report lost")
	}
}

func TestMemoryRegistryCloseReleasesClaims(t *testing.T) {
	store := NewMemoryStore()
	a, b := store.Node("node-a"), store.Node("node-b")
	ctx := context.Background()

	_, claimed, err := a.Claim(ctx, "alice")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, a.Close())

	_, claimed, err = b.Claim(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, claimed)
}

// Runs against a real server when LIVE_RELAY_TEST_REDIS is set, e.g.
// LIVE_RELAY_TEST_REDIS=localhost:6379.
func TestRedisRegistry(t *testing.T) {
	addr := os.Getenv("LIVE_RELAY_TEST_REDIS")
	if addr == "" {
		t.Skip("LIVE_RELAY_TEST_REDIS not set")
	}

	cfg := RedisConfig{
		Address:           addr,
		Prefix:            "live-relay-test",
		KeyTTL:            2 * time.Second,
		HeartbeatInterval: 100 * time.Millisecond,
	}
	a, err := NewRedisRegistry(cfg, "node-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisRegistry(cfg, "node-b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.StartHeartbeat(context.Background()))

	admin := redis.NewClient(&redis.Options{Addr: addr})
	defer admin.Close()

	exercise(t, a, b, func(roomID string) {
		// Another node overwriting the key is how ownership is lost in practice.
		require.NoError(t, admin.Set(context.Background(), b.keyFor(roomID), "node-c", time.Minute).Err())
	})
}
