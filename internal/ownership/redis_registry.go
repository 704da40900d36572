package ownership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
)

// RedisConfig configures the Redis-backed registry.
type RedisConfig struct {
	Address           string        `mapstructure:"address"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	Prefix            string        `mapstructure:"ownership_prefix"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// Only touch a key while it still carries our value.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

var _ Registry = (*RedisRegistry)(nil)

type RedisRegistry struct {
	client            *redis.Client
	self              string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]chan struct{} // room -> closed when lost
	mu                sync.Mutex
	cancel            context.CancelFunc
}

func NewRedisRegistry(cfg RedisConfig, self string) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisRegistry(client, cfg, self), nil
}

func newRedisRegistry(client *redis.Client, cfg RedisConfig, self string) *RedisRegistry {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = 15 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.KeyTTL {
		cfg.HeartbeatInterval = cfg.KeyTTL / 3
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "live-relay"
	}
	return &RedisRegistry{
		client:            client,
		self:              self,
		prefix:            cfg.Prefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]chan struct{}),
	}
}

func (r *RedisRegistry) keyFor(roomID string) string {
	return fmt.Sprintf("%s:room:%s:owner", r.prefix, roomID)
}

func (r *RedisRegistry) Self() string { return r.self }

func (r *RedisRegistry) Claim(ctx context.Context, roomID string) (string, bool, error) {
	key := r.keyFor(roomID)

	ok, err := r.client.SetNX(ctx, key, r.self, r.keyTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim room %s: %w", roomID, err)
	}
	if !ok {
		owner, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; let the caller retry.
			return "", false, fmt.Errorf("claim room %s: %w", roomID, ErrNotFound)
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to lookup room owner: %w", err)
		}
		if owner != r.self {
			return owner, false, nil
		}
		// Still ours from an earlier claim.
	}

	r.mu.Lock()
	if _, held := r.managedKeys[roomID]; !held {
		r.managedKeys[roomID] = make(chan struct{})
	}
	r.mu.Unlock()

	l := log.L()
	l.Info().Str(log.FieldRoomID, roomID).Str(log.FieldOwner, r.self).Msg("claimed room ownership")
	return r.self, true, nil
}

func (r *RedisRegistry) Lost(roomID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.managedKeys[roomID]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (r *RedisRegistry) Release(ctx context.Context, roomID string) error {
	r.forget(roomID)

	if err := releaseScript.Run(ctx, r.client, []string{r.keyFor(roomID)}, r.self).Err(); err != nil {
		return fmt.Errorf("failed to release room %s: %w", roomID, err)
	}

	l := log.L()
	l.Info().Str(log.FieldRoomID, roomID).Msg("released room ownership")
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, roomID string) (string, error) {
	owner, err := r.client.Get(ctx, r.keyFor(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lookup room owner: %w", err)
	}
	return owner, nil
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("ownership heartbeat started")
	return nil
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.Lock()
	rooms := make([]string, 0, len(r.managedKeys))
	for roomID := range r.managedKeys {
		rooms = append(rooms, roomID)
	}
	r.mu.Unlock()

	ttl := r.keyTTL.Milliseconds()
	for _, roomID := range rooms {
		n, err := refreshScript.Run(ctx, r.client, []string{r.keyFor(roomID)}, r.self, ttl).Int()
		if err != nil {
			// Keep the claim; the next tick may get through before the TTL runs out.
			l := log.L()
			l.Error().Str(log.FieldRoomID, roomID).Err(err).Msg("failed to refresh room ownership")
			continue
		}
		if n == 0 {
			l := log.L()
			l.Warn().Str(log.FieldRoomID, roomID).Msg("room ownership lost")
			r.forget(roomID)
		}
	}
}

func (r *RedisRegistry) forget(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.managedKeys[roomID]; ok {
		close(ch)
		delete(r.managedKeys, roomID)
	}
}

func (r *RedisRegistry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Close stops the heartbeat and releases every claim still held.
func (r *RedisRegistry) Close() error {
	r.StopHeartbeat()

	r.mu.Lock()
	rooms := make([]string, 0, len(r.managedKeys))
	for roomID := range r.managedKeys {
		rooms = append(rooms, roomID)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, roomID := range rooms {
		if err := r.Release(ctx, roomID); err != nil {
			l := log.L()
			l.Warn().Str(log.FieldRoomID, roomID).Err(err).Msg("failed to release room on close")
		}
	}
	return r.client.Close()
}
