package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	atomicio "github.com/sawpanic/edgerun/internal/io"
)

// ErrNotFound is returned when no state has been stored yet
var ErrNotFound = errors.New("policy state not found")

// Store persists provisional and runtime policy state
type Store interface {
	SaveProvisional(ctx context.Context, s *ProvisionalState) error
	LoadProvisional(ctx context.Context) (*ProvisionalState, error)
	SaveRuntime(ctx context.Context, s *RuntimeState) error
	LoadRuntime(ctx context.Context) (*RuntimeState, error)
}

// FileStore keeps each state as a JSON file written atomically
type FileStore struct {
	ProvisionalPath string
	RuntimePath     string
}

// NewFileStore stores states at the given paths
func NewFileStore(provisionalPath, runtimePath string) *FileStore {
	return &FileStore{ProvisionalPath: provisionalPath, RuntimePath: runtimePath}
}

func (f *FileStore) SaveProvisional(_ context.Context, s *ProvisionalState) error {
	return atomicio.WriteJSONAtomic(f.ProvisionalPath, s)
}

func (f *FileStore) LoadProvisional(_ context.Context) (*ProvisionalState, error) {
	var s ProvisionalState
	if err := readState(f.ProvisionalPath, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FileStore) SaveRuntime(_ context.Context, s *RuntimeState) error {
	return atomicio.WriteJSONAtomic(f.RuntimePath, s)
}

func (f *FileStore) LoadRuntime(_ context.Context) (*RuntimeState, error) {
	var s RuntimeState
	if err := readState(f.RuntimePath, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func readState(path string, v any) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return atomicio.ReadJSON(path, v)
}

// Redis keys and channel, relative to the store prefix
const (
	keyProvisional = "policy:provisional"
	keyRuntime     = "policy:runtime"
	channelRuntime = "policy:runtime:updates"
	defaultPrefix  = "edgerun:"
)

// RedisStore shares policy state with runtime consumers through redis.
// Provisional state expires with its validity window; each runtime decision
// is also published on the updates channel.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStore uses client with keys under prefix ("edgerun:" when empty)
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// DialRedis opens a client for addr and checks it responds
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return c, nil
}

// Channel is the pub/sub channel carrying runtime decisions
func (r *RedisStore) Channel() string { return r.prefix + channelRuntime }

func (r *RedisStore) SaveProvisional(ctx context.Context, s *ProvisionalState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := s.ValidUntil.Sub(r.now())
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.prefix+keyProvisional, string(data), ttl).Err()
}

func (r *RedisStore) LoadProvisional(ctx context.Context) (*ProvisionalState, error) {
	var s ProvisionalState
	if err := r.get(ctx, r.prefix+keyProvisional, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) SaveRuntime(ctx context.Context, s *RuntimeState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+keyRuntime, string(data), 0).Err(); err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(), string(data)).Err()
}

func (r *RedisStore) LoadRuntime(ctx context.Context) (*RuntimeState, error) {
	var s RuntimeState
	if err := r.get(ctx, r.prefix+keyRuntime, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) get(ctx context.Context, key string, v any) error {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return err
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// MultiStore writes to every store and reads from the first
type MultiStore []Store

func (m MultiStore) SaveProvisional(ctx context.Context, s *ProvisionalState) error {
	for _, st := range m {
		if err := st.SaveProvisional(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiStore) LoadProvisional(ctx context.Context) (*ProvisionalState, error) {
	return m[0].LoadProvisional(ctx)
}

func (m MultiStore) SaveRuntime(ctx context.Context, s *RuntimeState) error {
	for _, st := range m {
		if err := st.SaveRuntime(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiStore) LoadRuntime(ctx context.Context) (*RuntimeState, error) {
	return m[0].LoadRuntime(ctx)
}
