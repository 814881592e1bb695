// Package redisstore keeps recovery checkpoints in Redis. Each document
// is one string key under a per-state prefix, and the session lock is a
// SET NX key with a TTL that every write refreshes.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := redisstore.New(client, redisstore.WithNamespace("render-farm"))
//	mgr := recovery.NewManager(store, q, tracker)
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/batch"
	"github.com/xraph/batch/id"
	"github.com/xraph/batch/recovery"
)

// Compile-time interface checks.
var (
	_ recovery.Store  = (*Store)(nil)
	_ recovery.Locker = (*Store)(nil)
)

// DefaultLockTTL bounds how long a crashed owner keeps the lock.
const DefaultLockTTL = 30 * time.Second

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithNamespace separates several state sets in one Redis database.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.namespace = ns }
}

// WithLockTTL sets the session lock lifetime.
func WithLockTTL(d time.Duration) Option {
	return func(s *Store) { s.lockTTL = d }
}

// Store implements recovery.Store backed by Redis.
type Store struct {
	client    goredis.Cmdable
	logger    *slog.Logger
	namespace string
	lockTTL   time.Duration
	owner     string

	mu     sync.Mutex
	locked bool
}

// New creates a Redis-backed checkpoint store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		namespace: "default",
		lockTTL:   DefaultLockTTL,
		owner:     id.NewEngineID().String(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Write stores a document. A single SET is atomic for readers.
func (s *Store) Write(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, docKey(s.namespace, name), data, 0).Err(); err != nil {
		return fmt.Errorf("batch/redis: write %s: %w", name, err)
	}
	s.refresh(ctx)
	return nil
}

// Read returns a document, or recovery.ErrNotFound.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, docKey(s.namespace, name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", recovery.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("batch/redis: read %s: %w", name, err)
	}
	return data, nil
}

// Delete removes documents.
func (s *Store) Delete(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = docKey(s.namespace, name)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("batch/redis: delete: %w", err)
	}
	return nil
}

// Lock takes the namespace lock. Locking again as the current owner
// extends the TTL.
func (s *Store) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockKey(s.namespace)
	ok, err := s.client.SetNX(ctx, key, s.owner, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("batch/redis: lock setnx: %w", err)
	}
	if ok {
		s.locked = true
		return nil
	}

	current, err := s.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("batch/redis: lock get: %w", err)
	}
	if current != s.owner {
		return fmt.Errorf("%w: held by %s", batch.ErrSessionLocked, current)
	}
	if err := s.client.Expire(ctx, key, s.lockTTL).Err(); err != nil {
		s.logger.Warn("failed to extend checkpoint lock", slog.Any("error", err))
	}
	s.locked = true
	return nil
}

// Unlock releases the lock if this store still owns it.
func (s *Store) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return nil
	}
	s.locked = false

	ctx := context.Background()
	key := lockKey(s.namespace)
	current, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("batch/redis: unlock get: %w", err)
	}
	if current != s.owner {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("batch/redis: unlock: %w", err)
	}
	return nil
}

// refresh extends a held lock after a successful write.
func (s *Store) refresh(ctx context.Context) {
	s.mu.Lock()
	locked := s.locked
	s.mu.Unlock()
	if !locked {
		return
	}
	if err := s.client.Expire(ctx, lockKey(s.namespace), s.lockTTL).Err(); err != nil {
		s.logger.Warn("failed to extend checkpoint lock", slog.Any("error", err))
	}
}
