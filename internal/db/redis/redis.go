// Package redis implements kv.Backend on a Redis hash, with change
// notifications fanned out across processes over pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/promptshelf/internal/kv"
)

// maxTxRetries bounds optimistic-lock retries when another writer races a Set.
const maxTxRetries = 8

// ErrConflict is returned when a write keeps losing WATCH races.
var ErrConflict = errors.New("concurrent modification, retries exhausted")

// Config holds connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string // namespaces the item hash and the change channel
	MaxIdle     int
	MaxActive   int
	IdleTimeout time.Duration
}

// Backend stores every item as a field of one hash, so the quota check and
// write happen under a single WATCH.
type Backend struct {
	kv.Listeners

	pool    *redis.Pool
	limits  kv.Limits
	hash    string
	channel string
	origin  string
}

var (
	_ kv.Backend  = (*Backend)(nil)
	_ kv.Notifier = (*Backend)(nil)
	_ kv.Closer   = (*Backend)(nil)
)

// New creates a pooled backend and verifies connectivity.
func New(ctx context.Context, cfg Config, limits kv.Limits) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}

	opts := []redis.DialOption{redis.DialDatabase(cfg.DB)}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}

	pool := &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		MaxActive:   cfg.MaxActive,
		IdleTimeout: cfg.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	b := &Backend{
		pool:    pool,
		limits:  limits,
		hash:    cfg.Prefix + "items",
		channel: cfg.Prefix + "changes",
		origin:  uuid.New().String(),
	}
	if err := b.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	log.Info().Str("addr", cfg.Addr).Str("hash", b.hash).Msg("Redis backend connected")
	return b, nil
}

// Ping verifies the server is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases pooled connections.
func (b *Backend) Close() error {
	return b.pool.Close()
}

// Get implements kv.Backend.
func (b *Backend) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if keys != nil && len(keys) == 0 {
		return out, ctx.Err()
	}

	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	if keys == nil {
		all, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", b.hash))
		if err != nil {
			return nil, fmt.Errorf("redis hgetall: %w", err)
		}
		for k, v := range all {
			out[k] = []byte(v)
		}
		return out, nil
	}

	args := redis.Args{}.Add(b.hash).AddFlat(keys)
	values, err := redis.ByteSlices(redis.DoContext(conn, ctx, "HMGET", args...))
	if err != nil {
		return nil, fmt.Errorf("redis hmget: %w", err)
	}
	for i, v := range values {
		if v != nil {
			out[keys[i]] = v
		}
	}
	return out, nil
}

// Set implements kv.Backend.
func (b *Backend) Set(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return ctx.Err()
	}

	keys := kv.Keys(items)
	err := b.watched(ctx, func(conn redis.Conn, current map[string]int) error {
		if err := b.limits.Check(current, items); err != nil {
			return err
		}
		args := redis.Args{}.Add(b.hash)
		for _, k := range keys {
			args = args.Add(k, items[k])
		}
		return conn.Send("HSET", args...)
	})
	if err != nil {
		return err
	}

	b.changed(ctx, keys)
	return nil
}

// Remove implements kv.Backend.
func (b *Backend) Remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return ctx.Err()
	}

	var removed []string
	err := b.watched(ctx, func(conn redis.Conn, current map[string]int) error {
		removed = removed[:0]
		for _, k := range keys {
			if _, ok := current[k]; ok {
				removed = append(removed, k)
			}
		}
		if len(removed) == 0 {
			return nil
		}
		return conn.Send("HDEL", redis.Args{}.Add(b.hash).AddFlat(removed)...)
	})
	if err != nil {
		return err
	}

	b.changed(ctx, removed)
	return nil
}

// Clear implements kv.Backend.
func (b *Backend) Clear(ctx context.Context) error {
	var removed []string
	err := b.watched(ctx, func(conn redis.Conn, current map[string]int) error {
		removed = removed[:0]
		for k := range current {
			removed = append(removed, k)
		}
		sort.Strings(removed)
		return conn.Send("DEL", b.hash)
	})
	if err != nil {
		return err
	}

	b.changed(ctx, removed)
	return nil
}

// watched runs queue inside WATCH/MULTI/EXEC on the item hash, retrying when
// another client modified it between the read and the EXEC. queue receives
// the current item sizes and sends the write commands.
func (b *Backend) watched(ctx context.Context, queue func(conn redis.Conn, current map[string]int) error) error {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer conn.Close()

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := redis.DoContext(conn, ctx, "WATCH", b.hash); err != nil {
			return fmt.Errorf("redis watch: %w", err)
		}

		all, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", b.hash))
		if err != nil {
			_, _ = conn.Do("UNWATCH")
			return fmt.Errorf("redis hgetall: %w", err)
		}
		current := make(map[string]int, len(all))
		for k, v := range all {
			current[k] = kv.ItemSize(k, []byte(v))
		}

		if err := conn.Send("MULTI"); err != nil {
			return fmt.Errorf("redis multi: %w", err)
		}
		if err := queue(conn, current); err != nil {
			_, _ = conn.Do("DISCARD")
			return err
		}

		_, err = redis.Values(redis.DoContext(conn, ctx, "EXEC"))
		if errors.Is(err, redis.ErrNil) {
			log.Debug().Int("attempt", attempt+1).Msg("Redis transaction aborted by concurrent write, retrying")
			continue
		}
		if err != nil {
			return fmt.Errorf("redis exec: %w", err)
		}
		return nil
	}
	return ErrConflict
}

// changed notifies local listeners and publishes keys for other processes.
func (b *Backend) changed(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	b.Notify(keys)

	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to publish storage change")
		return
	}
	defer conn.Close()

	msg := b.origin + "\n" + strings.Join(keys, "\n")
	if _, err := redis.DoContext(conn, ctx, "PUBLISH", b.channel, msg); err != nil {
		log.Warn().Err(err).Msg("Failed to publish storage change")
	}
}

// Subscribe relays changes published by other processes to the local
// listeners until ctx is done.
func (b *Backend) Subscribe(ctx context.Context) error {
	conn, err := b.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	psc := redis.PubSubConn{Conn: conn}
	defer psc.Close()

	if err := psc.Subscribe(b.channel); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	for {
		switch v := psc.ReceiveContext(ctx).(type) {
		case redis.Message:
			origin, keys := parseChange(v.Data)
			if origin == b.origin || len(keys) == 0 {
				continue
			}
			log.Debug().Strs("keys", keys).Msg("Storage changed by another process")
			b.Notify(keys)
		case redis.Subscription:
			log.Debug().Str("channel", v.Channel).Str("kind", v.Kind).Msg("Redis subscription")
		case error:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("redis receive: %w", v)
		}
	}
}

func parseChange(data []byte) (string, []string) {
	parts := strings.Split(string(data), "\n")
	if len(parts) < 2 {
		return "", nil
	}
	return parts[0], parts[1:]
}
