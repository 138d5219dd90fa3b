// Package readcache keeps versioned JSON snapshots of read models in Redis.
// Every mutation bumps the version of the namespaces it touched, which makes
// older keys unreachable without scanning for them.
package readcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Namespaces invalidated by ledger mutations.
const (
	NamespaceProducts = "products"
	NamespaceCatalog  = "catalog"
	NamespaceServices = "services"
	NamespaceFinance  = "finance"
)

// BumpChannel carries "<namespace>:<version>" payloads to every instance.
const BumpChannel = "glossbook.cache.bump"

const keyPrefix = "glossbook"

// Cache wraps Redis based caching with versioning controls.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New instantiates the cache helper. A nil client turns every read into a
// direct loader call.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func versionKey(namespace string) string {
	return fmt.Sprintf("%s:%s:version", keyPrefix, namespace)
}

// Version returns the current namespace version, initialising when missing.
func (c *Cache) Version(ctx context.Context, namespace string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(namespace)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(namespace), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(namespace)).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, versionKey(namespace), ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the current namespace version.
func (c *Cache) BuildKey(ctx context.Context, namespace string, parts ...string) (string, error) {
	joined := strings.Join(append([]string{keyPrefix, namespace}, parts...), ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, namespace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent
// misses on the same key share one loader call. Redis failures degrade to the
// loader so reads never depend on the cache being up.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("readcache: loader required")
	}
	if c == nil || c.client == nil {
		return decodeInto(ctx, loader, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("read cache get", slog.String("key", key), slog.Any("error", err))
		return decodeInto(ctx, loader, dest)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("read cache set", slog.String("key", key), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates the namespaces by incrementing their versions and publishing an event.
func (c *Cache) Bump(ctx context.Context, namespaces ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	var errs []error
	for _, ns := range namespaces {
		ver, err := c.client.Incr(ctx, versionKey(ns)).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("bump %s: %w", ns, err))
			continue
		}
		if err := c.client.Publish(ctx, BumpChannel, fmt.Sprintf("%s:%d", ns, ver)).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", ns, err))
		}
	}
	return errors.Join(errs...)
}

// Invalidate bumps the namespaces and logs instead of failing. Mutations call
// it after commit, when there is nothing left to roll back.
func (c *Cache) Invalidate(ctx context.Context, namespaces ...string) error {
	err := c.Bump(ctx, namespaces...)
	if err != nil && c != nil {
		c.logger.Warn("read cache invalidation failed", slog.Any("namespaces", namespaces), slog.Any("error", err))
	}
	return err
}

// ListenForInvalidation subscribes to version bumps published by other
// instances and calls onBump for each namespace. The subscription ends with ctx.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(namespace string, version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ns, ver, ok := parseBump(msg.Payload)
				if !ok {
					c.logger.Warn("read cache bad bump payload", slog.String("payload", msg.Payload))
					continue
				}
				if onBump != nil {
					onBump(ns, ver)
				}
			}
		}
	}()
	return nil
}

func parseBump(payload string) (string, int64, bool) {
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		return "", 0, false
	}
	var ver int64
	if _, err := fmt.Sscanf(payload[idx+1:], "%d", &ver); err != nil {
		return "", 0, false
	}
	return payload[:idx], ver, true
}

func decodeInto(ctx context.Context, loader func(context.Context) (any, error), dest any) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
