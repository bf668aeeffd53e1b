package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DetailCache holds wallet detail projections between mutations. Cache
// failures never fail a request.
//
// Generation returns a counter that Invalidate advances. Set stores a
// projection only while the counter still equals the value read before the
// projection was loaded, so a load that raced a mutation is never cached.
type DetailCache interface {
	Get(ctx context.Context, walletUID string) (Detail, bool)
	Generation(ctx context.Context, walletUID string) (int64, bool)
	Set(ctx context.Context, detail Detail, generation int64)
	Invalidate(ctx context.Context, walletUID string)
}

const (
	detailCachePrefix     = "wallet:detail:v1:"
	detailGenPrefix       = "wallet:detail:gen:v1:"
	defaultDetailCacheTTL = 30 * time.Second
)

var errStaleDetail = errors.New("wallet detail changed while loading")

// RedisDetailCache stores projections as JSON with a TTL.
type RedisDetailCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisDetailCache builds a Redis-backed cache. ttl <= 0 uses 30s.
func NewRedisDetailCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisDetailCache {
	if ttl <= 0 {
		ttl = defaultDetailCacheTTL
	}
	return &RedisDetailCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisDetailCache) Get(ctx context.Context, walletUID string) (Detail, bool) {
	raw, err := c.client.Get(ctx, detailCachePrefix+walletUID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("wallet detail cache read failed", slog.String("wallet_uid", walletUID), slog.Any("error", err))
		}
		return Detail{}, false
	}
	var d Detail
	if err := json.Unmarshal(raw, &d); err != nil {
		c.logger.Warn("wallet detail cache entry corrupt", slog.String("wallet_uid", walletUID), slog.Any("error", err))
		return Detail{}, false
	}
	return d, true
}

func (c *RedisDetailCache) Generation(ctx context.Context, walletUID string) (int64, bool) {
	gen, err := c.client.Get(ctx, detailGenPrefix+walletUID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		c.logger.Warn("wallet detail generation read failed", slog.String("wallet_uid", walletUID), slog.Any("error", err))
		return 0, false
	}
	return gen, true
}

func (c *RedisDetailCache) Set(ctx context.Context, d Detail, generation int64) {
	payload, err := json.Marshal(d)
	if err != nil {
		c.logger.Warn("wallet detail encode failed", slog.String("wallet_uid", d.Wallet.UID), slog.Any("error", err))
		return
	}

	genKey := detailGenPrefix + d.Wallet.UID
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return errStaleDetail
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, detailCachePrefix+d.Wallet.UID, payload, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleDetail), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("wallet detail changed during load, not cached", slog.String("wallet_uid", d.Wallet.UID))
	default:
		c.logger.Warn("wallet detail cache write failed", slog.String("wallet_uid", d.Wallet.UID), slog.Any("error", err))
	}
}

// Invalidate drops the projection and advances the generation in one
// transaction.
func (c *RedisDetailCache) Invalidate(ctx context.Context, walletUID string) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, detailCachePrefix+walletUID)
		pipe.Incr(ctx, detailGenPrefix+walletUID)
		return nil
	})
	if err != nil {
		c.logger.Warn("wallet detail cache invalidation failed", slog.String("wallet_uid", walletUID), slog.Any("error", err))
	}
}

// NoopCache disables detail caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (Detail, bool)       { return Detail{}, false }
func (NoopCache) Generation(context.Context, string) (int64, bool) { return 0, false }
func (NoopCache) Set(context.Context, Detail, int64)               {}
func (NoopCache) Invalidate(context.Context, string)               {}
