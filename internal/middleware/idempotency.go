package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kittybank/kitty/internal/auth"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
	idempotencyPrefix         = "idempotency:v2:"
	idempotencyOpTimeout      = 2 * time.Second
	maxIdempotencyKeyLength   = 128
)

// movement is what a money movement request left behind under its key: a
// pending marker while the handler runs, then the response it produced.
type movement struct {
	Fingerprint string `json:"fingerprint"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type movementStore struct {
	client *redis.Client
	ttl    time.Duration
}

func (s *movementStore) key(userID, idemKey string) string {
	return idempotencyPrefix + userID + ":" + idemKey
}

// reserve claims key for fingerprint. When the key is taken it returns the
// movement already stored there.
func (s *movementStore) reserve(ctx context.Context, key, fingerprint string) (bool, movement, error) {
	pending, err := json.Marshal(movement{Fingerprint: fingerprint, Pending: true})
	if err != nil {
		return false, movement{}, err
	}
	ok, err := s.client.SetNX(ctx, key, pending, s.ttl).Result()
	if err != nil || ok {
		return ok, movement{}, err
	}

	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; the caller retries later.
		return false, movement{Fingerprint: fingerprint, Pending: true}, nil
	}
	if err != nil {
		return false, movement{}, err
	}
	var prior movement
	if err := json.Unmarshal(raw, &prior); err != nil {
		return false, movement{}, fmt.Errorf("decode stored movement: %w", err)
	}
	return false, prior, nil
}

func (s *movementStore) save(ctx context.Context, key string, m movement) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, s.ttl).Err()
}

func (s *movementStore) release(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	return s.client.Del(ctx, key).Err()
}

// requestFingerprint binds a key to the exact movement it was first used
// for: method, path (which names the wallet) and body.
func requestFingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte{0})
	h.Write([]byte(c.Path()))
	h.Write([]byte{0})
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

// Idempotency makes money movements safe to retry. The first request under
// a caller's Idempotency-Key runs; while it runs, repeats get 409. Once it
// succeeds its response is replayed for the key's lifetime, and reusing the
// key for a different request is refused with 422. Failed requests release
// the key so the client can retry.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := &movementStore{client: cache, ttl: ttl}

	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		idemKey := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if idemKey == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		if len(idemKey) > maxIdempotencyKeyLength {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}

		userID := auth.FromCtx(c).UserID
		key := store.key(userID, idemKey)
		fingerprint := requestFingerprint(c)
		log := logger.With(slog.String("user_id", userID), slog.String("idempotency_key", idemKey))

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer cancel()

		reserved, prior, err := store.reserve(ctx, key, fingerprint)
		if err != nil {
			log.Error("idempotency reservation failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if !reserved {
			return replay(c, prior, fingerprint)
		}

		if err := c.Next(); err != nil {
			if rerr := store.release(key); rerr != nil {
				log.Warn("idempotency release failed", slog.Any("error", rerr))
			}
			return err
		}

		status := c.Response().StatusCode()
		if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
			if rerr := store.release(key); rerr != nil {
				log.Warn("idempotency release failed", slog.Any("error", rerr))
			}
			return nil
		}

		done := movement{
			Fingerprint: fingerprint,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer persistCancel()
		if err := store.save(persistCtx, key, done); err != nil {
			// The pending marker stays until ttl, so retries get 409 and
			// never move the money a second time.
			log.Error("failed to persist idempotent response", slog.Any("error", err))
		}
		return nil
	}
}

func replay(c *fiber.Ctx, prior movement, fingerprint string) error {
	if prior.Fingerprint != fingerprint {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key was already used for a different request")
	}
	if prior.Pending {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}
	if prior.ContentType != "" {
		c.Set(fiber.HeaderContentType, prior.ContentType)
	}
	c.Set(idempotencyReplayedHeader, "true")
	return c.Status(prior.Status).Send(prior.Body)
}
