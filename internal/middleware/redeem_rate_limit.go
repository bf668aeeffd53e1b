package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kittybank/kitty/internal/auth"
)

const defaultRedeemAttemptsPerMinute = 10

// RedeemRateLimit caps redemption attempts per caller (or IP for anonymous
// requests) using a Redis counter per minute, which keeps code guessing slow.
func RedeemRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = defaultRedeemAttemptsPerMinute
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		subject := auth.FromCtx(c).UserID
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:redeem:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many redemption attempts, try again later")
		}
		return c.Next()
	}
}
