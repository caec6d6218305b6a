package middleware

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/xrfq/chain_ledger/internal/ledger"
)

const rateLimitPrefix = "rl:movement:"

// MovementRateLimit caps money movements per caller per minute using a Redis counter. It falls
// back to the client IP when no fingerprint is present and fails open on cache errors.
func MovementRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		caller, _ := c.Locals(ledger.CallerLocal).(ledger.Caller)
		who := caller.Fingerprint
		if who == "" {
			who = c.IP()
		}
		key := rateLimitPrefix + who

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many ledger operations, try again later")
		}
		return c.Next()
	}
}
