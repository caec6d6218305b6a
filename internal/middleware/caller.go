package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/xrfq/chain_ledger/internal/ledger"
)

const (
	fingerprintHeader = "X-User-Fingerprint"
	timezoneHeader    = "X-User-Timezone"
)

// Caller stores the request's ledger.Caller for handlers. Authentication happens upstream; the
// fingerprint header is trusted as is. Header values are copied because the ledger keeps them
// after the request buffer is reused.
func Caller() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(requestIDHeader).(string)
		c.Locals(ledger.CallerLocal, ledger.Caller{
			Fingerprint: utils.CopyString(c.Get(fingerprintHeader)),
			Timezone:    utils.CopyString(c.Get(timezoneHeader)),
			RequestID:   reqID,
			RequestIP:   utils.CopyString(c.IP()),
			UserAgent:   utils.CopyString(c.Get(fiber.HeaderUserAgent)),
		})
		return c.Next()
	}
}
