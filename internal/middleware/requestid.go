package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/xrfq/chain_ledger/internal/chain"
)

const requestIDHeader = "X-Request-ID"

// RequestID ensures each request carries an identifier for tracing, logging and audit rows.
// Client supplied ids are kept; otherwise a time-ordered id is generated and echoed back.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := utils.CopyString(c.Get(requestIDHeader))
		if reqID == "" {
			reqID = chain.NewID()
		}
		c.Set(requestIDHeader, reqID)
		c.Locals(requestIDHeader, reqID)
		return c.Next()
	}
}
