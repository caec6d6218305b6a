package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/xrfq/chain_ledger/internal/ledger"
)

// Audit emits one structured log line per request. Server errors log at error level even when
// an inner middleware already rendered them.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID, _ := c.Locals(requestIDHeader).(string); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if caller, ok := c.Locals(ledger.CallerLocal).(ledger.Caller); ok && caller.Fingerprint != "" {
			attrs = append(attrs, slog.String("fingerprint", caller.Fingerprint))
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request completed", attrs...)
		} else {
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
