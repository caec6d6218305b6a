package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/xrfq/chain_ledger/internal/ledger"
)

// RegisterLedgerRoutes wires account, movement, rate and chain endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler, limit fiber.Handler) {
	accounts := r.Group("/accounts")
	accounts.Post("/", h.CreateAccount)
	accounts.Get("/:id", h.FindAccount)
	accounts.Patch("/:id", h.UpdateAccount)
	accounts.Post("/:id/freeze", h.Freeze)
	accounts.Post("/:id/lock", h.Lock)
	accounts.Post("/:id/unlock", h.Unlock)
	accounts.Post("/:id/debit", limit, h.Debit)
	accounts.Post("/:id/credit", limit, h.Credit)

	// Operator-only: rates feed commission conversion and nothing here checks who sets them.
	// Deployments must expose this route only through a gateway restricted to operators.
	r.Put("/rates", h.SaveRate)
	r.Get("/chain", h.Chain)
}
