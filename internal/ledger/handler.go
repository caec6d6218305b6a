package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/apperrors"
)

const (
	// CallerLocal is the fiber.Ctx locals key the transport layer stores the Caller under.
	CallerLocal = "ledger.caller"
	// CommittedLocal is set to true when a failed request still committed relational effects.
	CommittedLocal = "ledger.committed"
)

// Handler exposes account and movement endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createAccountRequest struct {
	Currency    string `json:"currency"`
	AccountType string `json:"account_type"`
	Timezone    string `json:"timezone"`
}

type movementRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transaction_type"`
	Currency        string          `json:"currency"`
}

type rateRequest struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Rate  decimal.Decimal `json:"rate"`
}

// StatusFor maps a service error onto an HTTP status and client-facing message. Anything outside
// the client-correctable kinds is reported as an internal error without detail.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrNotOwner):
		return http.StatusForbidden, apperrors.ErrNotOwner.Error()
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		attrs := []any{slog.String("path", c.Path()), slog.Any("error", err)}
		var partial *apperrors.PartialCommitError
		if errors.As(err, &partial) {
			c.Locals(CommittedLocal, true)
			attrs = append(attrs, slog.Any("block_ids", partial.BlockIDs))
		}
		if reqID, ok := c.Locals("X-Request-ID").(string); ok {
			attrs = append(attrs, slog.String("request_id", reqID))
		}
		h.logger.Error("ledger request failed", attrs...)
	}
	return fiber.NewError(status, msg)
}

// accountID copies the route parameter; fiber reuses the request buffer it points into.
func accountID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}

func callerOf(c *fiber.Ctx) Caller {
	caller, _ := c.Locals(CallerLocal).(Caller)
	return caller
}

// CreateAccount opens an account for the caller.
func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	var req createAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	opening, err := h.service.CreateAccount(c.UserContext(), CreateAccountInput{
		Currency:    req.Currency,
		AccountType: req.AccountType,
		Timezone:    req.Timezone,
	}, callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(opening)
}

// FindAccount returns the account and its wallets.
func (h *Handler) FindAccount(c *fiber.Ctx) error {
	view, err := h.service.FindAccount(c.UserContext(), accountID(c), callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// UpdateAccount applies a partial update.
func (h *Handler) UpdateAccount(c *fiber.Ctx) error {
	var req AccountChanges
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.service.UpdateAccount(c.UserContext(), accountID(c), req, callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(account)
}

func (h *Handler) Freeze(c *fiber.Ctx) error {
	account, err := h.service.Freeze(c.UserContext(), accountID(c), callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(account)
}

func (h *Handler) Lock(c *fiber.Ctx) error {
	account, err := h.service.Lock(c.UserContext(), accountID(c), callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(account)
}

func (h *Handler) Unlock(c *fiber.Ctx) error {
	account, err := h.service.Unlock(c.UserContext(), accountID(c), callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(account)
}

// Debit charges the caller's account.
func (h *Handler) Debit(c *fiber.Ctx) error {
	return h.movement(c, h.service.Debit)
}

// Credit funds an account.
func (h *Handler) Credit(c *fiber.Ctx) error {
	return h.movement(c, h.service.Credit)
}

func (h *Handler) movement(c *fiber.Ctx, run func(context.Context, MovementInput, Caller) (Receipt, error)) error {
	var req movementRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	receipt, err := run(c.UserContext(), MovementInput{
		AccountID:       accountID(c),
		Amount:          req.Amount,
		TransactionType: req.TransactionType,
		Currency:        req.Currency,
	}, callerOf(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(receipt)
}

// SaveRate stores a conversion rate.
func (h *Handler) SaveRate(c *fiber.Ctx) error {
	var req rateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rate, err := h.service.SaveRate(c.UserContext(), req.Base, req.Quote, req.Rate)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(rate)
}

// Chain returns the caller's verified chain.
func (h *Handler) Chain(c *fiber.Ctx) error {
	caller := callerOf(c)
	if caller.Fingerprint == "" {
		return fiber.NewError(http.StatusBadRequest, "caller fingerprint is required")
	}
	stamps, err := h.service.ChainOf(c.UserContext(), caller.Fingerprint)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"subject": caller.Fingerprint, "chain": stamps})
}
