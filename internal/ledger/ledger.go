package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
)

// AccountType classifies what an account is used for.
type AccountType string

const (
	AccountNormal    AccountType = "Normal"
	AccountWallet    AccountType = "Wallet"
	AccountEscrow    AccountType = "Escrow"
	AccountSystemFee AccountType = "SystemFee"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "Active"
	StatusFrozen   AccountStatus = "Frozen"
	StatusInactive AccountStatus = "Inactive"
)

// EntryType is the side of a ledger entry.
type EntryType string

const (
	EntryDebit          EntryType = "Debit"
	EntryCredit         EntryType = "Credit"
	EntryInitialization EntryType = "Initialization"
)

// TransactionType tags the business reason for a balance movement.
type TransactionType string

const (
	TxPayment        TransactionType = "Payment"
	TxTransfer       TransactionType = "Transfer"
	TxReversal       TransactionType = "Reversal"
	TxCommission     TransactionType = "Commission"
	TxCorrection     TransactionType = "Correction"
	TxInitialization TransactionType = "Initialization"
)

// TransactionCompleted is the only status a saga ever records; failed sagas leave no row.
const TransactionCompleted = "Completed"

func parseEnum[T ~string](kind, s string, values ...T) (T, error) {
	for _, v := range values {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	var zero T
	return zero, apperrors.InvalidArgument("unknown %s %q", kind, s)
}

// ParseAccountType maps s onto an AccountType, ignoring case.
func ParseAccountType(s string) (AccountType, error) {
	return parseEnum("account type", s, AccountNormal, AccountWallet, AccountEscrow, AccountSystemFee)
}

// ParseAccountStatus maps s onto an AccountStatus, ignoring case.
func ParseAccountStatus(s string) (AccountStatus, error) {
	return parseEnum("account status", s, StatusActive, StatusFrozen, StatusInactive)
}

// ParseTransactionType maps s onto a TransactionType, ignoring case.
func ParseTransactionType(s string) (TransactionType, error) {
	return parseEnum("transaction type", s, TxPayment, TxTransfer, TxReversal, TxCommission, TxCorrection, TxInitialization)
}

// MustBePositive reports whether the type moves value and therefore needs amount > 0.
func (t TransactionType) MustBePositive() bool {
	switch t {
	case TxPayment, TxTransfer, TxCommission:
		return true
	}
	return false
}

// ValidateAmount enforces the per-type amount rules.
func (t TransactionType) ValidateAmount(amount decimal.Decimal) error {
	switch {
	case t == TxInitialization:
		if !amount.IsZero() {
			return apperrors.InvalidArgument("initialization amount must be zero")
		}
	case t.MustBePositive():
		if !amount.IsPositive() {
			return apperrors.InvalidArgument("amount must be greater than zero for %s", t)
		}
	default:
		if amount.IsNegative() {
			return apperrors.InvalidArgument("amount cannot be negative for %s", t)
		}
	}
	return nil
}

// Account is a customer or system account. Money lives in its WalletHoldings.
type Account struct {
	ID               string            `json:"id"`
	OwnerFingerprint string            `json:"owner_fingerprint"`
	Currency         currency.Currency `json:"currency"`
	Type             AccountType       `json:"account_type"`
	Status           AccountStatus     `json:"status"`
	Locked           bool              `json:"locked"`
	Timezone         string            `json:"timezone"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CheckOperable rejects locked, frozen and inactive accounts.
func (a Account) CheckOperable() error {
	if a.Locked {
		return apperrors.InvalidRecordState("account %s is locked", a.ID)
	}
	if a.Status != StatusActive {
		return apperrors.InvalidRecordState("account %s is %s", a.ID, strings.ToLower(string(a.Status)))
	}
	return nil
}

func (a Account) String() string {
	return fmt.Sprintf("Account{id=%s, type=%s, currency=%s, status=%s}", a.ID, a.Type, a.Currency, a.Status)
}

// WalletHolding is the current balance of one account in one currency.
type WalletHolding struct {
	AccountID string            `json:"account_id"`
	Currency  currency.Currency `json:"currency"`
	Balance   decimal.Decimal   `json:"balance"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"modification_time"`
}

// NewWalletHolding returns an empty holding.
func NewWalletHolding(accountID string, cur currency.Currency) WalletHolding {
	now := time.Now().UTC()
	return WalletHolding{AccountID: accountID, Currency: cur, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
}

// Debit subtracts amount, refusing to go below zero.
func (w *WalletHolding) Debit(amount decimal.Decimal) error {
	if w.Balance.LessThan(amount) {
		return apperrors.InvalidArgument("insufficient funds: balance %s, requested %s", w.Balance, amount)
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// Credit adds amount.
func (w *WalletHolding) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
}

// LedgerEntry is an append-only record against one account. Corrections are new entries.
type LedgerEntry struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	TransactionID  string    `json:"transaction_id"`
	EntryType      EntryType `json:"entry_type"`
	SequenceNumber int64     `json:"sequence_number"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
}

// Transaction records one balance movement.
type Transaction struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Currency  currency.Currency `json:"currency"`
	Amount    decimal.Decimal   `json:"amount"`
	Type      TransactionType   `json:"transaction_type"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Activity points at the chain stamp and block of one committed operation. The newest Activity
// of a subject is its chain tip.
type Activity struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	BlockID      string    `json:"block_id"`
	ChainStampID string    `json:"chain_stamp_id"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditLog captures before/after snapshots of an entity change.
type AuditLog struct {
	ID          string          `json:"id"`
	EntityID    string          `json:"entity_id"`
	EntityType  string          `json:"entity_type"`
	Action      string          `json:"action"`
	Changes     json.RawMessage `json:"changes"`
	Fingerprint string          `json:"user_fp"`
	RequestID   string          `json:"request_id"`
	RequestIP   string          `json:"request_ip"`
	UserAgent   string          `json:"user_agent"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Caller identifies who asked for an operation. It is supplied by the transport layer.
type Caller struct {
	Fingerprint string
	Timezone    string
	RequestID   string
	RequestIP   string
	UserAgent   string
}

// AppContext identifies the application and region blocks are written for.
type AppContext struct {
	AppID  string
	Region chain.Region
}
