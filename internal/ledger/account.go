package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
)

// AccountChanges lists the mutable account fields. Nil fields are left untouched.
type AccountChanges struct {
	Status   *string `json:"status,omitempty"`
	Locked   *bool   `json:"locked,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

func (c AccountChanges) empty() bool {
	return c.Status == nil && c.Locked == nil && c.Timezone == nil
}

func (c AccountChanges) unlocks() bool {
	return c.Locked != nil && !*c.Locked
}

// apply returns account with the changes applied.
func (c AccountChanges) apply(account Account) (Account, error) {
	if c.Status != nil {
		status, err := ParseAccountStatus(*c.Status)
		if err != nil {
			return Account{}, err
		}
		account.Status = status
	}
	if c.Locked != nil {
		account.Locked = *c.Locked
	}
	if c.Timezone != nil {
		tz, err := resolveTimezone(*c.Timezone, "")
		if err != nil {
			return Account{}, err
		}
		account.Timezone = tz
	}
	account.UpdatedAt = time.Now().UTC()
	return account, nil
}

type auditChanges struct {
	Before Account `json:"before"`
	After  Account `json:"after"`
}

// AccountView is an account with its wallets.
type AccountView struct {
	Account Account         `json:"account"`
	Wallets []WalletHolding `json:"wallets"`
}

// UpdateAccount applies changes to an account the caller owns and records an audit row in the
// same transaction. Frozen accounts cannot be changed; a locked account only accepts changes
// that unlock it.
func (s *Service) UpdateAccount(ctx context.Context, accountID string, changes AccountChanges, caller Caller) (Account, error) {
	if err := requireCaller(caller); err != nil {
		return Account{}, err
	}
	if changes.empty() {
		return Account{}, apperrors.InvalidArgument("no account changes requested")
	}

	var out Account
	err := s.execute(ctx, "update_account", func(ctx context.Context, tx Tx) ([]chain.Block, error) {
		before, err := tx.AccountForUpdate(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if before.OwnerFingerprint != caller.Fingerprint {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotOwner, before.ID)
		}
		if before.Status == StatusFrozen {
			return nil, apperrors.InvalidRecordState("account %s is frozen", before.ID)
		}
		if before.Locked && !changes.unlocks() {
			return nil, apperrors.InvalidRecordState("account %s is locked", before.ID)
		}

		after, err := changes.apply(before)
		if err != nil {
			return nil, err
		}
		updated, err := tx.UpdateAccount(ctx, after)
		if err != nil {
			return nil, err
		}

		diff, err := json.Marshal(auditChanges{Before: before, After: after})
		if err != nil {
			return nil, apperrors.ServerError("encode audit changes: %v", err)
		}
		audited, err := tx.InsertAuditLog(ctx, AuditLog{
			ID:          chain.NewID(),
			EntityID:    after.ID,
			EntityType:  "account",
			Action:      "update",
			Changes:     diff,
			Fingerprint: caller.Fingerprint,
			RequestID:   caller.RequestID,
			RequestIP:   caller.RequestIP,
			UserAgent:   caller.UserAgent,
			CreatedAt:   after.UpdatedAt,
		})
		if err != nil {
			return nil, err
		}
		if updated == 0 || audited == 0 {
			return nil, apperrors.ServerError("account %s update not applied", after.ID)
		}
		out = after
		return nil, nil
	})
	return out, err
}

// Freeze marks the account Frozen. Frozen accounts accept no further changes.
func (s *Service) Freeze(ctx context.Context, accountID string, caller Caller) (Account, error) {
	status := string(StatusFrozen)
	return s.UpdateAccount(ctx, accountID, AccountChanges{Status: &status}, caller)
}

func (s *Service) Lock(ctx context.Context, accountID string, caller Caller) (Account, error) {
	locked := true
	return s.UpdateAccount(ctx, accountID, AccountChanges{Locked: &locked}, caller)
}

func (s *Service) Unlock(ctx context.Context, accountID string, caller Caller) (Account, error) {
	locked := false
	return s.UpdateAccount(ctx, accountID, AccountChanges{Locked: &locked}, caller)
}

// FindAccount returns an account the caller owns, with its wallets.
func (s *Service) FindAccount(ctx context.Context, accountID string, caller Caller) (AccountView, error) {
	if err := requireCaller(caller); err != nil {
		return AccountView{}, err
	}
	var out AccountView
	err := s.execute(ctx, "find_account", func(ctx context.Context, tx Tx) ([]chain.Block, error) {
		account, err := tx.Account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if account.OwnerFingerprint != caller.Fingerprint {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrNotOwner, account.ID)
		}
		wallets, err := tx.Wallets(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		out = AccountView{Account: account, Wallets: wallets}
		return nil, nil
	})
	return out, err
}

// ChainOf returns the subject's chain from root to tip after checking its links.
func (s *Service) ChainOf(ctx context.Context, subject string) ([]chain.ChainStamp, error) {
	stamps, err := s.store.ChainStamps(ctx, subject)
	if err != nil {
		return nil, err
	}
	return chain.Verify(stamps)
}

// SaveRate stores the conversion rate for base to quote and publishes it to the rate cache once
// the row is committed.
func (s *Service) SaveRate(ctx context.Context, base, quote string, value decimal.Decimal) (currency.Rate, error) {
	from, err := currency.Parse(base)
	if err != nil {
		return currency.Rate{}, err
	}
	to, err := currency.Parse(quote)
	if err != nil {
		return currency.Rate{}, err
	}

	var saved currency.Rate
	err = s.execute(ctx, "save_rate", func(ctx context.Context, tx Tx) ([]chain.Block, error) {
		rate, err := s.converter.Save(ctx, tx, from, to, value, s.opts.App.AppID)
		if err != nil {
			return nil, err
		}
		saved = rate
		return nil, nil
	})
	if err != nil {
		return currency.Rate{}, err
	}
	s.converter.Remember(ctx, saved)
	return saved, nil
}
