package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
	"github.com/xrfq/chain_ledger/internal/notification"
)

// CreateAccountInput is the request to open an account, or to add a wallet in a new currency to
// the caller's existing account of the same type.
type CreateAccountInput struct {
	Currency    string
	AccountType string
	Timezone    string
}

// MovementInput is a debit or credit request. An empty Currency means the account's primary one.
type MovementInput struct {
	AccountID       string
	Amount          decimal.Decimal
	TransactionType string
	Currency        string
}

// Receipt describes a committed movement.
type Receipt struct {
	Transaction Transaction   `json:"transaction"`
	Wallet      WalletHolding `json:"wallet"`
	BlockID     string        `json:"block_id"`
	Commission  *Receipt      `json:"commission,omitempty"`
}

// Opening describes a committed account creation.
type Opening struct {
	Account Account       `json:"account"`
	Wallet  WalletHolding `json:"wallet"`
	BlockID string        `json:"block_id"`
}

func requireCaller(caller Caller) error {
	if strings.TrimSpace(caller.Fingerprint) == "" {
		return apperrors.InvalidArgument("caller fingerprint is required")
	}
	return nil
}

func resolveTimezone(requested, fallback string) (string, error) {
	tz := strings.TrimSpace(requested)
	if tz == "" {
		tz = strings.TrimSpace(fallback)
	}
	if tz == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", apperrors.InvalidArgument("unknown timezone %q", tz)
	}
	return tz, nil
}

// CreateAccount opens an account with one zero-balance wallet and anchors the initialization
// entry to the caller's chain. A caller that already owns an account of the requested type gets
// a new wallet on that account instead.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput, caller Caller) (Opening, error) {
	if err := requireCaller(caller); err != nil {
		return Opening{}, err
	}
	cur, err := currency.Parse(in.Currency)
	if err != nil {
		return Opening{}, err
	}
	typ, err := ParseAccountType(in.AccountType)
	if err != nil {
		return Opening{}, err
	}
	tz, err := resolveTimezone(in.Timezone, caller.Timezone)
	if err != nil {
		return Opening{}, err
	}
	owner := caller.Fingerprint

	var out Opening
	err = s.execute(ctx, "create_account", func(ctx context.Context, tx Tx) ([]chain.Block, error) {
		var parent *chain.ChainStamp
		head, err := tx.HeadForUpdate(ctx, owner)
		switch {
		case err == nil:
			stamp, err := tx.ChainStamp(ctx, head.ChainStampID)
			if err != nil {
				return nil, missingParent(err, head.ChainStampID)
			}
			parent = &stamp
		case errors.Is(err, apperrors.ErrNotFound):
		default:
			return nil, err
		}

		account, description, err := s.openOrReuse(ctx, tx, owner, typ, cur, tz)
		if err != nil {
			return nil, err
		}

		wallet := NewWalletHolding(account.ID, cur)
		if n, err := tx.InsertWallet(ctx, wallet); err != nil {
			return nil, err
		} else if n != 1 {
			return nil, apperrors.ServerError("failed to insert wallet")
		}

		if err := TxInitialization.ValidateAmount(decimal.Zero); err != nil {
			return nil, err
		}
		_, entry, err := s.record(ctx, tx, account, cur, decimal.Zero, TxInitialization, EntryInitialization, description)
		if err != nil {
			return nil, err
		}

		block, err := s.anchor(ctx, tx, owner, parent, []string{entry.ID}, description)
		if err != nil {
			return nil, err
		}
		out = Opening{Account: account, Wallet: wallet, BlockID: block.ID}
		return []chain.Block{block}, nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrPartialCommit) {
		return Opening{}, err
	}
	return out, err
}

// openOrReuse returns the account the new wallet belongs to, inserting it when the owner has no
// account of that type yet.
func (s *Service) openOrReuse(ctx context.Context, tx Tx, owner string, typ AccountType, cur currency.Currency, tz string) (Account, string, error) {
	existing, err := tx.AccountByOwnerAndType(ctx, owner, typ)
	switch {
	case err == nil:
		if existing.Currency == cur {
			return Account{}, "", apperrors.AlreadyExists("%s account in %s", typ, cur)
		}
		if _, err := tx.WalletForUpdate(ctx, existing.ID, cur); err == nil {
			return Account{}, "", apperrors.AlreadyExists("%s wallet on account %s", cur, existing.ID)
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return Account{}, "", err
		}
		if err := existing.CheckOperable(); err != nil {
			return Account{}, "", err
		}
		return existing, fmt.Sprintf("add %s wallet", cur), nil
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return Account{}, "", err
	}

	now := time.Now().UTC()
	account := Account{
		ID:               chain.NewID(),
		OwnerFingerprint: owner,
		Currency:         cur,
		Type:             typ,
		Status:           StatusActive,
		Timezone:         tz,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if n, err := tx.InsertAccount(ctx, account); err != nil {
		return Account{}, "", err
	} else if n != 1 {
		return Account{}, "", apperrors.ServerError("failed to insert account")
	}
	return account, fmt.Sprintf("open %s account", strings.ToLower(string(typ))), nil
}

func missingParent(err error, stampID string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.InvalidRecordState("parent chain stamp %s not found", stampID)
	}
	return err
}

// Debit removes the amount net of commission from the caller's wallet and credits the
// commission, converted into the fee account's currency, to the fee account. Both movements
// commit together.
func (s *Service) Debit(ctx context.Context, in MovementInput, caller Caller) (Receipt, error) {
	if err := requireCaller(caller); err != nil {
		return Receipt{}, err
	}
	typ, err := parseMovementType(in.TransactionType, in.Amount)
	if err != nil {
		return Receipt{}, err
	}

	var out Receipt
	err = s.execute(ctx, "debit", func(ctx context.Context, tx Tx) ([]chain.Block, error) {
		account, err := s.lockMovement(ctx, tx, in.AccountID, true, func(a Account) error {
			if a.OwnerFingerprint != caller.Fingerprint {
				return fmt.Errorf("%w: %s", apperrors.ErrNotOwner, a.ID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := account.CheckOperable(); err != nil {
			return nil, err
		}
		cur, err := movementCurrency(in.Currency, account)
		if err != nil {
			return nil, err
		}

		commission := in.Amount.Mul(s.opts.CommissionRate)
		net := in.Amount.Sub(commission)

		receipt, block, err := s.move(ctx, tx, account, cur, net, typ, EntryDebit, fmt.Sprintf("%s debit", strings.ToLower(string(typ))))
		if err != nil {
			return nil, err
		}
		blocks := []chain.Block{block}

		if commission.IsPositive() {
			fee, feeBlock, err := s.creditCommission(ctx, tx, commission, cur)
			if err != nil {
				return nil, err
			}
			receipt.Commission = &fee
			blocks = append(blocks, feeBlock)
		}
		out = receipt
		return blocks, nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrPartialCommit) {
		return Receipt{}, err
	}
	s.notify(ctx, notification.KindDebit, caller.Fingerprint, out)
	return out, err
}

// Credit adds the amount to the account's wallet. Any identified caller may credit an account.
func (s *Service) Credit(ctx context.Context, in MovementInput, caller Caller) (Receipt, error) {
	if err := requireCaller(caller); err != nil {
		return Receipt{}, err
	}
	typ, err := parseMovementType(in.TransactionType, in.Amount)
	if err != nil {
		return Receipt{}, err
	}

	var (
		out   Receipt
		owner string
	)
	err = s.execute(ctx, "credit", func(ctx context.Context, tx Tx) ([]chain.Block, error) {
		account, err := s.lockMovement(ctx, tx, in.AccountID, false, nil)
		if err != nil {
			return nil, err
		}
		owner = account.OwnerFingerprint
		if err := account.CheckOperable(); err != nil {
			return nil, err
		}
		cur, err := movementCurrency(in.Currency, account)
		if err != nil {
			return nil, err
		}
		receipt, block, err := s.move(ctx, tx, account, cur, in.Amount, typ, EntryCredit, fmt.Sprintf("%s credit", strings.ToLower(string(typ))))
		if err != nil {
			return nil, err
		}
		out = receipt
		return []chain.Block{block}, nil
	})
	if err != nil && !errors.Is(err, apperrors.ErrPartialCommit) {
		return Receipt{}, err
	}
	s.notify(ctx, notification.KindCredit, owner, out)
	return out, err
}

// lockMovement locks everything a movement on accountID will touch in one global order: the head
// of every subject whose chain the movement extends, sorted by subject, then the account row.
// Owners never change, so the unlocked read that discovers them is safe. check runs before any
// lock is taken. withFee adds the fee account's owner when a fee account is configured.
func (s *Service) lockMovement(ctx context.Context, tx Tx, accountID string, withFee bool, check func(Account) error) (Account, error) {
	account, err := tx.Account(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if check != nil {
		if err := check(account); err != nil {
			return Account{}, err
		}
	}

	subjects := []string{account.OwnerFingerprint}
	if withFee && s.opts.FeeAccountID != "" {
		fee, err := tx.Account(ctx, s.opts.FeeAccountID)
		switch {
		case err == nil:
			subjects = append(subjects, fee.OwnerFingerprint)
		case !errors.Is(err, apperrors.ErrNotFound):
			return Account{}, err
		}
	}
	if err := lockHeads(ctx, tx, subjects...); err != nil {
		return Account{}, err
	}
	return tx.AccountForUpdate(ctx, accountID)
}

// lockHeads takes the head lock of each subject in ascending order. Subjects without a head are
// skipped; the movement reports them later.
func lockHeads(ctx context.Context, tx Tx, subjects ...string) error {
	sorted := slices.Clone(subjects)
	slices.Sort(sorted)
	for _, subject := range slices.Compact(sorted) {
		if _, err := tx.HeadForUpdate(ctx, subject); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	return nil
}

func parseMovementType(raw string, amount decimal.Decimal) (TransactionType, error) {
	typ, err := ParseTransactionType(raw)
	if err != nil {
		return "", err
	}
	if typ == TxInitialization {
		return "", apperrors.InvalidArgument("initialization is reserved for account creation")
	}
	if err := typ.ValidateAmount(amount); err != nil {
		return "", err
	}
	return typ, nil
}

func movementCurrency(raw string, account Account) (currency.Currency, error) {
	if strings.TrimSpace(raw) == "" {
		return account.Currency, nil
	}
	return currency.Parse(raw)
}

// move applies one single-entry movement to the account's wallet and anchors it to the owner's
// chain. The owner's head lock serializes movements of the same subject.
func (s *Service) move(ctx context.Context, tx Tx, account Account, cur currency.Currency, amount decimal.Decimal, typ TransactionType, side EntryType, description string) (Receipt, chain.Block, error) {
	subject := account.OwnerFingerprint
	head, err := tx.HeadForUpdate(ctx, subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Receipt{}, chain.Block{}, apperrors.InvalidRecordState("no user activity found")
		}
		return Receipt{}, chain.Block{}, err
	}

	wallet, err := tx.WalletForUpdate(ctx, account.ID, cur)
	if err != nil {
		return Receipt{}, chain.Block{}, err
	}

	txn, entry, err := s.record(ctx, tx, account, cur, amount, typ, side, description)
	if err != nil {
		return Receipt{}, chain.Block{}, err
	}

	parent, err := tx.ChainStamp(ctx, head.ChainStampID)
	if err != nil {
		return Receipt{}, chain.Block{}, missingParent(err, head.ChainStampID)
	}
	block, err := s.anchor(ctx, tx, subject, &parent, []string{entry.ID}, description)
	if err != nil {
		return Receipt{}, chain.Block{}, err
	}

	switch side {
	case EntryDebit:
		if err := wallet.Debit(amount); err != nil {
			return Receipt{}, chain.Block{}, err
		}
	case EntryCredit:
		wallet.Credit(amount)
	}
	if n, err := tx.UpdateWalletBalance(ctx, wallet); err != nil {
		return Receipt{}, chain.Block{}, err
	} else if n != 1 {
		return Receipt{}, chain.Block{}, apperrors.ServerError("failed to update wallet balance")
	}

	return Receipt{Transaction: txn, Wallet: wallet, BlockID: block.ID}, block, nil
}

// creditCommission credits the fee account inside the debit's transaction.
func (s *Service) creditCommission(ctx context.Context, tx Tx, commission decimal.Decimal, from currency.Currency) (Receipt, chain.Block, error) {
	if s.opts.FeeAccountID == "" {
		return Receipt{}, chain.Block{}, apperrors.InvalidRecordState("fee account not configured")
	}
	fee, err := tx.AccountForUpdate(ctx, s.opts.FeeAccountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Receipt{}, chain.Block{}, apperrors.InvalidRecordState("fee account %s not found", s.opts.FeeAccountID)
		}
		return Receipt{}, chain.Block{}, err
	}
	if err := fee.CheckOperable(); err != nil {
		return Receipt{}, chain.Block{}, err
	}

	converted, err := s.converter.Convert(ctx, tx, commission, from, fee.Currency)
	if err != nil {
		return Receipt{}, chain.Block{}, err
	}
	if err := TxCommission.ValidateAmount(converted); err != nil {
		return Receipt{}, chain.Block{}, err
	}
	return s.move(ctx, tx, fee, fee.Currency, converted, TxCommission, EntryCredit, "commission credit")
}
