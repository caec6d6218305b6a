package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
	"github.com/xrfq/chain_ledger/internal/notification"
)

// DefaultCommissionRate is charged on every debit.
var DefaultCommissionRate = decimal.RequireFromString("0.001")

// Options configures a Service.
type Options struct {
	App            AppContext
	FeeAccountID   string
	CommissionRate decimal.Decimal
	// Notifier hears about committed debits and credits. Nil disables notifications.
	Notifier notification.Notifier
}

// Service orchestrates account, debit and credit sagas. Each saga runs in one relational
// transaction; blocks reach the append-only store only after that transaction commits.
type Service struct {
	store     Store
	blocks    BlockWriter
	converter *currency.Converter
	opts      Options
	logger    *slog.Logger
}

// NewService wires the orchestrator. A zero CommissionRate falls back to DefaultCommissionRate.
func NewService(store Store, blocks BlockWriter, converter *currency.Converter, opts Options, logger *slog.Logger) *Service {
	if opts.CommissionRate.IsZero() {
		opts.CommissionRate = DefaultCommissionRate
	}
	return &Service{store: store, blocks: blocks, converter: converter, opts: opts, logger: logger}
}

type sagaFunc func(ctx context.Context, tx Tx) ([]chain.Block, error)

// execute runs fn inside one transaction, commits, then writes the returned blocks.
func (s *Service) execute(ctx context.Context, saga string, fn sagaFunc) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	blocks, err := fn(ctx, tx)
	if err != nil {
		if !apperrors.Classified(err) {
			err = apperrors.ServerError("%s: %v", saga, err)
		}
		s.logger.Info("saga rolled back", "saga", saga, "error", err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("saga commit failed", "saga", saga, "error", err)
		return err
	}
	return s.persist(ctx, saga, blocks)
}

// persist writes committed blocks. Failures leave the blocks pending for the replayer and are
// reported as a partial commit.
func (s *Service) persist(ctx context.Context, saga string, blocks []chain.Block) error {
	var (
		failed   []string
		firstErr error
	)
	for _, b := range blocks {
		if err := s.blocks.Write(ctx, b); err != nil {
			failed = append(failed, b.ID)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.store.MarkBlockPersisted(ctx, b.ID); err != nil {
			s.logger.Warn("block persisted but not marked", "saga", saga, "block_id", b.ID, "error", err)
		}
	}
	if len(failed) > 0 {
		s.logger.Error("partial commit", "saga", saga, "block_ids", failed, "error", firstErr)
		return &apperrors.PartialCommitError{BlockIDs: failed, Err: firstErr}
	}
	return nil
}

// notify tells the account owner about a committed movement. Delivery failures are logged only.
func (s *Service) notify(ctx context.Context, kind, owner string, r Receipt) {
	if s.opts.Notifier == nil || r.Wallet.AccountID == "" {
		return
	}
	msg := notification.Message{
		Kind:        kind,
		Destination: owner,
		Body:        fmt.Sprintf("%s %s, balance %s", r.Transaction.Amount, r.Transaction.Currency, r.Wallet.Balance),
	}
	if err := s.opts.Notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "transaction_id", r.Transaction.ID, "error", err)
	}
}

// anchor appends a stamp to the subject's chain and records the block and activity for it.
// parent is nil only for the subject's first operation.
func (s *Service) anchor(ctx context.Context, tx Tx, subject string, parent *chain.ChainStamp, entryIDs []string, description string) (chain.Block, error) {
	stamp := chain.Build(parent)
	if n, err := tx.InsertChainStamp(ctx, subject, stamp); err != nil {
		return chain.Block{}, err
	} else if n != 1 {
		return chain.Block{}, apperrors.ServerError("failed to insert chain stamp")
	}

	if parent != nil {
		if err := parent.AppendChild(stamp); err != nil {
			return chain.Block{}, err
		}
		n, err := tx.LinkChainStamp(ctx, parent.ID, stamp.ID)
		if err != nil {
			return chain.Block{}, err
		}
		if n != 1 {
			return chain.Block{}, apperrors.InvalidState("chain stamp %s already has a child", parent.ID)
		}
	}

	block, err := chain.BuildBlock(s.opts.App.AppID, s.opts.App.Region, entryIDs, stamp.ID)
	if err != nil {
		return chain.Block{}, err
	}
	if n, err := tx.InsertPendingBlock(ctx, block); err != nil {
		return chain.Block{}, err
	} else if n != 1 {
		return chain.Block{}, apperrors.ServerError("failed to record pending block")
	}

	activity := Activity{
		ID:           chain.NewID(),
		Subject:      subject,
		BlockID:      block.ID,
		ChainStampID: stamp.ID,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
	}
	if n, err := tx.InsertActivity(ctx, activity); err != nil {
		return chain.Block{}, err
	} else if n != 1 {
		return chain.Block{}, apperrors.ServerError("failed to create activity")
	}
	return block, nil
}

// record writes the transaction row and its single ledger entry.
func (s *Service) record(ctx context.Context, tx Tx, account Account, cur currency.Currency, amount decimal.Decimal, typ TransactionType, side EntryType, description string) (Transaction, LedgerEntry, error) {
	now := time.Now().UTC()
	txn := Transaction{
		ID:        chain.NewID(),
		AccountID: account.ID,
		Currency:  cur,
		Amount:    amount,
		Type:      typ,
		Status:    TransactionCompleted,
		CreatedAt: now,
	}
	if n, err := tx.InsertTransaction(ctx, txn); err != nil {
		return Transaction{}, LedgerEntry{}, err
	} else if n != 1 {
		return Transaction{}, LedgerEntry{}, apperrors.ServerError("failed to insert transaction")
	}

	seq, err := tx.NextSequence(ctx, account.ID)
	if err != nil {
		return Transaction{}, LedgerEntry{}, err
	}
	entry := LedgerEntry{
		ID:             chain.NewID(),
		AccountID:      account.ID,
		TransactionID:  txn.ID,
		EntryType:      side,
		SequenceNumber: seq,
		Description:    description,
		Timestamp:      now,
	}
	if n, err := tx.InsertLedgerEntries(ctx, []LedgerEntry{entry}); err != nil {
		return Transaction{}, LedgerEntry{}, err
	} else if n != 1 {
		return Transaction{}, LedgerEntry{}, apperrors.ServerError("failed to insert ledger entry")
	}
	return txn, entry, nil
}
