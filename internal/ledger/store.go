package ledger

import (
	"context"

	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
)

// Store is the relational store. Implementations translate driver errors into apperrors kinds.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// ChainStamps returns every stamp written for subject, in creation order.
	ChainStamps(ctx context.Context, subject string) ([]chain.ChainStamp, error)
	// PendingBlocks returns up to limit blocks not yet confirmed in the append-only store.
	PendingBlocks(ctx context.Context, limit int) ([]chain.Block, error)
	MarkBlockPersisted(ctx context.Context, blockID string) error
}

// Tx is one relational transaction. Write methods report affected rows; callers treat an
// unexpected count as a failure.
type Tx interface {
	currency.RateReader
	currency.RateWriter

	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback(ctx context.Context) error

	InsertAccount(ctx context.Context, account Account) (int64, error)
	UpdateAccount(ctx context.Context, account Account) (int64, error)
	Account(ctx context.Context, id string) (Account, error)
	AccountForUpdate(ctx context.Context, id string) (Account, error)
	AccountByOwnerAndType(ctx context.Context, owner string, typ AccountType) (Account, error)

	InsertWallet(ctx context.Context, wallet WalletHolding) (int64, error)
	WalletForUpdate(ctx context.Context, accountID string, cur currency.Currency) (WalletHolding, error)
	Wallets(ctx context.Context, accountID string) ([]WalletHolding, error)
	UpdateWalletBalance(ctx context.Context, wallet WalletHolding) (int64, error)

	InsertTransaction(ctx context.Context, txn Transaction) (int64, error)
	NextSequence(ctx context.Context, accountID string) (int64, error)
	InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) (int64, error)

	InsertChainStamp(ctx context.Context, subject string, stamp chain.ChainStamp) (int64, error)
	ChainStamp(ctx context.Context, id string) (chain.ChainStamp, error)
	// LinkChainStamp sets the child of parentID only if it has none yet.
	LinkChainStamp(ctx context.Context, parentID, childID string) (int64, error)

	// HeadForUpdate returns the subject's newest Activity and holds the subject's head lock
	// until the transaction ends.
	HeadForUpdate(ctx context.Context, subject string) (Activity, error)
	// InsertActivity appends the activity and makes it the subject's head.
	InsertActivity(ctx context.Context, activity Activity) (int64, error)

	InsertAuditLog(ctx context.Context, log AuditLog) (int64, error)
	InsertPendingBlock(ctx context.Context, block chain.Block) (int64, error)
}

// BlockWriter is the append-only block store.
type BlockWriter interface {
	Write(ctx context.Context, block chain.Block) error
}
