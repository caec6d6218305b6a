package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// classify maps a pgx error onto the apperrors taxonomy.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("%s", msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperrors.AlreadyExists("%s (%s)", msg, pgErr.ConstraintName)
		case pgCheckViolation:
			return apperrors.InvalidArgument("%s (%s)", msg, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrServerError, msg, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// PostgresStore is the relational Store on PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, classify(err, "begin transaction")
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) ChainStamps(ctx context.Context, subject string) ([]chain.ChainStamp, error) {
	rows, err := s.db.Query(ctx, `SELECT id, created_at, parent_id, child_id FROM chain_stamp
        WHERE subject = $1 ORDER BY created_at, id`, subject)
	if err != nil {
		return nil, classify(err, "list chain stamps")
	}
	defer rows.Close()

	var out []chain.ChainStamp
	for rows.Next() {
		stamp, err := scanStamp(rows)
		if err != nil {
			return nil, classify(err, "scan chain stamp")
		}
		out = append(out, stamp)
	}
	return out, classify(rows.Err(), "list chain stamps")
}

func (s *PostgresStore) PendingBlocks(ctx context.Context, limit int) ([]chain.Block, error) {
	rows, err := s.db.Query(ctx, `SELECT payload FROM pending_block
        WHERE persisted_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err, "list pending blocks")
	}
	defer rows.Close()

	var out []chain.Block
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, classify(err, "scan pending block")
		}
		var b chain.Block
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, apperrors.InvalidRecordState("decode pending block: %v", err)
		}
		out = append(out, b)
	}
	return out, classify(rows.Err(), "list pending blocks")
}

func (s *PostgresStore) MarkBlockPersisted(ctx context.Context, blockID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE pending_block SET persisted_at = $2 WHERE id = $1`, blockID, time.Now().UTC())
	if err != nil {
		return classify(err, "mark block %s persisted", blockID)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("pending block %s", blockID)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return classify(t.tx.Commit(ctx), "commit")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return classify(err, "rollback")
}

func (t *pgTx) exec(ctx context.Context, what, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err, "%s", what)
	}
	return tag.RowsAffected(), nil
}

const accountColumns = `id, owner_fp, currency, account_type, status, locked, timezone, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OwnerFingerprint, &a.Currency, &a.Type, &a.Status, &a.Locked, &a.Timezone, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *pgTx) InsertAccount(ctx context.Context, a Account) (int64, error) {
	return t.exec(ctx, "insert account", `INSERT INTO account (`+accountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.OwnerFingerprint, a.Currency, a.Type, a.Status, a.Locked, a.Timezone, a.CreatedAt, a.UpdatedAt)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a Account) (int64, error) {
	return t.exec(ctx, "update account", `UPDATE account SET status = $2, locked = $3, timezone = $4, updated_at = $5
        WHERE id = $1`, a.ID, a.Status, a.Locked, a.Timezone, a.UpdatedAt)
}

func (t *pgTx) Account(ctx context.Context, id string) (Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM account WHERE id = $1`, id))
	return a, classify(err, "account %s", id)
}

func (t *pgTx) AccountForUpdate(ctx context.Context, id string) (Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM account WHERE id = $1 FOR UPDATE`, id))
	return a, classify(err, "account %s", id)
}

func (t *pgTx) AccountByOwnerAndType(ctx context.Context, owner string, typ AccountType) (Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM account
        WHERE owner_fp = $1 AND account_type = $2 FOR UPDATE`, owner, typ))
	return a, classify(err, "%s account for owner", typ)
}

const walletColumns = `account_id, currency, balance, created_at, updated_at`

func scanWallet(row pgx.Row) (WalletHolding, error) {
	var w WalletHolding
	err := row.Scan(&w.AccountID, &w.Currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (t *pgTx) InsertWallet(ctx context.Context, w WalletHolding) (int64, error) {
	return t.exec(ctx, "insert wallet", `INSERT INTO wallet_holding (`+walletColumns+`)
        VALUES ($1, $2, $3, $4, $5)`, w.AccountID, w.Currency, w.Balance, w.CreatedAt, w.UpdatedAt)
}

func (t *pgTx) WalletForUpdate(ctx context.Context, accountID string, cur currency.Currency) (WalletHolding, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallet_holding
        WHERE account_id = $1 AND currency = $2 FOR UPDATE`, accountID, cur))
	return w, classify(err, "%s wallet for account %s", cur, accountID)
}

func (t *pgTx) Wallets(ctx context.Context, accountID string) ([]WalletHolding, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+walletColumns+` FROM wallet_holding
        WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, classify(err, "list wallets")
	}
	defer rows.Close()

	var out []WalletHolding
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, classify(err, "scan wallet")
		}
		out = append(out, w)
	}
	return out, classify(rows.Err(), "list wallets")
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, w WalletHolding) (int64, error) {
	return t.exec(ctx, "update wallet balance", `UPDATE wallet_holding SET balance = $3, updated_at = $4
        WHERE account_id = $1 AND currency = $2`, w.AccountID, w.Currency, w.Balance, w.UpdatedAt)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	return t.exec(ctx, "insert transaction", `INSERT INTO monetary_transaction
        (id, account_id, currency, amount, tx_type, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		txn.ID, txn.AccountID, txn.Currency, txn.Amount, txn.Type, txn.Status, txn.CreatedAt)
}

func (t *pgTx) NextSequence(ctx context.Context, accountID string) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM ledger_entry
        WHERE account_id = $1`, accountID).Scan(&next)
	return next, classify(err, "next sequence for account %s", accountID)
}

// InsertLedgerEntries writes entries with a single COPY.
func (t *pgTx) InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) (int64, error) {
	n, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_entry"},
		[]string{"id", "account_id", "transaction_id", "entry_type", "sequence_number", "description", "created_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{e.ID, e.AccountID, e.TransactionID, string(e.EntryType), e.SequenceNumber, e.Description, e.Timestamp}, nil
		}),
	)
	return n, classify(err, "insert ledger entries")
}

func scanStamp(row pgx.Row) (chain.ChainStamp, error) {
	var (
		s               chain.ChainStamp
		parent, childID *string
	)
	if err := row.Scan(&s.ID, &s.CreatedAt, &parent, &childID); err != nil {
		return chain.ChainStamp{}, err
	}
	s.ParentID = deref(parent)
	s.ChildID = deref(childID)
	return s, nil
}

func (t *pgTx) InsertChainStamp(ctx context.Context, subject string, s chain.ChainStamp) (int64, error) {
	return t.exec(ctx, "insert chain stamp", `INSERT INTO chain_stamp (id, subject, parent_id, child_id, created_at)
        VALUES ($1, $2, $3, $4, $5)`, s.ID, subject, nullable(s.ParentID), nullable(s.ChildID), s.CreatedAt)
}

func (t *pgTx) ChainStamp(ctx context.Context, id string) (chain.ChainStamp, error) {
	s, err := scanStamp(t.tx.QueryRow(ctx, `SELECT id, created_at, parent_id, child_id FROM chain_stamp
        WHERE id = $1`, id))
	return s, classify(err, "chain stamp %s", id)
}

func (t *pgTx) LinkChainStamp(ctx context.Context, parentID, childID string) (int64, error) {
	return t.exec(ctx, "link chain stamp", `UPDATE chain_stamp SET child_id = $2
        WHERE id = $1 AND child_id IS NULL`, parentID, childID)
}

// HeadForUpdate locks the head row alone. Joining activity in the same locking query would make
// a waiter re-check the join against the stale activity row after the holder commits.
func (t *pgTx) HeadForUpdate(ctx context.Context, subject string) (Activity, error) {
	var activityID string
	err := t.tx.QueryRow(ctx, `SELECT activity_id FROM activity_head WHERE subject = $1 FOR UPDATE`, subject).Scan(&activityID)
	if err != nil {
		return Activity{}, classify(err, "activity for subject")
	}

	var a Activity
	err = t.tx.QueryRow(ctx, `SELECT id, subject, block_id, chain_stamp_id, description, created_at
        FROM activity WHERE id = $1`, activityID).
		Scan(&a.ID, &a.Subject, &a.BlockID, &a.ChainStampID, &a.Description, &a.CreatedAt)
	return a, classify(err, "activity %s", activityID)
}

func (t *pgTx) InsertActivity(ctx context.Context, a Activity) (int64, error) {
	n, err := t.exec(ctx, "insert activity", `INSERT INTO activity (id, subject, block_id, chain_stamp_id, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, a.ID, a.Subject, a.BlockID, a.ChainStampID, a.Description, a.CreatedAt)
	if err != nil || n != 1 {
		return n, err
	}
	moved, err := t.exec(ctx, "move activity head", `INSERT INTO activity_head (subject, activity_id, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (subject) DO UPDATE SET activity_id = EXCLUDED.activity_id, updated_at = EXCLUDED.updated_at`,
		a.Subject, a.ID, a.CreatedAt)
	if err != nil {
		return 0, err
	}
	if moved != 1 {
		return 0, apperrors.ServerError("activity head for subject not moved")
	}
	return n, nil
}

func (t *pgTx) InsertAuditLog(ctx context.Context, l AuditLog) (int64, error) {
	return t.exec(ctx, "insert audit log", `INSERT INTO audit_log
        (id, entity_id, entity_type, action, changes, user_fp, request_id, request_ip, user_agent, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.EntityID, l.EntityType, l.Action, []byte(l.Changes), l.Fingerprint, l.RequestID, l.RequestIP, l.UserAgent, l.CreatedAt)
}

func (t *pgTx) InsertPendingBlock(ctx context.Context, b chain.Block) (int64, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return 0, apperrors.ServerError("encode block %s: %v", b.ID, err)
	}
	return t.exec(ctx, "insert pending block", `INSERT INTO pending_block (id, chain_stamp_id, payload, created_at)
        VALUES ($1, $2, $3, $4)`, b.ID, b.ChainStampID, payload, b.CreatedAt)
}

func (t *pgTx) FindRate(ctx context.Context, hash string) (currency.Rate, error) {
	var r currency.Rate
	err := t.tx.QueryRow(ctx, `SELECT hash, base, quote, rate, recorded_at, app_id FROM currency_rate
        WHERE hash = $1`, hash).Scan(&r.Hash, &r.Base, &r.Quote, &r.Rate, &r.RecordedAt, &r.AppID)
	return r, classify(err, "rate %s", hash)
}

func (t *pgTx) UpsertRate(ctx context.Context, r currency.Rate) (int64, error) {
	return t.exec(ctx, "upsert rate", `INSERT INTO currency_rate (hash, base, quote, rate, recorded_at, app_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (hash) DO UPDATE SET rate = EXCLUDED.rate, recorded_at = EXCLUDED.recorded_at, app_id = EXCLUDED.app_id`,
		r.Hash, r.Base, r.Quote, r.Rate, r.RecordedAt, r.AppID)
}
