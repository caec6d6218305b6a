package ledger

import (
	"context"
	"maps"
	"slices"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
)

type walletKey struct {
	accountID string
	currency  currency.Currency
}

type storedStamp struct {
	subject string
	stamp   chain.ChainStamp
}

type pendingBlock struct {
	block     chain.Block
	persisted bool
}

type memState struct {
	accounts     map[string]Account
	wallets      map[walletKey]WalletHolding
	transactions map[string]Transaction
	entries      []LedgerEntry
	stamps       map[string]storedStamp
	stampOrder   []string
	activities   []Activity
	heads        map[string]Activity
	audits       []AuditLog
	rates        map[string]currency.Rate
	pending      map[string]pendingBlock
	pendingOrder []string
}

func newMemState() *memState {
	return &memState{
		accounts:     make(map[string]Account),
		wallets:      make(map[walletKey]WalletHolding),
		transactions: make(map[string]Transaction),
		stamps:       make(map[string]storedStamp),
		heads:        make(map[string]Activity),
		rates:        make(map[string]currency.Rate),
		pending:      make(map[string]pendingBlock),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		accounts:     maps.Clone(s.accounts),
		wallets:      maps.Clone(s.wallets),
		transactions: maps.Clone(s.transactions),
		entries:      slices.Clone(s.entries),
		stamps:       maps.Clone(s.stamps),
		stampOrder:   slices.Clone(s.stampOrder),
		activities:   slices.Clone(s.activities),
		heads:        maps.Clone(s.heads),
		audits:       slices.Clone(s.audits),
		rates:        maps.Clone(s.rates),
		pending:      maps.Clone(s.pending),
		pendingOrder: slices.Clone(s.pendingOrder),
	}
}

// InMemoryStore is a Store for tests. Transactions are serialized: Begin waits until the previous
// transaction ends, and each transaction works on a private copy that Commit publishes.
type InMemoryStore struct {
	sem   chan struct{}
	state *memState
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{sem: make(chan struct{}, 1), state: newMemState()}
}

func (s *InMemoryStore) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperrors.ServerError("begin: %v", ctx.Err())
	}
}

func (s *InMemoryStore) release() { <-s.sem }

func (s *InMemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	return &memTx{store: s, state: s.state.clone()}, nil
}

func (s *InMemoryStore) ChainStamps(ctx context.Context, subject string) ([]chain.ChainStamp, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	var out []chain.ChainStamp
	for _, id := range s.state.stampOrder {
		if st := s.state.stamps[id]; st.subject == subject {
			out = append(out, st.stamp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PendingBlocks(ctx context.Context, limit int) ([]chain.Block, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	var out []chain.Block
	for _, id := range s.state.pendingOrder {
		if len(out) >= limit {
			break
		}
		if p := s.state.pending[id]; !p.persisted {
			out = append(out, p.block)
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkBlockPersisted(ctx context.Context, blockID string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	p, ok := s.state.pending[blockID]
	if !ok {
		return apperrors.NotFound("pending block %s", blockID)
	}
	p.persisted = true
	s.state.pending[blockID] = p
	return nil
}

type memTx struct {
	store *InMemoryStore
	state *memState
	done  bool
}

func (t *memTx) finish() error {
	if t.done {
		return apperrors.ServerError("transaction already closed")
	}
	t.done = true
	t.store.release()
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return apperrors.ServerError("transaction already closed")
	}
	t.store.state = t.state
	return t.finish()
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	return t.finish()
}

func (t *memTx) InsertAccount(_ context.Context, a Account) (int64, error) {
	if _, ok := t.state.accounts[a.ID]; ok {
		return 0, apperrors.AlreadyExists("account %s", a.ID)
	}
	for _, existing := range t.state.accounts {
		if existing.OwnerFingerprint == a.OwnerFingerprint && existing.Type == a.Type {
			return 0, apperrors.AlreadyExists("%s account for owner", a.Type)
		}
	}
	t.state.accounts[a.ID] = a
	return 1, nil
}

func (t *memTx) UpdateAccount(_ context.Context, a Account) (int64, error) {
	if _, ok := t.state.accounts[a.ID]; !ok {
		return 0, nil
	}
	t.state.accounts[a.ID] = a
	return 1, nil
}

func (t *memTx) Account(_ context.Context, id string) (Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return Account{}, apperrors.NotFound("account %s", id)
	}
	return a, nil
}

func (t *memTx) AccountForUpdate(ctx context.Context, id string) (Account, error) {
	return t.Account(ctx, id)
}

func (t *memTx) AccountByOwnerAndType(_ context.Context, owner string, typ AccountType) (Account, error) {
	for _, a := range t.state.accounts {
		if a.OwnerFingerprint == owner && a.Type == typ {
			return a, nil
		}
	}
	return Account{}, apperrors.NotFound("%s account for owner", typ)
}

func (t *memTx) InsertWallet(_ context.Context, w WalletHolding) (int64, error) {
	key := walletKey{w.AccountID, w.Currency}
	if _, ok := t.state.wallets[key]; ok {
		return 0, apperrors.AlreadyExists("%s wallet for account %s", w.Currency, w.AccountID)
	}
	t.state.wallets[key] = w
	return 1, nil
}

func (t *memTx) WalletForUpdate(_ context.Context, accountID string, cur currency.Currency) (WalletHolding, error) {
	w, ok := t.state.wallets[walletKey{accountID, cur}]
	if !ok {
		return WalletHolding{}, apperrors.NotFound("%s wallet for account %s", cur, accountID)
	}
	return w, nil
}

func (t *memTx) Wallets(_ context.Context, accountID string) ([]WalletHolding, error) {
	var out []WalletHolding
	for k, w := range t.state.wallets {
		if k.accountID == accountID {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b WalletHolding) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (t *memTx) UpdateWalletBalance(_ context.Context, w WalletHolding) (int64, error) {
	key := walletKey{w.AccountID, w.Currency}
	existing, ok := t.state.wallets[key]
	if !ok {
		return 0, nil
	}
	if w.Balance.IsNegative() {
		return 0, apperrors.InvalidArgument("balance cannot be negative")
	}
	existing.Balance = w.Balance
	existing.UpdatedAt = w.UpdatedAt
	t.state.wallets[key] = existing
	return 1, nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn Transaction) (int64, error) {
	if _, ok := t.state.transactions[txn.ID]; ok {
		return 0, apperrors.AlreadyExists("transaction %s", txn.ID)
	}
	t.state.transactions[txn.ID] = txn
	return 1, nil
}

func (t *memTx) NextSequence(_ context.Context, accountID string) (int64, error) {
	var last int64
	for _, e := range t.state.entries {
		if e.AccountID == accountID && e.SequenceNumber > last {
			last = e.SequenceNumber
		}
	}
	return last + 1, nil
}

func (t *memTx) InsertLedgerEntries(_ context.Context, entries []LedgerEntry) (int64, error) {
	t.state.entries = append(t.state.entries, entries...)
	return int64(len(entries)), nil
}

func (t *memTx) InsertChainStamp(_ context.Context, subject string, stamp chain.ChainStamp) (int64, error) {
	if _, ok := t.state.stamps[stamp.ID]; ok {
		return 0, apperrors.AlreadyExists("chain stamp %s", stamp.ID)
	}
	for _, st := range t.state.stamps {
		if stamp.IsRoot() && st.subject == subject && st.stamp.IsRoot() {
			return 0, apperrors.AlreadyExists("root chain stamp for subject")
		}
		if !stamp.IsRoot() && st.stamp.ParentID == stamp.ParentID {
			return 0, apperrors.AlreadyExists("chain stamp %s already has a successor", stamp.ParentID)
		}
	}
	t.state.stamps[stamp.ID] = storedStamp{subject: subject, stamp: stamp}
	t.state.stampOrder = append(t.state.stampOrder, stamp.ID)
	return 1, nil
}

func (t *memTx) ChainStamp(_ context.Context, id string) (chain.ChainStamp, error) {
	st, ok := t.state.stamps[id]
	if !ok {
		return chain.ChainStamp{}, apperrors.NotFound("chain stamp %s", id)
	}
	return st.stamp, nil
}

func (t *memTx) LinkChainStamp(_ context.Context, parentID, childID string) (int64, error) {
	st, ok := t.state.stamps[parentID]
	if !ok || st.stamp.HasChild() {
		return 0, nil
	}
	st.stamp.ChildID = childID
	t.state.stamps[parentID] = st
	return 1, nil
}

func (t *memTx) HeadForUpdate(_ context.Context, subject string) (Activity, error) {
	a, ok := t.state.heads[subject]
	if !ok {
		return Activity{}, apperrors.NotFound("activity for subject")
	}
	return a, nil
}

func (t *memTx) InsertActivity(_ context.Context, a Activity) (int64, error) {
	t.state.activities = append(t.state.activities, a)
	t.state.heads[a.Subject] = a
	return 1, nil
}

func (t *memTx) InsertAuditLog(_ context.Context, log AuditLog) (int64, error) {
	t.state.audits = append(t.state.audits, log)
	return 1, nil
}

func (t *memTx) InsertPendingBlock(_ context.Context, b chain.Block) (int64, error) {
	if _, ok := t.state.pending[b.ID]; ok {
		return 0, apperrors.AlreadyExists("block %s", b.ID)
	}
	t.state.pending[b.ID] = pendingBlock{block: b}
	t.state.pendingOrder = append(t.state.pendingOrder, b.ID)
	return 1, nil
}

func (t *memTx) FindRate(_ context.Context, hash string) (currency.Rate, error) {
	r, ok := t.state.rates[hash]
	if !ok {
		return currency.Rate{}, apperrors.NotFound("rate %s", hash)
	}
	return r, nil
}

func (t *memTx) UpsertRate(_ context.Context, r currency.Rate) (int64, error) {
	t.state.rates[r.Hash] = r
	return 1, nil
}
