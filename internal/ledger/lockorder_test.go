package ledger

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
	"github.com/xrfq/chain_ledger/internal/logging"
)

// lockLog wraps a store and records the row locks each transaction asks for.
type lockLog struct {
	Store
	mu    sync.Mutex
	locks []string
}

func (l *lockLog) Begin(ctx context.Context) (Tx, error) {
	tx, err := l.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &loggedTx{Tx: tx, log: l}, nil
}

func (l *lockLog) add(lock string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = append(l.locks, lock)
}

func (l *lockLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.locks
	l.locks = nil
	return out
}

type loggedTx struct {
	Tx
	log *lockLog
}

func (t *loggedTx) HeadForUpdate(ctx context.Context, subject string) (Activity, error) {
	t.log.add("head:" + subject)
	return t.Tx.HeadForUpdate(ctx, subject)
}

func (t *loggedTx) AccountForUpdate(ctx context.Context, id string) (Account, error) {
	t.log.add("account:" + id)
	return t.Tx.AccountForUpdate(ctx, id)
}

// headsBeforeAccounts returns the head locks taken before the first account lock, and fails if
// any later head lock names a subject missing from that prefix.
func headsBeforeAccounts(t *testing.T, locks []string) []string {
	t.Helper()
	var prefix []string
	i := 0
	for ; i < len(locks) && strings.HasPrefix(locks[i], "head:"); i++ {
		prefix = append(prefix, strings.TrimPrefix(locks[i], "head:"))
	}
	require.Less(t, i, len(locks), "no account lock taken")
	for _, lock := range locks[i:] {
		if subject, ok := strings.CutPrefix(lock, "head:"); ok {
			assert.Contains(t, prefix, subject, "head of %s locked after an account row", subject)
		}
	}
	return prefix
}

func TestMovementsLockHeadsFirstInSubjectOrder(t *testing.T) {
	ctx := context.Background()
	mem := NewInMemory()
	store := &lockLog{Store: mem}
	svc := NewService(store, &recordingWriter{}, currency.NewConverter(nil, logging.Discard()), Options{
		App: AppContext{AppID: "ledger-test", Region: chain.RegionUSEastOhio},
	}, logging.Discard())

	fee, err := svc.CreateAccount(ctx, CreateAccountInput{Currency: "EUR", AccountType: "SystemFee"}, Caller{Fingerprint: feeOwner})
	require.NoError(t, err)
	svc.opts.FeeAccountID = fee.Account.ID
	SeedRate(mem, currency.USD, currency.EUR, decimal.RequireFromString("0.9"))

	own, err := svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Normal"}, Caller{Fingerprint: feeOwner})
	require.NoError(t, err)
	SeedBalance(mem, own.Account.ID, currency.USD, decimal.RequireFromString("100"))
	alice, err := svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Normal"}, Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)
	SeedBalance(mem, alice.Account.ID, currency.USD, decimal.RequireFromString("100"))
	store.take()

	tests := []struct {
		name    string
		run     func() error
		subject []string
	}{
		{
			name: "fee owner debits another account",
			run: func() error {
				_, err := svc.Debit(ctx, payment(own.Account.ID, "10"), Caller{Fingerprint: feeOwner})
				return err
			},
			subject: []string{feeOwner},
		},
		{
			name: "payer debit with commission",
			run: func() error {
				_, err := svc.Debit(ctx, payment(alice.Account.ID, "10"), Caller{Fingerprint: "fp-alice"})
				return err
			},
			subject: []string{"fp-alice", feeOwner},
		},
		{
			name: "credit to fee owner",
			run: func() error {
				_, err := svc.Credit(ctx, MovementInput{AccountID: own.Account.ID, Amount: decimal.RequireFromString("1"), TransactionType: "Transfer"}, Caller{Fingerprint: "fp-alice"})
				return err
			},
			subject: []string{feeOwner},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.run())
			assert.Equal(t, tt.subject, headsBeforeAccounts(t, store.take()))
		})
	}

	_, err = svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Escrow"}, Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)
	locks := store.take()
	require.NotEmpty(t, locks)
	assert.Equal(t, "head:fp-alice", locks[0])
}
