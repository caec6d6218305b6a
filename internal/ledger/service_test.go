package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/chain"
	"github.com/xrfq/chain_ledger/internal/currency"
	"github.com/xrfq/chain_ledger/internal/logging"
	"github.com/xrfq/chain_ledger/internal/notification"
)

type recordingWriter struct {
	mu     sync.Mutex
	blocks []chain.Block
	fail   error
}

func (w *recordingWriter) Write(_ context.Context, b chain.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.blocks = append(w.blocks, b)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.blocks)
}

func (w *recordingWriter) failWith(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = err
}

const feeOwner = "fp-fee"

type fixture struct {
	store  *InMemoryStore
	writer *recordingWriter
	svc    *Service
	fee    Account
	sent   *notification.Recorder
}

// newFixture builds a service whose fee account holds EUR and whose USD to EUR rate is 0.9.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewInMemory()
	writer := &recordingWriter{}
	sent := &notification.Recorder{}
	svc := NewService(store, writer, currency.NewConverter(nil, logging.Discard()), Options{
		App:      AppContext{AppID: "ledger-test", Region: chain.RegionUSEastOhio},
		Notifier: sent,
	}, logging.Discard())

	opening, err := svc.CreateAccount(context.Background(), CreateAccountInput{Currency: "EUR", AccountType: "SystemFee"}, Caller{Fingerprint: feeOwner})
	require.NoError(t, err)
	svc.opts.FeeAccountID = opening.Account.ID
	SeedRate(store, currency.USD, currency.EUR, decimal.RequireFromString("0.9"))

	return &fixture{store: store, writer: writer, svc: svc, fee: opening.Account, sent: sent}
}

func (f *fixture) open(t *testing.T, owner string, cur currency.Currency, balance string) Account {
	t.Helper()
	opening, err := f.svc.CreateAccount(context.Background(), CreateAccountInput{Currency: string(cur), AccountType: "Normal"}, Caller{Fingerprint: owner})
	require.NoError(t, err)
	SeedBalance(f.store, opening.Account.ID, cur, decimal.RequireFromString(balance))
	return opening.Account
}

func (f *fixture) balance(t *testing.T, accountID string, cur currency.Currency) decimal.Decimal {
	t.Helper()
	tx, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background()) // nolint:errcheck
	w, err := tx.WalletForUpdate(context.Background(), accountID, cur)
	require.NoError(t, err)
	return w.Balance
}

func payment(accountID, amount string) MovementInput {
	return MovementInput{AccountID: accountID, Amount: decimal.RequireFromString(amount), TransactionType: "Payment"}
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.writer.count()

	opening, err := f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "usd", AccountType: "normal", Timezone: "Europe/Paris"}, Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, opening.Account.Status)
	assert.False(t, opening.Account.Locked)
	assert.Equal(t, currency.USD, opening.Account.Currency)
	assert.Equal(t, "Europe/Paris", opening.Account.Timezone)
	assert.True(t, opening.Wallet.Balance.IsZero())

	entries := f.store.Entries(opening.Account.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, EntryInitialization, entries[0].EntryType)
	assert.EqualValues(t, 1, entries[0].SequenceNumber)

	activities := f.store.Activities("fp-alice")
	require.Len(t, activities, 1)
	assert.Equal(t, opening.BlockID, activities[0].BlockID)

	stamps, err := f.svc.ChainOf(ctx, "fp-alice")
	require.NoError(t, err)
	require.Len(t, stamps, 1)
	assert.True(t, stamps[0].IsRoot())

	assert.Equal(t, before+1, f.writer.count())
	pending, err := f.store.PendingBlocks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateAccountRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := Caller{Fingerprint: "fp-alice"}

	_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Normal"}, caller)
	require.NoError(t, err)
	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Normal"}, caller)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
}

func TestCreateAccountAddsWalletAndExtendsChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := Caller{Fingerprint: "fp-alice"}

	first, err := f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Normal"}, caller)
	require.NoError(t, err)
	second, err := f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "EUR", AccountType: "Normal"}, caller)
	require.NoError(t, err)
	assert.Equal(t, first.Account.ID, second.Account.ID)
	assert.Equal(t, currency.EUR, second.Wallet.Currency)

	_, err = f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "EUR", AccountType: "Normal"}, caller)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))

	escrow, err := f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "USD", AccountType: "Escrow"}, caller)
	require.NoError(t, err)
	assert.NotEqual(t, first.Account.ID, escrow.Account.ID)

	stamps, err := f.svc.ChainOf(ctx, "fp-alice")
	require.NoError(t, err)
	assert.Len(t, stamps, 3)
	assert.Equal(t, stamps[0].ID, stamps[1].ParentID)
	assert.Equal(t, stamps[1].ID, stamps[2].ParentID)
}

func TestCreateAccountRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		in     CreateAccountInput
		caller Caller
	}{
		{"unknown currency", CreateAccountInput{Currency: "XAF", AccountType: "Normal"}, Caller{Fingerprint: "fp"}},
		{"unknown type", CreateAccountInput{Currency: "USD", AccountType: "Savings"}, Caller{Fingerprint: "fp"}},
		{"unknown timezone", CreateAccountInput{Currency: "USD", AccountType: "Normal", Timezone: "Mars/Olympus"}, Caller{Fingerprint: "fp"}},
		{"anonymous caller", CreateAccountInput{Currency: "USD", AccountType: "Normal"}, Caller{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAccount(ctx, tt.in, tt.caller)
			assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestDebitChargesCommission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.USD, "100")

	receipt, err := f.svc.Debit(ctx, payment(payer.ID, "30"), Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)

	assert.Equal(t, "29.97", receipt.Transaction.Amount.String())
	assert.Equal(t, "70.03", receipt.Wallet.Balance.String())
	assert.Equal(t, "70.03", f.balance(t, payer.ID, currency.USD).String())

	require.NotNil(t, receipt.Commission)
	assert.Equal(t, TxCommission, receipt.Commission.Transaction.Type)
	assert.Equal(t, "0.027", receipt.Commission.Transaction.Amount.String())
	assert.Equal(t, "0.027", f.balance(t, f.fee.ID, currency.EUR).String())

	entries := f.store.Entries(payer.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryDebit, entries[1].EntryType)
	assert.EqualValues(t, 2, entries[1].SequenceNumber)

	payerChain, err := f.svc.ChainOf(ctx, "fp-alice")
	require.NoError(t, err)
	assert.Len(t, payerChain, 2)
	feeChain, err := f.svc.ChainOf(ctx, feeOwner)
	require.NoError(t, err)
	assert.Len(t, feeChain, 2)

	head := f.store.Activities("fp-alice")
	assert.Equal(t, payerChain[1].ID, head[len(head)-1].ChainStampID)
}

func TestDebitInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.USD, "10")
	blocksBefore := f.writer.count()

	_, err := f.svc.Debit(ctx, payment(payer.ID, "20"), Caller{Fingerprint: "fp-alice"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	assert.Equal(t, "10", f.balance(t, payer.ID, currency.USD).String())
	assert.True(t, f.balance(t, f.fee.ID, currency.EUR).IsZero())
	assert.Len(t, f.store.Entries(payer.ID), 1)
	assert.Len(t, f.store.Entries(f.fee.ID), 1)
	assert.Len(t, f.store.Activities("fp-alice"), 1)
	assert.Len(t, f.store.Transactions(payer.ID), 1)
	stamps, err := f.svc.ChainOf(ctx, "fp-alice")
	require.NoError(t, err)
	assert.Len(t, stamps, 1)
	assert.Equal(t, blocksBefore, f.writer.count())
	pending, err := f.store.PendingBlocks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDebitPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.USD, "100")
	alice := Caller{Fingerprint: "fp-alice"}

	_, err := f.svc.Debit(ctx, payment(payer.ID, "1"), Caller{Fingerprint: "fp-mallory"})
	assert.True(t, errors.Is(err, apperrors.ErrNotOwner))

	_, err = f.svc.Debit(ctx, payment("missing", "1"), alice)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.Debit(ctx, payment(payer.ID, "0"), alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	_, err = f.svc.Debit(ctx, MovementInput{AccountID: payer.ID, Amount: decimal.Zero, TransactionType: "Initialization"}, alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	_, err = f.svc.Debit(ctx, MovementInput{AccountID: payer.ID, Amount: decimal.NewFromInt(-1), TransactionType: "Correction"}, alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	_, err = f.svc.Debit(ctx, MovementInput{AccountID: payer.ID, Amount: decimal.NewFromInt(1), TransactionType: "Payment", Currency: "GBP"}, alice)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "no GBP wallet")

	_, err = f.svc.Lock(ctx, payer.ID, alice)
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, payment(payer.ID, "1"), alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
	assert.Equal(t, "100", f.balance(t, payer.ID, currency.USD).String())
}

func TestDebitWithoutRateRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.GBP, "50")

	_, err := f.svc.Debit(ctx, payment(payer.ID, "10"), Caller{Fingerprint: "fp-alice"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
	assert.Equal(t, "50", f.balance(t, payer.ID, currency.GBP).String())
	assert.Len(t, f.store.Entries(payer.ID), 1)
}

func TestDebitWithoutFeeAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.USD, "50")
	f.svc.opts.FeeAccountID = "missing"

	_, err := f.svc.Debit(ctx, payment(payer.ID, "10"), Caller{Fingerprint: "fp-alice"})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
	assert.Equal(t, "50", f.balance(t, payer.ID, currency.USD).String())
}

func TestCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "fp-alice", currency.USD, "0")

	receipt, err := f.svc.Credit(ctx, payment(acct.ID, "12.5"), Caller{Fingerprint: "fp-bob"})
	require.NoError(t, err)
	assert.Nil(t, receipt.Commission)
	assert.Equal(t, "12.5", receipt.Wallet.Balance.String())

	entries := f.store.Entries(acct.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryCredit, entries[1].EntryType)

	stamps, err := f.svc.ChainOf(ctx, "fp-alice")
	require.NoError(t, err)
	assert.Len(t, stamps, 2, "credit extends the account owner's chain")
	_, err = f.svc.ChainOf(ctx, "fp-bob")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState), "bob has no chain")
}

func TestCreditWithoutActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An account row without the chain that CreateAccount would have started.
	tx, err := f.store.Begin(ctx)
	require.NoError(t, err)
	acct := testAccount("fp-orphan")
	_, err = tx.InsertAccount(ctx, acct)
	require.NoError(t, err)
	_, err = tx.InsertWallet(ctx, NewWalletHolding(acct.ID, currency.USD))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = f.svc.Credit(ctx, payment(acct.ID, "1"), Caller{Fingerprint: "fp-bob"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
	assert.Contains(t, err.Error(), "no user activity found")
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.USD, "100")
	alice := Caller{Fingerprint: "fp-alice"}

	const attempts = 15
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Debit(ctx, payment(payer.ID, "10"), alice)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrInvalidArgument):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Each debit removes 9.99, so 10 fit into 100.
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 5, rejected)
	assert.Equal(t, "0.1", f.balance(t, payer.ID, currency.USD).String())
	assert.Equal(t, "0.09", f.balance(t, f.fee.ID, currency.EUR).String())

	stamps, err := f.svc.ChainOf(ctx, "fp-alice")
	require.NoError(t, err)
	assert.Len(t, stamps, 11)
	feeStamps, err := f.svc.ChainOf(ctx, feeOwner)
	require.NoError(t, err)
	assert.Len(t, feeStamps, 11)
}

func TestPartialCommitKeepsRelationalEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.USD, "100")
	f.writer.failWith(errors.New("block store unavailable"))

	receipt, err := f.svc.Debit(ctx, payment(payer.ID, "30"), Caller{Fingerprint: "fp-alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPartialCommit))

	var partial *apperrors.PartialCommitError
	require.True(t, errors.As(err, &partial))
	require.Len(t, partial.BlockIDs, 2)
	assert.Equal(t, receipt.BlockID, partial.BlockIDs[0])
	assert.Equal(t, receipt.Commission.BlockID, partial.BlockIDs[1])

	assert.Equal(t, "70.03", f.balance(t, payer.ID, currency.USD).String())
	pending, err := f.store.PendingBlocks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, partial.BlockIDs[0], pending[0].ID)
}

func TestUpdateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "fp-alice", currency.USD, "0")
	alice := Caller{Fingerprint: "fp-alice", RequestID: "req-1", RequestIP: "10.0.0.1", UserAgent: "test"}

	tz := "America/Mexico_City"
	updated, err := f.svc.UpdateAccount(ctx, acct.ID, AccountChanges{Timezone: &tz}, alice)
	require.NoError(t, err)
	assert.Equal(t, tz, updated.Timezone)

	audits := f.store.AuditLogs()
	require.Len(t, audits, 1)
	assert.Equal(t, acct.ID, audits[0].EntityID)
	assert.Equal(t, "req-1", audits[0].RequestID)
	assert.Contains(t, string(audits[0].Changes), `"before"`)
	assert.Contains(t, string(audits[0].Changes), tz)

	_, err = f.svc.UpdateAccount(ctx, acct.ID, AccountChanges{Timezone: &tz}, Caller{Fingerprint: "fp-mallory"})
	assert.True(t, errors.Is(err, apperrors.ErrNotOwner))

	_, err = f.svc.UpdateAccount(ctx, acct.ID, AccountChanges{}, alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	bad := "Suspended"
	_, err = f.svc.UpdateAccount(ctx, acct.ID, AccountChanges{Status: &bad}, alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))
	assert.Len(t, f.store.AuditLogs(), 1, "rejected updates are not audited")
}

func TestLockedAccountOnlyAcceptsUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "fp-alice", currency.USD, "0")
	alice := Caller{Fingerprint: "fp-alice"}

	locked, err := f.svc.Lock(ctx, acct.ID, alice)
	require.NoError(t, err)
	assert.True(t, locked.Locked)

	tz := "UTC"
	_, err = f.svc.UpdateAccount(ctx, acct.ID, AccountChanges{Timezone: &tz}, alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))

	unlocked, err := f.svc.Unlock(ctx, acct.ID, alice)
	require.NoError(t, err)
	assert.False(t, unlocked.Locked)
	assert.Len(t, f.store.AuditLogs(), 2)
}

func TestFrozenAccountRejectsChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "fp-alice", currency.USD, "5")
	alice := Caller{Fingerprint: "fp-alice"}

	frozen, err := f.svc.Freeze(ctx, acct.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, StatusFrozen, frozen.Status)

	_, err = f.svc.Unlock(ctx, acct.ID, alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
	_, err = f.svc.Credit(ctx, payment(acct.ID, "1"), alice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
}

func TestFindAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := f.open(t, "fp-alice", currency.USD, "7")
	_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Currency: "EUR", AccountType: "Normal"}, Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)

	view, err := f.svc.FindAccount(ctx, acct.ID, Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)
	assert.Equal(t, acct.ID, view.Account.ID)
	require.Len(t, view.Wallets, 2)

	_, err = f.svc.FindAccount(ctx, acct.ID, Caller{Fingerprint: "fp-bob"})
	assert.True(t, errors.Is(err, apperrors.ErrNotOwner))
	_, err = f.svc.FindAccount(ctx, "missing", Caller{Fingerprint: "fp-bob"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestSaveRateFeedsConversion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.open(t, "fp-alice", currency.GBP, "100")

	_, err := f.svc.SaveRate(ctx, "GBP", "GBP", decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	rate, err := f.svc.SaveRate(ctx, "British Pound", "euro", decimal.RequireFromString("1.2"))
	require.NoError(t, err)
	assert.Equal(t, currency.PairHash(currency.GBP, currency.EUR), rate.Hash)
	assert.Equal(t, "ledger-test", rate.AppID)

	receipt, err := f.svc.Debit(ctx, payment(payer.ID, "10"), Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)
	assert.Equal(t, "0.012", receipt.Commission.Transaction.Amount.String())
}

func TestMovementsNotifyOwners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.open(t, "fp-alice", currency.USD, "100")

	_, err := f.svc.Credit(ctx, MovementInput{AccountID: alice.ID, Amount: decimal.RequireFromString("5"), TransactionType: "Transfer"}, Caller{Fingerprint: "fp-bob"})
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, payment(alice.ID, "10"), Caller{Fingerprint: "fp-alice"})
	require.NoError(t, err)
	_, err = f.svc.Debit(ctx, payment(alice.ID, "1000"), Caller{Fingerprint: "fp-alice"})
	require.Error(t, err)

	sent := f.sent.Messages()
	require.Len(t, sent, 2)
	assert.Equal(t, notification.KindCredit, sent[0].Kind)
	assert.Equal(t, "fp-alice", sent[0].Destination)
	assert.Equal(t, notification.KindDebit, sent[1].Kind)
	assert.Contains(t, sent[1].Body, "balance 95.01")
}
