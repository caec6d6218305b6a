package ledger

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/currency"
)

// SeedBalance is a test helper that sets the balance of an existing wallet in the in-memory store.
func SeedBalance(s *InMemoryStore, accountID string, cur currency.Currency, amount decimal.Decimal) {
	s.sem <- struct{}{}
	defer s.release()
	key := walletKey{accountID, cur}
	if w, ok := s.state.wallets[key]; ok {
		w.Balance = amount
		s.state.wallets[key] = w
	}
}

// SeedRate is a test helper that stores a conversion rate row.
func SeedRate(s *InMemoryStore, base, quote currency.Currency, rate decimal.Decimal) {
	s.sem <- struct{}{}
	defer s.release()
	hash := currency.PairHash(base, quote)
	s.state.rates[hash] = currency.Rate{Hash: hash, Base: base, Quote: quote, Rate: rate}
}

// Entries returns the committed ledger entries of an account.
func (s *InMemoryStore) Entries(accountID string) []LedgerEntry {
	s.sem <- struct{}{}
	defer s.release()
	var out []LedgerEntry
	for _, e := range s.state.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

// Activities returns the committed activities of a subject, oldest first.
func (s *InMemoryStore) Activities(subject string) []Activity {
	s.sem <- struct{}{}
	defer s.release()
	var out []Activity
	for _, a := range s.state.activities {
		if a.Subject == subject {
			out = append(out, a)
		}
	}
	return out
}

// AuditLogs returns every committed audit row.
func (s *InMemoryStore) AuditLogs() []AuditLog {
	s.sem <- struct{}{}
	defer s.release()
	return slices.Clone(s.state.audits)
}

// Transactions returns the committed transactions of an account.
func (s *InMemoryStore) Transactions(accountID string) []Transaction {
	s.sem <- struct{}{}
	defer s.release()
	var out []Transaction
	for _, txn := range s.state.transactions {
		if txn.AccountID == accountID {
			out = append(out, txn)
		}
	}
	slices.SortFunc(out, func(a, b Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}
