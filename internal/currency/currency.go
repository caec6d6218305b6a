package currency

import (
	"strings"

	"github.com/xrfq/chain_ledger/internal/apperrors"
)

// Currency is an ISO-style code for a fiat or crypto currency supported by the ledger.
type Currency string

const (
	USD  Currency = "USD"
	EUR  Currency = "EUR"
	XRP  Currency = "XRP"
	RUB  Currency = "RUB"
	ARS  Currency = "ARS"
	BRL  Currency = "BRL"
	CNY  Currency = "CNY"
	GBP  Currency = "GBP"
	MXN  Currency = "MXN"
	QAR  Currency = "QAR"
	JPY  Currency = "JPY"
	DOGE Currency = "DOGE"
	XRFQ Currency = "XRFQ"
	SOL  Currency = "SOL"
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
	ADA  Currency = "ADA"
	USDT Currency = "USDT"
	BNB  Currency = "BNB"
)

// aliases are matched case-insensitively, in addition to the code itself.
var aliases = map[Currency][]string{
	USD:  {"us dollar"},
	EUR:  {"euro"},
	XRP:  {"ripple"},
	RUB:  {"russian ruble"},
	ARS:  {"argentine peso"},
	BRL:  {"brazilian real"},
	CNY:  {"chinese yuan"},
	GBP:  {"british pound", "pound sterling"},
	MXN:  {"mexican peso"},
	QAR:  {"qatari rial"},
	JPY:  {"japanese yen"},
	DOGE: {"dogecoin"},
	XRFQ: nil,
	SOL:  {"solana"},
	BTC:  {"bitcoin"},
	ETH:  {"ethereum"},
	ADA:  {"cardano"},
	USDT: {"tether"},
	BNB:  {"binance coin", "bnb coin", "binancecoin"},
}

var lookup = func() map[string]Currency {
	m := make(map[string]Currency)
	for c, names := range aliases {
		m[strings.ToLower(string(c))] = c
		for _, n := range names {
			m[n] = c
		}
	}
	return m
}()

// Parse resolves a code or English name to a Currency. Unknown input is rejected.
func Parse(s string) (Currency, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if c, ok := lookup[key]; ok {
		return c, nil
	}
	return "", apperrors.InvalidArgument("unsupported currency %q", s)
}

func (c Currency) String() string {
	return string(c)
}
