package currency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xrfq/chain_ledger/internal/apperrors"
)

// RateReader is the relational rate table. A missing row is reported as apperrors.ErrNotFound.
type RateReader interface {
	FindRate(ctx context.Context, hash string) (Rate, error)
}

// RateWriter inserts or replaces the relational rate row for rate.Hash.
type RateWriter interface {
	UpsertRate(ctx context.Context, rate Rate) (int64, error)
}

// Converter resolves rates cache-first and falls back to the relational table. Rate staleness
// is not checked here.
type Converter struct {
	cache  Cache
	logger *slog.Logger
}

// NewConverter builds a converter. cache may be nil.
func NewConverter(cache Cache, logger *slog.Logger) *Converter {
	return &Converter{cache: cache, logger: logger}
}

// Convert returns amount expressed in to. Identical currencies short-circuit.
func (c *Converter) Convert(ctx context.Context, rates RateReader, amount decimal.Decimal, from, to Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, err := c.Lookup(ctx, rates, from, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.Mul(rate.Rate), nil
}

// Lookup finds the from->to rate.
func (c *Converter) Lookup(ctx context.Context, rates RateReader, from, to Currency) (Rate, error) {
	hash := PairHash(from, to)

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, hash)
		switch {
		case err != nil:
			c.logger.Warn("rate cache lookup failed", slog.String("hash", hash), slog.Any("error", err))
		case ok:
			return cached, nil
		}
	}

	rate, err := rates.FindRate(ctx, hash)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Rate{}, apperrors.InvalidRecordState("no rate for %s to %s", from, to)
		}
		return Rate{}, err
	}

	c.refresh(ctx, rate)
	return rate, nil
}

// Save validates and stores a rate in the relational table. The caller publishes it to the
// cache with Remember once the surrounding transaction commits.
func (c *Converter) Save(ctx context.Context, w RateWriter, base, quote Currency, value decimal.Decimal, appID string) (Rate, error) {
	if base == quote {
		return Rate{}, apperrors.InvalidArgument("base and quote currency are both %s", base)
	}
	if !value.IsPositive() {
		return Rate{}, apperrors.InvalidArgument("rate must be positive")
	}

	rate := Rate{
		Hash:       PairHash(base, quote),
		Base:       base,
		Quote:      quote,
		Rate:       value,
		RecordedAt: time.Now().UTC(),
		AppID:      appID,
	}
	n, err := w.UpsertRate(ctx, rate)
	if err != nil {
		return Rate{}, err
	}
	if n != 1 {
		return Rate{}, apperrors.ServerError("rate upsert affected %d rows", n)
	}
	return rate, nil
}

// Remember writes rate to the cache, best effort.
func (c *Converter) Remember(ctx context.Context, rate Rate) {
	c.refresh(ctx, rate)
}

func (c *Converter) refresh(ctx context.Context, rate Rate) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, rate); err != nil {
		c.logger.Warn("rate cache refresh failed", slog.String("hash", rate.Hash), slog.Any("error", err))
	}
}
