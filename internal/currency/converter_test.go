package currency

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrfq/chain_ledger/internal/apperrors"
	"github.com/xrfq/chain_ledger/internal/logging"
)

type fakeRates struct {
	rows  map[string]Rate
	reads int
}

func (f *fakeRates) FindRate(_ context.Context, hash string) (Rate, error) {
	f.reads++
	r, ok := f.rows[hash]
	if !ok {
		return Rate{}, apperrors.NotFound("rate %s", hash)
	}
	return r, nil
}

func (f *fakeRates) UpsertRate(_ context.Context, rate Rate) (int64, error) {
	if f.rows == nil {
		f.rows = map[string]Rate{}
	}
	f.rows[rate.Hash] = rate
	return 1, nil
}

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisCache(client, time.Minute), mr
}

func TestConvertSameCurrency(t *testing.T) {
	c := NewConverter(nil, logging.Discard())
	rates := &fakeRates{}
	got, err := c.Convert(context.Background(), rates, decimal.RequireFromString("12.5"), USD, USD)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("12.5")))
	assert.Zero(t, rates.reads)
}

func TestConvertFallsBackToTableAndFillsCache(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	c := NewConverter(cache, logging.Discard())
	rates := &fakeRates{rows: map[string]Rate{
		PairHash(USD, EUR): {Hash: PairHash(USD, EUR), Base: USD, Quote: EUR, Rate: decimal.RequireFromString("0.9")},
	}}

	got, err := c.Convert(ctx, rates, decimal.RequireFromString("0.03"), USD, EUR)
	require.NoError(t, err)
	assert.Equal(t, "0.027", got.String())
	assert.Equal(t, 1, rates.reads)

	cached, ok, err := cache.Get(ctx, PairHash(USD, EUR))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.Rate.Equal(decimal.RequireFromString("0.9")))

	_, err = c.Convert(ctx, rates, decimal.NewFromInt(1), USD, EUR)
	require.NoError(t, err)
	assert.Equal(t, 1, rates.reads, "second lookup must be served from cache")
}

func TestConvertIsOrderSensitive(t *testing.T) {
	c := NewConverter(nil, logging.Discard())
	rates := &fakeRates{rows: map[string]Rate{
		PairHash(USD, EUR): {Hash: PairHash(USD, EUR), Base: USD, Quote: EUR, Rate: decimal.RequireFromString("0.9")},
	}}
	_, err := c.Convert(context.Background(), rates, decimal.NewFromInt(1), EUR, USD)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidRecordState))
}

func TestConvertSurvivesCacheOutage(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()
	c := NewConverter(cache, logging.Discard())
	rates := &fakeRates{rows: map[string]Rate{
		PairHash(BTC, USD): {Hash: PairHash(BTC, USD), Base: BTC, Quote: USD, Rate: decimal.NewFromInt(60000)},
	}}
	got, err := c.Convert(context.Background(), rates, decimal.RequireFromString("0.5"), BTC, USD)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(30000)))
}

func TestSaveValidatesAndRemember(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	c := NewConverter(cache, logging.Discard())
	rates := &fakeRates{}

	_, err := c.Save(ctx, rates, USD, USD, decimal.NewFromInt(1), "app")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	_, err = c.Save(ctx, rates, USD, EUR, decimal.Zero, "app")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidArgument))

	rate, err := c.Save(ctx, rates, USD, EUR, decimal.RequireFromString("0.92"), "app")
	require.NoError(t, err)
	assert.Equal(t, PairHash(USD, EUR), rate.Hash)

	_, ok, err := cache.Get(ctx, rate.Hash)
	require.NoError(t, err)
	assert.False(t, ok, "save alone must not publish to the cache")

	c.Remember(ctx, rate)
	_, ok, err = cache.Get(ctx, rate.Hash)
	require.NoError(t, err)
	assert.True(t, ok)
}
