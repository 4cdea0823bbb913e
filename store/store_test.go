package store_test

import (
	"context"
	"testing"
	"time"

	"marketsync/models"
	"marketsync/store"
	"marketsync/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(symbol, date string, closePrice float64) models.PriceBar {
	c := decimal.NewFromFloat(closePrice)
	return models.PriceBar{
		Symbol:    symbol,
		TradeDate: day(date),
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    1000,
	}
}

func TestUpsertStockCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))

	created, err := s.UpsertStock(ctx, &models.Stock{Symbol: "VNM", Name: "Vinamilk", Status: models.StockStatusActive})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.UpsertStock(ctx, &models.Stock{Symbol: "VNM", Name: "Vietnam Dairy", Status: models.StockStatusActive})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetStock(ctx, "VNM")
	require.NoError(t, err)
	assert.Equal(t, "Vietnam Dairy", got.Name)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Stocks)
}

func TestGetStockNotFound(t *testing.T) {
	s := store.New(storetest.NewDB(t))

	_, err := s.GetStock(context.Background(), "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActiveSymbolsSkipsDelisted(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))

	for _, st := range []models.Stock{
		{Symbol: "HPG", Status: models.StockStatusActive},
		{Symbol: "AAA", Status: models.StockStatusActive},
		{Symbol: "OLD", Status: models.StockStatusDelisted, IsDelisted: true},
	} {
		st := st
		_, err := s.UpsertStock(ctx, &st)
		require.NoError(t, err)
	}

	symbols, err := s.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "HPG"}, symbols)
}

func TestUpsertPriceBarsNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))

	n, err := s.UpsertPriceBars(ctx, []models.PriceBar{bar("FPT", "2024-03-04", 100), bar("FPT", "2024-03-05", 101)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// same key, new close: must update in place
	_, err = s.UpsertPriceBars(ctx, []models.PriceBar{bar("FPT", "2024-03-05", 105)})
	require.NoError(t, err)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.PriceBars)

	got, err := s.GetPriceBar(ctx, "FPT", day("2024-03-05"))
	require.NoError(t, err)
	assert.True(t, got.Close.Equal(decimal.NewFromInt(105)), "close = %s", got.Close)
}

func TestUpsertPriceBarsNormalizesTradeDate(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))

	b := bar("FPT", "2024-03-04", 100)
	b.TradeDate = b.TradeDate.Add(15*time.Hour + 30*time.Minute)
	_, err := s.UpsertPriceBars(ctx, []models.PriceBar{b})
	require.NoError(t, err)
	_, err = s.UpsertPriceBars(ctx, []models.PriceBar{bar("FPT", "2024-03-04", 100)})
	require.NoError(t, err)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.PriceBars)
}

func TestPriceHistoryIncludesLookback(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))

	var bars []models.PriceBar
	start := day("2024-01-01")
	for i := 0; i < 10; i++ {
		bars = append(bars, bar("VCB", start.AddDate(0, 0, i).Format(time.DateOnly), float64(i)))
	}
	_, err := s.UpsertPriceBars(ctx, bars)
	require.NoError(t, err)

	history, err := s.PriceHistory(ctx, "VCB", day("2024-01-06"), day("2024-01-08"), 3)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, day("2024-01-03"), history[0].TradeDate.UTC())
	assert.Equal(t, day("2024-01-08"), history[5].TradeDate.UTC())
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].TradeDate.After(history[i-1].TradeDate), "history not ascending at %d", i)
	}

	history, err = s.PriceHistory(ctx, "VCB", day("2024-01-06"), day("2024-01-08"), 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestUpsertIndicatorsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))

	point := models.TechnicalIndicator{
		Symbol:         "VNM",
		TradeDate:      day("2024-03-04"),
		IndicatorType:  "MA",
		IndicatorParam: 5,
		Value:          decimal.NewFromFloat(12.5),
	}
	for i := 0; i < 2; i++ {
		_, err := s.UpsertIndicators(ctx, []models.TechnicalIndicator{point})
		require.NoError(t, err)
	}

	got, err := s.IndicatorsOn(ctx, day("2024-03-04"), "MA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Value.Equal(decimal.NewFromFloat(12.5)))
}

func TestPingFailsOnSeveredConnection(t *testing.T) {
	db := storetest.NewDB(t)
	s := store.New(db)
	require.NoError(t, s.Ping(context.Background()))

	storetest.Sever(t, db)
	assert.Error(t, s.Ping(context.Background()))
}
