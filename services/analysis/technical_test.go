package analysis_test

import (
	"context"
	"testing"
	"time"

	"marketsync/models"
	"marketsync/services/analysis"
	"marketsync/store"
	"marketsync/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var firstDay = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seedBars(t *testing.T, s *store.GormStore, symbol string, n int) {
	t.Helper()
	bars := make([]models.PriceBar, n)
	for i := range bars {
		c := 100 + float64(i%7) + float64(i)/3
		bars[i] = models.PriceBar{
			Symbol:    symbol,
			TradeDate: firstDay.AddDate(0, 0, i),
			Open:      decimal.NewFromFloat(c - 0.5),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    int64(1000 + i),
		}
	}
	_, err := s.UpsertPriceBars(context.Background(), bars)
	require.NoError(t, err)
}

func snapshot(t *testing.T, s *store.GormStore, date time.Time) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, kind := range analysis.AllIndicators {
		points, err := s.IndicatorsOn(context.Background(), date, kind)
		require.NoError(t, err)
		for _, p := range points {
			out[p.Symbol+"/"+p.IndicatorType+"/"+p.Value.String()+"/"+p.ExtraData] = p.Value.String()
		}
	}
	return out
}

func TestCalculateIndicatorsForStockIdempotent(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))
	seedBars(t, s, "VNM", 120)
	engine := analysis.NewEngine(s, 10, zap.NewNop())

	start, end := firstDay.AddDate(0, 0, 100), firstDay.AddDate(0, 0, 119)
	first := engine.CalculateIndicatorsForStock(ctx, "VNM", start, end, nil)
	require.True(t, first.Success, first.Error)
	assert.Equal(t, analysis.AllIndicators, first.IndicatorsCalculated)
	// 20 dates x (4 MA + 2 EMA + RSI + MACD + KDJ + BOLL)
	assert.Equal(t, 20*10, first.TotalIndicators)
	assert.Equal(t, 20+analysis.Lookback(analysis.AllIndicators, 10), first.DataPoints)

	countsBefore, err := s.Counts(ctx)
	require.NoError(t, err)
	before := snapshot(t, s, end)

	second := engine.CalculateIndicatorsForStock(ctx, "VNM", start, end, nil)
	require.True(t, second.Success, second.Error)
	assert.Equal(t, first.TotalIndicators, second.TotalIndicators)

	countsAfter, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, countsBefore.Indicators, countsAfter.Indicators)
	assert.Equal(t, before, snapshot(t, s, end))
}

func TestCalculateIndicatorsNoHistory(t *testing.T) {
	s := store.New(storetest.NewDB(t))
	engine := analysis.NewEngine(s, 10, zap.NewNop())

	res := engine.CalculateIndicatorsForStock(context.Background(), "NONE", firstDay, firstDay.AddDate(0, 0, 5), []string{analysis.IndicatorMA})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no price data")
	assert.Zero(t, res.TotalIndicators)
}

func TestCalculateIndicatorsSubsetAndUnknown(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))
	seedBars(t, s, "FPT", 40)
	engine := analysis.NewEngine(s, 0, zap.NewNop())

	day := firstDay.AddDate(0, 0, 39)
	res := engine.CalculateIndicatorsForStock(ctx, "FPT", day, day, []string{analysis.IndicatorRSI, "WILLR"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{analysis.IndicatorRSI}, res.IndicatorsCalculated)
	assert.Equal(t, 1, res.TotalIndicators)
	assert.Equal(t, 1+analysis.RequiredBars(analysis.IndicatorRSI), res.DataPoints)

	points, err := s.IndicatorsOn(ctx, day, analysis.IndicatorRSI)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, analysis.RSIPeriod, points[0].IndicatorParam)
}

func TestLookbackCoversWarmup(t *testing.T) {
	ctx := context.Background()
	s := store.New(storetest.NewDB(t))
	seedBars(t, s, "HPG", 100)

	// with no margin a single requested day still gets its MACD signal
	engine := analysis.NewEngine(s, 0, zap.NewNop())
	day := firstDay.AddDate(0, 0, 99)
	res := engine.CalculateIndicatorsForStock(ctx, "HPG", day, day, []string{analysis.IndicatorMACD})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.TotalIndicators)

	points, err := s.IndicatorsOn(ctx, day, analysis.IndicatorMACD)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Contains(t, points[0].ExtraData, "signal")
}
