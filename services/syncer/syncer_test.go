package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketsync/models"
	"marketsync/services/analysis"
	"marketsync/services/calendar"
	"marketsync/services/datafetcher"
	"marketsync/services/ledger"
	"marketsync/store"
	"marketsync/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Wednesday afternoon
var testNow = time.Date(2024, 3, 6, 16, 0, 0, 0, time.UTC)

type fakeClient struct {
	mu          sync.Mutex
	universe    []datafetcher.SymbolInfo
	universeErr error
	barErrs     map[string]error
	panicOn     string
	barCalls    []string
}

func (f *fakeClient) FetchSymbolUniverse(ctx context.Context) ([]datafetcher.SymbolInfo, error) {
	if f.universeErr != nil {
		return nil, f.universeErr
	}
	return f.universe, nil
}

func (f *fakeClient) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	f.mu.Lock()
	f.barCalls = append(f.barCalls, symbol)
	f.mu.Unlock()

	if symbol == f.panicOn {
		panic("provider blew up")
	}
	if err := f.barErrs[symbol]; err != nil {
		return nil, err
	}

	var bars []models.PriceBar
	for d := models.TradeDate(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		c := decimal.NewFromFloat(50 + float64(d.YearDay()%11))
		bars = append(bars, models.PriceBar{
			TradeDate: d,
			Open:      c,
			High:      c.Add(decimal.NewFromInt(1)),
			Low:       c.Sub(decimal.NewFromInt(1)),
			Close:     c,
			Volume:    1000,
		})
	}
	return bars, nil
}

type fixture struct {
	orch   *Orchestrator
	store  *store.GormStore
	ledger *ledger.Ledger
	client *fakeClient
}

func newFixture(t *testing.T, client *fakeClient, opts Options) *fixture {
	t.Helper()
	db := storetest.NewDB(t)
	s := store.New(db)
	l := ledger.New(db, zap.NewNop())
	o := New(Deps{
		Store:    s,
		Client:   client,
		Ledger:   l,
		Engine:   analysis.NewEngine(s, 5, zap.NewNop()),
		Calendar: calendar.New(time.UTC),
		Logger:   zap.NewNop(),
	}, opts)
	o.now = func() time.Time { return testNow }
	return &fixture{orch: o, store: s, ledger: l, client: client}
}

func seedStocks(t *testing.T, s *store.GormStore, symbols ...string) {
	t.Helper()
	for _, sym := range symbols {
		_, err := s.UpsertStock(context.Background(), &models.Stock{Symbol: sym, Status: models.StockStatusActive})
		require.NoError(t, err)
	}
}

func TestSyncStockList(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{universe: []datafetcher.SymbolInfo{
		{Symbol: "VNM", Name: "Vinamilk", Exchange: "HOSE"},
		{Symbol: "FPT", Name: "FPT Corp", Exchange: "HOSE"},
		{Symbol: "OLD", IsDelisted: true},
	}}
	f := newFixture(t, client, Options{})

	res := f.orch.SyncStockList(ctx)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 3, res.Records)

	// second run updates in place
	res = f.orch.SyncStockList(ctx)
	require.True(t, res.Success, res.Error)

	symbols, err := f.store.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"FPT", "VNM"}, symbols)

	entry, err := f.ledger.Latest(ctx, models.DataTypeStockInfo)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.StatusSuccess, entry.Status)
	assert.Equal(t, 3, entry.RecordsCount)
}

func TestSyncStockListFetchFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeClient{universeErr: errors.New("503 from provider")}, Options{})

	res := f.orch.SyncStockList(ctx)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "503 from provider")

	entry, err := f.ledger.Latest(ctx, models.DataTypeStockInfo)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, entry.Status)
}

func TestSyncDailyDataIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{barErrs: map[string]error{"HPG": errors.New("timeout")}}
	f := newFixture(t, client, Options{BatchSize: 2})
	seedStocks(t, f.store, "FPT", "HPG", "VCB", "VNM")

	res := f.orch.SyncDailyData(ctx, 7)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"HPG"}, res.FailedSymbols)
	assert.Contains(t, res.Error, "HPG")
	assert.Equal(t, []string{"FPT", "HPG", "VCB", "VNM"}, client.barCalls)

	// 2024-02-28 .. 2024-03-06 holds 6 weekdays
	assert.Equal(t, 3*6, res.Records)

	entry, err := f.ledger.Latest(ctx, models.DataTypeDailyData)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, entry.Status)
	assert.Equal(t, 18, entry.RecordsCount)
}

func TestSyncDailyDataRerunHasNoDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeClient{}, Options{})
	seedStocks(t, f.store, "FPT")

	for i := 0; i < 2; i++ {
		res := f.orch.SyncDailyData(ctx, 7)
		require.True(t, res.Success, res.Error)
	}

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), counts.PriceBars)
}

func TestSyncDailyDataAllFail(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")
	f := newFixture(t, &fakeClient{barErrs: map[string]error{"FPT": down, "VNM": down}}, Options{})
	seedStocks(t, f.store, "FPT", "VNM")

	res := f.orch.SyncDailyData(ctx, 3)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Failed)
	assert.Contains(t, res.Error, "every symbol failed")
}

func TestSyncDailyDataNoSymbols(t *testing.T) {
	f := newFixture(t, &fakeClient{}, Options{})

	res := f.orch.SyncDailyData(context.Background(), 3)
	assert.True(t, res.Success)
	assert.Zero(t, res.Total)
}

func TestSyncDailyDataRecoversPanics(t *testing.T) {
	f := newFixture(t, &fakeClient{panicOn: "VNM"}, Options{})
	seedStocks(t, f.store, "VNM")

	seedStocks(t, f.store, "FPT")

	res := f.orch.SyncDailyData(context.Background(), 3)
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"VNM"}, res.FailedSymbols)
	assert.Contains(t, res.Error, "panic")

	entry, err := f.ledger.Latest(context.Background(), models.DataTypeDailyData)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, entry.Status)
}

func TestSyncDailyDataCancelled(t *testing.T) {
	f := newFixture(t, &fakeClient{}, Options{})
	seedStocks(t, f.store, "FPT", "VNM")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.orch.SyncDailyData(ctx, 3)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.Canceled.Error())
}

func TestSyncTechnicalIndicators(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeClient{}, Options{Indicators: []string{analysis.IndicatorMA, analysis.IndicatorRSI}})
	seedStocks(t, f.store, "FPT", "VNM")

	res := f.orch.SyncDailyData(ctx, 150)
	require.True(t, res.Success, res.Error)

	ind := f.orch.SyncTechnicalIndicators(ctx, 5)
	require.True(t, ind.Success, ind.Error)
	assert.Equal(t, 2, ind.Total)
	assert.Equal(t, 2, ind.Succeeded)
	assert.Greater(t, ind.Records, 0)

	again := f.orch.SyncTechnicalIndicators(ctx, 5)
	require.True(t, again.Success, again.Error)
	assert.Equal(t, ind.Records, again.Records)

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(ind.Records), counts.Indicators)
}

func TestSyncTechnicalIndicatorsWithoutHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeClient{}, Options{})
	seedStocks(t, f.store, "FPT", "NEW")

	bars, err := f.client.FetchDailyBars(ctx, "FPT", testNow.AddDate(0, 0, -150), testNow)
	require.NoError(t, err)
	for i := range bars {
		bars[i].Symbol = "FPT"
	}
	_, err = f.store.UpsertPriceBars(ctx, bars)
	require.NoError(t, err)

	ind := f.orch.SyncTechnicalIndicators(ctx, 5)
	require.True(t, ind.Success, ind.Error)
	assert.Equal(t, 1, ind.Succeeded)
	assert.Equal(t, []string{"NEW"}, ind.FailedSymbols)
	assert.Contains(t, ind.Error, "no price data for NEW")
}

func TestFullSyncRunsEveryStage(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{universeErr: errors.New("universe endpoint down")}
	f := newFixture(t, client, Options{DaysBack: 120, IndicatorDaysBack: 3})
	seedStocks(t, f.store, "FPT", "VNM")

	res := f.orch.FullSync(ctx)
	assert.False(t, res.Success)

	assert.False(t, res.StockList.Success)
	assert.Contains(t, res.StockList.Error, "universe endpoint down")

	assert.True(t, res.DailyData.Success, res.DailyData.Error)
	assert.Equal(t, []string{"FPT", "VNM"}, client.barCalls)

	assert.True(t, res.Indicators.Success, res.Indicators.Error)
	assert.Equal(t, 2, res.Indicators.Succeeded)

	for _, dataType := range models.DataTypes {
		entry, err := f.ledger.Latest(ctx, dataType)
		require.NoError(t, err)
		require.NotNil(t, entry, dataType)
		assert.NotEqual(t, models.StatusRunning, entry.Status, dataType)
	}
}

func TestGetSyncStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeClient{universe: []datafetcher.SymbolInfo{{Symbol: "VNM"}}}, Options{})

	status := f.orch.GetSyncStatus(ctx)
	require.True(t, status.Success, status.Error)
	require.Len(t, status.Types, len(models.DataTypes))
	for _, ts := range status.Types {
		assert.Equal(t, StatusNever, ts.Status)
		assert.Nil(t, ts.LastUpdate)
	}

	require.True(t, f.orch.SyncStockList(ctx).Success)

	status = f.orch.GetSyncStatus(ctx)
	require.True(t, status.Success, status.Error)
	stock := status.Type(models.DataTypeStockInfo)
	assert.Equal(t, models.StatusSuccess, stock.Status)
	assert.Equal(t, 1, stock.RecordsCount)
	require.NotNil(t, stock.LastUpdate)
	assert.Equal(t, StatusNever, status.Type(models.DataTypeDailyData).Status)
	assert.Equal(t, int64(1), status.Counts.Stocks)
}

func TestGetSyncStatusSeveredStore(t *testing.T) {
	db := storetest.NewDB(t)
	s := store.New(db)
	o := New(Deps{Store: s, Client: &fakeClient{}, Ledger: ledger.New(db, nil)}, Options{})
	storetest.Sever(t, db)

	status := o.GetSyncStatus(context.Background())
	assert.False(t, status.Success)
	assert.NotEmpty(t, status.Error)
}
