package datafetcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketsync/models"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// AlpacaClient fetches US equities from Alpaca: the asset list from the
// trading API and daily bars from the market data API.
type AlpacaClient struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    string
}

var _ Client = (*AlpacaClient)(nil)

// NewAlpacaClient creates an Alpaca-backed client. Empty URLs use the SDK
// defaults.
func NewAlpacaClient(apiKey, apiSecret, baseURL, dataURL, feed string) *AlpacaClient {
	dataOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}

	return &AlpacaClient{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(dataOpts),
		feed: feed,
	}
}

// FetchSymbolUniverse lists tradable US equities
func (c *AlpacaClient) FetchSymbolUniverse(ctx context.Context) ([]SymbolInfo, error) {
	assets, err := withContext(ctx, func() ([]alpaca.Asset, error) {
		return c.trading.GetAssets(alpaca.GetAssetsRequest{
			Status:     "active",
			AssetClass: "us_equity",
		})
	})
	if err != nil {
		return nil, fmt.Errorf("GetAssets: %w", err)
	}

	symbols := make([]SymbolInfo, 0, len(assets))
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		symbols = append(symbols, SymbolInfo{
			Symbol:     strings.ToUpper(a.Symbol),
			Name:       a.Name,
			Exchange:   string(a.Exchange),
			IsDelisted: string(a.Status) != "active",
		})
	}
	return symbols, nil
}

// seedDays is how far before the window FetchDailyBars looks for the
// previous close. It spans a weekend plus the longest exchange closure.
const seedDays = 10

// FetchDailyBars fetches daily bars of symbol between from and to inclusive.
// Change fields are relative to the previous session's close, including for
// the first bar of the window.
func (c *AlpacaClient) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	start := models.TradeDate(from)
	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start.AddDate(0, 0, -seedDays),
		End:       models.TradeDate(to).Add(24*time.Hour - time.Second),
	}
	if c.feed != "" {
		req.Feed = marketdata.Feed(c.feed)
	}

	raw, err := withContext(ctx, func() ([]marketdata.Bar, error) {
		return c.data.GetBars(symbol, req)
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	return alpacaBars(symbol, raw, start), nil
}

// alpacaBars converts raw bars to price bars dated on or after start. Bars
// before start only seed the previous close.
func alpacaBars(symbol string, raw []marketdata.Bar, start time.Time) []models.PriceBar {
	sort.Slice(raw, func(i, j int) bool { return raw[i].Timestamp.Before(raw[j].Timestamp) })

	bars := make([]models.PriceBar, 0, len(raw))
	prevClose := 0.0
	for _, ab := range raw {
		date := models.TradeDate(ab.Timestamp)
		if date.Before(start) {
			prevClose = ab.Close
			continue
		}

		bar := models.PriceBar{
			Symbol:    strings.ToUpper(symbol),
			TradeDate: date,
			Open:      decimal.NewFromFloat(ab.Open),
			High:      decimal.NewFromFloat(ab.High),
			Low:       decimal.NewFromFloat(ab.Low),
			Close:     decimal.NewFromFloat(ab.Close),
			Volume:    int64(ab.Volume),
			Amount:    decimal.NewFromFloat(ab.VWAP * float64(ab.Volume)).Round(2),
		}
		if prevClose > 0 {
			change := ab.Close - prevClose
			bar.ChangeAmount = decimal.NewFromFloat(change).Round(4)
			bar.ChangePercent = decimal.NewFromFloat(change / prevClose * 100).Round(4)
		}
		prevClose = ab.Close
		bars = append(bars, bar)
	}
	return bars
}

// withContext runs call and returns when it finishes or ctx ends, whichever
// comes first. The SDK takes no context, so an abandoned call completes in
// the background and its result is dropped.
func withContext[T any](ctx context.Context, call func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
