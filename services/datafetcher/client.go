// Package datafetcher talks to external market data providers.
package datafetcher

import (
	"context"
	"time"

	"marketsync/models"
)

// SymbolInfo is one entry of a provider's symbol universe
type SymbolInfo struct {
	Symbol      string
	Name        string
	Exchange    string
	Industry    string
	ListingDate *time.Time
	IsST        bool
	IsDelisted  bool
}

// ToStock converts the provider entry into a stock row
func (s SymbolInfo) ToStock() *models.Stock {
	status := models.StockStatusActive
	if s.IsDelisted {
		status = models.StockStatusDelisted
	}
	return &models.Stock{
		Symbol:      s.Symbol,
		Name:        s.Name,
		Exchange:    s.Exchange,
		Industry:    s.Industry,
		ListingDate: s.ListingDate,
		IsST:        s.IsST,
		IsDelisted:  s.IsDelisted,
		Status:      status,
	}
}

// Client fetches symbol metadata and daily bars. Every call may fail and is
// safe to retry.
type Client interface {
	FetchSymbolUniverse(ctx context.Context) ([]SymbolInfo, error)
	FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error)
}
