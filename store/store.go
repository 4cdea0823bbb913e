// Package store is the gorm-backed persistence layer for symbols, price bars
// and derived indicators. Every write goes through upsert-by-natural-key inside
// a transaction, so re-running a sync after a partial failure is safe.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/models"

	"gorm.io/gorm"
)

// Counts holds row counts used by status reporting
type Counts struct {
	Stocks       int64 `json:"stocks"`
	ActiveStocks int64 `json:"active_stocks"`
	STStocks     int64 `json:"st_stocks"`
	PriceBars    int64 `json:"price_bars"`
	Indicators   int64 `json:"indicators"`
}

// Store is the persistence contract the sync and report layers depend on
type Store interface {
	UpsertStock(ctx context.Context, stock *models.Stock) (created bool, err error)
	GetStock(ctx context.Context, symbol string) (*models.Stock, error)
	ActiveSymbols(ctx context.Context) ([]string, error)

	UpsertPriceBars(ctx context.Context, bars []models.PriceBar) (int, error)
	GetPriceBar(ctx context.Context, symbol string, date time.Time) (*models.PriceBar, error)
	PriceHistory(ctx context.Context, symbol string, start, end time.Time, lookback int) ([]models.PriceBar, error)
	BarsOn(ctx context.Context, date time.Time) ([]models.PriceBar, error)

	UpsertIndicators(ctx context.Context, points []models.TechnicalIndicator) (int, error)
	IndicatorsOn(ctx context.Context, date time.Time, indicatorType string) ([]models.TechnicalIndicator, error)

	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
}

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("record not found")

// GormStore implements Store on top of gorm
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// New creates a new gorm store
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle for collaborators that keep their own tables
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// UpsertStock creates the stock if its symbol is new, otherwise updates the
// existing row in place.
func (s *GormStore) UpsertStock(ctx context.Context, stock *models.Stock) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Stock
		err := tx.Where("symbol = ?", stock.Symbol).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(stock).Error
		}
		if err != nil {
			return err
		}

		stock.ID = existing.ID
		stock.CreatedAt = existing.CreatedAt
		return tx.Save(stock).Error
	})
	if err != nil {
		return false, fmt.Errorf("upsert stock %s: %w", stock.Symbol, err)
	}
	return created, nil
}

// GetStock returns a stock by symbol
func (s *GormStore) GetStock(ctx context.Context, symbol string) (*models.Stock, error) {
	var stock models.Stock
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&stock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", symbol, err)
	}
	return &stock, nil
}

// ActiveSymbols returns the symbols of all listed, active stocks in symbol order
func (s *GormStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&models.Stock{}).
		Where("status = ? AND is_delisted = ?", models.StockStatusActive, false).
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("load active symbols: %w", err)
	}
	return symbols, nil
}

// UpsertPriceBars writes bars keyed by (symbol, trade_date) in one transaction.
// Either every bar is written or none is.
func (s *GormStore) UpsertPriceBars(ctx context.Context, bars []models.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range bars {
			bar := bars[i]
			bar.TradeDate = models.TradeDate(bar.TradeDate)

			var existing models.PriceBar
			err := tx.Where("symbol = ? AND trade_date = ?", bar.Symbol, bar.TradeDate).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				bar.ID = 0
				if err := tx.Create(&bar).Error; err != nil {
					return fmt.Errorf("create bar %s %s: %w", bar.Symbol, bar.TradeDate.Format(time.DateOnly), err)
				}
			case err != nil:
				return err
			default:
				bar.ID = existing.ID
				bar.CreatedAt = existing.CreatedAt
				if err := tx.Save(&bar).Error; err != nil {
					return fmt.Errorf("update bar %s %s: %w", bar.Symbol, bar.TradeDate.Format(time.DateOnly), err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert price bars: %w", err)
	}
	return len(bars), nil
}

// GetPriceBar returns the bar for symbol on date
func (s *GormStore) GetPriceBar(ctx context.Context, symbol string, date time.Time) (*models.PriceBar, error) {
	var bar models.PriceBar
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND trade_date = ?", symbol, models.TradeDate(date)).
		First(&bar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bar %s: %w", symbol, err)
	}
	return &bar, nil
}

// PriceHistory returns the bars of symbol within [start, end] preceded by up
// to lookback earlier bars, in ascending date order.
func (s *GormStore) PriceHistory(ctx context.Context, symbol string, start, end time.Time, lookback int) ([]models.PriceBar, error) {
	start, end = models.TradeDate(start), models.TradeDate(end)
	db := s.db.WithContext(ctx)

	var warmup []models.PriceBar
	if lookback > 0 {
		err := db.Where("symbol = ? AND trade_date < ?", symbol, start).
			Order("trade_date DESC").
			Limit(lookback).
			Find(&warmup).Error
		if err != nil {
			return nil, fmt.Errorf("load lookback bars for %s: %w", symbol, err)
		}
	}

	var window []models.PriceBar
	err := db.Where("symbol = ? AND trade_date >= ? AND trade_date <= ?", symbol, start, end).
		Order("trade_date ASC").
		Find(&window).Error
	if err != nil {
		return nil, fmt.Errorf("load bars for %s: %w", symbol, err)
	}

	history := make([]models.PriceBar, 0, len(warmup)+len(window))
	for i := len(warmup) - 1; i >= 0; i-- {
		history = append(history, warmup[i])
	}
	return append(history, window...), nil
}

// BarsOn returns every bar traded on date
func (s *GormStore) BarsOn(ctx context.Context, date time.Time) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	err := s.db.WithContext(ctx).
		Where("trade_date = ?", models.TradeDate(date)).
		Order("symbol ASC").
		Find(&bars).Error
	if err != nil {
		return nil, fmt.Errorf("load bars on %s: %w", date.Format(time.DateOnly), err)
	}
	return bars, nil
}

// UpsertIndicators writes indicator points keyed by
// (symbol, trade_date, indicator_type, indicator_param) in one transaction.
func (s *GormStore) UpsertIndicators(ctx context.Context, points []models.TechnicalIndicator) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range points {
			point := points[i]
			point.TradeDate = models.TradeDate(point.TradeDate)

			var existing models.TechnicalIndicator
			err := tx.Where("symbol = ? AND trade_date = ? AND indicator_type = ? AND indicator_param = ?",
				point.Symbol, point.TradeDate, point.IndicatorType, point.IndicatorParam).
				First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				point.ID = 0
				if err := tx.Create(&point).Error; err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				point.ID = existing.ID
				point.CreatedAt = existing.CreatedAt
				if err := tx.Save(&point).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("upsert indicators: %w", err)
	}
	return len(points), nil
}

// IndicatorsOn returns all points of one indicator type on date
func (s *GormStore) IndicatorsOn(ctx context.Context, date time.Time, indicatorType string) ([]models.TechnicalIndicator, error) {
	var points []models.TechnicalIndicator
	err := s.db.WithContext(ctx).
		Where("trade_date = ? AND indicator_type = ?", models.TradeDate(date), indicatorType).
		Order("symbol ASC, indicator_param ASC").
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("load %s indicators: %w", indicatorType, err)
	}
	return points, nil
}

// Counts returns row counts per table
func (s *GormStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Stock{}).Count(&c.Stocks).Error; err != nil {
		return c, fmt.Errorf("count stocks: %w", err)
	}
	if err := db.Model(&models.Stock{}).
		Where("status = ? AND is_delisted = ?", models.StockStatusActive, false).
		Count(&c.ActiveStocks).Error; err != nil {
		return c, fmt.Errorf("count active stocks: %w", err)
	}
	if err := db.Model(&models.Stock{}).
		Where("is_st = ? AND is_delisted = ?", true, false).
		Count(&c.STStocks).Error; err != nil {
		return c, fmt.Errorf("count st stocks: %w", err)
	}
	if err := db.Model(&models.PriceBar{}).Count(&c.PriceBars).Error; err != nil {
		return c, fmt.Errorf("count price bars: %w", err)
	}
	if err := db.Model(&models.TechnicalIndicator{}).Count(&c.Indicators).Error; err != nil {
		return c, fmt.Errorf("count indicators: %w", err)
	}
	return c, nil
}

// Ping verifies the database answers a trivial query
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}
