package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock status values
const (
	StockStatusActive   = "active"
	StockStatusDelisted = "delisted"
)

// Stock is the symbol metadata kept in sync with the provider's universe
type Stock struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Symbol      string     `gorm:"uniqueIndex;not null;size:32" json:"symbol"`
	Name        string     `json:"name"`
	Exchange    string     `json:"exchange"` // HOSE, HNX, UPCOM, NASDAQ, ...
	Industry    string     `json:"industry"`
	ListingDate *time.Time `json:"listing_date"`
	IsST        bool       `gorm:"column:is_st" json:"is_st"`
	IsDelisted  bool       `json:"is_delisted"`
	Status      string     `gorm:"index;size:16" json:"status"` // active, delisted
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PriceBar is one daily OHLC bar, unique per (symbol, trade_date)
type PriceBar struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Symbol        string          `gorm:"uniqueIndex:idx_bar_symbol_date;not null;size:32" json:"symbol"`
	TradeDate     time.Time       `gorm:"uniqueIndex:idx_bar_symbol_date;not null" json:"trade_date"`
	Open          decimal.Decimal `gorm:"type:decimal(15,2)" json:"open"`
	High          decimal.Decimal `gorm:"type:decimal(15,2)" json:"high"`
	Low           decimal.Decimal `gorm:"type:decimal(15,2)" json:"low"`
	Close         decimal.Decimal `gorm:"type:decimal(15,2)" json:"close"`
	Volume        int64           `json:"volume"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	ChangeAmount  decimal.Decimal `gorm:"type:decimal(15,2)" json:"change_amount"`
	ChangePercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_percent"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TechnicalIndicator stores one derived indicator value. Rows are a cache
// over PriceBar history and may be recomputed at any time.
type TechnicalIndicator struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Symbol         string          `gorm:"uniqueIndex:idx_indicator_key;not null;size:32" json:"symbol"`
	TradeDate      time.Time       `gorm:"uniqueIndex:idx_indicator_key;not null" json:"trade_date"`
	IndicatorType  string          `gorm:"uniqueIndex:idx_indicator_key;not null;size:16" json:"indicator_type"` // MA, EMA, RSI, MACD, KDJ, BOLL
	IndicatorParam int             `gorm:"uniqueIndex:idx_indicator_key;not null" json:"indicator_param"`        // e.g. 20 for MA20
	Value          decimal.Decimal `gorm:"type:decimal(20,6)" json:"value"`
	ExtraData      string          `gorm:"type:text" json:"extra_data,omitempty"` // JSON payload (MACD signal, KDJ lines, bands)
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TradeDate normalizes t to midnight UTC of its calendar date, the form every
// trade_date column is stored in.
func TradeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&PriceBar{},
		&TechnicalIndicator{},
		&DataUpdateLog{},
	)
}
