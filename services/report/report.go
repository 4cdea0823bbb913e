// Package report builds the end-of-day market review from stored bars and
// indicators and delivers it through a Notifier.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"marketsync/models"
	"marketsync/services/analysis"
	"marketsync/services/syncer"
	"marketsync/store"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Report thresholds
var (
	LimitPercent      = decimal.NewFromFloat(9.8)
	SharpDropPercent  = decimal.NewFromInt(-5)
	LowTurnover       = decimal.NewFromInt(5_000_000_000)
	SharpDropAlertMin = 100
	HotStockCount     = 10
	MaxSignalsPerSide = 5
	RSIOversold       = 30.0
	RSIOverbought     = 70.0
)

// Alert levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
)

// Source is the read side of the store used by the generator
type Source interface {
	BarsOn(ctx context.Context, date time.Time) ([]models.PriceBar, error)
	IndicatorsOn(ctx context.Context, date time.Time, indicatorType string) ([]models.TechnicalIndicator, error)
	GetStock(ctx context.Context, symbol string) (*models.Stock, error)
	Counts(ctx context.Context) (store.Counts, error)
}

// StatusSource reports ledger state
type StatusSource interface {
	GetSyncStatus(ctx context.Context) syncer.Status
}

// MarketSummary aggregates the day's bars
type MarketSummary struct {
	TotalStocks int             `json:"total_stocks"`
	Up          int             `json:"up"`
	Down        int             `json:"down"`
	Flat        int             `json:"flat"`
	LimitUp     int             `json:"limit_up"`
	LimitDown   int             `json:"limit_down"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// HotStock is one of the day's most traded symbols
type HotStock struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Close         decimal.Decimal `json:"close"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Amount        decimal.Decimal `json:"amount"`
}

// Signal is one indicator-derived hint
type Signal struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Reason string  `json:"reason"`
	Value  float64 `json:"value"`
}

// Signals groups buy and sell hints
type Signals struct {
	Buy  []Signal `json:"buy"`
	Sell []Signal `json:"sell"`
}

// RiskAlert flags unusual market conditions
type RiskAlert struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Report is the daily market review
type Report struct {
	Title       string        `json:"title"`
	ReportDate  time.Time     `json:"report_date"`
	Summary     MarketSummary `json:"market_summary"`
	HotStocks   []HotStock    `json:"hot_stocks"`
	Signals     Signals       `json:"technical_signals"`
	RiskAlerts  []RiskAlert   `json:"risk_alerts"`
	DataStatus  syncer.Status `json:"data_status"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Generator assembles reports
type Generator struct {
	source Source
	status StatusSource
	log    *zap.Logger
	now    func() time.Time
}

// NewGenerator creates a report generator
func NewGenerator(source Source, status StatusSource, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{source: source, status: status, log: log.Named("report"), now: time.Now}
}

// Generate builds the report for the trade date of date
func (g *Generator) Generate(ctx context.Context, date time.Time) (*Report, error) {
	day := models.TradeDate(date)
	g.log.Info("Generating daily report", zap.String("date", day.Format(time.DateOnly)))

	bars, err := g.source.BarsOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	counts, err := g.source.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load counts: %w", err)
	}
	signals, err := g.signals(ctx, day)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Title:       fmt.Sprintf("Market review %s", day.Format(time.DateOnly)),
		ReportDate:  day,
		Summary:     summarize(bars),
		HotStocks:   g.hotStocks(ctx, bars),
		Signals:     signals,
		GeneratedAt: g.now(),
	}
	r.RiskAlerts = riskAlerts(bars, r.Summary, counts)
	if g.status != nil {
		r.DataStatus = g.status.GetSyncStatus(ctx)
	}

	g.log.Info("Daily report generated",
		zap.Int("stocks", r.Summary.TotalStocks),
		zap.Int("buy_signals", len(r.Signals.Buy)),
		zap.Int("sell_signals", len(r.Signals.Sell)),
		zap.Int("alerts", len(r.RiskAlerts)),
	)
	return r, nil
}

func summarize(bars []models.PriceBar) MarketSummary {
	s := MarketSummary{TotalStocks: len(bars), TotalAmount: decimal.Zero}
	for _, b := range bars {
		switch b.ChangePercent.Sign() {
		case 1:
			s.Up++
		case -1:
			s.Down++
		default:
			s.Flat++
		}
		if b.ChangePercent.GreaterThanOrEqual(LimitPercent) {
			s.LimitUp++
		}
		if b.ChangePercent.LessThanOrEqual(LimitPercent.Neg()) {
			s.LimitDown++
		}
		s.TotalAmount = s.TotalAmount.Add(b.Amount)
	}
	return s
}

func (g *Generator) hotStocks(ctx context.Context, bars []models.PriceBar) []HotStock {
	traded := lo.Filter(bars, func(b models.PriceBar, _ int) bool { return b.Amount.IsPositive() })
	sort.SliceStable(traded, func(i, j int) bool { return traded[i].Amount.GreaterThan(traded[j].Amount) })
	if len(traded) > HotStockCount {
		traded = traded[:HotStockCount]
	}
	return lo.Map(traded, func(b models.PriceBar, _ int) HotStock {
		return HotStock{
			Symbol:        b.Symbol,
			Name:          g.name(ctx, b.Symbol),
			Close:         b.Close,
			ChangePercent: b.ChangePercent,
			Amount:        b.Amount,
		}
	})
}

// signals derives buy and sell hints from the day's RSI and MACD points.
// RSI extremes come first, then MACD histogram direction ranked by size.
func (g *Generator) signals(ctx context.Context, day time.Time) (Signals, error) {
	rsi, err := g.source.IndicatorsOn(ctx, day, analysis.IndicatorRSI)
	if err != nil {
		return Signals{}, fmt.Errorf("load RSI: %w", err)
	}
	macd, err := g.source.IndicatorsOn(ctx, day, analysis.IndicatorMACD)
	if err != nil {
		return Signals{}, fmt.Errorf("load MACD: %w", err)
	}

	var buy, sell []Signal
	for _, p := range rsi {
		v := p.Value.InexactFloat64()
		switch {
		case v < RSIOversold:
			buy = append(buy, Signal{Symbol: p.Symbol, Reason: fmt.Sprintf("RSI%d oversold", p.IndicatorParam), Value: v})
		case v > RSIOverbought:
			sell = append(sell, Signal{Symbol: p.Symbol, Reason: fmt.Sprintf("RSI%d overbought", p.IndicatorParam), Value: v})
		}
	}

	var bullish, bearish []Signal
	for _, p := range macd {
		var extra struct {
			Histogram float64 `json:"histogram"`
		}
		if err := json.Unmarshal([]byte(p.ExtraData), &extra); err != nil {
			g.log.Debug("Skipping MACD point without payload", zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		switch {
		case extra.Histogram > 0:
			bullish = append(bullish, Signal{Symbol: p.Symbol, Reason: "MACD histogram positive", Value: extra.Histogram})
		case extra.Histogram < 0:
			bearish = append(bearish, Signal{Symbol: p.Symbol, Reason: "MACD histogram negative", Value: extra.Histogram})
		}
	}
	sort.SliceStable(bullish, func(i, j int) bool { return bullish[i].Value > bullish[j].Value })
	sort.SliceStable(bearish, func(i, j int) bool { return bearish[i].Value < bearish[j].Value })

	return Signals{
		Buy:  g.capSignals(ctx, append(buy, bullish...)),
		Sell: g.capSignals(ctx, append(sell, bearish...)),
	}, nil
}

func (g *Generator) capSignals(ctx context.Context, signals []Signal) []Signal {
	signals = lo.UniqBy(signals, func(s Signal) string { return s.Symbol })
	if len(signals) > MaxSignalsPerSide {
		signals = signals[:MaxSignalsPerSide]
	}
	for i := range signals {
		signals[i].Name = g.name(ctx, signals[i].Symbol)
	}
	return signals
}

func riskAlerts(bars []models.PriceBar, summary MarketSummary, counts store.Counts) []RiskAlert {
	var alerts []RiskAlert

	drops := lo.CountBy(bars, func(b models.PriceBar) bool { return b.ChangePercent.LessThan(SharpDropPercent) })
	if drops > SharpDropAlertMin {
		alerts = append(alerts, RiskAlert{
			Level:   LevelWarning,
			Title:   "Market risk",
			Message: fmt.Sprintf("%d stocks fell more than 5%% today", drops),
		})
	}

	if len(bars) > 0 && summary.TotalAmount.LessThan(LowTurnover) {
		alerts = append(alerts, RiskAlert{
			Level:   LevelWarning,
			Title:   "Low turnover",
			Message: fmt.Sprintf("Total turnover %s is below %s", summary.TotalAmount.StringFixed(0), LowTurnover.String()),
		})
	}

	if counts.STStocks > 0 && counts.ActiveStocks > 0 {
		share := float64(counts.STStocks) / float64(counts.ActiveStocks) * 100
		alerts = append(alerts, RiskAlert{
			Level:   LevelInfo,
			Title:   "ST stocks",
			Message: fmt.Sprintf("%d ST stocks listed, %.1f%% of active symbols", counts.STStocks, share),
		})
	}
	return alerts
}

func (g *Generator) name(ctx context.Context, symbol string) string {
	stock, err := g.source.GetStock(ctx, symbol)
	if err != nil || stock.Name == "" {
		return symbol
	}
	return stock.Name
}
