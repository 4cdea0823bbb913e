// Package analysis derives technical indicators from stored price history.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"marketsync/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Indicator names accepted by CalculateIndicatorsForStock
const (
	IndicatorMA   = "MA"
	IndicatorEMA  = "EMA"
	IndicatorRSI  = "RSI"
	IndicatorMACD = "MACD"
	IndicatorKDJ  = "KDJ"
	IndicatorBOLL = "BOLL"
)

// Standard parameters
var (
	MAPeriods  = []int{5, 10, 20, 60}
	EMAPeriods = []int{12, 26}
)

const (
	RSIPeriod       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
	KDJPeriod       = 9
	KDJSmooth       = 3
	BollingerPeriod = 20
	BollingerWidth  = 2.0
)

// AllIndicators is the full catalogue in calculation order
var AllIndicators = []string{IndicatorMA, IndicatorEMA, IndicatorRSI, IndicatorMACD, IndicatorKDJ, IndicatorBOLL}

// RequiredBars returns how many bars an indicator needs before its first
// defined point. Unknown names need none.
func RequiredBars(name string) int {
	switch name {
	case IndicatorMA:
		return maxInt(MAPeriods)
	case IndicatorEMA:
		return maxInt(EMAPeriods)
	case IndicatorRSI:
		return RSIPeriod + 1
	case IndicatorMACD:
		return MACDSlow + MACDSignal - 1
	case IndicatorKDJ:
		return KDJPeriod
	case IndicatorBOLL:
		return BollingerPeriod
	default:
		return 0
	}
}

// Lookback returns the number of bars to load before the requested window:
// the warm-up of the longest requested indicator plus margin.
func Lookback(names []string, margin int) int {
	longest := 0
	for _, name := range names {
		if n := RequiredBars(name); n > longest {
			longest = n
		}
	}
	if margin < 0 {
		margin = 0
	}
	return longest + margin
}

// PriceStore is what the engine needs from persistence
type PriceStore interface {
	PriceHistory(ctx context.Context, symbol string, start, end time.Time, lookback int) ([]models.PriceBar, error)
	UpsertIndicators(ctx context.Context, points []models.TechnicalIndicator) (int, error)
}

// Calculation is the outcome of one per-symbol indicator run
type Calculation struct {
	Success              bool     `json:"success"`
	Symbol               string   `json:"symbol"`
	DataPoints           int      `json:"data_points"`
	IndicatorsCalculated []string `json:"indicators_calculated"`
	TotalIndicators      int      `json:"total_indicators"`
	Error                string   `json:"error,omitempty"`
}

// Engine computes indicators for one symbol at a time and upserts them
type Engine struct {
	store  PriceStore
	margin int
	log    *zap.Logger
}

// NewEngine creates an engine. margin is the number of bars loaded beyond the
// longest indicator's warm-up.
func NewEngine(store PriceStore, margin int, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, margin: margin, log: log.Named("indicators")}
}

// CalculateIndicatorsForStock recomputes the named indicators of symbol for
// trade dates in [start, end]. Failures are reported in the result.
func (e *Engine) CalculateIndicatorsForStock(ctx context.Context, symbol string, start, end time.Time, names []string) Calculation {
	res := Calculation{Symbol: symbol, IndicatorsCalculated: []string{}}
	if len(names) == 0 {
		names = AllIndicators
	}

	history, err := e.store.PriceHistory(ctx, symbol, start, end, Lookback(names, e.margin))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(history) == 0 {
		res.Error = fmt.Sprintf("no price data for %s", symbol)
		return res
	}
	res.DataPoints = len(history)

	series := newBarSeries(history)
	from, to := models.TradeDate(start), models.TradeDate(end)

	var points []models.TechnicalIndicator
	for _, name := range names {
		rows, ok := series.compute(name)
		if !ok {
			e.log.Warn("Unknown indicator skipped", zap.String("symbol", symbol), zap.String("indicator", name))
			continue
		}
		for _, row := range rows {
			date := models.TradeDate(series.dates[row.index])
			if date.Before(from) || date.After(to) {
				continue
			}
			points = append(points, row.toModel(symbol, date))
		}
		res.IndicatorsCalculated = append(res.IndicatorsCalculated, name)
	}

	n, err := e.store.UpsertIndicators(ctx, points)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.TotalIndicators = n
	res.Success = true
	e.log.Debug("Indicators calculated",
		zap.String("symbol", symbol),
		zap.Int("data_points", res.DataPoints),
		zap.Int("rows", n),
	)
	return res
}

// barSeries is a price history split into float columns
type barSeries struct {
	dates  []time.Time
	highs  []float64
	lows   []float64
	closes []float64
}

func newBarSeries(bars []models.PriceBar) barSeries {
	s := barSeries{
		dates:  make([]time.Time, len(bars)),
		highs:  make([]float64, len(bars)),
		lows:   make([]float64, len(bars)),
		closes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.dates[i] = b.TradeDate
		s.highs[i] = b.High.InexactFloat64()
		s.lows[i] = b.Low.InexactFloat64()
		s.closes[i] = b.Close.InexactFloat64()
	}
	return s
}

// indicatorRow is one defined point before it becomes a stored row
type indicatorRow struct {
	index int
	kind  string
	param int
	value float64
	extra map[string]float64
}

func (r indicatorRow) toModel(symbol string, date time.Time) models.TechnicalIndicator {
	point := models.TechnicalIndicator{
		Symbol:         symbol,
		TradeDate:      date,
		IndicatorType:  r.kind,
		IndicatorParam: r.param,
		Value:          decimal.NewFromFloat(r.value).Round(6),
	}
	if len(r.extra) > 0 {
		rounded := make(map[string]float64, len(r.extra))
		for k, v := range r.extra {
			rounded[k] = math.Round(v*1e6) / 1e6
		}
		if raw, err := json.Marshal(rounded); err == nil {
			point.ExtraData = string(raw)
		}
	}
	return point
}

func (s barSeries) compute(name string) ([]indicatorRow, bool) {
	var rows []indicatorRow
	switch name {
	case IndicatorMA:
		for _, p := range MAPeriods {
			rows = appendSingle(rows, IndicatorMA, p, MA(s.closes, p))
		}
	case IndicatorEMA:
		for _, p := range EMAPeriods {
			rows = appendSingle(rows, IndicatorEMA, p, EMA(s.closes, p))
		}
	case IndicatorRSI:
		rows = appendSingle(rows, IndicatorRSI, RSIPeriod, RSI(s.closes, RSIPeriod))
	case IndicatorMACD:
		m := MACD(s.closes, MACDFast, MACDSlow, MACDSignal)
		for i := range m.Line {
			if !Defined(m.Line[i]) || !Defined(m.Signal[i]) || !Defined(m.Histogram[i]) {
				continue
			}
			rows = append(rows, indicatorRow{
				index: i, kind: IndicatorMACD, param: MACDFast, value: m.Line[i],
				extra: map[string]float64{"signal": m.Signal[i], "histogram": m.Histogram[i]},
			})
		}
	case IndicatorKDJ:
		k := KDJ(s.highs, s.lows, s.closes, KDJPeriod, KDJSmooth, KDJSmooth)
		for i := range k.K {
			if !Defined(k.K[i]) || !Defined(k.D[i]) || !Defined(k.J[i]) {
				continue
			}
			rows = append(rows, indicatorRow{
				index: i, kind: IndicatorKDJ, param: KDJPeriod, value: k.K[i],
				extra: map[string]float64{"k": k.K[i], "d": k.D[i], "j": k.J[i]},
			})
		}
	case IndicatorBOLL:
		b := Bollinger(s.closes, BollingerPeriod, BollingerWidth)
		for i := range b.Middle {
			if !Defined(b.Upper[i]) || !Defined(b.Middle[i]) || !Defined(b.Lower[i]) {
				continue
			}
			rows = append(rows, indicatorRow{
				index: i, kind: IndicatorBOLL, param: BollingerPeriod, value: b.Middle[i],
				extra: map[string]float64{"upper": b.Upper[i], "middle": b.Middle[i], "lower": b.Lower[i]},
			})
		}
	default:
		return nil, false
	}
	return rows, true
}

func appendSingle(rows []indicatorRow, kind string, param int, series []float64) []indicatorRow {
	for i, v := range series {
		if Defined(v) {
			rows = append(rows, indicatorRow{index: i, kind: kind, param: param, value: v})
		}
	}
	return rows
}

func maxInt(values []int) int {
	m := 0
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}
