// Package syncer pulls provider data into the store and keeps derived
// indicators current. Every operation returns a result value; failures never
// escape as errors or panics.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"marketsync/metrics"
	"marketsync/models"
	"marketsync/services/analysis"
	"marketsync/services/datafetcher"
	"marketsync/services/ledger"
	"marketsync/store"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store is what the orchestrator needs from persistence
type Store interface {
	UpsertStock(ctx context.Context, stock *models.Stock) (bool, error)
	ActiveSymbols(ctx context.Context) ([]string, error)
	UpsertPriceBars(ctx context.Context, bars []models.PriceBar) (int, error)
	Counts(ctx context.Context) (store.Counts, error)
}

// IndicatorEngine recomputes indicators for one symbol
type IndicatorEngine interface {
	CalculateIndicatorsForStock(ctx context.Context, symbol string, start, end time.Time, names []string) analysis.Calculation
}

// Calendar answers trading-day questions
type Calendar interface {
	IsTradingDay(t time.Time) bool
}

// Options holds the named sync options
type Options struct {
	BatchSize         int
	DaysBack          int
	IndicatorDaysBack int
	Indicators        []string
}

// Result is the outcome of one sync unit
type Result struct {
	Success       bool          `json:"success"`
	Unit          string        `json:"unit"`
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Records       int           `json:"records"`
	FailedSymbols []string      `json:"failed_symbols,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// FullSyncResult reports the three stages of a full sync separately
type FullSyncResult struct {
	Success    bool          `json:"success"`
	StockList  Result        `json:"stock_list"`
	DailyData  Result        `json:"daily_data"`
	Indicators Result        `json:"indicators"`
	Duration   time.Duration `json:"duration"`
}

// Orchestrator runs the sync units
type Orchestrator struct {
	store    Store
	client   datafetcher.Client
	ledger   *ledger.Ledger
	engine   IndicatorEngine
	calendar Calendar
	metrics  *metrics.Metrics
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// Deps groups the orchestrator's collaborators
type Deps struct {
	Store    Store
	Client   datafetcher.Client
	Ledger   *ledger.Ledger
	Engine   IndicatorEngine
	Calendar Calendar
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// New creates an orchestrator
func New(deps Deps, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.DaysBack <= 0 {
		opts.DaysBack = 5
	}
	if opts.IndicatorDaysBack <= 0 {
		opts.IndicatorDaysBack = 5
	}
	if len(opts.Indicators) == 0 {
		opts.Indicators = analysis.AllIndicators
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		store:    deps.Store,
		client:   deps.Client,
		ledger:   deps.Ledger,
		engine:   deps.Engine,
		calendar: deps.Calendar,
		metrics:  deps.Metrics,
		opts:     opts,
		log:      log.Named("sync"),
		now:      time.Now,
	}
}

// outcome is the per-entity result collected across a batch
type outcome struct {
	symbol  string
	records int
	err     error
}

// SyncStockList refreshes symbol metadata from the provider universe. The unit
// succeeds as long as the universe could be fetched.
func (o *Orchestrator) SyncStockList(ctx context.Context) Result {
	return o.guard(models.DataTypeStockInfo, func(res *Result) {
		o.log.Info("Syncing stock list")
		unit := o.ledger.Open(ctx, models.DataTypeStockInfo)

		universe, err := o.client.FetchSymbolUniverse(ctx)
		if err != nil {
			res.Error = fmt.Sprintf("fetch symbol universe: %v", err)
			unit.Finish(ctx, false, 0, res.Error)
			return
		}

		outcomes := make([]outcome, 0, len(universe))
		for _, info := range universe {
			if ctx.Err() != nil {
				break
			}
			_, err := o.store.UpsertStock(ctx, info.ToStock())
			outcomes = append(outcomes, outcome{symbol: info.Symbol, records: 1, err: err})
		}

		o.tally(res, len(universe), outcomes)
		res.Success = ctx.Err() == nil
		if !res.Success {
			res.Error = joinError(res.Error, ctx.Err())
		}
		unit.Finish(ctx, res.Success, res.Records, res.Error)
	})
}

// SyncDailyData fetches and upserts the trailing daysBack calendar days of
// bars for every active symbol. One symbol's failure never stops the others.
func (o *Orchestrator) SyncDailyData(ctx context.Context, daysBack int) Result {
	if daysBack <= 0 {
		daysBack = o.opts.DaysBack
	}
	return o.guard(models.DataTypeDailyData, func(res *Result) {
		to := o.lastTradingDay()
		from := to.AddDate(0, 0, -daysBack)
		o.log.Info("Syncing daily data",
			zap.Int("days_back", daysBack),
			zap.String("from", from.Format(time.DateOnly)),
			zap.String("to", to.Format(time.DateOnly)),
		)

		o.runPerSymbol(ctx, res, models.DataTypeDailyData, func(ctx context.Context, symbol string) outcome {
			bars, err := o.client.FetchDailyBars(ctx, symbol, from, to)
			if err != nil {
				return outcome{symbol: symbol, err: err}
			}
			for i := range bars {
				bars[i].Symbol = symbol
			}
			n, err := o.store.UpsertPriceBars(ctx, bars)
			return outcome{symbol: symbol, records: n, err: err}
		})
	})
}

// SyncTechnicalIndicators recomputes indicators over the trailing daysBack
// calendar days for every active symbol.
func (o *Orchestrator) SyncTechnicalIndicators(ctx context.Context, daysBack int) Result {
	if daysBack <= 0 {
		daysBack = o.opts.IndicatorDaysBack
	}
	return o.guard(models.DataTypeTechnicalIndicators, func(res *Result) {
		to := o.lastTradingDay()
		from := to.AddDate(0, 0, -daysBack)
		o.log.Info("Syncing technical indicators",
			zap.Int("days_back", daysBack),
			zap.Strings("indicators", o.opts.Indicators),
		)

		o.runPerSymbol(ctx, res, models.DataTypeTechnicalIndicators, func(ctx context.Context, symbol string) outcome {
			calc := o.engine.CalculateIndicatorsForStock(ctx, symbol, from, to, o.opts.Indicators)
			if !calc.Success {
				return outcome{symbol: symbol, err: errors.New(calc.Error)}
			}
			return outcome{symbol: symbol, records: calc.TotalIndicators}
		})
	})
}

// FullSync runs stock list, daily data and indicator sync in that order. Each
// stage runs regardless of how the previous one ended.
func (o *Orchestrator) FullSync(ctx context.Context) FullSyncResult {
	start := o.now()
	o.log.Info("Starting full sync")

	res := FullSyncResult{
		StockList:  o.SyncStockList(ctx),
		DailyData:  o.SyncDailyData(ctx, o.opts.DaysBack),
		Indicators: o.SyncTechnicalIndicators(ctx, o.opts.IndicatorDaysBack),
	}
	res.Success = res.StockList.Success && res.DailyData.Success && res.Indicators.Success
	res.Duration = o.now().Sub(start)

	o.log.Info("Full sync finished",
		zap.Bool("success", res.Success),
		zap.Bool("stock_list", res.StockList.Success),
		zap.Bool("daily_data", res.DailyData.Success),
		zap.Bool("indicators", res.Indicators.Success),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// runPerSymbol applies fn to every active symbol in batches and fills res.
// The unit fails only when the symbol list cannot be loaded, the context is
// cancelled, or every symbol fails.
func (o *Orchestrator) runPerSymbol(ctx context.Context, res *Result, dataType string, fn func(context.Context, string) outcome) {
	unit := o.ledger.Open(ctx, dataType)

	symbols, err := o.store.ActiveSymbols(ctx)
	if err != nil {
		res.Error = err.Error()
		unit.Finish(ctx, false, 0, res.Error)
		return
	}

	outcomes := make([]outcome, 0, len(symbols))
	batches := lo.Chunk(symbols, o.opts.BatchSize)
	for i, batch := range batches {
		for _, symbol := range batch {
			if ctx.Err() != nil {
				break
			}
			outcomes = append(outcomes, o.safeCall(ctx, symbol, fn))
		}
		if ctx.Err() != nil {
			break
		}
		o.log.Debug("Batch processed",
			zap.String("unit", dataType),
			zap.Int("batch", i+1),
			zap.Int("batches", len(batches)),
			zap.Int("processed", len(outcomes)),
		)
	}

	o.tally(res, len(symbols), outcomes)
	switch {
	case ctx.Err() != nil:
		res.Error = joinError(res.Error, ctx.Err())
	case res.Total > 0 && res.Succeeded == 0:
		res.Error = joinError(res.Error, errors.New("every symbol failed"))
	default:
		res.Success = true
	}
	unit.Finish(ctx, res.Success, res.Records, res.Error)
}

// safeCall runs fn for one symbol, turning a panic into that symbol's failure
func (o *Orchestrator) safeCall(ctx context.Context, symbol string, fn func(context.Context, string) outcome) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Symbol sync panicked", zap.String("symbol", symbol), zap.Any("panic", r))
			out = outcome{symbol: symbol, err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn(ctx, symbol)
}

// tally partitions outcomes into successes and failures and aggregates the
// failures into res.Error.
func (o *Orchestrator) tally(res *Result, total int, outcomes []outcome) {
	ok, failed := lo.FilterReject(outcomes, func(item outcome, _ int) bool { return item.err == nil })

	res.Total = total
	res.Succeeded = len(ok)
	res.Failed = len(failed)
	res.Records = lo.SumBy(ok, func(item outcome) int { return item.records })
	res.FailedSymbols = lo.Map(failed, func(item outcome, _ int) string { return item.symbol })

	var merr *multierror.Error
	for _, f := range failed {
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", f.symbol, f.err))
		o.log.Warn("Symbol sync failed", zap.String("unit", res.Unit), zap.String("symbol", f.symbol), zap.Error(f.err))
	}
	if err := merr.ErrorOrNil(); err != nil {
		res.Error = err.Error()
	}

	o.metrics.ObserveSync(res.Unit, res.Succeeded, res.Failed, res.Records)
}

// guard converts a panic inside a unit into a failed result and stamps the
// duration.
func (o *Orchestrator) guard(unit string, body func(res *Result)) (res Result) {
	start := o.now()
	res.Unit = unit
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Sync unit panicked",
				zap.String("unit", unit),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = o.now().Sub(start)
		o.log.Info("Sync unit finished",
			zap.String("unit", unit),
			zap.Bool("success", res.Success),
			zap.Int("total", res.Total),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
			zap.Int("records", res.Records),
			zap.Duration("duration", res.Duration),
		)
	}()
	body(&res)
	return res
}

// lastTradingDay returns today, or the most recent trading day before it
func (o *Orchestrator) lastTradingDay() time.Time {
	day := o.now()
	if o.calendar == nil {
		return models.TradeDate(day)
	}
	for i := 0; i < 7 && !o.calendar.IsTradingDay(day); i++ {
		day = day.AddDate(0, 0, -1)
	}
	return models.TradeDate(day)
}

func joinError(msg string, err error) string {
	if msg == "" {
		return err.Error()
	}
	return msg + "; " + err.Error()
}
