package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketsync/config"
	"marketsync/services/report"
	"marketsync/services/syncer"

	"go.uber.org/zap"
)

// JobKind names one of the fixed scheduled jobs
type JobKind string

// Job kinds in registration order
const (
	KindDailyDataSync       JobKind = "daily_data_sync"
	KindDailyReport         JobKind = "daily_report"
	KindStockListUpdate     JobKind = "stock_list_update"
	KindTechnicalIndicators JobKind = "technical_indicators"
	KindDataCleanup         JobKind = "data_cleanup"
	KindHealthCheck         JobKind = "health_check"
)

// Kinds lists every job kind in registration order
var Kinds = []JobKind{
	KindDailyDataSync,
	KindDailyReport,
	KindStockListUpdate,
	KindTechnicalIndicators,
	KindDataCleanup,
	KindHealthCheck,
}

// ErrUnknownTask is returned for names outside the fixed job set
var ErrUnknownTask = errors.New("unknown task")

// maxLogDirSize is the log directory size above which health_check warns
var maxLogDirSize int64 = 100 << 20

// ParseJobKind maps a task name to its kind
func ParseJobKind(name string) (JobKind, error) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTask, name)
}

// Trigger returns the fixed trigger of k
func (k JobKind) Trigger() Trigger {
	switch k {
	case KindDailyDataSync:
		return WeekdaysAt(15, 30)
	case KindDailyReport:
		return WeekdaysAt(16, 0)
	case KindStockListUpdate:
		return WeeklyAt(time.Sunday, 20, 0)
	case KindTechnicalIndicators:
		return HourlyBetween(9, 15)
	case KindDataCleanup:
		return DailyAt(2, 0)
	case KindHealthCheck:
		return Every(30 * time.Minute)
	}
	panic(fmt.Sprintf("scheduler: no trigger for job kind %q", k))
}

// tradingDayGated reports whether k is skipped on non-trading days
func (k JobKind) tradingDayGated() bool {
	switch k {
	case KindDailyDataSync, KindDailyReport, KindTechnicalIndicators:
		return true
	}
	return false
}

// Outcome is what a task reports back to the engine
type Outcome struct {
	Success bool
	Skipped bool
	Records int
	Message string
	Error   string
}

func failed(format string, args ...interface{}) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

// Task is one runnable unit of work. Failures are reported in the Outcome.
type Task interface {
	Execute(ctx context.Context) Outcome
}

// TaskFunc adapts a function to Task
type TaskFunc func(ctx context.Context) Outcome

// Execute calls f
func (f TaskFunc) Execute(ctx context.Context) Outcome { return f(ctx) }

// Job binds a kind to its trigger and task
type Job struct {
	Kind    JobKind
	Trigger Trigger
	Task    Task
}

// Syncer is the slice of the orchestrator the jobs drive
type Syncer interface {
	FullSync(ctx context.Context) syncer.FullSyncResult
	SyncStockList(ctx context.Context) syncer.Result
	SyncTechnicalIndicators(ctx context.Context, daysBack int) syncer.Result
}

// Reporter generates the daily report
type Reporter interface {
	Generate(ctx context.Context, date time.Time) (*report.Report, error)
}

// Pinger checks store connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// Calendar answers trading-day questions
type Calendar interface {
	IsTradingDay(t time.Time) bool
}

// TaskDeps are the collaborators of the fixed jobs
type TaskDeps struct {
	Syncer            Syncer
	Reporter          Reporter
	Notifier          report.Notifier
	Store             Pinger
	Calendar          Calendar
	Logging           config.Logging
	Email             config.Email
	IndicatorDaysBack int
	Logger            *zap.Logger
}

type tasks struct {
	TaskDeps
	log *zap.Logger
	now func() time.Time
}

// NewTasks builds the handler of every job kind
func NewTasks(deps TaskDeps) map[JobKind]Task {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	t := &tasks{TaskDeps: deps, log: log.Named("jobs"), now: time.Now}

	handlers := make(map[JobKind]Task, len(Kinds))
	for _, k := range Kinds {
		handlers[k] = t.handler(k)
	}
	return handlers
}

// DefaultJobs pairs each kind with its fixed trigger and handler
func DefaultJobs(handlers map[JobKind]Task) []Job {
	jobs := make([]Job, 0, len(Kinds))
	for _, k := range Kinds {
		if task, ok := handlers[k]; ok {
			jobs = append(jobs, Job{Kind: k, Trigger: k.Trigger(), Task: task})
		}
	}
	return jobs
}

func (t *tasks) handler(k JobKind) Task {
	var run TaskFunc
	switch k {
	case KindDailyDataSync:
		run = t.dailyDataSync
	case KindDailyReport:
		run = t.dailyReport
	case KindStockListUpdate:
		run = t.stockListUpdate
	case KindTechnicalIndicators:
		run = t.technicalIndicators
	case KindDataCleanup:
		run = t.dataCleanup
	case KindHealthCheck:
		run = t.healthCheck
	default:
		panic(fmt.Sprintf("scheduler: no handler for job kind %q", k))
	}
	if !k.tradingDayGated() {
		return run
	}
	return TaskFunc(func(ctx context.Context) Outcome {
		if t.Calendar != nil && !t.Calendar.IsTradingDay(t.now()) {
			t.log.Info("Not a trading day, skipping", zap.String("job", string(k)))
			return Outcome{Success: true, Skipped: true, Message: "not a trading day"}
		}
		return run(ctx)
	})
}

func fromResult(res syncer.Result) Outcome {
	return Outcome{
		Success: res.Success,
		Records: res.Records,
		Message: fmt.Sprintf("%s: %d/%d succeeded, %d records", res.Unit, res.Succeeded, res.Total, res.Records),
		Error:   res.Error,
	}
}

func (t *tasks) dailyDataSync(ctx context.Context) Outcome {
	res := t.Syncer.FullSync(ctx)
	out := Outcome{
		Success: res.Success,
		Records: res.StockList.Records + res.DailyData.Records + res.Indicators.Records,
		Message: fmt.Sprintf("stock list ok=%t, daily data ok=%t, indicators ok=%t",
			res.StockList.Success, res.DailyData.Success, res.Indicators.Success),
	}
	var errs []string
	for _, r := range []syncer.Result{res.StockList, res.DailyData, res.Indicators} {
		if r.Error != "" {
			errs = append(errs, r.Unit+": "+r.Error)
		}
	}
	out.Error = strings.Join(errs, "; ")
	return out
}

func (t *tasks) dailyReport(ctx context.Context) Outcome {
	if !t.Email.LogOnly && !t.Email.Configured() {
		return failed("%v", fmt.Errorf("send report: %w", report.ErrNotConfigured))
	}

	r, err := t.Reporter.Generate(ctx, t.now())
	if err != nil {
		return failed("generate report: %v", err)
	}
	if t.Notifier == nil {
		return Outcome{Success: true, Message: "report generated, no notifier"}
	}
	if err := t.Notifier.Send(ctx, r); err != nil {
		return Outcome{Message: "report generated, not sent", Error: err.Error()}
	}
	return Outcome{Success: true, Message: "report generated and sent"}
}

func (t *tasks) stockListUpdate(ctx context.Context) Outcome {
	return fromResult(t.Syncer.SyncStockList(ctx))
}

func (t *tasks) technicalIndicators(ctx context.Context) Outcome {
	return fromResult(t.Syncer.SyncTechnicalIndicators(ctx, t.IndicatorDaysBack))
}

// dataCleanup removes *.log files under the log dir older than the
// retention window
func (t *tasks) dataCleanup(ctx context.Context) Outcome {
	dir := t.Logging.Dir
	if dir == "" {
		return Outcome{Success: true, Message: "no log dir configured"}
	}
	retention := t.Logging.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	cutoff := t.now().AddDate(0, 0, -retention)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Outcome{Success: true, Message: "log dir does not exist"}
	}
	if err != nil {
		return failed("read log dir: %v", err)
	}

	removed := 0
	var errs []string
	for _, entry := range entries {
		if ctx.Err() != nil {
			return failed("cleanup interrupted: %v", ctx.Err())
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		removed++
		t.log.Info("Removed old log file", zap.String("path", path))
	}

	out := Outcome{Success: len(errs) == 0, Records: removed, Message: fmt.Sprintf("removed %d log files", removed)}
	out.Error = strings.Join(errs, "; ")
	return out
}

func (t *tasks) healthCheck(ctx context.Context) Outcome {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if t.Store == nil {
		return failed("no store configured")
	}
	if err := t.Store.Ping(pingCtx); err != nil {
		return failed("store unreachable: %v", err)
	}

	var warnings []string
	if !t.Email.Configured() {
		warnings = append(warnings, "email not configured")
	}
	if size, err := dirSize(t.Logging.Dir); err == nil && size > maxLogDirSize {
		warnings = append(warnings, fmt.Sprintf("log dir is %.1f MB", float64(size)/(1<<20)))
	}
	for _, w := range warnings {
		t.log.Warn("Health check warning", zap.String("warning", w))
	}

	msg := "healthy"
	if len(warnings) > 0 {
		msg = "healthy with warnings: " + strings.Join(warnings, "; ")
	}
	return Outcome{Success: true, Message: msg}
}

func dirSize(dir string) (int64, error) {
	if dir == "" {
		return 0, nil
	}
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
