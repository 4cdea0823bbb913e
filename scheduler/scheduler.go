// Package scheduler fires the fixed market-data jobs on their triggers and
// runs them on demand.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"marketsync/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures the engine
type Options struct {
	Location     *time.Location
	TickInterval time.Duration
	StopTimeout  time.Duration
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// RunResult reports a manual run
type RunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NextRun is the next fire time of one job
type NextRun struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
}

type entry struct {
	job  Job
	next time.Time
}

// Engine dispatches jobs from a single goroutine. Triggered jobs never
// overlap each other; RunTaskNow may run beside the loop.
type Engine struct {
	mu      sync.Mutex
	entries []*entry
	loc     *time.Location
	tick    time.Duration
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	running bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates a stopped engine over jobs. Job kinds must be unique.
func New(jobs []Job, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		loc:     opts.Location,
		tick:    opts.TickInterval,
		timeout: opts.StopTimeout,
		metrics: opts.Metrics,
		log:     log.Named("scheduler"),
		now:     time.Now,
		after:   time.After,
	}
	seen := make(map[JobKind]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.Kind] {
			panic(fmt.Sprintf("scheduler: job %q registered twice", j.Kind))
		}
		seen[j.Kind] = true
		e.entries = append(e.entries, &entry{job: j})
	}
	return e
}

// Start launches the dispatch loop. Calling Start on a running engine only
// logs a warning.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.log.Warn("Scheduler already running")
		return
	}

	now := e.now().In(e.loc)
	for _, en := range e.entries {
		en.next = en.job.Trigger.Next(now)
		e.log.Info("Job registered",
			zap.String("job", string(en.job.Kind)),
			zap.Stringer("trigger", en.job.Trigger),
			zap.Time("next", en.next),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.cancel = cancel
	e.running = true
	e.metrics.SetRunning(true)

	go e.loop(ctx, e.stop, e.done)
	e.log.Info("Scheduler started", zap.Int("jobs", len(e.entries)), zap.String("timezone", e.loc.String()))
}

// Stop signals the loop and waits up to the stop timeout for it to exit. A
// job still running after the timeout is left to finish on its own; its
// context is released once the loop exits. Stop reports whether the loop
// exited in time, and is true on an idle engine.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return true
	}
	e.running = false
	stop, done, cancel := e.stop, e.done, e.cancel
	e.mu.Unlock()

	e.log.Info("Stopping scheduler")
	close(stop)
	defer e.metrics.SetRunning(false)

	select {
	case <-done:
		cancel()
		e.log.Info("Scheduler stopped")
		return true
	case <-time.After(e.timeout):
		go func() {
			<-done
			cancel()
		}()
		e.log.Warn("Scheduler did not stop in time, running job left to finish", zap.Duration("timeout", e.timeout))
		return false
	}
}

// Running reports whether the dispatch loop is active
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		wait := e.dispatch(ctx, stop)

		select {
		case <-stop:
			return
		case <-e.after(wait):
		}
	}
}

// dispatch fires every due job in registration order and returns how long
// the loop may sleep.
func (e *Engine) dispatch(ctx context.Context, stop chan struct{}) time.Duration {
	now := e.now().In(e.loc)

	for _, en := range e.entries {
		select {
		case <-stop:
			return 0
		default:
		}

		e.mu.Lock()
		due := !en.next.After(now)
		e.mu.Unlock()
		if !due {
			continue
		}

		e.execute(ctx, en.job, "trigger")

		// from the finish time, so a long job earlier in the tick does not
		// leave this job's next run in the past
		e.mu.Lock()
		en.next = en.job.Trigger.Next(e.now().In(e.loc))
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	wait := e.tick
	current := e.now()
	for _, en := range e.entries {
		if d := en.next.Sub(current); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// execute runs job once, recovering panics and recording the outcome
func (e *Engine) execute(ctx context.Context, job Job, source string) (out Outcome) {
	runID := uuid.NewString()
	log := e.log.With(
		zap.String("job", string(job.Kind)),
		zap.String("run_id", runID),
		zap.String("source", source),
	)
	start := e.now()
	log.Info("Job started")

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = Outcome{Error: fmt.Sprintf("panic: %v", r)}
		}

		took := e.now().Sub(start)
		result := metrics.OutcomeSuccess
		switch {
		case !out.Success:
			result = metrics.OutcomeFailure
		case out.Skipped:
			result = metrics.OutcomeSkipped
		}
		e.metrics.ObserveJob(string(job.Kind), result, took)

		fields := []zap.Field{
			zap.String("outcome", result),
			zap.Int("records", out.Records),
			zap.String("message", out.Message),
			zap.Duration("duration", took),
		}
		if out.Success {
			log.Info("Job finished", fields...)
		} else {
			log.Error("Job failed", append(fields, zap.String("error", out.Error))...)
		}
	}()

	return job.Task.Execute(ctx)
}

// RunTaskNow runs the named job immediately, outside its trigger
func (e *Engine) RunTaskNow(ctx context.Context, name string) RunResult {
	kind, err := ParseJobKind(name)
	if err != nil {
		return RunResult{Error: err.Error()}
	}

	var job *Job
	for _, en := range e.entries {
		if en.job.Kind == kind {
			job = &en.job
			break
		}
	}
	if job == nil {
		return RunResult{Error: fmt.Errorf("%w: %s is not registered", ErrUnknownTask, name).Error()}
	}

	out := e.execute(ctx, *job, "manual")
	res := RunResult{Success: out.Success, Message: out.Message, Error: out.Error}
	if res.Success && res.Message == "" {
		res.Message = fmt.Sprintf("%s finished", name)
	}
	return res
}

// NextRuns lists every job's next fire time in registration order
func (e *Engine) NextRuns() []NextRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().In(e.loc)
	runs := make([]NextRun, 0, len(e.entries))
	for _, en := range e.entries {
		next := en.next
		if !e.running {
			next = en.job.Trigger.Next(now)
		}
		runs = append(runs, NextRun{Name: string(en.job.Kind), Next: next})
	}
	return runs
}
