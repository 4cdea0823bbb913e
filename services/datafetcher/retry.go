package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig holds the named retry options of the data client
type RetryConfig struct {
	// RequestDelay is the minimum spacing between two provider calls
	RequestDelay time.Duration
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// Timeout bounds each single attempt
	Timeout time.Duration
	// InitialBackoff is the wait before the first retry, doubled each time
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff
	MaxBackoff time.Duration
}

// RetryingClient wraps a Client with request spacing, per-attempt timeout and
// exponential-backoff retries.
type RetryingClient struct {
	next    Client
	cfg     RetryConfig
	limiter *rate.Limiter
	log     *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ Client = (*RetryingClient)(nil)

// NewRetryingClient decorates next with cfg
func NewRetryingClient(next Client, cfg RetryConfig, log *zap.Logger) *RetryingClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	limit := rate.Inf
	if cfg.RequestDelay > 0 {
		limit = rate.Every(cfg.RequestDelay)
	}

	return &RetryingClient{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.Named("datafetcher"),
		sleep:   sleepCtx,
	}
}

// FetchSymbolUniverse fetches the symbol universe with retries
func (c *RetryingClient) FetchSymbolUniverse(ctx context.Context) ([]SymbolInfo, error) {
	var out []SymbolInfo
	err := c.do(ctx, "symbol_universe", func(ctx context.Context) error {
		var err error
		out, err = c.next.FetchSymbolUniverse(ctx)
		return err
	})
	return out, err
}

// FetchDailyBars fetches daily bars with retries
func (c *RetryingClient) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	var out []models.PriceBar
	err := c.do(ctx, symbol, func(ctx context.Context) error {
		var err error
		out, err = c.next.FetchDailyBars(ctx, symbol, from, to)
		return err
	})
	return out, err
}

func (c *RetryingClient) do(ctx context.Context, what string, call func(context.Context) error) error {
	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn("Retrying provider call",
				zap.String("target", what),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.attempt(ctx, call)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", what, c.cfg.MaxRetries+1, lastErr)
}

func (c *RetryingClient) attempt(ctx context.Context, call func(context.Context) error) error {
	if c.cfg.Timeout <= 0 {
		return call(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return call(attemptCtx)
}

// retryable treats everything as transient except 4xx responses other than 429
func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
