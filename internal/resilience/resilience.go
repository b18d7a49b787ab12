// Package resilience wraps outbound calls with a timeout, bounded retry, and
// a circuit breaker, composed timeout(retry(breaker(call))).
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned synthetically while the breaker is open; the
// downstream call is never invoked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Permanent marks an error as non-retryable.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NonRetryable wraps err so the retry stage gives up immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

func isPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Options tune the pipeline. Zero values take the defaults.
type Options struct {
	Timeout          time.Duration // whole-pipeline deadline, default 10s
	MaxAttempts      int           // retry attempts, default 3
	RetryBase        time.Duration // first backoff, default 100ms
	RetryCap         time.Duration // backoff ceiling, default 5s
	TripThreshold    uint32        // consecutive failures before opening, default 3
	RecoveryTimeout  time.Duration // open -> half-open, default 30s
	HalfOpenRequests uint32        // successes required to close, default 2
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 100 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 5 * time.Second
	}
	if o.TripThreshold == 0 {
		o.TripThreshold = 3
	}
	if o.RecoveryTimeout <= 0 {
		o.RecoveryTimeout = 30 * time.Second
	}
	if o.HalfOpenRequests == 0 {
		o.HalfOpenRequests = 2
	}
	return o
}

// Pipeline is a named timeout+retry+breaker wrapper for one downstream.
type Pipeline struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPipeline builds a pipeline. The breaker opens after TripThreshold
// consecutive failures, waits RecoveryTimeout, then admits HalfOpenRequests
// trial calls; that many consecutive successes close it again.
func NewPipeline(name string, opts Options, logger *zap.Logger) *Pipeline {
	opts = opts.withDefaults()
	p := &Pipeline{opts: opts, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: opts.HalfOpenRequests,
		Timeout:     opts.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.TripThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// Execute runs fn through the pipeline. While the breaker is open it fails
// fast with ErrCircuitOpen without invoking fn.
func (p *Pipeline) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	var lastErr error
	backoff := p.opts.RetryBase
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		_, err := p.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		lastErr = err
		if isPermanent(err) || ctx.Err() != nil {
			break
		}
		if attempt == p.opts.MaxAttempts {
			break
		}

		// Full jitter on an exponential schedule.
		sleep := time.Duration(rand.Int63n(int64(backoff) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > p.opts.RetryCap {
			backoff = p.opts.RetryCap
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil && lastErr == nil {
		return ctxErr
	}
	return lastErr
}

// State exposes the breaker state for health reporting.
func (p *Pipeline) State() gobreaker.State {
	return p.breaker.State()
}
