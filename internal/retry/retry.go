// ABOUTME: Cancellable retry loop with exponential backoff
// ABOUTME: Drives discovery queries until a matching answer arrives
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// ErrInvalidConfig is returned for negative delays or multipliers
var ErrInvalidConfig = errors.New("retry: invalid config")

// PermanentError wraps errors that end the loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Config controls the retry loop
type Config struct {
	MaxAttempts  int           // 0 = retry until the context ends
	Timeout      time.Duration // 0 = no overall deadline
	InitialDelay time.Duration // Delay after the first failure; 0 retries immediately
	MaxDelay     time.Duration
	Multiplier   float64
	AddJitter    bool

	// OnRetry is called after each failed attempt that will be retried
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, returns a permanent error, runs out of
// attempts, or ctx ends.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 || cfg.Timeout < 0 {
		return ErrInvalidConfig
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 1
	}
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}
	if cfg.MaxDelay == 0 || cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cancelled(attempt, err, lastErr)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		if delay > 0 {
			sleep := delay
			if cfg.AddJitter && delay >= 4 {
				randMu.Lock()
				sleep += time.Duration(randSource.Int63n(int64(delay / 4)))
				randMu.Unlock()
			}

			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return cancelled(attempt+1, ctx.Err(), lastErr)
			case <-timer.C:
			}

			next := float64(delay) * cfg.Multiplier
			if next > float64(cfg.MaxDelay) {
				delay = cfg.MaxDelay
			} else {
				delay = time.Duration(next)
			}
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for functions that produce a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}

func cancelled(attempt int, ctxErr, lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("retry stopped before attempt %d (last error: %v): %w", attempt, lastErr, ctxErr)
	}
	return fmt.Errorf("retry stopped before attempt %d: %w", attempt, ctxErr)
}
