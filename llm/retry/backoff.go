// Package retry implements the bounded retry loop shared by every provider
// adapter: exponential backoff with a slower, jittered schedule for
// rate-limit and overload failures, cooperative cancellation, and transient
// status reporting.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
)

// Policy holds the delay schedule. Delays are injectable so tests run in
// microseconds; the zero value is not usable, use DefaultPolicy.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay seeds the standard schedule: BaseDelay * 2^attempt.
	BaseDelay time.Duration
	// SlowDelay seeds the rate-limit/overload schedule: SlowDelay * 2^attempt.
	SlowDelay time.Duration
	// MaxJitter is added as rand(0..MaxJitter) on the slow schedule.
	MaxJitter time.Duration
}

// DefaultPolicy returns the production schedule: 6 retries (7 total tries),
// 2s doubling for standard failures, 15s doubling plus up to 5s of jitter
// for rate-limit and overload failures.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 6,
		BaseDelay:  2 * time.Second,
		SlowDelay:  15 * time.Second,
		MaxJitter:  5 * time.Second,
	}
}

func (p Policy) delay(attempt int, code llm.ErrorCode) time.Duration {
	if code == llm.ErrRateLimited || code == llm.ErrOverloaded {
		d := p.SlowDelay * (1 << attempt)
		if p.MaxJitter > 0 {
			d += time.Duration(rand.Int63n(int64(p.MaxJitter)))
		}
		return d
	}
	return p.BaseDelay * (1 << attempt)
}

// Do executes op with bounded retry under the given policy. Rules:
//
//   - Cancellation (token set before or during an attempt, or op returning
//     the cancellation sentinel) is terminal and re-raised immediately; it
//     is checked before classification and is never retried.
//   - Unauthorized is never retried; a bad credential cannot succeed.
//   - Every other classified failure retries until MaxRetries is exhausted.
//
// onStatus receives a human-readable notice before each sleep and an empty
// string on final success; it is best effort and never affects control
// flow. Each attempt starts fresh: op owns its own accumulation state.
func Do[T any](ctx context.Context, policy Policy, provider string, tok *llm.Token, onStatus llm.StatusFunc, logger *zap.Logger, op func() (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr *llm.Error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if tok.Cancelled() {
			return zero, llm.Stopped(provider)
		}
		if err := ctx.Err(); err != nil {
			return zero, llm.Stopped(provider)
		}

		result, err := op()
		if err == nil {
			if onStatus != nil {
				onStatus("")
			}
			if attempt > 0 {
				logger.Info("call succeeded after retry",
					zap.String("provider", provider),
					zap.Int("attempt", attempt))
			}
			return result, nil
		}

		// Cancellation wins over classification.
		if tok.Cancelled() || llm.IsCancelled(err) {
			return zero, llm.Stopped(provider)
		}

		lastErr = llm.Classify(err, provider)
		if lastErr.Code == llm.ErrUnauthorized {
			return zero, lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.delay(attempt, lastErr.Code)
		logger.Warn("call failed, backing off",
			zap.String("provider", provider),
			zap.String("code", string(lastErr.Code)),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		if onStatus != nil {
			onStatus(statusMessage(provider, lastErr.Code, delay, attempt+1, policy.MaxRetries))
		}

		select {
		case <-ctx.Done():
			return zero, llm.Stopped(provider)
		case <-tok.Done():
			return zero, llm.Stopped(provider)
		case <-time.After(delay):
		}
	}

	return zero, finalError(provider, policy.MaxRetries+1, lastErr)
}

func statusMessage(provider string, code llm.ErrorCode, delay time.Duration, attempt, maxRetries int) string {
	wait := delay.Round(time.Second)
	switch code {
	case llm.ErrRateLimited:
		return fmt.Sprintf("%s rate limit hit, waiting %s before retry %d/%d", provider, wait, attempt, maxRetries)
	case llm.ErrOverloaded:
		return fmt.Sprintf("%s is overloaded, waiting %s before retry %d/%d", provider, wait, attempt, maxRetries)
	default:
		return fmt.Sprintf("%s request failed, retrying in %s (attempt %d/%d)", provider, wait, attempt, maxRetries)
	}
}

// finalError synthesizes the terminal failure surfaced to the caller,
// naming the provider and the specific cause when it is discernible.
func finalError(provider string, attempts int, last *llm.Error) *llm.Error {
	if last == nil {
		last = &llm.Error{Code: llm.ErrUnknown, Message: "request failed", Provider: provider}
	}
	var reason string
	switch last.Code {
	case llm.ErrRateLimited:
		reason = "quota or rate limit exceeded"
	case llm.ErrOverloaded:
		reason = "service overloaded"
	case llm.ErrUnreachable:
		reason = "service unreachable"
	default:
		reason = "request failed"
	}
	return &llm.Error{
		Code:       last.Code,
		Message:    fmt.Sprintf("%s: %s after %d attempts: %s", provider, reason, attempts, last.Message),
		HTTPStatus: last.HTTPStatus,
		Provider:   provider,
	}
}
