package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labforge/labforge/llm"
)

func testPolicy() Policy {
	return Policy{
		MaxRetries: 6,
		BaseDelay:  time.Microsecond,
		SlowDelay:  time.Microsecond,
		MaxJitter:  time.Microsecond,
	}
}

func TestDo_ReturnsFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), testPolicy(), "gemini", nil, nil, zap.NewNop(), func() (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableErrorExhaustsAllAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), testPolicy(), "gemini", nil, nil, zap.NewNop(), func() (string, error) {
		calls++
		return "", errors.New("the model is overloaded")
	})
	require.Error(t, err)
	// 1 initial try + 6 retries.
	assert.Equal(t, 7, calls)

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrOverloaded, le.Code)
	assert.Contains(t, le.Message, "gemini")
	assert.Contains(t, le.Message, "overloaded")
	assert.Contains(t, le.Message, "7 attempts")
}

func TestDo_UnauthorizedIsNeverRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), testPolicy(), "openai", nil, nil, zap.NewNop(), func() (string, error) {
		calls++
		return "", &llm.Error{Code: llm.ErrUnauthorized, Message: "invalid api key"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrUnauthorized, le.Code)
}

func TestDo_PreCancelledTokenSkipsOperation(t *testing.T) {
	tok := llm.NewToken()
	tok.Cancel()

	calls := 0
	_, err := Do(context.Background(), testPolicy(), "gemini", tok, nil, zap.NewNop(), func() (string, error) {
		calls++
		return "", nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls, "wrapped operation must never be invoked")
	assert.True(t, llm.IsCancelled(err))
}

func TestDo_CancellationWinsOverClassification(t *testing.T) {
	tok := llm.NewToken()
	calls := 0
	_, err := Do(context.Background(), testPolicy(), "gemini", tok, nil, zap.NewNop(), func() (string, error) {
		calls++
		tok.Cancel()
		// A retryable error raised together with cancellation must not
		// trigger a retry.
		return "", errors.New("rate limit reached")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, llm.IsCancelled(err))
}

func TestDo_CancellationSentinelIsTerminal(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), testPolicy(), "ollama", nil, nil, zap.NewNop(), func() (string, error) {
		calls++
		return "", errors.New(llm.CancelMessage)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, llm.IsCancelled(err))
}

func TestDo_CancelDuringSleepAbortsNextAttempt(t *testing.T) {
	policy := testPolicy()
	policy.BaseDelay = time.Hour // sleep must be interrupted, not awaited

	tok := llm.NewToken()
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(context.Background(), policy, "gemini", tok, nil, zap.NewNop(), func() (string, error) {
			calls++
			return "", errors.New("transient failure")
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tok.Cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, llm.IsCancelled(err))
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not abort the backoff sleep on cancellation")
	}
}

func TestDo_StatusReportedBeforeSleepAndClearedOnSuccess(t *testing.T) {
	var statuses []string
	onStatus := func(s string) { statuses = append(statuses, s) }

	calls := 0
	got, err := Do(context.Background(), testPolicy(), "gemini", nil, onStatus, zap.NewNop(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("rate limit reached")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)

	require.Len(t, statuses, 3)
	assert.Contains(t, statuses[0], "gemini")
	assert.Contains(t, statuses[0], "rate limit")
	assert.Contains(t, statuses[1], "2/6")
	assert.Equal(t, "", statuses[2], "final success must clear the status")
}

func TestDo_SlowScheduleForRateLimitAndOverload(t *testing.T) {
	p := Policy{MaxRetries: 6, BaseDelay: 2 * time.Second, SlowDelay: 15 * time.Second}

	assert.Equal(t, 2*time.Second, p.delay(0, llm.ErrUnknown))
	assert.Equal(t, 8*time.Second, p.delay(2, llm.ErrUnknown))
	assert.Equal(t, 15*time.Second, p.delay(0, llm.ErrRateLimited))
	assert.Equal(t, 30*time.Second, p.delay(1, llm.ErrOverloaded))

	// Jitter stays within its bound on the slow schedule.
	p.MaxJitter = 5 * time.Second
	for i := 0; i < 50; i++ {
		d := p.delay(0, llm.ErrRateLimited)
		assert.GreaterOrEqual(t, d, 15*time.Second)
		assert.Less(t, d, 20*time.Second)
	}
}

func TestDo_ContextCancellationIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, testPolicy(), "gemini", nil, nil, zap.NewNop(), func() (string, error) {
		calls++
		return "", nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.True(t, llm.IsCancelled(err))
}
