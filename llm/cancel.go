package llm

import "sync"

// Token is a caller-owned cooperative cancellation cell. The caller creates
// one per logical operation and sets it from a UI stop action; adapters and
// the retry controller only ever read it. Cancellation is monotonic: once
// set, only the caller may clear it via Reset, and only before starting a
// new operation.
//
// All read methods tolerate a nil receiver, so optional tokens need no
// guarding at call sites.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewToken returns a fresh, uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *Token) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.done != nil {
		close(t.done)
	}
}

// Cancelled reports whether the token has been set.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel closed on cancellation, for use in select together
// with ctx.Done() and backoff timers. A nil token yields a nil channel,
// which blocks forever.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Reset clears the token so it can back a new operation. Caller only; never
// called by adapters or the retry controller.
func (t *Token) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = false
	t.done = make(chan struct{})
}
