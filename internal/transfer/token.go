package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the context cause of a cancelled token.
var ErrCancelled = errors.New("transfer cancelled")

// CancellationToken is a one-way latch shared between a Transfer and the
// executor running it. Once cancelled it stays cancelled.
//
// Executors are expected to poll IsCancelled (or select on Done) between
// chunks of work. An executor that never checks its token keeps its slot
// until it finishes on its own.
type CancellationToken struct {
	cancelled atomic.Bool
	done      chan struct{}
	ctx       context.Context
	stop      context.CancelCauseFunc

	mu        sync.Mutex
	reason    string
	observers []func(reason string)
}

func NewCancellationToken() *CancellationToken {
	ctx, stop := context.WithCancelCause(context.Background())
	return &CancellationToken{
		done: make(chan struct{}),
		ctx:  ctx,
		stop: stop,
	}
}

// Cancel latches the token. It returns false if the token was already
// cancelled, in which case the original reason is kept.
func (t *CancellationToken) Cancel(reason string) bool {
	t.mu.Lock()
	if t.cancelled.Load() {
		t.mu.Unlock()
		return false
	}
	t.reason = reason
	t.cancelled.Store(true)
	observers := t.observers
	t.observers = nil
	close(t.done)
	t.mu.Unlock()

	t.stop(ErrCancelled)
	for _, fn := range observers {
		fn(reason)
	}
	return true
}

func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}

// Done is closed when the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

func (t *CancellationToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Context returns a context that is cancelled together with the token, for
// executors built on context-aware APIs such as net/http.
func (t *CancellationToken) Context() context.Context {
	return t.ctx
}

// OnCancel registers fn to run once the token is cancelled. If it already is,
// fn runs immediately on the calling goroutine. fn runs on the cancelling
// goroutine and must not block.
func (t *CancellationToken) OnCancel(fn func(reason string)) {
	t.mu.Lock()
	if !t.cancelled.Load() {
		t.observers = append(t.observers, fn)
		t.mu.Unlock()
		return
	}
	reason := t.reason
	t.mu.Unlock()
	fn(reason)
}
