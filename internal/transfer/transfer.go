package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const subscriberBuffer = 16

// Transfer is one admitted job. Its state is written only by the Manager
// that created it; the accessors are safe for concurrent use.
type Transfer[T any] struct {
	id        string
	task      T
	createdAt time.Time
	token     *CancellationToken
	done      chan struct{}

	// Fields below are written with both the manager lock and mu held. The
	// manager reads them under its own lock, everybody else under mu.
	mu         sync.RWMutex
	priority   Priority
	status     Status
	progress   Progress
	retryCount int
	position   int
	finishedAt time.Time
	subs       []chan Progress

	// Manager-only bookkeeping.
	rank            int64
	index           int
	attempt         int
	cancelRequested bool
}

func newTransfer[T any](id string, task T, priority Priority, rank int64, now time.Time) *Transfer[T] {
	return &Transfer[T]{
		id:        id,
		task:      task,
		createdAt: now,
		token:     NewCancellationToken(),
		done:      make(chan struct{}),
		priority:  priority,
		status:    StatusQueued,
		progress:  Pending(),
		position:  -1,
		rank:      rank,
		index:     -1,
	}
}

func (t *Transfer[T]) ID() string           { return t.id }
func (t *Transfer[T]) Task() T              { return t.task }
func (t *Transfer[T]) CreatedAt() time.Time { return t.createdAt }

func (t *Transfer[T]) Token() *CancellationToken { return t.token }

func (t *Transfer[T]) Priority() Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.priority
}

func (t *Transfer[T]) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Transfer[T]) Progress() Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

func (t *Transfer[T]) RetryCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.retryCount
}

// QueuePosition is the zero-based position among pending transfers, or -1
// when the transfer is not queued.
func (t *Transfer[T]) QueuePosition() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

// Snapshot copies the current state of t.
func (t *Transfer[T]) Snapshot() Snapshot[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Transfer[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		ID:            t.id,
		Task:          t.task,
		Priority:      t.priority,
		Status:        t.status,
		Progress:      t.progress,
		RetryCount:    t.retryCount,
		QueuePosition: t.position,
		CreatedAt:     t.createdAt,
		FinishedAt:    t.finishedAt,
	}
}

// Done is closed once t reaches a terminal state.
func (t *Transfer[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until t is terminal and returns its final progress.
func (t *Transfer[T]) Wait(ctx context.Context) (Progress, error) {
	select {
	case <-t.done:
		return t.Progress(), nil
	case <-ctx.Done():
		return t.Progress(), ctx.Err()
	}
}

// Subscribe returns a channel carrying t's progress, starting with the
// current value. Slow readers only miss intermediate values; the terminal
// progress is always delivered before the channel is closed. The returned
// func stops the subscription early.
func (t *Transfer[T]) Subscribe() (<-chan Progress, func()) {
	ch := make(chan Progress, subscriberBuffer)

	t.mu.Lock()
	ch <- t.progress
	if t.terminalLocked() {
		close(ch)
		t.mu.Unlock()
		return ch, func() {}
	}
	t.subs = append(t.subs, ch)
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s == ch {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

func (t *Transfer[T]) terminalLocked() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// The methods below are called by the manager with its lock held.

func (t *Transfer[T]) transition(to Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitionLocked(to)
}

func (t *Transfer[T]) transitionLocked(to Status) {
	if !canTransition(t.status, to) {
		panic(fmt.Sprintf("transfer %s: illegal transition %s -> %s", t.id, t.status, to))
	}
	t.status = to
}

func (t *Transfer[T]) setProgress(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = p
	t.broadcastLocked(p)
}

func (t *Transfer[T]) setPriority(p Priority) {
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
}

func (t *Transfer[T]) setPosition(pos int) {
	t.mu.Lock()
	t.position = pos
	t.mu.Unlock()
}

// finish moves t into a terminal status and releases every waiter.
func (t *Transfer[T]) finish(to Status, p Progress, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitionLocked(to)
	t.progress = p
	t.position = -1
	t.finishedAt = now
	t.broadcastLocked(p)
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
	close(t.done)
}

func (t *Transfer[T]) broadcastLocked(p Progress) {
	for _, ch := range t.subs {
		offer(ch, p)
	}
}

func (t *Transfer[T]) isTerminal() bool {
	return t.terminalLocked()
}

// offer sends v without blocking, discarding the oldest buffered value when
// the channel is full.
func offer[V any](ch chan V, v V) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
