package transfer

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errNoTerminal = errors.New("executor stream ended without a terminal status")

// Manager admits, schedules and retires transfers under a concurrency
// ceiling. All mutations are serialized by a single lock; executors are
// started after it is released.
type Manager[T any] struct {
	exec Executor[T]
	opts Options
	log  *slog.Logger

	mu            sync.Mutex
	entries       map[string]*Transfer[T]
	pending       pendingQueue[T]
	running       []*Transfer[T]
	maxConcurrent int
	paused        bool
	disposed      bool
	seq           int64
	frontSeq      int64
	stateSubs     []chan State[T]
}

type run[T any] struct {
	t       *Transfer[T]
	attempt int
}

func NewManager[T any](exec Executor[T], opts Options) *Manager[T] {
	opts = opts.withDefaults()
	return &Manager[T]{
		exec:          exec,
		opts:          opts,
		log:           opts.Logger,
		entries:       make(map[string]*Transfer[T]),
		maxConcurrent: opts.MaxConcurrent,
	}
}

// update runs fn under the lock. When fn reports a change the queue is
// rescheduled, the new state is published and admitted executors are
// started once the lock is released.
func (m *Manager[T]) update(fn func() bool) bool {
	m.mu.Lock()
	changed := fn()
	var runs []run[T]
	if changed {
		runs = m.schedule()
		m.publish()
	}
	m.mu.Unlock()

	m.launch(runs)
	return changed
}

// Add enqueues task, or returns the existing transfer when the id is
// already in use by a non-terminal transfer.
func (m *Manager[T]) Add(task T, opts ...AddOption) (*Transfer[T], error) {
	t, _, err := m.Enqueue(task, opts...)
	return t, err
}

// Enqueue is Add that also reports whether a new transfer was created.
func (m *Manager[T]) Enqueue(task T, opts ...AddOption) (t *Transfer[T], created bool, err error) {
	cfg := addConfig{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.priority.Valid() {
		return nil, false, opError("add", cfg.id, ErrInvalidArgument)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	m.update(func() bool {
		if m.disposed {
			err = opError("add", cfg.id, ErrDisposed)
			return false
		}
		if existing, ok := m.entries[cfg.id]; ok && !existing.isTerminal() {
			t = existing
			return false
		}

		m.seq++
		t = newTransfer(cfg.id, task, cfg.priority, m.seq, m.opts.Clock())
		m.entries[t.id] = t
		m.pending.push(t)
		created = true
		m.log.Debug("Transfer queued", "id", t.id, "priority", t.priority)
		return true
	})
	return t, created, err
}

// Cancel cancels a queued transfer at once, or signals a running one. It
// returns false when id is unknown or already terminal.
func (m *Manager[T]) Cancel(id string) bool {
	return m.update(func() bool {
		t, ok := m.entries[id]
		if !ok || t.isTerminal() {
			return false
		}
		m.cancel(t)
		return true
	})
}

// CancelAll cancels every non-terminal transfer.
func (m *Manager[T]) CancelAll() {
	m.update(func() bool {
		m.cancelAllLocked()
		return true
	})
}

func (m *Manager[T]) cancelAllLocked() {
	for _, t := range m.entries {
		if !t.isTerminal() {
			m.cancel(t)
		}
	}
}

func (m *Manager[T]) cancel(t *Transfer[T]) {
	switch t.status {
	case StatusQueued, StatusFailed:
		m.pending.remove(t)
		t.token.Cancel("cancelled")
		t.finish(StatusCancelled, Cancelled(t.progress.BytesTransferred, t.progress.TotalBytes), m.opts.Clock())
		m.log.Info("Transfer cancelled", "id", t.id)
	case StatusRunning, StatusPaused:
		if t.cancelRequested {
			return
		}
		t.cancelRequested = true
		t.token.Cancel("cancelled")
		m.log.Info("Cancellation requested", "id", t.id)
		if m.opts.CancelTimeout > 0 {
			m.armWatchdog(t)
		}
	}
}

// armWatchdog force-cancels t if its executor does not acknowledge the
// cancellation within CancelTimeout.
func (m *Manager[T]) armWatchdog(t *Transfer[T]) {
	attempt := t.attempt
	time.AfterFunc(m.opts.CancelTimeout, func() {
		m.update(func() bool {
			if t.attempt != attempt || !t.status.active() {
				return false
			}
			m.log.Warn("Executor ignored cancellation, releasing slot", "id", t.id, "timeout", m.opts.CancelTimeout)
			m.retire(t)
			t.finish(StatusCancelled, Cancelled(t.progress.BytesTransferred, t.progress.TotalBytes), m.opts.Clock())
			return true
		})
	})
}

// Retry re-queues a failed transfer at the back of its priority tier.
func (m *Manager[T]) Retry(id string) error {
	var err error
	m.update(func() bool {
		if m.disposed {
			err = opError("retry", id, ErrDisposed)
			return false
		}
		t, ok := m.entries[id]
		switch {
		case !ok:
			err = opError("retry", id, ErrNotFound)
		case t.status != StatusFailed:
			err = opError("retry", id, ErrInvalidState)
		case t.isTerminal() || t.retryCount >= m.opts.MaxRetries:
			err = opError("retry", id, ErrRetriesExhausted)
		}
		if err != nil {
			return false
		}
		m.requeue(t)
		return true
	})
	return err
}

func (m *Manager[T]) requeue(t *Transfer[T]) {
	m.seq++
	t.rank = m.seq
	t.mu.Lock()
	t.transitionLocked(StatusQueued)
	t.retryCount++
	t.progress = Pending()
	t.broadcastLocked(t.progress)
	t.mu.Unlock()
	m.pending.push(t)
	m.log.Info("Transfer re-queued", "id", t.id, "retry", t.retryCount, "max", m.opts.MaxRetries)
}

// Pause stops admissions. Running transfers are not affected.
func (m *Manager[T]) Pause() {
	m.update(func() bool {
		if m.paused {
			return false
		}
		m.paused = true
		m.log.Info("Queue paused")
		return true
	})
}

// Start resumes admissions after Pause.
func (m *Manager[T]) Start() {
	m.update(func() bool {
		if !m.paused {
			return false
		}
		m.paused = false
		m.log.Info("Queue started")
		return true
	})
}

func (m *Manager[T]) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// ChangePriority moves a queued transfer to another priority tier.
func (m *Manager[T]) ChangePriority(id string, p Priority) bool {
	if !p.Valid() {
		return false
	}
	return m.update(func() bool {
		t, ok := m.entries[id]
		if !ok || t.status != StatusQueued {
			return false
		}
		t.setPriority(p)
		m.pending.fix(t)
		return true
	})
}

// MoveToFront places a queued transfer ahead of every peer in its tier.
// Higher tiers still go first.
func (m *Manager[T]) MoveToFront(id string) bool {
	return m.update(func() bool {
		t, ok := m.entries[id]
		if !ok || t.status != StatusQueued {
			return false
		}
		m.frontSeq--
		t.rank = m.frontSeq
		m.pending.fix(t)
		return true
	})
}

func (m *Manager[T]) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// SetMaxConcurrent changes the ceiling. Raising it admits pending work at
// once; lowering it never preempts running transfers.
func (m *Manager[T]) SetMaxConcurrent(n int) error {
	if n < 1 {
		return opError("set max concurrent", "", ErrInvalidArgument)
	}
	m.update(func() bool {
		if m.maxConcurrent == n {
			return false
		}
		m.maxConcurrent = n
		m.log.Info("Concurrency changed", "max", n)
		return true
	})
	return nil
}

func (m *Manager[T]) Get(id string) (*Transfer[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.entries[id]
	return t, ok
}

// List returns running transfers, then pending ones in admission order,
// then the rest by creation time.
func (m *Manager[T]) List() []*Transfer[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.Clone(m.running)
	out = append(out, m.pending.sorted()...)
	return append(out, m.finished()...)
}

// finished returns transfers that are neither running nor pending, oldest
// first.
func (m *Manager[T]) finished() []*Transfer[T] {
	var out []*Transfer[T]
	for _, t := range m.entries {
		if t.index < 0 && !t.status.active() {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *Transfer[T]) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return out
}

// Remove deletes a terminal transfer from the table.
func (m *Manager[T]) Remove(id string) bool {
	return m.update(func() bool {
		t, ok := m.entries[id]
		if !ok || !t.isTerminal() {
			return false
		}
		delete(m.entries, id)
		return true
	})
}

// ClearFinished removes finished transfers with one of the given statuses,
// or every finished transfer when none are given. Failed transfers still
// waiting for a retry count as failed: they are cancelled, then removed.
// It returns the number removed.
func (m *Manager[T]) ClearFinished(statuses ...Status) int {
	removed := 0
	m.update(func() bool {
		for id, t := range m.entries {
			status := t.status
			if status == StatusQueued || status.active() {
				continue
			}
			if len(statuses) > 0 && !slices.Contains(statuses, status) {
				continue
			}
			if !t.isTerminal() {
				m.cancel(t)
			}
			delete(m.entries, id)
			removed++
		}
		return removed > 0
	})
	return removed
}

// State returns the current queue snapshot.
func (m *Manager[T]) State() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// Subscribe returns a channel receiving the current state and every later
// one. Slow readers only see the latest state. The channel is closed by
// the returned func or by Dispose.
func (m *Manager[T]) Subscribe() (<-chan State[T], func()) {
	ch := make(chan State[T], 1)

	m.mu.Lock()
	ch <- m.snapshot()
	if m.disposed {
		close(ch)
		m.mu.Unlock()
		return ch, func() {}
	}
	m.stateSubs = append(m.stateSubs, ch)
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if i := slices.Index(m.stateSubs, ch); i >= 0 {
				m.stateSubs = slices.Delete(m.stateSubs, i, i+1)
				close(ch)
			}
		})
	}
}

// Dispose cancels every non-terminal transfer and closes state
// subscriptions. Later calls do nothing.
func (m *Manager[T]) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.cancelAllLocked()
	m.disposed = true
	m.publish()
	for _, ch := range m.stateSubs {
		close(ch)
	}
	m.stateSubs = nil
	m.log.Info("Transfer manager disposed")
}

// schedule admits pending transfers while capacity allows. It is called
// with the lock held after every state-affecting event.
func (m *Manager[T]) schedule() []run[T] {
	m.prune()

	var runs []run[T]
	for !m.paused && !m.disposed && len(m.running) < m.maxConcurrent && m.pending.Len() > 0 {
		t := m.pending.pop()
		t.attempt++
		t.cancelRequested = false

		t.mu.Lock()
		t.transitionLocked(StatusRunning)
		t.position = -1
		t.progress = Running(0, UnknownSize, 0)
		t.broadcastLocked(t.progress)
		t.mu.Unlock()

		m.running = append(m.running, t)
		runs = append(runs, run[T]{t: t, attempt: t.attempt})
		m.log.Info("Transfer admitted", "id", t.id, "priority", t.priority, "attempt", t.attempt)
	}
	return runs
}

func (m *Manager[T]) prune() {
	if m.opts.Retention <= 0 {
		return
	}
	now := m.opts.Clock()
	for id, t := range m.entries {
		if t.isTerminal() && now.Sub(t.finishedAt) > m.opts.Retention {
			delete(m.entries, id)
		}
	}
}

func (m *Manager[T]) retire(t *Transfer[T]) {
	if i := slices.Index(m.running, t); i >= 0 {
		m.running = slices.Delete(m.running, i, i+1)
	}
}

func (m *Manager[T]) launch(runs []run[T]) {
	for _, r := range runs {
		ch := m.exec(r.t.task, r.t.token)
		go m.watch(r, ch)
	}
}

// watch consumes one executor stream until it closes.
func (m *Manager[T]) watch(r run[T], ch <-chan Progress) {
	if ch == nil {
		m.log.Error("Executor returned no progress stream", "id", r.t.id)
		m.observe(r, Failed(0, UnknownSize, errNoTerminal))
		return
	}

	settled := false
	for p := range ch {
		if settled {
			m.log.Debug("Ignoring progress after terminal status", "id", r.t.id, "status", p.Status)
			continue
		}
		settled = m.observe(r, p)
	}
	if !settled {
		last := r.t.Progress()
		m.log.Error("Executor stream ended without terminal status", "id", r.t.id)
		m.observe(r, Failed(last.BytesTransferred, last.TotalBytes, errNoTerminal))
	}
}

// observe applies one progress value from the executor of run r. It
// reports whether the run is settled and later values can be ignored.
func (m *Manager[T]) observe(r run[T], p Progress) bool {
	t := r.t
	settled := false
	m.update(func() bool {
		if t.attempt != r.attempt || !t.status.active() {
			settled = true
			return false
		}

		p = p.normalize()
		now := m.opts.Clock()
		switch p.Status {
		case ProgressCompleted:
			m.retire(t)
			t.finish(StatusCompleted, p, now)
			m.log.Info("Transfer completed", "id", t.id, "bytes", p.BytesTransferred)
		case ProgressCancelled:
			m.retire(t)
			t.finish(StatusCancelled, p, now)
			m.log.Info("Transfer cancelled", "id", t.id)
		case ProgressFailed:
			m.retire(t)
			if t.cancelRequested {
				t.finish(StatusCancelled, Cancelled(p.BytesTransferred, p.TotalBytes), now)
				m.log.Info("Transfer cancelled", "id", t.id, "error", p.Error)
			} else {
				m.fail(t, p, now)
			}
		case ProgressPaused:
			if t.status == StatusRunning {
				t.transition(StatusPaused)
			}
			t.setProgress(p)
		default:
			if t.status == StatusPaused {
				t.transition(StatusRunning)
			}
			p.Status = ProgressRunning
			t.setProgress(p)
		}
		settled = p.IsTerminal()
		return true
	})
	return settled
}

func (m *Manager[T]) fail(t *Transfer[T], p Progress, now time.Time) {
	if t.retryCount >= m.opts.MaxRetries {
		t.finish(StatusFailed, p, now)
		m.log.Error("Transfer failed", "id", t.id, "error", p.Error, "retries", t.retryCount)
		return
	}

	t.transition(StatusFailed)
	t.setProgress(p)
	if !m.opts.AutoRetry {
		m.log.Warn("Transfer failed", "id", t.id, "error", p.Error, "retries", t.retryCount)
		return
	}

	var delay time.Duration
	if m.opts.RetryDelay != nil {
		delay = m.opts.RetryDelay(t.retryCount + 1)
	}
	m.log.Warn("Transfer failed, retrying", "id", t.id, "error", p.Error, "retryIn", delay)
	if delay <= 0 {
		m.requeue(t)
		return
	}

	attempt := t.attempt
	time.AfterFunc(delay, func() {
		m.update(func() bool {
			if t.attempt != attempt || t.status != StatusFailed || m.entries[t.id] != t {
				return false
			}
			m.requeue(t)
			return true
		})
	})
}

func (m *Manager[T]) publish() {
	if len(m.stateSubs) == 0 {
		m.syncPositions()
		return
	}
	state := m.snapshot()
	for _, ch := range m.stateSubs {
		offer(ch, state)
	}
}

func (m *Manager[T]) syncPositions() []*Transfer[T] {
	pending := m.pending.sorted()
	for i, t := range pending {
		t.setPosition(i)
	}
	return pending
}

func (m *Manager[T]) snapshot() State[T] {
	pending := m.syncPositions()
	state := State[T]{
		RunningCount:  len(m.running),
		PendingCount:  len(pending),
		MaxConcurrent: m.maxConcurrent,
		Paused:        m.paused,
		Running:       make([]Snapshot[T], 0, len(m.running)),
		Pending:       make([]Snapshot[T], 0, len(pending)),
		Finished:      []Snapshot[T]{},
	}
	for _, t := range m.running {
		state.Running = append(state.Running, t.Snapshot())
	}
	for _, t := range pending {
		state.Pending = append(state.Pending, t.Snapshot())
	}
	for _, t := range m.finished() {
		state.Finished = append(state.Finished, t.Snapshot())
	}

	var values []Progress
	for _, t := range m.entries {
		if !t.isTerminal() {
			values = append(values, t.progress)
		}
	}
	state.OverallProgress = overallProgress(values)
	return state
}
