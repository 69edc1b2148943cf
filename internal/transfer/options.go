package transfer

import (
	"log/slog"
	"time"
)

// Executor performs the transfer described by task and streams its progress.
//
// The returned channel must end with exactly one progress whose status is
// completed, failed or cancelled, and should be closed after it. A stream
// that closes without a terminal value is treated as a failure. Executors
// must return promptly and do the work on their own goroutine; they must
// check token between chunks and finish with a cancelled progress once it
// fires. Progress with status paused or running may be sent at any time to
// report an executor-side pause and its resumption.
type Executor[T any] func(task T, token *CancellationToken) <-chan Progress

type Options struct {
	// MaxConcurrent is the initial concurrency ceiling. Defaults to 1.
	MaxConcurrent int
	// MaxRetries bounds RetryCount. Zero disables retries.
	MaxRetries int
	// AutoRetry re-queues failed transfers until MaxRetries is reached.
	AutoRetry bool
	// RetryDelay returns the wait before automatic retry number attempt
	// (starting at 1). Nil means no delay.
	RetryDelay func(attempt int) time.Duration
	// Retention is how long terminal transfers stay in the table. Zero keeps
	// them until cleared.
	Retention time.Duration
	// CancelTimeout, when positive, force-cancels a running transfer whose
	// executor has not acknowledged cancellation in time.
	CancelTimeout time.Duration
	Logger        *slog.Logger
	// Clock is used for timestamps. Defaults to time.Now.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent < 1 {
		o.MaxConcurrent = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type addConfig struct {
	id       string
	priority Priority
}

// AddOption customises Manager.Add.
type AddOption func(*addConfig)

// WithID sets the transfer id. Without it a random UUID is used.
func WithID(id string) AddOption {
	return func(c *addConfig) {
		c.id = id
	}
}

func WithPriority(p Priority) AddOption {
	return func(c *addConfig) {
		c.priority = p
	}
}
