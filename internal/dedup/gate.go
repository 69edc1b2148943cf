// Package dedup keeps at most one transfer per logical resource.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"transferd/internal/transfer"
)

// Outcome says how a Request was satisfied.
type Outcome int

const (
	// Cached means a stored result was returned without touching the queue.
	Cached Outcome = iota
	// Attached means the caller shares a transfer that was already known.
	Attached
	// Created means a new transfer was queued for the caller.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return "cached"
	case Attached:
		return "attached"
	case Created:
		return "created"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is the outcome of a Request. Value is set for Cached, Transfer for
// Attached and Created.
type Result[T, R any] struct {
	Outcome  Outcome
	Value    R
	Transfer *transfer.Transfer[T]
}

// Cache is the lookup backend consulted before any transfer is queued.
type Cache[R any] interface {
	Lookup(key string) (R, bool, error)
	Store(key string, value R) error
}

// Queue is the part of transfer.Manager the gate relies on.
type Queue[T any] interface {
	Get(id string) (*transfer.Transfer[T], bool)
	Enqueue(task T, opts ...transfer.AddOption) (*transfer.Transfer[T], bool, error)
	Retry(id string) error
}

// Options configure a Gate. NewTask and Resolve are required.
type Options[T, R any] struct {
	// NewTask builds the task for key. It runs inside the key's critical
	// section and must not call back into the gate.
	NewTask func(key string) (T, error)
	// Resolve turns a completed transfer into the value stored in the cache.
	Resolve func(key string, task T, final transfer.Progress) (R, error)
	Logger  *slog.Logger
}

// Gate answers requests for a resource from the cache, from an existing
// transfer, or by queueing a new one, holding a lock per key while it
// decides.
type Gate[T, R any] struct {
	queue Queue[T]
	cache Cache[R]
	locks *KeyedMutex
	opts  Options[T, R]
	log   *slog.Logger
}

func NewGate[T, R any](queue Queue[T], cache Cache[R], opts Options[T, R]) *Gate[T, R] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gate[T, R]{
		queue: queue,
		cache: cache,
		locks: NewKeyedMutex(),
		opts:  opts,
		log:   opts.Logger,
	}
}

// Request resolves key. Callers racing on the same key see exactly one
// Created; the others are Attached to the same transfer or served from the
// cache.
func (g *Gate[T, R]) Request(key string, opts ...transfer.AddOption) (Result[T, R], error) {
	return g.RequestWith(key, g.opts.NewTask, opts...)
}

// RequestWith is Request with newTask building the task when a new
// transfer is needed.
func (g *Gate[T, R]) RequestWith(key string, newTask func(key string) (T, error), opts ...transfer.AddOption) (Result[T, R], error) {
	var zero Result[T, R]
	if key == "" {
		return zero, fmt.Errorf("request: %w: empty key", transfer.ErrInvalidArgument)
	}

	unlock := g.locks.Lock(key)
	defer unlock()

	if value, ok, err := g.cache.Lookup(key); err != nil {
		g.log.Warn("Cache lookup failed", "key", key, "error", err)
	} else if ok {
		g.log.Debug("Cache hit", "key", key)
		return Result[T, R]{Outcome: Cached, Value: value}, nil
	}

	if t, ok := g.queue.Get(key); ok {
		if res, ok := g.existing(key, t); ok {
			return res, nil
		}
	}

	task, err := newTask(key)
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", key, err)
	}
	opts = append(opts, transfer.WithID(key))
	t, created, err := g.queue.Enqueue(task, opts...)
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", key, err)
	}
	if !created {
		return Result[T, R]{Outcome: Attached, Transfer: t}, nil
	}

	g.log.Info("Transfer created", "key", key, "id", t.ID())
	go g.storeOnCompletion(key, t)
	return Result[T, R]{Outcome: Created, Transfer: t}, nil
}

// existing decides what an already known transfer means for a request. It
// returns false when a new transfer should be created instead.
func (g *Gate[T, R]) existing(key string, t *transfer.Transfer[T]) (Result[T, R], bool) {
	switch t.Status() {
	case transfer.StatusCompleted:
		value, err := g.opts.Resolve(key, t.Task(), t.Progress())
		if err != nil {
			g.log.Warn("Completed transfer has no usable result", "key", key, "error", err)
			return Result[T, R]{}, false
		}
		g.store(key, value)
		return Result[T, R]{Outcome: Cached, Value: value}, true
	case transfer.StatusCancelled:
		return Result[T, R]{}, false
	case transfer.StatusFailed:
		err := g.queue.Retry(key)
		switch {
		case err == nil:
			g.log.Info("Retrying failed transfer for new request", "key", key)
		case errors.Is(err, transfer.ErrRetriesExhausted):
			return Result[T, R]{}, false
		default:
			g.log.Warn("Could not retry failed transfer", "key", key, "error", err)
		}
	}
	return Result[T, R]{Outcome: Attached, Transfer: t}, true
}

func (g *Gate[T, R]) storeOnCompletion(key string, t *transfer.Transfer[T]) {
	final, err := t.Wait(context.Background())
	if err != nil || final.Status != transfer.ProgressCompleted {
		return
	}
	value, err := g.opts.Resolve(key, t.Task(), final)
	if err != nil {
		g.log.Warn("Could not resolve completed transfer", "key", key, "error", err)
		return
	}

	unlock := g.locks.Lock(key)
	defer unlock()
	g.store(key, value)
}

func (g *Gate[T, R]) store(key string, value R) {
	if err := g.cache.Store(key, value); err != nil {
		g.log.Error("Failed to store result", "key", key, "error", err)
	}
}
