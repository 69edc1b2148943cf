package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("transfer not found")
	ErrInvalidState     = errors.New("invalid transfer state")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrDisposed         = errors.New("manager disposed")
)

// OpError records the operation and transfer an error came from.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, id string, err error) error {
	return &OpError{Op: op, ID: id, Err: err}
}
