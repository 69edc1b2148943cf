package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancellationToken_Latch(t *testing.T) {
	token := NewCancellationToken()
	assert.False(t, token.IsCancelled())

	var got []string
	token.OnCancel(func(reason string) { got = append(got, reason) })

	assert.True(t, token.Cancel("user"))
	assert.False(t, token.Cancel("again"))

	assert.True(t, token.IsCancelled())
	assert.Equal(t, "user", token.Reason())
	assert.Equal(t, []string{"user"}, got)

	select {
	case <-token.Done():
	default:
		t.Fatal("Done should be closed after Cancel")
	}
}

func TestCancellationToken_OnCancelAfterCancel(t *testing.T) {
	token := NewCancellationToken()
	token.Cancel("late")

	called := ""
	token.OnCancel(func(reason string) { called = reason })
	assert.Equal(t, "late", called)
}

func TestCancellationToken_Context(t *testing.T) {
	token := NewCancellationToken()
	ctx := token.Context()
	assert.NoError(t, ctx.Err())

	token.Cancel("stop")
	<-ctx.Done()
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
	assert.ErrorIs(t, context.Cause(ctx), ErrCancelled)
}
