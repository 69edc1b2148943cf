package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_IllegalTransitionPanics(t *testing.T) {
	tr := newTransfer("a", "task", PriorityNormal, 1, time.Now())
	assert.Panics(t, func() { tr.transition(StatusCompleted) })
	assert.Panics(t, func() { tr.transition(StatusFailed) })

	tr.transition(StatusRunning)
	assert.Panics(t, func() { tr.transition(StatusQueued) })
}

func TestTransfer_TerminalIsImmutable(t *testing.T) {
	tr := newTransfer("a", "task", PriorityNormal, 1, time.Now())
	tr.transition(StatusRunning)
	tr.finish(StatusCompleted, Completed(4), time.Now())

	for _, s := range []Status{StatusQueued, StatusRunning, StatusFailed, StatusCancelled} {
		assert.Panics(t, func() { tr.transition(s) }, "completed -> %s", s)
	}
}

func TestTransfer_SubscribeDeliversTerminal(t *testing.T) {
	tr := newTransfer("a", "task", PriorityNormal, 1, time.Now())
	ch, _ := tr.Subscribe()
	assert.Equal(t, ProgressPending, (<-ch).Status)

	tr.transition(StatusRunning)
	for i := range 100 {
		tr.setProgress(Running(int64(i), 100, 1))
	}
	tr.finish(StatusCompleted, Completed(100), time.Now())

	var last Progress
	for p := range ch {
		last = p
	}
	assert.Equal(t, ProgressCompleted, last.Status)

	late, _ := tr.Subscribe()
	assert.Equal(t, ProgressCompleted, (<-late).Status)
	_, open := <-late
	assert.False(t, open)
}

func TestTransfer_Unsubscribe(t *testing.T) {
	tr := newTransfer("a", "task", PriorityNormal, 1, time.Now())
	ch, stop := tr.Subscribe()
	<-ch
	stop()
	stop()

	_, open := <-ch
	assert.False(t, open)
}

func TestTransfer_Wait(t *testing.T) {
	tr := newTransfer("a", "task", PriorityNormal, 1, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := tr.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tr.transition(StatusRunning)
	tr.finish(StatusFailed, Failed(0, 1, nil), time.Now())
	p, err := tr.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ProgressFailed, p.Status)
}
