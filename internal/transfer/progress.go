// Package transfer schedules long-running, resumable transfers under a
// concurrency ceiling.
//
// A Manager owns every admitted Transfer and is the only writer of its
// state. Work is performed by an Executor supplied by the caller; the
// manager drives it and observes the Progress values it streams back.
// Cancellation is cooperative: executors must watch the CancellationToken
// they are handed between chunks of work and finish their stream with a
// cancelled Progress once it fires.
package transfer

import (
	"fmt"
	"time"
)

// UnknownSize marks a Progress whose total size has not been reported.
const UnknownSize int64 = -1

// ProgressStatus is the status carried by a single Progress snapshot.
type ProgressStatus int

const (
	ProgressPending ProgressStatus = iota
	ProgressRunning
	ProgressPaused
	ProgressCompleted
	ProgressFailed
	ProgressCancelled
)

var progressStatusNames = map[ProgressStatus]string{
	ProgressPending:   "pending",
	ProgressRunning:   "running",
	ProgressPaused:    "paused",
	ProgressCompleted: "completed",
	ProgressFailed:    "failed",
	ProgressCancelled: "cancelled",
}

func (s ProgressStatus) String() string {
	if name, ok := progressStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ProgressStatus(%d)", int(s))
}

func (s ProgressStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal reports whether an executor stream must end after s.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressCompleted || s == ProgressFailed || s == ProgressCancelled
}

// Progress is an immutable snapshot of one transfer's advancement.
type Progress struct {
	BytesTransferred int64          `json:"bytesTransferred"`
	TotalBytes       int64          `json:"totalBytes"`
	BytesPerSecond   float64        `json:"bytesPerSecond"`
	ETA              time.Duration  `json:"eta"` // negative when unknown
	Status           ProgressStatus `json:"status"`
	Error            string         `json:"error,omitempty"`
}

// Pending returns the progress of a job that has not started yet.
func Pending() Progress {
	return Progress{TotalBytes: UnknownSize, ETA: -1, Status: ProgressPending}
}

// Running returns an in-flight progress. total may be UnknownSize.
func Running(done, total int64, bytesPerSecond float64) Progress {
	p := Progress{
		BytesTransferred: done,
		TotalBytes:       total,
		BytesPerSecond:   bytesPerSecond,
		ETA:              -1,
		Status:           ProgressRunning,
	}
	if total >= 0 && bytesPerSecond > 0 && done <= total {
		p.ETA = time.Duration(float64(total-done) / bytesPerSecond * float64(time.Second))
	}
	return p
}

// Paused returns a progress reporting that the executor is idle but still
// holds its slot.
func Paused(done, total int64) Progress {
	return Progress{BytesTransferred: done, TotalBytes: total, ETA: -1, Status: ProgressPaused}
}

// Completed returns the terminal progress of a successful transfer.
func Completed(total int64) Progress {
	return Progress{BytesTransferred: total, TotalBytes: total, Status: ProgressCompleted}
}

// Failed returns the terminal progress of a failed attempt.
func Failed(done, total int64, err error) Progress {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Progress{BytesTransferred: done, TotalBytes: total, ETA: -1, Status: ProgressFailed, Error: msg}
}

// Cancelled returns the terminal progress of a transfer that observed its
// cancellation token.
func Cancelled(done, total int64) Progress {
	return Progress{BytesTransferred: done, TotalBytes: total, ETA: -1, Status: ProgressCancelled}
}

// IsTerminal reports whether p ends an executor stream.
func (p Progress) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// SizeKnown reports whether TotalBytes carries a real size.
func (p Progress) SizeKnown() bool {
	return p.TotalBytes >= 0
}

// Ratio returns the completed fraction in [0, 1]. ok is false when the total
// size is unknown.
func (p Progress) Ratio() (ratio float64, ok bool) {
	if p.Status == ProgressCompleted {
		return 1, true
	}
	if !p.SizeKnown() {
		return 0, false
	}
	if p.TotalBytes == 0 {
		return 0, true
	}
	return float64(p.BytesTransferred) / float64(p.TotalBytes), true
}

// normalize clamps and repairs values coming from an
// executor.
func (p Progress) normalize() Progress {
	if p.BytesTransferred < 0 {
		p.BytesTransferred = 0
	}
	if p.TotalBytes < 0 {
		p.TotalBytes = UnknownSize
	}
	if p.SizeKnown() && p.BytesTransferred > p.TotalBytes {
		p.BytesTransferred = p.TotalBytes
	}
	if p.BytesPerSecond < 0 {
		p.BytesPerSecond = 0
	}
	switch {
	case p.Status == ProgressFailed && p.Error == "":
		p.Error = "unknown error"
	case p.Status != ProgressFailed:
		p.Error = ""
	}
	return p
}
