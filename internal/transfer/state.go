package transfer

import "time"

// Snapshot is a copy of one transfer's state.
type Snapshot[T any] struct {
	ID            string    `json:"id"`
	Task          T         `json:"task"`
	Priority      Priority  `json:"priority"`
	Status        Status    `json:"status"`
	Progress      Progress  `json:"progress"`
	RetryCount    int       `json:"retryCount"`
	QueuePosition int       `json:"queuePosition"`
	CreatedAt     time.Time `json:"createdAt"`
	FinishedAt    time.Time `json:"finishedAt,omitzero"`
}

// State is a read-only view of the whole queue, published on every
// admission, progress update and terminal transition.
type State[T any] struct {
	RunningCount    int           `json:"runningCount"`
	PendingCount    int           `json:"pendingCount"`
	MaxConcurrent   int           `json:"maxConcurrent"`
	Paused          bool          `json:"paused"`
	OverallProgress float64       `json:"overallProgress"`
	Running         []Snapshot[T] `json:"running"`
	Pending         []Snapshot[T] `json:"pending"`
	// Finished holds terminal transfers and failed ones waiting for a
	// retry, oldest first.
	Finished        []Snapshot[T] `json:"finished"`
}

// overallProgress averages the given progress values. It weights by bytes
// when every size is known and falls back to a plain mean of ratios
// otherwise. Unknown sizes count as zero in the plain mean.
func overallProgress(values []Progress) float64 {
	if len(values) == 0 {
		return 0
	}

	allKnown := true
	var done, total int64
	var sum float64
	for _, p := range values {
		r, ok := p.Ratio()
		if !ok {
			allKnown = false
		}
		sum += r
		if p.SizeKnown() {
			done += p.BytesTransferred
			total += p.TotalBytes
		}
	}

	if allKnown && total > 0 {
		return float64(done) / float64(total)
	}
	return sum / float64(len(values))
}
