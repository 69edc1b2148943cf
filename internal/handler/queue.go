package handler

import (
	"context"
	"log/slog"
	"time"

	"transferd/internal/dedup"
	"transferd/internal/download"
	"transferd/internal/models"
	"transferd/internal/transfer"
	"transferd/internal/utils"
	"transferd/internal/websocket"
)

type (
	Manager = transfer.Manager[download.Task]
	Gate    = dedup.Gate[download.Task, models.CachedFile]
)

// BuildQueue turns one manager state into the API view.
func BuildQueue(state transfer.State[download.Task]) models.Queue {
	queue := models.Queue{
		Downloading:     make([]models.Item, 0, len(state.Running)),
		Pending:         make([]models.Item, 0, len(state.Pending)),
		Finished:        make([]models.Item, 0, len(state.Finished)),
		MaxConcurrent:   state.MaxConcurrent,
		Paused:          state.Paused,
		OverallProgress: utils.Percent(state.OverallProgress),
	}
	for _, snap := range state.Running {
		queue.Downloading = append(queue.Downloading, toItem(snap))
	}
	for _, snap := range state.Pending {
		queue.Pending = append(queue.Pending, toItem(snap))
	}
	for _, snap := range state.Finished {
		queue.Finished = append(queue.Finished, toItem(snap))
	}
	return queue
}

func toItem(s transfer.Snapshot[download.Task]) models.Item {
	p := s.Progress
	ratio, _ := p.Ratio()
	item := models.Item{
		Id:               s.ID,
		Link:             s.Task.Link,
		Name:             s.Task.Name,
		Priority:         s.Priority.String(),
		Status:           s.Status.String(),
		Progress:         utils.Percent(ratio),
		BytesTransferred: p.BytesTransferred,
		Size:             p.TotalBytes,
		RetryCount:       s.RetryCount,
		QueuePosition:    s.QueuePosition,
		Error:            p.Error,
		AddedAt:          s.CreatedAt.Format(time.RFC3339),
	}
	if s.Status == transfer.StatusRunning {
		item.DownloadSpeed = utils.FormatSpeed(p.BytesPerSecond)
		item.ETA = utils.FormatETA(p.ETA)
	}
	return item
}

// StreamUpdates broadcasts the latest queue state at most once per
// interval until ctx is done or the manager is disposed.
func StreamUpdates(ctx context.Context, m *Manager, hub *websocket.Hub, interval time.Duration) {
	states, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest *transfer.State[download.Task]
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok {
				slog.Debug("Queue updates closed")
				return
			}
			latest = &state
		case <-ticker.C:
			if latest != nil {
				hub.Broadcast(models.Message{Type: "queue", Data: BuildQueue(*latest)})
				latest = nil
			}
		}
	}
}
