package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transferd/internal/download"
	"transferd/internal/models"
	"transferd/internal/transfer"
	"transferd/internal/websocket"
)

func TestBuildQueue_Items(t *testing.T) {
	f := newFixture(t, transfer.Options{MaxConcurrent: 1})
	link := "https://example.com/big.iso"
	add(t, f, map[string]string{"link": link})

	ch := f.exec.take(t, link)
	ch <- transfer.Running(250, 1000, 50)

	require.Eventually(t, func() bool {
		q := BuildQueue(f.m.State())
		return len(q.Downloading) == 1 && q.Downloading[0].Progress == 25
	}, 5*time.Second, 10*time.Millisecond)

	q := BuildQueue(f.m.State())
	item := q.Downloading[0]
	assert.Equal(t, "big.iso", item.Name)
	assert.EqualValues(t, 1000, item.Size)
	assert.NotEmpty(t, item.DownloadSpeed)
	assert.NotEmpty(t, item.ETA)
	assert.Equal(t, 25, q.OverallProgress)
}

func TestStreamUpdates(t *testing.T) {
	f := newFixture(t, transfer.Options{MaxConcurrent: 1})
	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	go StreamUpdates(ctx, f.m, hub, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(hub.WsHandler))
	defer srv.Close()
	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err = f.m.Add(download.Task{Link: "https://example.com/x", Name: "x"}, transfer.WithID("x"))
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Type string       `json:"type"`
			Data models.Queue `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "queue", msg.Type)
		if len(msg.Data.Downloading) == 1 {
			assert.Equal(t, "x", msg.Data.Downloading[0].Id)
			return
		}
	}
}

func TestBuildQueue_FromSingleState(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap := func(id string, status transfer.Status, p transfer.Progress) transfer.Snapshot[download.Task] {
		return transfer.Snapshot[download.Task]{
			ID:        id,
			Task:      download.Task{Link: "https://example.com/" + id, Name: id},
			Status:    status,
			Progress:  p,
			CreatedAt: created,
		}
	}
	state := transfer.State[download.Task]{
		MaxConcurrent:   2,
		Paused:          true,
		OverallProgress: 0.5,
		Running:         []transfer.Snapshot[download.Task]{snap("r", transfer.StatusRunning, transfer.Running(5, 10, 1))},
		Pending:         []transfer.Snapshot[download.Task]{snap("p", transfer.StatusQueued, transfer.Pending())},
		Finished: []transfer.Snapshot[download.Task]{
			snap("c", transfer.StatusCompleted, transfer.Completed(10)),
			snap("f", transfer.StatusFailed, transfer.Failed(0, 10, io.EOF)),
		},
	}

	q := BuildQueue(state)
	assert.Equal(t, 2, q.MaxConcurrent)
	assert.True(t, q.Paused)
	assert.Equal(t, 50, q.OverallProgress)
	require.Len(t, q.Downloading, 1)
	assert.Equal(t, 50, q.Downloading[0].Progress)
	require.Len(t, q.Pending, 1)
	assert.Equal(t, "p", q.Pending[0].Id)
	require.Len(t, q.Finished, 2)
	assert.Equal(t, 100, q.Finished[0].Progress)
	assert.Equal(t, "failed", q.Finished[1].Status)
	assert.Equal(t, io.EOF.Error(), q.Finished[1].Error)
	assert.Equal(t, created.Format(time.RFC3339), q.Finished[1].AddedAt)
}
