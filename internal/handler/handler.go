package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"transferd/internal/dedup"
	"transferd/internal/download"
	"transferd/internal/models"
	"transferd/internal/storage"
	"transferd/internal/transfer"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeStatus(w http.ResponseWriter, status string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transfer.ErrInvalidState), errors.Is(err, transfer.ErrRetriesExhausted):
		return http.StatusConflict
	case errors.Is(err, transfer.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, transfer.ErrDisposed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// idParam returns the unescaped {id} route parameter. Transfer ids are
// often links, so clients path-escape them.
func idParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

func GetQueueHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, BuildQueue(m.State()))
	}
}

// AddToQueueHandler requests a link through the gate. Links already
// downloaded are answered from the cache without queueing.
func AddToQueueHandler(gate *Gate, d *download.Downloader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Link     string `json:"link"`
			Name     string `json:"name"`
			Priority string `json:"priority"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.Link == "" {
			writeError(w, http.StatusBadRequest, "link is required")
			return
		}
		priority, err := transfer.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		newTask := func(link string) (download.Task, error) {
			return d.NewTask(link, req.Name)
		}
		res, err := gate.RequestWith(req.Link, newTask, transfer.WithPriority(priority))
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}

		out := models.RequestResult{Outcome: res.Outcome.String()}
		status := http.StatusOK
		switch res.Outcome {
		case dedup.Cached:
			file := res.Value
			out.File = &file
		case dedup.Created:
			status = http.StatusCreated
			out.Id = res.Transfer.ID()
		default:
			out.Id = res.Transfer.ID()
		}
		writeJSON(w, status, out)
	}
}

func CancelHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.Cancel(idParam(r)) {
			writeError(w, http.StatusNotFound, "transfer not found or already finished")
			return
		}
		writeStatus(w, "cancelled")
	}
}

func CancelAllHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.CancelAll()
		writeStatus(w, "cancelled")
	}
}

func RetryHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Retry(idParam(r)); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeStatus(w, "retried")
	}
}

func ChangePriorityHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Priority string `json:"priority"`
		}
		if !decode(w, r, &req) {
			return
		}
		priority, err := transfer.ParsePriority(req.Priority)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !m.ChangePriority(idParam(r), priority) {
			writeError(w, http.StatusNotFound, "queued transfer not found")
			return
		}
		writeStatus(w, "updated")
	}
}

func MoveToFrontHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.MoveToFront(idParam(r)) {
			writeError(w, http.StatusNotFound, "queued transfer not found")
			return
		}
		writeStatus(w, "moved")
	}
}

// DeleteQueueItemHandler removes a finished transfer from the list.
func DeleteQueueItemHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idParam(r)
		if _, ok := m.Get(id); !ok {
			writeError(w, http.StatusNotFound, "transfer not found")
			return
		}
		if !m.Remove(id) {
			writeError(w, http.StatusConflict, "transfer is not finished")
			return
		}
		writeStatus(w, "deleted")
	}
}

var finishedStatuses = map[string]transfer.Status{
	"completed": transfer.StatusCompleted,
	"failed":    transfer.StatusFailed,
	"cancelled": transfer.StatusCancelled,
}

// ClearFinishedHandler removes finished transfers, optionally only those
// with the statuses named in ?status=. Failed transfers waiting for a retry
// are cancelled and removed too.
func ClearFinishedHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var statuses []transfer.Status
		for _, name := range r.URL.Query()["status"] {
			status, ok := finishedStatuses[name]
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown status "+name)
				return
			}
			statuses = append(statuses, status)
		}
		removed := m.ClearFinished(statuses...)
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": removed})
	}
}

func PauseHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Pause()
		writeStatus(w, "paused")
	}
}

func StartHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.Start()
		writeStatus(w, "started")
	}
}

func ConcurrencyHandler(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Max int `json:"max"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := m.SetMaxConcurrent(req.Max); err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeStatus(w, "updated")
	}
}

func GetCacheHandler(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.List())
	}
}

// DeleteCacheItemHandler forgets a cached link. The key is the
// path-escaped link.
func DeleteCacheItemHandler(store *storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, err := url.PathUnescape(chi.URLParam(r, "key"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid key")
			return
		}
		if !store.Delete(link) {
			writeError(w, http.StatusNotFound, "cached file not found")
			return
		}
		writeStatus(w, "deleted")
	}
}
