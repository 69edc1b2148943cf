package handler

import (
	"github.com/go-chi/chi/v5"

	"transferd/internal/download"
	"transferd/internal/storage"
	"transferd/internal/websocket"
)

// Routes mounts the queue, cache and websocket endpoints on r.
func Routes(r chi.Router, m *Manager, gate *Gate, d *download.Downloader, store *storage.Storage, hub *websocket.Hub) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", GetQueueHandler(m))
		r.Post("/", AddToQueueHandler(gate, d))
		r.Delete("/", CancelAllHandler(m))
		r.Delete("/finished", ClearFinishedHandler(m))
		r.Put("/pause", PauseHandler(m))
		r.Put("/start", StartHandler(m))
		r.Put("/concurrency", ConcurrencyHandler(m))

		r.Route("/{id}", func(r chi.Router) {
			r.Put("/cancel", CancelHandler(m))
			r.Put("/retry", RetryHandler(m))
			r.Put("/priority", ChangePriorityHandler(m))
			r.Put("/front", MoveToFrontHandler(m))
			r.Delete("/", DeleteQueueItemHandler(m))
		})
	})

	r.Get("/cache", GetCacheHandler(store))
	r.Delete("/cache/{key}", DeleteCacheItemHandler(store))
	r.Get("/ws", hub.WsHandler)
}
