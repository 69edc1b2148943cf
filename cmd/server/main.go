package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"transferd/internal/config"
	"transferd/internal/dedup"
	"transferd/internal/download"
	"transferd/internal/handler"
	"transferd/internal/models"
	"transferd/internal/storage"
	"transferd/internal/transfer"
	"transferd/internal/watcher"
	"transferd/internal/websocket"
)

const (
	updateInterval = 500 * time.Millisecond
	inboxSettle    = time.Second
)

func main() {
	cfg := config.LoadConfig()
	SetupLogger(cfg.LogLevel, cfg.LogFile)

	store := storage.New(cfg.DataDir)
	hub := websocket.NewHub()
	downloader := download.New(cfg.DownloadDir)

	manager := transfer.NewManager(downloader.Execute, transfer.Options{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxRetries:    cfg.MaxRetries,
		AutoRetry:     cfg.AutoRetry,
		RetryDelay:    download.Backoff(cfg.RetryDelay),
		Retention:     cfg.HistoryRetention,
		CancelTimeout: cfg.CancelTimeout,
	})
	gate := dedup.NewGate[download.Task, models.CachedFile](manager, store, dedup.Options[download.Task, models.CachedFile]{
		NewTask: func(link string) (download.Task, error) { return downloader.NewTask(link, "") },
		Resolve: downloader.Resolve,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go hub.Run(ctx)
	go handler.StreamUpdates(ctx, manager, hub, updateInterval)

	if cfg.InboxDir != "" {
		inbox, err := watcher.NewInbox(cfg.InboxDir, inboxSettle, func(link string) error {
			_, err := gate.Request(link)
			return err
		})
		if err != nil {
			slog.Error("Failed to start inbox watcher", "dir", cfg.InboxDir, "error", err)
		} else {
			go func() {
				if err := inbox.Run(ctx); err != nil {
					slog.Error("Inbox watcher stopped", "error", err)
				}
			}()
		}
	}

	r := chi.NewRouter()
	handler.Routes(r, manager, gate, downloader, store, hub)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		manager.Dispose()
		stop()
		done <- true
	}()

	slog.Info("Server starting", "port", cfg.Port, "maxConcurrent", cfg.MaxConcurrent)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("Server exited")
}

// SetupLogger logs to stderr, and also to a rotated file when logFile is
// set. Colours are turned off when a file is written.
func SetupLogger(level slog.Level, logFile string) {
	var out io.Writer = os.Stderr
	if logFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}

	handler := tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
		AddSource:  true,
		NoColor:    logFile != "",
	})

	slog.SetDefault(slog.New(handler))
}
