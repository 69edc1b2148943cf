package watcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const doneSuffix = ".done"

// Inbox watches a directory for link files (*.url, *.txt) and submits every
// link they contain once the file has stopped changing. Processed files are
// renamed with a .done suffix.
type Inbox struct {
	dir          string
	submit       func(link string) error
	settleDelay  time.Duration
	watcher      *fsnotify.Watcher
	pendingFiles map[string]*time.Timer
	mu           sync.Mutex
	log          *slog.Logger
}

func NewInbox(dir string, settleDelay time.Duration, submit func(link string) error) (*Inbox, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Inbox{
		dir:          dir,
		submit:       submit,
		settleDelay:  settleDelay,
		watcher:      watcher,
		pendingFiles: make(map[string]*time.Timer),
		log:          slog.With("inbox", dir),
	}, nil
}

// Run processes files already in the inbox, then watches it until ctx is
// done.
func (in *Inbox) Run(ctx context.Context) error {
	defer in.stop()

	if err := in.watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch %s: %w", in.dir, err)
	}

	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() && isLinkFile(e.Name()) {
			in.schedule(filepath.Join(in.dir, e.Name()))
		}
	}

	in.log.Info("Watching inbox")
	for {
		select {
		case <-ctx.Done():
			in.log.Info("Inbox watcher shutting down")
			return nil

		case event, ok := <-in.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			in.handleEvent(event)

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			in.log.Warn("Watcher error", "error", err)
		}
	}
}

func (in *Inbox) stop() {
	in.watcher.Close()
	in.mu.Lock()
	defer in.mu.Unlock()
	for path, timer := range in.pendingFiles {
		timer.Stop()
		delete(in.pendingFiles, path)
	}
}

func isLinkFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".url", ".txt":
		return !strings.HasPrefix(filepath.Base(name), ".")
	}
	return false
}

func (in *Inbox) handleEvent(event fsnotify.Event) {
	if !isLinkFile(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		in.schedule(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		in.unschedule(event.Name)
	}
}

// schedule (re)starts the settle timer for path.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if timer, ok := in.pendingFiles[path]; ok {
		timer.Stop()
	}
	in.pendingFiles[path] = time.AfterFunc(in.settleDelay, func() {
		in.mu.Lock()
		delete(in.pendingFiles, path)
		in.mu.Unlock()
		in.process(path)
	})
}

func (in *Inbox) unschedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if timer, ok := in.pendingFiles[path]; ok {
		timer.Stop()
		delete(in.pendingFiles, path)
	}
}

func (in *Inbox) process(path string) {
	links, err := readLinks(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			in.log.Error("Failed to read link file", "file", path, "error", err)
		}
		return
	}

	submitted := 0
	for _, link := range links {
		if err := in.submit(link); err != nil {
			in.log.Warn("Failed to submit link", "file", path, "link", link, "error", err)
			continue
		}
		submitted++
	}
	in.log.Info("Processed link file", "file", filepath.Base(path), "links", len(links), "submitted", submitted)

	if err := os.Rename(path, path+doneSuffix); err != nil {
		in.log.Error("Failed to mark link file as done", "file", path, "error", err)
	}
}

// readLinks returns the non-empty lines of path that are not # comments.
// Internet shortcut files contribute their URL= line.
func readLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	shortcut := strings.EqualFold(filepath.Ext(path), ".url")
	var links []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if shortcut {
			if strings.HasPrefix(line, "[") {
				continue
			}
			if key, value, ok := strings.Cut(line, "="); ok && !strings.Contains(key, "://") {
				if strings.EqualFold(key, "URL") {
					links = append(links, strings.TrimSpace(value))
				}
				continue
			}
		}
		links = append(links, line)
	}
	return links, scanner.Err()
}
