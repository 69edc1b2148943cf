package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"transferd/internal/models"
	"transferd/internal/transfer"
	"transferd/internal/utils"
)

const (
	chunkSize       = 1024 * 1024
	progressDelay   = time.Second
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	partSuffix      = ".part"
	maxLandingPages = 1
)

// Task describes one download: where it comes from and where it goes.
type Task struct {
	Link string `json:"link"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type Downloader struct {
	client        *http.Client
	downloadDir   string
	progressDelay time.Duration
	log           *slog.Logger
}

type Option func(*Downloader)

func WithClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithProgressDelay sets the minimum time between progress reports.
func WithProgressDelay(delay time.Duration) Option {
	return func(d *Downloader) { d.progressDelay = delay }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.log = l }
}

func New(downloadDir string, opts ...Option) *Downloader {
	os.MkdirAll(downloadDir, os.ModePerm)
	d := &Downloader{
		client:        &http.Client{},
		downloadDir:   downloadDir,
		progressDelay: progressDelay,
		log:           slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewTask builds the task for link. name overrides the file name taken from
// the link when not empty. Each link gets its own directory under the
// download dir, so links sharing a file name never share a file.
func (d *Downloader) NewTask(link, name string) (Task, error) {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Task{}, fmt.Errorf("%w: unsupported link %q", transfer.ErrInvalidArgument, link)
	}
	if name == "" {
		name = utils.FileNameFromURL(link)
	}
	name = utils.SanitizeName(name)
	return Task{
		Link: link,
		Name: name,
		Path: filepath.Join(d.downloadDir, linkDir(link), name),
	}, nil
}

// linkDir names the directory holding a link's files.
func linkDir(link string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(link))
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}

// Resolve describes the file a completed task produced. The content type
// is sniffed from the file itself.
func (d *Downloader) Resolve(link string, task Task, final transfer.Progress) (models.CachedFile, error) {
	info, err := os.Stat(task.Path)
	if err != nil {
		return models.CachedFile{}, err
	}
	file := models.CachedFile{
		Link:        link,
		Path:        task.Path,
		Size:        info.Size(),
		CompletedAt: info.ModTime(),
	}
	if mt, err := mimetype.DetectFile(task.Path); err == nil {
		file.ContentType = mt.String()
	}
	return file, nil
}

// Execute downloads task until it completes, fails or token is cancelled.
// Bytes go to a .part file that is renamed on success and resumed with a
// Range request on the next attempt.
func (d *Downloader) Execute(task Task, token *transfer.CancellationToken) <-chan transfer.Progress {
	ch := make(chan transfer.Progress, 4)
	go func() {
		defer close(ch)
		ch <- d.download(task, token, ch)
	}()
	return ch
}

func (d *Downloader) download(task Task, token *transfer.CancellationToken, ch chan<- transfer.Progress) transfer.Progress {
	log := d.log.With("link", task.Link, "name", task.Name)
	log.Info("Downloading")

	partPath := task.Path + partSuffix
	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	resp, err := d.open(token.Context(), task.Link, offset)
	if err != nil {
		return d.failure(token, 0, transfer.UnknownSize, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resp.StatusCode == http.StatusPartialContent {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		log.Info("Resuming download", "offset", offset)
	} else {
		offset = 0
	}

	total := transfer.UnknownSize
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(partPath), os.ModePerm); err != nil {
		return transfer.Failed(offset, total, err)
	}
	file, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return transfer.Failed(offset, total, err)
	}

	done, err := d.copyWithProgress(file, resp.Body, offset, total, token, ch)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return d.failure(token, done, total, err)
	}
	if total >= 0 && done != total {
		return transfer.Failed(done, total, fmt.Errorf("short download: got %d of %d bytes", done, total))
	}

	if err := os.Rename(partPath, task.Path); err != nil {
		return transfer.Failed(done, total, err)
	}
	log.Info("Download complete", "bytes", done)
	return transfer.Completed(done)
}

func (d *Downloader) failure(token *transfer.CancellationToken, done, total int64, err error) transfer.Progress {
	if token.IsCancelled() {
		return transfer.Cancelled(done, total)
	}
	return transfer.Failed(done, total, err)
}

// open requests link, following at most one HTML landing page. A positive
// offset asks for the bytes after it; landing pages are always read whole.
func (d *Downloader) open(ctx context.Context, link string, offset int64) (*http.Response, error) {
	t := target{method: http.MethodGet, url: link}
	for hops := 0; ; hops++ {
		resp, err := d.fetch(ctx, t, offset)
		if err != nil {
			return nil, err
		}
		if !isHTML(resp) {
			return resp, nil
		}

		if resp.StatusCode == http.StatusPartialContent {
			resp.Body.Close()
			if resp, err = d.fetch(ctx, t, 0); err != nil {
				return nil, err
			}
			if !isHTML(resp) {
				return resp, nil
			}
		}

		if hops >= maxLandingPages {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected content type: %s", resp.Header.Get("Content-Type"))
		}
		next, err := landingTarget(resp.Request.URL, resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		d.log.Debug("Following landing page", "from", link, "to", next.url)
		t = next
	}
}

// fetch performs one request for t, starting over without Range when the
// server rejects offset.
func (d *Downloader) fetch(ctx context.Context, t target, offset int64) (*http.Response, error) {
	resp, err := d.do(ctx, t, offset)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		resp.Body.Close()
		return d.fetch(ctx, t, 0)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return resp, nil
}

func (d *Downloader) do(ctx context.Context, t target, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	return d.client.Do(req)
}

// copyWithProgress copies src into dst in chunks, checking token between
// chunks and reporting at most once per progressDelay.
func (d *Downloader) copyWithProgress(dst io.Writer, src io.Reader, offset, total int64, token *transfer.CancellationToken, ch chan<- transfer.Progress) (int64, error) {
	done := offset
	buf := make([]byte, chunkSize)
	lastReport := time.Now()
	var reportedBytes int64

	ch <- transfer.Running(done, total, 0)
	for {
		if token.IsCancelled() {
			return done, context.Canceled
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, werr
			}
			done += int64(n)
			reportedBytes += int64(n)

			if elapsed := time.Since(lastReport); elapsed >= d.progressDelay {
				speed := float64(reportedBytes) / elapsed.Seconds()
				ch <- transfer.Running(done, total, speed)
				lastReport = time.Now()
				reportedBytes = 0
			}
		}

		if errors.Is(err, io.EOF) {
			return done, nil
		}
		if err != nil {
			return done, err
		}
	}
}
