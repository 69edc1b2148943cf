package download

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transferd/internal/transfer"
)

func collect(t *testing.T, ch <-chan transfer.Progress) []transfer.Progress {
	t.Helper()
	var out []transfer.Progress
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, p)
		case <-timeout:
			t.Fatal("executor stream did not close")
		}
	}
}

func final(t *testing.T, values []transfer.Progress) transfer.Progress {
	t.Helper()
	require.NotEmpty(t, values)
	return values[len(values)-1]
}

func newTestDownloader(t *testing.T, srv *httptest.Server) *Downloader {
	return New(t.TempDir(), WithClient(srv.Client()), WithProgressDelay(0))
}

func writePart(t *testing.T, task Task, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(task.Path), 0755))
	require.NoError(t, os.WriteFile(task.Path+partSuffix, []byte(data), 0644))
}

// rangeServer serves body and honours "bytes=N-" requests with 206.
func rangeServer(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		var offset int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-", &offset); err == nil && offset < len(body) {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)-offset))
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, body[offset:])
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		fmt.Fprint(w, body)
	}
}

func TestNewTask(t *testing.T) {
	d := New(t.TempDir())

	link := "https://example.com/files/report%20v2.pdf?x=1"
	task, err := d.NewTask(link, "")
	require.NoError(t, err)
	assert.Equal(t, "report v2.pdf", task.Name)
	assert.Equal(t, filepath.Join(d.downloadDir, linkDir(link), "report v2.pdf"), task.Path)

	again, err := d.NewTask(link, "")
	require.NoError(t, err)
	assert.Equal(t, task.Path, again.Path)

	task, err = d.NewTask("https://example.com/a", "my/file.bin")
	require.NoError(t, err)
	assert.NotContains(t, task.Name, "/")

	for _, link := range []string{"", "ftp://example.com/a", "not a url", "http://"} {
		_, err := d.NewTask(link, "")
		assert.ErrorIs(t, err, transfer.ErrInvalidArgument, link)
	}
}

func TestExecute_PlainFile(t *testing.T) {
	body := strings.Repeat("x", 3*chunkSize+17)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv)
	task, err := d.NewTask(srv.URL+"/file.bin", "")
	require.NoError(t, err)

	values := collect(t, d.Execute(task, transfer.NewCancellationToken()))
	p := final(t, values)
	assert.Equal(t, transfer.ProgressCompleted, p.Status)
	assert.EqualValues(t, len(body), p.BytesTransferred)
	assert.Equal(t, transfer.ProgressRunning, values[0].Status)

	data, err := os.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
	assert.NoFileExists(t, task.Path+partSuffix)

	file, err := d.Resolve(task.Link, task, p)
	require.NoError(t, err)
	assert.Equal(t, task.Path, file.Path)
	assert.EqualValues(t, len(body), file.Size)
	assert.Equal(t, "text/plain; charset=utf-8", file.ContentType)
}

func TestExecute_LandingPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><a href="/other">x</a><a download href="/real.bin">get</a></body></html>`)
	})
	mux.HandleFunc("/form", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<form action="/real.bin" method="post"><button>go</button></form>`)
	})
	mux.HandleFunc("/real.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "payload-"+r.Method)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDownloader(t, srv)

	cases := []struct {
		path string
		want string
	}{
		{"/page", "payload-GET"},
		{"/form", "payload-POST"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			task, err := d.NewTask(srv.URL+tc.path, "out"+strings.TrimPrefix(tc.path, "/"))
			require.NoError(t, err)

			p := final(t, collect(t, d.Execute(task, transfer.NewCancellationToken())))
			require.Equal(t, transfer.ProgressCompleted, p.Status, p.Error)

			data, err := os.ReadFile(task.Path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(data))
		})
	}
}

func TestExecute_LandingPageWithoutLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>nothing here</body></html>`)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv)
	task, _ := d.NewTask(srv.URL+"/page", "")

	p := final(t, collect(t, d.Execute(task, transfer.NewCancellationToken())))
	assert.Equal(t, transfer.ProgressFailed, p.Status)
	assert.Contains(t, p.Error, "no download link")
}

func TestExecute_ResumesPartialFile(t *testing.T) {
	body := "0123456789abcdefghij"
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		gotRange = r.Header.Get("Range")
		var offset int
		if _, err := fmt.Sscanf(gotRange, "bytes=%d-", &offset); err == nil {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)-offset))
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, body[offset:])
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv)
	task, _ := d.NewTask(srv.URL+"/file.bin", "")
	writePart(t, task, body[:8])

	p := final(t, collect(t, d.Execute(task, transfer.NewCancellationToken())))
	require.Equal(t, transfer.ProgressCompleted, p.Status, p.Error)
	assert.Equal(t, "bytes=8-", gotRange)

	data, err := os.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestExecute_SameFileNameDifferentLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a/file.bin", rangeServer("application/octet-stream", "AAAAAAAAAA"))
	mux.HandleFunc("/b/file.bin", rangeServer("application/octet-stream", "BBBBBBBBBB"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDownloader(t, srv)
	taskA, err := d.NewTask(srv.URL+"/a/file.bin", "")
	require.NoError(t, err)
	taskB, err := d.NewTask(srv.URL+"/b/file.bin", "")
	require.NoError(t, err)
	require.Equal(t, taskA.Name, taskB.Name)
	require.NotEqual(t, taskA.Path, taskB.Path)

	writePart(t, taskA, "AAAA")

	p := final(t, collect(t, d.Execute(taskB, transfer.NewCancellationToken())))
	require.Equal(t, transfer.ProgressCompleted, p.Status, p.Error)
	data, err := os.ReadFile(taskB.Path)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBB", string(data))

	p = final(t, collect(t, d.Execute(taskA, transfer.NewCancellationToken())))
	require.Equal(t, transfer.ProgressCompleted, p.Status, p.Error)
	data, err = os.ReadFile(taskA.Path)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAA", string(data))
}

func TestExecute_ResumeBehindLandingPage(t *testing.T) {
	page := `<a download href="/real.bin">get</a>` + strings.Repeat("<p>padding</p>", 4)
	body := "0123456789abcdefghij"
	mux := http.NewServeMux()
	mux.HandleFunc("/page", rangeServer("text/html; charset=utf-8", page))
	mux.HandleFunc("/real.bin", rangeServer("application/octet-stream", body))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newTestDownloader(t, srv)
	task, err := d.NewTask(srv.URL+"/page", "real.bin")
	require.NoError(t, err)
	writePart(t, task, body[:12])

	p := final(t, collect(t, d.Execute(task, transfer.NewCancellationToken())))
	require.Equal(t, transfer.ProgressCompleted, p.Status, p.Error)
	data, err := os.ReadFile(task.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestExecute_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := newTestDownloader(t, srv)
	task, _ := d.NewTask(srv.URL+"/missing", "")

	p := final(t, collect(t, d.Execute(task, transfer.NewCancellationToken())))
	assert.Equal(t, transfer.ProgressFailed, p.Status)
	assert.Contains(t, p.Error, "HTTP 404")
	assert.NoFileExists(t, task.Path)
}

func TestExecute_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", "1000000")
		fmt.Fprint(w, "first bytes")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d := newTestDownloader(t, srv)
	task, _ := d.NewTask(srv.URL+"/slow.bin", "")
	token := transfer.NewCancellationToken()
	ch := d.Execute(task, token)

	select {
	case p := <-ch:
		assert.Equal(t, transfer.ProgressRunning, p.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no progress reported")
	}
	token.Cancel("test")

	p := final(t, collect(t, ch))
	assert.Equal(t, transfer.ProgressCancelled, p.Status)
	assert.NoFileExists(t, task.Path)
}

func TestHTTPError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &HTTPError{StatusCode: 404, Message: "Not Found"})
	assert.True(t, errors.Is(err, &HTTPError{StatusCode: 404}))
	assert.False(t, errors.Is(err, &HTTPError{StatusCode: 500}))
	assert.Equal(t, 404, StatusCode(err))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestBackoff(t *testing.T) {
	delay := Backoff(time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		d := delay(attempt)
		base := time.Second << (attempt - 1)
		if base > maxRetryDelay {
			base = maxRetryDelay
		}
		assert.GreaterOrEqual(t, d, base/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, base+base/2, "attempt %d", attempt)
	}
	assert.Positive(t, Backoff(0)(1))
}
