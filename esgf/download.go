package esgf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrorClass groups download failures that share a retry delay.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	// ClassTimeout covers connect timeouts and stalled transfers.
	ClassTimeout
	// ClassConnection covers refused and reset connections.
	ClassConnection
	// ClassStatus covers retryable HTTP responses (408, 429, 5xx).
	ClassStatus
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassConnection:
		return "connection"
	case ClassStatus:
		return "status"
	default:
		return "unknown"
	}
}

var errStalled = errors.New("no data received within the download timeout")

// StatusError is a non-200 HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	HTTPClient *http.Client
	// Timeout is the longest the transfer may go without receiving data,
	// including the wait for the response.
	Timeout  time.Duration
	Attempts uint
	// RetryDelay is the wait before another attempt. ClassDelays overrides
	// it per failure class.
	RetryDelay  time.Duration
	ClassDelays map[ErrorClass]time.Duration
	Logger      *slog.Logger
}

// Downloader fetches a URL to a local file with bounded retries.
type Downloader struct {
	opts   DownloaderOptions
	logger *slog.Logger
}

// NewDownloader returns a Downloader with defaults filled in.
func NewDownloader(opts DownloaderOptions) *Downloader {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Downloader{opts: opts, logger: opts.Logger.With("component", "Downloader")}
}

// classBackOff waits according to the class of the last failure.
type classBackOff struct {
	mu      sync.Mutex
	last    ErrorClass
	def     time.Duration
	byClass map[ErrorClass]time.Duration
}

func (b *classBackOff) record(c ErrorClass) {
	b.mu.Lock()
	b.last = c
	b.mu.Unlock()
}

func (b *classBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.byClass[b.last]; ok {
		return d
	}
	return b.def
}

func (b *classBackOff) Reset() {}

// Download writes the body of url to dest, truncating it on every attempt,
// and returns the number of bytes written.
func (d *Downloader) Download(ctx context.Context, url, dest string) (int64, error) {
	bo := &classBackOff{def: d.opts.RetryDelay, byClass: d.opts.ClassDelays}
	attempt := 0
	op := func() (int64, error) {
		attempt++
		n, err := d.attempt(ctx, url, dest)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return 0, backoff.Permanent(err)
		}
		class := classify(err)
		bo.record(class)
		d.logger.Warn("Download attempt failed", "url", url, "attempt", attempt, "class", class.String(), "error", err)
		return 0, err
	}
	n, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(d.opts.Attempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("download %s after %d attempts: %w", url, attempt, err)
	}
	return n, nil
}

func (d *Downloader) attempt(ctx context.Context, url, dest string) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := time.AfterFunc(d.opts.Timeout, func() { cancel(errStalled) })
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, stallCause(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return 0, &StatusError{URL: url, Code: resp.StatusCode}
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	n, err := io.Copy(f, &watchedReader{r: resp.Body, watchdog: watchdog, timeout: d.opts.Timeout})
	if err != nil {
		f.Close()
		return n, stallCause(ctx, err)
	}
	if err := f.Close(); err != nil {
		return n, backoff.Permanent(err)
	}
	return n, nil
}

// stallCause replaces the cancellation error of a stalled transfer with
// errStalled.
func stallCause(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errStalled) {
		return fmt.Errorf("%w: %v", errStalled, err)
	}
	return err
}

// watchedReader pushes the watchdog back on every successful read.
type watchedReader struct {
	r        io.Reader
	watchdog *time.Timer
	timeout  time.Duration
}

func (w *watchedReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 {
		w.watchdog.Reset(w.timeout)
	}
	return n, err
}

func classify(err error) ErrorClass {
	var se *StatusError
	var ne net.Error
	var oe *net.OpError
	switch {
	case errors.Is(err, errStalled), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.As(err, &se):
		return ClassStatus
	case errors.As(err, &ne) && ne.Timeout():
		return ClassTimeout
	case errors.As(err, &oe):
		return ClassConnection
	default:
		return ClassUnknown
	}
}
