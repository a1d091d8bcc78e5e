package logging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrFanInClosed is returned by handlers of a FanIn after Close.
var ErrFanInClosed = errors.New("logging: fan-in closed")

type fanInMsg struct {
	h   slog.Handler
	ctx context.Context
	r   slog.Record
}

// FanIn serialises records from many goroutines onto one handler. Records
// travel over a channel to a single writer goroutine; Close sends a
// sentinel and waits until everything queued before it has been written.
type FanIn struct {
	target slog.Handler
	ch     chan fanInMsg
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	errMu  sync.Mutex
	err    error
}

// NewFanIn starts the writer goroutine. buffer is the channel capacity.
func NewFanIn(target slog.Handler, buffer int) *FanIn {
	if buffer < 0 {
		buffer = 0
	}
	f := &FanIn{
		target: target,
		ch:     make(chan fanInMsg, buffer),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *FanIn) run() {
	defer close(f.done)
	for msg := range f.ch {
		if msg.h == nil {
			return
		}
		if err := msg.h.Handle(msg.ctx, msg.r); err != nil {
			f.errMu.Lock()
			if f.err == nil {
				f.err = err
			}
			f.errMu.Unlock()
		}
	}
}

// Logger returns a logger whose records go through the fan-in.
func (f *FanIn) Logger() *slog.Logger {
	return slog.New(&fanInHandler{f: f, h: f.target})
}

// Close stops the writer after draining. It returns the first error the
// target handler reported.
func (f *FanIn) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return f.firstErr()
	}
	f.closed = true
	f.ch <- fanInMsg{}
	f.mu.Unlock()
	<-f.done
	return f.firstErr()
}

func (f *FanIn) firstErr() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

type fanInHandler struct {
	f *FanIn
	h slog.Handler
}

func (h *fanInHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *fanInHandler) Handle(ctx context.Context, r slog.Record) error {
	h.f.mu.RLock()
	defer h.f.mu.RUnlock()
	if h.f.closed {
		return ErrFanInClosed
	}
	h.f.ch <- fanInMsg{h: h.h, ctx: context.WithoutCancel(ctx), r: r.Clone()}
	return nil
}

func (h *fanInHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanInHandler{f: h.f, h: h.h.WithAttrs(attrs)}
}

func (h *fanInHandler) WithGroup(name string) slog.Handler {
	return &fanInHandler{f: h.f, h: h.h.WithGroup(name)}
}
