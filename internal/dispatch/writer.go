package dispatch

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/metrics"
)

// flusher is implemented by buffered destinations such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// Writer is the single consumer of a Channel. It owns the server's stdin.
type Writer struct {
	ch      *Channel
	log     *logging.Logger
	metrics *metrics.Metrics
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(l *logging.Logger) WriterOption {
	return func(w *Writer) {
		w.log = l
	}
}

// WithWriterMetrics sets the writer's metrics.
func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) {
		w.metrics = m
	}
}

// NewWriter creates a writer draining ch.
func NewWriter(ch *Channel, opts ...WriterOption) *Writer {
	w := &Writer{
		ch:  ch,
		log: logging.Discard,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run writes queued commands to dst until the channel closes. Each command
// is newline-terminated, written in one call and flushed before the next is
// taken. The first write or flush error stops the writer for good: the
// channel is marked stopped and the error is returned.
func (w *Writer) Run(dst io.Writer) error {
	for cmd := range w.ch.Receive() {
		if err := w.write(dst, cmd); err != nil {
			w.ch.Stop()
			w.log.Error("server stdin unavailable, no further commands will be delivered: %v", err)
			return err
		}
		w.metrics.CommandWritten()
		w.log.Debug("-> server: %s", strings.TrimRight(cmd, "\r\n"))
	}
	return nil
}

func (w *Writer) write(dst io.Writer, cmd string) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	_, _ = buf.WriteString(Normalize(cmd))
	if _, err := dst.Write(buf.B); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if f, ok := dst.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush command: %w", err)
		}
	}
	return nil
}
