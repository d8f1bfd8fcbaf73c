package dispatch

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/metrics"
)

// LocalHandler handles a console line addressed to the wrapper itself.
// cmd has the local prefix and the line terminator removed.
type LocalHandler func(cmd string)

// Forwarder copies operator console lines into the command channel.
type Forwarder struct {
	producer    *Producer
	localPrefix string
	local       LocalHandler
	log         *logging.Logger
	metrics     *metrics.Metrics
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithLocalCommands routes lines starting with prefix to handler instead of
// the server. A line starting with the prefix twice is forwarded with one
// copy removed. An empty prefix disables local commands.
func WithLocalCommands(prefix string, handler LocalHandler) ForwarderOption {
	return func(f *Forwarder) {
		f.localPrefix = prefix
		f.local = handler
	}
}

// WithForwarderLogger sets the forwarder's logger.
func WithForwarderLogger(l *logging.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.log = l
	}
}

// WithForwarderMetrics sets the forwarder's metrics.
func WithForwarderMetrics(m *metrics.Metrics) ForwarderOption {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// NewForwarder creates a forwarder submitting through p. The forwarder
// closes p when it returns.
func NewForwarder(p *Producer, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		producer: p,
		log:      logging.Discard,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run reads lines from r and submits each one unchanged. It returns when r
// reaches end of input, a read fails, or the channel no longer accepts
// commands.
func (f *Forwarder) Run(ctx context.Context, r io.Reader) {
	defer f.producer.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" && !f.forward(ctx, line) {
			return
		}
		if err != nil {
			if err != io.EOF {
				f.log.Debug("console read ended: %v", err)
			}
			return
		}
	}
}

// forward submits one line and reports whether the forwarder should go on.
func (f *Forwarder) forward(ctx context.Context, line string) bool {
	if f.local != nil && f.localPrefix != "" && strings.HasPrefix(line, f.localPrefix) {
		rest := strings.TrimPrefix(line, f.localPrefix)
		if !strings.HasPrefix(rest, f.localPrefix) {
			f.local(strings.TrimRight(rest, "\r\n"))
			return true
		}
		// A doubled prefix sends the line with one prefix removed.
		line = rest
	}

	if err := f.producer.Submit(ctx, line); err != nil {
		f.metrics.CommandDropped(f.producer.Source())
		f.log.Debug("console forwarding stopped: %v", err)
		return false
	}
	f.metrics.CommandSubmitted(f.producer.Source())
	return true
}
