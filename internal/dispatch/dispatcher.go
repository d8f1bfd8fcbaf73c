package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/metrics"
	"github.com/dshills/mcwrap/internal/trigger"
)

// DefaultEchoPrefix marks server output echoed to the console.
const DefaultEchoPrefix = "[MC]"

// Dispatcher is the main loop: it reads server output, runs the trigger
// pass for each line and submits the resulting commands.
type Dispatcher struct {
	registry *trigger.Registry
	invoker  trigger.Invoker
	producer *Producer

	echo       io.Writer
	echoPrefix string

	log     *logging.Logger
	metrics *metrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEcho copies every output line to w, prefixed with prefix.
// A nil writer disables the echo.
func WithEcho(w io.Writer, prefix string) DispatcherOption {
	return func(d *Dispatcher) {
		d.echo = w
		d.echoPrefix = prefix
	}
}

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// WithDispatcherMetrics sets the dispatcher's metrics.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher that matches lines against reg, calls
// callbacks through inv and submits commands through p. The dispatcher
// closes p when Run returns.
func NewDispatcher(reg *trigger.Registry, inv trigger.Invoker, p *Producer, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:   reg,
		invoker:    inv,
		producer:   p,
		echoPrefix: DefaultEchoPrefix,
		log:        logging.Discard,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run processes lines from r in arrival order until end of input, which
// returns nil. A read error ends the loop and is returned.
func (d *Dispatcher) Run(ctx context.Context, r io.Reader) error {
	defer d.producer.Close()

	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if raw != "" {
			d.HandleLine(ctx, strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read server output: %w", err)
		}
	}
}

// HandleLine runs one dispatch pass for line and submits the commands it
// produced. Commands that cannot be queued are logged and dropped.
func (d *Dispatcher) HandleLine(ctx context.Context, line string) {
	d.metrics.LineRead()
	if d.echo != nil {
		fmt.Fprintf(d.echo, "%s %s\n", d.echoPrefix, line)
	}

	res := d.registry.Dispatch(line, d.invoker)
	d.metrics.TriggersMatched(res.Matched)

	for _, cerr := range res.Errors {
		d.metrics.CallbackFailed(cerr.Owner)
		d.log.WithPlugin(cerr.Owner).Error("%v", cerr)
	}

	for _, cmd := range res.Commands {
		if err := d.producer.Submit(ctx, Normalize(cmd)); err != nil {
			d.metrics.CommandDropped(d.producer.Source())
			d.log.Warn("dropped command %q: %v", cmd, err)
			continue
		}
		d.metrics.CommandSubmitted(d.producer.Source())
		d.log.Debug("queued command %q", cmd)
	}
}
