package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/mcwrap/internal/logging"
	"github.com/dshills/mcwrap/internal/trigger"
)

type callback func(args []string) ([]string, error)

type testInvoker struct{}

func (testInvoker) Invoke(h trigger.Handle, args []string) ([]string, error) {
	return h.(callback)(args)
}

func (testInvoker) InvokeHook(trigger.Handle) error { return nil }

func drain(ch *Channel) []string {
	var got []string
	for cmd := range ch.Receive() {
		got = append(got, cmd)
	}
	return got
}

func TestDispatcherWelcomeScenario(t *testing.T) {
	reg := trigger.NewRegistry()
	_, err := reg.Register("greeter", `^Player (\w+) joined`, callback(func(args []string) ([]string, error) {
		return []string{"say welcome " + args[1]}, nil
	}))
	require.NoError(t, err)

	ch := NewChannel(10)
	var echo bytes.Buffer
	d := NewDispatcher(reg, testInvoker{}, ch.Producer("plugin"), WithEcho(&echo, "[MC]"))

	out := strings.NewReader("Server started\nPlayer Alice joined\n")
	require.NoError(t, d.Run(context.Background(), out))

	assert.Equal(t, []string{"say welcome Alice\n"}, drain(ch))
	assert.Equal(t, "[MC] Server started\n[MC] Player Alice joined\n", echo.String())
}

func TestDispatcherEndToEndThroughWriter(t *testing.T) {
	reg := trigger.NewRegistry()
	_, err := reg.Register("multi", `^tick (\d+)`, callback(func(args []string) ([]string, error) {
		return []string{"first " + args[1], "second " + args[1] + "\n"}, nil
	}))
	require.NoError(t, err)

	ch := NewChannel(1)
	var stdin bytes.Buffer
	writerDone := make(chan error, 1)
	go func() { writerDone <- NewWriter(ch).Run(&stdin) }()

	d := NewDispatcher(reg, testInvoker{}, ch.Producer("plugin"))
	require.NoError(t, d.Run(context.Background(), strings.NewReader("tick 1\r\ntick 2")))
	require.NoError(t, <-writerDone)

	assert.Equal(t, "first 1\nsecond 1\nfirst 2\nsecond 2\n", stdin.String())
}

func TestDispatcherContinuesAfterCallbackError(t *testing.T) {
	reg := trigger.NewRegistry()
	_, err := reg.Register("bad", `.`, callback(func([]string) ([]string, error) {
		return nil, errors.New("lua error")
	}))
	require.NoError(t, err)
	_, err = reg.Register("good", `.`, callback(func(args []string) ([]string, error) {
		return []string{"echo " + args[0]}, nil
	}))
	require.NoError(t, err)

	var logs bytes.Buffer
	off := false
	log := logging.New(logging.Config{Level: logging.LevelDebug, Output: &logs, Color: &off})

	ch := NewChannel(10)
	d := NewDispatcher(reg, testInvoker{}, ch.Producer("plugin"), WithDispatcherLogger(log))
	require.NoError(t, d.Run(context.Background(), strings.NewReader("a\nb\n")))

	assert.Equal(t, []string{"echo a\n", "echo b\n"}, drain(ch))
	assert.Contains(t, logs.String(), "plugin=bad")
	assert.Contains(t, logs.String(), "lua error")
}

func TestDispatcherDropsWhenClosed(t *testing.T) {
	reg := trigger.NewRegistry()
	_, err := reg.Register("p", `.`, callback(func([]string) ([]string, error) {
		return []string{"x"}, nil
	}))
	require.NoError(t, err)

	ch := NewChannel(1)
	p := ch.Producer("plugin")
	ch.Stop()

	d := NewDispatcher(reg, testInvoker{}, p)
	assert.NotPanics(t, func() {
		d.HandleLine(context.Background(), "line")
	})
	assert.Equal(t, 0, ch.Len())
}

func TestDispatcherEmptyLines(t *testing.T) {
	reg := trigger.NewRegistry()
	var seen []string
	_, err := reg.Register("p", `^$`, callback(func(args []string) ([]string, error) {
		seen = append(seen, args[0])
		return nil, nil
	}))
	require.NoError(t, err)

	ch := NewChannel(1)
	d := NewDispatcher(reg, testInvoker{}, ch.Producer("plugin"))
	require.NoError(t, d.Run(context.Background(), strings.NewReader("\n\nx\n")))

	assert.Equal(t, []string{"", ""}, seen)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestDispatcherReadError(t *testing.T) {
	ch := NewChannel(1)
	d := NewDispatcher(trigger.NewRegistry(), testInvoker{}, ch.Producer("plugin"))

	err := d.Run(context.Background(), errReader{})

	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.True(t, ch.IsClosed())
}
