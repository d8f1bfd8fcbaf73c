package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwarderSubmitsLinesUnchanged(t *testing.T) {
	ch := NewChannel(10)
	f := NewForwarder(ch.Producer("console"))

	f.Run(context.Background(), strings.NewReader("list\nsay hi\r\nstop"))

	assert.Equal(t, []string{"list\n", "say hi\r\n", "stop"}, drain(ch))
}

func TestForwarderLocalCommands(t *testing.T) {
	ch := NewChannel(10)
	var local []string
	f := NewForwarder(ch.Producer("console"), WithLocalCommands(":", func(cmd string) {
		local = append(local, cmd)
	}))

	f.Run(context.Background(), strings.NewReader(":plugins\nlist\n:triggers\r\n::hello\n:::x\n"))

	assert.Equal(t, []string{"plugins", "triggers"}, local)
	assert.Equal(t, []string{"list\n", ":hello\n", "::x\n"}, drain(ch))
}

func TestForwarderStopsWhenWriterStopped(t *testing.T) {
	ch := NewChannel(10)
	other := ch.Producer("plugin")
	defer other.Close()
	ch.Stop()

	f := NewForwarder(ch.Producer("console"))
	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), strings.NewReader("a\nb\n"))
		close(done)
	}()
	<-done

	assert.Equal(t, 0, ch.Len())
}
