package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingWriter fails after accepting n writes.
type failingWriter struct {
	n      int
	writes []string
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(w.writes) >= w.n {
		return 0, errors.New("broken pipe")
	}
	w.writes = append(w.writes, string(p))
	return len(p), nil
}

func TestWriterNormalizesAndPreservesOrder(t *testing.T) {
	ch := NewChannel(10)
	p := ch.Producer("test")
	for _, cmd := range []string{"say one", "say two\n", "list"} {
		require.NoError(t, p.Submit(context.Background(), cmd))
	}
	p.Close()

	var out bytes.Buffer
	require.NoError(t, NewWriter(ch).Run(&out))

	assert.Equal(t, "say one\nsay two\nlist\n", out.String())
}

func TestWriterFlushesEachCommand(t *testing.T) {
	ch := NewChannel(10)
	p := ch.Producer("test")
	require.NoError(t, p.Submit(context.Background(), "a"))
	require.NoError(t, p.Submit(context.Background(), "b"))
	p.Close()

	var out bytes.Buffer
	bw := bufio.NewWriterSize(&out, 4096)
	require.NoError(t, NewWriter(ch).Run(bw))

	assert.Equal(t, "a\nb\n", out.String())
	assert.Equal(t, 0, bw.Buffered())
}

func TestWriterStopsOnError(t *testing.T) {
	ch := NewChannel(10)
	p := ch.Producer("test")
	defer p.Close()
	for _, cmd := range []string{"one", "two", "three"} {
		require.NoError(t, p.Submit(context.Background(), cmd))
	}

	dst := &failingWriter{n: 1}
	err := NewWriter(ch).Run(dst)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, []string{"one\n"}, dst.writes)
	assert.ErrorIs(t, p.Submit(context.Background(), "four"), ErrWriterStopped)

	select {
	case <-ch.Stopped():
	default:
		t.Fatal("channel not marked stopped")
	}
}
