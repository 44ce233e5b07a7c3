package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeWorker — петля вместо процесса воркера: читает команды, пишет события.
// stdin дренируется фоновой горутиной, т.к. запись в io.Pipe блокирующая.
type fakeWorker struct {
	t      *testing.T
	stdin  *io.PipeWriter // демон пишет сюда
	stdout *io.PipeReader // демон читает отсюда
	outW   *io.PipeWriter
	cmds   chan Command
}

func newFakeWorker(t *testing.T) *fakeWorker {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	f := &fakeWorker{t: t, stdin: inW, stdout: outR, outW: outW, cmds: make(chan Command, 16)}
	go func() {
		scanner := bufio.NewScanner(inR)
		for scanner.Scan() {
			var cmd Command
			if json.Unmarshal(scanner.Bytes(), &cmd) == nil {
				f.cmds <- cmd
			}
		}
	}()
	return f
}

func (f *fakeWorker) emit(ev WireEvent) {
	data, err := json.Marshal(ev)
	require.NoError(f.t, err)
	_, err = f.outW.Write(append(data, '\n'))
	require.NoError(f.t, err)
}

func (f *fakeWorker) emitRaw(line string) {
	_, err := f.outW.Write([]byte(line + "\n"))
	require.NoError(f.t, err)
}

func (f *fakeWorker) readCommand() Command {
	select {
	case cmd := <-f.cmds:
		return cmd
	case <-time.After(2 * time.Second):
		f.t.Fatal("no command from client")
		return Command{}
	}
}

func attachedClient(t *testing.T, onProto ProtocolErrorHandler) (*Client, *fakeWorker) {
	t.Helper()
	fw := newFakeWorker(t)
	c := NewClient(zap.NewNop().Sugar(), onProto)
	c.Attach(fw.stdin, fw.stdout)
	fw.emit(WireEvent{Event: "started", Success: true, PID: 4242})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Ready(ctx))
	require.True(t, c.Available())
	return c, fw
}

func TestStreamingChunksInOrder(t *testing.T) {
	c, fw := attachedClient(t, nil)

	ch, err := c.Generate("id-1", "hellow", map[string]string{CtxMode: "grammar_fix"}, true)
	require.NoError(t, err)

	cmd := fw.readCommand()
	assert.Equal(t, "generate", cmd.Cmd)
	assert.Equal(t, "id-1", cmd.ID)
	assert.Equal(t, "hellow", cmd.Prompt)
	assert.True(t, cmd.Streaming)

	fw.emit(WireEvent{Event: "chunk", ID: "id-1", Text: "Hel"})
	fw.emit(WireEvent{Event: "chunk", ID: "id-1", Text: "lo", Final: true})

	first := <-ch
	assert.Equal(t, "Hel", first.Text)
	assert.False(t, first.Final)
	second := <-ch
	assert.Equal(t, "lo", second.Text)
	assert.True(t, second.Final)

	// после final канал сессии закрыт
	_, open := <-ch
	assert.False(t, open)
}

func TestInterleavedSessions(t *testing.T) {
	c, fw := attachedClient(t, nil)

	chA, err := c.Generate("a", "one", nil, true)
	require.NoError(t, err)
	fw.readCommand()
	chB, err := c.Generate("b", "two", nil, true)
	require.NoError(t, err)
	fw.readCommand()

	fw.emit(WireEvent{Event: "chunk", ID: "b", Text: "B1"})
	fw.emit(WireEvent{Event: "chunk", ID: "a", Text: "A1"})
	fw.emit(WireEvent{Event: "chunk", ID: "a", Text: "A2", Final: true})
	fw.emit(WireEvent{Event: "chunk", ID: "b", Text: "B2", Final: true})

	assert.Equal(t, "A1", (<-chA).Text)
	assert.Equal(t, "A2", (<-chA).Text)
	assert.Equal(t, "B1", (<-chB).Text)
	assert.Equal(t, "B2", (<-chB).Text)
}

func TestCompleteOneShot(t *testing.T) {
	c, fw := attachedClient(t, nil)

	ch, err := c.Generate("x", "prompt", nil, false)
	require.NoError(t, err)
	fw.readCommand()

	fw.emit(WireEvent{Event: "complete", ID: "x", Text: "done"})
	chunk := <-ch
	assert.Equal(t, "done", chunk.Text)
	assert.True(t, chunk.Final)
}

func TestErrorRoutedToSession(t *testing.T) {
	c, fw := attachedClient(t, nil)

	ch, err := c.Generate("bad", "prompt", nil, true)
	require.NoError(t, err)
	fw.readCommand()

	fw.emit(WireEvent{Event: "error", ID: "bad", Message: "rate limited"})
	chunk := <-ch
	require.Error(t, chunk.Err)
	assert.Contains(t, chunk.Err.Error(), "rate limited")
}

func TestCancelDiscardsLateChunks(t *testing.T) {
	c, fw := attachedClient(t, nil)

	ch, err := c.Generate("c1", "prompt", nil, true)
	require.NoError(t, err)
	fw.readCommand()

	c.Cancel("c1")
	cmd := fw.readCommand()
	assert.Equal(t, "cancel", cmd.Cmd)
	assert.Equal(t, "c1", cmd.ID)

	// канал закрыт, поздний чанк никуда не доставляется и не паникует
	fw.emit(WireEvent{Event: "chunk", ID: "c1", Text: "late", Final: true})
	_, open := <-ch
	assert.False(t, open)
}

func TestWorkerDeathFailsInflight(t *testing.T) {
	c, fw := attachedClient(t, nil)

	ch, err := c.Generate("s6", "prompt", nil, true)
	require.NoError(t, err)
	fw.readCommand()

	// Сценарий S6: два чанка без final, затем процесс умирает
	fw.emit(WireEvent{Event: "chunk", ID: "s6", Text: "Hel"})
	fw.emit(WireEvent{Event: "chunk", ID: "s6", Text: "lo"})
	require.NoError(t, fw.outW.Close())

	assert.Equal(t, "Hel", (<-ch).Text)
	assert.Equal(t, "lo", (<-ch).Text)
	chunk := <-ch
	require.ErrorIs(t, chunk.Err, ErrGone)

	assert.False(t, c.Available())
	_, err = c.Generate("next", "p", nil, true)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestProtocolGarbageTriggersRestart(t *testing.T) {
	protoErr := make(chan error, 1)
	c, fw := attachedClient(t, func(err error) { protoErr <- err })

	ch, err := c.Generate("p", "prompt", nil, true)
	require.NoError(t, err)
	fw.readCommand()

	fw.emitRaw("this is not json")

	select {
	case err := <-protoErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("protocol handler not invoked")
	}
	chunk := <-ch
	require.Error(t, chunk.Err)
	assert.False(t, c.Available())
}
