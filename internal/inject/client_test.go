package inject

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"TypingCopilot/internal/config"
	"TypingCopilot/internal/observer"
)

type runCall struct {
	name string
	args []string
}

func newTestClient(runErr error) (*Client, *[]runCall, *observer.EchoGate) {
	cfg := config.Defaults()
	gate := observer.NewEchoGate()
	c := NewClient(cfg, gate, zap.NewNop().Sugar())

	calls := &[]runCall{}
	c.run = func(_ context.Context, name string, args ...string) error {
		*calls = append(*calls, runCall{name: name, args: args})
		return runErr
	}
	return c, calls, gate
}

func TestInjectArgs(t *testing.T) {
	c, calls, _ := newTestClient(nil)

	err := c.Inject(context.Background(), "Hello\nWorld", 8, true)
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, "injector", call.name)
	assert.Equal(t, []string{`Hello\nWorld`, "--backspace", "8", "--humanize"}, call.args)
}

func TestInjectNoBackspaceFlagWhenZero(t *testing.T) {
	c, calls, _ := newTestClient(nil)

	require.NoError(t, c.Inject(context.Background(), "hi", 0, false))
	assert.Equal(t, []string{"hi"}, (*calls)[0].args)
}

func TestInjectOpensEchoGate(t *testing.T) {
	c, _, gate := newTestClient(nil)

	var during bool
	c.run = func(context.Context, string, ...string) error {
		during = gate.Active()
		return nil
	}
	require.NoError(t, c.Inject(context.Background(), "x", 0, false))
	assert.True(t, during)
	// хвостовое окно после закрытия ещё активно
	assert.True(t, gate.Active())
}

func TestInjectFallbackToClipboardPaste(t *testing.T) {
	c, _, _ := newTestClient(errors.New("exec failed"))

	var wrote string
	var pasted bool
	c.writeClipboard = func(s string) error { wrote = s; return nil }
	c.paste = func() error { pasted = true; return nil }

	require.NoError(t, c.Inject(context.Background(), "payload", 3, false))
	assert.Equal(t, "payload", wrote)
	assert.True(t, pasted)
}

func TestInjectClipboardUnavailable(t *testing.T) {
	c, _, _ := newTestClient(errors.New("exec failed"))
	c.writeClipboard = func(string) error { return errors.New("no clipboard") }

	err := c.Inject(context.Background(), "keep me", 0, false)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	// текст сохраняется в ошибке, чтобы пользователь его не потерял
	assert.Equal(t, "keep me", failed.Text)
}
