package popup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"TypingCopilot/internal/config"
)

func newTestController() *Controller {
	cfg := config.Defaults()
	c := NewController(cfg, NewBridge(cfg.PopupBridgeAddr, zap.NewNop().Sugar()), zap.NewNop().Sugar())
	c.pointer = func() (int, int) { return 100, 100 }
	c.area = func() Rect { return Rect{W: 1920, H: 1080} }
	return c
}

func TestStreamingAccumulatesInOrder(t *testing.T) {
	c := newTestController()
	c.ShowStreamingAtCursor()

	// Свойство 6: текст попапа — префиксная конкатенация чанков без перестановок
	chunks := []string{"Hel", "lo", ", ", "world"}
	for _, ch := range chunks {
		c.AppendChunk(ch)
	}
	c.EndStream()

	assert.Equal(t, "Hello, world", c.Accumulated())
}

func TestAppendIgnoredWhenNotStreaming(t *testing.T) {
	c := newTestController()
	c.AppendChunk("orphan")
	assert.Equal(t, "", c.Accumulated())
}

func TestHideStopsStream(t *testing.T) {
	c := newTestController()
	c.ShowStreamingAtCursor()
	c.AppendChunk("abc")
	c.Hide()

	// после Hide стрим закрыт, поздние чанки не принимаются
	c.AppendChunk("late")
	assert.Equal(t, "abc", c.Accumulated())
}

func TestFlushLoopDeliversPending(t *testing.T) {
	c := newTestController()
	c.ShowStreamingAtCursor()
	c.AppendChunk("tick")

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.accum.Len() == 4
	}, time.Second, 10*time.Millisecond)
	c.EndStream()
}

func TestEndStreamIdempotent(t *testing.T) {
	c := newTestController()
	c.ShowStreamingAtCursor()
	c.EndStream()
	c.EndStream() // второй вызов не паникует на закрытом канале
}
