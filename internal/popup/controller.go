package popup

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"TypingCopilot/internal/config"
)

// Размеры окон оверлея; рендерер может уточнять их на своей стороне
const (
	mainW = 420
	mainH = 180
	explW = 420
	explH = 260
)

// Controller управляет попапом у курсора: показывает, стримит текст,
// прячет. Окно никогда не забирает фокус клавиатуры (кроме vision-промпта)
// и исключено из захвата экрана.
type Controller struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	bridge *Bridge

	main surface
	expl surface

	mu        sync.Mutex
	streaming bool
	pending   strings.Builder // чанки, ещё не дотолкнутые в рендерер
	accum     strings.Builder
	stopFlush chan struct{}

	// заменяются в тестах
	pointer func() (int, int)
	area    func() Rect
}

func NewController(cfg *config.Config, bridge *Bridge, logger *zap.SugaredLogger) *Controller {
	c := &Controller{
		cfg:     cfg,
		logger:  logger,
		bridge:  bridge,
		pointer: pointerPos,
		area:    workArea,
	}
	var err error
	if c.main, err = newSurface(false); err != nil {
		c.logger.Warnw("Popup surface unavailable, bridge-only mode", "error", err)
		c.main = nopSurface{}
	}
	if c.expl, err = newSurface(false); err != nil {
		c.expl = nopSurface{}
	}
	return c
}

// ShowStreamingAtCursor открывает попап у указателя и начинает стрим.
func (c *Controller) ShowStreamingAtCursor() {
	c.mu.Lock()
	defer c.mu.Unlock()

	x, y := c.place(mainW, mainH)
	c.accum.Reset()
	c.pending.Reset()
	c.streaming = true
	c.stopFlush = make(chan struct{})
	c.main.show(x, y, mainW, mainH, false)
	c.bridge.Send(Frame{Op: "show", X: x, Y: y})

	// Коалесценция чанков ~30 кадров в секунду
	go c.flushLoop(c.stopFlush)
}

// AppendChunk добавляет дельту текста в стрим.
func (c *Controller) AppendChunk(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return
	}
	c.pending.WriteString(text)
}

// EndStream завершает стрим и дотапливает остаток.
func (c *Controller) EndStream() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return
	}
	c.streaming = false
	close(c.stopFlush)
	c.flushLocked()
	c.bridge.Send(Frame{Op: "end"})
}

// ShowComplete показывает готовый текст без стрима.
func (c *Controller) ShowComplete(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, y := c.place(mainW, mainH)
	c.main.show(x, y, mainW, mainH, false)
	c.main.setText(text)
	c.bridge.Send(Frame{Op: "complete", Text: text, X: x, Y: y})
}

// ShowExplanation показывает параллельное окно пояснения (режим кодинга).
// Его содержимое никогда не инжектится.
func (c *Controller) ShowExplanation(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, y := c.place(explW, explH)
	c.expl.show(x+mainW+8, y, explW, explH, false)
	c.expl.setText(text)
	c.bridge.Send(Frame{Op: "explanation", Text: text})
}

// ShowVisionPrompt открывает вариант попапа с полем ввода инструкции.
// Единственный случай, когда окно принимает фокус.
func (c *Controller) ShowVisionPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, y := c.place(mainW, mainH)
	c.main.show(x, y, mainW, mainH, true)
	c.bridge.Send(Frame{Op: "vision_prompt", X: x, Y: y})
}

// ShowError показывает короткое сообщение об ошибке; попап сам спрячется
// по Escape или смене фокуса.
func (c *Controller) ShowError(msg string) {
	c.ShowComplete(msg)
}

// Hide прячет все поверхности.
func (c *Controller) Hide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		c.streaming = false
		close(c.stopFlush)
	}
	c.main.hide()
	c.expl.hide()
	c.bridge.Send(Frame{Op: "hide"})
}

// Accumulated возвращает накопленный стримом текст.
func (c *Controller) Accumulated() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accum.String() + c.pending.String()
}

func (c *Controller) place(w, h int) (int, int) {
	px, py := c.pointer()
	return Place(c.area(), px, py, w, h, c.cfg.PopupOffsetY)
}

func (c *Controller) flushLoop(stop <-chan struct{}) {
	t := time.NewTicker(33 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		}
	}
}

func (c *Controller) flushLocked() {
	if c.pending.Len() == 0 {
		return
	}
	delta := c.pending.String()
	c.pending.Reset()
	c.accum.WriteString(delta)
	c.main.setText(c.accum.String())
	c.bridge.Send(Frame{Op: "chunk", Text: delta})
}

// Run держит мост оверлея.
func (c *Controller) Run(ctx context.Context) error {
	return c.bridge.Run(ctx)
}

// VisionInputs — инструкции из vision-промпта.
func (c *Controller) VisionInputs() <-chan string { return c.bridge.VisionInputs() }

// Платформенная поверхность оверлея — window_windows.go
type surface interface {
	show(x, y, w, h int, focusable bool)
	setText(text string)
	hide()
}

type nopSurface struct{}

func (nopSurface) show(int, int, int, int, bool) {}
func (nopSurface) setText(string)                {}
func (nopSurface) hide()                         {}
