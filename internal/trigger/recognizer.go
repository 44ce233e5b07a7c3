package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"github.com/bep/debounce"
	"go.uber.org/zap"

	"TypingCopilot/internal/buffer"
	"TypingCopilot/internal/config"
	"TypingCopilot/internal/observer"
)

// KeySink — приёмник набранных символов для отладочного журнала.
type KeySink interface {
	AppendChar(ch string, window string)
	Backspace()
	Flush()
}

// nopSink используется, когда журнал выключен.
type nopSink struct{}

func (nopSink) AppendChar(string, string) {}
func (nopSink) Backspace()                {}
func (nopSink) Flush()                    {}

// Recognizer ведёт буфер в ногу с потоком наблюдателя и распознаёт триггеры.
// Одна задача владеет и буфером, и распознаванием — так снимок всегда
// согласован с последним нажатием.
type Recognizer struct {
	cfg    *config.Config
	buf    *buffer.Buffer
	logger *zap.SugaredLogger
	sink   KeySink

	events  <-chan observer.Event
	hotkeys <-chan HotkeyCommand
	out     chan Event

	// флаги, управляемые извне
	enabled  atomic.Bool // master_enabled
	liveMode atomic.Bool
	frozen   atomic.Bool // триггер принят, распознавание заморожено до резолюции

	// состояние расширения (extend)
	mu         sync.Mutex
	lastOutput string
	lastDoneAt time.Time
	typedSince bool

	// сентинель: видели `, ждём Enter
	pendingBacktick bool

	sensitive bool
	winCtx    observer.ActiveContext

	liveDebounce func(func())
	liveFire     chan struct{}

	// заменяется в тестах
	readClipboard func() (string, error)
}

func New(cfg *config.Config, buf *buffer.Buffer, events <-chan observer.Event, hotkeys <-chan HotkeyCommand, sink KeySink, logger *zap.SugaredLogger) *Recognizer {
	if sink == nil {
		sink = nopSink{}
	}
	r := &Recognizer{
		cfg:           cfg,
		buf:           buf,
		logger:        logger,
		sink:          sink,
		events:        events,
		hotkeys:       hotkeys,
		out:           make(chan Event, 8),
		liveDebounce:  debounce.New(cfg.LiveIdle),
		liveFire:      make(chan struct{}, 1),
		readClipboard: clipboard.ReadAll,
	}
	r.enabled.Store(true)
	r.typedSince = true
	return r
}

// Triggers — поток принятых триггеров для оркестратора.
func (r *Recognizer) Triggers() <-chan Event { return r.out }

// SetEnabled включает/выключает распознавание целиком (master_enabled).
func (r *Recognizer) SetEnabled(v bool) { r.enabled.Store(v) }

// SetLiveMode включает live-режим (автотриггер по паузе набора).
func (r *Recognizer) SetLiveMode(v bool) { r.liveMode.Store(v) }

// SetAIOutput запоминает завершённый ответ ИИ для режима extend.
func (r *Recognizer) SetAIOutput(output string) {
	r.mu.Lock()
	r.lastOutput = output
	r.lastDoneAt = time.Now()
	r.typedSince = false
	r.mu.Unlock()
}

// Resolve размораживает распознавание после завершения сессии.
func (r *Recognizer) Resolve() { r.frozen.Store(false) }

// ResetBuffer — команда оркестратора: сброс буфера, видимый до следующего триггера.
func (r *Recognizer) ResetBuffer() {
	r.buf.Reset()
	r.mu.Lock()
	r.pendingBacktick = false
	r.mu.Unlock()
}

// Run крутит единственную задачу C2/C3 до отмены контекста.
func (r *Recognizer) Run(ctx context.Context) error {
	defer close(r.out)
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case ev, ok := <-r.events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case observer.EventKey:
				r.handleKey(ev.Key)
			case observer.EventFocusChange:
				r.handleFocus(ev.Context)
			}
		case cmd := <-r.hotkeys:
			// Нажатия, вставшие в очередь раньше хоткея, должны попасть в снимок
			for len(r.events) > 0 {
				ev := <-r.events
				switch ev.Type {
				case observer.EventKey:
					r.handleKey(ev.Key)
				case observer.EventFocusChange:
					r.handleFocus(ev.Context)
				}
			}
			r.handleHotkey(cmd)
		case <-r.liveFire:
			r.tryLive()
		}
	}
}

func (r *Recognizer) handleFocus(c observer.ActiveContext) {
	// Каретка уехала в другое окно: буфер больше не отражает связный текст
	r.sink.Flush()
	r.buf.Reset()
	r.mu.Lock()
	r.pendingBacktick = false
	r.lastOutput = ""
	r.typedSince = true
	r.mu.Unlock()
	r.sensitive = c.Sensitive
	r.winCtx = c
}

func (r *Recognizer) handleKey(k observer.RawKeyEvent) {
	// Эхо инжектора не обновляет буфер и не порождает триггеры
	if k.Injected || !k.Down {
		return
	}

	switch k.Kind {
	case observer.KeyPrintable:
		r.cancelPendingBacktick()
		if r.buf.Append(k.Char) {
			r.logger.Debugw("Buffer overflow, head truncated")
		}
		r.markTyped()
		r.sink.AppendChar(k.Char, r.winCtx.Title)
		r.armLive()
	case observer.KeyBacktick:
		// Сентинель в буфер не пишем: ждём Enter
		r.mu.Lock()
		r.pendingBacktick = true
		r.mu.Unlock()
	case observer.KeyEnter:
		if r.takePendingBacktick() {
			r.fireBacktick()
			return
		}
		r.buf.Append("\n")
		r.markTyped()
		r.sink.AppendChar("\n", r.winCtx.Title)
		// Enter не запускает live-таймер
	case observer.KeyTab:
		r.cancelPendingBacktick()
		r.buf.Append("\t")
		r.markTyped()
		r.sink.AppendChar("\t", r.winCtx.Title)
		r.armLive()
	case observer.KeyBackspace:
		r.cancelPendingBacktick()
		r.buf.Backspace(1)
		r.markTyped()
		r.sink.Backspace()
		r.armLive()
	case observer.KeyCaretMove:
		// Любая клавиша перемещения каретки сбрасывает буфер
		r.cancelPendingBacktick()
		r.sink.Flush()
		r.buf.Reset()
	}
}

func (r *Recognizer) handleHotkey(cmd HotkeyCommand) {
	if !r.accepting() {
		return
	}
	switch cmd {
	case HotkeyGenerate:
		// пустой буфер (например, после сброса) не триггерит ничего
		if !r.buf.HasText() {
			return
		}
		if r.isExtension() {
			r.emit(Event{Type: TypeExtension, Mode: ModeExtend, LastOutput: r.lastOutputCopy()})
			return
		}
		r.emit(Event{Type: TypeHotkey, Mode: ModeGrammarFix})
	case HotkeyClipboard:
		clip, err := r.readClipboard()
		if err != nil || clip == "" {
			r.logger.Warnw("Clipboard empty or unreadable", "error", err)
			return
		}
		if r.buf.HasText() {
			snap := r.buf.Snapshot()
			r.emit(Event{
				Type:        TypeClipboardWithInstruction,
				Mode:        ModeClipboardWithin,
				Clipboard:   clip,
				Instruction: snap.Text,
			})
			return
		}
		r.emit(Event{Type: TypeHotkey, Mode: ModeClipboard, Clipboard: clip})
	case HotkeyScreenshot:
		r.emit(Event{Type: TypeHotkey, Mode: ModeVision})
	}
}

// tryLive — отложенная проверка live-триггера после паузы набора.
func (r *Recognizer) tryLive() {
	if !r.liveMode.Load() || !r.accepting() {
		return
	}
	if r.buf.Len() < r.cfg.LiveMinChars || !r.buf.HasText() {
		return
	}
	r.emit(Event{Type: TypeLive, Mode: ModeGrammarFix})
}

func (r *Recognizer) fireBacktick() {
	if !r.accepting() {
		return
	}
	snap := r.buf.Snapshot()
	if snap.Text == "" {
		return
	}
	// Сентинель (` и Enter) — две вставки сверх содержимого буфера
	r.emitWithSnapshot(Event{Type: TypeBacktick, Mode: ModeGrammarFix}, snap, snap.RawCount+2)
}

func (r *Recognizer) emit(ev Event) {
	snap := r.buf.Snapshot()
	r.emitWithSnapshot(ev, snap, snap.RawCount)
}

// emitWithSnapshot атомарно фиксирует снимок, замораживает распознавание и
// отдаёт триггер оркестратору.
func (r *Recognizer) emitWithSnapshot(ev Event, snap buffer.Snapshot, rawCount int) {
	ev.Snapshot = snap
	ev.RawCount = rawCount
	ev.Context = r.winCtx
	ev.At = time.Now()

	r.frozen.Store(true)
	r.mu.Lock()
	r.typedSince = false
	r.pendingBacktick = false
	r.mu.Unlock()

	select {
	case r.out <- ev:
	case <-time.After(time.Second):
		// оркестратор не принял — размораживаемся, иначе повиснем навсегда
		r.frozen.Store(false)
		r.logger.Warnw("Trigger dropped, orchestrator mailbox is stuck")
	}
}

// accepting: триггеры разрешены только при включённом мастере, вне заморозки
// и вне приватного окна.
func (r *Recognizer) accepting() bool {
	if !r.enabled.Load() || r.frozen.Load() {
		return false
	}
	if r.sensitive {
		// теневой режим: буфер живёт, триггеры молча гасятся
		r.logger.Debugw("Trigger dropped in sensitive context", "window", r.winCtx.Title)
		return false
	}
	return true
}

func (r *Recognizer) isExtension() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutput != "" && !r.typedSince &&
		time.Since(r.lastDoneAt) < r.cfg.ExtendWindow
}

func (r *Recognizer) lastOutputCopy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOutput
}

func (r *Recognizer) markTyped() {
	r.mu.Lock()
	r.typedSince = true
	r.mu.Unlock()
}

func (r *Recognizer) armLive() {
	if !r.liveMode.Load() {
		return
	}
	r.liveDebounce(func() {
		select {
		case r.liveFire <- struct{}{}:
		default:
		}
	})
}

func (r *Recognizer) cancelPendingBacktick() {
	r.mu.Lock()
	if r.pendingBacktick {
		// сентинель не состоялся — вернём символ в буфер
		r.pendingBacktick = false
		r.mu.Unlock()
		r.buf.Append("`")
		r.markTyped()
		return
	}
	r.mu.Unlock()
}

func (r *Recognizer) takePendingBacktick() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.pendingBacktick
	r.pendingBacktick = false
	return was
}
