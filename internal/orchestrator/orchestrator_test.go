package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"TypingCopilot/internal/buffer"
	"TypingCopilot/internal/config"
	"TypingCopilot/internal/settings"
	"TypingCopilot/internal/trigger"
	"TypingCopilot/internal/worker"
)

// --- фейки зависимостей ---

type fakeWorker struct {
	mu        sync.Mutex
	requests  []fakeRequest
	channels  map[string]chan worker.Chunk
	canceled  []string
	rejectErr error
}

type fakeRequest struct {
	id     string
	prompt string
	ctxMap map[string]string
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{channels: map[string]chan worker.Chunk{}}
}

func (w *fakeWorker) Generate(id, prompt string, ctxMap map[string]string, _ bool) (<-chan worker.Chunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejectErr != nil {
		return nil, w.rejectErr
	}
	ch := make(chan worker.Chunk, 16)
	w.channels[id] = ch
	w.requests = append(w.requests, fakeRequest{id: id, prompt: prompt, ctxMap: ctxMap})
	return ch, nil
}

func (w *fakeWorker) Cancel(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.canceled = append(w.canceled, id)
}

func (w *fakeWorker) Available() bool { return true }

func (w *fakeWorker) waitRequest(t *testing.T, n int) fakeRequest {
	t.Helper()
	var req fakeRequest
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		if len(w.requests) >= n {
			req = w.requests[n-1]
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return req
}

func (w *fakeWorker) stream(id string, chunks ...worker.Chunk) {
	w.mu.Lock()
	ch := w.channels[id]
	w.mu.Unlock()
	for _, c := range chunks {
		ch <- c
	}
}

type injectCall struct {
	text       string
	backspaces int
	humanize   bool
}

type fakeInjector struct {
	mu    sync.Mutex
	calls []injectCall
	err   error
}

func (i *fakeInjector) Inject(_ context.Context, text string, backspaces int, humanize bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, injectCall{text: text, backspaces: backspaces, humanize: humanize})
	return i.err
}

func (i *fakeInjector) callCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}

type fakePopup struct {
	mu      sync.Mutex
	events  []string
	chunks  []string
	expl    string
	errMsgs []string
}

func (p *fakePopup) record(ev string) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *fakePopup) ShowStreamingAtCursor() { p.record("show_streaming") }
func (p *fakePopup) AppendChunk(text string) {
	p.mu.Lock()
	p.chunks = append(p.chunks, text)
	p.mu.Unlock()
	p.record("chunk")
}
func (p *fakePopup) EndStream() { p.record("end_stream") }
func (p *fakePopup) ShowComplete(text string) {
	p.record("complete")
}
func (p *fakePopup) ShowExplanation(text string) {
	p.mu.Lock()
	p.expl = text
	p.mu.Unlock()
	p.record("explanation")
}
func (p *fakePopup) ShowVisionPrompt() { p.record("vision_prompt") }
func (p *fakePopup) ShowError(msg string) {
	p.mu.Lock()
	p.errMsgs = append(p.errMsgs, msg)
	p.mu.Unlock()
	p.record("error")
}
func (p *fakePopup) Hide() { p.record("hide") }

func (p *fakePopup) has(ev string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == ev {
			return true
		}
	}
	return false
}

type fakeRecognizer struct {
	mu        sync.Mutex
	buf       *buffer.Buffer
	resolved  int
	resets    int
	lastAISet string
}

func (r *fakeRecognizer) SetAIOutput(s string) {
	r.mu.Lock()
	r.lastAISet = s
	r.mu.Unlock()
}
func (r *fakeRecognizer) Resolve() {
	r.mu.Lock()
	r.resolved++
	r.mu.Unlock()
}
func (r *fakeRecognizer) ResetBuffer() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
	if r.buf != nil {
		r.buf.Reset()
	}
}
func (r *fakeRecognizer) SetEnabled(bool)  {}
func (r *fakeRecognizer) SetLiveMode(bool) {}

type fakeNotifier struct{}

func (fakeNotifier) Alert(string, string) {}

// --- обвязка ---

type fixture struct {
	o        *Orchestrator
	worker   *fakeWorker
	injector *fakeInjector
	popup    *fakePopup
	rec      *fakeRecognizer
	store    *settings.Store
	triggers chan trigger.Event
	visions  chan string
}

func newFixture(t *testing.T, mutate func(*settings.Settings)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.GenerationTimeout = 500 * time.Millisecond

	store, err := settings.NewStore(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	if mutate != nil {
		store.Update(mutate)
	}

	f := &fixture{
		worker:   newFakeWorker(),
		injector: &fakeInjector{},
		popup:    &fakePopup{},
		rec:      &fakeRecognizer{buf: buffer.New(1024)},
		store:    store,
		triggers: make(chan trigger.Event, 4),
		visions:  make(chan string, 4),
	}
	f.o = New(cfg, store, f.worker, f.injector, f.popup, f.rec, fakeNotifier{},
		f.triggers, f.visions, zap.NewNop().Sugar())
	f.o.grabScreen = func() (string, error) { return "base64-shot", nil }

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.o.Run(ctx) }()
	t.Cleanup(cancel)
	return f
}

func (f *fixture) trigger(ev trigger.Event) { f.triggers <- ev }

// --- тесты ---

func TestBacktickPopupThenPaste(t *testing.T) {
	// Сценарий S1: авто-инжекция выключена
	f := newFixture(t, nil)

	f.trigger(trigger.Event{
		Type:     trigger.TypeBacktick,
		Mode:     trigger.ModeGrammarFix,
		Snapshot: buffer.Snapshot{Text: "hellow", RawCount: 6},
		RawCount: 8,
	})

	req := f.worker.waitRequest(t, 1)
	assert.Equal(t, "hellow", req.prompt)
	assert.Equal(t, "grammar_fix", req.ctxMap[worker.CtxMode])

	f.worker.stream(req.id,
		worker.Chunk{Text: "Hel"},
		worker.Chunk{Text: "lo", Final: true},
	)

	require.Eventually(t, func() bool { return f.o.State() == StatePresenting }, time.Second, 5*time.Millisecond)
	assert.True(t, f.popup.has("show_streaming"))
	assert.True(t, f.popup.has("end_stream"))
	assert.Equal(t, "Hello", f.store.Get().LastGeneratedText)

	// вставка по хоткею: 8 backspace, затем текст
	f.o.Controls() <- ControlPaste
	require.Eventually(t, func() bool { return f.injector.callCount() == 1 }, time.Second, 5*time.Millisecond)
	call := f.injector.calls[0]
	assert.Equal(t, "Hello", call.text)
	assert.Equal(t, 8, call.backspaces)

	// после инжекции: буфер сброшен, last_* очищены, состояние Idle
	require.Eventually(t, func() bool { return f.o.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.store.Get().LastGeneratedText)
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Positive(t, f.rec.resets)
}

func TestAutoInjectSkipsPresenting(t *testing.T) {
	// Сценарий S3: авто-инжекция включена
	f := newFixture(t, func(st *settings.Settings) { st.AutoInject = true })

	f.trigger(trigger.Event{
		Type:        trigger.TypeClipboardWithInstruction,
		Mode:        trigger.ModeClipboardWithin,
		Snapshot:    buffer.Snapshot{Text: "explain briefly", RawCount: 15},
		RawCount:    15,
		Clipboard:   "def add(a,b): return a+b",
		Instruction: "explain briefly",
	})

	req := f.worker.waitRequest(t, 1)
	assert.Equal(t, "def add(a,b): return a+b", req.prompt)
	assert.Equal(t, "explain briefly", req.ctxMap[worker.CtxInstruction])

	f.worker.stream(req.id, worker.Chunk{Text: "Adds two numbers.", Final: true})

	require.Eventually(t, func() bool { return f.injector.callCount() == 1 }, time.Second, 5*time.Millisecond)
	call := f.injector.calls[0]
	assert.Equal(t, 15, call.backspaces)
	assert.Equal(t, "Adds two numbers.", call.text)
	// попап в авто-режиме не открывался
	assert.False(t, f.popup.has("show_streaming"))
}

func TestWorkerCrashMidStreamYieldsPartial(t *testing.T) {
	// Сценарий S6
	f := newFixture(t, nil)

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	req := f.worker.waitRequest(t, 1)

	f.worker.stream(req.id,
		worker.Chunk{Text: "Hel"},
		worker.Chunk{Text: "lo"},
		worker.Chunk{Err: worker.ErrGone},
	)

	require.Eventually(t, func() bool { return f.o.State() == StatePresenting }, time.Second, 5*time.Millisecond)
	// частичное накопление — успех
	assert.Equal(t, "Hello", f.store.Get().LastGeneratedText)
	assert.True(t, f.popup.has("end_stream"))
}

func TestErrorWithoutChunksIsRecoverable(t *testing.T) {
	f := newFixture(t, nil)

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	req := f.worker.waitRequest(t, 1)
	f.worker.stream(req.id, worker.Chunk{Err: errors.New("boom")})

	require.Eventually(t, func() bool { return f.popup.has("error") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, f.o.State())
	assert.Empty(t, f.store.Get().LastGeneratedText)
}

func TestCancelClearsEverything(t *testing.T) {
	f := newFixture(t, nil)

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	req := f.worker.waitRequest(t, 1)
	f.worker.stream(req.id, worker.Chunk{Text: "partial"})

	f.o.Controls() <- ControlCancel

	require.Eventually(t, func() bool { return f.o.State() == StateIdle }, time.Second, 5*time.Millisecond)
	f.worker.mu.Lock()
	canceled := append([]string(nil), f.worker.canceled...)
	f.worker.mu.Unlock()
	assert.Contains(t, canceled, req.id)
	assert.True(t, f.popup.has("hide"))
	assert.Empty(t, f.store.Get().LastGeneratedText)
	// поздние чанки отменённой сессии молча выбрасываются
	f.worker.stream(req.id, worker.Chunk{Text: "late", Final: true})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateIdle, f.o.State())
}

func TestPauseHoldsOneDeepQueue(t *testing.T) {
	f := newFixture(t, nil)

	f.o.Controls() <- ControlPauseResume
	time.Sleep(20 * time.Millisecond)

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "first", RawCount: 5}, RawCount: 5})
	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "second", RawCount: 6}, RawCount: 6})
	time.Sleep(50 * time.Millisecond)
	// на паузе ничего не уходит воркеру
	f.worker.mu.Lock()
	assert.Empty(t, f.worker.requests)
	f.worker.mu.Unlock()

	// после резюма уходит только поздний триггер
	f.o.Controls() <- ControlPauseResume
	req := f.worker.waitRequest(t, 1)
	assert.Equal(t, "second", req.prompt)
}

func TestCodingModeFiresExplanation(t *testing.T) {
	f := newFixture(t, func(st *settings.Settings) { st.CodingMode = true })

	f.trigger(trigger.Event{
		Mode:      trigger.ModeClipboard,
		Clipboard: "two sum problem",
		Snapshot:  buffer.Snapshot{},
	})
	req := f.worker.waitRequest(t, 1)
	f.worker.stream(req.id, worker.Chunk{Text: "func TwoSum() {}", Final: true})

	// вторая сессия: mode=explanation, prompt=исходный клипборд, context.code=код
	explReq := f.worker.waitRequest(t, 2)
	assert.Equal(t, "two sum problem", explReq.prompt)
	assert.Equal(t, "explanation", explReq.ctxMap[worker.CtxMode])
	assert.Equal(t, "func TwoSum() {}", explReq.ctxMap[worker.CtxCode])

	f.worker.stream(explReq.id, worker.Chunk{Text: "Brute force.", Final: true})
	require.Eventually(t, func() bool { return f.popup.has("explanation") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Brute force.", f.store.Get().LastGeneratedExplanation)
}

func TestVisionFlow(t *testing.T) {
	f := newFixture(t, nil)

	f.trigger(trigger.Event{Mode: trigger.ModeVision, Type: trigger.TypeHotkey})
	require.Eventually(t, func() bool { return f.popup.has("vision_prompt") }, time.Second, 5*time.Millisecond)

	f.visions <- "what is on screen?"
	req := f.worker.waitRequest(t, 1)
	assert.Equal(t, "vision", req.ctxMap[worker.CtxMode])
	assert.Equal(t, "base64-shot", req.ctxMap[worker.CtxImage])
	assert.Equal(t, "what is on screen?", req.ctxMap[worker.CtxInstruction])

	f.worker.stream(req.id, worker.Chunk{Text: "A code editor.", Final: true})
	require.Eventually(t, func() bool { return f.o.State() == StatePresenting }, time.Second, 5*time.Millisecond)
}

func TestTimeoutWithoutChunks(t *testing.T) {
	f := newFixture(t, nil)

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	req := f.worker.waitRequest(t, 1)

	// чанков нет — по таймауту мягкая ошибка и отмена у воркера
	require.Eventually(t, func() bool { return f.popup.has("error") }, 2*time.Second, 10*time.Millisecond)
	f.worker.mu.Lock()
	canceled := append([]string(nil), f.worker.canceled...)
	f.worker.mu.Unlock()
	assert.Contains(t, canceled, req.id)
	assert.Equal(t, StateIdle, f.o.State())
}

func TestToggleDisablesAndCancels(t *testing.T) {
	f := newFixture(t, nil)

	var notified []bool
	var mu sync.Mutex
	f.o.OnMasterChange = func(enabled bool) {
		mu.Lock()
		notified = append(notified, enabled)
		mu.Unlock()
	}

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	f.worker.waitRequest(t, 1)

	f.o.Controls() <- ControlToggle
	require.Eventually(t, func() bool { return !f.store.Get().MasterEnabled }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.o.State() == StateIdle }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []bool{false}, notified)
	mu.Unlock()
}

func TestInjectionFailureKeepsResultForRetry(t *testing.T) {
	f := newFixture(t, func(st *settings.Settings) { st.AutoInject = true })
	f.injector.err = errors.New("os injection failed")

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	req := f.worker.waitRequest(t, 1)
	f.worker.stream(req.id, worker.Chunk{Text: "result", Final: true})

	require.Eventually(t, func() bool { return f.injector.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.o.State() == StateIdle }, time.Second, 5*time.Millisecond)

	// результат не потерян: повторная вставка доступна
	f.injector.mu.Lock()
	f.injector.err = nil
	f.injector.mu.Unlock()
	f.o.Controls() <- ControlPaste
	require.Eventually(t, func() bool { return f.injector.callCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestFocusChangeHidesPresentingPopup(t *testing.T) {
	f := newFixture(t, nil)

	f.trigger(trigger.Event{Mode: trigger.ModeGrammarFix, Snapshot: buffer.Snapshot{Text: "x", RawCount: 1}, RawCount: 1})
	req := f.worker.waitRequest(t, 1)
	f.worker.stream(req.id, worker.Chunk{Text: "done", Final: true})
	require.Eventually(t, func() bool { return f.o.State() == StatePresenting }, time.Second, 5*time.Millisecond)

	f.o.Controls() <- ControlFocusChange
	require.Eventually(t, func() bool { return f.o.State() == StateIdle }, time.Second, 5*time.Millisecond)
	assert.True(t, f.popup.has("hide"))
}
