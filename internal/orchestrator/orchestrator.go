// Package orchestrator владеет машиной состояний сессий: принимает триггеры,
// гоняет генерацию через AI-воркера и доставляет результат в попап или
// инжекцией. Все входы сведены в один упорядоченный мейлбокс — гонок между
// хоткеями, чанками и рестартами детей нет по построению.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"TypingCopilot/internal/capture"
	"TypingCopilot/internal/config"
	"TypingCopilot/internal/inject"
	"TypingCopilot/internal/prompts"
	"TypingCopilot/internal/settings"
	"TypingCopilot/internal/trigger"
	"TypingCopilot/internal/worker"
)

// State — состояние текущей сессии.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateStreaming
	StatePresenting
	StateInjecting
)

// Control — команды, не порождающие генерацию.
type Control int

const (
	ControlPaste Control = iota + 1
	ControlCancel
	ControlEscape
	ControlToggle
	ControlPauseResume
	ControlFocusChange
	ControlVoiceDown
	ControlVoiceUp
	ControlSettings
)

// Worker — канал к AI-воркеру (C4).
type Worker interface {
	Generate(id, prompt string, ctxMap map[string]string, streaming bool) (<-chan worker.Chunk, error)
	Cancel(id string)
	Available() bool
}

// Injector — канал удалить-и-напечатать (C5).
type Injector interface {
	Inject(ctx context.Context, text string, backspaces int, humanize bool) error
}

// Popup — контроллер оверлея (C6).
type Popup interface {
	ShowStreamingAtCursor()
	AppendChunk(text string)
	EndStream()
	ShowComplete(text string)
	ShowExplanation(text string)
	ShowVisionPrompt()
	ShowError(msg string)
	Hide()
}

// Recognizer — управление распознаванием триггеров (C3).
type Recognizer interface {
	SetAIOutput(output string)
	Resolve()
	ResetBuffer()
	SetEnabled(v bool)
	SetLiveMode(v bool)
}

// Notifier — системные уведомления, когда попапа мало.
type Notifier interface {
	Alert(title, message string)
}

// session — учёт одного триггера от принятия до инжекции или отмены.
type session struct {
	id          string
	mode        trigger.Mode
	backspaces  int
	accumulated strings.Builder
	explanation string
	clipboard   string
	popupShown  bool
	streaming   bool
}

// lastResult — результат последней завершённой сессии до вставки или отмены.
type lastResult struct {
	text       string
	backspaces int
}

type msgKind int

const (
	msgChunk msgKind = iota + 1
	msgTimeout
	msgWorkerDown
	msgExplChunk
)

type mail struct {
	kind      msgKind
	sessionID string
	chunk     worker.Chunk
	err       error
}

// Orchestrator — задача C7.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	store    *settings.Store
	worker   Worker
	injector Injector
	popup    Popup
	rec      Recognizer
	notifier Notifier

	triggers <-chan trigger.Event
	controls chan Control
	visions  <-chan string
	mailbox  chan mail

	state   State
	cur     *session
	expl    *session
	last    *lastResult
	paused  bool
	pending *trigger.Event // одна отложенная на паузе; новая вытесняет старую

	visionShot string // скриншот, ждущий инструкцию из vision-промпта
	runCtx     context.Context

	// колбэки внешней обвязки
	OnMasterChange func(enabled bool)
	VoiceStart     func()
	VoiceStop      func()
	OpenSettings   func()

	// заменяется в тестах
	grabScreen func() (string, error)
	now        func() time.Time
}

func New(
	cfg *config.Config,
	store *settings.Store,
	w Worker,
	inj Injector,
	pop Popup,
	rec Recognizer,
	notifier Notifier,
	triggers <-chan trigger.Event,
	visions <-chan string,
	logger *zap.SugaredLogger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		worker:     w,
		injector:   inj,
		popup:      pop,
		rec:        rec,
		notifier:   notifier,
		triggers:   triggers,
		visions:    visions,
		controls:   make(chan Control, 16),
		mailbox:    make(chan mail, 256),
		grabScreen: capture.GrabScreen,
		now:        time.Now,
	}
}

// Controls — вход для команд хоткеев и событий фокуса.
func (o *Orchestrator) Controls() chan<- Control { return o.controls }

// State — текущее состояние (для обвязки и тестов).
func (o *Orchestrator) State() State { return o.state }

// WorkerDown сообщает о смерти воркера; незавершённая сессия закрывается.
func (o *Orchestrator) WorkerDown(reason error) {
	select {
	case o.mailbox <- mail{kind: msgWorkerDown, err: reason}:
	default:
	}
}

// Run — единственная задача, владеющая сессией и состоянием.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	snaps := o.store.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case ev, ok := <-o.triggers:
			if !ok {
				return nil
			}
			o.onTrigger(ctx, ev)
		case c := <-o.controls:
			o.onControl(ctx, c)
		case m := <-o.mailbox:
			o.onMail(ctx, m)
		case instruction := <-o.visions:
			o.onVisionInput(instruction)
		case snap := <-snaps:
			o.rec.SetLiveMode(snap.LiveMode)
			o.rec.SetEnabled(snap.MasterEnabled)
		}
	}
}

func (o *Orchestrator) onTrigger(ctx context.Context, ev trigger.Event) {
	if !o.store.Get().MasterEnabled {
		o.rec.Resolve()
		return
	}
	if o.paused {
		// пауза: держим одну отложенную, поздняя вытесняет раннюю
		o.pending = &ev
		o.rec.Resolve()
		return
	}
	if o.cur != nil {
		// сессии сериализованы; конкурирующий триггер отбрасывается
		o.logger.Debugw("Trigger dropped, session in flight", "mode", ev.Mode)
		o.rec.Resolve()
		return
	}

	if ev.Mode == trigger.ModeVision {
		shot, err := o.grabScreen()
		if err != nil {
			o.logger.Errorw("Screen capture failed", "error", err)
			o.popup.ShowError("Screen capture failed")
			o.rec.Resolve()
			return
		}
		o.visionShot = shot
		o.popup.ShowVisionPrompt()
		return
	}

	o.dispatch(ctx, ev, nil)
}

// dispatch заводит сессию и отправляет запрос воркеру.
func (o *Orchestrator) dispatch(ctx context.Context, ev trigger.Event, extra map[string]string) {
	snap := o.store.Get()
	s := &session{
		id:         uuid.NewString(),
		mode:       ev.Mode,
		backspaces: ev.RawCount,
		clipboard:  ev.Clipboard,
		streaming:  true,
	}

	prompt := ev.Snapshot.Text
	ctxMap := map[string]string{
		worker.CtxMode:  string(ev.Mode),
		worker.CtxTone:  snap.Tone,
		worker.CtxAgent: snap.SelectedAgent,
	}
	switch ev.Mode {
	case trigger.ModeExtend:
		ctxMap[worker.CtxLastOutput] = ev.LastOutput
	case trigger.ModeClipboard:
		prompt = ev.Clipboard
	case trigger.ModeClipboardWithin:
		prompt = ev.Clipboard
		ctxMap[worker.CtxInstruction] = ev.Instruction
	}
	for k, v := range extra {
		ctxMap[k] = v
	}

	o.state = StateDispatching
	chunks, err := o.worker.Generate(s.id, prompt, ctxMap, s.streaming)
	if err != nil {
		o.logger.Errorw("Worker rejected request", "error", err)
		o.popup.ShowError("AI worker unavailable")
		o.toIdle(false)
		return
	}
	o.cur = s

	if !snap.AutoInject {
		o.popup.ShowStreamingAtCursor()
		s.popupShown = true
	}
	o.state = StateStreaming

	go o.pump(ctx, s.id, chunks, msgChunk)
}

// pump гонит чанки сессии в мейлбокс; один таймер — один владелец времени
// на correlation id.
func (o *Orchestrator) pump(ctx context.Context, id string, chunks <-chan worker.Chunk, kind msgKind) {
	timeout := o.cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			o.mailbox <- mail{kind: msgTimeout, sessionID: id}
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			select {
			case o.mailbox <- mail{kind: kind, sessionID: id, chunk: chunk}:
			case <-ctx.Done():
				return
			}
			if chunk.Final || chunk.Err != nil {
				return
			}
		}
	}
}

func (o *Orchestrator) onMail(ctx context.Context, m mail) {
	switch m.kind {
	case msgChunk:
		o.onChunk(ctx, m)
	case msgExplChunk:
		o.onExplChunk(m)
	case msgTimeout:
		o.onTimeout(ctx, m)
	case msgWorkerDown:
		if o.cur != nil {
			o.logger.Warnw("Worker died mid-session", "id", o.cur.id, "error", m.err)
			o.finishPartialOrFail(ctx)
		}
	}
}

func (o *Orchestrator) onChunk(ctx context.Context, m mail) {
	if o.cur == nil || o.cur.id != m.sessionID {
		return // поздний чанк отменённой сессии
	}
	s := o.cur

	if m.chunk.Err != nil {
		o.logger.Warnw("Session failed", "id", s.id, "error", m.chunk.Err)
		o.finishPartialOrFail(ctx)
		return
	}

	s.accumulated.WriteString(m.chunk.Text)
	if m.chunk.Explanation != "" {
		s.explanation = m.chunk.Explanation
	}
	if s.popupShown {
		o.popup.AppendChunk(m.chunk.Text)
	}
	if m.chunk.Final {
		o.finish(ctx, s.accumulated.String())
	}
}

// finish завершает сессию: авто-инжекция или презентация в попапе.
func (o *Orchestrator) finish(ctx context.Context, text string) {
	s := o.cur
	snap := o.store.Get()
	// стрим накапливается как есть; чистим один раз на финале
	text = prompts.Clean(text)

	if snap.CodingMode && (s.mode == trigger.ModeClipboard || s.mode == trigger.ModeClipboardWithin) {
		o.startExplanation(ctx, s.clipboard, text)
	}

	if snap.AutoInject {
		o.state = StateInjecting
		err := o.injectNow(ctx, text, s.backspaces)
		o.rec.SetAIOutput(text)
		// при провале инжекции результат остаётся доступным для повтора
		o.toIdle(err == nil)
		return
	}

	if s.popupShown {
		o.popup.EndStream()
	} else {
		o.popup.ShowComplete(text)
	}
	o.last = &lastResult{text: text, backspaces: s.backspaces}
	o.store.Update(func(st *settings.Settings) {
		st.LastGeneratedText = text
		st.LastGeneratedExplanation = s.explanation
	})
	o.rec.SetAIOutput(text)
	o.cur = nil
	o.state = StatePresenting
	o.rec.Resolve()
}

// finishPartialOrFail: частичное накопление — успех, пусто — мягкая ошибка.
func (o *Orchestrator) finishPartialOrFail(ctx context.Context) {
	s := o.cur
	if s.accumulated.Len() > 0 {
		o.finish(ctx, s.accumulated.String())
		return
	}
	if s.popupShown {
		o.popup.EndStream()
	}
	o.popup.ShowError("Generation failed, try again")
	o.toIdle(false)
}

func (o *Orchestrator) onTimeout(ctx context.Context, m mail) {
	if o.expl != nil && o.expl.id == m.sessionID {
		o.worker.Cancel(m.sessionID)
		o.expl = nil
		return
	}
	if o.cur == nil || o.cur.id != m.sessionID {
		return
	}
	o.worker.Cancel(o.cur.id)
	o.logger.Warnw("Generation timed out", "id", o.cur.id, "partial", o.cur.accumulated.Len())
	o.finishPartialOrFail(ctx)
}

// injectNow нормализует текст ровно один раз и выполняет удалить-и-напечатать.
func (o *Orchestrator) injectNow(ctx context.Context, text string, backspaces int) error {
	snap := o.store.Get()
	normalized := inject.NormalizeIndent(text)
	humanize := snap.HumanizeTyping || snap.UltraHuman

	if err := o.injector.Inject(ctx, normalized, backspaces, humanize); err != nil {
		o.logger.Errorw("Injection failed", "error", err)
		// текст остаётся в памяти для повторной вставки; backspace уже не
		// пересчитать надёжно, повтор идёт без стирания
		o.last = &lastResult{text: text, backspaces: 0}
		var failed *inject.FailedError
		if errors.As(err, &failed) {
			o.popup.ShowError("Clipboard unavailable, generated text is kept for retry")
			o.notifier.Alert("Typing copilot", "Injection failed; generated text is kept for retry")
		} else {
			o.popup.ShowError("Injection failed, press paste hotkey to retry")
		}
		return err
	}
	// буфер стёрт вместе с подсказкой; сброс делает это видимым до следующего триггера
	o.rec.ResetBuffer()
	return nil
}

// startExplanation запускает параллельную сессию пояснения (режим кодинга).
// Её результат идёт только в окно пояснения и никогда не инжектится.
func (o *Orchestrator) startExplanation(ctx context.Context, clipboard, code string) {
	snap := o.store.Get()
	id := uuid.NewString()
	ctxMap := map[string]string{
		worker.CtxMode:  string(trigger.ModeExplanation),
		worker.CtxCode:  code,
		worker.CtxTone:  snap.Tone,
		worker.CtxAgent: snap.SelectedAgent,
	}
	chunks, err := o.worker.Generate(id, clipboard, ctxMap, true)
	if err != nil {
		o.logger.Warnw("Explanation request rejected", "error", err)
		return
	}
	o.expl = &session{id: id, mode: trigger.ModeExplanation}
	go o.pump(ctx, id, chunks, msgExplChunk)
}

func (o *Orchestrator) onExplChunk(m mail) {
	if o.expl == nil || o.expl.id != m.sessionID {
		return
	}
	if m.chunk.Err != nil {
		o.expl = nil
		return
	}
	o.expl.accumulated.WriteString(m.chunk.Text)
	if m.chunk.Final {
		text := o.expl.accumulated.String()
		o.popup.ShowExplanation(text)
		o.store.Update(func(st *settings.Settings) { st.LastGeneratedExplanation = text })
		o.expl = nil
	}
}

func (o *Orchestrator) onControl(ctx context.Context, c Control) {
	switch c {
	case ControlPaste:
		o.onPaste(ctx)
	case ControlCancel, ControlEscape:
		o.cancelAll()
	case ControlToggle:
		snap := o.store.Update(func(st *settings.Settings) { st.MasterEnabled = !st.MasterEnabled })
		o.rec.SetEnabled(snap.MasterEnabled)
		if !snap.MasterEnabled {
			o.cancelAll()
		}
		if o.OnMasterChange != nil {
			o.OnMasterChange(snap.MasterEnabled)
		}
	case ControlPauseResume:
		o.paused = !o.paused
		o.logger.Infow("Pause toggled", "paused", o.paused)
		if !o.paused && o.pending != nil {
			ev := *o.pending
			o.pending = nil
			o.onTrigger(ctx, ev)
		}
	case ControlFocusChange:
		// Смена фокуса прячет презентацию и сообщение об ошибке; vision-промпт
		// сам забирает фокус и остаётся открытым
		if o.state == StatePresenting || (o.state == StateIdle && o.visionShot == "") {
			o.popup.Hide()
			o.state = StateIdle
		}
	case ControlVoiceDown:
		if o.VoiceStart != nil {
			o.VoiceStart()
		}
	case ControlVoiceUp:
		if o.VoiceStop != nil {
			o.VoiceStop()
		}
	case ControlSettings:
		if o.OpenSettings != nil {
			o.OpenSettings()
		}
	}
}

// onPaste — вставка последнего результата по хоткею.
func (o *Orchestrator) onPaste(ctx context.Context) {
	if o.last == nil {
		return
	}
	res := o.last
	o.state = StateInjecting
	o.popup.Hide()
	err := o.injectNow(ctx, res.text, res.backspaces)
	o.toIdle(err == nil)
}

// cancelAll — отмена: чистим последний результат, прячем попапы, в Idle
// без инжекции. Отмена — не ошибка.
func (o *Orchestrator) cancelAll() {
	if o.cur != nil {
		o.worker.Cancel(o.cur.id)
	}
	o.expl = nil
	o.visionShot = ""
	o.popup.Hide()
	o.toIdle(true)
}

// toIdle закрывает сессию. clearLast=true стирает last_generated_*.
func (o *Orchestrator) toIdle(clearLast bool) {
	o.cur = nil
	o.state = StateIdle
	if clearLast {
		o.last = nil
		o.store.Update(func(st *settings.Settings) {
			st.LastGeneratedText = ""
			st.LastGeneratedExplanation = ""
		})
	}
	o.rec.Resolve()
}

func (o *Orchestrator) onVisionInput(instruction string) {
	if o.visionShot == "" {
		return
	}
	shot := o.visionShot
	o.visionShot = ""
	ev := trigger.Event{
		Type:        trigger.TypeHotkey,
		Mode:        trigger.ModeVision,
		Instruction: instruction,
		At:          o.now(),
	}
	extra := map[string]string{
		worker.CtxImage:       shot,
		worker.CtxInstruction: instruction,
	}
	// результат vision показывается, стирать в активном окне нечего
	ev.RawCount = 0
	o.dispatch(o.runCtx, ev, extra)
}
