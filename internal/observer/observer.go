package observer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"TypingCopilot/internal/config"
)

// ErrHookInstall — фатальная ошибка установки системного хука клавиатуры.
var ErrHookInstall = errors.New("observer: keyboard hook install failed")

// Observer владеет системным хуком и публикует нормализованный поток событий.
// Хук живёт в выделенном системном потоке и не должен блокироваться: события
// уходят в ограниченную очередь, при переполнении старые отбрасываются.
type Observer struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	gate   *EchoGate

	out    chan Event
	rawIn  chan RawKeyEvent
	drops  atomic.Int64
	keyCnt int

	lastCtx ActiveContext
}

func New(cfg *config.Config, gate *EchoGate, logger *zap.SugaredLogger) *Observer {
	qcap := cfg.QueueCap
	if qcap <= 0 {
		qcap = 1024
	}
	return &Observer{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
		out:    make(chan Event, qcap),
		rawIn:  make(chan RawKeyEvent, qcap),
	}
}

// Events — поток событий для задачи буфера/триггеров.
func (o *Observer) Events() <-chan Event { return o.out }

// Drops — количество отброшенных событий при переполнении очереди.
func (o *Observer) Drops() int64 { return o.drops.Load() }

// Gate — окно подавления эха, которым пользуется наблюдатель.
func (o *Observer) Gate() *EchoGate { return o.gate }

// Start устанавливает хук и возвращается после подтверждения готовности.
// Дальше наблюдатель живёт до отмены контекста.
func (o *Observer) Start(ctx context.Context) error {
	hk, err := newKeyHook()
	if err != nil {
		return errors.Join(ErrHookInstall, err)
	}

	ready := make(chan struct{})
	fail := make(chan error, 1)
	go func() {
		if runErr := hk.run(ctx, ready, o.rawIn); runErr != nil {
			fail <- runErr
		}
	}()

	select {
	case <-ready:
	case err := <-fail:
		return errors.Join(ErrHookInstall, err)
	case <-time.After(5 * time.Second):
		return errors.Join(ErrHookInstall, errors.New("readiness timeout"))
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	// Начальный фокус публикуем до старта цикла, дальше lastCtx трогает
	// только цикл
	o.refreshContext(true)
	go o.loop(ctx)
	o.logger.Infow("Observer started")
	return nil
}

func (o *Observer) loop(ctx context.Context) {
	// Смену окна проверяем и по таймеру, и каждые N нажатий
	t := time.NewTicker(time.Second)
	defer t.Stop()
	defer close(o.out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.refreshContext(false)
		case ev := <-o.rawIn:
			o.handleKey(ev)
		}
	}
}

func (o *Observer) handleKey(ev RawKeyEvent) {
	o.keyCnt++
	if every := o.cfg.WindowPollEvery; every > 0 && o.keyCnt >= every {
		o.keyCnt = 0
		o.refreshContext(false)
	}

	// Эхо: синтетика помечается, но событие публикуется — потребитель сам
	// решает, игнорировать ли его
	if !ev.Injected && o.gate.Active() {
		ev.Injected = true
	}
	o.publish(Event{Type: EventKey, Key: ev})
}

func (o *Observer) refreshContext(force bool) {
	title, proc := foregroundContext()
	if !force && title == o.lastCtx.Title && proc == o.lastCtx.Process {
		return
	}
	next := ActiveContext{
		Title:     title,
		Process:   proc,
		Sensitive: o.classify(title, proc),
	}
	o.lastCtx = next
	o.publish(Event{Type: EventFocusChange, Context: next})
	if next.Sensitive {
		o.logger.Debugw("Sensitive window in focus", "process", proc)
	}
}

// classify сверяет окно со списками приватности из конфига.
func (o *Observer) classify(title, process string) bool {
	t := strings.ToLower(title)
	p := strings.ToLower(process)
	for _, app := range o.cfg.PrivateApps {
		if app != "" && (strings.Contains(p, app) || strings.Contains(t, app)) {
			return true
		}
	}
	for _, kw := range o.cfg.PrivateTitles {
		if kw != "" && strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// Платформенная реализация — hook_windows.go
type keyHook interface {
	run(ctx context.Context, ready chan<- struct{}, out chan<- RawKeyEvent) error
}

func (o *Observer) publish(ev Event) {
	for {
		select {
		case o.out <- ev:
			return
		default:
		}
		// очередь переполнена потребителем — выбрасываем самое старое событие,
		// хук блокировать нельзя
		select {
		case <-o.out:
			if n := o.drops.Add(1); n%100 == 1 {
				o.logger.Warnw("Observer queue overflow", "dropped", n)
			}
		default:
		}
	}
}
