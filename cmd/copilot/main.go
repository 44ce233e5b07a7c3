// copilot — фоновый демон «машинописного помощника»: глобальный хук
// клавиатуры, распознавание триггеров, стриминг генерации в попап у курсора
// или авто-инжекция в активное окно.
//
// Коды выхода: 0 — чисто; 1 — не встал хук; 2 — кривой конфиг;
// 3 — супервизор сдался на обязательном ребёнке.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"TypingCopilot/internal/buffer"
	"TypingCopilot/internal/config"
	"TypingCopilot/internal/hotkeys"
	"TypingCopilot/internal/inject"
	"TypingCopilot/internal/keylog"
	"TypingCopilot/internal/keystore"
	"TypingCopilot/internal/notify"
	"TypingCopilot/internal/observer"
	"TypingCopilot/internal/orchestrator"
	"TypingCopilot/internal/popup"
	"TypingCopilot/internal/prompts"
	"TypingCopilot/internal/settings"
	"TypingCopilot/internal/supervisor"
	"TypingCopilot/internal/trigger"
	"TypingCopilot/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.NewConfig()
	logger := newLogger(cfg)
	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	sugar.Infow("Starting copilot daemon", "DebugMode", cfg.DebugMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ключи провайдеров: расшифровать и отдать окружению до запуска воркера
	ks := keystore.New(cfg.ConfigDir, sugar)
	keys, err := ks.Load()
	if err != nil {
		sugar.Errorw("Key store unreadable", "error", err)
		return 2
	}
	ks.Apply(keys)
	// модель по умолчанию уезжает воркеру через окружение
	_ = os.Setenv("WORKER_MODEL", cfg.WorkerModel)
	for _, name := range prompts.EnvKeys() {
		if name == "OPENAI_API_KEY" && !config.IsSet(os.Getenv(name)) {
			// стартуем всё равно; AI-триггеры оживут после настройки ключа
			sugar.Warnw("Provider key is not set, AI triggers unavailable", "env", name)
		}
	}

	store, err := settings.NewStore(cfg.ConfigDir, sugar)
	if err != nil {
		sugar.Errorw("Settings store failed", "error", err)
		return 2
	}
	snap := store.Get()

	registry, err := hotkeys.New(cfg, sugar)
	if err != nil {
		sugar.Errorw("Hotkey bindings invalid", "error", err)
		return 2
	}

	// Наблюдатель и единая задача буфера/триггеров
	gate := observer.NewEchoGate()
	obs := observer.New(cfg, gate, sugar)
	if err := obs.Start(ctx); err != nil {
		sugar.Errorw("Keyboard hook failed", "error", err)
		if errors.Is(err, observer.ErrHookInstall) {
			return 1
		}
		return 2
	}

	var sink trigger.KeySink
	if cfg.KeylogEnabled {
		klog := keylog.New(filepath.Join(cfg.ConfigDir, cfg.KeylogPath), cfg.KeylogPause, sugar)
		go klog.Run(ctx)
		sink = klog
	}

	recEvents := make(chan observer.Event, cfg.QueueCap)
	recHotkeys := make(chan trigger.HotkeyCommand, 16)
	buf := buffer.New(cfg.BufferCap)
	rec := trigger.New(cfg, buf, recEvents, recHotkeys, sink, sugar)
	rec.SetLiveMode(snap.LiveMode)
	rec.SetEnabled(snap.MasterEnabled)

	// Дети: AI-воркер под супервизором, инжектор на вызов
	sup := supervisor.New(cfg, sugar)
	wc := worker.NewClient(sugar, func(error) { sup.Kick("aiworker") })
	injector := inject.NewClient(cfg, gate, sugar)

	bridge := popup.NewBridge(cfg.PopupBridgeAddr, sugar)
	pop := popup.NewController(cfg, bridge, sugar)
	go func() {
		if err := pop.Run(ctx); err != nil {
			sugar.Warnw("Popup bridge stopped", "error", err)
		}
	}()

	toaster := notify.NewToaster(sugar, true)
	orch := orchestrator.New(cfg, store, wc, injector, pop, rec, toaster,
		rec.Triggers(), pop.VisionInputs(), sugar)

	voice := newVoiceHelper(cfg, sugar)
	orch.VoiceStart = voice.start
	orch.VoiceStop = voice.stop
	orch.OpenSettings = func() {
		toaster.Alert("Typing copilot", "Settings file: "+filepath.Join(cfg.ConfigDir, "settings.json"))
	}

	// Мастер-переключатель останавливает воркера и гасит backoff
	workerEnabled := make(chan bool, 4)
	orch.OnMasterChange = func(enabled bool) { workerEnabled <- enabled }

	var wg sync.WaitGroup
	gaveUp := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		runWorkerSupervised(ctx, cfg, sup, wc, orch, workerEnabled, snap.MasterEnabled, sugar, gaveUp)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := registry.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("Hotkey listener stopped", "error", err)
		}
	}()

	// Маршрутизация: события наблюдателя и хоткеи → распознаватель и оркестратор
	wg.Add(1)
	go func() {
		defer wg.Done()
		route(ctx, obs, registry, recEvents, recHotkeys, orch)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("Recognizer stopped", "error", err)
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-gaveUp:
		sugar.Errorw("Required child is unrecoverable, shutting down")
		stop()
		wg.Wait()
		return 3
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			sugar.Errorw("Orchestrator stopped", "error", err)
		}
	}
	wg.Wait()
	sugar.Infow("Copilot daemon stopped")
	return 0
}

// route разводит события: поток наблюдателя идёт распознавателю целиком,
// а Escape, смена фокуса и отпускание голосовой клавиши дублируются
// оркестратору как команды.
func route(
	ctx context.Context,
	obs *observer.Observer,
	registry *hotkeys.Registry,
	recEvents chan<- observer.Event,
	recHotkeys chan<- trigger.HotkeyCommand,
	orch *orchestrator.Orchestrator,
) {
	voiceVK := registry.VoiceVK()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-obs.Events():
			if !ok {
				return
			}
			switch {
			case ev.Type == observer.EventFocusChange:
				orch.Controls() <- orchestrator.ControlFocusChange
			case ev.Type == observer.EventKey && !ev.Key.Injected:
				if ev.Key.Kind == observer.KeyEscape && ev.Key.Down {
					orch.Controls() <- orchestrator.ControlEscape
				}
				if voiceVK != 0 && ev.Key.VK == voiceVK && !ev.Key.Down {
					orch.Controls() <- orchestrator.ControlVoiceUp
				}
			}
			select {
			case recEvents <- ev:
			case <-ctx.Done():
				return
			}
		case cmd := <-registry.Commands():
			switch cmd {
			case trigger.HotkeyGenerate, trigger.HotkeyClipboard, trigger.HotkeyScreenshot:
				recHotkeys <- cmd
			case trigger.HotkeyPaste:
				orch.Controls() <- orchestrator.ControlPaste
			case trigger.HotkeyCancel:
				orch.Controls() <- orchestrator.ControlCancel
			case trigger.HotkeyToggle:
				orch.Controls() <- orchestrator.ControlToggle
			case trigger.HotkeyPauseResume:
				orch.Controls() <- orchestrator.ControlPauseResume
			case trigger.HotkeyVoiceDown:
				orch.Controls() <- orchestrator.ControlVoiceDown
			case trigger.HotkeySettings:
				orch.Controls() <- orchestrator.ControlSettings
			}
		}
	}
}

// runWorkerSupervised держит AI-воркера живым, пока включён мастер.
func runWorkerSupervised(
	ctx context.Context,
	cfg *config.Config,
	sup *supervisor.Supervisor,
	wc *worker.Client,
	orch *orchestrator.Orchestrator,
	enabledCh <-chan bool,
	enabled bool,
	sugar *zap.SugaredLogger,
	gaveUp chan<- struct{},
) {
	child := &supervisor.Child{
		Name:    "aiworker",
		Command: cfg.WorkerCommand,
		OnAttach: func(stdin io.WriteCloser, stdout io.Reader) {
			wc.Attach(stdin, stdout)
		},
		OnDown: func(reason error) { orch.WorkerDown(reason) },
	}

	for {
		for !enabled {
			select {
			case <-ctx.Done():
				return
			case enabled = <-enabledCh:
			}
		}

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- sup.Run(runCtx, child) }()

	wait:
		for {
			select {
			case <-ctx.Done():
				cancel()
				<-done
				return
			case enabled = <-enabledCh:
				if !enabled {
					// мастер выключен: мирно гасим воркера и таймер backoff
					sugar.Infow("Worker supervision paused by master switch")
					wc.Shutdown()
					cancel()
					<-done
					break wait
				}
			case err := <-done:
				cancel()
				if errors.Is(err, supervisor.ErrGaveUp) {
					select {
					case gaveUp <- struct{}{}:
					default:
					}
					return
				}
				break wait
			}
		}
	}
}

// voiceHelper управляет внешним процессом голосового ввода (hold-to-talk).
type voiceHelper struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	mu     sync.Mutex
	cmd    *exec.Cmd
}

func newVoiceHelper(cfg *config.Config, logger *zap.SugaredLogger) *voiceHelper {
	return &voiceHelper{cfg: cfg, logger: logger}
}

func (v *voiceHelper) start() {
	if v.cfg.VoiceCommand == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cmd != nil {
		return // автоповтор зажатой клавиши
	}
	cmd := exec.Command(v.cfg.VoiceCommand)
	if err := cmd.Start(); err != nil {
		v.logger.Warnw("Voice helper failed to start", "error", err)
		return
	}
	v.cmd = cmd
}

func (v *voiceHelper) stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cmd == nil {
		return
	}
	_ = v.cmd.Process.Signal(os.Interrupt)
	go v.cmd.Wait()
	v.cmd = nil
}

// newLogger собирает регистратор: консоль в дебаге, ротация файла через
// lumberjack в проде.
func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.LogFile == "" {
		if cfg.DebugMode {
			l, _ := zap.NewDevelopment()
			return l
		}
		l, _ := zap.NewProduction()
		return l
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // МБ
		MaxBackups: 3,
		MaxAge:     14, // дней
		Compress:   true,
	})
	level := zapcore.InfoLevel
	if cfg.DebugMode {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		writer,
		level,
	)
	return zap.New(core)
}
