// Package hotkeys регистрирует глобальные хоткеи через скрытое окно и
// транслирует WM_HOTKEY в команды. Привязки пользовательские, дефолты
// берутся из конфига.
package hotkeys

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"TypingCopilot/internal/config"
	"TypingCopilot/internal/trigger"
)

// Registry держит таблицу id → команда и платформенный слушатель.
type Registry struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	out    chan trigger.HotkeyCommand

	bindings map[int32]boundHotkey
	voiceVK  uint32
}

type boundHotkey struct {
	cmd  trigger.HotkeyCommand
	bind Binding
}

func New(cfg *config.Config, logger *zap.SugaredLogger) (*Registry, error) {
	r := &Registry{
		cfg:      cfg,
		logger:   logger,
		out:      make(chan trigger.HotkeyCommand, 16),
		bindings: map[int32]boundHotkey{},
	}

	specs := []struct {
		spec string
		cmd  trigger.HotkeyCommand
	}{
		{cfg.HotkeyGenerate, trigger.HotkeyGenerate},
		{cfg.HotkeyClipboard, trigger.HotkeyClipboard},
		{cfg.HotkeyScreenshot, trigger.HotkeyScreenshot},
		{cfg.HotkeyVoice, trigger.HotkeyVoiceDown},
		{cfg.HotkeyToggle, trigger.HotkeyToggle},
		{cfg.HotkeyPaste, trigger.HotkeyPaste},
		{cfg.HotkeyCancel, trigger.HotkeyCancel},
		{cfg.HotkeyPause, trigger.HotkeyPauseResume},
		{cfg.HotkeySettings, trigger.HotkeySettings},
	}
	id := int32(1)
	for _, s := range specs {
		b, err := Parse(s.spec)
		if err != nil {
			return nil, fmt.Errorf("hotkeys: bad binding %q: %w", s.spec, err)
		}
		r.bindings[id] = boundHotkey{cmd: s.cmd, bind: b}
		if s.cmd == trigger.HotkeyVoiceDown {
			r.voiceVK = b.VK
		}
		id++
	}
	return r, nil
}

// Commands — поток команд для маршрутизации в распознаватель и оркестратор.
func (r *Registry) Commands() <-chan trigger.HotkeyCommand { return r.out }

// VoiceVK — клавиша голосового хоткея; отпускание ловит наблюдатель (hold-to-talk).
func (r *Registry) VoiceVK() uint32 { return r.voiceVK }

// Run регистрирует хоткеи и живёт до отмены контекста.
func (r *Registry) Run(ctx context.Context) error {
	return r.listen(ctx)
}

func (r *Registry) dispatch(id int32) {
	bound, ok := r.bindings[id]
	if !ok {
		return
	}
	select {
	case r.out <- bound.cmd:
	default:
		r.logger.Warnw("Hotkey dropped, command queue full", "id", id)
	}
}
