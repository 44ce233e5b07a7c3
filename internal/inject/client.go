package inject

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"TypingCopilot/internal/config"
	"TypingCopilot/internal/observer"
)

// FailedError — окончательный отказ инжекции. Текст ответа кладётся в ошибку,
// чтобы пользователю было где его забрать.
type FailedError struct {
	Text   string
	Reason error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("inject: delivery failed (%v); text preserved in payload", e.Reason)
}

func (e *FailedError) Unwrap() error { return e.Reason }

// Client — канал «удалить N символов и напечатать замену». Одна инжекция
// за раз; на время печати открывается окно подавления эха.
type Client struct {
	cfg    *config.Config
	gate   *observer.EchoGate
	logger *zap.SugaredLogger

	mu sync.Mutex

	// заменяются в тестах
	run            func(ctx context.Context, name string, args ...string) error
	paste          func() error
	writeClipboard func(string) error
}

func NewClient(cfg *config.Config, gate *observer.EchoGate, logger *zap.SugaredLogger) *Client {
	c := &Client{cfg: cfg, gate: gate, logger: logger}
	c.run = func(ctx context.Context, name string, args ...string) error {
		return exec.CommandContext(ctx, name, args...).Run()
	}
	c.paste = pasteKeystroke
	c.writeClipboard = clipboard.WriteAll
	return c
}

// Inject стирает backspaces символов и печатает text. При отказе ОС-инжекции
// падаем на буфер обмена + синтетический Ctrl+V; если и он недоступен —
// FailedError с текстом внутри.
func (c *Client) Inject(ctx context.Context, text string, backspaces int, humanize bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	closeGate := c.gate.Open()
	defer closeGate()

	args := []string{Escape(text)}
	if backspaces > 0 {
		args = append(args, "--backspace", strconv.Itoa(backspaces))
	}
	if humanize {
		args = append(args, "--humanize")
	}
	if c.cfg.TabAsSpaces > 0 {
		args = append(args, "--tab-spaces", strconv.Itoa(c.cfg.TabAsSpaces))
	}

	err := c.run(ctx, c.cfg.InjectorCommand, args...)
	if err == nil {
		return nil
	}
	c.logger.Warnw("Injector failed, falling back to clipboard paste", "error", err)

	// Фолбэк: текст в буфер обмена + синтетическая вставка.
	// Стереть подсказку без инжектора уже нечем, поэтому только вставка.
	if clipErr := c.writeClipboard(text); clipErr != nil {
		return &FailedError{Text: text, Reason: fmt.Errorf("clipboard unavailable: %w", clipErr)}
	}
	if pasteErr := c.paste(); pasteErr != nil {
		return &FailedError{Text: text, Reason: fmt.Errorf("paste keystroke: %w", pasteErr)}
	}
	return nil
}
