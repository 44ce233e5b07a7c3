// Package keylog — отладочный журнал набранного текста: записи фиксируются
// после паузы набора, файл ограничен последними 500 записями по 2000 символов.
package keylog

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxEntries     = 500
	maxEntryLength = 2000
	maxWindowLen   = 200
)

// Entry — одна зафиксированная запись журнала.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	Window    string `json:"window"`
}

// Log накапливает текст и сбрасывает его в JSON-файл после паузы.
// Реализует trigger.KeySink.
type Log struct {
	path   string
	pause  time.Duration
	logger *zap.SugaredLogger

	mu          sync.Mutex
	pendingText []rune
	pendingWin  string
	lastKeyAt   time.Time
}

func New(path string, pause time.Duration, logger *zap.SugaredLogger) *Log {
	if pause <= 0 {
		pause = time.Second
	}
	return &Log{path: path, pause: pause, logger: logger}
}

// Run периодически проверяет паузу набора и фиксирует накопленное.
func (l *Log) Run(ctx context.Context) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Flush()
			return
		case <-t.C:
			l.flushIfPaused()
		}
	}
}

// AppendChar добавляет символ в накапливаемую запись.
func (l *Log) AppendChar(ch string, window string) {
	l.mu.Lock()
	if len(l.pendingText) >= maxEntryLength {
		text, win := l.takeLocked()
		l.mu.Unlock()
		l.save(text, win)
		l.mu.Lock()
	}
	l.pendingText = append(l.pendingText, []rune(ch)...)
	l.pendingWin = window
	l.lastKeyAt = time.Now()
	l.mu.Unlock()
}

// Backspace убирает последний символ из накапливаемой записи.
func (l *Log) Backspace() {
	l.mu.Lock()
	if len(l.pendingText) > 0 {
		l.pendingText = l.pendingText[:len(l.pendingText)-1]
	}
	l.lastKeyAt = time.Now()
	l.mu.Unlock()
}

// Flush немедленно фиксирует накопленное (смена окна, выключение).
func (l *Log) Flush() {
	l.mu.Lock()
	text, win := l.takeLocked()
	l.mu.Unlock()
	l.save(text, win)
}

// Clear стирает файл журнала по требованию пользователя.
func (l *Log) Clear() error {
	l.mu.Lock()
	l.pendingText = l.pendingText[:0]
	l.mu.Unlock()
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *Log) flushIfPaused() {
	l.mu.Lock()
	if len(l.pendingText) == 0 || time.Since(l.lastKeyAt) < l.pause {
		l.mu.Unlock()
		return
	}
	text, win := l.takeLocked()
	l.mu.Unlock()
	l.save(text, win)
}

func (l *Log) takeLocked() (string, string) {
	text := string(l.pendingText)
	win := l.pendingWin
	l.pendingText = l.pendingText[:0]
	return text, win
}

func (l *Log) save(text, window string) {
	if text == "" {
		return
	}
	if len([]rune(text)) > maxEntryLength {
		text = string([]rune(text)[:maxEntryLength])
	}
	if len([]rune(window)) > maxWindowLen {
		window = string([]rune(window)[:maxWindowLen])
	}

	entries := l.read()
	entries = append(entries, Entry{
		Timestamp: time.Now().Format(time.RFC3339),
		Text:      text,
		Window:    window,
	})
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		l.logger.Errorw("Failed to marshal keylog", "error", err)
		return
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		l.logger.Errorw("Failed to write keylog", "path", l.path, "error", err)
	}
}

func (l *Log) read() []Entry {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	var entries []Entry
	if json.Unmarshal(data, &entries) != nil {
		return nil
	}
	return entries
}
