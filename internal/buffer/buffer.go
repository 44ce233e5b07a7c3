package buffer

import (
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Buffer — потокобезопасный ограниченный буфер набранного текста.
// Хранит текст в NFC; raw-счётчик считает логические вставки символов,
// а не длину строки (склейка комбинируемых знаков — одна вставка).
type Buffer struct {
	mu        sync.Mutex
	cap       int
	runes     []rune
	rawCount  int
	truncated int // счётчик усечений при переполнении, для отладки
}

// Snapshot — неизменяемый срез состояния буфера на момент триггера.
type Snapshot struct {
	Text     string
	RawCount int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 16 * 1024
	}
	return &Buffer{cap: capacity, runes: make([]rune, 0, 256)}
}

// Append добавляет одну логическую вставку символа (возможно, несколько рун
// после dead-key композиции). Возвращает true, если буфер был усечён с головы.
func (b *Buffer) Append(ch string) bool {
	if ch == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runes = append(b.runes, []rune(ch)...)
	b.normalizeTail()
	b.rawCount++

	// Переполнение: усекаем с головы
	if len(b.runes) > b.cap {
		drop := len(b.runes) - b.cap
		b.runes = append(b.runes[:0], b.runes[drop:]...)
		b.truncated++
		return true
	}
	return false
}

// Backspace убирает по одному символу и по одной единице raw-счётчика, n раз.
func (b *Buffer) Backspace(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ; n > 0; n-- {
		if len(b.runes) > 0 {
			b.runes = b.runes[:len(b.runes)-1]
		}
		if b.rawCount > 0 {
			b.rawCount--
		}
	}
}

// Reset очищает буфер и raw-счётчик. Явная команда: выдаётся оркестратором
// после инжекции, при смене окна и при нажатии клавиш перемещения каретки.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.runes = b.runes[:0]
	b.rawCount = 0
	b.mu.Unlock()
}

// Snapshot атомарно снимает текущее состояние.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Text: string(b.runes), RawCount: b.rawCount}
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runes)
}

func (b *Buffer) RawCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rawCount
}

// Truncations возвращает число усечений с момента создания.
func (b *Buffer) Truncations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// normalizeTail приводит хвост буфера к NFC. Пересобирать всю строку на каждое
// нажатие незачем: комбинируемые знаки склеиваются в пределах короткого окна.
func (b *Buffer) normalizeTail() {
	const window = 8
	start := len(b.runes) - window
	if start < 0 {
		start = 0
	}
	tail := string(b.runes[start:])
	if norm.NFC.IsNormalString(tail) {
		return
	}
	fixed := []rune(norm.NFC.String(tail))
	b.runes = append(b.runes[:start], fixed...)
}

// HasText сообщает, есть ли в буфере непробельный текст.
func (b *Buffer) HasText() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.runes)) != ""
}
