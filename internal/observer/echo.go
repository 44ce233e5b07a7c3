package observer

import (
	"sync"
	"time"
)

// EchoGate — окно подавления эха. Пока окно открыто, синтетические нажатия
// инжектора не попадают в буфер и не порождают триггеры.
// Удержание (Open/close) используется инжектором на время печати; короткое
// окно по таймеру (OpenFor) страхует хвост событий после завершения печати.
type EchoGate struct {
	mu    sync.Mutex
	holds int
	until time.Time
}

func NewEchoGate() *EchoGate { return &EchoGate{} }

// Open открывает окно на время операции; закрывать возвращённой функцией.
func (g *EchoGate) Open() func() {
	g.mu.Lock()
	g.holds++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.holds--
			// Хвостовое окно: события, доставленные хуком после закрытия,
			// всё ещё считаются эхом
			tail := time.Now().Add(150 * time.Millisecond)
			if tail.After(g.until) {
				g.until = tail
			}
			g.mu.Unlock()
		})
	}
}

// OpenFor открывает окно на фиксированный срок.
func (g *EchoGate) OpenFor(d time.Duration) {
	g.mu.Lock()
	deadline := time.Now().Add(d)
	if deadline.After(g.until) {
		g.until = deadline
	}
	g.mu.Unlock()
}

// Active сообщает, открыто ли окно сейчас.
func (g *EchoGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holds > 0 || time.Now().Before(g.until)
}
