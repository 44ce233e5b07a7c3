package popup

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame — сообщение моста к рендереру оверлея. Сам рендеринг (HTML/CSS)
// живёт во внешнем процессе; здесь только транспорт.
type Frame struct {
	Op   string `json:"op"` // show|chunk|end|complete|hide|vision_prompt|explanation
	Text string `json:"text,omitempty"`
	X    int    `json:"x,omitempty"`
	Y    int    `json:"y,omitempty"`
}

// VisionInput — ответ рендерера с инструкцией, набранной в vision-промпте.
type VisionInput struct {
	Op   string `json:"op"` // vision_submit
	Text string `json:"text"`
}

// Bridge — локальный websocket-сервер, через который контроллер попапа
// стримит кадры в рендерер оверлея.
type Bridge struct {
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	visionIn chan string
	server   *http.Server
}

func NewBridge(addr string, logger *zap.SugaredLogger) *Bridge {
	b := &Bridge{
		logger:   logger,
		conns:    map[*websocket.Conn]struct{}{},
		visionIn: make(chan string, 4),
		upgrader: websocket.Upgrader{
			// мост слушает только loopback
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/overlay", b.handleOverlay)
	b.server = &http.Server{Addr: addr, Handler: mux}
	return b
}

// Run поднимает сервер моста и живёт до отмены контекста.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.server.Shutdown(shutdownCtx)
	}()
	err := b.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// VisionInputs — инструкции, набранные пользователем в vision-промпте.
func (b *Bridge) VisionInputs() <-chan string { return b.visionIn }

func (b *Bridge) handleOverlay(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warnw("Overlay upgrade failed", "error", err)
		return
	}
	b.mu.Lock()
	b.conns[conn] = struct{}{}
	b.mu.Unlock()
	b.logger.Infow("Overlay renderer connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var in VisionInput
		if json.Unmarshal(data, &in) == nil && in.Op == "vision_submit" {
			select {
			case b.visionIn <- in.Text:
			default:
			}
		}
	}

	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	_ = conn.Close()
}

// Send рассылает кадр всем подключённым рендерерам.
func (b *Bridge) Send(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		if err := conn.WriteJSON(f); err != nil {
			delete(b.conns, conn)
			_ = conn.Close()
		}
	}
}
