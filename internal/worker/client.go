package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable — воркер не запущен или не подтвердил готовность.
	ErrUnavailable = errors.New("worker: unavailable")
	// ErrGone — канал к воркеру оборвался с незавершёнными запросами.
	ErrGone = errors.New("worker: channel closed mid-request")
)

// Chunk — единица стриминга, доставляемая сессии.
type Chunk struct {
	Text        string
	Final       bool
	Explanation string
	Err         error
}

// ProtocolErrorHandler вызывается при мусоре в канале: супервизор должен
// убить и перезапустить воркера.
type ProtocolErrorHandler func(err error)

// Client демультиплексирует стриминговые ответы воркера по correlation id.
// Чанки одного id приходят строго по порядку; разные id перемежаются.
type Client struct {
	logger  *zap.SugaredLogger
	onProto ProtocolErrorHandler

	mu       sync.Mutex
	stdin    io.Writer
	sessions map[string]chan Chunk
	started  chan struct{}
	pongs    chan struct{}

	available atomic.Bool
}

func NewClient(logger *zap.SugaredLogger, onProto ProtocolErrorHandler) *Client {
	return &Client{
		logger:   logger,
		onProto:  onProto,
		sessions: make(map[string]chan Chunk),
		started:  make(chan struct{}),
		pongs:    make(chan struct{}, 4),
	}
}

// Available сообщает, готов ли воркер принимать запросы.
func (c *Client) Available() bool { return c.available.Load() }

// Attach подключает клиент к каналам свежезапущенного процесса воркера.
// Читатель живёт до EOF; при обрыве все незавершённые сессии получают ErrGone.
func (c *Client) Attach(stdin io.Writer, stdout io.Reader) {
	c.mu.Lock()
	c.stdin = stdin
	c.started = make(chan struct{})
	c.mu.Unlock()
	go c.readLoop(stdout)
}

// Ready ждёт строку {event:"started"} от воркера.
func (c *Client) Ready(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	select {
	case <-started:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrUnavailable, context.Cause(ctx))
	}
}

// Generate отправляет запрос и возвращает канал чанков этой сессии.
// Таймауты — забота вызывающего: у каждого correlation id один владелец времени.
func (c *Client) Generate(id, prompt string, ctxMap map[string]string, streaming bool) (<-chan Chunk, error) {
	if !c.available.Load() {
		return nil, ErrUnavailable
	}
	ch := make(chan Chunk, 64)
	c.mu.Lock()
	c.sessions[id] = ch
	c.mu.Unlock()

	err := c.send(Command{Cmd: "generate", ID: id, Prompt: prompt, Context: ctxMap, Streaming: streaming})
	if err != nil {
		c.drop(id)
		return nil, err
	}
	return ch, nil
}

// Cancel шлёт best-effort отмену: воркер может ещё прислать чанки,
// они будут выброшены после drop.
func (c *Client) Cancel(id string) {
	_ = c.send(Command{Cmd: "cancel", ID: id})
	c.drop(id)
}

// Ping посылает пробу и ждёт pong.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.send(Command{Cmd: "ping"}); err != nil {
		return err
	}
	select {
	case <-c.pongs:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Shutdown просит воркера завершиться мирно.
func (c *Client) Shutdown() {
	_ = c.send(Command{Cmd: "shutdown"})
}

func (c *Client) send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin == nil {
		return ErrUnavailable
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *Client) drop(id string) {
	c.mu.Lock()
	if ch, ok := c.sessions[id]; ok {
		delete(c.sessions, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	// чанки бывают длинными — стандартных 64К может не хватить
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev WireEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			c.failProtocol(fmt.Errorf("worker: bad frame %q: %w", string(line), err))
			return
		}
		c.dispatch(ev)
	}

	// EOF или ошибка чтения: процесс умер
	c.available.Store(false)
	c.failInflight(ErrGone)
}

func (c *Client) dispatch(ev WireEvent) {
	switch ev.Event {
	case "started":
		c.logger.Infow("AI worker ready", "pid", ev.PID, "success", ev.Success)
		if ev.Success {
			c.available.Store(true)
		}
		c.mu.Lock()
		select {
		case <-c.started:
		default:
			close(c.started)
		}
		c.mu.Unlock()
	case "chunk":
		c.deliver(ev.ID, Chunk{Text: ev.Text, Final: ev.Final, Explanation: ev.Explanation})
		if ev.Final {
			c.drop(ev.ID)
		}
	case "complete":
		// нестриминговый ответ одним куском
		c.deliver(ev.ID, Chunk{Text: ev.Text, Final: true})
		c.drop(ev.ID)
	case "error":
		if ev.ID == "" {
			c.logger.Errorw("AI worker error", "message", ev.Message)
			return
		}
		c.deliver(ev.ID, Chunk{Err: errors.New(ev.Message)})
		c.drop(ev.ID)
	case "pong":
		select {
		case c.pongs <- struct{}{}:
		default:
		}
	default:
		c.failProtocol(fmt.Errorf("worker: unknown event %q", ev.Event))
	}
}

func (c *Client) deliver(id string, chunk Chunk) {
	c.mu.Lock()
	ch, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		// сессия уже отменена/закрыта — поздние чанки выбрасываем
		return
	}
	select {
	case ch <- chunk:
	default:
		c.logger.Warnw("Session chunk queue overflow", "id", id)
	}
}

func (c *Client) failInflight(err error) {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]chan Chunk)
	c.mu.Unlock()
	for id, ch := range sessions {
		select {
		case ch <- Chunk{Err: err}:
		default:
		}
		close(ch)
		c.logger.Warnw("In-flight session failed", "id", id, "error", err)
	}
}

// failProtocol: мусор в канале фатален для процесса воркера целиком.
func (c *Client) failProtocol(err error) {
	c.logger.Errorw("Worker protocol violation", "error", err)
	c.available.Store(false)
	c.failInflight(err)
	if c.onProto != nil {
		c.onProto(err)
	}
}
