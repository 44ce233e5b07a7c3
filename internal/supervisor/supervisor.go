package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"TypingCopilot/internal/config"
)

// ErrGaveUp — ребёнок падает слишком часто, супервизор прекращает попытки.
var ErrGaveUp = errors.New("supervisor: restart budget exhausted")

// Child — управляемый дочерний процесс.
type Child struct {
	Name    string
	Command string
	Args    []string

	// OnAttach вызывается после каждого запуска со свежими каналами процесса
	OnAttach func(stdin io.WriteCloser, stdout io.Reader)
	// OnDown вызывается, когда ребёнок умер и ещё не перезапущен
	OnDown func(reason error)
	// OnUp вызывается после успешного запуска
	OnUp func()
}

type process interface {
	Wait() error
	Kill()
}

// Supervisor перезапускает детей с экспоненциальным backoff.
// Перезапуски считаются сериями: счётчик ребёнка живёт в ttl-кеше, каждый
// перезапуск продлевает его, и серия истекает через RestartWindow после
// последнего перезапуска. Это не скользящее окно по отдельным перезапускам.
type Supervisor struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	restarts *ttlcache.Cache[string, int]

	mu      sync.Mutex
	current map[string]process

	// заменяется в тестах
	start func(ctx context.Context, child *Child) (process, error)
}

func New(cfg *config.Config, logger *zap.SugaredLogger) *Supervisor {
	window := cfg.RestartWindow
	if window <= 0 {
		window = 10 * time.Minute
	}
	s := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		restarts: ttlcache.New[string, int](ttlcache.WithTTL[string, int](window)),
		current:  map[string]process{},
	}
	s.start = s.startExec
	go s.restarts.Start()
	return s
}

// Run держит ребёнка живым до отмены контекста или исчерпания бюджета
// перезапусков. Одновременно работает не больше одного экземпляра.
func (s *Supervisor) Run(ctx context.Context, child *Child) error {
	backoff := s.cfg.RestartBackoffBase
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	for {
		proc, err := s.start(ctx, child)
		if err != nil {
			s.logger.Errorw("Failed to spawn child", "name", child.Name, "error", err)
		} else {
			s.setCurrent(child.Name, proc)
			if child.OnUp != nil {
				child.OnUp()
			}
			startedAt := time.Now()
			waitErr := proc.Wait()
			s.setCurrent(child.Name, nil)

			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			s.logger.Warnw("Child exited", "name", child.Name, "error", waitErr, "uptime", time.Since(startedAt).String())
			if child.OnDown != nil {
				child.OnDown(waitErr)
			}
			// долгий аптайм обнуляет серию и backoff
			if time.Since(startedAt) > time.Minute {
				s.restarts.Delete(child.Name)
				backoff = s.cfg.RestartBackoffBase
			}
		}

		if s.bumpRestarts(child.Name) > s.maxRestarts() {
			s.logger.Errorw("Giving up on child", "name", child.Name, "maxRestarts", s.maxRestarts())
			return ErrGaveUp
		}

		s.logger.Infow("Restarting child", "name", child.Name, "backoff", backoff.String())
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return context.Cause(ctx)
		case <-t.C:
		}
		backoff = nextBackoff(backoff, s.capBackoff())
	}
}

// Kick убивает текущий экземпляр ребёнка (например, при мусоре в протоколе);
// цикл Run перезапустит его по обычной политике.
func (s *Supervisor) Kick(name string) {
	s.mu.Lock()
	proc := s.current[name]
	s.mu.Unlock()
	if proc != nil {
		proc.Kill()
	}
}

func (s *Supervisor) setCurrent(name string, proc process) {
	s.mu.Lock()
	if proc == nil {
		delete(s.current, name)
	} else {
		s.current[name] = proc
	}
	s.mu.Unlock()
}

func (s *Supervisor) bumpRestarts(name string) int {
	count := 1
	if item := s.restarts.Get(name); item != nil {
		count = item.Value() + 1
	}
	s.restarts.Set(name, count, ttlcache.DefaultTTL)
	return count
}

func (s *Supervisor) maxRestarts() int {
	if s.cfg.RestartMax > 0 {
		return s.cfg.RestartMax
	}
	return 5
}

func (s *Supervisor) capBackoff() time.Duration {
	if s.cfg.RestartBackoffCap > 0 {
		return s.cfg.RestartBackoffCap
	}
	return 30 * time.Second
}

// nextBackoff удваивает задержку до потолка.
func nextBackoff(prev, ceil time.Duration) time.Duration {
	next := prev * 2
	if next > ceil {
		return ceil
	}
	return next
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

func (s *Supervisor) startExec(ctx context.Context, child *Child) (process, error) {
	cmd := exec.CommandContext(ctx, child.Command, child.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	s.logger.Infow("Child started", "name", child.Name, "pid", cmd.Process.Pid)

	// stderr ребёнка — в общий лог
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Warnw("Child stderr", "name", child.Name, "line", scanner.Text())
		}
	}()

	if child.OnAttach != nil {
		child.OnAttach(stdin, stdout)
	}
	return &execProcess{cmd: cmd}, nil
}
