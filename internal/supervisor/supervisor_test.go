package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"TypingCopilot/internal/config"
)

type fakeProcess struct {
	waitCh chan error
	killed atomic.Bool
}

func (p *fakeProcess) Wait() error { return <-p.waitCh }
func (p *fakeProcess) Kill() {
	p.killed.Store(true)
	select {
	case p.waitCh <- errors.New("killed"):
	default:
	}
}

func newTestSupervisor(t *testing.T, mutate func(*config.Config)) *Supervisor {
	cfg := config.Defaults()
	cfg.RestartBackoffBase = time.Millisecond
	cfg.RestartBackoffCap = 4 * time.Millisecond
	cfg.RestartMax = 3
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg, zap.NewNop().Sugar())
}

func TestNextBackoffDoublesToCap(t *testing.T) {
	assert.Equal(t, 4*time.Second, nextBackoff(2*time.Second, 30*time.Second))
	assert.Equal(t, 16*time.Second, nextBackoff(8*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(16*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(30*time.Second, 30*time.Second))
}

func TestGivesUpAfterBudget(t *testing.T) {
	s := newTestSupervisor(t, nil)

	var spawns atomic.Int32
	s.start = func(context.Context, *Child) (process, error) {
		spawns.Add(1)
		p := &fakeProcess{waitCh: make(chan error, 1)}
		p.waitCh <- errors.New("exit 1") // мгновенная смерть
		return p, nil
	}

	err := s.Run(context.Background(), &Child{Name: "worker"})
	require.ErrorIs(t, err, ErrGaveUp)
	// бюджет 3 перезапуска: исходный запуск + перезапуски до отказа
	assert.LessOrEqual(t, spawns.Load(), int32(4))
}

func TestSingleInstanceAtATime(t *testing.T) {
	s := newTestSupervisor(t, func(cfg *config.Config) { cfg.RestartMax = 100 })

	var alive atomic.Int32
	var violated atomic.Bool
	s.start = func(context.Context, *Child) (process, error) {
		if alive.Add(1) > 1 {
			violated.Store(true)
		}
		p := &fakeProcess{waitCh: make(chan error, 1)}
		go func() {
			time.Sleep(2 * time.Millisecond)
			alive.Add(-1)
			p.waitCh <- errors.New("exit")
		}()
		return p, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx, &Child{Name: "solo"})
	// Свойство 7: второй экземпляр никогда не живёт одновременно с первым
	assert.False(t, violated.Load())
}

func TestOnDownCalledBetweenRestarts(t *testing.T) {
	s := newTestSupervisor(t, nil)

	var downs atomic.Int32
	s.start = func(context.Context, *Child) (process, error) {
		p := &fakeProcess{waitCh: make(chan error, 1)}
		p.waitCh <- errors.New("boom")
		return p, nil
	}
	_ = s.Run(context.Background(), &Child{
		Name:   "w",
		OnDown: func(error) { downs.Add(1) },
	})
	assert.Positive(t, downs.Load())
}

func TestKickKillsCurrent(t *testing.T) {
	s := newTestSupervisor(t, func(cfg *config.Config) { cfg.RestartMax = 1 })

	procs := make(chan *fakeProcess, 8)
	s.start = func(context.Context, *Child) (process, error) {
		p := &fakeProcess{waitCh: make(chan error, 1)}
		procs <- p
		return p, nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), &Child{Name: "k"}) }()

	first := <-procs
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.current["k"] != nil
	}, time.Second, time.Millisecond)

	s.Kick("k")
	assert.Eventually(t, func() bool { return first.killed.Load() }, time.Second, time.Millisecond)

	// добиваем перезапущенный экземпляр, чтобы исчерпать бюджет и завершить Run
	second := <-procs
	second.Kill()
	require.ErrorIs(t, <-done, ErrGaveUp)
}

func TestStopsOnContextCancel(t *testing.T) {
	s := newTestSupervisor(t, nil)
	s.start = func(ctx context.Context, _ *Child) (process, error) {
		p := &fakeProcess{waitCh: make(chan error, 1)}
		go func() {
			<-ctx.Done()
			p.waitCh <- ctx.Err()
		}()
		return p, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, &Child{Name: "c"}) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop")
	}
}
