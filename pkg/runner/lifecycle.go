package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDrainTimeout = errors.New("drain timeout")
	ErrInvalidState = errors.New("invalid state transition")
)

// LifecycleRunner runs a single job. Cancelling the parent context or
// calling Stop first asks the drainer to finish the job gracefully and only
// cancels the job's context once the drain timeout elapses.
type LifecycleRunner struct {
	state    int32
	stopCh   chan struct{}
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	timeout  time.Duration
	banner   io.Writer
}

var _ Runner = (*LifecycleRunner)(nil)

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		state:   int32(StateNew),
		stopCh:  make(chan struct{}),
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
}

// WithBanner sets where the startup banner goes.
func (r *LifecycleRunner) WithBanner(w io.Writer) *LifecycleRunner {
	r.banner = w
	return r
}

func (r *LifecycleRunner) Run(ctx context.Context, job Job) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	PrintBanner(r.banner)
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	defer func() {
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	}()

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	done := make(chan error, 1)
	r.setState(StateRunning)
	go func() { done <- job(jobCtx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	case <-r.stopCh:
	}

	r.setState(StateDraining)
	if r.drainer != nil {
		_ = r.drainer.Drain()
	}
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(ErrDrainTimeout, err)
	}
	return ErrDrainTimeout
}

func (r *LifecycleRunner) Stop() {
	r.onceStop.Do(func() { close(r.stopCh) })
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
