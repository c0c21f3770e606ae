// Package loader drives annotated lifecycle hooks through the fixed phase
// sequence Init, Before, After, Last and then resolves the root component.
package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"game-framework/internal/annotation"
	"game-framework/internal/host"
	"game-framework/internal/metrics"
	"game-framework/internal/registry"

	"go.uber.org/zap"
)

const DefaultDoneChannel = "loader:done"

type Options struct {
	// PhaseTimeout bounds each phase; zero disables it.
	PhaseTimeout time.Duration
	// SettleDelay postpones the start when no WaitFor channel is set.
	SettleDelay time.Duration
	// DoneChannel carries the completion signal on the host bus.
	DoneChannel string
	Logger      *zap.Logger
}

type Loader struct {
	store     *annotation.Store
	container *registry.Container
	bus       host.Bus
	opts      Options
	logger    *zap.Logger

	mu        sync.Mutex
	waitFor   string
	started   bool
	completed bool
	callbacks []func()
	err       error

	finished   chan struct{}
	finishOnce sync.Once
	invoked    atomic.Int64
}

func New(store *annotation.Store, container *registry.Container, bus host.Bus, opts Options) *Loader {
	if opts.DoneChannel == "" {
		opts.DoneChannel = DefaultDoneChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		store:     store,
		container: container,
		bus:       bus,
		opts:      opts,
		logger:    logger,
		finished:  make(chan struct{}),
	}
}

// WaitFor defers the start until a signal is seen on channel. It has no effect
// once Bootstrap has been called.
func (l *Loader) WaitFor(channel string) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		l.waitFor = channel
	}
	return l
}

// Bootstrap snapshots the registered descriptors and runs them asynchronously.
// Only the first call has any effect.
func (l *Loader) Bootstrap(ctx context.Context, root *registry.Token) *Loader {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return l
	}
	l.started = true
	waitFor := l.waitFor
	l.mu.Unlock()

	queue := Queue(Descriptors(l.store))
	l.bus.Once(l.opts.DoneChannel, func(...any) { l.complete() })

	start := func() { go l.run(ctx, root, queue) }
	switch {
	case waitFor != "":
		l.logger.Info("bootstrap waiting for signal", zap.String("channel", waitFor))
		l.bus.Once(waitFor, func(...any) { start() })
	case l.opts.SettleDelay > 0:
		time.AfterFunc(l.opts.SettleDelay, start)
	default:
		start()
	}
	return l
}

// Done registers fn to run once bootstrap completes. Registering after
// completion runs fn immediately.
func (l *Loader) Done(fn func()) *Loader {
	l.mu.Lock()
	if l.completed {
		l.mu.Unlock()
		fn()
		return l
	}
	l.callbacks = append(l.callbacks, fn)
	l.mu.Unlock()
	return l
}

// Wait blocks until bootstrap completed or failed, or ctx is done.
func (l *Loader) Wait(ctx context.Context) error {
	select {
	case <-l.finished:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Invoked reports how many lifecycle hooks have returned successfully.
func (l *Loader) Invoked() int {
	return int(l.invoked.Load())
}

// ================= run =================

func (l *Loader) run(ctx context.Context, root *registry.Token, queue []Descriptor) {
	if err := ctx.Err(); err != nil {
		l.fail(err)
		return
	}
	l.logger.Info("bootstrap started", zap.Int("hooks", len(queue)))

	// Queue sorts unknown phases last; reject them before any hook runs.
	for _, d := range queue {
		if !d.Phase.Valid() {
			l.fail(&HookError{Phase: d.Phase, Target: d.TargetName, Method: d.Method, Err: ErrUnknownPhase})
			return
		}
	}

	if err := l.runPhases(ctx, queue); err != nil {
		l.fail(err)
		return
	}

	if err := l.container.AfterFirstResolution(root, func(any) {
		l.bus.Emit(l.opts.DoneChannel)
	}); err != nil {
		l.fail(err)
		return
	}
	if _, err := l.container.Resolve(root); err != nil {
		l.fail(fmt.Errorf("resolve root %s: %w", root, err))
	}
}

func (l *Loader) runPhases(ctx context.Context, queue []Descriptor) error {
	i := 0
	for _, phase := range canonicalOrder {
		j := i
		for j < len(queue) && queue[j].Phase == phase {
			j++
		}
		if j == i {
			continue
		}
		if err := l.runPhase(ctx, phase, queue[i:j]); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (l *Loader) runPhase(ctx context.Context, phase Phase, batch []Descriptor) error {
	started := time.Now()
	phaseCtx := ctx
	if l.opts.PhaseTimeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, l.opts.PhaseTimeout)
		defer cancel()
	}

	for _, d := range batch {
		if err := l.runHook(phaseCtx, d); err != nil {
			metrics.LoaderHooksTotal.WithLabelValues(phase.String(), "error").Inc()
			return err
		}
		metrics.LoaderHooksTotal.WithLabelValues(phase.String(), "ok").Inc()
	}

	elapsed := time.Since(started)
	metrics.LoaderPhaseDuration.WithLabelValues(phase.String()).Observe(elapsed.Seconds())
	l.logger.Info("phase drained",
		zap.String("phase", phase.String()),
		zap.Int("hooks", len(batch)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func (l *Loader) runHook(ctx context.Context, d Descriptor) error {
	hookErr := func(err error) error {
		return &HookError{Phase: d.Phase, Target: d.TargetName, Method: d.Method, Err: err}
	}
	if d.Hook == nil {
		return hookErr(ErrMissingMethod)
	}
	if d.Target == nil {
		return hookErr(ErrMissingTarget)
	}
	if d.Target.Name() != d.TargetName {
		return hookErr(fmt.Errorf("%w: token %s", ErrTargetMismatch, d.Target))
	}
	inst, err := l.container.Resolve(d.Target)
	if err != nil {
		return hookErr(err)
	}

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("hook panic: %v", r)
			}
		}()
		result <- d.Hook(ctx, inst)
	}()

	select {
	case err := <-result:
		if err != nil {
			return hookErr(err)
		}
		l.invoked.Add(1)
		l.logger.Debug("hook done",
			zap.String("phase", d.Phase.String()),
			zap.String("target", d.TargetName),
			zap.String("method", d.Method),
			zap.Int("order", d.Order),
		)
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return &PhaseTimeoutError{Phase: d.Phase, Target: d.TargetName, Method: d.Method, Timeout: l.opts.PhaseTimeout}
		}
		return hookErr(ctx.Err())
	}
}

// ================= completion =================

func (l *Loader) complete() {
	l.mu.Lock()
	if l.completed {
		l.mu.Unlock()
		return
	}
	l.completed = true
	callbacks := l.callbacks
	l.callbacks = nil
	l.mu.Unlock()

	l.finishOnce.Do(func() { close(l.finished) })
	l.logger.Info("bootstrap complete", zap.Int64("hooks", l.invoked.Load()))
	for _, fn := range callbacks {
		fn()
	}
}

func (l *Loader) fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()

	l.logger.Error("bootstrap failed", zap.Error(err))
	l.finishOnce.Do(func() { close(l.finished) })
}
