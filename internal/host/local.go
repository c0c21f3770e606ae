package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrRuntimeRunning = errors.New("runtime already running")

const (
	defaultTickInterval = 50 * time.Millisecond
	defaultQueueSize    = 1024
)

type Options struct {
	TickInterval time.Duration
	QueueSize    int
}

type timerKind int

const (
	kindTimeout timerKind = iota
	kindInterval
	kindNextTick
	kindEveryTick
)

type timer struct {
	kind timerKind
	fn   func()
	stop func()
}

// Local is an in-process Runtime. Timers and next-tick callbacks run on the
// goroutine that calls Run; Emit runs listeners on the caller's goroutine.
type Local struct {
	*MemoryBus
	remote *remoteBus

	logger *zap.Logger
	sugar  *zap.SugaredLogger

	tasks        chan func()
	closed       chan struct{}
	closeOnce    sync.Once
	running      atomic.Bool
	tickInterval time.Duration

	mu       sync.Mutex
	timers   map[Timer]*timer
	timerSeq atomic.Uint64
}

func NewLocal(logger *zap.Logger, opts Options) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	seq := new(atomic.Uint64)
	l := &Local{
		MemoryBus:    newBus(seq),
		logger:       logger,
		sugar:        logger.Sugar(),
		tasks:        make(chan func(), opts.QueueSize),
		closed:       make(chan struct{}),
		tickInterval: opts.TickInterval,
		timers:       make(map[Timer]*timer),
	}
	l.remote = &remoteBus{MemoryBus: newBus(seq), logger: logger}
	return l
}

// ================= pub/sub =================

func (l *Local) Remote() Bus { return l.remote }

// SetOutbound installs the sender used by Remote().Emit.
func (l *Local) SetOutbound(o Outbound) {
	l.remote.out.Store(&o)
}

// Deliver dispatches an inbound remote event to Remote() listeners.
func (l *Local) Deliver(channel string, args ...any) {
	l.remote.MemoryBus.Emit(channel, args...)
}

// RemoteCount reports live Remote() subscriptions on channel.
func (l *Local) RemoteCount(channel string) int {
	return l.remote.Count(channel)
}

type remoteBus struct {
	*MemoryBus
	out    atomic.Pointer[Outbound]
	logger *zap.Logger
}

func (r *remoteBus) Emit(channel string, args ...any) {
	p := r.out.Load()
	if p == nil || *p == nil {
		r.logger.Warn("remote emit dropped", zap.String("channel", channel), zap.String("reason", "no_outbound"))
		return
	}
	if err := (*p).Send(channel, args); err != nil {
		r.logger.Warn("remote emit failed", zap.String("channel", channel), zap.Error(err))
	}
}

// ================= logging =================

func (l *Local) Log(args ...any)        { l.sugar.Info(args...) }
func (l *Local) LogWarning(args ...any) { l.sugar.Warn(args...) }
func (l *Local) LogError(args ...any)   { l.sugar.Error(args...) }

// ================= loop =================

// Run executes queued callbacks and tick handlers until ctx is done.
func (l *Local) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRuntimeRunning
	}
	defer l.shutdown()

	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.tasks:
			l.exec(fn)
		case <-ticker.C:
			for _, fn := range l.tickHandlers() {
				l.exec(fn)
			}
		}
	}
}

func (l *Local) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("unhandled error in runtime callback", zap.Any("panic", r))
		}
	}()
	fn()
}

func (l *Local) post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.closed:
	}
}

func (l *Local) shutdown() {
	l.closeOnce.Do(func() { close(l.closed) })

	l.mu.Lock()
	timers := l.timers
	l.timers = make(map[Timer]*timer)
	l.mu.Unlock()
	for _, t := range timers {
		if t.stop != nil {
			t.stop()
		}
	}
}

func (l *Local) tickHandlers() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []func()
	for _, t := range l.timers {
		if t.kind == kindEveryTick {
			out = append(out, t.fn)
		}
	}
	return out
}

// ================= timers =================

func (l *Local) SetTimeout(fn func(), d time.Duration) Timer {
	id := l.track(&timer{kind: kindTimeout, fn: fn})
	at := time.AfterFunc(d, func() {
		l.post(func() {
			if l.take(id) {
				fn()
			}
		})
	})
	l.setStop(id, func() { at.Stop() })
	return id
}

func (l *Local) ClearTimeout(t Timer) { l.clear(t, kindTimeout) }

func (l *Local) SetInterval(fn func(), d time.Duration) Timer {
	id := l.track(&timer{kind: kindInterval, fn: fn})
	stop := make(chan struct{})
	var once sync.Once
	l.setStop(id, func() { once.Do(func() { close(stop) }) })

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-l.closed:
				return
			case <-ticker.C:
				l.post(func() {
					if l.active(id) {
						fn()
					}
				})
			}
		}
	}()
	return id
}

func (l *Local) ClearInterval(t Timer) { l.clear(t, kindInterval) }

func (l *Local) NextTick(fn func()) Timer {
	id := l.track(&timer{kind: kindNextTick, fn: fn})
	task := func() {
		if l.take(id) {
			fn()
		}
	}
	select {
	case l.tasks <- task:
	default:
		// queue full, possibly posted from the loop itself
		go l.post(task)
	}
	return id
}

func (l *Local) ClearNextTick(t Timer) { l.clear(t, kindNextTick) }

func (l *Local) EveryTick(fn func()) Timer {
	return l.track(&timer{kind: kindEveryTick, fn: fn})
}

func (l *Local) ClearEveryTick(t Timer) { l.clear(t, kindEveryTick) }

func (l *Local) track(t *timer) Timer {
	id := Timer(l.timerSeq.Add(1))
	l.mu.Lock()
	l.timers[id] = t
	l.mu.Unlock()
	return id
}

func (l *Local) setStop(id Timer, stop func()) {
	l.mu.Lock()
	if t, ok := l.timers[id]; ok {
		t.stop = stop
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	// cleared before the stop hook was attached
	stop()
}

func (l *Local) active(id Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[id]
	return ok
}

func (l *Local) take(id Timer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[id]; !ok {
		return false
	}
	delete(l.timers, id)
	return true
}

func (l *Local) clear(id Timer, kind timerKind) {
	l.mu.Lock()
	t, ok := l.timers[id]
	if !ok || t.kind != kind {
		l.mu.Unlock()
		return
	}
	delete(l.timers, id)
	l.mu.Unlock()
	if t.stop != nil {
		t.stop()
	}
}

// ================= entities =================

// SpawnEntity announces a new entity on the local bus.
func (l *Local) SpawnEntity(e Entity) {
	l.Emit(EventGameEntityCreate, e)
}

func (l *Local) DestroyEntity(e Entity) {
	l.Emit(EventGameEntityDestroy, e)
}

// SetSyncedMeta stores value and emits syncedMetaChange(entity, key, value, old).
func (l *Local) SetSyncedMeta(e MetaHolder, key string, value any) {
	b := e.base()
	old := b.swap(b.synced, key, value)
	l.Emit(EventSyncedMetaChange, e, key, value, old)
}

// SetStreamSyncedMeta stores value and emits streamSyncedMetaChange.
func (l *Local) SetStreamSyncedMeta(e MetaHolder, key string, value any) {
	b := e.base()
	old := b.swap(b.stream, key, value)
	l.Emit(EventStreamSyncedMetaChange, e, key, value, old)
}

func (l *Local) EnterColShape(shape *ColShape, e Entity) {
	l.Emit(EventEntityEnterColShape, shape, e)
}

func (l *Local) LeaveColShape(shape *ColShape, e Entity) {
	l.Emit(EventEntityLeaveColShape, shape, e)
}

// ConsoleCommand emits a console line split into command name and arguments.
func (l *Local) ConsoleCommand(name string, args ...string) {
	out := make([]any, 0, len(args)+1)
	out = append(out, name)
	for _, a := range args {
		out = append(out, a)
	}
	l.Emit(EventConsoleCommand, out...)
}

func (l *Local) KeyDown(code int) { l.Emit(EventKeyDown, code) }
func (l *Local) KeyUp(code int)   { l.Emit(EventKeyUp, code) }
