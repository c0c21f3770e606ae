package loader

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"game-framework/internal/annotation"
	"game-framework/internal/host"
	"game-framework/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

type component struct{ name string }

type harness struct {
	store     *annotation.Store
	container *registry.Container
	bus       *host.MemoryBus
	rec       *recorder
	root      *registry.Token
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     annotation.NewStore(),
		container: registry.NewContainer(),
		bus:       host.NewBus(),
		rec:       &recorder{},
		root:      registry.NewToken("Resource"),
	}
	require.NoError(t, h.container.Register(h.root, func(registry.Resolver) (any, error) {
		h.rec.add("root")
		return &component{name: "root"}, nil
	}))
	return h
}

func (h *harness) component(t *testing.T, name string) *registry.Token {
	t.Helper()
	tok := registry.NewToken(name)
	require.NoError(t, h.container.Register(tok, registry.Value(&component{name: name})))
	return tok
}

func (h *harness) hook(label string) func(*component, context.Context) error {
	return func(_ *component, _ context.Context) error {
		h.rec.add(label)
		return nil
	}
}

func (h *harness) run(t *testing.T, opts Options) *Loader {
	t.Helper()
	l := New(h.store, h.container, h.bus, opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.Bootstrap(context.Background(), h.root)
	require.NoError(t, l.Wait(ctx))
	return l
}

func TestPhaseOrderScenario(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	On(h.store, After, tok, "OnAfter", h.hook("After"))
	On(h.store, Init, tok, "OnInit", h.hook("Init"))
	On(h.store, Before, tok, "OnBefore", h.hook("Before"))

	l := h.run(t, Options{})
	assert.Equal(t, []string{"Init", "Before", "After", "root"}, h.rec.snapshot())
	assert.Equal(t, 3, l.Invoked())
}

func TestQueueOrderIgnoresDeclarationShuffle(t *testing.T) {
	tok := registry.NewToken("Chat")
	base := []Descriptor{
		{Phase: Last, Target: tok, TargetName: "Chat", Method: "l0", Order: 0},
		{Phase: Init, Target: tok, TargetName: "Chat", Method: "i2", Order: 2},
		{Phase: Init, Target: tok, TargetName: "Chat", Method: "i1", Order: 1},
		{Phase: After, Target: tok, TargetName: "Chat", Method: "a0", Order: 0},
		{Phase: Before, Target: tok, TargetName: "Chat", Method: "b5", Order: 5},
		{Phase: Before, Target: tok, TargetName: "Chat", Method: "b-1", Order: -1},
	}
	want := []string{"i1", "i2", "b-1", "b5", "a0", "l0"}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := make([]Descriptor, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		var got []string
		for _, d := range Queue(shuffled) {
			got = append(got, d.Method)
		}
		require.Equal(t, want, got)
	}
}

func TestQueueKeepsDeclarationOrderOnTies(t *testing.T) {
	ds := []Descriptor{
		{Phase: Init, Method: "first"},
		{Phase: Init, Method: "second"},
		{Phase: Init, Method: "third"},
	}
	q := Queue(ds)
	assert.Equal(t, "first", q[0].Method)
	assert.Equal(t, "second", q[1].Method)
	assert.Equal(t, "third", q[2].Method)
	// input untouched
	ds[0].Method = "changed"
	assert.Equal(t, "first", q[0].Method)
}

func TestHooksRunSequentially(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Db")
	On(h.store, Init, tok, "Connect", func(_ *component, _ context.Context) error {
		h.rec.add("connect:start")
		time.Sleep(20 * time.Millisecond)
		h.rec.add("connect:end")
		return nil
	})
	On(h.store, Init, tok, "Migrate", h.hook("migrate"), WithOrder(1))

	h.run(t, Options{})
	assert.Equal(t, []string{"connect:start", "connect:end", "migrate", "root"}, h.rec.snapshot())
}

func TestDoneFiresOnceAfterAllHooks(t *testing.T) {
	h := newHarness(t)
	total := 0
	for _, name := range []string{"A", "B", "C"} {
		tok := h.component(t, name)
		for _, phase := range canonicalOrder {
			On(h.store, phase, tok, phase.String(), h.hook(name+":"+phase.String()))
			total++
		}
	}

	l := New(h.store, h.container, h.bus, Options{})
	var mu sync.Mutex
	fired := 0
	invokedAtDone := -1
	done := make(chan struct{})
	l.Bootstrap(context.Background(), h.root).Done(func() {
		mu.Lock()
		fired++
		invokedAtDone = l.Invoked()
		mu.Unlock()
	}).Done(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not complete")
	}

	// a stray completion signal must not re-run callbacks
	h.bus.Emit(DefaultDoneChannel)

	mu.Lock()
	assert.Equal(t, 1, fired)
	assert.Equal(t, total, invokedAtDone)
	mu.Unlock()

	late := false
	l.Done(func() { late = true })
	assert.True(t, late)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	On(h.store, Init, tok, "Setup", h.hook("setup"))

	l := h.run(t, Options{})
	l.Bootstrap(context.Background(), h.root)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"setup", "root"}, h.rec.snapshot())
}

func TestWaitForDefersStart(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	On(h.store, Init, tok, "Setup", h.hook("setup"))

	l := New(h.store, h.container, h.bus, Options{}).WaitFor("resource:ready")
	l.Bootstrap(context.Background(), h.root)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.rec.snapshot())

	h.bus.Emit("resource:ready")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, []string{"setup", "root"}, h.rec.snapshot())
}

func TestSettleDelay(t *testing.T) {
	h := newHarness(t)
	started := time.Now()
	h.run(t, Options{SettleDelay: 30 * time.Millisecond})
	assert.GreaterOrEqual(t, time.Since(started), 30*time.Millisecond)
}

func TestMissingMethodFailsFast(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	On[*component](h.store, Init, tok, "Setup", nil)
	On(h.store, Before, tok, "Never", h.hook("never"))

	l := New(h.store, h.container, h.bus, Options{})
	called := false
	l.Bootstrap(context.Background(), h.root).Done(func() { called = true })

	err := l.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingMethod)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "Chat", he.Target)
	assert.Equal(t, "Setup", he.Method)
	assert.Equal(t, Init, he.Phase)
	assert.False(t, called)
	assert.Empty(t, h.rec.snapshot())
}

func TestUnknownPhaseFailsFast(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	On(h.store, Init, tok, "A", h.hook("A"))
	On(h.store, Phase(7), tok, "B", h.hook("B"))

	l := New(h.store, h.container, h.bus, Options{})
	err := l.Bootstrap(context.Background(), h.root).Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPhase)
	var he *HookError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, Phase(7), he.Phase)
	assert.Equal(t, "B", he.Method)
	assert.Empty(t, h.rec.snapshot())
	assert.Equal(t, 0, l.Invoked())
	assert.False(t, Phase(7).Valid())
	assert.True(t, Last.Valid())
}

func TestUnresolvableTargetFailsFast(t *testing.T) {
	h := newHarness(t)
	unknown := registry.NewToken("Ghost")
	On(h.store, Init, unknown, "Setup", h.hook("setup"))

	l := New(h.store, h.container, h.bus, Options{})
	err := l.Bootstrap(context.Background(), h.root).Wait(context.Background())
	assert.ErrorIs(t, err, registry.ErrUnknownToken)
}

func TestTargetNameMustMatchToken(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	Register(h.store, Descriptor{
		Phase:      Init,
		TargetName: "Vehicle",
		Target:     tok,
		Method:     "Setup",
		Hook:       func(context.Context, any) error { return nil },
	})

	l := New(h.store, h.container, h.bus, Options{})
	err := l.Bootstrap(context.Background(), h.root).Wait(context.Background())
	assert.ErrorIs(t, err, ErrTargetMismatch)
}

func TestHookErrorAndPanic(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Chat")
	boom := errors.New("redis down")
	On(h.store, Before, tok, "Connect", func(*component, context.Context) error { return boom })

	l := New(h.store, h.container, h.bus, Options{})
	err := l.Bootstrap(context.Background(), h.root).Wait(context.Background())
	assert.ErrorIs(t, err, boom)

	h2 := newHarness(t)
	tok2 := h2.component(t, "Chat")
	On(h2.store, Init, tok2, "Explode", func(*component, context.Context) error { panic("bad wiring") })
	l2 := New(h2.store, h2.container, h2.bus, Options{})
	err = l2.Bootstrap(context.Background(), h2.root).Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad wiring")
}

func TestPhaseTimeout(t *testing.T) {
	h := newHarness(t)
	tok := h.component(t, "Slow")
	release := make(chan struct{})
	defer close(release)
	On(h.store, After, tok, "Stuck", func(_ *component, ctx context.Context) error {
		<-release
		return nil
	})

	l := New(h.store, h.container, h.bus, Options{PhaseTimeout: 20 * time.Millisecond})
	err := l.Bootstrap(context.Background(), h.root).Wait(context.Background())

	var te *PhaseTimeoutError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, After, te.Phase)
	assert.Equal(t, "Slow", te.Target)
	assert.Equal(t, "Stuck", te.Method)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCancelledContextFails(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := New(h.store, h.container, h.bus, Options{})
	err := l.Bootstrap(ctx, h.root).Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCompletionSignalOnBus(t *testing.T) {
	h := newHarness(t)
	signalled := make(chan struct{}, 1)
	h.bus.On("resource:started", func(...any) { signalled <- struct{}{} })

	h.run(t, Options{DoneChannel: "resource:started"})
	select {
	case <-signalled:
	case <-time.After(time.Second):
		t.Fatal("completion signal not emitted")
	}
}
