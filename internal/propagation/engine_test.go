package propagation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/field"
	"github.com/nvandessel/contagion/internal/gateway"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/mutation"
	"github.com/nvandessel/contagion/internal/store"
	"github.com/nvandessel/contagion/internal/vector"
)

// sureSpecs is a one-vector catalogue whose transfers always saturate, so
// every dispatch produces an effect.
func sureSpecs() []vector.Spec {
	return []vector.Spec{{
		Name:            "sure",
		BaseRate:        0.95,
		FluxIndex:       2,
		SuitabilityBase: 1,
		Chain: []vector.TransferMethod{
			{Kind: vector.MethodPriority, Reliability: 1, Yield: 1},
			{Kind: vector.MethodStandard, Reliability: 1, Yield: 1},
		},
	}}
}

func newTestEngine(t *testing.T, mutate func(*Options)) (*Engine, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	opts := DefaultOptions()
	opts.Seed = 1
	opts.Epsilon = 0
	opts.Clock = mock
	opts.Specs = sureSpecs()
	opts.Mutation.MaxJitter = 0
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, mock
}

func register(t *testing.T, e *Engine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := e.RegisterSession(id); err != nil {
			t.Fatalf("RegisterSession(%q) error = %v", id, err)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	opts := DefaultOptions()
	opts.Field.Resolution = 0
	if _, err := New(opts); err == nil {
		t.Error("expected error for zero resolution")
	}

	opts = DefaultOptions()
	opts.Field.Resolution = field.MaxResolution + 1
	if _, err := New(opts); err == nil {
		t.Error("expected error for resolution above the ceiling")
	}

	opts = DefaultOptions()
	opts.Specs = []vector.Spec{}
	if _, err := New(opts); err == nil {
		t.Error("expected error for empty catalogue")
	}
}

func TestSessionValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	if _, err := e.RegisterSession(""); !errors.Is(err, gateway.ErrInvalidSession) {
		t.Errorf("RegisterSession(\"\") error = %v, want ErrInvalidSession", err)
	}
	if err := e.DeregisterSession("bad\x00id"); !errors.Is(err, gateway.ErrInvalidSession) {
		t.Errorf("DeregisterSession error = %v, want ErrInvalidSession", err)
	}
	if err := e.DeregisterSession("nobody"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("DeregisterSession(unknown) error = %v, want ErrNotFound", err)
	}

	register(t, e, "alpha", "alpha")
	if got := e.Sessions(); len(got) != 1 {
		t.Errorf("sessions = %v, want one", got)
	}
}

func TestStep_DeliversEffectToTarget(t *testing.T) {
	journal := store.NewMemoryJournal(0)
	e, _ := newTestEngine(t, func(o *Options) { o.Journal = journal })
	register(t, e, "alpha", "beta", "gamma")

	var got []mutation.Effect
	e.OnEffect(func(eff mutation.Effect) { got = append(got, eff) })

	e.Inject("alpha", 10, Metadata{TargetHint: "beta"})
	res := e.Step(context.Background())

	if len(res.Dispatches) != 1 || res.Dispatches[0].Outcome.Vector != "sure" {
		t.Fatalf("dispatches = %+v, want one through vector sure", res.Dispatches)
	}
	if len(got) != 1 {
		t.Fatalf("handler received %d effects, want 1", len(got))
	}
	if got[0].SessionID != "beta" || got[0].Origin != "alpha" || got[0].Category != constants.EffectRupture {
		t.Errorf("effect = %+v, want rupture alpha -> beta", got[0])
	}

	recent := e.RecentEffects("beta", 0)
	if len(recent) != 1 || recent[0].ID != got[0].ID {
		t.Errorf("recent = %+v, want the delivered effect", recent)
	}
	if other := e.RecentEffects("gamma", 0); len(other) != 0 {
		t.Errorf("gamma received %+v", other)
	}

	d := e.Diagnostics()
	if d.Counters.Normal != 1 || d.DeliveredEffects != 1 || d.Sessions != 3 {
		t.Errorf("diagnostics = %+v", d)
	}
	if d.IntegrityIndex >= 1 {
		t.Errorf("integrity = %v, want < 1 after injection", d.IntegrityIndex)
	}

	recs, err := journal.Dispatches(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Dispatches() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Vector != "sure" || recs[0].Path != "ranked" || recs[0].Origin != "alpha" {
		t.Errorf("journal = %+v", recs)
	}
}

func TestStep_NoiseForcesStatic(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	register(t, e, "alpha", "beta")

	e.Inject("alpha", 10, Metadata{NoiseRatio: 0.9})
	res := e.Step(context.Background())
	if len(res.Delivered) != 1 || res.Delivered[0].Category != constants.EffectStatic {
		t.Errorf("delivered = %+v, want one static effect", res.Delivered)
	}
}

func TestOnEffect_HandlerMayReenter(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	register(t, e, "alpha", "beta")

	e.OnEffect(func(eff mutation.Effect) {
		// the receiving session reacts by propagating back
		e.Inject(eff.SessionID, 1, Metadata{})
		_ = e.Diagnostics()
	})

	e.Inject("alpha", 10, Metadata{})
	e.Step(context.Background())

	if got := e.Diagnostics().ActiveQueueDepth; got != 1 {
		t.Errorf("queue depth = %d, want the re-entrant injection", got)
	}
}

func TestCheckHealth_DriftTriggersStabilization(t *testing.T) {
	journal := store.NewMemoryJournal(0)
	e, mock := newTestEngine(t, func(o *Options) { o.Journal = journal })
	register(t, e, "alpha", "beta")
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		e.Inject("alpha", 5, Metadata{})
	}
	e.Step(ctx)
	mock.Add(3 * time.Second) // loop fell behind: drift 1.5s
	e.Step(ctx)

	r := e.CheckHealth(ctx)
	if !r.StabilizationRequested {
		t.Fatalf("report = %+v, want stabilization requested", r)
	}

	mock.Add(1500 * time.Millisecond)
	e.Step(ctx)
	d := e.Diagnostics()
	if d.Counters.Stabilizations != 1 {
		t.Errorf("stabilizations = %d, want 1", d.Counters.Stabilizations)
	}
	if d.ActiveQueueDepth > nextQueueCap(e) {
		t.Errorf("queue depth = %d after stabilization", d.ActiveQueueDepth)
	}

	diags, _ := journal.Diagnostics(ctx, 0)
	if len(diags) != 1 || !diags[0].StabilizationRequested || diags[0].DriftMillis != 1500 {
		t.Errorf("journaled diagnostics = %+v", diags)
	}
}

func nextQueueCap(e *Engine) int { return e.sched.Config().QueueCap }

func TestCheckHealth_WidensWhenIntegrityLow(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Diagnostics.IntegrityLow = 1.01 // any integrity counts as low
		o.Diagnostics.IntegrityHigh = 1.01
	})

	r := e.CheckHealth(context.Background())
	if !r.Widened || !r.WideningChanged {
		t.Fatalf("report = %+v, want widened", r)
	}
	if got := e.Diagnostics().Widening; got != e.monitor.Config().WidenBy {
		t.Errorf("widening = %v, want %v", got, e.monitor.Config().WidenBy)
	}
}

func TestCheckHealth_RecalibratesVectorsOnBreach(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Specs = []vector.Spec{{
			Name:            "creeping",
			BaseRate:        0.5,
			FluxIndex:       1,
			SuitabilityBase: 1,
			CreepIndex:      0.05,
			Chain:           []vector.TransferMethod{{Kind: vector.MethodStandard, Reliability: 1, Yield: 1}},
		}}
		o.Diagnostics.IntegrityLow = 1.01
		o.Diagnostics.IntegrityHigh = 1.01
	})
	register(t, e, "alpha", "beta")
	for i := 0; i < 5; i++ {
		e.Inject("alpha", 10, Metadata{})
		e.Step(context.Background())
	}

	v, err := e.sched.Catalogue().Get("creeping")
	if err != nil {
		t.Fatal(err)
	}
	before := v.BaseRate()
	if before <= v.NominalRate() {
		t.Fatalf("base rate %v did not creep above nominal %v", before, v.NominalRate())
	}

	r := e.CheckHealth(context.Background())
	if !r.Recalibrated {
		t.Fatalf("report = %+v, want recalibrated", r)
	}
	want := before + (v.NominalRate()-before)*0.5
	if got := v.BaseRate(); math.Abs(got-want) > 1e-12 {
		t.Errorf("base rate after breach = %v, want %v", got, want)
	}
}

func TestInject_DoesNotWaitForTick(t *testing.T) {
	gate := &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	e, _ := newTestEngine(t, func(o *Options) {
		o.Decisions = logging.NewDecisionWriter(gate)
	})
	register(t, e, "alpha", "beta")
	e.Inject("alpha", 10, Metadata{})

	stepped := make(chan StepResult)
	go func() { stepped <- e.Step(context.Background()) }()

	// Step is now parked inside a decision write while holding the engine lock.
	<-gate.entered

	injected := make(chan uint64)
	go func() { injected <- e.Inject("beta", 5, Metadata{}) }()
	select {
	case id := <-injected:
		if id != 2 {
			t.Errorf("event id = %d, want 2", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Inject blocked while a tick was in progress")
	}

	close(gate.release)
	<-stepped

	res := e.Step(context.Background())
	if len(res.Dispatches) != 1 || res.Dispatches[0].Event.Origin != "beta" {
		t.Errorf("next tick dispatched %+v, want the beta event", res.Dispatches)
	}
}

// blockingWriter parks the first Write until release is closed.
type blockingWriter struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	first := false
	w.once.Do(func() { first = true })
	if first {
		close(w.entered)
		<-w.release
	}
	return len(p), nil
}

func TestDeregister_DropsPendingEffects(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) { o.Mutation.MaxJitter = time.Hour })
	register(t, e, "alpha", "beta")

	e.Inject("alpha", 10, Metadata{TargetHint: "beta"})
	e.Step(context.Background())
	if got := e.Diagnostics().PendingEffects; got != 1 {
		t.Fatalf("pending effects = %d, want 1", got)
	}

	if err := e.DeregisterSession("beta"); err != nil {
		t.Fatalf("DeregisterSession() error = %v", err)
	}
	if got := e.Diagnostics().PendingEffects; got != 0 {
		t.Errorf("pending effects = %d after deregistration", got)
	}
}

func TestReset(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	register(t, e, "alpha", "beta")
	for i := 0; i < 5; i++ {
		e.Inject("alpha", 9, Metadata{})
	}
	e.Step(context.Background())

	e.Reset()

	d := e.Diagnostics()
	if d.IntegrityIndex != 1 || d.ActiveQueueDepth != 0 || d.Counters.Enqueued != 0 || d.DeliveredEffects != 0 {
		t.Errorf("diagnostics after reset = %+v", d)
	}
	if len(e.RecentEffects("", 0)) != 0 {
		t.Error("recent effects survived reset")
	}
	if d.Sessions != 2 {
		t.Errorf("sessions = %d, want registrations kept", d.Sessions)
	}
}

func TestRecentEffects_Bounded(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	register(t, e, "alpha", "beta")
	ctx := context.Background()

	for i := 0; i < constants.RecentEffectsCapacity+20; i++ {
		e.Inject("alpha", 10, Metadata{})
		e.Step(ctx)
	}
	if got := len(e.RecentEffects("", 0)); got != constants.RecentEffectsCapacity {
		t.Errorf("recent = %d, want %d", got, constants.RecentEffectsCapacity)
	}
	if got := len(e.RecentEffects("", 5)); got != 5 {
		t.Errorf("limited recent = %d, want 5", got)
	}
}

func TestInject_ConcurrentProducers(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	register(t, e, "alpha", "beta", "gamma")
	ctx := context.Background()

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			ids := []string{"alpha", "beta", "gamma"}
			for i := 0; i < perProducer; i++ {
				e.Inject(ids[(p+i)%len(ids)], float64(i%10), Metadata{})
			}
		}(p)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				e.Step(ctx)
			}
		}
	}()
	wg.Wait()
	close(done)

	for e.Diagnostics().ActiveQueueDepth > 0 {
		e.Step(ctx)
	}
	c := e.Diagnostics().Counters
	if c.Enqueued != producers*perProducer || c.Accounted() != c.Enqueued {
		t.Errorf("counters = %+v, want %d enqueued and accounted", c, producers*perProducer)
	}
}

func TestRun_TicksOnClock(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	register(t, e, "alpha", "beta")
	for i := 0; i < 3; i++ {
		e.Inject("alpha", 5, Metadata{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for e.Diagnostics().Counters.Ticks < 3 {
		if time.Now().After(deadline) {
			t.Fatal("engine did not tick on the mock clock")
		}
		mock.Add(e.sched.Config().TickInterval)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_RejectsNonPositiveInterval(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) { o.Scheduler.TickInterval = 0 })
	if err := e.Run(context.Background()); err == nil {
		t.Error("expected error for zero tick interval")
	}
}
