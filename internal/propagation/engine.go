// Package propagation wires the field, gateway registry, vector catalogue,
// scheduler, mutation engine and diagnostics monitor into one Engine.
//
// Every core mutation happens under a single lock. Producers may call
// Inject concurrently; it only enqueues. Effect handlers run after the lock
// is released, so they may call back into the engine.
package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/diagnostics"
	"github.com/nvandessel/contagion/internal/field"
	"github.com/nvandessel/contagion/internal/gateway"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/mutation"
	"github.com/nvandessel/contagion/internal/nexus"
	"github.com/nvandessel/contagion/internal/store"
	"github.com/nvandessel/contagion/internal/vector"
)

// Options configures an Engine.
type Options struct {
	Field       field.Config
	Scheduler   nexus.Config
	Mutation    mutation.Config
	Diagnostics diagnostics.Config

	// Epsilon is the exploration probability of vector selection.
	Epsilon float64

	// Seed seeds every random source. Zero picks a time-based seed.
	Seed int64

	// Specs overrides the default vector catalogue.
	Specs []vector.Spec

	// Clock drives Run and stamps events. Nil uses the wall clock.
	Clock clock.Clock

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger

	// Journal receives dispatch and diagnostics records. Nil disables journaling.
	Journal store.Journal
}

// DefaultOptions returns options with every component at its defaults.
func DefaultOptions() Options {
	return Options{
		Field:       field.DefaultConfig(),
		Scheduler:   nexus.DefaultConfig(),
		Mutation:    mutation.DefaultConfig(),
		Diagnostics: diagnostics.DefaultConfig(),
		Epsilon:     0.2,
	}
}

// Metadata accompanies an injection.
type Metadata struct {
	NoiseRatio float64 // [0, 1]; above 0.5 every resulting effect is static
	TargetHint string  // preferred receiving session, if registered
}

// EffectHandler receives delivered effects.
type EffectHandler func(mutation.Effect)

// Diagnostics is the polled health snapshot.
type Diagnostics struct {
	IntegrityIndex    float64        `json:"integrity_index"`
	AvgDensity        float64        `json:"avg_density"`
	ActiveVectorCount int            `json:"active_vector_count"`
	ActiveQueueDepth  int            `json:"active_queue_depth"`
	AvgSaturation     float64        `json:"avg_saturation"`
	TickDrift         time.Duration  `json:"tick_drift"`
	Sessions          int            `json:"sessions"`
	Widening          float64        `json:"widening"`
	PendingEffects    int            `json:"pending_effects"`
	DeliveredEffects  uint64         `json:"delivered_effects"`
	Counters          nexus.Counters `json:"counters"`
}

// StepResult summarizes one tick.
type StepResult struct {
	At         time.Time
	Dispatches []nexus.Dispatch
	Scheduled  int
	Delivered  []mutation.Effect
}

// Engine is the propagation engine.
type Engine struct {
	mu        sync.Mutex
	clock     clock.Clock
	sched     *nexus.Scheduler
	mut       *mutation.Engine
	monitor   *diagnostics.Monitor
	journal   store.Journal
	logger    *slog.Logger
	recent    []mutation.Effect
	delivered uint64

	handlersMu sync.RWMutex
	handlers   []EffectHandler

	// inMu guards the producer inbox. Lock order is e.mu then inMu.
	inMu   sync.Mutex
	inbox  []nexus.Event
	nextID uint64
}

// New builds an engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Field.Resolution < 1 || opts.Field.Resolution > field.MaxResolution {
		return nil, fmt.Errorf("field resolution must be in [1, %d], got %d", field.MaxResolution, opts.Field.Resolution)
	}
	specs := opts.Specs
	if specs == nil {
		specs = vector.DefaultSpecs()
	}
	cat, err := vector.NewCatalogue(specs)
	if err != nil {
		return nil, fmt.Errorf("build vector catalogue: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	root := rand.New(rand.NewSource(seed))
	selRNG := rand.New(rand.NewSource(root.Int63()))
	mutRNG := rand.New(rand.NewSource(root.Int63()))

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	f := field.New(opts.Field, logging.Component(logger, "field"))
	gw := gateway.NewRegistry(f)
	gw.SetClock(clk.Now)

	sel := vector.NewSelector(selRNG, opts.Epsilon)
	sel.SetLogger(logging.Component(logger, "vector"), opts.Decisions)

	sched := nexus.New(opts.Scheduler, f, gw, cat, sel, logging.Component(logger, "nexus"))
	sched.SetDecisionLogger(opts.Decisions)

	mut := mutation.New(opts.Mutation, mutRNG, logging.Component(logger, "mutation"))
	mut.SetDecisionLogger(opts.Decisions)

	return &Engine{
		clock:   clk,
		sched:   sched,
		mut:     mut,
		monitor: diagnostics.New(opts.Diagnostics, logger),
		journal: opts.Journal,
		logger:  logging.Component(logger, "engine"),
	}, nil
}

// Clock returns the engine's clock.
func (e *Engine) Clock() clock.Clock { return e.clock }

// Inject queues a propagation event for sessionID with a raw intensity in
// [0, MaxRawIntensity]. The event lands in a producer inbox that the next
// tick moves into the scheduler, so Inject never waits on a tick in
// progress and never fails; unknown sessions are anchored at the field
// centroid. It returns the event ID.
func (e *Engine) Inject(sessionID string, intensity float64, md Metadata) uint64 {
	e.inMu.Lock()
	e.nextID++
	ev := nexus.NewEvent(e.nextID, sessionID, md.TargetHint, intensity, md.NoiseRatio, e.clock.Now())
	e.inbox = append(e.inbox, ev)
	e.inMu.Unlock()

	e.logger.Log(context.Background(), logging.LevelTrace, "event queued",
		"session", sessionID, "event", ev.ID, "priority", ev.Priority)
	return ev.ID
}

// admitInbox moves every inboxed event into the scheduler in arrival
// order. Caller holds e.mu.
func (e *Engine) admitInbox() {
	e.inMu.Lock()
	batch := e.inbox
	e.inbox = nil
	e.inMu.Unlock()

	for _, ev := range batch {
		e.sched.Admit(ev)
	}
}

// RegisterSession registers a session gateway. Registering twice is a no-op.
func (e *Engine) RegisterSession(sessionID string) (gateway.Gateway, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admitInbox()

	g, err := e.sched.Register(sessionID)
	if err != nil {
		return gateway.Gateway{}, err
	}
	e.logger.Debug("session registered", "session", sessionID, "position", g.Position)
	return g, nil
}

// DeregisterSession removes a session, discarding its queued events and
// pending effects.
func (e *Engine) DeregisterSession(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admitInbox()

	discarded, err := e.sched.Deregister(sessionID)
	if err != nil {
		return err
	}
	dropped := e.mut.Drop(sessionID)
	e.logger.Debug("session deregistered",
		"session", sessionID, "discarded_events", discarded, "dropped_effects", dropped)
	return nil
}

// OnEffect subscribes h to every delivered effect.
func (e *Engine) OnEffect(h EffectHandler) {
	if h == nil {
		return
	}
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers = append(e.handlers, h)
}

// RequestStabilization asks the scheduler to stabilize on its next tick.
func (e *Engine) RequestStabilization() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.RequestStabilization()
}

// SetThresholdWidening lowers every vector activation threshold by offset.
func (e *Engine) SetThresholdWidening(offset float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.SetThresholdWidening(offset)
}

// Step runs one scheduler tick at the clock's current time, plans effects
// for every dispatch and delivers the effects that are due.
func (e *Engine) Step(ctx context.Context) StepResult {
	e.mu.Lock()
	e.admitInbox()
	now := e.clock.Now()
	dispatches := e.sched.Tick(now)

	m := newMedium(e.sched)
	scheduled := 0
	for _, d := range dispatches {
		scheduled += len(e.mut.Plan(mutation.Transfer{
			EventID:    d.Event.ID,
			Origin:     d.Event.Origin,
			TargetHint: d.Event.TargetHint,
			Vector:     d.Outcome.Vector,
			Saturation: d.Outcome.Saturation,
			NoiseRatio: d.Event.NoiseRatio,
			Rogue:      d.Outcome.Rogue,
		}, m, now))
	}

	due := e.mut.Due(now)
	e.remember(due)
	e.mu.Unlock()

	e.journalDispatches(ctx, dispatches)
	e.deliver(due)

	return StepResult{At: now, Dispatches: dispatches, Scheduled: scheduled, Delivered: due}
}

// CheckHealth runs one diagnostics check and journals the report.
func (e *Engine) CheckHealth(ctx context.Context) diagnostics.Report {
	e.mu.Lock()
	e.admitInbox()
	r := e.monitor.Check(controller{e.sched}, e.clock.Now())
	e.mu.Unlock()

	if e.journal != nil {
		rec := store.DiagnosticsRecord{
			At:                     r.At,
			IntegrityIndex:         r.IntegrityIndex,
			AvgDensity:             r.AvgDensity,
			AvgSaturation:          r.AvgSaturation,
			ActiveVectors:          r.ActiveVectorCount,
			QueueDepth:             r.QueueDepth,
			DriftMillis:            r.Drift.Milliseconds(),
			Widened:                r.Widened,
			StabilizationRequested: r.StabilizationRequested,
		}
		if err := e.journal.AppendDiagnostics(ctx, rec); err != nil {
			e.logger.Warn("failed to journal diagnostics", "error", err)
		}
	}
	return r
}

// Diagnostics returns a fresh health snapshot.
func (e *Engine) Diagnostics() Diagnostics {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.admitInbox()

	integ := e.sched.Field().SampleIntegrity()
	stats := e.sched.Stats()
	return Diagnostics{
		IntegrityIndex:    integ.IntegrityIndex,
		AvgDensity:        integ.AvgDensity,
		ActiveVectorCount: stats.ActiveVector,
		ActiveQueueDepth:  stats.Pending,
		AvgSaturation:     e.sched.Gateways().AvgSaturation(),
		TickDrift:         stats.Drift,
		Sessions:          e.sched.Gateways().Len(),
		Widening:          stats.Widening,
		PendingEffects:    e.mut.Pending(),
		DeliveredEffects:  e.delivered,
		Counters:          stats.Counters,
	}
}

// RecentEffects returns up to limit recently delivered effects, newest
// first, optionally restricted to one receiving session.
func (e *Engine) RecentEffects(sessionID string, limit int) []mutation.Effect {
	if limit <= 0 || limit > constants.RecentEffectsCapacity {
		limit = constants.RecentEffectsCapacity
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []mutation.Effect
	for i := len(e.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && e.recent[i].SessionID != sessionID {
			continue
		}
		out = append(out, e.recent[i])
	}
	return out
}

// Sessions returns every registered session in sorted order.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Gateways().Sessions()
}

// Reset zeroes the field, queues, counters and pending effects. Registered
// sessions are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inMu.Lock()
	e.inbox = nil
	e.inMu.Unlock()
	e.sched.Reset()
	e.mut.Reset()
	e.monitor.Reset()
	e.recent = nil
	e.delivered = 0
	e.logger.Info("engine reset")
}

// Run drives Step on the scheduler tick interval and CheckHealth on the
// diagnostics interval until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.sched.Config().TickInterval
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", interval)
	}
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()

	var health <-chan time.Time
	if di := e.monitor.Config().Interval; di > 0 {
		ht := e.clock.Ticker(di)
		defer ht.Stop()
		health = ht.C
	}

	e.logger.Info("engine running", "tick_interval", interval, "diagnostics_interval", e.monitor.Config().Interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			e.Step(ctx)
		case <-health:
			e.CheckHealth(ctx)
		}
	}
}

// remember appends delivered effects to the bounded recent list. Caller
// holds e.mu.
func (e *Engine) remember(effects []mutation.Effect) {
	if len(effects) == 0 {
		return
	}
	e.delivered += uint64(len(effects))
	e.recent = append(e.recent, effects...)
	if over := len(e.recent) - constants.RecentEffectsCapacity; over > 0 {
		e.recent = append(e.recent[:0], e.recent[over:]...)
	}
}

func (e *Engine) deliver(effects []mutation.Effect) {
	if len(effects) == 0 {
		return
	}
	e.handlersMu.RLock()
	handlers := append([]EffectHandler(nil), e.handlers...)
	e.handlersMu.RUnlock()

	for _, eff := range effects {
		for _, h := range handlers {
			h(eff)
		}
	}
}

func (e *Engine) journalDispatches(ctx context.Context, dispatches []nexus.Dispatch) {
	if e.journal == nil || len(dispatches) == 0 {
		return
	}
	recs := make([]store.DispatchRecord, len(dispatches))
	for i, d := range dispatches {
		recs[i] = store.DispatchRecord{
			EventID:        d.Event.ID,
			At:             d.At,
			Origin:         d.Event.Origin,
			Vector:         d.Outcome.Vector,
			Method:         d.Outcome.Method.String(),
			Path:           string(d.Path),
			Priority:       d.Event.Priority,
			Saturation:     d.Outcome.Saturation,
			IntegrityDelta: d.IntegrityDelta,
			Attempts:       d.Outcome.Attempts,
			Guaranteed:     d.Outcome.GuaranteedPath,
			Emergency:      d.Outcome.Emergency,
			Rogue:          d.Outcome.Rogue,
		}
	}
	if err := e.journal.AppendDispatches(ctx, recs); err != nil {
		e.logger.Warn("failed to journal dispatches", "count", len(recs), "error", err)
	}
}
