// Package nexus is the transfer scheduler: it owns one bounded priority
// queue per session, the gateway registry, and the vector catalogue, and
// advances them on a fixed tick.
//
// A Scheduler is a single-writer component. It is not safe for concurrent
// use; callers serialize access (see propagation.Engine).
package nexus

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/field"
	"github.com/nvandessel/contagion/internal/gateway"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/vector"
)


// Config tunes the scheduler.
type Config struct {
	TickInterval        time.Duration
	QueueCapacity       int     // hard bound per session queue; overflow is evicted
	QueueCap            int     // stabilization drains every queue back to this length
	HighWaterMark       int     // total pending events that count as overload
	StabilizeAfterTicks int     // consecutive overloaded ticks before stabilization
	DropFraction        float64 // share of a queue dropped per stabilization pass
	SaturationDecay     float64 // per-tick multiplicative gateway saturation decay
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:        1500 * time.Millisecond,
		QueueCapacity:       256,
		QueueCap:            32,
		HighWaterMark:       128,
		StabilizeAfterTicks: 3,
		DropFraction:        0.3,
		SaturationDecay:     0.1,
	}
}

// Path says how a dispatched event reached its transfer.
type Path string

const (
	// PathRanked events went through vector ranking and the transfer chain.
	PathRanked Path = "ranked"
	// PathStabilized events were drained from an overloaded queue.
	PathStabilized Path = "stabilized"
	// PathOverflow events were evicted from a full queue on enqueue.
	PathOverflow Path = "overflow"
)

// Dispatch is the outcome of one consumed event.
type Dispatch struct {
	Event          Event
	Outcome        vector.Outcome
	Path           Path
	IntegrityDelta float64
	At             time.Time
}

// Counters account for every enqueued event. At any time
// Enqueued == Normal + Guaranteed + Discarded + pending.
type Counters struct {
	Enqueued       uint64 `json:"enqueued"`
	Normal         uint64 `json:"normal"`
	Guaranteed     uint64 `json:"guaranteed"`
	Discarded      uint64 `json:"discarded"`
	ChainExhausted uint64 `json:"chain_exhausted"`
	Emergency      uint64 `json:"emergency"`
	Stabilized     uint64 `json:"stabilized"`
	QueueOverflow  uint64 `json:"queue_overflow"`
	Stabilizations uint64 `json:"stabilizations"`
	Ticks          uint64 `json:"ticks"`
}

// Accounted returns the number of enqueued events that have left the
// scheduler, either transferred or discarded at teardown.
func (c Counters) Accounted() uint64 {
	return c.Normal + c.Guaranteed + c.Discarded
}

// Stats is a read-only view of scheduler state.
type Stats struct {
	Pending      int
	QueueDepths  map[string]int
	Overflow     int
	Drift        time.Duration
	Widening     float64
	OverloadRun  int
	Counters     Counters
	ActiveVector int
}

// Scheduler owns the per-session queues and drives transfers.
type Scheduler struct {
	cfg       Config
	field     *field.Field
	gateways  *gateway.Registry
	catalogue *vector.Catalogue
	selector  *vector.Selector
	logger    *slog.Logger
	decisions *logging.DecisionLogger

	queues   map[string]*queue
	orphans  map[string]*queue // keyed by unregistered origin
	overflow []Event
	nextID   uint64
	counters Counters

	overloadRun        int
	stabilizeRequested bool
	lastTick           time.Time
	drift              time.Duration
}

// New creates a scheduler over the given collaborators. A nil logger
// discards output.
func New(cfg Config, f *field.Field, gw *gateway.Registry, cat *vector.Catalogue, sel *vector.Selector, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.QueueCapacity < 1 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.QueueCap < 1 || cfg.QueueCap > cfg.QueueCapacity {
		cfg.QueueCap = min(DefaultConfig().QueueCap, cfg.QueueCapacity)
	}
	if cfg.DropFraction <= 0 || cfg.DropFraction > 1 {
		cfg.DropFraction = DefaultConfig().DropFraction
	}
	cfg.SaturationDecay = math.Min(math.Max(cfg.SaturationDecay, 0), 1)
	return &Scheduler{
		cfg:       cfg,
		field:     f,
		gateways:  gw,
		catalogue: cat,
		selector:  sel,
		logger:    logger,
		queues:    make(map[string]*queue),
		orphans:   make(map[string]*queue),
	}
}

// SetDecisionLogger attaches a decision trace for stabilization events.
func (s *Scheduler) SetDecisionLogger(dl *logging.DecisionLogger) {
	s.decisions = dl
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Field returns the owned field. Callers must respect the scheduler's
// serialization.
func (s *Scheduler) Field() *field.Field { return s.field }

// Gateways returns the owned gateway registry.
func (s *Scheduler) Gateways() *gateway.Registry { return s.gateways }

// Catalogue returns the owned vector catalogue.
func (s *Scheduler) Catalogue() *vector.Catalogue { return s.catalogue }

// Register registers a session gateway and its queue. Events queued while
// the origin was unregistered move into the session's queue.
func (s *Scheduler) Register(sessionID string) (gateway.Gateway, error) {
	g, err := s.gateways.Register(sessionID)
	if err != nil {
		return gateway.Gateway{}, err
	}
	if _, ok := s.queues[sessionID]; !ok {
		if q, orphaned := s.orphans[sessionID]; orphaned {
			s.queues[sessionID] = q
			delete(s.orphans, sessionID)
		} else {
			s.queues[sessionID] = newQueue(s.cfg.QueueCapacity)
		}
	}
	return g, nil
}

// Deregister removes the session's gateway and discards its pending
// events. It returns the number of events discarded.
func (s *Scheduler) Deregister(sessionID string) (int, error) {
	if err := s.gateways.Deregister(sessionID); err != nil {
		return 0, err
	}
	q, ok := s.queues[sessionID]
	if !ok {
		return 0, nil
	}
	n := q.len()
	delete(s.queues, sessionID)
	s.counters.Discarded += uint64(n)
	if n > 0 {
		s.logger.Debug("discarded pending events at teardown", "session", sessionID, "count", n)
	}
	return n, nil
}

// Normalize maps a raw intensity in [0, MaxRawIntensity] onto [0, 1].
// Non-finite and negative values normalize to zero.
func Normalize(raw float64) float64 {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	return math.Min(raw, constants.MaxRawIntensity) / constants.MaxRawIntensity
}

// NewEvent builds an event with the given ID. Raw intensity is clamped
// into [0, MaxRawIntensity] and normalized into its priority.
func NewEvent(id uint64, origin, targetHint string, raw, noiseRatio float64, now time.Time) Event {
	intensity := Normalize(raw)
	ev := Event{
		ID:         id,
		Origin:     origin,
		TargetHint: targetHint,
		Raw:        math.Max(0, math.Min(raw, constants.MaxRawIntensity)),
		Intensity:  intensity,
		Priority:   intensity,
		NoiseRatio: clampUnit(noiseRatio),
		EnqueuedAt: now,
	}
	if math.IsNaN(ev.Raw) {
		ev.Raw = 0
	}
	return ev
}

// Enqueue queues an event for origin without touching the field, assigning
// the next scheduler event ID. See Admit.
func (s *Scheduler) Enqueue(origin, targetHint string, raw, noiseRatio float64, now time.Time) Event {
	s.nextID++
	ev := NewEvent(s.nextID, origin, targetHint, raw, noiseRatio, now)
	s.Admit(ev)
	return ev
}

// Admit queues a prebuilt event. Events for an unregistered origin go to
// that origin's orphan queue. It never blocks and never fails: a full
// queue evicts its oldest lowest-priority entry into the overflow list.
// IDs must increase in arrival order for FIFO tie-breaking to hold.
func (s *Scheduler) Admit(ev Event) {
	s.counters.Enqueued++

	q := s.queueFor(ev.Origin)
	if evicted, ok := q.push(ev); ok {
		s.overflow = append(s.overflow, evicted)
		s.counters.QueueOverflow++
		s.logger.Debug("queue full, evicted event to overflow",
			"session", ev.Origin, "evicted", evicted.ID, "priority", evicted.Priority)
	}
}

func (s *Scheduler) queueFor(origin string) *queue {
	if _, ok := s.gateways.Resolve(origin); ok {
		q, ok := s.queues[origin]
		if !ok {
			q = newQueue(s.cfg.QueueCapacity)
			s.queues[origin] = q
		}
		return q
	}
	q, ok := s.orphans[origin]
	if !ok {
		q = newQueue(s.cfg.QueueCapacity)
		s.orphans[origin] = q
	}
	return q
}

// Pending returns the number of events still owned by the scheduler.
func (s *Scheduler) Pending() int {
	n := len(s.overflow)
	for _, q := range s.queues {
		n += q.len()
	}
	for _, q := range s.orphans {
		n += q.len()
	}
	return n
}

// QueueDepth returns the number of events queued for sessionID, whether
// or not it is registered.
func (s *Scheduler) QueueDepth(sessionID string) int {
	if q, ok := s.queues[sessionID]; ok {
		return q.len()
	}
	if q, ok := s.orphans[sessionID]; ok {
		return q.len()
	}
	return 0
}

// RequestStabilization asks for stabilization on the next tick.
func (s *Scheduler) RequestStabilization() {
	s.stabilizeRequested = true
}

// SetThresholdWidening lowers vector activation thresholds by offset.
func (s *Scheduler) SetThresholdWidening(offset float64) {
	s.selector.SetWidening(offset)
}

// Drift returns the most recent tick drift (actual minus configured interval).
func (s *Scheduler) Drift() time.Duration { return s.drift }

// Counters returns a copy of the event accounting counters.
func (s *Scheduler) Counters() Counters { return s.counters }

// Stats returns a read-only view of scheduler state.
func (s *Scheduler) Stats() Stats {
	depths := make(map[string]int, len(s.queues)+len(s.orphans))
	for id, q := range s.queues {
		depths[id] = q.len()
	}
	for id, q := range s.orphans {
		depths[id] = q.len()
	}
	return Stats{
		Pending:      s.Pending(),
		QueueDepths:  depths,
		Overflow:     len(s.overflow),
		Drift:        s.drift,
		Widening:     s.selector.Widening(),
		OverloadRun:  s.overloadRun,
		Counters:     s.counters,
		ActiveVector: s.catalogue.ActiveCount(),
	}
}

// Tick advances the scheduler by one step at now and returns every event
// dispatched during the step, in processing order.
func (s *Scheduler) Tick(now time.Time) []Dispatch {
	var out []Dispatch

	for _, id := range s.gateways.Sessions() {
		q, ok := s.queues[id]
		if !ok {
			continue
		}
		if ev, ok := q.pop(); ok {
			out = append(out, s.transfer(ev, now))
		}
	}
	for _, id := range s.orphanOrder() {
		q := s.orphans[id]
		if ev, ok := q.pop(); ok {
			out = append(out, s.transfer(ev, now))
		}
		if q.len() == 0 {
			delete(s.orphans, id)
		}
	}

	for _, ev := range s.overflow {
		out = append(out, s.guaranteed(ev, PathOverflow, now))
	}
	s.overflow = s.overflow[:0]

	if s.Pending() > s.cfg.HighWaterMark {
		s.overloadRun++
	} else {
		s.overloadRun = 0
	}
	if s.stabilizeRequested || s.overloadRun > s.cfg.StabilizeAfterTicks {
		out = append(out, s.stabilize(now)...)
	}

	s.field.DecayTick(1)
	s.gateways.DecaySaturation(1 - s.cfg.SaturationDecay)
	if n := s.catalogue.RecalibratePending(); n > 0 {
		s.logger.Debug("recalibrated vectors", "count", n)
	}

	if !s.lastTick.IsZero() {
		s.drift = now.Sub(s.lastTick) - s.cfg.TickInterval
	}
	s.lastTick = now
	s.counters.Ticks++
	return out
}

// orphanOrder returns unregistered origins with queued events, sorted.
func (s *Scheduler) orphanOrder() []string {
	ids := make([]string, 0, len(s.orphans))
	for id := range s.orphans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) request(ev Event) vector.Request {
	return vector.Request{Origin: ev.Origin, Intensity: ev.Intensity, Priority: ev.Priority}
}

// transfer injects ev into the field at its gateway anchor and runs it
// through vector selection.
func (s *Scheduler) transfer(ev Event, now time.Time) Dispatch {
	anchor, _ := s.gateways.Anchor(ev.Origin)
	delta := s.field.Inject(anchor, s.field.RadiusFor(ev.Intensity), ev.Intensity)
	s.gateways.Absorb(ev.Origin, ev.Intensity)

	req := s.request(ev)
	out, err := s.selector.SelectAndExecute(req, s.catalogue.All())
	if errors.Is(err, vector.ErrCatalogueExhausted) {
		out = vector.Emergency(req)
		s.counters.Emergency++
		s.logger.Warn("no vector eligible, used emergency overflow transfer",
			"session", ev.Origin, "priority", ev.Priority)
	} else if out.GuaranteedPath {
		s.counters.ChainExhausted++
	}

	s.account(out)
	s.record(ev.Origin, out, now)
	return Dispatch{Event: ev, Outcome: out, Path: PathRanked, IntegrityDelta: delta, At: now}
}

// guaranteed transfers ev via the minimal-effect path, bypassing ranking.
func (s *Scheduler) guaranteed(ev Event, path Path, now time.Time) Dispatch {
	out := vector.Guaranteed(s.request(ev))
	s.account(out)
	s.record(ev.Origin, out, now)
	return Dispatch{Event: ev, Outcome: out, Path: path, At: now}
}

func (s *Scheduler) account(out vector.Outcome) {
	if out.GuaranteedPath {
		s.counters.Guaranteed++
	} else {
		s.counters.Normal++
	}
}

func (s *Scheduler) record(origin string, out vector.Outcome, now time.Time) {
	s.gateways.RecordTransfer(origin, gateway.TransferSummary{
		At:         now,
		Vector:     out.Vector,
		Method:     out.Method.String(),
		Saturation: out.Saturation,
		Guaranteed: out.GuaranteedPath,
	})
}

// Reset clears queues, counters, field and vector state. Registered
// gateways are kept.
func (s *Scheduler) Reset() {
	for id := range s.queues {
		s.queues[id] = newQueue(s.cfg.QueueCapacity)
	}
	s.orphans = make(map[string]*queue)
	s.overflow = nil
	s.counters = Counters{}
	s.overloadRun = 0
	s.stabilizeRequested = false
	s.lastTick = time.Time{}
	s.drift = 0
	s.field.Reset()
	s.gateways.ResetSaturation()
	s.catalogue.Reset()
	s.selector.SetWidening(0)
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
