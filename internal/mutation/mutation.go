// Package mutation decides which externally visible effect a dispatched
// transfer produces, in which sessions, and when.
//
// An Engine is owned by the propagation engine's lock and is not safe for
// concurrent use.
package mutation

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/nvandessel/contagion/internal/constants"
	"github.com/nvandessel/contagion/internal/logging"
)

// Config tunes effect scheduling.
type Config struct {
	MaxJitter    time.Duration // delivery delay is uniform in [0, MaxJitter]
	MinMagnitude float64       // effects weaker than this are dropped
}

// DefaultConfig returns the mutation defaults.
func DefaultConfig() Config {
	return Config{
		MaxJitter:    3 * time.Second,
		MinMagnitude: 0.02,
	}
}

// StaticNoiseThreshold is the noise ratio above which every effect is static.
const StaticNoiseThreshold = 0.5

// Effect is one scheduled manifestation in a receiving session.
type Effect struct {
	ID          string                   `json:"id"`
	SessionID   string                   `json:"session_id"`
	Origin      string                   `json:"origin"`
	EventID     uint64                   `json:"event_id"`
	Category    constants.EffectCategory `json:"category"`
	Magnitude   float64                  `json:"magnitude"`
	Vector      string                   `json:"vector"`
	Rogue       bool                     `json:"rogue"`
	ScheduledAt time.Time                `json:"scheduled_at"`
	DueAt       time.Time                `json:"due_at"`
}

// Transfer is the part of a dispatch the engine reacts to.
type Transfer struct {
	EventID    uint64
	Origin     string
	TargetHint string
	Vector     string
	Saturation float64
	NoiseRatio float64
	Rogue      bool
}

// Medium is the field and registry state effects are derived from.
type Medium interface {
	// Sessions returns every registered session in a stable order.
	Sessions() []string
	// LocalDensity returns the field density at a session's anchor.
	LocalDensity(sessionID string) float64
	// GlobalDensity returns the sampled mean field density.
	GlobalDensity() float64
}

// Categorize maps a magnitude and noise ratio to an effect category.
func Categorize(magnitude, noiseRatio float64) constants.EffectCategory {
	switch {
	case noiseRatio > StaticNoiseThreshold:
		return constants.EffectStatic
	case magnitude < 0.25:
		return constants.EffectFlicker
	case magnitude < 0.5:
		return constants.EffectDistortion
	case magnitude < 0.75:
		return constants.EffectEcho
	default:
		return constants.EffectRupture
	}
}

// Magnitude computes the effect strength in a receiving session.
func Magnitude(saturation, localDensity, noiseRatio float64) float64 {
	return clamp(saturation*(1+localDensity)*(1-noiseRatio/2), 0, 1)
}

// Engine schedules effects with a deterministic random source.
type Engine struct {
	cfg       Config
	rng       *rand.Rand
	pending   effectHeap
	seq       uint64
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// New creates an engine drawing from rng. A nil logger discards output.
func New(cfg Config, rng *rand.Rand, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	cfg.MaxJitter = max(cfg.MaxJitter, 0)
	cfg.MinMagnitude = clamp(cfg.MinMagnitude, 0, 1)
	return &Engine{cfg: cfg, rng: rng, logger: logger}
}

// SetDecisionLogger attaches a decision trace for effect decisions.
func (e *Engine) SetDecisionLogger(dl *logging.DecisionLogger) {
	e.decisions = dl
}

// Plan decides the effects t produces and schedules them for delivery.
// It returns the effects scheduled, possibly none.
func (e *Engine) Plan(t Transfer, m Medium, now time.Time) []Effect {
	sessions := m.Sessions()
	target, ok := e.target(t, sessions)
	if !ok {
		return nil
	}

	probability := clamp(t.Saturation+m.GlobalDensity(), 0, 1)
	roll := e.rng.Float64()
	if roll >= probability {
		e.decisions.Log(map[string]any{
			"event":       "effect_skipped",
			"origin":      t.Origin,
			"target":      target,
			"probability": probability,
			"roll":        roll,
		})
		return nil
	}

	targets := []string{target}
	if t.Rogue {
		if extra, ok := e.pick(sessions, target); ok {
			targets = append(targets, extra)
		}
	}

	var out []Effect
	for _, id := range targets {
		mag := Magnitude(t.Saturation, m.LocalDensity(id), t.NoiseRatio)
		if mag < e.cfg.MinMagnitude {
			e.logger.Log(context.Background(), logging.LevelTrace, "effect below minimum magnitude",
				"session", id, "magnitude", mag)
			continue
		}
		eff := Effect{
			ID:          uuid.NewString(),
			SessionID:   id,
			Origin:      t.Origin,
			EventID:     t.EventID,
			Category:    Categorize(mag, t.NoiseRatio),
			Magnitude:   mag,
			Vector:      t.Vector,
			Rogue:       id != target,
			ScheduledAt: now,
			DueAt:       now.Add(e.jitter()),
		}
		e.seq++
		heap.Push(&e.pending, pendingEffect{effect: eff, seq: e.seq})
		out = append(out, eff)

		e.decisions.Log(map[string]any{
			"event":     "effect_scheduled",
			"origin":    t.Origin,
			"session":   id,
			"category":  eff.Category.String(),
			"magnitude": mag,
			"rogue":     eff.Rogue,
			"due_in_ms": eff.DueAt.Sub(now).Milliseconds(),
		})
	}
	return out
}

// target picks the receiving session: the hint when registered, otherwise
// a random session other than the origin.
func (e *Engine) target(t Transfer, sessions []string) (string, bool) {
	if t.TargetHint != "" {
		for _, id := range sessions {
			if id == t.TargetHint {
				return id, true
			}
		}
	}
	return e.pick(sessions, t.Origin)
}

// pick returns a uniformly random session other than exclude.
func (e *Engine) pick(sessions []string, exclude string) (string, bool) {
	candidates := make([]string, 0, len(sessions))
	for _, id := range sessions {
		if id != exclude {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[e.rng.Intn(len(candidates))], true
}

func (e *Engine) jitter() time.Duration {
	if e.cfg.MaxJitter <= 0 {
		return 0
	}
	return time.Duration(e.rng.Int63n(int64(e.cfg.MaxJitter) + 1))
}

// Due removes and returns every pending effect due at or before now,
// ordered by due time.
func (e *Engine) Due(now time.Time) []Effect {
	var out []Effect
	for e.pending.Len() > 0 && !e.pending[0].effect.DueAt.After(now) {
		out = append(out, heap.Pop(&e.pending).(pendingEffect).effect)
	}
	return out
}

// Pending returns the number of effects awaiting delivery.
func (e *Engine) Pending() int { return e.pending.Len() }

// Drop cancels pending effects for a session. It returns how many were dropped.
func (e *Engine) Drop(sessionID string) int {
	kept := e.pending[:0]
	dropped := 0
	for _, p := range e.pending {
		if p.effect.SessionID == sessionID {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	e.pending = kept
	heap.Init(&e.pending)
	return dropped
}

// Reset cancels every pending effect.
func (e *Engine) Reset() {
	e.pending = nil
	e.seq = 0
}

type pendingEffect struct {
	effect Effect
	seq    uint64
}

// effectHeap orders pending effects by due time, then scheduling order.
type effectHeap []pendingEffect

func (h effectHeap) Len() int { return len(h) }

func (h effectHeap) Less(i, j int) bool {
	if !h[i].effect.DueAt.Equal(h[j].effect.DueAt) {
		return h[i].effect.DueAt.Before(h[j].effect.DueAt)
	}
	return h[i].seq < h[j].seq
}

func (h effectHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *effectHeap) Push(x any) { *h = append(*h, x.(pendingEffect)) }

func (h *effectHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
