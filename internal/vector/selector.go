package vector

import (
	"errors"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/nvandessel/contagion/internal/logging"
)

// ErrCatalogueExhausted is returned when no candidate vector passes the
// activation threshold filter.
var ErrCatalogueExhausted = errors.New("no vector eligible for transfer")

// EmergencyVectorName labels the zero-cost overflow transfer.
const EmergencyVectorName = "emergency-overflow"

// GuaranteedVectorName labels transfers that bypass ranking entirely.
const GuaranteedVectorName = "guaranteed"

// Request is the part of a transfer event a vector needs.
type Request struct {
	Origin    string
	Intensity float64 // normalized, [0, 1]
	Priority  float64 // [0, 1]
}

// Outcome describes how an event was transferred.
type Outcome struct {
	Vector         string
	Method         MethodKind
	Saturation     float64
	Score          float64
	Attempts       int
	Transferred    bool
	GuaranteedPath bool
	Emergency      bool
	Rogue          bool
}

// Guaranteed returns the outcome of a transfer that bypasses ranking and
// goes straight to the minimal-effect path.
func Guaranteed(req Request) Outcome {
	return Outcome{
		Vector:         GuaranteedVectorName,
		Method:         MethodGuaranteed,
		Saturation:     GuaranteedSaturation(req.Intensity),
		Transferred:    true,
		GuaranteedPath: true,
	}
}

// Emergency returns the zero-cost overflow outcome substituted when the
// whole catalogue is ineligible.
func Emergency(req Request) Outcome {
	return Outcome{
		Vector:         EmergencyVectorName,
		Method:         MethodGuaranteed,
		Transferred:    true,
		GuaranteedPath: true,
		Emergency:      true,
	}
}

// Selector ranks candidate vectors and executes the chosen one.
// It is owned by the scheduler tick loop and not safe for concurrent use.
type Selector struct {
	rng       *rand.Rand
	epsilon   float64
	widening  float64
	logger    *slog.Logger
	decisions *logging.DecisionLogger
}

// NewSelector creates a selector. With probability epsilon it picks
// uniformly among the top three candidates instead of the single best.
func NewSelector(rng *rand.Rand, epsilon float64) *Selector {
	return &Selector{
		rng:     rng,
		epsilon: clamp(epsilon, 0, 1),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetLogger sets the structured logger and decision logger for observability.
func (s *Selector) SetLogger(logger *slog.Logger, decisions *logging.DecisionLogger) {
	if logger != nil {
		s.logger = logger
	}
	s.decisions = decisions
}

// SetWidening lowers every activation threshold by offset, making more
// vectors eligible. Zero restores the catalogue thresholds.
func (s *Selector) SetWidening(offset float64) {
	s.widening = max(offset, 0)
}

// Widening returns the current threshold offset.
func (s *Selector) Widening() float64 { return s.widening }

// Eligible reports whether v may carry an event of the given priority.
func (s *Selector) Eligible(v *Vector, priority float64) bool {
	return v.ActivationThreshold()-s.widening <= priority
}

type scored struct {
	v     *Vector
	score float64
}

// SelectAndExecute filters, ranks and executes a vector for req. It only
// fails with ErrCatalogueExhausted; every other failure degrades to the
// guaranteed path inside the chosen vector's chain.
func (s *Selector) SelectAndExecute(req Request, candidates []*Vector) (Outcome, error) {
	ranked := make([]scored, 0, len(candidates))
	for _, v := range candidates {
		if s.Eligible(v, req.Priority) {
			ranked = append(ranked, scored{v: v, score: v.Score(req.Priority)})
		}
	}
	if len(ranked) == 0 {
		return Outcome{}, ErrCatalogueExhausted
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].v.Name() < ranked[j].v.Name()
	})

	pick := 0
	explored := false
	if len(ranked) > 1 && s.rng.Float64() < s.epsilon {
		pick = s.rng.Intn(min(3, len(ranked)))
		explored = true
	}
	chosen := ranked[pick]

	out := chosen.v.transfer(req, s.rng)
	out.Score = chosen.score
	out.Rogue = s.rng.Float64() < chosen.v.spec.RoguenessProbability

	if out.GuaranteedPath {
		s.logger.Warn("transfer chain exhausted, used guaranteed path",
			"vector", out.Vector, "origin", req.Origin, "priority", req.Priority, "attempts", out.Attempts)
	}
	s.logger.Debug("vector selected",
		"vector", out.Vector, "method", out.Method.String(), "score", out.Score, "explored", explored)
	s.decisions.Log(map[string]any{
		"event":      "vector_selected",
		"origin":     req.Origin,
		"priority":   req.Priority,
		"vector":     out.Vector,
		"method":     out.Method.String(),
		"score":      out.Score,
		"explored":   explored,
		"candidates": len(ranked),
		"saturation": out.Saturation,
		"guaranteed": out.GuaranteedPath,
		"rogue":      out.Rogue,
	})

	return out, nil
}
