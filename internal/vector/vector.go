// Package vector implements named propagation channels and their transfer
// chains, together with the ranked selection that dispatches events through
// them.
package vector

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/nvandessel/contagion/internal/constants"
)

// ErrNotFound is returned when a vector name is not in the catalogue.
var ErrNotFound = errors.New("vector not found")

// Spec describes one catalogue entry.
type Spec struct {
	Name string

	// BaseRate is the nominal propagation strength in [0.05, 0.95].
	BaseRate float64

	// FluxIndex multiplies the priority method's saturation.
	FluxIndex float64

	// RoguenessProbability is the chance a transfer causes an uncontrolled side effect.
	RoguenessProbability float64

	// ActivationThreshold is the minimum event priority that may use this vector.
	ActivationThreshold float64

	// SuitabilityBase and Weight give score = SuitabilityBase + priority*Weight.
	SuitabilityBase float64
	Weight          float64

	// CreepIndex scales how fast the base rate follows recent saturation.
	CreepIndex float64

	// Chain is the ordered list of 1 to 3 transfer methods.
	Chain []TransferMethod
}

// Validate checks a spec for programming errors.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("vector spec: name is required")
	}
	if len(s.Chain) < 1 || len(s.Chain) > 3 {
		return fmt.Errorf("vector %s: chain must have 1 to 3 methods, got %d", s.Name, len(s.Chain))
	}
	if s.RoguenessProbability < 0 || s.RoguenessProbability > 1 {
		return fmt.Errorf("vector %s: rogueness probability must be between 0 and 1, got %f", s.Name, s.RoguenessProbability)
	}
	return nil
}

// Vector is a named transfer channel. It is mutated only by the scheduler
// tick loop.
type Vector struct {
	spec               Spec
	baseRate           float64
	history            *ring
	needsRecalibration bool
	transfers          int
	chainFailures      int
}

// New creates a vector from spec, clamping its base rate into bounds.
func New(spec Spec) (*Vector, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec.Chain = append([]TransferMethod(nil), spec.Chain...)
	spec.BaseRate = clampRate(spec.BaseRate)
	return &Vector{
		spec:     spec,
		baseRate: spec.BaseRate,
		history:  newRing(constants.VectorHistoryCapacity),
	}, nil
}

// MustNew is like New but panics on an invalid spec.
func MustNew(spec Spec) *Vector {
	v, err := New(spec)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the vector's name.
func (v *Vector) Name() string { return v.spec.Name }

// BaseRate returns the current, adapted base rate.
func (v *Vector) BaseRate() float64 { return v.baseRate }

// NominalRate returns the catalogue base rate the vector recalibrates toward.
func (v *Vector) NominalRate() float64 { return v.spec.BaseRate }

// ActivationThreshold returns the minimum event priority for this vector.
func (v *Vector) ActivationThreshold() float64 { return v.spec.ActivationThreshold }

// NeedsRecalibration reports whether the vector was flagged after a chain failure.
func (v *Vector) NeedsRecalibration() bool { return v.needsRecalibration }

// Transfers returns how many transfers the vector has executed.
func (v *Vector) Transfers() int { return v.transfers }

// ChainFailures returns how many transfers exhausted the chain.
func (v *Vector) ChainFailures() int { return v.chainFailures }

// History returns the recorded outcomes, oldest first.
func (v *Vector) History() []Record { return v.history.records() }

// Score returns the ranking score for an event of the given priority.
func (v *Vector) Score(priority float64) float64 {
	return v.spec.SuitabilityBase + priority*v.spec.Weight
}

// transfer runs the chain for one event. The first method that succeeds
// wins; method errors are treated as "not success". When every method fails
// the guaranteed minimal-effect transfer is used instead.
func (v *Vector) transfer(req Request, rng *rand.Rand) Outcome {
	out := Outcome{Vector: v.spec.Name}
	tc := transferContext{baseRate: v.baseRate, fluxIndex: v.spec.FluxIndex}

	done := false
	for _, m := range v.spec.Chain {
		if m.Kind == MethodPriority && req.Priority < constants.PriorityMethodThreshold {
			continue
		}
		out.Attempts++
		tc.roll = rng.Float64()
		sat, err := m.execute(req.Intensity, tc)
		if err != nil {
			continue
		}
		out.Method = m.Kind
		out.Saturation = sat
		done = true
		break
	}

	if !done {
		out.Method = MethodGuaranteed
		out.Saturation = GuaranteedSaturation(req.Intensity)
		out.GuaranteedPath = true
		v.chainFailures++
		v.needsRecalibration = true
	}

	out.Transferred = true
	v.record(out)
	return out
}

// record stores the outcome and applies creep.
func (v *Vector) record(out Outcome) {
	v.transfers++
	v.history.push(Record{
		Saturation: out.Saturation,
		Method:     out.Method,
		Guaranteed: out.GuaranteedPath,
	})
	v.creep()
}

// creep nudges the base rate by the recent average saturation, bounded to
// [MinBaseRate, MaxBaseRate].
func (v *Vector) creep() {
	avg := v.history.recentAvgSaturation(constants.RecentHistoryWindow)
	v.baseRate = clampRate(v.baseRate + avg*v.spec.CreepIndex)
}

// Recalibrate pulls the base rate halfway back toward its nominal value and
// clears the recalibration flag.
func (v *Vector) Recalibrate() {
	v.baseRate = clampRate(v.baseRate + (v.spec.BaseRate-v.baseRate)*0.5)
	v.needsRecalibration = false
}

// Reset restores nominal state and clears history.
func (v *Vector) Reset() {
	v.baseRate = v.spec.BaseRate
	v.history = newRing(constants.VectorHistoryCapacity)
	v.needsRecalibration = false
	v.transfers = 0
	v.chainFailures = 0
}

func clampRate(r float64) float64 {
	return clamp(r, constants.MinBaseRate, constants.MaxBaseRate)
}
