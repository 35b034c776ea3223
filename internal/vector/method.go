package vector

import (
	"errors"
	"fmt"

	"github.com/nvandessel/contagion/internal/constants"
)

// MethodKind identifies one transfer method in a vector's chain.
type MethodKind int

const (
	// MethodPriority is only attempted for high-priority events.
	MethodPriority MethodKind = iota
	// MethodStandard is the normal transfer path.
	MethodStandard
	// MethodFallback trades strength for reliability.
	MethodFallback
	// MethodGuaranteed always succeeds with a bounded, low saturation.
	MethodGuaranteed
)

// String returns the method kind name.
func (k MethodKind) String() string {
	switch k {
	case MethodPriority:
		return "priority"
	case MethodStandard:
		return "standard"
	case MethodFallback:
		return "fallback"
	case MethodGuaranteed:
		return "guaranteed"
	default:
		return fmt.Sprintf("method(%d)", int(k))
	}
}

var (
	errMethodOverCapacity = errors.New("transfer method over capacity")
	errMethodUnreliable   = errors.New("transfer method failed")
	errUnknownMethod      = errors.New("unknown transfer method")
)

// TransferMethod is one step of a vector's transfer chain.
type TransferMethod struct {
	Kind MethodKind

	// Reliability is the probability the method succeeds, in [0, 1].
	Reliability float64

	// Capacity is the largest normalized intensity the method accepts.
	// Zero means unlimited.
	Capacity float64

	// Yield scales the saturation the method produces.
	Yield float64
}

// transferContext carries vector state and the random draw for one attempt.
type transferContext struct {
	baseRate  float64
	fluxIndex float64
	roll      float64
}

// execute runs the method and returns the saturation it produced.
func (m TransferMethod) execute(intensity float64, tc transferContext) (float64, error) {
	if m.Kind == MethodGuaranteed {
		return GuaranteedSaturation(intensity), nil
	}
	if m.Capacity > 0 && intensity > m.Capacity {
		return 0, fmt.Errorf("%w: intensity %.3f > %.3f", errMethodOverCapacity, intensity, m.Capacity)
	}
	if tc.roll >= m.Reliability {
		return 0, errMethodUnreliable
	}

	var sat float64
	switch m.Kind {
	case MethodPriority:
		sat = intensity * tc.baseRate * tc.fluxIndex * m.Yield
	case MethodStandard:
		sat = intensity * tc.baseRate * m.Yield
	case MethodFallback:
		sat = 0.5 * intensity * tc.baseRate * m.Yield
	default:
		return 0, fmt.Errorf("%w: %s", errUnknownMethod, m.Kind)
	}
	return clamp(sat, 0, 1), nil
}

// GuaranteedSaturation is the saturation of the minimal-effect transfer.
func GuaranteedSaturation(intensity float64) float64 {
	return min(clamp(intensity, 0, 1)*constants.GuaranteedSaturationFactor, constants.GuaranteedSaturationCap)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
